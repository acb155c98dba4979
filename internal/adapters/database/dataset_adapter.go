package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/ahecn/referraldesk/internal/domain/entities"
	"github.com/ahecn/referraldesk/internal/domain/repositories"
	"github.com/ahecn/referraldesk/internal/infrastructure/clients/postgres"
	apperrors "github.com/ahecn/referraldesk/pkg/errors"
)

const datasetSchema = `
CREATE TABLE IF NOT EXISTS referral_datasets (
	name       TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

type datasetRow struct {
	Data      string    `db:"data"`
	UpdatedAt time.Time `db:"updated_at"`
}

// DatasetAdapter stores the whole referral dataset as one named row
type DatasetAdapter struct {
	db   *sqlx.DB
	name string
}

// NewDatasetAdapter creates a dataset store keyed by name
func NewDatasetAdapter(client *postgres.Client, name string) *DatasetAdapter {
	return &DatasetAdapter{
		db:   sqlx.NewDb(client.DB(), "postgres"),
		name: name,
	}
}

var _ repositories.DatasetRepository = (*DatasetAdapter)(nil)

// EnsureSchema creates the dataset table when missing
func (a *DatasetAdapter) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, datasetSchema); err != nil {
		return apperrors.NewStorageUnavailableError("failed to create referral_datasets table", err)
	}
	return nil
}

// Load returns the stored dataset. A missing or unreadable row yields the empty default.
func (a *DatasetAdapter) Load(ctx context.Context) (*entities.Dataset, error) {
	var row datasetRow
	err := a.db.GetContext(ctx, &row, `SELECT data, updated_at FROM referral_datasets WHERE name = $1`, a.name)
	if errors.Is(err, sql.ErrNoRows) {
		return entities.NewDataset(), nil
	}
	if err != nil {
		return nil, apperrors.NewStorageUnavailableError("failed to load dataset", err)
	}

	dataset, err := entities.DecodeDataset([]byte(row.Data))
	if err != nil {
		log.Warn().Err(err).Str("dataset", a.name).Time("updated_at", row.UpdatedAt).
			Msg("stored dataset is corrupt, starting from an empty dataset")
		return entities.NewDataset(), nil
	}
	return dataset, nil
}

// Save overwrites the stored dataset
func (a *DatasetAdapter) Save(ctx context.Context, dataset *entities.Dataset) error {
	data, err := entities.EncodeDataset(dataset)
	if err != nil {
		return apperrors.NewInternalError("failed to encode dataset", err)
	}

	query := `
		INSERT INTO referral_datasets (name, data, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`
	if _, err := a.db.ExecContext(ctx, query, a.name, string(data), time.Now().UTC()); err != nil {
		return apperrors.NewStorageUnavailableError("failed to save dataset", err)
	}
	return nil
}
