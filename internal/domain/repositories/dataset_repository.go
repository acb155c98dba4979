package repositories

import (
	"context"

	"github.com/ahecn/referraldesk/internal/domain/entities"
)

// DatasetRepository persists the whole referral dataset.
type DatasetRepository interface {
	// Load returns the stored dataset, or the empty default when nothing usable is stored
	Load(ctx context.Context) (*entities.Dataset, error)

	// Save overwrites the stored dataset
	Save(ctx context.Context, dataset *entities.Dataset) error
}
