package storage

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/ahecn/referraldesk/internal/domain/entities"
	"github.com/ahecn/referraldesk/internal/domain/repositories"
	apperrors "github.com/ahecn/referraldesk/pkg/errors"
)

// FileDatasetStore keeps the referral dataset in a single JSON document
type FileDatasetStore struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewFileDatasetStore creates a store for path on the given filesystem
func NewFileDatasetStore(fsys afero.Fs, path string) *FileDatasetStore {
	return &FileDatasetStore{fs: fsys, path: path}
}

// NewOSFileDatasetStore creates a store on the local disk
func NewOSFileDatasetStore(path string) *FileDatasetStore {
	return NewFileDatasetStore(afero.NewOsFs(), path)
}

var _ repositories.DatasetRepository = (*FileDatasetStore)(nil)

// Load reads the dataset. A missing or corrupt file yields the empty default.
func (s *FileDatasetStore) Load(ctx context.Context) (*entities.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return entities.NewDataset(), nil
	}
	if err != nil {
		return nil, apperrors.NewStorageUnavailableError("failed to read dataset file", err)
	}

	dataset, err := entities.DecodeDataset(raw)
	if err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("dataset file is corrupt, starting from an empty dataset")
		return entities.NewDataset(), nil
	}
	return dataset, nil
}

// Save replaces the file contents with the given dataset
func (s *FileDatasetStore) Save(ctx context.Context, dataset *entities.Dataset) error {
	data, err := entities.EncodeDataset(dataset)
	if err != nil {
		return apperrors.NewInternalError("failed to encode dataset", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return apperrors.NewStorageUnavailableError("failed to create dataset directory", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return apperrors.NewStorageUnavailableError("failed to write dataset file", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return apperrors.NewStorageUnavailableError("failed to replace dataset file", err)
	}
	return nil
}
