package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/camfleet/camfleet-server/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface for profiles and batch reports
type Store interface {
	// Profile methods
	CreateProfile(ctx context.Context, profile *models.Profile) error
	GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	GetProfileByName(ctx context.Context, name string) (*models.Profile, error)
	UpdateProfile(ctx context.Context, profile *models.Profile) error
	DeleteProfile(ctx context.Context, id uuid.UUID) error
	ListProfiles(ctx context.Context, limit, offset int) ([]*models.Profile, int64, error)

	// Batch report methods
	SaveBatchReport(ctx context.Context, result *models.BatchResult) error
	GetBatchReport(ctx context.Context, id uuid.UUID) (*models.BatchResult, error)
	ListBatchReports(ctx context.Context, limit, offset int) ([]*models.BatchResult, int64, error)

	// Close the store
	Close() error
}
