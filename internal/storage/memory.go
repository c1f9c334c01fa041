package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/camfleet/camfleet-server/internal/models"
)

// MemoryStore implements Store in memory. It backs standalone mode
// (no database configured) and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[uuid.UUID]*models.Profile
	reports  map[uuid.UUID]*models.BatchResult
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[uuid.UUID]*models.Profile),
		reports:  make(map[uuid.UUID]*models.BatchResult),
	}
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

// CreateProfile creates a new profile
func (s *MemoryStore) CreateProfile(_ context.Context, profile *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.profiles {
		if p.Name == profile.Name {
			return ErrDuplicateKey
		}
	}

	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}
	now := time.Now()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	s.profiles[profile.ID] = profile.Clone()
	return nil
}

// GetProfile gets a profile by ID
func (s *MemoryStore) GetProfile(_ context.Context, id uuid.UUID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// GetProfileByName gets a profile by its unique name
func (s *MemoryStore) GetProfileByName(_ context.Context, name string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.profiles {
		if p.Name == name {
			return p.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// UpdateProfile updates a profile
func (s *MemoryStore) UpdateProfile(_ context.Context, profile *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[profile.ID]; !ok {
		return ErrNotFound
	}
	for id, p := range s.profiles {
		if p.Name == profile.Name && id != profile.ID {
			return ErrDuplicateKey
		}
	}

	profile.UpdatedAt = time.Now()
	s.profiles[profile.ID] = profile.Clone()
	return nil
}

// DeleteProfile deletes a profile
func (s *MemoryStore) DeleteProfile(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[id]; !ok {
		return ErrNotFound
	}
	delete(s.profiles, id)
	return nil
}

// ListProfiles lists profiles by name
func (s *MemoryStore) ListProfiles(_ context.Context, limit, offset int) ([]*models.Profile, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*models.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		all = append(all, p.Clone())
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	return paginate(all, limit, offset), int64(len(s.profiles)), nil
}

// SaveBatchReport inserts or replaces a settled batch result
func (s *MemoryStore) SaveBatchReport(_ context.Context, result *models.BatchResult) error {
	s.mu.Lock()
	s.reports[result.ID] = result
	s.mu.Unlock()
	return nil
}

// GetBatchReport gets a batch report by ID
func (s *MemoryStore) GetBatchReport(_ context.Context, id uuid.UUID) (*models.BatchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// ListBatchReports lists batch reports, newest first
func (s *MemoryStore) ListBatchReports(_ context.Context, limit, offset int) ([]*models.BatchResult, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*models.BatchResult, 0, len(s.reports))
	for _, r := range s.reports {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })

	return paginate(all, limit, offset), int64(len(s.reports)), nil
}

func paginate[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}
