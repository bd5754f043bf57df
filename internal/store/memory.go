package store

import (
	"context"
	"sync"
	"time"

	"secret.once/internal/models"
)

// Compile-time interface checks
var (
	_ Store       = (*MemoryStore)(nil)
	_ ViewTracker = (*MemoryStore)(nil)
)

// MemoryStore is the reference Store implementation. A single mutex guards
// both the secrets and the view ledger, so a view record and the state
// transition it belongs to are written in one critical section.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]models.Secret
	views   map[string]map[string]models.ViewRecord // secretID -> viewerID -> record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		secrets: make(map[string]models.Secret),
		views:   make(map[string]map[string]models.ViewRecord),
	}
}

func (s *MemoryStore) Create(ctx context.Context, secret *models.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.secrets[secret.ID]; ok {
		return ErrAlreadyExists
	}
	s.secrets[secret.ID] = *secret
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	secret, ok := s.secrets[id]
	if !ok {
		return nil, ErrNotFound
	}
	// secret is already a copy; callers cannot alias stored state.
	return &secret, nil
}

func (s *MemoryStore) CompareAndSwapState(ctx context.Context, id string, expected, next models.SecretState, clearPayload bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.secrets[id]
	if !ok {
		return false, ErrNotFound
	}
	if secret.State != expected {
		return false, nil
	}

	secret.State = next
	if clearPayload {
		secret.Payload = ""
	}
	s.secrets[id] = secret
	return true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.secrets, id)
	delete(s.views, id)
	return nil
}

func (s *MemoryStore) ListExpiredIDs(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, secret := range s.secrets {
		if secret.State == models.StateUnviewed && secret.ExpiredAt(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MemoryStore) RecordView(ctx context.Context, secretID, viewerID string, at time.Time) (*models.ViewRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byViewer, ok := s.views[secretID]
	if !ok {
		byViewer = make(map[string]models.ViewRecord)
		s.views[secretID] = byViewer
	}
	if existing, ok := byViewer[viewerID]; ok {
		return &existing, false, nil
	}

	rec := models.ViewRecord{SecretID: secretID, ViewerID: viewerID, ViewedAt: at}
	byViewer[viewerID] = rec
	return &rec, true, nil
}

func (s *MemoryStore) LookupView(ctx context.Context, secretID, viewerID string) (*models.ViewRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.views[secretID][viewerID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.secrets = nil
	s.views = nil
	return nil
}
