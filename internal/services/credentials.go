package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/akagifreeez/relay-gateway/internal/models"
)

// CredentialStore is the single source of truth for credential records and
// their quota state. Implementations must serialize RecordUse/SetActive per
// identifier so concurrent admissions never overshoot a limit.
type CredentialStore interface {
	Get(ctx context.Context, id string) (*models.Credential, error)
	Create(ctx context.Context, owner string, limit int64) (*models.Credential, error)
	// RecordUse increments the request counter atomically with the quota
	// check; it returns ErrQuotaExceeded once the ceiling is reached.
	RecordUse(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error
	EnsureMaster(ctx context.Context, id, owner string, limit int64) error
	List(ctx context.Context) ([]*models.Credential, error)
}

// newCredentialID mints a fresh identifier from 24 random bytes. Collisions
// are negligible by construction, not checked.
func newCredentialID() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate credential id: %w", err)
	}
	return "sk_" + hex.EncodeToString(buf), nil
}

func clampLimit(limit, ceiling int64) int64 {
	if limit <= 0 {
		return 1000
	}
	if limit > ceiling {
		return ceiling
	}
	return limit
}

// MemoryCredentialStore keeps all records in process memory. Suitable for
// single-node deployments and tests; quota state does not survive restarts.
type MemoryCredentialStore struct {
	mu       sync.RWMutex
	records  map[string]*models.Credential
	maxLimit int64
}

func NewMemoryCredentialStore(maxLimit int64) *MemoryCredentialStore {
	return &MemoryCredentialStore{
		records:  make(map[string]*models.Credential),
		maxLimit: maxLimit,
	}
}

func (s *MemoryCredentialStore) Get(ctx context.Context, id string) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrUnknownCredential
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryCredentialStore) Create(ctx context.Context, owner string, limit int64) (*models.Credential, error) {
	id, err := newCredentialID()
	if err != nil {
		return nil, err
	}

	rec := &models.Credential{
		ID:        id,
		Owner:     owner,
		Limit:     clampLimit(limit, s.maxLimit),
		IsActive:  true,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.records[id] = rec
	s.mu.Unlock()

	cp := *rec
	return &cp, nil
}

func (s *MemoryCredentialStore) RecordUse(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrUnknownCredential
	}
	// The bound is enforced here, under the same lock as the increment, so
	// concurrent admissions can never jointly overshoot the limit.
	if rec.RequestCount >= rec.Limit {
		return ErrQuotaExceeded
	}
	now := time.Now()
	rec.RequestCount++
	rec.LastUsedAt = &now
	return nil
}

func (s *MemoryCredentialStore) SetActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrUnknownCredential
	}
	rec.IsActive = active
	return nil
}

func (s *MemoryCredentialStore) EnsureMaster(ctx context.Context, id, owner string, limit int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; ok {
		return nil
	}
	s.records[id] = &models.Credential{
		ID:        id,
		Owner:     owner,
		Limit:     limit,
		IsActive:  true,
		IsMaster:  true,
		CreatedAt: time.Now(),
	}
	return nil
}

func (s *MemoryCredentialStore) List(ctx context.Context) ([]*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Credential, 0, len(s.records))
	for _, rec := range s.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
