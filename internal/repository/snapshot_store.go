package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"TrustGate/internal/domain/models"
	domrepo "TrustGate/internal/domain/repository"
	"TrustGate/pkg/cache"
)

// ErrNoSnapshot is returned when nothing was published for a symbol yet.
var ErrNoSnapshot = errors.New("no snapshot published")

// CacheSnapshotStore keeps the latest GateSnapshot per symbol in a cache.Service.
type CacheSnapshotStore struct {
	cache cache.Service
	ttl   time.Duration
}

var _ domrepo.SnapshotStore = (*CacheSnapshotStore)(nil)

// NewCacheSnapshotStore stores snapshots under gate:<symbol>; ttl 0 keeps the cache default.
func NewCacheSnapshotStore(c cache.Service, ttl time.Duration) *CacheSnapshotStore {
	return &CacheSnapshotStore{cache: c, ttl: ttl}
}

func snapshotKey(symbol string) string {
	return cache.GenerateKey("gate", strings.ToLower(symbol))
}

func (s *CacheSnapshotStore) Put(ctx context.Context, snap *models.GateSnapshot) error {
	if snap == nil {
		return nil
	}
	if err := s.cache.Set(ctx, snapshotKey(snap.Symbol), snap, s.ttl); err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

func (s *CacheSnapshotStore) Get(ctx context.Context, symbol string) (*models.GateSnapshot, error) {
	var snap models.GateSnapshot
	if err := s.cache.Get(ctx, snapshotKey(symbol), &snap); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return &snap, nil
}
