package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CryptoDaily/internal/domain/models"
	"CryptoDaily/internal/domain/repository"
	"CryptoDaily/pkg/cache"
)

const lastReportKey = "sync:last-report"

// CacheSyncState keeps the cycle lease and the last cycle report in a cache.Service.
// Backed by Redis the lease excludes every process sharing that Redis; backed by
// memory it only excludes cycles within this process.
type CacheSyncState struct {
	cache     cache.Service
	reportTTL time.Duration
}

var (
	_ repository.Locker      = (*CacheSyncState)(nil)
	_ repository.ReportStore = (*CacheSyncState)(nil)
)

// NewCacheSyncState creates the lease/report store. reportTTL <= 0 keeps the report forever.
func NewCacheSyncState(c cache.Service, reportTTL time.Duration) *CacheSyncState {
	return &CacheSyncState{cache: c, reportTTL: reportTTL}
}

func (s *CacheSyncState) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.cache.TryLock(ctx, key, ttl)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	return ok, nil
}

func (s *CacheSyncState) Unlock(ctx context.Context, key string) error {
	if err := s.cache.Unlock(ctx, key); err != nil {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	return nil
}

func (s *CacheSyncState) SaveReport(ctx context.Context, r *models.SyncReport) error {
	if err := s.cache.Set(ctx, lastReportKey, r, s.reportTTL); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

// LastReport returns nil, nil when no cycle has finished yet.
func (s *CacheSyncState) LastReport(ctx context.Context) (*models.SyncReport, error) {
	var r models.SyncReport
	if err := s.cache.Get(ctx, lastReportKey, &r); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load report: %w", err)
	}
	return &r, nil
}

func (s *CacheSyncState) Close() error {
	return s.cache.Close()
}
