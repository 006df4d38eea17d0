package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"StockPulse/internal/domain/models"
	domrepo "StockPulse/internal/domain/repository"
	"StockPulse/pkg/cache"
)

const (
	keyStatus = "trader:status"
	keyHalt   = "trader:halt"
	keyLock   = "trader:lock"
	keyJob    = "optimize:job"
)

type haltRecord struct {
	Halted bool      `json:"halted"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// CacheStateStore keeps trader state in a cache.Service, Redis in
// production. The halt flag never expires so a restart comes back halted.
type CacheStateStore struct {
	c         cache.Service
	statusTTL time.Duration
	jobTTL    time.Duration
	now       func() time.Time
}

// NewCacheStateStore keeps status snapshots for statusTTL and optimizer
// job states for jobTTL. Zero means no expiry.
func NewCacheStateStore(c cache.Service, statusTTL, jobTTL time.Duration) *CacheStateStore {
	return &CacheStateStore{c: c, statusTTL: statusTTL, jobTTL: jobTTL, now: time.Now}
}

var _ domrepo.StateStore = (*CacheStateStore)(nil)

func (s *CacheStateStore) SaveStatus(ctx context.Context, status models.TraderStatus) error {
	if err := s.c.Set(ctx, keyStatus, status, s.statusTTL); err != nil {
		return fmt.Errorf("save status: %w", err)
	}
	return nil
}

// LoadStatus returns nil without error when no snapshot is stored.
func (s *CacheStateStore) LoadStatus(ctx context.Context) (*models.TraderStatus, error) {
	var st models.TraderStatus
	if err := s.c.Get(ctx, keyStatus, &st); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load status: %w", err)
	}
	return &st, nil
}

func (s *CacheStateStore) SetHalted(ctx context.Context, halted bool, reason string) error {
	if !halted {
		if err := s.c.Delete(ctx, keyHalt); err != nil {
			return fmt.Errorf("clear halt: %w", err)
		}
		return nil
	}
	rec := haltRecord{Halted: true, Reason: reason, At: s.now().UTC()}
	if err := s.c.Set(ctx, keyHalt, rec, 0); err != nil {
		return fmt.Errorf("set halt: %w", err)
	}
	return nil
}

func (s *CacheStateStore) Halted(ctx context.Context) (bool, string, error) {
	var rec haltRecord
	if err := s.c.Get(ctx, keyHalt, &rec); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("read halt: %w", err)
	}
	return rec.Halted, rec.Reason, nil
}

// AcquireLock takes or renews the single-trader lock for owner.
func (s *CacheStateStore) AcquireLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.c.TryLock(ctx, keyLock, owner, ttl)
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return ok, nil
}

func (s *CacheStateStore) ReleaseLock(ctx context.Context, owner string) error {
	if err := s.c.Unlock(ctx, keyLock, owner); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (s *CacheStateStore) SaveJob(ctx context.Context, job models.OptimizeJobState) error {
	if err := s.c.Set(ctx, cache.GenerateKey(keyJob, job.ID), job, s.jobTTL); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// LoadJob returns nil without error for an unknown id.
func (s *CacheStateStore) LoadJob(ctx context.Context, id string) (*models.OptimizeJobState, error) {
	var job models.OptimizeJobState
	if err := s.c.Get(ctx, cache.GenerateKey(keyJob, id), &job); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	return &job, nil
}
