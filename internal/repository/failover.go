package repository

import (
	"context"
	"sync/atomic"
	"time"

	"dayroll/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverKVStore writes to primary and switches to fallback when primary
// errors. Primary is retried once per recoveryInterval.
type FailoverKVStore struct {
	primary   domain.KVStore
	fallback  domain.KVStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func NewFailoverKVStore(primary, fallback domain.KVStore, logger *zerolog.Logger) *FailoverKVStore {
	return &FailoverKVStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// Degraded reports whether calls currently go to the fallback.
func (r *FailoverKVStore) Degraded() bool {
	return r.isDown.Load()
}

func (r *FailoverKVStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	// Try to recover after recoveryInterval
	return r.now().Sub(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverKVStore) markDown(err error, op string) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Str("op", op).Msg("Primary store failed, falling back to memory")
	}
	r.lastCheck.Store(r.now().UnixNano())
}

func (r *FailoverKVStore) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary store recovered")
	}
}

func (r *FailoverKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if r.usePrimary() {
		val, err := r.primary.Get(ctx, key)
		if err == nil {
			r.markUp()
			return val, nil
		}
		r.markDown(err, "get")
	}
	return r.fallback.Get(ctx, key)
}

func (r *FailoverKVStore) Set(ctx context.Context, key string, value []byte) error {
	if r.usePrimary() {
		err := r.primary.Set(ctx, key, value)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err, "set")
	}
	return r.fallback.Set(ctx, key, value)
}

func (r *FailoverKVStore) Delete(ctx context.Context, key string) error {
	if r.usePrimary() {
		err := r.primary.Delete(ctx, key)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err, "delete")
	}
	return r.fallback.Delete(ctx, key)
}
