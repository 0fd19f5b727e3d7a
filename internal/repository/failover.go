package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"tintbook/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverLocker uses the primary (redis) locker and switches to the
// in-process fallback while the primary is unreachable.
type FailoverLocker struct {
	primary   domain.Locker
	fallback  domain.Locker
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverLocker(primary, fallback domain.Locker, logger *zerolog.Logger) *FailoverLocker {
	return &FailoverLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (l *FailoverLocker) markDown(err error) {
	l.logger.Error().Err(err).Msg("Primary locker failed, falling back to memory")
	l.isDown.Store(true)
	l.mu.Lock()
	l.lastCheck = time.Now()
	l.mu.Unlock()
}

func (l *FailoverLocker) shouldRetryPrimary() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Try to recover after 1 minute
	if time.Since(l.lastCheck) > time.Minute {
		l.lastCheck = time.Now()
		return true
	}
	return false
}

func (l *FailoverLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if !l.isDown.Load() || l.shouldRetryPrimary() {
		unlock, err := l.primary.Acquire(ctx, key, ttl)
		if err == nil {
			if l.isDown.Swap(false) {
				l.logger.Info().Msg("Primary locker recovered")
			}
			return unlock, nil
		}
		// contention is not an outage
		if errors.Is(err, ErrLockTimeout) {
			return nil, err
		}
		l.markDown(err)
	}

	return l.fallback.Acquire(ctx, key, ttl)
}
