package repository

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLocker is a process-local per-key mutex. It honours ctx while waiting
// and ignores ttl. A key is forgotten once nobody holds or waits for it.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*lockEntry)}
}

func (l *MemoryLocker) ref(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *MemoryLocker) unref(key string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	e := l.ref(key)
	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, e)
		return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.unref(key, e)
		})
	}, nil
}

type cacheEntry struct {
	times     []string
	expiresAt time.Time
}

// MemoryAvailabilityCache mirrors RedisAvailabilityCache inside the process.
type MemoryAvailabilityCache struct {
	mu      sync.RWMutex
	entries map[string]map[string]cacheEntry
}

func NewMemoryAvailabilityCache() *MemoryAvailabilityCache {
	return &MemoryAvailabilityCache{entries: make(map[string]map[string]cacheEntry)}
}

func (c *MemoryAvailabilityCache) GetBookable(_ context.Context, date string, duration float64) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[date][durationField(duration)]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	out := make([]string, len(entry.times))
	copy(out, entry.times)
	return out, true
}

func (c *MemoryAvailabilityCache) SetBookable(_ context.Context, date string, duration float64, times []string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byDuration, ok := c.entries[date]
	if !ok {
		byDuration = make(map[string]cacheEntry)
		c.entries[date] = byDuration
	}
	stored := make([]string, len(times))
	copy(stored, times)
	byDuration[durationField(duration)] = cacheEntry{times: stored, expiresAt: time.Now().Add(ttl)}
}

func (c *MemoryAvailabilityCache) InvalidateDate(_ context.Context, date string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, date)
}
