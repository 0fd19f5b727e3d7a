package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"tintbook/internal/database"
	"tintbook/internal/models"
	"tintbook/internal/repository"
	"tintbook/internal/slots"
	"tintbook/internal/worker"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testDate = "2024-06-10"

type testEnv struct {
	db        *database.DB
	codec     *slots.Codec
	allocator *Allocator
	agg       *Aggregator
	cache     *repository.MemoryAvailabilityCache
}

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func testOptions(mode OverlapMode) AllocatorOptions {
	return AllocatorOptions{
		OverlapMode: mode,
		MaxRetries:  3,
		LockTTL:     time.Second,
		Retry:       worker.RetryPolicy{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}
}

func seedStaff(t *testing.T, db *database.DB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, db.UpsertStaff(context.Background(), &models.Staff{
			ID:                  id,
			Name:                "Tech " + id,
			Role:                models.RoleStaff,
			CanTakeAppointments: true,
			IsActive:            true,
		}))
	}
}

func newTestEnv(t *testing.T, mode OverlapMode, staffIDs ...string) *testEnv {
	t.Helper()
	db, err := database.NewDB(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	seedStaff(t, db, staffIDs...)

	codec := slots.MustCodec(slots.DefaultBusinessHours())
	cache := repository.NewMemoryAvailabilityCache()
	return &testEnv{
		db:        db,
		codec:     codec,
		cache:     cache,
		allocator: NewAllocator(codec, db, db, repository.NewMemoryLocker(), NewRandSource(1), cache, testOptions(mode), testLogger()),
		agg:       NewAggregator(codec, db, db, cache, mode, time.Minute, testLogger()),
	}
}

// firstRand always picks the first candidate.
type firstRand struct{}

func (firstRand) Intn(int) int { return 0 }

// conflictingStore fails the first n saves with a version conflict.
type conflictingStore struct {
	*database.DB
	mu        sync.Mutex
	conflicts int
	saves     int
}

func (s *conflictingStore) Save(ctx context.Context, r *models.StaffSlotRecord) error {
	s.mu.Lock()
	s.saves++
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return database.ErrConcurrencyConflict
	}
	s.mu.Unlock()
	return s.DB.Save(ctx, r)
}

type staticStaff []*models.Staff

func (s staticStaff) ListStaffEligibleForAppointments(context.Context) ([]*models.Staff, error) {
	return s, nil
}

func staffList(ids ...string) staticStaff {
	out := make(staticStaff, 0, len(ids))
	for _, id := range ids {
		out = append(out, &models.Staff{ID: id, Role: models.RoleStaff, CanTakeAppointments: true, IsActive: true})
	}
	return out
}
