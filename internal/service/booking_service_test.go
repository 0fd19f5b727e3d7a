package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"tintbook/internal/database"
	"tintbook/internal/events"
	"tintbook/internal/models"
	"tintbook/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEventBus struct {
	mock.Mock
}

func (m *mockEventBus) PublishJSON(et string, p interface{}) error { return m.Called(et, p).Error(0) }

// failingAppointments rejects every insert.
type failingAppointments struct {
	*database.DB
}

func (failingAppointments) CreateAppointment(context.Context, *models.Appointment) error {
	return errors.New("database is locked")
}

// flakyLocker fails the next fail acquisitions, then behaves like the wrapped locker.
type flakyLocker struct {
	*repository.MemoryLocker
	fail atomic.Int32
}

func (l *flakyLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l.fail.Add(-1) >= 0 {
		return nil, errors.New("redis: connection refused")
	}
	l.fail.Store(0)
	return l.MemoryLocker.Acquire(ctx, key, ttl)
}

func newBookingEnv(t *testing.T, staffIDs ...string) (*testEnv, *BookingService, *mockEventBus) {
	t.Helper()
	env := newTestEnv(t, OverlapPoint, staffIDs...)
	bus := new(mockEventBus)
	svc := NewBookingService(env.allocator, env.db, testCatalog(), bus, testLogger())
	return env, svc, bus
}

func bookInput(start string) CreateAppointmentInput {
	return CreateAppointmentInput{
		Date:          testDate,
		StartTime:     start,
		ServiceIDs:    []string{"front_tint", "headlights"},
		CustomerName:  " Ivan Petrov ",
		CustomerPhone: "+79990001122",
	}
}

func takenOf(t *testing.T, env *testEnv, staffID string) []string {
	t.Helper()
	rec, err := env.db.Get(context.Background(), staffID, testDate)
	require.NoError(t, err)
	return rec.Taken().Sorted()
}

func TestBookingService_CreateAppointment(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		env, svc, bus := newBookingEnv(t, "A")
		bus.On("PublishJSON", events.EventAppointmentCreated, mock.MatchedBy(func(p events.AppointmentEventPayload) bool {
			return p.StaffID == "A" && p.Status == models.StatusBooked && len(p.BookedSlots) == 12
		})).Return(nil).Once()

		appt, res, err := svc.CreateAppointment(ctx, bookInput("10:00"))
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "A", appt.StaffID)
		assert.Equal(t, 2.0, appt.DurationHours)
		assert.Equal(t, "Ivan Petrov", appt.CustomerName)
		assert.Equal(t, int64(1), appt.Version)
		assert.NotEmpty(t, appt.ID)

		stored, err := svc.GetAppointment(ctx, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"front_tint", "headlights"}, stored.ServiceIDs)
		assert.Equal(t, res.BookedSlots, takenOf(t, env, "A"))
		bus.AssertExpectations(t)
	})

	t.Run("ExplicitDurationWins", func(t *testing.T) {
		_, svc, bus := newBookingEnv(t, "A")
		bus.On("PublishJSON", events.EventAppointmentCreated, mock.Anything).Return(nil).Once()

		in := bookInput("10:00")
		in.DurationHours = 1
		appt, _, err := svc.CreateAppointment(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, 1.0, appt.DurationHours)
	})

	t.Run("UnknownService", func(t *testing.T) {
		env, svc, bus := newBookingEnv(t, "A")
		in := bookInput("10:00")
		in.ServiceIDs = []string{"ceramic"}

		_, _, err := svc.CreateAppointment(ctx, in)
		assert.ErrorIs(t, err, ErrUnknownService)

		_, err = env.db.Get(ctx, "A", testDate)
		assert.ErrorIs(t, err, database.ErrRecordNotFound)
		bus.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything)
	})

	t.Run("NoAvailability", func(t *testing.T) {
		_, svc, bus := newBookingEnv(t, "A")
		bus.On("PublishJSON", events.EventAppointmentCreated, mock.Anything).Return(nil).Once()

		_, _, err := svc.CreateAppointment(ctx, bookInput("10:00"))
		require.NoError(t, err)
		_, _, err = svc.CreateAppointment(ctx, bookInput("10:00"))
		assert.ErrorIs(t, err, ErrNoAvailability)
		bus.AssertNumberOfCalls(t, "PublishJSON", 1)
	})

	t.Run("InsertFailureReleasesSlots", func(t *testing.T) {
		env := newTestEnv(t, OverlapPoint, "A")
		bus := new(mockEventBus)
		svc := NewBookingService(env.allocator, failingAppointments{DB: env.db}, testCatalog(), bus, testLogger())

		_, _, err := svc.CreateAppointment(ctx, bookInput("10:00"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database is locked")
		assert.Empty(t, takenOf(t, env, "A"))
		bus.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything)
	})
}

func TestBookingService_CancelAppointment(t *testing.T) {
	ctx := context.Background()

	t.Run("FreesSlotsOnce", func(t *testing.T) {
		env, svc, bus := newBookingEnv(t, "A")
		bus.On("PublishJSON", events.EventAppointmentCreated, mock.Anything).Return(nil).Once()
		bus.On("PublishJSON", events.EventAppointmentCancelled, mock.Anything).Return(nil).Once()

		appt, _, err := svc.CreateAppointment(ctx, bookInput("10:00"))
		require.NoError(t, err)

		cancelled, err := svc.CancelAppointment(ctx, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, cancelled.Status)
		assert.Empty(t, takenOf(t, env, "A"))

		again, err := svc.CancelAppointment(ctx, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, again.Status)
		bus.AssertExpectations(t)
	})

	t.Run("KeepsOtherAppointment", func(t *testing.T) {
		env, svc, bus := newBookingEnv(t, "A")
		bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)

		first, _, err := svc.CreateAppointment(ctx, bookInput("10:00"))
		require.NoError(t, err)
		_, _, err = svc.CreateAppointment(ctx, bookInput("12:00"))
		require.NoError(t, err)

		_, err = svc.CancelAppointment(ctx, first.ID)
		require.NoError(t, err)

		window, err := env.codec.GridWindow("12:00", 2)
		require.NoError(t, err)
		assert.Len(t, takenOf(t, env, "A"), len(window))
		assert.Contains(t, takenOf(t, env, "A"), "10:15")
		assert.NotContains(t, takenOf(t, env, "A"), "10:00")
	})

	t.Run("RetryFreesSlotsAfterFailedRelease", func(t *testing.T) {
		env, _, bus := newBookingEnv(t, "A")
		locker := &flakyLocker{MemoryLocker: repository.NewMemoryLocker()}
		a := NewAllocator(env.codec, env.db, env.db, locker, firstRand{}, env.cache, testOptions(OverlapPoint), testLogger())
		svc := NewBookingService(a, env.db, testCatalog(), bus, testLogger())
		bus.On("PublishJSON", events.EventAppointmentCreated, mock.Anything).Return(nil).Once()
		bus.On("PublishJSON", events.EventAppointmentCancelled, mock.Anything).Return(nil).Once()

		appt, _, err := svc.CreateAppointment(ctx, bookInput("10:00"))
		require.NoError(t, err)

		locker.fail.Store(1)
		_, err = svc.CancelAppointment(ctx, appt.ID)
		require.Error(t, err)
		assert.NotEmpty(t, takenOf(t, env, "A"))

		stored, err := svc.GetAppointment(ctx, appt.ID)
		require.NoError(t, err)
		require.Equal(t, models.StatusCancelled, stored.Status)

		_, err = svc.CancelAppointment(ctx, appt.ID)
		require.NoError(t, err)
		assert.Empty(t, takenOf(t, env, "A"))
		bus.AssertExpectations(t)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, svc, _ := newBookingEnv(t, "A")
		_, err := svc.CancelAppointment(ctx, "missing")
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
	})
}

func TestBookingService_RescheduleAppointment(t *testing.T) {
	ctx := context.Background()

	t.Run("MovesSlots", func(t *testing.T) {
		env, svc, bus := newBookingEnv(t, "A")
		bus.On("PublishJSON", events.EventAppointmentCreated, mock.Anything).Return(nil).Once()
		bus.On("PublishJSON", events.EventAppointmentRescheduled, mock.MatchedBy(func(p events.AppointmentEventPayload) bool {
			return p.PreviousStart == "10:00" && p.StartTime == "15:00" && p.PreviousStaff == "A"
		})).Return(nil).Once()

		appt, _, err := svc.CreateAppointment(ctx, bookInput("10:00"))
		require.NoError(t, err)

		moved, res, err := svc.RescheduleAppointment(ctx, appt.ID, testDate, "15:00")
		require.NoError(t, err)
		assert.Equal(t, "15:00", moved.StartTime)
		assert.Equal(t, res.BookedSlots, takenOf(t, env, "A"))

		stored, err := svc.GetAppointment(ctx, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, "15:00", stored.StartTime)
		assert.Equal(t, int64(2), stored.Version)
		bus.AssertExpectations(t)
	})

	t.Run("TargetTakenKeepsOriginal", func(t *testing.T) {
		env, svc, bus := newBookingEnv(t, "A")
		bus.On("PublishJSON", events.EventAppointmentCreated, mock.Anything).Return(nil).Twice()

		first, _, err := svc.CreateAppointment(ctx, bookInput("10:00"))
		require.NoError(t, err)
		_, _, err = svc.CreateAppointment(ctx, bookInput("15:00"))
		require.NoError(t, err)
		before := takenOf(t, env, "A")

		_, _, err = svc.RescheduleAppointment(ctx, first.ID, testDate, "15:00")
		assert.ErrorIs(t, err, ErrNoAvailability)
		assert.Equal(t, before, takenOf(t, env, "A"))

		stored, err := svc.GetAppointment(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "10:00", stored.StartTime)
	})

	t.Run("Inactive", func(t *testing.T) {
		_, svc, bus := newBookingEnv(t, "A")
		bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)

		appt, _, err := svc.CreateAppointment(ctx, bookInput("10:00"))
		require.NoError(t, err)
		_, err = svc.CancelAppointment(ctx, appt.ID)
		require.NoError(t, err)

		_, _, err = svc.RescheduleAppointment(ctx, appt.ID, testDate, "15:00")
		assert.ErrorIs(t, err, ErrAppointmentInactive)
	})
}

func TestBookingService_DayOperations(t *testing.T) {
	ctx := context.Background()
	env, svc, bus := newBookingEnv(t, "A", "B")

	bus.On("PublishJSON", events.EventDayCleared, events.DayEventPayload{Date: testDate, StaffIDs: []string{"A", "B"}}).Return(nil).Once()
	bus.On("PublishJSON", events.EventDayReset, events.DayEventPayload{Date: testDate}).Return(nil).Once()

	require.NoError(t, svc.ClearDay(ctx, testDate))
	full, err := env.agg.DayIsFullyBooked(ctx, testDate)
	require.NoError(t, err)
	assert.True(t, full)

	require.NoError(t, svc.ResetDay(ctx, testDate))
	full, err = env.agg.DayIsFullyBooked(ctx, testDate)
	require.NoError(t, err)
	assert.False(t, full)

	assert.ErrorIs(t, svc.ClearDay(ctx, "tomorrow"), ErrInvalidDate)
	bus.AssertExpectations(t)
}

func TestBookingService_ClearDayCancelsAppointments(t *testing.T) {
	ctx := context.Background()
	env, svc, bus := newBookingEnv(t, "A")

	bus.On("PublishJSON", events.EventAppointmentCreated, mock.Anything).Return(nil).Twice()
	bus.On("PublishJSON", events.EventDayCleared, events.DayEventPayload{Date: testDate, StaffIDs: []string{"A"}}).Return(nil).Once()
	bus.On("PublishJSON", events.EventAppointmentCancelled, mock.Anything).Return(nil).Once()
	bus.On("PublishJSON", events.EventDayReset, events.DayEventPayload{Date: testDate}).Return(nil).Once()

	first, _, err := svc.CreateAppointment(ctx, bookInput("10:00"))
	require.NoError(t, err)

	require.NoError(t, svc.ClearDay(ctx, testDate))
	stored, err := svc.GetAppointment(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)

	require.NoError(t, svc.ResetDay(ctx, testDate))
	second, _, err := svc.CreateAppointment(ctx, bookInput("10:00"))
	require.NoError(t, err)
	assert.Equal(t, "A", second.StaffID)

	appts, err := svc.ListAppointments(ctx, testDate)
	require.NoError(t, err)
	active := 0
	for _, a := range appts {
		if a.IsActive() {
			active++
		}
	}
	assert.Equal(t, 1, active)

	window, err := env.codec.GridWindow("10:00", 2)
	require.NoError(t, err)
	assert.Len(t, takenOf(t, env, "A"), len(window))
	bus.AssertExpectations(t)
}

func TestBookingService_ListAppointments(t *testing.T) {
	ctx := context.Background()
	_, svc, bus := newBookingEnv(t, "A", "B")
	bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)

	for _, start := range []string{"10:00", "10:00", "15:00"} {
		_, _, err := svc.CreateAppointment(ctx, bookInput(start))
		require.NoError(t, err)
	}

	list, err := svc.ListAppointments(ctx, testDate)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	list, err = svc.ListAppointments(ctx, "2024-06-11")
	require.NoError(t, err)
	assert.Empty(t, list)
}
