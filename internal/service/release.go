package service

import (
	"context"
	"errors"
	"fmt"

	"tintbook/internal/database"
	"tintbook/internal/metrics"
	"tintbook/internal/models"
	"tintbook/internal/slots"
)

// SlotHold is another booking of the same staff member whose window must
// stay taken while a neighbouring booking is released.
type SlotHold struct {
	StartTime     string
	DurationHours float64
}

// ReleaseSlots frees the blocking window of a booking on staffID's record.
// Slots already free are left alone and a missing record is created empty.
// Slots covered by any of keep stay taken.
func (a *Allocator) ReleaseSlots(
	ctx context.Context,
	staffID, date, startTime string,
	duration float64,
	keep ...SlotHold,
) (*models.StaffSlotRecord, error) {
	start, err := a.codec.CheckSlot(startTime)
	if err != nil {
		return nil, err
	}
	if err := validateDate(date); err != nil {
		return nil, err
	}
	duration, err = a.resolveDuration(duration)
	if err != nil {
		return nil, err
	}

	release, err := a.releasable(start, duration, keep)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		rec, err := a.releaseOnce(ctx, staffID, date, release)
		if err == nil {
			a.invalidate(ctx, date)
			metrics.IncRelease()
			a.logger.Info().
				Str("staff_id", staffID).
				Str("date", date).
				Str("start", start).
				Float64("duration", duration).
				Msg("Slots released")
			return rec, nil
		}
		if !errors.Is(err, ErrConcurrencyConflict) {
			return nil, err
		}

		metrics.IncSlotConflict()
		if attempt >= a.opts.MaxRetries {
			return nil, fmt.Errorf("release %s %s %s: %w", staffID, date, start, ErrConcurrencyConflict)
		}
		if err := a.opts.Retry.Wait(ctx, attempt+1); err != nil {
			return nil, err
		}
	}
}

func (a *Allocator) releasable(start string, duration float64, keep []SlotHold) (slots.Set, error) {
	window, err := a.codec.GridWindow(start, duration)
	if err != nil {
		return nil, err
	}
	release := slots.NewSet(window...)

	for _, h := range keep {
		held, err := a.codec.GridWindow(h.StartTime, h.DurationHours)
		if err != nil {
			return nil, fmt.Errorf("hold %s: %w", h.StartTime, err)
		}
		release.Remove(held...)
	}
	return release, nil
}

func (a *Allocator) releaseOnce(ctx context.Context, staffID, date string, release slots.Set) (*models.StaffSlotRecord, error) {
	if _, err := a.store.GetOrCreate(ctx, []string{staffID}, date); err != nil {
		return nil, fmt.Errorf("load slot record: %w", err)
	}

	unlock, err := a.lock(ctx, staffID, date)
	if err != nil {
		return nil, err
	}
	defer unlock()

	live, err := a.store.Get(ctx, staffID, date)
	if errors.Is(err, database.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: record %s/%s vanished", ErrConcurrencyConflict, staffID, date)
	}
	if err != nil {
		return nil, fmt.Errorf("reload slot record: %w", err)
	}

	if len(live.Taken().Intersect(release)) == 0 {
		return live, nil
	}

	live.Taken().Remove(release.Items()...)
	if err := a.store.Save(ctx, live); err != nil {
		return nil, err
	}
	return live, nil
}
