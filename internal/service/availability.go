package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tintbook/internal/database"
	"tintbook/internal/domain"
	"tintbook/internal/models"
	"tintbook/internal/slots"

	"github.com/rs/zerolog"
)

// Aggregator answers availability questions across all eligible staff.
// Reads take no locks; Allocate re-validates whatever it is told here.
type Aggregator struct {
	codec    *slots.Codec
	policy   slotPolicy
	store    domain.SlotStore
	staff    domain.StaffDirectory
	cache    domain.AvailabilityCache
	cacheTTL time.Duration
	logger   *zerolog.Logger
}

func NewAggregator(
	codec *slots.Codec,
	store domain.SlotStore,
	staff domain.StaffDirectory,
	cache domain.AvailabilityCache,
	mode OverlapMode,
	cacheTTL time.Duration,
	logger *zerolog.Logger,
) *Aggregator {
	if mode == "" {
		mode = OverlapPoint
	}
	if cacheTTL <= 0 {
		cacheTTL = models.DefaultCacheTTL * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Aggregator{
		codec:    codec,
		policy:   slotPolicy{codec: codec, mode: mode},
		store:    store,
		staff:    staff,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// dayView loads eligible staff and whatever records exist for date.
// Staff without a record are absent from the map.
func (g *Aggregator) dayView(ctx context.Context, date string) ([]*models.Staff, map[string]*models.StaffSlotRecord, error) {
	if err := validateDate(date); err != nil {
		return nil, nil, err
	}
	staff, err := g.staff.ListStaffEligibleForAppointments(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list eligible staff: %w", err)
	}
	if len(staff) == 0 {
		return staff, map[string]*models.StaffSlotRecord{}, nil
	}

	ids := make([]string, 0, len(staff))
	for _, s := range staff {
		ids = append(ids, s.ID)
	}
	records, err := g.store.ListByDate(ctx, date, ids...)
	if err != nil {
		return nil, nil, fmt.Errorf("list slot records: %w", err)
	}

	byStaff := make(map[string]*models.StaffSlotRecord, len(records))
	for _, r := range records {
		byStaff[r.StaffID] = r
	}
	return staff, byStaff, nil
}

// records returns one record per staff member, empty when none is stored.
func (g *Aggregator) records(ctx context.Context, date string) ([]*models.StaffSlotRecord, error) {
	staff, byStaff, err := g.dayView(ctx, date)
	if err != nil {
		return nil, err
	}
	out := make([]*models.StaffSlotRecord, 0, len(staff))
	for _, s := range staff {
		if r, ok := byStaff[s.ID]; ok {
			out = append(out, r)
			continue
		}
		out = append(out, models.NewStaffSlotRecord(s.ID, date))
	}
	return out, nil
}

func (g *Aggregator) DayIsFullyBooked(ctx context.Context, date string) (bool, error) {
	staff, byStaff, err := g.dayView(ctx, date)
	if err != nil {
		return false, err
	}
	records := make([]*models.StaffSlotRecord, 0, len(byStaff))
	for _, r := range byStaff {
		records = append(records, r)
	}
	if dayCleared(records) {
		return true, nil
	}
	return dayFull(records, len(staff), g.codec.GridSet()), nil
}

// FreeStaffCount counts eligible staff with nothing taken on date.
func (g *Aggregator) FreeStaffCount(ctx context.Context, date string) (int, error) {
	staff, byStaff, err := g.dayView(ctx, date)
	if err != nil {
		return 0, err
	}

	free := 0
	for _, s := range staff {
		r, ok := byStaff[s.ID]
		if !ok {
			free++
			continue
		}
		if r.ClearedOut {
			return 0, nil
		}
		if len(r.Taken()) == 0 {
			free++
		}
	}
	return free, nil
}

// CommonBusyTimes lists grid times at which no one of records could start a
// job of duration under the overlap mode. With no records nothing is busy.
func (g *Aggregator) CommonBusyTimes(records []*models.StaffSlotRecord, duration float64) []string {
	if len(records) == 0 {
		return []string{}
	}

	var common slots.Set
	for _, r := range records {
		blocked := slots.NewSet()
		for _, t := range g.codec.Grid() {
			if !g.policy.isFree(r.Taken(), t, duration) {
				blocked.Add(t)
			}
		}
		if common == nil {
			common = blocked
		} else {
			common = common.Intersect(blocked)
		}
		if len(common) == 0 {
			break
		}
	}
	return common.Sorted()
}

// BookableTimes lists the grid times at which at least one staff member could
// start a job of duration. Results are cached per date and duration.
func (g *Aggregator) BookableTimes(ctx context.Context, date string, duration float64) ([]string, error) {
	if duration == 0 {
		duration = g.codec.Hours().DefaultJobHours
	}
	if duration < 0 {
		return nil, ErrInvalidDuration
	}
	if err := validateDate(date); err != nil {
		return nil, err
	}

	if g.cache != nil {
		if times, ok := g.cache.GetBookable(ctx, date, duration); ok {
			return times, nil
		}
	}

	records, err := g.records(ctx, date)
	if err != nil {
		return nil, err
	}

	var times []string
	if dayCleared(records) || len(records) == 0 {
		times = []string{}
	} else {
		times = g.codec.GridSet().Minus(slots.NewSet(g.CommonBusyTimes(records, duration)...)).Sorted()
	}

	if g.cache != nil {
		g.cache.SetBookable(ctx, date, duration, times, g.cacheTTL)
	}
	g.logger.Debug().Str("date", date).Float64("duration", duration).Int("count", len(times)).Msg("Bookable times computed")
	return times, nil
}

// TakenTimes returns one view per eligible staff member, ordered like the
// staff directory.
func (g *Aggregator) TakenTimes(ctx context.Context, date string) ([]models.SlotRecordView, error) {
	records, err := g.records(ctx, date)
	if err != nil {
		return nil, err
	}
	views := make([]models.SlotRecordView, 0, len(records))
	for _, r := range records {
		views = append(views, r.View())
	}
	return views, nil
}

// FreeSlots is the grid minus what staffID has taken on date.
func (g *Aggregator) FreeSlots(ctx context.Context, staffID, date string) ([]string, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}
	r, err := g.store.Get(ctx, staffID, date)
	if errors.Is(err, database.ErrRecordNotFound) {
		return g.codec.Grid(), nil
	}
	if err != nil {
		return nil, err
	}
	return r.Free(g.codec.GridSet()).Sorted(), nil
}

// CandidatesAt lists staff ids that Allocate could pick for the request.
func (g *Aggregator) CandidatesAt(ctx context.Context, date, startTime string, duration float64) ([]string, error) {
	start, err := g.codec.CheckSlot(startTime)
	if err != nil {
		return nil, err
	}
	if duration == 0 {
		duration = g.codec.Hours().DefaultJobHours
	}
	records, err := g.records(ctx, date)
	if err != nil {
		return nil, err
	}

	out := []string{}
	for _, r := range records {
		if r.ClearedOut {
			continue
		}
		if g.policy.isFree(r.Taken(), start, duration) {
			out = append(out, r.StaffID)
		}
	}
	return out, nil
}

func (g *Aggregator) DayStatus(ctx context.Context, date string, duration float64) (*models.DayStatus, error) {
	if duration == 0 {
		duration = g.codec.Hours().DefaultJobHours
	}
	staff, byStaff, err := g.dayView(ctx, date)
	if err != nil {
		return nil, err
	}

	status := &models.DayStatus{
		Date:          date,
		EligibleStaff: len(staff),
		DurationHours: duration,
	}
	for _, r := range byStaff {
		if r.ClearedOut {
			status.ClearedOut = true
		}
	}

	if status.FullyBooked, err = g.DayIsFullyBooked(ctx, date); err != nil {
		return nil, err
	}
	if status.FreeStaff, err = g.FreeStaffCount(ctx, date); err != nil {
		return nil, err
	}
	if status.Bookable, err = g.BookableTimes(ctx, date, duration); err != nil {
		return nil, err
	}
	return status, nil
}
