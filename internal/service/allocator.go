package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tintbook/internal/database"
	"tintbook/internal/domain"
	"tintbook/internal/metrics"
	"tintbook/internal/models"
	"tintbook/internal/slots"
	"tintbook/internal/worker"

	"github.com/rs/zerolog"
)

type AllocationRequest struct {
	Date          string  `json:"date"`
	StartTime     string  `json:"start_time"`
	DurationHours float64 `json:"duration_hours"`
}

type AllocationResult struct {
	Success       bool     `json:"success"`
	StaffID       string   `json:"staff_id,omitempty"`
	BookedSlots   []string `json:"booked_slots,omitempty"`
	Date          string   `json:"date,omitempty"`
	StartTime     string   `json:"start_time,omitempty"`
	DurationHours float64  `json:"duration_hours,omitempty"`
	Error         string   `json:"error,omitempty"`
	Message       string   `json:"message,omitempty"`
}

type AllocatorOptions struct {
	OverlapMode OverlapMode
	MaxRetries  int
	LockTTL     time.Duration
	// LockWait bounds how long one attempt waits for a held record lock.
	LockWait time.Duration
	Retry    worker.RetryPolicy
	CacheTTL time.Duration
}

func (o *AllocatorOptions) applyDefaults() {
	if o.OverlapMode == "" {
		o.OverlapMode = OverlapPoint
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = models.MaxAllocationRetries
	}
	if o.LockTTL <= 0 {
		o.LockTTL = models.DefaultLockTTL * time.Millisecond
	}
	if o.LockWait <= 0 {
		o.LockWait = o.LockTTL
	}
	if o.Retry.InitialDelay <= 0 {
		o.Retry.InitialDelay = 20 * time.Millisecond
	}
	if o.Retry.MaxDelay <= 0 {
		o.Retry.MaxDelay = 500 * time.Millisecond
	}
	o.Retry.MaxRetries = o.MaxRetries
	if o.CacheTTL <= 0 {
		o.CacheTTL = models.DefaultCacheTTL * time.Second
	}
}

// Allocator turns a requested time into a staff assignment. Writes to one
// staff/date record are serialized by the locker and guarded by the record
// version, so two allocations never take the same slot.
type Allocator struct {
	codec  *slots.Codec
	policy slotPolicy
	store  domain.SlotStore
	staff  domain.StaffDirectory
	locker domain.Locker
	rand   domain.RandSource
	cache  domain.AvailabilityCache
	opts   AllocatorOptions
	logger *zerolog.Logger
}

func NewAllocator(
	codec *slots.Codec,
	store domain.SlotStore,
	staff domain.StaffDirectory,
	locker domain.Locker,
	rnd domain.RandSource,
	cache domain.AvailabilityCache,
	opts AllocatorOptions,
	logger *zerolog.Logger,
) *Allocator {
	opts.applyDefaults()
	if rnd == nil {
		rnd = NewRandSource(0)
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Allocator{
		codec:  codec,
		policy: slotPolicy{codec: codec, mode: opts.OverlapMode},
		store:  store,
		staff:  staff,
		locker: locker,
		rand:   rnd,
		cache:  cache,
		opts:   opts,
		logger: logger,
	}
}

func (a *Allocator) Codec() *slots.Codec {
	return a.codec
}

// PickFreeStaff picks uniformly at random among records that can host a job
// of duration at requestedTime.
func (a *Allocator) PickFreeStaff(records []*models.StaffSlotRecord, requestedTime string, duration float64) (string, error) {
	free := make([]string, 0, len(records))
	for _, r := range records {
		if r.ClearedOut {
			continue
		}
		if a.policy.isFree(r.Taken(), requestedTime, duration) {
			free = append(free, r.StaffID)
		}
	}
	if len(free) == 0 {
		return "", ErrNoAvailability
	}
	return free[a.rand.Intn(len(free))], nil
}

// Allocate assigns a staff member to the request and marks the blocking
// window as taken on their record.
func (a *Allocator) Allocate(ctx context.Context, req AllocationRequest) (*AllocationResult, error) {
	start, err := a.codec.CheckSlot(req.StartTime)
	if err != nil {
		metrics.IncAllocation(metrics.ResultInvalid)
		return nil, err
	}
	if err := validateDate(req.Date); err != nil {
		metrics.IncAllocation(metrics.ResultInvalid)
		return nil, err
	}
	duration, err := a.resolveDuration(req.DurationHours)
	if err != nil {
		metrics.IncAllocation(metrics.ResultInvalid)
		return nil, err
	}

	window, err := a.codec.GridWindow(start, duration)
	if err != nil {
		return nil, err
	}

	log := a.logger.With().Str("date", req.Date).Str("start", start).Float64("duration", duration).Logger()

	for attempt := 0; ; attempt++ {
		staffID, err := a.tryAllocate(ctx, req.Date, start, duration, window)
		if err == nil {
			metrics.IncAllocation(metrics.ResultSuccess)
			a.invalidate(ctx, req.Date)
			log.Info().Str("staff_id", staffID).Int("attempt", attempt).Msg("Slots allocated")
			return &AllocationResult{
				Success:       true,
				StaffID:       staffID,
				BookedSlots:   slots.SortPadded(window),
				Date:          req.Date,
				StartTime:     start,
				DurationHours: duration,
			}, nil
		}

		if !errors.Is(err, ErrConcurrencyConflict) {
			metrics.IncAllocation(allocationMetric(err))
			return nil, err
		}

		metrics.IncSlotConflict()
		if attempt >= a.opts.MaxRetries {
			metrics.IncAllocation(metrics.ResultConflict)
			log.Warn().Int("attempts", attempt+1).Msg("Allocation gave up after repeated conflicts")
			return nil, fmt.Errorf("allocate %s %s: %w", req.Date, start, ErrConcurrencyConflict)
		}

		log.Debug().Err(err).Int("attempt", attempt+1).Msg("Allocation conflict, retrying")
		if err := a.opts.Retry.Wait(ctx, attempt+1); err != nil {
			return nil, err
		}
	}
}

func (a *Allocator) tryAllocate(ctx context.Context, date, start string, duration float64, window []string) (string, error) {
	staffIDs, err := a.eligibleStaffIDs(ctx)
	if err != nil {
		return "", err
	}
	if len(staffIDs) == 0 {
		return "", ErrNoAvailability
	}

	records, err := a.store.GetOrCreate(ctx, staffIDs, date)
	if err != nil {
		return "", fmt.Errorf("load slot records: %w", err)
	}
	if dayCleared(records) || dayFull(records, len(staffIDs), a.codec.GridSet()) {
		return "", ErrDayFullyBooked
	}

	staffID, err := a.PickFreeStaff(records, start, duration)
	if err != nil {
		return "", err
	}

	unlock, err := a.lock(ctx, staffID, date)
	if err != nil {
		return "", err
	}
	defer unlock()

	live, err := a.store.Get(ctx, staffID, date)
	if errors.Is(err, database.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: record %s/%s vanished", ErrConcurrencyConflict, staffID, date)
	}
	if err != nil {
		return "", fmt.Errorf("reload slot record: %w", err)
	}
	if live.ClearedOut {
		return "", ErrDayFullyBooked
	}
	if !a.policy.isFree(live.Taken(), start, duration) {
		// lost the race for this staff member; start over with fresh records
		return "", fmt.Errorf("%w: %s taken on %s since read", ErrConcurrencyConflict, start, staffID)
	}

	live.Taken().Add(window...)
	if err := a.store.Save(ctx, live); err != nil {
		return "", err
	}
	return staffID, nil
}

// ClearDay empties and closes a date for every eligible staff member.
func (a *Allocator) ClearDay(ctx context.Context, date string) ([]string, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}
	staffIDs, err := a.eligibleStaffIDs(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.store.ClearDay(ctx, date, staffIDs); err != nil {
		return nil, err
	}
	a.invalidate(ctx, date)
	return staffIDs, nil
}

// ResetDay reopens a cleared date.
func (a *Allocator) ResetDay(ctx context.Context, date string) error {
	if err := validateDate(date); err != nil {
		return err
	}
	if err := a.store.ResetDay(ctx, date); err != nil {
		return err
	}
	a.invalidate(ctx, date)
	return nil
}

// lock takes the staff/date record lock, waiting at most LockWait. A lock that
// stays held past the wait is a conflict; cancellation of ctx is returned as is.
func (a *Allocator) lock(ctx context.Context, staffID, date string) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, a.opts.LockWait)
	defer cancel()

	unlock, err := a.locker.Acquire(waitCtx, lockKey(staffID, date), a.opts.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockTimeout) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		}
		return nil, err
	}
	return unlock, nil
}

func (a *Allocator) eligibleStaffIDs(ctx context.Context) ([]string, error) {
	staff, err := a.staff.ListStaffEligibleForAppointments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list eligible staff: %w", err)
	}
	ids := make([]string, 0, len(staff))
	for _, s := range staff {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

func (a *Allocator) resolveDuration(d float64) (float64, error) {
	if d == 0 {
		return a.codec.Hours().DefaultJobHours, nil
	}
	if d < 0 {
		return 0, ErrInvalidDuration
	}
	return d, nil
}

func (a *Allocator) invalidate(ctx context.Context, date string) {
	if a.cache != nil {
		a.cache.InvalidateDate(ctx, date)
	}
}

func lockKey(staffID, date string) string {
	return "slots:" + staffID + ":" + date
}

func validateDate(date string) error {
	if _, err := time.Parse(slots.DateFormat, date); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return nil
}

func dayCleared(records []*models.StaffSlotRecord) bool {
	for _, r := range records {
		if r.ClearedOut {
			return true
		}
	}
	return false
}

// dayFull reports whether every one of staffCount staff members has the whole
// grid taken. A staff member without a record still has a free day.
func dayFull(records []*models.StaffSlotRecord, staffCount int, grid slots.Set) bool {
	if staffCount == 0 {
		return true
	}
	if len(records) < staffCount {
		return false
	}
	common := grid.Clone()
	for _, r := range records {
		common = common.Intersect(r.Taken())
		if len(common) == 0 {
			return false
		}
	}
	return common.Equal(grid)
}

func allocationMetric(err error) string {
	switch ErrorKind(err) {
	case KindNoAvailability:
		return metrics.ResultNoAvailability
	case KindDayFullyBooked:
		return metrics.ResultFullyBooked
	case KindInvalidSlot, KindParseError:
		return metrics.ResultInvalid
	case KindConcurrencyConflict:
		return metrics.ResultConflict
	default:
		return metrics.ResultError
	}
}
