package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tintbook/internal/domain"
	"tintbook/internal/events"
	"tintbook/internal/metrics"
	"tintbook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	TaskConfirmation = "confirmation"
	TaskReminder     = "reminder"
	TaskCancellation = "cancellation"
	TaskReschedule   = "reschedule"
	TaskSheetUpsert  = "sheet_upsert"
	TaskSheetStatus  = "sheet_status"
)

// AppointmentLookup lets the worker drop reminders for appointments that
// moved or were cancelled after the reminder was queued.
type AppointmentLookup interface {
	GetAppointment(ctx context.Context, id string) (*models.Appointment, error)
}

type NotificationOptions struct {
	ReminderLead time.Duration
	PollInterval time.Duration
	BatchSize    int
	// QueuedGrace hides a task pushed to redis or memory from DB polling
	// until the grace runs out.
	QueuedGrace time.Duration
	Location    *time.Location
}

// NotificationWorker turns appointment events into persisted notification
// tasks and delivers them through its senders.
type NotificationWorker struct {
	store         domain.NotificationQueue
	lookup        AppointmentLookup
	messenger     Sender
	sheets        Sender
	redis         *redis.Client
	retryPolicy   RetryPolicy
	opts          NotificationOptions
	queue         chan models.NotificationTask
	redisQueueKey string
	deadLetterKey string
	logger        *zerolog.Logger
}

func NewNotificationWorker(
	store domain.NotificationQueue,
	lookup AppointmentLookup,
	messenger Sender,
	sheets Sender,
	redisClient *redis.Client,
	retry RetryPolicy,
	opts NotificationOptions,
	logger *zerolog.Logger,
) *NotificationWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if opts.ReminderLead <= 0 {
		opts.ReminderLead = models.ReminderLeadMinutes * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.QueuedGrace <= 0 {
		opts.QueuedGrace = time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &NotificationWorker{
		store:         store,
		lookup:        lookup,
		messenger:     messenger,
		sheets:        sheets,
		redis:         redisClient,
		retryPolicy:   retry,
		opts:          opts,
		queue:         make(chan models.NotificationTask, models.WorkerQueueSize),
		redisQueueKey: "notifications:queue",
		deadLetterKey: "notifications:deadletter",
		logger:        logger,
	}
}

// Subscribe attaches the worker to every appointment event of bus.
func (w *NotificationWorker) Subscribe(bus *events.EventBus) {
	bus.SubscribeAll(events.AppointmentEvents, w.HandleEvent)
}

// HandleEvent enqueues the tasks an appointment event calls for.
func (w *NotificationWorker) HandleEvent(event *events.Event) error {
	appt, err := events.DecodeAppointment(event)
	if err != nil {
		w.logger.Error().Err(err).Str("event_type", event.Type).Msg("Failed to decode appointment event")
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var tasks []string
	switch event.Type {
	case events.EventAppointmentCreated:
		tasks = []string{TaskConfirmation, TaskReminder, TaskSheetUpsert}
	case events.EventAppointmentCancelled:
		tasks = []string{TaskCancellation, TaskSheetStatus}
	case events.EventAppointmentRescheduled:
		tasks = []string{TaskReschedule, TaskReminder, TaskSheetUpsert}
	default:
		return nil
	}

	var errs []error
	for _, taskType := range tasks {
		if err := w.enqueueFor(ctx, taskType, appt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *NotificationWorker) enqueueFor(ctx context.Context, taskType string, appt events.AppointmentEventPayload) error {
	switch taskType {
	case TaskSheetUpsert, TaskSheetStatus:
		if w.sheets == nil {
			return nil
		}
	case TaskReminder:
		at, ok := w.reminderTime(appt)
		if !ok {
			return nil
		}
		return w.Enqueue(ctx, taskType, appt, at)
	}
	return w.Enqueue(ctx, taskType, appt, time.Time{})
}

// reminderTime is start minus the lead; false when that moment has passed.
func (w *NotificationWorker) reminderTime(appt events.AppointmentEventPayload) (time.Time, bool) {
	start, err := (&models.Appointment{Date: appt.Date, StartTime: appt.StartTime}).StartsAt(w.opts.Location)
	if err != nil {
		w.logger.Warn().Err(err).Str("appointment_id", appt.AppointmentID).Msg("Cannot compute reminder time")
		return time.Time{}, false
	}
	at := start.Add(-w.opts.ReminderLead)
	if !at.After(time.Now()) {
		return time.Time{}, false
	}
	return at, true
}

// Enqueue persists a task and, when due now, hands it to redis or the
// in-memory queue. A zero notBefore means deliver as soon as possible.
func (w *NotificationWorker) Enqueue(ctx context.Context, taskType string, appt events.AppointmentEventPayload, notBefore time.Time) error {
	if taskType == "" {
		return errors.New("task type is required")
	}
	if appt.AppointmentID == "" {
		return errors.New("appointment id is required")
	}

	raw, err := json.Marshal(appt)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.NotificationTask{
		TaskType:      taskType,
		AppointmentID: appt.AppointmentID,
		Payload:       string(raw),
		Status:        models.TaskStatusPending,
	}

	scheduled := !notBefore.IsZero()
	if scheduled {
		task.NextRetryAt = &notBefore
	} else {
		grace := time.Now().Add(w.opts.QueuedGrace)
		task.NextRetryAt = &grace
	}

	if err := w.store.CreateNotificationTask(ctx, &task); err != nil {
		return fmt.Errorf("persist notification task: %w", err)
	}
	if scheduled {
		w.logger.Debug().Int64("task_id", task.ID).Str("type", taskType).Time("at", notBefore).Msg("Notification scheduled")
		return nil
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Msg("Redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("In-memory queue full, task left to polling")
		if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusPending, "", nil); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to expose task to polling")
		}
	}
	return nil
}

// Start runs the delivery loop until ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("Notification worker started")
	defer w.logger.Info().Msg("Notification worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.store.GetPendingNotificationTasks(ctx, w.opts.BatchSize)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("Failed to fetch pending notifications")
			}
			w.sleep(ctx)
			continue
		}
		if len(tasks) == 0 {
			w.sleep(ctx)
			continue
		}

		for _, t := range tasks {
			w.processTask(ctx, t)
		}
	}
}

func (w *NotificationWorker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.opts.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *NotificationWorker) tryLocalQueue() (models.NotificationTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.NotificationTask{}, false
	}
}

func (w *NotificationWorker) tryRedis(ctx context.Context) (models.NotificationTask, bool) {
	if w.redis == nil {
		return models.NotificationTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, redis.Nil) {
			return models.NotificationTask{}, false
		}
		w.logger.Error().Err(err).Msg("Redis BRPOP error")
		return models.NotificationTask{}, false
	}
	if len(res) != 2 {
		return models.NotificationTask{}, false
	}
	var task models.NotificationTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("Failed to decode redis task")
		return models.NotificationTask{}, false
	}
	return task, true
}

func (w *NotificationWorker) processTask(ctx context.Context, task *models.NotificationTask) {
	payload, err := decodePayload(task.Payload)
	if err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	if task.TaskType == TaskReminder && w.reminderStale(ctx, payload) {
		w.logger.Info().Int64("task_id", task.ID).Str("appointment_id", payload.AppointmentID).Msg("Reminder skipped, appointment changed")
		w.complete(ctx, task)
		return
	}

	if err := w.deliver(ctx, task.TaskType, payload); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}
	w.complete(ctx, task)
}

func (w *NotificationWorker) deliver(ctx context.Context, taskType string, payload events.AppointmentEventPayload) error {
	switch taskType {
	case TaskConfirmation, TaskReminder, TaskCancellation, TaskReschedule:
		if w.messenger == nil {
			return nil
		}
		return w.messenger.Send(ctx, taskType, payload)
	case TaskSheetUpsert, TaskSheetStatus:
		if w.sheets == nil {
			return nil
		}
		return w.sheets.Send(ctx, taskType, payload)
	default:
		return fmt.Errorf("unknown task type: %s", taskType)
	}
}

func (w *NotificationWorker) reminderStale(ctx context.Context, payload events.AppointmentEventPayload) bool {
	if w.lookup == nil {
		return false
	}
	current, err := w.lookup.GetAppointment(ctx, payload.AppointmentID)
	if err != nil {
		// не удалось проверить, отправляем как есть
		return false
	}
	return !current.IsActive() || current.Date != payload.Date || current.StartTime != payload.StartTime
}

func (w *NotificationWorker) complete(ctx context.Context, task *models.NotificationTask) {
	metrics.IncNotification(task.TaskType, models.TaskStatusCompleted)
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark task completed")
	}
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, task *models.NotificationTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.failTask(ctx, task, cause)
		return
	}

	metrics.IncNotification(task.TaskType, models.TaskStatusRetry)
	nextTime := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark task for retry")
	}
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Int("attempt", attempt).Msg("Notification failed, will retry")
}

func (w *NotificationWorker) failTask(ctx context.Context, task *models.NotificationTask, cause error) {
	metrics.IncNotification(task.TaskType, models.TaskStatusFailed)
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark task failed")
	}
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("type", task.TaskType).Msg("Notification dead-lettered")
	w.pushDeadLetter(ctx, task)
}

func decodePayload(raw string) (events.AppointmentEventPayload, error) {
	var payload events.AppointmentEventPayload
	err := json.Unmarshal([]byte(raw), &payload)
	return payload, err
}

func (w *NotificationWorker) pushRedis(ctx context.Context, task models.NotificationTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *NotificationWorker) pushDeadLetter(ctx context.Context, task *models.NotificationTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to encode dead letter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Dead letter push failed")
	}
}
