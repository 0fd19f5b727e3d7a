package domain

import (
	"context"
	"time"

	"tintbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type SlotStore interface {
	GetOrCreate(ctx context.Context, staffIDs []string, date string) ([]*models.StaffSlotRecord, error)
	Get(ctx context.Context, staffID, date string) (*models.StaffSlotRecord, error)
	ListByDate(ctx context.Context, date string, staffIDs ...string) ([]*models.StaffSlotRecord, error)
	Save(ctx context.Context, record *models.StaffSlotRecord) error
	ClearDay(ctx context.Context, date string, staffIDs []string) error
	ResetDay(ctx context.Context, date string) error
}

type StaffDirectory interface {
	ListStaffEligibleForAppointments(ctx context.Context) ([]*models.Staff, error)
}

type StaffRepository interface {
	StaffDirectory
	UpsertStaff(ctx context.Context, staff *models.Staff) error
	GetStaff(ctx context.Context, id string) (*models.Staff, error)
	ListStaff(ctx context.Context) ([]*models.Staff, error)
}

type AppointmentRepository interface {
	CreateAppointment(ctx context.Context, a *models.Appointment) error
	GetAppointment(ctx context.Context, id string) (*models.Appointment, error)
	ListAppointmentsByDate(ctx context.Context, date string) ([]*models.Appointment, error)
	UpdateAppointmentStatusWithVersion(ctx context.Context, id string, version int64, status string) error
	RescheduleAppointmentWithVersion(ctx context.Context, id string, version int64, staffID, date, start string) error
}

// Locker serializes read-modify-write cycles on one slot record.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// AvailabilityCache holds computed bookable times per date and job duration.
// Implementations swallow their own errors; a miss just means recompute.
type AvailabilityCache interface {
	GetBookable(ctx context.Context, date string, duration float64) ([]string, bool)
	SetBookable(ctx context.Context, date string, duration float64, times []string, ttl time.Duration)
	InvalidateDate(ctx context.Context, date string)
}

// RandSource must be safe for concurrent use.
type RandSource interface {
	Intn(n int) int
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type SheetsWriter interface {
	UpsertAppointment(ctx context.Context, a *models.Appointment) error
	UpdateAppointmentStatus(ctx context.Context, appointmentID, status string) error
}

type NotificationQueue interface {
	CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error
	GetPendingNotificationTasks(ctx context.Context, limit int) ([]*models.NotificationTask, error)
	UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}
