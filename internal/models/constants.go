package models

const (
	StatusBooked      = "booked"
	StatusCancelled   = "cancelled"
	StatusRescheduled = "rescheduled"
)

const (
	RoleStaff   = "staff"
	RoleManager = "manager"
)

const (
	TaskStatusPending   = "pending"
	TaskStatusRetry     = "retry"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

const (
	// DefaultCacheTTL время жизни кэша доступности в секундах
	DefaultCacheTTL = 60

	// DefaultLockTTL время удержания блокировки записи слотов в миллисекундах
	DefaultLockTTL = 5000

	// ReminderLeadMinutes за сколько минут до начала отправляется напоминание
	ReminderLeadMinutes = 60

	// WorkerQueueSize размер очереди воркера
	WorkerQueueSize = 128

	// MaxAllocationRetries число повторов при конфликте версий
	MaxAllocationRetries = 3
)
