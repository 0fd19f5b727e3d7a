package worker

import (
	"context"
	"fmt"
	"strings"

	"tintbook/internal/domain"
	"tintbook/internal/events"
	"tintbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender delivers one notification task.
type Sender interface {
	Send(ctx context.Context, taskType string, appt events.AppointmentEventPayload) error
}

// TelegramSender posts notifications to the shop's staff chat.
type TelegramSender struct {
	bot    domain.TelegramSender
	chatID int64
}

func NewTelegramSender(bot domain.TelegramSender, chatID int64) *TelegramSender {
	return &TelegramSender{bot: bot, chatID: chatID}
}

func (s *TelegramSender) Send(_ context.Context, taskType string, appt events.AppointmentEventPayload) error {
	msg := tgbotapi.NewMessage(s.chatID, FormatMessage(taskType, appt))
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// LogSender writes notifications to the log. Used when no chat is configured.
type LogSender struct {
	logger *zerolog.Logger
}

func NewLogSender(logger *zerolog.Logger) *LogSender {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, taskType string, appt events.AppointmentEventPayload) error {
	s.logger.Info().
		Str("type", taskType).
		Str("appointment_id", appt.AppointmentID).
		Str("staff_id", appt.StaffID).
		Str("date", appt.Date).
		Str("start", appt.StartTime).
		Str("customer_phone", appt.CustomerPhone).
		Msg(FormatMessage(taskType, appt))
	return nil
}

// SheetsSender mirrors appointments into the appointment log sheet.
type SheetsSender struct {
	sheets domain.SheetsWriter
}

func NewSheetsSender(sheets domain.SheetsWriter) *SheetsSender {
	return &SheetsSender{sheets: sheets}
}

func (s *SheetsSender) Send(ctx context.Context, taskType string, appt events.AppointmentEventPayload) error {
	switch taskType {
	case TaskSheetUpsert:
		return s.sheets.UpsertAppointment(ctx, appointmentFromPayload(appt))
	case TaskSheetStatus:
		if appt.Status == "" {
			return fmt.Errorf("status missing for %s", appt.AppointmentID)
		}
		return s.sheets.UpdateAppointmentStatus(ctx, appt.AppointmentID, appt.Status)
	default:
		return fmt.Errorf("sheets sender cannot handle %s", taskType)
	}
}

func appointmentFromPayload(p events.AppointmentEventPayload) *models.Appointment {
	return &models.Appointment{
		ID:            p.AppointmentID,
		StaffID:       p.StaffID,
		Date:          p.Date,
		StartTime:     p.StartTime,
		DurationHours: p.DurationHours,
		CustomerName:  p.CustomerName,
		CustomerPhone: p.CustomerPhone,
		Status:        p.Status,
	}
}

// FormatMessage renders the chat text of a notification.
func FormatMessage(taskType string, appt events.AppointmentEventPayload) string {
	var b strings.Builder
	switch taskType {
	case TaskConfirmation:
		b.WriteString("✅ Новая запись\n")
	case TaskReminder:
		b.WriteString("⏰ Напоминание о записи\n")
	case TaskCancellation:
		b.WriteString("❌ Запись отменена\n")
	case TaskReschedule:
		b.WriteString("🔁 Запись перенесена\n")
		if appt.PreviousDate != "" {
			fmt.Fprintf(&b, "Было: %s %s\n", appt.PreviousDate, appt.PreviousStart)
		}
	default:
		fmt.Fprintf(&b, "%s\n", taskType)
	}

	fmt.Fprintf(&b, "Дата: %s %s\n", appt.Date, appt.StartTime)
	fmt.Fprintf(&b, "Мастер: %s\n", appt.StaffID)
	if appt.DurationHours > 0 {
		fmt.Fprintf(&b, "Длительность: %.2g ч\n", appt.DurationHours)
	}
	if appt.CustomerName != "" || appt.CustomerPhone != "" {
		fmt.Fprintf(&b, "Клиент: %s %s", appt.CustomerName, appt.CustomerPhone)
	}
	return strings.TrimRight(b.String(), "\n ")
}
