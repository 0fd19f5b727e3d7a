package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	EventAppointmentCreated     = "appointment_created"
	EventAppointmentCancelled   = "appointment_cancelled"
	EventAppointmentRescheduled = "appointment_rescheduled"
	EventDayCleared             = "day_cleared"
	EventDayReset               = "day_reset"
)

// AppointmentEvents lists the event types that carry an AppointmentEventPayload.
var AppointmentEvents = []string{
	EventAppointmentCreated,
	EventAppointmentCancelled,
	EventAppointmentRescheduled,
}

// AppointmentEventPayload is the appointment snapshot handed to notification and kafka consumers.
// Previous* fields are only set on reschedule.
type AppointmentEventPayload struct {
	AppointmentID string   `json:"appointment_id"`
	StaffID       string   `json:"staff_id"`
	Date          string   `json:"date"`
	StartTime     string   `json:"start_time"`
	DurationHours float64  `json:"duration_hours"`
	BookedSlots   []string `json:"booked_slots,omitempty"`
	CustomerName  string   `json:"customer_name,omitempty"`
	CustomerPhone string   `json:"customer_phone,omitempty"`
	Status        string   `json:"status"`
	PreviousDate  string   `json:"previous_date,omitempty"`
	PreviousStart string   `json:"previous_start,omitempty"`
	PreviousStaff string   `json:"previous_staff,omitempty"`
}

// DayEventPayload is published when an operator clears or resets a date.
type DayEventPayload struct {
	Date     string   `json:"date"`
	StaffIDs []string `json:"staff_ids,omitempty"`
}

type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

type EventHandler func(event *Event) error

// EventBus is an in-process synchronous pub/sub keyed by event type.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[string][]EventHandler)}
}

func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.mu.Unlock()
}

// SubscribeAll registers one handler for several event types.
func (b *EventBus) SubscribeAll(eventTypes []string, handler EventHandler) {
	for _, et := range eventTypes {
		b.Subscribe(et, handler)
	}
}

// Publish runs every handler of event.Type in subscription order.
// A failing handler does not stop the rest; their errors come back joined.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	hs := b.handlers[event.Type]
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, h := range hs {
		if err := h(event); err != nil {
			errs = append(errs, fmt.Errorf("%s handler: %w", event.Type, err))
		}
	}
	return errors.Join(errs...)
}

// PublishJSON marshals payload and publishes it. Only marshal errors are returned;
// a nil bus drops the event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}
	ev, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	_ = b.Publish(&ev)
	return nil
}

func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}

// DecodeAppointment unmarshals an appointment event payload.
func DecodeAppointment(event *Event) (AppointmentEventPayload, error) {
	var p AppointmentEventPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", event.Type, err)
	}
	return p, nil
}
