package broker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"tintbook/internal/config"
	"tintbook/internal/events"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *recordingWriter) snapshot() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestKafkaForwarder_ForwardsBusEvents(t *testing.T) {
	writer := &recordingWriter{}
	fwd := NewKafkaForwarder(writer, 10, nil)
	bus := events.NewEventBus()
	fwd.Subscribe(bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fwd.Run(ctx)
		close(done)
	}()

	require.NoError(t, bus.PublishJSON(events.EventAppointmentCreated, events.AppointmentEventPayload{
		AppointmentID: "a-1",
		StaffID:       "anna",
		Date:          "2024-06-10",
		StartTime:     "10:00",
		Status:        "booked",
	}))
	require.NoError(t, bus.PublishJSON(events.EventDayCleared, events.DayEventPayload{Date: "2024-06-11"}))

	require.Eventually(t, func() bool { return len(writer.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	msgs := writer.snapshot()
	assert.Equal(t, "anna", string(msgs[0].Key))
	assert.Equal(t, "2024-06-11", string(msgs[1].Key))
	assert.Equal(t, events.EventAppointmentCreated, string(msgs[0].Headers[0].Value))

	var env Envelope
	require.NoError(t, json.Unmarshal(msgs[0].Value, &env))
	assert.Equal(t, events.EventAppointmentCreated, env.Type)
	p, err := events.DecodeAppointment(&events.Event{Payload: env.Payload})
	require.NoError(t, err)
	assert.Equal(t, "a-1", p.AppointmentID)
	assert.True(t, writer.closed)
}

func TestKafkaForwarder_BufferFull(t *testing.T) {
	fwd := NewKafkaForwarder(&recordingWriter{}, 1, nil)
	ev, err := events.NewJSONEvent(events.EventAppointmentCancelled, events.AppointmentEventPayload{StaffID: "anna"})
	require.NoError(t, err)

	assert.NoError(t, fwd.HandleEvent(&ev))
	assert.Error(t, fwd.HandleEvent(&ev))
}

func TestKafkaForwarder_DrainsOnStop(t *testing.T) {
	writer := &recordingWriter{}
	fwd := NewKafkaForwarder(writer, 10, nil)
	ev, err := events.NewJSONEvent(events.EventAppointmentCancelled, events.AppointmentEventPayload{StaffID: "anna"})
	require.NoError(t, err)
	require.NoError(t, fwd.HandleEvent(&ev))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fwd.Run(ctx)

	assert.Len(t, writer.snapshot(), 1)
}

func TestKafkaForwarder_BadPayload(t *testing.T) {
	fwd := NewKafkaForwarder(&recordingWriter{}, 1, nil)
	assert.Error(t, fwd.HandleEvent(&events.Event{Type: "x", Payload: []byte("not json")}))
}

func TestNewKafkaWriter(t *testing.T) {
	_, err := NewKafkaWriter(config.KafkaConfig{Topic: "t"})
	assert.Error(t, err)
	_, err = NewKafkaWriter(config.KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	w, err := NewKafkaWriter(config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "tintbook.events"})
	require.NoError(t, err)
	assert.Equal(t, "tintbook.events", w.Topic)
	assert.NoError(t, w.Close())
}
