package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tintbook/internal/config"
	"tintbook/internal/events"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the forwarder uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the value of every forwarded message.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// KafkaForwarder copies bus events to a kafka topic, keyed by staff id so
// one technician's events stay ordered within a partition.
type KafkaForwarder struct {
	writer  MessageWriter
	queue   chan kafka.Message
	timeout time.Duration
	logger  *zerolog.Logger
}

// NewKafkaWriter builds a hash-balanced writer for cfg.
func NewKafkaWriter(cfg config.KafkaConfig) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}, nil
}

func NewKafkaForwarder(writer MessageWriter, buffer int, logger *zerolog.Logger) *KafkaForwarder {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &KafkaForwarder{
		writer:  writer,
		queue:   make(chan kafka.Message, buffer),
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// Subscribe forwards appointment and day events of bus.
func (f *KafkaForwarder) Subscribe(bus *events.EventBus) {
	bus.SubscribeAll(events.AppointmentEvents, f.HandleEvent)
	bus.SubscribeAll([]string{events.EventDayCleared, events.EventDayReset}, f.HandleEvent)
}

// HandleEvent queues event for writing. It never blocks the bus; a full
// buffer drops the event.
func (f *KafkaForwarder) HandleEvent(event *events.Event) error {
	msg, err := toMessage(event)
	if err != nil {
		f.logger.Error().Err(err).Str("event_type", event.Type).Msg("Failed to encode kafka message")
		return err
	}

	select {
	case f.queue <- msg:
		return nil
	default:
		f.logger.Warn().Str("event_type", event.Type).Msg("Kafka buffer full, event dropped")
		return fmt.Errorf("kafka buffer full")
	}
}

// Run writes queued messages until ctx is done, then flushes what is left
// and closes the writer.
func (f *KafkaForwarder) Run(ctx context.Context) {
	f.logger.Info().Msg("Kafka forwarder started")
	defer func() {
		f.drain()
		if err := f.writer.Close(); err != nil {
			f.logger.Error().Err(err).Msg("Failed to close kafka writer")
		}
		f.logger.Info().Msg("Kafka forwarder stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-f.queue:
			f.write(context.Background(), msg)
		}
	}
}

func (f *KafkaForwarder) drain() {
	for {
		select {
		case msg := <-f.queue:
			f.write(context.Background(), msg)
		default:
			return
		}
	}
}

func (f *KafkaForwarder) write(ctx context.Context, msg kafka.Message) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		f.logger.Error().Err(err).Str("key", string(msg.Key)).Msg("Kafka write failed")
	}
}

func toMessage(event *events.Event) (kafka.Message, error) {
	var keyed struct {
		StaffID string `json:"staff_id"`
		Date    string `json:"date"`
	}
	if err := json.Unmarshal(event.Payload, &keyed); err != nil {
		return kafka.Message{}, fmt.Errorf("decode payload: %w", err)
	}
	key := keyed.StaffID
	if key == "" {
		key = keyed.Date
	}

	value, err := json.Marshal(Envelope{
		Type:      event.Type,
		Payload:   json.RawMessage(event.Payload),
		CreatedAt: event.CreatedAt,
	})
	if err != nil {
		return kafka.Message{}, err
	}

	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
		Time: event.CreatedAt,
	}, nil
}
