package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const defaultBufferSize = 256

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRecorder publishes audit events to a Kafka topic from a background goroutine.
// Events are dropped, with a warning, when the buffer is full.
type KafkaRecorder struct {
	writer    messageWriter
	logger    *zap.Logger
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewKafkaRecorder starts a recorder publishing to topic on brokers.
func NewKafkaRecorder(brokers []string, topic string, logger *zap.Logger) *KafkaRecorder {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaRecorder(writer, logger, defaultBufferSize)
}

func newKafkaRecorder(w messageWriter, logger *zap.Logger, size int) *KafkaRecorder {
	r := &KafkaRecorder{
		writer: w,
		logger: logger.Named("audit.kafka"),
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *KafkaRecorder) Record(e Event) {
	// Sending after Close panics on the closed channel; swallow it.
	defer func() {
		_ = recover()
	}()
	select {
	case r.events <- stamp(e):
	default:
		r.logger.Warn("audit buffer full, event dropped", zap.String("step", e.Step))
	}
}

func (r *KafkaRecorder) run() {
	defer close(r.done)
	for e := range r.events {
		data, err := json.Marshal(e)
		if err != nil {
			r.logger.Warn("failed to encode audit event", zap.Error(err))
			continue
		}
		key := e.BookingReference
		if key == "" {
			key = e.CheckoutRequestID
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = r.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(key),
			Value: data,
			Time:  e.At,
		})
		cancel()
		if err != nil {
			r.logger.Warn("failed to publish audit event", zap.String("step", e.Step), zap.Error(err))
		}
	}
}

// Close drains buffered events and closes the writer.
func (r *KafkaRecorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.events)
		<-r.done
		err = r.writer.Close()
	})
	return err
}
