package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"
)

// DefaultTopic receives cart events when no topic is configured.
const DefaultTopic = "cart-events"

// messageWriter is the subset of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkaGo.Message) error
	Close() error
}

// Kafka publishes events as JSON messages keyed by product ID. The writer is
// asynchronous, so Track never waits on the broker; delivery failures are logged.
type Kafka struct {
	writer messageWriter
	logger *slog.Logger
}

// NewKafka creates a sink writing to topic on brokers.
func NewKafka(brokers []string, topic string, logger *slog.Logger) *Kafka {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafkaGo.Writer{
		Addr:         kafkaGo.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkaGo.LeastBytes{},
		Async:        true,
		BatchTimeout: 100 * time.Millisecond,
		Completion: func(msgs []kafkaGo.Message, err error) {
			if err != nil {
				logger.Warn("analytics delivery failed",
					slog.Int("messages", len(msgs)),
					slog.String("error", err.Error()))
			}
		},
	}
	return &Kafka{writer: w, logger: logger}
}

func (k *Kafka) Track(ctx context.Context, e Event) {
	e = stamp(e)
	payload, err := json.Marshal(e)
	if err != nil {
		k.logger.Error("failed to marshal analytics event", slog.String("error", err.Error()))
		return
	}

	if err := k.writer.WriteMessages(ctx, kafkaGo.Message{
		Key:   []byte(e.ProductID),
		Value: payload,
		Time:  e.At,
	}); err != nil {
		k.logger.Warn("analytics publish failed",
			slog.String("event", string(e.Name)),
			slog.String("error", err.Error()))
	}
}

// Close flushes pending messages and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
