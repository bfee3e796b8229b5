package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cataloghq/mailroom/internal/models"
)

// Publisher is the small subset of event-sink behavior the coordinator
// needs. A nil Publisher disables the sink.
type Publisher interface {
	PublishRunCompleted(ctx context.Context, result models.RunResult) error
	Close() error
}

// KafkaPublisherConfig contains configurable parameters for the Kafka publisher.
type KafkaPublisherConfig struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string

	// Topic is the topic run-completed events are written to.
	Topic string

	// MaxAttempts is how many times a publish is retried on transient error.
	// Defaults to 3 if <= 0.
	MaxAttempts int

	// WriteTimeout is the per-attempt timeout for Write operations.
	// Defaults to 10s if zero.
	WriteTimeout time.Duration
}

// KafkaPublisher is a lightweight wrapper over segmentio/kafka-go Writer
// with simple produce-with-retries behavior. Events for the same email id
// land on the same partition via the key-hash balancer.
type KafkaPublisher struct {
	writer       *kafka.Writer
	maxAttempts  int
	writeTimeout time.Duration
}

func NewKafkaPublisher(cfg KafkaPublisherConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})

	return &KafkaPublisher{writer: w, maxAttempts: cfg.MaxAttempts, writeTimeout: cfg.WriteTimeout}, nil
}

// runCompletedEvent is the wire envelope; it deliberately omits the composed
// reply body, which goes to the archive instead.
type runCompletedEvent struct {
	RunID       string            `json:"runId"`
	EmailID     string            `json:"emailId"`
	HasOrder    bool              `json:"hasOrder"`
	HasInquiry  bool              `json:"hasInquiry"`
	OrderStatus string            `json:"orderStatus,omitempty"`
	TotalPrice  float64           `json:"totalPrice,omitempty"`
	StageErrors map[string]string `json:"stageErrors,omitempty"`
	CompletedAt time.Time         `json:"completedAt"`
}

func (p *KafkaPublisher) PublishRunCompleted(ctx context.Context, result models.RunResult) error {
	ev := runCompletedEvent{
		RunID:       result.RunID.String(),
		EmailID:     result.EmailID,
		StageErrors: result.StageErrors,
		CompletedAt: result.CompletedAt,
	}
	if result.Classification != nil {
		ev.HasOrder = result.Classification.HasOrder
		ev.HasInquiry = result.Classification.HasInquiry
	}
	if result.OrderResult != nil {
		ev.OrderStatus = string(result.OrderResult.OverallStatus)
		ev.TotalPrice = result.OrderResult.TotalPrice
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}

	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		msg := kafka.Message{
			Key:   []byte(result.EmailID),
			Value: value,
			Time:  time.Now().UTC(),
		}
		ctxAttempt, cancel := context.WithTimeout(ctx, p.writeTimeout)
		err := p.writer.WriteMessages(ctxAttempt, msg)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("publish failed after %d attempts: %w", p.maxAttempts, lastErr)
}

// Close shuts down the underlying writer and releases resources.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
