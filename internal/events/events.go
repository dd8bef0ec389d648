package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"portal-service/internal/client"
	"portal-service/internal/config"
)

// Event types published by the portal.
const (
	TypePaymentCreated        = "payment.created"
	TypePaymentProcessed      = "payment.processed"
	TypePaymentDeclined       = "payment.declined"
	TypePaymentDue            = "payment.due"
	TypeVerificationSucceeded = "verification.succeeded"
	TypeVerificationLocked    = "verification.locked"
	TypeAccountsImported      = "accounts.imported"
)

// Event is the envelope written to the broker. Data never carries
// instrument details or full identifiers.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	AccountID  string            `json:"account_id,omitempty"`
	PaymentID  string            `json:"payment_id,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
}

func NewEvent(eventType, accountID, paymentID string, data map[string]string) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		AccountID:  accountID,
		PaymentID:  paymentID,
		Data:       data,
	}
}

// key partitions events by account so one account's events stay ordered.
func (e Event) key() string {
	if e.AccountID != "" {
		return e.AccountID
	}
	return e.ID
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// KafkaPublisher writes events to the portal topic.
type KafkaPublisher struct {
	producer *client.KafkaProducer
}

func NewKafkaPublisher(producer *client.KafkaProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.producer.ProduceMessage(ctx, []byte(event.key()), body, map[string]string{"event_type": event.Type})
}

func (p *KafkaPublisher) Close() error { return p.producer.Close() }

// RabbitMQPublisher routes events by type on the portal exchange.
type RabbitMQPublisher struct {
	producer *client.RabbitMQProducer
}

func NewRabbitMQPublisher(producer *client.RabbitMQProducer) *RabbitMQPublisher {
	return &RabbitMQPublisher{producer: producer}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.producer.Publish(ctx, event.Type, body, map[string]string{"event_id": event.ID})
}

func (p *RabbitMQPublisher) Close() error {
	p.producer.Close()
	return nil
}

// NoopPublisher drops events; used when no broker is configured or the
// broker was unreachable at startup.
type NoopPublisher struct {
	logger *zap.Logger
}

func NewNoopPublisher(logger *zap.Logger) *NoopPublisher {
	return &NoopPublisher{logger: logger}
}

func (p *NoopPublisher) Publish(ctx context.Context, event Event) error {
	p.logger.Debug("event publish skipped",
		zap.String("event_type", event.Type),
		zap.String("event_id", event.ID))
	return nil
}

func (p *NoopPublisher) Close() error { return nil }

// NewPublisher connects the configured broker. A broker that cannot be
// reached degrades to a NoopPublisher with a warning instead of failing
// startup.
func NewPublisher(cfg *config.Config, logger *zap.Logger) Publisher {
	switch cfg.Events.Broker {
	case config.BrokerKafka:
		producer, err := client.NewKafkaProducer(cfg, logger)
		if err != nil {
			logger.Warn("Kafka unavailable, events disabled", zap.Error(err))
			return NewNoopPublisher(logger)
		}
		return NewKafkaPublisher(producer)
	case config.BrokerRabbitMQ:
		producer, err := client.NewRabbitMQProducer(cfg, logger)
		if err != nil {
			logger.Warn("RabbitMQ unavailable, events disabled", zap.Error(err))
			return NewNoopPublisher(logger)
		}
		return NewRabbitMQPublisher(producer)
	default:
		return NewNoopPublisher(logger)
	}
}
