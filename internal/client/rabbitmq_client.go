package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"portal-service/internal/config"
)

// RabbitMQProducer publishes JSON bodies to one durable topic exchange.
type RabbitMQProducer struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// maskAMQPURL hides the password for logging.
func maskAMQPURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

func NewRabbitMQProducer(cfg *config.Config, logger *zap.Logger) (*RabbitMQProducer, error) {
	cleanURL, err := sanitizeAMQPURL(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid RABBITMQ_URL: %w", err)
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	p := &RabbitMQProducer{conn: conn, channel: ch, exchange: cfg.RabbitMQ.Exchange, logger: logger}
	if err := p.declareExchange(); err != nil {
		p.Close()
		return nil, err
	}

	logger.Info("RabbitMQ producer connected",
		zap.String("url", maskAMQPURL(cleanURL)),
		zap.String("exchange", p.exchange))
	return p, nil
}

func (p *RabbitMQProducer) declareExchange() error {
	return p.channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil)
}

func (p *RabbitMQProducer) reopenChannel() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.channel = ch
	return p.declareExchange()
}

// Publish sends body under routingKey, reopening the channel once if the
// broker closed it.
func (p *RabbitMQProducer) Publish(ctx context.Context, routingKey string, body []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
		Headers:      amqp.Table{},
	}
	for k, v := range headers {
		msg.Headers[k] = v
	}

	err := p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err == nil {
		return nil
	}

	p.logger.Warn("publish failed; reopening channel",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", routingKey),
		zap.Error(err))
	if reopenErr := p.reopenChannel(); reopenErr != nil {
		return fmt.Errorf("failed to publish to RabbitMQ: %w", err)
	}
	if err := p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish to RabbitMQ: %w", err)
	}
	return nil
}

func (p *RabbitMQProducer) HealthCheck(ctx context.Context) error {
	if p.conn == nil || p.conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection closed")
	}
	return nil
}

func (p *RabbitMQProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
