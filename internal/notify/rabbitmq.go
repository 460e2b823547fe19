package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// channel is the part of *amqp091.Channel the publisher needs.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// RabbitPublisher publishes events to a durable topic exchange, routed by event type.
type RabbitPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  channel
	open     func() (channel, error)
	exchange string
	declared bool
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

// NewRabbitPublisher dials the broker with a bounded timeout.
func NewRabbitPublisher(amqpURL, exchange string, logger *zap.Logger) (*RabbitPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	open := func() (channel, error) { return conn.Channel() }
	ch, err := open()
	if err != nil {
		conn.Close()
		return nil, err
	}
	p := newRabbitPublisher(ch, open, exchange, logger)
	p.conn = conn
	return p, nil
}

func newRabbitPublisher(ch channel, open func() (channel, error), exchange string, logger *zap.Logger) *RabbitPublisher {
	return &RabbitPublisher{channel: ch, open: open, exchange: exchange, logger: logger}
}

func (p *RabbitPublisher) declare() error {
	if p.declared {
		return nil
	}
	if err := p.channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	p.declared = true
	return nil
}

func (p *RabbitPublisher) reopen() error {
	if p.open == nil {
		return errors.New("no connection to reopen channel on")
	}
	ch, err := p.open()
	if err != nil {
		return err
	}
	_ = p.channel.Close()
	p.channel = ch
	p.declared = false
	return p.declare()
}

func (p *RabbitPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    e.OccurredAt,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.declare()
	if err == nil {
		err = p.channel.PublishWithContext(ctx, p.exchange, string(e.Type), false, false, msg)
	}
	if err == nil {
		return nil
	}

	// One retry on a fresh channel.
	p.logger.Warn("[RABBITMQ] Publish failed, reopening channel",
		zap.String("exchange", p.exchange), zap.String("routing_key", string(e.Type)), zap.Error(err))
	if reopenErr := p.reopen(); reopenErr != nil {
		return fmt.Errorf("publish %s: %w", e.Type, errors.Join(err, reopenErr))
	}
	if err := p.channel.PublishWithContext(ctx, p.exchange, string(e.Type), false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

func (p *RabbitPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// FallbackPublisher stands in when the broker is unreachable at startup.
type FallbackPublisher struct {
	logger *zap.Logger
}

func NewFallbackPublisher(logger *zap.Logger) *FallbackPublisher {
	return &FallbackPublisher{logger: logger}
}

func (p *FallbackPublisher) Publish(ctx context.Context, e Event) error {
	p.logger.Debug("[RABBITMQ] Publish skipped, broker unavailable",
		zap.String("routing_key", string(e.Type)), zap.String("transaction_id", e.TransactionID))
	return nil
}
