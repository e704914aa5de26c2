// Package events publishes onboarding lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/tradie-onboarding-bfa/internal/domain"
	"github.com/boddenberg/tradie-onboarding-bfa/internal/port"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("events")

var (
	_ port.EventPublisher = (*AMQPPublisher)(nil)
	_ port.EventPublisher = (*LogPublisher)(nil)
)

// RoutingKeyCompleted is the routing key of OnboardingCompletedEvent.
const RoutingKeyCompleted = "onboarding.completed"

// ============================================================
// AMQPPublisher — RabbitMQ topic exchange
// ============================================================

// AMQPPublisher publishes JSON events to a durable topic exchange. The
// channel is reopened lazily after the broker closes it.
type AMQPPublisher struct {
	conn     *amqp.Connection
	exchange string
	logger   *zap.Logger

	mu sync.RWMutex
	ch *amqp.Channel
}

// NewAMQPPublisher dials url and declares the exchange.
func NewAMQPPublisher(url, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	p := &AMQPPublisher{conn: conn, exchange: exchange, logger: logger}
	ch, err := p.channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	logger.Info("rabbitmq publisher ready", zap.String("exchange", exchange))
	return p, nil
}

func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	p.mu.RLock()
	if p.ch != nil && !p.ch.IsClosed() {
		ch := p.ch
		p.mu.RUnlock()
		return ch, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	if p.conn == nil || p.conn.IsClosed() {
		return nil, errors.New("rabbitmq connection is closed")
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	p.ch = ch

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if amqpErr, ok := <-closed; ok && amqpErr != nil {
			p.logger.Warn("rabbitmq publish channel closed, will reopen on next publish",
				zap.String("reason", amqpErr.Reason),
			)
		}
		p.mu.Lock()
		if p.ch == ch {
			p.ch = nil
		}
		p.mu.Unlock()
	}()

	return ch, nil
}

// PublishOnboardingCompleted sends evt as a persistent message.
func (p *AMQPPublisher) PublishOnboardingCompleted(ctx context.Context, evt *domain.OnboardingCompletedEvent) error {
	ctx, span := tracer.Start(ctx, "AMQPPublisher.PublishOnboardingCompleted")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.rabbitmq.exchange", p.exchange),
		attribute.String("messaging.rabbitmq.routing_key", RoutingKeyCompleted),
		attribute.String("user.id", evt.UserID),
	)

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ch, err := p.channel()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return &domain.ErrExternalService{Service: "rabbitmq", Err: err}
	}

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))

	err = ch.PublishWithContext(ctx, p.exchange, RoutingKeyCompleted, false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    evt.EventID,
		Headers:      headers,
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &domain.ErrExternalService{Service: "rabbitmq", Err: err}
	}
	return nil
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
		p.ch = nil
	}
	if p.conn != nil && !p.conn.IsClosed() {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

// headerCarrier adapts amqp.Table to the otel propagation carrier.
type headerCarrier amqp.Table

var _ propagation.TextMapCarrier = headerCarrier{}

func (c headerCarrier) Get(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

func (c headerCarrier) Set(key, value string) { c[key] = value }

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// ============================================================
// LogPublisher — used when no broker is configured
// ============================================================

// LogPublisher writes events to the log instead of a broker.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishOnboardingCompleted(_ context.Context, evt *domain.OnboardingCompletedEvent) error {
	p.logger.Info("onboarding completed",
		zap.String("event_id", evt.EventID),
		zap.String("user_id", evt.UserID),
		zap.String("business_name", evt.BusinessName),
		zap.String("trade_primary", evt.TradePrimary),
		zap.Int("templates", evt.Templates),
		zap.Time("completed_at", evt.CompletedAt),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
