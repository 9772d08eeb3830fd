package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/pkg/logger"
	"CondoParkPlatform/pkg/metrics"
	"CondoParkPlatform/pkg/rabbitmq"
)

// Type тип доменного события, он же ключ маршрутизации
type Type string

const (
	ReservationCreated   Type = "reservation.created"
	ReservationCancelled Type = "reservation.cancelled"
	ReservationConfirmed Type = "reservation.confirmed"
	ReservationNoShow    Type = "reservation.no_show"
	ReservationCompleted Type = "reservation.completed"
	TenantRotated        Type = "tenant.rotated"
)

// Event доменное событие для внешних потребителей (уведомления, аналитика).
// Код сообщества передается только в виде отпечатка.
type Event struct {
	ID                string    `json:"id"`
	Type              Type      `json:"type"`
	TenantFingerprint string    `json:"tenant_fingerprint"`
	ReservationID     string    `json:"reservation_id,omitempty"`
	ResourceID        string    `json:"resource_id,omitempty"`
	PrincipalID       string    `json:"principal_id,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// New создает событие с новым идентификатором
func New(eventType Type, tenantCode string, occurredAt time.Time) Event {
	return Event{
		ID:                uuid.NewString(),
		Type:              eventType,
		TenantFingerprint: logger.Fingerprint(tenantCode),
		OccurredAt:        occurredAt.UTC(),
	}
}

// Publisher публикует доменные события
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher отбрасывает события (публикация выключена)
type NopPublisher struct{}

// Publish ничего не делает
func (NopPublisher) Publish(context.Context, Event) error {
	return nil
}

// producer часть rabbitmq.Producer, нужная издателю
type producer interface {
	PublishWithRetry(ctx context.Context, body []byte, maxRetries int, retryInterval time.Duration, options ...rabbitmq.PublishOption) error
}

const (
	publishRetries       = 2
	publishRetryInterval = 200 * time.Millisecond
)

// RabbitPublisher публикует события в обменник RabbitMQ с ключом маршрутизации = тип события
type RabbitPublisher struct {
	producer producer
	logger   logger.Logger
	metrics  *metrics.Metrics
}

// NewRabbitPublisher создает издателя поверх продюсера RabbitMQ
func NewRabbitPublisher(p producer, log logger.Logger, m *metrics.Metrics) *RabbitPublisher {
	return &RabbitPublisher{producer: p, logger: log, metrics: m}
}

// Publish сериализует событие в JSON и ждет подтверждения брокера
func (p *RabbitPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternal, "failed to serialize event").
			WithDetails("type: " + string(event.Type))
	}

	err = p.producer.PublishWithRetry(ctx, body, publishRetries, publishRetryInterval,
		rabbitmq.WithRoutingKey(string(event.Type)),
		rabbitmq.WithMessageID(event.ID),
	)
	p.metrics.ObserveEvent(string(event.Type), err)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternal, "failed to publish event").
			WithDetails("type: " + string(event.Type))
	}

	p.logger.Debug("Event published",
		logger.String("event_id", event.ID),
		logger.String("type", string(event.Type)),
		logger.CtxField(ctx),
	)
	return nil
}
