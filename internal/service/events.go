package service

import (
	"context"
	"time"

	"canteen-service/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventPublisher publishes domain events to the change feed
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error
	PublishStudentEvent(ctx context.Context, event *models.StudentEvent) error
	PublishSettingsEvent(ctx context.Context, event *models.SettingsEvent) error
	PublishMenuEvent(ctx context.Context, event *models.MenuEvent) error
}

func newBaseEvent(eventType string, at time.Time) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: at,
	}
}

func newOrderEvent(eventType string, order *models.Order, at time.Time) *models.OrderEvent {
	return &models.OrderEvent{
		BaseEvent:   newBaseEvent(eventType, at),
		OrderID:     order.ID,
		PID:         order.PID,
		Status:      order.Status,
		PaymentCode: order.PaymentCode,
		Subtotal:    order.Subtotal,
	}
}

// publishOrder logs and swallows publish failures; the write already committed
func publishOrder(ctx context.Context, p EventPublisher, logger *zap.Logger, event *models.OrderEvent) {
	if err := p.PublishOrderEvent(ctx, event); err != nil {
		logger.Error("Failed to publish order event",
			zap.String("type", event.EventType),
			zap.String("order_id", event.OrderID),
			zap.Error(err))
	}
}

func publishStudent(ctx context.Context, p EventPublisher, logger *zap.Logger, event *models.StudentEvent) {
	if err := p.PublishStudentEvent(ctx, event); err != nil {
		logger.Error("Failed to publish student event",
			zap.String("type", event.EventType),
			zap.String("pid", event.PID),
			zap.Error(err))
	}
}
