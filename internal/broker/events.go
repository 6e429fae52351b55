package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"canteen-service/internal/models"
	"canteen-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderEvent publishes an order transition
func (ep *EventPublisher) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	return ep.producer.PublishEvent(ctx, "order-"+event.OrderID, event)
}

// PublishStudentEvent publishes a block or unblock
func (ep *EventPublisher) PublishStudentEvent(ctx context.Context, event *models.StudentEvent) error {
	return ep.producer.PublishEvent(ctx, "student-"+event.PID, event)
}

// PublishSettingsEvent publishes a settings change
func (ep *EventPublisher) PublishSettingsEvent(ctx context.Context, event *models.SettingsEvent) error {
	return ep.producer.PublishEvent(ctx, "settings", event)
}

// PublishMenuEvent publishes a menu change
func (ep *EventPublisher) PublishMenuEvent(ctx context.Context, event *models.MenuEvent) error {
	return ep.producer.PublishEvent(ctx, "menu", event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onOrder    func(context.Context, *models.OrderEvent) error
	onStudent  func(context.Context, *models.StudentEvent) error
	onSettings func(context.Context, *models.SettingsEvent) error
	onMenu     func(context.Context, *models.MenuEvent) error
	logger     *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnOrderEvent registers a handler for order events
func (eh *EventHandler) OnOrderEvent(handler func(context.Context, *models.OrderEvent) error) {
	eh.onOrder = handler
}

// OnStudentEvent registers a handler for student events
func (eh *EventHandler) OnStudentEvent(handler func(context.Context, *models.StudentEvent) error) {
	eh.onStudent = handler
}

// OnSettingsEvent registers a handler for settings events
func (eh *EventHandler) OnSettingsEvent(handler func(context.Context, *models.SettingsEvent) error) {
	eh.onSettings = handler
}

// OnMenuEvent registers a handler for menu events
func (eh *EventHandler) OnMenuEvent(handler func(context.Context, *models.MenuEvent) error) {
	eh.onMenu = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderPlaced, models.EventTypeOrderVerified, models.EventTypeOrderFulfilled,
		models.EventTypeOrderCancelled, models.EventTypeOrderDeleted:
		if eh.onOrder != nil {
			var event models.OrderEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal order event: %w", err)
			}
			return eh.onOrder(ctx, &event)
		}

	case models.EventTypeStudentBlocked, models.EventTypeStudentUnblocked:
		if eh.onStudent != nil {
			var event models.StudentEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal student event: %w", err)
			}
			return eh.onStudent(ctx, &event)
		}

	case models.EventTypeSettingsUpdated:
		if eh.onSettings != nil {
			var event models.SettingsEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal settings event: %w", err)
			}
			return eh.onSettings(ctx, &event)
		}

	case models.EventTypeMenuChanged:
		if eh.onMenu != nil {
			var event models.MenuEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal menu event: %w", err)
			}
			return eh.onMenu(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
