package worker

import (
	"context"

	"canteen-service/internal/broker"
	"canteen-service/internal/feed"
	"canteen-service/internal/models"
	"canteen-service/internal/util"

	"go.uber.org/zap"
)

// Router maps domain events onto feed topics
type Router struct {
	hub *feed.Hub
}

// NewRouter creates a router notifying hub
func NewRouter(hub *feed.Hub) *Router {
	return &Router{hub: hub}
}

// Register wires the router into an event handler
func (r *Router) Register(eh *broker.EventHandler) {
	eh.OnOrderEvent(func(_ context.Context, e *models.OrderEvent) error {
		r.order(e)
		return nil
	})
	eh.OnStudentEvent(func(_ context.Context, e *models.StudentEvent) error {
		r.student(e)
		return nil
	})
	eh.OnSettingsEvent(func(context.Context, *models.SettingsEvent) error {
		r.hub.Notify(feed.TopicSettings)
		return nil
	})
	eh.OnMenuEvent(func(context.Context, *models.MenuEvent) error {
		r.hub.Notify(feed.TopicMenu)
		return nil
	})
}

func (r *Router) order(e *models.OrderEvent) {
	if e.PID == "" {
		// bulk change, every order view is stale
		r.hub.NotifyPrefix(feed.TopicOrders)
		return
	}
	r.hub.Notify(feed.TopicOrders, feed.StudentOrdersTopic(e.PID))
}

func (r *Router) student(e *models.StudentEvent) {
	r.hub.Notify(feed.TopicStudents, feed.StudentTopic(e.PID))
}

// LocalPublisher delivers events straight to the hub. Used when no broker
// is configured, so only subscribers on this instance see changes.
type LocalPublisher struct {
	router *Router
}

// NewLocalPublisher creates a publisher bound to hub
func NewLocalPublisher(hub *feed.Hub) *LocalPublisher {
	return &LocalPublisher{router: NewRouter(hub)}
}

func (p *LocalPublisher) PublishOrderEvent(_ context.Context, event *models.OrderEvent) error {
	p.router.order(event)
	return nil
}

func (p *LocalPublisher) PublishStudentEvent(_ context.Context, event *models.StudentEvent) error {
	p.router.student(event)
	return nil
}

func (p *LocalPublisher) PublishSettingsEvent(context.Context, *models.SettingsEvent) error {
	p.router.hub.Notify(feed.TopicSettings)
	return nil
}

func (p *LocalPublisher) PublishMenuEvent(context.Context, *models.MenuEvent) error {
	p.router.hub.Notify(feed.TopicMenu)
	return nil
}

// ChangeFeedWorker consumes the canteen event topic and wakes live subscribers
type ChangeFeedWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewChangeFeedWorker creates a new change feed worker
func NewChangeFeedWorker(consumer *broker.Consumer, hub *feed.Hub) *ChangeFeedWorker {
	eventHandler := broker.NewEventHandler()
	NewRouter(hub).Register(eventHandler)

	return &ChangeFeedWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start blocks until ctx is cancelled
func (w *ChangeFeedWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting change feed worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ChangeFeedWorker) Stop() error {
	w.logger.Info("Stopping change feed worker")
	return w.consumer.Close()
}
