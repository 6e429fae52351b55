// Package feed fans change notifications out to live snapshot subscribers.
//
// A subscriber supplies a load function; it receives one snapshot on
// subscribe and a fresh one after every Notify on its topic. Slow readers
// only ever see the latest snapshot.
package feed

import (
	"context"
	"strings"
	"sync"

	"canteen-service/internal/util"

	"go.uber.org/zap"
)

// Topics
const (
	TopicOrders   = "orders"
	TopicMenu     = "menu"
	TopicSettings = "settings"
	TopicStudents = "students"
)

// StudentOrdersTopic is notified for changes to one student's orders
func StudentOrdersTopic(pid string) string {
	return TopicOrders + ":" + pid
}

// StudentTopic is notified for changes to one student's block status
func StudentTopic(pid string) string {
	return TopicStudents + ":" + pid
}

// Hub tracks subscribers per topic
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	topics map[string]map[uint64]chan struct{}
	logger *zap.Logger
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		topics: make(map[string]map[uint64]chan struct{}),
		logger: util.GetLogger(),
	}
}

// Notify wakes every subscriber of the given topics
func (h *Hub) Notify(topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		for _, kick := range h.topics[topic] {
			select {
			case kick <- struct{}{}:
			default:
			}
		}
	}
}

// NotifyPrefix wakes every subscriber whose topic starts with prefix
func (h *Hub) NotifyPrefix(prefix string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic, subs := range h.topics {
		if !strings.HasPrefix(topic, prefix) {
			continue
		}
		for _, kick := range subs {
			select {
			case kick <- struct{}{}:
			default:
			}
		}
	}
}

// Subscribers returns the number of live subscribers on a topic
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

func (h *Hub) register(topic string) (uint64, chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	kick := make(chan struct{}, 1)
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[uint64]chan struct{})
	}
	h.topics[topic][h.nextID] = kick

	util.FeedSubscribers.WithLabelValues(topic).Inc()
	return h.nextID, kick
}

func (h *Hub) unregister(topic string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.topics[topic], id)
	if len(h.topics[topic]) == 0 {
		delete(h.topics, topic)
	}

	util.FeedSubscribers.WithLabelValues(topic).Dec()
}

// Subscription is a cancellable stream of snapshots
type Subscription[T any] struct {
	C <-chan T

	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops the subscription and waits for C to be closed
func (s *Subscription[T]) Cancel() {
	s.cancel()
	<-s.done
}

// Subscribe registers on topic and streams snapshots produced by load until
// ctx is done or Cancel is called. Load errors are logged and the previous
// snapshot stays current.
func Subscribe[T any](ctx context.Context, h *Hub, topic string, load func(context.Context) (T, error)) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	id, kick := h.register(topic)

	out := make(chan T, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)
		defer h.unregister(topic, id)

		for {
			snapshot, err := load(ctx)
			switch {
			case err != nil && ctx.Err() != nil:
				return
			case err != nil:
				h.logger.Warn("Failed to load snapshot", zap.String("topic", topic), zap.Error(err))
			default:
				// only this goroutine sends, so after the drain there is room
				select {
				case <-out:
				default:
				}
				out <- snapshot
			}

			select {
			case <-ctx.Done():
				return
			case <-kick:
			}
		}
	}()

	return &Subscription[T]{C: out, cancel: cancel, done: done}
}
