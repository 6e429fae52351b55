package feed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, c <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-c:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	var zero T
	return zero
}

func TestSubscribe_InitialAndNotifiedSnapshots(t *testing.T) {
	hub := NewHub()

	var version atomic.Int64
	sub := Subscribe(context.Background(), hub, TopicOrders, func(context.Context) (int64, error) {
		return version.Load(), nil
	})
	defer sub.Cancel()

	assert.Equal(t, int64(0), receive(t, sub.C))
	assert.Equal(t, 1, hub.Subscribers(TopicOrders))

	version.Store(7)
	hub.Notify(TopicOrders)
	assert.Equal(t, int64(7), receive(t, sub.C))
}

func TestSubscribe_IgnoresOtherTopics(t *testing.T) {
	hub := NewHub()

	var loads atomic.Int32
	sub := Subscribe(context.Background(), hub, TopicMenu, func(context.Context) (int32, error) {
		return loads.Add(1), nil
	})
	defer sub.Cancel()

	receive(t, sub.C)
	hub.Notify(TopicSettings, StudentOrdersTopic("S001"))

	select {
	case v := <-sub.C:
		t.Fatalf("unexpected snapshot %d", v)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, int32(1), loads.Load())
}

func TestSubscribe_LoadErrorKeepsStreaming(t *testing.T) {
	hub := NewHub()

	var calls atomic.Int32
	sub := Subscribe(context.Background(), hub, TopicSettings, func(context.Context) (string, error) {
		if calls.Add(1) == 2 {
			return "", errors.New("backend unavailable")
		}
		return "ok", nil
	})
	defer sub.Cancel()

	assert.Equal(t, "ok", receive(t, sub.C))

	hub.Notify(TopicSettings) // fails, nothing delivered
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 10*time.Millisecond)

	hub.Notify(TopicSettings)
	assert.Equal(t, "ok", receive(t, sub.C))
}

func TestSubscription_Cancel(t *testing.T) {
	hub := NewHub()

	sub := Subscribe(context.Background(), hub, TopicStudents, func(context.Context) (bool, error) {
		return true, nil
	})
	receive(t, sub.C)

	sub.Cancel()

	_, ok := <-sub.C
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers(TopicStudents))
}

func TestSubscription_ContextDone(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	sub := Subscribe(ctx, hub, TopicOrders, func(context.Context) (int, error) { return 1, nil })
	receive(t, sub.C)

	cancel()
	require.Eventually(t, func() bool { return hub.Subscribers(TopicOrders) == 0 }, time.Second, 10*time.Millisecond)
	sub.Cancel()
}

func TestNotifyPrefix(t *testing.T) {
	hub := NewHub()
	load := func(context.Context) (int, error) { return 1, nil }

	all := Subscribe(context.Background(), hub, TopicOrders, load)
	defer all.Cancel()
	mine := Subscribe(context.Background(), hub, StudentOrdersTopic("S001"), load)
	defer mine.Cancel()
	menu := Subscribe(context.Background(), hub, TopicMenu, load)
	defer menu.Cancel()

	receive(t, all.C)
	receive(t, mine.C)
	receive(t, menu.C)

	hub.NotifyPrefix(TopicOrders)

	receive(t, all.C)
	receive(t, mine.C)
	select {
	case <-menu.C:
		t.Fatal("menu subscriber should not be notified")
	case <-time.After(100 * time.Millisecond):
	}
}
