package api

import (
	"context"
	"io"

	"canteen-service/internal/feed"

	"github.com/gin-gonic/gin"
)

// streamSnapshots writes every snapshot on topic as a server-sent event until
// the client goes away or the handler closes its streams
func streamSnapshots[T any](c *gin.Context, h *Handler, topic, event string, load func(context.Context) (T, error)) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stop := context.AfterFunc(h.streams, cancel)
	defer stop()

	sub := feed.Subscribe(ctx, h.svc.Hub, topic, load)
	defer sub.Cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		snapshot, ok := <-sub.C
		if !ok {
			return false
		}
		c.SSEvent(event, snapshot)
		return true
	})
}
