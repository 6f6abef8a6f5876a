package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/orderflow/internal/notification"
)

// StreamOrderEvents pushes the caller's order notifications as server-sent
// events, starting with the recent backlog.
func (s *Server) StreamOrderEvents(c *gin.Context) {
	if s.hub == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	subscription, backlog, err := s.hub.Subscribe(userIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer subscription.Close()

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}
	for _, event := range backlog {
		if err := writeOrderEvent(writer, event); err != nil {
			return
		}
	}
	flusher.Flush()

	interval := s.heartbeat
	if interval <= 0 {
		interval = 15 * time.Second
	}
	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-subscription.Events():
			if err := writeOrderEvent(writer, event); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeOrderEvent(w io.Writer, event notification.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Kind, data)
	return err
}
