package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/hourbill/hourbill/internal/events"
)

// StreamStaffEvents streams the full event feed to a staff connection.
// A comma-separated "clients" query additionally subscribes the connection
// to the redacted copies those clients receive, for previewing the portal
// view.
func (s *Server) StreamStaffEvents(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var watch []snowflake.ID
	if raw := strings.TrimSpace(c.Query("clients")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := snowflake.ParseString(part)
			if err != nil {
				AbortWithError(c, newValidationError("clients", "invalid_clients", "invalid identifier"))
				return
			}
			watch = append(watch, id)
		}
	}

	subscription, err := s.hub.Register(principal, watch...)
	if err != nil {
		AbortWithError(c, ErrInternal)
		return
	}
	defer subscription.Close()

	s.streamEvents(c, subscription)
}

// StreamPortalEvents streams the redacted feed scoped to the client bound to
// the session.
func (s *Server) StreamPortalEvents(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	subscription, err := s.hub.Register(principal)
	if err != nil {
		AbortWithError(c, ErrInternal)
		return
	}
	defer subscription.Close()

	s.streamEvents(c, subscription)
}

func (s *Server) streamEvents(c *gin.Context, subscription *events.Subscription) {
	writer := c.Writer
	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrInternal)
		return
	}

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}
	flusher.Flush()

	heartbeatInterval := time.Duration(s.cfg.HeartbeatSeconds) * time.Second
	if heartbeatInterval <= 0 {
		heartbeatInterval = 15 * time.Second
	}

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-subscription.Events():
			if err := writeSSEEvent(writer, event); err != nil {
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

func writeSSEEvent(w io.Writer, event events.Envelope) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}
