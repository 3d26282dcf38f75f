package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/comphours-api/internal/models"
	"github.com/noah-isme/comphours-api/internal/service"
	appErrors "github.com/noah-isme/comphours-api/pkg/errors"
	"github.com/noah-isme/comphours-api/pkg/response"
)

var errStreamClosed = errors.New("stream closed")

type subscriptionHub interface {
	Subscribe(sub service.Subscriber, principal models.Principal)
	Unsubscribe(sub service.Subscriber)
}

// StreamConfig tunes live notification streams.
type StreamConfig struct {
	Buffer    int
	Heartbeat time.Duration
}

// StreamHandler serves notifications as server-sent events.
type StreamHandler struct {
	hub     subscriptionHub
	cfg     StreamConfig
	logger  *zap.Logger
	closing chan struct{}
	once    sync.Once
}

// NewStreamHandler constructs the handler.
func NewStreamHandler(hub subscriptionHub, cfg StreamConfig, logger *zap.Logger) *StreamHandler {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 16
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 25 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{hub: hub, cfg: cfg, logger: logger, closing: make(chan struct{})}
}

// Shutdown ends every open stream. http.Server.Shutdown does not cancel
// request contexts, so register this with RegisterOnShutdown.
func (h *StreamHandler) Shutdown() {
	h.once.Do(func() { close(h.closing) })
}

// Stream godoc
// @Summary Subscribe to ledger events
// @Description Server-sent events. The first frame is "ready", then ledger events and heartbeats.
// @Tags Notifications
// @Produce text/event-stream
// @Param access_token query string false "Bearer token for clients that cannot set headers"
// @Success 200 {string} string "event stream"
// @Failure 401 {object} response.Envelope
// @Router /notifications/stream [get]
func (h *StreamHandler) Stream(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	sub := newStreamSubscriber(h.cfg.Buffer)
	h.hub.Subscribe(sub, principal)
	defer func() {
		h.hub.Unsubscribe(sub)
		sub.close()
		h.logger.Debug("stream closed", zap.String("subscriber_id", sub.ID()), zap.String("user_id", principal.UserID))
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	heartbeat := time.NewTicker(h.cfg.Heartbeat)
	defer heartbeat.Stop()

	c.SSEvent("ready", gin.H{"subscriberId": sub.ID()})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-h.closing:
			return false
		case frame := <-sub.frames:
			c.SSEvent(frame.event, string(frame.data))
			return true
		case now := <-heartbeat.C:
			c.SSEvent("heartbeat", now.UTC().Format(time.RFC3339))
			return true
		}
	})
}

type streamFrame struct {
	event string
	data  []byte
}

// streamSubscriber buffers frames between the fanout workers and the HTTP
// writer goroutine. A full buffer blocks Send until its deadline.
type streamSubscriber struct {
	id     string
	frames chan streamFrame
	done   chan struct{}
	once   sync.Once
}

func newStreamSubscriber(buffer int) *streamSubscriber {
	return &streamSubscriber{
		id:     uuid.NewString(),
		frames: make(chan streamFrame, buffer),
		done:   make(chan struct{}),
	}
}

func (s *streamSubscriber) ID() string { return s.id }

func (s *streamSubscriber) Send(ctx context.Context, eventType string, payload []byte) error {
	select {
	case <-s.done:
		return errStreamClosed
	default:
	}
	select {
	case <-s.done:
		return errStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.frames <- streamFrame{event: eventType, data: payload}:
		return nil
	}
}

func (s *streamSubscriber) close() {
	s.once.Do(func() { close(s.done) })
}
