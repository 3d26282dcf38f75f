package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/comphours-api/internal/middleware"
	"github.com/noah-isme/comphours-api/internal/models"
	"github.com/noah-isme/comphours-api/internal/service"
)

func newStreamServer(t *testing.T, hub *service.NotificationHub, principal models.Principal) (*httptest.Server, *StreamHandler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewStreamHandler(hub, StreamConfig{Buffer: 4, Heartbeat: time.Hour}, zap.NewNop())
	r.GET("/stream", func(c *gin.Context) {
		c.Set(middleware.ContextPrincipalKey, principal)
		c.Next()
	}, h.Stream)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, h
}

func openStream(t *testing.T, ctx context.Context, url string) <-chan string {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 32)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func readUntil(t *testing.T, lines <-chan string, want string) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream ended before %q", want)
			if strings.Contains(line, want) {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestStreamHandlerDeliversEventsAndUnsubscribes(t *testing.T) {
	hub := service.NewNotificationHub(service.HubConfig{Workers: 1, BufferSize: 8, DeliveryTimeout: time.Second}, nil, nil)
	hub.Start(context.Background())
	defer hub.Stop()

	srv, _ := newStreamServer(t, hub, models.Principal{UserID: "worker-1", Roles: []models.UserRole{models.RoleWorker}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lines := openStream(t, ctx, srv.URL+"/stream")

	readUntil(t, lines, "event:ready")
	require.Equal(t, 1, hub.SubscriberCount())

	payload, _ := json.Marshal(map[string]string{"id": "h-1"})
	hub.Publish(models.NotificationEvent{ID: "e-1", Type: models.EventHourAccepted, Target: models.UserTarget("worker-1"), Payload: payload, Timestamp: time.Now()})
	readUntil(t, lines, "event:HourAccepted")
	readUntil(t, lines, `"id":"e-1"`)

	cancel()
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestStreamHandlerShutdownEndsOpenStreams(t *testing.T) {
	hub := service.NewNotificationHub(service.HubConfig{Workers: 1, BufferSize: 8, DeliveryTimeout: time.Second}, nil, nil)
	hub.Start(context.Background())
	defer hub.Stop()

	srv, h := newStreamServer(t, hub, models.Principal{UserID: "worker-1", Roles: []models.UserRole{models.RoleWorker}})
	lines := openStream(t, context.Background(), srv.URL+"/stream")
	readUntil(t, lines, "event:ready")
	require.Equal(t, 1, hub.SubscriberCount())

	h.Shutdown()
	h.Shutdown()

	timeout := time.After(3 * time.Second)
	for open := true; open; {
		select {
		case _, open = <-lines:
		case <-timeout:
			t.Fatal("stream stayed open after shutdown")
		}
	}
	assert.Equal(t, 0, hub.SubscriberCount())
}

func TestStreamSubscriberSendAfterClose(t *testing.T) {
	sub := newStreamSubscriber(1)
	require.NoError(t, sub.Send(context.Background(), "x", []byte("{}")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sub.Send(ctx, "x", []byte("{}")), context.DeadlineExceeded)

	sub.close()
	sub.close()
	assert.ErrorIs(t, sub.Send(context.Background(), "x", []byte("{}")), errStreamClosed)
}
