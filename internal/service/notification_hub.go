package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/comphours-api/internal/models"
	appErrors "github.com/noah-isme/comphours-api/pkg/errors"
	"github.com/noah-isme/comphours-api/pkg/jobs"
)

const notificationJobType = "notification.fanout"

// Subscriber is one live delivery channel, typically an open SSE stream.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, eventType string, payload []byte) error
}

// HubConfig tunes the fanout worker pool.
type HubConfig struct {
	Workers         int
	BufferSize      int
	DeliveryTimeout time.Duration
}

// NotificationHub routes ledger events to live subscribers. Publishing never
// blocks the caller: events are queued on a bounded pool and delivered per
// connection with a timeout; failures are logged and counted, never returned.
type NotificationHub struct {
	mu          sync.RWMutex
	groups      map[string]map[string]Subscriber
	memberships map[string][]string

	queue           *jobs.Queue
	deliveryTimeout time.Duration
	metrics         *MetricsService
	logger          *zap.Logger
}

// NewNotificationHub constructs a hub. Call Start before publishing.
func NewNotificationHub(cfg HubConfig, metrics *MetricsService, logger *zap.Logger) *NotificationHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 2 * time.Second
	}
	h := &NotificationHub{
		groups:          make(map[string]map[string]Subscriber),
		memberships:     make(map[string][]string),
		deliveryTimeout: cfg.DeliveryTimeout,
		metrics:         metrics,
		logger:          logger,
	}
	h.queue = jobs.NewQueue("notifications", h.deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: -1,
		Logger:     logger,
	})
	return h
}

// Start launches the delivery workers.
func (h *NotificationHub) Start(ctx context.Context) {
	h.queue.Start(ctx)
}

// Stop halts the workers. Events still queued are discarded.
func (h *NotificationHub) Stop() {
	h.queue.Stop()
}

// Flush blocks until every queued event has been delivered or ctx is done.
func (h *NotificationHub) Flush(ctx context.Context) error {
	return h.queue.Flush(ctx)
}

// Subscribe registers sub under its user id, each of its roles and "all".
// Subscribing an id that is already registered replaces its memberships.
func (h *NotificationHub) Subscribe(sub Subscriber, principal models.Principal) {
	keys := make([]string, 0, len(principal.Roles)+2)
	keys = append(keys, groupKey(models.UserTarget(principal.UserID)))
	for _, role := range principal.Roles {
		keys = append(keys, groupKey(models.RoleTarget(role)))
	}
	keys = append(keys, groupKey(models.AllTarget()))

	h.mu.Lock()
	h.removeLocked(sub.ID())
	for _, key := range keys {
		members, ok := h.groups[key]
		if !ok {
			members = make(map[string]Subscriber)
			h.groups[key] = members
		}
		members[sub.ID()] = sub
	}
	h.memberships[sub.ID()] = keys
	count := len(h.memberships)
	h.mu.Unlock()

	h.metrics.SetSubscribers(count)
	h.logger.Debug("subscriber registered", zap.String("subscriber_id", sub.ID()), zap.String("user_id", principal.UserID))
}

// Unsubscribe removes sub from every group. Unknown subscribers are ignored.
func (h *NotificationHub) Unsubscribe(sub Subscriber) {
	h.mu.Lock()
	h.removeLocked(sub.ID())
	count := len(h.memberships)
	h.mu.Unlock()

	h.metrics.SetSubscribers(count)
}

func (h *NotificationHub) removeLocked(id string) {
	for _, key := range h.memberships[id] {
		members := h.groups[key]
		delete(members, id)
		if len(members) == 0 {
			delete(h.groups, key)
		}
	}
	delete(h.memberships, id)
}

// SubscriberCount reports live subscribers.
func (h *NotificationHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.memberships)
}

// Publish hands event to the delivery pool. When the pool is saturated the
// event is dropped and logged.
func (h *NotificationHub) Publish(event models.NotificationEvent) {
	err := h.queue.TryEnqueue(jobs.Job{ID: event.ID, Type: notificationJobType, Payload: event})
	if err != nil {
		h.metrics.RecordDroppedEvent()
		h.logger.Warn("notification dropped",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
	}
}

func (h *NotificationHub) deliver(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.NotificationEvent)
	if !ok {
		h.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}
	frame, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("encode notification", zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}

	for _, sub := range h.resolve(event.Target) {
		sendCtx, cancel := context.WithTimeout(ctx, h.deliveryTimeout)
		err := sub.Send(sendCtx, string(event.Type), frame)
		cancel()
		h.metrics.RecordDelivery(err == nil)
		if err != nil {
			h.logger.Warn("notification delivery failed",
				zap.String("event_id", event.ID),
				zap.String("subscriber_id", sub.ID()),
				zap.Error(appErrors.Wrap(err, appErrors.ErrDeliveryFailure.Code, appErrors.ErrDeliveryFailure.Status, appErrors.ErrDeliveryFailure.Message)),
			)
		}
	}
	return nil
}

// resolve snapshots the subscribers in target's group. A subscriber appears
// at most once.
func (h *NotificationHub) resolve(target models.NotificationTarget) []Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.groups[groupKey(target)]
	subs := make([]Subscriber, 0, len(members))
	for _, sub := range members {
		subs = append(subs, sub)
	}
	return subs
}

func groupKey(target models.NotificationTarget) string {
	switch target.Kind {
	case models.TargetUser:
		return "user:" + target.Value
	case models.TargetRole:
		return "role:" + target.Value
	default:
		return models.GroupAll
	}
}
