package service

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/comphours-api/internal/models"
	"github.com/noah-isme/comphours-api/internal/repository"
	appErrors "github.com/noah-isme/comphours-api/pkg/errors"
)

// memLedger is an in-memory ledgerStore. CommitRedemption does not re-check
// the balance so tests observe the service-level lock on its own.
type memLedger struct {
	mu          sync.Mutex
	entries     []*models.HourEntry
	requests    []*models.CompensatoryRequest
	commitDelay time.Duration
	totalsErr   error
	// afterTotals runs once the totals are read, outside the store lock.
	afterTotals func()
}

func newMemLedger() *memLedger {
	return &memLedger{}
}

func (m *memLedger) seedEntry(userID string, hours int, status models.ApprovalStatus) *models.HourEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := &models.HourEntry{ID: newID(), UserID: userID, Hours: hours, Status: status, CreatedAt: time.Now().UTC()}
	m.entries = append(m.entries, entry)
	cp := *entry
	return &cp
}

func (m *memLedger) seedRequest(userID string, hours float64, status models.ApprovalStatus) *models.CompensatoryRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	req := &models.CompensatoryRequest{
		ID:            newID(),
		UserID:        userID,
		From:          from,
		To:            from.Add(time.Duration(hours * float64(time.Hour))),
		DurationHours: hours,
		Status:        status,
		RequestedAt:   from.Add(-24 * time.Hour),
	}
	m.requests = append(m.requests, req)
	cp := *req
	return &cp
}

func (m *memLedger) CreateHourEntry(ctx context.Context, entry *models.HourEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *memLedger) CreateCompensatoryRequest(ctx context.Context, req *models.CompensatoryRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.requests = append(m.requests, &cp)
	return nil
}

func (m *memLedger) GetHourEntry(ctx context.Context, id string) (*models.HourEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memLedger) GetCompensatoryRequest(ctx context.Context, id string) (*models.CompensatoryRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.findRequest(id); r != nil {
		cp := *r
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memLedger) findRequest(id string) *models.CompensatoryRequest {
	for _, r := range m.requests {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (m *memLedger) ListHourEntries(ctx context.Context, filter models.HourEntryFilter) ([]models.HourEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.HourEntry
	for _, e := range m.entries {
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		out = append(out, *e)
	}
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (m *memLedger) ListCompensatoryRequests(ctx context.Context, filter models.CompensatoryRequestFilter) ([]models.CompensatoryRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CompensatoryRequest
	for _, r := range m.requests {
		if filter.UserID != "" && r.UserID != filter.UserID {
			continue
		}
		out = append(out, *r)
	}
	return paginate(out, filter.Limit, filter.Offset), nil
}

func paginate[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func (m *memLedger) BalanceTotals(ctx context.Context, userID string) (models.BalanceTotals, error) {
	totals, err := m.totals(userID)
	m.mu.Lock()
	hook := m.afterTotals
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return totals, err
}

func (m *memLedger) totals(userID string) (models.BalanceTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.totalsErr != nil {
		return models.BalanceTotals{}, m.totalsErr
	}
	totals := models.BalanceTotals{Credited: decimal.Zero, Redeemed: decimal.Zero}
	for _, e := range m.entries {
		if e.UserID == userID && e.Status == models.StatusAccepted && !e.IsRedemptionDebit() {
			totals.Credited = totals.Credited.Add(decimal.NewFromInt(int64(e.Hours)))
		}
	}
	for _, r := range m.requests {
		if r.UserID == userID && r.Status == models.StatusAccepted {
			totals.Redeemed = totals.Redeemed.Add(models.HoursDecimal(r.DurationHours))
		}
	}
	return totals, nil
}

func (m *memLedger) UpdateHourEntryStatus(ctx context.Context, params repository.UpdateStatusParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == params.ID && e.Status == models.StatusPending {
			e.Status = params.Status
			reviewer, at := params.ReviewedBy, params.ReviewedAt
			e.ReviewedBy, e.ReviewedAt = &reviewer, &at
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memLedger) UpdateCompensatoryRequestStatus(ctx context.Context, params repository.UpdateStatusParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.findRequest(params.ID)
	if r == nil || r.Status != models.StatusPending {
		return sql.ErrNoRows
	}
	r.Status = params.Status
	reviewer, at := params.ReviewedBy, params.ReviewedAt
	r.ReviewedBy, r.ReviewedAt = &reviewer, &at
	return nil
}

func (m *memLedger) CommitRedemption(ctx context.Context, params repository.CommitRedemptionParams) error {
	if m.commitDelay > 0 {
		time.Sleep(m.commitDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.findRequest(params.RequestID)
	if r == nil || r.Status != models.StatusPending {
		return sql.ErrNoRows
	}
	r.Status = models.StatusAccepted
	reviewer, at := params.ReviewedBy, params.ReviewedAt
	r.ReviewedBy, r.ReviewedAt = &reviewer, &at
	debit := *params.Debit
	if debit.ID == "" {
		debit.ID = newID()
	}
	m.entries = append(m.entries, &debit)
	return nil
}

func (m *memLedger) requestStatus(id string) models.ApprovalStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.findRequest(id); r != nil {
		return r.Status
	}
	return ""
}

func (m *memLedger) debitsFor(requestID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.CompensatoryRequestID != nil && *e.CompensatoryRequestID == requestID {
			n++
		}
	}
	return n
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.NotificationEvent
}

func (p *recordingPublisher) Publish(event models.NotificationEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) snapshot() []models.NotificationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.NotificationEvent(nil), p.events...)
}

func (p *recordingPublisher) types() []models.EventType {
	events := p.snapshot()
	out := make([]models.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

type memCache struct {
	mu     sync.Mutex
	values map[string]interface{}
	gets   int
}

func newMemCache() *memCache {
	return &memCache{values: make(map[string]interface{})}
}

func (c *memCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	b, ok := v.(*models.Balance)
	if !ok {
		return appErrors.ErrCacheMiss
	}
	*(dest.(*models.Balance)) = *b
	return nil
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := value.(*models.Balance); ok {
		cp := *b
		c.values[key] = &cp
	}
	return nil
}

func (c *memCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.values, k)
	}
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.values[key]
	return ok
}

func newID() string { return uuid.NewString() }
