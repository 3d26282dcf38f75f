package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/comphours-api/internal/dto"
	"github.com/noah-isme/comphours-api/internal/models"
	"github.com/noah-isme/comphours-api/internal/repository"
	appErrors "github.com/noah-isme/comphours-api/pkg/errors"
)

type ledgerStore interface {
	balanceStore
	CreateHourEntry(ctx context.Context, entry *models.HourEntry) error
	CreateCompensatoryRequest(ctx context.Context, req *models.CompensatoryRequest) error
	GetHourEntry(ctx context.Context, id string) (*models.HourEntry, error)
	ListHourEntries(ctx context.Context, filter models.HourEntryFilter) ([]models.HourEntry, error)
	ListCompensatoryRequests(ctx context.Context, filter models.CompensatoryRequestFilter) ([]models.CompensatoryRequest, error)
	UpdateHourEntryStatus(ctx context.Context, params repository.UpdateStatusParams) error
	UpdateCompensatoryRequestStatus(ctx context.Context, params repository.UpdateStatusParams) error
}

type eventPublisher interface {
	Publish(event models.NotificationEvent)
}

// LedgerServiceOption configures the service.
type LedgerServiceOption func(*LedgerService)

// WithClock overrides the time source used for timestamps and effective status.
func WithClock(now func() time.Time) LedgerServiceOption {
	return func(s *LedgerService) {
		if now != nil {
			s.now = now
			if s.balance != nil {
				s.balance.now = now
			}
		}
	}
}

// WithBalanceCache enables the read-through cache for CurrentBalance.
func WithBalanceCache(cache *CacheService, ttl time.Duration) LedgerServiceOption {
	return func(s *LedgerService) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

// LedgerService implements submissions, administrator decisions and balance
// reads. Each successful submit or decide publishes exactly one event.
type LedgerService struct {
	store     ledgerStore
	balance   *BalanceService
	publisher eventPublisher
	cache     *CacheService
	cacheTTL  time.Duration
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewLedgerService constructs the workflow service.
func NewLedgerService(store ledgerStore, balance *BalanceService, publisher eventPublisher, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, opts ...LedgerServiceOption) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	svc := &LedgerService{
		store:     store,
		balance:   balance,
		publisher: publisher,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// SubmitHourEntry records reported hours. Positive entries wait for review;
// negative entries are manual adjustments and count immediately.
func (s *LedgerService) SubmitHourEntry(ctx context.Context, userID string, req dto.SubmitHourEntryRequest) (*models.HourEntry, error) {
	req.Description = strings.TrimSpace(req.Description)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidInput.Code, appErrors.ErrInvalidInput.Status, "invalid hour entry payload")
	}
	if userID == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidInput, "user id is required")
	}

	now := s.now()
	entry := &models.HourEntry{
		ID:          uuid.NewString(),
		UserID:      userID,
		Hours:       req.Hours,
		Description: req.Description,
		Status:      models.StatusPending,
		CreatedAt:   now,
	}

	if entry.Hours > 0 {
		if err := s.store.CreateHourEntry(context.WithoutCancel(ctx), entry); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record hour entry")
		}
		s.emit(models.EventHourRequested, models.RoleTarget(models.RoleAdmin), entry)
		return entry, nil
	}

	entry.Status = models.StatusAccepted
	entry.ReviewedBy = &userID
	entry.ReviewedAt = &now
	err := s.balance.WithUserLock(userID, func() error {
		return s.store.CreateHourEntry(context.WithoutCancel(ctx), entry)
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record adjustment")
	}
	s.invalidateBalance(ctx, userID)
	s.logger.Info("manual adjustment recorded", zap.String("user_id", userID), zap.Int("hours", entry.Hours))
	s.emit(models.EventHourAccepted, models.UserTarget(userID), entry)
	return entry, nil
}

// SubmitCompensatoryRequest validates the window against the current balance
// and files a pending request. Other pending requests are not reserved.
func (s *LedgerService) SubmitCompensatoryRequest(ctx context.Context, userID string, req dto.SubmitCompensatoryRequest) (*models.CompensatoryRequest, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidInput.Code, appErrors.ErrInvalidInput.Status, "invalid compensatory request payload")
	}
	if userID == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidInput, "user id is required")
	}

	duration, err := s.balance.ValidateRedemption(ctx, userID, req.From, req.To)
	if err != nil {
		return nil, err
	}

	request := &models.CompensatoryRequest{
		ID:            uuid.NewString(),
		UserID:        userID,
		From:          req.From.UTC(),
		To:            req.To.UTC(),
		DurationHours: duration.InexactFloat64(),
		Reason:        req.Reason,
		Status:        models.StatusPending,
		RequestedAt:   s.now(),
	}
	if err := s.store.CreateCompensatoryRequest(context.WithoutCancel(ctx), request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to file compensatory request")
	}
	s.emit(models.EventCompRequested, models.RoleTarget(models.RoleAdmin), request)
	return request, nil
}

// Decide applies an administrator outcome to a pending compensatory request.
// Accepting re-validates against the balance at decision time; a refused
// accept leaves the request pending.
func (s *LedgerService) Decide(ctx context.Context, requestID string, decision models.Decision, actorID string) (*models.CompensatoryRequestView, error) {
	status, ok := decision.Status()
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidInput, "decision must be ACCEPT or REJECT")
	}
	if _, err := uuid.Parse(requestID); err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "compensatory request not found")
	}

	var (
		req *models.CompensatoryRequest
		err error
	)
	if status == models.StatusAccepted {
		req, err = s.balance.CommitRedemption(ctx, requestID, actorID)
		if err != nil {
			return nil, err
		}
		s.invalidateBalance(ctx, req.UserID)
		s.emit(models.EventCompAccepted, models.AllTarget(), req)
	} else {
		req, err = s.rejectRequest(ctx, requestID, actorID)
		if err != nil {
			return nil, err
		}
		s.emit(models.EventCompRejected, models.UserTarget(req.UserID), req)
	}

	view := req.View(s.now())
	return &view, nil
}

func (s *LedgerService) rejectRequest(ctx context.Context, requestID, actorID string) (*models.CompensatoryRequest, error) {
	req, err := s.balance.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.Status.CanTransition(models.StatusRejected) {
		return nil, invalidTransition("compensatory request", req.Status)
	}
	reviewedAt := s.now()
	err = s.store.UpdateCompensatoryRequestStatus(context.WithoutCancel(ctx), repository.UpdateStatusParams{
		ID:         req.ID,
		Status:     models.StatusRejected,
		ReviewedBy: actorID,
		ReviewedAt: reviewedAt,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, invalidTransition("compensatory request", "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject compensatory request")
	}
	req.Status = models.StatusRejected
	req.ReviewedBy = &actorID
	req.ReviewedAt = &reviewedAt
	return req, nil
}

// DecideHourEntry applies an administrator outcome to a pending hour entry.
func (s *LedgerService) DecideHourEntry(ctx context.Context, entryID string, decision models.Decision, actorID string) (*models.HourEntry, error) {
	status, ok := decision.Status()
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidInput, "decision must be ACCEPT or REJECT")
	}
	if _, err := uuid.Parse(entryID); err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "hour entry not found")
	}

	entry, err := s.loadEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	apply := func() error {
		// Re-read so a decision that landed while waiting for the lock is seen.
		current, err := s.loadEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if !current.Status.CanTransition(status) {
			return invalidTransition("hour entry", current.Status)
		}
		reviewedAt := s.now()
		err = s.store.UpdateHourEntryStatus(context.WithoutCancel(ctx), repository.UpdateStatusParams{
			ID:         current.ID,
			Status:     status,
			ReviewedBy: actorID,
			ReviewedAt: reviewedAt,
		})
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return invalidTransition("hour entry", "")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decide hour entry")
		}
		current.Status = status
		current.ReviewedBy = &actorID
		current.ReviewedAt = &reviewedAt
		entry = current
		return nil
	}

	if status == models.StatusAccepted {
		err = s.balance.WithUserLock(entry.UserID, apply)
	} else {
		err = apply()
	}
	if err != nil {
		return nil, err
	}

	if status == models.StatusAccepted {
		s.invalidateBalance(ctx, entry.UserID)
		s.emit(models.EventHourAccepted, models.UserTarget(entry.UserID), entry)
	} else {
		s.emit(models.EventHourRejected, models.UserTarget(entry.UserID), entry)
	}
	return entry, nil
}

func (s *LedgerService) loadEntry(ctx context.Context, id string) (*models.HourEntry, error) {
	entry, err := s.store.GetHourEntry(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "hour entry not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load hour entry")
	}
	return entry, nil
}

// CurrentBalance returns the redeemable balance. Cached values are only used
// here; redemption checks always read the store. A miss is filled under the
// user lock so a concurrent commit cannot be overwritten by an older read.
func (s *LedgerService) CurrentBalance(ctx context.Context, userID string) (*models.Balance, error) {
	key := balanceCacheKey(userID)
	var cached models.Balance
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}
	if !s.cache.Enabled() {
		return s.readBalance(ctx, userID)
	}

	var balance *models.Balance
	err := s.balance.WithUserLock(userID, func() error {
		var err error
		balance, err = s.readBalance(ctx, userID)
		if err != nil {
			return err
		}
		s.cache.Set(ctx, key, balance, s.cacheTTL)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

func (s *LedgerService) readBalance(ctx context.Context, userID string) (*models.Balance, error) {
	hours, err := s.balance.AvailableHours(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.Balance{UserID: userID, AvailableHours: hours, AsOf: s.now()}, nil
}

// ListHourEntries returns ledger entries oldest first.
func (s *LedgerService) ListHourEntries(ctx context.Context, filter models.HourEntryFilter) ([]models.HourEntry, error) {
	entries, err := s.store.ListHourEntries(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list hour entries")
	}
	if entries == nil {
		entries = []models.HourEntry{}
	}
	return entries, nil
}

// ListCompensatoryRequests returns requests with their effective status.
func (s *LedgerService) ListCompensatoryRequests(ctx context.Context, filter models.CompensatoryRequestFilter) ([]models.CompensatoryRequestView, error) {
	requests, err := s.store.ListCompensatoryRequests(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list compensatory requests")
	}
	now := s.now()
	views := make([]models.CompensatoryRequestView, 0, len(requests))
	for _, req := range requests {
		views = append(views, req.View(now))
	}
	return views, nil
}

// statementPageSize matches the repository's maximum list limit.
const statementPageSize = 500

// Statement gathers a user's full history and current balance.
func (s *LedgerService) Statement(ctx context.Context, userID string) (*models.Statement, error) {
	var entries []models.HourEntry
	for offset := 0; ; offset += statementPageSize {
		page, err := s.ListHourEntries(ctx, models.HourEntryFilter{UserID: userID, Limit: statementPageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		entries = append(entries, page...)
		if len(page) < statementPageSize {
			break
		}
	}
	var requests []models.CompensatoryRequestView
	for offset := 0; ; offset += statementPageSize {
		page, err := s.ListCompensatoryRequests(ctx, models.CompensatoryRequestFilter{UserID: userID, Limit: statementPageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		requests = append(requests, page...)
		if len(page) < statementPageSize {
			break
		}
	}
	hours, err := s.balance.AvailableHours(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.Statement{
		UserID:   userID,
		Entries:  entries,
		Requests: requests,
		Balance:  models.Balance{UserID: userID, AvailableHours: hours, AsOf: s.now()},
	}, nil
}

func (s *LedgerService) invalidateBalance(ctx context.Context, userID string) {
	s.cache.Invalidate(context.WithoutCancel(ctx), balanceCacheKey(userID))
}

func (s *LedgerService) emit(eventType models.EventType, target models.NotificationTarget, snapshot interface{}) {
	s.metrics.RecordLedgerTransition(string(eventType))
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Error("encode event payload", zap.String("type", string(eventType)), zap.Error(err))
		return
	}
	s.publisher.Publish(models.NotificationEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Target:    target,
		Payload:   payload,
		Timestamp: s.now(),
	})
}
