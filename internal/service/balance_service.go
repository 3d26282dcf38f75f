package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/comphours-api/internal/models"
	"github.com/noah-isme/comphours-api/internal/repository"
	appErrors "github.com/noah-isme/comphours-api/pkg/errors"
)

type balanceStore interface {
	GetCompensatoryRequest(ctx context.Context, id string) (*models.CompensatoryRequest, error)
	BalanceTotals(ctx context.Context, userID string) (models.BalanceTotals, error)
	CommitRedemption(ctx context.Context, params repository.CommitRedemptionParams) error
}

// BalanceService computes redeemable balances and commits redemptions. Every
// write that can move a user's balance runs under that user's lock.
type BalanceService struct {
	store   balanceStore
	metrics *MetricsService
	logger  *zap.Logger
	locks   *userLocks
	now     func() time.Time
}

// NewBalanceService constructs the balance engine.
func NewBalanceService(store balanceStore, metrics *MetricsService, logger *zap.Logger) *BalanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BalanceService{
		store:   store,
		metrics: metrics,
		logger:  logger,
		locks:   newUserLocks(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithUserLock runs fn while holding userID's ledger lock.
func (s *BalanceService) WithUserLock(userID string, fn func() error) error {
	unlock := s.locks.lock(userID)
	defer unlock()
	return fn()
}

// AvailableHours returns max(0, credited - redeemed) from a single snapshot.
func (s *BalanceService) AvailableHours(ctx context.Context, userID string) (float64, error) {
	available, err := s.available(ctx, userID)
	if err != nil {
		return 0, err
	}
	return available.InexactFloat64(), nil
}

func (s *BalanceService) available(ctx context.Context, userID string) (decimal.Decimal, error) {
	totals, err := s.store.BalanceTotals(ctx, userID)
	if err != nil {
		return decimal.Zero, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute balance")
	}
	raw := totals.Raw()
	if raw.IsNegative() {
		s.metrics.RecordBalanceAnomaly()
		s.logger.Error("negative balance computed, clamping to zero",
			zap.String("user_id", userID),
			zap.String("credited", totals.Credited.String()),
			zap.String("redeemed", totals.Redeemed.String()),
			zap.String("raw", raw.String()),
		)
		return decimal.Zero, nil
	}
	return raw, nil
}

// ValidateRedemption checks a window against the current balance and returns
// its duration in hours.
func (s *BalanceService) ValidateRedemption(ctx context.Context, userID string, from, to time.Time) (decimal.Decimal, error) {
	duration, err := redemptionWindow(from, to)
	if err != nil {
		s.metrics.RecordRedemptionRejection("invalid_window")
		return decimal.Zero, err
	}
	available, err := s.available(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	if duration.GreaterThan(available) {
		s.metrics.RecordRedemptionRejection("insufficient_balance")
		return decimal.Zero, insufficientBalance(duration, available)
	}
	return duration, nil
}

// CommitRedemption accepts a pending request after re-validating it against
// the balance at decision time. The request status change and its balancing
// debit are written together or not at all.
func (s *BalanceService) CommitRedemption(ctx context.Context, requestID, actorID string) (*models.CompensatoryRequest, error) {
	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(req.UserID)
	defer unlock()

	// Re-read under the lock; a concurrent decision may have landed first.
	req, err = s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.Status.CanTransition(models.StatusAccepted) {
		return nil, invalidTransition("compensatory request", req.Status)
	}

	duration := models.HoursDecimal(req.DurationHours)
	available, err := s.available(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if duration.GreaterThan(available) {
		s.metrics.RecordRedemptionRejection("insufficient_balance")
		return nil, insufficientBalance(duration, available)
	}

	reviewedAt := s.now()
	requestID = req.ID
	debit := &models.HourEntry{
		UserID:                req.UserID,
		Hours:                 -int(duration.IntPart()),
		Description:           fmt.Sprintf("redemption of compensatory request %s", req.ID),
		Status:                models.StatusAccepted,
		CompensatoryRequestID: &requestID,
		CreatedAt:             reviewedAt,
		ReviewedBy:            &actorID,
		ReviewedAt:            &reviewedAt,
	}
	err = s.store.CommitRedemption(context.WithoutCancel(ctx), repository.CommitRedemptionParams{
		RequestID:  req.ID,
		UserID:     req.UserID,
		ReviewedBy: actorID,
		ReviewedAt: reviewedAt,
		Debit:      debit,
	})
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		return nil, invalidTransition("compensatory request", "")
	case errors.Is(err, repository.ErrBalanceExceeded):
		s.metrics.RecordRedemptionRejection("insufficient_balance")
		return nil, appErrors.Clone(appErrors.ErrInsufficientBalance, "balance changed before the redemption could be committed")
	default:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit redemption")
	}

	req.Status = models.StatusAccepted
	req.ReviewedBy = &actorID
	req.ReviewedAt = &reviewedAt
	s.logger.Info("redemption committed",
		zap.String("request_id", req.ID),
		zap.String("user_id", req.UserID),
		zap.String("hours", duration.String()),
		zap.String("actor_id", actorID),
	)
	return req, nil
}

func (s *BalanceService) loadRequest(ctx context.Context, id string) (*models.CompensatoryRequest, error) {
	req, err := s.store.GetCompensatoryRequest(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "compensatory request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load compensatory request")
	}
	return req, nil
}

// redemptionWindow enforces to > from and a duration of whole hours, so the
// debit written on accept equals the redeemed duration exactly.
func redemptionWindow(from, to time.Time) (decimal.Decimal, error) {
	if from.IsZero() || to.IsZero() || !to.After(from) {
		return decimal.Zero, appErrors.Clone(appErrors.ErrInvalidWindow, "to must be after from")
	}
	if to.Sub(from)%time.Hour != 0 {
		return decimal.Zero, appErrors.Clone(appErrors.ErrInvalidWindow, "window must span whole hours")
	}
	return models.WindowHours(from, to), nil
}

func insufficientBalance(requested, available decimal.Decimal) error {
	return appErrors.Clone(appErrors.ErrInsufficientBalance,
		fmt.Sprintf("requested %s hours but only %s available", requested.StringFixed(2), available.StringFixed(2)))
}

func invalidTransition(entity string, current models.ApprovalStatus) error {
	if current == "" {
		return appErrors.Clone(appErrors.ErrInvalidTransition, entity+" was already decided")
	}
	return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("%s is already %s", entity, current))
}

// userLocks is a reference-counted mutex per user id; entries are dropped
// once nobody holds or waits on them.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}

func (l *userLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
