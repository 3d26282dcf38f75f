package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/comphours-api/internal/models"
)

// ErrBalanceExceeded is returned by CommitRedemption when the balance read
// inside the transaction no longer covers the request.
var ErrBalanceExceeded = errors.New("redemption exceeds available balance")

const (
	hourEntryColumns = `id, user_id, hours, description, status, compensatory_request_id, created_at, reviewed_by, reviewed_at`
	requestColumns   = `id, user_id, starts_at, ends_at, duration_hours, reason, status, requested_at, reviewed_by, reviewed_at`

	// Debits carry compensatory_request_id and are excluded from credits; the
	// redemption is subtracted through the accepted request instead.
	balanceTotalsQuery = `SELECT
	COALESCE((SELECT SUM(hours) FROM hour_entries
		WHERE user_id = $1 AND status = 'ACCEPTED' AND compensatory_request_id IS NULL), 0) AS credited,
	COALESCE((SELECT SUM(duration_hours) FROM compensatory_requests
		WHERE user_id = $1 AND status = 'ACCEPTED'), 0) AS redeemed`
)

// LedgerRepository persists hour entries and compensatory requests. Rows are
// only ever inserted or moved out of PENDING; nothing is deleted.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository constructs the repository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// CreateHourEntry appends a ledger entry.
func (r *LedgerRepository) CreateHourEntry(ctx context.Context, entry *models.HourEntry) error {
	prepareHourEntry(entry)
	const query = `INSERT INTO hour_entries (` + hourEntryColumns + `)
	VALUES (:id, :user_id, :hours, :description, :status, :compensatory_request_id, :created_at, :reviewed_by, :reviewed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("create hour entry: %w", err)
	}
	return nil
}

// CreateCompensatoryRequest appends a pending request.
func (r *LedgerRepository) CreateCompensatoryRequest(ctx context.Context, req *models.CompensatoryRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.StatusPending
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	const query = `INSERT INTO compensatory_requests (` + requestColumns + `)
	VALUES (:id, :user_id, :starts_at, :ends_at, :duration_hours, :reason, :status, :requested_at, :reviewed_by, :reviewed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create compensatory request: %w", err)
	}
	return nil
}

// GetHourEntry fetches an entry by id. Missing rows surface as sql.ErrNoRows.
func (r *LedgerRepository) GetHourEntry(ctx context.Context, id string) (*models.HourEntry, error) {
	const query = `SELECT ` + hourEntryColumns + ` FROM hour_entries WHERE id = $1`
	var entry models.HourEntry
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetCompensatoryRequest fetches a request by id. Missing rows surface as sql.ErrNoRows.
func (r *LedgerRepository) GetCompensatoryRequest(ctx context.Context, id string) (*models.CompensatoryRequest, error) {
	const query = `SELECT ` + requestColumns + ` FROM compensatory_requests WHERE id = $1`
	var req models.CompensatoryRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// ListHourEntries returns entries oldest first.
func (r *LedgerRepository) ListHourEntries(ctx context.Context, filter models.HourEntryFilter) ([]models.HourEntry, error) {
	query, args := buildListQuery(`SELECT `+hourEntryColumns+` FROM hour_entries`, filter.UserID, filter.Status, "created_at", filter.Limit, filter.Offset)
	var entries []models.HourEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list hour entries: %w", err)
	}
	return entries, nil
}

// ListCompensatoryRequests returns requests oldest first.
func (r *LedgerRepository) ListCompensatoryRequests(ctx context.Context, filter models.CompensatoryRequestFilter) ([]models.CompensatoryRequest, error) {
	query, args := buildListQuery(`SELECT `+requestColumns+` FROM compensatory_requests`, filter.UserID, filter.Status, "requested_at", filter.Limit, filter.Offset)
	var requests []models.CompensatoryRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, fmt.Errorf("list compensatory requests: %w", err)
	}
	return requests, nil
}

// BalanceTotals reads both balance terms in a single statement.
func (r *LedgerRepository) BalanceTotals(ctx context.Context, userID string) (models.BalanceTotals, error) {
	var totals models.BalanceTotals
	if err := r.db.GetContext(ctx, &totals, balanceTotalsQuery, userID); err != nil {
		return models.BalanceTotals{}, fmt.Errorf("read balance totals: %w", err)
	}
	return totals, nil
}

// UpdateStatusParams groups review columns.
type UpdateStatusParams struct {
	ID         string
	Status     models.ApprovalStatus
	ReviewedBy string
	ReviewedAt time.Time
}

// UpdateHourEntryStatus moves a pending entry to its outcome. A row that is
// missing or no longer pending yields sql.ErrNoRows.
func (r *LedgerRepository) UpdateHourEntryStatus(ctx context.Context, params UpdateStatusParams) error {
	return r.updateStatus(ctx, "hour_entries", params)
}

// UpdateCompensatoryRequestStatus moves a pending request to its outcome. A
// row that is missing or no longer pending yields sql.ErrNoRows.
func (r *LedgerRepository) UpdateCompensatoryRequestStatus(ctx context.Context, params UpdateStatusParams) error {
	return r.updateStatus(ctx, "compensatory_requests", params)
}

func (r *LedgerRepository) updateStatus(ctx context.Context, table string, params UpdateStatusParams) error {
	query := fmt.Sprintf("UPDATE %s SET status = $1, reviewed_by = $2, reviewed_at = $3 WHERE id = $4 AND status = '%s'",
		table, models.StatusPending)
	result, err := r.db.ExecContext(ctx, query, params.Status, params.ReviewedBy, params.ReviewedAt, params.ID)
	if err != nil {
		return fmt.Errorf("update %s status: %w", table, err)
	}
	return expectOneRow(result, table)
}

// CommitRedemptionParams describes an accepted redemption and its debit.
type CommitRedemptionParams struct {
	RequestID  string
	UserID     string
	ReviewedBy string
	ReviewedAt time.Time
	Debit      *models.HourEntry
}

// CommitRedemption accepts the request and appends its balancing debit in one
// transaction. The user's advisory lock serialises commits across instances,
// and the balance is re-read under it before anything is written.
func (r *LedgerRepository) CommitRedemption(ctx context.Context, params CommitRedemptionParams) (err error) {
	if params.Debit == nil {
		return fmt.Errorf("commit redemption: debit entry is required")
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin redemption transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, params.UserID); err != nil {
		return fmt.Errorf("lock user ledger: %w", err)
	}

	var req models.CompensatoryRequest
	const lockQuery = `SELECT ` + requestColumns + ` FROM compensatory_requests WHERE id = $1 FOR UPDATE`
	if err = tx.GetContext(ctx, &req, lockQuery, params.RequestID); err != nil {
		return err
	}
	if req.Status != models.StatusPending {
		err = sql.ErrNoRows
		return err
	}

	var totals models.BalanceTotals
	if err = tx.GetContext(ctx, &totals, balanceTotalsQuery, params.UserID); err != nil {
		return fmt.Errorf("read balance totals: %w", err)
	}
	duration := models.HoursDecimal(req.DurationHours)
	if duration.GreaterThan(totals.Raw()) {
		err = ErrBalanceExceeded
		return err
	}

	const updateQuery = `UPDATE compensatory_requests SET status = $1, reviewed_by = $2, reviewed_at = $3 WHERE id = $4 AND status = 'PENDING'`
	result, err := tx.ExecContext(ctx, updateQuery, models.StatusAccepted, params.ReviewedBy, params.ReviewedAt, params.RequestID)
	if err != nil {
		return fmt.Errorf("accept compensatory request: %w", err)
	}
	if err = expectOneRow(result, "compensatory_requests"); err != nil {
		return err
	}

	debit := params.Debit
	prepareHourEntry(debit)
	const insertQuery = `INSERT INTO hour_entries (` + hourEntryColumns + `)
	VALUES (:id, :user_id, :hours, :description, :status, :compensatory_request_id, :created_at, :reviewed_by, :reviewed_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, debit); err != nil {
		return fmt.Errorf("append redemption debit: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit redemption: %w", err)
	}
	return nil
}

func prepareHourEntry(entry *models.HourEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = models.StatusPending
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
}

func expectOneRow(result sql.Result, table string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check %s update rows: %w", table, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func buildListQuery(base, userID string, statuses []models.ApprovalStatus, orderBy string, limit, offset int) (string, []interface{}) {
	builder := strings.Builder{}
	builder.WriteString(base)
	args := make([]interface{}, 0, len(statuses)+1)
	conditions := make([]string, 0, 2)
	if userID != "" {
		args = append(args, userID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY " + orderBy + " ASC")

	if limit <= 0 || limit > 500 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))
	return builder.String(), args
}
