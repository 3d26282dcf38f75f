package models

import "time"

// ApprovalStatus captures the stored workflow state of ledger entities.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "PENDING"
	StatusAccepted ApprovalStatus = "ACCEPTED"
	StatusRejected ApprovalStatus = "REJECTED"
)

// Terminal reports whether no further transition is allowed.
func (s ApprovalStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// CanTransition reports whether moving from s to next is a legal workflow step.
// Only PENDING may move, and only to a terminal outcome.
func (s ApprovalStatus) CanTransition(next ApprovalStatus) bool {
	return s == StatusPending && next.Terminal()
}

// Decision is the administrator outcome applied to a pending entity.
type Decision string

const (
	DecisionAccept Decision = "ACCEPT"
	DecisionReject Decision = "REJECT"
)

// Status maps the decision onto the stored status it produces.
func (d Decision) Status() (ApprovalStatus, bool) {
	switch d {
	case DecisionAccept:
		return StatusAccepted, true
	case DecisionReject:
		return StatusRejected, true
	default:
		return "", false
	}
}

// HourEntry is one reported work block or manual adjustment.
type HourEntry struct {
	ID                    string         `db:"id" json:"id"`
	UserID                string         `db:"user_id" json:"userId"`
	Hours                 int            `db:"hours" json:"hours"`
	Description           string         `db:"description" json:"description"`
	Status                ApprovalStatus `db:"status" json:"status"`
	CompensatoryRequestID *string        `db:"compensatory_request_id" json:"compensatoryRequestId,omitempty"`
	CreatedAt             time.Time      `db:"created_at" json:"createdAt"`
	ReviewedBy            *string        `db:"reviewed_by" json:"reviewedBy,omitempty"`
	ReviewedAt            *time.Time     `db:"reviewed_at" json:"reviewedAt,omitempty"`
}

// IsRedemptionDebit reports whether the entry balances an accepted request.
func (e HourEntry) IsRedemptionDebit() bool {
	return e.CompensatoryRequestID != nil
}

// CompensatoryRequest redeems balance as a time-off window.
type CompensatoryRequest struct {
	ID            string         `db:"id" json:"id"`
	UserID        string         `db:"user_id" json:"userId"`
	From          time.Time      `db:"starts_at" json:"from"`
	To            time.Time      `db:"ends_at" json:"to"`
	DurationHours float64        `db:"duration_hours" json:"durationHours"`
	Reason        string         `db:"reason" json:"reason"`
	Status        ApprovalStatus `db:"status" json:"status"`
	RequestedAt   time.Time      `db:"requested_at" json:"requestedAt"`
	ReviewedBy    *string        `db:"reviewed_by" json:"reviewedBy,omitempty"`
	ReviewedAt    *time.Time     `db:"reviewed_at" json:"reviewedAt,omitempty"`
}

// CompensatoryRequestView adds the time-relative status for display.
type CompensatoryRequestView struct {
	CompensatoryRequest
	EffectiveStatus EffectiveStatus `json:"effectiveStatus"`
}

// HourEntryFilter constrains ledger listings.
type HourEntryFilter struct {
	UserID string
	Status []ApprovalStatus
	Limit  int
	Offset int
}

// CompensatoryRequestFilter constrains request listings.
type CompensatoryRequestFilter struct {
	UserID string
	Status []ApprovalStatus
	Limit  int
	Offset int
}
