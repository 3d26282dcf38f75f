package dto

import (
	"time"

	"github.com/noah-isme/comphours-api/internal/models"
)

// SubmitHourEntryRequest reports a work block. Negative hours record a manual
// adjustment.
type SubmitHourEntryRequest struct {
	Hours       int    `json:"hours" validate:"required,gte=-1000,lte=24"`
	Description string `json:"description" validate:"required,max=500"`
}

// SubmitCompensatoryRequest asks to redeem balance as a time-off window.
type SubmitCompensatoryRequest struct {
	From   time.Time `json:"from" validate:"required"`
	To     time.Time `json:"to" validate:"required"`
	Reason string    `json:"reason" validate:"max=500"`
}

// DecisionRequest carries an administrator outcome.
type DecisionRequest struct {
	Decision models.Decision `json:"decision" binding:"required"`
}

// LedgerQuery mirrors supported listing filters. UserID is only honoured
// for administrators.
type LedgerQuery struct {
	UserID string
	Status []models.ApprovalStatus
	Limit  int
	Offset int
}
