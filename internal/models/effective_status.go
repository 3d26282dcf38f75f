package models

import "time"

// EffectiveStatus is the display state of a request at a given instant.
type EffectiveStatus string

const (
	EffectivePending   EffectiveStatus = "PENDING"
	EffectiveRejected  EffectiveStatus = "REJECTED"
	EffectiveScheduled EffectiveStatus = "SCHEDULED"
	EffectiveActive    EffectiveStatus = "ACTIVE"
	EffectiveCompleted EffectiveStatus = "COMPLETED"
)

// ComputeEffectiveStatus projects a stored status onto its lifecycle phase.
// Accepted windows are half-open: [from, to).
func ComputeEffectiveStatus(status ApprovalStatus, from, to, now time.Time) EffectiveStatus {
	if status != StatusAccepted {
		return EffectiveStatus(status)
	}
	switch {
	case now.Before(from):
		return EffectiveScheduled
	case now.Before(to):
		return EffectiveActive
	default:
		return EffectiveCompleted
	}
}

// View returns the request with its effective status at now.
func (r CompensatoryRequest) View(now time.Time) CompensatoryRequestView {
	return CompensatoryRequestView{
		CompensatoryRequest: r,
		EffectiveStatus:     ComputeEffectiveStatus(r.Status, r.From, r.To, now),
	}
}
