package models

import (
	"encoding/json"
	"time"
)

// EventType tags a ledger transition pushed to subscribers.
type EventType string

const (
	EventHourRequested EventType = "HourRequested"
	EventHourAccepted  EventType = "HourAccepted"
	EventHourRejected  EventType = "HourRejected"
	EventCompRequested EventType = "CompRequested"
	EventCompAccepted  EventType = "CompAccepted"
	EventCompRejected  EventType = "CompRejected"
)

// TargetKind selects how a notification target resolves to groups.
type TargetKind string

const (
	TargetUser TargetKind = "user"
	TargetRole TargetKind = "role"
	TargetAll  TargetKind = "all"
)

// GroupAll is the sentinel group every subscriber joins.
const GroupAll = "all"

// NotificationTarget is a user id, a role name or everyone.
type NotificationTarget struct {
	Kind  TargetKind `json:"kind"`
	Value string     `json:"value,omitempty"`
}

// UserTarget addresses every connection of one user.
func UserTarget(userID string) NotificationTarget {
	return NotificationTarget{Kind: TargetUser, Value: userID}
}

// RoleTarget addresses every connection whose principal has role.
func RoleTarget(role UserRole) NotificationTarget {
	return NotificationTarget{Kind: TargetRole, Value: string(role)}
}

// AllTarget addresses every connection.
func AllTarget() NotificationTarget {
	return NotificationTarget{Kind: TargetAll}
}

// NotificationEvent is an ephemeral message describing one transition.
type NotificationEvent struct {
	ID        string             `json:"id"`
	Type      EventType          `json:"type"`
	Target    NotificationTarget `json:"target"`
	Payload   json.RawMessage    `json:"payload"`
	Timestamp time.Time          `json:"timestamp"`
}
