package models

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func TestComputeEffectiveStatusBoundaries(t *testing.T) {
	from := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	to := from.Add(8 * time.Hour)

	cases := []struct {
		name   string
		status ApprovalStatus
		now    time.Time
		want   EffectiveStatus
	}{
		{"before window", StatusAccepted, from.Add(-time.Nanosecond), EffectiveScheduled},
		{"at start", StatusAccepted, from, EffectiveActive},
		{"just before end", StatusAccepted, to.Add(-time.Nanosecond), EffectiveActive},
		{"at end", StatusAccepted, to, EffectiveCompleted},
		{"pending ignores clock", StatusPending, to.Add(time.Hour), EffectivePending},
		{"rejected ignores clock", StatusRejected, from, EffectiveRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ComputeEffectiveStatus(tc.status, from, to, tc.now))
		})
	}

	view := CompensatoryRequest{Status: StatusAccepted, From: from, To: to}.View(from.Add(time.Hour))
	assert.Equal(t, EffectiveActive, view.EffectiveStatus)
}

func TestApprovalTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusAccepted))
	assert.True(t, StatusPending.CanTransition(StatusRejected))
	assert.False(t, StatusPending.CanTransition(StatusPending))
	assert.False(t, StatusAccepted.CanTransition(StatusRejected))
	assert.False(t, StatusRejected.CanTransition(StatusAccepted))
	assert.False(t, StatusAccepted.CanTransition(StatusAccepted))

	status, ok := DecisionAccept.Status()
	assert.True(t, ok)
	assert.Equal(t, StatusAccepted, status)
	_, ok = Decision("approve").Status()
	assert.False(t, ok)
}

func TestBalanceHelpers(t *testing.T) {
	from := time.Date(2026, 7, 1, 9, 15, 0, 0, time.UTC)
	assert.Equal(t, "3", WindowHours(from, from.Add(3*time.Hour)).String())
	assert.Equal(t, "0.33", HoursDecimal(1.0/3.0).String())

	totals := BalanceTotals{Credited: HoursDecimal(10), Redeemed: HoursDecimal(6.5)}
	assert.Equal(t, "3.5", totals.Raw().String())
}

func TestClaimsPrincipal(t *testing.T) {
	claims := &JWTClaims{
		Roles:            []UserRole{RoleWorker, RoleWorker},
		Role:             RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-1"},
	}
	p := claims.Principal()
	assert.Equal(t, "sub-1", p.UserID)
	assert.Equal(t, []UserRole{RoleWorker, RoleAdmin}, p.Roles)
	assert.True(t, p.IsAdmin())

	claims.UserID = "user-9"
	claims.Role = ""
	p = claims.Principal()
	assert.Equal(t, "user-9", p.UserID)
	assert.False(t, p.IsAdmin())
}
