package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceTotals are the two terms of the balance formula read in one snapshot.
// Credited sums accepted entries that are not redemption debits; Redeemed sums
// accepted request durations.
type BalanceTotals struct {
	Credited decimal.Decimal `db:"credited"`
	Redeemed decimal.Decimal `db:"redeemed"`
}

// Raw is the unclamped balance.
func (t BalanceTotals) Raw() decimal.Decimal {
	return t.Credited.Sub(t.Redeemed)
}

// Balance is the redeemable balance reported to callers.
type Balance struct {
	UserID         string    `json:"userId"`
	AvailableHours float64   `json:"availableHours"`
	AsOf           time.Time `json:"asOf"`
}

// Statement is a user's ledger history with the resulting balance.
type Statement struct {
	UserID   string                    `json:"userId"`
	Entries  []HourEntry               `json:"entries"`
	Requests []CompensatoryRequestView `json:"requests"`
	Balance  Balance                   `json:"balance"`
}

// HoursDecimal converts stored fractional hours to the two-decimal precision
// used by balance arithmetic.
func HoursDecimal(hours float64) decimal.Decimal {
	return decimal.NewFromFloat(hours).Round(2)
}

// WindowHours is the length of a redemption window in hours, rounded to two
// decimals.
func WindowHours(from, to time.Time) decimal.Decimal {
	return HoursDecimal(to.Sub(from).Hours())
}
