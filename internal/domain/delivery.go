package domain

import (
	"github.com/shopspring/decimal"
)

// DeliveryStatus defines the status of a delivery note
type DeliveryStatus string

const (
	// DeliveryPending represents a driver claim awaiting manager confirmation
	DeliveryPending DeliveryStatus = "pending"
	// DeliveryConfirmed represents a delivery confirmed into the ledger
	DeliveryConfirmed DeliveryStatus = "confirmed"
	// DeliveryRejected represents a refused delivery; never touches the ledger
	DeliveryRejected DeliveryStatus = "rejected"
)

// DefaultDiscrepancyToleranceKg is the delta above which discrepancy notes
// become mandatory, unless overridden by configuration.
var DefaultDiscrepancyToleranceKg = decimal.RequireFromString("0.1")

// Discrepancy returns |confirmed - claimed| in kilograms.
func Discrepancy(claimed, confirmed decimal.Decimal) decimal.Decimal {
	return confirmed.Sub(claimed).Abs()
}

// NotesRequired reports whether the claimed-vs-confirmed delta exceeds the
// tolerance, making discrepancy notes mandatory on confirmation.
func NotesRequired(claimed, confirmed, tolerance decimal.Decimal) bool {
	return Discrepancy(claimed, confirmed).GreaterThan(tolerance)
}
