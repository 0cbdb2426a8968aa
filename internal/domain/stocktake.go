package domain

import (
	"github.com/shopspring/decimal"
)

// StockTakeStatus defines the status of a stock take
type StockTakeStatus string

const (
	// StockTakeInProgress represents a stock take accepting counts
	StockTakeInProgress StockTakeStatus = "in_progress"
	// StockTakeCompleted represents a reconciled stock take
	StockTakeCompleted StockTakeStatus = "completed"
	// StockTakeCancelled represents an abandoned stock take; lines are kept
	// for audit but never reconciled
	StockTakeCancelled StockTakeStatus = "cancelled"
)

// Variance returns counted - expected. Positive means stock found, negative
// means stock missing.
func Variance(expected, counted decimal.Decimal) decimal.Decimal {
	return counted.Sub(expected)
}

// ProgressPct returns the counted-line percentage of a stock take, rounded
// down to whole percent.
func ProgressPct(counted, total int) int {
	if total == 0 {
		return 100
	}
	return counted * 100 / total
}
