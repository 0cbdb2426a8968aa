package repositories

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/inventory/internal/models"
)

func TestApplyLoanUpdatesMirrorsWrittenColumns(t *testing.T) {
	loan := &models.Loan{}
	approved := decimal.RequireFromString("120")
	confirmedAt := time.Now()

	applyLoanUpdates(loan, map[string]interface{}{
		"quantity_approved_kg": approved,
		"pickup_trip_ref":      "loan-pickup-1",
		"return_trip_ref":      "loan-return-1",
		"rejection_reason":     "out of stock",
		"driver_confirmed_at":  confirmedAt,
		"actual_return_date":   confirmedAt,
		"status":               "accepted",
		"version":              nil,
	})

	require.NotNil(t, loan.QuantityApprovedKg)
	require.Equal(t, "120", loan.QuantityApprovedKg.String())
	require.Equal(t, "loan-pickup-1", *loan.PickupTripRef)
	require.Equal(t, "loan-return-1", *loan.ReturnTripRef)
	require.Equal(t, "out of stock", *loan.RejectionReason)
	require.Equal(t, confirmedAt, *loan.DriverConfirmedAt)
	require.Equal(t, confirmedAt, *loan.ActualReturnDate)

	// The CAS owns status and version, the mirror must not touch them
	require.Empty(t, loan.Status)
	require.Zero(t, loan.Version)
}

func TestApplyDeliveryUpdatesMirrorsWrittenColumns(t *testing.T) {
	delivery := &models.Delivery{}
	confirmed := decimal.RequireFromString("90")

	applyDeliveryUpdates(delivery, map[string]interface{}{
		"confirmed_kg":      confirmed,
		"discrepancy_notes": "one bag torn",
		"confirmed_by":      "manager-a",
	})

	require.NotNil(t, delivery.ConfirmedKg)
	require.Equal(t, "90", delivery.ConfirmedKg.String())
	require.Equal(t, "one bag torn", *delivery.DiscrepancyNotes)
	require.Equal(t, "manager-a", *delivery.ConfirmedBy)
}

func TestApplyStockTakeUpdatesMirrorsWrittenColumns(t *testing.T) {
	stockTake := &models.StockTake{}
	completedAt := time.Now()

	applyStockTakeUpdates(stockTake, map[string]interface{}{
		"completed_at": completedAt,
	})

	require.NotNil(t, stockTake.CompletedAt)
	require.Equal(t, completedAt, *stockTake.CompletedAt)
}
