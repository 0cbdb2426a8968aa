package repositories

import (
	"time"

	"github.com/shopspring/decimal"

	"example.com/backstage/services/inventory/internal/models"
)

// The TransitionCAS methods update rows through a column map, so gorm never
// writes the struct back. These helpers mirror the written columns onto the
// in-memory model, keeping the value a caller returns in sync with the row
// it just committed. Unknown keys (status, version) are handled by the CAS
// itself and skipped here.

func applyLoanUpdates(loan *models.Loan, updates map[string]interface{}) {
	for key, value := range updates {
		switch key {
		case "quantity_approved_kg":
			q := value.(decimal.Decimal)
			loan.QuantityApprovedKg = &q
		case "rejection_reason":
			r := value.(string)
			loan.RejectionReason = &r
		case "pickup_trip_ref":
			r := value.(string)
			loan.PickupTripRef = &r
		case "return_trip_ref":
			r := value.(string)
			loan.ReturnTripRef = &r
		case "driver_confirmed_at":
			t := value.(time.Time)
			loan.DriverConfirmedAt = &t
		case "actual_return_date":
			t := value.(time.Time)
			loan.ActualReturnDate = &t
		}
	}
}

func applyDeliveryUpdates(delivery *models.Delivery, updates map[string]interface{}) {
	for key, value := range updates {
		switch key {
		case "confirmed_kg":
			q := value.(decimal.Decimal)
			delivery.ConfirmedKg = &q
		case "discrepancy_notes":
			n := value.(string)
			delivery.DiscrepancyNotes = &n
		case "confirmed_by":
			b := value.(string)
			delivery.ConfirmedBy = &b
		}
	}
}

func applyStockTakeUpdates(stockTake *models.StockTake, updates map[string]interface{}) {
	for key, value := range updates {
		if key == "completed_at" {
			t := value.(time.Time)
			stockTake.CompletedAt = &t
		}
	}
}
