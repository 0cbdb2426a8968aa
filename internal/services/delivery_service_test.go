package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/inventory/internal/domain"
	"example.com/backstage/services/inventory/internal/models"
)

type deliveryFixture struct {
	service    *DeliveryService
	deliveries *fakeDeliveryRepo
	ledger     *fakeLedgerRepo
	scans      *fakeScanRepo
	notifier   *capturingNotifier
	indexer    *capturingIndexer
	locationID uuid.UUID
	itemID     uuid.UUID
}

func newDeliveryFixture(t *testing.T) *deliveryFixture {
	t.Helper()

	deliveries := newFakeDeliveryRepo()
	ledger := newFakeLedgerRepo()
	catalog := newFakeCatalogRepo()
	scans := newFakeScanRepo()
	notifier := &capturingNotifier{}
	indexer := &capturingIndexer{}

	locationID := catalog.addLocation("Receiving Shop")
	itemID := catalog.addItem("MAIZE-10", "10")
	deliveries.items[itemID] = catalog.items[itemID]

	service := &DeliveryService{
		runner:       testRunner(),
		deliveryRepo: deliveries,
		ledgerRepo:   ledger,
		catalogRepo:  catalog,
		scanRepo:     scans,
		cache:        testCache(),
		notifier:     notifier,
		audit:        indexer,
		tracer:       testTracer(),
		metrics:      testMetrics(),
		workflow:     testWorkflow(),
	}

	return &deliveryFixture{
		service:    service,
		deliveries: deliveries,
		ledger:     ledger,
		scans:      scans,
		notifier:   notifier,
		indexer:    indexer,
		locationID: locationID,
		itemID:     itemID,
	}
}

func (f *deliveryFixture) claim(t *testing.T, kg string) *models.Delivery {
	t.Helper()
	delivery, err := f.service.RecordClaim(context.Background(), RecordClaimInput{
		TripRef:              "trip-7",
		RequestingLocationID: f.locationID,
		ItemID:               f.itemID,
		DriverClaimedKg:      decimal.RequireFromString(kg),
	})
	require.NoError(t, err)
	return delivery
}

func TestRecordClaimRequiresPositiveQuantity(t *testing.T) {
	f := newDeliveryFixture(t)

	_, err := f.service.RecordClaim(context.Background(), RecordClaimInput{
		TripRef:              "trip-7",
		RequestingLocationID: f.locationID,
		ItemID:               f.itemID,
		DriverClaimedKg:      decimal.RequireFromString("-10"),
	})
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestConfirmWithinToleranceNeedsNoNotes(t *testing.T) {
	f := newDeliveryFixture(t)
	delivery := f.claim(t, "100")

	confirmed, err := f.service.Confirm(context.Background(), ConfirmDeliveryInput{
		DeliveryID:  delivery.ID,
		ConfirmedKg: decimal.RequireFromString("100.05"),
		ConfirmedBy: "manager-a",
	})
	require.NoError(t, err)
	require.Equal(t, string(domain.DeliveryConfirmed), confirmed.Status)
	require.Equal(t, "100.05", f.ledger.balance(f.locationID, f.itemID).String())
	require.Len(t, f.ledger.txns, 1)
	require.Equal(t, models.TxnDeliveryConfirmed, f.ledger.txns[0].Kind)
}

func TestConfirmRequiresPositiveQuantity(t *testing.T) {
	f := newDeliveryFixture(t)
	delivery := f.claim(t, "100")

	// Nothing arriving is a rejection, never a zero confirmation
	_, err := f.service.Confirm(context.Background(), ConfirmDeliveryInput{
		DeliveryID:  delivery.ID,
		ConfirmedKg: decimal.Zero,
		ConfirmedBy: "manager-a",
	})
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindValidation))
	require.Empty(t, f.ledger.txns)

	stored, err := f.deliveries.GetByID(context.Background(), delivery.ID)
	require.NoError(t, err)
	require.Equal(t, string(domain.DeliveryPending), stored.Status)
}

func TestConfirmAboveToleranceRequiresNotes(t *testing.T) {
	f := newDeliveryFixture(t)
	delivery := f.claim(t, "100")

	_, err := f.service.Confirm(context.Background(), ConfirmDeliveryInput{
		DeliveryID:  delivery.ID,
		ConfirmedKg: decimal.RequireFromString("90"),
		ConfirmedBy: "manager-a",
	})
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindValidation))
	require.Empty(t, f.ledger.txns)

	notes := "one bag torn in transit"
	confirmed, err := f.service.Confirm(context.Background(), ConfirmDeliveryInput{
		DeliveryID:  delivery.ID,
		ConfirmedKg: decimal.RequireFromString("90"),
		Notes:       &notes,
		ConfirmedBy: "manager-a",
	})
	require.NoError(t, err)
	require.Equal(t, notes, *confirmed.DiscrepancyNotes)
	require.Equal(t, "90", f.ledger.balance(f.locationID, f.itemID).String())
}

func TestConfirmReplayNeverDoubleApplies(t *testing.T) {
	f := newDeliveryFixture(t)
	delivery := f.claim(t, "100")

	input := ConfirmDeliveryInput{
		DeliveryID:  delivery.ID,
		ConfirmedKg: decimal.RequireFromString("100"),
		ConfirmedBy: "manager-a",
	}
	_, err := f.service.Confirm(context.Background(), input)
	require.NoError(t, err)

	_, err = f.service.Confirm(context.Background(), input)
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindInvalidTransition))

	require.Equal(t, "100", f.ledger.balance(f.locationID, f.itemID).String())
	require.Len(t, f.ledger.txns, 1)
}

func TestRejectNeverTouchesLedger(t *testing.T) {
	f := newDeliveryFixture(t)
	delivery := f.claim(t, "100")

	rejected, err := f.service.Reject(context.Background(), delivery.ID, "wrong item delivered", "manager-a")
	require.NoError(t, err)
	require.Equal(t, string(domain.DeliveryRejected), rejected.Status)
	require.Empty(t, f.ledger.txns)
	require.Equal(t, "0", f.ledger.balance(f.locationID, f.itemID).String())

	// A rejected delivery cannot be confirmed afterwards
	_, err = f.service.Confirm(context.Background(), ConfirmDeliveryInput{
		DeliveryID:  delivery.ID,
		ConfirmedKg: decimal.RequireFromString("100"),
		ConfirmedBy: "manager-a",
	})
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindInvalidTransition))
}

func TestRejectCancelsOriginatingRequest(t *testing.T) {
	f := newDeliveryFixture(t)
	ctx := context.Background()

	requestRef := "REQ-2031"
	delivery, err := f.service.RecordClaim(ctx, RecordClaimInput{
		TripRef:              "trip-7",
		RequestingLocationID: f.locationID,
		ItemID:               f.itemID,
		DriverClaimedKg:      decimal.RequireFromString("100"),
		RequestRef:           &requestRef,
	})
	require.NoError(t, err)

	_, err = f.service.Reject(ctx, delivery.ID, "wrong item delivered", "manager-a")
	require.NoError(t, err)

	// The claim notification plus the request cancellation
	require.Len(t, f.notifier.notifications, 2)
	cancelled := f.notifier.notifications[1]
	require.Equal(t, "stock_request_cancelled", cancelled.Kind)
	require.Equal(t, f.locationID, cancelled.LocationID)
	require.Equal(t, delivery.ID, cancelled.ReferenceID)
	require.Contains(t, cancelled.Body, requestRef)
}

func TestRejectWithoutRequestRefStaysQuiet(t *testing.T) {
	f := newDeliveryFixture(t)
	delivery := f.claim(t, "100")

	_, err := f.service.Reject(context.Background(), delivery.ID, "wrong item delivered", "manager-a")
	require.NoError(t, err)

	// Only the claim notification, no cancellation to report
	require.Len(t, f.notifier.notifications, 1)
	require.Equal(t, "delivery_claimed", f.notifier.notifications[0].Kind)
}

func TestRejectRequiresNotes(t *testing.T) {
	f := newDeliveryFixture(t)
	delivery := f.claim(t, "100")

	_, err := f.service.Reject(context.Background(), delivery.ID, "", "manager-a")
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestConfirmFromScanDerivesQuantity(t *testing.T) {
	f := newDeliveryFixture(t)
	ctx := context.Background()
	delivery := f.claim(t, "480")

	session := &models.ScanSession{
		ID:           uuid.New(),
		DeliveryID:   delivery.ID,
		UnitWeightKg: decimal.RequireFromString("10"),
	}
	require.NoError(t, f.scans.Create(ctx, session))
	for i := 0; i < 48; i++ {
		err := f.scans.AddUnit(ctx, &models.ScannedUnit{
			ID:        uuid.New(),
			SessionID: session.ID,
			Barcode:   fmt.Sprintf("BAG-%03d", i),
			Position:  i + 1,
		})
		require.NoError(t, err)
	}

	confirmed, err := f.service.ConfirmFromScan(ctx, delivery.ID, session.ID, nil, "manager-a")
	require.NoError(t, err)
	require.Equal(t, string(domain.DeliveryConfirmed), confirmed.Status)
	require.Equal(t, "480", f.ledger.balance(f.locationID, f.itemID).String())
	require.Len(t, f.deliveries.trackedUnits, 48)

	stored, err := f.scans.GetByID(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, stored.Consumed)

	// The consumed session cannot back a second confirmation
	_, err = f.service.ConfirmFromScan(ctx, delivery.ID, session.ID, nil, "manager-a")
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindInvalidTransition))
}

func TestConfirmFromScanRequiresScannedUnits(t *testing.T) {
	f := newDeliveryFixture(t)
	ctx := context.Background()
	delivery := f.claim(t, "100")

	session := &models.ScanSession{
		ID:           uuid.New(),
		DeliveryID:   delivery.ID,
		UnitWeightKg: decimal.RequireFromString("10"),
	}
	require.NoError(t, f.scans.Create(ctx, session))

	_, err := f.service.ConfirmFromScan(ctx, delivery.ID, session.ID, nil, "manager-a")
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindValidation))
	require.Empty(t, f.ledger.txns)
}

func TestConfirmFromScanChecksSessionOwnership(t *testing.T) {
	f := newDeliveryFixture(t)
	ctx := context.Background()
	delivery := f.claim(t, "100")

	session := &models.ScanSession{
		ID:           uuid.New(),
		DeliveryID:   uuid.New(),
		UnitWeightKg: decimal.RequireFromString("10"),
	}
	require.NoError(t, f.scans.Create(ctx, session))

	_, err := f.service.ConfirmFromScan(ctx, delivery.ID, session.ID, nil, "manager-a")
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindValidation))
}
