package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/inventory/internal/domain"
	"example.com/backstage/services/inventory/internal/messaging"
	"example.com/backstage/services/inventory/internal/models"
)

type loanFixture struct {
	service    *LoanService
	loans      *fakeLoanRepo
	ledger     *fakeLedgerRepo
	catalog    *fakeCatalogRepo
	notifier   *capturingNotifier
	dispatcher *capturingDispatcher
	indexer    *capturingIndexer
	borrowerID uuid.UUID
	lenderID   uuid.UUID
	itemID     uuid.UUID
}

func newLoanFixture(t *testing.T) *loanFixture {
	t.Helper()

	loans := newFakeLoanRepo()
	ledger := newFakeLedgerRepo()
	catalog := newFakeCatalogRepo()
	notifier := &capturingNotifier{}
	dispatcher := &capturingDispatcher{}
	indexer := &capturingIndexer{}

	borrowerID := catalog.addLocation("Borrower Shop")
	lenderID := catalog.addLocation("Lender Shop")
	itemID := catalog.addItem("MAIZE-50", "50")
	ledger.seed(lenderID, itemID, "500")

	service := &LoanService{
		runner:      testRunner(),
		loanRepo:    loans,
		ledgerRepo:  ledger,
		catalogRepo: catalog,
		cache:       testCache(),
		notifier:    notifier,
		dispatcher:  dispatcher,
		audit:       indexer,
		tracer:      testTracer(),
		metrics:     testMetrics(),
		workflow:    testWorkflow(),
	}

	return &loanFixture{
		service:    service,
		loans:      loans,
		ledger:     ledger,
		catalog:    catalog,
		notifier:   notifier,
		dispatcher: dispatcher,
		indexer:    indexer,
		borrowerID: borrowerID,
		lenderID:   lenderID,
		itemID:     itemID,
	}
}

func (f *loanFixture) request(t *testing.T, kg string) *models.Loan {
	t.Helper()
	loan, err := f.service.RequestLoan(context.Background(), RequestLoanInput{
		BorrowerLocationID:  f.borrowerID,
		LenderLocationID:    f.lenderID,
		ItemID:              f.itemID,
		RequestedBy:         "manager-a",
		QuantityRequestedKg: decimal.RequireFromString(kg),
		EstimatedReturnDate: time.Now().Add(14 * 24 * time.Hour),
	})
	require.NoError(t, err)
	return loan
}

func TestLoanLifecycleLeavesLedgerBalanced(t *testing.T) {
	f := newLoanFixture(t)
	ctx := context.Background()

	loan := f.request(t, "100")
	require.Equal(t, string(domain.LoanPending), loan.Status)

	_, err := f.service.Accept(ctx, loan.ID, decimal.RequireFromString("100"), "manager-b")
	require.NoError(t, err)

	// Confirmation alone schedules nothing
	_, err = f.service.Confirm(ctx, loan.ID, "manager-a")
	require.NoError(t, err)
	require.Empty(t, f.dispatcher.commands)

	// The lender picks a driver for the pickup trip
	_, err = f.service.AssignPickupDriver(ctx, loan.ID, "driver-1", "manager-b")
	require.NoError(t, err)
	require.Len(t, f.dispatcher.commands, 1)
	require.Equal(t, messaging.DispatchLoanPickup, f.dispatcher.commands[0].Kind)
	require.Equal(t, "driver-1", f.dispatcher.commands[0].Driver)

	// Driver accepts the pickup trip via the bus
	err = f.service.HandleTripEvent(ctx, messaging.TripEvent{
		Event:  messaging.TripEventDriverAcceptedPickup,
		LoanID: loan.ID,
		Driver: "driver-1",
	})
	require.NoError(t, err)

	// Lender hands over: lender balance drops
	_, err = f.service.ConfirmCollection(ctx, loan.ID, "manager-b")
	require.NoError(t, err)
	require.Equal(t, "400", f.ledger.balance(f.lenderID, f.itemID).String())
	require.Equal(t, "0", f.ledger.balance(f.borrowerID, f.itemID).String())

	// Borrower receives: borrower balance rises
	_, err = f.service.ConfirmReceipt(ctx, loan.ID, "manager-a")
	require.NoError(t, err)
	require.Equal(t, "100", f.ledger.balance(f.borrowerID, f.itemID).String())

	_, err = f.service.InitiateReturn(ctx, loan.ID, "manager-a")
	require.NoError(t, err)
	_, err = f.service.AssignReturnDriver(ctx, loan.ID, "driver-2", "manager-a")
	require.NoError(t, err)
	require.Len(t, f.dispatcher.commands, 2)
	require.Equal(t, "driver-2", f.dispatcher.commands[1].Driver)

	// Driver accepts the return trip: borrower balance drops
	err = f.service.HandleTripEvent(ctx, messaging.TripEvent{
		Event:  messaging.TripEventDriverAcceptedReturn,
		LoanID: loan.ID,
		Driver: "driver-2",
	})
	require.NoError(t, err)
	require.Equal(t, "0", f.ledger.balance(f.borrowerID, f.itemID).String())

	// Lender receives back: everything nets to the starting position
	completed, err := f.service.ConfirmReturn(ctx, loan.ID, "manager-b")
	require.NoError(t, err)
	require.Equal(t, string(domain.LoanCompleted), completed.Status)
	require.NotNil(t, completed.ActualReturnDate)
	require.Equal(t, "500", f.ledger.balance(f.lenderID, f.itemID).String())
	require.Equal(t, "0", f.ledger.balance(f.borrowerID, f.itemID).String())
	require.Len(t, f.ledger.txns, 4)
	require.Len(t, f.indexer.docs, 1)
	require.Equal(t, "loan", f.indexer.docs[0].ReferenceType)
}

func TestLoanSkippingStepsIsRejected(t *testing.T) {
	f := newLoanFixture(t)
	ctx := context.Background()

	loan := f.request(t, "100")

	// Collection requires the loan to be in transit first
	_, err := f.service.ConfirmCollection(ctx, loan.ID, "manager-b")
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindInvalidTransition))

	// The failed call must not have touched the ledger
	require.Equal(t, "500", f.ledger.balance(f.lenderID, f.itemID).String())
	require.Empty(t, f.ledger.txns)
}

func TestAssignPickupDriverSchedulesTrip(t *testing.T) {
	f := newLoanFixture(t)
	ctx := context.Background()
	loan := f.request(t, "100")

	// Pickup can only be assigned once the borrower has confirmed
	_, err := f.service.AssignPickupDriver(ctx, loan.ID, "driver-1", "manager-b")
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindInvalidTransition))

	_, err = f.service.Accept(ctx, loan.ID, decimal.RequireFromString("100"), "manager-b")
	require.NoError(t, err)
	_, err = f.service.Confirm(ctx, loan.ID, "manager-a")
	require.NoError(t, err)

	_, err = f.service.AssignPickupDriver(ctx, loan.ID, "", "manager-b")
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindValidation))

	assigned, err := f.service.AssignPickupDriver(ctx, loan.ID, "driver-1", "manager-b")
	require.NoError(t, err)
	require.Equal(t, string(domain.LoanConfirmed), assigned.Status)
	require.NotNil(t, assigned.PickupTripRef)

	require.Len(t, f.dispatcher.commands, 1)
	require.Equal(t, messaging.DispatchLoanPickup, f.dispatcher.commands[0].Kind)
	require.Equal(t, "driver-1", f.dispatcher.commands[0].Driver)
	require.Equal(t, *assigned.PickupTripRef, f.dispatcher.commands[0].TripRef)
}

func TestDriverConfirmationRecordedOnReturnLegOnly(t *testing.T) {
	f := newLoanFixture(t)
	ctx := context.Background()
	loan := f.request(t, "100")

	_, err := f.service.Accept(ctx, loan.ID, decimal.RequireFromString("100"), "manager-b")
	require.NoError(t, err)
	_, err = f.service.Confirm(ctx, loan.ID, "manager-a")
	require.NoError(t, err)
	_, err = f.service.AssignPickupDriver(ctx, loan.ID, "driver-1", "manager-b")
	require.NoError(t, err)

	err = f.service.HandleTripEvent(ctx, messaging.TripEvent{
		Event:  messaging.TripEventDriverAcceptedPickup,
		LoanID: loan.ID,
		Driver: "driver-1",
	})
	require.NoError(t, err)

	// Accepting the pickup leg leaves the return confirmation unset
	stored, err := f.loans.GetByID(ctx, loan.ID)
	require.NoError(t, err)
	require.Nil(t, stored.DriverConfirmedAt)

	_, err = f.service.ConfirmCollection(ctx, loan.ID, "manager-b")
	require.NoError(t, err)
	_, err = f.service.ConfirmReceipt(ctx, loan.ID, "manager-a")
	require.NoError(t, err)
	_, err = f.service.InitiateReturn(ctx, loan.ID, "manager-a")
	require.NoError(t, err)
	_, err = f.service.AssignReturnDriver(ctx, loan.ID, "driver-2", "manager-a")
	require.NoError(t, err)

	err = f.service.HandleTripEvent(ctx, messaging.TripEvent{
		Event:  messaging.TripEventDriverAcceptedReturn,
		LoanID: loan.ID,
		Driver: "driver-2",
	})
	require.NoError(t, err)

	stored, err = f.loans.GetByID(ctx, loan.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.DriverConfirmedAt)
}

func TestLoanAcceptCounterOfferAboveRequested(t *testing.T) {
	f := newLoanFixture(t)
	loan := f.request(t, "100")

	accepted, err := f.service.Accept(context.Background(), loan.ID, decimal.RequireFromString("120"), "manager-b")
	require.NoError(t, err)
	require.Equal(t, string(domain.LoanAccepted), accepted.Status)
	require.Equal(t, "120", accepted.QuantityApprovedKg.String())
}

func TestLoanAcceptCounterOffer(t *testing.T) {
	f := newLoanFixture(t)
	loan := f.request(t, "100")

	accepted, err := f.service.Accept(context.Background(), loan.ID, decimal.RequireFromString("60"), "manager-b")
	require.NoError(t, err)
	require.Equal(t, string(domain.LoanAccepted), accepted.Status)
	require.Equal(t, "60", accepted.QuantityApprovedKg.String())
}

func TestLoanRejectRequiresReason(t *testing.T) {
	f := newLoanFixture(t)
	loan := f.request(t, "100")

	_, err := f.service.Reject(context.Background(), loan.ID, "", "manager-b")
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestLoanRejectFromAnyNonTerminalState(t *testing.T) {
	f := newLoanFixture(t)
	ctx := context.Background()
	loan := f.request(t, "100")

	_, err := f.service.Accept(ctx, loan.ID, decimal.RequireFromString("100"), "manager-b")
	require.NoError(t, err)
	_, err = f.service.Confirm(ctx, loan.ID, "manager-a")
	require.NoError(t, err)

	rejected, err := f.service.Reject(ctx, loan.ID, "truck broke down", "manager-b")
	require.NoError(t, err)
	require.Equal(t, string(domain.LoanRejected), rejected.Status)
	require.Equal(t, "truck broke down", *rejected.RejectionReason)

	// Terminal: nothing else is allowed, including another reject
	_, err = f.service.Reject(ctx, loan.ID, "again", "manager-b")
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindInvalidTransition))
}

func TestLoanCollectionFailsOnInsufficientStock(t *testing.T) {
	f := newLoanFixture(t)
	ctx := context.Background()
	f.ledger.levels[levelKey(f.lenderID, f.itemID)] = decimal.RequireFromString("40")

	loan := f.request(t, "100")
	_, err := f.service.Accept(ctx, loan.ID, decimal.RequireFromString("100"), "manager-b")
	require.NoError(t, err)
	_, err = f.service.Confirm(ctx, loan.ID, "manager-a")
	require.NoError(t, err)
	err = f.service.HandleTripEvent(ctx, messaging.TripEvent{
		Event:  messaging.TripEventDriverAcceptedPickup,
		LoanID: loan.ID,
	})
	require.NoError(t, err)

	_, err = f.service.ConfirmCollection(ctx, loan.ID, "manager-b")
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindValidation))
	require.Equal(t, "40", f.ledger.balance(f.lenderID, f.itemID).String())
}

func TestLoanCollectionGoesStraightToActiveWhenReceiptDisabled(t *testing.T) {
	f := newLoanFixture(t)
	f.service.workflow.RequireReceiptConfirmation = false
	ctx := context.Background()

	loan := f.request(t, "100")
	_, err := f.service.Accept(ctx, loan.ID, decimal.RequireFromString("100"), "manager-b")
	require.NoError(t, err)
	_, err = f.service.Confirm(ctx, loan.ID, "manager-a")
	require.NoError(t, err)
	err = f.service.HandleTripEvent(ctx, messaging.TripEvent{
		Event:  messaging.TripEventDriverAcceptedPickup,
		LoanID: loan.ID,
	})
	require.NoError(t, err)

	active, err := f.service.ConfirmCollection(ctx, loan.ID, "manager-b")
	require.NoError(t, err)
	require.Equal(t, string(domain.LoanActive), active.Status)
	require.Equal(t, "400", f.ledger.balance(f.lenderID, f.itemID).String())
	require.Equal(t, "100", f.ledger.balance(f.borrowerID, f.itemID).String())
}

func TestLoanTransitionRetriesAfterStaleState(t *testing.T) {
	f := newLoanFixture(t)
	loan := f.request(t, "100")
	f.loans.staleOnce = true

	accepted, err := f.service.Accept(context.Background(), loan.ID, decimal.RequireFromString("100"), "manager-b")
	require.NoError(t, err)
	require.Equal(t, string(domain.LoanAccepted), accepted.Status)
}

func TestLoanLegacyReturnStatusIsHandled(t *testing.T) {
	f := newLoanFixture(t)
	ctx := context.Background()

	approved := decimal.RequireFromString("100")
	loan := &models.Loan{
		ID:                  uuid.New(),
		BorrowerLocationID:  f.borrowerID,
		LenderLocationID:    f.lenderID,
		ItemID:              f.itemID,
		RequestedBy:         "manager-a",
		QuantityRequestedKg: approved,
		QuantityApprovedKg:  &approved,
		EstimatedReturnDate: time.Now().Add(24 * time.Hour),
		Status:              "return_in_transit",
	}
	require.NoError(t, f.loans.Create(ctx, loan))

	// Reads normalize the legacy alias
	view, err := f.service.Get(ctx, loan.ID)
	require.NoError(t, err)
	require.Equal(t, string(domain.LoanReturnInProgress), view.Status)

	// Transitions accept rows still carrying the alias
	completed, err := f.service.ConfirmReturn(ctx, loan.ID, "manager-b")
	require.NoError(t, err)
	require.Equal(t, string(domain.LoanCompleted), completed.Status)
	require.Equal(t, "600", f.ledger.balance(f.lenderID, f.itemID).String())
}

func TestLoanOverdueIsDerivedOnRead(t *testing.T) {
	f := newLoanFixture(t)
	ctx := context.Background()

	approved := decimal.RequireFromString("100")
	loan := &models.Loan{
		ID:                  uuid.New(),
		BorrowerLocationID:  f.borrowerID,
		LenderLocationID:    f.lenderID,
		ItemID:              f.itemID,
		RequestedBy:         "manager-a",
		QuantityRequestedKg: approved,
		QuantityApprovedKg:  &approved,
		EstimatedReturnDate: time.Now().Add(-72 * time.Hour),
		Status:              string(domain.LoanActive),
	}
	require.NoError(t, f.loans.Create(ctx, loan))

	view, err := f.service.Get(ctx, loan.ID)
	require.NoError(t, err)
	require.True(t, view.Overdue)
	require.Equal(t, 3, view.DaysOverdue)

	// The stored status never becomes "overdue"
	stored, err := f.loans.GetByID(ctx, loan.ID)
	require.NoError(t, err)
	require.Equal(t, string(domain.LoanActive), stored.Status)
}

func TestNotifyOverduePublishesReminders(t *testing.T) {
	f := newLoanFixture(t)
	ctx := context.Background()

	approved := decimal.RequireFromString("100")
	for i := 0; i < 2; i++ {
		loan := &models.Loan{
			ID:                  uuid.New(),
			BorrowerLocationID:  f.borrowerID,
			LenderLocationID:    f.lenderID,
			ItemID:              f.itemID,
			RequestedBy:         "manager-a",
			QuantityRequestedKg: approved,
			QuantityApprovedKg:  &approved,
			EstimatedReturnDate: time.Now().Add(-48 * time.Hour),
			Status:              string(domain.LoanActive),
		}
		require.NoError(t, f.loans.Create(ctx, loan))
	}

	count, err := f.service.NotifyOverdue(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Len(t, f.notifier.notifications, 2)
	require.Equal(t, "loan_overdue", f.notifier.notifications[0].Kind)
}

func TestLoanRequestValidation(t *testing.T) {
	f := newLoanFixture(t)
	ctx := context.Background()

	_, err := f.service.RequestLoan(ctx, RequestLoanInput{
		BorrowerLocationID:  f.borrowerID,
		LenderLocationID:    f.borrowerID,
		ItemID:              f.itemID,
		RequestedBy:         "manager-a",
		QuantityRequestedKg: decimal.RequireFromString("100"),
		EstimatedReturnDate: time.Now().Add(24 * time.Hour),
	})
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindValidation))

	_, err = f.service.RequestLoan(ctx, RequestLoanInput{
		BorrowerLocationID:  f.borrowerID,
		LenderLocationID:    f.lenderID,
		ItemID:              f.itemID,
		RequestedBy:         "manager-a",
		QuantityRequestedKg: decimal.RequireFromString("-5"),
		EstimatedReturnDate: time.Now().Add(24 * time.Hour),
	})
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindValidation))
}
