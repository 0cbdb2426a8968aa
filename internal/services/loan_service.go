package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"example.com/backstage/services/inventory/config"
	"example.com/backstage/services/inventory/internal/cache"
	"example.com/backstage/services/inventory/internal/domain"
	"example.com/backstage/services/inventory/internal/messaging"
	"example.com/backstage/services/inventory/internal/metrics"
	"example.com/backstage/services/inventory/internal/models"
	"example.com/backstage/services/inventory/internal/repositories"
	"example.com/backstage/services/inventory/internal/search"
	"example.com/backstage/services/inventory/internal/tracing"
	"example.com/backstage/services/inventory/internal/validation"
)

// LoanService drives the inter-location loan workflow. Every transition that
// moves stock commits the status change and its ledger legs in one database
// transaction.
type LoanService struct {
	runner      repositories.TxRunner
	loanRepo    repositories.LoanRepository
	ledgerRepo  repositories.LedgerRepository
	catalogRepo repositories.CatalogRepository
	cache       *cache.RedisCache
	notifier    Notifier
	dispatcher  TripDispatcher
	audit       AuditIndexer
	tracer      tracing.Tracer
	metrics     *metrics.Metrics
	workflow    config.WorkflowConfig
}

// NewLoanService creates a new loan service
func NewLoanService(
	db *gorm.DB,
	redisCache *cache.RedisCache,
	notifier Notifier,
	dispatcher TripDispatcher,
	audit AuditIndexer,
	tracer tracing.Tracer,
	m *metrics.Metrics,
	workflow config.WorkflowConfig,
) *LoanService {
	return &LoanService{
		runner:      repositories.GormTxRunner(db),
		loanRepo:    repositories.NewLoanRepository(db),
		ledgerRepo:  repositories.NewLedgerRepository(db),
		catalogRepo: repositories.NewCatalogRepository(db),
		cache:       redisCache,
		notifier:    notifier,
		dispatcher:  dispatcher,
		audit:       audit,
		tracer:      tracer,
		metrics:     m,
		workflow:    workflow,
	}
}

// RequestLoanInput is the borrower's initial loan request
type RequestLoanInput struct {
	BorrowerLocationID  uuid.UUID       `json:"borrower_location_id" validate:"required"`
	LenderLocationID    uuid.UUID       `json:"lender_location_id" validate:"required"`
	ItemID              uuid.UUID       `json:"item_id" validate:"required"`
	RequestedBy         string          `json:"requested_by" validate:"required"`
	QuantityRequestedKg decimal.Decimal `json:"quantity_requested_kg" validate:"required"`
	EstimatedReturnDate time.Time       `json:"estimated_return_date" validate:"required"`
}

// LoanView is a loan with its derived read-time fields. Overdue is computed
// on every read and never stored.
type LoanView struct {
	models.Loan
	Overdue     bool `json:"overdue"`
	DaysOverdue int  `json:"days_overdue"`
}

// RequestLoan creates a pending loan request and notifies the lender
func (s *LoanService) RequestLoan(ctx context.Context, input RequestLoanInput) (*models.Loan, error) {
	txn := s.tracer.StartTransaction("request-loan")
	defer s.tracer.EndTransaction(txn)

	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	if !input.QuantityRequestedKg.IsPositive() {
		return nil, domain.Errorf(domain.KindValidation, "requested quantity must be positive")
	}
	if input.BorrowerLocationID == input.LenderLocationID {
		return nil, domain.Errorf(domain.KindValidation, "borrower and lender must be different locations")
	}
	if !input.EstimatedReturnDate.After(time.Now()) {
		return nil, domain.Errorf(domain.KindValidation, "estimated return date must be in the future")
	}

	if _, err := s.catalogRepo.GetLocation(ctx, input.BorrowerLocationID); err != nil {
		return nil, err
	}
	lender, err := s.catalogRepo.GetLocation(ctx, input.LenderLocationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.catalogRepo.GetItem(ctx, input.ItemID); err != nil {
		return nil, err
	}

	loan := &models.Loan{
		ID:                  uuid.New(),
		BorrowerLocationID:  input.BorrowerLocationID,
		LenderLocationID:    input.LenderLocationID,
		ItemID:              input.ItemID,
		RequestedBy:         input.RequestedBy,
		QuantityRequestedKg: input.QuantityRequestedKg,
		EstimatedReturnDate: input.EstimatedReturnDate,
		Status:              string(domain.LoanPending),
	}

	if err := s.loanRepo.Create(ctx, loan); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter("loans.requested")
	notify(ctx, s.notifier, messaging.Notification{
		Kind:        "loan_requested",
		LocationID:  lender.ID,
		ReferenceID: loan.ID,
		Subject:     "New stock loan request",
		Body: fmt.Sprintf("%s requested %s kg on loan",
			input.RequestedBy, input.QuantityRequestedKg.String()),
	})

	log.Info().
		Str("loan_id", loan.ID.String()).
		Str("borrower", input.BorrowerLocationID.String()).
		Str("lender", input.LenderLocationID.String()).
		Msg("loan requested")
	return loan, nil
}

// Get returns a loan with derived overdue fields
func (s *LoanService) Get(ctx context.Context, id uuid.UUID) (*LoanView, error) {
	loan := &models.Loan{}
	cacheKey := cache.GetLoanCacheKey(id)
	if err := s.cache.Get(ctx, cacheKey, loan); err != nil {
		var dbErr error
		loan, dbErr = s.loanRepo.GetByID(ctx, id)
		if dbErr != nil {
			return nil, dbErr
		}
		if err := s.cache.Set(ctx, cacheKey, loan, 5*time.Minute); err != nil {
			log.Debug().Err(err).Msg("failed to cache loan")
		}
	}
	return s.view(loan), nil
}

func (s *LoanService) view(loan *models.Loan) *LoanView {
	status, ok := domain.NormalizeLoanStatus(loan.Status)
	if ok {
		loan.Status = string(status)
	}
	now := time.Now()
	return &LoanView{
		Loan:        *loan,
		Overdue:     domain.LoanOverdue(status, loan.EstimatedReturnDate, now),
		DaysOverdue: domain.DaysOverdue(status, loan.EstimatedReturnDate, now),
	}
}

// Accept moves a pending loan to accepted, fixing the approved quantity. The
// lender may counter-offer a quantity above or below the one requested; the
// approved quantity is what every later ledger movement uses.
func (s *LoanService) Accept(ctx context.Context, id uuid.UUID, approvedKg decimal.Decimal, actor string) (*models.Loan, error) {
	txn := s.tracer.StartTransaction("accept-loan")
	defer s.tracer.EndTransaction(txn)

	return s.transition(ctx, id, domain.LoanAccepted, func(loan *models.Loan) (map[string]interface{}, error) {
		if !approvedKg.IsPositive() {
			return nil, domain.Errorf(domain.KindValidation, "approved quantity must be positive")
		}
		return map[string]interface{}{"quantity_approved_kg": approvedKg}, nil
	}, nil)
}

// Reject terminates a loan from any non-terminal state. A reason is required
// and no stock moves.
func (s *LoanService) Reject(ctx context.Context, id uuid.UUID, reason, actor string) (*models.Loan, error) {
	txn := s.tracer.StartTransaction("reject-loan")
	defer s.tracer.EndTransaction(txn)

	if reason == "" {
		return nil, domain.Errorf(domain.KindValidation, "rejection reason is required")
	}

	loan, err := s.transition(ctx, id, domain.LoanRejected, func(loan *models.Loan) (map[string]interface{}, error) {
		return map[string]interface{}{"rejection_reason": reason}, nil
	}, nil)
	if err != nil {
		return nil, err
	}

	notify(ctx, s.notifier, messaging.Notification{
		Kind:        "loan_rejected",
		LocationID:  loan.BorrowerLocationID,
		ReferenceID: loan.ID,
		Subject:     "Loan request rejected",
		Body:        reason,
	})
	return loan, nil
}

// Confirm records the borrower's agreement to the approved quantity. The
// pickup trip is scheduled separately by the lender via AssignPickupDriver.
func (s *LoanService) Confirm(ctx context.Context, id uuid.UUID, actor string) (*models.Loan, error) {
	txn := s.tracer.StartTransaction("confirm-loan")
	defer s.tracer.EndTransaction(txn)

	return s.transition(ctx, id, domain.LoanConfirmed, nil, nil)
}

// AssignPickupDriver attaches a pickup trip to a confirmed loan and asks the
// transport service to schedule it for the chosen driver. The loan stays
// confirmed until the driver accepts the trip.
func (s *LoanService) AssignPickupDriver(ctx context.Context, id uuid.UUID, driver, actor string) (*models.Loan, error) {
	txn := s.tracer.StartTransaction("assign-loan-pickup-driver")
	defer s.tracer.EndTransaction(txn)

	if driver == "" {
		return nil, domain.Errorf(domain.KindValidation, "driver is required")
	}

	tripRef := fmt.Sprintf("loan-pickup-%s", id)
	loan, err := s.assignTrip(ctx, id, domain.LoanConfirmed,
		map[string]interface{}{"pickup_trip_ref": tripRef})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.dispatch(ctx, messaging.DispatchCommand{
		Kind:           messaging.DispatchLoanPickup,
		TripRef:        tripRef,
		LoanID:         loan.ID,
		Driver:         driver,
		FromLocationID: loan.LenderLocationID,
		ToLocationID:   loan.BorrowerLocationID,
	})
	return loan, nil
}

// ConfirmCollection records the lender handing stock to the driver. The
// lender's balance drops by the approved quantity in the same commit. When
// receipt confirmation is disabled by policy, the borrower's balance rises
// in the same commit and the loan lands directly in active.
func (s *LoanService) ConfirmCollection(ctx context.Context, id uuid.UUID, actor string) (*models.Loan, error) {
	txn := s.tracer.StartTransaction("confirm-loan-collection")
	defer s.tracer.EndTransaction(txn)

	target := domain.LoanCollected
	if !s.workflow.RequireReceiptConfirmation {
		target = domain.LoanActive
	}

	loan, err := s.transitionVia(ctx, id, target, domain.LoanCollected, nil, func(loan *models.Loan) ([]*models.StockTransaction, error) {
		approved, err := approvedQuantity(loan)
		if err != nil {
			return nil, err
		}
		legs := []*models.StockTransaction{{
			LocationID:    loan.LenderLocationID,
			ItemID:        loan.ItemID,
			QuantityKg:    approved.Neg(),
			Kind:          models.TxnLoanCollection,
			ReferenceType: "loan",
			ReferenceID:   loan.ID,
			Actor:         actor,
		}}
		if !s.workflow.RequireReceiptConfirmation {
			legs = append(legs, &models.StockTransaction{
				LocationID:    loan.BorrowerLocationID,
				ItemID:        loan.ItemID,
				QuantityKg:    approved,
				Kind:          models.TxnLoanReceipt,
				ReferenceType: "loan",
				ReferenceID:   loan.ID,
				Actor:         actor,
			})
		}
		return legs, nil
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter("loans.collected")
	return loan, nil
}

// ConfirmReceipt records the borrower receiving the stock. The borrower's
// balance rises by the approved quantity in the same commit.
func (s *LoanService) ConfirmReceipt(ctx context.Context, id uuid.UUID, actor string) (*models.Loan, error) {
	txn := s.tracer.StartTransaction("confirm-loan-receipt")
	defer s.tracer.EndTransaction(txn)

	loan, err := s.transitionVia(ctx, id, domain.LoanActive, domain.LoanActive, nil, func(loan *models.Loan) ([]*models.StockTransaction, error) {
		approved, err := approvedQuantity(loan)
		if err != nil {
			return nil, err
		}
		return []*models.StockTransaction{{
			LocationID:    loan.BorrowerLocationID,
			ItemID:        loan.ItemID,
			QuantityKg:    approved,
			Kind:          models.TxnLoanReceipt,
			ReferenceType: "loan",
			ReferenceID:   loan.ID,
			Actor:         actor,
		}}, nil
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter("loans.activated")
	return loan, nil
}

// InitiateReturn starts the return leg of an active loan
func (s *LoanService) InitiateReturn(ctx context.Context, id uuid.UUID, actor string) (*models.Loan, error) {
	txn := s.tracer.StartTransaction("initiate-loan-return")
	defer s.tracer.EndTransaction(txn)

	return s.transition(ctx, id, domain.LoanReturnInitiated, nil, nil)
}

// AssignReturnDriver assigns a return trip to the chosen driver and asks the
// transport service to schedule it.
func (s *LoanService) AssignReturnDriver(ctx context.Context, id uuid.UUID, driver, actor string) (*models.Loan, error) {
	txn := s.tracer.StartTransaction("assign-loan-return-driver")
	defer s.tracer.EndTransaction(txn)

	if driver == "" {
		return nil, domain.Errorf(domain.KindValidation, "driver is required")
	}

	tripRef := fmt.Sprintf("loan-return-%s", id)
	loan, err := s.transition(ctx, id, domain.LoanReturnAssigned, func(loan *models.Loan) (map[string]interface{}, error) {
		return map[string]interface{}{"return_trip_ref": tripRef}, nil
	}, nil)
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, messaging.DispatchCommand{
		Kind:           messaging.DispatchLoanReturn,
		TripRef:        tripRef,
		LoanID:         loan.ID,
		Driver:         driver,
		FromLocationID: loan.BorrowerLocationID,
		ToLocationID:   loan.LenderLocationID,
	})
	return loan, nil
}

// ConfirmReturn records the lender receiving the stock back. The lender's
// balance rises by the approved quantity and the loan completes.
func (s *LoanService) ConfirmReturn(ctx context.Context, id uuid.UUID, actor string) (*models.Loan, error) {
	txn := s.tracer.StartTransaction("confirm-loan-return")
	defer s.tracer.EndTransaction(txn)

	now := time.Now()
	loan, err := s.transitionVia(ctx, id, domain.LoanCompleted, domain.LoanCompleted,
		func(loan *models.Loan) (map[string]interface{}, error) {
			return map[string]interface{}{"actual_return_date": now}, nil
		},
		func(loan *models.Loan) ([]*models.StockTransaction, error) {
			approved, err := approvedQuantity(loan)
			if err != nil {
				return nil, err
			}
			return []*models.StockTransaction{{
				LocationID:    loan.LenderLocationID,
				ItemID:        loan.ItemID,
				QuantityKg:    approved,
				Kind:          models.TxnLoanReturnIn,
				ReferenceType: "loan",
				ReferenceID:   loan.ID,
				Actor:         actor,
			}}, nil
		})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter("loans.completed")
	indexAudit(ctx, s.audit, &search.AuditDocument{
		ReferenceType: "loan",
		ReferenceID:   loan.ID.String(),
		Event:         "completed",
		LocationID:    loan.LenderLocationID.String(),
		ItemID:        loan.ItemID.String(),
		QuantityKg:    quantityString(loan.QuantityApprovedKg),
		Actor:         actor,
		OccurredAt:    now,
	})
	notify(ctx, s.notifier, messaging.Notification{
		Kind:        "loan_completed",
		LocationID:  loan.BorrowerLocationID,
		ReferenceID: loan.ID,
		Subject:     "Loan completed",
		Body:        "Returned stock was received by the lender",
	})
	return loan, nil
}

// HandleTripEvent applies an inbound trip progress message to its loan.
// Driver acceptance of the pickup trip moves confirmed to in_transit; driver
// acceptance of the return trip stamps driver_confirmed_at, moves
// return_assigned to return_in_progress and drops the borrower's balance in
// the same commit.
func (s *LoanService) HandleTripEvent(ctx context.Context, event messaging.TripEvent) error {
	txn := s.tracer.StartTransaction("handle-trip-event")
	defer s.tracer.EndTransaction(txn)

	if event.LoanID == uuid.Nil {
		return domain.Errorf(domain.KindValidation, "trip event has no loan reference")
	}
	now := event.OccurredAt
	if now.IsZero() {
		now = time.Now()
	}

	switch event.Event {
	case messaging.TripEventDriverAcceptedPickup:
		_, err := s.transition(ctx, event.LoanID, domain.LoanInTransit, nil, nil)
		return err

	case messaging.TripEventDriverAcceptedReturn:
		_, err := s.transitionVia(ctx, event.LoanID, domain.LoanReturnInProgress, domain.LoanReturnInProgress,
			func(loan *models.Loan) (map[string]interface{}, error) {
				return map[string]interface{}{"driver_confirmed_at": now}, nil
			},
			func(loan *models.Loan) ([]*models.StockTransaction, error) {
				approved, err := approvedQuantity(loan)
				if err != nil {
					return nil, err
				}
				return []*models.StockTransaction{{
					LocationID:    loan.BorrowerLocationID,
					ItemID:        loan.ItemID,
					QuantityKg:    approved.Neg(),
					Kind:          models.TxnLoanReturnOut,
					ReferenceType: "loan",
					ReferenceID:   loan.ID,
					Actor:         event.Driver,
				}}, nil
			})
		return err

	default:
		log.Warn().Str("event", event.Event).Str("trip_ref", event.TripRef).Msg("ignoring unknown trip event")
		return nil
	}
}

// NotifyOverdue publishes a reminder for every active loan past its
// estimated return date. Stored statuses are untouched.
func (s *LoanService) NotifyOverdue(ctx context.Context, asOf time.Time) (int, error) {
	loans, err := s.loanRepo.ListActiveOverdue(ctx, asOf)
	if err != nil {
		return 0, err
	}

	for _, loan := range loans {
		days := domain.DaysOverdue(domain.LoanActive, loan.EstimatedReturnDate, asOf)
		notify(ctx, s.notifier, messaging.Notification{
			Kind:        "loan_overdue",
			LocationID:  loan.BorrowerLocationID,
			ReferenceID: loan.ID,
			Subject:     "Loan overdue",
			Body:        fmt.Sprintf("Loan is %d day(s) past its estimated return date", days),
		})
	}

	if len(loans) > 0 {
		s.metrics.IncrementCounterBy("loans.overdue_notified", int64(len(loans)))
	}
	return len(loans), nil
}

// transition advances the loan to target with no ledger movement
func (s *LoanService) transition(ctx context.Context, id uuid.UUID, target domain.LoanStatus,
	prepare func(loan *models.Loan) (map[string]interface{}, error),
	legs func(loan *models.Loan) ([]*models.StockTransaction, error),
) (*models.Loan, error) {
	return s.transitionVia(ctx, id, target, target, prepare, legs)
}

// transitionVia advances the loan to target, validating the step against
// checkedStep in the transition table. The two differ only when policy
// collapses collected and active into one commit.
func (s *LoanService) transitionVia(ctx context.Context, id uuid.UUID, target, checkedStep domain.LoanStatus,
	prepare func(loan *models.Loan) (map[string]interface{}, error),
	legs func(loan *models.Loan) ([]*models.StockTransaction, error),
) (*models.Loan, error) {
	var out *models.Loan
	err := withStaleRetry(s.workflow.StaleRetryAttempts, func() error {
		loan, err := s.loanRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}

		current, ok := domain.NormalizeLoanStatus(loan.Status)
		if !ok {
			return domain.Errorf(domain.KindValidation, "loan %s has unknown status %q", id, loan.Status)
		}
		if !domain.CanTransitionLoan(current, checkedStep) {
			return domain.Errorf(domain.KindInvalidTransition,
				"loan %s cannot move from %s to %s", id, current, checkedStep)
		}

		var updates map[string]interface{}
		if prepare != nil {
			if updates, err = prepare(loan); err != nil {
				return err
			}
		}

		var ledgerLegs []*models.StockTransaction
		if legs != nil {
			if ledgerLegs, err = legs(loan); err != nil {
				return err
			}
		}

		err = s.runner(ctx, func(tx *gorm.DB) error {
			if err := s.loanRepo.WithTx(tx).TransitionCAS(ctx, loan, target, updates); err != nil {
				return err
			}
			ledger := s.ledgerRepo.WithTx(tx)
			for _, leg := range ledgerLegs {
				if err := ledger.Adjust(ctx, leg); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = loan
		return nil
	})
	if err != nil {
		kind := domain.KindOf(err)
		if kind == "" {
			kind = "ERROR"
		}
		s.metrics.IncrementCounter("loans.transition." + string(kind))
		return nil, err
	}

	if err := s.cache.Delete(ctx, cache.GetLoanCacheKey(id)); err != nil {
		log.Debug().Err(err).Msg("failed to invalidate loan cache")
	}
	log.Info().
		Str("loan_id", id.String()).
		Str("status", string(target)).
		Msg("loan transitioned")
	return out, nil
}

// assignTrip attaches trip details to a loan that must currently sit in
// required. The status value is unchanged but the compare-and-set still bumps
// the version, so concurrent assignments of the same leg collide.
func (s *LoanService) assignTrip(ctx context.Context, id uuid.UUID, required domain.LoanStatus, updates map[string]interface{}) (*models.Loan, error) {
	var out *models.Loan
	err := withStaleRetry(s.workflow.StaleRetryAttempts, func() error {
		loan, err := s.loanRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}

		current, ok := domain.NormalizeLoanStatus(loan.Status)
		if !ok {
			return domain.Errorf(domain.KindValidation, "loan %s has unknown status %q", id, loan.Status)
		}
		if current != required {
			return domain.Errorf(domain.KindInvalidTransition,
				"loan %s must be %s to assign a trip, is %s", id, required, current)
		}

		err = s.runner(ctx, func(tx *gorm.DB) error {
			return s.loanRepo.WithTx(tx).TransitionCAS(ctx, loan, required, updates)
		})
		if err != nil {
			return err
		}
		out = loan
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.cache.Delete(ctx, cache.GetLoanCacheKey(id)); err != nil {
		log.Debug().Err(err).Msg("failed to invalidate loan cache")
	}
	return out, nil
}

// dispatch hands a trip request to the transport service. Scheduling is
// fire-and-forget; a failure is logged and never rolls the loan back.
func (s *LoanService) dispatch(ctx context.Context, cmd messaging.DispatchCommand) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, cmd); err != nil {
		log.Error().Err(err).
			Str("loan_id", cmd.LoanID.String()).
			Str("trip_ref", cmd.TripRef).
			Msg("failed to dispatch trip")
	}
}

// approvedQuantity returns the quantity fixed at acceptance
func approvedQuantity(loan *models.Loan) (decimal.Decimal, error) {
	if loan.QuantityApprovedKg == nil {
		return decimal.Zero, domain.Errorf(domain.KindValidation,
			"loan %s has no approved quantity", loan.ID)
	}
	return *loan.QuantityApprovedKg, nil
}

func quantityString(q *decimal.Decimal) string {
	if q == nil {
		return ""
	}
	return q.String()
}
