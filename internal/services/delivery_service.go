package services

import (
	"context"
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

// DeliveryService reconciles driver drop-off claims against the receiving
// manager's confirmation. Stock enters the ledger only on confirmation, and
// the confirmation plus its ledger entry commit atomically.
type DeliveryService struct {
	runner       repositories.TxRunner
	deliveryRepo repositories.DeliveryRepository
	ledgerRepo   repositories.LedgerRepository
	catalogRepo  repositories.CatalogRepository
	scanRepo     repositories.ScanSessionRepository
	cache        *cache.RedisCache
	notifier     Notifier
	audit        AuditIndexer
	tracer       tracing.Tracer
	metrics      *metrics.Metrics
	workflow     config.WorkflowConfig
}

// NewDeliveryService creates a new delivery service
func NewDeliveryService(
	db *gorm.DB,
	redisCache *cache.RedisCache,
	notifier Notifier,
	audit AuditIndexer,
	tracer tracing.Tracer,
	m *metrics.Metrics,
	workflow config.WorkflowConfig,
) *DeliveryService {
	return &DeliveryService{
		runner:       repositories.GormTxRunner(db),
		deliveryRepo: repositories.NewDeliveryRepository(db),
		ledgerRepo:   repositories.NewLedgerRepository(db),
		catalogRepo:  repositories.NewCatalogRepository(db),
		scanRepo:     repositories.NewScanSessionRepository(db),
		cache:        redisCache,
		notifier:     notifier,
		audit:        audit,
		tracer:       tracer,
		metrics:      m,
		workflow:     workflow,
	}
}

// RecordClaimInput is the driver's drop-off claim
type RecordClaimInput struct {
	TripRef              string          `json:"trip_ref" validate:"required"`
	RequestingLocationID uuid.UUID       `json:"requesting_location_id" validate:"required"`
	ItemID               uuid.UUID       `json:"item_id" validate:"required"`
	DriverClaimedKg      decimal.Decimal `json:"driver_claimed_kg" validate:"required"`
	SupplierRef          *string         `json:"supplier_ref"`
	RequestRef           *string         `json:"request_ref"`
}

// ConfirmDeliveryInput is the receiving manager's confirmation
type ConfirmDeliveryInput struct {
	DeliveryID  uuid.UUID       `json:"delivery_id" validate:"required"`
	ConfirmedKg decimal.Decimal `json:"confirmed_kg"`
	Notes       *string         `json:"notes"`
	ConfirmedBy string          `json:"confirmed_by" validate:"required"`
	Barcodes    []string        `json:"barcodes"`
}

// RecordClaim stores a driver's drop-off claim as a pending delivery. The
// ledger is untouched until confirmation.
func (s *DeliveryService) RecordClaim(ctx context.Context, input RecordClaimInput) (*models.Delivery, error) {
	txn := s.tracer.StartTransaction("record-delivery-claim")
	defer s.tracer.EndTransaction(txn)

	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	if !input.DriverClaimedKg.IsPositive() {
		return nil, domain.Errorf(domain.KindValidation, "claimed quantity must be positive")
	}

	if _, err := s.catalogRepo.GetLocation(ctx, input.RequestingLocationID); err != nil {
		return nil, err
	}
	if _, err := s.catalogRepo.GetItem(ctx, input.ItemID); err != nil {
		return nil, err
	}

	delivery := &models.Delivery{
		ID:                   uuid.New(),
		TripRef:              input.TripRef,
		RequestingLocationID: input.RequestingLocationID,
		ItemID:               input.ItemID,
		SupplierRef:          input.SupplierRef,
		RequestRef:           input.RequestRef,
		DriverClaimedKg:      input.DriverClaimedKg,
		Status:               string(domain.DeliveryPending),
	}

	if err := s.deliveryRepo.Create(ctx, delivery); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter("deliveries.claimed")
	notify(ctx, s.notifier, messaging.Notification{
		Kind:        "delivery_claimed",
		LocationID:  delivery.RequestingLocationID,
		ReferenceID: delivery.ID,
		Subject:     "Delivery awaiting confirmation",
		Body:        "A driver recorded a drop-off of " + input.DriverClaimedKg.String() + " kg",
	})

	log.Info().
		Str("delivery_id", delivery.ID.String()).
		Str("trip_ref", delivery.TripRef).
		Msg("delivery claim recorded")
	return delivery, nil
}

// Get returns a delivery by ID
func (s *DeliveryService) Get(ctx context.Context, id uuid.UUID) (*models.Delivery, error) {
	delivery := &models.Delivery{}
	cacheKey := cache.GetDeliveryCacheKey(id)
	if err := s.cache.Get(ctx, cacheKey, delivery); err != nil {
		var dbErr error
		delivery, dbErr = s.deliveryRepo.GetByID(ctx, id)
		if dbErr != nil {
			return nil, dbErr
		}
		if err := s.cache.Set(ctx, cacheKey, delivery, 5*time.Minute); err != nil {
			log.Debug().Err(err).Msg("failed to cache delivery")
		}
	}
	return delivery, nil
}

// Confirm reconciles the manager's confirmed quantity against the driver's
// claim and commits the stock into the ledger. A discrepancy above the
// configured tolerance requires explanatory notes. A replayed confirmation
// loses the compare-and-set and never double-applies stock.
func (s *DeliveryService) Confirm(ctx context.Context, input ConfirmDeliveryInput) (*models.Delivery, error) {
	txn := s.tracer.StartTransaction("confirm-delivery")
	defer s.tracer.EndTransaction(txn)

	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	if !input.ConfirmedKg.IsPositive() {
		return nil, domain.Errorf(domain.KindValidation,
			"confirmed quantity must be positive, reject the delivery if nothing arrived")
	}

	var out *models.Delivery
	err := withStaleRetry(s.workflow.StaleRetryAttempts, func() error {
		delivery, err := s.deliveryRepo.GetByID(ctx, input.DeliveryID)
		if err != nil {
			return err
		}
		if delivery.Status != string(domain.DeliveryPending) {
			return domain.Errorf(domain.KindInvalidTransition,
				"delivery %s is already %s", delivery.ID, delivery.Status)
		}

		tolerance := decimal.NewFromFloat(s.workflow.DiscrepancyToleranceKg)
		if domain.NotesRequired(delivery.DriverClaimedKg, input.ConfirmedKg, tolerance) {
			if input.Notes == nil || *input.Notes == "" {
				return domain.Errorf(domain.KindValidation,
					"discrepancy of %s kg exceeds tolerance of %s kg, notes are required",
					domain.Discrepancy(delivery.DriverClaimedKg, input.ConfirmedKg).String(),
					tolerance.String())
			}
		}

		updates := map[string]interface{}{
			"confirmed_kg": input.ConfirmedKg,
			"confirmed_by": input.ConfirmedBy,
		}
		if input.Notes != nil {
			updates["discrepancy_notes"] = *input.Notes
		}

		err = s.runner(ctx, func(tx *gorm.DB) error {
			if err := s.deliveryRepo.WithTx(tx).TransitionCAS(ctx, delivery, domain.DeliveryConfirmed, updates); err != nil {
				return err
			}

			ledgerTxn := &models.StockTransaction{
				ID:            uuid.New(),
				LocationID:    delivery.RequestingLocationID,
				ItemID:        delivery.ItemID,
				QuantityKg:    input.ConfirmedKg,
				Kind:          models.TxnDeliveryConfirmed,
				ReferenceType: "delivery",
				ReferenceID:   delivery.ID,
				Actor:         input.ConfirmedBy,
				Notes:         input.Notes,
			}
			if err := s.ledgerRepo.WithTx(tx).Adjust(ctx, ledgerTxn); err != nil {
				return err
			}

			units := make([]models.TrackedUnit, 0, len(input.Barcodes))
			for _, barcode := range input.Barcodes {
				units = append(units, models.TrackedUnit{
					ID:            uuid.New(),
					LocationID:    delivery.RequestingLocationID,
					ItemID:        delivery.ItemID,
					Barcode:       barcode,
					TransactionID: ledgerTxn.ID,
				})
			}
			return s.deliveryRepo.WithTx(tx).CreateTrackedUnits(ctx, units)
		})
		if err != nil {
			return err
		}
		out = delivery
		return nil
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		s.metrics.IncrementCounter("deliveries.confirm_failed")
		return nil, err
	}

	s.metrics.IncrementCounter("deliveries.confirmed")
	s.invalidate(ctx, out.ID)
	indexAudit(ctx, s.audit, &search.AuditDocument{
		ReferenceType: "delivery",
		ReferenceID:   out.ID.String(),
		Event:         "confirmed",
		LocationID:    out.RequestingLocationID.String(),
		ItemID:        out.ItemID.String(),
		QuantityKg:    input.ConfirmedKg.String(),
		Actor:         input.ConfirmedBy,
		OccurredAt:    time.Now(),
	})

	log.Info().
		Str("delivery_id", out.ID.String()).
		Str("confirmed_kg", input.ConfirmedKg.String()).
		Msg("delivery confirmed")
	return out, nil
}

// ConfirmFromScan finalizes a scan session and confirms the delivery with
// the quantity derived from the scanned count. The session consumption, the
// confirmation and the ledger entry commit together.
func (s *DeliveryService) ConfirmFromScan(ctx context.Context, deliveryID, sessionID uuid.UUID, notes *string, confirmedBy string) (*models.Delivery, error) {
	span := s.tracer.StartTransaction("confirm-delivery-from-scan")
	defer s.tracer.EndTransaction(span)

	session, err := s.scanRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.DeliveryID != deliveryID {
		return nil, domain.Errorf(domain.KindValidation,
			"scan session %s does not belong to delivery %s", sessionID, deliveryID)
	}

	barcodes := make([]string, 0, len(session.Units))
	for _, unit := range session.Units {
		barcodes = append(barcodes, unit.Barcode)
	}
	restored, err := domain.RestoreScanSession(session.UnitWeightKg, barcodes, session.Consumed)
	if err != nil {
		return nil, err
	}
	count, totalKg, err := restored.Finalize()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, domain.Errorf(domain.KindValidation,
			"scan session %s has no scanned units, reject the delivery if nothing arrived", sessionID)
	}

	var out *models.Delivery
	err = withStaleRetry(s.workflow.StaleRetryAttempts, func() error {
		delivery, err := s.deliveryRepo.GetByID(ctx, deliveryID)
		if err != nil {
			return err
		}
		if delivery.Status != string(domain.DeliveryPending) {
			return domain.Errorf(domain.KindInvalidTransition,
				"delivery %s is already %s", delivery.ID, delivery.Status)
		}

		tolerance := decimal.NewFromFloat(s.workflow.DiscrepancyToleranceKg)
		if domain.NotesRequired(delivery.DriverClaimedKg, totalKg, tolerance) {
			if notes == nil || *notes == "" {
				return domain.Errorf(domain.KindValidation,
					"discrepancy of %s kg exceeds tolerance of %s kg, notes are required",
					domain.Discrepancy(delivery.DriverClaimedKg, totalKg).String(),
					tolerance.String())
			}
		}

		updates := map[string]interface{}{
			"confirmed_kg": totalKg,
			"confirmed_by": confirmedBy,
		}
		if notes != nil {
			updates["discrepancy_notes"] = *notes
		}

		err = s.runner(ctx, func(tx *gorm.DB) error {
			if err := s.scanRepo.WithTx(tx).MarkConsumed(ctx, sessionID); err != nil {
				return err
			}
			if err := s.deliveryRepo.WithTx(tx).TransitionCAS(ctx, delivery, domain.DeliveryConfirmed, updates); err != nil {
				return err
			}

			ledgerTxn := &models.StockTransaction{
				ID:            uuid.New(),
				LocationID:    delivery.RequestingLocationID,
				ItemID:        delivery.ItemID,
				QuantityKg:    totalKg,
				Kind:          models.TxnDeliveryConfirmed,
				ReferenceType: "delivery",
				ReferenceID:   delivery.ID,
				Actor:         confirmedBy,
				Notes:         notes,
			}
			if err := s.ledgerRepo.WithTx(tx).Adjust(ctx, ledgerTxn); err != nil {
				return err
			}

			units := make([]models.TrackedUnit, 0, len(barcodes))
			for _, barcode := range barcodes {
				units = append(units, models.TrackedUnit{
					ID:            uuid.New(),
					LocationID:    delivery.RequestingLocationID,
					ItemID:        delivery.ItemID,
					Barcode:       barcode,
					TransactionID: ledgerTxn.ID,
				})
			}
			return s.deliveryRepo.WithTx(tx).CreateTrackedUnits(ctx, units)
		})
		if err != nil {
			return err
		}
		out = delivery
		return nil
	})
	if err != nil {
		s.tracer.RecordError(span, err)
		return nil, err
	}

	s.metrics.IncrementCounter("deliveries.confirmed_from_scan")
	s.invalidate(ctx, out.ID)

	log.Info().
		Str("delivery_id", out.ID.String()).
		Int("units", count).
		Str("confirmed_kg", totalKg.String()).
		Msg("delivery confirmed from scan session")
	return out, nil
}

// Reject refuses a pending delivery. The ledger is never touched, the
// refusal reason is mandatory, and when the delivery originated from a stock
// request the requesting location is told the request was cancelled.
func (s *DeliveryService) Reject(ctx context.Context, deliveryID uuid.UUID, notes, actor string) (*models.Delivery, error) {
	txn := s.tracer.StartTransaction("reject-delivery")
	defer s.tracer.EndTransaction(txn)

	if notes == "" {
		return nil, domain.Errorf(domain.KindValidation, "rejection notes are required")
	}

	var out *models.Delivery
	err := withStaleRetry(s.workflow.StaleRetryAttempts, func() error {
		delivery, err := s.deliveryRepo.GetByID(ctx, deliveryID)
		if err != nil {
			return err
		}
		if delivery.Status != string(domain.DeliveryPending) {
			return domain.Errorf(domain.KindInvalidTransition,
				"delivery %s is already %s", delivery.ID, delivery.Status)
		}

		updates := map[string]interface{}{
			"discrepancy_notes": notes,
			"confirmed_by":      actor,
		}
		err = s.runner(ctx, func(tx *gorm.DB) error {
			return s.deliveryRepo.WithTx(tx).TransitionCAS(ctx, delivery, domain.DeliveryRejected, updates)
		})
		if err != nil {
			return err
		}
		out = delivery
		return nil
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter("deliveries.rejected")
	s.invalidate(ctx, out.ID)
	if out.RequestRef != nil {
		notify(ctx, s.notifier, messaging.Notification{
			Kind:        "stock_request_cancelled",
			LocationID:  out.RequestingLocationID,
			ReferenceID: out.ID,
			Subject:     "Stock request cancelled",
			Body:        "Request " + *out.RequestRef + " was cancelled after its delivery was rejected: " + notes,
		})
	}

	log.Info().Str("delivery_id", out.ID.String()).Msg("delivery rejected")
	return out, nil
}

func (s *DeliveryService) invalidate(ctx context.Context, deliveryID uuid.UUID) {
	if err := s.cache.Delete(ctx, cache.GetDeliveryCacheKey(deliveryID)); err != nil {
		log.Debug().Err(err).Msg("failed to invalidate delivery cache")
	}
}
