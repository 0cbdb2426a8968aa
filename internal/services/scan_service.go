package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"example.com/backstage/services/inventory/internal/domain"
	"example.com/backstage/services/inventory/internal/metrics"
	"example.com/backstage/services/inventory/internal/models"
	"example.com/backstage/services/inventory/internal/repositories"
	"example.com/backstage/services/inventory/internal/tracing"
)

// ScanService manages barcode scan sessions used to count delivered bags.
// Each barcode may appear once per session; the derived quantity is the
// unique count times the item's unit weight.
type ScanService struct {
	scanRepo     repositories.ScanSessionRepository
	deliveryRepo repositories.DeliveryRepository
	tracer       tracing.Tracer
	metrics      *metrics.Metrics
}

// NewScanService creates a new scan service
func NewScanService(db *gorm.DB, tracer tracing.Tracer, m *metrics.Metrics) *ScanService {
	return &ScanService{
		scanRepo:     repositories.NewScanSessionRepository(db),
		deliveryRepo: repositories.NewDeliveryRepository(db),
		tracer:       tracer,
		metrics:      m,
	}
}

// ScanSessionView is a scan session with its derived totals
type ScanSessionView struct {
	ID           uuid.UUID       `json:"id"`
	DeliveryID   uuid.UUID       `json:"delivery_id"`
	UnitWeightKg decimal.Decimal `json:"unit_weight_kg"`
	Units        []string        `json:"units"`
	Count        int             `json:"count"`
	DerivedKg    decimal.Decimal `json:"derived_kg"`
	Consumed     bool            `json:"consumed"`
	Abandoned    bool            `json:"abandoned"`
}

// StartSession opens a scan session for a pending delivery. The unit weight
// is taken from the delivery's item.
func (s *ScanService) StartSession(ctx context.Context, deliveryID uuid.UUID) (*ScanSessionView, error) {
	txn := s.tracer.StartTransaction("start-scan-session")
	defer s.tracer.EndTransaction(txn)

	delivery, err := s.deliveryRepo.GetByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if delivery.Status != string(domain.DeliveryPending) {
		return nil, domain.Errorf(domain.KindInvalidTransition,
			"cannot scan for delivery %s in status %s", delivery.ID, delivery.Status)
	}
	if !delivery.Item.UnitWeightKg.IsPositive() {
		return nil, domain.Errorf(domain.KindValidation,
			"item %s has no unit weight, scanning cannot derive a quantity", delivery.ItemID)
	}

	session := &models.ScanSession{
		ID:           uuid.New(),
		DeliveryID:   deliveryID,
		UnitWeightKg: delivery.Item.UnitWeightKg,
	}
	if err := s.scanRepo.Create(ctx, session); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter("scans.sessions_started")
	log.Info().
		Str("session_id", session.ID.String()).
		Str("delivery_id", deliveryID.String()).
		Msg("scan session started")
	return s.viewOf(session), nil
}

// Session returns a scan session with derived totals
func (s *ScanService) Session(ctx context.Context, sessionID uuid.UUID) (*ScanSessionView, error) {
	session, err := s.scanRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.viewOf(session), nil
}

// AddUnit records one scanned barcode and returns the updated session. A
// barcode already in the session fails with DUPLICATE_UNIT and changes
// nothing.
func (s *ScanService) AddUnit(ctx context.Context, sessionID uuid.UUID, barcode string) (*ScanSessionView, error) {
	txn := s.tracer.StartTransaction("add-scanned-unit")
	defer s.tracer.EndTransaction(txn)

	if barcode == "" {
		return nil, domain.Errorf(domain.KindValidation, "unit identifier must not be empty")
	}

	session, err := s.scanRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Consumed || session.Abandoned {
		return nil, domain.Errorf(domain.KindInvalidTransition,
			"scan session %s is closed", sessionID)
	}

	unit := &models.ScannedUnit{
		ID:        uuid.New(),
		SessionID: sessionID,
		Barcode:   barcode,
		Position:  len(session.Units) + 1,
	}
	if err := s.scanRepo.AddUnit(ctx, unit); err != nil {
		if domain.IsKind(err, domain.KindDuplicateUnit) {
			s.metrics.IncrementCounter("scans.duplicates_rejected")
		}
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	session.Units = append(session.Units, *unit)
	return s.viewOf(session), nil
}

// RemoveUnit deletes a mis-scanned barcode from an open session
func (s *ScanService) RemoveUnit(ctx context.Context, sessionID uuid.UUID, barcode string) (*ScanSessionView, error) {
	txn := s.tracer.StartTransaction("remove-scanned-unit")
	defer s.tracer.EndTransaction(txn)

	session, err := s.scanRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Consumed || session.Abandoned {
		return nil, domain.Errorf(domain.KindInvalidTransition,
			"scan session %s is closed", sessionID)
	}

	if err := s.scanRepo.RemoveUnit(ctx, sessionID, barcode); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	kept := session.Units[:0]
	for _, unit := range session.Units {
		if unit.Barcode != barcode {
			kept = append(kept, unit)
		}
	}
	session.Units = kept
	return s.viewOf(session), nil
}

// Abandon discards an open session without producing a quantity
func (s *ScanService) Abandon(ctx context.Context, sessionID uuid.UUID) error {
	txn := s.tracer.StartTransaction("abandon-scan-session")
	defer s.tracer.EndTransaction(txn)

	if err := s.scanRepo.MarkAbandoned(ctx, sessionID); err != nil {
		s.tracer.RecordError(txn, err)
		return err
	}
	log.Info().Str("session_id", sessionID.String()).Msg("scan session abandoned")
	return nil
}

func (s *ScanService) viewOf(session *models.ScanSession) *ScanSessionView {
	barcodes := make([]string, 0, len(session.Units))
	for _, unit := range session.Units {
		barcodes = append(barcodes, unit.Barcode)
	}
	count := len(barcodes)
	return &ScanSessionView{
		ID:           session.ID,
		DeliveryID:   session.DeliveryID,
		UnitWeightKg: session.UnitWeightKg,
		Units:        barcodes,
		Count:        count,
		DerivedKg:    session.UnitWeightKg.Mul(decimal.NewFromInt(int64(count))),
		Consumed:     session.Consumed,
		Abandoned:    session.Abandoned,
	}
}
