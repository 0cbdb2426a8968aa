package repositories

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/backstage/services/inventory/internal/domain"
	"example.com/backstage/services/inventory/internal/models"
)

// ScanSessionRepository provides access to scan sessions
type ScanSessionRepository interface {
	WithTx(tx *gorm.DB) ScanSessionRepository
	Create(ctx context.Context, session *models.ScanSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ScanSession, error)
	AddUnit(ctx context.Context, unit *models.ScannedUnit) error
	RemoveUnit(ctx context.Context, sessionID uuid.UUID, barcode string) error
	MarkConsumed(ctx context.Context, sessionID uuid.UUID) error
	MarkAbandoned(ctx context.Context, sessionID uuid.UUID) error
}

type scanSessionRepository struct {
	db *gorm.DB
}

// NewScanSessionRepository creates a new scan session repository
func NewScanSessionRepository(db *gorm.DB) ScanSessionRepository {
	return &scanSessionRepository{db: db}
}

func (r *scanSessionRepository) WithTx(tx *gorm.DB) ScanSessionRepository {
	return &scanSessionRepository{db: tx}
}

// Create creates a new scan session
func (r *scanSessionRepository) Create(ctx context.Context, session *models.ScanSession) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return errors.Wrap(err, "failed to create scan session")
	}
	return nil
}

// GetByID gets a scan session with its units in scan order
func (r *scanSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ScanSession, error) {
	var session models.ScanSession
	err := r.db.WithContext(ctx).
		Preload("Units", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		First(&session, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "scan session", id)
	}
	return &session, nil
}

// AddUnit appends one scanned barcode. The (session, barcode) unique index
// backs the duplicate check against concurrent scans of the same bag.
func (r *scanSessionRepository) AddUnit(ctx context.Context, unit *models.ScannedUnit) error {
	err := r.db.WithContext(ctx).Create(unit).Error
	if err != nil {
		if strings.Contains(err.Error(), "idx_scanned_units_session_barcode") {
			return domain.Errorf(domain.KindDuplicateUnit, "unit %q already scanned", unit.Barcode)
		}
		return errors.Wrap(err, "failed to add scanned unit")
	}
	return nil
}

// RemoveUnit deletes a previously scanned barcode
func (r *scanSessionRepository) RemoveUnit(ctx context.Context, sessionID uuid.UUID, barcode string) error {
	res := r.db.WithContext(ctx).
		Where("session_id = ? AND barcode = ?", sessionID, barcode).
		Delete(&models.ScannedUnit{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to remove scanned unit")
	}
	if res.RowsAffected == 0 {
		return domain.Errorf(domain.KindNotFound, "unit %q not in session", barcode)
	}
	return nil
}

// MarkConsumed consumes the session exactly once
func (r *scanSessionRepository) MarkConsumed(ctx context.Context, sessionID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&models.ScanSession{}).
		Where("id = ? AND consumed = ? AND abandoned = ?", sessionID, false, false).
		Update("consumed", true)
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to consume scan session")
	}
	if res.RowsAffected == 0 {
		return domain.Errorf(domain.KindInvalidTransition,
			"scan session %s already consumed or abandoned", sessionID)
	}
	return nil
}

// MarkAbandoned discards a session before finalization
func (r *scanSessionRepository) MarkAbandoned(ctx context.Context, sessionID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&models.ScanSession{}).
		Where("id = ? AND consumed = ?", sessionID, false).
		Update("abandoned", true)
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to abandon scan session")
	}
	if res.RowsAffected == 0 {
		return domain.Errorf(domain.KindInvalidTransition,
			"scan session %s already consumed", sessionID)
	}
	return nil
}
