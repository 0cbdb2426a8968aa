package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/backstage/services/inventory/internal/domain"
	"example.com/backstage/services/inventory/internal/models"
)

// DeliveryRepository provides access to delivery aggregates
type DeliveryRepository interface {
	WithTx(tx *gorm.DB) DeliveryRepository
	Create(ctx context.Context, delivery *models.Delivery) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Delivery, error)
	TransitionCAS(ctx context.Context, delivery *models.Delivery, to domain.DeliveryStatus, updates map[string]interface{}) error
	CreateTrackedUnits(ctx context.Context, units []models.TrackedUnit) error
}

type deliveryRepository struct {
	db *gorm.DB
}

// NewDeliveryRepository creates a new delivery repository
func NewDeliveryRepository(db *gorm.DB) DeliveryRepository {
	return &deliveryRepository{db: db}
}

func (r *deliveryRepository) WithTx(tx *gorm.DB) DeliveryRepository {
	return &deliveryRepository{db: tx}
}

// Create creates a new delivery
func (r *deliveryRepository) Create(ctx context.Context, delivery *models.Delivery) error {
	if err := r.db.WithContext(ctx).Create(delivery).Error; err != nil {
		return errors.Wrap(err, "failed to create delivery")
	}
	return nil
}

// GetByID gets a delivery by ID
func (r *deliveryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Delivery, error) {
	var delivery models.Delivery
	err := r.db.WithContext(ctx).Preload("Item").First(&delivery, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "delivery", id)
	}
	return &delivery, nil
}

// TransitionCAS resolves a pending delivery with a compare-and-set on
// (status, version), so a replayed confirmation can never double-apply.
func (r *deliveryRepository) TransitionCAS(ctx context.Context, delivery *models.Delivery, to domain.DeliveryStatus, updates map[string]interface{}) error {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = string(to)
	updates["version"] = gorm.Expr("version + 1")

	res := r.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("id = ? AND status = ? AND version = ?", delivery.ID, delivery.Status, delivery.Version).
		Updates(updates)
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to transition delivery")
	}
	if res.RowsAffected == 0 {
		return domain.Errorf(domain.KindStaleState,
			"delivery %s changed concurrently, re-fetch and retry", delivery.ID)
	}

	applyDeliveryUpdates(delivery, updates)
	delivery.Status = string(to)
	delivery.Version++
	return nil
}

// CreateTrackedUnits records individually tracked bags under a confirmed
// delivery's ledger transaction
func (r *deliveryRepository) CreateTrackedUnits(ctx context.Context, units []models.TrackedUnit) error {
	if len(units) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&units).Error; err != nil {
		return errors.Wrap(err, "failed to create tracked units")
	}
	return nil
}
