package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/backstage/services/inventory/internal/domain"
	"example.com/backstage/services/inventory/internal/models"
)

// StockTakeRepository provides access to stock take aggregates
type StockTakeRepository interface {
	WithTx(tx *gorm.DB) StockTakeRepository
	Create(ctx context.Context, stockTake *models.StockTake) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.StockTake, error)
	GetLineByID(ctx context.Context, lineID uuid.UUID) (*models.StockTakeLine, error)
	UpdateLine(ctx context.Context, line *models.StockTakeLine, updates map[string]interface{}) error
	CountUncounted(ctx context.Context, stockTakeID uuid.UUID) (int64, error)
	TransitionCAS(ctx context.Context, stockTake *models.StockTake, to domain.StockTakeStatus, updates map[string]interface{}) error
}

type stockTakeRepository struct {
	db *gorm.DB
}

// NewStockTakeRepository creates a new stock take repository
func NewStockTakeRepository(db *gorm.DB) StockTakeRepository {
	return &stockTakeRepository{db: db}
}

func (r *stockTakeRepository) WithTx(tx *gorm.DB) StockTakeRepository {
	return &stockTakeRepository{db: tx}
}

// Create creates a stock take with its snapshot lines
func (r *stockTakeRepository) Create(ctx context.Context, stockTake *models.StockTake) error {
	if err := r.db.WithContext(ctx).Create(stockTake).Error; err != nil {
		return errors.Wrap(err, "failed to create stock take")
	}
	return nil
}

// GetByID gets a stock take with its lines
func (r *stockTakeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.StockTake, error) {
	var stockTake models.StockTake
	err := r.db.WithContext(ctx).Preload("Lines").First(&stockTake, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "stock take", id)
	}
	return &stockTake, nil
}

// GetLineByID gets a single stock take line
func (r *stockTakeRepository) GetLineByID(ctx context.Context, lineID uuid.UUID) (*models.StockTakeLine, error) {
	var line models.StockTakeLine
	err := r.db.WithContext(ctx).First(&line, "id = ?", lineID).Error
	if err != nil {
		return nil, notFound(err, "stock take line", lineID)
	}
	return &line, nil
}

// UpdateLine records a count on one line and bumps the parent stock take's
// version, so a completion working from a snapshot taken before this count
// loses its compare-and-set and re-reads.
func (r *stockTakeRepository) UpdateLine(ctx context.Context, line *models.StockTakeLine, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).
		Model(&models.StockTakeLine{}).
		Where("id = ?", line.ID).
		Updates(updates)
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to update stock take line")
	}
	if res.RowsAffected == 0 {
		return domain.Errorf(domain.KindNotFound, "stock take line %s not found", line.ID)
	}

	err := r.db.WithContext(ctx).
		Model(&models.StockTake{}).
		Where("id = ?", line.StockTakeID).
		UpdateColumn("version", gorm.Expr("version + 1")).Error
	if err != nil {
		return errors.Wrap(err, "failed to bump stock take version")
	}
	return nil
}

// CountUncounted returns how many lines still have no counted quantity
func (r *stockTakeRepository) CountUncounted(ctx context.Context, stockTakeID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.StockTakeLine{}).
		Where("stock_take_id = ? AND counted_kg IS NULL", stockTakeID).
		Count(&n).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count uncounted lines")
	}
	return n, nil
}

// TransitionCAS completes or cancels a stock take with a compare-and-set
// on (status, version)
func (r *stockTakeRepository) TransitionCAS(ctx context.Context, stockTake *models.StockTake, to domain.StockTakeStatus, updates map[string]interface{}) error {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = string(to)
	updates["version"] = gorm.Expr("version + 1")

	res := r.db.WithContext(ctx).
		Model(&models.StockTake{}).
		Where("id = ? AND status = ? AND version = ?", stockTake.ID, stockTake.Status, stockTake.Version).
		Updates(updates)
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to transition stock take")
	}
	if res.RowsAffected == 0 {
		return domain.Errorf(domain.KindStaleState,
			"stock take %s changed concurrently, re-fetch and retry", stockTake.ID)
	}

	applyStockTakeUpdates(stockTake, updates)
	stockTake.Status = string(to)
	stockTake.Version++
	return nil
}
