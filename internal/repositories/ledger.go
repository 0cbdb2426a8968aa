package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/inventory/internal/domain"
	"example.com/backstage/services/inventory/internal/models"
)

// LedgerRepository is the only path that mutates on-hand stock balances.
// Every adjustment writes exactly one StockTransaction in the same
// database transaction.
type LedgerRepository interface {
	WithTx(tx *gorm.DB) LedgerRepository
	GetLevel(ctx context.Context, locationID, itemID uuid.UUID) (*models.StockLevel, error)
	ListLevels(ctx context.Context, locationID uuid.UUID) ([]models.StockLevel, error)
	Adjust(ctx context.Context, txn *models.StockTransaction) error
	ListTransactions(ctx context.Context, locationID, itemID uuid.UUID, limit int) ([]models.StockTransaction, error)
}

type ledgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) WithTx(tx *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: tx}
}

// GetLevel gets the on-hand balance for one (location, item) pair
func (r *ledgerRepository) GetLevel(ctx context.Context, locationID, itemID uuid.UUID) (*models.StockLevel, error) {
	var level models.StockLevel
	err := r.db.WithContext(ctx).
		Where("location_id = ? AND item_id = ?", locationID, itemID).
		First(&level).Error
	if err != nil {
		return nil, notFound(err, "stock level for item", itemID)
	}
	return &level, nil
}

// ListLevels lists all balances at one location
func (r *ledgerRepository) ListLevels(ctx context.Context, locationID uuid.UUID) ([]models.StockLevel, error) {
	var levels []models.StockLevel
	err := r.db.WithContext(ctx).
		Where("location_id = ?", locationID).
		Order("item_id").
		Find(&levels).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stock levels")
	}
	return levels, nil
}

// Adjust applies txn.QuantityKg to the (location, item) balance as a single
// row-local addition and records the causing transaction. Balances never go
// negative: a decrement past zero fails validation and touches nothing.
func (r *ledgerRepository) Adjust(ctx context.Context, txn *models.StockTransaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	delta := txn.QuantityKg

	if delta.IsNegative() {
		res := r.db.WithContext(ctx).
			Model(&models.StockLevel{}).
			Where("location_id = ? AND item_id = ?", txn.LocationID, txn.ItemID).
			Where("on_hand_kg + ? >= 0", delta).
			Update("on_hand_kg", gorm.Expr("on_hand_kg + ?", delta))
		if res.Error != nil {
			return errors.Wrap(res.Error, "failed to decrement stock level")
		}
		if res.RowsAffected == 0 {
			return domain.Errorf(domain.KindValidation,
				"insufficient stock at location %s for item %s", txn.LocationID, txn.ItemID)
		}
	} else {
		level := &models.StockLevel{
			ID:         uuid.New(),
			LocationID: txn.LocationID,
			ItemID:     txn.ItemID,
			OnHandKg:   delta,
		}
		err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "location_id"}, {Name: "item_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"on_hand_kg": gorm.Expr("stock_levels.on_hand_kg + ?", delta),
				"updated_at": time.Now(),
			}),
		}).Create(level).Error
		if err != nil {
			return errors.Wrap(err, "failed to increment stock level")
		}
	}

	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		return errors.Wrap(err, "failed to record stock transaction")
	}
	return nil
}

// ListTransactions lists the most recent ledger transactions for one pair
func (r *ledgerRepository) ListTransactions(ctx context.Context, locationID, itemID uuid.UUID, limit int) ([]models.StockTransaction, error) {
	var txns []models.StockTransaction
	err := r.db.WithContext(ctx).
		Where("location_id = ? AND item_id = ?", locationID, itemID).
		Order("created_at DESC").
		Limit(limit).
		Find(&txns).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stock transactions")
	}
	return txns, nil
}
