package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"example.com/backstage/services/inventory/internal/models"
	"example.com/backstage/services/inventory/internal/repositories"
)

// LedgerService answers read queries against the stock ledger. All writes
// happen through the workflow services; this service never mutates.
type LedgerService struct {
	ledgerRepo  repositories.LedgerRepository
	catalogRepo repositories.CatalogRepository
}

// NewLedgerService creates a new ledger query service
func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{
		ledgerRepo:  repositories.NewLedgerRepository(db),
		catalogRepo: repositories.NewCatalogRepository(db),
	}
}

// StockLevelView is one on-hand balance with its derived bag count
type StockLevelView struct {
	LocationID uuid.UUID       `json:"location_id"`
	ItemID     uuid.UUID       `json:"item_id"`
	OnHandKg   decimal.Decimal `json:"on_hand_kg"`
	// OnHandBags is on_hand_kg divided by the item's unit weight, kept for
	// display alongside the authoritative kilogram figure.
	OnHandBags *decimal.Decimal `json:"on_hand_bags,omitempty"`
}

// Level returns the balance for one (location, item) pair
func (s *LedgerService) Level(ctx context.Context, locationID, itemID uuid.UUID) (*StockLevelView, error) {
	level, err := s.ledgerRepo.GetLevel(ctx, locationID, itemID)
	if err != nil {
		return nil, err
	}
	item, err := s.catalogRepo.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return viewOfLevel(level, item), nil
}

// Levels returns all balances at one location
func (s *LedgerService) Levels(ctx context.Context, locationID uuid.UUID) ([]StockLevelView, error) {
	if _, err := s.catalogRepo.GetLocation(ctx, locationID); err != nil {
		return nil, err
	}
	levels, err := s.ledgerRepo.ListLevels(ctx, locationID)
	if err != nil {
		return nil, err
	}

	views := make([]StockLevelView, 0, len(levels))
	for i := range levels {
		item, err := s.catalogRepo.GetItem(ctx, levels[i].ItemID)
		if err != nil {
			return nil, err
		}
		views = append(views, *viewOfLevel(&levels[i], item))
	}
	return views, nil
}

// Transactions returns the most recent ledger entries for one pair
func (s *LedgerService) Transactions(ctx context.Context, locationID, itemID uuid.UUID, limit int) ([]models.StockTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.ledgerRepo.ListTransactions(ctx, locationID, itemID, limit)
}

func viewOfLevel(level *models.StockLevel, item *models.Item) *StockLevelView {
	view := &StockLevelView{
		LocationID: level.LocationID,
		ItemID:     level.ItemID,
		OnHandKg:   level.OnHandKg,
	}
	if item.UnitWeightKg.IsPositive() {
		bags := level.OnHandKg.Div(item.UnitWeightKg)
		view.OnHandBags = &bags
	}
	return view
}
