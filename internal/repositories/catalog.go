package repositories

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/backstage/services/inventory/internal/models"
)

// CatalogRepository provides read access to locations and items
type CatalogRepository interface {
	GetLocation(ctx context.Context, id uuid.UUID) (*models.Location, error)
	GetItem(ctx context.Context, id uuid.UUID) (*models.Item, error)
}

type catalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

// GetLocation gets a location by ID
func (r *catalogRepository) GetLocation(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	var location models.Location
	err := r.db.WithContext(ctx).First(&location, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "location", id)
	}
	return &location, nil
}

// GetItem gets an item by ID
func (r *catalogRepository) GetItem(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	var item models.Item
	err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "item", id)
	}
	return &item, nil
}
