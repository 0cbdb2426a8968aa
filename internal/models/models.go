package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Location represents a shop or warehouse holding inventory
type Location struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Name      string         `gorm:"not null" json:"name"`
	Kind      string         `gorm:"not null;default:'shop'" json:"kind"`
	Address   string         `json:"address"`
}

// Item represents a stock-keeping item. Quantities are stored in kilograms;
// bags are a display unit derived via UnitWeightKg.
type Item struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt  `gorm:"index" json:"-"`
	SKU          string          `gorm:"not null;uniqueIndex" json:"sku"`
	Name         string          `gorm:"not null" json:"name"`
	UnitWeightKg decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"unit_weight_kg"`
}

// StockLevel is the authoritative on-hand quantity per (location, item).
// Only ledger adjustments inside reconciliation transactions mutate it.
type StockLevel struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	LocationID uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_stock_levels_location_item" json:"location_id"`
	ItemID     uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_stock_levels_location_item" json:"item_id"`
	OnHandKg   decimal.Decimal `gorm:"type:numeric(14,3);not null;default:0" json:"on_hand_kg"`
}

// Transaction kinds written to the stock ledger
const (
	TxnLoanCollection      = "loan_collection"
	TxnLoanReceipt         = "loan_receipt"
	TxnLoanReturnOut       = "loan_return_out"
	TxnLoanReturnIn        = "loan_return_in"
	TxnDeliveryConfirmed   = "delivery_confirmed"
	TxnStockTakeAdjustment = "stock_take_adjustment"
)

// StockTransaction is the audit record attributing exactly one ledger
// mutation to its causing workflow step.
type StockTransaction struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	LocationID    uuid.UUID       `gorm:"type:uuid;not null;index" json:"location_id"`
	ItemID        uuid.UUID       `gorm:"type:uuid;not null;index" json:"item_id"`
	QuantityKg    decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"quantity_kg"`
	Kind          string          `gorm:"not null" json:"kind"`
	ReferenceType string          `gorm:"not null" json:"reference_type"`
	ReferenceID   uuid.UUID       `gorm:"type:uuid;not null;index" json:"reference_id"`
	Actor         string          `gorm:"not null" json:"actor"`
	Notes         *string         `json:"notes"`
}

// Loan represents a temporary transfer of stock between two locations
type Loan struct {
	ID                  uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt           time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt           gorm.DeletedAt   `gorm:"index" json:"-"`
	BorrowerLocationID  uuid.UUID        `gorm:"type:uuid;not null;index" json:"borrower_location_id"`
	LenderLocationID    uuid.UUID        `gorm:"type:uuid;not null;index" json:"lender_location_id"`
	ItemID              uuid.UUID        `gorm:"type:uuid;not null" json:"item_id"`
	RequestedBy         string           `gorm:"not null" json:"requested_by"`
	QuantityRequestedKg decimal.Decimal  `gorm:"type:numeric(14,3);not null" json:"quantity_requested_kg"`
	QuantityApprovedKg  *decimal.Decimal `gorm:"type:numeric(14,3)" json:"quantity_approved_kg"`
	EstimatedReturnDate time.Time        `gorm:"not null" json:"estimated_return_date"`
	ActualReturnDate    *time.Time       `json:"actual_return_date"`
	Status              string           `gorm:"not null;index" json:"status"`
	Version             int              `gorm:"not null;default:0" json:"version"`
	PickupTripRef       *string          `json:"pickup_trip_ref"`
	ReturnTripRef       *string          `json:"return_trip_ref"`
	RejectionReason     *string          `json:"rejection_reason"`
	DriverConfirmedAt   *time.Time       `json:"driver_confirmed_at"`
	Borrower            Location         `gorm:"foreignKey:BorrowerLocationID" json:"-"`
	Lender              Location         `gorm:"foreignKey:LenderLocationID" json:"-"`
	Item                Item             `gorm:"foreignKey:ItemID" json:"-"`
}

// Delivery represents a driver's drop-off claim and its confirmation. The
// two quantity fields on one record are the two phases of the commit.
type Delivery struct {
	ID                   uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt            time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt            gorm.DeletedAt   `gorm:"index" json:"-"`
	TripRef              string           `gorm:"not null;index" json:"trip_ref"`
	RequestingLocationID uuid.UUID        `gorm:"type:uuid;not null;index" json:"requesting_location_id"`
	ItemID               uuid.UUID        `gorm:"type:uuid;not null" json:"item_id"`
	SupplierRef          *string          `json:"supplier_ref"`
	RequestRef           *string          `json:"request_ref"`
	DriverClaimedKg      decimal.Decimal  `gorm:"type:numeric(14,3);not null" json:"driver_claimed_kg"`
	ConfirmedKg          *decimal.Decimal `gorm:"type:numeric(14,3)" json:"confirmed_kg"`
	DiscrepancyNotes     *string          `json:"discrepancy_notes"`
	ConfirmedBy          *string          `json:"confirmed_by"`
	Status               string           `gorm:"not null;index" json:"status"`
	Version              int              `gorm:"not null;default:0" json:"version"`
	RequestingLocation   Location         `gorm:"foreignKey:RequestingLocationID" json:"-"`
	Item                 Item             `gorm:"foreignKey:ItemID" json:"-"`
}

// ScanSession is the persisted form of a scan aggregation session
type ScanSession struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeliveryID   uuid.UUID       `gorm:"type:uuid;not null;index" json:"delivery_id"`
	UnitWeightKg decimal.Decimal `gorm:"type:numeric(14,3);not null" json:"unit_weight_kg"`
	Consumed     bool            `gorm:"not null;default:false" json:"consumed"`
	Abandoned    bool            `gorm:"not null;default:false" json:"abandoned"`
	Units        []ScannedUnit   `gorm:"foreignKey:SessionID" json:"units"`
}

// ScannedUnit is one unique barcode within a scan session
type ScannedUnit struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_scanned_units_session_barcode" json:"session_id"`
	Barcode   string    `gorm:"not null;uniqueIndex:idx_scanned_units_session_barcode" json:"barcode"`
	Position  int       `gorm:"not null" json:"position"`
}

// TrackedUnit is an individually tracked bag created when a scanned
// delivery is confirmed into the ledger.
type TrackedUnit struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	LocationID    uuid.UUID `gorm:"type:uuid;not null;index" json:"location_id"`
	ItemID        uuid.UUID `gorm:"type:uuid;not null" json:"item_id"`
	Barcode       string    `gorm:"not null;index" json:"barcode"`
	TransactionID uuid.UUID `gorm:"type:uuid;not null" json:"transaction_id"`
}

// StockTake represents a full physical count of one location
type StockTake struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt  `gorm:"index" json:"-"`
	LocationID  uuid.UUID       `gorm:"type:uuid;not null;index" json:"location_id"`
	StartedBy   string          `gorm:"not null" json:"started_by"`
	Status      string          `gorm:"not null;index" json:"status"`
	Version     int             `gorm:"not null;default:0" json:"version"`
	CompletedAt *time.Time      `json:"completed_at"`
	Lines       []StockTakeLine `gorm:"foreignKey:StockTakeID" json:"lines"`
	Location    Location        `gorm:"foreignKey:LocationID" json:"-"`
}

// StockTakeLine holds the expected-vs-counted pair for one item
type StockTakeLine struct {
	ID          uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
	StockTakeID uuid.UUID        `gorm:"type:uuid;not null;index" json:"stock_take_id"`
	ItemID      uuid.UUID        `gorm:"type:uuid;not null" json:"item_id"`
	ExpectedKg  decimal.Decimal  `gorm:"type:numeric(14,3);not null" json:"expected_kg"`
	CountedKg   *decimal.Decimal `gorm:"type:numeric(14,3)" json:"counted_kg"`
	Notes       *string          `json:"notes"`
	CountedAt   *time.Time       `json:"counted_at"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Location{},
		&Item{},
		&StockLevel{},
		&StockTransaction{},
		&Loan{},
		&Delivery{},
		&ScanSession{},
		&ScannedUnit{},
		&TrackedUnit{},
		&StockTake{},
		&StockTakeLine{},
	)

	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
