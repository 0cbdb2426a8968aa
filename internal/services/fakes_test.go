package services

import (
	"context"
	"time"

	"github.com/google/uuid"
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
)

// In-memory fakes standing in for the gorm repositories. They enforce the
// same compare-and-set and non-negative balance rules as the real ones so
// the services can be exercised without a database.

func testRunner() repositories.TxRunner {
	return func(ctx context.Context, fn func(tx *gorm.DB) error) error {
		return fn(nil)
	}
}

func testWorkflow() config.WorkflowConfig {
	return config.WorkflowConfig{
		DiscrepancyToleranceKg:     0.1,
		RequireReceiptConfirmation: true,
		StaleRetryAttempts:         3,
	}
}

func testTracer() tracing.Tracer    { return &tracing.NewRelicTracer{} }
func testMetrics() *metrics.Metrics { return metrics.NewMetrics() }
func testCache() *cache.RedisCache  { return &cache.RedisCache{} }

// ---- ledger ----

type fakeLedgerRepo struct {
	levels map[string]decimal.Decimal
	txns   []models.StockTransaction
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{levels: make(map[string]decimal.Decimal)}
}

func levelKey(locationID, itemID uuid.UUID) string {
	return locationID.String() + "|" + itemID.String()
}

func (f *fakeLedgerRepo) seed(locationID, itemID uuid.UUID, kg string) {
	f.levels[levelKey(locationID, itemID)] = decimal.RequireFromString(kg)
}

func (f *fakeLedgerRepo) balance(locationID, itemID uuid.UUID) decimal.Decimal {
	return f.levels[levelKey(locationID, itemID)]
}

func (f *fakeLedgerRepo) WithTx(tx *gorm.DB) repositories.LedgerRepository { return f }

func (f *fakeLedgerRepo) GetLevel(ctx context.Context, locationID, itemID uuid.UUID) (*models.StockLevel, error) {
	bal, ok := f.levels[levelKey(locationID, itemID)]
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "stock level for item %s not found", itemID)
	}
	return &models.StockLevel{LocationID: locationID, ItemID: itemID, OnHandKg: bal}, nil
}

func (f *fakeLedgerRepo) ListLevels(ctx context.Context, locationID uuid.UUID) ([]models.StockLevel, error) {
	var out []models.StockLevel
	prefix := locationID.String() + "|"
	for key, bal := range f.levels {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			itemID := uuid.MustParse(key[len(prefix):])
			out = append(out, models.StockLevel{LocationID: locationID, ItemID: itemID, OnHandKg: bal})
		}
	}
	return out, nil
}

func (f *fakeLedgerRepo) Adjust(ctx context.Context, txn *models.StockTransaction) error {
	key := levelKey(txn.LocationID, txn.ItemID)
	next := f.levels[key].Add(txn.QuantityKg)
	if next.IsNegative() {
		return domain.Errorf(domain.KindValidation,
			"insufficient stock at location %s for item %s", txn.LocationID, txn.ItemID)
	}
	f.levels[key] = next
	f.txns = append(f.txns, *txn)
	return nil
}

func (f *fakeLedgerRepo) ListTransactions(ctx context.Context, locationID, itemID uuid.UUID, limit int) ([]models.StockTransaction, error) {
	var out []models.StockTransaction
	for _, txn := range f.txns {
		if txn.LocationID == locationID && txn.ItemID == itemID {
			out = append(out, txn)
		}
	}
	return out, nil
}

// ---- catalog ----

type fakeCatalogRepo struct {
	locations map[uuid.UUID]*models.Location
	items     map[uuid.UUID]*models.Item
}

func newFakeCatalogRepo() *fakeCatalogRepo {
	return &fakeCatalogRepo{
		locations: make(map[uuid.UUID]*models.Location),
		items:     make(map[uuid.UUID]*models.Item),
	}
}

func (f *fakeCatalogRepo) addLocation(name string) uuid.UUID {
	id := uuid.New()
	f.locations[id] = &models.Location{ID: id, Name: name}
	return id
}

func (f *fakeCatalogRepo) addItem(sku, unitWeightKg string) uuid.UUID {
	id := uuid.New()
	f.items[id] = &models.Item{ID: id, SKU: sku, Name: sku, UnitWeightKg: decimal.RequireFromString(unitWeightKg)}
	return id
}

func (f *fakeCatalogRepo) GetLocation(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	if loc, ok := f.locations[id]; ok {
		return loc, nil
	}
	return nil, domain.Errorf(domain.KindNotFound, "location %s not found", id)
}

func (f *fakeCatalogRepo) GetItem(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	if item, ok := f.items[id]; ok {
		return item, nil
	}
	return nil, domain.Errorf(domain.KindNotFound, "item %s not found", id)
}

// ---- loans ----

type fakeLoanRepo struct {
	loans     map[uuid.UUID]*models.Loan
	staleOnce bool
}

func newFakeLoanRepo() *fakeLoanRepo {
	return &fakeLoanRepo{loans: make(map[uuid.UUID]*models.Loan)}
}

func (f *fakeLoanRepo) WithTx(tx *gorm.DB) repositories.LoanRepository { return f }

func (f *fakeLoanRepo) Create(ctx context.Context, loan *models.Loan) error {
	stored := *loan
	f.loans[loan.ID] = &stored
	return nil
}

func (f *fakeLoanRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	stored, ok := f.loans[id]
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "loan %s not found", id)
	}
	out := *stored
	return &out, nil
}

func (f *fakeLoanRepo) TransitionCAS(ctx context.Context, loan *models.Loan, to domain.LoanStatus, updates map[string]interface{}) error {
	if f.staleOnce {
		f.staleOnce = false
		return domain.Errorf(domain.KindStaleState, "loan %s changed concurrently, re-fetch and retry", loan.ID)
	}
	stored, ok := f.loans[loan.ID]
	if !ok || stored.Status != loan.Status || stored.Version != loan.Version {
		return domain.Errorf(domain.KindStaleState, "loan %s changed concurrently, re-fetch and retry", loan.ID)
	}

	for key, value := range updates {
		switch key {
		case "quantity_approved_kg":
			q := value.(decimal.Decimal)
			stored.QuantityApprovedKg = &q
		case "rejection_reason":
			r := value.(string)
			stored.RejectionReason = &r
		case "pickup_trip_ref":
			r := value.(string)
			stored.PickupTripRef = &r
		case "return_trip_ref":
			r := value.(string)
			stored.ReturnTripRef = &r
		case "driver_confirmed_at":
			t := value.(time.Time)
			stored.DriverConfirmedAt = &t
		case "actual_return_date":
			t := value.(time.Time)
			stored.ActualReturnDate = &t
		}
	}

	stored.Status = string(to)
	stored.Version++
	*loan = *stored
	return nil
}

func (f *fakeLoanRepo) ListActiveOverdue(ctx context.Context, asOf time.Time) ([]models.Loan, error) {
	var out []models.Loan
	for _, loan := range f.loans {
		if loan.Status == string(domain.LoanActive) && loan.EstimatedReturnDate.Before(asOf) {
			out = append(out, *loan)
		}
	}
	return out, nil
}

// ---- deliveries ----

type fakeDeliveryRepo struct {
	deliveries   map[uuid.UUID]*models.Delivery
	trackedUnits []models.TrackedUnit
	items        map[uuid.UUID]*models.Item
}

func newFakeDeliveryRepo() *fakeDeliveryRepo {
	return &fakeDeliveryRepo{
		deliveries: make(map[uuid.UUID]*models.Delivery),
		items:      make(map[uuid.UUID]*models.Item),
	}
}

func (f *fakeDeliveryRepo) WithTx(tx *gorm.DB) repositories.DeliveryRepository { return f }

func (f *fakeDeliveryRepo) Create(ctx context.Context, delivery *models.Delivery) error {
	stored := *delivery
	f.deliveries[delivery.ID] = &stored
	return nil
}

func (f *fakeDeliveryRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Delivery, error) {
	stored, ok := f.deliveries[id]
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "delivery %s not found", id)
	}
	out := *stored
	if item, ok := f.items[out.ItemID]; ok {
		out.Item = *item
	}
	return &out, nil
}

func (f *fakeDeliveryRepo) TransitionCAS(ctx context.Context, delivery *models.Delivery, to domain.DeliveryStatus, updates map[string]interface{}) error {
	stored, ok := f.deliveries[delivery.ID]
	if !ok || stored.Status != delivery.Status || stored.Version != delivery.Version {
		return domain.Errorf(domain.KindStaleState, "delivery %s changed concurrently, re-fetch and retry", delivery.ID)
	}

	for key, value := range updates {
		switch key {
		case "confirmed_kg":
			q := value.(decimal.Decimal)
			stored.ConfirmedKg = &q
		case "discrepancy_notes":
			n := value.(string)
			stored.DiscrepancyNotes = &n
		case "confirmed_by":
			b := value.(string)
			stored.ConfirmedBy = &b
		}
	}

	stored.Status = string(to)
	stored.Version++
	*delivery = *stored
	return nil
}

func (f *fakeDeliveryRepo) CreateTrackedUnits(ctx context.Context, units []models.TrackedUnit) error {
	f.trackedUnits = append(f.trackedUnits, units...)
	return nil
}

// ---- scan sessions ----

type fakeScanRepo struct {
	sessions map[uuid.UUID]*models.ScanSession
}

func newFakeScanRepo() *fakeScanRepo {
	return &fakeScanRepo{sessions: make(map[uuid.UUID]*models.ScanSession)}
}

func (f *fakeScanRepo) WithTx(tx *gorm.DB) repositories.ScanSessionRepository { return f }

func (f *fakeScanRepo) Create(ctx context.Context, session *models.ScanSession) error {
	stored := *session
	f.sessions[session.ID] = &stored
	return nil
}

func (f *fakeScanRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ScanSession, error) {
	stored, ok := f.sessions[id]
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "scan session %s not found", id)
	}
	out := *stored
	out.Units = append([]models.ScannedUnit(nil), stored.Units...)
	return &out, nil
}

func (f *fakeScanRepo) AddUnit(ctx context.Context, unit *models.ScannedUnit) error {
	stored, ok := f.sessions[unit.SessionID]
	if !ok {
		return domain.Errorf(domain.KindNotFound, "scan session %s not found", unit.SessionID)
	}
	for _, existing := range stored.Units {
		if existing.Barcode == unit.Barcode {
			return domain.Errorf(domain.KindDuplicateUnit, "unit %q already scanned", unit.Barcode)
		}
	}
	stored.Units = append(stored.Units, *unit)
	return nil
}

func (f *fakeScanRepo) RemoveUnit(ctx context.Context, sessionID uuid.UUID, barcode string) error {
	stored, ok := f.sessions[sessionID]
	if !ok {
		return domain.Errorf(domain.KindNotFound, "scan session %s not found", sessionID)
	}
	for i, unit := range stored.Units {
		if unit.Barcode == barcode {
			stored.Units = append(stored.Units[:i], stored.Units[i+1:]...)
			return nil
		}
	}
	return domain.Errorf(domain.KindNotFound, "unit %q not in session", barcode)
}

func (f *fakeScanRepo) MarkConsumed(ctx context.Context, sessionID uuid.UUID) error {
	stored, ok := f.sessions[sessionID]
	if !ok || stored.Consumed || stored.Abandoned {
		return domain.Errorf(domain.KindInvalidTransition,
			"scan session %s already consumed or abandoned", sessionID)
	}
	stored.Consumed = true
	return nil
}

func (f *fakeScanRepo) MarkAbandoned(ctx context.Context, sessionID uuid.UUID) error {
	stored, ok := f.sessions[sessionID]
	if !ok || stored.Consumed {
		return domain.Errorf(domain.KindInvalidTransition,
			"scan session %s already consumed", sessionID)
	}
	stored.Abandoned = true
	return nil
}

// ---- stock takes ----

type fakeStockTakeRepo struct {
	stockTakes map[uuid.UUID]*models.StockTake
}

func newFakeStockTakeRepo() *fakeStockTakeRepo {
	return &fakeStockTakeRepo{stockTakes: make(map[uuid.UUID]*models.StockTake)}
}

func (f *fakeStockTakeRepo) WithTx(tx *gorm.DB) repositories.StockTakeRepository { return f }

func (f *fakeStockTakeRepo) Create(ctx context.Context, stockTake *models.StockTake) error {
	stored := *stockTake
	stored.Lines = append([]models.StockTakeLine(nil), stockTake.Lines...)
	f.stockTakes[stockTake.ID] = &stored
	return nil
}

func (f *fakeStockTakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.StockTake, error) {
	stored, ok := f.stockTakes[id]
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "stock take %s not found", id)
	}
	out := *stored
	out.Lines = append([]models.StockTakeLine(nil), stored.Lines...)
	return &out, nil
}

func (f *fakeStockTakeRepo) GetLineByID(ctx context.Context, lineID uuid.UUID) (*models.StockTakeLine, error) {
	for _, stockTake := range f.stockTakes {
		for i := range stockTake.Lines {
			if stockTake.Lines[i].ID == lineID {
				out := stockTake.Lines[i]
				return &out, nil
			}
		}
	}
	return nil, domain.Errorf(domain.KindNotFound, "stock take line %s not found", lineID)
}

func (f *fakeStockTakeRepo) UpdateLine(ctx context.Context, line *models.StockTakeLine, updates map[string]interface{}) error {
	stockTake, ok := f.stockTakes[line.StockTakeID]
	if !ok {
		return domain.Errorf(domain.KindNotFound, "stock take %s not found", line.StockTakeID)
	}
	for i := range stockTake.Lines {
		if stockTake.Lines[i].ID != line.ID {
			continue
		}
		for key, value := range updates {
			switch key {
			case "counted_kg":
				q := value.(decimal.Decimal)
				stockTake.Lines[i].CountedKg = &q
			case "counted_at":
				t := value.(time.Time)
				stockTake.Lines[i].CountedAt = &t
			case "notes":
				n := value.(string)
				stockTake.Lines[i].Notes = &n
			}
		}
		stockTake.Version++
		return nil
	}
	return domain.Errorf(domain.KindNotFound, "stock take line %s not found", line.ID)
}

func (f *fakeStockTakeRepo) CountUncounted(ctx context.Context, stockTakeID uuid.UUID) (int64, error) {
	stored, ok := f.stockTakes[stockTakeID]
	if !ok {
		return 0, domain.Errorf(domain.KindNotFound, "stock take %s not found", stockTakeID)
	}
	var n int64
	for _, line := range stored.Lines {
		if line.CountedKg == nil {
			n++
		}
	}
	return n, nil
}

func (f *fakeStockTakeRepo) TransitionCAS(ctx context.Context, stockTake *models.StockTake, to domain.StockTakeStatus, updates map[string]interface{}) error {
	stored, ok := f.stockTakes[stockTake.ID]
	if !ok || stored.Status != stockTake.Status || stored.Version != stockTake.Version {
		return domain.Errorf(domain.KindStaleState, "stock take %s changed concurrently, re-fetch and retry", stockTake.ID)
	}
	for key, value := range updates {
		if key == "completed_at" {
			t := value.(time.Time)
			stored.CompletedAt = &t
		}
	}
	stored.Status = string(to)
	stored.Version++
	lines := stockTake.Lines
	*stockTake = *stored
	stockTake.Lines = lines
	return nil
}

// ---- outbound collaborators ----

type capturingNotifier struct {
	notifications []messaging.Notification
}

func (c *capturingNotifier) Notify(ctx context.Context, notification messaging.Notification) error {
	c.notifications = append(c.notifications, notification)
	return nil
}

type capturingDispatcher struct {
	commands []messaging.DispatchCommand
}

func (c *capturingDispatcher) Dispatch(ctx context.Context, cmd messaging.DispatchCommand) error {
	c.commands = append(c.commands, cmd)
	return nil
}

type capturingIndexer struct {
	docs []*search.AuditDocument
}

func (c *capturingIndexer) IndexAuditEvent(ctx context.Context, doc *search.AuditDocument) error {
	c.docs = append(c.docs, doc)
	return nil
}
