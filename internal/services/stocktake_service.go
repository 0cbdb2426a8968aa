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
	"example.com/backstage/services/inventory/internal/metrics"
	"example.com/backstage/services/inventory/internal/models"
	"example.com/backstage/services/inventory/internal/repositories"
	"example.com/backstage/services/inventory/internal/search"
	"example.com/backstage/services/inventory/internal/tracing"
)

// StockTakeService reconciles physical counts against the ledger. Completing
// a stock take emits one signed adjustment per non-zero variance, all inside
// the same commit that closes the stock take.
type StockTakeService struct {
	runner        repositories.TxRunner
	stockTakeRepo repositories.StockTakeRepository
	ledgerRepo    repositories.LedgerRepository
	catalogRepo   repositories.CatalogRepository
	cache         *cache.RedisCache
	audit         AuditIndexer
	tracer        tracing.Tracer
	metrics       *metrics.Metrics
	workflow      config.WorkflowConfig
}

// NewStockTakeService creates a new stock take service
func NewStockTakeService(
	db *gorm.DB,
	redisCache *cache.RedisCache,
	audit AuditIndexer,
	tracer tracing.Tracer,
	m *metrics.Metrics,
	workflow config.WorkflowConfig,
) *StockTakeService {
	return &StockTakeService{
		runner:        repositories.GormTxRunner(db),
		stockTakeRepo: repositories.NewStockTakeRepository(db),
		ledgerRepo:    repositories.NewLedgerRepository(db),
		catalogRepo:   repositories.NewCatalogRepository(db),
		cache:         redisCache,
		audit:         audit,
		tracer:        tracer,
		metrics:       m,
		workflow:      workflow,
	}
}

// StockTakeView is a stock take with its derived progress
type StockTakeView struct {
	models.StockTake
	TotalLines   int `json:"total_lines"`
	CountedLines int `json:"counted_lines"`
	ProgressPct  int `json:"progress_pct"`
}

// Start snapshots every on-hand balance at the location into expected lines
// and opens the stock take. Counts are compared against this snapshot, not
// against balances at completion time.
func (s *StockTakeService) Start(ctx context.Context, locationID uuid.UUID, startedBy string) (*StockTakeView, error) {
	txn := s.tracer.StartTransaction("start-stock-take")
	defer s.tracer.EndTransaction(txn)

	if startedBy == "" {
		return nil, domain.Errorf(domain.KindValidation, "started_by is required")
	}
	if _, err := s.catalogRepo.GetLocation(ctx, locationID); err != nil {
		return nil, err
	}

	levels, err := s.ledgerRepo.ListLevels(ctx, locationID)
	if err != nil {
		return nil, err
	}

	stockTake := &models.StockTake{
		ID:         uuid.New(),
		LocationID: locationID,
		StartedBy:  startedBy,
		Status:     string(domain.StockTakeInProgress),
	}
	for _, level := range levels {
		stockTake.Lines = append(stockTake.Lines, models.StockTakeLine{
			ID:          uuid.New(),
			StockTakeID: stockTake.ID,
			ItemID:      level.ItemID,
			ExpectedKg:  level.OnHandKg,
		})
	}

	if err := s.stockTakeRepo.Create(ctx, stockTake); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter("stock_takes.started")
	log.Info().
		Str("stock_take_id", stockTake.ID.String()).
		Str("location_id", locationID.String()).
		Int("lines", len(stockTake.Lines)).
		Msg("stock take started")
	return s.viewOf(stockTake), nil
}

// Get returns a stock take with derived progress
func (s *StockTakeService) Get(ctx context.Context, id uuid.UUID) (*StockTakeView, error) {
	stockTake := &models.StockTake{}
	cacheKey := cache.GetStockTakeCacheKey(id)
	if err := s.cache.Get(ctx, cacheKey, stockTake); err != nil {
		var dbErr error
		stockTake, dbErr = s.stockTakeRepo.GetByID(ctx, id)
		if dbErr != nil {
			return nil, dbErr
		}
		if err := s.cache.Set(ctx, cacheKey, stockTake, time.Minute); err != nil {
			log.Debug().Err(err).Msg("failed to cache stock take")
		}
	}
	return s.viewOf(stockTake), nil
}

// RecordCount stores the physically counted quantity for one line. Counts
// may be corrected any number of times while the stock take is in progress.
func (s *StockTakeService) RecordCount(ctx context.Context, stockTakeID, lineID uuid.UUID, countedKg decimal.Decimal, notes *string) (*models.StockTakeLine, error) {
	txn := s.tracer.StartTransaction("record-stock-take-count")
	defer s.tracer.EndTransaction(txn)

	if countedKg.IsNegative() {
		return nil, domain.Errorf(domain.KindValidation, "counted quantity must not be negative")
	}

	stockTake, err := s.stockTakeRepo.GetByID(ctx, stockTakeID)
	if err != nil {
		return nil, err
	}
	if stockTake.Status != string(domain.StockTakeInProgress) {
		return nil, domain.Errorf(domain.KindInvalidTransition,
			"stock take %s is already %s", stockTakeID, stockTake.Status)
	}

	line, err := s.stockTakeRepo.GetLineByID(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if line.StockTakeID != stockTakeID {
		return nil, domain.Errorf(domain.KindValidation,
			"line %s does not belong to stock take %s", lineID, stockTakeID)
	}

	now := time.Now()
	updates := map[string]interface{}{
		"counted_kg": countedKg,
		"counted_at": now,
	}
	if notes != nil {
		updates["notes"] = *notes
	}
	if err := s.stockTakeRepo.UpdateLine(ctx, line, updates); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	line.CountedKg = &countedKg
	line.CountedAt = &now
	if notes != nil {
		line.Notes = notes
	}
	s.invalidate(ctx, stockTakeID)
	return line, nil
}

// Complete closes the stock take and reconciles the ledger. Every line must
// be counted first; each non-zero variance becomes one signed adjustment,
// committed atomically with the status change.
func (s *StockTakeService) Complete(ctx context.Context, stockTakeID uuid.UUID, actor string) (*StockTakeView, error) {
	txn := s.tracer.StartTransaction("complete-stock-take")
	defer s.tracer.EndTransaction(txn)

	var out *models.StockTake
	err := withStaleRetry(s.workflow.StaleRetryAttempts, func() error {
		stockTake, err := s.stockTakeRepo.GetByID(ctx, stockTakeID)
		if err != nil {
			return err
		}
		if stockTake.Status != string(domain.StockTakeInProgress) {
			return domain.Errorf(domain.KindInvalidTransition,
				"stock take %s is already %s", stockTakeID, stockTake.Status)
		}

		uncounted, err := s.stockTakeRepo.CountUncounted(ctx, stockTakeID)
		if err != nil {
			return err
		}
		if uncounted > 0 {
			return domain.Errorf(domain.KindIncompleteCount,
				"%d line(s) still uncounted", uncounted)
		}

		now := time.Now()
		err = s.runner(ctx, func(tx *gorm.DB) error {
			updates := map[string]interface{}{"completed_at": now}
			if err := s.stockTakeRepo.WithTx(tx).TransitionCAS(ctx, stockTake, domain.StockTakeCompleted, updates); err != nil {
				return err
			}

			ledger := s.ledgerRepo.WithTx(tx)
			for _, line := range stockTake.Lines {
				if line.CountedKg == nil {
					return domain.Errorf(domain.KindIncompleteCount,
						"line %s has no count", line.ID)
				}
				variance := domain.Variance(line.ExpectedKg, *line.CountedKg)
				if variance.IsZero() {
					continue
				}
				adjustment := &models.StockTransaction{
					LocationID:    stockTake.LocationID,
					ItemID:        line.ItemID,
					QuantityKg:    variance,
					Kind:          models.TxnStockTakeAdjustment,
					ReferenceType: "stock_take",
					ReferenceID:   stockTake.ID,
					Actor:         actor,
					Notes:         line.Notes,
				}
				if err := ledger.Adjust(ctx, adjustment); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = stockTake
		return nil
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		s.metrics.IncrementCounter("stock_takes.complete_failed")
		return nil, err
	}

	s.metrics.IncrementCounter("stock_takes.completed")
	s.invalidate(ctx, stockTakeID)
	indexAudit(ctx, s.audit, &search.AuditDocument{
		ReferenceType: "stock_take",
		ReferenceID:   out.ID.String(),
		Event:         "completed",
		LocationID:    out.LocationID.String(),
		Actor:         actor,
		OccurredAt:    time.Now(),
		Details: map[string]interface{}{
			"lines": len(out.Lines),
		},
	})

	log.Info().
		Str("stock_take_id", out.ID.String()).
		Int("lines", len(out.Lines)).
		Msg("stock take completed")
	return s.viewOf(out), nil
}

// Cancel abandons an in-progress stock take. Recorded counts are kept for
// audit but no adjustments are emitted.
func (s *StockTakeService) Cancel(ctx context.Context, stockTakeID uuid.UUID, actor string) (*StockTakeView, error) {
	txn := s.tracer.StartTransaction("cancel-stock-take")
	defer s.tracer.EndTransaction(txn)

	var out *models.StockTake
	err := withStaleRetry(s.workflow.StaleRetryAttempts, func() error {
		stockTake, err := s.stockTakeRepo.GetByID(ctx, stockTakeID)
		if err != nil {
			return err
		}
		if stockTake.Status != string(domain.StockTakeInProgress) {
			return domain.Errorf(domain.KindInvalidTransition,
				"stock take %s is already %s", stockTakeID, stockTake.Status)
		}

		err = s.runner(ctx, func(tx *gorm.DB) error {
			return s.stockTakeRepo.WithTx(tx).TransitionCAS(ctx, stockTake, domain.StockTakeCancelled, nil)
		})
		if err != nil {
			return err
		}
		out = stockTake
		return nil
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter("stock_takes.cancelled")
	s.invalidate(ctx, stockTakeID)
	log.Info().Str("stock_take_id", out.ID.String()).Msg("stock take cancelled")
	return s.viewOf(out), nil
}

func (s *StockTakeService) invalidate(ctx context.Context, stockTakeID uuid.UUID) {
	if err := s.cache.Delete(ctx, cache.GetStockTakeCacheKey(stockTakeID)); err != nil {
		log.Debug().Err(err).Msg("failed to invalidate stock take cache")
	}
}

func (s *StockTakeService) viewOf(stockTake *models.StockTake) *StockTakeView {
	counted := 0
	for _, line := range stockTake.Lines {
		if line.CountedKg != nil {
			counted++
		}
	}
	return &StockTakeView{
		StockTake:    *stockTake,
		TotalLines:   len(stockTake.Lines),
		CountedLines: counted,
		ProgressPct:  domain.ProgressPct(counted, len(stockTake.Lines)),
	}
}
