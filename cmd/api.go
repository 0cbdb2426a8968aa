package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"example.com/backstage/services/inventory/config"
	"example.com/backstage/services/inventory/internal/api"
	"example.com/backstage/services/inventory/internal/cache"
	"example.com/backstage/services/inventory/internal/database"
	"example.com/backstage/services/inventory/internal/messaging"
	"example.com/backstage/services/inventory/internal/metrics"
	"example.com/backstage/services/inventory/internal/search"
	"example.com/backstage/services/inventory/internal/services"
	"example.com/backstage/services/inventory/internal/tracing"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server for the stock workflow endpoints`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Error().Err(err).Msg("Failed to close database connection")
		}
	}()

	deps, err := buildDependencies(cfg, db)
	if err != nil {
		return err
	}
	defer deps.close()

	server := api.NewServer(
		cfg,
		deps.loanService,
		deps.deliveryService,
		deps.scanService,
		deps.stockTakeService,
		deps.ledgerService,
		deps.metrics,
		deps.tracer,
	)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	<-ctx.Done()

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}

// dependencies bundles the shared service graph used by both commands
type dependencies struct {
	loanService      *services.LoanService
	deliveryService  *services.DeliveryService
	scanService      *services.ScanService
	stockTakeService *services.StockTakeService
	ledgerService    *services.LedgerService
	metrics          *metrics.Metrics
	tracer           tracing.Tracer
	bus              *messaging.ServiceBus
	cache            *cache.RedisCache
}

func buildDependencies(cfg config.Config, db *gorm.DB) (*dependencies, error) {
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		redisCache, _ = cache.NewRedisCache(config.RedisConfig{Enabled: false})
	}

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		return nil, err
	}

	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without audit indexing")
		elasticClient = nil
	}

	var bus *messaging.ServiceBus
	var notifier services.Notifier
	var dispatcher services.TripDispatcher
	if cfg.Azure.ConnStr != "" {
		bus, err = messaging.NewServiceBus(cfg.Azure)
		if err != nil {
			return nil, err
		}
		notifier = messaging.NewBusNotifier(bus, cfg.Azure.NotificationsQueue)
		dispatcher = messaging.NewBusTripDispatcher(bus, cfg.Azure.DispatchQueue)
	} else {
		log.Warn().Msg("Azure Service Bus not configured, notifications and trip dispatch are disabled")
	}

	metricsCollector := metrics.NewMetrics()

	var audit services.AuditIndexer
	if elasticClient != nil {
		audit = elasticClient
	}

	return &dependencies{
		loanService:      services.NewLoanService(db, redisCache, notifier, dispatcher, audit, tracer, metricsCollector, cfg.Workflow),
		deliveryService:  services.NewDeliveryService(db, redisCache, notifier, audit, tracer, metricsCollector, cfg.Workflow),
		scanService:      services.NewScanService(db, tracer, metricsCollector),
		stockTakeService: services.NewStockTakeService(db, redisCache, audit, tracer, metricsCollector, cfg.Workflow),
		ledgerService:    services.NewLedgerService(db),
		metrics:          metricsCollector,
		tracer:           tracer,
		bus:              bus,
		cache:            redisCache,
	}, nil
}

func (d *dependencies) close() {
	if d.bus != nil {
		if err := d.bus.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close service bus")
		}
	}
	if err := d.cache.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close Redis cache")
	}
	d.tracer.Close()
}
