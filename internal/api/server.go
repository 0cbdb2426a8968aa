package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/inventory/config"
	"example.com/backstage/services/inventory/internal/api/handlers"
	"example.com/backstage/services/inventory/internal/metrics"
	"example.com/backstage/services/inventory/internal/services"
	"example.com/backstage/services/inventory/internal/tracing"
)

// Server represents the HTTP server
type Server struct {
	config           config.Config
	router           *gin.Engine
	httpServer       *http.Server
	loanService      *services.LoanService
	deliveryService  *services.DeliveryService
	scanService      *services.ScanService
	stockTakeService *services.StockTakeService
	ledgerService    *services.LedgerService
	metrics          *metrics.Metrics
	tracer           tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.Config,
	loanService *services.LoanService,
	deliveryService *services.DeliveryService,
	scanService *services.ScanService,
	stockTakeService *services.StockTakeService,
	ledgerService *services.LedgerService,
	m *metrics.Metrics,
	tracer tracing.Tracer,
) *Server {
	server := &Server{
		config:           cfg,
		loanService:      loanService,
		deliveryService:  deliveryService,
		scanService:      scanService,
		stockTakeService: stockTakeService,
		ledgerService:    ledgerService,
		metrics:          m,
		tracer:           tracer,
	}

	router := server.setupRouter()
	server.router = router

	server.httpServer = &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  cfg.ServerTimeout,
		WriteTimeout: cfg.ServerTimeout,
	}

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.metrics))

	handlers.NewLoanHandler(s.loanService, s.tracer).RegisterRoutes(router)
	handlers.NewDeliveryHandler(s.deliveryService, s.scanService, s.tracer).RegisterRoutes(router)
	handlers.NewStockTakeHandler(s.stockTakeService, s.tracer).RegisterRoutes(router)
	handlers.NewLedgerHandler(s.ledgerService).RegisterRoutes(router)
	handlers.NewMetricsHandler(s.metrics, s.tracer).RegisterRoutes(router)

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
