package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"example.com/backstage/services/inventory/internal/services"
	"example.com/backstage/services/inventory/internal/tracing"
)

// StockTakeHandler handles stock take HTTP requests
type StockTakeHandler struct {
	stockTakeService *services.StockTakeService
	tracer           tracing.Tracer
}

// NewStockTakeHandler creates a new stock take handler
func NewStockTakeHandler(stockTakeService *services.StockTakeService, tracer tracing.Tracer) *StockTakeHandler {
	return &StockTakeHandler{stockTakeService: stockTakeService, tracer: tracer}
}

// RegisterRoutes registers the stock take routes
func (h *StockTakeHandler) RegisterRoutes(router *gin.Engine) {
	stockTakes := router.Group("/api/v1/stock-takes")
	{
		stockTakes.POST("", h.Start)
		stockTakes.GET("/:id", h.Get)
		stockTakes.POST("/:id/counts", h.RecordCount)
		stockTakes.POST("/:id/complete", h.Complete)
		stockTakes.POST("/:id/cancel", h.Cancel)
	}
}

// StartStockTakeRequest opens a stock take at one location
type StartStockTakeRequest struct {
	LocationID uuid.UUID `json:"location_id" binding:"required"`
	StartedBy  string    `json:"started_by" binding:"required"`
}

// Start snapshots the location's levels and opens a stock take
func (h *StockTakeHandler) Start(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-start-stock-take")
	defer h.tracer.EndTransaction(txn)

	var req StartStockTakeRequest
	if !bindJSON(c, &req) {
		return
	}
	stockTake, err := h.stockTakeService.Start(c.Request.Context(), req.LocationID, req.StartedBy)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stockTake)
}

// Get returns a stock take with derived progress
func (h *StockTakeHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	stockTake, err := h.stockTakeService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stockTake)
}

// RecordCountRequest stores a physical count for one line
type RecordCountRequest struct {
	LineID    uuid.UUID `json:"line_id" binding:"required"`
	CountedKg string    `json:"counted_kg" binding:"required"`
	Notes     *string   `json:"notes"`
}

// RecordCount stores the counted quantity for one line
func (h *StockTakeHandler) RecordCount(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req RecordCountRequest
	if !bindJSON(c, &req) {
		return
	}
	counted, err := decimal.NewFromString(req.CountedKg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid counted_kg"})
		return
	}

	line, err := h.stockTakeService.RecordCount(c.Request.Context(), id, req.LineID, counted, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, line)
}

// Complete closes the stock take and reconciles the ledger
func (h *StockTakeHandler) Complete(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-complete-stock-take")
	defer h.tracer.EndTransaction(txn)

	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req ActorRequest
	if !bindJSON(c, &req) {
		return
	}
	stockTake, err := h.stockTakeService.Complete(c.Request.Context(), id, req.Actor)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stockTake)
}

// Cancel abandons an in-progress stock take
func (h *StockTakeHandler) Cancel(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req ActorRequest
	if !bindJSON(c, &req) {
		return
	}
	stockTake, err := h.stockTakeService.Cancel(c.Request.Context(), id, req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stockTake)
}
