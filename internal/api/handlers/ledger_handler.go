package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"example.com/backstage/services/inventory/internal/services"
)

// LedgerHandler answers stock ledger read queries
type LedgerHandler struct {
	ledgerService *services.LedgerService
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(ledgerService *services.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledgerService: ledgerService}
}

// RegisterRoutes registers the ledger routes
func (h *LedgerHandler) RegisterRoutes(router *gin.Engine) {
	locations := router.Group("/api/v1/locations")
	{
		locations.GET("/:id/stock", h.Levels)
		locations.GET("/:id/stock/:item_id", h.Level)
		locations.GET("/:id/stock/:item_id/transactions", h.Transactions)
	}
}

// Levels lists all balances at one location
func (h *LedgerHandler) Levels(c *gin.Context) {
	locationID, ok := parseID(c, "id")
	if !ok {
		return
	}
	levels, err := h.ledgerService.Levels(c.Request.Context(), locationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"levels": levels})
}

// Level returns the balance for one (location, item) pair
func (h *LedgerHandler) Level(c *gin.Context) {
	locationID, ok := parseID(c, "id")
	if !ok {
		return
	}
	itemID, ok := parseID(c, "item_id")
	if !ok {
		return
	}
	level, err := h.ledgerService.Level(c.Request.Context(), locationID, itemID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, level)
}

// Transactions lists recent ledger entries for one pair
func (h *LedgerHandler) Transactions(c *gin.Context) {
	locationID, ok := parseID(c, "id")
	if !ok {
		return
	}
	itemID, ok := parseID(c, "item_id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	txns, err := h.ledgerService.Transactions(c.Request.Context(), locationID, itemID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}
