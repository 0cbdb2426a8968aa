package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"example.com/backstage/services/inventory/internal/services"
	"example.com/backstage/services/inventory/internal/tracing"
)

// DeliveryHandler handles delivery reconciliation HTTP requests
type DeliveryHandler struct {
	deliveryService *services.DeliveryService
	scanService     *services.ScanService
	tracer          tracing.Tracer
}

// NewDeliveryHandler creates a new delivery handler
func NewDeliveryHandler(deliveryService *services.DeliveryService, scanService *services.ScanService, tracer tracing.Tracer) *DeliveryHandler {
	return &DeliveryHandler{
		deliveryService: deliveryService,
		scanService:     scanService,
		tracer:          tracer,
	}
}

// RegisterRoutes registers the delivery and scan session routes
func (h *DeliveryHandler) RegisterRoutes(router *gin.Engine) {
	deliveries := router.Group("/api/v1/deliveries")
	{
		deliveries.POST("", h.RecordClaim)
		deliveries.GET("/:id", h.Get)
		deliveries.POST("/:id/confirm", h.Confirm)
		deliveries.POST("/:id/confirm-scan", h.ConfirmFromScan)
		deliveries.POST("/:id/reject", h.Reject)
		deliveries.POST("/:id/scan-sessions", h.StartScanSession)
	}

	sessions := router.Group("/api/v1/scan-sessions")
	{
		sessions.GET("/:id", h.GetScanSession)
		sessions.POST("/:id/units", h.AddScannedUnit)
		sessions.DELETE("/:id/units/:barcode", h.RemoveScannedUnit)
		sessions.POST("/:id/abandon", h.AbandonScanSession)
	}
}

// RecordClaimRequest is the driver's drop-off claim
type RecordClaimRequest struct {
	TripRef              string    `json:"trip_ref" binding:"required"`
	RequestingLocationID uuid.UUID `json:"requesting_location_id" binding:"required"`
	ItemID               uuid.UUID `json:"item_id" binding:"required"`
	DriverClaimedKg      string    `json:"driver_claimed_kg" binding:"required"`
	SupplierRef          *string   `json:"supplier_ref"`
	RequestRef           *string   `json:"request_ref"`
}

// RecordClaim stores a driver's drop-off claim
func (h *DeliveryHandler) RecordClaim(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-record-delivery-claim")
	defer h.tracer.EndTransaction(txn)

	var req RecordClaimRequest
	if !bindJSON(c, &req) {
		return
	}
	claimed, err := decimal.NewFromString(req.DriverClaimedKg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid driver_claimed_kg"})
		return
	}

	delivery, err := h.deliveryService.RecordClaim(c.Request.Context(), services.RecordClaimInput{
		TripRef:              req.TripRef,
		RequestingLocationID: req.RequestingLocationID,
		ItemID:               req.ItemID,
		DriverClaimedKg:      claimed,
		SupplierRef:          req.SupplierRef,
		RequestRef:           req.RequestRef,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, delivery)
}

// Get returns a delivery by ID
func (h *DeliveryHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	delivery, err := h.deliveryService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, delivery)
}

// ConfirmDeliveryRequest is the manager's confirmation
type ConfirmDeliveryRequest struct {
	ConfirmedKg string   `json:"confirmed_kg" binding:"required"`
	Notes       *string  `json:"notes"`
	ConfirmedBy string   `json:"confirmed_by" binding:"required"`
	Barcodes    []string `json:"barcodes"`
}

// Confirm reconciles the delivery and commits stock into the ledger
func (h *DeliveryHandler) Confirm(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-confirm-delivery")
	defer h.tracer.EndTransaction(txn)

	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req ConfirmDeliveryRequest
	if !bindJSON(c, &req) {
		return
	}
	confirmed, err := decimal.NewFromString(req.ConfirmedKg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid confirmed_kg"})
		return
	}

	delivery, err := h.deliveryService.Confirm(c.Request.Context(), services.ConfirmDeliveryInput{
		DeliveryID:  id,
		ConfirmedKg: confirmed,
		Notes:       req.Notes,
		ConfirmedBy: req.ConfirmedBy,
		Barcodes:    req.Barcodes,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, delivery)
}

// ConfirmFromScanRequest confirms a delivery from a finalized scan session
type ConfirmFromScanRequest struct {
	SessionID   uuid.UUID `json:"session_id" binding:"required"`
	Notes       *string   `json:"notes"`
	ConfirmedBy string    `json:"confirmed_by" binding:"required"`
}

// ConfirmFromScan confirms a delivery with the quantity derived from scanning
func (h *DeliveryHandler) ConfirmFromScan(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-confirm-delivery-from-scan")
	defer h.tracer.EndTransaction(txn)

	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req ConfirmFromScanRequest
	if !bindJSON(c, &req) {
		return
	}

	delivery, err := h.deliveryService.ConfirmFromScan(c.Request.Context(), id, req.SessionID, req.Notes, req.ConfirmedBy)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, delivery)
}

// RejectDeliveryRequest carries the mandatory refusal notes
type RejectDeliveryRequest struct {
	Notes string `json:"notes" binding:"required"`
	Actor string `json:"actor" binding:"required"`
}

// Reject refuses a pending delivery without touching the ledger
func (h *DeliveryHandler) Reject(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req RejectDeliveryRequest
	if !bindJSON(c, &req) {
		return
	}
	delivery, err := h.deliveryService.Reject(c.Request.Context(), id, req.Notes, req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, delivery)
}

// StartScanSession opens a scan session for a pending delivery
func (h *DeliveryHandler) StartScanSession(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	session, err := h.scanService.StartSession(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// GetScanSession returns a scan session with derived totals
func (h *DeliveryHandler) GetScanSession(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	session, err := h.scanService.Session(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// AddScannedUnitRequest carries one barcode
type AddScannedUnitRequest struct {
	Barcode string `json:"barcode" binding:"required"`
}

// AddScannedUnit records one scanned barcode
func (h *DeliveryHandler) AddScannedUnit(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req AddScannedUnitRequest
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.scanService.AddUnit(c.Request.Context(), id, req.Barcode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// RemoveScannedUnit deletes a mis-scanned barcode
func (h *DeliveryHandler) RemoveScannedUnit(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	session, err := h.scanService.RemoveUnit(c.Request.Context(), id, c.Param("barcode"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// AbandonScanSession discards an open session
func (h *DeliveryHandler) AbandonScanSession(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.scanService.Abandon(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "abandoned"})
}
