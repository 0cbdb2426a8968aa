package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"example.com/backstage/services/inventory/internal/models"
	"example.com/backstage/services/inventory/internal/services"
	"example.com/backstage/services/inventory/internal/tracing"
)

// LoanHandler handles loan workflow HTTP requests
type LoanHandler struct {
	loanService *services.LoanService
	tracer      tracing.Tracer
}

// NewLoanHandler creates a new loan handler
func NewLoanHandler(loanService *services.LoanService, tracer tracing.Tracer) *LoanHandler {
	return &LoanHandler{loanService: loanService, tracer: tracer}
}

// RegisterRoutes registers the loan routes
func (h *LoanHandler) RegisterRoutes(router *gin.Engine) {
	loans := router.Group("/api/v1/loans")
	{
		loans.POST("", h.Request)
		loans.GET("/:id", h.Get)
		loans.POST("/:id/accept", h.Accept)
		loans.POST("/:id/reject", h.Reject)
		loans.POST("/:id/confirm", h.Confirm)
		loans.POST("/:id/pickup/assign", h.AssignPickupDriver)
		loans.POST("/:id/collection", h.ConfirmCollection)
		loans.POST("/:id/receipt", h.ConfirmReceipt)
		loans.POST("/:id/return/initiate", h.InitiateReturn)
		loans.POST("/:id/return/assign", h.AssignReturnDriver)
		loans.POST("/:id/return/confirm", h.ConfirmReturn)
	}
}

// RequestLoanRequest is the request body for a new loan
type RequestLoanRequest struct {
	BorrowerLocationID  uuid.UUID `json:"borrower_location_id" binding:"required"`
	LenderLocationID    uuid.UUID `json:"lender_location_id" binding:"required"`
	ItemID              uuid.UUID `json:"item_id" binding:"required"`
	RequestedBy         string    `json:"requested_by" binding:"required"`
	QuantityRequestedKg string    `json:"quantity_requested_kg" binding:"required"`
	EstimatedReturnDate time.Time `json:"estimated_return_date" binding:"required"`
}

// ActorRequest carries only the acting user
type ActorRequest struct {
	Actor string `json:"actor" binding:"required"`
}

// Request creates a new pending loan
func (h *LoanHandler) Request(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-request-loan")
	defer h.tracer.EndTransaction(txn)

	var req RequestLoanRequest
	if !bindJSON(c, &req) {
		return
	}
	quantity, err := decimal.NewFromString(req.QuantityRequestedKg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quantity_requested_kg"})
		return
	}

	loan, err := h.loanService.RequestLoan(c.Request.Context(), services.RequestLoanInput{
		BorrowerLocationID:  req.BorrowerLocationID,
		LenderLocationID:    req.LenderLocationID,
		ItemID:              req.ItemID,
		RequestedBy:         req.RequestedBy,
		QuantityRequestedKg: quantity,
		EstimatedReturnDate: req.EstimatedReturnDate,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, loan)
}

// Get returns a loan with derived overdue fields
func (h *LoanHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	loan, err := h.loanService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loan)
}

// AcceptLoanRequest is the lender's acceptance, optionally counter-offering
type AcceptLoanRequest struct {
	ApprovedKg string `json:"approved_kg" binding:"required"`
	Actor      string `json:"actor" binding:"required"`
}

// Accept accepts a pending loan
func (h *LoanHandler) Accept(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-accept-loan")
	defer h.tracer.EndTransaction(txn)

	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req AcceptLoanRequest
	if !bindJSON(c, &req) {
		return
	}
	approved, err := decimal.NewFromString(req.ApprovedKg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid approved_kg"})
		return
	}

	loan, err := h.loanService.Accept(c.Request.Context(), id, approved, req.Actor)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loan)
}

// RejectLoanRequest carries the mandatory rejection reason
type RejectLoanRequest struct {
	Reason string `json:"reason" binding:"required"`
	Actor  string `json:"actor" binding:"required"`
}

// Reject terminates a loan from any non-terminal state
func (h *LoanHandler) Reject(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req RejectLoanRequest
	if !bindJSON(c, &req) {
		return
	}
	loan, err := h.loanService.Reject(c.Request.Context(), id, req.Reason, req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loan)
}

// Confirm records the borrower's confirmation of the approved quantity
func (h *LoanHandler) Confirm(c *gin.Context) {
	h.actorTransition(c, "api-confirm-loan", h.loanService.Confirm)
}

// AssignDriverRequest names the driver for a trip leg
type AssignDriverRequest struct {
	Driver string `json:"driver" binding:"required"`
	Actor  string `json:"actor" binding:"required"`
}

// AssignPickupDriver assigns the pickup trip of a confirmed loan
func (h *LoanHandler) AssignPickupDriver(c *gin.Context) {
	h.assignDriver(c, "api-assign-loan-pickup-driver", h.loanService.AssignPickupDriver)
}

// ConfirmCollection records the lender handing stock to the driver
func (h *LoanHandler) ConfirmCollection(c *gin.Context) {
	h.actorTransition(c, "api-confirm-loan-collection", h.loanService.ConfirmCollection)
}

// ConfirmReceipt records the borrower receiving the stock
func (h *LoanHandler) ConfirmReceipt(c *gin.Context) {
	h.actorTransition(c, "api-confirm-loan-receipt", h.loanService.ConfirmReceipt)
}

// InitiateReturn starts the return leg
func (h *LoanHandler) InitiateReturn(c *gin.Context) {
	h.actorTransition(c, "api-initiate-loan-return", h.loanService.InitiateReturn)
}

// AssignReturnDriver assigns the return trip
func (h *LoanHandler) AssignReturnDriver(c *gin.Context) {
	h.assignDriver(c, "api-assign-loan-return-driver", h.loanService.AssignReturnDriver)
}

// ConfirmReturn records the lender receiving the stock back
func (h *LoanHandler) ConfirmReturn(c *gin.Context) {
	h.actorTransition(c, "api-confirm-loan-return", h.loanService.ConfirmReturn)
}

// actorTransition handles the transitions whose only input is the actor
func (h *LoanHandler) actorTransition(c *gin.Context, name string,
	fn func(ctx context.Context, id uuid.UUID, actor string) (*models.Loan, error)) {
	txn := h.tracer.StartTransaction(name)
	defer h.tracer.EndTransaction(txn)

	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req ActorRequest
	if !bindJSON(c, &req) {
		return
	}

	loan, err := fn(c.Request.Context(), id, req.Actor)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loan)
}

// assignDriver handles the transitions that attach a driver to a trip leg
func (h *LoanHandler) assignDriver(c *gin.Context, name string,
	fn func(ctx context.Context, id uuid.UUID, driver, actor string) (*models.Loan, error)) {
	txn := h.tracer.StartTransaction(name)
	defer h.tracer.EndTransaction(txn)

	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req AssignDriverRequest
	if !bindJSON(c, &req) {
		return
	}

	loan, err := fn(c.Request.Context(), id, req.Driver, req.Actor)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loan)
}
