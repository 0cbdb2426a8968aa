package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/backstage/services/inventory/internal/metrics"
	"example.com/backstage/services/inventory/internal/tracing"
)

// MetricsHandler handles metrics-related HTTP requests
type MetricsHandler struct {
	metrics *metrics.Metrics
	tracer  tracing.Tracer
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(m *metrics.Metrics, tracer tracing.Tracer) *MetricsHandler {
	return &MetricsHandler{metrics: m, tracer: tracer}
}

// RegisterRoutes registers the handler's routes
func (h *MetricsHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/metrics", h.HandleGetMetrics)
	router.GET("/health", h.HandleGetHealthCheck)
}

// HandleGetMetrics returns all collected metrics
func (h *MetricsHandler) HandleGetMetrics(c *gin.Context) {
	txn := h.tracer.StartTransaction("get-metrics")
	defer h.tracer.EndTransaction(txn)

	c.JSON(http.StatusOK, h.metrics.GetAllMetrics())
}

// HandleGetHealthCheck returns a simplified health status
func (h *MetricsHandler) HandleGetHealthCheck(c *gin.Context) {
	healthChecks := h.metrics.GetHealthChecks()

	healthy := true
	for _, status := range healthChecks {
		if !status {
			healthy = false
			break
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":  healthy,
		"details": healthChecks,
	})
}
