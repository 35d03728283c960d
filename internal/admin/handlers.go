package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler provides admin HTTP endpoints.
type Handler struct {
	syncer     StripeSyncer
	closer     PeriodCloser
	violations ViolationExporter
}

// NewHandler creates a new admin handler.
func NewHandler() *Handler {
	return &Handler{}
}

// WithStripeSyncer sets the syncer for on-demand catalog sync.
func (h *Handler) WithStripeSyncer(s StripeSyncer) *Handler {
	h.syncer = s
	return h
}

// WithPeriodCloser sets the rollover worker for manual period close.
func (h *Handler) WithPeriodCloser(c PeriodCloser) *Handler {
	h.closer = c
	return h
}

// WithViolationExporter sets the violation log for export.
func (h *Handler) WithViolationExporter(v ViolationExporter) *Handler {
	h.violations = v
	return h
}

// RegisterRoutes sets up admin routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/admin/stripe/sync", h.syncStripe)
	r.POST("/admin/rollover/close", h.closeRollover)
	r.GET("/admin/policy/violations/export", h.exportViolations)
}

// syncStripe pushes a tenant's active plans into Stripe.
func (h *Handler) syncStripe(c *gin.Context) {
	if h.syncer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stripe sync not configured"})
		return
	}

	tenantID := c.Query("tenant")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_tenant", "message": "tenant query parameter is required"})
		return
	}
	dryRun := c.Query("dryRun") == "true"

	result, err := h.syncer.SyncTenant(c.Request.Context(), tenantID, dryRun)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result})
}

// closeRollover closes rollover balances for the period preceding the
// given one. Defaults to the current calendar month, i.e. it closes
// last month's buckets.
func (h *Handler) closeRollover(c *gin.Context) {
	if h.closer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rollover worker not configured"})
		return
	}

	now := time.Now().UTC()
	period := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if p := c.Query("period"); p != "" {
		parsed, err := time.Parse(time.RFC3339, p)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_period", "message": "period must be RFC3339"})
			return
		}
		period = parsed
	}

	closed, err := h.closer.ClosePeriod(c.Request.Context(), period)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "close_failed", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"closed": closed, "period": period})
}

// exportViolations exports recorded guardrail breaches for review.
func (h *Handler) exportViolations(c *gin.Context) {
	if h.violations == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "violation export not configured"})
		return
	}

	tenantID := c.Query("tenant")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_tenant", "message": "tenant query parameter is required"})
		return
	}

	since := time.Now().AddDate(0, 0, -30)
	if s := c.Query("since"); s != "" {
		if parsed, err := time.Parse(time.RFC3339, s); err == nil {
			since = parsed
		}
	}

	limit := 1000
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 10000 {
			limit = parsed
		}
	}

	all, err := h.violations.ListByTenant(c.Request.Context(), tenantID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export_failed", "message": err.Error()})
		return
	}

	filtered := all[:0]
	for _, v := range all {
		if !v.CreatedAt.Before(since) {
			filtered = append(filtered, v)
		}
	}

	c.JSON(http.StatusOK, gin.H{"violations": filtered, "count": len(filtered), "since": since})
}
