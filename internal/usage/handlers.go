package usage

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for usage operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new usage handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up usage routes on a tenant-scoped group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/usage", h.Record)
	r.GET("/usage", h.List)
	r.POST("/usage/preview", h.Preview)
}

// Record handles POST /v1/usage
func (h *Handler) Record(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	var e Event
	if err := c.ShouldBindJSON(&e); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	e.TenantID = tenantID

	fields, err := h.service.Record(c.Request.Context(), &e)
	if err != nil {
		if errors.Is(err, ErrInvalid) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":  "invalid_event",
				"fields": fields,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"event": e})
}

// List handles GET /v1/usage?since=RFC3339&limit=n
func (h *Handler) List(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	since := time.Now().AddDate(0, -1, 0)
	if s := c.Query("since"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "since must be RFC3339",
			})
			return
		}
		since = parsed
	}
	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	events, err := h.service.ListSince(c.Request.Context(), tenantID, since, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// Preview handles POST /v1/usage/preview
func (h *Handler) Preview(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if req.PlanID == "" || req.ServiceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "planId and serviceId are required",
		})
		return
	}

	preview, err := h.service.Preview(c.Request.Context(), tenantID, req)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No configuration found for this plan and service",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"preview": preview})
}
