package catalog

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for catalog operations.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new catalog handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes sets up catalog routes on a tenant-scoped group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/services", h.Create)
	r.GET("/services", h.List)
	r.GET("/services/:id", h.Get)
	r.PUT("/services/:id", h.Update)
	r.DELETE("/services/:id", h.Delete)
}

type serviceRequest struct {
	Name        string `json:"name" binding:"required"`
	Category    string `json:"category"`
	DefaultUnit string `json:"defaultUnit"`
	Billable    *bool  `json:"billable"`
}

// Create handles POST /v1/services
func (h *Handler) Create(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	var req serviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "name is required",
		})
		return
	}

	billable := true
	if req.Billable != nil {
		billable = *req.Billable
	}
	s := &Service{
		TenantID:    tenantID,
		Name:        req.Name,
		Category:    req.Category,
		DefaultUnit: req.DefaultUnit,
		Billable:    billable,
	}

	fields, err := h.manager.Create(c.Request.Context(), s)
	if err != nil {
		h.writeError(c, err, fields)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"service": s})
}

// List handles GET /v1/services
func (h *Handler) List(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	services, err := h.manager.List(c.Request.Context(), tenantID, limit, c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"services": services,
		"count":    len(services),
	})
}

// Get handles GET /v1/services/:id
func (h *Handler) Get(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	s, err := h.manager.Get(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		h.writeError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"service": s})
}

// Update handles PUT /v1/services/:id
func (h *Handler) Update(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	existing, err := h.manager.Get(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		h.writeError(c, err, nil)
		return
	}

	var req serviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "name is required",
		})
		return
	}

	existing.Name = req.Name
	existing.Category = req.Category
	existing.DefaultUnit = req.DefaultUnit
	if req.Billable != nil {
		existing.Billable = *req.Billable
	}

	fields, err := h.manager.Update(c.Request.Context(), existing)
	if err != nil {
		h.writeError(c, err, fields)
		return
	}

	c.JSON(http.StatusOK, gin.H{"service": existing})
}

// Delete handles DELETE /v1/services/:id
func (h *Handler) Delete(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	if err := h.manager.Delete(c.Request.Context(), tenantID, c.Param("id")); err != nil {
		h.writeError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "service deleted"})
}

func (h *Handler) writeError(c *gin.Context, err error, fields map[string]string) {
	switch {
	case IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No service found with this ID",
		})
	case errors.Is(err, ErrInvalid):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "invalid_service",
			"fields": fields,
		})
	case errors.Is(err, ErrNameTaken):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "name_taken",
			"message": "A service with this name already exists",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
