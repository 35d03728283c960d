package planconfig

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for configuration operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new configuration handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up configuration routes. All routes are
// tenant-scoped; the tenant middleware must run before them.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/plans/:id/configurations", h.ListByPlan)
	r.PUT("/plans/:id/configurations/:serviceId", h.Upsert)
	r.POST("/plans/:id/configurations/import", h.Import)
	r.GET("/configurations/:id", h.Get)
	r.DELETE("/configurations/:id", h.Delete)
	r.POST("/configurations/:id/change-type", h.ChangeType)
	r.POST("/configurations/validate", h.ValidateOnly)
}

// ListByPlan handles GET /v1/plans/:id/configurations
func (h *Handler) ListByPlan(c *gin.Context) {
	tenantID := c.GetString("tenantID")
	planID := c.Param("id")

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	configs, err := h.service.ListByPlan(c.Request.Context(), tenantID, planID, limit, c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"configurations": configs,
		"count":          len(configs),
	})
}

// Upsert handles PUT /v1/plans/:id/configurations/:serviceId
func (h *Handler) Upsert(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	var cfg Configuration
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	cfg.TenantID = tenantID
	cfg.PlanID = c.Param("id")
	cfg.ServiceID = c.Param("serviceId")

	// Preserve identity of an existing row for the same key.
	if existing, err := h.service.GetByPlanService(c.Request.Context(), tenantID, cfg.PlanID, cfg.ServiceID); err == nil {
		cfg.ID = existing.ID
		cfg.CreatedAt = existing.CreatedAt
	}

	fields, err := h.service.Upsert(c.Request.Context(), &cfg)
	if err != nil {
		if errors.Is(err, ErrInvalid) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":  "invalid_configuration",
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

	c.JSON(http.StatusOK, gin.H{"configuration": cfg})
}

// Import handles POST /v1/plans/:id/configurations/import
func (h *Handler) Import(c *gin.Context) {
	tenantID := c.GetString("tenantID")
	planID := c.Param("id")

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Failed to read request body",
		})
		return
	}

	bundle, err := ParseBundle(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_bundle",
			"message": err.Error(),
		})
		return
	}

	result, err := h.service.ImportBundle(c.Request.Context(), tenantID, planID, bundle)
	if err != nil {
		if errors.Is(err, ErrInvalid) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":  "invalid_configuration",
				"errors": result.Errors,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"applied": result.Applied})
}

// Get handles GET /v1/configurations/:id
func (h *Handler) Get(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	cfg, err := h.service.Get(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		if IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No configuration found with this ID",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"configuration": cfg})
}

// Delete handles DELETE /v1/configurations/:id
func (h *Handler) Delete(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	if err := h.service.Delete(c.Request.Context(), tenantID, c.Param("id")); err != nil {
		if IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No configuration found with this ID",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "configuration deleted"})
}

// ChangeType handles POST /v1/configurations/:id/change-type
func (h *Handler) ChangeType(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	var req struct {
		Type string `json:"configurationType" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "configurationType is required",
		})
		return
	}

	cfg, err := h.service.ChangeType(c.Request.Context(), tenantID, c.Param("id"), Type(req.Type))
	if err != nil {
		switch {
		case IsNotFound(err):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No configuration found with this ID",
			})
		case errors.Is(err, ErrInvalid):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"configuration": cfg,
		"warning":       "Previous type-specific parameters were discarded.",
	})
}

// ValidateOnly handles POST /v1/configurations/validate, a dry-run
// validation for form feedback; nothing is saved.
func (h *Handler) ValidateOnly(c *gin.Context) {
	var cfg Configuration
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	errs := Validate(&cfg)
	c.JSON(http.StatusOK, gin.H{
		"valid":  errs.Valid(),
		"fields": errs,
	})
}
