package plan

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for plan operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new plan handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up plan routes on a tenant-scoped group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/plans", h.Create)
	r.GET("/plans", h.List)
	r.GET("/plans/:id", h.Get)
	r.PUT("/plans/:id", h.Update)
	r.POST("/plans/:id/activate", h.Activate)
	r.POST("/plans/:id/archive", h.Archive)
}

type planRequest struct {
	Name             string `json:"name" binding:"required"`
	Description      string `json:"description"`
	BillingFrequency string `json:"billingFrequency" binding:"required"`
	IsCustom         bool   `json:"isCustom"`
}

// Create handles POST /v1/plans
func (h *Handler) Create(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "name and billingFrequency are required",
		})
		return
	}

	p := &Plan{
		TenantID:         tenantID,
		Name:             req.Name,
		Description:      req.Description,
		BillingFrequency: BillingFrequency(req.BillingFrequency),
		IsCustom:         req.IsCustom,
	}

	fields, err := h.service.Create(c.Request.Context(), p)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalid):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":  "invalid_plan",
				"fields": fields,
			})
		case errors.Is(err, ErrNameTaken):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "name_taken",
				"message": "A plan with this name already exists",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"plan": p})
}

// List handles GET /v1/plans
func (h *Handler) List(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	plans, err := h.service.List(c.Request.Context(), tenantID, limit, c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"plans": plans,
		"count": len(plans),
	})
}

// Get handles GET /v1/plans/:id
func (h *Handler) Get(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	p, err := h.service.Get(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		if IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No plan found with this ID",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"plan": p})
}

// Update handles PUT /v1/plans/:id
func (h *Handler) Update(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	existing, err := h.service.Get(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		if IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No plan found with this ID",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "name and billingFrequency are required",
		})
		return
	}

	existing.Name = req.Name
	existing.Description = req.Description
	existing.BillingFrequency = BillingFrequency(req.BillingFrequency)
	existing.IsCustom = req.IsCustom

	fields, err := h.service.Update(c.Request.Context(), existing)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalid):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":  "invalid_plan",
				"fields": fields,
			})
		case errors.Is(err, ErrNameTaken):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "name_taken",
				"message": "A plan with this name already exists",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"plan": existing})
}

// Activate handles POST /v1/plans/:id/activate
func (h *Handler) Activate(c *gin.Context) {
	h.transition(c, h.service.Activate)
}

// Archive handles POST /v1/plans/:id/archive
func (h *Handler) Archive(c *gin.Context) {
	h.transition(c, h.service.Archive)
}

func (h *Handler) transition(c *gin.Context, fn func(ctx context.Context, tenantID, id string) (*Plan, error)) {
	tenantID := c.GetString("tenantID")

	p, err := fn(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		switch {
		case IsNotFound(err):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No plan found with this ID",
			})
		case errors.Is(err, ErrInvalid):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "invalid_transition",
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

	c.JSON(http.StatusOK, gin.H{"plan": p})
}
