// Package dashboard provides JSON API endpoints for tenant analytics.
package dashboard

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/ratecard/internal/plan"
	"github.com/mbd888/ratecard/internal/planconfig"
	"github.com/mbd888/ratecard/internal/policy"
	"github.com/mbd888/ratecard/internal/usage"
)

// PlanSource lists plans per lifecycle status.
type PlanSource interface {
	ListByStatus(ctx context.Context, tenantID string, status plan.Status) ([]*plan.Plan, error)
}

// ConfigSource counts configurations per pricing type.
type ConfigSource interface {
	CountByType(ctx context.Context, tenantID string) (map[planconfig.Type]int, error)
}

// UsageSource reads recent usage events.
type UsageSource interface {
	ListSince(ctx context.Context, tenantID string, since time.Time, limit int) ([]*usage.Event, error)
}

// ViolationSource reads recent guardrail violations.
type ViolationSource interface {
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]*policy.Violation, error)
}

// Stats tallies validation outcomes for the overview endpoint. It
// decorates another recorder so Prometheus counters keep flowing.
type Stats struct {
	next planconfig.MetricsRecorder

	mu      sync.RWMutex
	total   int64
	invalid int64
}

// NewStats creates a validation tally. next may be nil.
func NewStats(next planconfig.MetricsRecorder) *Stats {
	return &Stats{next: next}
}

// ValidationOutcome records one validation attempt.
func (s *Stats) ValidationOutcome(configType string, valid bool) {
	s.mu.Lock()
	s.total++
	if !valid {
		s.invalid++
	}
	s.mu.Unlock()
	if s.next != nil {
		s.next.ValidationOutcome(configType, valid)
	}
}

// FailureRate returns the fraction of validations that failed, and the
// total attempt count.
func (s *Stats) FailureRate() (float64, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.total == 0 {
		return 0, 0
	}
	return float64(s.invalid) / float64(s.total), s.total
}

var _ planconfig.MetricsRecorder = (*Stats)(nil)

// Handler provides dashboard API endpoints.
type Handler struct {
	plans      PlanSource
	configs    ConfigSource
	usage      UsageSource
	violations ViolationSource
	stats      *Stats
}

// NewHandler creates a new dashboard handler.
func NewHandler(plans PlanSource, configs ConfigSource, usageSrc UsageSource) *Handler {
	return &Handler{plans: plans, configs: configs, usage: usageSrc}
}

// WithViolations adds a guardrail violation source.
func (h *Handler) WithViolations(v ViolationSource) *Handler {
	h.violations = v
	return h
}

// WithStats adds the validation tally.
func (h *Handler) WithStats(s *Stats) *Handler {
	h.stats = s
	return h
}

// RegisterRoutes sets up dashboard routes under the given group.
// The group must carry tenant middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/dashboard/overview", h.Overview)
	r.GET("/dashboard/usage", h.Usage)
	r.GET("/dashboard/top-services", h.TopServices)
	r.GET("/dashboard/violations", h.Violations)
}

// Overview returns plan counts by status, configuration counts by type,
// and the validation failure rate.
func (h *Handler) Overview(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := c.GetString("tenantID")

	planCounts := gin.H{}
	for _, status := range []plan.Status{plan.StatusDraft, plan.StatusActive, plan.StatusArchived} {
		plans, err := h.plans.ListByStatus(ctx, tenantID, status)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		planCounts[string(status)] = len(plans)
	}

	typeCounts, err := h.configs.CountByType(ctx, tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	configCounts := gin.H{}
	totalConfigs := 0
	for typ, n := range typeCounts {
		configCounts[string(typ)] = n
		totalConfigs += n
	}

	resp := gin.H{
		"plans": planCounts,
		"configurations": gin.H{
			"total":  totalConfigs,
			"byType": configCounts,
		},
	}
	if h.stats != nil {
		rate, total := h.stats.FailureRate()
		resp["validation"] = gin.H{
			"attempts":    total,
			"failureRate": rate,
		}
	}

	c.JSON(http.StatusOK, resp)
}

// UsagePoint is one bucket of the usage time series.
type UsagePoint struct {
	Period time.Time `json:"period"`
	Units  int64     `json:"units"`
	Events int       `json:"events"`
}

// Usage returns time-series usage data bucketed by interval.
func (h *Handler) Usage(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := c.GetString("tenantID")

	interval := c.DefaultQuery("interval", "day")
	var bucket time.Duration
	switch interval {
	case "hour":
		bucket = time.Hour
	case "day":
		bucket = 24 * time.Hour
	case "week":
		bucket = 7 * 24 * time.Hour
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_interval", "message": "must be hour, day, or week"})
		return
	}

	from, to := parseTimeRange(c)

	events, err := h.usage.ListSince(ctx, tenantID, from, 1000)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	byBucket := map[time.Time]*UsagePoint{}
	for _, e := range events {
		if e.RecordedAt.After(to) {
			continue
		}
		period := e.RecordedAt.Truncate(bucket)
		p, ok := byBucket[period]
		if !ok {
			p = &UsagePoint{Period: period}
			byBucket[period] = p
		}
		p.Units += e.Units
		p.Events++
	}

	points := make([]*UsagePoint, 0, len(byBucket))
	for _, p := range byBucket {
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Period.Before(points[j].Period) })

	c.JSON(http.StatusOK, gin.H{
		"interval": interval,
		"from":     from,
		"to":       to,
		"points":   points,
		"count":    len(points),
	})
}

// ServiceUsage is one row of the top-services report.
type ServiceUsage struct {
	ServiceID string `json:"serviceId"`
	Units     int64  `json:"units"`
	Events    int    `json:"events"`
}

// TopServices returns the most-consumed services by recorded units.
func (h *Handler) TopServices(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := c.GetString("tenantID")

	limit := parseLimit(c, 10, 100)
	from, _ := parseTimeRange(c)

	events, err := h.usage.ListSince(ctx, tenantID, from, 1000)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	byService := map[string]*ServiceUsage{}
	for _, e := range events {
		s, ok := byService[e.ServiceID]
		if !ok {
			s = &ServiceUsage{ServiceID: e.ServiceID}
			byService[e.ServiceID] = s
		}
		s.Units += e.Units
		s.Events++
	}

	services := make([]*ServiceUsage, 0, len(byService))
	for _, s := range byService {
		services = append(services, s)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Units > services[j].Units })
	if len(services) > limit {
		services = services[:limit]
	}

	c.JSON(http.StatusOK, gin.H{
		"services": services,
		"count":    len(services),
	})
}

// Violations returns recent guardrail violations for compliance review.
func (h *Handler) Violations(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := c.GetString("tenantID")

	if h.violations == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_available", "message": "Violation history not configured"})
		return
	}

	limit := parseLimit(c, 50, 500)

	violations, err := h.violations.ListByTenant(ctx, tenantID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"violations": violations,
		"count":      len(violations),
	})
}

func parseTimeRange(c *gin.Context) (from, to time.Time) {
	to = time.Now()
	from = to.AddDate(0, 0, -30) // default: last 30 days

	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t
		}
	}
	return
}

func parseLimit(c *gin.Context, defaultVal, maxVal int) int {
	limit := defaultVal
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxVal {
		limit = maxVal
	}
	return limit
}
