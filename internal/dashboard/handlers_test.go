package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/mbd888/ratecard/internal/plan"
	"github.com/mbd888/ratecard/internal/planconfig"
	"github.com/mbd888/ratecard/internal/policy"
	"github.com/mbd888/ratecard/internal/usage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupTestHandler creates a handler with in-memory stores populated with test data.
func setupTestHandler() (*Handler, *usage.MemoryStore) {
	planStore := plan.NewMemoryStore()
	configStore := planconfig.NewMemoryStore()
	usageStore := usage.NewMemoryStore()

	ctx := context.Background()
	now := time.Now()

	_ = planStore.Create(ctx, &plan.Plan{
		ID: "plan_gold", TenantID: "ten_a", Name: "Gold",
		BillingFrequency: plan.Monthly, Status: plan.StatusActive,
		CreatedAt: now, UpdatedAt: now,
	})
	_ = planStore.Create(ctx, &plan.Plan{
		ID: "plan_silver", TenantID: "ten_a", Name: "Silver",
		BillingFrequency: plan.Monthly, Status: plan.StatusDraft,
		CreatedAt: now, UpdatedAt: now,
	})
	_ = planStore.Create(ctx, &plan.Plan{
		ID: "plan_other", TenantID: "ten_b", Name: "Other",
		BillingFrequency: plan.Monthly, Status: plan.StatusActive,
		CreatedAt: now, UpdatedAt: now,
	})

	rate := decimal.RequireFromString("100")
	_ = configStore.Upsert(ctx, &planconfig.Configuration{
		ID: "cfg_1", TenantID: "ten_a", PlanID: "plan_gold", ServiceID: "svc_backup",
		Type: planconfig.TypeUsage, CustomRate: &rate, UnitOfMeasure: "gb",
		CreatedAt: now, UpdatedAt: now,
	})
	_ = configStore.Upsert(ctx, &planconfig.Configuration{
		ID: "cfg_2", TenantID: "ten_a", PlanID: "plan_gold", ServiceID: "svc_helpdesk",
		Type: planconfig.TypeFixed, CustomRate: &rate,
		CreatedAt: now, UpdatedAt: now,
	})

	h := NewHandler(planStore, configStore, usageStore)
	return h, usageStore
}

func setupTestRouter(h *Handler) *gin.Engine {
	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(func(c *gin.Context) {
		c.Set("tenantID", c.GetHeader("X-Tenant-ID"))
		c.Next()
	})
	h.RegisterRoutes(v1)
	return r
}

func doGet(r *gin.Engine, path, tenant string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	req.Header.Set("X-Tenant-ID", tenant)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestOverview(t *testing.T) {
	h, _ := setupTestHandler()
	r := setupTestRouter(h)

	w := doGet(r, "/v1/dashboard/overview", "ten_a")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Plans          map[string]int `json:"plans"`
		Configurations struct {
			Total  int            `json:"total"`
			ByType map[string]int `json:"byType"`
		} `json:"configurations"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, 1, resp.Plans["active"])
	assert.Equal(t, 1, resp.Plans["draft"])
	assert.Equal(t, 0, resp.Plans["archived"])
	assert.Equal(t, 2, resp.Configurations.Total)
	assert.Equal(t, 1, resp.Configurations.ByType["usage"])
	assert.Equal(t, 1, resp.Configurations.ByType["fixed"])
}

func TestOverview_TenantIsolation(t *testing.T) {
	h, _ := setupTestHandler()
	r := setupTestRouter(h)

	w := doGet(r, "/v1/dashboard/overview", "ten_b")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Plans          map[string]int `json:"plans"`
		Configurations struct {
			Total int `json:"total"`
		} `json:"configurations"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, 1, resp.Plans["active"])
	assert.Equal(t, 0, resp.Configurations.Total)
}

func TestOverview_ValidationStats(t *testing.T) {
	h, _ := setupTestHandler()
	stats := NewStats(nil)
	stats.ValidationOutcome("usage", true)
	stats.ValidationOutcome("usage", true)
	stats.ValidationOutcome("hourly", false)
	stats.ValidationOutcome("fixed", true)
	h.WithStats(stats)
	r := setupTestRouter(h)

	w := doGet(r, "/v1/dashboard/overview", "ten_a")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Validation struct {
			Attempts    int64   `json:"attempts"`
			FailureRate float64 `json:"failureRate"`
		} `json:"validation"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(4), resp.Validation.Attempts)
	assert.InDelta(t, 0.25, resp.Validation.FailureRate, 0.001)
}

func TestStats_ForwardsToNext(t *testing.T) {
	var gotType string
	var gotValid bool
	next := recorderFunc(func(configType string, valid bool) {
		gotType = configType
		gotValid = valid
	})
	stats := NewStats(next)
	stats.ValidationOutcome("bucket", false)

	assert.Equal(t, "bucket", gotType)
	assert.False(t, gotValid)
}

type recorderFunc func(string, bool)

func (f recorderFunc) ValidationOutcome(configType string, valid bool) { f(configType, valid) }

func TestUsage_TimeSeries(t *testing.T) {
	h, usageStore := setupTestHandler()
	r := setupTestRouter(h)

	ctx := context.Background()
	now := time.Now()
	for i, units := range []int64{10, 20, 5} {
		_ = usageStore.Append(ctx, &usage.Event{
			ID: "use_" + string(rune('a'+i)), TenantID: "ten_a",
			PlanID: "plan_gold", ServiceID: "svc_backup",
			Units: units, RecordedAt: now.Add(-time.Duration(i) * 48 * time.Hour),
		})
	}

	w := doGet(r, "/v1/dashboard/usage?interval=day", "ten_a")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Interval string        `json:"interval"`
		Points   []*UsagePoint `json:"points"`
		Count    int           `json:"count"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "day", resp.Interval)
	assert.Equal(t, 3, resp.Count)

	var total int64
	for _, p := range resp.Points {
		total += p.Units
	}
	assert.Equal(t, int64(35), total)

	// Points are sorted ascending
	for i := 1; i < len(resp.Points); i++ {
		assert.True(t, resp.Points[i].Period.After(resp.Points[i-1].Period))
	}
}

func TestUsage_InvalidInterval(t *testing.T) {
	h, _ := setupTestHandler()
	r := setupTestRouter(h)

	w := doGet(r, "/v1/dashboard/usage?interval=month", "ten_a")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTopServices(t *testing.T) {
	h, usageStore := setupTestHandler()
	r := setupTestRouter(h)

	ctx := context.Background()
	now := time.Now()
	_ = usageStore.Append(ctx, &usage.Event{ID: "u1", TenantID: "ten_a", PlanID: "plan_gold", ServiceID: "svc_backup", Units: 100, RecordedAt: now})
	_ = usageStore.Append(ctx, &usage.Event{ID: "u2", TenantID: "ten_a", PlanID: "plan_gold", ServiceID: "svc_backup", Units: 50, RecordedAt: now})
	_ = usageStore.Append(ctx, &usage.Event{ID: "u3", TenantID: "ten_a", PlanID: "plan_gold", ServiceID: "svc_helpdesk", Units: 30, RecordedAt: now})

	w := doGet(r, "/v1/dashboard/top-services", "ten_a")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Services []*ServiceUsage `json:"services"`
		Count    int             `json:"count"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "svc_backup", resp.Services[0].ServiceID)
	assert.Equal(t, int64(150), resp.Services[0].Units)
	assert.Equal(t, "svc_helpdesk", resp.Services[1].ServiceID)
}

func TestTopServices_Limit(t *testing.T) {
	h, usageStore := setupTestHandler()
	r := setupTestRouter(h)

	ctx := context.Background()
	now := time.Now()
	for _, svc := range []string{"svc_a", "svc_b", "svc_c"} {
		_ = usageStore.Append(ctx, &usage.Event{ID: "u_" + svc, TenantID: "ten_a", PlanID: "plan_gold", ServiceID: svc, Units: 1, RecordedAt: now})
	}

	w := doGet(r, "/v1/dashboard/top-services?limit=2", "ten_a")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count int `json:"count"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestViolations(t *testing.T) {
	h, _ := setupTestHandler()
	log := policy.NewMemoryViolationLog()
	_ = log.Record(context.Background(), &policy.Violation{
		ID: "vio_1", TenantID: "ten_a", PolicyID: "pol_1", PolicyName: "rate cap",
		RuleType: "rate_ceiling", Field: "custom_rate", Message: "rate 500 exceeds ceiling 200",
		Mode: "enforce", CreatedAt: time.Now(),
	})
	h.WithViolations(log)
	r := setupTestRouter(h)

	w := doGet(r, "/v1/dashboard/violations", "ten_a")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Violations []*policy.Violation `json:"violations"`
		Count      int                 `json:"count"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "rate_ceiling", resp.Violations[0].RuleType)

	// Other tenants see nothing
	w = doGet(r, "/v1/dashboard/violations", "ten_b")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)
}

func TestViolations_NotConfigured(t *testing.T) {
	h, _ := setupTestHandler()
	r := setupTestRouter(h)

	w := doGet(r, "/v1/dashboard/violations", "ten_a")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
