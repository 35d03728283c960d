package usage

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/mbd888/ratecard/internal/planconfig"
)

func setupHandlerTestRouter(t *testing.T) (*gin.Engine, *Service, *fakeConfigs) {
	gin.SetMode(gin.TestMode)

	configs := newFakeConfigs()
	svc := NewService(NewMemoryStore(), configs)
	handler := NewHandler(svc)

	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(func(c *gin.Context) {
		c.Set("tenantID", c.GetHeader("X-Tenant-ID"))
		c.Next()
	})
	handler.RegisterRoutes(v1)

	return r, svc, configs
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "ten_1")
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_Record(t *testing.T) {
	router, _, _ := setupHandlerTestRouter(t)

	w := doJSON(router, "POST", "/v1/usage", map[string]any{
		"planId": "plan_1", "serviceId": "svc_1", "units": 10,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Event Event `json:"event"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Event.ID == "" || resp.Event.TenantID != "ten_1" {
		t.Errorf("Unexpected event: %+v", resp.Event)
	}

	// Negative units fail validation.
	w = doJSON(router, "POST", "/v1/usage", map[string]any{
		"planId": "plan_1", "serviceId": "svc_1", "units": -10,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422, got %d", w.Code)
	}
}

func TestHandler_Preview(t *testing.T) {
	router, svc, configs := setupHandlerTestRouter(t)

	rate := decimal.RequireFromString("0.50")
	configs.add(t, &planconfig.Configuration{
		ID: "cfg_1", TenantID: "ten_1", PlanID: "plan_1", ServiceID: "svc_1",
		Type: planconfig.TypeUsage, CustomRate: &rate, UnitOfMeasure: "mailbox",
	})
	record(t, svc, 40)

	w := doJSON(router, "POST", "/v1/usage/preview", map[string]any{
		"planId": "plan_1", "serviceId": "svc_1", "periodStart": period,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Preview ChargePreview `json:"preview"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Preview.UnitsConsumed != 40 {
		t.Errorf("Expected 40 units, got %d", resp.Preview.UnitsConsumed)
	}
	if !resp.Preview.Amount.Equal(decimal.RequireFromString("20.00")) {
		t.Errorf("Expected amount 20.00, got %s", resp.Preview.Amount)
	}

	// Unknown pairing.
	w = doJSON(router, "POST", "/v1/usage/preview", map[string]any{
		"planId": "plan_9", "serviceId": "svc_9",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", w.Code)
	}

	// Missing IDs.
	w = doJSON(router, "POST", "/v1/usage/preview", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
}

func TestHandler_List(t *testing.T) {
	router, svc, _ := setupHandlerTestRouter(t)
	record(t, svc, 5)
	record(t, svc, 7)

	w := doJSON(router, "GET", "/v1/usage", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 2 {
		t.Errorf("Expected 2 events, got %d", resp.Count)
	}

	if w := doJSON(router, "GET", "/v1/usage?since=bogus", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for bad since, got %d", w.Code)
	}
}
