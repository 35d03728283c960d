package plan

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func setupHandlerTestRouter() (*gin.Engine, *Service) {
	gin.SetMode(gin.TestMode)

	svc := NewService(NewMemoryStore())
	handler := NewHandler(svc)

	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(func(c *gin.Context) {
		c.Set("tenantID", c.GetHeader("X-Tenant-ID"))
		c.Next()
	})
	handler.RegisterRoutes(v1)

	return r, svc
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

func TestHandler_Create_201(t *testing.T) {
	router, _ := setupHandlerTestRouter()

	w := doJSON(router, "POST", "/v1/plans", map[string]any{
		"name":             "Managed Workstation",
		"billingFrequency": "monthly",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Plan Plan `json:"plan"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Plan.ID == "" || resp.Plan.Status != StatusDraft {
		t.Errorf("Expected draft plan with ID, got %+v", resp.Plan)
	}
}

func TestHandler_Create_400And422And409(t *testing.T) {
	router, _ := setupHandlerTestRouter()

	// Missing required binding field.
	w := doJSON(router, "POST", "/v1/plans", map[string]any{"name": "Gold"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}

	// Bad frequency passes binding but fails validation.
	w = doJSON(router, "POST", "/v1/plans", map[string]any{
		"name": "Gold", "billingFrequency": "weekly",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422, got %d: %s", w.Code, w.Body.String())
	}

	body := map[string]any{"name": "Gold", "billingFrequency": "monthly"}
	if w = doJSON(router, "POST", "/v1/plans", body); w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", w.Code)
	}
	if w = doJSON(router, "POST", "/v1/plans", body); w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 on duplicate name, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_GetUpdateLifecycle(t *testing.T) {
	router, svc := setupHandlerTestRouter()

	p := newDraft("Gold")
	svc.Create(context.Background(), p)

	w := doJSON(router, "GET", "/v1/plans/"+p.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	w = doJSON(router, "PUT", "/v1/plans/"+p.ID, map[string]any{
		"name": "Gold Plus", "billingFrequency": "annual",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on update, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Plan Plan `json:"plan"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Plan.Name != "Gold Plus" || resp.Plan.BillingFrequency != Annual {
		t.Errorf("Unexpected updated plan: %+v", resp.Plan)
	}

	if w = doJSON(router, "POST", "/v1/plans/"+p.ID+"/activate", nil); w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on activate, got %d", w.Code)
	}
	if w = doJSON(router, "POST", "/v1/plans/"+p.ID+"/archive", nil); w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on archive, got %d", w.Code)
	}
	if w = doJSON(router, "POST", "/v1/plans/"+p.ID+"/activate", nil); w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 reactivating archived plan, got %d", w.Code)
	}
}

func TestHandler_Get_404(t *testing.T) {
	router, _ := setupHandlerTestRouter()

	w := doJSON(router, "GET", "/v1/plans/plan_missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", w.Code)
	}
}

func TestHandler_List(t *testing.T) {
	router, svc := setupHandlerTestRouter()

	for _, name := range []string{"Bronze", "Silver", "Gold"} {
		svc.Create(context.Background(), newDraft(name))
	}

	w := doJSON(router, "GET", "/v1/plans?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Plans []Plan `json:"plans"`
		Count int    `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 2 {
		t.Errorf("Expected 2 plans, got %d", resp.Count)
	}
}
