package planconfig

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mbd888/ratecard/internal/validation"
)

// ---------------------------------------------------------------------------
// Mock collaborators
// ---------------------------------------------------------------------------

type mockCatalog struct {
	mu       sync.Mutex
	billable map[string]bool
	err      error
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{billable: make(map[string]bool)}
}

func (m *mockCatalog) setBillable(serviceID string, billable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.billable[serviceID] = billable
}

func (m *mockCatalog) IsBillable(_ context.Context, _, serviceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	return m.billable[serviceID], nil
}

type mockPlans struct {
	mu     sync.Mutex
	exists map[string]bool
}

func newMockPlans() *mockPlans {
	return &mockPlans{exists: make(map[string]bool)}
}

func (m *mockPlans) setExists(planID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exists[planID] = true
}

func (m *mockPlans) PlanExists(_ context.Context, _, planID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exists[planID], nil
}

type mockGuardrails struct {
	violations validation.Fields
}

func (m *mockGuardrails) EvaluateConfiguration(_ context.Context, _ *Configuration) (validation.Fields, error) {
	return m.violations, nil
}

type mockEmitter struct {
	mu      sync.Mutex
	actions []string
}

func (m *mockEmitter) ConfigurationChanged(_ context.Context, action string, _ *Configuration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, action)
}

func (m *mockEmitter) recorded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.actions...)
}

type mockMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int // "type/valid" → count
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{outcomes: make(map[string]int)}
}

func (m *mockMetrics) ValidationOutcome(configType string, valid bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := configType + "/invalid"
	if valid {
		k = configType + "/valid"
	}
	m.outcomes[k]++
}

func setupService() (*Service, *mockCatalog, *mockPlans, *mockEmitter) {
	catalog := newMockCatalog()
	plans := newMockPlans()
	emitter := &mockEmitter{}
	svc := NewService(NewMemoryStore(), catalog, plans).WithEvents(emitter)
	return svc, catalog, plans, emitter
}

// ---------------------------------------------------------------------------
// Upsert
// ---------------------------------------------------------------------------

func TestService_Upsert_CreatesWithID(t *testing.T) {
	svc, catalog, plans, emitter := setupService()
	catalog.setBillable("svc_1", true)
	plans.setExists("plan_1")

	cfg := validFixedConfig()
	fields, err := svc.Upsert(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Upsert failed: %v (%v)", err, fields)
	}
	if cfg.ID == "" {
		t.Error("Expected ID to be assigned on create")
	}
	if cfg.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be set on create")
	}

	got, err := svc.Get(context.Background(), "ten_1", cfg.ID)
	if err != nil {
		t.Fatalf("Get after create failed: %v", err)
	}
	if got.ServiceID != "svc_1" {
		t.Errorf("Expected svc_1, got %s", got.ServiceID)
	}
	if actions := emitter.recorded(); len(actions) != 1 || actions[0] != "created" {
		t.Errorf("Expected created event, got %v", actions)
	}
}

func TestService_Upsert_RejectsInvalid(t *testing.T) {
	svc, _, _, emitter := setupService()

	cfg := validFixedConfig()
	cfg.Fixed = nil

	fields, err := svc.Upsert(context.Background(), cfg)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Expected ErrInvalid, got %v", err)
	}
	if _, ok := fields["configuration"]; !ok {
		t.Errorf("Expected configuration field error, got %v", fields)
	}
	if cfg.ID != "" {
		t.Error("Invalid configuration must not be assigned an ID")
	}
	if len(emitter.recorded()) != 0 {
		t.Error("Invalid configuration must not emit events")
	}
}

func TestService_Upsert_RejectsUnknownServiceOrPlan(t *testing.T) {
	svc, catalog, plans, _ := setupService()

	cfg := validFixedConfig()
	fields, err := svc.Upsert(context.Background(), cfg)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Expected ErrInvalid for unknown service, got %v", err)
	}
	if _, ok := fields["service_id"]; !ok {
		t.Errorf("Expected service_id error, got %v", fields)
	}

	catalog.setBillable("svc_1", true)
	fields, err = svc.Upsert(context.Background(), cfg)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Expected ErrInvalid for unknown plan, got %v", err)
	}
	if _, ok := fields["plan_id"]; !ok {
		t.Errorf("Expected plan_id error, got %v", fields)
	}

	plans.setExists("plan_1")
	if _, err := svc.Upsert(context.Background(), cfg); err != nil {
		t.Fatalf("Expected upsert to succeed once refs exist, got %v", err)
	}
}

func TestService_Upsert_GuardrailViolationsReported(t *testing.T) {
	svc, catalog, plans, _ := setupService()
	catalog.setBillable("svc_1", true)
	plans.setExists("plan_1")
	svc.WithGuardrails(&mockGuardrails{violations: validation.Fields{
		"custom_rate": "exceeds tenant rate ceiling of 500.00",
	}})

	fields, err := svc.Upsert(context.Background(), validFixedConfig())
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Expected ErrInvalid from guardrails, got %v", err)
	}
	if fields["custom_rate"] == "" {
		t.Errorf("Expected guardrail violation surfaced, got %v", fields)
	}
}

func TestService_Upsert_GuardrailsSkippedWhenInvalid(t *testing.T) {
	// Field errors must not be masked or mixed with policy messages.
	svc, _, _, _ := setupService()
	svc.WithGuardrails(&mockGuardrails{violations: validation.Fields{"custom_rate": "ceiling"}})

	cfg := validFixedConfig()
	cfg.Quantity = -1

	fields, err := svc.Upsert(context.Background(), cfg)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Expected ErrInvalid, got %v", err)
	}
	if _, ok := fields["custom_rate"]; ok {
		t.Errorf("Guardrails must not run on invalid configurations, got %v", fields)
	}
}

func TestService_Upsert_RecordsMetrics(t *testing.T) {
	svc, catalog, plans, _ := setupService()
	catalog.setBillable("svc_1", true)
	plans.setExists("plan_1")
	metrics := newMockMetrics()
	svc.WithMetrics(metrics)

	svc.Upsert(context.Background(), validFixedConfig())
	bad := validFixedConfig()
	bad.ServiceID = "svc_9"
	bad.Fixed = nil
	svc.Upsert(context.Background(), bad)

	if metrics.outcomes["fixed/valid"] != 1 || metrics.outcomes["fixed/invalid"] != 1 {
		t.Errorf("Expected one valid and one invalid outcome, got %v", metrics.outcomes)
	}
}

func TestService_Upsert_UpdateKeepsIdentity(t *testing.T) {
	svc, catalog, plans, emitter := setupService()
	catalog.setBillable("svc_1", true)
	plans.setExists("plan_1")

	cfg := validFixedConfig()
	if _, err := svc.Upsert(context.Background(), cfg); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	firstID := cfg.ID

	update := validFixedConfig()
	update.ID = firstID
	update.CreatedAt = cfg.CreatedAt
	update.Quantity = 5
	if _, err := svc.Upsert(context.Background(), update); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, _ := svc.Get(context.Background(), "ten_1", firstID)
	if got.Quantity != 5 {
		t.Errorf("Expected updated quantity 5, got %d", got.Quantity)
	}
	if actions := emitter.recorded(); len(actions) != 2 || actions[1] != "updated" {
		t.Errorf("Expected created then updated, got %v", actions)
	}
}

// ---------------------------------------------------------------------------
// Delete / ChangeType
// ---------------------------------------------------------------------------

func TestService_Delete(t *testing.T) {
	svc, catalog, plans, emitter := setupService()
	catalog.setBillable("svc_1", true)
	plans.setExists("plan_1")

	cfg := validFixedConfig()
	svc.Upsert(context.Background(), cfg)

	if err := svc.Delete(context.Background(), "ten_1", cfg.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := svc.Get(context.Background(), "ten_1", cfg.ID); !IsNotFound(err) {
		t.Errorf("Expected not found after delete, got %v", err)
	}
	if actions := emitter.recorded(); actions[len(actions)-1] != "deleted" {
		t.Errorf("Expected deleted event, got %v", actions)
	}

	if err := svc.Delete(context.Background(), "ten_1", "cfg_missing"); !IsNotFound(err) {
		t.Errorf("Expected not found for missing ID, got %v", err)
	}
}

func TestService_Delete_WrongTenant(t *testing.T) {
	svc, catalog, plans, _ := setupService()
	catalog.setBillable("svc_1", true)
	plans.setExists("plan_1")

	cfg := validFixedConfig()
	svc.Upsert(context.Background(), cfg)

	if err := svc.Delete(context.Background(), "ten_other", cfg.ID); !IsNotFound(err) {
		t.Errorf("Expected not found across tenants, got %v", err)
	}
}

func TestService_ChangeType(t *testing.T) {
	svc, catalog, plans, _ := setupService()
	catalog.setBillable("svc_1", true)
	plans.setExists("plan_1")

	cfg := validFixedConfig()
	svc.Upsert(context.Background(), cfg)

	out, err := svc.ChangeType(context.Background(), "ten_1", cfg.ID, TypeHourly)
	if err != nil {
		t.Fatalf("ChangeType failed: %v", err)
	}
	if out.Type != TypeHourly || out.Fixed != nil || out.Hourly == nil {
		t.Errorf("Expected hourly configuration with discarded fixed params, got %+v", out)
	}

	// Persisted.
	got, _ := svc.Get(context.Background(), "ten_1", cfg.ID)
	if got.Type != TypeHourly {
		t.Errorf("Expected persisted type hourly, got %s", got.Type)
	}

	// Same type is a no-op.
	same, err := svc.ChangeType(context.Background(), "ten_1", cfg.ID, TypeHourly)
	if err != nil || same.Type != TypeHourly {
		t.Errorf("Expected no-op for same type, got %+v / %v", same, err)
	}

	if _, err := svc.ChangeType(context.Background(), "ten_1", cfg.ID, "retainer"); !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected ErrInvalid for unknown type, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Memory store
// ---------------------------------------------------------------------------

func TestMemoryStore_UpsertSameKeyReplacesInPlace(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := validFixedConfig()
	first.ID = "cfg_a"
	if err := store.Upsert(ctx, first); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	second := validFixedConfig()
	second.ID = "cfg_b"
	second.Quantity = 9
	if err := store.Upsert(ctx, second); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if second.ID != "cfg_a" {
		t.Errorf("Expected same-key upsert to keep original ID, got %s", second.ID)
	}
	got, err := store.GetByPlanService(ctx, "ten_1", "plan_1", "svc_1")
	if err != nil {
		t.Fatalf("GetByPlanService failed: %v", err)
	}
	if got.Quantity != 9 {
		t.Errorf("Expected replaced row, got quantity %d", got.Quantity)
	}
}

func TestMemoryStore_CountByType(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i, cfg := range []*Configuration{validFixedConfig(), validUsageConfig(), validBucketConfig()} {
		cfg.ID = "cfg_" + string(rune('a'+i))
		store.Upsert(ctx, cfg)
	}

	counts, err := store.CountByType(ctx, "ten_1")
	if err != nil {
		t.Fatalf("CountByType failed: %v", err)
	}
	if counts[TypeFixed] != 1 || counts[TypeUsage] != 1 || counts[TypeBucket] != 1 {
		t.Errorf("Unexpected counts: %v", counts)
	}
	if other, _ := store.CountByType(ctx, "ten_other"); len(other) != 0 {
		t.Errorf("Expected no counts for other tenant, got %v", other)
	}
}
