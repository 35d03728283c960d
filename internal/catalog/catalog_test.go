package catalog

import (
	"context"
	"errors"
	"testing"
)

func newService(name string) *Service {
	return &Service{
		TenantID:    "ten_1",
		Name:        name,
		Category:    "productivity",
		DefaultUnit: "mailbox",
		Billable:    true,
	}
}

func TestManager_CreateAndGet(t *testing.T) {
	mgr := NewManager(NewMemoryStore())
	ctx := context.Background()

	s := newService("Hosted Email")
	fields, err := mgr.Create(ctx, s)
	if err != nil {
		t.Fatalf("Create failed: %v (%v)", err, fields)
	}
	if s.ID == "" {
		t.Error("Expected ID to be assigned")
	}

	got, err := mgr.Get(ctx, "ten_1", s.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "Hosted Email" || !got.Billable {
		t.Errorf("Unexpected service: %+v", got)
	}

	if _, err := mgr.Get(ctx, "ten_other", s.ID); !IsNotFound(err) {
		t.Errorf("Expected not found across tenants, got %v", err)
	}
}

func TestManager_Create_Validation(t *testing.T) {
	mgr := NewManager(NewMemoryStore())

	s := newService("")
	fields, err := mgr.Create(context.Background(), s)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Expected ErrInvalid, got %v", err)
	}
	if fields["name"] == "" {
		t.Errorf("Expected name error, got %v", fields)
	}
}

func TestManager_Create_DuplicateName(t *testing.T) {
	mgr := NewManager(NewMemoryStore())
	ctx := context.Background()

	if _, err := mgr.Create(ctx, newService("Hosted Email")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := mgr.Create(ctx, newService("Hosted Email")); !errors.Is(err, ErrNameTaken) {
		t.Errorf("Expected ErrNameTaken, got %v", err)
	}
}

func TestManager_IsBillable(t *testing.T) {
	mgr := NewManager(NewMemoryStore())
	ctx := context.Background()

	billable := newService("Hosted Email")
	mgr.Create(ctx, billable)

	internal := newService("Internal Tooling")
	internal.Billable = false
	mgr.Create(ctx, internal)

	if ok, err := mgr.IsBillable(ctx, "ten_1", billable.ID); err != nil || !ok {
		t.Errorf("Expected billable, got %v / %v", ok, err)
	}
	if ok, err := mgr.IsBillable(ctx, "ten_1", internal.ID); err != nil || ok {
		t.Errorf("Expected not billable, got %v / %v", ok, err)
	}
	// Unknown service is not an error, just not billable.
	if ok, err := mgr.IsBillable(ctx, "ten_1", "svc_missing"); err != nil || ok {
		t.Errorf("Expected false for unknown service, got %v / %v", ok, err)
	}
}

func TestManager_DefaultUnit(t *testing.T) {
	mgr := NewManager(NewMemoryStore())
	ctx := context.Background()

	s := newService("Hosted Email")
	mgr.Create(ctx, s)

	unit, err := mgr.DefaultUnit(ctx, "ten_1", s.ID)
	if err != nil || unit != "mailbox" {
		t.Errorf("Expected mailbox, got %q / %v", unit, err)
	}
	if unit, _ := mgr.DefaultUnit(ctx, "ten_1", "svc_missing"); unit != "" {
		t.Errorf("Expected empty unit for unknown service, got %q", unit)
	}
}

func TestManager_UpdateAndDelete(t *testing.T) {
	mgr := NewManager(NewMemoryStore())
	ctx := context.Background()

	s := newService("Hosted Email")
	mgr.Create(ctx, s)

	s.Billable = false
	s.Category = "email"
	if _, err := mgr.Update(ctx, s); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	got, _ := mgr.Get(ctx, "ten_1", s.ID)
	if got.Billable || got.Category != "email" {
		t.Errorf("Unexpected updated service: %+v", got)
	}

	if err := mgr.Delete(ctx, "ten_1", s.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := mgr.Get(ctx, "ten_1", s.ID); !IsNotFound(err) {
		t.Errorf("Expected not found after delete, got %v", err)
	}
	if err := mgr.Delete(ctx, "ten_1", s.ID); !IsNotFound(err) {
		t.Errorf("Expected not found on re-delete, got %v", err)
	}
}

func TestManager_List(t *testing.T) {
	mgr := NewManager(NewMemoryStore())
	ctx := context.Background()

	for _, name := range []string{"Hosted Email", "Endpoint Protection", "Backup"} {
		if _, err := mgr.Create(ctx, newService(name)); err != nil {
			t.Fatalf("Create %s failed: %v", name, err)
		}
	}

	services, err := mgr.List(ctx, "ten_1", 2, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(services) != 2 {
		t.Errorf("Expected 2 services with limit=2, got %d", len(services))
	}
}
