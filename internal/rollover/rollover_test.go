package rollover

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/ratecard/internal/buckets"
	"github.com/mbd888/ratecard/internal/planconfig"
	"github.com/mbd888/ratecard/internal/usage"
)

var (
	july   = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	august = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	sept   = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
)

func seedBucketConfig(t *testing.T, store *planconfig.MemoryStore, allowRollover bool) {
	t.Helper()
	err := store.Upsert(context.Background(), &planconfig.Configuration{
		ID: "cfg_1", TenantID: "ten_1", PlanID: "plan_1", ServiceID: "svc_1",
		Type: planconfig.TypeBucket,
		Bucket: &buckets.Config{
			TotalUnits:    100,
			OverageRate:   decimal.RequireFromString("1.00"),
			AllowRollover: allowRollover,
		},
	})
	if err != nil {
		t.Fatalf("seed configuration: %v", err)
	}
}

func seedUsage(t *testing.T, store *usage.MemoryStore, periodStart time.Time, units int64) {
	t.Helper()
	err := store.Append(context.Background(), &usage.Event{
		ID: "use_x", TenantID: "ten_1", PlanID: "plan_1", ServiceID: "svc_1",
		Units: units, RecordedAt: periodStart, PeriodStart: periodStart,
	})
	if err != nil {
		t.Fatalf("seed usage: %v", err)
	}
}

func newWorker(configs *planconfig.MemoryStore, events *usage.MemoryStore) *Worker {
	return NewWorker(NewMemoryStore(), configs, events,
		slog.New(slog.NewTextHandler(io.Discard, nil)), time.Hour)
}

func TestClosePeriod_CarriesUnusedUnits(t *testing.T) {
	configs := planconfig.NewMemoryStore()
	events := usage.NewMemoryStore()
	seedBucketConfig(t, configs, true)
	seedUsage(t, events, july, 60)

	w := newWorker(configs, events)
	closed, err := w.ClosePeriod(context.Background(), august)
	if err != nil {
		t.Fatalf("ClosePeriod failed: %v", err)
	}
	if closed != 1 {
		t.Errorf("Expected 1 configuration closed, got %d", closed)
	}

	units, err := w.Balance(context.Background(), "ten_1", "plan_1", "svc_1", august)
	if err != nil || units != 40 {
		t.Errorf("Expected 40 carried units, got %d / %v", units, err)
	}
}

func TestClosePeriod_ChainsAcrossPeriods(t *testing.T) {
	configs := planconfig.NewMemoryStore()
	events := usage.NewMemoryStore()
	seedBucketConfig(t, configs, true)

	// July: 60 of 100 used, carries 40.
	// August: 30 of 140 effective used, carries 110.
	seedUsage(t, events, july, 60)
	seedUsage(t, events, august, 30)

	w := newWorker(configs, events)
	ctx := context.Background()
	if _, err := w.ClosePeriod(ctx, august); err != nil {
		t.Fatalf("Close into August failed: %v", err)
	}
	if _, err := w.ClosePeriod(ctx, sept); err != nil {
		t.Fatalf("Close into September failed: %v", err)
	}

	units, _ := w.Balance(ctx, "ten_1", "plan_1", "svc_1", sept)
	if units != 110 {
		t.Errorf("Expected 110 carried into September, got %d", units)
	}
}

func TestClosePeriod_Idempotent(t *testing.T) {
	configs := planconfig.NewMemoryStore()
	events := usage.NewMemoryStore()
	seedBucketConfig(t, configs, true)
	seedUsage(t, events, july, 60)

	w := newWorker(configs, events)
	ctx := context.Background()
	w.ClosePeriod(ctx, august)
	w.ClosePeriod(ctx, august)

	units, _ := w.Balance(ctx, "ten_1", "plan_1", "svc_1", august)
	if units != 40 {
		t.Errorf("Expected 40 after double close, got %d", units)
	}
}

func TestClosePeriod_SkipsNonRolloverBuckets(t *testing.T) {
	configs := planconfig.NewMemoryStore()
	events := usage.NewMemoryStore()
	seedBucketConfig(t, configs, false)
	seedUsage(t, events, july, 60)

	w := newWorker(configs, events)
	closed, err := w.ClosePeriod(context.Background(), august)
	if err != nil {
		t.Fatalf("ClosePeriod failed: %v", err)
	}
	if closed != 0 {
		t.Errorf("Expected no configurations closed, got %d", closed)
	}
	if units, _ := w.Balance(context.Background(), "ten_1", "plan_1", "svc_1", august); units != 0 {
		t.Errorf("Expected no balance, got %d", units)
	}
}

func TestClosePeriod_OverconsumedCarriesNothing(t *testing.T) {
	configs := planconfig.NewMemoryStore()
	events := usage.NewMemoryStore()
	seedBucketConfig(t, configs, true)
	seedUsage(t, events, july, 150)

	w := newWorker(configs, events)
	w.ClosePeriod(context.Background(), august)

	units, _ := w.Balance(context.Background(), "ten_1", "plan_1", "svc_1", august)
	if units != 0 {
		t.Errorf("Expected zero carried when over allotment, got %d", units)
	}
}
