package stripesync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"

	"github.com/mbd888/ratecard/internal/circuitbreaker"
	"github.com/mbd888/ratecard/internal/hourly"
	"github.com/mbd888/ratecard/internal/plan"
	"github.com/mbd888/ratecard/internal/planconfig"
	"github.com/mbd888/ratecard/internal/proration"
	"github.com/mbd888/ratecard/internal/tiers"
)

type fakeAPI struct {
	mu       sync.Mutex
	products []*stripe.ProductParams
	prices   []*stripe.PriceParams
	existing map[string][]*stripe.Price

	failNext int // fail this many calls before succeeding
	failWith error
	calls    int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{existing: make(map[string][]*stripe.Price)}
}

func (f *fakeAPI) fail() error {
	if f.failNext > 0 {
		f.failNext--
		return f.failWith
	}
	if f.failNext < 0 { // fail forever
		return f.failWith
	}
	return nil
}

func (f *fakeAPI) CreateProduct(_ context.Context, params *stripe.ProductParams) (*stripe.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.fail(); err != nil {
		return nil, err
	}
	f.products = append(f.products, params)
	return &stripe.Product{ID: fmt.Sprintf("prod_%d", len(f.products))}, nil
}

func (f *fakeAPI) CreatePrice(_ context.Context, params *stripe.PriceParams) (*stripe.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.fail(); err != nil {
		return nil, err
	}
	f.prices = append(f.prices, params)
	return &stripe.Price{ID: fmt.Sprintf("price_%d", len(f.prices))}, nil
}

func (f *fakeAPI) ListPrices(_ context.Context, productID string) ([]*stripe.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.existing[productID], nil
}

func decp(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupSync(t *testing.T, freq plan.BillingFrequency) (*fakeAPI, *Syncer, *plan.Service, *planconfig.Service, *plan.Plan) {
	t.Helper()
	ctx := context.Background()

	planSvc := plan.NewService(plan.NewMemoryStore())
	cfgSvc := planconfig.NewService(planconfig.NewMemoryStore(), nil, nil)

	p := &plan.Plan{TenantID: "ten_1", Name: "Gold", BillingFrequency: freq}
	if _, err := planSvc.Create(ctx, p); err != nil {
		t.Fatalf("Failed to create plan: %v", err)
	}
	if _, err := planSvc.Activate(ctx, "ten_1", p.ID); err != nil {
		t.Fatalf("Failed to activate plan: %v", err)
	}

	api := newFakeAPI()
	syncer := NewSyncer(api, planSvc, cfgSvc, testLogger()).WithRetry(3, time.Millisecond)
	return api, syncer, planSvc, cfgSvc, p
}

func addConfig(t *testing.T, svc *planconfig.Service, cfg *planconfig.Configuration) *planconfig.Configuration {
	t.Helper()
	if errs, err := svc.Upsert(context.Background(), cfg); err != nil {
		t.Fatalf("Failed to upsert configuration: %v (%v)", err, errs)
	}
	return cfg
}

func fixedSub() *proration.Config {
	return &proration.Config{EnableProration: true, Alignment: proration.AlignProrated}
}

func TestSync_CreatesProductAndPrices(t *testing.T) {
	api, syncer, planSvc, cfgSvc, p := setupSync(t, plan.Monthly)
	ctx := context.Background()

	fixed := addConfig(t, cfgSvc, &planconfig.Configuration{
		TenantID: "ten_1", PlanID: p.ID, ServiceID: "svc_1",
		Type: planconfig.TypeFixed, Quantity: 1, CustomRate: decp("300"),
		Fixed: fixedSub(),
	})
	addConfig(t, cfgSvc, &planconfig.Configuration{
		TenantID: "ten_1", PlanID: p.ID, ServiceID: "svc_2",
		Type: planconfig.TypeUsage, UnitOfMeasure: "tickets",
		EnableTieredPricing: true,
		Tiers: tiers.Set{
			{From: 0, To: tiers.Bound(100), Rate: decimal.RequireFromString("0.50")},
			{From: 100, To: nil, Rate: decimal.RequireFromString("0.25")},
		},
	})
	addConfig(t, cfgSvc, &planconfig.Configuration{
		TenantID: "ten_1", PlanID: p.ID, ServiceID: "svc_3",
		Type: planconfig.TypeHourly,
		Hourly: &hourly.Config{
			BaseRate:                decimal.RequireFromString("150"),
			MinimumBillableMinutes:  15,
			RoundUpToNearestMinutes: 15,
		},
	})

	result, err := syncer.SyncTenant(ctx, "ten_1", false)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.ProductsCreated != 1 || result.PricesCreated != 2 || result.PricesSkipped != 1 {
		t.Errorf("Unexpected result: %+v", result)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "billed from usage") {
		t.Errorf("Expected hourly skip warning, got %v", result.Warnings)
	}

	if len(api.products) != 1 {
		t.Fatalf("Expected one product created, got %d", len(api.products))
	}
	if api.products[0].Metadata["plan_id"] != p.ID {
		t.Errorf("Expected plan_id metadata, got %v", api.products[0].Metadata)
	}

	// The product is linked back onto the plan.
	got, err := planSvc.Get(ctx, "ten_1", p.ID)
	if err != nil {
		t.Fatalf("Failed to get plan: %v", err)
	}
	if got.StripeProductID != "prod_1" {
		t.Errorf("Expected linked product prod_1, got %q", got.StripeProductID)
	}

	// Fixed price: $300 as 30000 cents, monthly.
	var fixedPrice *stripe.PriceParams
	var tieredPrice *stripe.PriceParams
	for _, pp := range api.prices {
		switch pp.Metadata["configuration_id"] {
		case fixed.ID:
			fixedPrice = pp
		default:
			tieredPrice = pp
		}
	}
	if fixedPrice == nil || fixedPrice.UnitAmount == nil || *fixedPrice.UnitAmount != 30000 {
		t.Errorf("Unexpected fixed price params: %+v", fixedPrice)
	}
	if fixedPrice.Recurring == nil || *fixedPrice.Recurring.Interval != "month" {
		t.Errorf("Expected monthly recurring, got %+v", fixedPrice.Recurring)
	}

	if tieredPrice == nil || *tieredPrice.BillingScheme != "tiered" || *tieredPrice.TiersMode != "volume" {
		t.Fatalf("Unexpected tiered price params: %+v", tieredPrice)
	}
	if len(tieredPrice.Tiers) != 2 {
		t.Fatalf("Expected 2 tiers, got %d", len(tieredPrice.Tiers))
	}
	if tieredPrice.Tiers[0].UpTo == nil || *tieredPrice.Tiers[0].UpTo != 100 {
		t.Errorf("Unexpected first tier: %+v", tieredPrice.Tiers[0])
	}
	if tieredPrice.Tiers[1].UpToInf == nil || !*tieredPrice.Tiers[1].UpToInf {
		t.Errorf("Expected unbounded final tier, got %+v", tieredPrice.Tiers[1])
	}
	if *tieredPrice.Tiers[0].UnitAmountDecimal != 50 {
		t.Errorf("Expected 50 cents per unit, got %v", *tieredPrice.Tiers[0].UnitAmountDecimal)
	}
}

func TestSync_SkipsExistingPrices(t *testing.T) {
	api, syncer, planSvc, cfgSvc, p := setupSync(t, plan.Monthly)
	ctx := context.Background()

	cfg := addConfig(t, cfgSvc, &planconfig.Configuration{
		TenantID: "ten_1", PlanID: p.ID, ServiceID: "svc_1",
		Type: planconfig.TypeFixed, Quantity: 1, CustomRate: decp("300"),
		Fixed: fixedSub(),
	})

	if err := planSvc.LinkStripeProduct(ctx, "ten_1", p.ID, "prod_linked"); err != nil {
		t.Fatalf("Failed to link product: %v", err)
	}
	api.existing["prod_linked"] = []*stripe.Price{
		{ID: "price_old", Active: true, Metadata: map[string]string{"configuration_id": cfg.ID}},
	}

	result, err := syncer.SyncTenant(ctx, "ten_1", false)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.ProductsCreated != 0 || result.PricesCreated != 0 || result.PricesSkipped != 1 {
		t.Errorf("Unexpected result: %+v", result)
	}
	if len(api.prices) != 0 {
		t.Errorf("Expected no price creations, got %d", len(api.prices))
	}

	// An inactive price with the same metadata does not count.
	api.existing["prod_linked"][0].Active = false
	result, err = syncer.SyncTenant(ctx, "ten_1", false)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.PricesCreated != 1 {
		t.Errorf("Expected recreation over inactive price, got %+v", result)
	}
}

func TestSync_DryRun(t *testing.T) {
	api, syncer, planSvc, cfgSvc, p := setupSync(t, plan.Monthly)
	ctx := context.Background()

	addConfig(t, cfgSvc, &planconfig.Configuration{
		TenantID: "ten_1", PlanID: p.ID, ServiceID: "svc_1",
		Type: planconfig.TypeFixed, Quantity: 1, CustomRate: decp("300"),
		Fixed: fixedSub(),
	})

	result, err := syncer.SyncTenant(ctx, "ten_1", true)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if !result.DryRun || result.ProductsCreated != 1 || result.PricesCreated != 1 {
		t.Errorf("Unexpected result: %+v", result)
	}
	if api.calls != 0 {
		t.Errorf("Expected no API calls on dry run, got %d", api.calls)
	}

	got, _ := planSvc.Get(ctx, "ten_1", p.ID)
	if got.StripeProductID != "" {
		t.Errorf("Expected no product link on dry run, got %q", got.StripeProductID)
	}
}

func TestSync_QuarterlyInterval(t *testing.T) {
	api, syncer, _, cfgSvc, p := setupSync(t, plan.Quarterly)

	addConfig(t, cfgSvc, &planconfig.Configuration{
		TenantID: "ten_1", PlanID: p.ID, ServiceID: "svc_1",
		Type: planconfig.TypeFixed, Quantity: 1, CustomRate: decp("900"),
		Fixed: fixedSub(),
	})

	if _, err := syncer.SyncTenant(context.Background(), "ten_1", false); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	pp := api.prices[0]
	if *pp.Recurring.Interval != "month" || *pp.Recurring.IntervalCount != 3 {
		t.Errorf("Expected 3-month interval, got %+v", pp.Recurring)
	}
}

func TestSync_RetriesServerErrors(t *testing.T) {
	api, syncer, _, cfgSvc, p := setupSync(t, plan.Monthly)

	addConfig(t, cfgSvc, &planconfig.Configuration{
		TenantID: "ten_1", PlanID: p.ID, ServiceID: "svc_1",
		Type: planconfig.TypeFixed, Quantity: 1, CustomRate: decp("300"),
		Fixed: fixedSub(),
	})

	api.failNext = 2
	api.failWith = &stripe.Error{HTTPStatusCode: 500, Msg: "server error"}

	result, err := syncer.SyncTenant(context.Background(), "ten_1", false)
	if err != nil {
		t.Fatalf("Expected retries to recover, got %v", err)
	}
	if result.ProductsCreated != 1 {
		t.Errorf("Unexpected result: %+v", result)
	}
}

func TestSync_DoesNotRetryClientErrors(t *testing.T) {
	api, syncer, _, cfgSvc, p := setupSync(t, plan.Monthly)

	addConfig(t, cfgSvc, &planconfig.Configuration{
		TenantID: "ten_1", PlanID: p.ID, ServiceID: "svc_1",
		Type: planconfig.TypeFixed, Quantity: 1, CustomRate: decp("300"),
		Fixed: fixedSub(),
	})

	api.failNext = -1
	api.failWith = &stripe.Error{HTTPStatusCode: 400, Msg: "bad request"}

	if _, err := syncer.SyncTenant(context.Background(), "ten_1", false); err == nil {
		t.Fatal("Expected error")
	}
	if api.calls != 1 {
		t.Errorf("Expected a single attempt on a client error, got %d", api.calls)
	}
}

func TestSync_BreakerOpen(t *testing.T) {
	_, syncer, _, cfgSvc, p := setupSync(t, plan.Monthly)

	addConfig(t, cfgSvc, &planconfig.Configuration{
		TenantID: "ten_1", PlanID: p.ID, ServiceID: "svc_1",
		Type: planconfig.TypeFixed, Quantity: 1, CustomRate: decp("300"),
		Fixed: fixedSub(),
	})

	breaker := circuitbreaker.New(1, time.Minute)
	breaker.RecordFailure(breakerKey)
	syncer.WithBreaker(breaker)

	_, err := syncer.SyncTenant(context.Background(), "ten_1", false)
	if err == nil || !strings.Contains(err.Error(), "circuit open") {
		t.Fatalf("Expected circuit open error, got %v", err)
	}
}
