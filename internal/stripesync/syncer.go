package stripesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"

	"github.com/mbd888/ratecard/internal/circuitbreaker"
	"github.com/mbd888/ratecard/internal/plan"
	"github.com/mbd888/ratecard/internal/planconfig"
	"github.com/mbd888/ratecard/internal/retry"
)

const breakerKey = "stripe"

// PlanSource lists exportable plans and records product links.
type PlanSource interface {
	ListActive(ctx context.Context, tenantID string) ([]*plan.Plan, error)
	LinkStripeProduct(ctx context.Context, tenantID, id, productID string) error
}

// ConfigSource lists a plan's configurations.
type ConfigSource interface {
	ListByPlan(ctx context.Context, tenantID, planID string, limit int, cursor string) ([]*planconfig.Configuration, error)
}

// Result summarizes one sync run.
type Result struct {
	PlansExamined   int      `json:"plansExamined"`
	ProductsCreated int      `json:"productsCreated"`
	PricesCreated   int      `json:"pricesCreated"`
	PricesSkipped   int      `json:"pricesSkipped"`
	Warnings        []string `json:"warnings,omitempty"`
	DryRun          bool     `json:"dryRun"`
}

// Syncer pushes a tenant's active plans into Stripe.
type Syncer struct {
	api     API
	plans   PlanSource
	configs ConfigSource
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger

	maxAttempts int
	baseDelay   time.Duration
}

// NewSyncer creates a syncer with three retry attempts per API call.
func NewSyncer(api API, plans PlanSource, configs ConfigSource, logger *slog.Logger) *Syncer {
	return &Syncer{
		api:         api,
		plans:       plans,
		configs:     configs,
		logger:      logger,
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
	}
}

// WithBreaker trips sync off entirely when Stripe is failing.
func (s *Syncer) WithBreaker(b *circuitbreaker.Breaker) *Syncer {
	s.breaker = b
	return s
}

// WithRetry overrides the per-call retry schedule.
func (s *Syncer) WithRetry(maxAttempts int, baseDelay time.Duration) *Syncer {
	s.maxAttempts = maxAttempts
	s.baseDelay = baseDelay
	return s
}

// SyncTenant exports the tenant's active plans and their fixed/usage
// configurations. With dryRun set it reports what would change
// without touching Stripe.
func (s *Syncer) SyncTenant(ctx context.Context, tenantID string, dryRun bool) (*Result, error) {
	start := time.Now()
	result := &Result{DryRun: dryRun}

	plans, err := s.plans.ListActive(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list active plans: %w", err)
	}

	for _, p := range plans {
		result.PlansExamined++
		if err := s.syncPlan(ctx, tenantID, p, dryRun, result); err != nil {
			observeSync("error")
			return result, fmt.Errorf("sync plan %s: %w", p.ID, err)
		}
	}

	outcome := "ok"
	if dryRun {
		outcome = "dry_run"
	}
	observeSync(outcome)
	s.logger.Info("stripe sync finished",
		"tenant_id", tenantID,
		"plans", result.PlansExamined,
		"products_created", result.ProductsCreated,
		"prices_created", result.PricesCreated,
		"prices_skipped", result.PricesSkipped,
		"dry_run", dryRun,
		"duration", time.Since(start))
	return result, nil
}

func (s *Syncer) syncPlan(ctx context.Context, tenantID string, p *plan.Plan, dryRun bool, result *Result) error {
	productID := p.StripeProductID
	productNew := false

	if productID == "" {
		if dryRun {
			result.ProductsCreated++
			productNew = true
		} else {
			prod, err := s.createProduct(ctx, tenantID, p)
			if err != nil {
				return err
			}
			if err := s.plans.LinkStripeProduct(ctx, tenantID, p.ID, prod.ID); err != nil {
				return fmt.Errorf("link product %s: %w", prod.ID, err)
			}
			productID = prod.ID
			productNew = true
			result.ProductsCreated++
		}
	}

	// A product created this run has no prices to collide with.
	var existing []*stripe.Price
	if !productNew && productID != "" {
		var err error
		err = s.call(ctx, "list prices", func() error {
			var lerr error
			existing, lerr = s.api.ListPrices(ctx, productID)
			return lerr
		})
		if err != nil {
			return err
		}
	}

	configs, err := s.configs.ListByPlan(ctx, tenantID, p.ID, 200, "")
	if err != nil {
		return fmt.Errorf("list configurations: %w", err)
	}

	for _, cfg := range configs {
		params, skip := priceParams(p, cfg)
		if skip != "" {
			result.PricesSkipped++
			result.Warnings = append(result.Warnings, skip)
			continue
		}
		if hasPriceFor(existing, cfg.ID) {
			result.PricesSkipped++
			continue
		}
		if dryRun {
			result.PricesCreated++
			continue
		}
		params.Product = stripe.String(productID)
		err := s.call(ctx, "create price", func() error {
			_, cerr := s.api.CreatePrice(ctx, params)
			return cerr
		})
		if err != nil {
			return err
		}
		result.PricesCreated++
	}
	return nil
}

func (s *Syncer) createProduct(ctx context.Context, tenantID string, p *plan.Plan) (*stripe.Product, error) {
	params := &stripe.ProductParams{
		Name: stripe.String(p.Name),
	}
	if p.Description != "" {
		params.Description = stripe.String(p.Description)
	}
	params.Metadata = map[string]string{
		"plan_id":   p.ID,
		"tenant_id": tenantID,
	}

	var prod *stripe.Product
	err := s.call(ctx, "create product", func() error {
		var cerr error
		prod, cerr = s.api.CreateProduct(ctx, params)
		return cerr
	})
	return prod, err
}

// call runs one Stripe operation behind the breaker with retries.
// Client errors (4xx except rate limits) are not retried.
func (s *Syncer) call(ctx context.Context, op string, fn func() error) error {
	if s.breaker != nil && !s.breaker.Allow(breakerKey) {
		return fmt.Errorf("stripe circuit open, refusing %s", op)
	}

	err := retry.Do(ctx, s.maxAttempts, s.baseDelay, func() error {
		err := fn()
		if err == nil {
			return nil
		}
		var sErr *stripe.Error
		if errors.As(err, &sErr) &&
			sErr.HTTPStatusCode >= 400 && sErr.HTTPStatusCode < 500 &&
			sErr.HTTPStatusCode != 429 {
			return retry.Permanent(err)
		}
		return err
	})

	if s.breaker != nil {
		if err != nil {
			s.breaker.RecordFailure(breakerKey)
		} else {
			s.breaker.RecordSuccess(breakerKey)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// hasPriceFor reports whether an active price for this configuration
// already exists.
func hasPriceFor(prices []*stripe.Price, configID string) bool {
	for _, p := range prices {
		if p.Active && p.Metadata["configuration_id"] == configID {
			return true
		}
	}
	return false
}

// priceParams maps a configuration to Stripe price params. A non-empty
// skip reason means the configuration is not exportable.
func priceParams(p *plan.Plan, cfg *planconfig.Configuration) (*stripe.PriceParams, string) {
	recurring := &stripe.PriceRecurringParams{}
	switch p.BillingFrequency {
	case plan.Monthly:
		recurring.Interval = stripe.String("month")
	case plan.Quarterly:
		recurring.Interval = stripe.String("month")
		recurring.IntervalCount = stripe.Int64(3)
	case plan.Annual:
		recurring.Interval = stripe.String("year")
	default:
		return nil, fmt.Sprintf("configuration %s: unsupported billing frequency %q", cfg.ID, p.BillingFrequency)
	}

	params := &stripe.PriceParams{
		Currency: stripe.String("usd"),
	}
	params.Metadata = map[string]string{
		"configuration_id": cfg.ID,
		"service_id":       cfg.ServiceID,
	}

	switch cfg.Type {
	case planconfig.TypeFixed:
		if cfg.CustomRate == nil {
			return nil, fmt.Sprintf("configuration %s: fixed configuration has no rate", cfg.ID)
		}
		params.UnitAmount = stripe.Int64(cents(*cfg.CustomRate))

	case planconfig.TypeUsage:
		recurring.UsageType = stripe.String("licensed")
		if cfg.EnableTieredPricing {
			params.BillingScheme = stripe.String("tiered")
			params.TiersMode = stripe.String("volume")
			sorted := cfg.Tiers.Sorted()
			params.Tiers = make([]*stripe.PriceTierParams, len(sorted))
			for i, t := range sorted {
				tier := &stripe.PriceTierParams{
					UnitAmountDecimal: stripe.Float64(centsDecimal(t.Rate)),
				}
				if t.To == nil {
					tier.UpToInf = stripe.Bool(true)
				} else {
					tier.UpTo = stripe.Int64(*t.To)
				}
				params.Tiers[i] = tier
			}
		} else {
			if cfg.CustomRate == nil {
				return nil, fmt.Sprintf("configuration %s: usage configuration has no rate", cfg.ID)
			}
			params.BillingScheme = stripe.String("per_unit")
			params.UnitAmountDecimal = stripe.Float64(centsDecimal(*cfg.CustomRate))
		}

	default:
		// Hourly and bucket charges depend on recorded work and
		// consumption; they are invoiced from usage, not exported.
		return nil, fmt.Sprintf("configuration %s: %s pricing is billed from usage, not exported", cfg.ID, cfg.Type)
	}

	params.Recurring = recurring
	return params, ""
}

func cents(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// centsDecimal keeps sub-cent usage rates exact on the Stripe side.
func centsDecimal(d decimal.Decimal) float64 {
	return d.Mul(decimal.NewFromInt(100)).InexactFloat64()
}
