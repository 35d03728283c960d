package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/ratecard/internal/idgen"
	"github.com/mbd888/ratecard/internal/planconfig"
	"github.com/mbd888/ratecard/internal/validation"
)

// DefaultPolicyCacheTTL is how long tenant policies are cached before re-fetching.
const DefaultPolicyCacheTTL = 30 * time.Second

// policyCacheEntry holds cached policies for a tenant.
type policyCacheEntry struct {
	policies  []*PricingPolicy
	fetchedAt time.Time
}

// Evaluator implements planconfig.GuardrailEvaluator using
// tenant-scoped pricing policies.
type Evaluator struct {
	store      Store
	violations ViolationLog
	cacheTTL   time.Duration

	mu    sync.RWMutex
	cache map[string]*policyCacheEntry
}

// NewEvaluator creates a new policy evaluator with default cache TTL.
func NewEvaluator(store Store) *Evaluator {
	return &Evaluator{
		store:    store,
		cacheTTL: DefaultPolicyCacheTTL,
		cache:    make(map[string]*policyCacheEntry),
	}
}

// WithViolationLog enables audit recording of guardrail breaches.
func (e *Evaluator) WithViolationLog(log ViolationLog) *Evaluator {
	e.violations = log
	return e
}

// WithCacheTTL overrides the default policy cache TTL.
func (e *Evaluator) WithCacheTTL(ttl time.Duration) *Evaluator {
	e.cacheTTL = ttl
	return e
}

// InvalidateCache removes cached policies for a tenant. Call after policy CRUD operations.
func (e *Evaluator) InvalidateCache(tenantID string) {
	e.mu.Lock()
	delete(e.cache, tenantID)
	e.mu.Unlock()
}

// SweepCache removes expired entries. Returns the number removed.
func (e *Evaluator) SweepCache() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	removed := 0
	for k, entry := range e.cache {
		if now.Sub(entry.fetchedAt) > e.cacheTTL {
			delete(e.cache, k)
			removed++
		}
	}
	return removed
}

// cachedList returns policies from cache if fresh, otherwise fetches from store.
func (e *Evaluator) cachedList(ctx context.Context, tenantID string) ([]*PricingPolicy, error) {
	now := time.Now()

	e.mu.RLock()
	entry, ok := e.cache[tenantID]
	if ok && now.Sub(entry.fetchedAt) < e.cacheTTL {
		e.mu.RUnlock()
		return entry.policies, nil
	}
	e.mu.RUnlock()

	policies, err := e.store.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[tenantID] = &policyCacheEntry{
		policies:  policies,
		fetchedAt: now,
	}
	e.mu.Unlock()

	return policies, nil
}

// EvaluateConfiguration checks a configuration against the tenant's
// pricing policies. Enforced breaches come back as field-keyed
// messages, first match per field wins; shadow breaches are recorded
// in the violation log and let the write proceed.
func (e *Evaluator) EvaluateConfiguration(ctx context.Context, cfg *planconfig.Configuration) (validation.Fields, error) {
	errs := validation.Fields{}

	if cfg.TenantID == "" {
		return errs, nil
	}

	policies, err := e.cachedList(ctx, cfg.TenantID)
	if err != nil {
		return nil, fmt.Errorf("policy check failed: %w", err) // fail closed
	}

	sort.Slice(policies, func(i, j int) bool {
		if policies[i].Priority != policies[j].Priority {
			return policies[i].Priority < policies[j].Priority
		}
		return policies[i].CreatedAt.Before(policies[j].CreatedAt)
	})

	now := time.Now()
	for _, pol := range policies {
		if !pol.Enabled {
			continue
		}
		shadow := pol.EnforcementMode == "shadow" &&
			(pol.ShadowExpiresAt.IsZero() || now.Before(pol.ShadowExpiresAt))
		for _, rule := range pol.Rules {
			field, msg, breached := checkRule(rule, cfg)
			if !breached {
				continue
			}
			mode := "enforce"
			if shadow {
				mode = "shadow"
			} else {
				errs.Set(field, fmt.Sprintf("%s (policy %q)", msg, pol.Name))
			}
			e.record(ctx, pol, rule.Type, cfg, field, msg, mode)
		}
	}

	return errs, nil
}

// record appends a violation to the audit log. Best effort: a log
// failure never blocks or un-blocks the write itself.
func (e *Evaluator) record(ctx context.Context, pol *PricingPolicy, ruleType string, cfg *planconfig.Configuration, field, msg, mode string) {
	if e.violations == nil {
		return
	}
	_ = e.violations.Record(ctx, &Violation{
		ID:                idgen.WithPrefix("vio_"),
		TenantID:          cfg.TenantID,
		PolicyID:          pol.ID,
		PolicyName:        pol.Name,
		RuleType:          ruleType,
		ConfigurationID:   cfg.ID,
		PlanID:            cfg.PlanID,
		ServiceID:         cfg.ServiceID,
		ConfigurationType: string(cfg.Type),
		Field:             field,
		Message:           msg,
		Mode:              mode,
		CreatedAt:         time.Now(),
	})
}

// checkRule evaluates one rule against a configuration. Unknown rule
// types are skipped for forward compatibility.
func checkRule(rule Rule, cfg *planconfig.Configuration) (field, msg string, breached bool) {
	switch rule.Type {
	case "rate_ceiling":
		return checkRateCeiling(rule, cfg)
	case "overage_rate_bounds":
		return checkOverageRateBounds(rule, cfg)
	case "rounding_increments":
		return checkRoundingIncrements(rule, cfg)
	case "multiplier_ceiling":
		return checkMultiplierCeiling(rule, cfg)
	case "require_proration":
		return checkRequireProration(cfg)
	}
	return "", "", false
}

func checkRateCeiling(rule Rule, cfg *planconfig.Configuration) (string, string, bool) {
	var p RateCeilingParams
	if err := json.Unmarshal(rule.Params, &p); err != nil {
		return "", "", false // malformed params skipped at evaluation
	}
	if p.ConfigurationType != "" && p.ConfigurationType != string(cfg.Type) {
		return "", "", false
	}
	max, err := decimal.NewFromString(p.MaxRate)
	if err != nil {
		return "", "", false
	}

	over := func(field string, rate decimal.Decimal) (string, string, bool) {
		return field, fmt.Sprintf("rate %s exceeds ceiling %s", rate.String(), max.String()), true
	}

	switch cfg.Type {
	case planconfig.TypeFixed:
		if cfg.CustomRate != nil && cfg.CustomRate.GreaterThan(max) {
			return over("custom_rate", *cfg.CustomRate)
		}
	case planconfig.TypeHourly:
		if cfg.Hourly.BaseRate.GreaterThan(max) {
			return over("base_rate", cfg.Hourly.BaseRate)
		}
		for _, utr := range cfg.Hourly.UserTypeRates {
			if utr.Rate.GreaterThan(max) {
				return over("user_type_rates", utr.Rate)
			}
		}
	case planconfig.TypeUsage:
		if cfg.EnableTieredPricing {
			for _, t := range cfg.Tiers {
				if t.Rate.GreaterThan(max) {
					return over("tiers", t.Rate)
				}
			}
		} else if cfg.CustomRate != nil && cfg.CustomRate.GreaterThan(max) {
			return over("custom_rate", *cfg.CustomRate)
		}
	case planconfig.TypeBucket:
		if cfg.Bucket.OverageRate.GreaterThan(max) {
			return over("overage_rate", cfg.Bucket.OverageRate)
		}
	}
	return "", "", false
}

func checkOverageRateBounds(rule Rule, cfg *planconfig.Configuration) (string, string, bool) {
	var p OverageRateBoundsParams
	if err := json.Unmarshal(rule.Params, &p); err != nil {
		return "", "", false
	}

	check := func(field string, rate decimal.Decimal) (string, string, bool) {
		if p.MinRate != "" {
			if min, err := decimal.NewFromString(p.MinRate); err == nil && rate.LessThan(min) {
				return field, fmt.Sprintf("rate %s is below floor %s", rate.String(), min.String()), true
			}
		}
		if p.MaxRate != "" {
			if max, err := decimal.NewFromString(p.MaxRate); err == nil && rate.GreaterThan(max) {
				return field, fmt.Sprintf("rate %s exceeds ceiling %s", rate.String(), max.String()), true
			}
		}
		return "", "", false
	}

	switch cfg.Type {
	case planconfig.TypeBucket:
		return check("overage_rate", cfg.Bucket.OverageRate)
	case planconfig.TypeHourly:
		if cfg.Hourly.EnableOvertime {
			return check("overtime_rate", cfg.Hourly.OvertimeRate)
		}
	}
	return "", "", false
}

func checkRoundingIncrements(rule Rule, cfg *planconfig.Configuration) (string, string, bool) {
	if cfg.Type != planconfig.TypeHourly {
		return "", "", false
	}
	var p RoundingIncrementsParams
	if err := json.Unmarshal(rule.Params, &p); err != nil {
		return "", "", false
	}
	for _, m := range p.AllowedMinutes {
		if cfg.Hourly.RoundUpToNearestMinutes == m {
			return "", "", false
		}
	}
	return "round_up_to_nearest_minutes",
		fmt.Sprintf("increment %d is not an approved rounding increment", cfg.Hourly.RoundUpToNearestMinutes),
		true
}

func checkMultiplierCeiling(rule Rule, cfg *planconfig.Configuration) (string, string, bool) {
	if cfg.Type != planconfig.TypeHourly || !cfg.Hourly.EnableAfterHours {
		return "", "", false
	}
	var p MultiplierCeilingParams
	if err := json.Unmarshal(rule.Params, &p); err != nil {
		return "", "", false
	}
	max, err := decimal.NewFromString(p.MaxAfterHoursMultiplier)
	if err != nil {
		return "", "", false
	}
	if cfg.Hourly.AfterHoursMultiplier.GreaterThan(max) {
		return "after_hours_multiplier",
			fmt.Sprintf("multiplier %s exceeds ceiling %s", cfg.Hourly.AfterHoursMultiplier.String(), max.String()),
			true
	}
	return "", "", false
}

func checkRequireProration(cfg *planconfig.Configuration) (string, string, bool) {
	if cfg.Type != planconfig.TypeFixed {
		return "", "", false
	}
	if !cfg.Fixed.EnableProration {
		return "enable_proration", "fixed configurations must enable proration", true
	}
	return "", "", false
}

// Compile-time check that Evaluator implements planconfig.GuardrailEvaluator.
var _ planconfig.GuardrailEvaluator = (*Evaluator)(nil)
