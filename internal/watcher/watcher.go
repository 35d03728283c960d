// Package watcher monitors bucket consumption.
//
// It periodically sweeps bucket configurations, compares the period's
// consumed units against the effective allotment, and raises an alert
// the first time consumption crosses a threshold. Each (configuration,
// period, threshold) triple alerts at most once per process lifetime.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/ratecard/internal/idgen"
	"github.com/mbd888/ratecard/internal/planconfig"
	"github.com/mbd888/ratecard/internal/usage"
)

// ConfigSource lists bucket configurations across tenants.
type ConfigSource interface {
	ListAllByType(ctx context.Context, typ planconfig.Type) ([]*planconfig.Configuration, error)
}

// UsageSource reports consumed units for a period.
type UsageSource interface {
	SumUnits(ctx context.Context, tenantID, planID, serviceID string, periodStart time.Time) (int64, error)
}

// RolloverSource reports carried-over units for a period.
type RolloverSource interface {
	Balance(ctx context.Context, tenantID, planID, serviceID string, periodStart time.Time) (int64, error)
}

// AlertSink receives threshold alerts. The server fans these out to
// websocket clients and webhook subscriptions.
type AlertSink interface {
	BucketThreshold(ctx context.Context, a *Alert)
}

// Alert is one threshold crossing.
type Alert struct {
	ID                 string    `json:"id"`
	TenantID           string    `json:"tenantId"`
	PlanID             string    `json:"planId"`
	ServiceID          string    `json:"serviceId"`
	ConfigurationID    string    `json:"configurationId"`
	PeriodStart        time.Time `json:"periodStart"`
	Threshold          int       `json:"threshold"` // percent of allotment
	ConsumedUnits      int64     `json:"consumedUnits"`
	EffectiveAllotment int64     `json:"effectiveAllotment"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Config for the bucket watcher.
type Config struct {
	PollInterval time.Duration
	Thresholds   []int // ascending percentages
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Minute,
		Thresholds:   []int{80, 100},
	}
}

// Watcher sweeps bucket configurations for threshold crossings.
type Watcher struct {
	config   Config
	configs  ConfigSource
	usage    UsageSource
	rollover RolloverSource
	sink     AlertSink
	logger   *slog.Logger

	// Alerted (config, period, threshold) triples.
	alerted map[string]bool
	mu      sync.Mutex

	stop chan struct{}
	done chan struct{}
}

// New creates a new bucket watcher.
func New(cfg Config, configs ConfigSource, usageSrc UsageSource, sink AlertSink, logger *slog.Logger) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if len(cfg.Thresholds) == 0 {
		cfg.Thresholds = DefaultConfig().Thresholds
	}
	return &Watcher{
		config:  cfg,
		configs: configs,
		usage:   usageSrc,
		sink:    sink,
		logger:  logger,
		alerted: make(map[string]bool),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// WithRollover includes carried-over units in the effective allotment.
func (w *Watcher) WithRollover(r RolloverSource) *Watcher {
	w.rollover = r
	return w
}

// Start begins the sweep loop.
func (w *Watcher) Start(ctx context.Context) {
	w.logger.Info("bucket watcher started",
		"interval", w.config.PollInterval,
		"thresholds", w.config.Thresholds,
	)
	go w.pollLoop(ctx)
}

// Stop stops the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if _, err := w.Check(ctx); err != nil {
				w.logger.Error("bucket sweep failed", "error", err)
			}
		}
	}
}

// Check runs one sweep over all bucket configurations and returns the
// number of alerts raised.
func (w *Watcher) Check(ctx context.Context) (int, error) {
	period := usage.PeriodStartFor(time.Now())

	configs, err := w.configs.ListAllByType(ctx, planconfig.TypeBucket)
	if err != nil {
		return 0, fmt.Errorf("list bucket configurations: %w", err)
	}

	w.prune(period)

	raised := 0
	for _, cfg := range configs {
		n, err := w.checkConfig(ctx, cfg, period)
		if err != nil {
			w.logger.Error("bucket check failed",
				"configuration_id", cfg.ID,
				"error", err)
			continue
		}
		raised += n
	}
	return raised, nil
}

func (w *Watcher) checkConfig(ctx context.Context, cfg *planconfig.Configuration, period time.Time) (int, error) {
	if cfg.Bucket == nil {
		return 0, nil
	}

	consumed, err := w.usage.SumUnits(ctx, cfg.TenantID, cfg.PlanID, cfg.ServiceID, period)
	if err != nil {
		return 0, fmt.Errorf("sum units: %w", err)
	}
	if consumed == 0 {
		return 0, nil
	}

	allotment := cfg.Bucket.TotalUnits
	if cfg.Bucket.AllowRollover && w.rollover != nil {
		carried, err := w.rollover.Balance(ctx, cfg.TenantID, cfg.PlanID, cfg.ServiceID, period)
		if err != nil {
			return 0, fmt.Errorf("rollover balance: %w", err)
		}
		allotment += carried
	}

	// A zero-sized bucket is all overage, and thresholds top out at
	// 100, so only consumption below the allotment needs an exact
	// figure. Decimal avoids int64 overflow on the multiply.
	percent := 100
	if allotment > 0 && consumed < allotment {
		percent = int(decimal.NewFromInt(consumed).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(allotment)).
			IntPart())
	}

	raised := 0
	for _, threshold := range w.config.Thresholds {
		if percent < threshold {
			continue
		}
		key := alertKey(cfg.ID, period, threshold)
		w.mu.Lock()
		seen := w.alerted[key]
		if !seen {
			w.alerted[key] = true
		}
		w.mu.Unlock()
		if seen {
			continue
		}

		a := &Alert{
			ID:                 idgen.WithPrefix("alr_"),
			TenantID:           cfg.TenantID,
			PlanID:             cfg.PlanID,
			ServiceID:          cfg.ServiceID,
			ConfigurationID:    cfg.ID,
			PeriodStart:        period,
			Threshold:          threshold,
			ConsumedUnits:      consumed,
			EffectiveAllotment: allotment,
			CreatedAt:          time.Now(),
		}
		w.logger.Info("bucket threshold crossed",
			"configuration_id", cfg.ID,
			"threshold", threshold,
			"consumed", consumed,
			"allotment", allotment,
		)
		if w.sink != nil {
			w.sink.BucketThreshold(ctx, a)
		}
		observeAlert(threshold)
		raised++
	}
	return raised, nil
}

// prune drops dedupe entries from earlier periods.
func (w *Watcher) prune(period time.Time) {
	marker := "|" + period.UTC().Format(time.RFC3339) + "|"
	w.mu.Lock()
	defer w.mu.Unlock()
	for k := range w.alerted {
		if !strings.Contains(k, marker) {
			delete(w.alerted, k)
		}
	}
}

func alertKey(configID string, period time.Time, threshold int) string {
	return fmt.Sprintf("%s|%s|%d", configID, period.UTC().Format(time.RFC3339), threshold)
}
