package rollover

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/ratecard/internal/buckets"
	"github.com/mbd888/ratecard/internal/planconfig"
)

// ConfigSource lists every bucket configuration across tenants.
type ConfigSource interface {
	ListAllByType(ctx context.Context, typ planconfig.Type) ([]*planconfig.Configuration, error)
}

// UsageSource reads a period's consumed units for a pairing.
type UsageSource interface {
	SumUnits(ctx context.Context, tenantID, planID, serviceID string, periodStart time.Time) (int64, error)
}

// Worker periodically closes elapsed billing periods for rollover
// buckets and writes the carried units into the next period.
type Worker struct {
	store    Store
	configs  ConfigSource
	usage    UsageSource
	logger   *slog.Logger
	interval time.Duration
	stop     chan struct{}
	running  atomic.Bool
}

// NewWorker creates a new period-close worker.
func NewWorker(store Store, configs ConfigSource, usage UsageSource, logger *slog.Logger, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Worker{
		store:    store,
		configs:  configs,
		usage:    usage,
		logger:   logger,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the worker loop is active.
func (w *Worker) Running() bool {
	return w.running.Load()
}

// Start runs an immediate close then ticks at the configured interval.
func (w *Worker) Start(ctx context.Context) {
	w.running.Store(true)
	defer w.running.Store(false)

	w.safeDoWork(ctx, w.closeTick)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.safeDoWork(ctx, w.closeTick)
		}
	}
}

// Stop signals the worker to stop.
func (w *Worker) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}

func (w *Worker) safeDoWork(ctx context.Context, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic in rollover worker", "panic", fmt.Sprint(r))
		}
	}()
	fn(ctx)
}

func (w *Worker) closeTick(ctx context.Context) {
	closed, err := w.ClosePeriod(ctx, currentPeriodStart(time.Now()))
	if err != nil {
		w.logger.Error("period close failed", "error", err)
		return
	}
	if closed > 0 {
		w.logger.Info("billing periods closed", "configurations", closed)
	}
}

// ClosePeriod closes the period preceding nextPeriod for every
// rollover bucket configuration: it computes the carried units from
// the elapsed period's consumption and writes them as nextPeriod's
// balance. Re-closing overwrites the same rows, so the operation is
// idempotent. It returns the number of configurations closed.
func (w *Worker) ClosePeriod(ctx context.Context, nextPeriod time.Time) (int, error) {
	prevPeriod := nextPeriod.AddDate(0, -1, 0)

	configs, err := w.configs.ListAllByType(ctx, planconfig.TypeBucket)
	if err != nil {
		return 0, fmt.Errorf("list bucket configurations: %w", err)
	}

	closed := 0
	for _, cfg := range configs {
		if cfg.Bucket == nil || !cfg.Bucket.AllowRollover {
			continue
		}

		consumed, err := w.usage.SumUnits(ctx, cfg.TenantID, cfg.PlanID, cfg.ServiceID, prevPeriod)
		if err != nil {
			w.logger.Error("read period consumption", "configuration", cfg.ID, "error", err)
			continue
		}

		// The closing period's own rollover feeds its effective
		// allotment, chaining carryover across consecutive periods.
		var prevRollover int64
		if b, err := w.store.Get(ctx, cfg.TenantID, cfg.PlanID, cfg.ServiceID, prevPeriod); err == nil {
			prevRollover = b.Units
		}

		charge, err := buckets.Compute(*cfg.Bucket, consumed, prevRollover)
		if err != nil {
			w.logger.Error("compute bucket close", "configuration", cfg.ID, "error", err)
			continue
		}

		if err := w.store.Set(ctx, &Balance{
			TenantID:    cfg.TenantID,
			PlanID:      cfg.PlanID,
			ServiceID:   cfg.ServiceID,
			PeriodStart: nextPeriod,
			Units:       charge.UnitsCarried,
			ClosedAt:    time.Now(),
		}); err != nil {
			w.logger.Error("write rollover balance", "configuration", cfg.ID, "error", err)
			continue
		}
		ClosuresTotal.Inc()
		closed++
	}
	return closed, nil
}

// Balance returns the units carried into a period, zero when the
// period has no closed predecessor.
func (w *Worker) Balance(ctx context.Context, tenantID, planID, serviceID string, periodStart time.Time) (int64, error) {
	b, err := w.store.Get(ctx, tenantID, planID, serviceID, periodStart)
	if err != nil {
		if err == ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	return b.Units, nil
}

func currentPeriodStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
