package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/ratecard/internal/idgen"
	"github.com/mbd888/ratecard/internal/plan"
	"github.com/mbd888/ratecard/internal/planconfig"
	"github.com/mbd888/ratecard/internal/usage"
	"github.com/mbd888/ratecard/internal/watcher"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratecard",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratecard",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

// Emitter wraps a Dispatcher to emit lifecycle events across subsystems.
// All methods are fire-and-forget: errors are logged but never returned.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(tenantID string, eventType EventType, data map[string]interface{}) {
	if e == nil || e.d == nil {
		return
	}
	webhookEmitTotal.WithLabelValues(string(eventType)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		TenantID:  tenantID,
		Timestamp: time.Now(),
		Data:      data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.Dispatch(ctx, event); err != nil {
		webhookEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("webhook emit failed", "event", eventType, "tenant", tenantID, "error", err)
	}
}

// ConfigurationChanged emits a configuration.* event. The action strings
// match what the configuration service reports: created, updated, deleted.
func (e *Emitter) ConfigurationChanged(ctx context.Context, action string, cfg *planconfig.Configuration) {
	var eventType EventType
	switch action {
	case "created":
		eventType = EventConfigurationCreated
	case "deleted":
		eventType = EventConfigurationDeleted
	default:
		eventType = EventConfigurationUpdated
	}
	e.emit(cfg.TenantID, eventType, map[string]interface{}{
		"configurationId":   cfg.ID,
		"planId":            cfg.PlanID,
		"serviceId":         cfg.ServiceID,
		"configurationType": string(cfg.Type),
	})
}

// PlanChanged emits a plan.* event.
func (e *Emitter) PlanChanged(ctx context.Context, action string, p *plan.Plan) {
	var eventType EventType
	switch action {
	case "created":
		eventType = EventPlanCreated
	case "activated":
		eventType = EventPlanActivated
	case "archived":
		eventType = EventPlanArchived
	default:
		eventType = EventPlanUpdated
	}
	e.emit(p.TenantID, eventType, map[string]interface{}{
		"planId":           p.ID,
		"name":             p.Name,
		"status":           string(p.Status),
		"billingFrequency": string(p.BillingFrequency),
	})
}

// UsageRecorded emits a usage.recorded event.
func (e *Emitter) UsageRecorded(ctx context.Context, ev *usage.Event) {
	e.emit(ev.TenantID, EventUsageRecorded, map[string]interface{}{
		"usageId":     ev.ID,
		"planId":      ev.PlanID,
		"serviceId":   ev.ServiceID,
		"units":       ev.Units,
		"periodStart": ev.PeriodStart,
	})
}

// BucketThreshold emits a bucket.threshold event.
func (e *Emitter) BucketThreshold(ctx context.Context, a *watcher.Alert) {
	e.emit(a.TenantID, EventBucketThreshold, map[string]interface{}{
		"alertId":            a.ID,
		"configurationId":    a.ConfigurationID,
		"planId":             a.PlanID,
		"serviceId":          a.ServiceID,
		"threshold":          a.Threshold,
		"consumedUnits":      a.ConsumedUnits,
		"effectiveAllotment": a.EffectiveAllotment,
		"periodStart":        a.PeriodStart,
	})
}

var (
	_ planconfig.EventEmitter = (*Emitter)(nil)
	_ plan.EventEmitter       = (*Emitter)(nil)
	_ usage.EventEmitter      = (*Emitter)(nil)
	_ watcher.AlertSink       = (*Emitter)(nil)
)
