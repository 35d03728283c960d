package realtime

import (
	"context"
	"time"

	"github.com/mbd888/ratecard/internal/plan"
	"github.com/mbd888/ratecard/internal/planconfig"
	"github.com/mbd888/ratecard/internal/usage"
	"github.com/mbd888/ratecard/internal/watcher"
)

// Emitter adapts domain lifecycle notifications into hub broadcasts.
// A nil Emitter is safe to call; every method is a no-op then.
type Emitter struct {
	hub *Hub
}

// NewEmitter creates an emitter backed by the hub.
func NewEmitter(hub *Hub) *Emitter {
	return &Emitter{hub: hub}
}

func (e *Emitter) broadcast(tenantID string, eventType EventType, data map[string]interface{}) {
	if e == nil || e.hub == nil {
		return
	}
	e.hub.Broadcast(&Event{
		Type:      eventType,
		TenantID:  tenantID,
		Timestamp: time.Now(),
		Data:      data,
	})
}

func (e *Emitter) PlanChanged(ctx context.Context, action string, p *plan.Plan) {
	e.broadcast(p.TenantID, EventPlanChanged, map[string]interface{}{
		"action": action,
		"planId": p.ID,
		"name":   p.Name,
		"status": string(p.Status),
	})
}

func (e *Emitter) ConfigurationChanged(ctx context.Context, action string, cfg *planconfig.Configuration) {
	e.broadcast(cfg.TenantID, EventConfigurationChanged, map[string]interface{}{
		"action":            action,
		"configurationId":   cfg.ID,
		"planId":            cfg.PlanID,
		"serviceId":         cfg.ServiceID,
		"configurationType": string(cfg.Type),
	})
}

func (e *Emitter) UsageRecorded(ctx context.Context, ev *usage.Event) {
	e.broadcast(ev.TenantID, EventUsageRecorded, map[string]interface{}{
		"usageId":   ev.ID,
		"planId":    ev.PlanID,
		"serviceId": ev.ServiceID,
		"units":     ev.Units,
	})
}

func (e *Emitter) BucketThreshold(ctx context.Context, a *watcher.Alert) {
	e.broadcast(a.TenantID, EventBucketAlert, map[string]interface{}{
		"alertId":            a.ID,
		"configurationId":    a.ConfigurationID,
		"planId":             a.PlanID,
		"serviceId":          a.ServiceID,
		"threshold":          a.Threshold,
		"consumedUnits":      a.ConsumedUnits,
		"effectiveAllotment": a.EffectiveAllotment,
	})
}

var (
	_ plan.EventEmitter       = (*Emitter)(nil)
	_ planconfig.EventEmitter = (*Emitter)(nil)
	_ usage.EventEmitter      = (*Emitter)(nil)
	_ watcher.AlertSink       = (*Emitter)(nil)
)
