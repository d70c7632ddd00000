package controller

import (
	"context"

	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/flows"
	"github.com/octane-lb/octane/pkg/models"
	"github.com/octane-lb/octane/pkg/stores"
)

// CreateHealthMonitor starts probing the members of a pool.
func (w *Worker) CreateHealthMonitor(ctx context.Context, p HealthMonitorParams) (err error) {
	if err := checkParams("create_health_monitor", p); err != nil {
		return err
	}
	ic := w.start(ctx, "create_health_monitor", p.HealthMonitorID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	hm, err := mustExist(ctx, w, "health monitor", p.HealthMonitorID, w.repo.GetHealthMonitor)
	if err != nil {
		return err
	}
	return w.runHealthMonitor(ctx, flows.CreateHealthMonitor, hm, nil)
}

// UpdateHealthMonitor applies field changes to a health monitor.
func (w *Worker) UpdateHealthMonitor(ctx context.Context, p UpdateHealthMonitorParams) (err error) {
	if err := checkParams("update_health_monitor", p); err != nil {
		return err
	}
	ic := w.start(ctx, "update_health_monitor", p.HealthMonitorID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	hm, err := awaitPending(ctx, w, "health monitor", p.HealthMonitorID, w.repo.GetHealthMonitor,
		func(hm *models.HealthMonitor) models.ProvisioningStatus { return hm.ProvisioningStatus })
	if err != nil {
		return err
	}
	return w.runHealthMonitor(ctx, flows.UpdateHealthMonitor, hm, p.Updates)
}

// DeleteHealthMonitor stops probing the members of a pool.
func (w *Worker) DeleteHealthMonitor(ctx context.Context, p HealthMonitorParams) (err error) {
	if err := checkParams("delete_health_monitor", p); err != nil {
		return err
	}
	ic := w.start(ctx, "delete_health_monitor", p.HealthMonitorID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	hm, err := get(ctx, "health monitor", p.HealthMonitorID, w.repo.GetHealthMonitor)
	if err != nil {
		return err
	}
	return w.runHealthMonitor(ctx, flows.DeleteHealthMonitor, hm, nil)
}

func (w *Worker) runHealthMonitor(ctx context.Context, flow string, hm *models.HealthMonitor, updates stores.Fields) error {
	_, store, err := w.scopeOfPoolID(ctx, hm.PoolID)
	if err != nil {
		return err
	}
	engine.Put(store, flows.HealthMon, w.tr.HealthMonitor(hm))
	if updates != nil {
		engine.Put(store, flows.UpdateDict, updates)
	}
	return w.run(ctx, flow, store)
}
