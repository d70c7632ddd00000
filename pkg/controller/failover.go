package controller

import (
	"context"
	"fmt"

	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/flows"
	"github.com/octane-lb/octane/pkg/models"
	"github.com/octane-lb/octane/pkg/telemetry"
)

// FailoverAmphora replaces a failed amphora. On success its load balancer is
// marked ACTIVE; on failure the load balancer is marked ERROR and a
// *FailoverError returned. A DELETED amphora only has its health record
// removed so that it stops being reported as failed.
func (w *Worker) FailoverAmphora(ctx context.Context, p AmphoraParams) (err error) {
	if err := checkParams("failover_amphora", p); err != nil {
		return err
	}
	ic := w.start(ctx, "failover_amphora", p.AmphoraID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	amp, err := get(ctx, "amphora", p.AmphoraID, w.repo.GetAmphora)
	if err != nil {
		return err
	}
	logger := w.logger.WithAmphoraID(amp.ID)

	if amp.Status == models.AmphoraDeleted {
		n, err := w.repo.DeleteAmphoraHealth(ctx, amp.ID)
		if err != nil {
			return fmt.Errorf("failed to delete health record of amphora %s: %w", amp.ID, err)
		}
		logger.WithField("rows", n).Warn("amphora is already DELETED, removed its health record instead of failing it over")
		return nil
	}

	lbID := deref(amp.LoadBalancerID)
	err = w.failover(ctx, ic, amp, PriorityFailover)
	if err == nil && lbID != "" {
		if err = w.repo.UpdateLoadBalancerStatus(ctx, lbID, models.ProvisioningActive); err != nil {
			err = fmt.Errorf("failed to mark load balancer %s ACTIVE: %w", lbID, err)
		}
	}
	if err != nil {
		return w.compensate(ctx, ic, lbID, amp.ID, err)
	}
	logger.WithLoadBalancerID(lbID).Info("amphora failed over")
	return nil
}

// FailoverLoadBalancer replaces every amphora of a load balancer, BACKUP
// amphorae first. The first failure stops the sequence and marks the load
// balancer ERROR; amphorae already replaced are kept.
func (w *Worker) FailoverLoadBalancer(ctx context.Context, p LoadBalancerParams) (err error) {
	if err := checkParams("failover_loadbalancer", p); err != nil {
		return err
	}
	ic := w.start(ctx, "failover_loadbalancer", p.LoadBalancerID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	lb, err := mustExist(ctx, w, "load balancer", p.LoadBalancerID, w.repo.GetLoadBalancer)
	if err != nil {
		return err
	}

	amps, err := w.repo.ListAmphoraeByLoadBalancer(ctx, lb.ID)
	if err != nil {
		return w.compensate(ctx, ic, lb.ID, "",
			fmt.Errorf("failed to list amphorae of load balancer %s: %w", lb.ID, err))
	}

	for _, amp := range failoverOrder(amps) {
		if err := w.failover(ctx, ic, amp, PriorityAdminFailover); err != nil {
			return w.compensate(ctx, ic, lb.ID, "",
				fmt.Errorf("failed to fail over amphora %s: %w", amp.ID, err))
		}
	}

	if err := w.repo.UpdateLoadBalancerStatus(ctx, lb.ID, models.ProvisioningActive); err != nil {
		return w.compensate(ctx, ic, lb.ID, "",
			fmt.Errorf("failed to mark load balancer %s ACTIVE: %w", lb.ID, err))
	}
	w.logger.WithLoadBalancerID(lb.ID).Infof("load balancer failed over %d amphorae", len(amps))
	return nil
}

// failoverOrder drops DELETED amphorae and puts BACKUP amphorae first,
// keeping the repository order otherwise.
func failoverOrder(amps []*models.Amphora) []*models.Amphora {
	out := make([]*models.Amphora, 0, len(amps))
	for _, amp := range amps {
		if amp.Status != models.AmphoraDeleted && amp.Role == models.RoleBackup {
			out = append(out, amp)
		}
	}
	for _, amp := range amps {
		if amp.Status != models.AmphoraDeleted && amp.Role != models.RoleBackup {
			out = append(out, amp)
		}
	}
	return out
}

// failover runs the failover flow of one amphora. It writes no load
// balancer status.
func (w *Worker) failover(ctx context.Context, ic *telemetry.InstrumentedContext, amp *models.Amphora, priority BuildPriority) error {
	lbID := deref(amp.LoadBalancerID)
	logger := w.logger.WithAmphoraID(amp.ID).WithLoadBalancerID(lbID).
		WithField("role", string(amp.Role)).
		WithField("priority", priority.String())

	if w.sparePool.Load() == 0 && !w.antiAffinity {
		logger.Warn("no spare amphora pool is configured, failover may be slow while a new amphora boots")
	}

	store := engine.NewStore()
	engine.Put(store, flows.FailedAmphora, w.tr.Amphora(amp))
	engine.Put(store, flows.LoadBalancerID, lbID)
	engine.Put(store, flows.BuildTypePriority, int(priority))

	flavor, zone := map[string]any{}, map[string]any{}
	if lbID != "" {
		lb, err := get(ctx, "load balancer", lbID, w.repo.GetLoadBalancer)
		if err != nil {
			return err
		}
		if w.antiAffinity {
			engine.Put(store, flows.ServerGroupID, deref(lb.ServerGroupID))
		}
		if flavor, err = w.flavorMetadata(ctx, lb); err != nil {
			return err
		}
		if zone, err = w.zoneMetadata(ctx, lb); err != nil {
			return err
		}
	}
	engine.Put(store, flows.Flavor, flavor)
	engine.Put(store, flows.AvailabilityZone, zone)

	flow := flows.FailoverAmphoraFlow(flows.ClassifyRole(amp.Role))
	if ic != nil && ic.Span != nil {
		telemetry.AddFailoverEvent(ic.Span, amp.ID, string(amp.Role), "running "+flow)
	}
	logger.Infof("failing over amphora with %s", flow)
	return w.run(ctx, flow, store)
}

// compensate marks the load balancer ERROR after a failed failover. The
// returned error always carries cause; a failed ERROR write is attached to
// it, never returned in its place.
func (w *Worker) compensate(ctx context.Context, ic *telemetry.InstrumentedContext, lbID, ampID string, cause error) error {
	ferr := &FailoverError{LoadBalancerID: lbID, AmphoraID: ampID, Err: cause}
	logger := w.logger.WithLoadBalancerID(lbID).WithAmphoraID(ampID)

	if lbID == "" {
		logger.WithError(cause).Error("failover failed")
		return ferr
	}

	result := "ok"
	if err := w.repo.UpdateLoadBalancerStatus(ctx, lbID, models.ProvisioningError); err != nil {
		ferr.CompensationErr = err
		result = "failed"
		logger.WithError(err).Error("failed to mark load balancer ERROR after failover failure")
	}
	logger.WithError(cause).Error("failover failed, load balancer marked ERROR")

	w.tel.Metrics.RecordFailoverCompensation(result)
	_ = w.tel.Events.PublishFailoverCompensated(lbID, ampID, cause, ferr.CompensationErr)
	if ic != nil && ic.Span != nil {
		telemetry.AddFailoverEvent(ic.Span, ampID, "", "load balancer marked ERROR")
	}
	return ferr
}
