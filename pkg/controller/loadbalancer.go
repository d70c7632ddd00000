package controller

import (
	"context"
	"fmt"
	"slices"

	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/flows"
	"github.com/octane-lb/octane/pkg/models"
	"github.com/octane-lb/octane/pkg/stores"
)

// CreateLoadBalancer builds the amphorae of a committed load balancer.
func (w *Worker) CreateLoadBalancer(ctx context.Context, p CreateLoadBalancerParams) (err error) {
	if err := checkParams("create_load_balancer", p); err != nil {
		return err
	}
	ic := w.start(ctx, "create_load_balancer", p.LoadBalancerID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	lb, err := mustExist(ctx, w, "load balancer", p.LoadBalancerID, w.repo.GetLoadBalancer)
	if err != nil {
		return err
	}
	if err := w.checkZone(ctx, lb); err != nil {
		return err
	}

	flavor := p.Flavor
	if flavor == nil {
		if flavor, err = w.flavorMetadata(ctx, lb); err != nil {
			return err
		}
	}
	zone := p.AvailabilityZone
	if zone == nil {
		if zone, err = w.zoneMetadata(ctx, lb); err != nil {
			return err
		}
	}
	listeners, err := w.listenersOfLoadBalancer(ctx, lb.ID)
	if err != nil {
		return err
	}

	store := engine.NewStore()
	engine.Put(store, flows.LoadBalancerID, lb.ID)
	engine.Put(store, flows.LoadBalancer, w.tr.LoadBalancer(lb))
	engine.Put(store, flows.BuildTypePriority, int(PriorityNormal))
	engine.Put(store, flows.Flavor, flavor)
	engine.Put(store, flows.AvailabilityZone, zone)
	engine.Put(store, flows.AvailabilityZoneName, deref(lb.AvailabilityZone))
	engine.Put(store, flows.ServerGroupID, deref(lb.ServerGroupID))
	engine.Put(store, flows.Topology, lb.Topology)
	engine.Put(store, flows.UpdateDict, stores.Fields{"topology": lb.Topology})
	engine.Put(store, flows.ProjectID, lb.ProjectID)
	engine.Put(store, flows.Listeners, listeners)

	return w.run(ctx, flows.CreateLoadBalancerFlow(lb.Topology), store)
}

// checkZone rejects a load balancer placed in a zone its project may not
// use. Without a zone restrictor every zone is allowed.
func (w *Worker) checkZone(ctx context.Context, lb *models.LoadBalancer) error {
	if w.zones == nil || lb.AvailabilityZone == nil || *lb.AvailabilityZone == "" {
		return nil
	}
	allowed, err := w.zones.GetRestrictedZones(ctx, lb.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to resolve restricted zones of project %s: %w", lb.ProjectID, err)
	}
	if allowed == nil || slices.Contains(allowed, *lb.AvailabilityZone) {
		return nil
	}
	return engine.NewPermanentError(
		fmt.Sprintf("availability zone %s is not allowed for project %s", *lb.AvailabilityZone, lb.ProjectID),
		ErrZoneRestricted,
	).WithCode(engine.ErrCodeValidation).WithResource(lb.ID)
}

// DeleteLoadBalancer releases the amphorae of a load balancer. With Cascade
// its pools and listeners are deleted as well.
func (w *Worker) DeleteLoadBalancer(ctx context.Context, p DeleteLoadBalancerParams) (err error) {
	if err := checkParams("delete_load_balancer", p); err != nil {
		return err
	}
	ic := w.start(ctx, "delete_load_balancer", p.LoadBalancerID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	lb, plb, err := w.loadBalancer(ctx, p.LoadBalancerID)
	if err != nil {
		return err
	}
	listeners, err := w.listenersOfLoadBalancer(ctx, lb.ID)
	if err != nil {
		return err
	}

	store := engine.NewStore()
	engine.Put(store, flows.LoadBalancer, plb)
	engine.Put(store, flows.LoadBalancerID, lb.ID)
	engine.Put(store, flows.ServerGroupID, deref(lb.ServerGroupID))
	engine.Put(store, flows.ProjectID, lb.ProjectID)
	engine.Put(store, flows.Listeners, listeners)

	flow := flows.DeleteLoadBalancer
	if p.Cascade {
		pools, err := w.repo.ListPoolsByLoadBalancer(ctx, lb.ID)
		if err != nil {
			return fmt.Errorf("failed to list pools of load balancer %s: %w", lb.ID, err)
		}
		ppools, err := w.tr.Pools(ctx, pools)
		if err != nil {
			return err
		}
		engine.Put(store, flows.Pools, ppools)
		flow = flows.DeleteLoadBalancerCascade
	}
	return w.run(ctx, flow, store)
}

// UpdateLoadBalancer applies field changes to a load balancer.
func (w *Worker) UpdateLoadBalancer(ctx context.Context, p UpdateLoadBalancerParams) (err error) {
	if err := checkParams("update_load_balancer", p); err != nil {
		return err
	}
	ic := w.start(ctx, "update_load_balancer", p.LoadBalancerID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	lb, err := awaitPending(ctx, w, "load balancer", p.LoadBalancerID, w.repo.GetLoadBalancer,
		func(lb *models.LoadBalancer) models.ProvisioningStatus { return lb.ProvisioningStatus })
	if err != nil {
		return err
	}

	store := engine.NewStore()
	engine.Put(store, flows.LoadBalancer, w.tr.LoadBalancer(lb))
	engine.Put(store, flows.LoadBalancerID, lb.ID)
	engine.Put(store, flows.UpdateDict, p.Updates)
	return w.run(ctx, flows.UpdateLoadBalancer, store)
}
