package controller

import (
	"context"

	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/flows"
)

// CreateAmphora builds a spare amphora. A failed build is logged and an
// empty ID returned; callers such as the spare pool try again on their next
// pass.
func (w *Worker) CreateAmphora(ctx context.Context, p CreateAmphoraParams) (id string, err error) {
	if err := checkParams("create_amphora", p); err != nil {
		return "", err
	}
	ic := w.start(ctx, "create_amphora", p.AvailabilityZone)
	defer func() { ic.End(err) }()

	zone := map[string]any{}
	if p.AvailabilityZone != "" {
		if zone, err = w.namedZoneMetadata(ic.Ctx, p.AvailabilityZone); err != nil {
			ic.Logger.WithError(err).Error("failed to create spare amphora")
			return "", nil
		}
	}

	store := engine.NewStore()
	engine.Put(store, flows.BuildTypePriority, int(PrioritySpares))
	engine.Put(store, flows.Flavor, map[string]any{})
	engine.Put(store, flows.ServerGroupID, "")
	engine.Put(store, flows.AvailabilityZone, zone)
	if p.AvailabilityZone != "" {
		engine.Put(store, flows.AvailabilityZoneName, p.AvailabilityZone)
	}

	out, runErr := w.engine.Run(ic.Ctx, flows.CreateAmphora, store)
	if runErr != nil {
		ic.Logger.WithError(runErr).Error("failed to create spare amphora")
		return "", nil
	}
	id, _ = engine.Get(out, flows.AmphoraID)
	if id != "" {
		_ = w.tel.Events.PublishSpareCreated(id, p.AvailabilityZone)
	}
	return id, nil
}

// DeleteAmphora releases an amphora and its compute instance.
func (w *Worker) DeleteAmphora(ctx context.Context, p AmphoraParams) (err error) {
	if err := checkParams("delete_amphora", p); err != nil {
		return err
	}
	ic := w.start(ctx, "delete_amphora", p.AmphoraID)
	defer func() { ic.End(err) }()

	amp, err := get(ic.Ctx, "amphora", p.AmphoraID, w.repo.GetAmphora)
	if err != nil {
		return err
	}

	store := engine.NewStore()
	engine.Put(store, flows.Amphora, w.tr.Amphora(amp))
	return w.run(ic.Ctx, flows.DeleteAmphora, store)
}

// AmphoraCertRotation rotates the agent certificate of an amphora.
func (w *Worker) AmphoraCertRotation(ctx context.Context, p AmphoraParams) (err error) {
	if err := checkParams("amphora_cert_rotation", p); err != nil {
		return err
	}
	ic := w.start(ctx, "amphora_cert_rotation", p.AmphoraID)
	defer func() { ic.End(err) }()

	amp, err := get(ic.Ctx, "amphora", p.AmphoraID, w.repo.GetAmphora)
	if err != nil {
		return err
	}

	store := engine.NewStore()
	engine.Put(store, flows.Amphora, w.tr.Amphora(amp))
	engine.Put(store, flows.AmphoraID, amp.ID)
	return w.run(ic.Ctx, flows.CertRotateAmphora, store)
}

// UpdateAmphoraAgentConfig pushes a fresh agent configuration to an amphora,
// using the flavor of its load balancer.
func (w *Worker) UpdateAmphoraAgentConfig(ctx context.Context, p AmphoraParams) (err error) {
	if err := checkParams("update_amphora_agent_config", p); err != nil {
		return err
	}
	ic := w.start(ctx, "update_amphora_agent_config", p.AmphoraID)
	defer func() { ic.End(err) }()

	amp, err := get(ic.Ctx, "amphora", p.AmphoraID, w.repo.GetAmphora)
	if err != nil {
		return err
	}

	flavor := map[string]any{}
	if !amp.IsSpare() {
		lb, err := get(ic.Ctx, "load balancer", *amp.LoadBalancerID, w.repo.GetLoadBalancer)
		if err != nil {
			return err
		}
		if flavor, err = w.flavorMetadata(ic.Ctx, lb); err != nil {
			return err
		}
	}

	store := engine.NewStore()
	engine.Put(store, flows.Amphora, w.tr.Amphora(amp))
	engine.Put(store, flows.Flavor, flavor)
	return w.run(ic.Ctx, flows.UpdateAmphoraAgentConfig, store)
}
