package controller

import (
	"context"

	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/flows"
	"github.com/octane-lb/octane/pkg/models"
	"github.com/octane-lb/octane/pkg/provider"
	"github.com/octane-lb/octane/pkg/stores"
)

// scopeOfListener seeds a store with the listener an L7 entity hangs off.
func (w *Worker) scopeOfListener(ctx context.Context, listenerID string) (*engine.Store, error) {
	l, err := get(ctx, "listener", listenerID, w.repo.GetListener)
	if err != nil {
		return nil, err
	}
	pl, err := w.tr.Listener(ctx, l)
	if err != nil {
		return nil, err
	}

	store := engine.NewStore()
	engine.Put(store, flows.Listeners, []provider.Listener{pl})
	engine.Put(store, flows.LoadBalancerID, l.LoadBalancerID)
	engine.Put(store, flows.ProjectID, l.ProjectID)
	return store, nil
}

// CreateL7Policy attaches an L7 policy to its listener.
func (w *Worker) CreateL7Policy(ctx context.Context, p L7PolicyParams) (err error) {
	if err := checkParams("create_l7policy", p); err != nil {
		return err
	}
	ic := w.start(ctx, "create_l7policy", p.L7PolicyID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	pol, err := mustExist(ctx, w, "l7policy", p.L7PolicyID, w.repo.GetL7Policy)
	if err != nil {
		return err
	}
	return w.runL7Policy(ctx, flows.CreateL7Policy, pol, nil)
}

// UpdateL7Policy applies field changes to an L7 policy.
func (w *Worker) UpdateL7Policy(ctx context.Context, p UpdateL7PolicyParams) (err error) {
	if err := checkParams("update_l7policy", p); err != nil {
		return err
	}
	ic := w.start(ctx, "update_l7policy", p.L7PolicyID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	pol, err := awaitPending(ctx, w, "l7policy", p.L7PolicyID, w.repo.GetL7Policy,
		func(p *models.L7Policy) models.ProvisioningStatus { return p.ProvisioningStatus })
	if err != nil {
		return err
	}
	return w.runL7Policy(ctx, flows.UpdateL7Policy, pol, p.Updates)
}

// DeleteL7Policy detaches an L7 policy from its listener.
func (w *Worker) DeleteL7Policy(ctx context.Context, p L7PolicyParams) (err error) {
	if err := checkParams("delete_l7policy", p); err != nil {
		return err
	}
	ic := w.start(ctx, "delete_l7policy", p.L7PolicyID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	pol, err := get(ctx, "l7policy", p.L7PolicyID, w.repo.GetL7Policy)
	if err != nil {
		return err
	}
	return w.runL7Policy(ctx, flows.DeleteL7Policy, pol, nil)
}

func (w *Worker) runL7Policy(ctx context.Context, flow string, pol *models.L7Policy, updates stores.Fields) error {
	store, err := w.scopeOfListener(ctx, pol.ListenerID)
	if err != nil {
		return err
	}
	ppol, err := w.tr.L7Policy(ctx, pol)
	if err != nil {
		return err
	}
	engine.Put(store, flows.L7Policy, ppol)
	if updates != nil {
		engine.Put(store, flows.UpdateDict, updates)
	}
	return w.run(ctx, flow, store)
}

// CreateL7Rule adds a match condition to an L7 policy.
func (w *Worker) CreateL7Rule(ctx context.Context, p L7RuleParams) (err error) {
	if err := checkParams("create_l7rule", p); err != nil {
		return err
	}
	ic := w.start(ctx, "create_l7rule", p.L7RuleID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	rule, err := mustExist(ctx, w, "l7rule", p.L7RuleID, w.repo.GetL7Rule)
	if err != nil {
		return err
	}
	return w.runL7Rule(ctx, flows.CreateL7Rule, rule, nil)
}

// UpdateL7Rule applies field changes to an L7 rule.
func (w *Worker) UpdateL7Rule(ctx context.Context, p UpdateL7RuleParams) (err error) {
	if err := checkParams("update_l7rule", p); err != nil {
		return err
	}
	ic := w.start(ctx, "update_l7rule", p.L7RuleID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	rule, err := awaitPending(ctx, w, "l7rule", p.L7RuleID, w.repo.GetL7Rule,
		func(r *models.L7Rule) models.ProvisioningStatus { return r.ProvisioningStatus })
	if err != nil {
		return err
	}
	return w.runL7Rule(ctx, flows.UpdateL7Rule, rule, p.Updates)
}

// DeleteL7Rule removes a match condition from an L7 policy.
func (w *Worker) DeleteL7Rule(ctx context.Context, p L7RuleParams) (err error) {
	if err := checkParams("delete_l7rule", p); err != nil {
		return err
	}
	ic := w.start(ctx, "delete_l7rule", p.L7RuleID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	rule, err := get(ctx, "l7rule", p.L7RuleID, w.repo.GetL7Rule)
	if err != nil {
		return err
	}
	return w.runL7Rule(ctx, flows.DeleteL7Rule, rule, nil)
}

func (w *Worker) runL7Rule(ctx context.Context, flow string, rule *models.L7Rule, updates stores.Fields) error {
	pol, err := get(ctx, "l7policy", rule.L7PolicyID, w.repo.GetL7Policy)
	if err != nil {
		return err
	}
	store, err := w.scopeOfListener(ctx, pol.ListenerID)
	if err != nil {
		return err
	}
	ppol, err := w.tr.L7Policy(ctx, pol)
	if err != nil {
		return err
	}
	engine.Put(store, flows.L7Rule, w.tr.L7Rule(rule))
	engine.Put(store, flows.L7PolicyID, pol.ID)
	engine.Put(store, flows.L7Policy, ppol)
	if updates != nil {
		engine.Put(store, flows.UpdateDict, updates)
	}
	return w.run(ctx, flow, store)
}
