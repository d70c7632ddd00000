package controller

import (
	"context"

	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/flows"
	"github.com/octane-lb/octane/pkg/models"
	"github.com/octane-lb/octane/pkg/stores"
)

// CreateListener configures a new listener. Every listener of the load
// balancer is passed to the flow since the amphora configuration is rebuilt
// as a whole.
func (w *Worker) CreateListener(ctx context.Context, p ListenerParams) (err error) {
	if err := checkParams("create_listener", p); err != nil {
		return err
	}
	ic := w.start(ctx, "create_listener", p.ListenerID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	l, err := mustExist(ctx, w, "listener", p.ListenerID, w.repo.GetListener)
	if err != nil {
		return err
	}
	_, plb, err := w.loadBalancer(ctx, l.LoadBalancerID)
	if err != nil {
		return err
	}
	listeners, err := w.listenersOfLoadBalancer(ctx, l.LoadBalancerID)
	if err != nil {
		return err
	}

	store := engine.NewStore()
	engine.Put(store, flows.Listeners, listeners)
	engine.Put(store, flows.LoadBalancer, plb)
	engine.Put(store, flows.LoadBalancerID, l.LoadBalancerID)
	engine.Put(store, flows.ProjectID, l.ProjectID)
	return w.run(ctx, flows.CreateListener, store)
}

// UpdateListener applies field changes to a listener.
func (w *Worker) UpdateListener(ctx context.Context, p UpdateListenerParams) (err error) {
	if err := checkParams("update_listener", p); err != nil {
		return err
	}
	ic := w.start(ctx, "update_listener", p.ListenerID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	l, err := awaitPending(ctx, w, "listener", p.ListenerID, w.repo.GetListener,
		func(l *models.Listener) models.ProvisioningStatus { return l.ProvisioningStatus })
	if err != nil {
		return err
	}
	return w.runListener(ctx, flows.UpdateListener, l, p.Updates)
}

// DeleteListener removes a listener from its load balancer.
func (w *Worker) DeleteListener(ctx context.Context, p ListenerParams) (err error) {
	if err := checkParams("delete_listener", p); err != nil {
		return err
	}
	ic := w.start(ctx, "delete_listener", p.ListenerID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	l, err := get(ctx, "listener", p.ListenerID, w.repo.GetListener)
	if err != nil {
		return err
	}
	return w.runListener(ctx, flows.DeleteListener, l, nil)
}

func (w *Worker) runListener(ctx context.Context, flow string, l *models.Listener, updates stores.Fields) error {
	pl, err := w.tr.Listener(ctx, l)
	if err != nil {
		return err
	}

	store := engine.NewStore()
	engine.Put(store, flows.Listener, pl)
	engine.Put(store, flows.LoadBalancerID, l.LoadBalancerID)
	engine.Put(store, flows.ProjectID, l.ProjectID)
	if updates != nil {
		engine.Put(store, flows.UpdateDict, updates)
	}
	return w.run(ctx, flow, store)
}
