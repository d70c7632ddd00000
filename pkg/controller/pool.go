package controller

import (
	"context"

	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/flows"
	"github.com/octane-lb/octane/pkg/models"
	"github.com/octane-lb/octane/pkg/stores"
)

// poolScope is what every flow below a pool needs: the pool, the
// listeners routing to it and its load balancer.
type poolScope struct {
	pool *models.Pool
	lb   *models.LoadBalancer
}

// scopeOfPool loads the pool and its load balancer and seeds a store with
// the keys shared by pool, member and health monitor flows.
func (w *Worker) scopeOfPool(ctx context.Context, pool *models.Pool) (*poolScope, *engine.Store, error) {
	lb, plb, err := w.loadBalancer(ctx, pool.LoadBalancerID)
	if err != nil {
		return nil, nil, err
	}
	listeners, err := w.listenersOfPool(ctx, pool.ID)
	if err != nil {
		return nil, nil, err
	}

	store := engine.NewStore()
	engine.Put(store, flows.PoolID, pool.ID)
	engine.Put(store, flows.Listeners, listeners)
	engine.Put(store, flows.LoadBalancer, plb)
	engine.Put(store, flows.LoadBalancerID, lb.ID)
	engine.Put(store, flows.ProjectID, pool.ProjectID)
	return &poolScope{pool: pool, lb: lb}, store, nil
}

// scopeOfPoolID is scopeOfPool for a pool known only by ID.
func (w *Worker) scopeOfPoolID(ctx context.Context, poolID string) (*poolScope, *engine.Store, error) {
	pool, err := get(ctx, "pool", poolID, w.repo.GetPool)
	if err != nil {
		return nil, nil, err
	}
	return w.scopeOfPool(ctx, pool)
}

// CreatePool configures a new pool.
func (w *Worker) CreatePool(ctx context.Context, p PoolParams) (err error) {
	if err := checkParams("create_pool", p); err != nil {
		return err
	}
	ic := w.start(ctx, "create_pool", p.PoolID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	pool, err := mustExist(ctx, w, "pool", p.PoolID, w.repo.GetPool)
	if err != nil {
		return err
	}
	return w.runPool(ctx, flows.CreatePool, pool, nil)
}

// UpdatePool applies field changes to a pool.
func (w *Worker) UpdatePool(ctx context.Context, p UpdatePoolParams) (err error) {
	if err := checkParams("update_pool", p); err != nil {
		return err
	}
	ic := w.start(ctx, "update_pool", p.PoolID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	pool, err := awaitPending(ctx, w, "pool", p.PoolID, w.repo.GetPool,
		func(p *models.Pool) models.ProvisioningStatus { return p.ProvisioningStatus })
	if err != nil {
		return err
	}
	return w.runPool(ctx, flows.UpdatePool, pool, p.Updates)
}

// DeletePool removes a pool.
func (w *Worker) DeletePool(ctx context.Context, p PoolParams) (err error) {
	if err := checkParams("delete_pool", p); err != nil {
		return err
	}
	ic := w.start(ctx, "delete_pool", p.PoolID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	pool, err := get(ctx, "pool", p.PoolID, w.repo.GetPool)
	if err != nil {
		return err
	}
	return w.runPool(ctx, flows.DeletePool, pool, nil)
}

func (w *Worker) runPool(ctx context.Context, flow string, pool *models.Pool, updates stores.Fields) error {
	_, store, err := w.scopeOfPool(ctx, pool)
	if err != nil {
		return err
	}
	if updates != nil {
		engine.Put(store, flows.UpdateDict, updates)
	}
	return w.run(ctx, flow, store)
}
