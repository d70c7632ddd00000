package flows

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/octane-lb/octane/pkg/amphora"
	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/models"
	"github.com/octane-lb/octane/pkg/provider"
	"github.com/octane-lb/octane/pkg/stores"
)

// Deps are the collaborators used by flow tasks.
type Deps struct {
	Store  stores.Store
	Driver amphora.Driver
	Logger zerolog.Logger
}

// catalog builds the tasks of every flow.
type catalog struct {
	repo   stores.Store
	driver amphora.Driver
	tr     *provider.Translator
	logger zerolog.Logger
}

func newCatalog(deps Deps) *catalog {
	return &catalog{
		repo:   deps.Store,
		driver: deps.Driver,
		tr:     provider.NewTranslator(deps.Store),
		logger: deps.Logger.With().Str("component", "flows").Logger(),
	}
}

// idsFunc extracts entity IDs from a store.
type idsFunc func(s *engine.Store) ([]string, error)

// updateFunc applies a partial update to one entity.
type updateFunc func(ctx context.Context, id string, fields stores.Fields) error

// deleteFunc removes one entity.
type deleteFunc func(ctx context.Context, id string) error

// updater and remover bind a repository method to the catalog's repository
// when the task runs, so a catalog without one can still build flows.
func (c *catalog) updater(m func(stores.Store, context.Context, string, stores.Fields) error) updateFunc {
	return func(ctx context.Context, id string, fields stores.Fields) error {
		return m(c.repo, ctx, id, fields)
	}
}

func (c *catalog) remover(m func(stores.Store, context.Context, string) error) deleteFunc {
	return func(ctx context.Context, id string) error {
		return m(c.repo, ctx, id)
	}
}

// one adapts a single-ID extractor to idsFunc.
func one[T any](k engine.Key[T], id func(T) string) idsFunc {
	return func(s *engine.Store) ([]string, error) {
		v, err := engine.Require(s, k)
		if err != nil {
			return nil, err
		}
		return []string{id(v)}, nil
	}
}

// many adapts a list extractor to idsFunc. A missing key yields no IDs.
func many[T any](k engine.Key[[]T], id func(T) string) idsFunc {
	return func(s *engine.Store) ([]string, error) {
		vs, _ := engine.Get(s, k)
		ids := make([]string, 0, len(vs))
		for _, v := range vs {
			ids = append(ids, id(v))
		}
		return ids, nil
	}
}

func listenerIDs(s *engine.Store) ([]string, error) {
	return many(Listeners, func(l provider.Listener) string { return l.ListenerID })(s)
}

func poolIDs(s *engine.Store) ([]string, error) {
	id, err := engine.Require(s, PoolID)
	if err != nil {
		return nil, err
	}
	return []string{id}, nil
}

// classify converts repository and driver errors into engine errors so the
// engine can decide whether to retry. A driver error that is already an
// engine error keeps its class and code.
func classify(msg string, err error) error {
	if err == nil {
		return nil
	}
	if stores.IsNotFound(err) {
		return engine.NewNotFoundError(msg, err)
	}
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		return &engine.EngineError{Class: ee.Class, Code: ee.Code, Message: msg, Resource: ee.Resource, Err: err}
	}
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) && temp.Temporary() {
		return engine.NewTransientError(msg, err)
	}
	return engine.NewPermanentError(msg, err)
}

func statusFields(status models.ProvisioningStatus) stores.Fields {
	return stores.Fields{"provisioning_status": status}
}

// markOnRevert returns a task that does nothing on execute and, on revert,
// marks the entities ERROR and the owning load balancer lbStatus.
func (c *catalog) markOnRevert(kind string, ids idsFunc, update updateFunc, lbStatus models.ProvisioningStatus) engine.Task {
	return engine.TaskFunc{
		TaskName: fmt.Sprintf("mark-%s-error-on-revert", kind),
		RevertFn: func(ctx context.Context, s *engine.Store, cause error) error {
			var errs []error
			if ids != nil {
				entities, err := ids(s)
				if err != nil {
					return err
				}
				for _, id := range entities {
					if err := update(ctx, id, statusFields(models.ProvisioningError)); err != nil && !stores.IsNotFound(err) {
						errs = append(errs, fmt.Errorf("failed to mark %s %s ERROR: %w", kind, id, err))
					}
				}
			}
			if lbID, ok := engine.Get(s, LoadBalancerID); ok {
				if err := c.repo.UpdateLoadBalancerStatus(ctx, lbID, lbStatus); err != nil {
					errs = append(errs, fmt.Errorf("failed to mark load balancer %s %s: %w", lbID, lbStatus, err))
				}
			}
			c.logger.Warn().Err(cause).Str("kind", kind).Msg("flow reverted")
			return errors.Join(errs...)
		},
	}
}

// markEntities sets the provisioning status of the extracted entities.
func (c *catalog) markEntities(name string, ids idsFunc, update updateFunc, status models.ProvisioningStatus) engine.Task {
	return engine.TaskFunc{
		TaskName: name,
		ExecuteFn: func(ctx context.Context, s *engine.Store) error {
			entities, err := ids(s)
			if err != nil {
				return err
			}
			for _, id := range entities {
				if err := update(ctx, id, statusFields(status)); err != nil {
					return classify(fmt.Sprintf("failed to mark %s %s", id, status), err)
				}
			}
			return nil
		},
	}
}

// updateEntities applies UpdateDict to the extracted entities.
func (c *catalog) updateEntities(name string, ids idsFunc, update updateFunc) engine.Task {
	return engine.TaskFunc{
		TaskName: name,
		ExecuteFn: func(ctx context.Context, s *engine.Store) error {
			fields, _ := engine.Get(s, UpdateDict)
			if len(fields) == 0 {
				return nil
			}
			entities, err := ids(s)
			if err != nil {
				return err
			}
			for _, id := range entities {
				if err := update(ctx, id, fields); err != nil {
					return classify(fmt.Sprintf("failed to update %s", id), err)
				}
			}
			return nil
		},
	}
}

// deleteEntities removes the extracted entities. Missing rows are ignored.
func (c *catalog) deleteEntities(name string, ids idsFunc, remove deleteFunc) engine.Task {
	return engine.TaskFunc{
		TaskName: name,
		ExecuteFn: func(ctx context.Context, s *engine.Store) error {
			entities, err := ids(s)
			if err != nil {
				return err
			}
			for _, id := range entities {
				if err := remove(ctx, id); err != nil && !stores.IsNotFound(err) {
					return classify(fmt.Sprintf("failed to delete %s", id), err)
				}
			}
			return nil
		},
	}
}

// markLoadBalancer sets the load balancer's provisioning status.
func (c *catalog) markLoadBalancer(status models.ProvisioningStatus) engine.Task {
	return engine.TaskFunc{
		TaskName: "mark-load-balancer-" + toTaskSuffix(status),
		ExecuteFn: func(ctx context.Context, s *engine.Store) error {
			lbID, err := engine.Require(s, LoadBalancerID)
			if err != nil {
				return err
			}
			return classify("failed to update load balancer status",
				c.repo.UpdateLoadBalancerStatus(ctx, lbID, status))
		},
	}
}

func toTaskSuffix(status models.ProvisioningStatus) string {
	switch status {
	case models.ProvisioningActive:
		return "active"
	case models.ProvisioningDeleted:
		return "deleted"
	case models.ProvisioningError:
		return "error"
	default:
		return "pending"
	}
}

// applyConfig rebuilds the load balancer configuration from the repository
// and pushes it to every live amphora of the load balancer.
func (c *catalog) applyConfig() engine.Task {
	return engine.TaskFunc{
		TaskName: "apply-load-balancer-config",
		ExecuteFn: func(ctx context.Context, s *engine.Store) error {
			lbID, err := engine.Require(s, LoadBalancerID)
			if err != nil {
				return err
			}
			return c.pushConfig(ctx, lbID)
		},
	}
}

func (c *catalog) pushConfig(ctx context.Context, lbID string) error {
	cfg, err := c.buildConfig(ctx, lbID)
	if err != nil {
		return err
	}

	amps, err := c.repo.ListAmphoraeByLoadBalancer(ctx, lbID)
	if err != nil {
		return classify("failed to list amphorae", err)
	}

	for _, amp := range amps {
		if amp.Status == models.AmphoraDeleted || amp.Status == models.AmphoraPendingDelete {
			continue
		}
		if amp.LBNetworkIP == "" {
			c.logger.Warn().
				Str("amphora_id", amp.ID).
				Str("load_balancer_id", lbID).
				Msg("amphora has no management address, skipping configuration")
			continue
		}
		if err := c.driver.ApplyConfig(ctx, c.tr.Amphora(amp), cfg); err != nil {
			return classify(fmt.Sprintf("failed to apply config to amphora %s", amp.ID), err)
		}
	}
	return nil
}

func (c *catalog) buildConfig(ctx context.Context, lbID string) (amphora.LoadBalancerConfig, error) {
	lb, err := c.repo.GetLoadBalancer(ctx, lbID)
	if err != nil {
		return amphora.LoadBalancerConfig{}, classify("failed to load load balancer", err)
	}
	listeners, err := c.repo.ListListenersByLoadBalancer(ctx, lbID)
	if err != nil {
		return amphora.LoadBalancerConfig{}, classify("failed to load listeners", err)
	}
	pools, err := c.repo.ListPoolsByLoadBalancer(ctx, lbID)
	if err != nil {
		return amphora.LoadBalancerConfig{}, classify("failed to load pools", err)
	}

	cfg := amphora.LoadBalancerConfig{LoadBalancer: c.tr.LoadBalancer(lb)}
	if cfg.Listeners, err = c.tr.Listeners(ctx, listeners); err != nil {
		return amphora.LoadBalancerConfig{}, classify("failed to translate listeners", err)
	}
	if cfg.Pools, err = c.tr.Pools(ctx, pools); err != nil {
		return amphora.LoadBalancerConfig{}, classify("failed to translate pools", err)
	}
	return cfg, nil
}
