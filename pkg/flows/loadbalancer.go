package flows

import (
	"context"

	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/models"
	"github.com/octane-lb/octane/pkg/provider"
	"github.com/octane-lb/octane/pkg/stores"
)

func (c *catalog) updateLoadBalancerFn(ctx context.Context, id string, fields stores.Fields) error {
	return c.repo.UpdateLoadBalancer(ctx, id, fields)
}

func loadBalancerIDs(s *engine.Store) ([]string, error) {
	id, err := engine.Require(s, LoadBalancerID)
	if err != nil {
		return nil, err
	}
	return []string{id}, nil
}

func (c *catalog) createLoadBalancerFlow(topology models.Topology) engine.FlowFactory {
	return func(_ *engine.Store) (*engine.Flow, error) {
		f := engine.NewFlow(CreateLoadBalancerFlow(topology)).
			Add(c.markOnRevert("load-balancer", nil, nil, models.ProvisioningError)).
			Add(c.updateEntities("update-load-balancer-topology", loadBalancerIDs, c.updateLoadBalancerFn))

		if topology == models.TopologyActiveStandby {
			f.Parallel(
				c.allocateAmphora(allocation{
					task:         "allocate-master-amphora",
					role:         models.RoleMaster,
					vrrpPriority: masterVRRPPriority,
					attach:       true,
					finalStatus:  models.AmphoraAllocated,
				}),
				c.allocateAmphora(allocation{
					task:         "allocate-backup-amphora",
					role:         models.RoleBackup,
					vrrpPriority: backupVRRPPriority,
					attach:       true,
					finalStatus:  models.AmphoraAllocated,
				}),
			)
		} else {
			f.Add(c.allocateAmphora(allocation{
				task:        "allocate-standalone-amphora",
				role:        models.RoleStandalone,
				attach:      true,
				finalStatus: models.AmphoraAllocated,
			}), engine.Retries(2))
		}

		return f.
			Add(c.applyConfig(), engine.Retries(3)).
			Add(c.markLoadBalancerListeners(models.ProvisioningActive)).
			Add(c.markLoadBalancer(models.ProvisioningActive)), nil
	}
}

// markLoadBalancerListeners marks every listener of the load balancer.
func (c *catalog) markLoadBalancerListeners(status models.ProvisioningStatus) engine.Task {
	return engine.TaskFunc{
		TaskName: "mark-load-balancer-listeners-" + toTaskSuffix(status),
		ExecuteFn: func(ctx context.Context, s *engine.Store) error {
			lbID, err := engine.Require(s, LoadBalancerID)
			if err != nil {
				return err
			}
			listeners, err := c.repo.ListListenersByLoadBalancer(ctx, lbID)
			if err != nil {
				return classify("failed to list listeners", err)
			}
			for _, l := range listeners {
				if err := c.repo.UpdateListener(ctx, l.ID, statusFields(status)); err != nil {
					return classify("failed to update listener status", err)
				}
			}
			return nil
		},
	}
}

func (c *catalog) deleteLoadBalancerFlow(cascade bool) engine.FlowFactory {
	name := DeleteLoadBalancer
	if cascade {
		name = DeleteLoadBalancerCascade
	}
	return func(_ *engine.Store) (*engine.Flow, error) {
		f := engine.NewFlow(name).
			Add(c.markOnRevert("load-balancer", nil, nil, models.ProvisioningError))

		if cascade {
			f.Add(c.deleteEntities("delete-pools",
				many(Pools, func(p provider.Pool) string { return p.PoolID }), c.remover(stores.Store.DeletePool))).
				Add(c.deleteEntities("delete-listeners", listenerIDs, c.remover(stores.Store.DeleteListener)))
		}

		return f.
			Add(c.releaseLoadBalancerAmphorae(), engine.Retries(2)).
			Add(c.markLoadBalancer(models.ProvisioningDeleted)), nil
	}
}

func (c *catalog) updateLoadBalancerFlow(_ *engine.Store) (*engine.Flow, error) {
	return engine.NewFlow(UpdateLoadBalancer).
		Add(c.markOnRevert("load-balancer", nil, nil, models.ProvisioningError)).
		Add(c.updateEntities("update-load-balancer", loadBalancerIDs, c.updateLoadBalancerFn)).
		Add(c.applyConfig(), engine.Retries(3)).
		Add(c.markLoadBalancer(models.ProvisioningActive)), nil
}
