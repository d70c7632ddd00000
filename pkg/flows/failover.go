package flows

import (
	"context"
	"fmt"

	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/models"
)

// replacementAmphoraID holds the ID of the amphora built to replace a failed one.
var replacementAmphoraID = engine.NewKey[string]("replacement_amphora_id")

// failedAmphoraID holds the ID of the amphora being failed over.
var failedAmphoraID = engine.NewKey[string]("failed_amphora_id")

func resolveFailedAmphora() engine.Task {
	return engine.TaskFunc{
		TaskName: "resolve-failed-amphora",
		ExecuteFn: func(_ context.Context, s *engine.Store) error {
			amp, err := engine.Require(s, FailedAmphora)
			if err != nil {
				return err
			}
			engine.Put(s, failedAmphoraID, amp.ID)
			return nil
		},
	}
}

// allocateReplacement builds an amphora taking over the failed amphora's
// role on the same load balancer.
func (c *catalog) allocateReplacement() engine.Task {
	return c.allocateAmphora(allocation{
		task:        "allocate-replacement-amphora",
		replaces:    true,
		finalStatus: models.AmphoraAllocated,
		output:      &replacementAmphoraID,
	})
}

// configureReplacement writes the agent configuration of the replacement.
func (c *catalog) configureReplacement() engine.Task {
	return engine.TaskFunc{
		TaskName: "configure-replacement-agent",
		ExecuteFn: func(ctx context.Context, s *engine.Store) error {
			id, err := engine.Require(s, replacementAmphoraID)
			if err != nil {
				return err
			}
			amp, err := c.repo.GetAmphora(ctx, id)
			if err != nil {
				return classify("failed to load replacement amphora", err)
			}
			if amp.LBNetworkIP == "" {
				c.logger.Warn().Str("amphora_id", id).Msg("replacement has no management address, skipping agent configuration")
				return nil
			}
			flavor, _ := engine.Get(s, Flavor)
			return classify("failed to configure replacement agent",
				c.driver.UpdateAgentConfig(ctx, c.tr.Amphora(amp), flavor))
		},
	}
}

// refreshPeers rewrites the agent configuration of the surviving amphorae
// of an active/standby pair so they learn about the replacement.
func (c *catalog) refreshPeers() engine.Task {
	return engine.TaskFunc{
		TaskName: "refresh-peer-agents",
		ExecuteFn: func(ctx context.Context, s *engine.Store) error {
			lbID, ok := engine.Get(s, LoadBalancerID)
			if !ok || lbID == "" {
				return nil
			}
			failed, _ := engine.Get(s, failedAmphoraID)
			replacement, _ := engine.Get(s, replacementAmphoraID)
			flavor, _ := engine.Get(s, Flavor)

			amps, err := c.repo.ListAmphoraeByLoadBalancer(ctx, lbID)
			if err != nil {
				return classify("failed to list amphorae", err)
			}
			for _, amp := range amps {
				if amp.ID == failed || amp.ID == replacement || amp.Status == models.AmphoraDeleted || amp.LBNetworkIP == "" {
					continue
				}
				if err := c.driver.UpdateAgentConfig(ctx, c.tr.Amphora(amp), flavor); err != nil {
					return classify(fmt.Sprintf("failed to refresh peer %s", amp.ID), err)
				}
			}
			return nil
		},
	}
}

func (c *catalog) failoverFlow(class RoleClass) engine.FlowFactory {
	return func(_ *engine.Store) (*engine.Flow, error) {
		f := engine.NewFlow(FailoverAmphoraFlow(class)).
			Add(resolveFailedAmphora()).
			Add(c.markAmphoraPendingDelete(failedAmphoraID))

		switch class {
		case RoleClassSpare:
			// spares are not replaced here; housekeeping refills the pool
			f.Add(c.releaseAmphora("release-failed-amphora", failedAmphoraID), engine.Retries(2))
			return f, nil

		case RoleClassMasterOrBackup:
			f.Add(c.allocateReplacement(), engine.Retries(2)).
				Add(c.configureReplacement(), engine.Retries(3)).
				Add(c.refreshPeers(), engine.Retries(3)).
				Add(c.applyConfig(), engine.Retries(3))

		case RoleClassStandalone:
			f.Add(c.allocateReplacement(), engine.Retries(2)).
				Add(c.configureReplacement(), engine.Retries(3)).
				Add(c.applyConfig(), engine.Retries(3))

		default:
			f.Add(c.allocateReplacement(), engine.Retries(2))
		}

		return f.Add(c.releaseAmphora("release-failed-amphora", failedAmphoraID), engine.Retries(2)), nil
	}
}
