package flows

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/octane-lb/octane/pkg/amphora"
	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/models"
	"github.com/octane-lb/octane/pkg/stores"
)

// VRRP priorities given to the amphorae of an active/standby pair.
const (
	masterVRRPPriority = 100
	backupVRRPPriority = 90
)

// allocation describes an amphora to build.
type allocation struct {
	task         string
	role         models.Role
	vrrpPriority int
	attach       bool
	finalStatus  models.AmphoraStatus
	// replaces takes role, VRRP priority and load balancer from FailedAmphora
	replaces bool
	// output, when set, receives the new amphora ID
	output *engine.Key[string]
}

// allocateAmphora creates an amphora record and its compute instance. On
// revert the instance is released and the record marked DELETED.
func (c *catalog) allocateAmphora(a allocation) engine.Task {
	var ampID, computeID string

	return engine.TaskFunc{
		TaskName: a.task,
		ExecuteFn: func(ctx context.Context, s *engine.Store) error {
			ampID = uuid.New().String()

			amp := &models.Amphora{
				ID:           ampID,
				Status:       models.AmphoraBooting,
				Role:         a.role,
				VRRPPriority: a.vrrpPriority,
			}
			switch {
			case a.replaces:
				failed, err := engine.Require(s, FailedAmphora)
				if err != nil {
					return err
				}
				amp.Role = failed.Role
				amp.VRRPPriority = failed.VRRPPriority
				if failed.LoadBalancerID != "" {
					lbID := failed.LoadBalancerID
					amp.LoadBalancerID = &lbID
				}
				if failed.AvailabilityZone != "" {
					az := failed.AvailabilityZone
					amp.AvailabilityZone = &az
				}
			case a.attach:
				lbID, err := engine.Require(s, LoadBalancerID)
				if err != nil {
					return err
				}
				amp.LoadBalancerID = &lbID
			}
			if az, ok := engine.Get(s, AvailabilityZoneName); ok && az != "" {
				amp.AvailabilityZone = &az
			}
			if err := c.repo.CreateAmphora(ctx, amp); err != nil {
				return classify("failed to create amphora record", err)
			}

			req := amphora.ComputeRequest{AmphoraID: ampID}
			req.Priority, _ = engine.Get(s, BuildTypePriority)
			req.Flavor, _ = engine.Get(s, Flavor)
			req.AvailabilityZone, _ = engine.Get(s, AvailabilityZone)
			req.ServerGroupID, _ = engine.Get(s, ServerGroupID)

			id, err := c.driver.CreateCompute(ctx, req)
			if err != nil {
				return classify("failed to create compute instance", err)
			}
			computeID = id

			if err := c.repo.UpdateAmphora(ctx, ampID, stores.Fields{
				"compute_id": computeID,
				"status":     a.finalStatus,
			}); err != nil {
				return classify("failed to update amphora", err)
			}

			if a.output != nil {
				engine.Put(s, *a.output, ampID)
			}
			c.logger.Info().
				Str("amphora_id", ampID).
				Str("compute_id", computeID).
				Str("role", string(amp.Role)).
				Msg("allocated amphora")
			return nil
		},
		RevertFn: func(ctx context.Context, s *engine.Store, _ error) error {
			if computeID != "" {
				if err := c.driver.DeleteCompute(ctx, computeID); err != nil {
					return fmt.Errorf("failed to release compute %s: %w", computeID, err)
				}
			}
			if ampID != "" {
				if err := c.repo.UpdateAmphoraStatus(ctx, ampID, models.AmphoraDeleted); err != nil && !stores.IsNotFound(err) {
					return fmt.Errorf("failed to mark amphora %s DELETED: %w", ampID, err)
				}
			}
			return nil
		},
	}
}

// markAmphoraPendingDelete marks the amphora under key PENDING_DELETE; on
// revert it is marked ERROR.
func (c *catalog) markAmphoraPendingDelete(key engine.Key[string]) engine.Task {
	return engine.TaskFunc{
		TaskName: "mark-amphora-pending-delete",
		ExecuteFn: func(ctx context.Context, s *engine.Store) error {
			id, err := engine.Require(s, key)
			if err != nil {
				return err
			}
			return classify("failed to mark amphora PENDING_DELETE",
				c.repo.UpdateAmphoraStatus(ctx, id, models.AmphoraPendingDelete))
		},
		RevertFn: func(ctx context.Context, s *engine.Store, _ error) error {
			id, ok := engine.Get(s, key)
			if !ok {
				return nil
			}
			if err := c.repo.UpdateAmphoraStatus(ctx, id, models.AmphoraError); err != nil && !stores.IsNotFound(err) {
				return err
			}
			return nil
		},
	}
}

// releaseAmphora deletes the compute instance of the amphora under key,
// marks it DELETED and forgets its health record.
func (c *catalog) releaseAmphora(name string, key engine.Key[string]) engine.Task {
	return engine.TaskFunc{
		TaskName: name,
		ExecuteFn: func(ctx context.Context, s *engine.Store) error {
			id, err := engine.Require(s, key)
			if err != nil {
				return err
			}
			return c.release(ctx, id)
		},
	}
}

func (c *catalog) release(ctx context.Context, id string) error {
	amp, err := c.repo.GetAmphora(ctx, id)
	if err != nil {
		return classify("failed to load amphora", err)
	}
	if amp.ComputeID != "" {
		if err := c.driver.DeleteCompute(ctx, amp.ComputeID); err != nil {
			return classify(fmt.Sprintf("failed to delete compute %s", amp.ComputeID), err)
		}
	}
	if err := c.repo.UpdateAmphoraStatus(ctx, id, models.AmphoraDeleted); err != nil {
		return classify("failed to mark amphora DELETED", err)
	}
	if _, err := c.repo.DeleteAmphoraHealth(ctx, id); err != nil {
		return classify("failed to delete amphora health", err)
	}
	c.logger.Info().Str("amphora_id", id).Str("compute_id", amp.ComputeID).Msg("released amphora")
	return nil
}

// releaseLoadBalancerAmphorae releases every live amphora of the load balancer.
func (c *catalog) releaseLoadBalancerAmphorae() engine.Task {
	return engine.TaskFunc{
		TaskName: "release-load-balancer-amphorae",
		ExecuteFn: func(ctx context.Context, s *engine.Store) error {
			lbID, err := engine.Require(s, LoadBalancerID)
			if err != nil {
				return err
			}
			amps, err := c.repo.ListAmphoraeByLoadBalancer(ctx, lbID)
			if err != nil {
				return classify("failed to list amphorae", err)
			}
			for _, amp := range amps {
				if amp.Status == models.AmphoraDeleted {
					continue
				}
				if err := c.release(ctx, amp.ID); err != nil {
					return err
				}
			}
			if sg, ok := engine.Get(s, ServerGroupID); ok && sg != "" {
				c.logger.Info().Str("server_group_id", sg).Str("load_balancer_id", lbID).Msg("server group no longer used")
			}
			return nil
		},
	}
}

func amphoraIDFrom(key engine.Key[string]) engine.Task {
	return engine.TaskFunc{
		TaskName: "resolve-amphora-id",
		ExecuteFn: func(_ context.Context, s *engine.Store) error {
			amp, err := engine.Require(s, Amphora)
			if err != nil {
				return err
			}
			engine.Put(s, key, amp.ID)
			return nil
		},
	}
}

func (c *catalog) createAmphoraFlow(_ *engine.Store) (*engine.Flow, error) {
	return engine.NewFlow(CreateAmphora).
		Add(c.allocateAmphora(allocation{
			task:        "allocate-spare-amphora",
			role:        models.RoleNone,
			finalStatus: models.AmphoraReady,
			output:      &AmphoraID,
		}), engine.Retries(2)), nil
}

func (c *catalog) deleteAmphoraFlow(_ *engine.Store) (*engine.Flow, error) {
	return engine.NewFlow(DeleteAmphora).
		Add(amphoraIDFrom(AmphoraID)).
		Add(c.markAmphoraPendingDelete(AmphoraID)).
		Add(c.releaseAmphora("release-amphora", AmphoraID), engine.Retries(2)), nil
}

func (c *catalog) certRotateFlow(_ *engine.Store) (*engine.Flow, error) {
	rotate := engine.TaskFunc{
		TaskName: "rotate-amphora-certificate",
		ExecuteFn: func(ctx context.Context, s *engine.Store) error {
			amp, err := engine.Require(s, Amphora)
			if err != nil {
				return err
			}
			if err := c.repo.UpdateAmphora(ctx, amp.ID, stores.Fields{"cert_busy": true}); err != nil {
				return classify("failed to mark certificate busy", err)
			}
			expiry, err := c.driver.RotateCertificate(ctx, amp)
			if err != nil {
				return classify("failed to rotate certificate", err)
			}
			return classify("failed to record certificate expiry", c.repo.UpdateAmphora(ctx, amp.ID, stores.Fields{
				"cert_expiration": expiry,
				"cert_busy":       false,
			}))
		},
		RevertFn: func(ctx context.Context, s *engine.Store, _ error) error {
			id, ok := engine.Get(s, AmphoraID)
			if !ok {
				return nil
			}
			return c.repo.UpdateAmphora(ctx, id, stores.Fields{"cert_busy": false})
		},
	}
	return engine.NewFlow(CertRotateAmphora).Add(rotate, engine.Retries(2)), nil
}

func (c *catalog) updateAgentConfigFlow(_ *engine.Store) (*engine.Flow, error) {
	update := engine.TaskFunc{
		TaskName: "update-amphora-agent-config",
		ExecuteFn: func(ctx context.Context, s *engine.Store) error {
			amp, err := engine.Require(s, Amphora)
			if err != nil {
				return err
			}
			flavor, _ := engine.Get(s, Flavor)
			return classify("failed to update agent config", c.driver.UpdateAgentConfig(ctx, amp, flavor))
		},
	}
	return engine.NewFlow(UpdateAmphoraAgentConfig).Add(update, engine.Retries(2)), nil
}
