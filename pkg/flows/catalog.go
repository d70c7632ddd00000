package flows

import (
	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/models"
)

// Register adds every flow of the catalog to reg.
func Register(reg *engine.Registry, deps Deps) error {
	c := newCatalog(deps)

	simple := map[string]engine.FlowFactory{
		CreateAmphora:                   c.createAmphoraFlow,
		DeleteAmphora:                   c.deleteAmphoraFlow,
		CertRotateAmphora:               c.certRotateFlow,
		UpdateAmphoraAgentConfig:        c.updateAgentConfigFlow,
		CreateLoadBalancerSingle:        c.createLoadBalancerFlow(models.TopologySingle),
		CreateLoadBalancerActiveStandby: c.createLoadBalancerFlow(models.TopologyActiveStandby),
		DeleteLoadBalancer:              c.deleteLoadBalancerFlow(false),
		DeleteLoadBalancerCascade:       c.deleteLoadBalancerFlow(true),
		UpdateLoadBalancer:              c.updateLoadBalancerFlow,
		BatchUpdateMembers:              c.batchUpdateMembersFlow,
	}
	for _, class := range RoleClasses {
		simple[FailoverAmphoraFlow(class)] = c.failoverFlow(class)
	}
	for name, factory := range simple {
		if err := reg.Register(name, factory); err != nil {
			return err
		}
	}

	for _, register := range []func(*engine.Registry) error{
		c.registerListenerFlows,
		c.registerPoolFlows,
		c.registerMemberFlows,
		c.registerHealthMonitorFlows,
		c.registerL7Flows,
	} {
		if err := register(reg); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the full catalog.
func NewRegistry(deps Deps) (*engine.Registry, error) {
	reg := engine.NewRegistry()
	if err := Register(reg, deps); err != nil {
		return nil, err
	}
	return reg, nil
}
