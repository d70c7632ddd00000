package flows

import (
	"context"

	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/models"
	"github.com/octane-lb/octane/pkg/provider"
	"github.com/octane-lb/octane/pkg/stores"
)

// childFlow describes a create, update or delete flow for an entity below
// a load balancer.
type childFlow struct {
	name   string
	kind   string
	ids    idsFunc
	update updateFunc
	remove deleteFunc

	// parents are marked ACTIVE along with the entity
	parents []parent
}

type parent struct {
	kind   string
	ids    idsFunc
	update updateFunc
}

type action int

const (
	actionCreate action = iota
	actionUpdate
	actionDelete
)

func (c *catalog) childFactory(cf childFlow, act action) engine.FlowFactory {
	return func(_ *engine.Store) (*engine.Flow, error) {
		f := engine.NewFlow(cf.name).
			Add(c.markOnRevert(cf.kind, cf.ids, cf.update, models.ProvisioningActive))

		switch act {
		case actionUpdate:
			f.Add(c.updateEntities("update-"+cf.kind, cf.ids, cf.update))
		case actionDelete:
			f.Add(c.deleteEntities("delete-"+cf.kind, cf.ids, cf.remove))
		}

		f.Add(c.applyConfig(), engine.Retries(3))

		if act != actionDelete {
			f.Add(c.markEntities("mark-"+cf.kind+"-active", cf.ids, cf.update, models.ProvisioningActive))
		}
		for _, p := range cf.parents {
			f.Add(c.markEntities("mark-"+p.kind+"-active", p.ids, p.update, models.ProvisioningActive))
		}
		return f.Add(c.markLoadBalancer(models.ProvisioningActive)), nil
	}
}

func (c *catalog) registerChild(reg *engine.Registry, create, update, remove string, cf childFlow) error {
	for name, act := range map[string]action{create: actionCreate, update: actionUpdate, remove: actionDelete} {
		flow := cf
		flow.name = name
		if err := reg.Register(name, c.childFactory(flow, act)); err != nil {
			return err
		}
	}
	return nil
}

func (c *catalog) listenerParent() parent {
	return parent{kind: "listeners", ids: listenerIDs, update: c.updater(stores.Store.UpdateListener)}
}

func (c *catalog) poolParent() parent {
	return parent{kind: "pool", ids: poolIDs, update: c.updater(stores.Store.UpdatePool)}
}

func (c *catalog) registerListenerFlows(reg *engine.Registry) error {
	// create marks all sibling listeners; update and delete act on one
	create := childFlow{
		name:   CreateListener,
		kind:   "listeners",
		ids:    listenerIDs,
		update: c.updater(stores.Store.UpdateListener),
	}
	if err := reg.Register(CreateListener, c.childFactory(create, actionCreate)); err != nil {
		return err
	}

	single := childFlow{
		kind:   "listener",
		ids:    one(Listener, func(l provider.Listener) string { return l.ListenerID }),
		update: c.updater(stores.Store.UpdateListener),
		remove: c.remover(stores.Store.DeleteListener),
	}
	single.name = UpdateListener
	if err := reg.Register(UpdateListener, c.childFactory(single, actionUpdate)); err != nil {
		return err
	}
	single.name = DeleteListener
	return reg.Register(DeleteListener, c.childFactory(single, actionDelete))
}

func (c *catalog) registerPoolFlows(reg *engine.Registry) error {
	return c.registerChild(reg, CreatePool, UpdatePool, DeletePool, childFlow{
		kind:    "pool",
		ids:     poolIDs,
		update:  c.updater(stores.Store.UpdatePool),
		remove:  c.remover(stores.Store.DeletePool),
		parents: []parent{c.listenerParent()},
	})
}

func (c *catalog) registerMemberFlows(reg *engine.Registry) error {
	return c.registerChild(reg, CreateMember, UpdateMember, DeleteMember, childFlow{
		kind:    "member",
		ids:     one(Member, func(m provider.Member) string { return m.MemberID }),
		update:  c.updater(stores.Store.UpdateMember),
		remove:  c.remover(stores.Store.DeleteMember),
		parents: []parent{c.poolParent(), c.listenerParent()},
	})
}

func (c *catalog) registerHealthMonitorFlows(reg *engine.Registry) error {
	return c.registerChild(reg, CreateHealthMonitor, UpdateHealthMonitor, DeleteHealthMonitor, childFlow{
		kind:    "health-monitor",
		ids:     one(HealthMon, func(hm provider.HealthMonitor) string { return hm.HealthMonitorID }),
		update:  c.updater(stores.Store.UpdateHealthMonitor),
		remove:  c.remover(stores.Store.DeleteHealthMonitor),
		parents: []parent{c.poolParent(), c.listenerParent()},
	})
}

func (c *catalog) registerL7Flows(reg *engine.Registry) error {
	err := c.registerChild(reg, CreateL7Policy, UpdateL7Policy, DeleteL7Policy, childFlow{
		kind:    "l7policy",
		ids:     one(L7Policy, func(p provider.L7Policy) string { return p.L7PolicyID }),
		update:  c.updater(stores.Store.UpdateL7Policy),
		remove:  c.remover(stores.Store.DeleteL7Policy),
		parents: []parent{c.listenerParent()},
	})
	if err != nil {
		return err
	}

	policy := parent{
		kind: "l7policy",
		ids: func(s *engine.Store) ([]string, error) {
			id, err := engine.Require(s, L7PolicyID)
			if err != nil {
				return nil, err
			}
			return []string{id}, nil
		},
		update: c.updater(stores.Store.UpdateL7Policy),
	}
	return c.registerChild(reg, CreateL7Rule, UpdateL7Rule, DeleteL7Rule, childFlow{
		kind:    "l7rule",
		ids:     one(L7Rule, func(r provider.L7Rule) string { return r.L7RuleID }),
		update:  c.updater(stores.Store.UpdateL7Rule),
		remove:  c.remover(stores.Store.DeleteL7Rule),
		parents: []parent{policy, c.listenerParent()},
	})
}

// batchUpdateMembersFlow removes old members, updates changed ones and
// activates new ones in a single configuration push.
func (c *catalog) batchUpdateMembersFlow(_ *engine.Store) (*engine.Flow, error) {
	memberID := func(m provider.Member) string { return m.MemberID }
	newIDs := many(NewMembers, memberID)
	updatedIDs := func(s *engine.Store) ([]string, error) {
		updates, _ := engine.Get(s, UpdatedMembers)
		ids := make([]string, 0, len(updates))
		for _, u := range updates {
			ids = append(ids, u.Member.MemberID)
		}
		return ids, nil
	}
	allIDs := func(s *engine.Store) ([]string, error) {
		a, _ := newIDs(s)
		b, _ := updatedIDs(s)
		return append(a, b...), nil
	}

	applyUpdates := engine.TaskFunc{
		TaskName: "update-members",
		ExecuteFn: func(ctx context.Context, s *engine.Store) error {
			updates, _ := engine.Get(s, UpdatedMembers)
			for _, u := range updates {
				if len(u.Fields) == 0 {
					continue
				}
				if err := c.repo.UpdateMember(ctx, u.Member.MemberID, u.Fields); err != nil {
					return classify("failed to update member", err)
				}
			}
			return nil
		},
	}

	return engine.NewFlow(BatchUpdateMembers).
		Add(c.markOnRevert("members", allIDs, c.updater(stores.Store.UpdateMember), models.ProvisioningActive)).
		Add(c.deleteEntities("delete-old-members", many(OldMembers, memberID), c.remover(stores.Store.DeleteMember))).
		Add(applyUpdates).
		Add(c.applyConfig(), engine.Retries(3)).
		Add(c.markEntities("mark-members-active", allIDs, c.updater(stores.Store.UpdateMember), models.ProvisioningActive)).
		Add(c.markEntities("mark-pool-active", poolIDs, c.updater(stores.Store.UpdatePool), models.ProvisioningActive)).
		Add(c.markEntities("mark-listeners-active", listenerIDs, c.updater(stores.Store.UpdateListener), models.ProvisioningActive)).
		Add(c.markLoadBalancer(models.ProvisioningActive)), nil
}
