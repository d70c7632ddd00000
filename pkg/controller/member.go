package controller

import (
	"context"
	"fmt"

	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/flows"
	"github.com/octane-lb/octane/pkg/models"
	"github.com/octane-lb/octane/pkg/provider"
	"github.com/octane-lb/octane/pkg/stores"
)

// CreateMember adds a member to its pool.
func (w *Worker) CreateMember(ctx context.Context, p MemberParams) (err error) {
	if err := checkParams("create_member", p); err != nil {
		return err
	}
	ic := w.start(ctx, "create_member", p.MemberID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	m, err := mustExist(ctx, w, "member", p.MemberID, w.repo.GetMember)
	if err != nil {
		return err
	}
	return w.runMember(ctx, flows.CreateMember, m, nil, true)
}

// UpdateMember applies field changes to a member.
func (w *Worker) UpdateMember(ctx context.Context, p UpdateMemberParams) (err error) {
	if err := checkParams("update_member", p); err != nil {
		return err
	}
	ic := w.start(ctx, "update_member", p.MemberID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	m, err := awaitPending(ctx, w, "member", p.MemberID, w.repo.GetMember,
		func(m *models.Member) models.ProvisioningStatus { return m.ProvisioningStatus })
	if err != nil {
		return err
	}
	return w.runMember(ctx, flows.UpdateMember, m, p.Updates, false)
}

// DeleteMember removes a member from its pool.
func (w *Worker) DeleteMember(ctx context.Context, p MemberParams) (err error) {
	if err := checkParams("delete_member", p); err != nil {
		return err
	}
	ic := w.start(ctx, "delete_member", p.MemberID)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	m, err := get(ctx, "member", p.MemberID, w.repo.GetMember)
	if err != nil {
		return err
	}
	return w.runMember(ctx, flows.DeleteMember, m, nil, true)
}

func (w *Worker) runMember(ctx context.Context, flow string, m *models.Member, updates stores.Fields, withZone bool) error {
	scope, store, err := w.scopeOfPoolID(ctx, m.PoolID)
	if err != nil {
		return err
	}
	engine.Put(store, flows.Member, w.tr.Member(m))
	if updates != nil {
		engine.Put(store, flows.UpdateDict, updates)
	}
	if withZone {
		zone, err := w.zoneMetadata(ctx, scope.lb)
		if err != nil {
			return err
		}
		engine.Put(store, flows.AvailabilityZone, zone)
	}
	return w.run(ctx, flow, store)
}

// BatchUpdateMembers deletes, creates and updates members of one pool in a
// single configuration push. The pool is taken from the first member to be
// deleted, else the first to be created, else the first to be updated.
func (w *Worker) BatchUpdateMembers(ctx context.Context, p BatchUpdateMembersParams) (err error) {
	if err := checkParams("batch_update_members", p); err != nil {
		return err
	}
	ic := w.start(ctx, "batch_update_members", batchPoolHint(p))
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	oldMembers := make([]*models.Member, 0, len(p.OldMemberIDs))
	for _, id := range p.OldMemberIDs {
		m, err := get(ctx, "member", id, w.repo.GetMember)
		if err != nil {
			return err
		}
		oldMembers = append(oldMembers, m)
	}
	newMembers := make([]*models.Member, 0, len(p.NewMemberIDs))
	for _, id := range p.NewMemberIDs {
		m, err := mustExist(ctx, w, "member", id, w.repo.GetMember)
		if err != nil {
			return err
		}
		newMembers = append(newMembers, m)
	}
	updated := make([]flows.MemberUpdate, 0, len(p.UpdatedMembers))
	var firstUpdated *models.Member
	for _, d := range p.UpdatedMembers {
		m, err := get(ctx, "member", d.MemberID, w.repo.GetMember)
		if err != nil {
			return err
		}
		if firstUpdated == nil {
			firstUpdated = m
		}
		updated = append(updated, flows.MemberUpdate{Member: w.tr.Member(m), Fields: d.Updates})
	}

	var poolID string
	switch {
	case len(oldMembers) > 0:
		poolID = oldMembers[0].PoolID
	case len(newMembers) > 0:
		poolID = newMembers[0].PoolID
	case firstUpdated != nil:
		poolID = firstUpdated.PoolID
	default:
		return ErrNoPool
	}

	_, store, err := w.scopeOfPoolID(ctx, poolID)
	if err != nil {
		return fmt.Errorf("failed to resolve pool of member batch: %w", err)
	}
	engine.Put(store, flows.OldMembers, w.members(oldMembers))
	engine.Put(store, flows.NewMembers, w.members(newMembers))
	engine.Put(store, flows.UpdatedMembers, updated)
	return w.run(ctx, flows.BatchUpdateMembers, store)
}

func (w *Worker) members(ms []*models.Member) []provider.Member {
	out := make([]provider.Member, 0, len(ms))
	for _, m := range ms {
		out = append(out, w.tr.Member(m))
	}
	return out
}

// batchPoolHint names the member a batch resolves its pool from.
func batchPoolHint(p BatchUpdateMembersParams) string {
	switch {
	case len(p.OldMemberIDs) > 0:
		return p.OldMemberIDs[0]
	case len(p.NewMemberIDs) > 0:
		return p.NewMemberIDs[0]
	case len(p.UpdatedMembers) > 0:
		return p.UpdatedMembers[0].MemberID
	default:
		return ""
	}
}
