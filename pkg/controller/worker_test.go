package controller

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/flows"
	"github.com/octane-lb/octane/pkg/models"
	"github.com/octane-lb/octane/pkg/stores"
)

type fakeZones struct {
	zones []string
	err   error
	calls int
}

func (z *fakeZones) GetRestrictedZones(context.Context, string) ([]string, error) {
	z.calls++
	return z.zones, z.err
}

func TestCreateAmphora(t *testing.T) {
	f := newWorkerFixture()
	f.engine.amphoraID = "amp-new"
	w := f.worker(Config{})

	id, err := w.CreateAmphora(context.Background(), CreateAmphoraParams{AvailabilityZone: "az-1"})
	if err != nil || id != "amp-new" {
		t.Fatalf("CreateAmphora() = %q, %v", id, err)
	}
	run := f.engine.Runs()[0]
	if run.flow != flows.CreateAmphora {
		t.Errorf("flow = %s", run.flow)
	}
	if p, _ := engine.Get(run.store, flows.BuildTypePriority); p != int(PrioritySpares) {
		t.Errorf("priority = %d, want %d", p, PrioritySpares)
	}
	if az, _ := engine.Get(run.store, flows.AvailabilityZone); az["compute_zone"] != "nova-1" {
		t.Errorf("availability zone = %v", az)
	}
	if name, _ := engine.Get(run.store, flows.AvailabilityZoneName); name != "az-1" {
		t.Errorf("availability zone name = %q", name)
	}
	if sg, ok := engine.Get(run.store, flows.ServerGroupID); !ok || sg != "" {
		t.Errorf("server group = %q, %v", sg, ok)
	}
}

func TestCreateAmphoraSwallowsFailure(t *testing.T) {
	f := newWorkerFixture()
	f.engine.errs[flows.CreateAmphora] = errors.New("no valid host")
	w := f.worker(Config{})

	id, err := w.CreateAmphora(context.Background(), CreateAmphoraParams{})
	if err != nil || id != "" {
		t.Fatalf("CreateAmphora() = %q, %v, want empty ID and nil error", id, err)
	}
	if az, ok := engine.Get(f.engine.Runs()[0].store, flows.AvailabilityZone); !ok || len(az) != 0 {
		t.Errorf("availability zone = %v, %v, want empty", az, ok)
	}
}

func TestCreateLoadBalancerStore(t *testing.T) {
	f := newWorkerFixture()
	lb := f.addLoadBalancer("lb-1", models.ProvisioningPendingCreate)
	lb.FlavorID = strPtr("flavor-1")
	lb.AvailabilityZone = strPtr("az-1")
	lb.ServerGroupID = strPtr("sg-1")
	f.addListener("listener-1", "lb-1", "")
	f.repo.missing["lb-1"] = 3
	w := f.worker(Config{})

	if err := w.CreateLoadBalancer(context.Background(), CreateLoadBalancerParams{LoadBalancerID: "lb-1"}); err != nil {
		t.Fatalf("CreateLoadBalancer() error = %v", err)
	}
	run := f.engine.Runs()[0]
	if want := flows.CreateLoadBalancerFlow(models.TopologyActiveStandby); run.flow != want {
		t.Errorf("flow = %s, want %s", run.flow, want)
	}
	s := run.store
	if p, _ := engine.Get(s, flows.BuildTypePriority); p != int(PriorityNormal) {
		t.Errorf("priority = %d", p)
	}
	if fl, _ := engine.Get(s, flows.Flavor); fl["compute_flavor"] != "m1.small" {
		t.Errorf("flavor = %v", fl)
	}
	if sg, _ := engine.Get(s, flows.ServerGroupID); sg != "sg-1" {
		t.Errorf("server group = %q", sg)
	}
	if u, _ := engine.Get(s, flows.UpdateDict); u["topology"] != models.TopologyActiveStandby {
		t.Errorf("update dict = %v", u)
	}
	if ls, _ := engine.Get(s, flows.Listeners); len(ls) != 1 || ls[0].ListenerID != "listener-1" {
		t.Errorf("listeners = %+v", ls)
	}
}

func TestCreateLoadBalancerUsesGivenMetadata(t *testing.T) {
	f := newWorkerFixture()
	lb := f.addLoadBalancer("lb-1", models.ProvisioningPendingCreate)
	lb.FlavorID = strPtr("flavor-1")
	w := f.worker(Config{})

	err := w.CreateLoadBalancer(context.Background(), CreateLoadBalancerParams{
		LoadBalancerID: "lb-1",
		Flavor:         map[string]any{"loadbalancer_topology": "SINGLE"},
	})
	if err != nil {
		t.Fatalf("CreateLoadBalancer() error = %v", err)
	}
	if len(f.meta.calls) != 0 {
		t.Errorf("metadata lookups = %v, want none", f.meta.calls)
	}
	if fl, _ := engine.Get(f.engine.Runs()[0].store, flows.Flavor); fl["loadbalancer_topology"] != "SINGLE" {
		t.Errorf("flavor = %v", fl)
	}
}

func TestCreateLoadBalancerNeverCommitted(t *testing.T) {
	f := newWorkerFixture()
	w := f.worker(Config{})

	err := w.CreateLoadBalancer(context.Background(), CreateLoadBalancerParams{LoadBalancerID: "lb-1"})
	if !errors.Is(err, stores.ErrNotFound) || !engine.IsNotFound(err) {
		t.Fatalf("CreateLoadBalancer() error = %v, want not found", err)
	}
	if len(f.engine.Runs()) != 0 {
		t.Errorf("engine ran for a missing load balancer")
	}
}

func TestCreateLoadBalancerZoneRestriction(t *testing.T) {
	tests := []struct {
		name    string
		zones   []string
		wantErr bool
	}{
		{name: "unrestricted", zones: nil},
		{name: "allowed", zones: []string{"az-0", "az-1"}},
		{name: "restricted", zones: []string{"az-0"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWorkerFixture()
			lb := f.addLoadBalancer("lb-1", models.ProvisioningPendingCreate)
			lb.AvailabilityZone = strPtr("az-1")
			z := &fakeZones{zones: tt.zones}
			w := f.worker(Config{}, WithZoneRestrictor(z))

			err := w.CreateLoadBalancer(context.Background(), CreateLoadBalancerParams{LoadBalancerID: "lb-1"})
			if got := errors.Is(err, ErrZoneRestricted); got != tt.wantErr {
				t.Fatalf("CreateLoadBalancer() error = %v, wantErr %v", err, tt.wantErr)
			}
			if z.calls != 1 {
				t.Errorf("zone lookups = %d, want 1", z.calls)
			}
			if tt.wantErr && len(f.engine.Runs()) != 0 {
				t.Errorf("engine ran for a restricted zone")
			}
		})
	}
}

func TestDeleteLoadBalancerCascade(t *testing.T) {
	f := newWorkerFixture()
	f.addLoadBalancer("lb-1", models.ProvisioningPendingDelete)
	f.addPool("pool-1", "lb-1", models.ProvisioningActive)
	f.addMember("member-1", "pool-1", models.ProvisioningActive)
	f.addListener("listener-1", "lb-1", "pool-1")
	w := f.worker(Config{})

	err := w.DeleteLoadBalancer(context.Background(), DeleteLoadBalancerParams{LoadBalancerID: "lb-1", Cascade: true})
	if err != nil {
		t.Fatalf("DeleteLoadBalancer() error = %v", err)
	}
	run := f.engine.Runs()[0]
	if run.flow != flows.DeleteLoadBalancerCascade {
		t.Errorf("flow = %s", run.flow)
	}
	pools, _ := engine.Get(run.store, flows.Pools)
	if len(pools) != 1 || len(pools[0].Members) != 1 {
		t.Errorf("pools = %+v", pools)
	}
	if pid, _ := engine.Get(run.store, flows.ProjectID); pid != "project-1" {
		t.Errorf("project = %q", pid)
	}
}

func TestDeleteLoadBalancerPlain(t *testing.T) {
	f := newWorkerFixture()
	f.addLoadBalancer("lb-1", models.ProvisioningPendingDelete)
	w := f.worker(Config{})

	if err := w.DeleteLoadBalancer(context.Background(), DeleteLoadBalancerParams{LoadBalancerID: "lb-1"}); err != nil {
		t.Fatalf("DeleteLoadBalancer() error = %v", err)
	}
	run := f.engine.Runs()[0]
	if run.flow != flows.DeleteLoadBalancer || run.store.Has(flows.Pools.Name()) {
		t.Errorf("flow = %s, pools set = %v", run.flow, run.store.Has(flows.Pools.Name()))
	}
}

func TestUpdateToleratesExhaustion(t *testing.T) {
	f := newWorkerFixture()
	f.addLoadBalancer("lb-1", models.ProvisioningActive)
	f.addPool("pool-1", "lb-1", models.ProvisioningActive)
	w := f.worker(Config{})

	updates := stores.Fields{"name": "renamed"}
	if err := w.UpdatePool(context.Background(), UpdatePoolParams{PoolID: "pool-1", Updates: updates}); err != nil {
		t.Fatalf("UpdatePool() error = %v", err)
	}
	if got := f.repo.readsOf("pool-1"); got != 15 {
		t.Errorf("reads = %d, want 15", got)
	}
	run := f.engine.Runs()[0]
	if run.flow != flows.UpdatePool {
		t.Errorf("flow = %s", run.flow)
	}
	if u, _ := engine.Get(run.store, flows.UpdateDict); !reflect.DeepEqual(u, updates) {
		t.Errorf("update dict = %v", u)
	}
}

func TestUpdateMissingEntity(t *testing.T) {
	f := newWorkerFixture()
	w := f.worker(Config{})

	err := w.UpdateHealthMonitor(context.Background(), UpdateHealthMonitorParams{
		HealthMonitorID: "hm-1",
		Updates:         stores.Fields{"delay": 5},
	})
	if !engine.IsNotFound(err) {
		t.Fatalf("UpdateHealthMonitor() error = %v, want not found", err)
	}
}

func TestMemberStore(t *testing.T) {
	f := newWorkerFixture()
	lb := f.addLoadBalancer("lb-1", models.ProvisioningActive)
	lb.AvailabilityZone = strPtr("az-1")
	f.addPool("pool-1", "lb-1", models.ProvisioningActive)
	f.addListener("listener-1", "lb-1", "pool-1")
	f.addListener("listener-2", "lb-1", "")
	f.addMember("member-1", "pool-1", models.ProvisioningPendingCreate)
	w := f.worker(Config{})

	if err := w.CreateMember(context.Background(), MemberParams{MemberID: "member-1"}); err != nil {
		t.Fatalf("CreateMember() error = %v", err)
	}
	s := f.engine.Runs()[0].store
	if m, _ := engine.Get(s, flows.Member); m.MemberID != "member-1" {
		t.Errorf("member = %+v", m)
	}
	if id, _ := engine.Get(s, flows.PoolID); id != "pool-1" {
		t.Errorf("pool = %q", id)
	}
	if ls, _ := engine.Get(s, flows.Listeners); len(ls) != 1 || ls[0].ListenerID != "listener-1" {
		t.Errorf("listeners = %+v, want only the pool's listener", ls)
	}
	if az, _ := engine.Get(s, flows.AvailabilityZone); az["compute_zone"] != "nova-1" {
		t.Errorf("availability zone = %v", az)
	}
}

func TestBatchUpdateMembersPoolPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		params   BatchUpdateMembersParams
		wantPool string
	}{
		{
			name: "delete set first",
			params: BatchUpdateMembersParams{
				OldMemberIDs:   []string{"m-old"},
				NewMemberIDs:   []string{"m-new"},
				UpdatedMembers: []MemberDelta{{MemberID: "m-upd"}},
			},
			wantPool: "pool-old",
		},
		{
			name: "then create set",
			params: BatchUpdateMembersParams{
				NewMemberIDs:   []string{"m-new"},
				UpdatedMembers: []MemberDelta{{MemberID: "m-upd"}},
			},
			wantPool: "pool-new",
		},
		{
			name: "then update set",
			params: BatchUpdateMembersParams{
				UpdatedMembers: []MemberDelta{{MemberID: "m-upd", Updates: stores.Fields{"weight": 5}}},
			},
			wantPool: "pool-upd",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWorkerFixture()
			f.addLoadBalancer("lb-1", models.ProvisioningActive)
			for _, id := range []string{"old", "new", "upd"} {
				f.addPool("pool-"+id, "lb-1", models.ProvisioningActive)
				f.addMember("m-"+id, "pool-"+id, models.ProvisioningPendingUpdate)
			}
			w := f.worker(Config{})

			if err := w.BatchUpdateMembers(context.Background(), tt.params); err != nil {
				t.Fatalf("BatchUpdateMembers() error = %v", err)
			}
			run := f.engine.Runs()[0]
			if run.flow != flows.BatchUpdateMembers {
				t.Errorf("flow = %s", run.flow)
			}
			if id, _ := engine.Get(run.store, flows.PoolID); id != tt.wantPool {
				t.Errorf("pool = %q, want %q", id, tt.wantPool)
			}
			updated, _ := engine.Get(run.store, flows.UpdatedMembers)
			if len(updated) != len(tt.params.UpdatedMembers) {
				t.Errorf("updated members = %d, want %d", len(updated), len(tt.params.UpdatedMembers))
			}
		})
	}
}

func TestBatchUpdateMembersEmpty(t *testing.T) {
	f := newWorkerFixture()
	w := f.worker(Config{})

	err := w.BatchUpdateMembers(context.Background(), BatchUpdateMembersParams{})
	if !errors.Is(err, ErrNoPool) {
		t.Fatalf("BatchUpdateMembers() error = %v, want ErrNoPool", err)
	}
	if len(f.engine.Runs()) != 0 {
		t.Errorf("engine ran without a pool")
	}
}

func TestBatchUpdateMembersMissingMember(t *testing.T) {
	f := newWorkerFixture()
	w := f.worker(Config{})

	err := w.BatchUpdateMembers(context.Background(), BatchUpdateMembersParams{OldMemberIDs: []string{"m-x"}})
	if !engine.IsNotFound(err) {
		t.Fatalf("BatchUpdateMembers() error = %v, want not found", err)
	}
}

func TestL7RuleStore(t *testing.T) {
	f := newWorkerFixture()
	f.addLoadBalancer("lb-1", models.ProvisioningActive)
	f.addListener("listener-1", "lb-1", "")
	f.repo.policies["pol-1"] = &models.L7Policy{ID: "pol-1", ListenerID: "listener-1", Action: "REJECT"}
	f.repo.rules["rule-1"] = &models.L7Rule{
		ID: "rule-1", L7PolicyID: "pol-1", Type: "PATH", CompareType: "STARTS_WITH", Value: "/api",
		ProvisioningStatus: models.ProvisioningPendingUpdate,
	}
	w := f.worker(Config{})

	err := w.UpdateL7Rule(context.Background(), UpdateL7RuleParams{L7RuleID: "rule-1", Updates: stores.Fields{"value": "/v2"}})
	if err != nil {
		t.Fatalf("UpdateL7Rule() error = %v", err)
	}
	if got := f.repo.readsOf("rule-1"); got != 1 {
		t.Errorf("reads = %d, want 1", got)
	}
	s := f.engine.Runs()[0].store
	if id, _ := engine.Get(s, flows.L7PolicyID); id != "pol-1" {
		t.Errorf("policy id = %q", id)
	}
	if pol, _ := engine.Get(s, flows.L7Policy); len(pol.Rules) != 1 {
		t.Errorf("policy rules = %+v", pol.Rules)
	}
	if lb, _ := engine.Get(s, flows.LoadBalancerID); lb != "lb-1" {
		t.Errorf("load balancer = %q", lb)
	}
}

func TestInvalidParams(t *testing.T) {
	f := newWorkerFixture()
	w := f.worker(Config{})
	ctx := context.Background()

	checks := map[string]error{
		"delete_amphora": w.DeleteAmphora(ctx, AmphoraParams{}),
		"update_pool":    w.UpdatePool(ctx, UpdatePoolParams{PoolID: "pool-1"}),
		"batch":          w.BatchUpdateMembers(ctx, BatchUpdateMembersParams{NewMemberIDs: []string{""}}),
	}
	for name, err := range checks {
		var ee *engine.EngineError
		if !errors.As(err, &ee) || ee.Code != engine.ErrCodeValidation {
			t.Errorf("%s: error = %v, want validation error", name, err)
		}
	}
	if len(f.engine.Runs()) != 0 {
		t.Errorf("engine ran with invalid parameters")
	}
}

func TestDispatch(t *testing.T) {
	f := newWorkerFixture()
	f.addLoadBalancer("lb-1", models.ProvisioningActive)
	f.addAmphora("amp-1", "lb-1", models.RoleStandalone, models.AmphoraAllocated)
	w := f.worker(Config{})
	ctx := context.Background()

	if err := w.Dispatch(ctx, "failover_amphora", json.RawMessage(`{"amphora_id":"amp-1"}`)); err != nil {
		t.Fatalf("Dispatch(failover_amphora) error = %v", err)
	}
	if got := f.engine.failedAmphorae(); !reflect.DeepEqual(got, []string{"amp-1"}) {
		t.Errorf("failed over = %v", got)
	}

	var ee *engine.EngineError
	if err := w.Dispatch(ctx, "reboot_amphora", nil); !errors.As(err, &ee) || ee.Code != engine.ErrCodeValidation {
		t.Errorf("unknown operation error = %v", err)
	}
	if err := w.Dispatch(ctx, "delete_pool", json.RawMessage(`{"pool_id":`)); !errors.As(err, &ee) {
		t.Errorf("malformed payload error = %v", err)
	}
}

func TestOperationsListed(t *testing.T) {
	ops := Operations()
	if len(ops) != 28 {
		t.Errorf("operations = %d, want 28", len(ops))
	}
	for _, want := range []string{"create_amphora", "batch_update_members", "failover_loadbalancer", "update_amphora_agent_config"} {
		found := false
		for _, op := range ops {
			if op == want {
				found = true
			}
		}
		if !found {
			t.Errorf("operation %s not listed", want)
		}
	}
}
