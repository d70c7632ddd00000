package controller

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/flows"
	"github.com/octane-lb/octane/pkg/models"
	"github.com/octane-lb/octane/pkg/stores"
)

func TestFailoverAmphoraMissing(t *testing.T) {
	f := newWorkerFixture()
	w := f.worker(Config{})

	err := w.FailoverAmphora(context.Background(), AmphoraParams{AmphoraID: "amp-x"})
	if !stores.IsNotFound(err) || !engine.IsNotFound(err) {
		t.Fatalf("FailoverAmphora() error = %v, want not found", err)
	}
	var ferr *FailoverError
	if errors.As(err, &ferr) {
		t.Errorf("missing amphora must not be compensated")
	}
	if len(f.engine.Runs()) != 0 || len(f.repo.writes()) != 0 {
		t.Errorf("runs = %d, status writes = %v, want none", len(f.engine.Runs()), f.repo.writes())
	}
}

func TestFailoverAmphoraDeleted(t *testing.T) {
	f := newWorkerFixture()
	f.addLoadBalancer("lb-1", models.ProvisioningActive)
	f.addAmphora("amp-1", "lb-1", models.RoleMaster, models.AmphoraDeleted)
	w := f.worker(Config{})

	if err := w.FailoverAmphora(context.Background(), AmphoraParams{AmphoraID: "amp-1"}); err != nil {
		t.Fatalf("FailoverAmphora() error = %v", err)
	}
	if n := len(f.engine.Runs()); n != 0 {
		t.Errorf("engine runs = %d, want 0", n)
	}
	if !reflect.DeepEqual(f.repo.healthDeletes, []string{"amp-1"}) {
		t.Errorf("health deletes = %v, want exactly [amp-1]", f.repo.healthDeletes)
	}
	if len(f.repo.writes()) != 0 {
		t.Errorf("status writes = %v, want none", f.repo.writes())
	}
}

func TestFailoverAmphoraSuccess(t *testing.T) {
	f := newWorkerFixture()
	lb := f.addLoadBalancer("lb-1", models.ProvisioningPendingUpdate)
	lb.FlavorID = strPtr("flavor-1")
	lb.AvailabilityZone = strPtr("az-1")
	lb.ServerGroupID = strPtr("sg-1")
	f.addAmphora("amp-1", "lb-1", models.RoleBackup, models.AmphoraAllocated)
	w := f.worker(Config{SpareAmphoraPoolSize: 1, EnableAntiAffinity: true})

	if err := w.FailoverAmphora(context.Background(), AmphoraParams{AmphoraID: "amp-1"}); err != nil {
		t.Fatalf("FailoverAmphora() error = %v", err)
	}

	runs := f.engine.Runs()
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	if want := flows.FailoverAmphoraFlow(flows.RoleClassMasterOrBackup); runs[0].flow != want {
		t.Errorf("flow = %s, want %s", runs[0].flow, want)
	}
	s := runs[0].store
	if amp, _ := engine.Get(s, flows.FailedAmphora); amp.ID != "amp-1" {
		t.Errorf("failed amphora = %q", amp.ID)
	}
	if id, _ := engine.Get(s, flows.LoadBalancerID); id != "lb-1" {
		t.Errorf("load balancer id = %q", id)
	}
	if p, _ := engine.Get(s, flows.BuildTypePriority); p != int(PriorityFailover) {
		t.Errorf("priority = %d, want %d", p, PriorityFailover)
	}
	if sg, ok := engine.Get(s, flows.ServerGroupID); !ok || sg != "sg-1" {
		t.Errorf("server group = %q, %v", sg, ok)
	}
	if fl, _ := engine.Get(s, flows.Flavor); fl["compute_flavor"] != "m1.small" {
		t.Errorf("flavor = %v", fl)
	}
	if az, _ := engine.Get(s, flows.AvailabilityZone); az["compute_zone"] != "nova-1" {
		t.Errorf("availability zone = %v", az)
	}

	want := []statusWrite{{lbID: "lb-1", status: models.ProvisioningActive}}
	if !reflect.DeepEqual(f.repo.writes(), want) {
		t.Errorf("status writes = %v, want %v", f.repo.writes(), want)
	}
}

func TestFailoverAmphoraStoreWithoutOptionalMetadata(t *testing.T) {
	f := newWorkerFixture()
	lb := f.addLoadBalancer("lb-1", models.ProvisioningActive)
	lb.ServerGroupID = strPtr("sg-1")
	f.addAmphora("amp-1", "lb-1", models.RoleStandalone, models.AmphoraAllocated)
	w := f.worker(Config{})

	if err := w.FailoverAmphora(context.Background(), AmphoraParams{AmphoraID: "amp-1"}); err != nil {
		t.Fatalf("FailoverAmphora() error = %v", err)
	}
	run := f.engine.Runs()[0]
	if run.flow != flows.FailoverAmphoraFlow(flows.RoleClassStandalone) {
		t.Errorf("flow = %s", run.flow)
	}
	if run.store.Has(flows.ServerGroupID.Name()) {
		t.Errorf("server group must not be set without anti-affinity")
	}
	if fl, ok := engine.Get(run.store, flows.Flavor); !ok || len(fl) != 0 {
		t.Errorf("flavor = %v, %v, want empty", fl, ok)
	}
	if az, ok := engine.Get(run.store, flows.AvailabilityZone); !ok || len(az) != 0 {
		t.Errorf("availability zone = %v, %v, want empty", az, ok)
	}
	if len(f.meta.calls) != 0 {
		t.Errorf("metadata lookups = %v, want none", f.meta.calls)
	}
}

func TestFailoverSpareAmphora(t *testing.T) {
	f := newWorkerFixture()
	f.addAmphora("amp-spare", "", models.RoleNone, models.AmphoraReady)
	w := f.worker(Config{EnableAntiAffinity: true})

	if err := w.FailoverAmphora(context.Background(), AmphoraParams{AmphoraID: "amp-spare"}); err != nil {
		t.Fatalf("FailoverAmphora() error = %v", err)
	}
	run := f.engine.Runs()[0]
	if run.flow != flows.FailoverAmphoraFlow(flows.RoleClassSpare) {
		t.Errorf("flow = %s", run.flow)
	}
	if run.store.Has(flows.ServerGroupID.Name()) {
		t.Errorf("server group must not be set for an amphora without load balancer")
	}
	if len(f.repo.writes()) != 0 {
		t.Errorf("status writes = %v, want none for a spare", f.repo.writes())
	}
}

func TestFailoverAmphoraFailureCompensates(t *testing.T) {
	f := newWorkerFixture()
	f.addLoadBalancer("lb-1", models.ProvisioningActive)
	f.addAmphora("amp-1", "lb-1", models.RoleMaster, models.AmphoraAllocated)
	cause := errors.New("compute quota exceeded")
	f.engine.ampErrs["amp-1"] = cause
	w := f.worker(Config{})

	err := w.FailoverAmphora(context.Background(), AmphoraParams{AmphoraID: "amp-1"})
	if !errors.Is(err, cause) {
		t.Fatalf("FailoverAmphora() error = %v, want %v", err, cause)
	}
	var ferr *FailoverError
	if !errors.As(err, &ferr) {
		t.Fatalf("error %T is not a FailoverError", err)
	}
	if ferr.CompensationErr != nil {
		t.Errorf("compensation error = %v, want nil", ferr.CompensationErr)
	}
	var flowErr *engine.FlowError
	if !errors.As(err, &flowErr) {
		t.Errorf("flow error not preserved in %v", err)
	}

	want := []statusWrite{{lbID: "lb-1", status: models.ProvisioningError}}
	if !reflect.DeepEqual(f.repo.writes(), want) {
		t.Errorf("status writes = %v, want %v", f.repo.writes(), want)
	}
}

func TestFailoverAmphoraCompensationFailure(t *testing.T) {
	f := newWorkerFixture()
	f.addLoadBalancer("lb-1", models.ProvisioningActive)
	f.addAmphora("amp-1", "lb-1", models.RoleMaster, models.AmphoraAllocated)
	cause := errors.New("compute quota exceeded")
	f.engine.ampErrs["amp-1"] = cause
	f.repo.statusErr = errors.New("database is locked")
	w := f.worker(Config{})

	err := w.FailoverAmphora(context.Background(), AmphoraParams{AmphoraID: "amp-1"})
	if !errors.Is(err, cause) {
		t.Fatalf("FailoverAmphora() error = %v, want the original failure", err)
	}
	if errors.Is(err, f.repo.statusErr) {
		t.Errorf("compensation error must not replace or wrap into the primary chain")
	}
	var ferr *FailoverError
	if !errors.As(err, &ferr) || ferr.CompensationErr == nil {
		t.Fatalf("compensation error not recorded: %v", err)
	}
}

func TestFailoverAmphoraWithoutLoadBalancerFails(t *testing.T) {
	f := newWorkerFixture()
	f.addAmphora("amp-spare", "", models.RoleNone, models.AmphoraReady)
	f.engine.ampErrs["amp-spare"] = errors.New("boom")
	w := f.worker(Config{})

	err := w.FailoverAmphora(context.Background(), AmphoraParams{AmphoraID: "amp-spare"})
	var ferr *FailoverError
	if !errors.As(err, &ferr) {
		t.Fatalf("FailoverAmphora() error = %v, want FailoverError", err)
	}
	if len(f.repo.writes()) != 0 {
		t.Errorf("status writes = %v, want none without a load balancer", f.repo.writes())
	}
}

func TestFailoverLoadBalancerOrder(t *testing.T) {
	f := newWorkerFixture()
	f.addLoadBalancer("lb-1", models.ProvisioningPendingUpdate)
	f.addAmphora("amp-a", "lb-1", models.RoleMaster, models.AmphoraAllocated)
	f.addAmphora("amp-b", "lb-1", models.RoleBackup, models.AmphoraAllocated)
	f.addAmphora("amp-c", "lb-1", models.RoleStandalone, models.AmphoraAllocated)
	f.addAmphora("amp-d", "lb-1", models.RoleBackup, models.AmphoraDeleted)
	f.addAmphora("amp-e", "lb-1", models.RoleBackup, models.AmphoraAllocated)
	w := f.worker(Config{})

	if err := w.FailoverLoadBalancer(context.Background(), LoadBalancerParams{LoadBalancerID: "lb-1"}); err != nil {
		t.Fatalf("FailoverLoadBalancer() error = %v", err)
	}

	if got, want := f.engine.failedAmphorae(), []string{"amp-b", "amp-e", "amp-a", "amp-c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("failover order = %v, want %v", got, want)
	}
	for _, r := range f.engine.Runs() {
		if p, _ := engine.Get(r.store, flows.BuildTypePriority); p != int(PriorityAdminFailover) {
			t.Errorf("priority = %d, want %d", p, PriorityAdminFailover)
		}
	}
	want := []statusWrite{{lbID: "lb-1", status: models.ProvisioningActive}}
	if !reflect.DeepEqual(f.repo.writes(), want) {
		t.Errorf("status writes = %v, want a single ACTIVE", f.repo.writes())
	}
}

func TestFailoverLoadBalancerStopsAtFirstFailure(t *testing.T) {
	f := newWorkerFixture()
	f.addLoadBalancer("lb-1", models.ProvisioningPendingUpdate)
	f.addAmphora("amp-a", "lb-1", models.RoleMaster, models.AmphoraAllocated)
	f.addAmphora("amp-b", "lb-1", models.RoleBackup, models.AmphoraAllocated)
	cause := errors.New("no valid host")
	f.engine.ampErrs["amp-b"] = cause
	w := f.worker(Config{})

	err := w.FailoverLoadBalancer(context.Background(), LoadBalancerParams{LoadBalancerID: "lb-1"})
	if !errors.Is(err, cause) {
		t.Fatalf("FailoverLoadBalancer() error = %v, want %v", err, cause)
	}
	var ferr *FailoverError
	if !errors.As(err, &ferr) || ferr.LoadBalancerID != "lb-1" {
		t.Errorf("error = %#v, want FailoverError for lb-1", err)
	}
	if got := f.engine.failedAmphorae(); !reflect.DeepEqual(got, []string{"amp-b"}) {
		t.Errorf("failed over = %v, want only amp-b", got)
	}
	want := []statusWrite{{lbID: "lb-1", status: models.ProvisioningError}}
	if !reflect.DeepEqual(f.repo.writes(), want) {
		t.Errorf("status writes = %v, want %v", f.repo.writes(), want)
	}
}

func TestFailoverLoadBalancerMissing(t *testing.T) {
	f := newWorkerFixture()
	w := f.worker(Config{})

	err := w.FailoverLoadBalancer(context.Background(), LoadBalancerParams{LoadBalancerID: "lb-x"})
	if !stores.IsNotFound(err) || !engine.IsNotFound(err) {
		t.Fatalf("FailoverLoadBalancer() error = %v, want not found", err)
	}
	if len(f.repo.writes()) != 0 {
		t.Errorf("status writes = %v, want none", f.repo.writes())
	}
}

func TestFailoverOrderKeepsRepositoryOrder(t *testing.T) {
	amps := []*models.Amphora{
		{ID: "1", Role: models.RoleMaster},
		{ID: "2", Role: models.RoleBackup, Status: models.AmphoraDeleted},
		{ID: "3", Role: models.RoleBackup},
		{ID: "4", Role: models.RoleNone},
	}
	var got []string
	for _, a := range failoverOrder(amps) {
		got = append(got, a.ID)
	}
	if want := []string{"3", "1", "4"}; !reflect.DeepEqual(got, want) {
		t.Errorf("failoverOrder() = %v, want %v", got, want)
	}
}

func TestFailoverErrorMessage(t *testing.T) {
	err := &FailoverError{
		LoadBalancerID:  "lb-1",
		AmphoraID:       "amp-1",
		Err:             errors.New("boom"),
		CompensationErr: errors.New("locked"),
	}
	want := "failover of amphora amp-1 failed: boom (marking load balancer lb-1 ERROR failed: locked)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
