package controller

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/flows"
	"github.com/octane-lb/octane/pkg/models"
	"github.com/octane-lb/octane/pkg/stores"
)

// recordingClock fires every wait immediately and remembers its length.
// With block set, waits never fire.
type recordingClock struct {
	mu    sync.Mutex
	waits []time.Duration
	block bool
	now   time.Time
}

func (c *recordingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *recordingClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	if !c.block {
		ch <- c.now
	}
	return ch
}

func (c *recordingClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	t := &firedTimer{ch: c.After(d)}
	if !c.block {
		go f()
	}
	return t
}

func (c *recordingClock) NewTimer(d time.Duration) clock.Timer {
	return &firedTimer{ch: c.After(d)}
}

func (c *recordingClock) At(t time.Time) <-chan time.Time {
	return c.After(t.Sub(c.Now()))
}

func (c *recordingClock) AtFunc(t time.Time, f func()) clock.Alarm {
	return &firedAlarm{ch: c.AfterFunc(t.Sub(c.Now()), f).Chan()}
}

func (c *recordingClock) NewAlarm(t time.Time) clock.Alarm {
	return &firedAlarm{ch: c.At(t)}
}

func (c *recordingClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

// firedTimer and firedAlarm ignore Reset and Stop.
type firedTimer struct {
	ch <-chan time.Time
}

func (t *firedTimer) Chan() <-chan time.Time   { return t.ch }
func (t *firedTimer) Reset(time.Duration) bool { return false }
func (t *firedTimer) Stop() bool               { return false }

type firedAlarm struct {
	ch <-chan time.Time
}

func (a *firedAlarm) Chan() <-chan time.Time { return a.ch }
func (a *firedAlarm) Reset(time.Time) bool   { return false }
func (a *firedAlarm) Stop() bool             { return false }

var _ clock.Clock = (*recordingClock)(nil)

func testPolicy(clk clock.Clock) RetryPolicy {
	p := DefaultRetryPolicy()
	p.Clock = clk
	return p
}

// fakeRepo is an in-memory Repository. Reads of an entity listed in
// missing fail with stores.ErrNotFound for the given number of calls.
type fakeRepo struct {
	mu sync.Mutex

	lbs       map[string]*models.LoadBalancer
	amps      map[string]*models.Amphora
	listeners map[string]*models.Listener
	pools     map[string]*models.Pool
	members   map[string]*models.Member
	monitors  map[string]*models.HealthMonitor
	policies  map[string]*models.L7Policy
	rules     map[string]*models.L7Rule

	missing map[string]int
	reads   map[string]int

	statusWrites  []statusWrite
	statusErr     error
	healthDeletes []string
}

type statusWrite struct {
	lbID   string
	status models.ProvisioningStatus
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		lbs:       map[string]*models.LoadBalancer{},
		amps:      map[string]*models.Amphora{},
		listeners: map[string]*models.Listener{},
		pools:     map[string]*models.Pool{},
		members:   map[string]*models.Member{},
		monitors:  map[string]*models.HealthMonitor{},
		policies:  map[string]*models.L7Policy{},
		rules:     map[string]*models.L7Rule{},
		missing:   map[string]int{},
		reads:     map[string]int{},
	}
}

func lookup[T any](r *fakeRepo, m map[string]*T, kind, id string) (*T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads[id]++
	if n := r.missing[id]; n != 0 {
		if n > 0 {
			r.missing[id] = n - 1
		}
		return nil, fmt.Errorf("%s %s: %w", kind, id, stores.ErrNotFound)
	}
	v, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", kind, id, stores.ErrNotFound)
	}
	cp := *v
	return &cp, nil
}

func (r *fakeRepo) readsOf(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads[id]
}

func (r *fakeRepo) GetLoadBalancer(_ context.Context, id string) (*models.LoadBalancer, error) {
	return lookup(r, r.lbs, "load balancer", id)
}

func (r *fakeRepo) UpdateLoadBalancerStatus(_ context.Context, id string, status models.ProvisioningStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusWrites = append(r.statusWrites, statusWrite{lbID: id, status: status})
	if r.statusErr != nil {
		return r.statusErr
	}
	if lb, ok := r.lbs[id]; ok {
		lb.ProvisioningStatus = status
	}
	return nil
}

func (r *fakeRepo) writes() []statusWrite {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]statusWrite(nil), r.statusWrites...)
}

func (r *fakeRepo) GetAmphora(_ context.Context, id string) (*models.Amphora, error) {
	return lookup(r, r.amps, "amphora", id)
}

func (r *fakeRepo) ListAmphoraeByLoadBalancer(_ context.Context, lbID string) ([]*models.Amphora, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Amphora
	for _, id := range sortedKeys(r.amps) {
		a := r.amps[id]
		if a.LoadBalancerID != nil && *a.LoadBalancerID == lbID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) DeleteAmphoraHealth(_ context.Context, amphoraID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthDeletes = append(r.healthDeletes, amphoraID)
	return 1, nil
}

func (r *fakeRepo) GetListener(_ context.Context, id string) (*models.Listener, error) {
	return lookup(r, r.listeners, "listener", id)
}

func (r *fakeRepo) ListListenersByLoadBalancer(_ context.Context, lbID string) ([]*models.Listener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Listener
	for _, id := range sortedKeys(r.listeners) {
		if l := r.listeners[id]; l.LoadBalancerID == lbID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListListenersByPool(_ context.Context, poolID string) ([]*models.Listener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Listener
	for _, id := range sortedKeys(r.listeners) {
		if l := r.listeners[id]; l.DefaultPoolID != nil && *l.DefaultPoolID == poolID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetPool(_ context.Context, id string) (*models.Pool, error) {
	return lookup(r, r.pools, "pool", id)
}

func (r *fakeRepo) ListPoolsByLoadBalancer(_ context.Context, lbID string) ([]*models.Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Pool
	for _, id := range sortedKeys(r.pools) {
		if p := r.pools[id]; p.LoadBalancerID == lbID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetMember(_ context.Context, id string) (*models.Member, error) {
	return lookup(r, r.members, "member", id)
}

func (r *fakeRepo) ListMembersByPool(_ context.Context, poolID string) ([]*models.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Member
	for _, id := range sortedKeys(r.members) {
		if m := r.members[id]; m.PoolID == poolID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetHealthMonitor(_ context.Context, id string) (*models.HealthMonitor, error) {
	return lookup(r, r.monitors, "health monitor", id)
}

func (r *fakeRepo) GetHealthMonitorByPool(_ context.Context, poolID string) (*models.HealthMonitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, hm := range r.monitors {
		if hm.PoolID == poolID {
			cp := *hm
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("health monitor of pool %s: %w", poolID, stores.ErrNotFound)
}

func (r *fakeRepo) GetL7Policy(_ context.Context, id string) (*models.L7Policy, error) {
	return lookup(r, r.policies, "l7policy", id)
}

func (r *fakeRepo) ListL7PoliciesByListener(_ context.Context, listenerID string) ([]*models.L7Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.L7Policy
	for _, id := range sortedKeys(r.policies) {
		if p := r.policies[id]; p.ListenerID == listenerID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetL7Rule(_ context.Context, id string) (*models.L7Rule, error) {
	return lookup(r, r.rules, "l7rule", id)
}

func (r *fakeRepo) ListL7RulesByPolicy(_ context.Context, policyID string) ([]*models.L7Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.L7Rule
	for _, id := range sortedKeys(r.rules) {
		if rule := r.rules[id]; rule.L7PolicyID == policyID {
			cp := *rule
			out = append(out, &cp)
		}
	}
	return out, nil
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// fakeMeta returns canned flavor and zone metadata.
type fakeMeta struct {
	mu      sync.Mutex
	flavors map[string]map[string]any
	zones   map[string]map[string]any
	calls   []string
}

func (m *fakeMeta) FlavorMetadata(_ context.Context, id string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "flavor:"+id)
	if md, ok := m.flavors[id]; ok {
		return md, nil
	}
	return nil, fmt.Errorf("flavor %s: %w", id, stores.ErrNotFound)
}

func (m *fakeMeta) AvailabilityZoneMetadata(_ context.Context, name string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "az:"+name)
	if md, ok := m.zones[name]; ok {
		return md, nil
	}
	return nil, fmt.Errorf("availability zone %s: %w", name, stores.ErrNotFound)
}

// run is one recorded engine call.
type run struct {
	flow  string
	store *engine.Store
}

// recordingEngine records flow runs. A run fails with the error registered
// for its flow, or for the failed amphora it carries.
type recordingEngine struct {
	mu        sync.Mutex
	runs      []run
	errs      map[string]error
	ampErrs   map[string]error
	amphoraID string
}

func (e *recordingEngine) Run(_ context.Context, flow string, store *engine.Store) (*engine.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs = append(e.runs, run{flow: flow, store: store.Clone()})
	if err := e.errs[flow]; err != nil {
		return nil, &engine.FlowError{Flow: flow, Task: "fake-task", Err: err}
	}
	if failed, ok := engine.Get(store, flows.FailedAmphora); ok {
		if err := e.ampErrs[failed.ID]; err != nil {
			return nil, &engine.FlowError{Flow: flow, Task: "fake-task", Err: err}
		}
	}
	out := store.Clone()
	if e.amphoraID != "" {
		engine.Put(out, flows.AmphoraID, e.amphoraID)
	}
	return out, nil
}

func (e *recordingEngine) Runs() []run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]run(nil), e.runs...)
}

// failedAmphorae lists the FailedAmphora IDs of the recorded runs in order.
func (e *recordingEngine) failedAmphorae() []string {
	var ids []string
	for _, r := range e.Runs() {
		if amp, ok := engine.Get(r.store, flows.FailedAmphora); ok {
			ids = append(ids, amp.ID)
		}
	}
	return ids
}

type workerFixture struct {
	repo   *fakeRepo
	meta   *fakeMeta
	engine *recordingEngine
	clock  *recordingClock
}

func newWorkerFixture() *workerFixture {
	return &workerFixture{
		repo: newFakeRepo(),
		meta: &fakeMeta{
			flavors: map[string]map[string]any{"flavor-1": {"compute_flavor": "m1.small"}},
			zones:   map[string]map[string]any{"az-1": {"compute_zone": "nova-1"}},
		},
		engine: &recordingEngine{errs: map[string]error{}, ampErrs: map[string]error{}},
		clock:  &recordingClock{},
	}
}

func (f *workerFixture) worker(cfg Config, opts ...Option) *Worker {
	cfg.Retry = testPolicy(f.clock)
	return NewWorker(f.repo, f.meta, f.engine, cfg, opts...)
}

func strPtr(s string) *string { return &s }

func (f *workerFixture) addLoadBalancer(id string, status models.ProvisioningStatus) *models.LoadBalancer {
	lb := &models.LoadBalancer{
		ID:                 id,
		ProjectID:          "project-1",
		ProvisioningStatus: status,
		Topology:           models.TopologyActiveStandby,
		Enabled:            true,
	}
	f.repo.lbs[id] = lb
	return lb
}

func (f *workerFixture) addAmphora(id, lbID string, role models.Role, status models.AmphoraStatus) *models.Amphora {
	amp := &models.Amphora{ID: id, Role: role, Status: status}
	if lbID != "" {
		amp.LoadBalancerID = strPtr(lbID)
	}
	f.repo.amps[id] = amp
	return amp
}

func (f *workerFixture) addPool(id, lbID string, status models.ProvisioningStatus) *models.Pool {
	p := &models.Pool{ID: id, LoadBalancerID: lbID, ProjectID: "project-1", ProvisioningStatus: status}
	f.repo.pools[id] = p
	return p
}

func (f *workerFixture) addListener(id, lbID, poolID string) *models.Listener {
	l := &models.Listener{ID: id, LoadBalancerID: lbID, ProjectID: "project-1", Protocol: "HTTP", ProtocolPort: 80}
	if poolID != "" {
		l.DefaultPoolID = strPtr(poolID)
	}
	f.repo.listeners[id] = l
	return l
}

func (f *workerFixture) addMember(id, poolID string, status models.ProvisioningStatus) *models.Member {
	m := &models.Member{ID: id, PoolID: poolID, ProjectID: "project-1", ProvisioningStatus: status}
	f.repo.members[id] = m
	return m
}
