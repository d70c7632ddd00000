package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// node is a task placed in a flow with its ordering constraints.
type node struct {
	task     Task
	requires []string
	retries  int
	timeout  time.Duration
	order    int
}

// NodeOption configures how a task is placed in a flow.
type NodeOption func(*node)

// After makes the task depend on the named tasks instead of the current tail
// of the flow. After() with no names makes the task a root.
func After(names ...string) NodeOption {
	return func(n *node) {
		n.requires = append([]string{}, names...)
	}
}

// Retries allows the task to be retried up to n times on retryable errors.
func Retries(n int) NodeOption {
	return func(n2 *node) {
		n2.retries = n
	}
}

// Timeout bounds a single attempt of the task.
func Timeout(d time.Duration) NodeOption {
	return func(n *node) {
		n.timeout = d
	}
}

// Flow is a named set of tasks with ordering constraints.
//
// Tasks added with Add run after everything at the current tail of the flow,
// so a sequence of Add calls is linear. Parallel adds tasks that share the
// same predecessors and become the new tail together.
type Flow struct {
	name  string
	nodes []*node
	index map[string]*node
	tail  []string
	err   error
}

// NewFlow creates an empty flow.
func NewFlow(name string) *Flow {
	return &Flow{
		name:  name,
		index: make(map[string]*node),
	}
}

// Name returns the flow name.
func (f *Flow) Name() string {
	return f.name
}

// Add appends a task to the flow.
func (f *Flow) Add(task Task, opts ...NodeOption) *Flow {
	n := f.place(task, opts)
	if n != nil {
		f.tail = []string{n.task.Name()}
	}
	return f
}

// Parallel appends tasks that all depend on the current tail and may run
// concurrently with each other.
func (f *Flow) Parallel(tasks ...Task) *Flow {
	if len(tasks) == 0 {
		return f
	}
	tail := make([]string, 0, len(tasks))
	for _, task := range tasks {
		if n := f.place(task, nil); n != nil {
			tail = append(tail, n.task.Name())
		}
	}
	f.tail = tail
	return f
}

func (f *Flow) place(task Task, opts []NodeOption) *node {
	if f.err != nil {
		return nil
	}
	if task == nil || task.Name() == "" {
		f.err = NewPermanentError(fmt.Sprintf("flow %s: task has empty name", f.name), nil).
			WithCode(ErrCodeValidation)
		return nil
	}
	if _, exists := f.index[task.Name()]; exists {
		f.err = NewPermanentError(fmt.Sprintf("flow %s: duplicate task %s", f.name, task.Name()), nil).
			WithCode(ErrCodeValidation)
		return nil
	}

	n := &node{
		task:     task,
		requires: append([]string{}, f.tail...),
		order:    len(f.nodes),
	}
	for _, opt := range opts {
		opt(n)
	}

	f.nodes = append(f.nodes, n)
	f.index[task.Name()] = n
	return n
}

// Tasks returns the task names in insertion order.
func (f *Flow) Tasks() []string {
	names := make([]string, len(f.nodes))
	for i, n := range f.nodes {
		names[i] = n.task.Name()
	}
	return names
}

// Err returns the first error recorded while building the flow.
func (f *Flow) Err() error {
	return f.err
}

// FlowFactory builds a flow for a run. The store holds the run's inputs.
type FlowFactory func(store *Store) (*Flow, error)

// Registry maps flow names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FlowFactory
}

// NewRegistry creates an empty flow registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]FlowFactory)}
}

// Register adds a flow factory under name.
func (r *Registry) Register(name string, factory FlowFactory) error {
	if name == "" || factory == nil {
		return NewPermanentError("flow name and factory are required", nil).
			WithCode(ErrCodeValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return NewPermanentError(fmt.Sprintf("flow %s already registered", name), nil).
			WithCode(ErrCodeAlreadyExists)
	}
	r.factories[name] = factory
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, factory FlowFactory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Has reports whether a flow is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered flow names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build instantiates the named flow for the given store.
func (r *Registry) Build(name string, store *Store) (*Flow, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, NewPermanentError(fmt.Sprintf("unknown flow %s", name), nil).
			WithCode(ErrCodeUnknownFlow)
	}

	flow, err := factory(store)
	if err != nil {
		return nil, fmt.Errorf("failed to build flow %s: %w", name, err)
	}
	if flow.Err() != nil {
		return nil, flow.Err()
	}
	return flow, nil
}
