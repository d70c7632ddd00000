package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a controller lifecycle event. Events are delivered to in-process
// subscribers; the queue package forwards them to the events topic.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`

	// Operation and EntityID are set for orchestrator operation events.
	Operation string `json:"operation,omitempty"`
	EntityID  string `json:"entity_id,omitempty"`

	LoadBalancerID string `json:"load_balancer_id,omitempty"`
	AmphoraID      string `json:"amphora_id,omitempty"`

	// Flow and RunID identify an engine run.
	Flow  string `json:"flow,omitempty"`
	RunID string `json:"run_id,omitempty"`

	Message string                 `json:"message"`
	Level   string                 `json:"level"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeOperationCompleted   = "operation.completed"
	EventTypeOperationFailed      = "operation.failed"
	EventTypeFlowStarted          = "flow.started"
	EventTypeFlowCompleted        = "flow.completed"
	EventTypeFlowFailed           = "flow.failed"
	EventTypeTaskReverted         = "task.reverted"
	EventTypeFailoverCompensated  = "failover.compensated"
	EventTypeConvergenceExhausted = "convergence.exhausted"
	EventTypeSpareCreated         = "amphora.spare_created"
)

// Event levels, lowest first.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var levelRank = map[string]int{EventLevelInfo: 0, EventLevelWarning: 1, EventLevelError: 2}

var (
	errPublisherStopped = errors.New("event publisher stopped")
	errBufferFull       = errors.New("event buffer full, event dropped")
)

// EventSubscriber handles one event. Subscribers run on their own goroutine.
type EventSubscriber func(event Event)

// EventFilter reports whether a subscriber wants an event.
type EventFilter func(event Event) bool

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// EventPublisher fans events out to subscribers. With EnableAsync events go
// through a buffer and are delivered in batches; otherwise Publish delivers
// directly. A disabled publisher drops everything.
type EventPublisher struct {
	cfg  EventsConfig
	subs []subscription
	mu   sync.RWMutex

	buffer chan Event
	stop   context.CancelFunc
	done   chan struct{}
	ctx    context.Context
}

// NewEventPublisher creates a publisher and, for async delivery, starts its
// batching loop.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{cfg: cfg}
	if !cfg.Enabled {
		return ep, nil
	}
	ep.ctx, ep.stop = context.WithCancel(context.Background())
	ep.done = make(chan struct{})
	if !cfg.EnableAsync {
		close(ep.done)
		return ep, nil
	}
	ep.buffer = make(chan Event, cfg.BufferSize)
	go ep.loop()
	return ep, nil
}

// Publish stamps the event with an ID and timestamp when missing and hands
// it to the subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.cfg.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if !ep.cfg.EnableAsync {
		ep.deliver(event)
		return nil
	}
	select {
	case <-ep.ctx.Done():
		return errPublisherStopped
	default:
	}
	select {
	case ep.buffer <- event:
		return nil
	default:
		return errBufferFull
	}
}

// Subscribe registers fn for the events filter accepts. A nil filter accepts
// every event.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subs = append(ep.subs, subscription{fn: fn, filter: filter})
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, s := range ep.subs {
		if s.filter == nil || s.filter(event) {
			go s.fn(event)
		}
	}
}

// loop delivers a batch once MaxBatchSize events are buffered or
// FlushInterval passes. On shutdown it drains the buffer first.
func (ep *EventPublisher) loop() {
	defer close(ep.done)

	size := max(ep.cfg.MaxBatchSize, 1)
	batch := make([]Event, 0, size)
	flush := func() {
		for _, e := range batch {
			ep.deliver(e)
		}
		batch = batch[:0]
	}

	var tick <-chan time.Time
	if ep.cfg.FlushInterval > 0 {
		t := time.NewTicker(ep.cfg.FlushInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case e := <-ep.buffer:
			if batch = append(batch, e); len(batch) >= size {
				flush()
			}
		case <-tick:
			flush()
		case <-ep.ctx.Done():
			for {
				select {
				case e := <-ep.buffer:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Shutdown stops the batching loop and waits for buffered events to be
// handed to subscribers.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.cfg.Enabled {
		return nil
	}
	ep.stop()
	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

// PublishOperationCompleted publishes operation.completed with the duration
// in seconds.
func (ep *EventPublisher) PublishOperationCompleted(operation, entityID string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:      EventTypeOperationCompleted,
		Source:    "controller",
		Operation: operation,
		EntityID:  entityID,
		Message:   fmt.Sprintf("%s completed for %s", operation, entityID),
		Level:     EventLevelInfo,
		Data:      map[string]interface{}{"duration": duration.Seconds()},
	})
}

// PublishOperationFailed publishes operation.failed.
func (ep *EventPublisher) PublishOperationFailed(operation, entityID, reason string) error {
	return ep.Publish(Event{
		Type:      EventTypeOperationFailed,
		Source:    "controller",
		Operation: operation,
		EntityID:  entityID,
		Message:   fmt.Sprintf("%s failed for %s: %s", operation, entityID, reason),
		Level:     EventLevelError,
		Data:      map[string]interface{}{"reason": reason},
	})
}

// PublishFailoverCompensated publishes the ERROR write that follows a failed
// failover. compensationErr is the error of that write, if any.
func (ep *EventPublisher) PublishFailoverCompensated(lbID, amphoraID string, cause, compensationErr error) error {
	event := Event{
		Type:           EventTypeFailoverCompensated,
		Source:         "controller",
		LoadBalancerID: lbID,
		AmphoraID:      amphoraID,
		Message:        fmt.Sprintf("Load balancer %s marked ERROR after failed failover", lbID),
		Level:          EventLevelError,
		Data:           map[string]interface{}{"cause": ""},
	}
	if cause != nil {
		event.Data["cause"] = cause.Error()
	}
	if compensationErr != nil {
		event.Message = fmt.Sprintf("Load balancer %s could not be marked ERROR after failed failover", lbID)
		event.Data["compensation_error"] = compensationErr.Error()
	}
	return ep.Publish(event)
}

// PublishConvergenceExhausted publishes a wait for PENDING_UPDATE that ran
// out of attempts.
func (ep *EventPublisher) PublishConvergenceExhausted(entity, entityID string, attempts int) error {
	return ep.Publish(Event{
		Type:     EventTypeConvergenceExhausted,
		Source:   "controller",
		EntityID: entityID,
		Message:  fmt.Sprintf("%s %s did not reach PENDING_UPDATE after %d attempts", entity, entityID, attempts),
		Level:    EventLevelWarning,
		Data:     map[string]interface{}{"entity": entity, "attempts": attempts},
	})
}

// PublishSpareCreated publishes the creation of a spare amphora.
func (ep *EventPublisher) PublishSpareCreated(amphoraID, zone string) error {
	return ep.Publish(Event{
		Type:      EventTypeSpareCreated,
		Source:    "housekeeping",
		AmphoraID: amphoraID,
		Message:   fmt.Sprintf("Spare amphora %s created", amphoraID),
		Level:     EventLevelInfo,
		Data:      map[string]interface{}{"availability_zone": zone},
	})
}

// FilterByLevel accepts events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	floor := levelRank[minLevel]
	return func(event Event) bool { return levelRank[event.Level] >= floor }
}

// FilterByType accepts events of the given types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(event Event) bool {
		_, ok := set[event.Type]
		return ok
	}
}

// FilterByLoadBalancerID accepts events for one load balancer.
func FilterByLoadBalancerID(lbID string) EventFilter {
	return func(event Event) bool { return event.LoadBalancerID == lbID }
}
