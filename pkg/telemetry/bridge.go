package telemetry

import (
	"context"

	"github.com/octane-lb/octane/pkg/engine"
)

// EngineEvents returns an engine.EventPublisher that records flow metrics,
// logs task progress and republishes flow-level events on t.Events.
func (t *Telemetry) EngineEvents() engine.EventPublisher {
	logger := t.Logger.NewComponentLogger("engine")

	return engine.EventPublisherFunc(func(_ context.Context, e *engine.Event) error {
		l := logger.WithFlow(e.Flow, e.RunID)
		if e.Task != "" {
			l = l.WithField("task", e.Task)
		}

		switch e.Type {
		case engine.EventTypeFlowStarted:
			l.Debug(e.Message)
			return t.Events.Publish(flowEvent(e, EventTypeFlowStarted))
		case engine.EventTypeFlowCompleted:
			t.Metrics.RecordFlowRun(e.Flow, "succeeded")
			l.Debug(e.Message)
			return t.Events.Publish(flowEvent(e, EventTypeFlowCompleted))
		case engine.EventTypeFlowFailed:
			t.Metrics.RecordFlowRun(e.Flow, "failed")
			l.Warn(e.Message)
			return t.Events.Publish(flowEvent(e, EventTypeFlowFailed))
		case engine.EventTypeTaskReverted:
			t.Metrics.RecordTaskRevert(e.Flow)
			l.Warn(e.Message)
			return t.Events.Publish(flowEvent(e, EventTypeTaskReverted))
		case engine.EventTypeTaskFailed, engine.EventTypeTaskRetrying:
			l.Warn(e.Message)
		default:
			l.Trace(e.Message)
		}
		return nil
	})
}

func flowEvent(e *engine.Event, eventType string) Event {
	event := Event{
		Type:      eventType,
		Timestamp: e.Timestamp,
		Source:    "engine",
		Flow:      e.Flow,
		RunID:     e.RunID,
		Message:   e.Message,
		Level:     e.Level,
	}
	if e.Task != "" {
		event.Data = map[string]interface{}{"task": e.Task}
	}
	return event
}
