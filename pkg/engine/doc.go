// Package engine runs named flows of reversible tasks for the Octane control plane.
//
// # Overview
//
// A Flow is a set of Tasks with ordering constraints between them. When a
// flow is run, the engine builds a DAG from those constraints, assigns every
// task an execution level, and executes the levels in order. Tasks that share
// a level run concurrently on a bounded worker pool.
//
// All tasks of a run share one Store, a concurrency-safe key/value bag whose
// keys carry their value type:
//
//	var LoadBalancerID = engine.NewKey[string]("loadbalancer_id")
//
//	store := engine.NewStore()
//	engine.Put(store, LoadBalancerID, "lb-1")
//	id, ok := engine.Get(store, LoadBalancerID)
//
// # Failure handling
//
// When a task fails, the engine waits for the rest of its level, then calls
// Revert on the failed task and on every task that already succeeded, newest
// first. The run returns
// a *FlowError naming the failed task. Errors returned by Revert are
// collected on the FlowError and never replace the original failure.
//
// Tasks may be marked retryable with a retry count, in which case errors
// classified as transient, throttled or conflict are retried with
// exponential backoff before the task is considered failed.
//
// # Flow catalog
//
// Flows are registered by name in a Registry as factories. The factory gets
// the initial store so the shape of a flow can depend on its inputs (for
// example, one delete task per listener of a load balancer).
//
//	registry := engine.NewRegistry()
//	registry.MustRegister("octane-create-listener", buildCreateListenerFlow)
//
//	eng := engine.NewEngine(registry, engine.WithMaxParallel(4))
//	result, err := eng.Run(ctx, "octane-create-listener", store)
//
// # Error Handling
//
// Errors are classified by EngineError:
//
//   - Transient: temporary failures that may succeed on retry
//   - Throttled: rate limiting, retried with longer backoff
//   - Conflict: state conflicts, retryable
//   - Permanent: not retryable (validation, not found)
package engine
