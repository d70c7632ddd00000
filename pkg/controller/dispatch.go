package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/octane-lb/octane/pkg/engine"
)

// handler decodes a payload and calls one Worker method.
type handler func(ctx context.Context, w *Worker, payload json.RawMessage) error

// bind adapts a Worker method taking typed parameters to a handler.
func bind[P any](fn func(*Worker, context.Context, P) error) handler {
	return func(ctx context.Context, w *Worker, payload json.RawMessage) error {
		var p P
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &p); err != nil {
				return engine.NewPermanentError("failed to decode payload", err).
					WithCode(engine.ErrCodeValidation)
			}
		}
		return fn(w, ctx, p)
	}
}

var operations = map[string]handler{
	"create_amphora": bind(func(w *Worker, ctx context.Context, p CreateAmphoraParams) error {
		_, err := w.CreateAmphora(ctx, p)
		return err
	}),
	"delete_amphora":              bind((*Worker).DeleteAmphora),
	"amphora_cert_rotation":       bind((*Worker).AmphoraCertRotation),
	"update_amphora_agent_config": bind((*Worker).UpdateAmphoraAgentConfig),

	"create_load_balancer": bind((*Worker).CreateLoadBalancer),
	"update_load_balancer": bind((*Worker).UpdateLoadBalancer),
	"delete_load_balancer": bind((*Worker).DeleteLoadBalancer),

	"create_listener": bind((*Worker).CreateListener),
	"update_listener": bind((*Worker).UpdateListener),
	"delete_listener": bind((*Worker).DeleteListener),

	"create_pool": bind((*Worker).CreatePool),
	"update_pool": bind((*Worker).UpdatePool),
	"delete_pool": bind((*Worker).DeletePool),

	"create_member":        bind((*Worker).CreateMember),
	"update_member":        bind((*Worker).UpdateMember),
	"delete_member":        bind((*Worker).DeleteMember),
	"batch_update_members": bind((*Worker).BatchUpdateMembers),

	"create_health_monitor": bind((*Worker).CreateHealthMonitor),
	"update_health_monitor": bind((*Worker).UpdateHealthMonitor),
	"delete_health_monitor": bind((*Worker).DeleteHealthMonitor),

	"create_l7policy": bind((*Worker).CreateL7Policy),
	"update_l7policy": bind((*Worker).UpdateL7Policy),
	"delete_l7policy": bind((*Worker).DeleteL7Policy),

	"create_l7rule": bind((*Worker).CreateL7Rule),
	"update_l7rule": bind((*Worker).UpdateL7Rule),
	"delete_l7rule": bind((*Worker).DeleteL7Rule),

	"failover_amphora":      bind((*Worker).FailoverAmphora),
	"failover_loadbalancer": bind((*Worker).FailoverLoadBalancer),
}

// Operations lists the operation names accepted by Dispatch.
func Operations() []string {
	names := make([]string, 0, len(operations))
	for name := range operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch decodes payload into the parameters of op and runs it.
func (w *Worker) Dispatch(ctx context.Context, op string, payload json.RawMessage) error {
	h, ok := operations[op]
	if !ok {
		return engine.NewPermanentError(fmt.Sprintf("unknown operation %q", op), nil).
			WithCode(engine.ErrCodeValidation).
			WithOperation(op)
	}
	return h(ctx, w, payload)
}
