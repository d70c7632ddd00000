package controller

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/stores"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// checkParams validates a parameter struct against its validate tags.
func checkParams(op string, params any) error {
	if err := validate.Struct(params); err != nil {
		return engine.NewPermanentError(fmt.Sprintf("invalid %s parameters", op), err).
			WithCode(engine.ErrCodeValidation).
			WithOperation(op)
	}
	return nil
}

// CreateAmphoraParams requests a spare amphora.
type CreateAmphoraParams struct {
	AvailabilityZone string `json:"availability_zone,omitempty" validate:"omitempty,max=255"`
}

// AmphoraParams names one amphora.
type AmphoraParams struct {
	AmphoraID string `json:"amphora_id" validate:"required"`
}

// LoadBalancerParams names one load balancer.
type LoadBalancerParams struct {
	LoadBalancerID string `json:"loadbalancer_id" validate:"required"`
}

// CreateLoadBalancerParams requests amphorae for a committed load balancer.
// Flavor and AvailabilityZone carry resolved metadata; when nil they are
// looked up from the load balancer's flavor and zone.
type CreateLoadBalancerParams struct {
	LoadBalancerID   string         `json:"loadbalancer_id" validate:"required"`
	Flavor           map[string]any `json:"flavor,omitempty"`
	AvailabilityZone map[string]any `json:"availability_zone,omitempty"`
}

// DeleteLoadBalancerParams names a load balancer to delete. Cascade also
// deletes its listeners and pools.
type DeleteLoadBalancerParams struct {
	LoadBalancerID string `json:"loadbalancer_id" validate:"required"`
	Cascade        bool   `json:"cascade"`
}

// UpdateLoadBalancerParams carries the fields to change on a load balancer.
type UpdateLoadBalancerParams struct {
	LoadBalancerID string        `json:"loadbalancer_id" validate:"required"`
	Updates        stores.Fields `json:"updates" validate:"required"`
}

// ListenerParams names one listener.
type ListenerParams struct {
	ListenerID string `json:"listener_id" validate:"required"`
}

// UpdateListenerParams carries the fields to change on a listener.
type UpdateListenerParams struct {
	ListenerID string        `json:"listener_id" validate:"required"`
	Updates    stores.Fields `json:"updates" validate:"required"`
}

// PoolParams names one pool.
type PoolParams struct {
	PoolID string `json:"pool_id" validate:"required"`
}

// UpdatePoolParams carries the fields to change on a pool.
type UpdatePoolParams struct {
	PoolID  string        `json:"pool_id" validate:"required"`
	Updates stores.Fields `json:"updates" validate:"required"`
}

// MemberParams names one member.
type MemberParams struct {
	MemberID string `json:"member_id" validate:"required"`
}

// UpdateMemberParams carries the fields to change on a member.
type UpdateMemberParams struct {
	MemberID string        `json:"member_id" validate:"required"`
	Updates  stores.Fields `json:"updates" validate:"required"`
}

// MemberDelta is one entry of the update set of a batch.
type MemberDelta struct {
	MemberID string        `json:"member_id" validate:"required"`
	Updates  stores.Fields `json:"updates"`
}

// BatchUpdateMembersParams reconciles a pool's members in one pass.
type BatchUpdateMembersParams struct {
	OldMemberIDs   []string      `json:"old_members" validate:"dive,required"`
	NewMemberIDs   []string      `json:"new_members" validate:"dive,required"`
	UpdatedMembers []MemberDelta `json:"updated_members" validate:"dive"`
}

// HealthMonitorParams names one health monitor.
type HealthMonitorParams struct {
	HealthMonitorID string `json:"healthmonitor_id" validate:"required"`
}

// UpdateHealthMonitorParams carries the fields to change on a health monitor.
type UpdateHealthMonitorParams struct {
	HealthMonitorID string        `json:"healthmonitor_id" validate:"required"`
	Updates         stores.Fields `json:"updates" validate:"required"`
}

// L7PolicyParams names one L7 policy.
type L7PolicyParams struct {
	L7PolicyID string `json:"l7policy_id" validate:"required"`
}

// UpdateL7PolicyParams carries the fields to change on an L7 policy.
type UpdateL7PolicyParams struct {
	L7PolicyID string        `json:"l7policy_id" validate:"required"`
	Updates    stores.Fields `json:"updates" validate:"required"`
}

// L7RuleParams names one L7 rule.
type L7RuleParams struct {
	L7RuleID string `json:"l7rule_id" validate:"required"`
}

// UpdateL7RuleParams carries the fields to change on an L7 rule.
type UpdateL7RuleParams struct {
	L7RuleID string        `json:"l7rule_id" validate:"required"`
	Updates  stores.Fields `json:"updates" validate:"required"`
}
