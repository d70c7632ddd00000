package flows

import (
	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/models"
	"github.com/octane-lb/octane/pkg/provider"
	"github.com/octane-lb/octane/pkg/stores"
)

// MemberUpdate pairs a member with the fields to change on it.
type MemberUpdate struct {
	Member provider.Member `json:"member"`
	Fields stores.Fields   `json:"fields"`
}

// Store keys shared between the controller and the flows.
var (
	LoadBalancerID       = engine.NewKey[string]("loadbalancer_id")
	LoadBalancer         = engine.NewKey[provider.LoadBalancer]("loadbalancer")
	Listeners            = engine.NewKey[[]provider.Listener]("listeners")
	Listener             = engine.NewKey[provider.Listener]("listener")
	Pools                = engine.NewKey[[]provider.Pool]("pools")
	PoolID               = engine.NewKey[string]("pool_id")
	Member               = engine.NewKey[provider.Member]("member")
	NewMembers           = engine.NewKey[[]provider.Member]("new_members")
	OldMembers           = engine.NewKey[[]provider.Member]("old_members")
	UpdatedMembers       = engine.NewKey[[]MemberUpdate]("updated_members")
	HealthMon            = engine.NewKey[provider.HealthMonitor]("health_mon")
	L7Policy             = engine.NewKey[provider.L7Policy]("l7policy")
	L7PolicyID           = engine.NewKey[string]("l7policy_id")
	L7Rule               = engine.NewKey[provider.L7Rule]("l7rule")
	UpdateDict           = engine.NewKey[stores.Fields]("update_dict")
	ProjectID            = engine.NewKey[string]("project_id")
	Flavor               = engine.NewKey[map[string]any]("flavor")
	AvailabilityZone     = engine.NewKey[map[string]any]("availability_zone")
	AvailabilityZoneName = engine.NewKey[string]("availability_zone_name")
	ServerGroupID        = engine.NewKey[string]("server_group_id")
	BuildTypePriority    = engine.NewKey[int]("build_type_priority")
	Topology             = engine.NewKey[models.Topology]("topology")
	FailedAmphora        = engine.NewKey[provider.Amphora]("failed_amphora")
	Amphora              = engine.NewKey[provider.Amphora]("amphora")
	AmphoraID            = engine.NewKey[string]("amphora_id")
)
