package flows

import (
	"strings"

	"github.com/octane-lb/octane/pkg/models"
)

// Flow names.
const (
	CreateAmphora            = "octane-create-amphora"
	DeleteAmphora            = "octane-delete-amphora"
	CertRotateAmphora        = "octane-cert-rotate-amphora"
	UpdateAmphoraAgentConfig = "octane-update-amphora-agent-config"

	CreateLoadBalancerSingle        = "octane-create-load-balancer-single"
	CreateLoadBalancerActiveStandby = "octane-create-load-balancer-active_standby"
	DeleteLoadBalancer              = "octane-delete-load-balancer"
	DeleteLoadBalancerCascade       = "octane-delete-load-balancer-cascade"
	UpdateLoadBalancer              = "octane-update-load-balancer"

	CreateListener = "octane-create-listener"
	UpdateListener = "octane-update-listener"
	DeleteListener = "octane-delete-listener"

	CreatePool = "octane-create-pool"
	UpdatePool = "octane-update-pool"
	DeletePool = "octane-delete-pool"

	CreateMember       = "octane-create-member"
	UpdateMember       = "octane-update-member"
	DeleteMember       = "octane-delete-member"
	BatchUpdateMembers = "octane-batch-update-members"

	CreateHealthMonitor = "octane-create-health-monitor"
	UpdateHealthMonitor = "octane-update-health-monitor"
	DeleteHealthMonitor = "octane-delete-health-monitor"

	CreateL7Policy = "octane-create-l7policy"
	UpdateL7Policy = "octane-update-l7policy"
	DeleteL7Policy = "octane-delete-l7policy"

	CreateL7Rule = "octane-create-l7rule"
	UpdateL7Rule = "octane-update-l7rule"
	DeleteL7Rule = "octane-delete-l7rule"
)

// RoleClass groups amphora roles that fail over the same way.
type RoleClass string

const (
	RoleClassMasterOrBackup RoleClass = "master_or_backup"
	RoleClassStandalone     RoleClass = "standalone"
	RoleClassSpare          RoleClass = "spare"
	RoleClassUndefined      RoleClass = "undefined"
)

// RoleClasses lists every failover variant.
var RoleClasses = []RoleClass{
	RoleClassMasterOrBackup,
	RoleClassStandalone,
	RoleClassSpare,
	RoleClassUndefined,
}

// ClassifyRole maps an amphora role to its failover class.
func ClassifyRole(role models.Role) RoleClass {
	switch role {
	case models.RoleMaster, models.RoleBackup:
		return RoleClassMasterOrBackup
	case models.RoleStandalone:
		return RoleClassStandalone
	case models.RoleNone:
		return RoleClassSpare
	default:
		return RoleClassUndefined
	}
}

// FailoverAmphoraFlow returns the failover flow name for a role class.
func FailoverAmphoraFlow(class RoleClass) string {
	return "octane-failover-amphora-" + string(class)
}

// CreateLoadBalancerFlow returns the create flow name for a topology.
func CreateLoadBalancerFlow(topology models.Topology) string {
	return "octane-create-load-balancer-" + strings.ToLower(string(topology))
}
