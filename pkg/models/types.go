// Package models defines the persisted entities managed by the Octane control plane.
package models

import "time"

// ProvisioningStatus is the control-plane lifecycle state of an entity.
type ProvisioningStatus string

const (
	ProvisioningActive        ProvisioningStatus = "ACTIVE"
	ProvisioningPendingCreate ProvisioningStatus = "PENDING_CREATE"
	ProvisioningPendingUpdate ProvisioningStatus = "PENDING_UPDATE"
	ProvisioningPendingDelete ProvisioningStatus = "PENDING_DELETE"
	ProvisioningDeleted       ProvisioningStatus = "DELETED"
	ProvisioningError         ProvisioningStatus = "ERROR"
)

// IsPending returns true for any of the PENDING_* states.
func (s ProvisioningStatus) IsPending() bool {
	switch s {
	case ProvisioningPendingCreate, ProvisioningPendingUpdate, ProvisioningPendingDelete:
		return true
	default:
		return false
	}
}

// OperatingStatus is the data-plane health of an entity.
type OperatingStatus string

const (
	OperatingOnline    OperatingStatus = "ONLINE"
	OperatingOffline   OperatingStatus = "OFFLINE"
	OperatingDegraded  OperatingStatus = "DEGRADED"
	OperatingError     OperatingStatus = "ERROR"
	OperatingNoMonitor OperatingStatus = "NO_MONITOR"
)

// AmphoraStatus is the lifecycle state of an amphora.
type AmphoraStatus string

const (
	AmphoraBooting       AmphoraStatus = "BOOTING"
	AmphoraAllocated     AmphoraStatus = "ALLOCATED"
	AmphoraReady         AmphoraStatus = "READY"
	AmphoraPendingCreate AmphoraStatus = "PENDING_CREATE"
	AmphoraPendingDelete AmphoraStatus = "PENDING_DELETE"
	AmphoraDeleted       AmphoraStatus = "DELETED"
	AmphoraError         AmphoraStatus = "ERROR"
)

// Role is the part an amphora plays for its load balancer.
// The empty role marks a spare amphora that is not attached to anything.
type Role string

const (
	RoleMaster     Role = "MASTER"
	RoleBackup     Role = "BACKUP"
	RoleStandalone Role = "STANDALONE"
	RoleNone       Role = ""
)

// Topology describes how many amphorae back a load balancer.
type Topology string

const (
	TopologySingle        Topology = "SINGLE"
	TopologyActiveStandby Topology = "ACTIVE_STANDBY"
)

// LoadBalancer is the top-level entity a tenant creates.
type LoadBalancer struct {
	ID                 string             `json:"id"`
	ProjectID          string             `json:"project_id"`
	Name               string             `json:"name"`
	Description        string             `json:"description,omitempty"`
	ProvisioningStatus ProvisioningStatus `json:"provisioning_status"`
	OperatingStatus    OperatingStatus    `json:"operating_status"`
	Topology           Topology           `json:"topology"`
	Enabled            bool               `json:"enabled"`
	VIPAddress         string             `json:"vip_address,omitempty"`
	VIPPortID          string             `json:"vip_port_id,omitempty"`
	VIPSubnetID        string             `json:"vip_subnet_id,omitempty"`
	FlavorID           *string            `json:"flavor_id,omitempty"`
	AvailabilityZone   *string            `json:"availability_zone,omitempty"`
	ServerGroupID      *string            `json:"server_group_id,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Amphora is a virtual appliance running the load-balancing data path.
type Amphora struct {
	ID               string        `json:"id"`
	LoadBalancerID   *string       `json:"load_balancer_id,omitempty"`
	ComputeID        string        `json:"compute_id,omitempty"`
	Status           AmphoraStatus `json:"status"`
	Role             Role          `json:"role,omitempty"`
	LBNetworkIP      string        `json:"lb_network_ip,omitempty"`
	VRRPIP           string        `json:"vrrp_ip,omitempty"`
	HAIP             string        `json:"ha_ip,omitempty"`
	VRRPPriority     int           `json:"vrrp_priority,omitempty"`
	CertExpiration   *time.Time    `json:"cert_expiration,omitempty"`
	CertBusy         bool          `json:"cert_busy"`
	AvailabilityZone *string       `json:"availability_zone,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// IsSpare reports whether the amphora is unattached.
func (a *Amphora) IsSpare() bool {
	return a.LoadBalancerID == nil || *a.LoadBalancerID == ""
}

// AmphoraHealth tracks heartbeats received from an amphora.
type AmphoraHealth struct {
	AmphoraID  string    `json:"amphora_id"`
	LastUpdate time.Time `json:"last_update"`
	Busy       bool      `json:"busy"`
}

// Listener is a protocol/port front end of a load balancer.
type Listener struct {
	ID                 string             `json:"id"`
	ProjectID          string             `json:"project_id"`
	LoadBalancerID     string             `json:"load_balancer_id"`
	Name               string             `json:"name"`
	Protocol           string             `json:"protocol"`
	ProtocolPort       int                `json:"protocol_port"`
	ConnectionLimit    int                `json:"connection_limit"`
	DefaultPoolID      *string            `json:"default_pool_id,omitempty"`
	ProvisioningStatus ProvisioningStatus `json:"provisioning_status"`
	OperatingStatus    OperatingStatus    `json:"operating_status"`
	Enabled            bool               `json:"enabled"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Pool is a group of members that receive traffic.
type Pool struct {
	ID                 string             `json:"id"`
	ProjectID          string             `json:"project_id"`
	LoadBalancerID     string             `json:"load_balancer_id"`
	Name               string             `json:"name"`
	Protocol           string             `json:"protocol"`
	LBAlgorithm        string             `json:"lb_algorithm"`
	ProvisioningStatus ProvisioningStatus `json:"provisioning_status"`
	OperatingStatus    OperatingStatus    `json:"operating_status"`
	Enabled            bool               `json:"enabled"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Member is a backend server in a pool.
type Member struct {
	ID                 string             `json:"id"`
	ProjectID          string             `json:"project_id"`
	PoolID             string             `json:"pool_id"`
	Address            string             `json:"address"`
	ProtocolPort       int                `json:"protocol_port"`
	Weight             int                `json:"weight"`
	SubnetID           string             `json:"subnet_id,omitempty"`
	Backup             bool               `json:"backup"`
	ProvisioningStatus ProvisioningStatus `json:"provisioning_status"`
	OperatingStatus    OperatingStatus    `json:"operating_status"`
	Enabled            bool               `json:"enabled"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// HealthMonitor probes the members of a pool.
type HealthMonitor struct {
	ID                 string             `json:"id"`
	ProjectID          string             `json:"project_id"`
	PoolID             string             `json:"pool_id"`
	Type               string             `json:"type"`
	Delay              int                `json:"delay"`
	Timeout            int                `json:"timeout"`
	MaxRetries         int                `json:"max_retries"`
	MaxRetriesDown     int                `json:"max_retries_down"`
	HTTPMethod         string             `json:"http_method,omitempty"`
	URLPath            string             `json:"url_path,omitempty"`
	ExpectedCodes      string             `json:"expected_codes,omitempty"`
	ProvisioningStatus ProvisioningStatus `json:"provisioning_status"`
	OperatingStatus    OperatingStatus    `json:"operating_status"`
	Enabled            bool               `json:"enabled"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// L7Policy routes or rejects requests arriving on a listener.
type L7Policy struct {
	ID                 string             `json:"id"`
	ProjectID          string             `json:"project_id"`
	ListenerID         string             `json:"listener_id"`
	Name               string             `json:"name"`
	Action             string             `json:"action"`
	Position           int                `json:"position"`
	RedirectPoolID     *string            `json:"redirect_pool_id,omitempty"`
	RedirectURL        string             `json:"redirect_url,omitempty"`
	ProvisioningStatus ProvisioningStatus `json:"provisioning_status"`
	OperatingStatus    OperatingStatus    `json:"operating_status"`
	Enabled            bool               `json:"enabled"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// L7Rule is a single match condition of an L7 policy.
type L7Rule struct {
	ID                 string             `json:"id"`
	ProjectID          string             `json:"project_id"`
	L7PolicyID         string             `json:"l7policy_id"`
	Type               string             `json:"type"`
	CompareType        string             `json:"compare_type"`
	Key                string             `json:"key,omitempty"`
	Value              string             `json:"value"`
	Invert             bool               `json:"invert"`
	ProvisioningStatus ProvisioningStatus `json:"provisioning_status"`
	OperatingStatus    OperatingStatus    `json:"operating_status"`
	Enabled            bool               `json:"enabled"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Flavor is a named set of provider capabilities.
type Flavor struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

// AvailabilityZone is a named set of placement attributes.
type AvailabilityZone struct {
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata"`
}
