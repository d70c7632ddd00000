// Package provider flattens persisted entities, together with the relations
// a flow needs, into self-contained values that can be placed in a flow store.
package provider

import (
	"time"

	"github.com/octane-lb/octane/pkg/models"
)

// LoadBalancer is the provider view of a load balancer.
type LoadBalancer struct {
	LoadBalancerID   string          `json:"loadbalancer_id"`
	ProjectID        string          `json:"project_id"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	AdminStateUp     bool            `json:"admin_state_up"`
	Topology         models.Topology `json:"topology"`
	VIPAddress       string          `json:"vip_address,omitempty"`
	VIPPortID        string          `json:"vip_port_id,omitempty"`
	VIPSubnetID      string          `json:"vip_subnet_id,omitempty"`
	FlavorID         string          `json:"flavor_id,omitempty"`
	AvailabilityZone string          `json:"availability_zone,omitempty"`
}

// Listener is the provider view of a listener, including its L7 policies.
type Listener struct {
	ListenerID      string     `json:"listener_id"`
	LoadBalancerID  string     `json:"loadbalancer_id"`
	ProjectID       string     `json:"project_id"`
	Name            string     `json:"name"`
	Protocol        string     `json:"protocol"`
	ProtocolPort    int        `json:"protocol_port"`
	ConnectionLimit int        `json:"connection_limit"`
	DefaultPoolID   string     `json:"default_pool_id,omitempty"`
	AdminStateUp    bool       `json:"admin_state_up"`
	L7Policies      []L7Policy `json:"l7policies,omitempty"`
}

// Pool is the provider view of a pool, including members and health monitor.
type Pool struct {
	PoolID         string         `json:"pool_id"`
	LoadBalancerID string         `json:"loadbalancer_id"`
	ProjectID      string         `json:"project_id"`
	Name           string         `json:"name"`
	Protocol       string         `json:"protocol"`
	LBAlgorithm    string         `json:"lb_algorithm"`
	AdminStateUp   bool           `json:"admin_state_up"`
	Members        []Member       `json:"members,omitempty"`
	HealthMonitor  *HealthMonitor `json:"healthmonitor,omitempty"`
}

// Member is the provider view of a pool member.
type Member struct {
	MemberID     string `json:"member_id"`
	PoolID       string `json:"pool_id"`
	ProjectID    string `json:"project_id"`
	Address      string `json:"address"`
	ProtocolPort int    `json:"protocol_port"`
	Weight       int    `json:"weight"`
	SubnetID     string `json:"subnet_id,omitempty"`
	Backup       bool   `json:"backup"`
	AdminStateUp bool   `json:"admin_state_up"`
}

// HealthMonitor is the provider view of a health monitor.
type HealthMonitor struct {
	HealthMonitorID string `json:"healthmonitor_id"`
	PoolID          string `json:"pool_id"`
	ProjectID       string `json:"project_id"`
	Type            string `json:"type"`
	Delay           int    `json:"delay"`
	Timeout         int    `json:"timeout"`
	MaxRetries      int    `json:"max_retries"`
	MaxRetriesDown  int    `json:"max_retries_down"`
	HTTPMethod      string `json:"http_method,omitempty"`
	URLPath         string `json:"url_path,omitempty"`
	ExpectedCodes   string `json:"expected_codes,omitempty"`
	AdminStateUp    bool   `json:"admin_state_up"`
}

// L7Policy is the provider view of an L7 policy, including its rules.
type L7Policy struct {
	L7PolicyID     string   `json:"l7policy_id"`
	ListenerID     string   `json:"listener_id"`
	ProjectID      string   `json:"project_id"`
	Name           string   `json:"name"`
	Action         string   `json:"action"`
	Position       int      `json:"position"`
	RedirectPoolID string   `json:"redirect_pool_id,omitempty"`
	RedirectURL    string   `json:"redirect_url,omitempty"`
	AdminStateUp   bool     `json:"admin_state_up"`
	Rules          []L7Rule `json:"rules,omitempty"`
}

// L7Rule is the provider view of an L7 rule.
type L7Rule struct {
	L7RuleID     string `json:"l7rule_id"`
	L7PolicyID   string `json:"l7policy_id"`
	ProjectID    string `json:"project_id"`
	Type         string `json:"type"`
	CompareType  string `json:"compare_type"`
	Key          string `json:"key,omitempty"`
	Value        string `json:"value"`
	Invert       bool   `json:"invert"`
	AdminStateUp bool   `json:"admin_state_up"`
}

// Amphora is the flattened view of an amphora passed to flows.
type Amphora struct {
	ID               string               `json:"id"`
	LoadBalancerID   string               `json:"load_balancer_id,omitempty"`
	ComputeID        string               `json:"compute_id,omitempty"`
	Status           models.AmphoraStatus `json:"status"`
	Role             models.Role          `json:"role,omitempty"`
	LBNetworkIP      string               `json:"lb_network_ip,omitempty"`
	VRRPIP           string               `json:"vrrp_ip,omitempty"`
	HAIP             string               `json:"ha_ip,omitempty"`
	VRRPPriority     int                  `json:"vrrp_priority,omitempty"`
	CertExpiration   *time.Time           `json:"cert_expiration,omitempty"`
	AvailabilityZone string               `json:"availability_zone,omitempty"`
}
