package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/octane-lb/octane/pkg/models"
	"github.com/octane-lb/octane/pkg/stores"
)

// Reader is the subset of the entity store needed to resolve relations.
type Reader interface {
	ListL7PoliciesByListener(ctx context.Context, listenerID string) ([]*models.L7Policy, error)
	ListL7RulesByPolicy(ctx context.Context, policyID string) ([]*models.L7Rule, error)
	ListMembersByPool(ctx context.Context, poolID string) ([]*models.Member, error)
	GetHealthMonitorByPool(ctx context.Context, poolID string) (*models.HealthMonitor, error)
}

// Translator converts entities into provider values, loading the child
// collections each provider value embeds.
type Translator struct {
	repo Reader
}

// NewTranslator creates a translator backed by repo.
func NewTranslator(repo Reader) *Translator {
	return &Translator{repo: repo}
}

// LoadBalancer converts a load balancer.
func (t *Translator) LoadBalancer(lb *models.LoadBalancer) LoadBalancer {
	return LoadBalancer{
		LoadBalancerID:   lb.ID,
		ProjectID:        lb.ProjectID,
		Name:             lb.Name,
		Description:      lb.Description,
		AdminStateUp:     lb.Enabled,
		Topology:         lb.Topology,
		VIPAddress:       lb.VIPAddress,
		VIPPortID:        lb.VIPPortID,
		VIPSubnetID:      lb.VIPSubnetID,
		FlavorID:         deref(lb.FlavorID),
		AvailabilityZone: deref(lb.AvailabilityZone),
	}
}

// Listener converts a listener and its L7 policies.
func (t *Translator) Listener(ctx context.Context, l *models.Listener) (Listener, error) {
	out := Listener{
		ListenerID:      l.ID,
		LoadBalancerID:  l.LoadBalancerID,
		ProjectID:       l.ProjectID,
		Name:            l.Name,
		Protocol:        l.Protocol,
		ProtocolPort:    l.ProtocolPort,
		ConnectionLimit: l.ConnectionLimit,
		DefaultPoolID:   deref(l.DefaultPoolID),
		AdminStateUp:    l.Enabled,
	}

	policies, err := t.repo.ListL7PoliciesByListener(ctx, l.ID)
	if err != nil {
		return Listener{}, fmt.Errorf("failed to load l7 policies of listener %s: %w", l.ID, err)
	}
	for _, p := range policies {
		pp, err := t.L7Policy(ctx, p)
		if err != nil {
			return Listener{}, err
		}
		out.L7Policies = append(out.L7Policies, pp)
	}
	return out, nil
}

// Listeners converts a list of listeners, keeping order.
func (t *Translator) Listeners(ctx context.Context, ls []*models.Listener) ([]Listener, error) {
	out := make([]Listener, 0, len(ls))
	for _, l := range ls {
		pl, err := t.Listener(ctx, l)
		if err != nil {
			return nil, err
		}
		out = append(out, pl)
	}
	return out, nil
}

// Pool converts a pool, its members and its health monitor if any.
func (t *Translator) Pool(ctx context.Context, p *models.Pool) (Pool, error) {
	out := Pool{
		PoolID:         p.ID,
		LoadBalancerID: p.LoadBalancerID,
		ProjectID:      p.ProjectID,
		Name:           p.Name,
		Protocol:       p.Protocol,
		LBAlgorithm:    p.LBAlgorithm,
		AdminStateUp:   p.Enabled,
	}

	members, err := t.repo.ListMembersByPool(ctx, p.ID)
	if err != nil {
		return Pool{}, fmt.Errorf("failed to load members of pool %s: %w", p.ID, err)
	}
	for _, m := range members {
		out.Members = append(out.Members, t.Member(m))
	}

	hm, err := t.repo.GetHealthMonitorByPool(ctx, p.ID)
	switch {
	case err == nil:
		phm := t.HealthMonitor(hm)
		out.HealthMonitor = &phm
	case !errors.Is(err, stores.ErrNotFound):
		return Pool{}, fmt.Errorf("failed to load health monitor of pool %s: %w", p.ID, err)
	}

	return out, nil
}

// Pools converts a list of pools, keeping order.
func (t *Translator) Pools(ctx context.Context, ps []*models.Pool) ([]Pool, error) {
	out := make([]Pool, 0, len(ps))
	for _, p := range ps {
		pp, err := t.Pool(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, pp)
	}
	return out, nil
}

// Member converts a member.
func (t *Translator) Member(m *models.Member) Member {
	return Member{
		MemberID:     m.ID,
		PoolID:       m.PoolID,
		ProjectID:    m.ProjectID,
		Address:      m.Address,
		ProtocolPort: m.ProtocolPort,
		Weight:       m.Weight,
		SubnetID:     m.SubnetID,
		Backup:       m.Backup,
		AdminStateUp: m.Enabled,
	}
}

// HealthMonitor converts a health monitor.
func (t *Translator) HealthMonitor(hm *models.HealthMonitor) HealthMonitor {
	return HealthMonitor{
		HealthMonitorID: hm.ID,
		PoolID:          hm.PoolID,
		ProjectID:       hm.ProjectID,
		Type:            hm.Type,
		Delay:           hm.Delay,
		Timeout:         hm.Timeout,
		MaxRetries:      hm.MaxRetries,
		MaxRetriesDown:  hm.MaxRetriesDown,
		HTTPMethod:      hm.HTTPMethod,
		URLPath:         hm.URLPath,
		ExpectedCodes:   hm.ExpectedCodes,
		AdminStateUp:    hm.Enabled,
	}
}

// L7Policy converts an L7 policy and its rules.
func (t *Translator) L7Policy(ctx context.Context, p *models.L7Policy) (L7Policy, error) {
	out := L7Policy{
		L7PolicyID:     p.ID,
		ListenerID:     p.ListenerID,
		ProjectID:      p.ProjectID,
		Name:           p.Name,
		Action:         p.Action,
		Position:       p.Position,
		RedirectPoolID: deref(p.RedirectPoolID),
		RedirectURL:    p.RedirectURL,
		AdminStateUp:   p.Enabled,
	}

	rules, err := t.repo.ListL7RulesByPolicy(ctx, p.ID)
	if err != nil {
		return L7Policy{}, fmt.Errorf("failed to load rules of l7 policy %s: %w", p.ID, err)
	}
	for _, r := range rules {
		out.Rules = append(out.Rules, t.L7Rule(r))
	}
	return out, nil
}

// L7Rule converts an L7 rule.
func (t *Translator) L7Rule(r *models.L7Rule) L7Rule {
	return L7Rule{
		L7RuleID:     r.ID,
		L7PolicyID:   r.L7PolicyID,
		ProjectID:    r.ProjectID,
		Type:         r.Type,
		CompareType:  r.CompareType,
		Key:          r.Key,
		Value:        r.Value,
		Invert:       r.Invert,
		AdminStateUp: r.Enabled,
	}
}

// Amphora converts an amphora.
func (t *Translator) Amphora(a *models.Amphora) Amphora {
	return Amphora{
		ID:               a.ID,
		LoadBalancerID:   deref(a.LoadBalancerID),
		ComputeID:        a.ComputeID,
		Status:           a.Status,
		Role:             a.Role,
		LBNetworkIP:      a.LBNetworkIP,
		VRRPIP:           a.VRRPIP,
		HAIP:             a.HAIP,
		VRRPPriority:     a.VRRPPriority,
		CertExpiration:   a.CertExpiration,
		AvailabilityZone: deref(a.AvailabilityZone),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
