package zones

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/projects"
)

// KeystoneConfig selects the identity endpoint and the credentials used to
// read projects. A Token is used as is; otherwise Username and Password are
// exchanged for one, scoped to ProjectID when set.
type KeystoneConfig struct {
	AuthURL    string
	Token      string
	Username   string
	Password   string
	DomainName string
	ProjectID  string
	Timeout    time.Duration
}

// KeystoneClient reads projects from the identity v3 API.
type KeystoneClient struct {
	identity *gophercloud.ServiceClient
}

var _ IdentityClient = (*KeystoneClient)(nil)

// NewKeystoneClient authenticates against cfg.AuthURL. With password
// credentials this issues a token request; with a token it does no I/O.
func NewKeystoneClient(ctx context.Context, cfg KeystoneConfig) (*KeystoneClient, error) {
	if cfg.Token == "" && (cfg.Username == "" || cfg.Password == "") {
		return nil, fmt.Errorf("identity credentials are required: a token or a username and password")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	provider, err := openstack.NewClient(cfg.AuthURL)
	if err != nil {
		return nil, fmt.Errorf("invalid identity auth url: %w", err)
	}
	provider.HTTPClient = http.Client{Timeout: timeout}

	if cfg.Token != "" {
		provider.SetToken(cfg.Token)
	} else {
		err := openstack.Authenticate(ctx, provider, gophercloud.AuthOptions{
			IdentityEndpoint: cfg.AuthURL,
			Username:         cfg.Username,
			Password:         cfg.Password,
			DomainName:       cfg.DomainName,
			TenantID:         cfg.ProjectID,
			AllowReauth:      true,
		})
		if err != nil {
			return nil, fmt.Errorf("identity authentication failed: %w", err)
		}
	}

	identity, err := openstack.NewIdentityV3(provider, gophercloud.EndpointOpts{})
	if err != nil {
		return nil, err
	}
	return &KeystoneClient{identity: identity}, nil
}

// GetProject fetches a project. String-valued extra attributes land in
// Project.Attributes next to id and name.
func (c *KeystoneClient) GetProject(ctx context.Context, projectID string) (*Project, error) {
	p, err := projects.Get(ctx, c.identity, projectID).Extract()
	if err != nil {
		return nil, fmt.Errorf("identity lookup of project %s failed: %w", projectID, err)
	}

	project := &Project{
		ID:         p.ID,
		Name:       p.Name,
		Attributes: map[string]string{"id": p.ID, "name": p.Name},
	}
	for k, v := range p.Extra {
		if s, ok := v.(string); ok {
			project.Attributes[k] = s
		}
	}
	return project, nil
}
