// Package upstream speaks a provider's admin protocol: listing deployments,
// resource groups, and building the running-model map the Model Registry
// resolves against. It deliberately uses bare net/http rather than a typed
// SDK, the same way the teacher's Azure OpenAI client does outbound calls.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nulpointcorp/aicore-gateway/internal/config"
	"github.com/nulpointcorp/aicore-gateway/internal/tokenmanager"
)

const clientTimeout = 30 * time.Second

// Deployment is one deployment record returned by a provider's admin API.
type Deployment struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	ConfigurationID string `json:"configurationId"`
	SubmissionTime string `json:"submissionTime"`
	StartTime      string `json:"startTime"`
	Details        struct {
		Resources struct {
			BackendDetails struct {
				Model struct {
					Name string `json:"name"`
				} `json:"model"`
			} `json:"backendDetails"`
		} `json:"resources"`
	} `json:"details"`
}

// UpstreamModelName extracts the nested upstream model name from a
// deployment record, per the path details.resources.backendDetails.model.name.
func (d Deployment) UpstreamModelName() string {
	return d.Details.Resources.BackendDetails.Model.Name
}

// ResourceGroup is one resource group record returned by a provider's admin
// API.
type ResourceGroup struct {
	ID   string `json:"resourceGroupId"`
	Name string `json:"name"`
}

const statusRunning = "RUNNING"

type deploymentListResponse struct {
	Resources []Deployment `json:"resources"`
}

type resourceGroupListResponse struct {
	Resources []ResourceGroup `json:"resources"`
}

// Error is a structured error from a provider's admin surface, carrying the
// upstream status and body.
type Error struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream: provider %q: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *Error) HTTPStatus() int { return e.StatusCode }

// Client speaks one provider's admin HTTP surface, authenticating through a
// shared Token Manager. Cheap to construct per call site.
type Client struct {
	provider config.Provider
	tokens   *tokenmanager.Manager
	http     *http.Client
}

// New builds a Client for provider p, authenticating via tm.
func New(p config.Provider, tm *tokenmanager.Manager) *Client {
	return &Client{
		provider: p,
		tokens:   tm,
		http:     &http.Client{Timeout: clientTimeout},
	}
}

// ListDeployments returns every deployment record for the client's
// provider, optionally scoped to resourceGroup (the provider's own resource
// group is used if resourceGroup is empty).
func (c *Client) ListDeployments(ctx context.Context, resourceGroup string) ([]Deployment, error) {
	var out deploymentListResponse
	url := fmt.Sprintf("%s/v2/lm/deployments", trimSlash(c.provider.GenAIAPIURL))
	if err := c.get(ctx, url, resourceGroup, &out); err != nil {
		return nil, err
	}
	return out.Resources, nil
}

// BuildRunningModelMap returns upstream-model-name → deployment-id for every
// RUNNING deployment. When two running deployments share an upstream model
// name, the later one (in listing order) wins.
func (c *Client) BuildRunningModelMap(ctx context.Context, resourceGroup string) (map[string]string, error) {
	deployments, err := c.ListDeployments(ctx, resourceGroup)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(deployments))
	for _, d := range deployments {
		if d.Status != statusRunning {
			continue
		}
		name := d.UpstreamModelName()
		if name == "" {
			continue
		}
		out[name] = d.ID
	}
	return out, nil
}

// ListResourceGroups returns the provider's resource groups. Used by the CLI
// only; no caching.
func (c *Client) ListResourceGroups(ctx context.Context) ([]ResourceGroup, error) {
	var out resourceGroupListResponse
	url := fmt.Sprintf("%s/v2/admin/resourceGroups", trimSlash(c.provider.GenAIAPIURL))
	if err := c.get(ctx, url, "", &out); err != nil {
		return nil, err
	}
	return out.Resources, nil
}

// GetDeployment fetches a single deployment by id. Used by the CLI only.
func (c *Client) GetDeployment(ctx context.Context, resourceGroup, id string) (*Deployment, error) {
	var out Deployment
	url := fmt.Sprintf("%s/v2/lm/deployments/%s", trimSlash(c.provider.GenAIAPIURL), id)
	if err := c.get(ctx, url, resourceGroup, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, url, resourceGroup string, out any) error {
	token, err := c.tokens.GetToken(ctx, "internal", c.provider)
	if err != nil {
		return fmt.Errorf("upstream: provider %q: token: %w", c.provider.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	rg := resourceGroup
	if rg == "" {
		rg = c.provider.ResourceGroup
	}
	if rg != "" {
		req.Header.Set("AI-Resource-Group", rg)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream: provider %q: request: %w", c.provider.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("upstream: provider %q: read body: %w", c.provider.Name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Provider: c.provider.Name, StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("upstream: provider %q: decode: %w", c.provider.Name, err)
	}
	return nil
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
