package provisioner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/suteetoe/lavadero/pkg/config"
)

// Client talks to the branch API of the hosted Postgres provider. Each tenant gets its own
// branch, and the branch's read-write endpoint is the tenant's dedicated store.
type Client struct {
	BaseURL      string
	APIKey       string
	ProjectID    string
	DatabaseName string
	RoleName     string
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// APIError is a non-2xx answer from the provider
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provisioner API returned %d", e.StatusCode)
	}
	return fmt.Sprintf("provisioner API returned %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying later may succeed
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

type createBranchRequest struct {
	Branch    branchSpec     `json:"branch"`
	Endpoints []endpointSpec `json:"endpoints"`
}

type branchSpec struct {
	Name string `json:"name"`
}

type endpointSpec struct {
	Type string `json:"type"`
}

type createBranchResponse struct {
	Branch struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"branch"`
	ConnectionURIs []struct {
		ConnectionURI string `json:"connection_uri"`
	} `json:"connection_uris"`
}

type connectionURIResponse struct {
	URI string `json:"uri"`
}

// NewClient creates a new provisioning API client
func NewClient(cfg config.ProvisionerConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		APIKey:       cfg.APIKey,
		ProjectID:    cfg.ProjectID,
		DatabaseName: cfg.DatabaseName,
		RoleName:     cfg.RoleName,
		HTTPClient:   &http.Client{Timeout: timeout},
		Logger:       logger,
	}
}

// Provision creates a branch named after slug and returns its connection string
func (c *Client) Provision(ctx context.Context, slug string) (*Branch, error) {
	c.Logger.Info("Creating tenant branch", zap.String("slug", slug), zap.String("project_id", c.ProjectID))

	payload, err := json.Marshal(createBranchRequest{
		Branch:    branchSpec{Name: slug},
		Endpoints: []endpointSpec{{Type: "read_write"}},
	})
	if err != nil {
		return nil, err
	}

	var created createBranchResponse
	path := fmt.Sprintf("/projects/%s/branches", url.PathEscape(c.ProjectID))
	if err := c.do(ctx, http.MethodPost, path, bytes.NewReader(payload), &created); err != nil {
		c.Logger.Error("Branch creation failed", zap.String("slug", slug), zap.Error(err))
		return nil, err
	}
	if created.Branch.ID == "" {
		return nil, errors.New("provisioner API returned no branch id")
	}

	branch := &Branch{ID: created.Branch.ID}
	for _, uri := range created.ConnectionURIs {
		if uri.ConnectionURI != "" {
			branch.ConnectionURI = uri.ConnectionURI
			break
		}
	}

	if branch.ConnectionURI == "" {
		uri, err := c.connectionURI(ctx, branch.ID)
		if err != nil {
			c.Logger.Error("Branch created without connection string",
				zap.String("slug", slug),
				zap.String("branch_id", branch.ID),
				zap.Error(err))
			return nil, fmt.Errorf("branch %s: %w", branch.ID, err)
		}
		branch.ConnectionURI = uri
	}

	c.Logger.Info("Tenant branch created", zap.String("slug", slug), zap.String("branch_id", branch.ID))
	return branch, nil
}

// Delete removes a branch. A branch that no longer exists counts as deleted.
func (c *Client) Delete(ctx context.Context, branchID string) error {
	path := fmt.Sprintf("/projects/%s/branches/%s", url.PathEscape(c.ProjectID), url.PathEscape(branchID))
	err := c.do(ctx, http.MethodDelete, path, nil, nil)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		c.Logger.Warn("Branch already gone", zap.String("branch_id", branchID))
		return nil
	}
	if err != nil {
		c.Logger.Error("Branch deletion failed", zap.String("branch_id", branchID), zap.Error(err))
		return err
	}

	c.Logger.Info("Tenant branch deleted", zap.String("branch_id", branchID))
	return nil
}

func (c *Client) connectionURI(ctx context.Context, branchID string) (string, error) {
	query := url.Values{}
	query.Set("branch_id", branchID)
	query.Set("database_name", c.DatabaseName)
	query.Set("role_name", c.RoleName)

	var resp connectionURIResponse
	path := fmt.Sprintf("/projects/%s/connection_uri?%s", url.PathEscape(c.ProjectID), query.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	if resp.URI == "" {
		return "", errors.New("provisioner API returned an empty connection string")
	}
	return resp.URI, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
