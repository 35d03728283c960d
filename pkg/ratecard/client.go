package ratecard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is a minimal HTTP client for the rate card API. Every request
// carries the tenant in the X-Tenant-ID header.
type Client struct {
	BaseURL    string
	TenantID   string
	HTTPClient *http.Client
}

// NewClient creates a client for baseURL scoped to one tenant.
func NewClient(baseURL, tenantID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		TenantID: tenantID,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", c.TenantID)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "unexpected_status"
			apiErr.Message = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// ValidateConfiguration dry-runs validation of a configuration.
func (c *Client) ValidateConfiguration(ctx context.Context, cfg *Configuration) (*ValidationResult, error) {
	var result ValidationResult
	if err := c.do(ctx, http.MethodPost, "/v1/configurations/validate", cfg, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpsertConfiguration creates or replaces the configuration for a
// (plan, service) pairing.
func (c *Client) UpsertConfiguration(ctx context.Context, planID, serviceID string, cfg *Configuration) (*Configuration, error) {
	var resp struct {
		Configuration *Configuration `json:"configuration"`
	}
	path := fmt.Sprintf("/v1/plans/%s/configurations/%s", url.PathEscape(planID), url.PathEscape(serviceID))
	if err := c.do(ctx, http.MethodPut, path, cfg, &resp); err != nil {
		return nil, err
	}
	return resp.Configuration, nil
}

// ListConfigurations returns a plan's pricing configurations.
func (c *Client) ListConfigurations(ctx context.Context, planID string) ([]*Configuration, error) {
	var resp struct {
		Configurations []*Configuration `json:"configurations"`
	}
	path := fmt.Sprintf("/v1/plans/%s/configurations", url.PathEscape(planID))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Configurations, nil
}

// DeleteConfiguration removes one configuration by ID.
func (c *Client) DeleteConfiguration(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/configurations/"+url.PathEscape(id), nil, nil)
}

// ListPlans returns the tenant's plans.
func (c *Client) ListPlans(ctx context.Context, limit int) ([]*Plan, error) {
	var resp struct {
		Plans []*Plan `json:"plans"`
	}
	path := "/v1/plans"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Plans, nil
}

// GetPlan returns one plan by ID.
func (c *Client) GetPlan(ctx context.Context, id string) (*Plan, error) {
	var resp struct {
		Plan *Plan `json:"plan"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/plans/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Plan, nil
}

// ListServices returns the tenant's service catalog.
func (c *Client) ListServices(ctx context.Context, limit int) ([]*Service, error) {
	var resp struct {
		Services []*Service `json:"services"`
	}
	path := "/v1/services"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Services, nil
}

// RecordUsage appends a usage event.
func (c *Client) RecordUsage(ctx context.Context, event *UsageEvent) (*UsageEvent, error) {
	var resp struct {
		Event *UsageEvent `json:"event"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/usage", event, &resp); err != nil {
		return nil, err
	}
	return resp.Event, nil
}

// PreviewCharge computes the charge line one pairing would produce.
func (c *Client) PreviewCharge(ctx context.Context, req *PreviewRequest) (*ChargePreview, error) {
	var resp struct {
		Preview *ChargePreview `json:"preview"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/usage/preview", req, &resp); err != nil {
		return nil, err
	}
	return resp.Preview, nil
}
