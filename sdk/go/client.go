package evallinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Evalline HTTP API client.
type Client struct {
	BaseURL     string
	TenantID    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, tenantID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		TenantID: tenantID,
		Timeout:  10 * time.Second,
	}
}

// RuleDefinition represents the API rule definition model.
type RuleDefinition struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenant_id"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	SemanticVersion string         `json:"semantic_version"`
	Status          string         `json:"status"`
	RuleType        string         `json:"rule_type"`
	RuleConfig      map[string]any `json:"rule_config"`
	PublishedAt     *string        `json:"published_at,omitempty"`
}

// PublishRequest represents a publish approval request.
type PublishRequest struct {
	ID               string  `json:"id"`
	RuleDefinitionID string  `json:"rule_definition_id"`
	Status           string  `json:"status"`
	RequestedBy      string  `json:"requested_by"`
	DecidedBy        string  `json:"decided_by,omitempty"`
	DecidedAt        *string `json:"decided_at,omitempty"`
}

// Assignment is one evaluator-to-evaluatee pair.
type Assignment struct {
	ID            string `json:"id"`
	CampaignID    string `json:"campaign_id"`
	EvaluatorID   string `json:"evaluator_id"`
	EvaluateeID   string `json:"evaluatee_id"`
	EvaluatorRole string `json:"evaluator_role"`
	Completed     bool   `json:"completed"`
}

// SimulationResult is the outcome of a dry rule run.
type SimulationResult struct {
	RuleID     string `json:"rule_id"`
	RuleType   string `json:"rule_type"`
	MatchCount int    `json:"match_count"`
	Matches    []struct {
		EvaluatorID   string `json:"evaluator_id"`
		EvaluateeID   string `json:"evaluatee_id"`
		EvaluatorRole string `json:"evaluator_role"`
		Rationale     string `json:"rationale"`
	} `json:"matches"`
	Exclusions []struct {
		EvaluatorID string `json:"evaluator_id"`
		EvaluateeID string `json:"evaluatee_id"`
		Rationale   string `json:"rationale"`
	} `json:"exclusions,omitempty"`
}

// PublishAssignmentsResult summarizes an assignment publication.
type PublishAssignmentsResult struct {
	CampaignID     string       `json:"campaign_id"`
	RuleType       string       `json:"rule_type"`
	GeneratedCount int          `json:"generated_count"`
	Generated      []Assignment `json:"generated"`
	DryRun         bool         `json:"dry_run"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateRule creates a DRAFT rule definition.
func (c *Client) CreateRule(ctx context.Context, name, version, ruleType string, ruleConfig map[string]any) (RuleDefinition, error) {
	body := map[string]any{
		"name":             name,
		"semantic_version": version,
		"rule_type":        ruleType,
		"rule_config":      ruleConfig,
	}
	var resp RuleDefinition
	err := c.do(ctx, http.MethodPost, c.tenantPath("rules"), body, &resp)
	return resp, err
}

// GetRule fetches a rule definition by id.
func (c *Client) GetRule(ctx context.Context, ruleID string) (RuleDefinition, error) {
	var resp RuleDefinition
	err := c.do(ctx, http.MethodGet, c.tenantPath("rules/"+url.PathEscape(ruleID)), nil, &resp)
	return resp, err
}

// ListRules lists rule definitions, optionally filtered by status.
func (c *Client) ListRules(ctx context.Context, status string) ([]RuleDefinition, error) {
	endpoint := c.tenantPath("rules")
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []RuleDefinition
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RequestPublish submits a DRAFT rule for approval.
func (c *Client) RequestPublish(ctx context.Context, ruleID, reasonCode, comment string) (PublishRequest, error) {
	body := map[string]any{
		"reason_code": reasonCode,
		"comment":     comment,
	}
	var resp PublishRequest
	endpoint := c.tenantPath(fmt.Sprintf("rules/%s/publish-requests", url.PathEscape(ruleID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ApprovePublish approves a pending publish request.
func (c *Client) ApprovePublish(ctx context.Context, requestID, comment string) (PublishRequest, error) {
	var resp PublishRequest
	endpoint := c.tenantPath(fmt.Sprintf("publish-requests/%s/approve", url.PathEscape(requestID)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"comment": comment}, &resp)
	return resp, err
}

// RejectPublish rejects a pending publish request.
func (c *Client) RejectPublish(ctx context.Context, requestID, comment string) (PublishRequest, error) {
	var resp PublishRequest
	endpoint := c.tenantPath(fmt.Sprintf("publish-requests/%s/reject", url.PathEscape(requestID)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"comment": comment}, &resp)
	return resp, err
}

// Simulate runs a rule against a candidate audience without persisting.
func (c *Client) Simulate(ctx context.Context, ruleID, audienceType string, audienceConfig map[string]any, diagnostic bool) (SimulationResult, error) {
	body := map[string]any{
		"audience_source_type":   audienceType,
		"audience_source_config": audienceConfig,
		"diagnostic_mode":        diagnostic,
	}
	var resp SimulationResult
	endpoint := c.tenantPath(fmt.Sprintf("rules/%s/simulate", url.PathEscape(ruleID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// PublishAssignments runs a rule against a live audience into a campaign.
func (c *Client) PublishAssignments(ctx context.Context, campaignID, ruleID, audienceType string, audienceConfig map[string]any, replaceExisting, dryRun bool) (PublishAssignmentsResult, error) {
	body := map[string]any{
		"rule_id":                ruleID,
		"audience_source_type":   audienceType,
		"audience_source_config": audienceConfig,
		"replace_existing":       replaceExisting,
		"dry_run":                dryRun,
	}
	var resp PublishAssignmentsResult
	endpoint := c.tenantPath(fmt.Sprintf("campaigns/%s/assignments", url.PathEscape(campaignID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ListAssignments lists a campaign's persisted assignments.
func (c *Client) ListAssignments(ctx context.Context, campaignID string) ([]Assignment, error) {
	var resp []Assignment
	endpoint := c.tenantPath(fmt.Sprintf("campaigns/%s/assignments", url.PathEscape(campaignID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) tenantPath(p string) string {
	tenant := url.PathEscape(c.TenantID)
	return fmt.Sprintf("v0/tenants/%s/%s", tenant, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
