package server

import (
	"evalline/internal/domain"
	"evalline/internal/engine"
)

// Request payloads

type CreateTenantRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type RuleDefinitionRequest struct {
	Name            string         `json:"name"`
	Description     *string        `json:"description,omitempty"`
	SemanticVersion string         `json:"semantic_version" example:"1.0.0"`
	RuleType        string         `json:"rule_type" enum:"ALL_TO_ALL,ROUND_ROBIN,MANAGER_HIERARCHY,ATTRIBUTE_MATCH"`
	RuleConfig      map[string]any `json:"rule_config"`
}

type DeprecateRuleRequest struct {
	Comment string `json:"comment,omitempty"`
}

type CreatePublishRequestRequest struct {
	ReasonCode string `json:"reason_code,omitempty"`
	Comment    string `json:"comment,omitempty"`
}

type PublishDecisionRequest struct {
	Comment string `json:"comment,omitempty"`
}

type SimulateRequest struct {
	AudienceSourceType   string         `json:"audience_source_type" enum:"INLINE,DIRECTORY_SNAPSHOT"`
	AudienceSourceConfig map[string]any `json:"audience_source_config"`
	DiagnosticMode       bool           `json:"diagnostic_mode,omitempty"`
}

type PublishAssignmentsRequest struct {
	RuleID               string         `json:"rule_id"`
	AudienceSourceType   string         `json:"audience_source_type" enum:"INLINE,DIRECTORY_SNAPSHOT"`
	AudienceSourceConfig map[string]any `json:"audience_source_config"`
	ReplaceExisting      bool           `json:"replace_existing,omitempty"`
	DryRun               bool           `json:"dry_run,omitempty"`
}

type CreateCampaignRequest struct {
	ID   *string `json:"id,omitempty"`
	Name string  `json:"name"`
}

// Response payloads

type TenantResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type RuleDefinitionResponse struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenant_id"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	SemanticVersion string         `json:"semantic_version"`
	Status          string         `json:"status" enum:"DRAFT,PUBLISHED,DEPRECATED"`
	RuleType        string         `json:"rule_type"`
	RuleConfig      map[string]any `json:"rule_config"`
	CreatedBy       string         `json:"created_by"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	UpdatedAt       string         `json:"updated_at" format:"date-time"`
	PublishedAt     *string        `json:"published_at,omitempty" format:"date-time"`
}

type PublishRequestResponse struct {
	ID               string  `json:"id"`
	RuleDefinitionID string  `json:"rule_definition_id"`
	TenantID         string  `json:"tenant_id"`
	Status           string  `json:"status" enum:"PENDING,APPROVED,REJECTED"`
	ReasonCode       string  `json:"reason_code,omitempty"`
	Comment          string  `json:"comment,omitempty"`
	RequestedBy      string  `json:"requested_by"`
	RequestedAt      string  `json:"requested_at" format:"date-time"`
	DecidedBy        string  `json:"decided_by,omitempty"`
	DecidedAt        *string `json:"decided_at,omitempty" format:"date-time"`
	DecisionComment  string  `json:"decision_comment,omitempty"`
}

type AssignmentResponse struct {
	ID            string  `json:"id"`
	CampaignID    string  `json:"campaign_id"`
	EvaluatorID   string  `json:"evaluator_id"`
	EvaluateeID   string  `json:"evaluatee_id"`
	EvaluatorRole string  `json:"evaluator_role"`
	Completed     bool    `json:"completed"`
	EvaluationID  *string `json:"evaluation_id,omitempty"`
}

type CampaignResponse struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type PublishAssignmentsResponse struct {
	CampaignID      string               `json:"campaign_id"`
	RuleType        string               `json:"rule_type"`
	GeneratedCount  int                  `json:"generated_count"`
	Generated       []AssignmentResponse `json:"generated"`
	ReplaceExisting bool                 `json:"replace_existing"`
	DryRun          bool                 `json:"dry_run"`
}

func tenantResponse(t domain.Tenant) TenantResponse {
	return TenantResponse{ID: t.ID, Name: t.Name, CreatedAt: t.CreatedAt}
}

func ruleResponse(d domain.RuleDefinition) RuleDefinitionResponse {
	return RuleDefinitionResponse{
		ID:              d.ID,
		TenantID:        d.TenantID,
		Name:            d.Name,
		Description:     d.Description,
		SemanticVersion: d.SemanticVersion,
		Status:          d.Status,
		RuleType:        d.RuleType,
		RuleConfig:      d.RuleConfig,
		CreatedBy:       d.CreatedBy,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		PublishedAt:     d.PublishedAt,
	}
}

func mapRules(items []domain.RuleDefinition) []RuleDefinitionResponse {
	out := make([]RuleDefinitionResponse, 0, len(items))
	for _, d := range items {
		out = append(out, ruleResponse(d))
	}
	return out
}

func publishRequestResponse(p domain.PublishRequest) PublishRequestResponse {
	return PublishRequestResponse{
		ID:               p.ID,
		RuleDefinitionID: p.RuleDefinitionID,
		TenantID:         p.TenantID,
		Status:           p.Status,
		ReasonCode:       p.ReasonCode,
		Comment:          p.Comment,
		RequestedBy:      p.RequestedBy,
		RequestedAt:      p.RequestedAt,
		DecidedBy:        p.DecidedBy,
		DecidedAt:        p.DecidedAt,
		DecisionComment:  p.DecisionComment,
	}
}

func mapPublishRequests(items []domain.PublishRequest) []PublishRequestResponse {
	out := make([]PublishRequestResponse, 0, len(items))
	for _, p := range items {
		out = append(out, publishRequestResponse(p))
	}
	return out
}

func assignmentResponse(a domain.GeneratedAssignment) AssignmentResponse {
	return AssignmentResponse{
		ID:            a.ID,
		CampaignID:    a.CampaignID,
		EvaluatorID:   a.EvaluatorID,
		EvaluateeID:   a.EvaluateeID,
		EvaluatorRole: a.EvaluatorRole,
		Completed:     a.Completed,
		EvaluationID:  a.EvaluationID,
	}
}

func mapAssignments(items []domain.GeneratedAssignment) []AssignmentResponse {
	out := make([]AssignmentResponse, 0, len(items))
	for _, a := range items {
		out = append(out, assignmentResponse(a))
	}
	return out
}

func campaignResponse(c domain.Campaign) CampaignResponse {
	return CampaignResponse{
		ID:        c.ID,
		TenantID:  c.TenantID,
		Name:      c.Name,
		Status:    c.Status,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func draftOptions(tenantID, actor string, body RuleDefinitionRequest) engine.DraftOptions {
	desc := ""
	if body.Description != nil {
		desc = *body.Description
	}
	return engine.DraftOptions{
		TenantID:        tenantID,
		Name:            body.Name,
		Description:     desc,
		SemanticVersion: body.SemanticVersion,
		RuleType:        body.RuleType,
		RuleConfig:      body.RuleConfig,
		Actor:           actor,
	}
}
