package engine

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"evalline/internal/assign"
	"evalline/internal/audit"
	"evalline/internal/campaign"
	"evalline/internal/config"
	"evalline/internal/domain"
	"evalline/internal/repo"
)

// simulationCampaignID is the placeholder campaign used by simulations so
// they can never touch real campaign state.
const simulationCampaignID = "00000000-0000-0000-0000-000000000000"

var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// ValidationError marks malformed input. Nothing was mutated.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

// StateError marks an operation that is illegal in the aggregate's current
// lifecycle state. These are policy violations, never retried.
type StateError struct {
	Msg string
}

func (e StateError) Error() string { return e.Msg }

func validationErrf(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func stateErrf(format string, args ...any) error {
	return StateError{Msg: fmt.Sprintf(format, args...)}
}

// Engine is the rule control plane: tenant-scoped rule definition lifecycle,
// publish approval workflow, simulation, and assignment publication. Every
// mutation runs in one transaction and appends its audit record inside it.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Audit     audit.Writer
	Campaigns campaign.Orchestrator
	Config    *config.Config
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Audit:     audit.Writer{DB: db},
		Campaigns: campaign.NewLocal(db),
		Config:    cfg,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// auditWriter returns the audit writer on the engine's clock, so audit and
// outbox timestamps line up with the mutation they describe.
func (e Engine) auditWriter() audit.Writer {
	w := e.Audit
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

func (e Engine) admin() config.AdminPolicy {
	if e.Config == nil {
		return config.Default().Admin
	}
	return e.Config.Admin
}

func (e Engine) requireTenant(ctx context.Context, tenantID string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", validationErrf("tenant is required")
	}
	ok, err := e.Repo.TenantExists(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", validationErrf("unknown tenant: %s", tenantID)
	}
	return tenantID, nil
}

func actorOrSystem(actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return "system"
	}
	return actor
}

// CreateTenant registers a tenant. Mostly a bootstrap operation for the CLI
// and tests; real deployments source tenants elsewhere.
func (e Engine) CreateTenant(ctx context.Context, id, name string) (domain.Tenant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Tenant{}, validationErrf("tenant id is required")
	}
	if name == "" {
		name = id
	}
	t := domain.Tenant{
		ID:        id,
		Name:      name,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertTenant(ctx, t); err != nil {
		return domain.Tenant{}, fmt.Errorf("insert tenant: %w", err)
	}
	return t, nil
}

// DraftOptions are the caller-editable fields of a rule definition.
type DraftOptions struct {
	TenantID        string
	Name            string
	Description     string
	SemanticVersion string
	RuleType        string
	RuleConfig      map[string]any
	Actor           string
}

func validateDraftFields(opts DraftOptions) (DraftOptions, error) {
	opts.Name = strings.TrimSpace(opts.Name)
	if opts.Name == "" {
		return opts, validationErrf("name is required")
	}
	opts.SemanticVersion = strings.TrimSpace(opts.SemanticVersion)
	if !semverPattern.MatchString(opts.SemanticVersion) {
		return opts, validationErrf("semantic version must match x.y.z, got %q", opts.SemanticVersion)
	}
	opts.RuleType = strings.ToUpper(strings.TrimSpace(opts.RuleType))
	supported := false
	for _, rt := range assign.RuleTypes() {
		if rt == opts.RuleType {
			supported = true
			break
		}
	}
	if !supported {
		return opts, validationErrf("unsupported rule type: %s", opts.RuleType)
	}
	if len(opts.RuleConfig) == 0 {
		return opts, validationErrf("rule config is required")
	}
	// algorithm-specific key validation happens at generation time
	return opts, nil
}

// CreateDraft creates a DRAFT rule definition.
func (e Engine) CreateDraft(ctx context.Context, opts DraftOptions) (domain.RuleDefinition, error) {
	tenantID, err := e.requireTenant(ctx, opts.TenantID)
	if err != nil {
		return domain.RuleDefinition{}, err
	}
	opts, err = validateDraftFields(opts)
	if err != nil {
		return domain.RuleDefinition{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	d := domain.RuleDefinition{
		ID:              uuid.New().String(),
		TenantID:        tenantID,
		Name:            opts.Name,
		Description:     opts.Description,
		SemanticVersion: opts.SemanticVersion,
		Status:          domain.RuleStatusDraft,
		RuleType:        opts.RuleType,
		RuleConfig:      opts.RuleConfig,
		CreatedBy:       actorOrSystem(opts.Actor),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RuleDefinition{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRuleTx(ctx, tx, d); err != nil {
		return domain.RuleDefinition{}, fmt.Errorf("insert rule definition: %w", err)
	}
	if err := e.auditWriter().Log(ctx, tx, tenantID, d.CreatedBy, "RULE_DEFINITION_CREATED", "ASSIGNMENT_RULE_DEFINITION", d.ID, "", "", audit.Payload{
		"name":            d.Name,
		"semanticVersion": d.SemanticVersion,
		"ruleType":        d.RuleType,
	}); err != nil {
		return domain.RuleDefinition{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RuleDefinition{}, err
	}
	return d, nil
}

// UpdateDraft replaces the editable fields of a DRAFT rule definition.
func (e Engine) UpdateDraft(ctx context.Context, ruleID string, opts DraftOptions) (domain.RuleDefinition, error) {
	tenantID, err := e.requireTenant(ctx, opts.TenantID)
	if err != nil {
		return domain.RuleDefinition{}, err
	}
	opts, err = validateDraftFields(opts)
	if err != nil {
		return domain.RuleDefinition{}, err
	}
	d, err := e.Repo.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return domain.RuleDefinition{}, err
	}
	if d.Status != domain.RuleStatusDraft {
		return domain.RuleDefinition{}, stateErrf("only DRAFT rule definitions can be updated, status is %s", d.Status)
	}
	d.Name = opts.Name
	d.Description = opts.Description
	d.SemanticVersion = opts.SemanticVersion
	d.RuleType = opts.RuleType
	d.RuleConfig = opts.RuleConfig
	d.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RuleDefinition{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateRuleTx(ctx, tx, d); err != nil {
		return domain.RuleDefinition{}, err
	}
	if err := e.auditWriter().Log(ctx, tx, tenantID, actorOrSystem(opts.Actor), "RULE_DEFINITION_UPDATED", "ASSIGNMENT_RULE_DEFINITION", d.ID, "", "", audit.Payload{
		"semanticVersion": d.SemanticVersion,
		"ruleType":        d.RuleType,
	}); err != nil {
		return domain.RuleDefinition{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RuleDefinition{}, err
	}
	return d, nil
}

// ListRules returns a tenant's rule definitions, optionally filtered by status.
func (e Engine) ListRules(ctx context.Context, tenantID, status string) ([]domain.RuleDefinition, error) {
	tenantID, err := e.requireTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListRules(ctx, tenantID, strings.ToUpper(strings.TrimSpace(status)))
}

// GetRule returns one tenant-owned rule definition.
func (e Engine) GetRule(ctx context.Context, tenantID, ruleID string) (domain.RuleDefinition, error) {
	tenantID, err := e.requireTenant(ctx, tenantID)
	if err != nil {
		return domain.RuleDefinition{}, err
	}
	return e.Repo.GetRule(ctx, tenantID, ruleID)
}

// DeprecateRule moves a rule definition to DEPRECATED. The transition is
// terminal and legal from any status; it does not block later generation
// calls against the rule.
func (e Engine) DeprecateRule(ctx context.Context, tenantID, ruleID, comment, actor string) (domain.RuleDefinition, error) {
	tenantID, err := e.requireTenant(ctx, tenantID)
	if err != nil {
		return domain.RuleDefinition{}, err
	}
	d, err := e.Repo.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return domain.RuleDefinition{}, err
	}
	d.Status = domain.RuleStatusDeprecated
	d.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RuleDefinition{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateRuleTx(ctx, tx, d); err != nil {
		return domain.RuleDefinition{}, err
	}
	if err := e.auditWriter().Log(ctx, tx, tenantID, actorOrSystem(actor), "RULE_DEPRECATED", "ASSIGNMENT_RULE_DEFINITION", d.ID, "", comment, audit.Payload{
		"status": d.Status,
	}); err != nil {
		return domain.RuleDefinition{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RuleDefinition{}, err
	}
	return d, nil
}

// RequestPublish opens a PENDING publish request for a DRAFT rule.
func (e Engine) RequestPublish(ctx context.Context, tenantID, ruleID, reasonCode, comment, actor string) (domain.PublishRequest, error) {
	tenantID, err := e.requireTenant(ctx, tenantID)
	if err != nil {
		return domain.PublishRequest{}, err
	}
	rule, err := e.Repo.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return domain.PublishRequest{}, err
	}
	if rule.Status != domain.RuleStatusDraft {
		return domain.PublishRequest{}, stateErrf("only DRAFT rule definitions can be submitted for publish approval, status is %s", rule.Status)
	}
	pending, err := e.Repo.HasPendingPublishRequest(ctx, rule.ID)
	if err != nil {
		return domain.PublishRequest{}, err
	}
	if pending {
		return domain.PublishRequest{}, stateErrf("a pending publish request already exists for rule %s", rule.ID)
	}
	p := domain.PublishRequest{
		ID:               uuid.New().String(),
		RuleDefinitionID: rule.ID,
		TenantID:         tenantID,
		Status:           domain.PublishStatusPending,
		ReasonCode:       reasonCode,
		Comment:          comment,
		RequestedBy:      actorOrSystem(actor),
		RequestedAt:      e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PublishRequest{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertPublishRequestTx(ctx, tx, p); err != nil {
		return domain.PublishRequest{}, fmt.Errorf("insert publish request: %w", err)
	}
	if err := e.auditWriter().Log(ctx, tx, tenantID, p.RequestedBy, "RULE_PUBLISH_REQUESTED", "ASSIGNMENT_RULE_DEFINITION", rule.ID, reasonCode, comment, audit.Payload{
		"publishRequestId": p.ID,
	}); err != nil {
		return domain.PublishRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PublishRequest{}, err
	}
	return p, nil
}

// ApprovePublish approves a PENDING publish request. Under the four-eyes
// policy the approver must differ from the requester. With the publish lock
// enabled the underlying rule is promoted to PUBLISHED; otherwise only the
// decision is recorded.
func (e Engine) ApprovePublish(ctx context.Context, tenantID, requestID, decisionComment, actor string) (domain.PublishRequest, error) {
	tenantID, err := e.requireTenant(ctx, tenantID)
	if err != nil {
		return domain.PublishRequest{}, err
	}
	req, err := e.Repo.GetPublishRequest(ctx, tenantID, requestID)
	if err != nil {
		return domain.PublishRequest{}, err
	}
	if req.Status != domain.PublishStatusPending {
		return domain.PublishRequest{}, stateErrf("publish request %s is not pending", req.ID)
	}
	approver := actorOrSystem(actor)
	if e.admin().RequireFourEyesApproval && approver == req.RequestedBy {
		return domain.PublishRequest{}, stateErrf("4-eyes approval violation: requester %s cannot approve own publish request", approver)
	}
	now := e.now().UTC().Format(time.RFC3339)
	req.Status = domain.PublishStatusApproved
	req.DecidedBy = approver
	req.DecidedAt = &now
	req.DecisionComment = decisionComment

	rule, err := e.Repo.GetRule(ctx, tenantID, req.RuleDefinitionID)
	if err != nil {
		return domain.PublishRequest{}, err
	}
	lock := e.admin().PublishLockEnabled

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PublishRequest{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdatePublishRequestTx(ctx, tx, req); err != nil {
		return domain.PublishRequest{}, err
	}
	if lock {
		rule.Status = domain.RuleStatusPublished
		rule.PublishedAt = &now
		rule.UpdatedAt = now
		if err := e.Repo.UpdateRuleTx(ctx, tx, rule); err != nil {
			return domain.PublishRequest{}, err
		}
	}
	if err := e.auditWriter().Log(ctx, tx, tenantID, approver, "RULE_PUBLISH_APPROVED", "ASSIGNMENT_RULE_DEFINITION", rule.ID, "", decisionComment, audit.Payload{
		"publishRequestId":   req.ID,
		"publishLockEnabled": lock,
	}); err != nil {
		return domain.PublishRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PublishRequest{}, err
	}
	return req, nil
}

// RejectPublish rejects a PENDING publish request. The rule stays DRAFT.
func (e Engine) RejectPublish(ctx context.Context, tenantID, requestID, decisionComment, actor string) (domain.PublishRequest, error) {
	tenantID, err := e.requireTenant(ctx, tenantID)
	if err != nil {
		return domain.PublishRequest{}, err
	}
	req, err := e.Repo.GetPublishRequest(ctx, tenantID, requestID)
	if err != nil {
		return domain.PublishRequest{}, err
	}
	if req.Status != domain.PublishStatusPending {
		return domain.PublishRequest{}, stateErrf("publish request %s is not pending", req.ID)
	}
	now := e.now().UTC().Format(time.RFC3339)
	req.Status = domain.PublishStatusRejected
	req.DecidedBy = actorOrSystem(actor)
	req.DecidedAt = &now
	req.DecisionComment = decisionComment

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PublishRequest{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdatePublishRequestTx(ctx, tx, req); err != nil {
		return domain.PublishRequest{}, err
	}
	if err := e.auditWriter().Log(ctx, tx, tenantID, req.DecidedBy, "RULE_PUBLISH_REJECTED", "ASSIGNMENT_RULE_DEFINITION", req.RuleDefinitionID, "", decisionComment, audit.Payload{
		"publishRequestId": req.ID,
	}); err != nil {
		return domain.PublishRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PublishRequest{}, err
	}
	return req, nil
}

// ListPublishRequests returns a tenant's publish requests, optionally
// filtered to one rule definition.
func (e Engine) ListPublishRequests(ctx context.Context, tenantID, ruleID string) ([]domain.PublishRequest, error) {
	tenantID, err := e.requireTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListPublishRequests(ctx, tenantID, ruleID)
}

// SimulationMatch is one selected pair with a coarse rationale.
type SimulationMatch struct {
	EvaluatorID   string `json:"evaluator_id"`
	EvaluateeID   string `json:"evaluatee_id"`
	EvaluatorRole string `json:"evaluator_role"`
	Rationale     string `json:"rationale"`
}

// SimulationExclusion is one pair the rule did not select, only computed in
// diagnostic mode.
type SimulationExclusion struct {
	EvaluatorID string `json:"evaluator_id"`
	EvaluateeID string `json:"evaluatee_id"`
	Rationale   string `json:"rationale"`
}

type SimulationResult struct {
	RuleID     string                `json:"rule_id"`
	RuleType   string                `json:"rule_type"`
	MatchCount int                   `json:"match_count"`
	Matches    []SimulationMatch     `json:"matches"`
	Exclusions []SimulationExclusion `json:"exclusions,omitempty"`
}

// Simulate runs the rule against a candidate audience without touching any
// campaign state. Diagnostic mode additionally derives the unmatched
// complement, an O(n^2) pass capped by config.
func (e Engine) Simulate(ctx context.Context, tenantID, ruleID, audienceSourceType string, audienceSourceConfig map[string]any, diagnosticMode bool) (SimulationResult, error) {
	tenantID, err := e.requireTenant(ctx, tenantID)
	if err != nil {
		return SimulationResult{}, err
	}
	rule, err := e.Repo.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return SimulationResult{}, err
	}
	generated, err := assign.Generate(
		simulationCampaignID,
		audienceSourceType,
		audienceSourceConfig,
		rule.RuleType,
		rule.RuleConfig,
		nil,
		true,
	)
	if err != nil {
		return SimulationResult{}, ValidationError{Msg: err.Error()}
	}

	opts, err := assign.ParseOptions(rule.RuleType, rule.RuleConfig)
	if err != nil {
		return SimulationResult{}, ValidationError{Msg: err.Error()}
	}
	rationale := fmt.Sprintf("matched by rule type %s using config keys %v", rule.RuleType, opts.ConfigKeys())
	matches := make([]SimulationMatch, 0, len(generated))
	for _, a := range generated {
		matches = append(matches, SimulationMatch{
			EvaluatorID:   a.EvaluatorID,
			EvaluateeID:   a.EvaluateeID,
			EvaluatorRole: a.EvaluatorRole,
			Rationale:     rationale,
		})
	}
	result := SimulationResult{
		RuleID:     rule.ID,
		RuleType:   rule.RuleType,
		MatchCount: len(matches),
		Matches:    matches,
	}
	if diagnosticMode {
		result.Exclusions = e.deriveExclusions(audienceSourceType, audienceSourceConfig, generated)
	}
	return result, nil
}

// deriveExclusions walks every evaluator-evaluatee combination from the same
// participant pool and reports the ones the rule skipped.
func (e Engine) deriveExclusions(audienceSourceType string, audienceSourceConfig map[string]any, generated []domain.GeneratedAssignment) []SimulationExclusion {
	limit := config.Default().Simulation.DiagnosticLimit
	if e.Config != nil && e.Config.Simulation.DiagnosticLimit > 0 {
		limit = e.Config.Simulation.DiagnosticLimit
	}
	participants, err := assign.ReadParticipants(strings.ToUpper(strings.TrimSpace(audienceSourceType)), audienceSourceConfig)
	if err != nil {
		return nil
	}
	matched := map[string]bool{}
	for _, a := range generated {
		matched[a.EvaluatorID+"|"+a.EvaluateeID] = true
	}
	var out []SimulationExclusion
	for _, evaluator := range participants {
		for _, evaluatee := range participants {
			if matched[evaluator.UserID+"|"+evaluatee.UserID] {
				continue
			}
			out = append(out, SimulationExclusion{
				EvaluatorID: evaluator.UserID,
				EvaluateeID: evaluatee.UserID,
				Rationale:   "not selected by current rule constraints",
			})
			if len(out) >= limit {
				return out
			}
		}
	}
	return out
}

// PublishAssignmentsOptions parameterizes assignment publication into a
// campaign.
type PublishAssignmentsOptions struct {
	TenantID             string
	RuleID               string
	CampaignID           string
	AudienceSourceType   string
	AudienceSourceConfig map[string]any
	ReplaceExisting      bool
	DryRun               bool
	Actor                string
}

// PublishAssignments runs the rule against a live audience through the
// campaign orchestrator. With the publish lock enabled the rule must be
// PUBLISHED first; without it any rule the tenant owns is accepted.
func (e Engine) PublishAssignments(ctx context.Context, opts PublishAssignmentsOptions) (campaign.Result, error) {
	tenantID, err := e.requireTenant(ctx, opts.TenantID)
	if err != nil {
		return campaign.Result{}, err
	}
	rule, err := e.Repo.GetRule(ctx, tenantID, opts.RuleID)
	if err != nil {
		return campaign.Result{}, err
	}
	if e.admin().PublishLockEnabled && rule.Status != domain.RuleStatusPublished {
		return campaign.Result{}, stateErrf("rule definition must be PUBLISHED before assignments can be published, status is %s", rule.Status)
	}
	audienceType := strings.ToUpper(strings.TrimSpace(opts.AudienceSourceType))
	supported := false
	for _, at := range assign.AudienceTypes() {
		if at == audienceType {
			supported = true
			break
		}
	}
	if !supported {
		return campaign.Result{}, validationErrf("unsupported audience source type: %s", opts.AudienceSourceType)
	}

	result, err := e.Campaigns.GenerateDynamicAssignments(ctx, tenantID, opts.CampaignID, campaign.Command{
		AudienceSourceType:   audienceType,
		AudienceSourceConfig: opts.AudienceSourceConfig,
		RuleType:             rule.RuleType,
		RuleConfig:           rule.RuleConfig,
		ReplaceExisting:      opts.ReplaceExisting,
		DryRun:               opts.DryRun,
	})
	if err != nil {
		return campaign.Result{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return campaign.Result{}, err
	}
	defer tx.Rollback()
	if err := e.auditWriter().Log(ctx, tx, tenantID, actorOrSystem(opts.Actor), "RULE_ASSIGNMENTS_PUBLISHED", "CAMPAIGN", opts.CampaignID, "", "", audit.Payload{
		"ruleDefinitionId": rule.ID,
		"generatedCount":   len(result.Generated),
		"dryRun":           opts.DryRun,
	}); err != nil {
		return campaign.Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return campaign.Result{}, err
	}
	return result, nil
}

// Capabilities reports the rule and audience types this build supports.
type Capabilities struct {
	RuleTypes     []string `json:"rule_types"`
	AudienceTypes []string `json:"audience_types"`
}

func (e Engine) Capabilities() Capabilities {
	return Capabilities{
		RuleTypes:     assign.RuleTypes(),
		AudienceTypes: assign.AudienceTypes(),
	}
}
