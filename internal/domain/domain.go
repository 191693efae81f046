package domain

// Rule definition lifecycle statuses.
const (
	RuleStatusDraft      = "DRAFT"
	RuleStatusPublished  = "PUBLISHED"
	RuleStatusDeprecated = "DEPRECATED"
)

// Publish request statuses.
const (
	PublishStatusPending  = "PENDING"
	PublishStatusApproved = "APPROVED"
	PublishStatusRejected = "REJECTED"
)

type Tenant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// RuleDefinition is a versioned, tenant-owned configuration of one
// assignment algorithm. Only DRAFT definitions may be edited.
type RuleDefinition struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenant_id"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	SemanticVersion string         `json:"semantic_version"`
	Status          string         `json:"status" enum:"DRAFT,PUBLISHED,DEPRECATED"`
	RuleType        string         `json:"rule_type" enum:"ALL_TO_ALL,ROUND_ROBIN,MANAGER_HIERARCHY,ATTRIBUTE_MATCH"`
	RuleConfig      map[string]any `json:"rule_config"`
	CreatedBy       string         `json:"created_by"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	UpdatedAt       string         `json:"updated_at" format:"date-time"`
	PublishedAt     *string        `json:"published_at,omitempty" format:"date-time"`
}

// PublishRequest gates promotion of a rule definition out of DRAFT.
// At most one PENDING request exists per rule definition.
type PublishRequest struct {
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

// GeneratedAssignment is one evaluator-to-evaluatee pair produced by the
// generation engine. Ownership transfers to the campaign side on publication.
type GeneratedAssignment struct {
	ID            string  `json:"id"`
	CampaignID    string  `json:"campaign_id"`
	EvaluatorID   string  `json:"evaluator_id"`
	EvaluateeID   string  `json:"evaluatee_id"`
	EvaluatorRole string  `json:"evaluator_role" enum:"PEER,SUPERVISOR,SELF,DIRECT_REPORT,EXTERNAL"`
	Completed     bool    `json:"completed"`
	EvaluationID  *string `json:"evaluation_id,omitempty"`
}

type Campaign struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// AuditRecord is one append-only row of the admin action audit log.
type AuditRecord struct {
	ID            int64  `json:"id"`
	TenantID      string `json:"tenant_id"`
	Actor         string `json:"actor"`
	Action        string `json:"action"`
	AggregateType string `json:"aggregate_type"`
	AggregateID   string `json:"aggregate_id,omitempty"`
	ReasonCode    string `json:"reason_code,omitempty"`
	Comment       string `json:"comment,omitempty"`
	PayloadJSON   string `json:"payload_json,omitempty"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

// OutboxEvent mirrors an audit record for asynchronous downstream delivery.
// Delivery is handled by an external dispatcher; the control plane only
// ever inserts PENDING rows.
type OutboxEvent struct {
	ID            int64   `json:"id"`
	AggregateType string  `json:"aggregate_type"`
	AggregateID   string  `json:"aggregate_id"`
	EventType     string  `json:"event_type"`
	PayloadJSON   string  `json:"payload_json"`
	Status        string  `json:"status"`
	AttemptCount  int     `json:"attempt_count"`
	LastError     string  `json:"last_error,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	PublishedAt   *string `json:"published_at,omitempty" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
