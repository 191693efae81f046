package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"evalline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- tenants ---

func (r Repo) InsertTenant(ctx context.Context, t domain.Tenant) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tenants(id,name,created_at) VALUES (?,?,?)`,
		t.ID, t.Name, t.CreatedAt)
	return err
}

func (r Repo) TenantExists(ctx context.Context, id string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM tenants WHERE id=? LIMIT 1`, id)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// --- rule definitions ---

const ruleColumns = `id,tenant_id,name,COALESCE(description,''),semantic_version,status,rule_type,rule_config_json,created_by,created_at,updated_at,published_at`

func scanRule(scan func(dest ...any) error) (domain.RuleDefinition, error) {
	var d domain.RuleDefinition
	var configJSON string
	var publishedAt sql.NullString
	err := scan(&d.ID, &d.TenantID, &d.Name, &d.Description, &d.SemanticVersion, &d.Status,
		&d.RuleType, &configJSON, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt, &publishedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if publishedAt.Valid {
		d.PublishedAt = &publishedAt.String
	}
	if configJSON != "" {
		if err := json.Unmarshal([]byte(configJSON), &d.RuleConfig); err != nil {
			return d, fmt.Errorf("decode rule config: %w", err)
		}
	}
	return d, nil
}

func (r Repo) InsertRuleTx(ctx context.Context, tx *sql.Tx, d domain.RuleDefinition) error {
	configJSON, err := json.Marshal(d.RuleConfig)
	if err != nil {
		return fmt.Errorf("encode rule config: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO rule_definitions(id,tenant_id,name,description,semantic_version,status,rule_type,rule_config_json,created_by,created_at,updated_at,published_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.TenantID, d.Name, nullable(d.Description), d.SemanticVersion, d.Status, d.RuleType,
		string(configJSON), d.CreatedBy, d.CreatedAt, d.UpdatedAt, nullablePtr(d.PublishedAt))
	return err
}

func (r Repo) UpdateRuleTx(ctx context.Context, tx *sql.Tx, d domain.RuleDefinition) error {
	configJSON, err := json.Marshal(d.RuleConfig)
	if err != nil {
		return fmt.Errorf("encode rule config: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE rule_definitions SET name=?,description=?,semantic_version=?,status=?,rule_type=?,rule_config_json=?,updated_at=?,published_at=? WHERE id=? AND tenant_id=?`,
		d.Name, nullable(d.Description), d.SemanticVersion, d.Status, d.RuleType,
		string(configJSON), d.UpdatedAt, nullablePtr(d.PublishedAt), d.ID, d.TenantID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRule returns a rule only when it belongs to the tenant; a rule owned by
// another tenant is indistinguishable from a missing one.
func (r Repo) GetRule(ctx context.Context, tenantID, id string) (domain.RuleDefinition, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rule_definitions WHERE id=? AND tenant_id=?`, id, tenantID)
	return scanRule(row.Scan)
}

func (r Repo) ListRules(ctx context.Context, tenantID, status string) ([]domain.RuleDefinition, error) {
	query := `SELECT ` + ruleColumns + ` FROM rule_definitions WHERE tenant_id=?`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RuleDefinition
	for rows.Next() {
		d, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// --- publish requests ---

const publishRequestColumns = `id,rule_definition_id,tenant_id,status,COALESCE(reason_code,''),COALESCE(comment,''),requested_by,requested_at,COALESCE(decided_by,''),decided_at,COALESCE(decision_comment,'')`

func scanPublishRequest(scan func(dest ...any) error) (domain.PublishRequest, error) {
	var p domain.PublishRequest
	var decidedAt sql.NullString
	err := scan(&p.ID, &p.RuleDefinitionID, &p.TenantID, &p.Status, &p.ReasonCode, &p.Comment,
		&p.RequestedBy, &p.RequestedAt, &p.DecidedBy, &decidedAt, &p.DecisionComment)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if decidedAt.Valid {
		p.DecidedAt = &decidedAt.String
	}
	return p, err
}

func (r Repo) InsertPublishRequestTx(ctx context.Context, tx *sql.Tx, p domain.PublishRequest) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO publish_requests(id,rule_definition_id,tenant_id,status,reason_code,comment,requested_by,requested_at,decided_by,decided_at,decision_comment)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.RuleDefinitionID, p.TenantID, p.Status, nullable(p.ReasonCode), nullable(p.Comment),
		p.RequestedBy, p.RequestedAt, nullable(p.DecidedBy), nullablePtr(p.DecidedAt), nullable(p.DecisionComment))
	return err
}

func (r Repo) UpdatePublishRequestTx(ctx context.Context, tx *sql.Tx, p domain.PublishRequest) error {
	res, err := tx.ExecContext(ctx, `UPDATE publish_requests SET status=?,decided_by=?,decided_at=?,decision_comment=? WHERE id=? AND tenant_id=?`,
		p.Status, nullable(p.DecidedBy), nullablePtr(p.DecidedAt), nullable(p.DecisionComment), p.ID, p.TenantID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetPublishRequest(ctx context.Context, tenantID, id string) (domain.PublishRequest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+publishRequestColumns+` FROM publish_requests WHERE id=? AND tenant_id=?`, id, tenantID)
	return scanPublishRequest(row.Scan)
}

func (r Repo) ListPublishRequests(ctx context.Context, tenantID, ruleID string) ([]domain.PublishRequest, error) {
	query := `SELECT ` + publishRequestColumns + ` FROM publish_requests WHERE tenant_id=?`
	args := []any{tenantID}
	if ruleID != "" {
		query += ` AND rule_definition_id=?`
		args = append(args, ruleID)
	}
	query += ` ORDER BY requested_at DESC, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PublishRequest
	for rows.Next() {
		p, err := scanPublishRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) HasPendingPublishRequest(ctx context.Context, ruleID string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM publish_requests WHERE rule_definition_id=? AND status='PENDING' LIMIT 1`, ruleID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// --- campaigns and assignments ---

func (r Repo) InsertCampaign(ctx context.Context, c domain.Campaign) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO campaigns(id,tenant_id,name,status,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.TenantID, c.Name, c.Status, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetCampaign(ctx context.Context, tenantID, id string) (domain.Campaign, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,tenant_id,name,status,created_at,updated_at FROM campaigns WHERE id=? AND tenant_id=?`, id, tenantID)
	var c domain.Campaign
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) TouchCampaignTx(ctx context.Context, tx *sql.Tx, id, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE campaigns SET updated_at=? WHERE id=?`, updatedAt, id)
	return err
}

func (r Repo) ListAssignments(ctx context.Context, campaignID string) ([]domain.GeneratedAssignment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,campaign_id,evaluator_id,evaluatee_id,evaluator_role,completed,evaluation_id FROM campaign_assignments WHERE campaign_id=? ORDER BY rowid`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.GeneratedAssignment
	for rows.Next() {
		var a domain.GeneratedAssignment
		var completed int
		var evaluationID sql.NullString
		if err := rows.Scan(&a.ID, &a.CampaignID, &a.EvaluatorID, &a.EvaluateeID, &a.EvaluatorRole, &completed, &evaluationID); err != nil {
			return nil, err
		}
		a.Completed = completed != 0
		if evaluationID.Valid {
			a.EvaluationID = &evaluationID.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertAssignmentsTx(ctx context.Context, tx *sql.Tx, assignments []domain.GeneratedAssignment) error {
	for _, a := range assignments {
		if _, err := tx.ExecContext(ctx, `INSERT INTO campaign_assignments(id,campaign_id,evaluator_id,evaluatee_id,evaluator_role,completed,evaluation_id) VALUES (?,?,?,?,?,?,?)`,
			a.ID, a.CampaignID, a.EvaluatorID, a.EvaluateeID, a.EvaluatorRole, boolInt(a.Completed), nullablePtr(a.EvaluationID)); err != nil {
			return fmt.Errorf("insert assignment %s: %w", a.ID, err)
		}
	}
	return nil
}

func (r Repo) DeleteAssignmentsTx(ctx context.Context, tx *sql.Tx, campaignID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM campaign_assignments WHERE campaign_id=?`, campaignID)
	return err
}

// --- audit log and outbox ---

func (r Repo) ListAuditRecords(ctx context.Context, tenantID string, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,tenant_id,actor,action,aggregate_type,COALESCE(aggregate_id,''),COALESCE(reason_code,''),COALESCE(comment,''),COALESCE(payload_json,''),created_at
FROM audit_log WHERE tenant_id=? ORDER BY id DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditRecord
	for rows.Next() {
		var a domain.AuditRecord
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Actor, &a.Action, &a.AggregateType, &a.AggregateID, &a.ReasonCode, &a.Comment, &a.PayloadJSON, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) ListOutboxEvents(ctx context.Context, status string, limit int) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,aggregate_type,aggregate_id,event_type,payload_json,status,attempt_count,COALESCE(last_error,''),created_at,published_at FROM outbox_events`
	args := []any{}
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		var publishedAt sql.NullString
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.PayloadJSON, &e.Status, &e.AttemptCount, &e.LastError, &e.CreatedAt, &publishedAt); err != nil {
			return nil, err
		}
		if publishedAt.Valid {
			e.PublishedAt = &publishedAt.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
