package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"evalline/internal/campaign"
	"evalline/internal/config"
	"evalline/internal/db"
	"evalline/internal/domain"
	"evalline/internal/engine"
	"evalline/internal/migrate"
	"evalline/internal/repo"
)

func newTestEnv(t *testing.T) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	for _, id := range []string{"acme", "globex"} {
		if _, err := e.CreateTenant(context.Background(), id, id); err != nil {
			t.Fatalf("create tenant %s: %v", id, err)
		}
	}
	return e
}

func testAudience() map[string]any {
	return map[string]any{
		"participants": []any{
			map[string]any{"userId": "m1", "department": "engineering"},
			map[string]any{"userId": "r1", "managerId": "m1", "department": "engineering"},
			map[string]any{"userId": "r2", "managerId": "m1", "department": "engineering"},
			map[string]any{"userId": "r3", "managerId": "m1", "department": "sales"},
		},
	}
}

func createDraft(t *testing.T, e engine.Engine, tenantID string) domain.RuleDefinition {
	t.Helper()
	d, err := e.CreateDraft(context.Background(), engine.DraftOptions{
		TenantID:        tenantID,
		Name:            "peer review",
		Description:     "everyone reviews everyone",
		SemanticVersion: "1.0.0",
		RuleType:        "ALL_TO_ALL",
		RuleConfig:      map[string]any{"evaluatorRole": "PEER"},
		Actor:           "alice",
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	return d
}

func TestCreateDraftWritesAuditAndOutbox(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	d := createDraft(t, e, "acme")
	if d.Status != domain.RuleStatusDraft {
		t.Fatalf("status = %s, want DRAFT", d.Status)
	}
	if d.CreatedAt != "2026-03-01T12:00:00Z" {
		t.Fatalf("createdAt = %s", d.CreatedAt)
	}

	records, err := e.Repo.ListAuditRecords(ctx, "acme", 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(records) != 1 || records[0].Action != "RULE_DEFINITION_CREATED" {
		t.Fatalf("audit records = %+v", records)
	}
	// audit timestamps come from the engine clock, not the wall clock
	if records[0].CreatedAt != "2026-03-01T12:00:00Z" {
		t.Fatalf("audit createdAt = %s", records[0].CreatedAt)
	}
	events, err := e.Repo.ListOutboxEvents(ctx, "PENDING", 10)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("outbox events = %d, want 1", len(events))
	}
	if events[0].EventType != "ADMIN_ACTION_RULE_DEFINITION_CREATED" {
		t.Fatalf("eventType = %s", events[0].EventType)
	}
	if events[0].AttemptCount != 0 {
		t.Fatalf("attemptCount = %d", events[0].AttemptCount)
	}
	if events[0].CreatedAt != "2026-03-01T12:00:00Z" {
		t.Fatalf("outbox createdAt = %s", events[0].CreatedAt)
	}
}

func TestCreateDraftValidation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	base := engine.DraftOptions{
		TenantID:        "acme",
		Name:            "peer review",
		SemanticVersion: "1.0.0",
		RuleType:        "ALL_TO_ALL",
		RuleConfig:      map[string]any{"evaluatorRole": "PEER"},
	}

	cases := []struct {
		name   string
		mutate func(*engine.DraftOptions)
	}{
		{"missing name", func(o *engine.DraftOptions) { o.Name = " " }},
		{"partial version", func(o *engine.DraftOptions) { o.SemanticVersion = "1.0" }},
		{"prefixed version", func(o *engine.DraftOptions) { o.SemanticVersion = "v1.0.0" }},
		{"unknown rule type", func(o *engine.DraftOptions) { o.RuleType = "RANDOM_PAIRS" }},
		{"empty config", func(o *engine.DraftOptions) { o.RuleConfig = nil }},
		{"unknown tenant", func(o *engine.DraftOptions) { o.TenantID = "nope" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := base
			tc.mutate(&opts)
			_, err := e.CreateDraft(ctx, opts)
			var ve engine.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestUpdateDraftOnlyWhileDraft(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	d := createDraft(t, e, "acme")

	updated, err := e.UpdateDraft(ctx, d.ID, engine.DraftOptions{
		TenantID:        "acme",
		Name:            "peer review v2",
		SemanticVersion: "1.1.0",
		RuleType:        "ROUND_ROBIN",
		RuleConfig:      map[string]any{"evaluatorsPerEvaluatee": 2},
		Actor:           "alice",
	})
	if err != nil {
		t.Fatalf("update draft: %v", err)
	}
	if updated.RuleType != "ROUND_ROBIN" || updated.SemanticVersion != "1.1.0" {
		t.Fatalf("updated = %+v", updated)
	}

	publishRule(t, e, d.ID)
	_, err = e.UpdateDraft(ctx, d.ID, engine.DraftOptions{
		TenantID:        "acme",
		Name:            "late edit",
		SemanticVersion: "1.2.0",
		RuleType:        "ALL_TO_ALL",
		RuleConfig:      map[string]any{"evaluatorRole": "PEER"},
	})
	var se engine.StateError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StateError", err)
	}
}

// publishRule walks the approval workflow: alice requests, bob approves.
func publishRule(t *testing.T, e engine.Engine, ruleID string) domain.PublishRequest {
	t.Helper()
	ctx := context.Background()
	req, err := e.RequestPublish(ctx, "acme", ruleID, "ROLLOUT", "ready", "alice")
	if err != nil {
		t.Fatalf("request publish: %v", err)
	}
	req, err = e.ApprovePublish(ctx, "acme", req.ID, "looks good", "bob")
	if err != nil {
		t.Fatalf("approve publish: %v", err)
	}
	return req
}

func TestRequestPublishRejectsDuplicatePending(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	d := createDraft(t, e, "acme")

	if _, err := e.RequestPublish(ctx, "acme", d.ID, "", "", "alice"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	_, err := e.RequestPublish(ctx, "acme", d.ID, "", "", "carol")
	var se engine.StateError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StateError", err)
	}
}

func TestApprovePublishEnforcesFourEyes(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	d := createDraft(t, e, "acme")
	req, err := e.RequestPublish(ctx, "acme", d.ID, "", "", "alice")
	if err != nil {
		t.Fatalf("request publish: %v", err)
	}

	_, err = e.ApprovePublish(ctx, "acme", req.ID, "", "alice")
	if err == nil || !strings.Contains(err.Error(), "4-eyes") {
		t.Fatalf("err = %v, want 4-eyes violation", err)
	}

	// request must still be pending and approvable by someone else
	req, err = e.ApprovePublish(ctx, "acme", req.ID, "", "bob")
	if err != nil {
		t.Fatalf("approve by bob: %v", err)
	}
	if req.Status != domain.PublishStatusApproved {
		t.Fatalf("status = %s", req.Status)
	}
}

func TestApprovePublishPromotesRule(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	d := createDraft(t, e, "acme")
	publishRule(t, e, d.ID)

	got, err := e.GetRule(ctx, "acme", d.ID)
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if got.Status != domain.RuleStatusPublished {
		t.Fatalf("status = %s, want PUBLISHED", got.Status)
	}
	if got.PublishedAt == nil || *got.PublishedAt != "2026-03-01T12:00:00Z" {
		t.Fatalf("publishedAt = %v", got.PublishedAt)
	}
}

func TestApprovePublishWithoutLockRecordsDecisionOnly(t *testing.T) {
	e := newTestEnv(t)
	e.Config.Admin.PublishLockEnabled = false
	ctx := context.Background()
	d := createDraft(t, e, "acme")
	req := publishRule(t, e, d.ID)

	if req.Status != domain.PublishStatusApproved {
		t.Fatalf("request status = %s", req.Status)
	}
	got, err := e.GetRule(ctx, "acme", d.ID)
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if got.Status != domain.RuleStatusDraft {
		t.Fatalf("rule status = %s, want DRAFT", got.Status)
	}
}

func TestRejectPublishLeavesRuleDraft(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	d := createDraft(t, e, "acme")
	req, err := e.RequestPublish(ctx, "acme", d.ID, "", "", "alice")
	if err != nil {
		t.Fatalf("request publish: %v", err)
	}
	req, err = e.RejectPublish(ctx, "acme", req.ID, "needs work", "bob")
	if err != nil {
		t.Fatalf("reject publish: %v", err)
	}
	if req.Status != domain.PublishStatusRejected || req.DecidedBy != "bob" {
		t.Fatalf("request = %+v", req)
	}
	got, err := e.GetRule(ctx, "acme", d.ID)
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if got.Status != domain.RuleStatusDraft {
		t.Fatalf("rule status = %s, want DRAFT", got.Status)
	}

	// a new request may be opened after rejection
	if _, err := e.RequestPublish(ctx, "acme", d.ID, "", "second try", "alice"); err != nil {
		t.Fatalf("second request: %v", err)
	}
}

func TestDeprecateRule(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	d := createDraft(t, e, "acme")
	publishRule(t, e, d.ID)

	got, err := e.DeprecateRule(ctx, "acme", d.ID, "replaced by v2", "bob")
	if err != nil {
		t.Fatalf("deprecate: %v", err)
	}
	if got.Status != domain.RuleStatusDeprecated {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestCrossTenantRuleIsNotFound(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	d := createDraft(t, e, "acme")

	_, err := e.GetRule(ctx, "globex", d.ID)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	_, err = e.DeprecateRule(ctx, "globex", d.ID, "", "mallory")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListRulesFiltersByStatus(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	d := createDraft(t, e, "acme")
	createDraft(t, e, "acme")
	publishRule(t, e, d.ID)

	published, err := e.ListRules(ctx, "acme", "published")
	if err != nil {
		t.Fatalf("list published: %v", err)
	}
	if len(published) != 1 || published[0].ID != d.ID {
		t.Fatalf("published = %+v", published)
	}
	all, err := e.ListRules(ctx, "acme", "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all = %d, want 2", len(all))
	}
}

func TestSimulateLeavesNoCampaignState(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	d := createDraft(t, e, "acme")

	res, err := e.Simulate(ctx, "acme", d.ID, "INLINE", testAudience(), false)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	// 4 participants all-to-all without self: 12 pairs
	if res.MatchCount != 12 {
		t.Fatalf("matchCount = %d, want 12", res.MatchCount)
	}
	if len(res.Exclusions) != 0 {
		t.Fatalf("exclusions = %d, want none outside diagnostic mode", len(res.Exclusions))
	}
	for _, m := range res.Matches {
		if !strings.Contains(m.Rationale, "ALL_TO_ALL") || !strings.Contains(m.Rationale, "evaluatorRole") {
			t.Fatalf("rationale = %q", m.Rationale)
		}
	}

	rows, err := e.Repo.ListAssignments(ctx, "00000000-0000-0000-0000-000000000000")
	if err != nil {
		t.Fatalf("list assignments: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("simulation persisted %d assignments", len(rows))
	}
}

func TestSimulateDiagnosticListsExclusions(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	d, err := e.CreateDraft(ctx, engine.DraftOptions{
		TenantID:        "acme",
		Name:            "manager chain",
		SemanticVersion: "1.0.0",
		RuleType:        "MANAGER_HIERARCHY",
		RuleConfig:      map[string]any{"requireKnownManager": true},
		Actor:           "alice",
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}

	res, err := e.Simulate(ctx, "acme", d.ID, "INLINE", testAudience(), true)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	// manager hierarchy selects m1 over r1,r2,r3; the other 13 of the 16
	// evaluator-evaluatee combinations are excluded
	if res.MatchCount != 3 {
		t.Fatalf("matchCount = %d, want 3", res.MatchCount)
	}
	if len(res.Exclusions) != 13 {
		t.Fatalf("exclusions = %d, want 13", len(res.Exclusions))
	}

	e.Config.Simulation.DiagnosticLimit = 5
	res, err = e.Simulate(ctx, "acme", d.ID, "INLINE", testAudience(), true)
	if err != nil {
		t.Fatalf("simulate capped: %v", err)
	}
	if len(res.Exclusions) != 5 {
		t.Fatalf("capped exclusions = %d, want 5", len(res.Exclusions))
	}
}

func newTestCampaign(t *testing.T, e engine.Engine, id string) domain.Campaign {
	t.Helper()
	c, err := campaign.NewLocal(e.DB).CreateCampaign(context.Background(), domain.Campaign{
		ID:       id,
		TenantID: "acme",
		Name:     "q1 review",
		Status:   "ACTIVE",
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return c
}

func TestPublishAssignmentsRequiresPublishedRule(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	d := createDraft(t, e, "acme")
	newTestCampaign(t, e, "c1")

	_, err := e.PublishAssignments(ctx, engine.PublishAssignmentsOptions{
		TenantID:             "acme",
		RuleID:               d.ID,
		CampaignID:           "c1",
		AudienceSourceType:   "INLINE",
		AudienceSourceConfig: testAudience(),
		Actor:                "alice",
	})
	var se engine.StateError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StateError", err)
	}
}

func TestPublishAssignmentsPersistsAndAudits(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	d := createDraft(t, e, "acme")
	publishRule(t, e, d.ID)
	newTestCampaign(t, e, "c1")

	res, err := e.PublishAssignments(ctx, engine.PublishAssignmentsOptions{
		TenantID:             "acme",
		RuleID:               d.ID,
		CampaignID:           "c1",
		AudienceSourceType:   "INLINE",
		AudienceSourceConfig: testAudience(),
		Actor:                "alice",
	})
	if err != nil {
		t.Fatalf("publish assignments: %v", err)
	}
	if len(res.Generated) != 12 {
		t.Fatalf("generated = %d, want 12", len(res.Generated))
	}

	rows, err := e.Repo.ListAssignments(ctx, "c1")
	if err != nil {
		t.Fatalf("list assignments: %v", err)
	}
	if len(rows) != 12 {
		t.Fatalf("persisted = %d, want 12", len(rows))
	}

	// idempotent re-run without replace adds nothing
	res, err = e.PublishAssignments(ctx, engine.PublishAssignmentsOptions{
		TenantID:             "acme",
		RuleID:               d.ID,
		CampaignID:           "c1",
		AudienceSourceType:   "INLINE",
		AudienceSourceConfig: testAudience(),
		Actor:                "alice",
	})
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if len(res.Generated) != 0 {
		t.Fatalf("second run generated = %d, want 0", len(res.Generated))
	}

	records, err := e.Repo.ListAuditRecords(ctx, "acme", 50)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	var published int
	for _, r := range records {
		if r.Action == "RULE_ASSIGNMENTS_PUBLISHED" && r.AggregateType == "CAMPAIGN" {
			published++
		}
	}
	if published != 2 {
		t.Fatalf("RULE_ASSIGNMENTS_PUBLISHED audit rows = %d, want 2", published)
	}
}

func TestPublishAssignmentsDryRun(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	d := createDraft(t, e, "acme")
	publishRule(t, e, d.ID)
	newTestCampaign(t, e, "c1")

	res, err := e.PublishAssignments(ctx, engine.PublishAssignmentsOptions{
		TenantID:             "acme",
		RuleID:               d.ID,
		CampaignID:           "c1",
		AudienceSourceType:   "INLINE",
		AudienceSourceConfig: testAudience(),
		DryRun:               true,
		Actor:                "alice",
	})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if len(res.Generated) != 12 {
		t.Fatalf("generated = %d, want 12", len(res.Generated))
	}
	rows, err := e.Repo.ListAssignments(ctx, "c1")
	if err != nil {
		t.Fatalf("list assignments: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("dry run persisted %d assignments", len(rows))
	}
}

func TestCapabilities(t *testing.T) {
	e := newTestEnv(t)
	caps := e.Capabilities()
	if len(caps.RuleTypes) != 4 || len(caps.AudienceTypes) != 2 {
		t.Fatalf("capabilities = %+v", caps)
	}
}
