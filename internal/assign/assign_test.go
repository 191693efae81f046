package assign_test

import (
	"testing"

	"evalline/internal/assign"
	"evalline/internal/domain"
)

// Five participants: two managers (engineering, sales) and three reports.
func audience() map[string]any {
	return map[string]any{
		"participants": []any{
			map[string]any{"userId": "m1", "department": "engineering"},
			map[string]any{"userId": "m2", "department": "sales"},
			map[string]any{"userId": "r1", "managerId": "m1", "department": "engineering"},
			map[string]any{"userId": "r2", "managerId": "m1", "department": "engineering"},
			map[string]any{"userId": "r3", "managerId": "m2", "department": "sales"},
		},
	}
}

func generate(t *testing.T, ruleType string, ruleConfig map[string]any, existing []domain.GeneratedAssignment, replace bool) []domain.GeneratedAssignment {
	t.Helper()
	out, err := assign.Generate("camp-1", "INLINE", audience(), ruleType, ruleConfig, existing, replace)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return out
}

func TestAllToAll(t *testing.T) {
	out := generate(t, "ALL_TO_ALL", map[string]any{"allowSelfEvaluation": false}, nil, true)
	if len(out) != 20 {
		t.Fatalf("expected 20 assignments, got %d", len(out))
	}
	for _, a := range out {
		if a.EvaluatorID == a.EvaluateeID {
			t.Fatalf("self evaluation generated for %s", a.EvaluatorID)
		}
		if a.EvaluatorRole != "PEER" {
			t.Fatalf("expected PEER role, got %s", a.EvaluatorRole)
		}
		if a.Completed || a.EvaluationID != nil {
			t.Fatalf("assignment must start incomplete")
		}
	}
}

func TestAllToAllMaxPerEvaluatee(t *testing.T) {
	out := generate(t, "ALL_TO_ALL", map[string]any{"maxEvaluatorsPerEvaluatee": 1}, nil, true)
	if len(out) != 5 {
		t.Fatalf("expected 5 assignments, got %d", len(out))
	}
}

func TestAllToAllExplicitZeroCap(t *testing.T) {
	// an explicit cap of zero means zero evaluators per evaluatee, it is not
	// an unbounded sentinel
	out := generate(t, "ALL_TO_ALL", map[string]any{"maxEvaluatorsPerEvaluatee": 0}, nil, true)
	if len(out) != 0 {
		t.Fatalf("expected 0 assignments with zero cap, got %d", len(out))
	}
	out = generate(t, "ALL_TO_ALL", map[string]any{}, nil, true)
	if len(out) != 20 {
		t.Fatalf("omitted cap must stay unbounded, got %d", len(out))
	}
}

func TestRoundRobinTwoEvaluators(t *testing.T) {
	out := generate(t, "ROUND_ROBIN", map[string]any{"evaluatorsPerEvaluatee": 2}, nil, true)
	if len(out) != 10 {
		t.Fatalf("expected 10 assignments, got %d", len(out))
	}
	evaluators := map[string]map[string]bool{}
	for _, a := range out {
		if a.EvaluatorID == a.EvaluateeID {
			t.Fatalf("self evaluation generated for %s", a.EvaluatorID)
		}
		if evaluators[a.EvaluateeID] == nil {
			evaluators[a.EvaluateeID] = map[string]bool{}
		}
		evaluators[a.EvaluateeID][a.EvaluatorID] = true
	}
	for evaluatee, set := range evaluators {
		if len(set) != 2 {
			t.Fatalf("evaluatee %s has %d distinct evaluators, want 2", evaluatee, len(set))
		}
	}
}

func TestRoundRobinTerminatesOnSmallPool(t *testing.T) {
	small := map[string]any{"participants": []any{
		map[string]any{"userId": "a"},
		map[string]any{"userId": "b"},
	}}
	// pool cannot provide 3 distinct evaluators; the probe bound must stop it
	out, err := assign.Generate("camp-1", "INLINE", small, "ROUND_ROBIN", map[string]any{"evaluatorsPerEvaluatee": 3}, nil, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(out))
	}
}

func TestManagerHierarchy(t *testing.T) {
	out := generate(t, "MANAGER_HIERARCHY", map[string]any{"requireKnownManager": true}, nil, true)
	if len(out) != 3 {
		t.Fatalf("expected 3 assignments, got %d", len(out))
	}
	for _, a := range out {
		if a.EvaluatorRole != "SUPERVISOR" {
			t.Fatalf("expected SUPERVISOR role, got %s", a.EvaluatorRole)
		}
	}
}

func TestManagerHierarchyUnknownManager(t *testing.T) {
	src := map[string]any{"participants": []any{
		map[string]any{"userId": "r1", "managerId": "ghost"},
	}}
	out, err := assign.Generate("camp-1", "INLINE", src, "MANAGER_HIERARCHY", map[string]any{}, nil, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("unknown manager must be skipped, got %d assignments", len(out))
	}
	out, err = assign.Generate("camp-1", "INLINE", src, "MANAGER_HIERARCHY", map[string]any{"requireKnownManager": false}, nil, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(out) != 1 || out[0].EvaluatorID != "ghost" {
		t.Fatalf("expected ghost manager assignment, got %+v", out)
	}
}

func TestAttributeMatch(t *testing.T) {
	out := generate(t, "ATTRIBUTE_MATCH", map[string]any{"matchAttribute": "department", "maxEvaluatorsPerEvaluatee": 2}, nil, true)
	// engineering has 3 members (2 evaluators each), sales has 2 (1 each): 3*2+2*1
	if len(out) != 8 {
		t.Fatalf("expected 8 assignments, got %d", len(out))
	}
	for _, a := range out {
		if a.EvaluatorID == a.EvaluateeID {
			t.Fatalf("self evaluation generated for %s", a.EvaluatorID)
		}
	}
}

func TestAttributeMatchSkipsMissingAttribute(t *testing.T) {
	src := map[string]any{"participants": []any{
		map[string]any{"userId": "a", "department": "eng"},
		map[string]any{"userId": "b"},
	}}
	out, err := assign.Generate("camp-1", "INLINE", src, "ATTRIBUTE_MATCH", map[string]any{"matchAttribute": "department"}, nil, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no assignments, got %d", len(out))
	}
}

func TestAttributeMatchIsTypeSensitive(t *testing.T) {
	src := map[string]any{"participants": []any{
		map[string]any{"userId": "a", "grade": 1},
		map[string]any{"userId": "b", "grade": "1"},
		map[string]any{"userId": "c", "grade": 1},
	}}
	out, err := assign.Generate("camp-1", "INLINE", src, "ATTRIBUTE_MATCH", map[string]any{"matchAttribute": "grade"}, nil, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	// the numeric grade never matches the string grade, so only a and c pair up
	if len(out) != 2 {
		t.Fatalf("expected 2 assignments, got %d: %+v", len(out), out)
	}
	for _, a := range out {
		if a.EvaluatorID == "b" || a.EvaluateeID == "b" {
			t.Fatalf("string grade matched numeric grade: %+v", a)
		}
	}
}

func TestGenerateIsIdempotent(t *testing.T) {
	first := generate(t, "ALL_TO_ALL", map[string]any{}, nil, true)
	second := generate(t, "ALL_TO_ALL", map[string]any{}, first, false)
	if len(second) != 0 {
		t.Fatalf("second generation should add nothing, got %d", len(second))
	}
}

func TestGenerateIncremental(t *testing.T) {
	first := generate(t, "ROUND_ROBIN", map[string]any{"evaluatorsPerEvaluatee": 1}, nil, true)
	if len(first) != 5 {
		t.Fatalf("expected 5 assignments, got %d", len(first))
	}
	// a second run never reuses pairs from the first batch; dedup-skipped
	// probes do not count toward the per-evaluatee quota
	more := generate(t, "ROUND_ROBIN", map[string]any{"evaluatorsPerEvaluatee": 2}, first, false)
	if len(more) != 10 {
		t.Fatalf("expected 10 additional assignments, got %d", len(more))
	}
	seen := map[string]bool{}
	for _, a := range append(first, more...) {
		key := a.EvaluatorID + "|" + a.EvaluateeID + "|" + a.EvaluatorRole
		if seen[key] {
			t.Fatalf("duplicate pair %s", key)
		}
		seen[key] = true
	}
}

func TestReplaceExistingIgnoresPriorAssignments(t *testing.T) {
	first := generate(t, "ALL_TO_ALL", map[string]any{}, nil, true)
	again := generate(t, "ALL_TO_ALL", map[string]any{}, first, true)
	if len(again) != len(first) {
		t.Fatalf("replace run should regenerate all %d pairs, got %d", len(first), len(again))
	}
}

func TestSelfEvaluationAllowed(t *testing.T) {
	out := generate(t, "ALL_TO_ALL", map[string]any{"allowSelfEvaluation": true, "evaluatorRole": "SELF"}, nil, true)
	if len(out) != 25 {
		t.Fatalf("expected 25 assignments, got %d", len(out))
	}
}

func TestUnsupportedRuleType(t *testing.T) {
	if _, err := assign.Generate("camp-1", "INLINE", audience(), "LOTTERY", nil, nil, true); err == nil {
		t.Fatalf("expected error for unsupported rule type")
	}
}

func TestUnsupportedAudienceType(t *testing.T) {
	if _, err := assign.Generate("camp-1", "CSV_UPLOAD", audience(), "ALL_TO_ALL", nil, nil, true); err == nil {
		t.Fatalf("expected error for unsupported audience type")
	}
}

func TestEmptyAudience(t *testing.T) {
	src := map[string]any{"participants": []any{}}
	if _, err := assign.Generate("camp-1", "INLINE", src, "ALL_TO_ALL", nil, nil, true); err == nil {
		t.Fatalf("expected error for empty audience")
	}
}

func TestUnknownEvaluatorRole(t *testing.T) {
	if _, err := assign.Generate("camp-1", "INLINE", audience(), "ALL_TO_ALL", map[string]any{"evaluatorRole": "JUDGE"}, nil, true); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestReadParticipants(t *testing.T) {
	src := map[string]any{"participants": []any{
		map[string]any{"id": "u1", "supervisorId": "u2", "attributes": map[string]any{"department": "eng"}, "location": "berlin", "department": "overridden"},
		map[string]any{"userId": "  "},
		"not-a-map",
	}}
	got, err := assign.ReadParticipants("DIRECTORY_SNAPSHOT", src)
	if err != nil {
		t.Fatalf("read participants: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 participant, got %d", len(got))
	}
	p := got[0]
	if p.UserID != "u1" || p.SupervisorID != "u2" {
		t.Fatalf("unexpected identity fields: %+v", p)
	}
	// explicit attributes win over top-level duplicates
	if p.Attributes["department"] != "eng" {
		t.Fatalf("explicit attribute overridden: %v", p.Attributes["department"])
	}
	if p.Attributes["location"] != "berlin" {
		t.Fatalf("top-level attribute missing: %v", p.Attributes)
	}
	if _, ok := p.Attributes["supervisorId"]; ok {
		t.Fatalf("reserved key leaked into attributes")
	}
}
