package assign

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"evalline/internal/domain"
)

// Rule types supported by the engine.
const (
	RuleAllToAll         = "ALL_TO_ALL"
	RuleRoundRobin       = "ROUND_ROBIN"
	RuleManagerHierarchy = "MANAGER_HIERARCHY"
	RuleAttributeMatch   = "ATTRIBUTE_MATCH"
)

// Audience source types. Both resolve to the same inline participant
// extraction; the distinction matters to the audience side, not here.
const (
	AudienceInline            = "INLINE"
	AudienceDirectorySnapshot = "DIRECTORY_SNAPSHOT"
)

// Evaluator roles.
const (
	RolePeer         = "PEER"
	RoleSupervisor   = "SUPERVISOR"
	RoleSelf         = "SELF"
	RoleDirectReport = "DIRECT_REPORT"
	RoleExternal     = "EXTERNAL"
)

// RuleTypes returns the supported rule types in a stable order.
func RuleTypes() []string {
	return []string{RuleAllToAll, RuleAttributeMatch, RuleManagerHierarchy, RuleRoundRobin}
}

// AudienceTypes returns the supported audience source types in a stable order.
func AudienceTypes() []string {
	return []string{AudienceDirectorySnapshot, AudienceInline}
}

var knownRoles = map[string]bool{
	RolePeer:         true,
	RoleSupervisor:   true,
	RoleSelf:         true,
	RoleDirectReport: true,
	RoleExternal:     true,
}

// reserved participant keys never copied into the attribute bag.
var reservedParticipantKeys = map[string]bool{
	"userId":       true,
	"id":           true,
	"supervisorId": true,
	"managerId":    true,
	"attributes":   true,
}

// Participant is one audience member, normalized for matching. Built fresh
// from the audience source config on every call, never persisted.
type Participant struct {
	UserID       string
	SupervisorID string
	Attributes   map[string]any
}

// Options is the rule configuration after boundary validation. Each rule
// type reads the subset that applies to it.
type Options struct {
	Role            string
	AllowSelf       bool
	MaxPerEvaluatee int // ALL_TO_ALL, ATTRIBUTE_MATCH
	PerEvaluatee    int // ROUND_ROBIN
	RequireKnownMgr bool
	MatchAttribute  string
	rawKeys         []string
}

// ConfigKeys lists the keys present in the raw rule config, sorted.
// Used by simulation rationales.
func (o Options) ConfigKeys() []string { return o.rawKeys }

// ParseOptions validates a raw rule config for the given rule type. Fails on
// unknown roles or malformed numeric values; unknown keys are tolerated.
func ParseOptions(ruleType string, config map[string]any) (Options, error) {
	opts := Options{
		Role:            RolePeer,
		MaxPerEvaluatee: math.MaxInt,
		PerEvaluatee:    1,
		RequireKnownMgr: true,
		MatchAttribute:  "department",
	}
	if ruleType == RuleManagerHierarchy {
		opts.Role = RoleSupervisor
	}
	if ruleType == RuleAttributeMatch {
		opts.MaxPerEvaluatee = 3
	}
	for k := range config {
		opts.rawKeys = append(opts.rawKeys, k)
	}
	sort.Strings(opts.rawKeys)

	if v, ok := config["evaluatorRole"]; ok {
		role := strings.ToUpper(strings.TrimSpace(asString(v)))
		if role != "" {
			if !knownRoles[role] {
				return Options{}, fmt.Errorf("unknown evaluatorRole %q", role)
			}
			opts.Role = role
		}
	}
	var err error
	if opts.AllowSelf, err = boolOpt(config, "allowSelfEvaluation", false); err != nil {
		return Options{}, err
	}
	// MANAGER_HIERARCHY historically spells the self flag differently.
	if ruleType == RuleManagerHierarchy {
		if opts.AllowSelf, err = boolOpt(config, "includeSelfEvaluation", opts.AllowSelf); err != nil {
			return Options{}, err
		}
		if opts.RequireKnownMgr, err = boolOpt(config, "requireKnownManager", true); err != nil {
			return Options{}, err
		}
	}
	if opts.MaxPerEvaluatee, err = intOpt(config, "maxEvaluatorsPerEvaluatee", opts.MaxPerEvaluatee); err != nil {
		return Options{}, err
	}
	if ruleType == RuleAttributeMatch && opts.MaxPerEvaluatee < 1 {
		opts.MaxPerEvaluatee = 1
	}
	if opts.PerEvaluatee, err = intOpt(config, "evaluatorsPerEvaluatee", 1); err != nil {
		return Options{}, err
	}
	if opts.PerEvaluatee < 1 {
		opts.PerEvaluatee = 1
	}
	if v, ok := config["matchAttribute"]; ok {
		if s := strings.TrimSpace(asString(v)); s != "" {
			opts.MatchAttribute = s
		}
	}
	return opts, nil
}

// Generate computes evaluator-to-evaluatee assignments for a campaign.
// It is a pure function: deterministic given deterministic participant
// ordering, no I/O, no shared state across calls. When replaceExisting is
// false, pairs already present in existing are never produced again, which
// makes repeated calls incremental and idempotent.
func Generate(
	campaignID string,
	audienceSourceType string,
	audienceSourceConfig map[string]any,
	ruleType string,
	ruleConfig map[string]any,
	existing []domain.GeneratedAssignment,
	replaceExisting bool,
) ([]domain.GeneratedAssignment, error) {
	sourceType, err := normalize("audienceSourceType", audienceSourceType)
	if err != nil {
		return nil, err
	}
	rule, err := normalize("ruleType", ruleType)
	if err != nil {
		return nil, err
	}
	participants, err := ReadParticipants(sourceType, audienceSourceConfig)
	if err != nil {
		return nil, err
	}
	if len(participants) == 0 {
		return nil, fmt.Errorf("audience source has no participants")
	}
	opts, err := ParseOptions(rule, ruleConfig)
	if err != nil {
		return nil, err
	}

	acc := newAccumulator(campaignID)
	if !replaceExisting {
		for _, a := range existing {
			acc.markExisting(a.EvaluatorID, a.EvaluateeID, a.EvaluatorRole)
		}
	}

	switch rule {
	case RuleAllToAll:
		allToAll(acc, participants, opts)
	case RuleRoundRobin:
		roundRobin(acc, participants, opts)
	case RuleManagerHierarchy:
		managerHierarchy(acc, participants, opts)
	case RuleAttributeMatch:
		attributeMatch(acc, participants, opts)
	default:
		return nil, fmt.Errorf("unsupported ruleType: %s", rule)
	}
	return acc.out, nil
}

// ReadParticipants extracts the participant list from an audience source
// config. Entries without a usable user id are skipped silently.
func ReadParticipants(sourceType string, sourceConfig map[string]any) ([]Participant, error) {
	if sourceType != AudienceInline && sourceType != AudienceDirectorySnapshot {
		return nil, fmt.Errorf("unsupported audienceSourceType: %s", sourceType)
	}
	raw, ok := sourceConfig["participants"].([]any)
	if !ok {
		return nil, fmt.Errorf("audienceSourceConfig.participants must be an array")
	}
	var participants []Participant
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		userID := firstText(entry["userId"], entry["id"])
		if userID == "" {
			continue
		}
		attrs := map[string]any{}
		if m, ok := entry["attributes"].(map[string]any); ok {
			for k, v := range m {
				attrs[k] = v
			}
		}
		for k, v := range entry {
			if reservedParticipantKeys[k] {
				continue
			}
			if _, present := attrs[k]; !present {
				attrs[k] = v
			}
		}
		participants = append(participants, Participant{
			UserID:       userID,
			SupervisorID: firstText(entry["supervisorId"], entry["managerId"]),
			Attributes:   attrs,
		})
	}
	return participants, nil
}

// accumulator collects pairs in insertion order while rejecting duplicates
// by dedup key. Call-scoped; never shared between invocations.
type accumulator struct {
	campaignID string
	seen       map[string]bool
	out        []domain.GeneratedAssignment
}

func newAccumulator(campaignID string) *accumulator {
	return &accumulator{campaignID: campaignID, seen: map[string]bool{}}
}

func dedupKey(evaluatorID, evaluateeID, role string) string {
	return evaluatorID + "|" + evaluateeID + "|" + role
}

func (a *accumulator) markExisting(evaluatorID, evaluateeID, role string) {
	a.seen[dedupKey(evaluatorID, evaluateeID, role)] = true
}

// add appends a pair unless its dedup key was already produced or supplied.
func (a *accumulator) add(evaluatorID, evaluateeID, role string) bool {
	key := dedupKey(evaluatorID, evaluateeID, role)
	if a.seen[key] {
		return false
	}
	a.seen[key] = true
	a.out = append(a.out, domain.GeneratedAssignment{
		ID:            uuid.New().String(),
		CampaignID:    a.campaignID,
		EvaluatorID:   evaluatorID,
		EvaluateeID:   evaluateeID,
		EvaluatorRole: role,
		Completed:     false,
	})
	return true
}

func allToAll(acc *accumulator, participants []Participant, opts Options) {
	for _, evaluatee := range participants {
		assigned := 0
		for _, evaluator := range participants {
			if !opts.AllowSelf && evaluator.UserID == evaluatee.UserID {
				continue
			}
			if assigned >= opts.MaxPerEvaluatee {
				break
			}
			if acc.add(evaluator.UserID, evaluatee.UserID, opts.Role) {
				assigned++
			}
		}
	}
}

func roundRobin(acc *accumulator, participants []Participant, opts Options) {
	offset := 0
	n := len(participants)
	for _, evaluatee := range participants {
		assigned := 0
		attempts := 0
		// probe bound guarantees termination when the pool cannot satisfy
		// the requested evaluator count
		for assigned < opts.PerEvaluatee && attempts < n*2 {
			evaluator := participants[(offset+attempts)%n]
			attempts++
			if !opts.AllowSelf && evaluator.UserID == evaluatee.UserID {
				continue
			}
			if acc.add(evaluator.UserID, evaluatee.UserID, opts.Role) {
				assigned++
			}
		}
		offset = (offset + 1) % n
	}
}

func managerHierarchy(acc *accumulator, participants []Participant, opts Options) {
	known := map[string]bool{}
	for _, p := range participants {
		known[p.UserID] = true
	}
	for _, evaluatee := range participants {
		managerID := evaluatee.SupervisorID
		if managerID == "" {
			continue
		}
		if opts.RequireKnownMgr && !known[managerID] {
			continue
		}
		if !opts.AllowSelf && managerID == evaluatee.UserID {
			continue
		}
		acc.add(managerID, evaluatee.UserID, opts.Role)
	}
}

func attributeMatch(acc *accumulator, participants []Participant, opts Options) {
	for _, evaluatee := range participants {
		want, ok := evaluatee.Attributes[opts.MatchAttribute]
		if !ok || want == nil {
			continue
		}
		assigned := 0
		for _, evaluator := range participants {
			if !opts.AllowSelf && evaluator.UserID == evaluatee.UserID {
				continue
			}
			if !attrEqual(evaluator.Attributes[opts.MatchAttribute], want) {
				continue
			}
			if acc.add(evaluator.UserID, evaluatee.UserID, opts.Role) {
				assigned++
				if assigned >= opts.MaxPerEvaluatee {
					break
				}
			}
		}
	}
}

// attrEqual compares attribute values without coercion, so a numeric 1 never
// matches the string "1".
func attrEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func normalize(field, value string) (string, error) {
	v := strings.ToUpper(strings.TrimSpace(value))
	if v == "" {
		return "", fmt.Errorf("%s is required", field)
	}
	return v, nil
}

func boolOpt(config map[string]any, key string, fallback bool) (bool, error) {
	v, ok := config[key]
	if !ok || v == nil {
		return fallback, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, fmt.Errorf("%s must be a boolean: %w", key, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%s must be a boolean", key)
	}
}

func intOpt(config map[string]any, key string, fallback int) (int, error) {
	v, ok := config[key]
	if !ok || v == nil {
		return fallback, nil
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s must be an integer", key)
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func firstText(values ...any) string {
	for _, v := range values {
		if v == nil {
			continue
		}
		if s := strings.TrimSpace(asString(v)); s != "" {
			return s
		}
	}
	return ""
}
