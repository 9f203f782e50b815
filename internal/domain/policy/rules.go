package policy

import (
	"fmt"
	"strings"

	"sqlgate/internal/domain/query"
)

// Condition names an extra predicate on the statement. Conditions are data
// so that rule tables can be loaded from configuration.
type Condition string

const (
	CondAlways             Condition = ""
	CondTouchesSchema      Condition = "touches_schema"
	CondReferencesMetadata Condition = "references_metadata"
	CondBatch              Condition = "batch"
	CondUnparseable        Condition = "unparseable"
	CondOpaque             Condition = "opaque"
)

var conditions = map[Condition]func(query.Statement) bool{
	CondAlways:             func(query.Statement) bool { return true },
	CondTouchesSchema:      func(s query.Statement) bool { return s.TouchesSchema },
	CondReferencesMetadata: func(s query.Statement) bool { return s.ReferencesMetadata() },
	CondBatch:              func(s query.Statement) bool { return s.Batch },
	CondUnparseable:        func(s query.Statement) bool { return s.ParseError != "" },
	CondOpaque:             func(s query.Statement) bool { return s.Opaque },
}

// Rule matches a role, an optional set of statement kinds and an optional
// condition. An empty Kinds list matches every kind.
type Rule struct {
	Name    string
	Role    Role
	Kinds   []query.Kind
	When    Condition
	Verdict Verdict
}

// Matches reports whether the rule applies. An unknown condition panics;
// Engine.Evaluate turns that into the strictest verdict.
func (r Rule) Matches(role Role, stmt query.Statement) bool {
	if r.Role != role {
		return false
	}
	if len(r.Kinds) > 0 && !containsKind(r.Kinds, stmt.Kind) {
		return false
	}
	cond, ok := conditions[r.When]
	if !ok {
		panic(fmt.Sprintf("policy rule %q: unknown condition %q", r.Name, r.When))
	}
	return cond(stmt)
}

func containsKind(kinds []query.Kind, k query.Kind) bool {
	for _, candidate := range kinds {
		if candidate == k {
			return true
		}
	}
	return false
}

var (
	dataWrites   = []query.Kind{query.KindInsert, query.KindUpdate, query.KindDelete, query.KindDrop}
	schemaWrites = []query.Kind{query.KindCreate, query.KindAlter}
	allWrites    = append(append([]query.Kind{}, dataWrites...), schemaWrites...)
	nonSelect    = []query.Kind{
		query.KindOther, query.KindInsert, query.KindUpdate, query.KindDelete, query.KindDrop,
		query.KindCreate, query.KindAlter, query.KindSchemaMetadataAccess,
	}
	privilegedReads = []query.Kind{query.KindSelect, query.KindOther, query.KindSchemaMetadataAccess}
)

// DefaultRules is the rule table, in evaluation order. First match wins, so
// the most specific rejection is reported when several categories apply.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "user-data-modification", Role: RoleUnprivileged, Kinds: dataWrites,
			Verdict: Reject(ReasonDataModificationNotAllowed)},
		{Name: "user-schema-modification", Role: RoleUnprivileged, Kinds: schemaWrites,
			Verdict: Reject(ReasonSchemaModificationNotAllowed)},
		{Name: "user-schema-targets", Role: RoleUnprivileged, When: CondTouchesSchema,
			Verdict: Reject(ReasonSchemaModificationNotAllowed)},
		{Name: "user-metadata-reference", Role: RoleUnprivileged, When: CondReferencesMetadata,
			Verdict: Reject(ReasonSchemaVisibilityRestricted)},
		{Name: "user-metadata-statement", Role: RoleUnprivileged, Kinds: []query.Kind{query.KindSchemaMetadataAccess},
			Verdict: Reject(ReasonSchemaVisibilityRestricted)},
		{Name: "user-only-select", Role: RoleUnprivileged, Kinds: nonSelect,
			Verdict: Reject(ReasonOnlySelectAllowed)},
		{Name: "user-select", Role: RoleUnprivileged, Kinds: []query.Kind{query.KindSelect},
			Verdict: Allow()},
		{Name: "admin-write", Role: RolePrivileged, Kinds: allWrites,
			Verdict: RequireConfirmation()},
		{Name: "admin-batch", Role: RolePrivileged, When: CondBatch,
			Verdict: RequireConfirmation()},
		{Name: "admin-unparseable", Role: RolePrivileged, When: CondUnparseable,
			Verdict: RequireConfirmation()},
		{Name: "admin-opaque", Role: RolePrivileged, When: CondOpaque,
			Verdict: RequireConfirmation()},
		{Name: "admin-read", Role: RolePrivileged, Kinds: privilegedReads,
			Verdict: Allow()},
	}
}

// RuleSpec is the configuration form of a Rule.
type RuleSpec struct {
	Name     string   `mapstructure:"name"`
	Role     string   `mapstructure:"role"`
	Kinds    []string `mapstructure:"kinds"`
	When     string   `mapstructure:"when"`
	Decision string   `mapstructure:"decision"`
	Reason   string   `mapstructure:"reason"`
}

// CompileRules validates specs and turns them into rules. An empty list
// yields DefaultRules.
func CompileRules(specs []RuleSpec) ([]Rule, error) {
	if len(specs) == 0 {
		return DefaultRules(), nil
	}

	rules := make([]Rule, 0, len(specs))
	for i, spec := range specs {
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i+1)
		}

		role, err := ParseRole(spec.Role)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", name, err)
		}

		kinds := make([]query.Kind, 0, len(spec.Kinds))
		for _, k := range spec.Kinds {
			kind := query.ParseKind(k)
			if kind == query.KindOther && strings.ToLower(strings.TrimSpace(k)) != "other" {
				return nil, fmt.Errorf("rule %s: unknown statement kind %q", name, k)
			}
			kinds = append(kinds, kind)
		}

		when := Condition(strings.ToLower(strings.TrimSpace(spec.When)))
		if _, ok := conditions[when]; !ok {
			return nil, fmt.Errorf("rule %s: unknown condition %q", name, spec.When)
		}

		var verdict Verdict
		switch Decision(strings.ToLower(strings.TrimSpace(spec.Decision))) {
		case DecisionAllow:
			verdict = Allow()
		case DecisionRequireConfirmation:
			verdict = RequireConfirmation()
		case DecisionReject:
			reason := Reason(strings.ToUpper(strings.TrimSpace(spec.Reason)))
			if !knownReasons[reason] {
				return nil, fmt.Errorf("rule %s: unknown reject reason %q", name, spec.Reason)
			}
			verdict = Reject(reason)
		default:
			return nil, fmt.Errorf("rule %s: unknown decision %q", name, spec.Decision)
		}

		rules = append(rules, Rule{Name: name, Role: role, Kinds: kinds, When: when, Verdict: verdict})
	}
	return rules, nil
}
