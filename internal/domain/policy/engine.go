package policy

import "sqlgate/internal/domain/query"

// Engine evaluates a rule table. It is pure and safe for concurrent use.
type Engine struct {
	rules []Rule
}

// NewEngine copies the rule table; nil means DefaultRules.
func NewEngine(rules []Rule) *Engine {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Engine{rules: append([]Rule(nil), rules...)}
}

// Rules returns a copy of the rule table.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Evaluate returns the verdict of the first matching rule. When nothing
// matches, or evaluation fails, the strictest verdict for the role is returned.
func (e *Engine) Evaluate(role Role, stmt query.Statement) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			verdict = Strictest(role)
			verdict.Rule = "recovered"
		}
	}()

	for _, rule := range e.rules {
		if rule.Matches(role, stmt) {
			v := rule.Verdict
			v.Rule = rule.Name
			return v
		}
	}
	return Strictest(role)
}

// Strictest is the fallback verdict: deny for the unprivileged tier,
// confirmation for the privileged one, deny for anything else.
func Strictest(role Role) Verdict {
	var v Verdict
	switch role {
	case RoleUnprivileged:
		v = Reject(ReasonOnlySelectAllowed)
	case RolePrivileged:
		v = RequireConfirmation()
	default:
		v = Reject(ReasonUnknownRole)
	}
	v.Rule = "default"
	return v
}
