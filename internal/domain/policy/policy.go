// Package policy maps (role, classified statement) to a verdict through an
// ordered rule table.
package policy

import (
	"fmt"
	"strings"
)

// Role is the caller's trust tier, resolved upstream.
type Role string

const (
	RoleUnprivileged Role = "user"
	RolePrivileged   Role = "admin"
)

// ParseRole accepts the tier names and their common aliases.
func ParseRole(value string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "user", "unprivileged", "viewer":
		return RoleUnprivileged, nil
	case "admin", "privileged":
		return RolePrivileged, nil
	}
	return "", fmt.Errorf("unknown role %q", value)
}

// Decision is the verdict tag.
type Decision string

const (
	DecisionAllow               Decision = "allow"
	DecisionReject              Decision = "reject"
	DecisionRequireConfirmation Decision = "require_confirmation"
)

// Reason explains a rejection. It is for logs and audit only.
type Reason string

const (
	ReasonNone                         Reason = ""
	ReasonDataModificationNotAllowed   Reason = "DATA_MODIFICATION_NOT_ALLOWED"
	ReasonSchemaModificationNotAllowed Reason = "SCHEMA_MODIFICATION_NOT_ALLOWED"
	ReasonSchemaVisibilityRestricted   Reason = "SCHEMA_VISIBILITY_RESTRICTED"
	ReasonOnlySelectAllowed            Reason = "ONLY_SELECT_ALLOWED"
	ReasonUnknownRole                  Reason = "UNKNOWN_ROLE"
)

var knownReasons = map[Reason]bool{
	ReasonDataModificationNotAllowed:   true,
	ReasonSchemaModificationNotAllowed: true,
	ReasonSchemaVisibilityRestricted:   true,
	ReasonOnlySelectAllowed:            true,
	ReasonUnknownRole:                  true,
}

// Verdict is the outcome of policy evaluation.
type Verdict struct {
	Decision Decision
	Reason   Reason
	// Rule names the rule that produced the verdict.
	Rule string
}

func Allow() Verdict { return Verdict{Decision: DecisionAllow} }

func Reject(reason Reason) Verdict { return Verdict{Decision: DecisionReject, Reason: reason} }

func RequireConfirmation() Verdict { return Verdict{Decision: DecisionRequireConfirmation} }

func (v Verdict) Allowed() bool { return v.Decision == DecisionAllow }

func (v Verdict) Rejected() bool { return v.Decision == DecisionReject }

func (v Verdict) NeedsConfirmation() bool { return v.Decision == DecisionRequireConfirmation }

func (v Verdict) String() string {
	if v.Reason != ReasonNone {
		return fmt.Sprintf("%s(%s)", v.Decision, v.Reason)
	}
	return string(v.Decision)
}
