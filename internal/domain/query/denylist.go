package query

import (
	"path"
	"strings"
)

// DefaultDenyList covers the catalog and system views of the dialects the
// service is deployed against (PostgreSQL, SQLite, MySQL, SQL Server).
var DefaultDenyList = []string{
	"information_schema",
	"pg_catalog",
	"pg_*",
	"sqlite_master",
	"sqlite_schema",
	"sqlite_temp_master",
	"sqlite_temp_schema",
	"mysql",
	"performance_schema",
	"sys",
	"sysobjects",
	"syscolumns",
}

// DenyList matches object names against configured glob patterns,
// case-insensitively. A pattern matches a qualified name when it matches
// the whole name or any single segment of it.
type DenyList struct {
	patterns []string
}

// NewDenyList normalizes patterns; empty entries are dropped.
func NewDenyList(patterns []string) DenyList {
	normalized := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		normalized = append(normalized, p)
	}
	return DenyList{patterns: normalized}
}

// Patterns returns a copy of the normalized patterns.
func (d DenyList) Patterns() []string {
	return append([]string(nil), d.patterns...)
}

// Match reports whether name (dotted, any case) is deny-listed.
func (d DenyList) Match(name string) bool {
	name = strings.ToLower(name)
	if name == "" {
		return false
	}
	segments := strings.Split(name, ".")
	for _, p := range d.patterns {
		if globMatch(p, name) {
			return true
		}
		if strings.Contains(p, ".") {
			continue
		}
		for _, seg := range segments {
			if globMatch(p, seg) {
				return true
			}
		}
	}
	return false
}

func globMatch(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	if err != nil {
		// A malformed pattern still denies its literal spelling.
		return pattern == name
	}
	return ok
}
