package query

import (
	"strconv"
	"strings"
)

// Sanitizer enforces a row cap on read statements. It only touches the
// row-limiting clause; filters, joins and projections are left as written.
type Sanitizer struct {
	DefaultLimit int
	MaxLimit     int
}

// NewSanitizer returns a sanitizer; a default above the maximum is lowered to it.
func NewSanitizer(defaultLimit, maxLimit int) Sanitizer {
	if maxLimit < 1 {
		maxLimit = 1
	}
	if defaultLimit < 1 || defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	return Sanitizer{DefaultLimit: defaultLimit, MaxLimit: maxLimit}
}

// Apply returns the statement with its row cap enforced. Statements that
// are not single row-returning reads are returned unchanged. Applying it to
// its own output is a no-op.
func (s Sanitizer) Apply(stmt Statement) Statement {
	if !stmt.Returns || stmt.Batch || stmt.ParseError != "" {
		return stmt
	}
	if capped, ok := s.capText(stmt.SQL); ok {
		stmt.SQL = capped
	}
	return stmt
}

func (s Sanitizer) capText(sql string) (string, bool) {
	tokens, err := tokenize(sql)
	if err != nil {
		return sql, false
	}
	last := len(tokens) - 1
	for last >= 0 && tokens[last].punct(";") {
		last--
	}
	if last < 0 {
		return sql, false
	}
	tokens = tokens[:last+1]

	limitAt, fetchAt := -1, -1
	depth := 0
	for i, t := range tokens {
		switch {
		case t.punct("("):
			depth++
		case t.punct(")"):
			depth--
		case depth == 0 && t.is("LIMIT"):
			limitAt = i
		case depth == 0 && t.is("FETCH") && i+1 < len(tokens) && tokens[i+1].is("FIRST", "NEXT"):
			fetchAt = i
		}
	}

	switch {
	case limitAt >= 0:
		return s.clampLimit(sql, tokens, limitAt)
	case fetchAt >= 0:
		return s.clampFetch(sql, tokens, fetchAt)
	}
	end := tokens[last].end
	return sql[:end] + " LIMIT " + strconv.Itoa(s.DefaultLimit) + sql[end:], true
}

// clampLimit handles LIMIT n, LIMIT offset, n and LIMIT <anything else>.
func (s Sanitizer) clampLimit(sql string, tokens []token, at int) (string, bool) {
	start := at + 1
	end := start
	depth := 0
	for end < len(tokens) {
		t := tokens[end]
		if t.punct("(") {
			depth++
		} else if t.punct(")") {
			depth--
		} else if depth == 0 && t.is("OFFSET", "FOR", "FETCH") {
			break
		}
		end++
	}
	expr := tokens[start:end]

	switch {
	case len(expr) == 0:
		return s.splice(sql, tokens[at].end, tokens[at].end, " "+strconv.Itoa(s.MaxLimit)), true
	case len(expr) == 1 && expr[0].typ == tokNumber:
		return s.clampNumber(sql, expr[0])
	case len(expr) == 3 && expr[0].typ == tokNumber && expr[1].punct(",") && expr[2].typ == tokNumber:
		return s.clampNumber(sql, expr[2])
	}
	return s.splice(sql, expr[0].start, expr[len(expr)-1].end, strconv.Itoa(s.MaxLimit)), true
}

// clampFetch handles FETCH {FIRST|NEXT} [n] {ROW|ROWS} {ONLY|WITH TIES}.
func (s Sanitizer) clampFetch(sql string, tokens []token, at int) (string, bool) {
	i := at + 2
	if i >= len(tokens) {
		return sql, false
	}
	if tokens[i].is("ROW", "ROWS") {
		// Omitted count means one row.
		return sql, false
	}
	if tokens[i].typ == tokNumber && i+1 < len(tokens) && tokens[i+1].is("ROW", "ROWS") {
		return s.clampNumber(sql, tokens[i])
	}
	end := i
	for end < len(tokens) && !tokens[end].is("ROW", "ROWS") {
		end++
	}
	if end == i || end >= len(tokens) {
		return sql, false
	}
	return s.splice(sql, tokens[i].start, tokens[end-1].end, strconv.Itoa(s.MaxLimit)), true
}

func (s Sanitizer) clampNumber(sql string, t token) (string, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(t.text), 10, 64)
	if err == nil && n <= int64(s.MaxLimit) && n >= 0 {
		return sql, false
	}
	return s.splice(sql, t.start, t.end, strconv.Itoa(s.MaxLimit)), true
}

func (s Sanitizer) splice(sql string, from, to int, with string) string {
	return sql[:from] + with + sql[to:]
}
