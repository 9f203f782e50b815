package query

import "strings"

var leadingKinds = map[string]Kind{
	"SELECT":   KindSelect,
	"VALUES":   KindSelect,
	"TABLE":    KindSelect,
	"INSERT":   KindInsert,
	"REPLACE":  KindInsert,
	"UPSERT":   KindInsert,
	"MERGE":    KindInsert,
	"UPDATE":   KindUpdate,
	"DELETE":   KindDelete,
	"TRUNCATE": KindDelete,
	"DROP":     KindDrop,
	"CREATE":   KindCreate,
	"ALTER":    KindAlter,
	"RENAME":   KindAlter,
	"GRANT":    KindAlter,
	"REVOKE":   KindAlter,
	"COMMENT":  KindAlter,
	"SHOW":     KindSchemaMetadataAccess,
	"DESCRIBE": KindSchemaMetadataAccess,
	"DESC":     KindSchemaMetadataAccess,
	"PRAGMA":   KindSchemaMetadataAccess,
}

// Verbs that turn an otherwise read-looking statement (WITH, EXPLAIN, ...)
// into a write when they appear in its body.
var embeddedVerbs = map[string]Kind{
	"INSERT":   KindInsert,
	"MERGE":    KindInsert,
	"UPDATE":   KindUpdate,
	"DELETE":   KindDelete,
	"TRUNCATE": KindDelete,
	"DROP":     KindDrop,
	"CREATE":   KindCreate,
	"ALTER":    KindAlter,
	"GRANT":    KindAlter,
	"REVOKE":   KindAlter,
}

// Statements whose effect is hidden from the lexer: procedural bodies,
// server-side file I/O, stored procedures and maintenance commands.
var opaqueVerbs = map[string]bool{
	"DO": true, "COPY": true, "CALL": true, "EXECUTE": true, "EXEC": true,
	"VACUUM": true, "LOAD": true, "IMPORT": true, "ATTACH": true, "DETACH": true,
}

var ddlVerbs = map[string]bool{
	"CREATE": true, "ALTER": true, "DROP": true,
	"RENAME": true, "COMMENT": true, "GRANT": true, "REVOKE": true,
}

var schemaObjectWords = map[string]bool{
	"TABLE": true, "VIEW": true, "INDEX": true, "SCHEMA": true, "DATABASE": true,
	"SEQUENCE": true, "TRIGGER": true, "FUNCTION": true, "PROCEDURE": true,
	"ROLE": true, "USER": true, "EXTENSION": true, "TYPE": true, "DOMAIN": true,
	"MATERIALIZED": true, "UNIQUE": true, "TEMP": true, "TEMPORARY": true,
	"OR": true, "ON": true, "COLUMN": true, "CONSTRAINT": true, "POLICY": true,
	"VIRTUAL": true, "ALL": true, "SELECT": true, "INSERT": true, "UPDATE": true,
	"DELETE": true, "USAGE": true, "EXECUTE": true, "TO": true,
}

// Keywords after which a table reference (or a comma list of them) follows.
var objectIntroducers = map[string]bool{
	"FROM": true, "JOIN": true, "INTO": true, "UPDATE": true,
	"TABLE": true, "TRUNCATE": true, "VIEW": true, "USING": true,
}

var referenceModifiers = map[string]bool{
	"ONLY": true, "LATERAL": true, "IF": true, "NOT": true, "EXISTS": true,
}

// Words that can follow a table reference and are therefore not an alias.
var clauseWords = map[string]bool{
	"WHERE": true, "JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true,
	"FULL": true, "CROSS": true, "NATURAL": true, "ON": true, "USING": true,
	"GROUP": true, "ORDER": true, "HAVING": true, "LIMIT": true, "OFFSET": true,
	"UNION": true, "EXCEPT": true, "INTERSECT": true, "WINDOW": true, "FETCH": true,
	"FOR": true, "SET": true, "VALUES": true, "SELECT": true, "RETURNING": true,
	"DEFAULT": true, "CASCADE": true, "RESTRICT": true, "ADD": true, "RENAME": true,
	"OUTER": true, "AS": true, "WITH": true, "QUALIFY": true, "TABLESAMPLE": true,
	"DROP": true, "ALTER": true, "OWNER": true,
}

// Classifier is a pure lexical classifier of SQL text.
type Classifier struct {
	deny DenyList
}

// NewClassifier builds a classifier bound to a metadata deny-list.
func NewClassifier(deny DenyList) *Classifier {
	return &Classifier{deny: deny}
}

// Classify tags the statement kind and collects referenced objects.
// Empty or untokenizable input classifies as KindOther.
func (c *Classifier) Classify(sql string) Statement {
	stmt := Statement{SQL: sql, Kind: KindOther}

	tokens, err := tokenize(sql)
	if err != nil {
		stmt.ParseError = err.Error()
		return stmt
	}

	segments := splitStatements(tokens)
	if len(segments) == 0 {
		stmt.ParseError = "empty statement"
		return stmt
	}
	stmt.Batch = len(segments) > 1

	stmt.Objects, stmt.MetadataObjects = c.collectObjects(tokens)
	stmt.TouchesSchema = touchesSchema(tokens)
	for _, seg := range segments {
		if opaqueVerbs[leadWord(seg)] {
			stmt.Opaque = true
			break
		}
	}

	if !stmt.Batch {
		stmt.Kind, stmt.Returns = classifySegment(segments[0])
	} else {
		// A batch is Other unless one of its parts writes; then the first
		// writing part decides, so the strictest rule applies.
		for _, seg := range segments {
			if kind, _ := classifySegment(seg); kind.Mutates() {
				stmt.Kind = kind
				break
			}
		}
	}

	if stmt.ReferencesMetadata() && (stmt.Kind == KindSelect || stmt.Kind == KindOther && !stmt.Batch) {
		stmt.Kind = KindSchemaMetadataAccess
	}
	return stmt
}

func splitStatements(tokens []token) [][]token {
	var segments [][]token
	start := 0
	for i, t := range tokens {
		if t.punct(";") {
			if i > start {
				segments = append(segments, tokens[start:i])
			}
			start = i + 1
		}
	}
	if start < len(tokens) {
		segments = append(segments, tokens[start:])
	}
	return segments
}

// leadWord returns the first keyword of a segment, skipping opening parens.
func leadWord(tokens []token) string {
	for _, t := range tokens {
		if t.punct("(") {
			continue
		}
		if t.typ == tokWord {
			return t.text
		}
		return ""
	}
	return ""
}

func classifySegment(tokens []token) (Kind, bool) {
	i := 0
	for i < len(tokens) && tokens[i].punct("(") {
		i++
	}
	if i >= len(tokens) || tokens[i].typ != tokWord {
		return KindOther, false
	}
	lead := tokens[i].text
	body := tokens[i+1:]

	switch lead {
	case "WITH":
		if kind, ok := embeddedWrite(body); ok {
			return kind, false
		}
		return KindSelect, true
	case "SELECT":
		// SELECT ... INTO creates a table.
		if hasTopLevel(body, "INTO") {
			return KindCreate, false
		}
		return KindSelect, true
	}

	if kind, ok := leadingKinds[lead]; ok {
		return kind, kind == KindSelect
	}
	if kind, ok := embeddedWrite(body); ok {
		return kind, false
	}
	return KindOther, false
}

func embeddedWrite(tokens []token) (Kind, bool) {
	for i, t := range tokens {
		if t.typ != tokWord {
			continue
		}
		kind, ok := embeddedVerbs[t.text]
		if !ok {
			continue
		}
		if i > 0 && tokens[i-1].punct(".") {
			continue
		}
		if t.text == "UPDATE" && i > 0 && tokens[i-1].is("FOR", "KEY", "DO") {
			continue
		}
		if i+1 < len(tokens) && (tokens[i+1].punct("(") || tokens[i+1].punct(".")) {
			continue
		}
		return kind, true
	}
	return KindOther, false
}

func hasTopLevel(tokens []token, word string) bool {
	depth := 0
	for _, t := range tokens {
		switch {
		case t.punct("("):
			depth++
		case t.punct(")"):
			depth--
		case depth == 0 && t.is(word):
			return true
		}
	}
	return false
}

func touchesSchema(tokens []token) bool {
	for i, t := range tokens {
		if t.typ != tokWord || !ddlVerbs[t.text] {
			continue
		}
		if i > 0 && tokens[i-1].punct(".") {
			continue
		}
		if t.text == "GRANT" || t.text == "REVOKE" {
			return true
		}
		if i+1 < len(tokens) && tokens[i+1].typ == tokWord && schemaObjectWords[tokens[i+1].text] {
			return true
		}
	}
	return false
}

// collectObjects returns table references and deny-listed identifiers.
// Every qualified name in the text is checked against the deny-list, not
// only names in FROM position, so subqueries and function calls count too.
func (c *Classifier) collectObjects(tokens []token) (objects, metadata []string) {
	seen := make(map[string]bool)
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			objects = append(objects, name)
		}
	}
	seenMeta := make(map[string]bool)

	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		if t.isName() && (i == 0 || !tokens[i-1].punct(".")) {
			name, _ := readName(tokens, i)
			if c.deny.Match(name) && !seenMeta[name] {
				seenMeta[name] = true
				metadata = append(metadata, name)
				add(name)
			}
		}
		if t.typ != tokWord || !objectIntroducers[t.text] {
			continue
		}
		if t.text == "UPDATE" && i > 0 && tokens[i-1].is("FOR", "KEY", "DO") {
			continue
		}
		for _, name := range readReferences(tokens, i+1) {
			add(name)
		}
	}
	return objects, metadata
}

func readReferences(tokens []token, i int) []string {
	var names []string
	for {
		for i < len(tokens) && tokens[i].typ == tokWord && referenceModifiers[tokens[i].text] {
			i++
		}
		if i >= len(tokens) || !tokens[i].isName() || tokens[i].typ == tokWord && clauseWords[tokens[i].text] {
			return names
		}
		name, next := readName(tokens, i)
		names = append(names, name)
		i = next
		if i < len(tokens) && tokens[i].is("AS") {
			i += 2
		} else if i < len(tokens) && tokens[i].isName() && !(tokens[i].typ == tokWord && clauseWords[tokens[i].text]) {
			i++
		}
		if i >= len(tokens) || !tokens[i].punct(",") {
			return names
		}
		i++
	}
}

func readName(tokens []token, i int) (string, int) {
	parts := []string{tokens[i].name()}
	j := i + 1
	for j+1 < len(tokens) && tokens[j].punct(".") && tokens[j+1].isName() {
		parts = append(parts, tokens[j+1].name())
		j += 2
	}
	return strings.Join(parts, "."), j
}
