package query

import "strings"

// Kind грубая классификация эффекта SQL-выражения.
type Kind int

const (
	KindOther Kind = iota
	KindSelect
	KindInsert
	KindUpdate
	KindDelete
	KindDrop
	KindCreate
	KindAlter
	KindSchemaMetadataAccess
)

var kindNames = map[Kind]string{
	KindOther:                "other",
	KindSelect:               "select",
	KindInsert:               "insert",
	KindUpdate:               "update",
	KindDelete:               "delete",
	KindDrop:                 "drop",
	KindCreate:               "create",
	KindAlter:                "alter",
	KindSchemaMetadataAccess: "schema_metadata_access",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "other"
}

// ParseKind is the inverse of String. Unknown names map to KindOther.
func ParseKind(name string) Kind {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return KindOther
}

// Mutates reports whether statements of this kind change data or schema.
func (k Kind) Mutates() bool {
	switch k {
	case KindInsert, KindUpdate, KindDelete, KindDrop, KindCreate, KindAlter:
		return true
	}
	return false
}

// Statement сгенерированное моделью выражение вместе с результатами лексического разбора.
type Statement struct {
	SQL  string
	Kind Kind

	// Objects lists referenced tables, views and metadata objects,
	// lower-cased, in order of first appearance.
	Objects []string
	// MetadataObjects is the subset of identifiers matched by the deny-list.
	MetadataObjects []string

	// TouchesSchema is set when a schema-definition clause appears
	// anywhere in the text (e.g. an embedded CREATE TABLE).
	TouchesSchema bool
	// Batch is set for separator-delimited multi-statement input.
	Batch bool
	// Returns reports whether the leading clause is a row-returning read.
	Returns bool
	// Opaque is set when a statement leads with a verb whose effect the
	// lexer cannot see (DO, COPY, CALL, EXECUTE, VACUUM, ...).
	Opaque bool

	// ParseError is non-empty when the text could not be tokenized.
	ParseError string
}

// ReferencesMetadata reports whether the statement reaches for a deny-listed object.
func (s Statement) ReferencesMetadata() bool {
	return len(s.MetadataObjects) > 0
}

// Describe renders a short human-readable summary: kind plus referenced objects.
func (s Statement) Describe() string {
	verb := strings.ToUpper(strings.ReplaceAll(s.Kind.String(), "_", " "))
	if s.Batch {
		verb = "BATCH (" + verb + ")"
	}
	if len(s.Objects) == 0 {
		return verb
	}
	return verb + " on " + strings.Join(s.Objects, ", ")
}
