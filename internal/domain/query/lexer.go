package query

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenType int

const (
	tokWord   tokenType = iota // bare identifier or keyword
	tokIdent                   // quoted identifier
	tokString                  // string literal, including dollar-quoted bodies
	tokNumber
	tokParam
	tokPunct
)

type token struct {
	typ tokenType
	// text is the upper-cased word for tokWord, the unquoted name for
	// tokIdent and the raw source slice for everything else.
	text  string
	start int
	end   int
}

func (t token) is(words ...string) bool {
	if t.typ != tokWord {
		return false
	}
	for _, w := range words {
		if t.text == w {
			return true
		}
	}
	return false
}

func (t token) punct(p string) bool {
	return t.typ == tokPunct && t.text == p
}

// name returns the identifier spelling used for object matching.
func (t token) name() string {
	return strings.ToLower(t.text)
}

func (t token) isName() bool {
	return t.typ == tokWord || t.typ == tokIdent
}

// tokenize splits SQL text into tokens, dropping whitespace and comments.
// It fails on unterminated literals, quoted identifiers and block comments.
func tokenize(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case isSpace(c):
			i++

		case c == '-' && strings.HasPrefix(src[i:], "--"):
			nl := strings.IndexByte(src[i:], '\n')
			if nl < 0 {
				i = len(src)
			} else {
				i += nl + 1
			}

		case c == '/' && strings.HasPrefix(src[i:], "/*"):
			end, err := skipBlockComment(src, i)
			if err != nil {
				return nil, err
			}
			i = end

		case c == '\'':
			end, err := scanQuoted(src, i, '\'', false)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{typ: tokString, text: src[i:end], start: i, end: end})
			i = end

		case c == '"' || c == '`':
			end, err := scanQuoted(src, i, c, false)
			if err != nil {
				return nil, err
			}
			inner := src[i+1 : end-1]
			inner = strings.ReplaceAll(inner, string([]byte{c, c}), string(c))
			tokens = append(tokens, token{typ: tokIdent, text: inner, start: i, end: end})
			i = end

		case c == '$':
			tok, err := scanDollar(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i = tok.end

		case c >= '0' && c <= '9' || c == '.' && i+1 < len(src) && isDigit(src[i+1]):
			end := scanNumber(src, i)
			tokens = append(tokens, token{typ: tokNumber, text: src[i:end], start: i, end: end})
			i = end

		case isWordStart(src, i):
			end := scanWord(src, i)
			word := src[i:end]
			// E'..', N'..', B'..', X'..' prefixed literals.
			if end-i == 1 && end < len(src) && src[end] == '\'' && strings.ContainsAny(word, "EeNnBbXx") {
				strEnd, err := scanQuoted(src, end, '\'', word == "E" || word == "e")
				if err != nil {
					return nil, err
				}
				tokens = append(tokens, token{typ: tokString, text: src[i:strEnd], start: i, end: strEnd})
				i = strEnd
				continue
			}
			tokens = append(tokens, token{typ: tokWord, text: strings.ToUpper(word), start: i, end: end})
			i = end

		case c == ':' && strings.HasPrefix(src[i:], "::"):
			tokens = append(tokens, token{typ: tokPunct, text: "::", start: i, end: i + 2})
			i += 2

		default:
			r, size := utf8.DecodeRuneInString(src[i:])
			if unicode.IsSpace(r) {
				i += size
				continue
			}
			tokens = append(tokens, token{typ: tokPunct, text: src[i : i+size], start: i, end: i + size})
			i += size
		}
	}
	return tokens, nil
}

func skipBlockComment(src string, start int) (int, error) {
	depth := 0
	i := start
	for i < len(src) {
		switch {
		case strings.HasPrefix(src[i:], "/*"):
			depth++
			i += 2
		case strings.HasPrefix(src[i:], "*/"):
			depth--
			i += 2
			if depth == 0 {
				return i, nil
			}
		default:
			i++
		}
	}
	return 0, fmt.Errorf("unterminated block comment at offset %d", start)
}

// scanQuoted returns the offset just past the closing quote. A doubled
// quote character is an escaped quote.
func scanQuoted(src string, start int, quote byte, backslash bool) (int, error) {
	i := start + 1
	for i < len(src) {
		switch {
		case backslash && src[i] == '\\':
			i += 2
		case src[i] == quote:
			if i+1 < len(src) && src[i+1] == quote {
				i += 2
				continue
			}
			return i + 1, nil
		default:
			i++
		}
	}
	return 0, fmt.Errorf("unterminated %c literal at offset %d", quote, start)
}

// scanDollar handles $1 parameters and $tag$...$tag$ bodies.
func scanDollar(src string, start int) (token, error) {
	i := start + 1
	if i < len(src) && isDigit(src[i]) {
		for i < len(src) && isDigit(src[i]) {
			i++
		}
		return token{typ: tokParam, text: src[start:i], start: start, end: i}, nil
	}
	for i < len(src) && (isWordByte(src[i])) {
		i++
	}
	if i >= len(src) || src[i] != '$' {
		return token{typ: tokPunct, text: "$", start: start, end: start + 1}, nil
	}
	tag := src[start : i+1]
	closing := strings.Index(src[i+1:], tag)
	if closing < 0 {
		return token{}, fmt.Errorf("unterminated dollar-quoted string at offset %d", start)
	}
	end := i + 1 + closing + len(tag)
	return token{typ: tokString, text: src[start:end], start: start, end: end}, nil
}

func scanNumber(src string, start int) int {
	i := start
	for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
		i++
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j < len(src) && isDigit(src[j]) {
			i = j
			for i < len(src) && isDigit(src[i]) {
				i++
			}
		}
	}
	return i
}

func scanWord(src string, start int) int {
	i := start
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		if r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			i += size
			continue
		}
		break
	}
	return i
}

func isWordStart(src string, i int) bool {
	r, _ := utf8.DecodeRuneInString(src[i:])
	return r == '_' || unicode.IsLetter(r)
}

func isWordByte(c byte) bool {
	return c == '_' || isDigit(c) || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}
