// Package search implements the boolean query evaluator and result sorter:
// parsing a term list into signed, field-qualified lookups against the
// posting store, reducing them to a hit set, and sorting/collapsing the
// result into conversations.
package search

import (
	"fmt"
	"strings"

	"github.com/wesm/maildex/internal/tokenizer"
)

// Op is the set operation a term applies when folded into the running
// result: union, difference, or (the default) intersection.
type Op byte

const (
	OpIntersect Op = iota
	OpUnion
	OpDifference
)

// Term is one parsed query term: a set operation plus the exact word to
// look up in the posting store (already rewritten per field).
type Term struct {
	Op         Op
	Field      string // "" for a bare or body: term
	Word       string // the word as the user wrote it, lowercased
	LookupWord string // the word actually posted/looked-up (field-suffixed)
}

// ParseQuery splits queryStr into terms, applying the field rewriting
// rules: "body:X" becomes a bare lookup of X; "FIELD:X" for any other field
// becomes a lookup of "X:FIELD"; a bare X is looked up as-is; a term whose
// base word is a stopword is dropped and reported as a warning.
func ParseQuery(queryStr string) (terms []Term, warnings []string) {
	for _, tok := range tokenize(queryStr) {
		op := OpIntersect
		if len(tok) > 0 {
			switch tok[0] {
			case '+':
				op = OpUnion
				tok = tok[1:]
			case '-':
				op = OpDifference
				tok = tok[1:]
			}
		}

		field, words := parseTermToken(tok)
		for _, word := range words {
			word = strings.ToLower(word)
			if word == "" {
				continue
			}
			if tokenizer.IsStopword(word) {
				warnings = append(warnings, fmt.Sprintf("skipping stopword %q", word))
				continue
			}
			terms = append(terms, Term{Op: op, Field: field, Word: word, LookupWord: rewriteLookup(field, word)})
		}
	}
	return terms, warnings
}

// parseTermToken splits one already-sign-stripped token into its field (if
// any) and the individual words of its value. A quoted multi-word value
// (standalone phrase, or op:"multi word") yields one word per space-
// separated piece. The index has no positional information, so a "phrase"
// can only mean "all of these words present".
func parseTermToken(tok string) (field string, words []string) {
	if len(tok) > 0 && tok[0] == '"' {
		return "", strings.Fields(unquote(tok))
	}
	if idx := strings.Index(tok, ":"); idx >= 0 {
		field = strings.ToLower(tok[:idx])
		return field, strings.Fields(unquote(tok[idx+1:]))
	}
	return "", strings.Fields(tok)
}

// rewriteLookup applies the field-rewriting rule: "body" is the no-op
// field (looks up the bare word), any other field suffixes the word.
func rewriteLookup(field, word string) string {
	switch field {
	case "", "body":
		return word
	default:
		return word + ":" + field
	}
}

// unquote removes a single layer of surrounding double quotes.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// tokenize splits a query string on whitespace, keeping quoted phrases (and
// quoted operator values like subject:"foo bar") together as one token.
func tokenize(queryStr string) []string {
	var tokens []string
	var current strings.Builder
	inQuotes := false
	afterColon := false
	opQuoted := false

	for _, char := range queryStr {
		switch {
		case char == '"' && !inQuotes:
			inQuotes = true
			opQuoted = afterColon
			if !afterColon && current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			if afterColon {
				current.WriteRune(char)
			}
			afterColon = false
		case char == '"' && inQuotes:
			inQuotes = false
			if opQuoted {
				current.WriteRune(char)
				tokens = append(tokens, current.String())
				current.Reset()
			} else if current.Len() > 0 {
				tokens = append(tokens, "\""+current.String()+"\"")
				current.Reset()
			}
			opQuoted = false
		case char == ' ' && !inQuotes:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			afterColon = false
		default:
			current.WriteRune(char)
			afterColon = char == ':'
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}
