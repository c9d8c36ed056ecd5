// Package rewrite injects the storefront market context into GraphQL
// operation documents.
//
// The rewrite works on the document text with a handful of bounded pattern
// rules instead of a parser: it only needs to touch the operation header
// (variable list and directives) and must keep everything else byte-identical.
//
// Boundary condition: the variable list and the @inContext arguments are
// matched up to the first closing parenthesis. A header whose variable
// defaults or directive arguments contain nested parentheses can be
// mismatched; such documents are left partially rewritten rather than
// rejected.
package rewrite

import (
	"regexp"
	"strings"
)

const (
	// Variable is the name of the injected operation variable (without "$").
	Variable = "market"
	// Directive is the name of the operation-level context directive.
	Directive = "inContext"

	declaration = "$" + Variable + ": String!"
	argument    = Variable + ": { handle: $" + Variable + " }"
)

var (
	// any declaration of $market, whatever its type
	declaredRe = regexp.MustCompile(`\$` + Variable + `\s*:`)

	// keyword, optional name, optional variable list, then a directive or the body
	headerRe = regexp.MustCompile(`\b(query|mutation)\b(?:\s*([_A-Za-z][_0-9A-Za-z]*))?\s*(?:\(([^)]*)\))?\s*[@{]`)

	directiveRe = regexp.MustCompile(`@` + Directive + `\s*\(([^)]*)\)`)
	argumentRe  = regexp.MustCompile(`\b` + Variable + `\s*:\s*\{`)

	// header with its variable list; group 1 is the gap before the directives or body
	directiveSiteRe = regexp.MustCompile(`\b(?:query|mutation)\b(?:\s*[_A-Za-z][_0-9A-Za-z]*)?\s*\([^)]*\)(\s*)[@{]`)
)

// Inject returns query with the $market variable declared and referenced
// from the operation's @inContext directive. It returns query unchanged when
// market is empty. Inject is idempotent: a document that already carries the
// declaration and the directive argument is returned byte-identical.
func Inject(query, market string) string {
	if market == "" {
		return query
	}
	out := query
	if !declaredRe.MatchString(out) {
		out = declare(out)
	}
	return attach(out)
}

// declare adds the $market declaration to the first operation header.
func declare(query string) string {
	m := headerRe.FindStringSubmatchIndex(query)
	if m == nil {
		return query
	}
	if m[6] >= 0 {
		// existing list, possibly empty
		list := appendEntry(query[m[6]:m[7]], declaration)
		return query[:m[6]] + list + query[m[7]:]
	}
	// no list: open one right after the name, or the keyword when anonymous
	at := m[3]
	if m[4] >= 0 {
		at = m[5]
	}
	return query[:at] + "(" + declaration + ")" + query[at:]
}

// attach extends every @inContext clause with the market argument, or adds
// a new clause after the operation's variable list when there is none.
func attach(query string) string {
	if directiveRe.MatchString(query) {
		return directiveRe.ReplaceAllStringFunc(query, func(clause string) string {
			if argumentRe.MatchString(clause) {
				return clause
			}
			m := directiveRe.FindStringSubmatchIndex(clause)
			return clause[:m[2]] + appendEntry(clause[m[2]:m[3]], argument) + clause[m[3]:]
		})
	}
	m := directiveSiteRe.FindStringSubmatchIndex(query)
	if m == nil {
		return query
	}
	clause := "@" + Directive + "(" + argument + ") "
	if m[2] == m[3] {
		clause = " " + clause
	}
	return query[:m[3]] + clause + query[m[3]:]
}

// appendEntry adds entry to a comma-separated list body, keeping the list's
// leading and trailing whitespace in place.
func appendEntry(list, entry string) string {
	body := strings.TrimRightFunc(list, isSpace)
	trailing := list[len(body):]
	if body == "" {
		return entry
	}
	return body + ", " + entry + trailing
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', ',':
		return true
	}
	return false
}
