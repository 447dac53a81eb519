package schemaguard

import (
	"errors"
	"fmt"
	"strings"
)

// ForbiddenAccessError reports a schema reference outside the caller's
// allow-list. The query carrying it must never execute.
type ForbiddenAccessError struct {
	ContextID string
	Schema    string
	Reference string // the full dotted reference as written
}

func (e *ForbiddenAccessError) Error() string {
	return fmt.Sprintf("schema access denied: context %q is not permitted to reference %q (schema %q)",
		e.ContextID, e.Reference, e.Schema)
}

// IsForbiddenAccess reports whether err is (or wraps) a ForbiddenAccessError.
func IsForbiddenAccess(err error) bool {
	var fa *ForbiddenAccessError
	return errors.As(err, &fa)
}

// Guard authorizes SQL text against an immutable Ownership.
// Safe for concurrent use.
type Guard struct {
	ownership *Ownership
}

// New returns a guard over ownership.
func New(ownership *Ownership) *Guard {
	return &Guard{ownership: ownership}
}

// Authorize scans query for schema-qualified references and checks each one
// whose prefix names a known schema against contextID's allow-list. The
// first violation is returned as *ForbiddenAccessError; the caller must not
// execute the query in that case.
//
// Unknown prefixes (aliases, columns of row values) pass: only the declared
// schema universe is policed. An unknown contextID owns nothing, so any
// reference to a known schema is denied for it.
func (g *Guard) Authorize(contextID, query string) error {
	scrubbed := stripLiteralsAndComments(query)
	// Quoted identifiers ("marketing"."contacts", `bit`.`scores`) collapse
	// to their bare spelling so quoting cannot dodge the scan.
	scrubbed = strings.NewReplacer(`"`, "", "`", "").Replace(scrubbed)

	for _, chain := range qualifiedChains(scrubbed) {
		// In a.b.c both a and b qualify something; the trailing part never does.
		for _, prefix := range chain[:len(chain)-1] {
			schema := strings.ToLower(prefix)
			if !g.ownership.knows(schema) {
				continue
			}
			if !g.ownership.allows(contextID, schema) {
				return &ForbiddenAccessError{
					ContextID: contextID,
					Schema:    schema,
					Reference: strings.Join(chain, "."),
				}
			}
		}
	}

	return nil
}

// stripLiteralsAndComments blanks out single-quoted string literals
// (including '' escapes), line comments, and block comments so their
// contents cannot register as schema references.
func stripLiteralsAndComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		switch {
		case s[i] == '\'':
			b.WriteByte(' ')
			i++
			for i < len(s) {
				if s[i] == '\'' {
					if i+1 < len(s) && s[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
		case s[i] == '-' && i+1 < len(s) && s[i+1] == '-':
			b.WriteByte(' ')
			for i < len(s) && s[i] != '\n' {
				i++
			}
		case s[i] == '/' && i+1 < len(s) && s[i+1] == '*':
			b.WriteByte(' ')
			i += 2
			for i < len(s) {
				if s[i] == '*' && i+1 < len(s) && s[i+1] == '/' {
					i += 2
					break
				}
				i++
			}
		default:
			b.WriteByte(s[i])
			i++
		}
	}

	return b.String()
}

// qualifiedChains extracts every dotted identifier chain (len >= 2) from
// scrubbed SQL text. Chains never start with a digit, so numeric literals
// like 3.14 do not register.
func qualifiedChains(s string) [][]string {
	var chains [][]string

	for i := 0; i < len(s); {
		if !isIdentStart(s[i]) {
			i++
			continue
		}

		j := i
		for j < len(s) && isIdentChar(s[j]) {
			j++
		}
		parts := []string{s[i:j]}

		k := j
		for k < len(s) && s[k] == '.' {
			k++
			if k >= len(s) || !isIdentStart(s[k]) {
				break
			}
			m := k
			for m < len(s) && isIdentChar(s[m]) {
				m++
			}
			parts = append(parts, s[k:m])
			k = m
		}

		if len(parts) > 1 {
			chains = append(chains, parts)
		}
		i = k
	}

	return chains
}

func isIdentStart(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || ('0' <= c && c <= '9') || c == '$'
}
