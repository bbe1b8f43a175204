// Package touchedpkgs parses commit messages into the set of package
// attribute paths they touch, for auto-scheduling builds.
package touchedpkgs

import (
	"sort"
	"strings"
)

// MaxAutoScheduled caps the number of distinct packages a set of commit
// messages may name before auto-scheduling is suppressed as a guard
// against mass-merges.
const MaxAutoScheduled = 20

// FromCommitMessages parses each message's text before its first ':',
// brace-expands it, and returns the deduplicated, sorted union. If the
// result exceeds MaxAutoScheduled it returns nil (no auto-scheduled
// builds), matching the touched-package guard.
func FromCommitMessages(messages []string) []string {
	seen := make(map[string]bool)
	for _, msg := range messages {
		prefix := msg
		if idx := strings.Index(msg, ":"); idx >= 0 {
			prefix = msg[:idx]
		}
		for _, pkg := range expandBraces(prefix) {
			pkg = strings.TrimSpace(pkg)
			if pkg != "" {
				seen[pkg] = true
			}
		}
	}

	out := make([]string, 0, len(seen))
	for pkg := range seen {
		out = append(out, pkg)
	}
	sort.Strings(out)

	if len(out) == 0 || len(out) > MaxAutoScheduled {
		return nil
	}
	return out
}

// expandBraces splits s on top-level commas and brace-expands each
// comma-separated term, e.g. "firefox{,-beta}{,-bin}, librewolf" yields
// {firefox, firefox-beta, firefox-bin, firefox-beta-bin, librewolf}.
// A term without braces is returned as is, so the bare "foo,bar" form
// yields {foo, bar}.
func expandBraces(s string) []string {
	var out []string
	for _, term := range splitTopLevelCommas(s) {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		out = append(out, expandTerm(term)...)
	}
	return out
}

// splitTopLevelCommas splits on commas that are not nested inside braces.
func splitTopLevelCommas(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// expandTerm recursively expands the brace groups within one comma-free
// term.
func expandTerm(term string) []string {
	open := strings.IndexByte(term, '{')
	if open < 0 {
		return []string{term}
	}

	close := matchingBrace(term, open)
	if close < 0 {
		return []string{term}
	}

	prefix := term[:open]
	inner := term[open+1 : close]
	suffix := term[close+1:]

	var out []string
	for _, alt := range splitTopLevelCommas(inner) {
		for _, suffixExpanded := range expandTerm(suffix) {
			for _, altExpanded := range expandTerm(prefix + alt) {
				out = append(out, altExpanded+suffixExpanded)
			}
		}
	}
	return out
}

func matchingBrace(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
