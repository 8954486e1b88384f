// Package redact removes credential-like and personal data from prompt
// text before it is persisted. Patterns are named so audit events can
// report which pattern fired without revealing what it matched.
package redact

import (
	"fmt"
	"regexp"
	"sort"
)

// Marker replaces every redacted region.
const Marker = "[REDACTED]"

// previewLen bounds how much matched text a Match exposes.
const previewLen = 20

// Pattern is a compiled, named redaction pattern.
type Pattern struct {
	Name        string
	Description string
	re          *regexp.Regexp
}

// Compile builds a Pattern from a regular expression.
func Compile(name, expr, description string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("pattern %s: %w", name, err)
	}
	return Pattern{Name: name, Description: description, re: re}, nil
}

// Builtin returns the built-in pattern catalog.
func Builtin() []Pattern {
	specs := []struct{ name, expr, desc string }{
		{"API_KEY", `(?i)(api[_-]?key|secret|token)\s*[:=]\s*\S+`, "API key or token assignment"},
		{"EMAIL", `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`, "Email address"},
		{"PASSWORD", `(?i)(password|passwd|pwd)\s*[:=]\s*\S+`, "Password assignment"},
		{"AWS_KEY", `(?i)(aws[_-]?)?(access[_-]?key[_-]?id|secret[_-]?access[_-]?key)\s*[:=]\s*\S+`, "AWS credential assignment"},
		{"PRIVATE_KEY", `-----BEGIN\s+(?:RSA\s+)?PRIVATE\s+KEY-----`, "Private key header"},
		{"BEARER_TOKEN", `(?i)bearer\s+[a-zA-Z0-9_\-.]+`, "Bearer authorization token"},
		{"GITHUB_TOKEN", `gh[pousr]_[A-Za-z0-9_]{36,}`, "GitHub personal access token"},
		{"GENERIC_SECRET", `(?i)["']?(?:secret|private|credential)[_-]?(?:key)?["']?\s*[:=]\s*["']?[^"'\s]+`, "Generic secret assignment"},
		{"SSN", `\b\d{3}-\d{2}-\d{4}\b`, "US social security number"},
		{"CREDIT_CARD", `\b(?:\d[ -]?){13,16}\b`, "Credit card number"},
	}
	patterns := make([]Pattern, 0, len(specs))
	for _, s := range specs {
		p, err := Compile(s.name, s.expr, s.desc)
		if err != nil {
			// builtin expressions are constants; a failure here is a bug
			panic(err)
		}
		patterns = append(patterns, p)
	}
	return patterns
}

// Match records one redacted region. Preview is truncated and intended
// for interactive inspection only, never for storage.
type Match struct {
	PatternName string
	Start       int
	End         int
	Preview     string
}

// Count is a per-pattern tally of matches.
type Count struct {
	PatternName string
	Count       int
}

// Redactor applies an ordered pattern set to text.
type Redactor struct {
	patterns []Pattern
}

// NewRedactor builds a redactor over the given patterns.
func NewRedactor(patterns []Pattern) *Redactor {
	return &Redactor{patterns: patterns}
}

// None returns a redactor that matches nothing.
func None() *Redactor {
	return &Redactor{}
}

// Patterns lists pattern names and descriptions.
func (r *Redactor) Patterns() []Pattern {
	out := make([]Pattern, len(r.patterns))
	copy(out, r.patterns)
	return out
}

// Redact replaces every match with the marker and reports what fired.
// Overlapping matches resolve left-to-right, longest-first; a redacted
// region is never re-scanned.
func (r *Redactor) Redact(text string) (string, []Match) {
	var all []Match
	for _, p := range r.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			preview := text[loc[0]:loc[1]]
			if len(preview) > previewLen {
				preview = preview[:previewLen] + "..."
			}
			all = append(all, Match{PatternName: p.Name, Start: loc[0], End: loc[1], Preview: preview})
		}
	}
	if len(all) == 0 {
		return text, nil
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Start != all[j].Start {
			return all[i].Start < all[j].Start
		}
		return all[i].End-all[i].Start > all[j].End-all[j].Start
	})

	// Keep non-overlapping matches in order.
	kept := all[:0]
	lastEnd := 0
	for _, m := range all {
		if m.Start < lastEnd {
			continue
		}
		kept = append(kept, m)
		lastEnd = m.End
	}

	var out []byte
	pos := 0
	for _, m := range kept {
		out = append(out, text[pos:m.Start]...)
		out = append(out, Marker...)
		pos = m.End
	}
	out = append(out, text[pos:]...)
	return string(out), kept
}

// ContainsSensitive reports whether any pattern matches the text.
func (r *Redactor) ContainsSensitive(text string) bool {
	for _, p := range r.patterns {
		if p.re.MatchString(text) {
			return true
		}
	}
	return false
}

// FindSensitive lists truncated previews of every match, for the
// interactive pattern-testing command.
func (r *Redactor) FindSensitive(text string) []Match {
	_, matches := r.Redact(text)
	return matches
}

// CountByPattern tallies matches per pattern name, sorted by name.
func CountByPattern(matches []Match) []Count {
	byName := make(map[string]int)
	for _, m := range matches {
		byName[m.PatternName]++
	}
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)
	counts := make([]Count, 0, len(names))
	for _, n := range names {
		counts = append(counts, Count{PatternName: n, Count: byName[n]})
	}
	return counts
}
