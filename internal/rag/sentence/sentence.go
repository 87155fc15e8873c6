// Package sentence implements the Sentence Splitter (C3): a deterministic,
// language-agnostic split on sentence-terminating punctuation.
package sentence

import (
	"strings"

	"github.com/dlclark/regexp2"
)

// splitPattern requires real lookbehind, which Go's RE2-based regexp
// package cannot express; dlclark/regexp2 supports the .NET-style
// backtracking engine needed here.
var splitPattern = regexp2.MustCompile(`(?<=[.!?])\s+`, regexp2.None)

// Split breaks text into sentence strings, dropping fragments of length <= 2
// after trimming. Deterministic; known limitation: abbreviations and
// ellipses produce occasional over-splits (spec.md §4.3).
func Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	parts := regexp2Split(text)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len(p) <= 2 {
			continue
		}
		out = append(out, p)
	}
	return out
}

func regexp2Split(text string) []string {
	var out []string
	last := 0
	m, _ := splitPattern.FindStringMatch(text)
	for m != nil {
		out = append(out, text[last:m.Index])
		last = m.Index + m.Length
		m, _ = splitPattern.FindNextMatch(m)
	}
	out = append(out, text[last:])
	return out
}
