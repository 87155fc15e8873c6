package util

import "unicode"

// CountTokens is a plain word count (punctuation counted as its own token),
// used wherever the spec calls for wc() rather than a model-aware token
// count — chunker size bounds, not context-budget accounting (see
// internal/rag/chapters for the tiktoken-go-based counter used there).
func CountTokens(s string) int {
	inWord := false
	count := 0
	for _, r := range s {
		if unicode.IsSpace(r) {
			if inWord {
				count++
				inWord = false
			}
		} else if unicode.IsPunct(r) {
			if inWord {
				count++
				inWord = false
			}
			count++
		} else {
			inWord = true
		}
	}
	if inWord {
		count++
	}
	return count
}
