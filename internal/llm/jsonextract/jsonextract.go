// Package jsonextract recovers structured JSON from LLM text output.
//
// Models asked for JSON frequently wrap it in markdown fences or surround
// it with prose. Unmarshal tries progressively looser strategies before
// giving up: strict unmarshal, fenced code block extraction, then balanced
// bracket scanning.
package jsonextract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// Unmarshal parses the first JSON value found in text into v.
func Unmarshal(text string, v interface{}) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fmt.Errorf("empty response")
	}

	// Strategy 1: the whole response is valid JSON.
	if err := json.Unmarshal([]byte(trimmed), v); err == nil {
		return nil
	}

	// Strategy 2: JSON inside a markdown code fence.
	if m := fencedBlockRe.FindStringSubmatch(trimmed); m != nil {
		candidate := strings.TrimSpace(m[1])
		if err := json.Unmarshal([]byte(candidate), v); err == nil {
			return nil
		}
	}

	// Strategy 3: first balanced object or array embedded in prose.
	if candidate := extractBalanced(trimmed); candidate != "" {
		if err := json.Unmarshal([]byte(candidate), v); err == nil {
			return nil
		}
	}

	return fmt.Errorf("no parseable JSON found in response")
}

// extractBalanced returns the first balanced {...} or [...] substring,
// respecting string literals and escapes. Returns "" if none is found.
func extractBalanced(text string) string {
	start := -1
	var open, close byte
	for i := 0; i < len(text); i++ {
		if text[i] == '{' {
			start, open, close = i, '{', '}'
			break
		}
		if text[i] == '[' {
			start, open, close = i, '[', ']'
			break
		}
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// ignore structural characters inside strings
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
