// Package pii provides reversible masking of sensitive values in text
// sent to external LLM providers. Sensitive values are replaced with
// numbered placeholders before a prompt leaves the process, and the
// placeholders are swapped back for the original values before results
// are delivered to the user.
package pii

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// pattern pairs a category label with its detection regex.
// Ordered most-specific first so broad patterns never shadow narrow ones
// (a bearer token containing an @ must not be masked as an email).
type pattern struct {
	category string
	re       *regexp.Regexp
}

var patterns = []pattern{
	{"token", regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9\-._~+/]+=*`)},
	{"token", regexp.MustCompile(`\b(?:ghp|gho|ghs|ghu)_[A-Za-z0-9]{36,}\b`)},
	{"token", regexp.MustCompile(`\bsk-[A-Za-z0-9\-_]{20,}\b`)},
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)},
	{"ip", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
}

// Mapping records placeholder -> original value substitutions produced
// by a Mask call. It is what the orchestrator persists alongside a job
// so results can be unmasked on completion.
type Mapping map[string]string

// Masker replaces sensitive values with stable numbered placeholders.
// The same value always maps to the same placeholder within one Masker,
// so repeated mentions stay correlated across prompts.
type Masker struct {
	mu       sync.Mutex
	mapping  Mapping
	assigned map[string]string // original value -> placeholder
	counters map[string]int
}

// NewMasker creates an empty masker.
func NewMasker() *Masker {
	return &Masker{
		mapping:  make(Mapping),
		assigned: make(map[string]string),
		counters: make(map[string]int),
	}
}

// Mask replaces every detected sensitive value in text with a placeholder
// of the form <category_N> and records the substitution.
func (m *Masker) Mask(text string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range patterns {
		text = p.re.ReplaceAllStringFunc(text, func(match string) string {
			if ph, ok := m.assigned[match]; ok {
				return ph
			}
			m.counters[p.category]++
			ph := fmt.Sprintf("<%s_%d>", p.category, m.counters[p.category])
			m.assigned[match] = ph
			m.mapping[ph] = match
			return ph
		})
	}
	return text
}

// Mapping returns a copy of the recorded substitutions.
func (m *Masker) Mapping() Mapping {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(Mapping, len(m.mapping))
	for k, v := range m.mapping {
		out[k] = v
	}
	return out
}

// Unmask restores original values in text using the given mapping.
// Placeholders are replaced longest-first so <email_1> can never match
// inside <email_10>.
func Unmask(text string, mapping Mapping) string {
	if len(mapping) == 0 {
		return text
	}

	placeholders := make([]string, 0, len(mapping))
	for ph := range mapping {
		placeholders = append(placeholders, ph)
	}
	sort.Slice(placeholders, func(i, j int) bool {
		if len(placeholders[i]) != len(placeholders[j]) {
			return len(placeholders[i]) > len(placeholders[j])
		}
		return placeholders[i] < placeholders[j]
	})

	for _, ph := range placeholders {
		text = strings.ReplaceAll(text, ph, mapping[ph])
	}
	return text
}
