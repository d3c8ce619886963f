// Package capability maps workspace integrations to the abstract capability
// tags that gate agent tool access, and builds the ExecutionContext that
// scopes one RCA investigation.
package capability

import "sort"

// Capability is an abstract permission tag derived from healthy integrations.
// Tools are registered against capabilities, never against providers, so the
// agent layer stays ignorant of which vendor supplies logs or metrics.
type Capability string

const (
	Logs           Capability = "LOGS"
	Metrics        Capability = "METRICS"
	Alerts         Capability = "ALERTS"
	CodeSearch     Capability = "CODE_SEARCH"
	CodeRead       Capability = "CODE_READ"
	RepositoryInfo Capability = "REPOSITORY_INFO"
	Deployments    Capability = "DEPLOYMENTS"
)

// providerCapabilities is the static provider→capability table. Resolution
// never produces a capability outside this table for the providers present.
var providerCapabilities = map[string][]Capability{
	"github":   {CodeSearch, CodeRead, RepositoryInfo, Deployments},
	"grafana":  {Logs, Metrics, Alerts},
	"aws":      {Logs, Metrics},
	"datadog":  {Logs, Metrics, Alerts},
	"newrelic": {Metrics, Alerts},
}

// ForProvider returns the capabilities implied by a provider name.
// Unknown providers imply none.
func ForProvider(provider string) []Capability {
	caps := providerCapabilities[provider]
	out := make([]Capability, len(caps))
	copy(out, caps)
	return out
}

// MinimalSet is the fallback for a workspace that resolves to no
// capabilities at all: just enough for a conversational agent to answer
// questions about the workspace's repositories.
func MinimalSet() Set {
	return NewSet(CodeRead, RepositoryInfo)
}

// Set is an unordered set of capabilities.
type Set map[Capability]struct{}

// NewSet creates a Set from the given capabilities.
func NewSet(caps ...Capability) Set {
	s := make(Set, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether c is in the set.
func (s Set) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Add inserts c into the set.
func (s Set) Add(c Capability) {
	s[c] = struct{}{}
}

// Union returns a new set containing the members of both sets.
func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for c := range s {
		out[c] = struct{}{}
	}
	for c := range other {
		out[c] = struct{}{}
	}
	return out
}

// IsEmpty reports whether the set has no members.
func (s Set) IsEmpty() bool {
	return len(s) == 0
}

// Sorted returns the capabilities in lexical order, for stable logging and
// prompt construction.
func (s Set) Sorted() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
