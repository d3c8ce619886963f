package rca

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kausalhq/kausal/internal/capability"
)

const classifyIntentSystemPrompt = `You classify incoming messages for an incident-investigation assistant.

Decide whether the message asks to investigate a production problem
(errors, latency, outages, alerts, "why is X broken") or is anything
else (greetings, questions about previous results, feature questions,
small talk).

Respond with JSON only:
{"intent": "rca_investigation"} or {"intent": "conversational"}`

const conversationalSystemPrompt = `You are an incident-investigation assistant for a software team.
The current message does not ask for a new investigation. Answer it
directly and concisely. If the user seems to want an investigation,
tell them to describe the symptom and affected service.`

const hypothesizeSystemPrompt = `You generate root-cause hypotheses for a production incident.

Produce between 5 and 8 distinct hypotheses. Each claim must be
specific and falsifiable: name a component, a change, or a failure
mode that evidence could confirm or refute. Cover different failure
classes (recent deploys, config changes, dependency failures,
resource exhaustion, traffic shifts) rather than variations of one
idea.

Respond with JSON only:
{"hypotheses": [{"claim": "...", "rationale": "...", "confidence": 0-100}]}`

const gatherEvidenceSystemPrompt = `You are an incident investigator with access to the workspace's
observability and code tools. Collect evidence for or against the
listed hypotheses. Prefer cheap, discriminating queries: a single
metric or log query that splits two hypotheses is worth more than a
broad dump. When you have enough evidence to judge the hypotheses,
stop calling tools and summarize what you found, citing concrete
numbers, timestamps, and log lines.

Only the tools listed are available: there is no generic "json",
"parse", or similar utility tool. Work with tool output as returned.`

const validateSystemPrompt = `You judge root-cause hypotheses against collected evidence.

For each hypothesis assign one status:
- "validated": evidence directly supports the claim
- "rejected": evidence contradicts the claim (give a reason)
- "needs_more_evidence": the evidence collected is inconclusive

Be strict: "validated" requires evidence that specifically matches the
claim, not mere absence of contradiction.

Respond with JSON only:
{"results": [{"id": "...", "status": "...", "confidence": 0-100, "reason": "..."}]}`

const synthesizeSystemPrompt = `You write the final report of an incident investigation.

Structure:
1. Root cause (or the most likely candidates if nothing was confirmed)
2. Evidence: the concrete findings that support the conclusion
3. Ruled out: rejected hypotheses and why
4. Suggested next steps

Be direct about uncertainty: if no hypothesis was validated, say so
and rank the remaining candidates by confidence.`

// buildHypothesizePrompt renders the user prompt for hypothesis
// generation, including claims already rejected in earlier rounds so
// the model does not repeat them.
func buildHypothesizePrompt(s *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Incident report:\n%s\n", s.Query)

	var rejected []Hypothesis
	for _, batch := range s.History {
		for _, h := range batch {
			if h.Status == StatusRejected {
				rejected = append(rejected, h)
			}
		}
	}
	for _, h := range s.Hypotheses {
		if h.Status == StatusRejected {
			rejected = append(rejected, h)
		}
	}
	if len(rejected) > 0 {
		b.WriteString("\nAlready rejected, do not repeat:\n")
		for _, h := range rejected {
			fmt.Fprintf(&b, "- %s (%s)\n", h.Claim, h.RejectionReason)
		}
	}
	if len(s.Evidence) > 0 {
		b.WriteString("\nEvidence collected so far:\n")
		for _, e := range s.Evidence {
			fmt.Fprintf(&b, "- %s\n", e.Summary)
		}
	}
	return b.String()
}

// buildGatherPrompt renders the user prompt for the evidence-gathering
// agent run.
func buildGatherPrompt(s *State, execCtx *capability.ExecutionContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Incident report:\n%s\n\nHypotheses under investigation:\n", s.Query)
	for _, h := range s.Hypotheses {
		if h.Status == StatusRejected {
			continue
		}
		fmt.Fprintf(&b, "- [%s] %s\n", h.ID, h.Claim)
	}
	if len(execCtx.ServiceMapping) > 0 {
		b.WriteString("\nService to repository mapping:\n")
		services := make([]string, 0, len(execCtx.ServiceMapping))
		for svc := range execCtx.ServiceMapping {
			services = append(services, svc)
		}
		sort.Strings(services)
		for _, svc := range services {
			fmt.Fprintf(&b, "- %s: %s\n", svc, strings.Join(execCtx.ServiceMapping[svc], ", "))
		}
	}
	if len(s.Evidence) > 0 {
		b.WriteString("\nEvidence already collected:\n")
		for _, e := range s.Evidence {
			fmt.Fprintf(&b, "- %s\n", e.Summary)
		}
		b.WriteString("\nFocus on what is still unknown.\n")
	}
	return b.String()
}

// buildValidatePrompt renders the user prompt for hypothesis validation.
func buildValidatePrompt(s *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Incident report:\n%s\n\nHypotheses:\n", s.Query)
	for _, h := range s.Hypotheses {
		if h.Status == StatusRejected {
			continue
		}
		fmt.Fprintf(&b, "- id=%s claim=%s\n", h.ID, h.Claim)
	}
	b.WriteString("\nEvidence:\n")
	if len(s.Evidence) == 0 {
		b.WriteString("(none collected)\n")
	}
	for _, e := range s.Evidence {
		fmt.Fprintf(&b, "- %s\n", e.Summary)
	}
	return b.String()
}

// buildSynthesizePrompt renders the user prompt for the final report.
// Superseded batches are included so the "ruled out" section covers
// every round.
func buildSynthesizePrompt(s *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Incident report:\n%s\n\nHypotheses and outcomes:\n", s.Query)
	for _, h := range s.Hypotheses {
		writeHypothesisOutcome(&b, h)
	}
	for _, batch := range s.History {
		for _, h := range batch {
			writeHypothesisOutcome(&b, h)
		}
	}
	b.WriteString("\nEvidence:\n")
	if len(s.Evidence) == 0 {
		b.WriteString("(none collected)\n")
	}
	for _, e := range s.Evidence {
		fmt.Fprintf(&b, "- %s\n", e.Summary)
	}
	return b.String()
}

func writeHypothesisOutcome(b *strings.Builder, h Hypothesis) {
	fmt.Fprintf(b, "- [%s, confidence %d] %s", h.Status, h.Confidence, h.Claim)
	if h.RejectionReason != "" {
		fmt.Fprintf(b, " (rejected: %s)", h.RejectionReason)
	}
	b.WriteString("\n")
}
