package privilege

import (
	"strconv"
	"strings"
)

// RedactionSpan is one span of text the classifier flagged for redaction.
// The justification must not contain privileged excerpts.
type RedactionSpan struct {
	Category      string `json:"category"`
	Start         int    `json:"start"`
	End           int    `json:"end"`
	Justification string `json:"justification"`
}

// PolicyDecision is the privacy-preserving classification result. The full
// chain-of-thought is hashed, never stored; the summary carries no quoted
// text. Callers receive a decision for every input - adapter failures
// surface as needs_review with error_message set, never as exceptions.
type PolicyDecision struct {
	Labels                 []string        `json:"labels"`
	Confidence             float64         `json:"confidence"`
	NeedsReview            bool            `json:"needs_review"`
	ReasoningHash          string          `json:"reasoning_hash"`
	ReasoningSummary       string          `json:"reasoning_summary"`
	FullReasoningAvailable bool            `json:"full_reasoning_available"`
	RedactionSpans         []RedactionSpan `json:"redaction_spans"`
	ModelVersion           string          `json:"model_version"`
	PolicyVersion          string          `json:"policy_version"`
	ReasoningEffort        string          `json:"reasoning_effort"`
	DecisionTS             string          `json:"decision_ts"`
	ErrorMessage           string          `json:"error_message,omitempty"`
}

// IsPrivileged reports whether any label marks the document privileged.
func (d PolicyDecision) IsPrivileged() bool {
	for _, label := range d.Labels {
		if strings.Contains(strings.ToUpper(label), "PRIVILEGED") {
			return true
		}
	}
	return false
}

// IsResponsive reports whether any label marks the document responsive.
func (d PolicyDecision) IsResponsive() bool {
	for _, label := range d.Labels {
		if strings.Contains(strings.ToUpper(label), "RESPONSIVE") {
			return true
		}
	}
	return false
}

// HotdocLevel extracts the numeric HOTDOC level, or -1 if absent.
func (d PolicyDecision) HotdocLevel() int {
	for _, label := range d.Labels {
		upper := strings.ToUpper(label)
		if strings.HasPrefix(upper, "HOTDOC:") {
			if n, err := strconv.Atoi(upper[len("HOTDOC:"):]); err == nil {
				return n
			}
		}
	}
	return -1
}
