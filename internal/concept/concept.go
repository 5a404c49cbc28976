// Package concept detects legal concepts in document text for highlight
// planning. The built-in adapter is an offline regex detector; model-backed
// detectors implement the same port and plug in at bootstrap.
package concept

import (
	"regexp"

	"rexlit/internal/extract"
	"rexlit/internal/hashing"
)

// Finding is one detected concept occurrence. SnippetHash and ReasoningHash
// are digests of sensitive material that never persists raw.
type Finding struct {
	Concept       string
	Category      string
	Confidence    float64
	Start         int
	End           int
	Page          int
	SnippetHash   string
	ReasoningHash string
}

// Detector is the concept port consumed by highlight planning.
type Detector interface {
	AnalyzeText(text string, concepts []string, threshold float64, pageBoundaries []int) []Finding
	AnalyzeDocument(path string, concepts []string, threshold float64) ([]Finding, error)
	SupportedConcepts() []string
	RequiresOnline() bool
}

// Refiner optionally re-scores uncertain findings; highlight planning
// escalates mid-confidence findings through it.
type Refiner interface {
	RefineFindings(text string, findings []Finding) ([]Finding, error)
	RequiresOnline() bool
}

var (
	emailHeaderPattern  = regexp.MustCompile(`(?i)\b(from|to|cc|bcc):\s+\S+@\S+`)
	emailAddressPattern = regexp.MustCompile(`(?i)\b[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}\b`)
	legalAdvicePattern  = regexp.MustCompile(`(?i)\b(privileged|attorney-client|work product|legal advice|counsel advises)\b`)
	privilegePattern    = regexp.MustCompile(`(?i)\b(do not forward|confidential|foia exempt|attorney eyes only|litigation hold|protected by|work-product doctrine|prepared in anticipation)\b`)
	keyPartyPattern     = regexp.MustCompile(`(?i)\b(plaintiff|defendant|respondent|claimant|petitioner|appellee|appellant)\b`)
	contractPattern     = regexp.MustCompile(`(?i)\b(hereby|whereas|covenant|indemnify|warrant|force majeure|governing law|arbitration|liquidated damages|non-compete|non-disclosure|severability)\b`)
	deadlinePattern     = regexp.MustCompile(`(?i)\b(deadline|due date|expiration|termination date|effective date|closing date|statute of limitations|response due|filing deadline|discovery cutoff)\b`)
	hotdocPattern       = regexp.MustCompile(`(?i)\b(smoking gun|we knew|should not have|violated|cover up|hide this|destroy|shred|do not disclose|off the record|between us|delete this)\b`)
)

type rule struct {
	concept    string
	category   string
	confidence float64
	pattern    *regexp.Regexp
}

var rules = []rule{
	{"EMAIL_COMMUNICATION", "communication", 0.9, emailHeaderPattern},
	{"EMAIL_COMMUNICATION", "communication", 0.85, emailAddressPattern},
	{"LEGAL_ADVICE", "privilege", 0.85, legalAdvicePattern},
	{"LEGAL_ADVICE", "privilege", 0.75, privilegePattern},
	{"KEY_PARTY", "entity", 0.75, keyPartyPattern},
	{"CONTRACT_LANGUAGE", "responsive", 0.8, contractPattern},
	{"DATE_DEADLINE", "entity", 0.7, deadlinePattern},
	{"HOTDOC", "hotdoc", 0.9, hotdocPattern},
}

// PatternDetector is the offline regex detector.
type PatternDetector struct {
	extractor extract.Extractor
}

// NewPatternDetector builds a detector that uses extractor for whole
// documents.
func NewPatternDetector(extractor extract.Extractor) *PatternDetector {
	return &PatternDetector{extractor: extractor}
}

// SupportedConcepts lists the concept types this detector can emit.
func (d *PatternDetector) SupportedConcepts() []string {
	return []string{
		"EMAIL_COMMUNICATION", "LEGAL_ADVICE", "KEY_PARTY",
		"CONTRACT_LANGUAGE", "DATE_DEADLINE", "HOTDOC",
	}
}

// RequiresOnline is false: regex detection runs locally.
func (d *PatternDetector) RequiresOnline() bool { return false }

// AnalyzeText scans text for the requested concepts. The matched snippet is
// hashed into the finding; the raw text never leaves this function.
func (d *PatternDetector) AnalyzeText(text string, concepts []string, threshold float64, pageBoundaries []int) []Finding {
	target := make(map[string]bool)
	if len(concepts) == 0 {
		for _, c := range d.SupportedConcepts() {
			target[c] = true
		}
	} else {
		for _, c := range concepts {
			target[c] = true
		}
	}

	var findings []Finding
	for _, r := range rules {
		if !target[r.concept] {
			continue
		}
		confidence := r.confidence
		if confidence < threshold {
			confidence = threshold
		}
		for _, loc := range r.pattern.FindAllStringIndex(text, -1) {
			findings = append(findings, Finding{
				Concept:     r.concept,
				Category:    r.category,
				Confidence:  confidence,
				Start:       loc[0],
				End:         loc[1],
				Page:        extract.OffsetToPage(loc[0], pageBoundaries),
				SnippetHash: hashing.SHA256String(text[loc[0]:loc[1]]),
			})
		}
	}
	return findings
}

// AnalyzeDocument extracts text and scans it.
func (d *PatternDetector) AnalyzeDocument(path string, concepts []string, threshold float64) ([]Finding, error) {
	content, err := d.extractor.Extract(path)
	if err != nil {
		return nil, err
	}
	return d.AnalyzeText(content.Text, concepts, threshold, content.PageBoundaries), nil
}
