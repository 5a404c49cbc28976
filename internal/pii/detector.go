// Package pii provides the offline pattern-based PII detector feeding
// redaction plan generation, plus the encrypted findings store.
package pii

import (
	"path/filepath"
	"regexp"
	"strings"

	"rexlit/internal/extract"
	"rexlit/internal/types"
)

// Analyzer is the PII port consumed by redaction planning.
type Analyzer interface {
	AnalyzeText(documentID, text string) []types.PIIFinding
	AnalyzeDocument(path string) ([]types.PIIFinding, error)
	RequiresOnline() bool
}

var (
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`\b(?:\+1[-. ]?)?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`)
	ccPattern    = regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)
)

// detector pairs an entity type with its pattern and base confidence.
type detector struct {
	entityType string
	pattern    *regexp.Regexp
	score      float64
}

var detectors = []detector{
	{"SSN", ssnPattern, 0.95},
	{"EMAIL", emailPattern, 0.9},
	{"PHONE", phonePattern, 0.7},
	{"CREDIT_CARD", ccPattern, 0.6},
}

// PatternAnalyzer detects PII with offline regular expressions.
type PatternAnalyzer struct {
	extractor extract.Extractor
}

// NewPatternAnalyzer builds an analyzer that extracts text via extractor
// when analyzing whole documents.
func NewPatternAnalyzer(extractor extract.Extractor) *PatternAnalyzer {
	return &PatternAnalyzer{extractor: extractor}
}

// AnalyzeText scans text and returns findings with entity types uppercased.
func (a *PatternAnalyzer) AnalyzeText(documentID, text string) []types.PIIFinding {
	var findings []types.PIIFinding
	for _, d := range detectors {
		for _, loc := range d.pattern.FindAllStringIndex(text, -1) {
			findings = append(findings, types.PIIFinding{
				DocumentID: documentID,
				EntityType: strings.ToUpper(d.entityType),
				Text:       text[loc[0]:loc[1]],
				Score:      d.score,
				Start:      loc[0],
				End:        loc[1],
			})
		}
	}
	return findings
}

// AnalyzeDocument extracts text and scans it, attaching page numbers when
// the extraction reports page boundaries.
func (a *PatternAnalyzer) AnalyzeDocument(path string) ([]types.PIIFinding, error) {
	content, err := a.extractor.Extract(path)
	if err != nil {
		return nil, err
	}
	findings := a.AnalyzeText(filepath.Base(path), content.Text)
	if len(content.PageBoundaries) > 1 {
		for i := range findings {
			findings[i].Page = extract.OffsetToPage(findings[i].Start, content.PageBoundaries)
		}
	}
	return findings, nil
}

// RequiresOnline is false: pattern detection runs locally.
func (a *PatternAnalyzer) RequiresOnline() bool { return false }
