// Package highlight plans document highlights from concept findings. Plans
// persist offsets, classification, presentation, and digests only - raw
// snippets and reasoning never reach disk.
package highlight

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"rexlit/internal/audit"
	"rexlit/internal/concept"
	"rexlit/internal/hashing"
	"rexlit/internal/logging"
	"rexlit/internal/pathsafe"
	"rexlit/internal/plans"
	"rexlit/internal/rexerr"
)

// categoryColors maps finding categories to highlight colors.
var categoryColors = map[string]string{
	"communication": "cyan",
	"privilege":     "magenta",
	"entity":        "yellow",
	"hotdoc":        "red",
	"responsive":    "green",
}

// escalation thresholds for the refinement port.
const (
	defaultSkipThreshold     = 0.85
	defaultEscalateThreshold = 0.50
)

// shadeIntensity maps confidence [0,1] to shade intensity [0.3, 1.0].
func shadeIntensity(confidence float64) float64 {
	if confidence < 0.5 {
		return 0.3
	}
	v := 0.3 + (confidence-0.5)*1.4
	if v > 1.0 {
		return 1.0
	}
	return v
}

// findingToHighlight converts a concept finding into a plan highlight.
func findingToHighlight(f concept.Finding) plans.Highlight {
	color, ok := categoryColors[f.Category]
	if !ok {
		color = "yellow"
	}
	return plans.Highlight{
		Concept:        f.Concept,
		Category:       f.Category,
		Confidence:     f.Confidence,
		Start:          f.Start,
		End:            f.End,
		Page:           f.Page,
		Color:          color,
		ShadeIntensity: shadeIntensity(f.Confidence),
		SnippetHash:    f.SnippetHash,
		ReasoningHash:  f.ReasoningHash,
	}
}

// Plan is the in-memory result of highlight planning.
type Plan struct {
	PlanID       string
	DocumentHash string
	Highlights   []plans.Highlight
	Annotations  map[string]interface{}
}

// Service orchestrates highlight planning.
type Service struct {
	detector          concept.Detector
	refiner           concept.Refiner // optional
	gate              pathsafe.OfflineGate
	key               []byte
	ledger            *audit.Ledger // optional
	roots             []string
	SkipThreshold     float64
	EscalateThreshold float64
}

// NewService builds the highlight planner.
func NewService(detector concept.Detector, refiner concept.Refiner, gate pathsafe.OfflineGate, key []byte, ledger *audit.Ledger, allowedRoots []string) *Service {
	return &Service{
		detector:          detector,
		refiner:           refiner,
		gate:              gate,
		key:               key,
		ledger:            ledger,
		roots:             allowedRoots,
		SkipThreshold:     defaultSkipThreshold,
		EscalateThreshold: defaultEscalateThreshold,
	}
}

// Plan analyzes input and writes a sealed highlight plan to output.
func (s *Service) Plan(input, output string, concepts []string, threshold float64) (*Plan, error) {
	timer := logging.StartTimer(logging.CategoryPlans, "HighlightPlan")
	defer timer.Stop()

	if s.detector.RequiresOnline() {
		if err := s.gate.Require("Highlight concept detection"); err != nil {
			return nil, err
		}
	}

	resolved := input
	if len(s.roots) > 0 {
		var err error
		resolved, err = pathsafe.ResolveUnderRoots(input, s.roots)
		if err != nil {
			return nil, err
		}
	} else {
		abs, err := filepath.Abs(input)
		if err != nil {
			return nil, err
		}
		resolved = abs
	}
	if _, err := os.Stat(resolved); err != nil {
		return nil, rexerr.Wrap(rexerr.NotFound, input, err, "highlight source missing")
	}

	findings, err := s.detector.AnalyzeDocument(resolved, concepts, threshold)
	if err != nil {
		return nil, err
	}
	findings = s.escalate(resolved, findings)

	highlights := make([]plans.Highlight, 0, len(findings))
	for _, f := range findings {
		highlights = append(highlights, findingToHighlight(f))
	}

	documentHash, err := hashing.SHA256File(resolved)
	if err != nil {
		return nil, err
	}

	annotations := buildAnnotations(findings, highlights)
	planID, err := plans.ComputeHighlightPlanID(documentHash, highlights, annotations)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(output); err == nil {
		existing, err := plans.LoadEntry(output, s.key)
		if err != nil {
			return nil, err
		}
		existingID, err := plans.ValidateHighlightEntry(existing, documentHash)
		if err != nil {
			return nil, err
		}
		if existingID != planID {
			return nil, rexerr.New(rexerr.PlanFingerprintMismatch, output,
				"existing highlight plan fingerprint mismatch; refusing to overwrite")
		}
		return &Plan{PlanID: planID, DocumentHash: documentHash, Highlights: highlights, Annotations: annotations}, nil
	}

	entry := plans.HighlightEntry{
		DocumentHash: documentHash,
		PlanID:       planID,
		Highlights:   highlights,
		Annotations:  annotations,
		Notes:        fmt.Sprintf("Found %d highlights", len(highlights)),
	}
	if err := plans.WriteEntry(output, entry, "highlight_plan", s.key); err != nil {
		return nil, err
	}

	if s.ledger != nil {
		if _, err := s.ledger.Append("highlight_plan_create",
			[]string{resolved},
			[]string{output},
			map[string]interface{}{
				"plan_id":         planID,
				"document_hash":   documentHash,
				"highlight_count": len(highlights),
			}, nil); err != nil {
			return nil, err
		}
	}

	return &Plan{PlanID: planID, DocumentHash: documentHash, Highlights: highlights, Annotations: annotations}, nil
}

// escalate applies the refinement policy: confident findings bypass the
// refiner, mid-confidence findings are refined, and refinement failures
// fall back to the original findings without raising.
func (s *Service) escalate(path string, findings []concept.Finding) []concept.Finding {
	if s.refiner == nil {
		return findings
	}
	if s.refiner.RequiresOnline() && s.gate.Require("Highlight refinement") != nil {
		return findings
	}

	var confident, uncertain []concept.Finding
	for _, f := range findings {
		if f.Confidence >= s.SkipThreshold || f.Confidence < s.EscalateThreshold {
			confident = append(confident, f)
		} else {
			uncertain = append(uncertain, f)
		}
	}
	if len(uncertain) == 0 {
		return findings
	}

	refined, err := s.refiner.RefineFindings(path, uncertain)
	if err != nil {
		logging.Get(logging.CategoryPlans).Warn("refinement failed for %s, keeping originals: %v", path, err)
		return findings
	}
	return append(confident, refined...)
}

// ValidatePlan checks a sealed plan against the current document hash.
func (s *Service) ValidatePlan(planPath, documentPath string) error {
	entry, err := plans.LoadEntry(planPath, s.key)
	if err != nil {
		return err
	}
	documentHash, err := hashing.SHA256File(documentPath)
	if err != nil {
		return err
	}
	_, err = plans.ValidateHighlightEntry(entry, documentHash)
	return err
}

func buildAnnotations(findings []concept.Finding, highlights []plans.Highlight) map[string]interface{} {
	conceptSet := make(map[string]bool)
	pageSet := make(map[int]bool)
	minConf, maxConf := 0.0, 0.0
	for i, h := range highlights {
		conceptSet[findings[i].Concept] = true
		if h.Page > 0 {
			pageSet[h.Page] = true
		}
		if i == 0 || h.Confidence < minConf {
			minConf = h.Confidence
		}
		if h.Confidence > maxConf {
			maxConf = h.Confidence
		}
	}

	conceptTypes := make([]string, 0, len(conceptSet))
	for c := range conceptSet {
		conceptTypes = append(conceptTypes, c)
	}
	sort.Strings(conceptTypes)

	pages := make([]int, 0, len(pageSet))
	for p := range pageSet {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	return map[string]interface{}{
		"concept_types":         conceptTypes,
		"highlight_count":       len(highlights),
		"pages_with_highlights": pages,
		"confidence_range":      []float64{minConf, maxConf},
	}
}
