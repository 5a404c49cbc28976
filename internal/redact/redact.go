// Package redact implements the two-phase plan/apply redaction flow. Plans
// are sealed single-record artifacts with deterministic fingerprints; apply
// verifies the source hash before any mutation.
package redact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"rexlit/internal/audit"
	"rexlit/internal/hashing"
	"rexlit/internal/logging"
	"rexlit/internal/pathsafe"
	"rexlit/internal/pii"
	"rexlit/internal/plans"
	"rexlit/internal/rexerr"
	"rexlit/internal/stamp"
)

// Planner emits sealed redaction plans, one per document.
type Planner struct {
	key      []byte
	analyzer pii.Analyzer // optional
	roots    []string
}

// NewPlanner builds a planner sealing with key. analyzer may be nil, in
// which case plans carry no actions.
func NewPlanner(key []byte, analyzer pii.Analyzer, allowedRoots []string) *Planner {
	return &Planner{key: key, analyzer: analyzer, roots: allowedRoots}
}

// Plan produces (or idempotently re-validates) the plan for source. An
// existing plan with a diverging fingerprint fails before any overwrite.
func (p *Planner) Plan(source, output string) (string, string, error) {
	timer := logging.StartTimer(logging.CategoryPlans, "RedactionPlan")
	defer timer.Stop()

	resolved := source
	if len(p.roots) > 0 {
		var err error
		resolved, err = pathsafe.ResolveUnderRoots(source, p.roots)
		if err != nil {
			return "", "", err
		}
	} else {
		abs, err := filepath.Abs(source)
		if err != nil {
			return "", "", err
		}
		resolved = abs
	}
	if _, err := os.Stat(resolved); err != nil {
		return "", "", rexerr.Wrap(rexerr.NotFound, source, err, "redaction plan source missing")
	}

	if output == "" {
		output = resolved + ".redaction-plan.enc"
	}

	contentHash, err := hashing.SHA256File(resolved)
	if err != nil {
		return "", "", err
	}

	actions, notes := p.detect(resolved)

	planID, err := plans.ComputeRedactionPlanID(resolved, contentHash, actions, nil)
	if err != nil {
		return "", "", err
	}

	if _, err := os.Stat(output); err == nil {
		existing, err := plans.LoadEntry(output, p.key)
		if err != nil {
			return "", "", err
		}
		existingID, err := plans.ValidateRedactionEntry(existing, resolved, contentHash)
		if err != nil {
			return "", "", err
		}
		if existingID != planID {
			return "", "", rexerr.New(rexerr.PlanFingerprintMismatch, output,
				"existing plan fingerprint mismatch; refusing to overwrite")
		}
		// Same inputs, same plan: idempotent no-op.
		return output, planID, nil
	}

	entry := plans.RedactionEntry{
		Document: resolved,
		SHA256:   contentHash,
		PlanID:   planID,
		Actions:  actions,
		Notes:    notes,
	}
	if err := plans.WriteEntry(output, entry, "redaction_plan", p.key); err != nil {
		return "", "", err
	}
	logging.Plans("redaction plan %s for %s (%d actions)", planID[:12], resolved, len(actions))
	return output, planID, nil
}

func (p *Planner) detect(resolved string) ([]plans.Action, string) {
	if p.analyzer == nil {
		return nil, "No PII detector configured."
	}

	findings, err := p.analyzer.AnalyzeDocument(resolved)
	if err != nil {
		logging.Get(logging.CategoryPlans).Warn("PII detection failed for %s: %v", resolved, err)
		return nil, fmt.Sprintf("PII detection error: %v", err)
	}

	actions := make([]plans.Action, 0, len(findings))
	for _, f := range findings {
		actions = append(actions, plans.Action{
			Type:        "redact",
			Category:    f.EntityType,
			Start:       f.Start,
			End:         f.End,
			Page:        f.Page,
			Confidence:  f.Score,
			Replacement: fmt.Sprintf("[%s]", f.EntityType),
			Text:        f.Text,
		})
	}
	if len(actions) == 0 {
		return nil, "PII detection completed. No entities found."
	}
	return actions, fmt.Sprintf("PII detection found %d entities to redact.", len(actions))
}

// =============================================================================
// APPLY SERVICE
// =============================================================================

// Service applies sealed plans to documents.
type Service struct {
	key     []byte
	stamper *stamp.Stamper // optional; nil means non-PDF passthrough only
	ledger  *audit.Ledger  // optional
}

// NewService builds the apply-side service.
func NewService(key []byte, stamper *stamp.Stamper, ledger *audit.Ledger) *Service {
	return &Service{key: key, stamper: stamper, ledger: ledger}
}

// ApplyResult reports what an apply (or preview) did.
type ApplyResult struct {
	Source       string
	Output       string
	ActionCount  int
	AppliedCount int
	Preview      bool
	Diff         []string
}

// Apply loads the plan for source, verifies the source hash (unless force),
// and either previews the actions or applies them. Non-PDF artifacts are
// copied verbatim alongside the recorded actions.
func (s *Service) Apply(planPath, source, output string, preview, force bool) (*ApplyResult, error) {
	entry, err := plans.LoadEntry(planPath, s.key)
	if err != nil {
		return nil, err
	}

	resolved, err := filepath.Abs(source)
	if err != nil {
		return nil, err
	}
	currentHash, err := hashing.SHA256File(resolved)
	if err != nil {
		return nil, rexerr.Wrap(rexerr.NotFound, source, err, "redaction target unreadable")
	}

	planID, err := plans.ValidateRedactionEntry(entry, resolved, currentHash)
	if err != nil {
		if force && rexerr.IsKind(err, rexerr.HashMismatch) {
			logging.Get(logging.CategoryPlans).Warn("hash mismatch overridden with force for %s", resolved)
			planID, _ = entry["plan_id"].(string)
		} else {
			return nil, err
		}
	}

	actions := decodeActions(entry)
	result := &ApplyResult{
		Source:      resolved,
		Output:      output,
		ActionCount: len(actions),
		Preview:     preview,
	}

	if preview {
		for _, a := range actions {
			result.Diff = append(result.Diff,
				fmt.Sprintf("- [%d:%d] %s -> %s", a.Start, a.End, a.Category, a.Replacement))
		}
		return result, nil
	}

	isPDF := strings.EqualFold(filepath.Ext(resolved), ".pdf")
	if isPDF && s.stamper != nil {
		stampActions := make([]stamp.RedactionAction, 0, len(actions))
		for _, a := range actions {
			stampActions = append(stampActions, stamp.RedactionAction{
				Page: a.Page,
				Text: a.Text,
			})
		}
		applied, err := s.stamper.ApplyRedactions(resolved, output, stampActions)
		if err != nil {
			return nil, err
		}
		result.AppliedCount = applied
	} else {
		// Non-PDF artifacts are produced verbatim; the sealed plan remains
		// the authoritative record of intended redactions.
		if err := copyFile(resolved, output); err != nil {
			return nil, err
		}
	}

	if s.ledger != nil {
		_, err = s.ledger.Append("redaction_apply",
			[]string{resolved, planPath},
			[]string{output},
			map[string]interface{}{
				"plan_id":      planID,
				"action_count": len(actions),
				"force":        force,
			}, nil)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func decodeActions(entry map[string]interface{}) []plans.Action {
	raw, _ := entry["actions"].([]interface{})
	actions := make([]plans.Action, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		actions = append(actions, plans.Action{
			Type:        asString(m["type"]),
			Category:    asString(m["category"]),
			Start:       asInt(m["start"]),
			End:         asInt(m["end"]),
			Page:        asInt(m["page"]),
			Confidence:  asFloat(m["confidence"]),
			Replacement: asString(m["replacement"]),
			Text:        asString(m["text"]),
		})
	}
	return actions
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, dst, err, "create output directory")
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, dst, err, "create output file")
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, dst, err, "copy artifact")
	}
	return out.Sync()
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case interface{ Int64() (int64, error) }:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	}
	return 0
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case interface{ Float64() (float64, error) }:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return 0
}
