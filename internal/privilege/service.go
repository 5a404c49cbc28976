package privilege

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rexlit/internal/audit"
	"rexlit/internal/jsonl"
	"rexlit/internal/logging"
	"rexlit/internal/pathsafe"
	"rexlit/internal/rexerr"
)

// ReviewService orchestrates privilege classification and its
// privacy-preserving audit trail. Every document is sent to the model;
// SkipThreshold and EscalateThreshold are carried as settings and are not
// consulted by ReviewDocument or BatchReview.
type ReviewService struct {
	safeguard *Safeguard
	ledger    *audit.Ledger // optional

	SkipThreshold     float64
	EscalateThreshold float64
}

// NewReviewService builds the review orchestrator.
func NewReviewService(safeguard *Safeguard, ledger *audit.Ledger) *ReviewService {
	return &ReviewService{
		safeguard:         safeguard,
		ledger:            ledger,
		SkipThreshold:     0.85,
		EscalateThreshold: 0.50,
	}
}

// ReviewDocument classifies one document and logs the decision. Only
// hashes, labels, and redacted summaries reach the ledger.
func (s *ReviewService) ReviewDocument(ctx context.Context, docID, text string, threshold float64) PolicyDecision {
	decision := s.safeguard.ClassifyPrivilege(ctx, text, threshold, "dynamic")
	s.logDecision(docID, decision, "privilege")
	return decision
}

// BatchReview classifies documents in order, producing one decision each.
func (s *ReviewService) BatchReview(ctx context.Context, docs [][2]string, threshold float64) []PolicyDecision {
	decisions := make([]PolicyDecision, 0, len(docs))
	for _, doc := range docs {
		decisions = append(decisions, s.ReviewDocument(ctx, doc[0], doc[1], threshold))
	}
	return decisions
}

// logDecision writes the privacy-preserving record: no document text, no
// raw reasoning, no excerpts.
func (s *ReviewService) logDecision(docID string, decision PolicyDecision, stage string) {
	if s.ledger == nil {
		return
	}

	args := map[string]interface{}{
		"doc_id":            docID,
		"labels":            decision.Labels,
		"confidence":        decision.Confidence,
		"needs_review":      decision.NeedsReview,
		"reasoning_hash":    decision.ReasoningHash,
		"reasoning_summary": decision.ReasoningSummary,
		"model_version":     decision.ModelVersion,
		"policy_version":    decision.PolicyVersion,
		"reasoning_effort":  decision.ReasoningEffort,
		"decision_ts":       decision.DecisionTS,
	}
	if len(decision.RedactionSpans) > 0 {
		args["redaction_count"] = len(decision.RedactionSpans)
	}
	if decision.ErrorMessage != "" {
		args["error"] = decision.ErrorMessage
	}

	if _, err := s.ledger.Append("privilege."+stage, []string{docID}, nil, args, nil); err != nil {
		logging.Get(logging.CategoryPrivilege).Error("failed to log decision for %s: %v", docID, err)
	}
}

// ExportReport writes decisions as JSONL for downstream review tooling.
func (s *ReviewService) ExportReport(decisions map[string]PolicyDecision, outputPath string) error {
	ids := make([]string, 0, len(decisions))
	for id := range decisions {
		ids = append(ids, id)
	}
	// Deterministic report order.
	sort.Strings(ids)

	records := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		d := decisions[id]
		records = append(records, map[string]interface{}{
			"doc_id":            id,
			"labels":            d.Labels,
			"confidence":        d.Confidence,
			"needs_review":      d.NeedsReview,
			"reasoning_hash":    d.ReasoningHash,
			"reasoning_summary": d.ReasoningSummary,
			"model_version":     d.ModelVersion,
			"policy_version":    d.PolicyVersion,
			"timestamp":         d.DecisionTS,
		})
	}
	return jsonl.AtomicWriteJSONL(outputPath, records, nil)
}

// =============================================================================
// POLICY MANAGER
// =============================================================================

// PolicyStage names the three classification stages.
var PolicyStage = map[int]string{
	1: "Privilege",
	2: "Responsiveness",
	3: "Redaction",
}

// PolicyManager manages policy templates under the config directory.
type PolicyManager struct {
	policyDir string
	ledger    *audit.Ledger // optional
	roots     []string
}

// NewPolicyManager builds a manager rooted at policyDir.
func NewPolicyManager(policyDir string, ledger *audit.Ledger, allowedRoots []string) *PolicyManager {
	return &PolicyManager{policyDir: policyDir, ledger: ledger, roots: allowedRoots}
}

// PolicyPath returns the template path for a stage.
func (m *PolicyManager) PolicyPath(stage int) string {
	return filepath.Join(m.policyDir, fmt.Sprintf("privilege_stage%d.txt", stage))
}

// ShowPolicy returns the template text for a stage.
func (m *PolicyManager) ShowPolicy(stage int) (string, error) {
	data, err := os.ReadFile(m.PolicyPath(stage))
	if err != nil {
		if os.IsNotExist(err) {
			return "", rexerr.Wrap(rexerr.NotFound, m.PolicyPath(stage), err,
				"policy template missing for stage %d", stage)
		}
		return "", err
	}
	return string(data), nil
}

// ApplyFromFile installs a policy template from sourcePath, enforcing the
// allowed roots and logging the update.
func (m *PolicyManager) ApplyFromFile(stage int, sourcePath string) error {
	roots := append([]string{m.policyDir}, m.roots...)
	resolved, err := pathsafe.ResolveUnderRoots(sourcePath, roots)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(resolved)
	if err != nil {
		return rexerr.Wrap(rexerr.NotFound, sourcePath, err, "policy source not found")
	}

	target := m.PolicyPath(stage)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, target, err, "write policy template")
	}

	if m.ledger != nil {
		_, err = m.ledger.Append("privilege.policy.update",
			[]string{resolved}, []string{target},
			map[string]interface{}{"stage": stage, "stage_name": PolicyStage[stage]}, nil)
		return err
	}
	return nil
}

// ValidatePolicy performs lightweight structural validation of a template.
func (m *PolicyManager) ValidatePolicy(stage int) (bool, []string) {
	text, err := m.ShowPolicy(stage)
	if err != nil {
		return false, []string{err.Error()}
	}

	var errs []string
	lower := strings.ToLower(text)
	if strings.TrimSpace(text) == "" {
		errs = append(errs, "policy template is empty")
	}
	if !strings.Contains(text, "```json") {
		errs = append(errs, "policy must document JSON response schema")
	}
	if !strings.Contains(lower, "labels") {
		errs = append(errs, "policy must mention classification labels")
	}
	if !strings.Contains(lower, "confidence") {
		errs = append(errs, "policy must describe confidence scoring")
	}
	return len(errs) == 0, errs
}
