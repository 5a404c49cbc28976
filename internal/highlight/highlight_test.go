package highlight

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rexlit/internal/concept"
	"rexlit/internal/crypto"
	"rexlit/internal/extract"
	"rexlit/internal/pathsafe"
	"rexlit/internal/plans"
)

func newService(t *testing.T, refiner concept.Refiner) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	key, err := crypto.LoadOrCreateFernetKey(filepath.Join(dir, "hl.key"))
	require.NoError(t, err)
	detector := concept.NewPatternDetector(extract.PlainTextExtractor{})
	return NewService(detector, refiner, pathsafe.NewOfflineGate(false), key, nil, nil), dir
}

func TestPlanProducesSealedHighlights(t *testing.T) {
	service, dir := newService(t, nil)
	docPath := filepath.Join(dir, "memo.txt")
	secret := "This privileged memo contains legal advice about the merger"
	require.NoError(t, os.WriteFile(docPath, []byte(secret), 0o644))

	output := filepath.Join(dir, "memo.highlight-plan.enc")
	plan, err := service.Plan(docPath, output, nil, 0.5)
	require.NoError(t, err)
	require.NotEmpty(t, plan.Highlights)
	assert.Len(t, plan.PlanID, 64)

	// Persisted record carries digests, never raw text.
	raw, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "privileged")
	assert.NotContains(t, string(raw), "merger")

	for _, h := range plan.Highlights {
		assert.NotEmpty(t, h.SnippetHash)
		assert.Equal(t, "magenta", h.Color)
		assert.GreaterOrEqual(t, h.ShadeIntensity, 0.3)
	}

	// Even the decrypted record holds no snippet text.
	serialized, err := json.Marshal(plan.Highlights)
	require.NoError(t, err)
	assert.NotContains(t, string(serialized), "legal advice")
}

func TestPlanDeterministicID(t *testing.T) {
	service, dir := newService(t, nil)
	docPath := filepath.Join(dir, "memo.txt")
	require.NoError(t, os.WriteFile(docPath, []byte("plaintiff and defendant covenant"), 0o644))

	out1 := filepath.Join(dir, "p1.enc")
	out2 := filepath.Join(dir, "p2.enc")
	plan1, err := service.Plan(docPath, out1, nil, 0.5)
	require.NoError(t, err)
	plan2, err := service.Plan(docPath, out2, nil, 0.5)
	require.NoError(t, err)
	assert.Equal(t, plan1.PlanID, plan2.PlanID)

	// Re-planning to the same file is an idempotent no-op.
	plan3, err := service.Plan(docPath, out1, nil, 0.5)
	require.NoError(t, err)
	assert.Equal(t, plan1.PlanID, plan3.PlanID)
}

func TestValidatePlan(t *testing.T) {
	service, dir := newService(t, nil)
	docPath := filepath.Join(dir, "memo.txt")
	require.NoError(t, os.WriteFile(docPath, []byte("whereas the parties agree"), 0o644))

	output := filepath.Join(dir, "plan.enc")
	_, err := service.Plan(docPath, output, nil, 0.5)
	require.NoError(t, err)

	require.NoError(t, service.ValidatePlan(output, docPath))

	// Mutating the document breaks validation.
	require.NoError(t, os.WriteFile(docPath, []byte("entirely new content"), 0o644))
	require.Error(t, service.ValidatePlan(output, docPath))
}

// flakyRefiner fails every call; findings must fall back unharmed.
type flakyRefiner struct{ calls *int }

func (r flakyRefiner) RefineFindings(text string, findings []concept.Finding) ([]concept.Finding, error) {
	*r.calls++
	return nil, assertError{}
}
func (r flakyRefiner) RequiresOnline() bool { return false }

type assertError struct{}

func (assertError) Error() string { return "refiner unavailable" }

func TestRefinementFailureFallsBack(t *testing.T) {
	calls := 0
	service, dir := newService(t, flakyRefiner{calls: &calls})
	// KEY_PARTY matches carry confidence 0.75: inside the escalation band.
	docPath := filepath.Join(dir, "memo.txt")
	require.NoError(t, os.WriteFile(docPath, []byte("the defendant appeared"), 0o644))

	plan, err := service.Plan(docPath, filepath.Join(dir, "plan.enc"), []string{"KEY_PARTY"}, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "mid-confidence findings must escalate")
	assert.NotEmpty(t, plan.Highlights, "refinement failure falls back to originals")
}

// countingRefiner records which findings were escalated.
type countingRefiner struct{ seen *[]concept.Finding }

func (r countingRefiner) RefineFindings(text string, findings []concept.Finding) ([]concept.Finding, error) {
	*r.seen = append(*r.seen, findings...)
	return findings, nil
}
func (r countingRefiner) RequiresOnline() bool { return false }

func TestHighConfidenceSkipsRefiner(t *testing.T) {
	var seen []concept.Finding
	service, dir := newService(t, countingRefiner{seen: &seen})
	// HOTDOC matches carry confidence 0.9: above the skip threshold.
	docPath := filepath.Join(dir, "memo.txt")
	require.NoError(t, os.WriteFile(docPath, []byte("this is the smoking gun"), 0o644))

	_, err := service.Plan(docPath, filepath.Join(dir, "plan.enc"), []string{"HOTDOC"}, 0.5)
	require.NoError(t, err)
	assert.Empty(t, seen, "confident findings bypass the refiner")
}

func TestRunBatch(t *testing.T) {
	service, dir := newService(t, nil)
	sourceDir := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(sourceDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "a.txt"), []byte("privileged advice"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "b.txt"), []byte("deadline approaching"), 0o644))

	outputDir := filepath.Join(dir, "plans")
	result, err := service.RunBatch(context.Background(), sourceDir, outputDir, nil, 0.5, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, result.TotalDocuments)
	assert.Equal(t, 2, result.Successful)
	assert.Zero(t, result.Failed)

	// One plan per document keyed by sha256, plus the checkpoint sidecar.
	entries, err := os.ReadDir(outputDir)
	require.NoError(t, err)
	planCount := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".enc" {
			planCount++
		}
	}
	assert.Equal(t, 2, planCount)

	// Resume: a second run skips completed documents.
	result2, err := service.RunBatch(context.Background(), sourceDir, outputDir, nil, 0.5, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, result2.Successful)
	assert.Empty(t, result2.Results, "completed paths come from the checkpoint")
}

func TestShadeIntensityMapping(t *testing.T) {
	assert.InDelta(t, 0.3, shadeIntensity(0.2), 1e-9)
	assert.InDelta(t, 0.3, shadeIntensity(0.49), 1e-9)
	assert.InDelta(t, 0.79, shadeIntensity(0.85), 1e-9)
	assert.InDelta(t, 1.0, shadeIntensity(1.0), 1e-9)
}

func TestHighlightEntryShapes(t *testing.T) {
	// Ensure the persisted highlight uses only digest fields for content.
	h := plans.Highlight{Concept: "HOTDOC", SnippetHash: "ab", ReasoningHash: "cd"}
	data, err := json.Marshal(h)
	require.NoError(t, err)
	assert.Contains(t, string(data), "snippet_hash")
	assert.NotContains(t, string(data), "snippet\"")
}
