package concept

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rexlit/internal/extract"
)

func TestAnalyzeTextFindsConcepts(t *testing.T) {
	d := NewPatternDetector(extract.PlainTextExtractor{})
	text := "From: counsel@firm.com\nThis communication is privileged and contains legal advice.\nPlease delete this after reading."

	findings := d.AnalyzeText(text, nil, 0.5, nil)
	require.NotEmpty(t, findings)

	concepts := map[string]int{}
	for _, f := range findings {
		concepts[f.Concept]++
		assert.GreaterOrEqual(t, f.Confidence, 0.5)
		assert.Less(t, f.Start, f.End)
		assert.Equal(t, 1, f.Page)
		assert.Len(t, f.SnippetHash, 64, "snippet must be hashed, not stored")
	}
	assert.Greater(t, concepts["EMAIL_COMMUNICATION"], 0)
	assert.Greater(t, concepts["LEGAL_ADVICE"], 0)
	assert.Greater(t, concepts["HOTDOC"], 0)
}

func TestAnalyzeTextConceptFilter(t *testing.T) {
	d := NewPatternDetector(extract.PlainTextExtractor{})
	text := "privileged legal advice from plaintiff counsel, deadline tomorrow"

	findings := d.AnalyzeText(text, []string{"KEY_PARTY"}, 0.5, nil)
	for _, f := range findings {
		assert.Equal(t, "KEY_PARTY", f.Concept)
	}
	require.NotEmpty(t, findings)
}

func TestAnalyzeTextPageMapping(t *testing.T) {
	d := NewPatternDetector(extract.PlainTextExtractor{})
	// Two pages: boundary at offset 0 and 50.
	text := make([]byte, 100)
	for i := range text {
		text[i] = ' '
	}
	copy(text[60:], "privileged")

	findings := d.AnalyzeText(string(text), []string{"LEGAL_ADVICE"}, 0.5, []int{0, 50})
	require.Len(t, findings, 1)
	assert.Equal(t, 2, findings[0].Page)
}

func TestAnalyzeDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memo.txt")
	require.NoError(t, os.WriteFile(path, []byte("whereas the parties covenant and agree"), 0o644))

	d := NewPatternDetector(extract.PlainTextExtractor{})
	findings, err := d.AnalyzeDocument(path, nil, 0.5)
	require.NoError(t, err)
	require.NotEmpty(t, findings)
	assert.Equal(t, "CONTRACT_LANGUAGE", findings[0].Concept)
	assert.False(t, d.RequiresOnline())
}
