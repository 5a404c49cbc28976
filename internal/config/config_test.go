package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "RXL", s.BatesPrefix)
	assert.Equal(t, 6, s.BatesWidth)
	assert.False(t, s.Online)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "data_dir: /tmp/rexdata\nonline: true\nbates_prefix: ACME\nbates_width: 8\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/rexdata", s.DataDir)
	assert.True(t, s.Online)
	assert.Equal(t, "ACME", s.BatesPrefix)
	assert.Equal(t, 8, s.BatesWidth)
	assert.True(t, s.OfflineGate().Online())
}

func TestStateLayout(t *testing.T) {
	s := &Settings{DataDir: "/data", ConfigDir: "/cfg"}
	assert.Equal(t, filepath.Join("/data", "audit.jsonl"), s.AuditLedgerPath())
	assert.Equal(t, filepath.Join("/data", "bates", "bates_plan.jsonl"), s.BatesPlanPath())
	assert.Equal(t, filepath.Join("/data", "index"), s.IndexDir())
	assert.Equal(t, filepath.Join("/data", "pii_findings.enc"), s.PIIStorePath())
	assert.Equal(t, filepath.Join("/data", "packs"), s.PacksDir())
	assert.Equal(t, filepath.Join("/cfg", "policies"), s.PolicyDir())
}

func TestKeyLifecycle(t *testing.T) {
	s := &Settings{DataDir: t.TempDir(), ConfigDir: t.TempDir()}

	k1, err := s.RedactionPlanKey()
	require.NoError(t, err)
	k2, err := s.RedactionPlanKey()
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "key persists across loads")

	hk, err := s.AuditHMACKey()
	require.NoError(t, err)
	assert.Len(t, hk, 32)

	// Distinct concerns use distinct keys.
	pk, err := s.PIIKey()
	require.NoError(t, err)
	assert.NotEqual(t, k1, pk)
}

func TestRoots(t *testing.T) {
	s := &Settings{DataDir: "/data", AllowedRoots: []string{"/evidence"}}
	assert.Equal(t, []string{"/data", "/evidence"}, s.Roots())
}
