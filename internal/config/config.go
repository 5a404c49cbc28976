// Package config holds the RexLit settings container. Settings are built
// once at bootstrap and threaded explicitly through the services; there is
// no process-wide singleton.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"rexlit/internal/crypto"
	"rexlit/internal/pathsafe"
)

// Settings is the explicit configuration container for a RexLit process.
type Settings struct {
	// DataDir holds artifacts: ledger, index, plans, packs.
	DataDir string `yaml:"data_dir"`
	// ConfigDir holds key files and policy templates.
	ConfigDir string `yaml:"config_dir"`
	// Online enables features that need network access.
	Online bool `yaml:"online"`
	// DebugMode enables categorized file logging.
	DebugMode bool `yaml:"debug_mode"`
	// BatesPrefix is the default Bates label prefix.
	BatesPrefix string `yaml:"bates_prefix"`
	// BatesWidth is the default zero-padded label width.
	BatesWidth int `yaml:"bates_width"`
	// CoTVaultEnabled opts in to sealed raw-reasoning storage.
	CoTVaultEnabled bool `yaml:"cot_vault_enabled"`
	// AllowedRoots are extra roots inputs may resolve under.
	AllowedRoots []string `yaml:"allowed_roots"`
}

// DefaultSettings returns settings rooted in the XDG directories.
func DefaultSettings() *Settings {
	return &Settings{
		DataDir:     xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")),
		ConfigDir:   xdgDir("XDG_CONFIG_HOME", ".config"),
		BatesPrefix: "RXL",
		BatesWidth:  6,
	}
}

func xdgDir(envVar, fallback string) string {
	base := os.Getenv(envVar)
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		base = filepath.Join(home, fallback)
	}
	return filepath.Join(base, "rexlit")
}

// Load reads settings from <config>/config.yaml when present, falling back
// to defaults. A missing file is not an error.
func Load(path string) (*Settings, error) {
	s := DefaultSettings()
	if path == "" {
		path = filepath.Join(s.ConfigDir, "config.yaml")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return s, nil
}

// EnsureDirs creates the data and config directories.
func (s *Settings) EnsureDirs() error {
	for _, dir := range []string{s.DataDir, s.ConfigDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// OfflineGate returns the gate derived from the online flag.
func (s *Settings) OfflineGate() pathsafe.OfflineGate {
	return pathsafe.NewOfflineGate(s.Online)
}

// Roots returns the allowed roots for caller-supplied paths: the data
// directory plus any configured extras.
func (s *Settings) Roots() []string {
	return append([]string{s.DataDir}, s.AllowedRoots...)
}

// =============================================================================
// PERSISTED STATE LAYOUT
// =============================================================================

// AuditLedgerPath is <data>/audit.jsonl; its sidecar sits next to it.
func (s *Settings) AuditLedgerPath() string { return filepath.Join(s.DataDir, "audit.jsonl") }

// BatesPlanPath is <data>/bates/bates_plan.jsonl.
func (s *Settings) BatesPlanPath() string {
	return filepath.Join(s.DataDir, "bates", "bates_plan.jsonl")
}

// IndexDir is <data>/index.
func (s *Settings) IndexDir() string { return filepath.Join(s.DataDir, "index") }

// PIIStorePath is <data>/pii_findings.enc.
func (s *Settings) PIIStorePath() string { return filepath.Join(s.DataDir, "pii_findings.enc") }

// PacksDir is <data>/packs.
func (s *Settings) PacksDir() string { return filepath.Join(s.DataDir, "packs") }

// CoTVaultDir is <data>/cot_vault.
func (s *Settings) CoTVaultDir() string { return filepath.Join(s.DataDir, "cot_vault") }

// PolicyDir is <config>/policies.
func (s *Settings) PolicyDir() string { return filepath.Join(s.ConfigDir, "policies") }

// =============================================================================
// KEY LIFECYCLE - keys are created on first use with 0600 permissions
// =============================================================================

// AuditHMACKey returns the ledger signing key.
func (s *Settings) AuditHMACKey() ([]byte, error) {
	return crypto.LoadOrCreateHMACKey(filepath.Join(s.ConfigDir, "audit_hmac.key"))
}

// RedactionPlanKey returns the Fernet key sealing redaction plans.
func (s *Settings) RedactionPlanKey() ([]byte, error) {
	return crypto.LoadOrCreateFernetKey(filepath.Join(s.ConfigDir, "redaction_plan.key"))
}

// HighlightPlanKey returns the Fernet key sealing highlight plans.
func (s *Settings) HighlightPlanKey() ([]byte, error) {
	return crypto.LoadOrCreateFernetKey(filepath.Join(s.ConfigDir, "highlight_plan.key"))
}

// PIIKey returns the Fernet key sealing the PII findings store.
func (s *Settings) PIIKey() ([]byte, error) {
	return crypto.LoadOrCreateFernetKey(filepath.Join(s.ConfigDir, "pii.key"))
}

// VaultKey returns the Fernet key sealing the reasoning vault.
func (s *Settings) VaultKey() ([]byte, error) {
	return crypto.LoadOrCreateFernetKey(filepath.Join(s.ConfigDir, "cot_vault.key"))
}
