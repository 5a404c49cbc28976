// Package plans computes deterministic plan fingerprints and persists
// redaction/highlight plans as sealed single-line artifacts. A plan file
// holds exactly one Fernet ciphertext line; the plaintext record is schema
// stamped before encryption.
package plans

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"rexlit/internal/crypto"
	"rexlit/internal/hashing"
	"rexlit/internal/jsonl"
	"rexlit/internal/rexerr"
	"rexlit/internal/schema"
)

// Action is one redaction instruction inside a plan.
type Action struct {
	Type        string  `json:"type"`
	Category    string  `json:"category"`
	Start       int     `json:"start"`
	End         int     `json:"end"`
	Page        int     `json:"page,omitempty"`
	Confidence  float64 `json:"confidence"`
	Replacement string  `json:"replacement"`
	// Text is the matched source text; it only ever exists inside the
	// sealed ciphertext and is what the stamper locates on the page.
	Text string `json:"text,omitempty"`
}

// Highlight is one highlight inside a plan. Only offsets, classification,
// presentation, and digests are persisted - never raw text or reasoning.
type Highlight struct {
	Concept        string  `json:"concept"`
	Category       string  `json:"category"`
	Confidence     float64 `json:"confidence"`
	Start          int     `json:"start"`
	End            int     `json:"end"`
	Page           int     `json:"page,omitempty"`
	Color          string  `json:"color"`
	ShadeIntensity float64 `json:"shade_intensity"`
	SnippetHash    string  `json:"snippet_hash,omitempty"`
	ReasoningHash  string  `json:"reasoning_hash,omitempty"`
}

// RedactionEntry is the persisted redaction plan record.
type RedactionEntry struct {
	Document string                 `json:"document"`
	SHA256   string                 `json:"sha256"`
	PlanID   string                 `json:"plan_id"`
	Actions  []Action               `json:"actions"`
	Notes    string                 `json:"notes,omitempty"`
	Extra    map[string]interface{} `json:"annotations,omitempty"`
}

// HighlightEntry is the persisted highlight plan record.
type HighlightEntry struct {
	DocumentHash string                 `json:"document_hash"`
	PlanID       string                 `json:"plan_id"`
	Highlights   []Highlight            `json:"highlights"`
	Annotations  map[string]interface{} `json:"annotations"`
	Notes        string                 `json:"notes,omitempty"`
}

// ComputeRedactionPlanID derives the deterministic fingerprint for a
// redaction plan: SHA-256 over (abs path, content hash, canonical actions?,
// canonical annotations?). Empty actions/annotations contribute nothing so
// re-planning an untouched document stays idempotent.
func ComputeRedactionPlanID(documentPath, contentHash string, actions []Action, annotations map[string]interface{}) (string, error) {
	abs, err := filepath.Abs(documentPath)
	if err != nil {
		return "", err
	}

	components := []string{abs, contentHash}
	if len(actions) > 0 {
		canonical, err := jsonl.CanonicalJSON(actions)
		if err != nil {
			return "", err
		}
		components = append(components, string(canonical))
	}
	if len(annotations) > 0 {
		canonical, err := jsonl.CanonicalJSON(annotations)
		if err != nil {
			return "", err
		}
		components = append(components, string(canonical))
	}
	return hashing.ComputeInputHash(components), nil
}

// ComputeHighlightPlanID derives the fingerprint for a highlight plan over
// (document hash, canonical highlights, canonical annotations).
func ComputeHighlightPlanID(documentHash string, highlights []Highlight, annotations map[string]interface{}) (string, error) {
	components := []string{documentHash}
	if len(highlights) > 0 {
		canonical, err := jsonl.CanonicalJSON(highlights)
		if err != nil {
			return "", err
		}
		components = append(components, string(canonical))
	}
	if len(annotations) > 0 {
		canonical, err := jsonl.CanonicalJSON(annotations)
		if err != nil {
			return "", err
		}
		components = append(components, string(canonical))
	}
	return hashing.ComputeInputHash(components), nil
}

// WriteEntry seals a stamped plan record into path as a single ciphertext
// line with fsync and 0600 permissions.
func WriteEntry(path string, entry interface{}, schemaID string, key []byte) error {
	record, err := jsonl.CanonicalMap(entry)
	if err != nil {
		return rexerr.Wrap(rexerr.SchemaValidation, path, err, "plan entry not serializable")
	}
	stamped, err := schema.NewStamp(schemaID, 1).Apply(record)
	if err != nil {
		return err
	}
	payload, err := jsonl.CanonicalJSON(stamped)
	if err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, path, err, "serialize plan entry")
	}

	token, err := crypto.EncryptBlob(payload, key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, path, err, "create plan directory")
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, path, err, "open plan file")
	}
	defer f.Close()
	if _, err := f.Write(append(token, '\n')); err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, path, err, "write plan file")
	}
	if err := f.Sync(); err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, path, err, "fsync plan file")
	}
	_ = os.Chmod(path, 0o600)
	return nil
}

// LoadEntry opens a sealed plan file and returns the single stamped record.
// Multi-record and plaintext files are rejected: one plan file, one record.
func LoadEntry(path string, key []byte) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, rexerr.Wrap(rexerr.NotFound, path, err, "plan file missing")
		}
		return nil, err
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, rexerr.New(rexerr.SchemaValidation, path, "plan file is empty")
	}
	if len(lines) > 1 {
		return nil, rexerr.New(rexerr.SchemaValidation, path,
			"plan file contains %d records; expected a single sealed record", len(lines))
	}

	plaintext, err := crypto.DecryptBlob([]byte(lines[0]), key)
	if err != nil {
		return nil, rexerr.Wrap(rexerr.DecryptFailed, path, err, "unseal plan entry")
	}

	var record map[string]interface{}
	if err := jsonUnmarshal(plaintext, &record); err != nil {
		return nil, rexerr.Wrap(rexerr.SchemaValidation, path, err, "plan entry not valid JSON")
	}
	return record, nil
}

// ValidateRedactionEntry checks a loaded plan record against the expected
// provenance and recomputes the fingerprint. Divergence between the stored
// and recomputed plan_id is a PlanFingerprintMismatch.
func ValidateRedactionEntry(entry map[string]interface{}, documentPath, contentHash string) (string, error) {
	expectedPath, err := filepath.Abs(documentPath)
	if err != nil {
		return "", err
	}
	entryPath, _ := entry["document"].(string)
	if entryPath != expectedPath {
		return "", rexerr.New(rexerr.PlanFingerprintMismatch, documentPath,
			"plan provenance mismatch: expected document %q, found %q", expectedPath, entryPath)
	}

	entryHash, _ := entry["sha256"].(string)
	if entryHash != contentHash {
		return "", rexerr.New(rexerr.HashMismatch, documentPath,
			"plan hash mismatch: expected %s, found %s", contentHash, entryHash)
	}

	planID, _ := entry["plan_id"].(string)
	if !hashing.IsHexDigest(planID) {
		return "", rexerr.New(rexerr.SchemaValidation, documentPath, "plan missing deterministic plan_id")
	}

	actions, err := decodeActions(entry["actions"])
	if err != nil {
		return "", rexerr.Wrap(rexerr.SchemaValidation, documentPath, err, "plan actions malformed")
	}
	annotations, _ := entry["annotations"].(map[string]interface{})

	expectedPlanID, err := ComputeRedactionPlanID(expectedPath, contentHash, actions, annotations)
	if err != nil {
		return "", err
	}
	if planID != expectedPlanID {
		return "", rexerr.New(rexerr.PlanFingerprintMismatch, documentPath,
			"plan_id mismatch: expected %s, found %s", expectedPlanID, planID)
	}
	return planID, nil
}

// ValidateHighlightEntry checks a loaded highlight record against the
// expected document hash and recomputes its fingerprint.
func ValidateHighlightEntry(entry map[string]interface{}, documentHash string) (string, error) {
	entryHash, _ := entry["document_hash"].(string)
	if entryHash != documentHash {
		return "", rexerr.New(rexerr.HashMismatch, documentHash,
			"highlight plan bound to %s, document hashes to %s", entryHash, documentHash)
	}

	planID, _ := entry["plan_id"].(string)
	if !hashing.IsHexDigest(planID) {
		return "", rexerr.New(rexerr.SchemaValidation, documentHash, "highlight plan missing plan_id")
	}

	highlights, err := decodeHighlights(entry["highlights"])
	if err != nil {
		return "", rexerr.Wrap(rexerr.SchemaValidation, documentHash, err, "highlights malformed")
	}
	annotations, _ := entry["annotations"].(map[string]interface{})

	expected, err := ComputeHighlightPlanID(documentHash, highlights, annotations)
	if err != nil {
		return "", err
	}
	if planID != expected {
		return "", rexerr.New(rexerr.PlanFingerprintMismatch, documentHash,
			"highlight plan_id mismatch: expected %s, found %s", expected, planID)
	}
	return planID, nil
}

// jsonUnmarshal decodes with number literals preserved.
func jsonUnmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func decodeActions(v interface{}) ([]Action, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := jsonl.CanonicalJSON(v)
	if err != nil {
		return nil, err
	}
	var actions []Action
	if err := jsonUnmarshal(raw, &actions); err != nil {
		return nil, err
	}
	return actions, nil
}

func decodeHighlights(v interface{}) ([]Highlight, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := jsonl.CanonicalJSON(v)
	if err != nil {
		return nil, err
	}
	var highlights []Highlight
	if err := jsonUnmarshal(raw, &highlights); err != nil {
		return nil, err
	}
	return highlights, nil
}
