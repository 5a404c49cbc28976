package pii

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"rexlit/internal/crypto"
	"rexlit/internal/jsonl"
	"rexlit/internal/rexerr"
	"rexlit/internal/schema"
	"rexlit/internal/types"
)

// EncryptedStore is the append-only sealed store for PII findings. One
// Fernet ciphertext per line, fsynced on every append: findings contain raw
// matched text and must never touch disk in the clear.
type EncryptedStore struct {
	path string
	key  []byte
}

// NewEncryptedStore opens (or prepares) the store at path.
func NewEncryptedStore(path string, key []byte) (*EncryptedStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, rexerr.Wrap(rexerr.IOWriteFailed, path, err, "create store directory")
	}
	return &EncryptedStore{path: path, key: key}, nil
}

// Path returns the underlying storage path.
func (s *EncryptedStore) Path() string { return s.path }

// Append seals a finding and appends it durably.
func (s *EncryptedStore) Append(finding types.PIIFinding) error {
	finding.EntityType = strings.ToUpper(finding.EntityType)
	record, err := jsonl.CanonicalMap(finding)
	if err != nil {
		return rexerr.Wrap(rexerr.SchemaValidation, s.path, err, "finding not serializable")
	}
	stamped, err := schema.NewStamp("pii_findings", 1).Apply(record)
	if err != nil {
		return err
	}
	payload, err := jsonl.CanonicalJSON(stamped)
	if err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, s.path, err, "serialize finding")
	}
	token, err := crypto.EncryptBlob(payload, s.key)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, s.path, err, "open findings store")
	}
	defer f.Close()
	if _, err := f.Write(append(token, '\n')); err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, s.path, err, "append finding")
	}
	if err := f.Sync(); err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, s.path, err, "fsync findings store")
	}
	return nil
}

// ReadAll unseals and returns every stored finding in append order.
func (s *EncryptedStore) ReadAll() ([]types.PIIFinding, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var findings []types.PIIFinding
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		plaintext, err := crypto.DecryptBlob([]byte(line), s.key)
		if err != nil {
			return nil, rexerr.Wrap(rexerr.DecryptFailed, s.path, err, "finding at line %d", i+1)
		}
		var finding types.PIIFinding
		dec := json.NewDecoder(bytes.NewReader(plaintext))
		if err := dec.Decode(&finding); err != nil {
			return nil, rexerr.Wrap(rexerr.SchemaValidation, s.path, err, "finding at line %d", i+1)
		}
		findings = append(findings, finding)
	}
	return findings, nil
}

// ReadByDocument returns all findings for one document.
func (s *EncryptedStore) ReadByDocument(documentID string) ([]types.PIIFinding, error) {
	all, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []types.PIIFinding
	for _, f := range all {
		if f.DocumentID == documentID {
			out = append(out, f)
		}
	}
	return out, nil
}

// Purge removes the store file.
func (s *EncryptedStore) Purge() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
