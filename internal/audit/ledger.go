// Package audit implements the append-only chain-of-custody ledger. Entries
// are hash-chained and HMAC-signed; a sidecar metadata file seals the chain
// tip so truncation and reordering are detectable without a full walk.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"rexlit/internal/crypto"
	"rexlit/internal/hashing"
	"rexlit/internal/jsonl"
	"rexlit/internal/logging"
	"rexlit/internal/rexerr"
	"rexlit/internal/schema"
)

// GenesisHash is the previous_hash of the first entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is a single ledger record. Entries are immutable once appended.
type Entry struct {
	Sequence     int64                  `json:"sequence"`
	Timestamp    string                 `json:"timestamp"`
	Operation    string                 `json:"operation"`
	Inputs       []string               `json:"inputs"`
	Outputs      []string               `json:"outputs"`
	Args         map[string]interface{} `json:"args"`
	Versions     map[string]string      `json:"versions"`
	PreviousHash string                 `json:"previous_hash"`
	EntryHash    string                 `json:"entry_hash"`
	Signature    string                 `json:"signature"`
}

// ComputeHash returns the deterministic hash of the entry content with the
// entry_hash and signature fields excluded, breaking the self-reference.
func (e Entry) ComputeHash() (string, error) {
	m, err := jsonl.CanonicalMap(e)
	if err != nil {
		return "", err
	}
	delete(m, "entry_hash")
	delete(m, "signature")
	canonical, err := jsonl.CanonicalJSON(m)
	if err != nil {
		return "", err
	}
	return hashing.SHA256(canonical), nil
}

// sidecar is the sealed tip metadata persisted next to the ledger.
type sidecar struct {
	LastHash     string `json:"last_hash"`
	LastSequence int64  `json:"last_sequence"`
	HMAC         string `json:"hmac"`
}

func (s sidecar) message() string {
	return fmt.Sprintf("%s|%d", s.LastHash, s.LastSequence)
}

// Ledger appends and verifies audit entries. A single appender owns the
// file; readers open it read-only.
type Ledger struct {
	path          string
	metaPath      string
	key           []byte
	fsyncInterval int
	mu            sync.Mutex
	sinceSync     int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithFsyncInterval sets how many appends may elapse between fsyncs.
// The default of 1 syncs every entry.
func WithFsyncInterval(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.fsyncInterval = n
		}
	}
}

// NewLedger opens (or prepares) the ledger at path, signing with key.
// The sidecar lives beside path, with the ledger's extension replaced by
// ".meta" (audit.jsonl -> audit.meta).
func NewLedger(path string, key []byte, opts ...Option) (*Ledger, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("audit ledger requires an HMAC key")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, rexerr.Wrap(rexerr.IOWriteFailed, path, err, "create ledger directory")
	}

	l := &Ledger{
		path:          path,
		metaPath:      strings.TrimSuffix(path, filepath.Ext(path)) + ".meta",
		key:           key,
		fsyncInterval: 1,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Path returns the ledger file location.
func (l *Ledger) Path() string { return l.path }

// Append logs an operation, extending the hash chain and resealing the
// sidecar. Versions always include the toolkit's own version.
func (l *Ledger) Append(operation string, inputs, outputs []string, args map[string]interface{}, versions map[string]string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tipHash, tipSeq, err := l.readTip()
	if err != nil {
		return nil, err
	}

	if versions == nil {
		versions = map[string]string{}
	}
	if _, ok := versions["rexlit"]; !ok {
		versions["rexlit"] = schema.Version
	}
	if inputs == nil {
		inputs = []string{}
	}
	if outputs == nil {
		outputs = []string{}
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	entry := Entry{
		Sequence:     tipSeq + 1,
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		Operation:    operation,
		Inputs:       inputs,
		Outputs:      outputs,
		Args:         args,
		Versions:     versions,
		PreviousHash: tipHash,
	}

	entry.EntryHash, err = entry.ComputeHash()
	if err != nil {
		return nil, rexerr.Wrap(rexerr.IOWriteFailed, l.path, err, "hash entry")
	}
	entry.Signature = crypto.HMACSHA256(l.key, entry.EntryHash)

	line, err := jsonl.CanonicalJSON(entry)
	if err != nil {
		return nil, rexerr.Wrap(rexerr.IOWriteFailed, l.path, err, "serialize entry")
	}

	if err := l.appendLine(line); err != nil {
		return nil, err
	}
	if err := l.writeSidecar(entry.EntryHash, entry.Sequence); err != nil {
		return nil, err
	}

	logging.Audit("append seq=%d op=%s", entry.Sequence, operation)
	return &entry, nil
}

func (l *Ledger) appendLine(line []byte) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, l.path, err, "open ledger")
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, l.path, err, "append entry")
	}

	l.sinceSync++
	if l.sinceSync >= l.fsyncInterval {
		if err := f.Sync(); err != nil {
			return rexerr.Wrap(rexerr.IOWriteFailed, l.path, err, "fsync ledger")
		}
		l.sinceSync = 0
	}
	return nil
}

// writeSidecar atomically replaces the sealed tip metadata.
func (l *Ledger) writeSidecar(tipHash string, sequence int64) error {
	sc := sidecar{LastHash: tipHash, LastSequence: sequence}
	sc.HMAC = crypto.HMACSHA256(l.key, sc.message())

	data, err := json.Marshal(sc)
	if err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, l.metaPath, err, "serialize sidecar")
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.metaPath), ".audit.meta.*")
	if err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, l.metaPath, err, "stage sidecar")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return rexerr.Wrap(rexerr.IOWriteFailed, l.metaPath, err, "write sidecar")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return rexerr.Wrap(rexerr.IOWriteFailed, l.metaPath, err, "fsync sidecar")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return rexerr.Wrap(rexerr.IOWriteFailed, l.metaPath, err, "close sidecar")
	}
	if err := os.Rename(tmpName, l.metaPath); err != nil {
		os.Remove(tmpName)
		return rexerr.Wrap(rexerr.IOWriteFailed, l.metaPath, err, "replace sidecar")
	}
	return nil
}

// readTip returns the current chain tip. The sidecar is authoritative; the
// ledger walk only bootstraps a missing sidecar. A sidecar that fails its
// seal is corruption, never silently rebuilt.
func (l *Ledger) readTip() (string, int64, error) {
	data, err := os.ReadFile(l.metaPath)
	if err == nil {
		var sc sidecar
		if err := json.Unmarshal(data, &sc); err != nil {
			return "", 0, rexerr.Wrap(rexerr.LedgerCorruption, l.metaPath, err, "sidecar unreadable")
		}
		if !crypto.HMACEqual(crypto.HMACSHA256(l.key, sc.message()), sc.HMAC) {
			return "", 0, rexerr.New(rexerr.LedgerCorruption, l.metaPath, "sidecar HMAC invalid")
		}
		return sc.LastHash, sc.LastSequence, nil
	}
	if !os.IsNotExist(err) {
		return "", 0, err
	}

	entries, err := l.ReadAll()
	if err != nil {
		return "", 0, err
	}
	if len(entries) == 0 {
		return GenesisHash, 0, nil
	}
	last := entries[len(entries)-1]
	return last.EntryHash, last.Sequence, nil
}

// ReadAll returns all entries in append order. A missing file yields an
// empty slice; malformed lines are corruption.
func (l *Ledger) ReadAll() ([]Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, rexerr.Wrap(rexerr.LedgerCorruption, l.path, err, "invalid entry at line %d", lineNum)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, rexerr.Wrap(rexerr.LedgerCorruption, l.path, err, "scan ledger")
	}
	return entries, nil
}

// Verify checks the whole chain and the sidecar seal. It returns true only
// when every entry hash, signature, link, and the sealed tip are intact.
func (l *Ledger) Verify() (bool, error) {
	if _, err := os.Stat(l.path); err != nil {
		return false, rexerr.New(rexerr.LedgerCorruption, l.path, "ledger file missing")
	}

	entries, err := l.ReadAll()
	if err != nil {
		return false, err
	}

	prevHash := GenesisHash
	for i, entry := range entries {
		expectedSeq := int64(i + 1)
		if entry.Sequence != expectedSeq {
			return false, rexerr.New(rexerr.LedgerCorruption, l.path,
				"sequence gap at entry %d: got %d", expectedSeq, entry.Sequence)
		}
		recomputed, err := entry.ComputeHash()
		if err != nil {
			return false, err
		}
		if recomputed != entry.EntryHash {
			return false, rexerr.New(rexerr.LedgerCorruption, l.path,
				"entry %d has invalid hash", entry.Sequence)
		}
		if !crypto.HMACEqual(crypto.HMACSHA256(l.key, entry.EntryHash), entry.Signature) {
			return false, rexerr.New(rexerr.LedgerCorruption, l.path,
				"entry %d has invalid signature", entry.Sequence)
		}
		if entry.PreviousHash != prevHash {
			return false, rexerr.New(rexerr.LedgerCorruption, l.path,
				"entry %d breaks hash chain", entry.Sequence)
		}
		prevHash = entry.EntryHash
	}

	data, err := os.ReadFile(l.metaPath)
	if err != nil {
		if os.IsNotExist(err) && len(entries) == 0 {
			return true, nil
		}
		return false, rexerr.New(rexerr.LedgerCorruption, l.metaPath, "sidecar missing")
	}
	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return false, rexerr.Wrap(rexerr.LedgerCorruption, l.metaPath, err, "sidecar unreadable")
	}
	if !crypto.HMACEqual(crypto.HMACSHA256(l.key, sc.message()), sc.HMAC) {
		return false, rexerr.New(rexerr.LedgerCorruption, l.metaPath, "sidecar HMAC invalid")
	}
	if len(entries) == 0 {
		if sc.LastSequence != 0 {
			return false, rexerr.New(rexerr.LedgerCorruption, l.path, "ledger truncated")
		}
		return true, nil
	}
	last := entries[len(entries)-1]
	if sc.LastHash != last.EntryHash || sc.LastSequence != last.Sequence {
		return false, rexerr.New(rexerr.LedgerCorruption, l.path,
			"sidecar tip does not match ledger (truncation or reorder)")
	}
	return true, nil
}

// GetByOperation returns all entries for a specific operation name.
func (l *Ledger) GetByOperation(operation string) ([]Entry, error) {
	return l.filter(func(e Entry) bool { return e.Operation == operation })
}

// GetByInput returns all entries that processed a specific input.
func (l *Ledger) GetByInput(input string) ([]Entry, error) {
	return l.filter(func(e Entry) bool { return containsString(e.Inputs, input) })
}

// GetByOutput returns all entries that produced a specific output.
func (l *Ledger) GetByOutput(output string) ([]Entry, error) {
	return l.filter(func(e Entry) bool { return containsString(e.Outputs, output) })
}

func (l *Ledger) filter(keep func(Entry) bool) ([]Entry, error) {
	entries, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
