// Package jsonl provides canonical JSON serialization and durable JSONL
// writing. Artifacts written here are either fully materialized or absent:
// the writer stages into a temp file, fsyncs, then renames over the target.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"rexlit/internal/rexerr"
)

// CanonicalJSON serializes v as canonical JSON: sorted keys, compact
// separators, UTF-8, no HTML escaping, no trailing newline. Structs are
// normalized through a generic round-trip so field order never leaks into
// content hashes.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}

	// Round-trip through interface{} so map keys sort and numbers keep
	// their literal form.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical decode: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// CanonicalMap returns v as a generic map after a JSON round-trip. Useful
// when a record needs stamping before serialization.
func CanonicalMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("record is not a JSON object: %w", err)
	}
	return m, nil
}

// Transform mutates a record between iteration and serialization. Schema
// stamping hooks in here so no component hand-constructs schema metadata.
type Transform func(map[string]interface{}) (map[string]interface{}, error)

// AtomicWriteJSONL writes records to path atomically as JSONL. Observers see
// either the prior file or the fully materialized new one. Each record is
// serialized canonically; transform (if non-nil) runs before serialization.
func AtomicWriteJSONL(path string, records []interface{}, transform Transform) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, path, err, "create artifact directory")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, path, err, "create temp file")
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	for _, record := range records {
		payload := record
		if transform != nil {
			m, err := CanonicalMap(record)
			if err != nil {
				return rexerr.Wrap(rexerr.SchemaValidation, path, err, "record not serializable")
			}
			m, err = transform(m)
			if err != nil {
				return err
			}
			payload = m
		}

		line, err := CanonicalJSON(payload)
		if err != nil {
			return rexerr.Wrap(rexerr.IOWriteFailed, path, err, "serialize record")
		}
		if _, err := w.Write(line); err != nil {
			return rexerr.Wrap(rexerr.IOWriteFailed, path, err, "write record")
		}
		if err := w.WriteByte('\n'); err != nil {
			return rexerr.Wrap(rexerr.IOWriteFailed, path, err, "write record")
		}
	}

	if err := w.Flush(); err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, path, err, "flush temp file")
	}
	if err := tmp.Sync(); err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, path, err, "fsync temp file")
	}
	if err := tmp.Close(); err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, path, err, "close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return rexerr.Wrap(rexerr.IOWriteFailed, path, err, "rename temp file")
	}
	tmpName = "" // ownership transferred
	return nil
}

// ReadJSONL reads all records from a JSONL file, skipping blank lines.
func ReadJSONL(path string) ([]map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, rexerr.Wrap(rexerr.NotFound, path, err, "jsonl artifact missing")
		}
		return nil, err
	}

	var records []map[string]interface{}
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(line))
		dec.UseNumber()
		var record map[string]interface{}
		if err := dec.Decode(&record); err != nil {
			return nil, rexerr.Wrap(rexerr.SchemaValidation, path, err, "invalid JSON at line %d", i+1)
		}
		records = append(records, record)
	}
	return records, nil
}
