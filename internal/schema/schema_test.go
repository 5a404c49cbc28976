package schema

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rexlit/internal/jsonl"
	"rexlit/internal/rexerr"
)

func TestStampApplyAddsMetadataAndContentHash(t *testing.T) {
	stamp := NewStamp("manifest", 1)
	record := map[string]interface{}{"sha256": "aa", "path": "/a"}

	stamped, err := stamp.Apply(record)
	require.NoError(t, err)

	assert.Equal(t, "manifest", stamped["schema_id"])
	assert.Equal(t, 1, stamped["schema_version"])
	assert.Equal(t, DefaultProducer, stamped["producer"])
	assert.NotEmpty(t, stamped["produced_at"])
	assert.Len(t, stamped["content_hash"], 64)

	// Original record untouched.
	_, ok := record["schema_id"]
	assert.False(t, ok)
}

func TestContentHashIgnoresStampFields(t *testing.T) {
	record := map[string]interface{}{"sha256": "aa", "path": "/a"}

	s1 := Stamp{SchemaID: "manifest", SchemaVersion: 1, Producer: "rexlit-x", ProducedAt: "2025-01-01T00:00:00Z"}
	s2 := Stamp{SchemaID: "manifest", SchemaVersion: 1, Producer: "rexlit-y", ProducedAt: "2026-01-01T00:00:00Z"}

	a, err := s1.Apply(record)
	require.NoError(t, err)
	b, err := s2.Apply(record)
	require.NoError(t, err)
	assert.Equal(t, a["content_hash"], b["content_hash"])
}

func TestVerifyContentHash(t *testing.T) {
	stamped, err := NewStamp("manifest", 1).Apply(map[string]interface{}{"k": "v"})
	require.NoError(t, err)

	ok, err := VerifyContentHash(stamped)
	require.NoError(t, err)
	assert.True(t, ok)

	stamped["k"] = "tampered"
	ok, err = VerifyContentHash(stamped)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMigrateRecordUpgrades(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("manifest", 1, 2, func(r map[string]interface{}) (map[string]interface{}, error) {
		r["renamed"] = r["old"]
		delete(r, "old")
		return r, nil
	}))

	record, err := NewStamp("manifest", 1).Apply(map[string]interface{}{"old": "value"})
	require.NoError(t, err)

	migrated, err := reg.MigrateRecord("manifest", record, 2)
	require.NoError(t, err)
	assert.Equal(t, "value", migrated["renamed"])
	assert.Equal(t, 2, migrated["schema_version"])
	assert.NotEqual(t, record["content_hash"], migrated["content_hash"])
}

func TestMigrateRecordRejectsDowngrade(t *testing.T) {
	reg := NewRegistry()
	record, err := NewStamp("manifest", 2).Apply(map[string]interface{}{"k": "v"})
	require.NoError(t, err)

	_, err = reg.MigrateRecord("manifest", record, 1)
	require.Error(t, err)
	assert.True(t, rexerr.IsKind(err, rexerr.SchemaMigration))
}

func TestMigrateRecordMissingPath(t *testing.T) {
	reg := NewRegistry()
	record, err := NewStamp("manifest", 1).Apply(map[string]interface{}{"k": "v"})
	require.NoError(t, err)

	_, err = reg.MigrateRecord("manifest", record, 3)
	require.Error(t, err)
	assert.True(t, rexerr.IsKind(err, rexerr.SchemaMigration))
}

func TestRegisterRejectsNonIncreasing(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register("manifest", 2, 2, func(r map[string]interface{}) (map[string]interface{}, error) { return r, nil })
	require.Error(t, err)
}

func TestMigrateFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.jsonl")

	stamped, err := NewStamp("manifest", 1).Apply(map[string]interface{}{"old": "a"})
	require.NoError(t, err)
	require.NoError(t, jsonl.AtomicWriteJSONL(path, []interface{}{stamped}, nil))

	reg := NewRegistry()
	require.NoError(t, reg.Register("manifest", 1, 2, func(r map[string]interface{}) (map[string]interface{}, error) {
		r["new"] = r["old"]
		delete(r, "old")
		return r, nil
	}))

	out, err := reg.MigrateFile(path, "manifest", 2, "")
	require.NoError(t, err)
	assert.Equal(t, path, out)

	records, err := jsonl.ReadJSONL(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0]["new"])
}
