// Package schema provides metadata stamping and versioned migration for
// persisted JSONL records. Every artifact record carries
// {schema_id, schema_version, producer, produced_at, content_hash};
// migrations upgrade records strictly forward and re-stamp the hash.
package schema

import (
	"encoding/json"
	"sort"
	"time"

	"rexlit/internal/hashing"
	"rexlit/internal/jsonl"
	"rexlit/internal/rexerr"
)

// Version is the toolkit version recorded in the producer field.
const Version = "0.3.0"

// DefaultProducer identifies records produced by this build.
const DefaultProducer = "rexlit-" + Version

// metadataFields are the stamp keys excluded from content hashing.
var metadataFields = map[string]bool{
	"schema_id":      true,
	"schema_version": true,
	"producer":       true,
	"produced_at":    true,
	"content_hash":   true,
}

// Stamp is the schema metadata applied to persisted records.
type Stamp struct {
	SchemaID      string
	SchemaVersion int
	Producer      string
	ProducedAt    string
}

// NewStamp constructs a stamp with producer and timestamp defaults filled in.
func NewStamp(schemaID string, schemaVersion int) Stamp {
	return Stamp{
		SchemaID:      schemaID,
		SchemaVersion: schemaVersion,
		Producer:      DefaultProducer,
		ProducedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// StripMetadata returns a copy of record without schema metadata fields.
func StripMetadata(record map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(record))
	for k, v := range record {
		if !metadataFields[k] {
			out[k] = v
		}
	}
	return out
}

// Apply returns a copy of record augmented with the stamp and a
// deterministic content_hash over the non-metadata fields.
func (s Stamp) Apply(record map[string]interface{}) (map[string]interface{}, error) {
	stamped := make(map[string]interface{}, len(record)+5)
	for k, v := range record {
		stamped[k] = v
	}
	stamped["schema_id"] = s.SchemaID
	stamped["schema_version"] = s.SchemaVersion
	stamped["producer"] = s.Producer
	stamped["produced_at"] = s.ProducedAt

	content := StripMetadata(stamped)
	canonical, err := jsonl.CanonicalJSON(content)
	if err != nil {
		return nil, rexerr.Wrap(rexerr.SchemaValidation, s.SchemaID, err, "content hash serialization")
	}
	stamped["content_hash"] = hashing.SHA256(canonical)
	return stamped, nil
}

// Transform adapts a stamp for use at the JSONL writer boundary.
func (s Stamp) Transform() jsonl.Transform {
	return func(record map[string]interface{}) (map[string]interface{}, error) {
		return s.Apply(record)
	}
}

// VerifyContentHash recomputes a stamped record's content_hash and reports
// whether it matches the stored value.
func VerifyContentHash(record map[string]interface{}) (bool, error) {
	stored, _ := record["content_hash"].(string)
	if stored == "" {
		return false, nil
	}
	canonical, err := jsonl.CanonicalJSON(StripMetadata(record))
	if err != nil {
		return false, err
	}
	return hashing.SHA256(canonical) == stored, nil
}

// =============================================================================
// MIGRATION REGISTRY
// =============================================================================

// MigrationFunc upgrades a record payload (metadata already stripped).
type MigrationFunc func(map[string]interface{}) (map[string]interface{}, error)

type migrationStep struct {
	toVersion int
	migrate   MigrationFunc
}

// Registry maps (schema_id, from_version) to a migration step. Registries
// are constructed at bootstrap and threaded through explicitly; there is no
// process-wide instance.
type Registry struct {
	migrations map[string]map[int]migrationStep
}

// NewRegistry creates an empty migration registry.
func NewRegistry() *Registry {
	return &Registry{migrations: make(map[string]map[int]migrationStep)}
}

// Register adds a migration step for schemaID. Target versions must strictly
// increase and a source version may have only one registered step.
func (r *Registry) Register(schemaID string, fromVersion, toVersion int, migrate MigrationFunc) error {
	if toVersion <= fromVersion {
		return rexerr.New(rexerr.SchemaMigration, schemaID,
			"target version %d must be greater than source version %d", toVersion, fromVersion)
	}
	steps, ok := r.migrations[schemaID]
	if !ok {
		steps = make(map[int]migrationStep)
		r.migrations[schemaID] = steps
	}
	if existing, ok := steps[fromVersion]; ok {
		return rexerr.New(rexerr.SchemaMigration, schemaID,
			"migration v%d->v%d already registered", fromVersion, existing.toVersion)
	}
	steps[fromVersion] = migrationStep{toVersion: toVersion, migrate: migrate}
	return nil
}

// Registered returns the source versions with migrations for schemaID.
func (r *Registry) Registered(schemaID string) []int {
	var versions []int
	for v := range r.migrations[schemaID] {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions
}

// MigrateRecord upgrades record to targetVersion. Downgrades and missing
// paths are errors; the result is re-stamped with a fresh content_hash.
func (r *Registry) MigrateRecord(schemaID string, record map[string]interface{}, targetVersion int) (map[string]interface{}, error) {
	if stampedID, ok := record["schema_id"].(string); ok && stampedID != schemaID {
		return nil, rexerr.New(rexerr.SchemaMigration, schemaID,
			"cannot migrate record stamped as %q using schema %q", stampedID, schemaID)
	}

	current := recordVersion(record)
	if current > targetVersion {
		return nil, rexerr.New(rexerr.SchemaMigration, schemaID,
			"downgrades are not supported (current v%d, target v%d)", current, targetVersion)
	}
	if current == targetVersion {
		out := make(map[string]interface{}, len(record))
		for k, v := range record {
			out[k] = v
		}
		return out, nil
	}

	steps := r.migrations[schemaID]
	payload := StripMetadata(record)
	for current < targetVersion {
		step, ok := steps[current]
		if !ok {
			return nil, rexerr.New(rexerr.SchemaMigration, schemaID,
				"no migration path from v%d to v%d", current, targetVersion)
		}
		next, err := step.migrate(payload)
		if err != nil {
			return nil, rexerr.Wrap(rexerr.SchemaMigration, schemaID, err,
				"migration v%d->v%d failed", current, step.toVersion)
		}
		payload = next
		current = step.toVersion
	}

	return NewStamp(schemaID, current).Apply(payload)
}

// MigrateFile upgrades a JSONL artifact record-by-record through the atomic
// writer. outputPath empty means migrate in place.
func (r *Registry) MigrateFile(path, schemaID string, targetVersion int, outputPath string) (string, error) {
	records, err := jsonl.ReadJSONL(path)
	if err != nil {
		return "", err
	}

	migrated := make([]interface{}, 0, len(records))
	for i, record := range records {
		next, err := r.MigrateRecord(schemaID, record, targetVersion)
		if err != nil {
			return "", rexerr.Wrap(rexerr.SchemaMigration, path, err, "record %d", i+1)
		}
		migrated = append(migrated, next)
	}

	destination := outputPath
	if destination == "" {
		destination = path
	}
	if err := jsonl.AtomicWriteJSONL(destination, migrated, nil); err != nil {
		return "", err
	}
	return destination, nil
}

func recordVersion(record map[string]interface{}) int {
	switch v := record["schema_version"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i)
		}
		return 1
	default:
		return 1
	}
}
