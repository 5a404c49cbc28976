// Package rexerr defines the typed error kinds surfaced through RexLit's
// ports. Adapters wrap their failures in one of these kinds so callers can
// branch with errors.Is without depending on adapter internals.
package rexerr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure shared across components.
type Kind string

const (
	NotFound                Kind = "not_found"
	PathTraversal           Kind = "path_traversal"
	DuplicateHash           Kind = "duplicate_hash"
	DuplicatePath           Kind = "duplicate_path"
	BatesCollision          Kind = "bates_collision"
	HashMismatch            Kind = "hash_mismatch"
	PlanFingerprintMismatch Kind = "plan_fingerprint_mismatch"
	SchemaValidation        Kind = "schema_validation"
	SchemaMigration         Kind = "schema_migration"
	LedgerCorruption        Kind = "ledger_corruption"
	OfflineFeatureRequired  Kind = "offline_feature_required"
	CircuitBreakerOpen      Kind = "circuit_breaker_open"
	Timeout                 Kind = "timeout"
	ModelOutputMalformed    Kind = "model_output_malformed"
	InvalidFormat           Kind = "invalid_format"
	NotImplemented          Kind = "not_implemented"
	IOWriteFailed           Kind = "io_write_failed"
	DecryptFailed           Kind = "decrypt_failed"
)

// Error carries a kind, a human-readable message, and the offending
// resource.
type Error struct {
	Kind     Kind
	Resource string
	Msg      string
	Wrapped  error
}

func (e *Error) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Msg, e.Resource)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is matches another *Error by kind, so errors.Is works against a bare
// sentinel of the same kind regardless of message or resource.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds an error of the given kind.
func New(kind Kind, resource, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Resource: resource, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind around an underlying cause.
func Wrap(kind Kind, resource string, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Resource: resource, Msg: fmt.Sprintf(format, args...), Wrapped: err}
}

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}
