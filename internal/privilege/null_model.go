package privilege

import (
	"context"

	"rexlit/internal/rexerr"
)

// NullModel is the placeholder reasoning backend used when no model server
// is configured. Every call fails, so the envelope routes each document to
// human review instead of guessing.
type NullModel struct{}

// Generate always fails with NotImplemented.
func (NullModel) Generate(ctx context.Context, prompt string) (string, error) {
	return "", rexerr.New(rexerr.NotImplemented, "", "no reasoning model configured")
}

// Version identifies the null backend.
func (NullModel) Version() string { return "null" }

// RequiresOnline is false: there is nothing to call.
func (NullModel) RequiresOnline() bool { return false }
