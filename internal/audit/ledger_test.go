package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rexlit/internal/rexerr"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	key := []byte("0123456789abcdef0123456789abcdef")
	ledger, err := NewLedger(filepath.Join(t.TempDir(), "audit.jsonl"), key)
	require.NoError(t, err)
	return ledger
}

func TestAppendBuildsChain(t *testing.T) {
	ledger := newTestLedger(t)

	e1, err := ledger.Append("ingest", []string{"/in"}, []string{"hash1"}, nil, nil)
	require.NoError(t, err)
	e2, err := ledger.Append("bates", nil, nil, map[string]interface{}{"count": 3}, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1), e1.Sequence)
	assert.Equal(t, GenesisHash, e1.PreviousHash)
	assert.Equal(t, int64(2), e2.Sequence)
	assert.Equal(t, e1.EntryHash, e2.PreviousHash)
	assert.Equal(t, "0.3.0", e1.Versions["rexlit"])
	assert.NotEmpty(t, e1.Signature)
}

func TestVerifyIntactChain(t *testing.T) {
	ledger := newTestLedger(t)
	for _, op := range []string{"op1", "op2", "op3"} {
		_, err := ledger.Append(op, nil, nil, nil, nil)
		require.NoError(t, err)
	}

	ok, err := ledger.Verify()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyDetectsMutation(t *testing.T) {
	ledger := newTestLedger(t)
	for _, op := range []string{"op1", "op2", "op3"} {
		_, err := ledger.Append(op, nil, nil, nil, nil)
		require.NoError(t, err)
	}

	// Mutate op2's operation field in place.
	data, err := os.ReadFile(ledger.Path())
	require.NoError(t, err)
	mutated := strings.Replace(string(data), `"operation":"op2"`, `"operation":"TAMPERED"`, 1)
	require.NotEqual(t, string(data), mutated)
	require.NoError(t, os.WriteFile(ledger.Path(), []byte(mutated), 0o644))

	ok, verr := ledger.Verify()
	assert.False(t, ok)
	require.Error(t, verr)
	assert.Regexp(t, "invalid hash|breaks hash chain", verr.Error())
}

func TestVerifyDetectsDeletion(t *testing.T) {
	ledger := newTestLedger(t)
	for _, op := range []string{"op1", "op2", "op3"} {
		_, err := ledger.Append(op, nil, nil, nil, nil)
		require.NoError(t, err)
	}

	data, err := os.ReadFile(ledger.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	// Drop the middle entry.
	require.NoError(t, os.WriteFile(ledger.Path(),
		[]byte(lines[0]+"\n"+lines[2]+"\n"), 0o644))

	ok, verr := ledger.Verify()
	assert.False(t, ok)
	require.Error(t, verr)
}

func TestVerifyDetectsReorder(t *testing.T) {
	ledger := newTestLedger(t)
	for _, op := range []string{"op1", "op2", "op3"} {
		_, err := ledger.Append(op, nil, nil, nil, nil)
		require.NoError(t, err)
	}

	data, err := os.ReadFile(ledger.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.NoError(t, os.WriteFile(ledger.Path(),
		[]byte(lines[1]+"\n"+lines[0]+"\n"+lines[2]+"\n"), 0o644))

	ok, _ := ledger.Verify()
	assert.False(t, ok)
}

func TestVerifyDetectsTruncation(t *testing.T) {
	ledger := newTestLedger(t)
	for _, op := range []string{"op1", "op2", "op3"} {
		_, err := ledger.Append(op, nil, nil, nil, nil)
		require.NoError(t, err)
	}

	data, err := os.ReadFile(ledger.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	// Keep only the first two entries; the sidecar still seals sequence 3.
	require.NoError(t, os.WriteFile(ledger.Path(),
		[]byte(lines[0]+"\n"+lines[1]+"\n"), 0o644))

	ok, verr := ledger.Verify()
	assert.False(t, ok)
	require.Error(t, verr)
	assert.Contains(t, verr.Error(), "sidecar")
}

func TestVerifyDetectsSidecarTamper(t *testing.T) {
	ledger := newTestLedger(t)
	_, err := ledger.Append("op1", nil, nil, nil, nil)
	require.NoError(t, err)

	metaPath := strings.TrimSuffix(ledger.Path(), ".jsonl") + ".meta"
	data, err := os.ReadFile(metaPath)
	require.NoError(t, err)
	var sc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &sc))
	sc["last_sequence"] = 99
	tampered, err := json.Marshal(sc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(metaPath, tampered, 0o644))

	ok, verr := ledger.Verify()
	assert.False(t, ok)
	assert.True(t, rexerr.IsKind(verr, rexerr.LedgerCorruption))
}

func TestVerifyDetectsSignatureSwap(t *testing.T) {
	key1 := []byte("0123456789abcdef0123456789abcdef")
	key2 := []byte("fedcba9876543210fedcba9876543210")
	dir := t.TempDir()

	ledger1, err := NewLedger(filepath.Join(dir, "audit.jsonl"), key1)
	require.NoError(t, err)
	_, err = ledger1.Append("op1", nil, nil, nil, nil)
	require.NoError(t, err)

	// Re-open with a different key: signatures no longer validate.
	ledger2, err := NewLedger(filepath.Join(dir, "audit.jsonl"), key2)
	require.NoError(t, err)
	ok, _ := ledger2.Verify()
	assert.False(t, ok)
}

func TestVerifyMissingLedger(t *testing.T) {
	ledger := newTestLedger(t)
	ok, verr := ledger.Verify()
	assert.False(t, ok)
	assert.True(t, rexerr.IsKind(verr, rexerr.LedgerCorruption))
}

func TestFilters(t *testing.T) {
	ledger := newTestLedger(t)
	_, err := ledger.Append("ingest", []string{"/src"}, []string{"h1"}, nil, nil)
	require.NoError(t, err)
	_, err = ledger.Append("bates", []string{"/src"}, []string{"h2"}, nil, nil)
	require.NoError(t, err)

	byOp, err := ledger.GetByOperation("ingest")
	require.NoError(t, err)
	require.Len(t, byOp, 1)
	assert.Equal(t, "ingest", byOp[0].Operation)

	byInput, err := ledger.GetByInput("/src")
	require.NoError(t, err)
	assert.Len(t, byInput, 2)

	byOutput, err := ledger.GetByOutput("h2")
	require.NoError(t, err)
	require.Len(t, byOutput, 1)
	assert.Equal(t, "bates", byOutput[0].Operation)
}

func TestMissingSidecarBootstrapsTipFromWalk(t *testing.T) {
	ledger := newTestLedger(t)
	_, err := ledger.Append("op1", nil, nil, nil, nil)
	require.NoError(t, err)

	// Remove the sidecar: append bootstraps the tip from the walk.
	metaPath := strings.TrimSuffix(ledger.Path(), ".jsonl") + ".meta"
	require.NoError(t, os.Remove(metaPath))

	e2, err := ledger.Append("op2", nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), e2.Sequence)

	ok, verr := ledger.Verify()
	require.NoError(t, verr)
	assert.True(t, ok)
}
