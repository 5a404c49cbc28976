package privilege

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rexlit/internal/crypto"
	"rexlit/internal/hashing"
	"rexlit/internal/rexerr"
)

// =============================================================================
// CIRCUIT BREAKER
// =============================================================================

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute, 1)
	fail := func() error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Call(fail))
	}
	assert.Equal(t, StateOpen, cb.State())

	// Open circuit rejects without invoking fn.
	invoked := false
	err := cb.Call(func() error { invoked = true; return nil })
	require.Error(t, err)
	assert.True(t, rexerr.IsKind(err, rexerr.CircuitBreakerOpen))
	assert.False(t, invoked)
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute, 1)
	fail := func() error { return errors.New("boom") }
	ok := func() error { return nil }

	assert.Error(t, cb.Call(fail))
	assert.Error(t, cb.Call(fail))
	assert.NoError(t, cb.Call(ok))
	assert.Error(t, cb.Call(fail))
	assert.Error(t, cb.Call(fail))
	// Only two consecutive failures: still closed.
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(2, 50*time.Millisecond, 1)
	now := time.Now()
	cb.now = func() time.Time { return now }

	fail := func() error { return errors.New("boom") }
	require.Error(t, cb.Call(fail))
	require.Error(t, cb.Call(fail))
	require.Equal(t, StateOpen, cb.State())

	// Advance past the timeout: a probe is admitted.
	now = now.Add(100 * time.Millisecond)
	assert.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(2, 50*time.Millisecond, 1)
	now := time.Now()
	cb.now = func() time.Time { return now }

	fail := func() error { return errors.New("boom") }
	require.Error(t, cb.Call(fail))
	require.Error(t, cb.Call(fail))

	now = now.Add(100 * time.Millisecond)
	require.Error(t, cb.Call(fail))
	assert.Equal(t, StateOpen, cb.State())
}

// =============================================================================
// SAFEGUARD ENVELOPE
// =============================================================================

// scriptedModel returns canned output or errors.
type scriptedModel struct {
	output string
	err    error
	delay  time.Duration
}

func (m scriptedModel) Generate(ctx context.Context, prompt string) (string, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.output, m.err
}
func (m scriptedModel) Version() string      { return "scripted-1" }
func (m scriptedModel) RequiresOnline() bool { return false }

func TestClassifyPrivilegeHappyPath(t *testing.T) {
	output := `{"labels":["PRIVILEGED:ACP"],"confidence":0.92,"rationale":"Applied ACP definition section 2.1\nSender is counsel of record"}`
	sg := NewSafeguard(scriptedModel{output: output}, SafeguardConfig{PolicyText: "policy", Salt: "pepper"})

	decision := sg.ClassifyPrivilege(context.Background(), "email text", 0.75, "medium")

	assert.Equal(t, []string{"PRIVILEGED:ACP"}, decision.Labels)
	assert.InDelta(t, 0.92, decision.Confidence, 1e-9)
	assert.False(t, decision.NeedsReview)
	assert.True(t, decision.IsPrivileged())
	assert.Equal(t, "scripted-1", decision.ModelVersion)
	assert.Len(t, decision.PolicyVersion, 16)

	wantHash := hashing.SHA256String("Applied ACP definition section 2.1\nSender is counsel of record" + "pepper")
	assert.Equal(t, wantHash, decision.ReasoningHash)
}

func TestClassifyPrivilegePrivacy(t *testing.T) {
	excerpt := "please advise on litigation strategy"
	cot := "Reviewing the email.\nexcerpt: \"" + excerpt + "\"\nThe document states: confidential plans\nPolicy section 3 applies"
	output := fmt.Sprintf(`{"labels":["PRIVILEGED:ACP"],"confidence":0.9,"rationale":%q}`, cot)

	sg := NewSafeguard(scriptedModel{output: output}, SafeguardConfig{PolicyText: "policy", Salt: "salt"})
	decision := sg.ClassifyPrivilege(context.Background(), "doc text "+excerpt, 0.75, "high")

	// Serialized decision must carry no trace of the excerpt or raw CoT.
	serialized, err := json.Marshal(decision)
	require.NoError(t, err)
	assert.NotContains(t, string(serialized), excerpt)
	assert.NotContains(t, string(serialized), "confidential plans")
	assert.Contains(t, decision.ReasoningSummary, "Policy section 3 applies")

	assert.Equal(t, hashing.SHA256String(cot+"salt"), decision.ReasoningHash)
	assert.True(t, hashing.IsHexDigest(decision.ReasoningHash))
}

func TestSummaryCappedAt200Chars(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "policy clause applies here "
	}
	output := fmt.Sprintf(`{"labels":[],"confidence":0.5,"rationale":%q}`, long)
	sg := NewSafeguard(scriptedModel{output: output}, SafeguardConfig{PolicyText: "p"})

	decision := sg.ClassifyPrivilege(context.Background(), "text", 0.75, "low")
	assert.LessOrEqual(t, len(decision.ReasoningSummary), 200)
}

func TestMalformedOutputNeedsReview(t *testing.T) {
	sg := NewSafeguard(scriptedModel{output: "I cannot answer that."}, SafeguardConfig{PolicyText: "p"})

	decision := sg.ClassifyPrivilege(context.Background(), "text", 0.75, "medium")
	assert.True(t, decision.NeedsReview)
	assert.Empty(t, decision.Labels)
	assert.Zero(t, decision.Confidence)
	assert.NotEmpty(t, decision.ErrorMessage)
}

func TestTimeoutNeedsReview(t *testing.T) {
	sg := NewSafeguard(scriptedModel{output: "{}", delay: time.Second}, SafeguardConfig{
		PolicyText: "p",
		Timeout:    20 * time.Millisecond,
	})

	decision := sg.ClassifyPrivilege(context.Background(), "text", 0.75, "medium")
	assert.True(t, decision.NeedsReview)
	assert.NotEmpty(t, decision.ErrorMessage)
}

func TestCircuitOpenNeedsReview(t *testing.T) {
	sg := NewSafeguard(scriptedModel{err: errors.New("backend down")}, SafeguardConfig{
		PolicyText:       "p",
		FailureThreshold: 2,
	})

	for i := 0; i < 2; i++ {
		d := sg.ClassifyPrivilege(context.Background(), "text", 0.75, "medium")
		assert.True(t, d.NeedsReview)
	}
	require.Equal(t, StateOpen, sg.BreakerState())

	decision := sg.ClassifyPrivilege(context.Background(), "text", 0.75, "medium")
	assert.True(t, decision.NeedsReview)
	assert.Contains(t, decision.ErrorMessage, "OPEN")
}

func TestFencedJSONParsed(t *testing.T) {
	output := "Here is my analysis:\n```json\n{\"labels\":[\"RESPONSIVE\"],\"confidence\":0.8,\"rationale\":\"ok\"}\n```"
	sg := NewSafeguard(scriptedModel{output: output}, SafeguardConfig{PolicyText: "p"})

	decision := sg.ClassifyPrivilege(context.Background(), "text", 0.75, "medium")
	assert.Equal(t, []string{"RESPONSIVE"}, decision.Labels)
	assert.True(t, decision.IsResponsive())
}

func TestReasoningEffortHeuristic(t *testing.T) {
	assert.Equal(t, "high", selectReasoningEffort("discussing attorney-client privilege"))
	assert.Equal(t, "low", selectReasoningEffort("short note"))
}

func TestVaultDedupAndSealing(t *testing.T) {
	dir := t.TempDir()
	key, err := crypto.LoadOrCreateFernetKey(filepath.Join(dir, "vault.key"))
	require.NoError(t, err)

	vault, err := NewVault(filepath.Join(dir, "vault"), key)
	require.NoError(t, err)

	require.NoError(t, vault.Store("secret reasoning", "aabb"))
	require.NoError(t, vault.Store("secret reasoning", "aabb")) // dedup

	// Vault refuses to operate without a key.
	_, err = NewVault(filepath.Join(dir, "vault2"), nil)
	require.Error(t, err)
}

func TestHotdocLevel(t *testing.T) {
	d := PolicyDecision{Labels: []string{"RESPONSIVE", "HOTDOC:4"}}
	assert.Equal(t, 4, d.HotdocLevel())
	assert.Equal(t, -1, PolicyDecision{}.HotdocLevel())
}
