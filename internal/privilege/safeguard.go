package privilege

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rexlit/internal/crypto"
	"rexlit/internal/hashing"
	"rexlit/internal/logging"
	"rexlit/internal/rexerr"
)

// summaryMaxChars caps the redacted reasoning summary.
const summaryMaxChars = 200

// defaultTimeout bounds one model inference.
const defaultTimeout = 30 * time.Second

// Model is the reasoning port the envelope wraps. Any backend that can turn
// a prompt into text plugs in here.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Version() string
	RequiresOnline() bool
}

// Vault optionally stores raw chain-of-thought, sealed, keyed by hash.
type Vault struct {
	dir string
	key []byte
}

// NewVault builds a sealed reasoning vault. A key is mandatory: raw
// reasoning never touches disk in the clear.
func NewVault(dir string, key []byte) (*Vault, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("reasoning vault requires a sealing key")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Vault{dir: dir, key: key}, nil
}

// Store seals reasoning under its hash. Existing entries dedupe.
func (v *Vault) Store(reasoning, hash string) error {
	path := filepath.Join(v.dir, hash+".enc")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	token, err := crypto.EncryptBlob([]byte(reasoning), v.key)
	if err != nil {
		return err
	}
	return os.WriteFile(path, token, 0o600)
}

// SafeguardConfig tunes the envelope.
type SafeguardConfig struct {
	PolicyText       string
	Salt             string // generated when empty
	Timeout          time.Duration
	FailureThreshold int
	Vault            *Vault // nil disables raw CoT storage
}

// Safeguard wraps a Model with the privacy and resilience envelope: circuit
// breaking, timeouts, salted reasoning hashes, and excerpt-free summaries.
type Safeguard struct {
	model         Model
	policyText    string
	policyVersion string
	salt          string
	timeout       time.Duration
	breaker       *CircuitBreaker
	vault         *Vault
}

// NewSafeguard builds the envelope around model.
func NewSafeguard(model Model, cfg SafeguardConfig) *Safeguard {
	salt := cfg.Salt
	if salt == "" {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err == nil {
			salt = hex.EncodeToString(raw)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Safeguard{
		model:         model,
		policyText:    cfg.PolicyText,
		policyVersion: hashing.SHA256String(cfg.PolicyText)[:16],
		salt:          salt,
		timeout:       timeout,
		breaker:       NewCircuitBreaker(cfg.FailureThreshold, 60*time.Second, 1),
		vault:         cfg.Vault,
	}
}

// RequiresOnline reports whether the wrapped model needs the network.
func (s *Safeguard) RequiresOnline() bool { return s.model.RequiresOnline() }

// BreakerState exposes the circuit state for monitoring.
func (s *Safeguard) BreakerState() State { return s.breaker.State() }

// ClassifyPrivilege classifies text against the policy. Every failure mode
// (circuit open, timeout, malformed output) maps to a decision with
// needs_review set; callers never catch raw errors.
func (s *Safeguard) ClassifyPrivilege(ctx context.Context, text string, threshold float64, reasoningEffort string) PolicyDecision {
	timer := logging.StartTimer(logging.CategoryPrivilege, "ClassifyPrivilege")
	defer timer.Stop()

	if reasoningEffort == "" || reasoningEffort == "dynamic" {
		reasoningEffort = selectReasoningEffort(text)
	}

	prompt := fmt.Sprintf(
		"%s\n\n---\n\nReasoning effort: %s\n\nClassify the following document:\n\n%s\n\n"+
			"Provide your classification in JSON format as specified in the policy above.",
		s.policyText, reasoningEffort, text,
	)

	var raw string
	err := s.breaker.Call(func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		out, err := s.model.Generate(callCtx, prompt)
		if err != nil {
			if callCtx.Err() == context.DeadlineExceeded {
				return rexerr.Wrap(rexerr.Timeout, "", err, "model inference exceeded %s", s.timeout)
			}
			return err
		}
		raw = out
		return nil
	})
	if err != nil {
		return s.errorDecision(err.Error(), reasoningEffort)
	}

	output, err := parseModelJSON(raw)
	if err != nil {
		return s.errorDecision(fmt.Sprintf("malformed model output: %v", err), reasoningEffort)
	}

	fullCoT, _ := output["rationale"].(string)
	cotHash := s.hashReasoning(fullCoT)
	summary := redactSummary(fullCoT)

	fullAvailable := false
	if s.vault != nil && fullCoT != "" {
		if err := s.vault.Store(fullCoT, cotHash); err != nil {
			logging.Get(logging.CategoryPrivilege).Warn("vault store failed: %v", err)
		} else {
			fullAvailable = true
		}
	}

	labels := toStringSlice(output["labels"])
	confidence := toFloat(output["confidence"])
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	var spans []RedactionSpan
	if rawSpans, ok := output["redaction_spans"].([]interface{}); ok {
		for _, item := range rawSpans {
			data, err := json.Marshal(item)
			if err != nil {
				continue
			}
			var span RedactionSpan
			if err := json.Unmarshal(data, &span); err != nil {
				continue // malformed span, skipped
			}
			spans = append(spans, span)
		}
	}

	return PolicyDecision{
		Labels:                 labels,
		Confidence:             confidence,
		NeedsReview:            confidence < threshold,
		ReasoningHash:          cotHash,
		ReasoningSummary:       summary,
		FullReasoningAvailable: fullAvailable,
		RedactionSpans:         spans,
		ModelVersion:           s.model.Version(),
		PolicyVersion:          s.policyVersion,
		ReasoningEffort:        reasoningEffort,
		DecisionTS:             time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func (s *Safeguard) errorDecision(msg, reasoningEffort string) PolicyDecision {
	return PolicyDecision{
		Labels:           []string{},
		Confidence:       0,
		NeedsReview:      true,
		ReasoningSummary: "Error: " + msg,
		RedactionSpans:   []RedactionSpan{},
		ModelVersion:     s.model.Version(),
		PolicyVersion:    s.policyVersion,
		ReasoningEffort:  reasoningEffort,
		DecisionTS:       time.Now().UTC().Format(time.RFC3339Nano),
		ErrorMessage:     msg,
	}
}

// hashReasoning salts and hashes the full chain-of-thought.
func (s *Safeguard) hashReasoning(reasoning string) string {
	return hashing.SHA256String(reasoning + s.salt)
}

// redactSummary keeps only lines free of quoted text or excerpt markers,
// truncated to the summary cap.
func redactSummary(fullCoT string) string {
	var safe []string
	for _, line := range strings.Split(fullCoT, "\n") {
		lower := strings.ToLower(line)
		if strings.Contains(line, `"`) || strings.Contains(lower, "excerpt:") || strings.Contains(lower, "states:") {
			continue
		}
		safe = append(safe, line)
	}
	summary := strings.Join(safe, " ")
	if len(summary) > summaryMaxChars {
		summary = summary[:summaryMaxChars]
	}
	return summary
}

// selectReasoningEffort picks effort from document complexity.
func selectReasoningEffort(text string) string {
	lower := strings.ToLower(text)
	complexTerms := []string{
		"attorney-client privilege", "work product", "common interest",
		"legal opinion", "confidential communication",
	}
	for _, term := range complexTerms {
		if strings.Contains(lower, term) {
			return "high"
		}
	}
	switch {
	case len(text) > 10000:
		return "high"
	case len(text) > 5000:
		return "medium"
	default:
		return "low"
	}
}

// parseModelJSON extracts a JSON object from model output that may be raw,
// fenced in markdown, or prefixed with prose.
func parseModelJSON(generated string) (map[string]interface{}, error) {
	text := strings.TrimSpace(generated)

	if i := strings.Index(text, "```json"); i >= 0 {
		text = text[i+len("```json"):]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	} else if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+3:]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, rexerr.New(rexerr.ModelOutputMalformed, "", "no JSON object in model output")
	}

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, rexerr.Wrap(rexerr.ModelOutputMalformed, "", err, "model JSON unparsable")
	}
	return out, nil
}

func toStringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return 0
}
