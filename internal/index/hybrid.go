package index

import (
	"context"
	"sort"

	"rexlit/internal/embedding"
	"rexlit/internal/logging"
	"rexlit/internal/pathsafe"
)

// DefaultFusionK is the reciprocal-rank-fusion constant.
const DefaultFusionK = 60

// Telemetry reports how a hybrid query was answered.
type Telemetry struct {
	Fusion    string          `json:"fusion"`
	Usage     embedding.Usage `json:"usage"`
	LatencyMS float64         `json:"latency_ms"`
}

// SearchHybrid fuses lexical and dense result lists with reciprocal rank
// fusion: rrf_score = sum over lists of 1/(k + rank). Ties break stably on
// (-score, sha256, path).
func SearchHybrid(ctx context.Context, store *Store, dense *DenseStore, gate pathsafe.OfflineGate, engine embedding.Engine, query string, limit, fusionK int) ([]SearchResult, Telemetry, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "SearchHybrid")
	defer timer.Stop()

	if fusionK <= 0 {
		fusionK = DefaultFusionK
	}
	if limit <= 0 {
		limit = 10
	}

	lexical, err := store.Search(query, limit)
	if err != nil {
		return nil, Telemetry{}, err
	}
	denseResults, usage, err := SearchDense(ctx, dense, gate, engine, query, limit)
	if err != nil {
		return nil, Telemetry{}, err
	}

	fused := FuseRRF(lexical, denseResults, fusionK)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	telemetry := Telemetry{
		Fusion:    "rrf",
		Usage:     usage,
		LatencyMS: usage.LatencyMS,
	}
	return fused, telemetry, nil
}

// FuseRRF merges two ranked lists by reciprocal rank fusion. Exposed for
// testing with fixed rankings.
func FuseRRF(lexical, dense []SearchResult, k int) []SearchResult {
	type candidate struct {
		result SearchResult
		score  float64
	}
	candidates := make(map[string]*candidate)

	key := func(r SearchResult) string { return r.SHA256 + "\x00" + r.Path }

	merge := func(list []SearchResult, isDense bool) {
		for rank, r := range list {
			contribution := 1.0 / float64(k+rank+1)
			c, ok := candidates[key(r)]
			if !ok {
				merged := r
				merged.Strategy = "hybrid"
				c = &candidate{result: merged}
				candidates[key(r)] = c
			}
			c.score += contribution
			if isDense {
				c.result.DenseScore = r.DenseScore
			} else {
				c.result.LexicalScore = r.LexicalScore
				if r.Snippet != "" && c.result.Snippet == "" {
					c.result.Snippet = r.Snippet
				}
			}
		}
	}
	merge(lexical, false)
	merge(dense, true)

	out := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		c.result.Score = c.score
		out = append(out, c.result)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].SHA256 != out[j].SHA256 {
			return out[i].SHA256 < out[j].SHA256
		}
		return out[i].Path < out[j].Path
	})
	return out
}
