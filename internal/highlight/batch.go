package highlight

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rexlit/internal/hashing"
	"rexlit/internal/logging"
)

// BatchResult summarizes a batch highlight run.
type BatchResult struct {
	TotalDocuments  int                 `json:"total_documents"`
	Successful      int                 `json:"successful"`
	Failed          int                 `json:"failed"`
	TotalHighlights int                 `json:"total_highlights"`
	DurationSeconds float64             `json:"duration_seconds"`
	Results         []BatchItem         `json:"results"`
	Errors          []map[string]string `json:"errors"`
}

// BatchItem is one successfully planned document.
type BatchItem struct {
	Path           string `json:"path"`
	Output         string `json:"output"`
	PlanID         string `json:"plan_id"`
	HighlightCount int    `json:"highlight_count"`
}

// checkpoint is the resumable sidecar written after each run.
type checkpoint struct {
	Timestamp      int64    `json:"timestamp"`
	CompletedPaths []string `json:"completed_paths"`
	FailedPaths    []string `json:"failed_paths"`
}

// batchExtensions are the document types batch planning considers.
var batchExtensions = map[string]bool{
	".pdf": true, ".docx": true, ".txt": true, ".md": true, ".eml": true,
}

// RunBatch plans highlights for every document under sourceDir in parallel,
// one plan file per document keyed by sha256. A checkpoint sidecar makes
// interrupted runs resumable: already-completed paths are skipped. Per-
// document failures are recorded and the batch continues.
func (s *Service) RunBatch(ctx context.Context, sourceDir, outputDir string, concepts []string, threshold float64, workers int) (*BatchResult, error) {
	timer := logging.StartTimer(logging.CategoryPlans, "RunBatch")
	defer timer.Stop()

	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var docs []string
	err := filepath.WalkDir(sourceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if batchExtensions[strings.ToLower(filepath.Ext(path))] {
			docs = append(docs, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(docs)

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}

	checkpointPath := filepath.Join(outputDir, ".batch_checkpoint.json")
	completed := loadCheckpoint(checkpointPath)

	start := time.Now()
	result := &BatchResult{TotalDocuments: len(docs)}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, doc := range docs {
		doc := doc
		if completed[doc] {
			mu.Lock()
			result.Successful++
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			sha, err := hashing.SHA256File(doc)
			if err != nil {
				recordError(&mu, result, doc, err)
				return nil
			}
			output := filepath.Join(outputDir, sha+".highlight-plan.enc")

			plan, err := s.Plan(doc, output, concepts, threshold)
			if err != nil {
				recordError(&mu, result, doc, err)
				return nil
			}

			mu.Lock()
			result.Successful++
			result.TotalHighlights += len(plan.Highlights)
			result.Results = append(result.Results, BatchItem{
				Path:           doc,
				Output:         output,
				PlanID:         plan.PlanID,
				HighlightCount: len(plan.Highlights),
			})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(result.Results, func(i, j int) bool { return result.Results[i].Path < result.Results[j].Path })
	result.DurationSeconds = time.Since(start).Seconds()

	saveCheckpoint(checkpointPath, completed, result)
	logging.Plans("batch highlights: %d ok, %d failed, %d highlights",
		result.Successful, result.Failed, result.TotalHighlights)
	return result, nil
}

func recordError(mu *sync.Mutex, result *BatchResult, path string, err error) {
	mu.Lock()
	defer mu.Unlock()
	result.Failed++
	result.Errors = append(result.Errors, map[string]string{"path": path, "error": err.Error()})
}

func loadCheckpoint(path string) map[string]bool {
	completed := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return completed
	}
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return completed
	}
	for _, p := range cp.CompletedPaths {
		completed[p] = true
	}
	return completed
}

func saveCheckpoint(path string, previous map[string]bool, result *BatchResult) {
	cp := checkpoint{Timestamp: time.Now().Unix()}
	for p := range previous {
		cp.CompletedPaths = append(cp.CompletedPaths, p)
	}
	for _, item := range result.Results {
		cp.CompletedPaths = append(cp.CompletedPaths, item.Path)
	}
	for _, e := range result.Errors {
		cp.FailedPaths = append(cp.FailedPaths, e["path"])
	}
	sort.Strings(cp.CompletedPaths)
	sort.Strings(cp.FailedPaths)

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logging.Get(logging.CategoryPlans).Warn("failed to save batch checkpoint: %v", err)
	}
}
