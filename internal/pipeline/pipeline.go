// Package pipeline orchestrates the evidence-processing run:
// discover -> dedupe -> redaction plans -> bates plan -> manifest -> pack,
// with the audit ledger observing the whole run. Stages fail fast; the
// atomic writer guarantees a failed stage leaves no half-written artifact.
package pipeline

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"rexlit/internal/audit"
	"rexlit/internal/bates"
	"rexlit/internal/deterministic"
	"rexlit/internal/ingest"
	"rexlit/internal/jsonl"
	"rexlit/internal/logging"
	"rexlit/internal/pathsafe"
	"rexlit/internal/rexerr"
	"rexlit/internal/schema"
	"rexlit/internal/types"
)

// StageStatus tracks a stage through its lifecycle.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageCompleted StageStatus = "completed"
	StageSkipped   StageStatus = "skipped"
	StageFailed    StageStatus = "failed"
)

// Stage records one pipeline phase's outcome.
type Stage struct {
	Name            string                 `json:"name"`
	Status          StageStatus            `json:"status"`
	Detail          string                 `json:"detail,omitempty"`
	DurationSeconds float64                `json:"duration_seconds"`
	Metrics         map[string]interface{} `json:"metrics,omitempty"`
}

// Result summarizes a pipeline run.
type Result struct {
	Documents          []types.DocumentRecord
	ManifestPath       string
	RedactionPlanPaths map[string]string
	RedactionPlanIDs   map[string]string
	BatesPlanPath      string
	PackPath           string
	Stages             []Stage
	Notes              []string
}

// Ports the orchestrator holds. Each is swappable at bootstrap.
type (
	// Deduper collapses duplicate content.
	Deduper interface {
		Dedupe([]types.DocumentRecord) []types.DocumentRecord
	}
	// RedactionPlanner emits one sealed plan per document.
	RedactionPlanner interface {
		Plan(source, output string) (path string, planID string, err error)
	}
	// Packager archives the artifact directory.
	Packager interface {
		Pack(sourceDir string) (string, error)
	}
	// OnlineAware adapters declare whether they need the network.
	OnlineAware interface {
		RequiresOnline() bool
	}
)

// Pipeline wires the stages together.
type Pipeline struct {
	gate             pathsafe.OfflineGate
	deduper          Deduper          // nil: duplicates are an error
	redactionPlanner RedactionPlanner // required
	batesPlanner     *bates.Planner   // required
	packager         Packager         // nil: pack stage skipped
	ledger           *audit.Ledger    // nil: no audit entry
	onlineAdapters   map[string]OnlineAware
}

// New builds a pipeline.
func New(gate pathsafe.OfflineGate, deduper Deduper, redactionPlanner RedactionPlanner, batesPlanner *bates.Planner, packager Packager, ledger *audit.Ledger) *Pipeline {
	return &Pipeline{
		gate:             gate,
		deduper:          deduper,
		redactionPlanner: redactionPlanner,
		batesPlanner:     batesPlanner,
		packager:         packager,
		ledger:           ledger,
		onlineAdapters:   make(map[string]OnlineAware),
	}
}

// GuardAdapter registers an adapter for the online pre-flight check.
func (p *Pipeline) GuardAdapter(feature string, adapter OnlineAware) {
	if adapter != nil {
		p.onlineAdapters[feature] = adapter
	}
}

// RunOptions configures one run.
type RunOptions struct {
	ManifestPath      string
	Recursive         bool
	IncludeExtensions map[string]bool
	ExcludeExtensions map[string]bool
	BatesPlanPath     string
}

// runStage executes fn under a stage record, capturing duration, detail,
// and failure before re-raising.
func runStage(stages *[]Stage, name string, fn func(stage *Stage) error) error {
	stage := Stage{Name: name, Status: StagePending}
	start := time.Now()
	err := fn(&stage)
	stage.DurationSeconds = time.Since(start).Seconds()
	if err != nil {
		stage.Status = StageFailed
		stage.Detail = err.Error()
	} else if stage.Status == StagePending {
		stage.Status = StageCompleted
	}
	*stages = append(*stages, stage)
	return err
}

// Run executes the pipeline over source.
func (p *Pipeline) Run(source string, opts RunOptions) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryPipeline, "Run")
	defer timer.Stop()

	resolvedSource, err := filepath.Abs(source)
	if err != nil {
		return nil, err
	}

	// Pre-flight the offline gate for every held adapter before any work.
	for feature, adapter := range p.onlineAdapters {
		if err := p.gate.EnsureSupported(feature, adapter.RequiresOnline()); err != nil {
			return nil, err
		}
	}

	manifestPath := opts.ManifestPath
	if manifestPath == "" {
		manifestPath = filepath.Join(resolvedSource, "manifest.jsonl")
	}

	result := &Result{
		RedactionPlanPaths: make(map[string]string),
		RedactionPlanIDs:   make(map[string]string),
		ManifestPath:       manifestPath,
	}

	// discover
	var discovered []types.DocumentRecord
	err = runStage(&result.Stages, "discover", func(stage *Stage) error {
		docs, err := ingest.Discover(resolvedSource, ingest.Options{
			Recursive:         opts.Recursive,
			IncludeExtensions: opts.IncludeExtensions,
			ExcludeExtensions: opts.ExcludeExtensions,
		})
		if err != nil {
			return err
		}
		discovered = docs
		stage.Detail = fmt.Sprintf("%d documents discovered", len(docs))
		stage.Metrics = map[string]interface{}{"discovered_count": len(docs)}
		return nil
	})
	if err != nil {
		return result, err
	}

	// dedupe
	var unique []types.DocumentRecord
	err = runStage(&result.Stages, "dedupe", func(stage *Stage) error {
		docs := deterministic.OrderDocuments(discovered)
		if len(docs) == 0 {
			stage.Status = StageSkipped
			stage.Detail = "No documents to dedupe"
			unique = docs
			return nil
		}
		if p.deduper == nil {
			if dupes := deterministic.DuplicateHashes(docs); len(dupes) > 0 {
				return rexerr.New(rexerr.DuplicateHash, dupes[0],
					"duplicate SHA-256 detected: %d hash(es) repeat", len(dupes))
			}
			stage.Status = StageSkipped
			stage.Detail = "Deduper unavailable; all hashes unique"
			unique = docs
			return nil
		}
		unique = p.deduper.Dedupe(docs)
		stage.Detail = fmt.Sprintf("%d unique documents", len(unique))
		return nil
	})
	if err != nil {
		return result, err
	}

	// redaction_plan
	err = runStage(&result.Stages, "redaction_plan", func(stage *Stage) error {
		for _, doc := range unique {
			planPath, planID, err := p.redactionPlanner.Plan(doc.Path, "")
			if err != nil {
				return err
			}
			result.RedactionPlanPaths[doc.Path] = planPath
			result.RedactionPlanIDs[doc.Path] = planID
		}
		stage.Detail = fmt.Sprintf("%d plans generated", len(unique))
		return nil
	})
	if err != nil {
		return result, err
	}

	// bates_plan
	err = runStage(&result.Stages, "bates_plan", func(stage *Stage) error {
		if len(unique) == 0 {
			stage.Status = StageSkipped
			stage.Detail = "No documents available for Bates numbering"
			return nil
		}
		planPath := opts.BatesPlanPath
		if planPath == "" {
			planPath = filepath.Join(resolvedSource, "bates_plan.jsonl")
		}
		plan, err := p.batesPlanner.Plan(unique, planPath)
		if err != nil {
			return err
		}
		result.BatesPlanPath = plan.Path
		stage.Detail = fmt.Sprintf("%d Bates assignments", len(plan.Assignments))
		return nil
	})
	if err != nil {
		return result, err
	}

	// manifest
	err = runStage(&result.Stages, "manifest", func(stage *Stage) error {
		records := make([]interface{}, len(unique))
		for i, doc := range unique {
			records[i] = doc
		}
		stamp := schema.NewStamp("manifest", 1)
		if mtime := deterministic.LatestMtime(unique); mtime != "" {
			stamp.ProducedAt = mtime
		}
		if err := jsonl.AtomicWriteJSONL(manifestPath, records, stamp.Transform()); err != nil {
			return err
		}
		stage.Detail = fmt.Sprintf("Manifest stored at %s", manifestPath)
		return nil
	})
	if err != nil {
		return result, err
	}

	// pack
	err = runStage(&result.Stages, "pack", func(stage *Stage) error {
		if p.packager == nil {
			stage.Status = StageSkipped
			stage.Detail = "No packager configured"
			return nil
		}
		packPath, err := p.packager.Pack(filepath.Dir(manifestPath))
		if err != nil {
			return err
		}
		result.PackPath = packPath
		stage.Detail = fmt.Sprintf("Pack archive stored at %s", packPath)
		return nil
	})
	if err != nil {
		return result, err
	}

	result.Documents = unique
	result.Notes = append(result.Notes, fmt.Sprintf("Manifest written to %s", manifestPath))
	if result.BatesPlanPath != "" {
		result.Notes = append(result.Notes, fmt.Sprintf("Bates plan stored at %s", result.BatesPlanPath))
	}
	if result.PackPath != "" {
		result.Notes = append(result.Notes, fmt.Sprintf("Pack archive created at %s", result.PackPath))
	}

	if err := p.logAudit(resolvedSource, result); err != nil {
		return result, err
	}
	return result, nil
}

func (p *Pipeline) logAudit(source string, result *Result) error {
	if p.ledger == nil {
		return nil
	}

	docs := make([]string, 0, len(result.RedactionPlanPaths))
	for doc := range result.RedactionPlanPaths {
		docs = append(docs, doc)
	}
	sort.Strings(docs)

	outputs := []string{result.ManifestPath}
	planMetadata := make([]map[string]interface{}, 0, len(docs))
	for _, doc := range docs {
		outputs = append(outputs, result.RedactionPlanPaths[doc])
		planMetadata = append(planMetadata, map[string]interface{}{
			"document":  doc,
			"plan_path": result.RedactionPlanPaths[doc],
			"plan_id":   result.RedactionPlanIDs[doc],
		})
	}
	if result.BatesPlanPath != "" {
		outputs = append(outputs, result.BatesPlanPath)
	}
	if result.PackPath != "" {
		outputs = append(outputs, result.PackPath)
	}

	_, err := p.ledger.Append("m1_pipeline",
		[]string{source},
		outputs,
		map[string]interface{}{
			"document_count":  len(result.Documents),
			"executed_at":     time.Now().UTC().Format(time.RFC3339Nano),
			"online_mode":     p.gate.Online(),
			"redaction_plans": planMetadata,
		}, nil)
	return err
}
