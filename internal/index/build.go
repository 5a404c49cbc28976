package index

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rexlit/internal/extract"
	"rexlit/internal/logging"
	"rexlit/internal/types"
)

// commitBatchSize bounds writer memory: the transaction is committed and
// reopened every this many documents.
const commitBatchSize = 1000

// payload is the serializable result a worker hands back to the writer.
type payload struct {
	Path      string
	SHA256    string
	Custodian string
	Doctype   string
	Text      string
	Metadata  string
	Err       error
}

// DenseDocument is one entry collected for the dense builder during an
// indexing run.
type DenseDocument struct {
	Identifier string
	Path       string
	SHA256     string
	Custodian  string
	Doctype    string
	Text       string
}

// BuildOptions configures an index build.
type BuildOptions struct {
	Rebuild    bool
	MaxWorkers int
	// DenseCollector, when non-nil, receives every successful payload for
	// the dense builder.
	DenseCollector *[]DenseDocument
}

// BuildStats summarizes a build run.
type BuildStats struct {
	Indexed int
	Skipped int
	Elapsed time.Duration
}

// Build streams documents through a bounded pool of extraction workers into
// the single index writer. Worker completion order is nondeterministic;
// writes happen in completion order and search re-imposes ranking, so the
// on-disk row order never leaks into results.
func Build(ctx context.Context, store *Store, cache *MetadataCache, documents []types.DocumentRecord, extractor extract.Extractor, opts BuildOptions) (*BuildStats, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "Build")
	defer timer.Stop()

	if opts.Rebuild {
		if err := store.Reset(); err != nil {
			return nil, err
		}
		cache.Reset()
	}

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = runtime.NumCPU() - 1
		if workers < 1 {
			workers = 1
		}
	}
	logging.Index("building index: %d documents, %d workers", len(documents), workers)

	results := make(chan payload, workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	// On early return the drain keeps blocked workers from leaking; after a
	// clean run the channel is already closed and it exits immediately.
	defer func() {
		go func() {
			for range results {
			}
		}()
	}()

	// Submission runs off the main goroutine: g.Go blocks at the worker
	// limit, and the writer below must already be draining results.
	var wg sync.WaitGroup
	go func() {
		for _, doc := range documents {
			doc := doc
			wg.Add(1)
			g.Go(func() error {
				defer wg.Done()
				if err := gctx.Err(); err != nil {
					return err
				}
				results <- extractPayload(doc, extractor)
				return nil
			})
		}
		wg.Wait()
		close(results)
	}()

	stats := &BuildStats{}
	start := time.Now()

	tx, err := store.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin index transaction: %w", err)
	}
	inBatch := 0

	for p := range results {
		if p.Err != nil {
			stats.Skipped++
			logging.Get(logging.CategoryIndex).Warn("skipping %s: %v", p.Path, p.Err)
			continue
		}

		if err := insertDocument(tx, p); err != nil {
			tx.Rollback()
			return nil, err
		}
		stats.Indexed++
		inBatch++

		cache.Update(p.Custodian, p.Doctype)

		if opts.DenseCollector != nil {
			*opts.DenseCollector = append(*opts.DenseCollector, DenseDocument{
				Identifier: p.SHA256,
				Path:       p.Path,
				SHA256:     p.SHA256,
				Custodian:  p.Custodian,
				Doctype:    p.Doctype,
				Text:       p.Text,
			})
		}

		// Periodic commits bound writer memory on large corpora.
		if inBatch >= commitBatchSize {
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("commit index batch: %w", err)
			}
			if err := cache.Save(); err != nil {
				logging.Get(logging.CategoryIndex).Warn("failed to save metadata cache: %v", err)
			}
			tx, err = store.db.Begin()
			if err != nil {
				return nil, fmt.Errorf("reopen index transaction: %w", err)
			}
			inBatch = 0
			logging.IndexDebug("indexed %d documents so far", stats.Indexed)
		}
	}

	if err := g.Wait(); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit index: %w", err)
	}
	if err := cache.Save(); err != nil {
		return nil, fmt.Errorf("save metadata cache: %w", err)
	}

	stats.Elapsed = time.Since(start)
	logging.Index("index build complete: %d indexed, %d skipped in %v", stats.Indexed, stats.Skipped, stats.Elapsed)
	return stats, nil
}

func extractPayload(doc types.DocumentRecord, extractor extract.Extractor) payload {
	p := payload{
		Path:      doc.Path,
		SHA256:    doc.SHA256,
		Custodian: doc.Custodian,
		Doctype:   doc.Doctype,
	}
	if p.Doctype == "" {
		p.Doctype = "unknown"
	}

	if extractor == nil || !extractor.Supports(doc.Extension) {
		p.Err = fmt.Errorf("no extractor for %s", doc.Extension)
		return p
	}
	content, err := extractor.Extract(doc.Path)
	if err != nil {
		p.Err = err
		return p
	}
	p.Text = content.Text
	p.Metadata = flattenMetadata(content.Metadata, doc.Metadata)
	return p
}

func insertDocument(tx *sql.Tx, p payload) error {
	res, err := tx.Exec(
		`INSERT INTO search_docs (path, sha256, custodian, doctype, metadata, body)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.Path, p.SHA256, p.Custodian, p.Doctype, p.Metadata, p.Text,
	)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", p.Path, err)
	}
	rowid, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO search_fts (rowid, body, path, custodian) VALUES (?, ?, ?, ?)`,
		rowid, p.Text, p.Path, p.Custodian,
	); err != nil {
		return fmt.Errorf("insert fts row for %s: %w", p.Path, err)
	}
	return nil
}

func flattenMetadata(maps ...map[string]string) string {
	merged := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return ""
	}
	out := ""
	for _, k := range sortedKeys(merged) {
		if out != "" {
			out += " "
		}
		out += k + "=" + merged[k]
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
