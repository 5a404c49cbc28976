package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"rexlit/internal/embedding"
	"rexlit/internal/logging"
	"rexlit/internal/pathsafe"
)

// denseBatchSize is how many documents embed per engine call during build.
const denseBatchSize = 32

// DenseStore holds document embeddings keyed by identifier. Vectors are
// serialized as little-endian float32 blobs; search is a cosine scan over
// the stored set.
type DenseStore struct {
	db  *sql.DB
	dim int
}

// DenseStorePath returns <indexDir>/dense/kanon2_<dim>.db.
func DenseStorePath(indexDir string, dim int) string {
	return filepath.Join(indexDir, "dense", fmt.Sprintf("kanon2_%d.db", dim))
}

// OpenDense opens (or creates) the dense store for the given dimension.
func OpenDense(indexDir string, dim int) (*DenseStore, error) {
	path := DenseStorePath(indexDir, dim)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dense directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open dense store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("dense store: failed to set WAL: %v", err)
	}
	if _, err := db.Exec(
		`CREATE TABLE IF NOT EXISTS dense_vectors (
			identifier TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			custodian TEXT NOT NULL DEFAULT '',
			doctype TEXT NOT NULL DEFAULT '',
			embedding BLOB NOT NULL,
			dim INTEGER NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init dense schema: %w", err)
	}
	return &DenseStore{db: db, dim: dim}, nil
}

// Close releases the store.
func (d *DenseStore) Close() error { return d.db.Close() }

// Count returns the number of stored vectors.
func (d *DenseStore) Count() (int, error) {
	var n int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM dense_vectors`).Scan(&n)
	return n, err
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// BuildDense embeds the collected documents through the engine and upserts
// them into the store. Dense operations require the offline gate to be open
// when the engine is a network backend.
func BuildDense(ctx context.Context, store *DenseStore, gate pathsafe.OfflineGate, engine embedding.Engine, documents []DenseDocument) (embedding.Usage, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "BuildDense")
	defer timer.Stop()

	if err := gate.EnsureSupported("Dense index build", engine.RequiresOnline()); err != nil {
		return embedding.Usage{}, err
	}

	var total embedding.Usage
	for offset := 0; offset < len(documents); offset += denseBatchSize {
		end := offset + denseBatchSize
		if end > len(documents) {
			end = len(documents)
		}
		batch := documents[offset:end]

		texts := make([]string, len(batch))
		for i, doc := range batch {
			texts[i] = doc.Text
		}
		vectors, usage, err := engine.EmbedBatch(ctx, texts)
		if err != nil {
			return total, fmt.Errorf("embed batch: %w", err)
		}
		total.Texts += usage.Texts
		total.LatencyMS += usage.LatencyMS

		tx, err := store.db.Begin()
		if err != nil {
			return total, err
		}
		for i, doc := range batch {
			if _, err := tx.Exec(
				`INSERT OR REPLACE INTO dense_vectors (identifier, path, custodian, doctype, embedding, dim)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				doc.Identifier, doc.Path, doc.Custodian, doc.Doctype, encodeVector(vectors[i]), len(vectors[i]),
			); err != nil {
				tx.Rollback()
				return total, fmt.Errorf("store vector %s: %w", doc.Identifier, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return total, err
		}
	}

	logging.Index("dense build: %d documents embedded (%.0fms)", total.Texts, total.LatencyMS)
	return total, nil
}

// SearchDense embeds the query and returns the top-k nearest documents by
// cosine similarity, with dense_score set.
func SearchDense(ctx context.Context, store *DenseStore, gate pathsafe.OfflineGate, engine embedding.Engine, query string, limit int) ([]SearchResult, embedding.Usage, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "SearchDense")
	defer timer.Stop()

	if err := gate.EnsureSupported("Dense search", engine.RequiresOnline()); err != nil {
		return nil, embedding.Usage{}, err
	}
	if limit <= 0 {
		limit = 10
	}

	vectors, usage, err := engine.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, usage, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, usage, fmt.Errorf("no embedding returned for query")
	}
	queryVec := vectors[0]

	rows, err := store.db.Query(`SELECT identifier, path, custodian, doctype, embedding FROM dense_vectors`)
	if err != nil {
		return nil, usage, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var identifier, path, custodian, doctype string
		var blob []byte
		if err := rows.Scan(&identifier, &path, &custodian, &doctype, &blob); err != nil {
			return nil, usage, err
		}
		sim, err := embedding.CosineSimilarity(queryVec, decodeVector(blob))
		if err != nil {
			continue // dimension drift; skip
		}
		score := sim
		results = append(results, SearchResult{
			Path:       path,
			SHA256:     identifier,
			Custodian:  custodian,
			Doctype:    doctype,
			Score:      score,
			DenseScore: &score,
			Strategy:   "dense",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, usage, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].SHA256 < results[j].SHA256
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, usage, nil
}
