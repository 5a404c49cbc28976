package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"rexlit/internal/embedding"
	"rexlit/internal/extract"
	"rexlit/internal/ingest"
	"rexlit/internal/pathsafe"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func buildFixture(t *testing.T, files map[string]string) (*Store, *MetadataCache, *BuildStats) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	docs, err := ingest.Discover(root, ingest.Options{Recursive: true})
	require.NoError(t, err)

	indexDir := t.TempDir()
	store, err := Open(indexDir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cache := LoadMetadataCache(indexDir)
	stats, err := Build(context.Background(), store, cache, docs, extract.PlainTextExtractor{}, BuildOptions{})
	require.NoError(t, err)
	return store, cache, stats
}

func TestBuildAndLexicalSearch(t *testing.T) {
	store, cache, stats := buildFixture(t, map[string]string{
		"custodians/alice/zebra.txt": "The quick zebra jumped over the fence",
		"custodians/bob/alpha.txt":   "An alpha document about contracts",
		"custodians/bob/beta.txt":    "Beta notes mention the zebra again",
	})

	assert.Equal(t, 3, stats.Indexed)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 3, cache.DocCount())
	assert.Equal(t, []string{"alice", "bob"}, cache.Custodians())
	assert.Equal(t, []string{"text"}, cache.Doctypes())

	results, err := store.Search("zebra", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "lexical", r.Strategy)
		assert.NotNil(t, r.LexicalScore)
		assert.Contains(t, r.Snippet, "zebra")
		assert.Len(t, r.SHA256, 64)
	}
}

func TestSearchCaseInsensitiveSnippet(t *testing.T) {
	store, _, _ := buildFixture(t, map[string]string{
		"doc.txt": "PRIVILEGED and Confidential memorandum",
	})

	results, err := store.Search("privileged", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Snippet, "PRIVILEGED")
}

func TestSearchEmptyQuery(t *testing.T) {
	store, _, _ := buildFixture(t, map[string]string{"doc.txt": "content"})
	_, err := store.Search("   ", 5)
	require.Error(t, err)
}

func TestBuildSkipsUnextractable(t *testing.T) {
	store, cache, stats := buildFixture(t, map[string]string{
		"doc.txt": "indexable text",
		"img.png": "\x89PNG not really",
	})
	assert.Equal(t, 1, stats.Indexed)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, cache.DocCount())

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBuildRebuildResets(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("one"), 0o644))
	docs, err := ingest.Discover(root, ingest.Options{Recursive: true})
	require.NoError(t, err)

	indexDir := t.TempDir()
	store, err := Open(indexDir)
	require.NoError(t, err)
	defer store.Close()
	cache := LoadMetadataCache(indexDir)

	_, err = Build(context.Background(), store, cache, docs, extract.PlainTextExtractor{}, BuildOptions{})
	require.NoError(t, err)
	_, err = Build(context.Background(), store, cache, docs, extract.PlainTextExtractor{}, BuildOptions{Rebuild: true})
	require.NoError(t, err)

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, cache.DocCount())
}

func TestSearchByHash(t *testing.T) {
	store, _, _ := buildFixture(t, map[string]string{"doc.txt": "content here"})
	results, err := store.Search("content", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)

	byHash, err := store.SearchByHash(results[0].SHA256)
	require.NoError(t, err)
	assert.Equal(t, results[0].Path, byHash.Path)
}

// =============================================================================
// DENSE
// =============================================================================

// fakeEngine produces deterministic embeddings from character counts.
type fakeEngine struct{ online bool }

func (f fakeEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, _, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f fakeEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, embedding.Usage, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, 8)
		for j, r := range text {
			vec[j%8] += float32(r % 31)
		}
		out[i] = vec
	}
	return out, embedding.Usage{Texts: len(texts), LatencyMS: 1}, nil
}

func (f fakeEngine) Dimensions() int      { return 8 }
func (f fakeEngine) Name() string         { return "fake" }
func (f fakeEngine) RequiresOnline() bool { return f.online }

func TestVectorEncodeDecodeRoundTrip(t *testing.T) {
	vec := []float32{0.5, -1.25, 3.75, 0}
	got := decodeVector(encodeVector(vec))
	assert.Equal(t, vec, got)
}

func TestDenseBuildAndSearch(t *testing.T) {
	indexDir := t.TempDir()
	dense, err := OpenDense(indexDir, 8)
	require.NoError(t, err)
	defer dense.Close()

	gate := pathsafe.NewOfflineGate(false)
	docs := []DenseDocument{
		{Identifier: "aaa", Path: "/a.txt", Text: "zebra zebra zebra"},
		{Identifier: "bbb", Path: "/b.txt", Text: "completely unrelated words"},
	}
	usage, err := BuildDense(context.Background(), dense, gate, fakeEngine{}, docs)
	require.NoError(t, err)
	assert.Equal(t, 2, usage.Texts)

	n, err := dense.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results, _, err := SearchDense(context.Background(), dense, gate, fakeEngine{}, "zebra zebra zebra", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// Identical text embeds identically: exact match ranks first.
	assert.Equal(t, "aaa", results[0].SHA256)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	require.NotNil(t, results[0].DenseScore)
}

func TestDenseRequiresOnlineGate(t *testing.T) {
	indexDir := t.TempDir()
	dense, err := OpenDense(indexDir, 8)
	require.NoError(t, err)
	defer dense.Close()

	gate := pathsafe.NewOfflineGate(false)
	_, err = BuildDense(context.Background(), dense, gate, fakeEngine{online: true}, nil)
	require.Error(t, err)

	_, _, err = SearchDense(context.Background(), dense, gate, fakeEngine{online: true}, "q", 5)
	require.Error(t, err)
}

func TestDenseStorePathLayout(t *testing.T) {
	path := DenseStorePath("/data/index", 768)
	assert.Equal(t, filepath.Join("/data/index", "dense", "kanon2_768.db"), path)
}
