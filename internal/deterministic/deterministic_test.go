package deterministic

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"rexlit/internal/types"
)

func doc(sha, path string, meta map[string]string) types.DocumentRecord {
	return types.DocumentRecord{SHA256: sha, Path: path, Metadata: meta}
}

func TestOrderDocumentsBySHAThenPath(t *testing.T) {
	docs := []types.DocumentRecord{
		doc("bb", "/z", nil),
		doc("aa", "/b", nil),
		doc("aa", "/a", nil),
	}
	ordered := OrderDocuments(docs)

	want := []string{"/a", "/b", "/z"}
	for i, d := range ordered {
		if d.Path != want[i] {
			t.Errorf("position %d: got %s, want %s", i, d.Path, want[i])
		}
	}
	// Input untouched.
	if docs[0].Path != "/z" {
		t.Error("OrderDocuments mutated its input")
	}
}

func TestGroupFamiliesByThreadID(t *testing.T) {
	docs := []types.DocumentRecord{
		doc("cc", "/3", map[string]string{"thread_id": "t2"}),
		doc("aa", "/1", map[string]string{"thread_id": "t1"}),
		doc("bb", "/2", map[string]string{"thread_id": "t1"}),
		doc("dd", "/4", nil), // family of one, keyed by its own hash
	}

	families := GroupFamilies(docs)
	if len(families) != 3 {
		t.Fatalf("expected 3 families, got %d", len(families))
	}

	// Family ids ascend: dd < t1 < t2 lexically? No: "dd" < "t1" < "t2".
	ids := []string{families[0].ID, families[1].ID, families[2].ID}
	if diff := cmp.Diff([]string{"dd", "t1", "t2"}, ids); diff != "" {
		t.Errorf("family order mismatch (-want +got):\n%s", diff)
	}

	// Members inside t1 follow canonical order.
	t1 := families[1]
	if t1.Members[0].SHA256 != "aa" || t1.Members[1].SHA256 != "bb" {
		t.Error("family members not in canonical order")
	}
}

func TestFamilyIDFallbackChain(t *testing.T) {
	d := doc("hash", "/x", map[string]string{"conversation_id": "c9"})
	if got := d.FamilyID(); got != "c9" {
		t.Errorf("FamilyID = %s, want c9", got)
	}
	d = doc("hash", "/x", nil)
	if got := d.FamilyID(); got != "hash" {
		t.Errorf("FamilyID = %s, want hash", got)
	}
}

func TestDuplicateHashes(t *testing.T) {
	docs := []types.DocumentRecord{
		doc("aa", "/1", nil),
		doc("aa", "/2", nil),
		doc("bb", "/3", nil),
	}
	dupes := DuplicateHashes(docs)
	if diff := cmp.Diff([]string{"aa"}, dupes); diff != "" {
		t.Errorf("duplicates mismatch (-want +got):\n%s", diff)
	}
}

func TestLatestMtime(t *testing.T) {
	docs := []types.DocumentRecord{
		{Mtime: "2025-01-01T00:00:00Z"},
		{Mtime: "2025-06-01T00:00:00Z"},
		{Mtime: "2024-12-31T00:00:00Z"},
	}
	if got := LatestMtime(docs); got != "2025-06-01T00:00:00Z" {
		t.Errorf("LatestMtime = %s", got)
	}
	if got := LatestMtime(nil); got != "" {
		t.Errorf("LatestMtime(nil) = %q, want empty", got)
	}
}
