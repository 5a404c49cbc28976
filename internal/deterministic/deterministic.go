// Package deterministic provides the canonical ordering used everywhere an
// artifact's byte layout must be reproducible across runs: sort by
// (sha256, path) ascending, with families grouped by ascending family id.
package deterministic

import (
	"sort"

	"rexlit/internal/types"
)

// SortKey returns the canonical (sha256, path) key for a document.
func SortKey(d types.DocumentRecord) (string, string) {
	return d.SHA256, d.Path
}

// OrderDocuments returns documents sorted canonically. The input slice is
// not modified.
func OrderDocuments(documents []types.DocumentRecord) []types.DocumentRecord {
	out := append([]types.DocumentRecord(nil), documents...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SHA256 != out[j].SHA256 {
			return out[i].SHA256 < out[j].SHA256
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// Family is one group of documents sharing a family key, members in
// canonical order.
type Family struct {
	ID      string
	Members []types.DocumentRecord
}

// GroupFamilies partitions documents by family key and returns families in
// ascending family-id order, each family's members ordered canonically.
func GroupFamilies(documents []types.DocumentRecord) []Family {
	byID := make(map[string][]types.DocumentRecord)
	for _, d := range documents {
		id := d.FamilyID()
		byID[id] = append(byID[id], d)
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	families := make([]Family, 0, len(ids))
	for _, id := range ids {
		families = append(families, Family{ID: id, Members: OrderDocuments(byID[id])})
	}
	return families
}

// LatestMtime returns the maximum mtime across documents. Artifact stamps
// use it as produced_at so re-running over an unchanged tree yields
// byte-identical output.
func LatestMtime(documents []types.DocumentRecord) string {
	latest := ""
	for _, d := range documents {
		if d.Mtime > latest {
			latest = d.Mtime
		}
	}
	return latest
}

// DuplicateHashes returns the set of sha256 values appearing more than once.
func DuplicateHashes(documents []types.DocumentRecord) []string {
	seen := make(map[string]bool)
	dupes := make(map[string]bool)
	for _, d := range documents {
		if seen[d.SHA256] {
			dupes[d.SHA256] = true
		}
		seen[d.SHA256] = true
	}
	out := make([]string, 0, len(dupes))
	for h := range dupes {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
