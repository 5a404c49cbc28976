package ingest

import (
	"rexlit/internal/deterministic"
	"rexlit/internal/logging"
	"rexlit/internal/types"
)

// HashDeduper deduplicates documents by SHA-256 while preserving the
// canonical ordering, so the survivor of each hash is stable across runs.
type HashDeduper struct{}

// Dedupe returns the first record for each unique hash after canonical
// ordering. Identical content under different paths collapses to the
// lexically-first path.
func (HashDeduper) Dedupe(documents []types.DocumentRecord) []types.DocumentRecord {
	ordered := deterministic.OrderDocuments(documents)

	seen := make(map[string]bool, len(ordered))
	unique := make([]types.DocumentRecord, 0, len(ordered))
	for _, doc := range ordered {
		if seen[doc.SHA256] {
			continue
		}
		seen[doc.SHA256] = true
		unique = append(unique, doc)
	}

	if dropped := len(ordered) - len(unique); dropped > 0 {
		logging.Ingest("dedupe dropped %d duplicate documents", dropped)
	}
	return unique
}
