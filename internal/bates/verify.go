package bates

import (
	"fmt"
	"os"

	"rexlit/internal/hashing"
	"rexlit/internal/jsonl"
)

// VerifyRegistry re-checks a Bates plan file on disk: required fields,
// duplicate labels or hashes, missing files, and hash drift since planning.
// Returns true with an empty error list only when the registry is intact.
func VerifyRegistry(planPath string) (bool, []string) {
	var errs []string

	if _, err := os.Stat(planPath); err != nil {
		return false, []string{fmt.Sprintf("Bates plan file not found: %s", planPath)}
	}

	records, err := jsonl.ReadJSONL(planPath)
	if err != nil {
		return false, []string{fmt.Sprintf("failed to read plan file: %v", err)}
	}

	seenLabels := make(map[string]bool)
	seenHashes := make(map[string]bool)
	count := 0

	for i, record := range records {
		line := i + 1
		batesID, _ := record["bates_id"].(string)
		sha, _ := record["sha256"].(string)
		document, _ := record["document"].(string)

		if batesID == "" {
			errs = append(errs, fmt.Sprintf("line %d: missing 'bates_id' field", line))
			continue
		}
		if sha == "" {
			errs = append(errs, fmt.Sprintf("line %d: missing 'sha256' field", line))
			continue
		}
		if document == "" {
			errs = append(errs, fmt.Sprintf("line %d: missing 'document' field", line))
			continue
		}
		count++

		if seenLabels[batesID] {
			errs = append(errs, fmt.Sprintf("line %d: duplicate Bates ID %q", line, batesID))
		}
		seenLabels[batesID] = true

		if seenHashes[sha] {
			errs = append(errs, fmt.Sprintf("line %d: duplicate SHA-256 %q", line, sha))
		}
		seenHashes[sha] = true

		if _, err := os.Stat(document); err != nil {
			errs = append(errs, fmt.Sprintf("line %d: file not found - %s (Bates: %s)", line, document, batesID))
			continue
		}
		actual, err := hashing.SHA256File(document)
		if err != nil {
			errs = append(errs, fmt.Sprintf("line %d: cannot read %s - %v", line, document, err))
			continue
		}
		if actual != sha {
			errs = append(errs, fmt.Sprintf("line %d: hash mismatch for %s (expected %.12s..., got %.12s...)",
				line, document, sha, actual))
		}
	}

	if count == 0 {
		errs = append(errs, "Bates plan file is empty")
	}
	return len(errs) == 0, errs
}
