// Package hashing provides deterministic content hashing for files and
// records. Every artifact in RexLit is content-addressed by SHA-256.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// chunkSize is the read granularity for file hashing.
const chunkSize = 64 * 1024

// SHA256 computes the hex-encoded SHA-256 of content.
func SHA256(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// SHA256String computes the hex-encoded SHA-256 of a string.
func SHA256String(content string) string {
	return SHA256([]byte(content))
}

// SHA256File computes the hex-encoded SHA-256 of a file, reading in 64 KiB
// chunks so large evidence files never load fully into memory.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ComputeInputHash computes a deterministic hash over a set of input
// identifiers. Inputs are sorted and newline-joined before hashing; used for
// plan_id generation so reproducibility does not depend on argument order.
func ComputeInputHash(inputs []string) string {
	sorted := append([]string(nil), inputs...)
	sort.Strings(sorted)
	return SHA256String(strings.Join(sorted, "\n"))
}

// IsHexDigest reports whether s is a 64-character lowercase hex digest.
func IsHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
