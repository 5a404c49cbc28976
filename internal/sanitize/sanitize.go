// Package sanitize exports redacted "safe" manifests suitable for sharing
// outside the review team: paths omitted, custodians redacted, emails
// masked.
package sanitize

import (
	"path/filepath"
	"regexp"
	"strings"

	"rexlit/internal/jsonl"
	"rexlit/internal/rexerr"
	"rexlit/internal/schema"
)

// emailPattern matches email addresses for masking.
var emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

// EmailMask replaces matched addresses.
const EmailMask = "[REDACTED_EMAIL]"

// keptFields is the whitelist carried into the safe manifest.
var keptFields = []string{"sha256", "size", "mime_type", "extension", "doctype", "produced_at", "producer"}

// MaskEmails replaces every email address in text.
func MaskEmails(text string) string {
	return emailPattern.ReplaceAllString(text, EmailMask)
}

// ExportSafeManifest reads a manifest JSONL and writes a sanitized copy:
// whitelisted fields only, custodian forced to "REDACTED", path omitted,
// emails masked in string fields when maskEmails is set. The destination
// must reside under the source manifest's directory.
func ExportSafeManifest(source, dest string, maskEmails bool) (int, error) {
	records, err := jsonl.ReadJSONL(source)
	if err != nil {
		return 0, err
	}

	allowedRoot, err := filepath.Abs(filepath.Dir(source))
	if err != nil {
		return 0, err
	}
	destAbs, err := filepath.Abs(dest)
	if err != nil {
		return 0, err
	}
	if rel, err := filepath.Rel(allowedRoot, destAbs); err != nil || strings.HasPrefix(rel, "..") {
		return 0, rexerr.New(rexerr.PathTraversal, dest,
			"safe manifest must reside within %s", allowedRoot)
	}

	safeRecords := make([]interface{}, 0, len(records))
	for _, record := range records {
		safe := make(map[string]interface{}, len(keptFields)+1)
		for _, field := range keptFields {
			if v, ok := record[field]; ok {
				safe[field] = v
			}
		}
		safe["custodian"] = "REDACTED"

		if maskEmails {
			for k, v := range safe {
				if s, ok := v.(string); ok {
					safe[k] = MaskEmails(s)
				}
			}
		}
		safeRecords = append(safeRecords, safe)
	}

	stamp := schema.NewStamp("safe_manifest", 1)
	if err := jsonl.AtomicWriteJSONL(destAbs, safeRecords, stamp.Transform()); err != nil {
		return 0, err
	}
	return len(safeRecords), nil
}
