// Package pack builds production bundles: copied artifacts keyed by hash, a
// documents.jsonl metadata artifact, a manifest.json, and DAT/Opticon load
// files for e-discovery interchange.
package pack

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"rexlit/internal/audit"
	"rexlit/internal/deterministic"
	"rexlit/internal/hashing"
	"rexlit/internal/ingest"
	"rexlit/internal/jsonl"
	"rexlit/internal/logging"
	"rexlit/internal/rexerr"
	"rexlit/internal/schema"
)

// Manifest is the pack-level manifest.json.
type Manifest struct {
	PackID         string   `json:"pack_id"`
	CreatedAt      string   `json:"created_at"`
	DocumentCount  int      `json:"document_count"`
	TotalPages     int      `json:"total_pages"`
	BatesRange     string   `json:"bates_range,omitempty"`
	RedactionCount int      `json:"redaction_count"`
	Artifacts      []string `json:"artifacts"`
}

// Options selects which artifact classes a pack includes.
type Options struct {
	IncludeNatives  bool
	IncludeText     bool
	IncludeMetadata bool
}

// Service orchestrates pack creation and validation.
type Service struct {
	ledger *audit.Ledger // optional
}

// NewService builds the pack service.
func NewService(ledger *audit.Ledger) *Service {
	return &Service{ledger: ledger}
}

// CreatePack copies documents from inputPath into a pack structure at
// outputPath and writes the manifest. Artifacts are keyed by sha256 and
// listed sorted for determinism.
func (s *Service) CreatePack(inputPath, outputPath string, opts Options) (*Manifest, error) {
	timer := logging.StartTimer(logging.CategoryPack, "CreatePack")
	defer timer.Stop()

	discovered, err := ingest.Discover(inputPath, ingest.Options{Recursive: true})
	if err != nil {
		return nil, err
	}
	documents := deterministic.OrderDocuments(discovered)

	if err := os.MkdirAll(outputPath, 0o755); err != nil {
		return nil, rexerr.Wrap(rexerr.IOWriteFailed, outputPath, err, "create pack directory")
	}
	nativesDir := filepath.Join(outputPath, "natives")
	textDir := filepath.Join(outputPath, "text")
	metadataDir := filepath.Join(outputPath, "metadata")
	for dir, wanted := range map[string]bool{
		nativesDir:  opts.IncludeNatives,
		textDir:     opts.IncludeText,
		metadataDir: opts.IncludeMetadata,
	} {
		if wanted {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, rexerr.Wrap(rexerr.IOWriteFailed, dir, err, "create pack subdirectory")
			}
		}
	}

	var artifacts []string
	totalPages := 0
	redactionCount := 0
	metadataRecords := make([]interface{}, 0, len(documents))

	for _, doc := range documents {
		if opts.IncludeNatives {
			dest := filepath.Join(nativesDir, doc.SHA256+doc.Extension)
			if err := copyFile(doc.Path, dest); err != nil {
				logging.Get(logging.CategoryPack).Warn("failed to copy native %s: %v", doc.Path, err)
			} else {
				rel, _ := filepath.Rel(outputPath, dest)
				artifacts = append(artifacts, rel)
			}
		}

		if opts.IncludeText {
			// Sidecar .txt files produced by extraction travel with natives.
			textFile := strings.TrimSuffix(doc.Path, doc.Extension) + ".txt"
			if doc.Extension != ".txt" {
				if _, err := os.Stat(textFile); err == nil {
					dest := filepath.Join(textDir, doc.SHA256+".txt")
					if err := copyFile(textFile, dest); err == nil {
						rel, _ := filepath.Rel(outputPath, dest)
						artifacts = append(artifacts, rel)
					}
				}
			}
		}

		if doc.Doctype == "pdf" {
			// Page counts need the renderer; estimate from size until the
			// stamped manifest supplies real counts.
			pages := int(doc.Size / 50000)
			if pages < 1 {
				pages = 1
			}
			totalPages += pages
		}

		if _, err := os.Stat(doc.Path + ".redaction-plan.enc"); err == nil {
			redactionCount++
		}

		metadataRecords = append(metadataRecords, doc)
	}

	if opts.IncludeMetadata && len(metadataRecords) > 0 {
		metadataJSONL := filepath.Join(metadataDir, "documents.jsonl")
		stamp := schema.NewStamp("pack_documents", 1)
		if err := jsonl.AtomicWriteJSONL(metadataJSONL, metadataRecords, stamp.Transform()); err != nil {
			return nil, err
		}
		rel, _ := filepath.Rel(outputPath, metadataJSONL)
		artifacts = append(artifacts, rel)
	}

	sort.Strings(artifacts)

	manifest := &Manifest{
		PackID:         "pack_" + uuid.NewString(),
		CreatedAt:      time.Now().UTC().Format(time.RFC3339Nano),
		DocumentCount:  len(documents),
		TotalPages:     totalPages,
		BatesRange:     batesRangeHint(inputPath),
		RedactionCount: redactionCount,
		Artifacts:      artifacts,
	}

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(outputPath, "manifest.json"), manifestJSON, 0o644); err != nil {
		return nil, rexerr.Wrap(rexerr.IOWriteFailed, outputPath, err, "write pack manifest")
	}

	if s.ledger != nil {
		if _, err := s.ledger.Append("pack_create",
			[]string{inputPath},
			[]string{outputPath},
			map[string]interface{}{
				"pack_id":        manifest.PackID,
				"document_count": manifest.DocumentCount,
			}, nil); err != nil {
			return nil, err
		}
	}

	logging.Pack("created pack %s with %d documents", manifest.PackID, manifest.DocumentCount)
	return manifest, nil
}

// batesRangeHint reads first/last labels from a sibling bates plan.
func batesRangeHint(inputPath string) string {
	planPath := filepath.Join(inputPath, "bates_plan.jsonl")
	records, err := jsonl.ReadJSONL(planPath)
	if err != nil || len(records) == 0 {
		return ""
	}
	first, _ := records[0]["bates_id"].(string)
	last, _ := records[len(records)-1]["bates_id"].(string)
	if first == "" || last == "" {
		return ""
	}
	return first + "-" + last
}

// ValidatePack verifies every artifact in the manifest exists and is
// hashable. The result is always audit-logged.
func (s *Service) ValidatePack(packPath string) (bool, error) {
	var failures []string
	valid := false
	packID := ""

	manifestPath := filepath.Join(packPath, "manifest.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		failures = append(failures, "manifest file not found")
	} else {
		var manifest Manifest
		if err := json.Unmarshal(data, &manifest); err != nil {
			failures = append(failures, fmt.Sprintf("manifest unparsable: %v", err))
		} else {
			packID = manifest.PackID
			for _, rel := range manifest.Artifacts {
				artifactPath := filepath.Join(packPath, rel)
				if _, err := os.Stat(artifactPath); err != nil {
					failures = append(failures, "missing artifact: "+rel)
					continue
				}
				if _, err := hashing.SHA256File(artifactPath); err != nil {
					failures = append(failures, fmt.Sprintf("cannot hash %s: %v", rel, err))
				}
			}
			valid = len(failures) == 0
		}
	}

	if s.ledger != nil {
		args := map[string]interface{}{"pack_id": packID}
		if valid {
			args["status"] = "valid"
		} else {
			args["status"] = "failed"
			args["failures"] = failures
		}
		if _, err := s.ledger.Append("pack_validate", []string{packPath}, nil, args, nil); err != nil {
			return false, err
		}
	}
	return valid, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
