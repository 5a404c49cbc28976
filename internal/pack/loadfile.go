package pack

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rexlit/internal/jsonl"
	"rexlit/internal/rexerr"
)

// datHeader is the standard e-discovery DAT field set, pipe-delimited.
var datHeader = []string{
	"DOCID", "BEGDOC", "ENDDOC", "CUSTODIAN", "DOCTYPE",
	"FILEPATH", "FILEEXT", "FILESIZE", "DATEMODIFIED", "SHA256",
}

// escapeDAT escapes pipe delimiters inside values.
func escapeDAT(value string) string {
	return strings.ReplaceAll(value, "|", `\|`)
}

// ExportLoadFile renders a pack's metadata as a load file. Supported
// formats: "dat" and "opticon"; anything else is InvalidFormat, and formats
// recognized but not yet rendered are NotImplemented.
func (s *Service) ExportLoadFile(packPath, outputPath, format string) (string, error) {
	normalized := strings.ToLower(format)
	switch normalized {
	case "dat", "opticon":
	case "lfp":
		return "", rexerr.New(rexerr.NotImplemented, format, "load file format not yet implemented")
	default:
		return "", rexerr.New(rexerr.InvalidFormat, format, "unsupported load file format (use dat or opticon)")
	}

	metadataPath := filepath.Join(packPath, "metadata", "documents.jsonl")
	records, err := jsonl.ReadJSONL(metadataPath)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", rexerr.New(rexerr.SchemaValidation, metadataPath, "pack metadata is empty")
	}

	var content string
	if normalized == "dat" {
		content = renderDAT(records)
	} else {
		content = renderOpticonFromMetadata(records)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", rexerr.Wrap(rexerr.IOWriteFailed, outputPath, err, "create load file directory")
	}
	if err := os.WriteFile(outputPath, []byte(content), 0o644); err != nil {
		return "", rexerr.Wrap(rexerr.IOWriteFailed, outputPath, err, "write load file")
	}

	if s.ledger != nil {
		if _, err := s.ledger.Append("load_file_export",
			[]string{packPath},
			[]string{outputPath},
			map[string]interface{}{"format": normalized, "record_count": len(records)}, nil); err != nil {
			return "", err
		}
	}
	return outputPath, nil
}

func renderDAT(records []map[string]interface{}) string {
	fieldKeys := []string{
		"sha256", "sha256", "sha256", "custodian", "doctype",
		"path", "extension", "size", "mtime", "sha256",
	}

	lines := []string{strings.Join(datHeader, "|")}
	for _, record := range records {
		values := make([]string, len(fieldKeys))
		for i, key := range fieldKeys {
			values[i] = escapeDAT(stringify(record[key]))
		}
		lines = append(lines, strings.Join(values, "|"))
	}
	return strings.Join(lines, "\n") + "\n"
}

// renderOpticonFromMetadata emits the 6-line Opticon record per document:
// IMAGE, label, relative path, Y, page count, blank separator.
func renderOpticonFromMetadata(records []map[string]interface{}) string {
	var lines []string
	for _, record := range records {
		label := stringify(record["bates_id"])
		if label == "" {
			label = stringify(record["sha256"])
		}
		lines = append(lines,
			"IMAGE",
			label,
			filepath.Base(stringify(record["path"])),
			"Y",
			stringify(record["page_count"]),
			"",
		)
	}
	return strings.Join(lines, "\n") + "\n"
}

// CreateProduction renders a production load file from a stamped directory.
// The directory must contain bates_manifest.jsonl; when a prefix is given,
// every record's labels are validated against it.
func (s *Service) CreateProduction(stampedDir, name, format, batesPrefix string) (string, error) {
	sourceDir, err := filepath.Abs(stampedDir)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(sourceDir); err != nil || !info.IsDir() {
		return "", rexerr.New(rexerr.NotFound, stampedDir, "stamped directory not found")
	}

	manifestPath := filepath.Join(sourceDir, "bates_manifest.jsonl")
	records, err := jsonl.ReadJSONL(manifestPath)
	if err != nil {
		if rexerr.IsKind(err, rexerr.NotFound) {
			return "", rexerr.New(rexerr.NotFound, manifestPath, "Bates stamping manifest not found")
		}
		return "", err
	}
	if len(records) == 0 {
		return "", rexerr.New(rexerr.SchemaValidation, manifestPath, "Bates manifest is empty")
	}

	if batesPrefix != "" {
		for _, record := range records {
			if !strings.HasPrefix(stringify(record["start_label"]), batesPrefix) {
				return "", rexerr.New(rexerr.SchemaValidation, manifestPath,
					"Bates manifest contains labels that do not match prefix %q", batesPrefix)
			}
		}
	}

	normalized := strings.ToLower(format)
	if normalized != "dat" && normalized != "opticon" {
		return "", rexerr.New(rexerr.InvalidFormat, format, "unsupported production format (use dat or opticon)")
	}

	sort.Slice(records, func(i, j int) bool {
		return stringify(records[i]["start_label"]) < stringify(records[j]["start_label"])
	})

	outputDir := filepath.Join(sourceDir, "production", name)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", rexerr.Wrap(rexerr.IOWriteFailed, outputDir, err, "create production directory")
	}

	var outputPath, content string
	if normalized == "dat" {
		outputPath = filepath.Join(outputDir, name+".dat")
		content = renderProductionDAT(records, sourceDir)
	} else {
		outputPath = filepath.Join(outputDir, name+".opt")
		content = renderProductionOpticon(records, sourceDir)
	}

	if err := os.WriteFile(outputPath, []byte(content), 0o644); err != nil {
		return "", rexerr.Wrap(rexerr.IOWriteFailed, outputPath, err, "write production load file")
	}

	if s.ledger != nil {
		if _, err := s.ledger.Append("production_create",
			[]string{sourceDir},
			[]string{outputPath},
			map[string]interface{}{
				"format":       normalized,
				"record_count": len(records),
				"name":         name,
			}, nil); err != nil {
			return "", err
		}
	}
	return outputPath, nil
}

func renderProductionDAT(records []map[string]interface{}, baseDir string) string {
	header := []string{"DOCID", "BEGDOC", "ENDDOC", "PAGECOUNT", "FILEPATH", "SHA256"}
	lines := []string{strings.Join(header, "|")}

	for _, record := range records {
		startLabel := stringify(record["start_label"])
		endLabel := stringify(record["end_label"])
		if endLabel == "" {
			endLabel = startLabel
		}
		fields := []string{
			startLabel,
			startLabel,
			endLabel,
			stringify(record["pages_stamped"]),
			escapeDAT(relativeTo(baseDir, stringify(record["output_path"]))),
			stringify(record["output_sha256"]),
		}
		lines = append(lines, strings.Join(fields, "|"))
	}
	return strings.Join(lines, "\n") + "\n"
}

func renderProductionOpticon(records []map[string]interface{}, baseDir string) string {
	var lines []string
	for _, record := range records {
		lines = append(lines,
			"IMAGE",
			stringify(record["start_label"]),
			relativeTo(baseDir, stringify(record["output_path"])),
			"Y",
			stringify(record["pages_stamped"]),
			"",
		)
	}
	return strings.Join(lines, "\n") + "\n"
}

func relativeTo(baseDir, path string) string {
	if rel, err := filepath.Rel(baseDir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return filepath.Base(path)
}

func stringify(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	default:
		return fmt.Sprintf("%v", value)
	}
}
