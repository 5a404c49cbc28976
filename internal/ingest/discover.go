// Package ingest discovers documents under an evidence root and streams
// DocumentRecords to the rest of the pipeline. Discovery is the only
// component that produces records; everything downstream holds read-only
// references.
package ingest

import (
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"rexlit/internal/hashing"
	"rexlit/internal/logging"
	"rexlit/internal/rexerr"
	"rexlit/internal/types"
)

// custodianMarkers are path segments whose following segment names the
// custodian, e.g. .../custodians/jane_smith/mail/msg1.eml.
var custodianMarkers = map[string]bool{
	"custodians": true,
	"users":      true,
	"custodian":  true,
	"user":       true,
}

// doctypeByMIMEPrefix classifies by MIME first; extension is the fallback.
var doctypeByMIMEPrefix = []struct {
	prefix  string
	doctype string
}{
	{"application/pdf", "pdf"},
	{"application/vnd.openxmlformats-officedocument.wordprocessing", "docx"},
	{"application/msword", "doc"},
	{"text/", "text"},
	{"image/", "image"},
	{"message/", "email"},
}

var doctypeByExtension = map[string]string{
	".pdf":  "pdf",
	".docx": "docx",
	".doc":  "doc",
	".txt":  "text",
	".md":   "text",
	".png":  "image",
	".jpg":  "image",
	".jpeg": "image",
	".tiff": "image",
	".msg":  "email",
	".eml":  "email",
	".pst":  "email_archive",
}

// Options controls a discovery walk.
type Options struct {
	Recursive         bool
	IncludeExtensions map[string]bool // lowercased with dot; nil means all
	ExcludeExtensions map[string]bool
}

// DetectMIME resolves a MIME type from the file extension.
func DetectMIME(path string) string {
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return mt
}

// ClassifyDoctype maps MIME type then extension to a doctype label.
func ClassifyDoctype(mimeType, extension string) string {
	for _, entry := range doctypeByMIMEPrefix {
		if mimeType != "" && strings.HasPrefix(mimeType, entry.prefix) {
			return entry.doctype
		}
	}
	return doctypeByExtension[strings.ToLower(extension)]
}

// ExtractCustodian pulls the custodian name out of the path structure.
func ExtractCustodian(path string) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	for i, part := range parts {
		if custodianMarkers[strings.ToLower(part)] && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

// DiscoverDocument builds the record for a single file.
func DiscoverDocument(path string) (types.DocumentRecord, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return types.DocumentRecord{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return types.DocumentRecord{}, rexerr.Wrap(rexerr.NotFound, path, err, "file not found")
		}
		return types.DocumentRecord{}, err
	}
	if info.IsDir() {
		return types.DocumentRecord{}, rexerr.New(rexerr.NotFound, path, "not a file")
	}

	sha, err := hashing.SHA256File(abs)
	if err != nil {
		return types.DocumentRecord{}, err
	}

	ext := strings.ToLower(filepath.Ext(abs))
	mimeType := DetectMIME(abs)

	return types.DocumentRecord{
		Path:      abs,
		SHA256:    sha,
		Size:      info.Size(),
		MimeType:  mimeType,
		Extension: ext,
		Mtime:     info.ModTime().UTC().Format(time.RFC3339),
		Custodian: ExtractCustodian(abs),
		Doctype:   ClassifyDoctype(mimeType, ext),
	}, nil
}

// Discover walks root and returns records for every readable file, in
// walk order. Symlinked entries whose target escapes root are silently
// dropped; unreadable files are skipped with a warning.
func Discover(root string, opts Options) ([]types.DocumentRecord, error) {
	timer := logging.StartTimer(logging.CategoryIngest, "Discover")
	defer timer.Stop()

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, rexerr.Wrap(rexerr.NotFound, root, err, "discovery root not found")
		}
		return nil, err
	}

	// Single-file root short-circuits the walk.
	if !info.IsDir() {
		record, err := DiscoverDocument(absRoot)
		if err != nil {
			return nil, err
		}
		return []types.DocumentRecord{record}, nil
	}

	var paths []string
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.Get(logging.CategoryIngest).Warn("skipping %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			if !opts.Recursive && path != absRoot {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			// Follow only links whose target stays inside the root.
			target, err := filepath.EvalSymlinks(path)
			if err != nil || !withinRoot(absRoot, target) {
				logging.IngestDebug("dropping symlink escaping root: %s", path)
				return nil
			}
			ti, err := os.Stat(target)
			if err != nil || ti.IsDir() {
				return nil
			}
		}
		paths = append(paths, path)
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	sort.Strings(paths)

	records := make([]types.DocumentRecord, 0, len(paths))
	for _, path := range paths {
		ext := strings.ToLower(filepath.Ext(path))
		if opts.IncludeExtensions != nil && !opts.IncludeExtensions[ext] {
			continue
		}
		if opts.ExcludeExtensions != nil && opts.ExcludeExtensions[ext] {
			continue
		}
		record, err := DiscoverDocument(path)
		if err != nil {
			logging.Get(logging.CategoryIngest).Warn("skipping %s: %v", path, err)
			continue
		}
		records = append(records, record)
	}

	logging.Ingest("discovered %d documents under %s", len(records), absRoot)
	return records, nil
}

func withinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
