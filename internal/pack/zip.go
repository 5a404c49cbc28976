package pack

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rexlit/internal/rexerr"
)

// ZipPackager archives an artifact directory into a .rexpack.zip. Entries
// are added in sorted path order with fixed timestamps so identical inputs
// produce identical archives.
type ZipPackager struct {
	// Destination overrides the default <dir>.rexpack.zip output.
	Destination string
}

// Pack archives sourceDir and returns the archive path.
func (z ZipPackager) Pack(sourceDir string) (string, error) {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return "", rexerr.Wrap(rexerr.NotFound, sourceDir, err, "pack source directory not found")
	}
	if !info.IsDir() {
		return "", rexerr.New(rexerr.InvalidFormat, sourceDir, "pack source must be a directory")
	}

	dest := z.Destination
	if dest == "" {
		dest = strings.TrimSuffix(sourceDir, string(filepath.Separator)) + ".rexpack.zip"
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", rexerr.Wrap(rexerr.IOWriteFailed, dest, err, "create archive directory")
	}

	var files []string
	err = filepath.WalkDir(sourceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(files)

	out, err := os.Create(dest)
	if err != nil {
		return "", rexerr.Wrap(rexerr.IOWriteFailed, dest, err, "create archive")
	}
	defer out.Close()

	archive := zip.NewWriter(out)
	for _, path := range files {
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return "", err
		}
		// Fixed header (no mtime) keeps archive bytes deterministic.
		w, err := archive.CreateHeader(&zip.FileHeader{
			Name:   filepath.ToSlash(rel),
			Method: zip.Deflate,
		})
		if err != nil {
			return "", err
		}
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(w, f); err != nil {
			f.Close()
			return "", rexerr.Wrap(rexerr.IOWriteFailed, dest, err, "archive %s", rel)
		}
		f.Close()
	}
	if err := archive.Close(); err != nil {
		return "", rexerr.Wrap(rexerr.IOWriteFailed, dest, err, "finalize archive")
	}
	if err := out.Sync(); err != nil {
		return "", rexerr.Wrap(rexerr.IOWriteFailed, dest, err, "fsync archive")
	}
	return dest, nil
}
