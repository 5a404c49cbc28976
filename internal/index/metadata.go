package index

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"rexlit/internal/logging"
)

// cacheFileName is the sidecar persisted next to the index.
const cacheFileName = ".metadata_cache.json"

// MetadataCache answers custodian/doctype/count queries in O(1) instead of
// scanning the index. It is owned by the writer during build and persisted
// at commit; readers only ever load the JSON sidecar.
type MetadataCache struct {
	indexDir   string
	custodians []string // sorted unique
	doctypes   []string // sorted unique, "unknown" excluded
	docCount   int
}

type cachePayload struct {
	Custodians []string `json:"custodians"`
	Doctypes   []string `json:"doctypes"`
	DocCount   int      `json:"doc_count"`
}

// LoadMetadataCache loads the sidecar, rebuilding from an empty baseline if
// the file is missing or corrupt. A corrupt file is preserved with a
// .corrupt suffix before being replaced.
func LoadMetadataCache(indexDir string) *MetadataCache {
	c := &MetadataCache{indexDir: indexDir}
	path := c.cachePath()

	data, err := os.ReadFile(path)
	if err != nil {
		return c
	}

	var payload cachePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		logging.Get(logging.CategoryIndex).Warn("metadata cache %s corrupted (%v); rebuilding", path, err)
		backup := path + ".corrupt"
		os.Remove(backup)
		if err := os.Rename(path, backup); err != nil {
			logging.IndexDebug("failed to back up corrupted cache: %v", err)
		}
		return c
	}

	c.custodians = dedupeSorted(payload.Custodians)
	c.doctypes = dedupeSorted(payload.Doctypes)
	c.docCount = payload.DocCount
	return c
}

func dedupeSorted(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (c *MetadataCache) cachePath() string {
	return filepath.Join(c.indexDir, cacheFileName)
}

// Reset clears the cache (index rebuild).
func (c *MetadataCache) Reset() {
	c.custodians = nil
	c.doctypes = nil
	c.docCount = 0
}

// Update records one indexed document's metadata. Custodians and doctypes
// stay sorted and deduped on insert; "unknown" doctype is excluded.
func (c *MetadataCache) Update(custodian, doctype string) {
	if custodian != "" {
		c.custodians = insertSorted(c.custodians, custodian)
	}
	if doctype != "" && doctype != "unknown" {
		c.doctypes = insertSorted(c.doctypes, doctype)
	}
	c.docCount++
}

func insertSorted(values []string, v string) []string {
	i := sort.SearchStrings(values, v)
	if i < len(values) && values[i] == v {
		return values
	}
	values = append(values, "")
	copy(values[i+1:], values[i:])
	values[i] = v
	return values
}

// Save persists the cache atomically as JSON.
func (c *MetadataCache) Save() error {
	payload := cachePayload{
		Custodians: c.custodians,
		Doctypes:   c.doctypes,
		DocCount:   c.docCount,
	}
	if payload.Custodians == nil {
		payload.Custodians = []string{}
	}
	if payload.Doctypes == nil {
		payload.Doctypes = []string{}
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}

	path := c.cachePath()
	tmp, err := os.CreateTemp(c.indexDir, cacheFileName+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// Custodians returns the sorted unique custodian names.
func (c *MetadataCache) Custodians() []string {
	return append([]string(nil), c.custodians...)
}

// Doctypes returns the sorted unique doctypes, "unknown" excluded.
func (c *MetadataCache) Doctypes() []string {
	return append([]string(nil), c.doctypes...)
}

// DocCount returns the number of successfully indexed documents.
func (c *MetadataCache) DocCount() int { return c.docCount }
