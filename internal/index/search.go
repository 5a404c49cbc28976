package index

import (
	"fmt"
	"strings"

	"rexlit/internal/logging"
	"rexlit/internal/rexerr"
)

// snippetWindow is the approximate snippet length around the first match.
const snippetWindow = 200

// SearchResult is one hit from lexical, dense, or hybrid search.
type SearchResult struct {
	Path         string   `json:"path"`
	SHA256       string   `json:"sha256"`
	Custodian    string   `json:"custodian,omitempty"`
	Doctype      string   `json:"doctype,omitempty"`
	Score        float64  `json:"score"`
	LexicalScore *float64 `json:"lexical_score,omitempty"`
	DenseScore   *float64 `json:"dense_score,omitempty"`
	Strategy     string   `json:"strategy"`
	Snippet      string   `json:"snippet,omitempty"`
	Metadata     string   `json:"metadata,omitempty"`
}

// Search runs a lexical full-text query over [body, path, custodian] and
// returns the top-k results with stored fields and a snippet.
func (s *Store) Search(query string, limit int) ([]SearchResult, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "Search")
	defer timer.Stop()

	if strings.TrimSpace(query) == "" {
		return nil, rexerr.New(rexerr.InvalidFormat, query, "query cannot be empty")
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(
		`SELECT d.path, d.sha256, d.custodian, d.doctype, d.metadata, d.body,
		        bm25(search_fts) AS rank
		 FROM search_fts
		 JOIN search_docs d ON d.id = search_fts.rowid
		 WHERE search_fts MATCH ?
		 ORDER BY rank
		 LIMIT ?`,
		ftsQuery(query), limit,
	)
	if err != nil {
		return nil, rexerr.Wrap(rexerr.InvalidFormat, query, err, "invalid query syntax")
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var body string
		var rank float64
		if err := rows.Scan(&r.Path, &r.SHA256, &r.Custodian, &r.Doctype, &r.Metadata, &body, &rank); err != nil {
			return nil, err
		}
		// bm25 returns lower-is-better; expose higher-is-better.
		score := -rank
		r.Score = score
		r.LexicalScore = &score
		r.Strategy = "lexical"
		r.Snippet = makeSnippet(body, query)
		results = append(results, r)
	}
	return results, rows.Err()
}

// ftsQuery quotes each term so user input never hits FTS5 syntax errors.
func ftsQuery(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

// makeSnippet derives a ~200-char window around the first case-insensitive
// match of any query term, with ellipses at clipped edges. Falls back to
// the document start when nothing matches.
func makeSnippet(body, query string) string {
	if body == "" {
		return ""
	}

	lower := strings.ToLower(body)
	pos := -1
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if i := strings.Index(lower, term); i >= 0 && (pos < 0 || i < pos) {
			pos = i
		}
	}
	if pos < 0 {
		pos = 0
	}

	start := pos - snippetWindow/2
	if start < 0 {
		start = 0
	}
	end := start + snippetWindow
	if end > len(body) {
		end = len(body)
		if start = end - snippetWindow; start < 0 {
			start = 0
		}
	}

	snippet := strings.TrimSpace(body[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(body) {
		snippet += "..."
	}
	return snippet
}

// SearchByHash returns the stored document row for an exact sha256.
func (s *Store) SearchByHash(sha256 string) (*SearchResult, error) {
	row := s.db.QueryRow(
		`SELECT path, sha256, custodian, doctype, metadata FROM search_docs WHERE sha256 = ? LIMIT 1`,
		sha256,
	)
	var r SearchResult
	if err := row.Scan(&r.Path, &r.SHA256, &r.Custodian, &r.Doctype, &r.Metadata); err != nil {
		return nil, fmt.Errorf("search by hash: %w", err)
	}
	r.Strategy = "lexical"
	return &r, nil
}
