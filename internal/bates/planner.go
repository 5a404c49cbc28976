// Package bates assigns sequential Bates labels to documents and persists
// the plan. All integrity checks run before any write: there is never a
// partial plan on disk.
package bates

import (
	"fmt"
	"path/filepath"

	"rexlit/internal/deterministic"
	"rexlit/internal/hashing"
	"rexlit/internal/jsonl"
	"rexlit/internal/logging"
	"rexlit/internal/rexerr"
	"rexlit/internal/schema"
	"rexlit/internal/types"
)

// Plan is the result of sequential Bates planning.
type Plan struct {
	Path        string
	Assignments []types.BatesAssignment
	Prefix      string
	Width       int
	Separator   string
}

// FamilyPlan is the result of family-ordered planning used by stamping.
type FamilyPlan struct {
	Prefix           string
	Width            int
	TotalDocuments   int
	Families         map[string]int
	BatesMap         map[string]string
	OrderedDocuments []FamilyAssignment
}

// FamilyAssignment is one label in family order.
type FamilyAssignment struct {
	Path     string `json:"path"`
	SHA256   string `json:"sha256"`
	FamilyID string `json:"family_id"`
	Label    string `json:"label"`
}

// Planner assigns Bates labels with collision and hash verification.
type Planner struct {
	Prefix    string
	Width     int
	Separator string
}

// NewPlanner constructs a planner with the configured defaults.
func NewPlanner(prefix string, width int) *Planner {
	if prefix == "" {
		prefix = "RXL"
	}
	if width < 1 {
		width = 6
	}
	return &Planner{Prefix: prefix, Width: width, Separator: "-"}
}

// FormatLabel renders one Bates identifier.
func (p *Planner) FormatLabel(index int) string {
	return FormatLabel(p.Prefix, index, p.Width, p.Separator)
}

// FormatLabel renders prefix + separator + zero-padded index.
func FormatLabel(prefix string, number, width int, separator string) string {
	if width < 1 {
		width = 1
	}
	return fmt.Sprintf("%s%s%0*d", prefix, separator, width, number)
}

// Plan canonicalizes documents, verifies integrity, assigns labels starting
// at 1, and atomically writes the plan JSONL to planPath.
func (p *Planner) Plan(documents []types.DocumentRecord, planPath string) (*Plan, error) {
	timer := logging.StartTimer(logging.CategoryBates, "Plan")
	defer timer.Stop()

	sorted := deterministic.OrderDocuments(documents)

	seenPaths := make(map[string]bool, len(sorted))
	seenHashes := make(map[string]bool, len(sorted))
	seenLabels := make(map[string]bool, len(sorted))
	assignments := make([]types.BatesAssignment, 0, len(sorted))

	for index, doc := range sorted {
		resolved, err := filepath.Abs(doc.Path)
		if err != nil {
			return nil, err
		}
		if seenPaths[resolved] {
			return nil, rexerr.New(rexerr.DuplicatePath, resolved, "duplicate document path during Bates planning")
		}
		seenPaths[resolved] = true

		if seenHashes[doc.SHA256] {
			return nil, rexerr.New(rexerr.DuplicateHash, doc.SHA256, "duplicate SHA-256 during Bates planning")
		}
		seenHashes[doc.SHA256] = true

		current, err := hashing.SHA256File(resolved)
		if err != nil {
			return nil, rexerr.Wrap(rexerr.NotFound, resolved, err, "Bates planning source unreadable")
		}
		if current != doc.SHA256 {
			return nil, rexerr.New(rexerr.HashMismatch, resolved,
				"document hash mismatch: expected %s, computed %s", doc.SHA256, current)
		}

		label := p.FormatLabel(index + 1)
		// Cannot occur if sequence integrity holds, but checked defensively.
		if seenLabels[label] {
			return nil, rexerr.New(rexerr.BatesCollision, label, "Bates identifier collision")
		}
		seenLabels[label] = true

		assignments = append(assignments, types.BatesAssignment{
			Document: doc.Path,
			SHA256:   doc.SHA256,
			BatesID:  label,
		})
	}

	records := make([]interface{}, len(assignments))
	for i, a := range assignments {
		records[i] = a
	}
	stamp := schema.NewStamp("bates_map", 1)
	// Deterministic produced_at keeps plan bytes stable across runs.
	if mtime := deterministic.LatestMtime(sorted); mtime != "" {
		stamp.ProducedAt = mtime
	}
	if err := jsonl.AtomicWriteJSONL(planPath, records, stamp.Transform()); err != nil {
		return nil, err
	}

	logging.Bates("planned %d assignments to %s", len(assignments), planPath)
	return &Plan{
		Path:        planPath,
		Assignments: assignments,
		Prefix:      p.Prefix,
		Width:       p.Width,
		Separator:   p.Separator,
	}, nil
}

// PlanWithFamilies groups documents by family key, iterates families in
// ascending id order with members in canonical order, and assigns labels in
// that sequence. Family counts are returned for packaging.
func (p *Planner) PlanWithFamilies(documents []types.DocumentRecord) *FamilyPlan {
	families := deterministic.GroupFamilies(documents)

	counter := 1
	batesMap := make(map[string]string)
	counts := make(map[string]int, len(families))
	var ordered []FamilyAssignment

	for _, family := range families {
		counts[family.ID] = len(family.Members)
		for _, doc := range family.Members {
			label := p.FormatLabel(counter)
			batesMap[doc.SHA256] = label
			ordered = append(ordered, FamilyAssignment{
				Path:     doc.Path,
				SHA256:   doc.SHA256,
				FamilyID: family.ID,
				Label:    label,
			})
			counter++
		}
	}

	return &FamilyPlan{
		Prefix:           p.Prefix,
		Width:            p.Width,
		TotalDocuments:   len(documents),
		Families:         counts,
		BatesMap:         batesMap,
		OrderedDocuments: ordered,
	}
}
