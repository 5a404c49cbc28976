// Package types holds the record shapes shared across RexLit components.
package types

// DocumentRecord is the unit of work flowing through the pipeline: one
// discovered file with its content address and filing metadata. Records are
// produced once by discovery and never mutated downstream.
type DocumentRecord struct {
	Path      string            `json:"path"`
	SHA256    string            `json:"sha256"`
	Size      int64             `json:"size"`
	MimeType  string            `json:"mime_type,omitempty"`
	Extension string            `json:"extension"`
	Mtime     string            `json:"mtime"`
	Custodian string            `json:"custodian,omitempty"`
	Doctype   string            `json:"doctype,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// FamilyID resolves the family key used for grouped Bates ordering:
// thread_id, family_id, conversation_id in that order, otherwise the
// document's own hash (a family of one).
func (d DocumentRecord) FamilyID() string {
	for _, key := range []string{"thread_id", "family_id", "conversation_id"} {
		if v, ok := d.Metadata[key]; ok && v != "" {
			return v
		}
	}
	return d.SHA256
}

// BatesAssignment binds one document to its sequential Bates label.
type BatesAssignment struct {
	Document string `json:"document"`
	SHA256   string `json:"sha256"`
	BatesID  string `json:"bates_id"`
}

// PIIFinding is one detected entity inside a document. Text is raw and
// therefore only ever persisted sealed.
type PIIFinding struct {
	DocumentID  string             `json:"document_id"`
	EntityType  string             `json:"entity_type"`
	Text        string             `json:"text"`
	Score       float64            `json:"score"`
	Start       int                `json:"start"`
	End         int                `json:"end"`
	Page        int                `json:"page,omitempty"`
	Coordinates map[string]float64 `json:"coordinates,omitempty"`
}
