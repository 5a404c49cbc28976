// Package stamp computes Bates stamp layout and applies redactions through
// a delegated Renderer port. The core owns placement math only; actual PDF
// mutation is an external collaborator behind the port.
package stamp

import (
	"fmt"

	"rexlit/internal/bates"
	"rexlit/internal/logging"
	"rexlit/internal/rexerr"
)

// Rect is an axis-aligned rectangle in page coordinates.
type Rect struct {
	X0, Y0, X1, Y1 float64
}

// Width returns the rectangle width.
func (r Rect) Width() float64 { return r.X1 - r.X0 }

// Height returns the rectangle height.
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }

// Point is a position in page coordinates.
type Point struct {
	X, Y float64
}

// RGB is a color with components in [0, 1].
type RGB struct {
	R, G, B float64
}

// Position selects the stamp placement preset.
type Position string

const (
	BottomRight  Position = "bottom-right"
	BottomCenter Position = "bottom-center"
	TopRight     Position = "top-right"
)

// preset expresses placement as ratios of the safe area.
type preset struct {
	xRatio float64
	yRatio float64
}

var positionPresets = map[Position]preset{
	BottomRight:  {xRatio: 0.85, yRatio: 0.85},
	BottomCenter: {xRatio: 0.50, yRatio: 0.85},
	TopRight:     {xRatio: 0.85, yRatio: 0.15},
}

// safeAreaMarginPts insets the page rect by half an inch.
const safeAreaMarginPts = 36.0

// Request describes one stamping run over a document.
type Request struct {
	InputPath   string
	OutputPath  string
	Prefix      string
	StartNumber int
	Width       int
	Separator   string
	FontSize    float64
	Position    Position
	Background  bool
	Color       RGB
}

// PageCoordinate records where one page's label landed.
type PageCoordinate struct {
	Page     int                `json:"page"`
	Label    string             `json:"label"`
	Position map[string]float64 `json:"position"`
}

// Result summarizes a completed stamping run.
type Result struct {
	InputPath    string
	OutputPath   string
	PagesStamped int
	StartNumber  int
	EndNumber    int
	StartLabel   string
	EndLabel     string
	Coordinates  []PageCoordinate
}

// Preview is the dry-run output: page count plus the first labels.
type Preview struct {
	InputPath     string
	TotalPages    int
	StartNumber   int
	PreviewLabels []string
}

// RedactionAction is one box to paint over during redaction application.
type RedactionAction struct {
	Page int    // 1-indexed; 0 means scan the whole document
	Text string // text whose glyph boxes are overwritten
}

// =============================================================================
// RENDERER PORT - the PDF engine is an external collaborator
// =============================================================================

// Renderer opens documents for mutation.
type Renderer interface {
	Open(path string) (Document, error)
}

// Document is one open document session. Pages are 1-indexed.
type Document interface {
	PageCount() int
	PageRect(page int) Rect
	DrawBackground(page int, rect Rect) error
	// InsertTextBox draws centered text inside rect; ok=false means the
	// text did not fit and the caller should fall back to a baseline draw.
	InsertTextBox(page int, rect Rect, text string, fontSize float64, color RGB) (ok bool, err error)
	InsertText(page int, baseline Point, text string, fontSize float64, color RGB) error
	// FindText returns the glyph bounding boxes of text on a page.
	FindText(page int, text string) []Rect
	FillRect(page int, rect Rect) error
	Save(path string) error
	Close() error
}

// =============================================================================
// STAMPER
// =============================================================================

// Stamper performs layout-aware Bates stamping over a Renderer.
type Stamper struct {
	renderer Renderer
}

// NewStamper builds a stamper over the given renderer.
func NewStamper(renderer Renderer) *Stamper {
	return &Stamper{renderer: renderer}
}

// SafeArea returns the page rect inset by half an inch on every side.
func SafeArea(page Rect) Rect {
	return Rect{
		X0: page.X0 + safeAreaMarginPts,
		Y0: page.Y0 + safeAreaMarginPts,
		X1: page.X1 - safeAreaMarginPts,
		Y1: page.Y1 - safeAreaMarginPts,
	}
}

// StampRect computes the label box: width max(0.5·fs·len, 2·fs), height
// 1.2·fs, centered around the preset's (x_ratio, y_ratio) of the safe area.
func StampRect(safe Rect, pos Position, fontSize float64, label string) Rect {
	p := positionPresets[pos]
	textWidth := fontSize * 0.5 * float64(len(label))
	if min := fontSize * 2; textWidth < min {
		textWidth = min
	}
	textHeight := fontSize * 1.2

	xCenter := safe.X0 + safe.Width()*p.xRatio
	yCenter := safe.Y0 + safe.Height()*p.yRatio

	return Rect{
		X0: xCenter - textWidth/2,
		Y0: yCenter - textHeight/2,
		X1: xCenter + textWidth/2,
		Y1: yCenter + textHeight/2,
	}
}

// backgroundPadding expands the white backing box around the label.
const backgroundPadding = 2.0

// Stamp applies sequential labels to every page of the request's document.
func (s *Stamper) Stamp(req Request) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryBates, "Stamp")
	defer timer.Stop()

	if _, ok := positionPresets[req.Position]; !ok {
		return nil, rexerr.New(rexerr.InvalidFormat, string(req.Position), "unknown stamp position")
	}

	doc, err := s.renderer.Open(req.InputPath)
	if err != nil {
		return nil, rexerr.Wrap(rexerr.NotFound, req.InputPath, err, "open stamping source")
	}
	defer doc.Close()

	current := req.StartNumber
	coordinates := make([]PageCoordinate, 0, doc.PageCount())

	for page := 1; page <= doc.PageCount(); page++ {
		label := bates.FormatLabel(req.Prefix, current, req.Width, req.Separator)
		safe := SafeArea(doc.PageRect(page))
		rect := StampRect(safe, req.Position, req.FontSize, label)

		if req.Background {
			bg := Rect{
				X0: rect.X0 - backgroundPadding,
				Y0: rect.Y0 - backgroundPadding,
				X1: rect.X1 + backgroundPadding,
				Y1: rect.Y1 + backgroundPadding,
			}
			if err := doc.DrawBackground(page, bg); err != nil {
				return nil, err
			}
		}

		ok, err := doc.InsertTextBox(page, rect, label, req.FontSize, req.Color)
		if err != nil {
			return nil, err
		}
		if !ok {
			baseline := Point{X: rect.X0, Y: rect.Y1 - req.FontSize*0.2}
			if err := doc.InsertText(page, baseline, label, req.FontSize, req.Color); err != nil {
				return nil, err
			}
		}

		coordinates = append(coordinates, PageCoordinate{
			Page:  page,
			Label: label,
			Position: map[string]float64{
				"x0": rect.X0, "y0": rect.Y0, "x1": rect.X1, "y1": rect.Y1,
			},
		})
		current++
	}

	if err := doc.Save(req.OutputPath); err != nil {
		return nil, rexerr.Wrap(rexerr.IOWriteFailed, req.OutputPath, err, "save stamped output")
	}

	end := current - 1
	return &Result{
		InputPath:    req.InputPath,
		OutputPath:   req.OutputPath,
		PagesStamped: len(coordinates),
		StartNumber:  req.StartNumber,
		EndNumber:    end,
		StartLabel:   bates.FormatLabel(req.Prefix, req.StartNumber, req.Width, req.Separator),
		EndLabel:     bates.FormatLabel(req.Prefix, end, req.Width, req.Separator),
		Coordinates:  coordinates,
	}, nil
}

// DryRun reports the page count and the first min(5, N) formatted labels
// without touching the document.
func (s *Stamper) DryRun(req Request) (*Preview, error) {
	doc, err := s.renderer.Open(req.InputPath)
	if err != nil {
		return nil, rexerr.Wrap(rexerr.NotFound, req.InputPath, err, "open stamping source")
	}
	defer doc.Close()

	pages := doc.PageCount()
	previewCount := pages
	if previewCount > 5 {
		previewCount = 5
	}
	labels := make([]string, 0, previewCount)
	for i := 0; i < previewCount; i++ {
		labels = append(labels, bates.FormatLabel(req.Prefix, req.StartNumber+i, req.Width, req.Separator))
	}
	return &Preview{
		InputPath:     req.InputPath,
		TotalPages:    pages,
		StartNumber:   req.StartNumber,
		PreviewLabels: labels,
	}, nil
}

// ApplyRedactions overwrites the glyph boxes of each action's text. Actions
// without a page scan the whole document; invalid pages are skipped and do
// not count. Output is always produced, even when nothing matched.
func (s *Stamper) ApplyRedactions(path, output string, actions []RedactionAction) (int, error) {
	doc, err := s.renderer.Open(path)
	if err != nil {
		return 0, rexerr.Wrap(rexerr.NotFound, path, err, "open redaction source")
	}
	defer doc.Close()

	applied := 0
	for _, action := range actions {
		if action.Text == "" {
			continue
		}
		pages := make([]int, 0, doc.PageCount())
		if action.Page > 0 {
			if action.Page > doc.PageCount() {
				continue // invalid page, skipped
			}
			pages = append(pages, action.Page)
		} else {
			for p := 1; p <= doc.PageCount(); p++ {
				pages = append(pages, p)
			}
		}

		matched := false
		for _, page := range pages {
			for _, box := range doc.FindText(page, action.Text) {
				if err := doc.FillRect(page, box); err != nil {
					return applied, err
				}
				matched = true
			}
		}
		if matched {
			applied++
		}
	}

	if err := doc.Save(output); err != nil {
		return applied, rexerr.Wrap(rexerr.IOWriteFailed, output, err, "save redacted output")
	}
	return applied, nil
}

// String renders a preview for CLI display.
func (p *Preview) String() string {
	return fmt.Sprintf("%s: %d pages, labels %v", p.InputPath, p.TotalPages, p.PreviewLabels)
}
