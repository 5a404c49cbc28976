package stamp

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDocument records renderer calls for assertion.
type fakeDocument struct {
	pages        int
	pageRect     Rect
	saved        string
	backgrounds  []Rect
	textboxes    []string
	baselineText []string
	fills        map[int][]Rect
	textBoxFits  bool
	findable     map[string][]int // text -> pages it appears on
}

func newFakeDocument(pages int) *fakeDocument {
	return &fakeDocument{
		pages:       pages,
		pageRect:    Rect{X0: 0, Y0: 0, X1: 612, Y1: 792}, // US Letter points
		fills:       make(map[int][]Rect),
		textBoxFits: true,
		findable:    make(map[string][]int),
	}
}

func (d *fakeDocument) PageCount() int        { return d.pages }
func (d *fakeDocument) PageRect(page int) Rect { return d.pageRect }
func (d *fakeDocument) DrawBackground(page int, rect Rect) error {
	d.backgrounds = append(d.backgrounds, rect)
	return nil
}
func (d *fakeDocument) InsertTextBox(page int, rect Rect, text string, fontSize float64, color RGB) (bool, error) {
	if !d.textBoxFits {
		return false, nil
	}
	d.textboxes = append(d.textboxes, text)
	return true, nil
}
func (d *fakeDocument) InsertText(page int, baseline Point, text string, fontSize float64, color RGB) error {
	d.baselineText = append(d.baselineText, text)
	return nil
}
func (d *fakeDocument) FindText(page int, text string) []Rect {
	for _, p := range d.findable[text] {
		if p == page {
			return []Rect{{X0: 10, Y0: 10, X1: 50, Y1: 20}}
		}
	}
	return nil
}
func (d *fakeDocument) FillRect(page int, rect Rect) error {
	d.fills[page] = append(d.fills[page], rect)
	return nil
}
func (d *fakeDocument) Save(path string) error { d.saved = path; return nil }
func (d *fakeDocument) Close() error           { return nil }

type fakeRenderer struct{ doc *fakeDocument }

func (r fakeRenderer) Open(path string) (Document, error) {
	if r.doc == nil {
		return nil, fmt.Errorf("no document at %s", path)
	}
	return r.doc, nil
}

func TestSafeAreaInsetsHalfInch(t *testing.T) {
	page := Rect{X0: 0, Y0: 0, X1: 612, Y1: 792}
	safe := SafeArea(page)
	assert.Equal(t, Rect{X0: 36, Y0: 36, X1: 576, Y1: 756}, safe)
}

func TestStampRectGeometry(t *testing.T) {
	safe := Rect{X0: 36, Y0: 36, X1: 576, Y1: 756}
	label := "RXL-000001" // 10 chars
	fontSize := 10.0

	rect := StampRect(safe, BottomRight, fontSize, label)

	// width = max(0.5*10*10, 2*10) = 50, height = 12
	assert.InDelta(t, 50.0, rect.Width(), 1e-9)
	assert.InDelta(t, 12.0, rect.Height(), 1e-9)

	// Centered on x_ratio 0.85 of the safe area.
	xCenter := safe.X0 + safe.Width()*0.85
	assert.InDelta(t, xCenter, (rect.X0+rect.X1)/2, 1e-9)
}

func TestStampRectMinimumWidth(t *testing.T) {
	safe := Rect{X0: 0, Y0: 0, X1: 500, Y1: 500}
	rect := StampRect(safe, BottomCenter, 12, "AB") // 0.5*12*2=12 < 24
	assert.InDelta(t, 24.0, rect.Width(), 1e-9)
}

func TestStampAllPages(t *testing.T) {
	doc := newFakeDocument(3)
	stamper := NewStamper(fakeRenderer{doc: doc})

	result, err := stamper.Stamp(Request{
		InputPath:   "/in.pdf",
		OutputPath:  "/out.pdf",
		Prefix:      "RXL",
		StartNumber: 5,
		Width:       6,
		Separator:   "-",
		FontSize:    10,
		Position:    BottomRight,
		Background:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.PagesStamped)
	assert.Equal(t, "RXL-000005", result.StartLabel)
	assert.Equal(t, "RXL-000007", result.EndLabel)
	assert.Equal(t, 7, result.EndNumber)
	assert.Len(t, result.Coordinates, 3)
	assert.Equal(t, "/out.pdf", doc.saved)
	assert.Len(t, doc.backgrounds, 3)
	assert.Equal(t, []string{"RXL-000005", "RXL-000006", "RXL-000007"}, doc.textboxes)

	// Background padding is 2 units around the label box.
	coord := result.Coordinates[0]
	assert.InDelta(t, coord.Position["x0"]-2, doc.backgrounds[0].X0, 1e-9)
}

func TestStampFallsBackToBaseline(t *testing.T) {
	doc := newFakeDocument(1)
	doc.textBoxFits = false
	stamper := NewStamper(fakeRenderer{doc: doc})

	_, err := stamper.Stamp(Request{
		InputPath: "/in.pdf", OutputPath: "/out.pdf",
		Prefix: "RXL", StartNumber: 1, Width: 6, Separator: "-",
		FontSize: 10, Position: TopRight,
	})
	require.NoError(t, err)
	assert.Empty(t, doc.textboxes)
	assert.Equal(t, []string{"RXL-000001"}, doc.baselineText)
}

func TestStampUnknownPosition(t *testing.T) {
	stamper := NewStamper(fakeRenderer{doc: newFakeDocument(1)})
	_, err := stamper.Stamp(Request{Position: "center-center"})
	require.Error(t, err)
}

func TestDryRunPreviewLabels(t *testing.T) {
	doc := newFakeDocument(8)
	stamper := NewStamper(fakeRenderer{doc: doc})

	preview, err := stamper.DryRun(Request{
		InputPath: "/in.pdf", Prefix: "RXL", StartNumber: 1, Width: 6, Separator: "-",
	})
	require.NoError(t, err)
	assert.Equal(t, 8, preview.TotalPages)
	// min(5, N) labels.
	assert.Equal(t, []string{"RXL-000001", "RXL-000002", "RXL-000003", "RXL-000004", "RXL-000005"}, preview.PreviewLabels)

	doc2 := newFakeDocument(2)
	preview, err = NewStamper(fakeRenderer{doc: doc2}).DryRun(Request{
		InputPath: "/in.pdf", Prefix: "RXL", StartNumber: 1, Width: 6, Separator: "-",
	})
	require.NoError(t, err)
	assert.Len(t, preview.PreviewLabels, 2)
}

func TestApplyRedactions(t *testing.T) {
	doc := newFakeDocument(3)
	doc.findable["secret"] = []int{2}
	doc.findable["everywhere"] = []int{1, 3}
	stamper := NewStamper(fakeRenderer{doc: doc})

	count, err := stamper.ApplyRedactions("/in.pdf", "/out.pdf", []RedactionAction{
		{Page: 2, Text: "secret"},
		{Page: 0, Text: "everywhere"}, // no page: scan whole document
		{Page: 99, Text: "secret"},    // invalid page: skipped, not counted
		{Page: 1, Text: ""},           // empty text: ignored
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Len(t, doc.fills[2], 1)
	assert.Len(t, doc.fills[1], 1)
	assert.Len(t, doc.fills[3], 1)
	// Output always produced.
	assert.Equal(t, "/out.pdf", doc.saved)
}
