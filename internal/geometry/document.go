package geometry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/civiclab/sopn/internal/normalize"
)

// ErrNoTextInDocument reports a page with zero extractable text fragments.
var ErrNoTextInDocument = errors.New("no text in document")

// NoTextError identifies the page on which heading extraction found no
// text fragments at all. It unwraps to ErrNoTextInDocument.
type NoTextError struct {
	Page int
}

func (e *NoTextError) Error() string {
	return fmt.Sprintf("page %d has no text fragments", e.Page)
}

func (e *NoTextError) Unwrap() error { return ErrNoTextInDocument }

// Page is one page of a detected document: its 1-based number and its
// LINE blocks in reading order.
type Page struct {
	Number int
	Lines  []Block
}

// Text assembles the page text in reading order, one line per row.
func (p *Page) Text() string {
	parts := make([]string, 0, len(p.Lines))
	for _, l := range p.Lines {
		if l.Text != "" {
			parts = append(parts, l.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// TokenCount returns the number of meaningful normalized tokens on the
// page.
func (p *Page) TokenCount() int {
	n := 0
	for _, l := range p.Lines {
		n += len(normalize.Tokens(l.Text))
	}
	return n
}

// Blank reports whether the page carries fewer than minTokens meaningful
// tokens. Scanner-inserted separator pages and near-empty trailing pages
// count as blank.
func (p *Page) Blank(minTokens int) bool {
	return p.TokenCount() < minTokens
}

// Heading returns the page's structural fingerprint: the set of cleaned
// tokens from every line whose top edge lies within the given fraction of
// the page height. Repeated running headers across pages of one statement
// produce near-identical heading sets.
//
// A page with no text fragments at all yields a NoTextError; a page whose
// fragments merely all sit below the band yields an empty set.
func (p *Page) Heading(band float64) (map[string]struct{}, error) {
	if len(p.Lines) == 0 {
		return nil, &NoTextError{Page: p.Number}
	}
	set := make(map[string]struct{})
	for _, l := range p.Lines {
		if l.Geometry.BoundingBox.Top > band {
			continue
		}
		cleaned := normalize.CleanHeading(l.Text)
		for _, tok := range strings.Fields(cleaned) {
			set[tok] = struct{}{}
		}
	}
	return set, nil
}

// Document is an ordered sequence of pages built from a block arena.
// Page numbers are contiguous and 1-based; a declared page with no LINE
// blocks still occupies its slot so positional comparison stays aligned
// with the physical document.
type Document struct {
	Pages []Page

	arena *Arena
}

// NewDocument builds a Document from the arena's LINE blocks grouped by
// declared page number.
func NewDocument(arena *Arena) *Document {
	count := arena.PageCount()
	doc := &Document{arena: arena, Pages: make([]Page, 0, count)}
	for n := 1; n <= count; n++ {
		doc.Pages = append(doc.Pages, Page{Number: n, Lines: arena.Lines(n)})
	}
	return doc
}

// FromPageTexts synthesizes a Document from per-page plain text, one
// string per page. Lines receive stacked full-width geometry so heading
// extraction and segmentation behave the same as on detected output. This
// is the path for PDFs that already carry an embedded text layer.
func FromPageTexts(texts []string) *Document {
	arena := NewArena()
	for pageNum, text := range texts {
		lines := strings.Split(text, "\n")
		height := 1.0 / float64(len(lines)+1)
		for i, line := range lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			arena.Add(Block{
				BlockType: BlockTypeLine,
				Text:      line,
				ID:        uuid.NewString(),
				Page:      pageNum + 1,
				Geometry: Geometry{
					BoundingBox: BoundingBox{
						Width:  1,
						Height: height,
						Left:   0,
						Top:    float64(i) * height,
					},
				},
			})
		}
		// Keep the page slot even when every line was empty.
		arena.Add(Block{
			BlockType: BlockTypePage,
			ID:        uuid.NewString(),
			Page:      pageNum + 1,
			Geometry:  Geometry{BoundingBox: BoundingBox{Width: 1, Height: 1}},
		})
	}
	return NewDocument(arena)
}

// Arena returns the underlying block arena.
func (d *Document) Arena() *Arena { return d.arena }

// PageCount returns the number of pages.
func (d *Document) PageCount() int { return len(d.Pages) }

// Page returns the 1-based page n, or nil when out of range.
func (d *Document) Page(n int) *Page {
	if n < 1 || n > len(d.Pages) {
		return nil
	}
	return &d.Pages[n-1]
}

// Text returns the whole document text, pages separated by form feeds.
func (d *Document) Text() string {
	parts := make([]string, 0, len(d.Pages))
	for i := range d.Pages {
		parts = append(parts, d.Pages[i].Text())
	}
	return strings.Join(parts, "\f")
}
