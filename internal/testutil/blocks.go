package testutil

import (
	"fmt"
	"strings"

	"github.com/civiclab/sopn/internal/geometry"
)

// Box builds a bounding box from its left/top corner and extent.
func Box(left, top, width, height float64) geometry.BoundingBox {
	return geometry.BoundingBox{Left: left, Top: top, Width: width, Height: height}
}

func polygonOf(box geometry.BoundingBox) []geometry.Point {
	return []geometry.Point{
		{X: box.Left, Y: box.Top},
		{X: box.Right(), Y: box.Top},
		{X: box.Right(), Y: box.Bottom()},
		{X: box.Left, Y: box.Bottom()},
	}
}

// LineBlock builds a LINE block with deterministic identity for fixtures.
func LineBlock(id, text string, page int, box geometry.BoundingBox) geometry.Block {
	return geometry.Block{
		BlockType:  geometry.BlockTypeLine,
		Confidence: 99.0,
		Text:       text,
		ID:         id,
		Page:       page,
		Geometry:   geometry.Geometry{BoundingBox: box, Polygon: polygonOf(box)},
	}
}

// WordBlock builds a WORD block.
func WordBlock(id, text string, page int, box geometry.BoundingBox) geometry.Block {
	return geometry.Block{
		BlockType:  geometry.BlockTypeWord,
		Confidence: 98.0,
		Text:       text,
		ID:         id,
		Page:       page,
		Geometry:   geometry.Geometry{BoundingBox: box, Polygon: polygonOf(box)},
	}
}

// LineWithWords builds a LINE block plus WORD children spread evenly
// across the line box. The line comes first in the returned slice; word
// IDs derive from the line ID.
func LineWithWords(id, text string, page int, box geometry.BoundingBox) []geometry.Block {
	words := strings.Fields(text)
	blocks := make([]geometry.Block, 0, len(words)+1)
	line := LineBlock(id, text, page, box)

	if len(words) > 0 {
		step := box.Width / float64(len(words))
		ids := make([]string, 0, len(words))
		for i, w := range words {
			wid := fmt.Sprintf("%s-w%d", id, i+1)
			ids = append(ids, wid)
			wordBox := Box(box.Left+float64(i)*step, box.Top, step*0.9, box.Height)
			blocks = append(blocks, WordBlock(wid, w, page, wordBox))
		}
		line.Relationships = []geometry.Relationship{{Type: geometry.RelationshipChild, IDs: ids}}
	}
	return append([]geometry.Block{line}, blocks...)
}

// PageBlock builds a PAGE block covering the whole page with CHILD links
// to the given line IDs.
func PageBlock(id string, page int, lineIDs []string) geometry.Block {
	b := geometry.Block{
		BlockType: geometry.BlockTypePage,
		ID:        id,
		Page:      page,
		Geometry: geometry.Geometry{
			BoundingBox: Box(0, 0, 1, 1),
			Polygon:     polygonOf(Box(0, 0, 1, 1)),
		},
	}
	if len(lineIDs) > 0 {
		b.Relationships = []geometry.Relationship{{Type: geometry.RelationshipChild, IDs: lineIDs}}
	}
	return b
}

// CellRow builds one LINE block per cell at the given column offsets, all
// sharing the row's top coordinate. Used to lay out table-shaped pages.
func CellRow(idPrefix string, page int, top float64, cells []string, lefts []float64, cellWidth float64) []geometry.Block {
	var blocks []geometry.Block
	for i, cell := range cells {
		if cell == "" {
			continue
		}
		id := fmt.Sprintf("%s-c%d", idPrefix, i+1)
		box := Box(lefts[i], top, cellWidth, 0.025)
		blocks = append(blocks, LineWithWords(id, cell, page, box)...)
	}
	return blocks
}

// FixturePage describes a synthetic statement page: heading band lines
// stacked from the top of the page and body lines in the lower half.
type FixturePage struct {
	Number int
	Header []string
	Body   []string
}

// BuildArena lays fixture pages out as a block arena. Header lines start
// at the top of the page and stay within the default heading band; body
// lines start at half page height.
func BuildArena(pages ...FixturePage) *geometry.Arena {
	arena := geometry.NewArena()
	for _, p := range pages {
		var lineIDs []string
		for i, h := range p.Header {
			id := fmt.Sprintf("p%d-h%d", p.Number, i+1)
			lineIDs = append(lineIDs, id)
			box := Box(0.1, 0.02+float64(i)*0.05, 0.8, 0.03)
			arena.Add(LineWithWords(id, h, p.Number, box)...)
		}
		for i, b := range p.Body {
			id := fmt.Sprintf("p%d-b%d", p.Number, i+1)
			lineIDs = append(lineIDs, id)
			box := Box(0.1, 0.5+float64(i)*0.04, 0.8, 0.03)
			arena.Add(LineWithWords(id, b, p.Number, box)...)
		}
		arena.Add(PageBlock(fmt.Sprintf("p%d", p.Number), p.Number, lineIDs))
	}
	return arena
}
