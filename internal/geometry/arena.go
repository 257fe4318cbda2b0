package geometry

import "sort"

// Arena holds blocks indexed by ID in insertion order. Adding a block
// whose ID is already present is a no-op, which makes repeated merges of
// overlapping detection responses safe: the accumulated set only grows
// and never holds duplicates.
type Arena struct {
	order []string
	byID  map[string]Block
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{byID: make(map[string]Block)}
}

// FromBlocks builds an arena from blocks, dropping duplicate IDs.
func FromBlocks(blocks []Block) *Arena {
	a := NewArena()
	a.Add(blocks...)
	return a
}

// Add appends blocks to the arena, skipping any whose ID is already
// present. It returns the number of blocks actually added.
func (a *Arena) Add(blocks ...Block) int {
	added := 0
	for _, b := range blocks {
		if b.ID == "" {
			continue
		}
		if _, ok := a.byID[b.ID]; ok {
			continue
		}
		a.byID[b.ID] = b
		a.order = append(a.order, b.ID)
		added++
	}
	return added
}

// Len returns the number of blocks held.
func (a *Arena) Len() int { return len(a.order) }

// Block looks up a block by ID.
func (a *Arena) Block(id string) (Block, bool) {
	b, ok := a.byID[id]
	return b, ok
}

// Blocks returns all blocks in insertion order.
func (a *Arena) Blocks() []Block {
	out := make([]Block, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.byID[id])
	}
	return out
}

// PageCount returns the highest page number declared by any block.
func (a *Arena) PageCount() int {
	pages := 0
	for _, id := range a.order {
		if n := a.byID[id].PageNumber(); n > pages {
			pages = n
		}
	}
	return pages
}

// OnPage returns the blocks on page n in insertion order.
func (a *Arena) OnPage(n int) []Block {
	var out []Block
	for _, id := range a.order {
		if b := a.byID[id]; b.PageNumber() == n {
			out = append(out, b)
		}
	}
	return out
}

// Lines returns the LINE blocks on page n ordered top to bottom, ties
// broken left to right.
func (a *Arena) Lines(n int) []Block {
	var lines []Block
	for _, id := range a.order {
		if b := a.byID[id]; b.BlockType == BlockTypeLine && b.PageNumber() == n {
			lines = append(lines, b)
		}
	}
	sort.SliceStable(lines, func(i, j int) bool {
		bi, bj := lines[i].Geometry.BoundingBox, lines[j].Geometry.BoundingBox
		if bi.Top != bj.Top {
			return bi.Top < bj.Top
		}
		return bi.Left < bj.Left
	})
	return lines
}

// Words returns the WORD blocks on page n in insertion order.
func (a *Arena) Words(n int) []Block {
	var words []Block
	for _, id := range a.order {
		if b := a.byID[id]; b.BlockType == BlockTypeWord && b.PageNumber() == n {
			words = append(words, b)
		}
	}
	return words
}

// Children resolves b's CHILD relationship IDs against the arena. IDs that
// are not (yet) present are skipped; a partially merged result stays
// usable.
func (a *Arena) Children(b Block) []Block {
	ids := b.ChildIDs()
	out := make([]Block, 0, len(ids))
	for _, id := range ids {
		if child, ok := a.byID[id]; ok {
			out = append(out, child)
		}
	}
	return out
}

// ChildWords resolves the WORD children of a LINE block in declared order.
func (a *Arena) ChildWords(line Block) []Block {
	var words []Block
	for _, c := range a.Children(line) {
		if c.BlockType == BlockTypeWord {
			words = append(words, c)
		}
	}
	return words
}
