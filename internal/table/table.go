// Package table reconstructs row/column structure from the flat block
// list of a completed detection job. Cell-level LINE blocks are banded
// into rows by vertical center and bucketed into columns by horizontal
// position, yielding an ordered table of candidate entries for manual
// confirmation.
package table

import (
	"sort"
	"strings"

	"github.com/civiclab/sopn/internal/geometry"
	"github.com/civiclab/sopn/internal/normalize"
)

// headerAnchors are the normalized fixed phrases that identify a header
// row of a statement table.
var headerAnchors = []string{
	"statement of persons nominated",
	"candidate name",
	"name of candidate",
	"description of candidate",
	"home address",
	"names of proposer",
}

// Options carries the geometric tunables for reconstruction, in
// normalized page coordinates.
type Options struct {
	// RowTolerance is the vertical distance within which cell centers
	// share a row band.
	RowTolerance float64
	// ColumnGapThreshold is the minimum horizontal gap that separates two
	// column buckets.
	ColumnGapThreshold float64
	// ExtraHeaderAnchors are deployment-specific normalized phrases
	// recognized as header rows in addition to the built-in anchors.
	ExtraHeaderAnchors []string
}

// DefaultOptions returns tunables calibrated for A4 statement scans.
func DefaultOptions() Options {
	return Options{
		RowTolerance:       0.012,
		ColumnGapThreshold: 0.05,
	}
}

// Cell is one table cell: the block text and its resolved column.
type Cell struct {
	Text   string
	Column int
	Box    geometry.BoundingBox
}

// Row is one horizontal band of cells, ordered by column.
type Row struct {
	Cells []Cell
	// Top is the vertical center of the band.
	Top float64
	// Ambiguous flags a band whose cell assignment was not clean; the row
	// is kept for review rather than silently merged or dropped.
	Ambiguous bool
}

// Text joins the row's cell texts in column order.
func (r Row) Text() string {
	parts := make([]string, 0, len(r.Cells))
	for _, c := range r.Cells {
		parts = append(parts, c.Text)
	}
	return strings.Join(parts, " ")
}

// Table is the reconstructed structure of one page.
type Table struct {
	Page    int
	Rows    []Row
	Columns int
	// HeaderIndex is the index of the detected header row, -1 when no
	// anchor phrase matched.
	HeaderIndex int
}

// Candidate is one extracted table entry below the header.
type Candidate struct {
	Name        string
	Description string
	Page        int
}

// Reconstructor turns block geometry into tables.
type Reconstructor struct {
	opts    Options
	anchors []string
}

// New returns a Reconstructor, filling unset options from
// DefaultOptions.
func New(opts Options) *Reconstructor {
	def := DefaultOptions()
	if opts.RowTolerance <= 0 {
		opts.RowTolerance = def.RowTolerance
	}
	if opts.ColumnGapThreshold <= 0 {
		opts.ColumnGapThreshold = def.ColumnGapThreshold
	}
	anchors := make([]string, 0, len(headerAnchors)+len(opts.ExtraHeaderAnchors))
	anchors = append(anchors, headerAnchors...)
	for _, a := range opts.ExtraHeaderAnchors {
		if cleaned := normalize.CleanHeading(a); cleaned != "" {
			anchors = append(anchors, cleaned)
		}
	}
	return &Reconstructor{opts: opts, anchors: anchors}
}

type band struct {
	yMin, yMax float64
	blocks     []geometry.Block
	ambiguous  bool
}

func (b *band) center() float64 { return (b.yMin + b.yMax) / 2 }

// Reconstruct builds the table for one page of the arena. Pages without
// LINE blocks yield an empty table.
func (r *Reconstructor) Reconstruct(arena *geometry.Arena, page int) *Table {
	lines := arena.Lines(page)
	t := &Table{Page: page, HeaderIndex: -1}
	if len(lines) == 0 {
		return t
	}

	bands := r.bandRows(lines)
	columns := r.columnBuckets(lines)
	t.Columns = len(columns)

	for _, bd := range bands {
		row := Row{Top: bd.center(), Ambiguous: bd.ambiguous}
		for _, blk := range bd.blocks {
			row.Cells = append(row.Cells, Cell{
				Text:   blk.Text,
				Column: columnFor(columns, blk.Geometry.BoundingBox.Left),
				Box:    blk.Geometry.BoundingBox,
			})
		}
		sort.SliceStable(row.Cells, func(i, j int) bool {
			if row.Cells[i].Column != row.Cells[j].Column {
				return row.Cells[i].Column < row.Cells[j].Column
			}
			return row.Cells[i].Box.Left < row.Cells[j].Box.Left
		})
		t.Rows = append(t.Rows, row)
	}

	for i, row := range t.Rows {
		if r.isHeaderRow(row) {
			t.HeaderIndex = i
			break
		}
	}
	return t
}

// ReconstructAll builds one table per page of the arena.
func (r *Reconstructor) ReconstructAll(arena *geometry.Arena) []*Table {
	count := arena.PageCount()
	tables := make([]*Table, 0, count)
	for page := 1; page <= count; page++ {
		tables = append(tables, r.Reconstruct(arena, page))
	}
	return tables
}

// bandRows groups blocks into horizontal bands by vertical center. A
// block within tolerance of an existing band joins it; a block matching
// several bands snaps to the nearest and marks it ambiguous instead of
// being dropped.
func (r *Reconstructor) bandRows(lines []geometry.Block) []*band {
	var bands []*band
	for _, blk := range lines {
		cy := blk.Geometry.BoundingBox.CenterY()

		var matches []*band
		for _, bd := range bands {
			if cy >= bd.yMin-r.opts.RowTolerance && cy <= bd.yMax+r.opts.RowTolerance {
				matches = append(matches, bd)
			}
		}
		switch len(matches) {
		case 0:
			bands = append(bands, &band{yMin: cy, yMax: cy, blocks: []geometry.Block{blk}})
			continue
		case 1:
			// clean assignment
		default:
			sort.Slice(matches, func(i, j int) bool {
				di := abs(cy - matches[i].center())
				dj := abs(cy - matches[j].center())
				return di < dj
			})
			matches[0].ambiguous = true
		}
		target := matches[0]
		target.blocks = append(target.blocks, blk)
		if cy < target.yMin {
			target.yMin = cy
		}
		if cy > target.yMax {
			target.yMax = cy
		}
	}
	sort.SliceStable(bands, func(i, j int) bool { return bands[i].center() < bands[j].center() })
	return bands
}

type columnBucket struct {
	left, right float64
}

// columnBuckets clusters cell left edges: a horizontal jump larger than
// the gap threshold opens a new column.
func (r *Reconstructor) columnBuckets(lines []geometry.Block) []columnBucket {
	lefts := make([]float64, 0, len(lines))
	for _, blk := range lines {
		lefts = append(lefts, blk.Geometry.BoundingBox.Left)
	}
	sort.Float64s(lefts)

	var buckets []columnBucket
	for _, l := range lefts {
		if len(buckets) == 0 || l-buckets[len(buckets)-1].right > r.opts.ColumnGapThreshold {
			buckets = append(buckets, columnBucket{left: l, right: l})
			continue
		}
		if l > buckets[len(buckets)-1].right {
			buckets[len(buckets)-1].right = l
		}
	}
	return buckets
}

// columnFor resolves the column index whose range is nearest to left.
func columnFor(buckets []columnBucket, left float64) int {
	best, bestDist := 0, -1.0
	for i, b := range buckets {
		var d float64
		switch {
		case left < b.left:
			d = b.left - left
		case left > b.right:
			d = left - b.right
		default:
			return i
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func (r *Reconstructor) isHeaderRow(row Row) bool {
	joined := normalize.CleanHeading(row.Text())
	if joined == "" {
		return false
	}
	for _, anchor := range r.anchors {
		if strings.Contains(joined, anchor) {
			return true
		}
	}
	return false
}

// Grid renders the table as a row-major matrix of cell texts. Cells
// sharing a row and column are joined with a space; missing cells stay
// empty.
func (t *Table) Grid() [][]string {
	grid := make([][]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		cells := make([]string, t.Columns)
		for _, c := range row.Cells {
			if c.Column >= len(cells) {
				continue
			}
			if cells[c.Column] == "" {
				cells[c.Column] = c.Text
			} else {
				cells[c.Column] += " " + c.Text
			}
		}
		grid = append(grid, cells)
	}
	return grid
}

// Header returns the detected header row, or nil.
func (t *Table) Header() *Row {
	if t.HeaderIndex < 0 || t.HeaderIndex >= len(t.Rows) {
		return nil
	}
	return &t.Rows[t.HeaderIndex]
}

// columnHeaderRow finds the row carrying per-column labels, which sits
// below the statement title on real forms.
func (t *Table) columnHeaderRow() int {
	for i, row := range t.Rows {
		for _, c := range row.Cells {
			cleaned := normalize.CleanHeading(c.Text)
			if strings.Contains(cleaned, "candidate name") ||
				strings.Contains(cleaned, "name of candidate") ||
				strings.Contains(cleaned, "names of candidates") ||
				cleaned == "candidates" {
				return i
			}
		}
	}
	return -1
}

// Candidates maps the rows below the column header into candidate
// entries. The name column is resolved from the header cell matching
// "candidate name" (or a variant) and the description column from the
// header cell matching "description"; without a column header the first
// two columns are used and rows start after the anchor header, if any.
func (t *Table) Candidates() []Candidate {
	nameCol, descCol := 0, 1
	start := 0
	if hi := t.columnHeaderRow(); hi >= 0 {
		start = hi + 1
		for _, c := range t.Rows[hi].Cells {
			cleaned := normalize.CleanHeading(c.Text)
			switch {
			case strings.Contains(cleaned, "candidate name"),
				strings.Contains(cleaned, "name of candidate"),
				strings.Contains(cleaned, "names of candidates"),
				cleaned == "candidates":
				nameCol = c.Column
			case strings.Contains(cleaned, "description"):
				descCol = c.Column
			}
		}
	} else if t.HeaderIndex >= 0 {
		start = t.HeaderIndex + 1
	}

	var out []Candidate
	for _, row := range t.Rows[min(start, len(t.Rows)):] {
		var cand Candidate
		cand.Page = t.Page
		for _, c := range row.Cells {
			switch c.Column {
			case nameCol:
				if cand.Name == "" {
					cand.Name = c.Text
				} else {
					cand.Name += " " + c.Text
				}
			case descCol:
				if cand.Description == "" {
					cand.Description = c.Text
				} else {
					cand.Description += " " + c.Text
				}
			}
		}
		if cand.Name != "" {
			out = append(out, cand)
		}
	}
	return out
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
