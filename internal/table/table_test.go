package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclab/sopn/internal/geometry"
	"github.com/civiclab/sopn/internal/testutil"
)

var statementLefts = []float64{0.05, 0.40, 0.72}

func statementArena() *geometry.Arena {
	arena := geometry.NewArena()
	arena.Add(testutil.CellRow("title", 1, 0.05,
		[]string{"STATEMENT OF PERSONS NOMINATED"}, []float64{0.05}, 0.6)...)
	arena.Add(testutil.CellRow("sub", 1, 0.10,
		[]string{"Election of a Member of Parliament for Cities of London and Westminster"},
		[]float64{0.05}, 0.9)...)
	arena.Add(testutil.CellRow("hdr", 1, 0.20,
		[]string{"Candidate Name", "Description (if any)", "Names of Proposer"},
		statementLefts, 0.25)...)
	arena.Add(testutil.CellRow("r1", 1, 0.25,
		[]string{"SMITH John", "Independent", "Jones Mary"}, statementLefts, 0.25)...)
	arena.Add(testutil.CellRow("r2", 1, 0.30,
		[]string{"DOE Jane", "Green Party", "Brown Tom"}, statementLefts, 0.25)...)
	arena.Add(testutil.CellRow("r3", 1, 0.35,
		[]string{"O'NEILL Seán", "", "Walsh Pat"}, statementLefts, 0.25)...)
	return arena
}

func TestReconstructStatementPage(t *testing.T) {
	tbl := New(Options{}).Reconstruct(statementArena(), 1)

	require.Len(t, tbl.Rows, 6)
	assert.Equal(t, 3, tbl.Columns)

	require.Equal(t, 0, tbl.HeaderIndex)
	require.NotNil(t, tbl.Header())
	assert.Contains(t, tbl.Header().Text(), "STATEMENT OF PERSONS")

	// rows come back top to bottom
	assert.Contains(t, tbl.Rows[1].Text(), "Member of Parliament")
	assert.Equal(t, "Candidate Name Description (if any) Names of Proposer", tbl.Rows[2].Text())
	assert.Contains(t, tbl.Rows[3].Text(), "SMITH John")
	assert.Contains(t, tbl.Rows[5].Text(), "O'NEILL Seán")

	for _, row := range tbl.Rows {
		assert.False(t, row.Ambiguous)
	}
}

func TestGridPadsMissingCells(t *testing.T) {
	tbl := New(Options{}).Reconstruct(statementArena(), 1)
	grid := tbl.Grid()

	require.Len(t, grid, 6)
	for _, row := range grid {
		assert.Len(t, row, 3)
	}
	assert.Equal(t, []string{"STATEMENT OF PERSONS NOMINATED", "", ""}, grid[0])
	assert.Equal(t, []string{"SMITH John", "Independent", "Jones Mary"}, grid[3])
	assert.Equal(t, []string{"O'NEILL Seán", "", "Walsh Pat"}, grid[5])
}

func TestGridJoinsCellsSharingColumn(t *testing.T) {
	arena := geometry.NewArena()
	arena.Add(
		testutil.LineBlock("a", "Polling", 1, testutil.Box(0.05, 0.1, 0.015, 0.025)),
		testutil.LineBlock("b", "District", 1, testutil.Box(0.07, 0.1, 0.02, 0.025)),
		testutil.LineBlock("c", "Address", 1, testutil.Box(0.40, 0.1, 0.1, 0.025)),
	)

	tbl := New(Options{}).Reconstruct(arena, 1)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, 2, tbl.Columns)
	assert.Equal(t, [][]string{{"Polling District", "Address"}}, tbl.Grid())
}

func TestCandidatesMappedFromColumnHeader(t *testing.T) {
	cands := New(Options{}).Reconstruct(statementArena(), 1).Candidates()

	require.Len(t, cands, 3)
	assert.Equal(t, Candidate{Name: "SMITH John", Description: "Independent", Page: 1}, cands[0])
	assert.Equal(t, Candidate{Name: "DOE Jane", Description: "Green Party", Page: 1}, cands[1])
	assert.Equal(t, Candidate{Name: "O'NEILL Seán", Description: "", Page: 1}, cands[2])
}

func TestCandidatesWithoutColumnHeader(t *testing.T) {
	arena := geometry.NewArena()
	arena.Add(testutil.CellRow("r1", 1, 0.1,
		[]string{"BLOGGS Fred", "Independent"}, []float64{0.05, 0.45}, 0.3)...)
	arena.Add(testutil.CellRow("r2", 1, 0.2,
		[]string{"HUGHES Ann", "Plaid Cymru"}, []float64{0.05, 0.45}, 0.3)...)

	cands := New(Options{}).Reconstruct(arena, 1).Candidates()
	require.Len(t, cands, 2)
	assert.Equal(t, "BLOGGS Fred", cands[0].Name)
	assert.Equal(t, "Plaid Cymru", cands[1].Description)
}

func TestOffsetCellSnapsToNearestBand(t *testing.T) {
	arena := geometry.NewArena()
	arena.Add(testutil.CellRow("hdr", 1, 0.20,
		[]string{"Candidate Name", "Description"}, []float64{0.05, 0.40}, 0.25)...)
	// drifted third cell, still within row tolerance of the band
	arena.Add(testutil.LineBlock("drift", "Proposer", 1, testutil.Box(0.72, 0.208, 0.2, 0.025)))

	tbl := New(Options{}).Reconstruct(arena, 1)
	require.Len(t, tbl.Rows, 1)
	assert.Len(t, tbl.Rows[0].Cells, 3)
	assert.False(t, tbl.Rows[0].Ambiguous)
}

func TestStraddlingCellFlagsBandAmbiguous(t *testing.T) {
	arena := geometry.NewArena()
	arena.Add(
		testutil.LineBlock("a1", "SMITH John", 1, testutil.Box(0.05, 0.3025, 0.3, 0.025)),
		testutil.LineBlock("a2", "Independent", 1, testutil.Box(0.40, 0.3025, 0.2, 0.025)),
		testutil.LineBlock("b1", "DOE Jane", 1, testutil.Box(0.05, 0.3225, 0.3, 0.025)),
		// center falls within tolerance of both bands
		testutil.LineBlock("s1", "Green Party", 1, testutil.Box(0.40, 0.323, 0.2, 0.001)),
	)

	tbl := New(Options{}).Reconstruct(arena, 1)
	require.Len(t, tbl.Rows, 2)

	assert.True(t, tbl.Rows[0].Ambiguous)
	assert.Len(t, tbl.Rows[0].Cells, 3)
	assert.False(t, tbl.Rows[1].Ambiguous)
	assert.Len(t, tbl.Rows[1].Cells, 1)
}

func TestReconstructEmptyPage(t *testing.T) {
	tbl := New(Options{}).Reconstruct(geometry.NewArena(), 1)

	assert.Empty(t, tbl.Rows)
	assert.Equal(t, -1, tbl.HeaderIndex)
	assert.Nil(t, tbl.Header())
	assert.Empty(t, tbl.Candidates())
	assert.Empty(t, tbl.Grid())
}

func TestReconstructAll(t *testing.T) {
	arena := geometry.NewArena()
	arena.Add(testutil.CellRow("p1r1", 1, 0.1, []string{"SMITH John"}, []float64{0.05}, 0.3)...)
	arena.Add(testutil.CellRow("p2r1", 2, 0.1, []string{"DOE Jane"}, []float64{0.05}, 0.3)...)

	tables := New(Options{}).ReconstructAll(arena)
	require.Len(t, tables, 2)
	assert.Equal(t, 1, tables[0].Page)
	assert.Equal(t, 2, tables[1].Page)
	assert.Contains(t, tables[0].Rows[0].Text(), "SMITH John")
	assert.Contains(t, tables[1].Rows[0].Text(), "DOE Jane")
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Greater(t, opts.RowTolerance, 0.0)
	assert.Greater(t, opts.ColumnGapThreshold, 0.0)
}
