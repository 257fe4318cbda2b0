package geometry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDocumentGroupsLinesByPage(t *testing.T) {
	a := NewArena()
	a.Add(lineAt("p1l1", "Statement of Persons Nominated", 1, 0.05, 0.1))
	a.Add(lineAt("p1l2", "Candidate Name", 1, 0.3, 0.1))
	a.Add(lineAt("p2l1", "JONES Fred", 2, 0.1, 0.1))

	doc := NewDocument(a)
	require.Equal(t, 2, doc.PageCount())
	assert.Equal(t, 1, doc.Pages[0].Number)
	assert.Equal(t, 2, doc.Pages[1].Number)
	assert.Len(t, doc.Pages[0].Lines, 2)
	assert.Len(t, doc.Pages[1].Lines, 1)
	assert.Equal(t, "Statement of Persons Nominated\nCandidate Name", doc.Pages[0].Text())
	assert.Equal(t, "JONES Fred", doc.Page(2).Text())
	assert.Nil(t, doc.Page(0))
	assert.Nil(t, doc.Page(3))
}

func TestNewDocumentKeepsEmptyPageSlots(t *testing.T) {
	a := NewArena()
	a.Add(lineAt("p1l1", "first", 1, 0.1, 0.1))
	// Page 2 declared only by its PAGE block, no text on it.
	a.Add(Block{BlockType: BlockTypePage, ID: "page2", Page: 2})
	a.Add(lineAt("p3l1", "third", 3, 0.1, 0.1))

	doc := NewDocument(a)
	require.Equal(t, 3, doc.PageCount())
	assert.Empty(t, doc.Pages[1].Lines)
	assert.Equal(t, 2, doc.Pages[1].Number, "blank middle page keeps its slot")
}

func TestPageHeadingWithinBand(t *testing.T) {
	a := NewArena()
	a.Add(lineAt("h1", "STATEMENT OF PERSONS NOMINATED", 1, 0.03, 0.1))
	a.Add(lineAt("h2", "Strensall Ward 2019", 1, 0.1, 0.1))
	a.Add(lineAt("body", "SMITH John Independent", 1, 0.6, 0.1))

	doc := NewDocument(a)
	heading, err := doc.Pages[0].Heading(0.4)
	require.NoError(t, err)

	for _, tok := range []string{"statement", "of", "persons", "nominated", "strensall", "ward"} {
		_, ok := heading[tok]
		assert.True(t, ok, "heading should contain %q", tok)
	}
	_, ok := heading["smith"]
	assert.False(t, ok, "body text below the band stays out of the heading")
	_, ok = heading["2019"]
	assert.False(t, ok, "digits never survive normalization")
}

func TestPageHeadingZeroFragmentsErrors(t *testing.T) {
	a := NewArena()
	a.Add(Block{BlockType: BlockTypePage, ID: "page1", Page: 1})

	doc := NewDocument(a)
	_, err := doc.Pages[0].Heading(0.4)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoTextInDocument)

	var noText *NoTextError
	require.ErrorAs(t, err, &noText)
	assert.Equal(t, 1, noText.Page)
}

func TestPageHeadingBelowBandIsEmptyNotError(t *testing.T) {
	a := NewArena()
	a.Add(lineAt("body", "only body text here", 1, 0.9, 0.1))

	doc := NewDocument(a)
	heading, err := doc.Pages[0].Heading(0.4)
	require.NoError(t, err)
	assert.Empty(t, heading)
}

func TestPageBlank(t *testing.T) {
	a := NewArena()
	a.Add(lineAt("p1", "Statement of Persons Nominated for Strensall", 1, 0.05, 0.1))
	a.Add(lineAt("p2", "22", 2, 0.05, 0.1))

	doc := NewDocument(a)
	assert.False(t, doc.Pages[0].Blank(3))
	assert.True(t, doc.Pages[1].Blank(3), "digit-only page has no meaningful tokens")
	assert.Equal(t, 0, doc.Pages[1].TokenCount())
}

func TestFromPageTexts(t *testing.T) {
	doc := FromPageTexts([]string{
		"Statement of Persons Nominated\nElection of a Councillor",
		"",
		"JONES Fred\nLabour Party",
	})
	require.Equal(t, 3, doc.PageCount())
	assert.Equal(t, "Statement of Persons Nominated\nElection of a Councillor", doc.Pages[0].Text())
	assert.Empty(t, doc.Pages[1].Lines, "empty text keeps an empty page slot")
	assert.True(t, doc.Pages[1].Blank(1))

	heading, err := doc.Pages[0].Heading(0.4)
	require.NoError(t, err)
	_, ok := heading["statement"]
	assert.True(t, ok)

	// Synthesized lines carry positions so band extraction stays meaningful.
	first := doc.Pages[0].Lines[0]
	second := doc.Pages[0].Lines[1]
	assert.Less(t, first.Geometry.BoundingBox.Top, second.Geometry.BoundingBox.Top)
	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestDocumentText(t *testing.T) {
	doc := FromPageTexts([]string{"page one", "page two"})
	assert.Equal(t, "page one\fpage two", doc.Text())

	var errCheck error = &NoTextError{Page: 2}
	assert.True(t, errors.Is(errCheck, ErrNoTextInDocument))
}
