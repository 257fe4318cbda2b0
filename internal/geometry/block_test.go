package geometry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundingBoxEdges(t *testing.T) {
	box := BoundingBox{Left: 0.1, Top: 0.2, Width: 0.4, Height: 0.1}
	assert.InDelta(t, 0.5, box.Right(), 1e-9)
	assert.InDelta(t, 0.3, box.Bottom(), 1e-9)
	assert.InDelta(t, 0.3, box.CenterX(), 1e-9)
	assert.InDelta(t, 0.25, box.CenterY(), 1e-9)
}

func TestBoxFromPolygon(t *testing.T) {
	poly := []Point{
		{X: 0.2, Y: 0.1},
		{X: 0.6, Y: 0.1},
		{X: 0.6, Y: 0.3},
		{X: 0.2, Y: 0.3},
	}
	box := BoxFromPolygon(poly)
	assert.InDelta(t, 0.2, box.Left, 1e-9)
	assert.InDelta(t, 0.1, box.Top, 1e-9)
	assert.InDelta(t, 0.4, box.Width, 1e-9)
	assert.InDelta(t, 0.2, box.Height, 1e-9)

	assert.Equal(t, BoundingBox{}, BoxFromPolygon(nil))
}

func TestBlockChildIDs(t *testing.T) {
	b := Block{
		Relationships: []Relationship{
			{Type: RelationshipChild, IDs: []string{"a", "b"}},
			{Type: "VALUE", IDs: []string{"x"}},
			{Type: RelationshipChild, IDs: []string{"c"}},
		},
	}
	assert.Equal(t, []string{"a", "b", "c"}, b.ChildIDs())
	assert.Nil(t, Block{}.ChildIDs())
}

func TestBlockPageNumberDefaultsToOne(t *testing.T) {
	assert.Equal(t, 1, Block{}.PageNumber())
	assert.Equal(t, 3, Block{Page: 3}.PageNumber())
}

func TestBlockJSONMatchesServiceSchema(t *testing.T) {
	raw := `{
		"BlockType": "LINE",
		"Confidence": 99.21,
		"Text": "STATEMENT OF PERSONS NOMINATED",
		"Geometry": {
			"BoundingBox": {"Width": 0.6, "Height": 0.03, "Left": 0.2, "Top": 0.05},
			"Polygon": [
				{"X": 0.2, "Y": 0.05},
				{"X": 0.8, "Y": 0.05},
				{"X": 0.8, "Y": 0.08},
				{"X": 0.2, "Y": 0.08}
			]
		},
		"Id": "fb1d266c-ec77-4cc2-9122-713f7880700a",
		"Relationships": [{"Type": "CHILD", "Ids": ["a1", "a2"]}],
		"Page": 1
	}`
	var b Block
	require.NoError(t, json.Unmarshal([]byte(raw), &b))

	assert.Equal(t, BlockTypeLine, b.BlockType)
	assert.Equal(t, "STATEMENT OF PERSONS NOMINATED", b.Text)
	assert.Equal(t, "fb1d266c-ec77-4cc2-9122-713f7880700a", b.ID)
	assert.Equal(t, []string{"a1", "a2"}, b.ChildIDs())
	assert.InDelta(t, 0.05, b.Geometry.BoundingBox.Top, 1e-9)
	assert.Len(t, b.Geometry.Polygon, 4)

	// Re-marshalling keeps the wire field names.
	out, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"Id":"fb1d266c-ec77-4cc2-9122-713f7880700a"`)
	assert.Contains(t, string(out), `"BlockType":"LINE"`)
	assert.Contains(t, string(out), `"Ids":["a1","a2"]`)
	assert.NotContains(t, string(out), `"ID"`)
}
