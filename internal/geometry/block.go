// Package geometry models an OCR-detected document as a block graph: an
// arena of PAGE, LINE and WORD blocks indexed by stable ID, with bounding
// geometry in a normalized 0..1 coordinate space. The schema mirrors the
// detection service wire format so persisted raw results re-parse
// byte-identically.
package geometry

// Block type tags as reported by the detection service.
const (
	BlockTypePage = "PAGE"
	BlockTypeLine = "LINE"
	BlockTypeWord = "WORD"
)

// RelationshipChild links a parent block to its children: a PAGE block's
// children are its LINE blocks, a LINE block's children its WORD blocks.
const RelationshipChild = "CHILD"

// Point is one corner of a block polygon, normalized to page size.
type Point struct {
	X float64 `json:"X"`
	Y float64 `json:"Y"`
}

// BoundingBox is an axis-aligned box in normalized page coordinates.
// Left and Top locate the upper-left corner; Width and Height extend
// right and down.
type BoundingBox struct {
	Width  float64 `json:"Width"`
	Height float64 `json:"Height"`
	Left   float64 `json:"Left"`
	Top    float64 `json:"Top"`
}

// Right returns the right edge of the box.
func (b BoundingBox) Right() float64 { return b.Left + b.Width }

// Bottom returns the bottom edge of the box.
func (b BoundingBox) Bottom() float64 { return b.Top + b.Height }

// CenterX returns the horizontal center of the box.
func (b BoundingBox) CenterX() float64 { return b.Left + b.Width/2 }

// CenterY returns the vertical center of the box.
func (b BoundingBox) CenterY() float64 { return b.Top + b.Height/2 }

// Geometry carries both the axis-aligned box and the four-corner polygon
// reported for a block.
type Geometry struct {
	BoundingBox BoundingBox `json:"BoundingBox"`
	Polygon     []Point     `json:"Polygon,omitempty"`
}

// Relationship links a block to related block IDs by type.
type Relationship struct {
	Type string   `json:"Type"`
	IDs  []string `json:"Ids"`
}

// Block is one unit of detected content. Parent/child structure is
// expressed through ID lists resolved against an Arena, never through
// in-memory pointers.
type Block struct {
	BlockType     string         `json:"BlockType"`
	Confidence    float64        `json:"Confidence,omitempty"`
	Text          string         `json:"Text,omitempty"`
	Geometry      Geometry       `json:"Geometry"`
	ID            string         `json:"Id"`
	Relationships []Relationship `json:"Relationships,omitempty"`
	Page          int            `json:"Page,omitempty"`
}

// ChildIDs returns the IDs of b's CHILD relationships in declared order.
func (b Block) ChildIDs() []string {
	var ids []string
	for _, rel := range b.Relationships {
		if rel.Type == RelationshipChild {
			ids = append(ids, rel.IDs...)
		}
	}
	return ids
}

// PageNumber returns the 1-based page of b. Single-page responses may omit
// the field; those blocks belong to page 1.
func (b Block) PageNumber() int {
	if b.Page <= 0 {
		return 1
	}
	return b.Page
}

// BoxFromPolygon computes the bounding box of a four-corner polygon.
func BoxFromPolygon(poly []Point) BoundingBox {
	if len(poly) == 0 {
		return BoundingBox{}
	}
	minX, minY := poly[0].X, poly[0].Y
	maxX, maxY := poly[0].X, poly[0].Y
	for _, p := range poly[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	return BoundingBox{Left: minX, Top: minY, Width: maxX - minX, Height: maxY - minY}
}
