package cad

import (
	"bytes"
	"math"
)

// RenderableTypes is the set of DXF entity types this package knows how to
// bound, render, and extract text from. Anything else is ignored by the
// bounds engine and the region inspector, though it is still yielded by
// Entities for callers that want raw access.
var RenderableTypes = map[string]bool{
	"LINE":       true,
	"CIRCLE":     true,
	"ARC":        true,
	"LWPOLYLINE": true,
	"POLYLINE":   true,
	"TEXT":       true,
	"MTEXT":      true,
}

const (
	defaultTextHeight   = 100.0
	minTextHeight       = 1.0
	textVisualCharCap   = 64
	textWidthHeightMult = 80.0
	textHeightScale     = 0.6
)

// Entity is a decoded DXF entity with its derived bounding box and text
// content, ready for filtering, intersection tests, and bounds merging.
type Entity struct {
	Type   string
	Layer  string
	Bbox   *Rect
	Text   string
	Insert bool // true if this entity is an INSERT (block reference)
	raw    rawEntity
}

// ReadEntities parses a DXF byte stream and returns every entity in model
// space, including virtual entities produced by expanding INSERT block
// references. If expanding a particular INSERT's block fails or the block
// is missing, the expansion is silently skipped and the INSERT entity
// itself is still yielded -- a malformed or unresolved block reference
// must never abort iteration of the rest of the drawing.
func ReadEntities(data []byte) ([]Entity, error) {
	doc, err := parseDocument(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var out []Entity
	for _, re := range doc.entities {
		out = append(out, entityFromRaw(re))
		if re.dxfType == "INSERT" {
			out = append(out, expandInsert(re, doc.blocks)...)
		}
	}
	return out, nil
}

func entityFromRaw(re rawEntity) Entity {
	e := Entity{
		Type:   re.dxfType,
		Layer:  re.layer(),
		raw:    re,
		Insert: re.dxfType == "INSERT",
	}
	e.Bbox = entityBbox(re)
	e.Text = extractText(re)
	return e
}

// expandInsert computes the virtual entities contributed by an INSERT
// referencing a block, applying the insert's translation, per-axis scale,
// and rotation to each child entity's bounding box.
func expandInsert(insert rawEntity, blocks map[string][]rawEntity) []Entity {
	name, ok := insert.str(2)
	if !ok {
		return nil
	}
	children, ok := blocks[name]
	if !ok {
		return nil
	}

	ix := insert.float(10, 0)
	iy := insert.float(20, 0)
	sx := insert.float(41, 1)
	sy := insert.float(42, 1)
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}
	rotDeg := insert.float(50, 0)
	rot := rotDeg * math.Pi / 180

	var out []Entity
	for _, child := range children {
		ce := entityFromRaw(child)
		if ce.Bbox == nil {
			continue
		}
		transformed := transformRect(*ce.Bbox, ix, iy, sx, sy, rot)
		ce.Bbox = &transformed
		out = append(out, ce)
	}
	return out
}

// transformRect applies scale then rotation then translation to all four
// corners of r and returns the axis-aligned box enclosing the result.
func transformRect(r Rect, tx, ty, sx, sy, rot float64) Rect {
	corners := [][2]float64{
		{r.X1, r.Y1}, {r.X2, r.Y1}, {r.X2, r.Y2}, {r.X1, r.Y2},
	}
	cosR, sinR := math.Cos(rot), math.Sin(rot)

	out := Rect{X1: math.Inf(1), Y1: math.Inf(1), X2: math.Inf(-1), Y2: math.Inf(-1)}
	for _, c := range corners {
		x, y := c[0]*sx, c[1]*sy
		rx := x*cosR - y*sinR
		ry := x*sinR + y*cosR
		rx += tx
		ry += ty
		if rx < out.X1 {
			out.X1 = rx
		}
		if ry < out.Y1 {
			out.Y1 = ry
		}
		if rx > out.X2 {
			out.X2 = rx
		}
		if ry > out.Y2 {
			out.Y2 = ry
		}
	}
	return out
}

// entityBbox computes the per-entity bounding box for the renderable types
// this package understands. Unsupported types and malformed geometry
// return nil rather than erroring -- a single bad entity must never abort
// bounds computation for the whole drawing.
func entityBbox(re rawEntity) *Rect {
	switch re.dxfType {
	case "LINE":
		x1, y1 := re.float(10, 0), re.float(20, 0)
		x2, y2 := re.float(11, 0), re.float(21, 0)
		r := Rect{
			X1: math.Min(x1, x2), Y1: math.Min(y1, y2),
			X2: math.Max(x1, x2), Y2: math.Max(y1, y2),
		}
		return &r

	case "CIRCLE", "ARC":
		cx, cy := re.float(10, 0), re.float(20, 0)
		radius := re.float(40, 0)
		r := Rect{X1: cx - radius, Y1: cy - radius, X2: cx + radius, Y2: cy + radius}
		return &r

	case "LWPOLYLINE":
		xs := re.floats(10)
		ys := re.floats(20)
		return boundsFromVertices(xs, ys)

	case "POLYLINE":
		// POLYLINE vertices live in separate VERTEX sub-entities in the raw
		// DXF stream; this parser flattens them onto the POLYLINE's own
		// tags during section parsing is not performed, so fall back to
		// any 10/20 pairs captured directly on the POLYLINE entity itself
		// (lightweight producers sometimes emit them inline).
		xs := re.floats(10)
		ys := re.floats(20)
		if len(xs) == 0 {
			return nil
		}
		return boundsFromVertices(xs, ys)

	case "TEXT", "MTEXT":
		x, y := re.float(10, 0), re.float(20, 0)
		height := entityTextHeight(re)
		text := extractText(re)
		visualChars := len(text)
		if visualChars < 1 {
			visualChars = 1
		}
		if visualChars > textVisualCharCap {
			visualChars = textVisualCharCap
		}
		width := float64(visualChars) * height * textHeightScale
		maxWidth := textWidthHeightMult * height
		if width > maxWidth {
			width = maxWidth
		}
		r := Rect{X1: x, Y1: y, X2: x + width, Y2: y + height}
		return &r

	default:
		return nil
	}
}

func boundsFromVertices(xs, ys []float64) *Rect {
	if len(xs) == 0 || len(ys) == 0 {
		return nil
	}
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	r := Rect{X1: xs[0], Y1: ys[0], X2: xs[0], Y2: ys[0]}
	for i := 0; i < n; i++ {
		if xs[i] < r.X1 {
			r.X1 = xs[i]
		}
		if xs[i] > r.X2 {
			r.X2 = xs[i]
		}
		if ys[i] < r.Y1 {
			r.Y1 = ys[i]
		}
		if ys[i] > r.Y2 {
			r.Y2 = ys[i]
		}
	}
	return &r
}

// entityTextHeight resolves TEXT's dxf.height (code 40) or MTEXT's
// dxf.char_height (also code 40 in DXF), defaulting to 100 and clamping
// non-positive values up to 1.0 for numeric stability.
func entityTextHeight(re rawEntity) float64 {
	h := re.float(40, defaultTextHeight)
	if h <= 0 {
		h = minTextHeight
	}
	return h
}

// extractText pulls the text payload from TEXT (code 1) or MTEXT (code 1,
// continued across code-3 fragments), simplifies MTEXT formatting codes,
// and decodes MIF/unicode escapes. Any internal failure falls back to the
// raw, undecoded text rather than propagating an error.
func extractText(re rawEntity) string {
	switch re.dxfType {
	case "TEXT":
		raw, _ := re.str(1)
		return DecodeCADText(raw)
	case "MTEXT":
		var combined string
		for _, frag := range re.strs(3) {
			combined += frag
		}
		if main, ok := re.str(1); ok {
			combined += main
		}
		return DecodeCADText(PlainMText(combined))
	default:
		return ""
	}
}
