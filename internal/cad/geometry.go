// Package cad implements the geometry, text-decoding, and entity-extraction
// primitives used to analyze DXF drawings: bounding boxes, outlier-aware
// bounds computation, and region inspection.
package cad

import "sort"

// Bbox is an axis-aligned bounding box in drawing units (millimeters by
// convention). Width and height are always positive for a valid box.
type Bbox struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Rect is the (x1,y1)-(x2,y2) corner form of a bounding box, used internally
// for intersection and merge arithmetic.
type Rect struct {
	X1, Y1, X2, Y2 float64
}

// Valid reports whether the rect has non-inverted corners.
func (r Rect) Valid() bool {
	return r.X1 <= r.X2 && r.Y1 <= r.Y2
}

// ToRect converts a Bbox to its corner representation.
func (b Bbox) ToRect() Rect {
	return Rect{X1: b.X, Y1: b.Y, X2: b.X + b.Width, Y2: b.Y + b.Height}
}

// ToBbox converts a Rect back to width/height form.
func (r Rect) ToBbox() Bbox {
	return Bbox{X: r.X1, Y: r.Y1, Width: r.X2 - r.X1, Height: r.Y2 - r.Y1}
}

// Center returns the rect's midpoint.
func (r Rect) Center() (float64, float64) {
	return (r.X1 + r.X2) / 2, (r.Y1 + r.Y2) / 2
}

// Intersects reports whether two rects overlap. An empty (zero-value) rect
// never intersects anything.
func Intersects(a, b Rect) bool {
	if a == (Rect{}) {
		return false
	}
	if a.X2 < b.X1 || a.X1 > b.X2 || a.Y2 < b.Y1 || a.Y1 > b.Y2 {
		return false
	}
	return true
}

// Merge returns the smallest rect containing every rect in boxes. It panics
// never; an empty slice returns the zero Rect.
func Merge(boxes []Rect) Rect {
	if len(boxes) == 0 {
		return Rect{}
	}
	out := boxes[0]
	for _, b := range boxes[1:] {
		if b.X1 < out.X1 {
			out.X1 = b.X1
		}
		if b.Y1 < out.Y1 {
			out.Y1 = b.Y1
		}
		if b.X2 > out.X2 {
			out.X2 = b.X2
		}
		if b.Y2 > out.Y2 {
			out.Y2 = b.Y2
		}
	}
	return out
}

// Quantile computes the q-th quantile (0<=q<=1) of values using linear
// interpolation between the two nearest ranks. values need not be sorted;
// a sorted copy is made internally. q<=0 returns the minimum, q>=1 returns
// the maximum.
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[n-1]
	}
	pos := float64(n-1) * q
	low := int(pos)
	high := low + 1
	if high > n-1 {
		high = n - 1
	}
	frac := pos - float64(low)
	return sorted[low] + (sorted[high]-sorted[low])*frac
}

// minOutlierKeep is the floor on how many boxes an IQR filter pass must
// retain, expressed both as an absolute count and a fraction of the input.
const (
	minOutlierKeepAbsolute = 10
	minOutlierKeepFraction = 0.2
	outlierIQRMultiplier   = 4.0
)

// FilterOutliers removes boxes whose center lies far outside the
// interquartile range of all centers on either axis. If filtering would
// drop too many boxes (fewer than max(10, 20% of input) survive), the
// original unfiltered slice is returned instead -- a dense, legitimately
// scattered drawing should not be gutted by an overly aggressive filter.
func FilterOutliers(boxes []Rect) []Rect {
	if len(boxes) < 20 {
		return boxes
	}

	centersX := make([]float64, len(boxes))
	centersY := make([]float64, len(boxes))
	for i, b := range boxes {
		cx, cy := b.Center()
		centersX[i] = cx
		centersY[i] = cy
	}

	q1x, q3x := Quantile(centersX, 0.25), Quantile(centersX, 0.75)
	q1y, q3y := Quantile(centersY, 0.25), Quantile(centersY, 0.75)

	iqrX := q3x - q1x
	if iqrX < 1.0 {
		iqrX = 1.0
	}
	iqrY := q3y - q1y
	if iqrY < 1.0 {
		iqrY = 1.0
	}

	loX, hiX := q1x-outlierIQRMultiplier*iqrX, q3x+outlierIQRMultiplier*iqrX
	loY, hiY := q1y-outlierIQRMultiplier*iqrY, q3y+outlierIQRMultiplier*iqrY

	filtered := make([]Rect, 0, len(boxes))
	for i, b := range boxes {
		cx, cy := centersX[i], centersY[i]
		if cx >= loX && cx <= hiX && cy >= loY && cy <= hiY {
			filtered = append(filtered, b)
		}
	}

	minKeep := int(float64(len(boxes)) * minOutlierKeepFraction)
	if minKeep < minOutlierKeepAbsolute {
		minKeep = minOutlierKeepAbsolute
	}
	if len(filtered) < minKeep {
		return boxes
	}
	return filtered
}

// DrawingBounds is the merged, outlier-filtered extent of a drawing's
// renderable entities.
type DrawingBounds struct {
	MinX    float64 `json:"min_x"`
	MinY    float64 `json:"min_y"`
	MaxX    float64 `json:"max_x"`
	MaxY    float64 `json:"max_y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	WidthM  float64 `json:"width_m"`
	HeightM float64 `json:"height_m"`
}

func round2(v float64) float64 {
	return float64(int64(v*100+sign(v)*0.5)) / 100
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// BoundsFromRect builds a DrawingBounds from a merged rect, rounding every
// field to 2 decimal places and deriving the meter-scaled dimensions
// (drawing units are assumed to be millimeters).
func BoundsFromRect(r Rect) DrawingBounds {
	width := r.X2 - r.X1
	height := r.Y2 - r.Y1
	return DrawingBounds{
		MinX:    round2(r.X1),
		MinY:    round2(r.Y1),
		MaxX:    round2(r.X2),
		MaxY:    round2(r.Y2),
		Width:   round2(width),
		Height:  round2(height),
		WidthM:  round2(width / 1000),
		HeightM: round2(height / 1000),
	}
}
