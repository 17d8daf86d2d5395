package cad

import (
	"math"
	"testing"
)

func TestIntersects(t *testing.T) {
	a := Rect{X1: 0, Y1: 0, X2: 100, Y2: 100}
	b := Rect{X1: 50, Y1: 50, X2: 150, Y2: 150}
	if !Intersects(a, b) {
		t.Fatal("expected overlapping rects to intersect")
	}

	c := Rect{X1: 200, Y1: 200, X2: 300, Y2: 300}
	if Intersects(a, c) {
		t.Fatal("expected disjoint rects not to intersect")
	}

	// A line crossing the edge of a region must still be reported as
	// intersecting even though most of it lies outside.
	crossing := Rect{X1: -50, Y1: 150, X2: 150, Y2: 150}
	region := Rect{X1: 0, Y1: 100, X2: 100, Y2: 200}
	if !Intersects(crossing, region) {
		t.Fatal("expected crossing edge to intersect region")
	}

	if Intersects(Rect{}, b) {
		t.Fatal("empty rect must never intersect")
	}
}

func TestQuantile(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	if q := Quantile(values, 0); q != 1 {
		t.Fatalf("q=0 expected 1, got %v", q)
	}
	if q := Quantile(values, 1); q != 5 {
		t.Fatalf("q=1 expected 5, got %v", q)
	}
	if q := Quantile(values, 0.5); q != 3 {
		t.Fatalf("q=0.5 expected 3, got %v", q)
	}
}

func TestFilterOutliersRejectsFarPoint(t *testing.T) {
	var boxes []Rect
	for i := 0; i < 30; i++ {
		x := float64(i % 10)
		y := float64(i / 10)
		boxes = append(boxes, Rect{X1: x, Y1: y, X2: x + 1, Y2: y + 1})
	}
	boxes = append(boxes, Rect{X1: 1e9, Y1: 1e9, X2: 1e9 + 1, Y2: 1e9 + 1})

	filtered := FilterOutliers(boxes)
	if len(filtered) != 30 {
		t.Fatalf("expected the single outlier dropped, got %d of %d", len(filtered), len(boxes))
	}

	merged := Merge(filtered)
	if merged.X2 > 100 {
		t.Fatalf("merged bounds leaked the outlier: %+v", merged)
	}
}

func TestFilterOutliersKeepsAllWhenTooFewSurvive(t *testing.T) {
	var boxes []Rect
	// 20 points tightly clustered plus a few scattered -- if the scattered
	// points would push survivors below the floor, nothing is dropped.
	for i := 0; i < 20; i++ {
		boxes = append(boxes, Rect{X1: float64(i), Y1: 0, X2: float64(i) + 1, Y2: 1})
	}
	filtered := FilterOutliers(boxes)
	if len(filtered) != len(boxes) {
		t.Fatalf("expected no filtering under the floor, got %d of %d", len(filtered), len(boxes))
	}
}

func TestBoundsFromRectRounding(t *testing.T) {
	b := BoundsFromRect(Rect{X1: 0, Y1: 0, X2: 1234.567, Y2: 2000})
	if math.Abs(b.Width-1234.57) > 0.001 {
		t.Fatalf("expected rounded width 1234.57, got %v", b.Width)
	}
	if math.Abs(b.HeightM-2.0) > 0.001 {
		t.Fatalf("expected height_m 2.0, got %v", b.HeightM)
	}
}
