package cad

import (
	"errors"
	"os"
)

// ErrNoRenderableEntities is returned by RenderableBounds when a drawing
// (after layer filtering) contains no entity this package can bound.
var ErrNoRenderableEntities = errors.New("drawing contains no renderable entities")

// Bounds is the result of computing a drawing's renderable extent: the
// merged, outlier-filtered bounding box plus bookkeeping on how many
// entities were considered versus actually used.
type Bounds struct {
	DrawingBounds   DrawingBounds
	RawEntityCount  int
	UsedEntityCount int
}

// layerAllowed reports whether layer passes an optional whitelist. A nil
// or empty whitelist allows every layer.
func layerAllowed(layer string, whitelist map[string]bool) bool {
	if len(whitelist) == 0 {
		return true
	}
	return whitelist[layer]
}

func toSet(layers []string) map[string]bool {
	if len(layers) == 0 {
		return nil
	}
	set := make(map[string]bool, len(layers))
	for _, l := range layers {
		set[l] = true
	}
	return set
}

// RenderableBounds computes the overall drawing extent from a DXF file,
// restricted to entity types this package knows how to bound and,
// optionally, to a layer whitelist. Entity bounding boxes are collected,
// passed through the IQR outlier filter, and merged into a single
// DrawingBounds.
//
// Returns ErrNoRenderableEntities if no candidate box survives (including
// the case of an empty or all-outlier set), or an I/O error if the file
// cannot be read.
func RenderableBounds(path string, layers []string) (*Bounds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	entities, err := ReadEntities(data)
	if err != nil {
		return nil, err
	}

	whitelist := toSet(layers)
	var boxes []Rect
	rawCount := 0
	for _, e := range entities {
		if !RenderableTypes[e.Type] || e.Bbox == nil {
			continue
		}
		if !layerAllowed(e.Layer, whitelist) {
			continue
		}
		rawCount++
		boxes = append(boxes, *e.Bbox)
	}

	if len(boxes) == 0 {
		return nil, ErrNoRenderableEntities
	}

	filtered := FilterOutliers(boxes)
	merged := Merge(filtered)

	return &Bounds{
		DrawingBounds:   BoundsFromRect(merged),
		RawEntityCount:  rawCount,
		UsedEntityCount: len(filtered),
	}, nil
}

// EntitiesIntersecting returns every renderable entity (optionally
// restricted to entityTypes) whose bounding box intersects bbox. An empty
// entityTypes slice matches every renderable type.
func EntitiesIntersecting(path string, bbox Rect, entityTypes []string) ([]Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	entities, err := ReadEntities(data)
	if err != nil {
		return nil, err
	}

	typeSet := toSet(entityTypes)
	var out []Entity
	for _, e := range entities {
		if !RenderableTypes[e.Type] {
			continue
		}
		if len(typeSet) > 0 && !typeSet[e.Type] {
			continue
		}
		if e.Bbox == nil || !Intersects(*e.Bbox, bbox) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
