package cad

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// writeDXF writes a minimal ENTITIES-only DXF file for test fixtures.
func writeDXF(t *testing.T, body string) string {
	t.Helper()
	doc := "0\nSECTION\n2\nENTITIES\n" + body + "0\nENDSEC\n0\nEOF\n"
	dir := t.TempDir()
	path := filepath.Join(dir, "drawing.dxf")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func lineEntity(layer string, x1, y1, x2, y2 float64) string {
	return fmt.Sprintf("0\nLINE\n8\n%s\n10\n%g\n20\n%g\n11\n%g\n21\n%g\n", layer, x1, y1, x2, y2)
}

func TestRenderableBoundsMergesEntities(t *testing.T) {
	body := lineEntity("WALL", 0, 0, 100, 0) + lineEntity("WALL", 100, 0, 100, 100)
	path := writeDXF(t, body)

	bounds, err := RenderableBounds(path, nil)
	if err != nil {
		t.Fatalf("RenderableBounds: %v", err)
	}
	if bounds.RawEntityCount != 2 {
		t.Fatalf("expected 2 raw entities, got %d", bounds.RawEntityCount)
	}
	if bounds.DrawingBounds.MaxX != 100 || bounds.DrawingBounds.MaxY != 100 {
		t.Fatalf("unexpected merged bounds: %+v", bounds.DrawingBounds)
	}
}

func TestRenderableBoundsFiltersByLayer(t *testing.T) {
	body := lineEntity("WALL", 0, 0, 10, 0) + lineEntity("NOTES", 500, 500, 600, 600)
	path := writeDXF(t, body)

	bounds, err := RenderableBounds(path, []string{"WALL"})
	if err != nil {
		t.Fatalf("RenderableBounds: %v", err)
	}
	if bounds.RawEntityCount != 1 {
		t.Fatalf("expected layer whitelist to drop the NOTES line, got %d raw entities", bounds.RawEntityCount)
	}
	if bounds.DrawingBounds.MaxX != 10 {
		t.Fatalf("unexpected bounds after layer filter: %+v", bounds.DrawingBounds)
	}
}

func TestRenderableBoundsNoEntitiesReturnsError(t *testing.T) {
	path := writeDXF(t, "")
	if _, err := RenderableBounds(path, nil); err != ErrNoRenderableEntities {
		t.Fatalf("expected ErrNoRenderableEntities, got %v", err)
	}
}

func TestRenderableBoundsMissingFile(t *testing.T) {
	if _, err := RenderableBounds(filepath.Join(t.TempDir(), "missing.dxf"), nil); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestEntitiesIntersectingFiltersByType(t *testing.T) {
	body := lineEntity("WALL", 0, 0, 10, 10) + "0\nCIRCLE\n8\nWALL\n10\n500\n20\n500\n40\n5\n"
	path := writeDXF(t, body)

	lines, err := EntitiesIntersecting(path, Rect{X1: -1, Y1: -1, X2: 20, Y2: 20}, []string{"LINE"})
	if err != nil {
		t.Fatalf("EntitiesIntersecting: %v", err)
	}
	if len(lines) != 1 || lines[0].Type != "LINE" {
		t.Fatalf("expected a single LINE match, got %+v", lines)
	}
}
