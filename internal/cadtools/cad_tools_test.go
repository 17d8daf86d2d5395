package cadtools

import (
	"context"
	"encoding/json"
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

func decodeEnvelope(t *testing.T, content string) map[string]any {
	t.Helper()
	var parsed map[string]any
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		t.Fatalf("unmarshal envelope: %v\n%s", err, content)
	}
	return parsed
}

func TestRenderableBoundsToolReturnsBounds(t *testing.T) {
	path := writeDXF(t, lineEntity("WALL", 0, 0, 100, 0)+lineEntity("WALL", 100, 0, 100, 100))

	params, _ := json.Marshal(map[string]any{"file_path": path})
	result, err := RenderableBoundsTool{}.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error envelope: %s", result.Content)
	}

	parsed := decodeEnvelope(t, result.Content)
	data := parsed["data"].(map[string]any)
	if data["used_entity_count"].(float64) != 2 {
		t.Fatalf("expected 2 used entities, got %+v", data)
	}
}

func TestRenderableBoundsToolRejectsBadArgs(t *testing.T) {
	result, err := RenderableBoundsTool{}.Execute(context.Background(), json.RawMessage(`not json`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error envelope for malformed arguments")
	}
}

func TestRenderableBoundsToolPropagatesNoRenderableEntities(t *testing.T) {
	path := writeDXF(t, "")
	params, _ := json.Marshal(map[string]any{"file_path": path})
	result, err := RenderableBoundsTool{}.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error envelope when no renderable entities exist")
	}
}

func TestExtractEntitiesToolFiltersByBboxAndType(t *testing.T) {
	body := lineEntity("WALL", 0, 0, 10, 10) + "0\nCIRCLE\n8\nWALL\n10\n500\n20\n500\n40\n5\n"
	path := writeDXF(t, body)

	params, _ := json.Marshal(map[string]any{
		"file_path":    path,
		"bbox":         map[string]any{"x": -1, "y": -1, "width": 20, "height": 20},
		"entity_types": []string{"LINE"},
	})
	result, err := ExtractEntitiesTool{}.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got: %s", result.Content)
	}

	parsed := decodeEnvelope(t, result.Content)
	data := parsed["data"].(map[string]any)
	if data["total_count"].(float64) != 1 {
		t.Fatalf("expected a single matching entity, got %+v", data)
	}
}

func TestExtractEntitiesToolRejectsNonPositiveBbox(t *testing.T) {
	path := writeDXF(t, lineEntity("WALL", 0, 0, 10, 10))
	params, _ := json.Marshal(map[string]any{
		"file_path": path,
		"bbox":      map[string]any{"x": 0, "y": 0, "width": 0, "height": 10},
	})
	result, err := ExtractEntitiesTool{}.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error envelope for zero-width bbox")
	}
}

func TestInspectRegionToolRendersAndSummarizes(t *testing.T) {
	body := lineEntity("WALL", 0, 0, 50, 50) + "0\nTEXT\n8\nPUB_TEXT\n10\n10\n20\n10\n1\nRoom 101\n"
	path := writeDXF(t, body)

	tool := InspectRegionTool{WorkspaceDir: t.TempDir()}
	params, _ := json.Marshal(map[string]any{
		"file_path": path,
		"x":         0, "y": 0, "width": 100, "height": 100,
	})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got: %s", result.Content)
	}

	parsed := decodeEnvelope(t, result.Content)
	data := parsed["data"].(map[string]any)
	if data["image_path"] == "" || data["image_path"] == nil {
		t.Fatalf("expected a rendered image path, got %+v", data)
	}
	summary := data["entity_summary"].(map[string]any)
	if summary["total_count"].(float64) != 2 {
		t.Fatalf("expected 2 entities summarized, got %+v", summary)
	}
}

func TestInspectRegionToolRejectsInvalidDimensions(t *testing.T) {
	path := writeDXF(t, lineEntity("WALL", 0, 0, 10, 10))
	tool := InspectRegionTool{WorkspaceDir: t.TempDir()}
	params, _ := json.Marshal(map[string]any{
		"file_path": path,
		"x":         0, "y": 0, "width": -5, "height": 10,
	})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error envelope for a negative width")
	}
}
