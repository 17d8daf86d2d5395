// Package cadtools adapts the internal/cad drawing-analysis primitives to
// the agent.Tool interface so they can be registered, scheduled, and
// sanitized like any other tool call.
package cadtools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fieldstonelabs/cadagent/internal/agent"
	"github.com/fieldstonelabs/cadagent/internal/cad"
)

// WorkspaceDir is injected into region-rendering tools so rendered PNGs
// land under the configured workspace rather than a hardcoded path.
type WorkspaceDir string

var renderableBoundsSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "file_path": {"type": "string", "description": "path to the DXF drawing"},
    "layers": {"type": "array", "items": {"type": "string"}, "description": "optional layer whitelist"}
  },
  "required": ["file_path"]
}`)

// RenderableBoundsTool implements get_renderable_bounds (spec §4.4).
type RenderableBoundsTool struct{}

func (RenderableBoundsTool) Name() string             { return "get_renderable_bounds" }
func (RenderableBoundsTool) Description() string      { return "Computes the outlier-filtered drawing extent over renderable entities, optionally restricted to a layer whitelist." }
func (RenderableBoundsTool) Schema() json.RawMessage  { return renderableBoundsSchema }

func (RenderableBoundsTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		FilePath string   `json:"file_path"`
		Layers   []string `json:"layers"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	bounds, err := cad.RenderableBounds(args.FilePath, args.Layers)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	data, _ := json.Marshal(map[string]any{
		"bounds":            bounds.DrawingBounds,
		"raw_entity_count":  bounds.RawEntityCount,
		"used_entity_count": bounds.UsedEntityCount,
	})
	return &agent.ToolResult{Content: string(envelope(true, data, ""))}, nil
}

var extractEntitiesSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "file_path": {"type": "string"},
    "bbox": {
      "type": "object",
      "properties": {
        "x": {"type": "number"}, "y": {"type": "number"},
        "width": {"type": "number"}, "height": {"type": "number"}
      },
      "required": ["x", "y", "width", "height"]
    },
    "entity_types": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["file_path", "bbox"]
}`)

// ExtractEntitiesTool implements extract_cad_entities, funneling through
// the same cad.EntitiesIntersecting path inspect_region uses so the two
// stay consistent (spec testable property 7).
type ExtractEntitiesTool struct{}

func (ExtractEntitiesTool) Name() string            { return "extract_cad_entities" }
func (ExtractEntitiesTool) Description() string     { return "Lists the entities whose geometry intersects a rectangular region of the drawing, optionally filtered by entity type." }
func (ExtractEntitiesTool) Schema() json.RawMessage { return extractEntitiesSchema }

func (ExtractEntitiesTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		FilePath string `json:"file_path"`
		Bbox     struct {
			X, Y, Width, Height float64
		} `json:"bbox"`
		EntityTypes []string `json:"entity_types"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Bbox.Width <= 0 || args.Bbox.Height <= 0 {
		return errorResult("bbox width and height must be positive"), nil
	}

	rect := cad.Rect{
		X1: args.Bbox.X, Y1: args.Bbox.Y,
		X2: args.Bbox.X + args.Bbox.Width, Y2: args.Bbox.Y + args.Bbox.Height,
	}
	entities, err := cad.EntitiesIntersecting(args.FilePath, rect, args.EntityTypes)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	type entityOut struct {
		Type  string   `json:"type"`
		Layer string   `json:"layer"`
		Bbox  *cad.Rect `json:"bbox,omitempty"`
		Text  string   `json:"text,omitempty"`
	}
	out := make([]entityOut, 0, len(entities))
	byType := map[string]int{}
	for _, e := range entities {
		out = append(out, entityOut{Type: e.Type, Layer: e.Layer, Bbox: e.Bbox, Text: e.Text})
		byType[e.Type]++
	}

	data, _ := json.Marshal(map[string]any{
		"entities":    out,
		"total_count": len(entities),
		"by_type":     byType,
	})
	return &agent.ToolResult{Content: string(envelope(true, data, ""))}, nil
}

var inspectRegionSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "file_path": {"type": "string"},
    "x": {"type": "number"}, "y": {"type": "number"},
    "width": {"type": "number"}, "height": {"type": "number"},
    "output_size": {"type": "integer", "description": "pixels per axis, default 2048"},
    "include_image_base64": {"type": "boolean", "default": false},
    "layers": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["file_path", "x", "y", "width", "height"]
}`)

// InspectRegionTool implements inspect_region (spec §4.5).
type InspectRegionTool struct {
	WorkspaceDir string
}

func (InspectRegionTool) Name() string            { return "inspect_region" }
func (InspectRegionTool) Description() string     { return "Renders a rectangular region of a drawing to an image and summarizes the entities and text it contains." }
func (InspectRegionTool) Schema() json.RawMessage { return inspectRegionSchema }

func (t InspectRegionTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		FilePath           string   `json:"file_path"`
		X, Y               float64  `json:"x"`
		Width, Height      float64  `json:"width"`
		OutputSize         int      `json:"output_size"`
		IncludeImageBase64 bool     `json:"include_image_base64"`
		Layers             []string `json:"layers"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	result, err := cad.InspectRegion(cad.InspectRegionParams{
		FilePath:           args.FilePath,
		X:                  args.X,
		Y:                  args.Y,
		Width:              args.Width,
		Height:             args.Height,
		OutputSize:         args.OutputSize,
		IncludeImageBase64: args.IncludeImageBase64,
		WorkspaceDir:       t.WorkspaceDir,
		Layers:             args.Layers,
	})
	if err != nil {
		return errorResult(err.Error()), nil
	}

	data, _ := json.Marshal(result)
	return &agent.ToolResult{Content: string(envelope(true, data, ""))}, nil
}

func errorResult(msg string) *agent.ToolResult {
	return &agent.ToolResult{Content: string(envelope(false, nil, msg)), IsError: true}
}

func envelope(success bool, data json.RawMessage, errMsg string) json.RawMessage {
	m := map[string]any{"success": success}
	if success {
		m["data"] = data
	} else {
		m["error"] = errMsg
	}
	b, _ := json.Marshal(m)
	return b
}
