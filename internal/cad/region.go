package cad

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
)

const maxPreviewEdge = 768

const maxRegionTextEntries = 50

// RegionInfo describes the inspected rectangle: its bbox, area in square
// meters (derived from millimeter drawing units), and the render scale
// used to produce the preview image.
type RegionInfo struct {
	Bbox  Bbox    `json:"bbox"`
	AreaM2 float64 `json:"area_m2"`
	Scale float64 `json:"scale"`
}

// EntitySummary tallies the entities found within a region by type and
// layer.
type EntitySummary struct {
	TotalCount int            `json:"total_count"`
	ByType     map[string]int `json:"by_type"`
	ByLayer    map[string]int `json:"by_layer"`
}

// TextEntry is one piece of extracted TEXT/MTEXT content within a region.
type TextEntry struct {
	Text  string `json:"text"`
	Layer string `json:"layer"`
}

// KeyContent carries the text entities discovered in a region, capped at
// maxRegionTextEntries so a text-dense region cannot blow up the payload.
type KeyContent struct {
	Texts     []TextEntry `json:"texts"`
	TextCount int         `json:"text_count"`
}

// RegionResult is inspect_region's data payload.
type RegionResult struct {
	ImagePath      string      `json:"image_path"`
	ImageBase64    string      `json:"image_base64,omitempty"`
	RegionInfo     RegionInfo  `json:"region_info"`
	EntitySummary  EntitySummary `json:"entity_summary"`
	KeyContent     KeyContent  `json:"key_content"`
}

// InspectRegionParams are the inputs to InspectRegion.
type InspectRegionParams struct {
	FilePath          string
	X, Y              float64
	Width, Height     float64
	OutputSize        int
	IncludeImageBase64 bool
	WorkspaceDir      string
	Layers            []string
}

// InspectRegion renders a rectangular region of a drawing, summarizes the
// entities it contains by type and layer, and collects up to 50 TEXT/MTEXT
// strings found inside it. The rendered PNG is written to a deterministic
// path under WorkspaceDir so repeated inspection of the same region
// overwrites rather than accumulates files.
func InspectRegion(p InspectRegionParams) (*RegionResult, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return nil, errInvalidRegion
	}
	bbox := Rect{X1: p.X, Y1: p.Y, X2: p.X + p.Width, Y2: p.Y + p.Height}

	outputSize := p.OutputSize
	if outputSize <= 0 {
		outputSize = 2048
	}

	renderedDir := filepath.Join(p.WorkspaceDir, "rendered")
	if err := os.MkdirAll(renderedDir, 0o755); err != nil {
		return nil, err
	}
	imagePath := filepath.Join(renderedDir, regionFilename(p.X, p.Y, p.Width, p.Height))

	renderResult, err := RenderRegion(p.FilePath, bbox, outputSize, outputSize, p.Layers, imagePath)
	if err != nil {
		return nil, err
	}

	entities, err := EntitiesIntersecting(p.FilePath, bbox, nil)
	if err != nil {
		return nil, err
	}

	byType := map[string]int{}
	byLayer := map[string]int{}
	var texts []TextEntry
	for _, e := range entities {
		byType[e.Type]++
		byLayer[e.Layer]++
		if (e.Type == "TEXT" || e.Type == "MTEXT") && e.Text != "" && len(texts) < maxRegionTextEntries {
			texts = append(texts, TextEntry{Text: e.Text, Layer: e.Layer})
		}
	}

	result := &RegionResult{
		ImagePath: renderResult.ImagePath,
		RegionInfo: RegionInfo{
			Bbox:   Bbox{X: p.X, Y: p.Y, Width: p.Width, Height: p.Height},
			AreaM2: round2(p.Width * p.Height / 1_000_000),
			Scale:  renderResult.Scale,
		},
		EntitySummary: EntitySummary{
			TotalCount: len(entities),
			ByType:     byType,
			ByLayer:    byLayer,
		},
		KeyContent: KeyContent{
			Texts:     texts,
			TextCount: len(texts),
		},
	}

	if p.IncludeImageBase64 {
		b64, err := compactJPEGBase64(imagePath)
		if err == nil {
			result.ImageBase64 = b64
		}
	}

	return result, nil
}

func regionFilename(x, y, w, h float64) string {
	return fmt.Sprintf("region_%g_%g_%g_%g.png", x, y, w, h)
}

// compactJPEGBase64 re-encodes the PNG at path as a small, low-quality
// JPEG (capped at 768px on the long edge, quality 60) and returns it
// base64-encoded. Used only when a caller explicitly opts into an inline
// preview image, since it is otherwise pure payload bloat.
func compactJPEGBase64(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	src, err := png.Decode(f)
	if err != nil {
		return "", err
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	longEdge := w
	if h > longEdge {
		longEdge = h
	}
	img := src
	if longEdge > maxPreviewEdge {
		scale := float64(maxPreviewEdge) / float64(longEdge)
		dstW, dstH := int(float64(w)*scale), int(float64(h)*scale)
		if dstW < 1 {
			dstW = 1
		}
		if dstH < 1 {
			dstH = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 60}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
