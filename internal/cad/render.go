package cad

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
)

// layerColor mirrors the fixed layer-name-to-color convention observed in
// CAD drawing conventions: walls in red, structural columns in orange,
// windows/openings in cyan, dimensions/annotation in blue, text in green,
// axis/gridlines in amber. Matching is exact first, then substring, then
// a neutral default.
var layerColorMap = []struct {
	key   string
	color color.RGBA
}{
	{"WALL", color.RGBA{0xCC, 0x00, 0x00, 0xFF}},
	{"S_WALL", color.RGBA{0xCC, 0x00, 0x00, 0xFF}},
	{"COLUMN", color.RGBA{0xFF, 0x66, 0x00, 0xFF}},
	{"WINDOW", color.RGBA{0x00, 0x99, 0xCC, 0xFF}},
	{"E_WINDOW", color.RGBA{0x00, 0x99, 0xCC, 0xFF}},
	{"DIM", color.RGBA{0x00, 0x00, 0xCC, 0xFF}},
	{"PUB_DIM", color.RGBA{0x00, 0x00, 0xCC, 0xFF}},
	{"TEXT", color.RGBA{0x00, 0x88, 0x00, 0xFF}},
	{"PUB_TEXT", color.RGBA{0x00, 0x88, 0x00, 0xFF}},
	{"AXIS", color.RGBA{0xCC, 0x88, 0x00, 0xFF}},
	{"STAIR", color.RGBA{0xCC, 0x00, 0xCC, 0xFF}},
	{"E_STAIR", color.RGBA{0xCC, 0x00, 0xCC, 0xFF}},
}

var defaultEntityColor = color.RGBA{0x00, 0x00, 0x00, 0xFF}

func layerColor(layer string) color.RGBA {
	for _, lc := range layerColorMap {
		if layer == lc.key {
			return lc.color
		}
	}
	for _, lc := range layerColorMap {
		if containsFold(layer, lc.key) {
			return lc.color
		}
	}
	return defaultEntityColor
}

func containsFold(s, substr string) bool {
	ls, lsub := toUpperASCII(s), toUpperASCII(substr)
	for i := 0; i+len(lsub) <= len(ls); i++ {
		if ls[i:i+len(lsub)] == lsub {
			return true
		}
	}
	return false
}

func toUpperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 32
		}
	}
	return string(b)
}

// RenderResult is the outcome of rendering a drawing region to an image
// file.
type RenderResult struct {
	ImagePath  string
	ActualBbox Rect
	Scale      float64 // pixels per drawing unit
	OutputW    int
	OutputH    int
}

// RenderRegion rasterizes the entities intersecting bbox into a PNG at
// outputPath, sized to fit within outputW x outputH while preserving
// bbox's aspect ratio. Line, circle, arc, and polyline entities are drawn
// in their layer color; unsupported shapes are silently skipped rather
// than aborting the render.
func RenderRegion(path string, bbox Rect, outputW, outputH int, layers []string, outputPath string) (*RenderResult, error) {
	width := bbox.X2 - bbox.X1
	height := bbox.Y2 - bbox.Y1
	if width <= 0 || height <= 0 {
		return nil, errInvalidRegion
	}

	entities, err := EntitiesIntersecting(path, bbox, nil)
	if err != nil {
		return nil, err
	}
	whitelist := toSet(layers)

	aspect := width / height
	w, h := outputW, outputH
	if float64(outputW)/float64(outputH) > aspect {
		w = int(float64(outputH) * aspect)
	} else {
		h = int(float64(outputW) / aspect)
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	scale := float64(w) / width

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	project := func(x, y float64) (int, int) {
		px := int((x - bbox.X1) * scale)
		py := h - int((y-bbox.Y1)*scale)
		return px, py
	}

	for _, e := range entities {
		if len(whitelist) > 0 && !whitelist[e.Layer] {
			continue
		}
		col := layerColor(e.Layer)
		drawEntity(img, e, project, col)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return nil, err
	}

	return &RenderResult{
		ImagePath:  outputPath,
		ActualBbox: bbox,
		Scale:      scale,
		OutputW:    w,
		OutputH:    h,
	}, nil
}

var errInvalidRegion = &regionError{"region width and height must both be positive"}

type regionError struct{ msg string }

func (e *regionError) Error() string { return e.msg }

func drawEntity(img *image.RGBA, e Entity, project func(float64, float64) (int, int), col color.RGBA) {
	switch e.Type {
	case "LINE":
		ax, ay := e.raw.float(10, 0), e.raw.float(20, 0)
		bx, by := e.raw.float(11, 0), e.raw.float(21, 0)
		px1, py1 := project(ax, ay)
		px2, py2 := project(bx, by)
		drawLine(img, px1, py1, px2, py2, col)

	case "CIRCLE":
		cx, cy := e.raw.float(10, 0), e.raw.float(20, 0)
		radius := e.raw.float(40, 0)
		drawCircle(img, project, cx, cy, radius, 0, 2*math.Pi, col)

	case "ARC":
		cx, cy := e.raw.float(10, 0), e.raw.float(20, 0)
		radius := e.raw.float(40, 0)
		startDeg := e.raw.float(50, 0)
		endDeg := e.raw.float(51, 360)
		drawCircle(img, project, cx, cy, radius, startDeg*math.Pi/180, endDeg*math.Pi/180, col)

	case "LWPOLYLINE", "POLYLINE":
		xs := e.raw.floats(10)
		ys := e.raw.floats(20)
		n := len(xs)
		if len(ys) < n {
			n = len(ys)
		}
		for i := 1; i < n; i++ {
			px1, py1 := project(xs[i-1], ys[i-1])
			px2, py2 := project(xs[i], ys[i])
			drawLine(img, px1, py1, px2, py2, col)
		}

	case "TEXT", "MTEXT":
		// Glyph rendering is intentionally out of scope; the region's
		// text content is surfaced separately via key_content, and a
		// small marker keeps the label's anchor point visible.
		if e.Bbox != nil {
			px, py := project(e.Bbox.X1, e.Bbox.Y1)
			drawLine(img, px, py, px+4, py, col)
		}
	}
}

// drawLine uses Bresenham's algorithm, the standard integer line rasterizer,
// since no vector-graphics drawing library is available in this stack.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, col color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		setPixel(img, x0, y0, col)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func drawCircle(img *image.RGBA, project func(float64, float64) (int, int), cx, cy, radius, startRad, endRad float64, col color.RGBA) {
	if radius <= 0 {
		return
	}
	steps := 96
	for i := 0; i < steps; i++ {
		t0 := startRad + (endRad-startRad)*float64(i)/float64(steps)
		t1 := startRad + (endRad-startRad)*float64(i+1)/float64(steps)
		x0, y0 := project(cx+radius*math.Cos(t0), cy+radius*math.Sin(t0))
		x1, y1 := project(cx+radius*math.Cos(t1), cy+radius*math.Sin(t1))
		drawLine(img, x0, y0, x1, y1, col)
	}
}

func setPixel(img *image.RGBA, x, y int, col color.RGBA) {
	if x < 0 || y < 0 || x >= img.Bounds().Dx() || y >= img.Bounds().Dy() {
		return
	}
	img.SetRGBA(x, y, col)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
