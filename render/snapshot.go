// Package render draws a top-down SVG/PNG debug snapshot of the sliding
// window's surfel map and recent trajectory, grounded on
// mesh/vector_renderer.go's tdewolff/canvas usage.
package render

import (
	"image/color"
	"image/png"
	"io"
	"math"
	"sync"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"

	"github.com/flex-transformer/wildcat-slam/odom"
)

var (
	trailColor = color.RGBA{R: 200, G: 30, B: 30, A: 255}
	poseColor  = color.RGBA{R: 30, G: 60, B: 200, A: 255}
)

// canvasRenderer is implemented by both the svg and rasterizer renderers.
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// SnapshotWriter implements odom.SurfelSink and odom.TransformSink, keeping
// the latest surfel map and a bounded trail of recent poses, and renders
// them as a top-down (X, Y projected) debug view on demand. It is a
// visualization collaborator, not a requirement of the core.
type SnapshotWriter struct {
	mu         sync.RWMutex
	surfels    []odom.Surfel
	trail      []odom.Vec3
	trailLimit int

	Scale      float64 // pixels per world unit
	Padding    float64
	Resolution canvas.Resolution
}

// NewSnapshotWriter creates a writer with the teacher's default rendering
// parameters scaled to odometry's metre-scale world (mesh/vector_renderer.go
// used millimetre-scale padding/grid spacing; this halves the analogous
// defaults down to a 1-unit-per-metre view).
func NewSnapshotWriter(trailLimit int) *SnapshotWriter {
	if trailLimit <= 0 {
		trailLimit = 200
	}
	return &SnapshotWriter{
		trailLimit: trailLimit,
		Scale:      50.0, // 50 px/m
		Padding:    1.0,  // 1m padding
		Resolution: canvas.DPI(150),
	}
}

// PublishSurfels implements odom.SurfelSink.
func (s *SnapshotWriter) PublishSurfels(window []odom.Surfel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surfels = append(s.surfels[:0:0], window...)
}

// PublishTransform implements odom.TransformSink, appending to the bounded
// trajectory trail.
func (s *SnapshotWriter) PublishTransform(stamp float64, pose odom.Rigid3) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trail = append(s.trail, pose.Pos)
	if len(s.trail) > s.trailLimit {
		s.trail = s.trail[len(s.trail)-s.trailLimit:]
	}
}

// RenderToSVG writes the current snapshot as SVG.
func (s *SnapshotWriter) RenderToSVG(w io.Writer) error {
	minX, minY, maxX, maxY := s.bounds()
	width := (maxX-minX)*s.Scale + 2*s.Padding*s.Scale
	height := (maxY-minY)*s.Scale + 2*s.Padding*s.Scale

	svgRenderer := svg.New(w, width, height, nil)
	s.renderToCanvas(svgRenderer, minX, minY, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the current snapshot as PNG.
func (s *SnapshotWriter) RenderToPNG(w io.Writer) error {
	minX, minY, maxX, maxY := s.bounds()
	width := (maxX-minX)*s.Scale + 2*s.Padding*s.Scale
	height := (maxY-minY)*s.Scale + 2*s.Padding*s.Scale

	rast := rasterizer.New(width, height, s.Resolution, canvas.DefaultColorSpace)
	s.renderToCanvas(rast, minX, minY, width, height)
	return png.Encode(w, rast)
}

func (s *SnapshotWriter) bounds() (minX, minY, maxX, maxY float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	minX, minY = math.MaxFloat64, math.MaxFloat64
	maxX, maxY = -math.MaxFloat64, -math.MaxFloat64
	touch := func(p odom.Vec3) {
		if p.X < minX {
			minX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	for _, surf := range s.surfels {
		touch(surf.CenterWorld)
	}
	for _, p := range s.trail {
		touch(p)
	}
	if minX > maxX {
		return -1, -1, 1, 1
	}
	return minX, minY, maxX, maxY
}

func (s *SnapshotWriter) renderToCanvas(renderer canvasRenderer, minX, minY, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(p odom.Vec3) (float64, float64) {
		cx := (p.X-minX+s.Padding)*s.Scale
		cy := (p.Y-minY+s.Padding)*s.Scale
		return cx, cy
	}

	s.mu.RLock()
	surfels := append([]odom.Surfel(nil), s.surfels...)
	trail := append([]odom.Vec3(nil), s.trail...)
	s.mu.RUnlock()

	surfelStyle := canvas.DefaultStyle
	surfelStyle.Fill = canvas.Paint{Color: canvas.Gray}
	surfelStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	for _, surf := range surfels {
		cx, cy := toCanvas(surf.CenterWorld)
		dot := canvas.Circle(2.0)
		dot = dot.Translate(cx, cy)
		renderer.RenderPath(dot, surfelStyle, canvas.Identity)
	}

	if len(trail) > 1 {
		trailStyle := canvas.DefaultStyle
		trailStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		trailStyle.Stroke = canvas.Paint{Color: trailColor}
		trailStyle.StrokeWidth = 2.0

		path := &canvas.Path{}
		for i, p := range trail {
			cx, cy := toCanvas(p)
			if i == 0 {
				path.MoveTo(cx, cy)
			} else {
				path.LineTo(cx, cy)
			}
		}
		renderer.RenderPath(path, trailStyle, canvas.Identity)
	}

	if len(trail) > 0 {
		cx, cy := toCanvas(trail[len(trail)-1])
		poseStyle := canvas.DefaultStyle
		poseStyle.Fill = canvas.Paint{Color: poseColor}
		poseStyle.Stroke = canvas.Paint{Color: canvas.Black}
		poseStyle.StrokeWidth = 1.0
		marker := canvas.Circle(4.0)
		marker = marker.Translate(cx, cy)
		renderer.RenderPath(marker, poseStyle, canvas.Identity)
	}
}
