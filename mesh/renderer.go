package mesh

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// NetworkRenderer draws one estimation result as a map-less overview image:
// links as lines shaded by quality, nodes as dots colored by how their
// position was obtained.
type NetworkRenderer struct {
	Width      float64 // canvas width in mm
	Height     float64 // canvas height in mm
	Padding    float64 // border kept free of geometry, in mm
	NodeRadius float64
	Resolution canvas.Resolution // for PNG output
	Labels     bool              // draw short names next to nodes (PNG only)
}

// NewNetworkRenderer creates a renderer with default settings.
func NewNetworkRenderer() *NetworkRenderer {
	return &NetworkRenderer{
		Width:      1000,
		Height:     750,
		Padding:    40,
		NodeRadius: 6,
		Resolution: canvas.DPMM(1.0),
		Labels:     true,
	}
}

var (
	colorBackground = color.RGBA{255, 255, 255, 255}
	colorAnchor     = color.RGBA{0, 90, 181, 255}    // reported positions: blue
	colorEstimated  = color.RGBA{220, 120, 0, 255}   // synthesized positions: orange
	colorTraceOnly  = color.RGBA{130, 130, 130, 255} // nodes known only from routes
	colorLabel      = color.RGBA{40, 40, 40, 255}
)

// edgeColor shades a link by its mean SNR: strong links dark, weak links
// light, unknown quality in between.
func edgeColor(meanSNR float64) color.RGBA {
	quality, ok := snrQuality(meanSNR)
	if !ok {
		quality = 0.4
	}
	shade := uint8(200 - 130*quality)
	return color.RGBA{shade, shade, shade, 255}
}

// canvasRenderer is the subset shared by the svg and rasterizer backends.
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// layout maps projected node positions onto the canvas, bounds fitted with
// uniform scale so the network keeps its aspect ratio.
type layout struct {
	positions map[uint32]Point
}

func (r *NetworkRenderer) buildLayout(nodes []Node) layout {
	placed := make([]*Node, 0, len(nodes))
	for i := range nodes {
		if nodes[i].HasCoord() {
			placed = append(placed, &nodes[i])
		}
	}
	l := layout{positions: make(map[uint32]Point, len(placed))}
	if len(placed) == 0 {
		return l
	}

	proj := NewProjector(placed)
	local := make(map[uint32]Point, len(placed))
	minX, minY := math.MaxFloat64, math.MaxFloat64
	maxX, maxY := -math.MaxFloat64, -math.MaxFloat64
	for _, n := range placed {
		pt := proj.ToLocal(*n.Lat, *n.Lon)
		local[n.Num] = pt
		minX = math.Min(minX, pt.X)
		minY = math.Min(minY, pt.Y)
		maxX = math.Max(maxX, pt.X)
		maxY = math.Max(maxY, pt.Y)
	}

	spanX := maxX - minX
	spanY := maxY - minY
	innerW := r.Width - 2*r.Padding
	innerH := r.Height - 2*r.Padding
	scale := 1.0
	if spanX > 0 || spanY > 0 {
		scale = math.Min(innerW/math.Max(spanX, 1e-9), innerH/math.Max(spanY, 1e-9))
	}

	offsetX := r.Padding + (innerW-spanX*scale)/2
	offsetY := r.Padding + (innerH-spanY*scale)/2
	for num, pt := range local {
		l.positions[num] = Point{
			X: offsetX + (pt.X-minX)*scale,
			Y: offsetY + (pt.Y-minY)*scale,
		}
	}
	return l
}

// RenderToSVG writes the network as an SVG to the provided writer.
func (r *NetworkRenderer) RenderToSVG(w io.Writer, nodes []Node, edges []EdgeLine) error {
	svgRenderer := svg.New(w, r.Width, r.Height, nil)
	r.renderToCanvas(svgRenderer, nodes, edges)
	return svgRenderer.Close()
}

// RenderToPNG writes the network as a PNG to the provided writer.
func (r *NetworkRenderer) RenderToPNG(w io.Writer, nodes []Node, edges []EdgeLine) error {
	rast := rasterizer.New(r.Width, r.Height, r.Resolution, canvas.DefaultColorSpace)
	l := r.renderToCanvas(rast, nodes, edges)

	if r.Labels {
		r.drawLabels(rast, nodes, l)
	}
	return png.Encode(w, rast)
}

func (r *NetworkRenderer) renderToCanvas(renderer canvasRenderer, nodes []Node, edges []EdgeLine) layout {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: colorBackground}
	renderer.RenderPath(canvas.Rectangle(r.Width, r.Height), bgStyle, canvas.Identity)

	l := r.buildLayout(nodes)

	for _, e := range edges {
		from, okFrom := l.positions[e.From]
		to, okTo := l.positions[e.To]
		if !okFrom || !okTo {
			continue
		}
		lineStyle := canvas.DefaultStyle
		lineStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		lineStyle.Stroke = canvas.Paint{Color: edgeColor(e.MeanSNR)}
		lineStyle.StrokeWidth = 1.5

		cp := &canvas.Path{}
		cp.MoveTo(from.X, from.Y)
		cp.LineTo(to.X, to.Y)
		renderer.RenderPath(cp, lineStyle, canvas.Identity)
	}

	for i := range nodes {
		n := &nodes[i]
		pos, ok := l.positions[n.Num]
		if !ok {
			continue
		}
		nodeStyle := canvas.DefaultStyle
		nodeStyle.Fill = canvas.Paint{Color: r.nodeColor(n)}
		nodeStyle.Stroke = canvas.Paint{Color: canvas.Transparent}

		dot := canvas.Circle(r.NodeRadius).Translate(pos.X, pos.Y)
		renderer.RenderPath(dot, nodeStyle, canvas.Identity)
	}
	return l
}

func (r *NetworkRenderer) nodeColor(n *Node) color.RGBA {
	switch {
	case n.Estimated && n.TraceOnly:
		return colorTraceOnly
	case n.Estimated:
		return colorEstimated
	default:
		return colorAnchor
	}
}

// drawLabels overlays node short names onto the rasterized image. The
// canvas origin is bottom-left, the image origin top-left, so Y flips.
func (r *NetworkRenderer) drawLabels(img *rasterizer.Rasterizer, nodes []Node, l layout) {
	dpmm := r.Resolution.DPMM()
	for i := range nodes {
		n := &nodes[i]
		pos, ok := l.positions[n.Num]
		if !ok {
			continue
		}
		label := n.ShortName
		if label == "" {
			label = shortNameFromNum(n.Num)
		}
		x := int((pos.X + r.NodeRadius + 2) * dpmm)
		y := int((r.Height - pos.Y) * dpmm)
		drawText(img, x, y, label, colorLabel)
	}
}

// drawText renders text onto an image at the specified position
func drawText(img draw.Image, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
