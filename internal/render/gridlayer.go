package render

import (
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
)

// MajorEvery marks every nth grid line as a heavy line.
const MajorEvery = 5

// Segment is one grid line in world units.
type Segment struct {
	X0, Y0, X1, Y1 float64
	Major          bool
}

// GridLines returns vertical then horizontal lines every cell units, with
// the closing edge always included.
func GridLines(worldW, worldH, cell float64) []Segment {
	if cell <= 0 || worldW <= 0 || worldH <= 0 {
		return nil
	}
	var out []Segment
	i := 0
	for x := 0.0; ; x += cell {
		if x > worldW {
			x = worldW
		}
		out = append(out, Segment{X0: x, Y0: 0, X1: x, Y1: worldH, Major: i%MajorEvery == 0})
		i++
		if x >= worldW {
			break
		}
	}
	i = 0
	for y := 0.0; ; y += cell {
		if y > worldH {
			y = worldH
		}
		out = append(out, Segment{X0: 0, Y0: y, X1: worldW, Y1: y, Major: i%MajorEvery == 0})
		i++
		if y >= worldH {
			break
		}
	}
	return out
}

type GridLayer struct {
	lines        []Segment
	minor, major color.RGBA
	visible      bool
}

func NewGridLayer(worldW, worldH, cell float64) *GridLayer {
	return &GridLayer{
		lines:   GridLines(worldW, worldH, cell),
		minor:   color.RGBA{R: 255, G: 255, B: 255, A: 38},
		major:   color.RGBA{R: 255, G: 255, B: 255, A: 80},
		visible: true,
	}
}

func (g *GridLayer) Z() int { return ZGrid }

func (g *GridLayer) SetVisible(v bool) { g.visible = v }

func (g *GridLayer) Lines() []Segment { return g.lines }

func (g *GridLayer) DrawWorld(dst *ebiten.Image) {
	if !g.visible {
		return
	}
	for _, l := range g.lines {
		c, w := g.minor, float32(1)
		if l.Major {
			c, w = g.major, 2
		}
		vector.StrokeLine(dst, float32(l.X0), float32(l.Y0), float32(l.X1), float32(l.Y1), w, c, false)
	}
}

// Dispose drops the line set; the grid owns no GPU resources.
func (g *GridLayer) Dispose() {
	g.lines = nil
}
