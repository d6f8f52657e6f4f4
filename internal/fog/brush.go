package fog

import (
	"fmt"
	"math"
	"strings"
)

// BrushMode selects whether a brush clears or restores fog.
type BrushMode int

const (
	BrushReveal BrushMode = iota // add reveal intensity
	BrushHide                    // subtract reveal intensity
)

// Brush limits.
const (
	MinBrushRadius = 1
	MaxBrushRadius = 8
)

// String returns the wire name of the mode ("reveal" / "hide").
func (m BrushMode) String() string {
	switch m {
	case BrushReveal:
		return "reveal"
	case BrushHide:
		return "hide"
	default:
		return "unknown"
	}
}

// ParseBrushMode accepts "reveal" or "hide" (case-insensitive).
func ParseBrushMode(s string) (BrushMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "reveal":
		return BrushReveal, nil
	case "hide":
		return BrushHide, nil
	default:
		return BrushReveal, fmt.Errorf("unknown brush mode %q", s)
	}
}

// Brush is one circular, linearly falling-off edit in grid-cell units.
type Brush struct {
	Mode     BrushMode
	Radius   int     // 1..8 cells
	Strength float64 // 0..1
}

// Clamp returns a copy with Radius and Strength forced into their valid ranges.
func (b Brush) Clamp() Brush {
	if b.Radius < MinBrushRadius {
		b.Radius = MinBrushRadius
	}
	if b.Radius > MaxBrushRadius {
		b.Radius = MaxBrushRadius
	}
	if math.IsNaN(b.Strength) || b.Strength < 0 {
		b.Strength = 0
	}
	if b.Strength > 1 {
		b.Strength = 1
	}
	return b
}

// WithMode returns a copy of b using mode m.
func (b Brush) WithMode(m BrushMode) Brush {
	b.Mode = m
	return b
}

// applyBrush stamps b onto g centred at the fractional grid position (cx, cy)
// and calls touched for every cell whose value actually changed.
//
// The stamp walks integer offsets (dx, dy) in [-r, r]. Each offset lands on cell
// (floor(cx+dx), floor(cy+dy)) with distance hypot(dx, dy), so a fractional
// centre shifts the footprint without distorting it.
func applyBrush(g *Grid, cx, cy float64, b Brush, touched func(x, y int)) {
	b = b.Clamp()
	r := b.Radius
	fr := float64(r)
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			x := int(math.Floor(cx + float64(dx)))
			y := int(math.Floor(cy + float64(dy)))
			if !g.InBounds(x, y) {
				continue
			}
			d := math.Hypot(float64(dx), float64(dy))
			if d > fr {
				continue
			}
			falloff := 1.0 - d/fr
			delta := int(math.Floor(255 * b.Strength * falloff))
			if delta <= 0 {
				continue
			}

			old := int(g.At(x, y))
			var nv int
			if b.Mode == BrushHide {
				nv = old - delta
				if nv < 0 {
					nv = 0
				}
			} else {
				nv = old + delta
				if nv > 255 {
					nv = 255
				}
			}
			if g.Set(x, y, uint8(nv)) {
				touched(x, y)
			}
		}
	}
}
