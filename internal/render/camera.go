package render

import (
	"math"

	"github.com/hajimehoshi/ebiten/v2"
)

const (
	MinZoom = 0.25
	MaxZoom = 4.0
)

// Camera maps world units onto the screen viewport. X/Y is the world-space
// point at the viewport centre.
type Camera struct {
	X, Y float64
	Zoom float64

	viewW, viewH   float64
	worldW, worldH float64
}

func NewCamera(viewW, viewH int) *Camera {
	return &Camera{Zoom: 1, viewW: float64(viewW), viewH: float64(viewH)}
}

// SetViewport updates the screen size the camera projects onto.
func (c *Camera) SetViewport(w, h int) {
	c.viewW, c.viewH = float64(w), float64(h)
	c.clamp()
}

// SetWorld sets the bounds the camera centre is kept within.
func (c *Camera) SetWorld(w, h float64) {
	c.worldW, c.worldH = w, h
	c.clamp()
}

// GeoM is the world-to-screen transform: translate so the camera centre is
// at the origin, scale, then move the origin to the viewport centre.
func (c *Camera) GeoM() ebiten.GeoM {
	var m ebiten.GeoM
	m.Translate(-c.X, -c.Y)
	m.Scale(c.Zoom, c.Zoom)
	m.Translate(c.viewW/2, c.viewH/2)
	return m
}

func (c *Camera) WorldToScreen(wx, wy float64) (float64, float64) {
	return (wx-c.X)*c.Zoom + c.viewW/2, (wy-c.Y)*c.Zoom + c.viewH/2
}

func (c *Camera) ScreenToWorld(sx, sy float64) (float64, float64) {
	return (sx-c.viewW/2)/c.Zoom + c.X, (sy-c.viewH/2)/c.Zoom + c.Y
}

// Pan moves the view by a screen-space offset.
func (c *Camera) Pan(dx, dy float64) {
	c.X += dx / c.Zoom
	c.Y += dy / c.Zoom
	c.clamp()
}

// ZoomAt multiplies the zoom, keeping the world point under (sx, sy) fixed.
func (c *Camera) ZoomAt(factor, sx, sy float64) {
	if factor <= 0 {
		return
	}
	wx, wy := c.ScreenToWorld(sx, sy)
	c.Zoom = clampZoom(c.Zoom * factor)
	c.X = wx - (sx-c.viewW/2)/c.Zoom
	c.Y = wy - (sy-c.viewH/2)/c.Zoom
	c.clamp()
}

// Fit centres the world and picks the zoom that shows all of it.
func (c *Camera) Fit(worldW, worldH float64) {
	c.worldW, c.worldH = worldW, worldH
	c.X, c.Y = worldW/2, worldH/2
	if worldW > 0 && worldH > 0 && c.viewW > 0 && c.viewH > 0 {
		c.Zoom = clampZoom(math.Min(c.viewW/worldW, c.viewH/worldH))
	}
	c.clamp()
}

func clampZoom(z float64) float64 {
	return math.Max(MinZoom, math.Min(MaxZoom, z))
}

// clamp keeps the centre over the world. When the world is narrower than the
// view on an axis the centre is pinned to the world's middle.
func (c *Camera) clamp() {
	c.Zoom = clampZoom(c.Zoom)
	if c.worldW <= 0 || c.worldH <= 0 {
		return
	}
	c.X = clampAxis(c.X, c.worldW, c.viewW/2/c.Zoom)
	c.Y = clampAxis(c.Y, c.worldH, c.viewH/2/c.Zoom)
}

func clampAxis(v, size, half float64) float64 {
	if half*2 >= size {
		return size / 2
	}
	if v < half {
		return half
	}
	if v > size-half {
		return size - half
	}
	return v
}
