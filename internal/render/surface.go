// Package render draws the battle map with ebiten: a surface owning the game
// loop and camera, and the map, grid, fog and token layers drawn on it.
package render

import (
	"image/color"
	"math"
	"sort"

	"github.com/hajimehoshi/ebiten/v2"
)

// Layer is a world-space drawable. Layers draw in ascending Z.
type Layer interface {
	Z() int
	DrawWorld(dst *ebiten.Image)
}

// Layer order.
const (
	ZMap    = 0
	ZGrid   = 10
	ZFog    = 20
	ZTokens = 30
)

// PassID identifies a registered per-tick pass.
type PassID int

type pass struct {
	id PassID
	fn func(dt float64)
}

var backgroundColour = color.RGBA{R: 12, G: 14, B: 18, A: 255}

// Surface implements ebiten.Game. Layers render into an offscreen buffer in
// world units, which is blitted through the camera; overlays draw in screen
// space on top.
type Surface struct {
	width, height int
	cam           *Camera

	worldBuf       *ebiten.Image
	worldW, worldH int

	layers   []Layer
	overlays []func(screen *ebiten.Image)
	passes   []pass
	nextPass PassID

	closing bool
}

func NewSurface(width, height int) *Surface {
	return &Surface{
		width:  width,
		height: height,
		cam:    NewCamera(width, height),
	}
}

func (s *Surface) Camera() *Camera {
	return s.cam
}

func (s *Surface) Size() (int, int) {
	return s.width, s.height
}

// AddPass registers fn to run once per tick with the tick length in seconds.
func (s *Surface) AddPass(fn func(dt float64)) PassID {
	s.nextPass++
	s.passes = append(s.passes, pass{id: s.nextPass, fn: fn})
	return s.nextPass
}

func (s *Surface) RemovePass(id PassID) {
	for i, p := range s.passes {
		if p.id == id {
			s.passes = append(s.passes[:i], s.passes[i+1:]...)
			return
		}
	}
}

func (s *Surface) AddLayer(l Layer) {
	s.layers = append(s.layers, l)
	sort.SliceStable(s.layers, func(i, j int) bool { return s.layers[i].Z() < s.layers[j].Z() })
}

func (s *Surface) RemoveLayer(l Layer) {
	for i, cur := range s.layers {
		if cur == l {
			s.layers = append(s.layers[:i], s.layers[i+1:]...)
			return
		}
	}
}

// AddOverlay registers a screen-space drawable, drawn after the world.
func (s *Surface) AddOverlay(fn func(screen *ebiten.Image)) {
	s.overlays = append(s.overlays, fn)
}

// SetWorldSize reallocates the world buffer and refits the camera.
func (s *Surface) SetWorldSize(w, h float64) {
	iw, ih := int(math.Ceil(w)), int(math.Ceil(h))
	if iw <= 0 || ih <= 0 {
		return
	}
	if s.worldBuf == nil || iw != s.worldW || ih != s.worldH {
		if s.worldBuf != nil {
			s.worldBuf.Deallocate()
		}
		s.worldBuf = ebiten.NewImage(iw, ih)
		s.worldW, s.worldH = iw, ih
	}
	s.cam.Fit(w, h)
}

// Close makes the next Update end the game loop.
func (s *Surface) Close() {
	s.closing = true
}

func (s *Surface) Update() error {
	if s.closing {
		return ebiten.Termination
	}
	dt := 1.0 / float64(ebiten.TPS())
	// Passes may add or remove passes.
	for _, p := range append([]pass(nil), s.passes...) {
		p.fn(dt)
	}
	return nil
}

func (s *Surface) Draw(screen *ebiten.Image) {
	screen.Fill(backgroundColour)

	if s.worldBuf != nil {
		s.worldBuf.Clear()
		for _, l := range s.layers {
			l.DrawWorld(s.worldBuf)
		}
		opts := &ebiten.DrawImageOptions{GeoM: s.cam.GeoM()}
		opts.Filter = ebiten.FilterLinear
		screen.DrawImage(s.worldBuf, opts)
	}

	for _, o := range s.overlays {
		o(screen)
	}
}

func (s *Surface) Layout(outsideWidth, outsideHeight int) (int, int) {
	if outsideWidth != s.width || outsideHeight != s.height {
		s.width, s.height = outsideWidth, outsideHeight
		s.cam.SetViewport(outsideWidth, outsideHeight)
	}
	return s.width, s.height
}

// Dispose releases the world buffer. Layers are owned and disposed by their creators.
func (s *Surface) Dispose() {
	if s.worldBuf != nil {
		s.worldBuf.Deallocate()
		s.worldBuf = nil
	}
	s.layers = nil
	s.overlays = nil
	s.passes = nil
}
