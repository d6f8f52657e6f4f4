package render

import (
	"image/color"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/sirupsen/logrus"

	"github.com/Garsondee/Tactical-Map/internal/fog"
)

// fogShaderSrc samples the reveal texture bilinearly by hand so soft edges
// survive the nearest filtering DrawTrianglesShader applies to sources.
const fogShaderSrc = `//kage:unit pixels

package main

var Time float
var Opacity float
var Colour vec3
var Softness float

func reveal(p vec2) float {
	origin := imageSrc0Origin()
	size := imageSrc0Size()
	p = clamp(p, origin+0.5, origin+size-0.5)
	return imageSrc0UnsafeAt(p).r
}

func Fragment(dstPos vec4, srcPos vec2, color vec4) vec4 {
	p := srcPos - 0.5
	f := fract(p)
	b := floor(p) + 0.5
	top := mix(reveal(b), reveal(b+vec2(1, 0)), f.x)
	bottom := mix(reveal(b+vec2(0, 1)), reveal(b+vec2(1, 1)), f.x)
	r := mix(top, bottom, f.y)

	edge := 1 - abs(r*2-1)
	r += sin(Time*2+dstPos.x*0.05+dstPos.y*0.07) * 0.04 * edge

	soft := max(Softness*0.5, 0.001)
	shown := smoothstep(0.5-soft, 0.5+soft, r)
	a := (1 - shown) * Opacity * color.a
	return vec4(Colour*a, a)
}
`

var (
	fogShaderOnce sync.Once
	fogShader     *ebiten.Shader
	fogShaderErr  error
)

func compiledFogShader() (*ebiten.Shader, error) {
	fogShaderOnce.Do(func() {
		fogShader, fogShaderErr = ebiten.NewShader([]byte(fogShaderSrc))
	})
	return fogShader, fogShaderErr
}

// FogStyle is how a viewer sees the fog overlay.
type FogStyle struct {
	Colour       color.RGBA
	Opacity      float64
	EdgeSoftness float64
}

var fogColour = color.RGBA{R: 5, G: 5, B: 13, A: 255}

// HostFogStyle leaves the map readable under the fog so the host can edit it.
func HostFogStyle() FogStyle {
	return FogStyle{Colour: fogColour, Opacity: 0.55, EdgeSoftness: 0.3}
}

// ParticipantFogStyle hides fogged cells completely.
func ParticipantFogStyle() FogStyle {
	return FogStyle{Colour: fogColour, Opacity: 1, EdgeSoftness: 0.3}
}

// FogOverlay is the GPU mirror of a fog.Mask, drawn as a world-space layer
// over the map and grid. It implements fog.Texture.
type FogOverlay struct {
	gridW, gridH   int
	worldW, worldH float64
	style          FogStyle

	reveal   *ebiten.Image
	shader   *ebiten.Shader
	fallback *ebiten.Image
	pixels   []byte

	time    float64
	visible bool
	log     logrus.FieldLogger
}

// NewFogOverlay allocates a gridW x gridH texture covering worldW x worldH.
// When the shader fails to compile the overlay draws a linearly filtered
// tinted image instead.
func NewFogOverlay(gridW, gridH int, worldW, worldH float64, style FogStyle, log logrus.FieldLogger) *FogOverlay {
	if log == nil {
		log = logrus.StandardLogger()
	}
	o := &FogOverlay{
		gridW:   max(gridW, 1),
		gridH:   max(gridH, 1),
		worldW:  worldW,
		worldH:  worldH,
		style:   style,
		visible: true,
		log:     log.WithField("component", "fog-overlay"),
	}
	o.pixels = make([]byte, o.gridW*o.gridH*4)
	shader, err := compiledFogShader()
	if err != nil {
		o.log.WithError(err).Warn("fog shader unavailable, using filtered fallback")
		o.fallback = ebiten.NewImage(o.gridW, o.gridH)
	} else {
		o.shader = shader
		o.reveal = ebiten.NewImage(o.gridW, o.gridH)
	}
	return o
}

// FogTextureFactory returns a fog.TextureFactory producing overlays in style.
// created, when set, receives each overlay so the caller can attach it to a
// surface.
func FogTextureFactory(style FogStyle, log logrus.FieldLogger, created func(*FogOverlay)) fog.TextureFactory {
	return func(gridW, gridH int, worldW, worldH float64) fog.Texture {
		o := NewFogOverlay(gridW, gridH, worldW, worldH, style, log)
		if created != nil {
			created(o)
		}
		return o
	}
}

func (o *FogOverlay) Z() int { return ZFog }

// Upload replaces the texture with the row-major reveal bytes.
func (o *FogOverlay) Upload(cells []byte) {
	switch {
	case o.reveal != nil:
		encodeRevealPixels(o.pixels, cells)
		o.reveal.WritePixels(o.pixels)
	case o.fallback != nil:
		encodeFallbackPixels(o.pixels, cells, o.style)
		o.fallback.WritePixels(o.pixels)
	}
}

func (o *FogOverlay) SetTime(t float64) { o.time = t }

func (o *FogOverlay) SetVisible(v bool) { o.visible = v }

// UsingShader reports whether the Kage path is active.
func (o *FogOverlay) UsingShader() bool { return o.reveal != nil }

func (o *FogOverlay) DrawWorld(dst *ebiten.Image) {
	if !o.visible {
		return
	}
	if o.reveal != nil {
		o.drawShader(dst)
		return
	}
	if o.fallback != nil {
		opts := &ebiten.DrawImageOptions{}
		opts.GeoM.Scale(o.worldW/float64(o.gridW), o.worldH/float64(o.gridH))
		opts.Filter = ebiten.FilterLinear
		dst.DrawImage(o.fallback, opts)
	}
}

func (o *FogOverlay) drawShader(dst *ebiten.Image) {
	w, h := float32(o.worldW), float32(o.worldH)
	sw, sh := float32(o.gridW), float32(o.gridH)
	vs := []ebiten.Vertex{
		{DstX: 0, DstY: 0, SrcX: 0, SrcY: 0, ColorR: 1, ColorG: 1, ColorB: 1, ColorA: 1},
		{DstX: w, DstY: 0, SrcX: sw, SrcY: 0, ColorR: 1, ColorG: 1, ColorB: 1, ColorA: 1},
		{DstX: 0, DstY: h, SrcX: 0, SrcY: sh, ColorR: 1, ColorG: 1, ColorB: 1, ColorA: 1},
		{DstX: w, DstY: h, SrcX: sw, SrcY: sh, ColorR: 1, ColorG: 1, ColorB: 1, ColorA: 1},
	}
	is := []uint16{0, 1, 2, 1, 3, 2}
	c := o.style.Colour
	opts := &ebiten.DrawTrianglesShaderOptions{}
	opts.Images[0] = o.reveal
	opts.Uniforms = map[string]any{
		"Time":     float32(o.time),
		"Opacity":  float32(o.style.Opacity),
		"Colour":   []float32{float32(c.R) / 255, float32(c.G) / 255, float32(c.B) / 255},
		"Softness": float32(o.style.EdgeSoftness),
	}
	dst.DrawTrianglesShader(vs, is, o.shader, opts)
}

// Dispose frees the textures. Safe to call twice.
func (o *FogOverlay) Dispose() {
	if o.reveal != nil {
		o.reveal.Deallocate()
		o.reveal = nil
	}
	if o.fallback != nil {
		o.fallback.Deallocate()
		o.fallback = nil
	}
	o.pixels = nil
}

// encodeRevealPixels writes each reveal byte into the red channel of an
// opaque RGBA texel.
func encodeRevealPixels(dst, cells []byte) {
	for i := 0; i < len(cells) && i*4+3 < len(dst); i++ {
		v := cells[i]
		dst[i*4] = v
		dst[i*4+1] = v
		dst[i*4+2] = v
		dst[i*4+3] = 0xff
	}
}

// encodeFallbackPixels writes premultiplied fog texels whose alpha falls
// linearly with the reveal value.
func encodeFallbackPixels(dst, cells []byte, s FogStyle) {
	for i := 0; i < len(cells) && i*4+3 < len(dst); i++ {
		a := float64(255-cells[i]) / 255 * s.Opacity
		dst[i*4] = uint8(float64(s.Colour.R) * a)
		dst[i*4+1] = uint8(float64(s.Colour.G) * a)
		dst[i*4+2] = uint8(float64(s.Colour.B) * a)
		dst[i*4+3] = uint8(255 * a)
	}
}
