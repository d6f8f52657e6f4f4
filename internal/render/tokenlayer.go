package render

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"math"
	"sort"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/Garsondee/Tactical-Map/internal/token"
)

const (
	labelSize     = 14
	hpBarHeight   = 6
	hiddenOpacity = 0.5
)

// GlowPulse is the selection glow factor at animation time t: 0.7 to 1.0.
func GlowPulse(t float64) float64 {
	return math.Sin(t*3)*0.15 + 0.85
}

type sprite struct {
	tok    token.Token
	colour color.RGBA
	img    *ebiten.Image
}

type loadedImage struct {
	id, url string
	img     image.Image
}

// TokenLayer keeps one drawable per token id. It is driven only through
// AddOrUpdate and Remove and never writes back to the token feed.
type TokenLayer struct {
	sprites  map[string]*sprite
	order    []string
	selected string

	clock         float64
	animSpeed     float64
	glowIntensity float64
	glow          float64
	hostView      bool
	showNames     bool
	showHP        bool
	occluded      func(wx, wy float64) bool
	face          *text.GoTextFace
	faceFailed    bool
	loader        *ImageLoader
	loaded        chan loadedImage
	ctx           context.Context
	cancel        context.CancelFunc
	log           logrus.FieldLogger
}

// NewTokenLayer creates an empty layer. loader may be nil, in which case
// token images are never fetched.
func NewTokenLayer(loader *ImageLoader, log logrus.FieldLogger) *TokenLayer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TokenLayer{
		sprites:       make(map[string]*sprite),
		animSpeed:     1,
		glowIntensity: 1,
		showNames:     true,
		showHP:        true,
		loader:        loader,
		loaded:        make(chan loadedImage, 64),
		ctx:           ctx,
		cancel:        cancel,
		log:           log.WithField("component", "tokens"),
	}
}

func (l *TokenLayer) Z() int { return ZTokens }

// SetHostView shows hidden tokens at half opacity instead of omitting them.
func (l *TokenLayer) SetHostView(host bool) { l.hostView = host }

// SetOccluder hides tokens for which fn reports true. Hidden-token rules
// still apply on top.
func (l *TokenLayer) SetOccluder(fn func(wx, wy float64) bool) { l.occluded = fn }

func (l *TokenLayer) SetAnimationSpeed(s float64) { l.animSpeed = s }

// AddOrUpdate creates or refreshes the sprite for t.
func (l *TokenLayer) AddOrUpdate(t token.Token) {
	if t.ID == "" {
		return
	}
	sp, ok := l.sprites[t.ID]
	if !ok {
		sp = &sprite{}
		l.sprites[t.ID] = sp
		l.order = append(l.order, t.ID)
		sort.Strings(l.order)
	}
	if ok && sp.tok.ImageURL != t.ImageURL && sp.img != nil {
		sp.img.Deallocate()
		sp.img = nil
	}
	imageChanged := !ok || sp.tok.ImageURL != t.ImageURL
	sp.tok = t
	sp.colour = t.Colour()
	if imageChanged && t.ImageURL != "" {
		l.fetchImage(t.ID, t.ImageURL)
	}
}

func (l *TokenLayer) fetchImage(id, url string) {
	if l.loader == nil {
		return
	}
	go func() {
		img, err := l.loader.Load(l.ctx, url)
		if err != nil {
			l.log.WithError(err).WithField("token", id).Warn("token image failed")
			return
		}
		masked := circleMask(img)
		select {
		case l.loaded <- loadedImage{id: id, url: url, img: masked}:
		case <-l.ctx.Done():
		}
	}()
}

// Remove drops the sprite and its texture.
func (l *TokenLayer) Remove(id string) {
	sp, ok := l.sprites[id]
	if !ok {
		return
	}
	if sp.img != nil {
		sp.img.Deallocate()
	}
	delete(l.sprites, id)
	for i, cur := range l.order {
		if cur == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	if l.selected == id {
		l.selected = ""
	}
}

// Select highlights id and clears any previous selection.
func (l *TokenLayer) Select(id string) {
	if _, ok := l.sprites[id]; ok {
		l.selected = id
	}
}

func (l *TokenLayer) DeselectAll() { l.selected = "" }

// Selected returns the highlighted token.
func (l *TokenLayer) Selected() (token.Token, bool) {
	sp, ok := l.sprites[l.selected]
	if !ok {
		return token.Token{}, false
	}
	return sp.tok, true
}

func (l *TokenLayer) Token(id string) (token.Token, bool) {
	sp, ok := l.sprites[id]
	if !ok {
		return token.Token{}, false
	}
	return sp.tok, true
}

func (l *TokenLayer) Len() int { return len(l.sprites) }

// Glow returns the current selection glow intensity.
func (l *TokenLayer) Glow() float64 { return l.glow }

func (l *TokenLayer) ClearAll() {
	for _, id := range append([]string(nil), l.order...) {
		l.Remove(id)
	}
	l.selected = ""
}

// Pick returns the topmost drawable token whose disc contains (wx, wy).
func (l *TokenLayer) Pick(wx, wy float64) (string, bool) {
	for i := len(l.order) - 1; i >= 0; i-- {
		sp := l.sprites[l.order[i]]
		if !l.drawable(sp) {
			continue
		}
		r := sp.tok.Diameter() / 2
		dx, dy := wx-sp.tok.Position[0], wy-sp.tok.Position[1]
		if dx*dx+dy*dy <= r*r {
			return sp.tok.ID, true
		}
	}
	return "", false
}

func (l *TokenLayer) drawable(sp *sprite) bool {
	if !sp.tok.Visible() && !l.hostView {
		return false
	}
	if l.occluded != nil && l.occluded(sp.tok.Position[0], sp.tok.Position[1]) {
		return false
	}
	return true
}

// Update advances the glow pulse and uploads token images that finished
// loading. Must run on the main loop.
func (l *TokenLayer) Update(dt float64) {
	l.clock += dt * l.animSpeed
	if l.selected != "" {
		l.glow = GlowPulse(l.clock) * l.glowIntensity
	} else {
		l.glow = 0
	}
	for {
		select {
		case li := <-l.loaded:
			sp, ok := l.sprites[li.id]
			if !ok || sp.tok.ImageURL != li.url {
				continue
			}
			if sp.img != nil {
				sp.img.Deallocate()
			}
			sp.img = ebiten.NewImageFromImage(li.img)
		default:
			return
		}
	}
}

func (l *TokenLayer) labelFace() *text.GoTextFace {
	if l.face != nil || l.faceFailed {
		return l.face
	}
	src, err := text.NewGoTextFaceSource(bytes.NewReader(goregular.TTF))
	if err != nil {
		l.faceFailed = true
		l.log.WithError(err).Warn("label font unavailable")
		return nil
	}
	l.face = &text.GoTextFace{Source: src, Size: labelSize}
	return l.face
}

func (l *TokenLayer) DrawWorld(dst *ebiten.Image) {
	for _, id := range l.order {
		sp := l.sprites[id]
		if !l.drawable(sp) {
			continue
		}
		l.drawSprite(dst, sp)
	}
}

func (l *TokenLayer) drawSprite(dst *ebiten.Image, sp *sprite) {
	t := sp.tok
	alpha := 1.0
	if !t.Visible() {
		alpha = hiddenOpacity
	}
	cx, cy := float32(t.Position[0]), float32(t.Position[1])
	r := float32(t.Diameter() / 2)

	if t.ID == l.selected && l.glow > 0 {
		glow := fade(color.RGBA{R: 255, G: 214, B: 102, A: 255}, l.glow*alpha)
		vector.StrokeCircle(dst, cx, cy, r+4, 4, glow, true)
	}

	vector.FillCircle(dst, cx, cy, r, fade(sp.colour, alpha), true)
	if sp.img != nil {
		b := sp.img.Bounds()
		opts := &ebiten.DrawImageOptions{}
		opts.GeoM.Scale(float64(2*r)/float64(b.Dx()), float64(2*r)/float64(b.Dy()))
		opts.GeoM.Translate(float64(cx-r), float64(cy-r))
		opts.ColorScale.ScaleAlpha(float32(alpha))
		opts.Filter = ebiten.FilterLinear
		dst.DrawImage(sp.img, opts)
	}
	border := color.RGBA{R: 20, G: 20, B: 24, A: 255}
	if t.IsPlayerControlled {
		border = color.RGBA{R: 240, G: 240, B: 240, A: 255}
	}
	vector.StrokeCircle(dst, cx, cy, r, 2, fade(border, alpha), true)

	if l.showHP && t.MaxHP > 0 {
		frac := float32(math.Max(0, math.Min(1, float64(t.HP)/float64(t.MaxHP))))
		bx, by := cx-r, cy+r+3
		vector.FillRect(dst, bx, by, 2*r, hpBarHeight, fade(color.RGBA{R: 30, G: 30, B: 30, A: 220}, alpha), false)
		vector.FillRect(dst, bx, by, 2*r*frac, hpBarHeight, fade(hpColour(frac), alpha), false)
	}

	if l.showNames && strings.TrimSpace(t.Name) != "" {
		if face := l.labelFace(); face != nil {
			w, _ := text.Measure(t.Name, face, 0)
			op := &text.DrawOptions{}
			op.GeoM.Translate(float64(cx)-w/2, float64(cy-r)-labelSize-4)
			op.ColorScale.ScaleWithColor(color.White)
			op.ColorScale.ScaleAlpha(float32(alpha))
			text.Draw(dst, t.Name, face, op)
		}
	}
}

func hpColour(frac float32) color.RGBA {
	switch {
	case frac > 0.5:
		return color.RGBA{R: 46, G: 160, B: 67, A: 255}
	case frac > 0.25:
		return color.RGBA{R: 234, G: 179, B: 8, A: 255}
	default:
		return color.RGBA{R: 224, G: 60, B: 49, A: 255}
	}
}

// fade scales a premultiplied colour by a.
func fade(c color.RGBA, a float64) color.RGBA {
	if a >= 1 {
		return c
	}
	return color.RGBA{
		R: uint8(float64(c.R) * a),
		G: uint8(float64(c.G) * a),
		B: uint8(float64(c.B) * a),
		A: uint8(float64(c.A) * a),
	}
}

// circleMask copies img into a square RGBA with everything outside the
// inscribed circle made transparent.
func circleMask(img image.Image) *image.RGBA {
	b := img.Bounds()
	size := min(b.Dx(), b.Dy())
	out := image.NewRGBA(image.Rect(0, 0, size, size))
	ox := b.Min.X + (b.Dx()-size)/2
	oy := b.Min.Y + (b.Dy()-size)/2
	r := float64(size) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)+0.5-r, float64(y)+0.5-r
			if dx*dx+dy*dy > r*r {
				continue
			}
			out.Set(x, y, img.At(ox+x, oy+y))
		}
	}
	return out
}

// Dispose stops pending image loads and frees every texture.
func (l *TokenLayer) Dispose() {
	l.cancel()
	l.ClearAll()
}
