package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// MaxTextureEdge bounds decoded images; larger images are downscaled.
const MaxTextureEdge = 4096

const maxImageBytes = 64 << 20

// ErrNoImage is returned when a map or token image cannot be produced.
var ErrNoImage = errors.New("no image")

// ImageLoader fetches and decodes images from http(s) URLs, file:// URLs or
// plain paths, caching decoded results by URL.
type ImageLoader struct {
	client  *http.Client
	cache   *ristretto.Cache[string, decoded]
	maxEdge int
	log     logrus.FieldLogger
}

// decoded is a cached image together with the size of its source file.
type decoded struct {
	img image.Image
	src image.Point
}

// NewImageLoader creates a loader whose cache holds up to maxCost bytes of
// decoded pixels. maxCost <= 0 disables caching.
func NewImageLoader(maxCost int64, log logrus.FieldLogger) (*ImageLoader, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	l := &ImageLoader{
		client:  &http.Client{Timeout: 30 * time.Second},
		maxEdge: MaxTextureEdge,
		log:     log.WithField("component", "images"),
	}
	if maxCost > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[string, decoded]{
			NumCounters: 1000,
			MaxCost:     maxCost,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("image cache: %w", err)
		}
		l.cache = cache
	}
	return l, nil
}

// Load returns the decoded image at src, downscaled to MaxTextureEdge.
func (l *ImageLoader) Load(ctx context.Context, src string) (image.Image, error) {
	img, _, err := l.LoadSized(ctx, src)
	return img, err
}

// LoadSized is Load that also reports the pixel size of the source before
// any downscale.
func (l *ImageLoader) LoadSized(ctx context.Context, src string) (image.Image, image.Point, error) {
	if strings.TrimSpace(src) == "" {
		return nil, image.Point{}, fmt.Errorf("%w: empty url", ErrNoImage)
	}
	if l.cache != nil {
		if d, ok := l.cache.Get(src); ok {
			return d.img, d.src, nil
		}
	}

	data, err := l.fetch(ctx, src)
	if err != nil {
		return nil, image.Point{}, fmt.Errorf("%w: %s: %v", ErrNoImage, src, err)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, image.Point{}, fmt.Errorf("%w: decode %s: %v", ErrNoImage, src, err)
	}
	size := img.Bounds().Size()
	img = downscale(img, l.maxEdge)
	b := img.Bounds()
	l.log.WithFields(logrus.Fields{
		"url": src, "format": format, "w": b.Dx(), "h": b.Dy(), "src_w": size.X, "src_h": size.Y,
	}).Debug("image decoded")

	if l.cache != nil {
		l.cache.Set(src, decoded{img: img, src: size}, int64(b.Dx()*b.Dy()*4))
		l.cache.Wait()
	}
	return img, size, nil
}

func (l *ImageLoader) fetch(ctx context.Context, src string) ([]byte, error) {
	u, err := url.Parse(src)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
			if err != nil {
				return nil, err
			}
			resp, err := l.client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("status %d", resp.StatusCode)
			}
			return io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
		case "file":
			return os.ReadFile(u.Path)
		}
	}
	return os.ReadFile(src)
}

// Close stops the cache's background goroutines.
func (l *ImageLoader) Close() {
	if l.cache != nil {
		l.cache.Close()
	}
}

// downscale shrinks img so neither edge exceeds maxEdge, keeping aspect.
func downscale(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxEdge && h <= maxEdge {
		return img
	}
	scale := float64(maxEdge) / float64(max(w, h))
	nw, nh := max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// FitToBudget scales image pixels to world units so that the longer side
// equals budget, preserving aspect.
func FitToBudget(imgW, imgH int, budget float64) (worldW, worldH float64) {
	if imgW <= 0 || imgH <= 0 || budget <= 0 {
		return 0, 0
	}
	aspect := float64(imgW) / float64(imgH)
	if aspect >= 1 {
		return budget, budget / aspect
	}
	return budget * aspect, budget
}

// MapLayer is the background image quad, sized in world units.
type MapLayer struct {
	img            *ebiten.Image
	srcW, srcH     int
	worldW, worldH float64
}

// NewMapLayer uploads src as a texture covering worldW x worldH.
func NewMapLayer(src image.Image, worldW, worldH float64) *MapLayer {
	b := src.Bounds()
	return &MapLayer{
		img:    ebiten.NewImageFromImage(src),
		srcW:   b.Dx(),
		srcH:   b.Dy(),
		worldW: worldW,
		worldH: worldH,
	}
}

func (m *MapLayer) Z() int { return ZMap }

func (m *MapLayer) WorldWidth() float64  { return m.worldW }
func (m *MapLayer) WorldHeight() float64 { return m.worldH }

func (m *MapLayer) DrawWorld(dst *ebiten.Image) {
	if m.img == nil {
		return
	}
	opts := &ebiten.DrawImageOptions{}
	opts.GeoM.Scale(m.worldW/float64(m.srcW), m.worldH/float64(m.srcH))
	opts.Filter = ebiten.FilterLinear
	dst.DrawImage(m.img, opts)
}

// Dispose frees the texture. Safe to call twice.
func (m *MapLayer) Dispose() {
	if m.img != nil {
		m.img.Deallocate()
		m.img = nil
	}
}
