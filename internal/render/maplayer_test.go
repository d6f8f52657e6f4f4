package render

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 80, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "map.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFitToBudget_PreservesAspect(t *testing.T) {
	w, h := FitToBudget(1600, 800, 2000)
	if w != 2000 || h != 1000 {
		t.Fatalf("landscape: got %.0fx%.0f, want 2000x1000", w, h)
	}
	w, h = FitToBudget(500, 1000, 2000)
	if w != 1000 || h != 2000 {
		t.Fatalf("portrait: got %.0fx%.0f, want 1000x2000", w, h)
	}
	w, h = FitToBudget(0, 10, 2000)
	if w != 0 || h != 0 {
		t.Fatalf("empty image should give zero size, got %.0fx%.0f", w, h)
	}
}

func TestDownscale_BoundsLongerEdge(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 400, 100))
	out := downscale(src, 200)
	if b := out.Bounds(); b.Dx() != 200 || b.Dy() != 50 {
		t.Fatalf("downscaled to %dx%d, want 200x50", b.Dx(), b.Dy())
	}
	if downscale(src, 1000) != image.Image(src) {
		t.Fatal("images within bounds should be returned unchanged")
	}
}

func TestImageLoader_LoadsFilesAndCaches(t *testing.T) {
	path := writePNG(t, 64, 32)
	l, err := NewImageLoader(1<<20, nil)
	if err != nil {
		t.Fatalf("NewImageLoader: %v", err)
	}
	defer l.Close()

	img, err := l.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load(%s): %v", path, err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 32 {
		t.Fatalf("decoded %dx%d, want 64x32", b.Dx(), b.Dy())
	}

	// Second load is served from cache even after the file is gone.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Load(context.Background(), path); err != nil {
		t.Fatalf("cached load failed: %v", err)
	}

	if _, err := l.Load(context.Background(), "file://"+filepath.Join(t.TempDir(), "missing.png")); !errors.Is(err, ErrNoImage) {
		t.Fatalf("missing file should wrap ErrNoImage, got %v", err)
	}
}

func TestImageLoader_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.png")
	if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := NewImageLoader(0, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	if _, err := l.Load(context.Background(), path); !errors.Is(err, ErrNoImage) {
		t.Fatalf("garbage should wrap ErrNoImage, got %v", err)
	}
	if _, err := l.Load(context.Background(), "  "); !errors.Is(err, ErrNoImage) {
		t.Fatalf("empty url should wrap ErrNoImage, got %v", err)
	}
}

func TestImageLoader_ReportsSourceSizeAfterDownscale(t *testing.T) {
	path := writePNG(t, 120, 40)
	l, err := NewImageLoader(1<<20, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	l.maxEdge = 60

	img, size, err := l.LoadSized(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadSized: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 60 || b.Dy() != 20 {
		t.Fatalf("texture %dx%d, want 60x20", b.Dx(), b.Dy())
	}
	if size.X != 120 || size.Y != 40 {
		t.Fatalf("source size %v, want 120x40", size)
	}

	if _, cached, err := l.LoadSized(context.Background(), path); err != nil || cached != size {
		t.Fatalf("cached load: size %v err %v", cached, err)
	}
}
