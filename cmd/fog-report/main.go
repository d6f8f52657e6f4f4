package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/atotto/clipboard"
	"github.com/gogpu/gg"
	"github.com/sirupsen/logrus"

	"github.com/Garsondee/Tactical-Map/internal/config"
	"github.com/Garsondee/Tactical-Map/internal/engine"
	"github.com/Garsondee/Tactical-Map/internal/fog"
	"github.com/Garsondee/Tactical-Map/internal/logging"
	"github.com/Garsondee/Tactical-Map/internal/relay"
)

// stroke is one simulated host brush dab in grid cells.
type stroke struct {
	gx, gy int
	brush  fog.Brush
}

// fogView is the read side of an engine a report needs.
type fogView interface {
	FogSize() (int, int)
	FogValue(x, y int) uint8
}

func main() {
	var cfgPath string
	var relayURL string
	var sessionID, mapID string
	var gridW, gridH int
	var strokes int
	var seed int64
	var pngPath string
	var pngCell int
	var copyASCII bool
	var quiet bool

	flag.StringVar(&cfgPath, "config", "", "optional config file")
	flag.StringVar(&relayURL, "relay", "", "relay URL; empty runs a local demo session")
	flag.StringVar(&sessionID, "session", "session-1", "session id")
	flag.StringVar(&mapID, "map", "map-1", "map id")
	flag.IntVar(&gridW, "grid-w", 40, "fog grid width in cells")
	flag.IntVar(&gridH, "grid-h", 24, "fog grid height in cells")
	flag.IntVar(&strokes, "strokes", 12, "demo: number of random host brush strokes")
	flag.Int64Var(&seed, "seed", 42, "demo: RNG seed")
	flag.StringVar(&pngPath, "png", "", "write a PNG snapshot to this path")
	flag.IntVar(&pngCell, "png-cell", 8, "PNG pixels per fog cell")
	flag.BoolVar(&copyASCII, "copy", false, "copy the ASCII map to the clipboard")
	flag.BoolVar(&quiet, "quiet", true, "suppress engine logging")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	if relayURL == "" {
		relayURL = cfg.Relay.URL
	}
	if gridW <= 0 || gridH <= 0 {
		fmt.Println("error: -grid-w and -grid-h must be > 0")
		os.Exit(1)
	}
	log := logging.Init(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Quiet:  quiet,
	})

	fmt.Printf("=== Fog Report ===\n")
	fmt.Printf("session=%s map=%s grid=%dx%d\n\n", sessionID, mapID, gridW, gridH)

	var view fogView
	var ascii string
	if relayURL != "" {
		eng, err := loadRemote(relayURL, sessionID, mapID, gridW, gridH, cfg, log)
		if err != nil {
			fmt.Println("error:", err)
			os.Exit(1)
		}
		defer eng.Dispose()
		printReport("relay "+relayURL, eng.Report())
		view, ascii = eng, eng.FogASCII()
	} else {
		ts, err := runDemo(sessionID, mapID, gridW, gridH, strokes, seed, log)
		if err != nil {
			fmt.Println("error:", err)
			os.Exit(1)
		}
		defer ts.Dispose()
		printReport("host", ts.Host.Report())
		printReport("player", ts.Players[0].Report())
		fmt.Printf("converged=%v ticks=%d\n\n", ts.Converged(), ts.Tick)
		view, ascii = ts.Players[0], ts.Players[0].FogASCII()
	}

	fmt.Println(ascii)

	if pngPath != "" {
		if err := writePNG(pngPath, view, pngCell); err != nil {
			fmt.Println("error:", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", pngPath)
	}
	if copyASCII {
		if err := clipboard.WriteAll(ascii); err != nil {
			fmt.Println("copy failed:", err)
		} else {
			fmt.Println("copied ASCII map to clipboard")
		}
	}
}

// loadRemote joins a live session as a participant and hydrates its mask.
func loadRemote(url, sessionID, mapID string, gridW, gridH int, cfg *config.Config, log logrus.FieldLogger) (*engine.Engine, error) {
	eng, err := engine.New(engine.Options{
		Repo:   relay.NewClient(url, "fog-report", log),
		Log:    log,
		UserID: "fog-report",
	})
	if err != nil {
		return nil, err
	}
	cell := cfg.Map.GridCellSize
	dims := engine.MapDimensions{
		WorldWidth:   float64(gridW) * cell,
		WorldHeight:  float64(gridH) * cell,
		GridCellSize: cell,
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Fog.FlushTimeout)
	defer cancel()
	if err := eng.UseDimensions(dims); err != nil {
		eng.Dispose()
		return nil, err
	}
	if err := eng.InitializeFog(ctx, sessionID, mapID, false, gridW, gridH); err != nil {
		eng.Dispose()
		return nil, err
	}
	return eng, nil
}

// runDemo plays random host strokes in a local session with one player,
// flushes them and waits for the player to catch up.
func runDemo(sessionID, mapID string, gridW, gridH, n int, seed int64, log logrus.FieldLogger) (*engine.TestSession, error) {
	ts, err := engine.NewTestSession(
		engine.WithIDs(sessionID, mapID),
		engine.WithGrid(gridW, gridH),
		engine.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	for _, s := range demoStrokes(seed, n, gridW, gridH) {
		wx, wy := ts.Host.GridToWorld(s.gx, s.gy)
		ts.Host.RevealFog(wx, wy, s.brush)
	}
	if err := ts.Flush(context.Background()); err != nil {
		ts.Dispose()
		return nil, err
	}
	ts.RunUntil(func(ts *engine.TestSession) bool { return ts.Converged() }, 2*time.Second)
	return ts, nil
}

// demoStrokes is deterministic for a given seed.
func demoStrokes(seed int64, n, gridW, gridH int) []stroke {
	rng := rand.New(rand.NewSource(seed))
	out := make([]stroke, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, stroke{
			gx: rng.Intn(gridW),
			gy: rng.Intn(gridH),
			brush: fog.Brush{
				Mode:     fog.BrushReveal,
				Radius:   fog.MinBrushRadius + rng.Intn(4),
				Strength: 0.5 + rng.Float64()*0.5,
			}.Clamp(),
		})
	}
	return out
}

func printReport(label string, r engine.FogReport) {
	fmt.Printf("[%s]\n", label)
	fmt.Printf("  revealed=%d partial=%d hidden=%d coverage=%.1f%%\n", r.Revealed, r.Partial, r.Hidden, r.Coverage*100)
	fmt.Printf("  pending=%d flushes=%d failed=%d remote=%d\n\n", r.Pending, r.Flushes, r.Failed, r.Remote)
}

// writePNG rasterises the mask, one square of cell pixels per fog cell,
// shaded from the fog colour to parchment by reveal intensity.
func writePNG(path string, v fogView, cell int) error {
	w, h := v.FogSize()
	if w == 0 || h == 0 {
		return fmt.Errorf("png: no fog to draw")
	}
	if cell <= 0 {
		cell = 1
	}
	dc := gg.NewContext(w*cell, h*cell)
	defer dc.Close()

	dc.ClearWithColor(gg.RGB(0.02, 0.02, 0.05))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := float64(v.FogValue(x, y)) / 255
			if a == 0 {
				continue
			}
			dc.SetRGBA(0.93, 0.88, 0.74, a)
			dc.DrawRectangle(float64(x*cell), float64(y*cell), float64(cell), float64(cell))
			if err := dc.Fill(); err != nil {
				return fmt.Errorf("png: %w", err)
			}
		}
	}
	if cell >= 4 {
		dc.SetRGBA(0, 0, 0, 0.25)
		dc.SetLineWidth(1)
		for x := 0; x <= w; x++ {
			dc.DrawLine(float64(x*cell), 0, float64(x*cell), float64(h*cell))
		}
		for y := 0; y <= h; y++ {
			dc.DrawLine(0, float64(y*cell), float64(w*cell), float64(y*cell))
		}
		if err := dc.Stroke(); err != nil {
			return fmt.Errorf("png: %w", err)
		}
	}
	if err := dc.SavePNG(path); err != nil {
		return fmt.Errorf("png: %w", err)
	}
	return nil
}
