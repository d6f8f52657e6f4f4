package engine

import (
	"fmt"
	"strings"
)

// FogReport summarises one client's mask.
type FogReport struct {
	GridWidth  int
	GridHeight int
	Revealed   int // cells above the persistence threshold
	Partial    int // touched but at or below the threshold
	Hidden     int
	Coverage   float64
	Pending    int
	Flushes    int64
	Failed     int64
	Remote     int64
}

// Report counts revealed, partial and hidden cells.
func (e *Engine) Report() FogReport {
	w, h := e.FogSize()
	r := FogReport{GridWidth: w, GridHeight: h, Coverage: e.FogCoverage(), Pending: e.PendingFog()}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			switch v := e.FogValue(x, y); {
			case v >= 128:
				r.Revealed++
			case v > 0:
				r.Partial++
			default:
				r.Hidden++
			}
		}
	}
	st := e.SyncStats()
	r.Flushes, r.Failed, r.Remote = st.Flushes, st.FailedFlush, st.RemoteEvents
	return r
}

func (r FogReport) String() string {
	return fmt.Sprintf("grid=%dx%d revealed=%d partial=%d hidden=%d coverage=%.1f%% pending=%d flushes=%d failed=%d remote=%d",
		r.GridWidth, r.GridHeight, r.Revealed, r.Partial, r.Hidden, r.Coverage*100, r.Pending, r.Flushes, r.Failed, r.Remote)
}

// asciiRamp maps reveal intensity to a glyph, hidden first.
const asciiRamp = "#%+-. "

// FogASCII draws the mask one character per cell, '#' hidden through ' '
// fully revealed.
func (e *Engine) FogASCII() string {
	w, h := e.FogSize()
	if w == 0 || h == 0 {
		return ""
	}
	var b strings.Builder
	b.Grow((w + 1) * h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			b.WriteByte(asciiGlyph(e.FogValue(x, y)))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func asciiGlyph(v uint8) byte {
	i := int(v) * (len(asciiRamp) - 1) / 255
	return asciiRamp[i]
}
