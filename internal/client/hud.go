package client

import (
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/vector"
)

// hudScale is the integer upscale factor applied to HUD text.
const hudScale = 2

const (
	hudLineH = 12 // debug font line height at 1x
	hudCharW = 6  // debug font char width at 1x
	hudPadX  = 5
	hudPadY  = 4
)

// HUD draws the key legend in the bottom-left corner. Text is drawn into buf
// at 1x then composited onto the screen at hudScale.
type HUD struct {
	buf        *ebiten.Image
	bufW, bufH int
}

// hudBox returns the panel size at 1x for lines.
func hudBox(lines []string) (w, h int) {
	maxLen := 0
	for _, l := range lines {
		maxLen = max(maxLen, len(l))
	}
	return maxLen*hudCharW + hudPadX*2, len(lines)*hudLineH + hudPadY*2
}

func (h *HUD) Draw(screen *ebiten.Image, lines []string) {
	if len(lines) == 0 {
		return
	}
	sw, sh := screen.Bounds().Dx()/hudScale, screen.Bounds().Dy()/hudScale
	if h.buf == nil || h.bufW != sw || h.bufH != sh {
		if h.buf != nil {
			h.buf.Deallocate()
		}
		h.buf = ebiten.NewImage(sw, sh)
		h.bufW, h.bufH = sw, sh
	}

	w, ht := hudBox(lines)
	boxW, boxH := float32(w), float32(ht)
	bx := float32(4)
	by := float32(sh) - boxH - 4

	h.buf.Clear()
	vector.FillRect(h.buf, bx, by, boxW, boxH, color.RGBA{R: 6, G: 8, B: 14, A: 210}, false)
	vector.StrokeRect(h.buf, bx, by, boxW, boxH, 1.0, color.RGBA{R: 60, G: 75, B: 110, A: 180}, false)
	// Inner highlight line along top edge.
	vector.StrokeLine(h.buf, bx+1, by+1, bx+boxW-1, by+1, 1.0, color.RGBA{R: 90, G: 110, B: 160, A: 80}, false)

	for i, line := range lines {
		ebitenutil.DebugPrintAt(h.buf, line, int(bx)+hudPadX, int(by)+hudPadY+i*hudLineH)
	}

	opts := &ebiten.DrawImageOptions{}
	opts.GeoM.Scale(hudScale, hudScale)
	screen.DrawImage(h.buf, opts)
}

func (h *HUD) Dispose() {
	if h.buf != nil {
		h.buf.Deallocate()
		h.buf = nil
	}
}
