package client

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"github.com/Garsondee/Tactical-Map/internal/token"
)

// Inspector panel, rendered at 1x into a buffer then blitted at inspScale.
const (
	inspScale = 2
	inspBufW  = 200
	inspBufH  = 160
	inspPad   = 4
	inspLineH = 13
)

// Inspector shows the selected token's record.
type Inspector struct {
	rawView bool
	buf     *ebiten.Image
}

// ToggleView switches between the curated and raw views.
func (in *Inspector) ToggleView() { in.rawView = !in.rawView }

// Lines returns the panel text for t.
func (in *Inspector) Lines(t token.Token) []string {
	if in.rawView {
		return rawLines(t)
	}
	return curatedLines(t)
}

func curatedLines(t token.Token) []string {
	name := t.Name
	if name == "" {
		name = t.ID
	}
	owner := "NPC"
	if t.IsPlayerControlled {
		owner = "PC"
	}
	lines := []string{fmt.Sprintf("[ %s %s ]", owner, name)}
	if !t.Visible() {
		lines = append(lines, "hidden from players")
	}
	lines = append(lines, "-- STATS --")
	if t.MaxHP > 0 {
		lines = append(lines, fmt.Sprintf("hp  %s %d/%d", hpBar(t.HP, t.MaxHP), t.HP, t.MaxHP))
	}
	if t.AC > 0 {
		lines = append(lines, fmt.Sprintf("ac  %d", t.AC))
	}
	lines = append(lines, fmt.Sprintf("size %.1f", t.Size))
	if len(t.Conditions) > 0 {
		lines = append(lines, "-- CONDITIONS --")
		for _, c := range t.Conditions {
			lines = append(lines, "  "+c)
		}
	}
	return lines
}

func rawLines(t token.Token) []string {
	return []string{
		fmt.Sprintf("id=%s", t.ID),
		fmt.Sprintf("name=%q", t.Name),
		fmt.Sprintf("pos=(%.0f,%.0f) size=%.2f", t.Position[0], t.Position[1], t.Size),
		fmt.Sprintf("color=%s img=%v", t.Color, t.ImageURL != ""),
		fmt.Sprintf("hp=%d/%d ac=%d", t.HP, t.MaxHP, t.AC),
		fmt.Sprintf("pc=%v visible=%v", t.IsPlayerControlled, t.Visible()),
		fmt.Sprintf("cond=%s", strings.Join(t.Conditions, ",")),
	}
}

func hpBar(hp, maxHP int) string {
	const width = 10
	filled := 0
	if maxHP > 0 {
		filled = hp * width / maxHP
	}
	filled = max(0, min(width, filled))
	return strings.Repeat("#", filled) + strings.Repeat(".", width-filled)
}

// Draw renders the panel for t in the bottom-right corner, left of the log.
func (in *Inspector) Draw(screen *ebiten.Image, t token.Token) {
	if in.buf == nil {
		in.buf = ebiten.NewImage(inspBufW, inspBufH)
	}
	buf := in.buf
	buf.Clear()

	bw, bh := float32(inspBufW), float32(inspBufH)
	border := color.RGBA{R: 55, G: 70, B: 100, A: 255}
	vector.FillRect(buf, 0, 0, bw, bh, color.RGBA{R: 14, G: 16, B: 22, A: 230}, false)
	vector.StrokeRect(buf, 0, 0, bw, bh, 1.0, border, false)

	view := "CURATED"
	if in.rawView {
		view = "RAW"
	}
	ly := inspPad
	ebitenutil.DebugPrintAt(buf, fmt.Sprintf("view: %s  [I] toggle", view), inspPad, ly)
	ly += inspLineH + 2
	vector.StrokeLine(buf, inspPad, float32(ly), bw-inspPad, float32(ly), 1.0, border, false)
	ly += 3
	for _, l := range in.Lines(t) {
		if ly > inspBufH-inspLineH {
			break
		}
		ebitenutil.DebugPrintAt(buf, l, inspPad, ly)
		ly += inspLineH
	}

	sw, sh := screen.Bounds().Dx(), screen.Bounds().Dy()
	opts := &ebiten.DrawImageOptions{}
	opts.GeoM.Scale(inspScale, inspScale)
	opts.GeoM.Translate(float64(sw-logPanelWidth-inspBufW*inspScale-12), float64(sh-inspBufH*inspScale-8))
	screen.DrawImage(buf, opts)
}

// Dispose frees the panel buffer.
func (in *Inspector) Dispose() {
	if in.buf != nil {
		in.buf.Deallocate()
		in.buf = nil
	}
}
