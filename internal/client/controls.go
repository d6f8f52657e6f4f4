package client

import (
	"fmt"
	"math"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/Garsondee/Tactical-Map/internal/engine"
	"github.com/Garsondee/Tactical-Map/internal/fog"
	"github.com/Garsondee/Tactical-Map/internal/render"
)

const (
	panStep      = 8.0 // screen pixels per tick
	wheelZoom    = 1.12
	keyZoom      = 1.25
	strengthStep = 0.1
)

// watchedKeys are the keys the controls read each tick.
var watchedKeys = []ebiten.Key{
	ebiten.KeyW, ebiten.KeyA, ebiten.KeyS, ebiten.KeyD,
	ebiten.KeyArrowUp, ebiten.KeyArrowDown, ebiten.KeyArrowLeft, ebiten.KeyArrowRight,
	ebiten.KeyEqual, ebiten.KeyMinus,
	ebiten.KeyBracketLeft, ebiten.KeyBracketRight, ebiten.KeyComma, ebiten.KeyPeriod,
	ebiten.KeyShiftLeft, ebiten.KeyShiftRight,
	ebiten.KeyR, ebiten.KeyH, ebiten.KeyV, ebiten.KeyG, ebiten.KeyC, ebiten.KeyI, ebiten.KeyEscape,
}

// Input is one tick's worth of keyboard and mouse state.
type Input struct {
	Keys             map[ebiten.Key]bool
	WheelY           float64
	CursorX, CursorY int
	Left, Right      bool
}

// ReadInput polls ebiten for the current tick.
func ReadInput() Input {
	in := Input{Keys: make(map[ebiten.Key]bool, len(watchedKeys))}
	for _, k := range watchedKeys {
		in.Keys[k] = ebiten.IsKeyPressed(k)
	}
	_, in.WheelY = ebiten.Wheel()
	in.CursorX, in.CursorY = ebiten.CursorPosition()
	in.Left = ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft)
	in.Right = ebiten.IsMouseButtonPressed(ebiten.MouseButtonRight)
	return in
}

// Controls turns input into camera moves, fog brushes and token selection.
// Only the host paints fog.
type Controls struct {
	cam       *render.Camera
	eng       *engine.Engine
	log       *EventLog
	inspector *Inspector
	copyText  func(string) error

	brush    fog.Brush
	showHUD  bool
	gridOn   bool
	painting bool // the current left press started off a token

	prevKeys map[ebiten.Key]bool
	prevLeft bool
}

// NewControls binds input to a camera and engine. copyText receives the
// ASCII fog snapshot on C; nil disables copying.
func NewControls(cam *render.Camera, eng *engine.Engine, log *EventLog, copyText func(string) error) *Controls {
	if log == nil {
		log = NewEventLog()
	}
	return &Controls{
		cam:       cam,
		eng:       eng,
		log:       log,
		inspector: &Inspector{},
		copyText:  copyText,
		brush:     fog.Brush{Mode: fog.BrushReveal, Radius: 3, Strength: 1},
		showHUD:   true,
		gridOn:    true,
		prevKeys:  make(map[ebiten.Key]bool),
	}
}

// SetBrush replaces the brush radius and strength.
func (c *Controls) SetBrush(b fog.Brush) { c.brush = b.Clamp() }

func (c *Controls) Brush() fog.Brush { return c.brush }

func (c *Controls) Inspector() *Inspector { return c.inspector }

func (c *Controls) ShowHUD() bool { return c.showHUD }

func (c *Controls) pressed(in Input, k ebiten.Key) bool {
	return in.Keys[k] && !c.prevKeys[k]
}

// Update applies one tick of input.
func (c *Controls) Update(in Input) {
	shift := in.Keys[ebiten.KeyShiftLeft] || in.Keys[ebiten.KeyShiftRight]

	// Camera pan: WASD or arrow keys.
	var dx, dy float64
	if in.Keys[ebiten.KeyW] || in.Keys[ebiten.KeyArrowUp] {
		dy -= panStep
	}
	if in.Keys[ebiten.KeyS] || in.Keys[ebiten.KeyArrowDown] {
		dy += panStep
	}
	if in.Keys[ebiten.KeyA] || in.Keys[ebiten.KeyArrowLeft] {
		dx -= panStep
	}
	if in.Keys[ebiten.KeyD] || in.Keys[ebiten.KeyArrowRight] {
		dx += panStep
	}
	if dx != 0 || dy != 0 {
		c.cam.Pan(dx, dy)
	}

	// Camera zoom: mouse wheel about the cursor, =/- about the centre.
	if in.WheelY != 0 {
		c.cam.ZoomAt(math.Pow(wheelZoom, in.WheelY), float64(in.CursorX), float64(in.CursorY))
	}
	cx, cy := c.cam.WorldToScreen(c.cam.X, c.cam.Y)
	if c.pressed(in, ebiten.KeyEqual) {
		c.cam.ZoomAt(keyZoom, cx, cy)
	}
	if c.pressed(in, ebiten.KeyMinus) {
		c.cam.ZoomAt(1/keyZoom, cx, cy)
	}

	// Brush size and strength.
	if c.pressed(in, ebiten.KeyBracketLeft) {
		c.brush.Radius--
		c.brush = c.brush.Clamp()
	}
	if c.pressed(in, ebiten.KeyBracketRight) {
		c.brush.Radius++
		c.brush = c.brush.Clamp()
	}
	if c.pressed(in, ebiten.KeyComma) {
		c.brush.Strength = math.Round((c.brush.Strength-strengthStep)*10) / 10
		c.brush = c.brush.Clamp()
	}
	if c.pressed(in, ebiten.KeyPeriod) {
		c.brush.Strength = math.Round((c.brush.Strength+strengthStep)*10) / 10
		c.brush = c.brush.Clamp()
	}

	// Bulk fog commands need shift so they are not hit by accident.
	if c.pressed(in, ebiten.KeyR) && shift && c.eng.IsHost() {
		c.eng.RevealAllFog()
		c.log.Add(EventInfo, "revealed the whole map")
	}
	if c.pressed(in, ebiten.KeyH) {
		if shift {
			if c.eng.IsHost() {
				c.eng.HideAllFog()
				c.log.Add(EventInfo, "hid the whole map")
			}
		} else {
			c.showHUD = !c.showHUD
		}
	}

	if c.pressed(in, ebiten.KeyV) && c.eng.IsHost() {
		c.eng.SetFogVisible(!c.eng.FogVisible())
	}
	if c.pressed(in, ebiten.KeyG) {
		c.gridOn = !c.gridOn
		c.eng.SetGridVisible(c.gridOn)
	}
	if c.pressed(in, ebiten.KeyI) {
		c.inspector.ToggleView()
	}
	if c.pressed(in, ebiten.KeyEscape) {
		c.eng.Tokens().DeselectAll()
	}
	if c.pressed(in, ebiten.KeyC) {
		c.copySnapshot()
	}

	c.handleMouse(in)

	c.prevKeys = in.Keys
	c.prevLeft = in.Left
}

func (c *Controls) handleMouse(in Input) {
	wx, wy := c.cam.ScreenToWorld(float64(in.CursorX), float64(in.CursorY))

	if in.Left && !c.prevLeft {
		if id, ok := c.eng.Tokens().Pick(wx, wy); ok {
			c.eng.Tokens().Select(id)
			c.painting = false
		} else {
			c.eng.Tokens().DeselectAll()
			c.painting = c.eng.IsHost()
		}
	}
	if !in.Left {
		c.painting = false
	}

	if !c.eng.IsHost() {
		return
	}
	switch {
	case in.Left && c.painting:
		c.eng.RevealFog(wx, wy, c.brush)
	case in.Right:
		c.eng.HideFog(wx, wy, c.brush)
	}
}

func (c *Controls) copySnapshot() {
	if c.copyText == nil {
		return
	}
	snap := c.eng.FogASCII()
	if snap == "" {
		return
	}
	if err := c.copyText(snap); err != nil {
		c.log.Add(EventError, "copy failed: %v", err)
		return
	}
	c.log.Add(EventInfo, "copied fog snapshot to clipboard")
}

// HUDLines is the key legend and session status.
func (c *Controls) HUDLines() []string {
	role := "PLAYER"
	if c.eng.IsHost() {
		role = "HOST"
	}
	r := c.eng.Report()
	lines := []string{
		fmt.Sprintf("%s  fog %.0f%% revealed", role, r.Coverage*100),
	}
	if c.eng.IsHost() {
		lines = append(lines,
			fmt.Sprintf("brush r=%d s=%.1f  [/] size  ,/. strength", c.brush.Radius, c.brush.Strength),
			"LMB reveal  RMB hide  Shift+R/H all",
			fmt.Sprintf("pending=%d saved=%d failed=%d", r.Pending, r.Flushes, r.Failed),
		)
		fogState := "on"
		if !c.eng.FogVisible() {
			fogState = "off"
		}
		lines = append(lines, fmt.Sprintf("[V] fog overlay: %s", fogState))
	} else {
		lines = append(lines, fmt.Sprintf("remote updates: %d", r.Remote))
	}
	lines = append(lines,
		"[G] grid  [C] copy fog  [H] HUD",
		"WASD/arrows=pan  scroll=zoom",
		fmt.Sprintf("zoom: %.2fx  click=inspect", c.cam.Zoom),
	)
	return lines
}
