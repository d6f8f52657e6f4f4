package fog

import "sort"

// Texture is the GPU-side mirror of a Mask's reveal grid.
// Implementations are only ever called from the goroutine that owns the Mask.
type Texture interface {
	// Upload replaces the texture contents with the row-major reveal bytes.
	Upload(cells []byte)
	// SetTime feeds the overlay's cosmetic animation clock (seconds).
	SetTime(t float64)
	SetVisible(visible bool)
	Dispose()
}

// TextureFactory allocates a texture of gridW x gridH texels whose overlay covers
// worldW x worldH world units. A nil factory gives a headless Mask.
type TextureFactory func(gridW, gridH int, worldW, worldH float64) Texture

// Mask is the authoritative local view of per-cell fog plus its GPU overlay.
// It is not safe for concurrent use: one goroutine (the render loop) owns it.
type Mask struct {
	newTexture TextureFactory
	grid       *Grid
	texture    Texture
	dirty      map[Coord]struct{}

	worldW, worldH float64
	animSpeed      float64
	clock          float64
	visible        bool
}

// NewMask creates an uninitialised mask. Call Initialize before use.
func NewMask(newTexture TextureFactory) *Mask {
	return &Mask{
		newTexture: newTexture,
		animSpeed:  1.0,
		visible:    true,
	}
}

// SetAnimationSpeed scales the shimmer clock advanced by Update.
func (m *Mask) SetAnimationSpeed(s float64) {
	m.animSpeed = s
}

// Initialize allocates an all-hidden grid and its texture. Calling it again,
// with or without a Dispose in between, releases the previous texture first.
func (m *Mask) Initialize(gridW, gridH int, worldW, worldH float64) {
	if m.texture != nil {
		m.texture.Dispose()
		m.texture = nil
	}
	m.grid = NewGrid(gridW, gridH)
	m.dirty = make(map[Coord]struct{})
	m.worldW, m.worldH = worldW, worldH
	m.clock = 0
	if m.newTexture != nil {
		m.texture = m.newTexture(m.grid.Width(), m.grid.Height(), worldW, worldH)
		if m.texture != nil {
			m.texture.SetVisible(m.visible)
		}
	}
	m.upload()
}

// Ready reports whether the mask holds a live grid.
func (m *Mask) Ready() bool {
	return m.grid != nil
}

// Width returns the grid width, or 0 before Initialize.
func (m *Mask) Width() int {
	if m.grid == nil {
		return 0
	}
	return m.grid.Width()
}

// Height returns the grid height, or 0 before Initialize.
func (m *Mask) Height() int {
	if m.grid == nil {
		return 0
	}
	return m.grid.Height()
}

// Value returns the reveal value at (x, y); Hidden when out of range or disposed.
func (m *Mask) Value(x, y int) uint8 {
	if m.grid == nil {
		return Hidden
	}
	return m.grid.At(x, y)
}

// LoadSnapshot overwrites the named cells from an authoritative source.
// Out-of-range cells are ignored. Snapshot writes are not marked dirty: they
// already reflect persisted state.
func (m *Mask) LoadSnapshot(cells []Cell) {
	if m.grid == nil {
		return
	}
	for _, c := range cells {
		m.grid.Set(c.X, c.Y, c.Revealed)
	}
	if len(cells) > 0 {
		m.upload()
	}
}

// ApplyBrush stamps b at the fractional grid position (cx, cy). Cells whose
// value changes are marked dirty.
func (m *Mask) ApplyBrush(cx, cy float64, b Brush) {
	if m.grid == nil {
		return
	}
	changed := false
	applyBrush(m.grid, cx, cy, b, func(x, y int) {
		m.dirty[Coord{X: x, Y: y}] = struct{}{}
		changed = true
	})
	if changed {
		m.upload()
	}
}

// RevealAll clears the fog everywhere and marks every cell dirty.
func (m *Mask) RevealAll() {
	m.fillAll(Revealed)
}

// HideAll restores fog everywhere and marks every cell dirty.
func (m *Mask) HideAll() {
	m.fillAll(Hidden)
}

func (m *Mask) fillAll(v uint8) {
	if m.grid == nil {
		return
	}
	m.grid.Fill(v)
	// Full resync: every cell goes out, changed or not.
	for y := 0; y < m.grid.Height(); y++ {
		for x := 0; x < m.grid.Width(); x++ {
			m.dirty[Coord{X: x, Y: y}] = struct{}{}
		}
	}
	m.upload()
}

// ExportDirtyCells returns the cells changed since the last export, with their
// current values, ordered by row then column, and clears the dirty set.
func (m *Mask) ExportDirtyCells() []Cell {
	if m.grid == nil || len(m.dirty) == 0 {
		return nil
	}
	out := make([]Cell, 0, len(m.dirty))
	for c := range m.dirty {
		out = append(out, Cell{X: c.X, Y: c.Y, Revealed: m.grid.At(c.X, c.Y)})
	}
	m.dirty = make(map[Coord]struct{})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}

// DirtyCount returns the number of cells awaiting export.
func (m *Mask) DirtyCount() int {
	return len(m.dirty)
}

// Snapshot returns every cell with a non-zero reveal value.
func (m *Mask) Snapshot() []Cell {
	if m.grid == nil {
		return nil
	}
	var out []Cell
	w := m.grid.Width()
	for i, v := range m.grid.Bytes() {
		if v == Hidden {
			continue
		}
		out = append(out, Cell{X: i % w, Y: i / w, Revealed: v})
	}
	return out
}

// Coverage returns the fraction of cells above the half-reveal threshold.
func (m *Mask) Coverage() float64 {
	if m.grid == nil || m.grid.Len() == 0 {
		return 0
	}
	return float64(m.grid.CountAtLeast(128)) / float64(m.grid.Len())
}

// Update advances the shimmer clock. It has no effect on fog state.
func (m *Mask) Update(dt float64) {
	if m.grid == nil {
		return
	}
	m.clock += dt * m.animSpeed
	if m.texture != nil {
		m.texture.SetTime(m.clock)
	}
}

// SetVisible shows or hides the overlay.
func (m *Mask) SetVisible(v bool) {
	m.visible = v
	if m.texture != nil {
		m.texture.SetVisible(v)
	}
}

// Visible reports whether the overlay is shown.
func (m *Mask) Visible() bool {
	return m.visible
}

// Dispose releases the texture and the grid. Safe to call repeatedly.
func (m *Mask) Dispose() {
	if m.texture != nil {
		m.texture.Dispose()
		m.texture = nil
	}
	m.grid = nil
	m.dirty = nil
}

func (m *Mask) upload() {
	if m.texture == nil || m.grid == nil {
		return
	}
	m.texture.Upload(m.grid.Bytes())
}
