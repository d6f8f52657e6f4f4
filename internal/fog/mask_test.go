package fog

import "testing"

type fakeTexture struct {
	uploads  int
	last     []byte
	time     float64
	visible  bool
	disposed bool
}

func (f *fakeTexture) Upload(cells []byte) {
	f.uploads++
	f.last = append(f.last[:0], cells...)
}
func (f *fakeTexture) SetTime(t float64) { f.time = t }
func (f *fakeTexture) SetVisible(v bool) { f.visible = v }
func (f *fakeTexture) Dispose() { f.disposed = true }

func newTestMask(w, h int) (*Mask, *fakeTexture) {
	tex := &fakeTexture{}
	m := NewMask(func(gw, gh int, ww, wh float64) Texture { return tex })
	m.Initialize(w, h, float64(w)*50, float64(h)*50)
	return m, tex
}

func TestMask_InitializeAllHidden(t *testing.T) {
	m, tex := newTestMask(6, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			if v := m.Value(x, y); v != Hidden {
				t.Fatalf("cell (%d,%d) = %d, expected hidden", x, y, v)
			}
		}
	}
	if len(tex.last) != 24 {
		t.Fatalf("expected texture of 24 texels, got %d", len(tex.last))
	}
	if m.DirtyCount() != 0 {
		t.Fatalf("fresh mask should have no dirty cells, got %d", m.DirtyCount())
	}
}

func TestMask_LoadSnapshotRoundTrip(t *testing.T) {
	m, tex := newTestMask(8, 8)
	cells := []Cell{
		{X: 0, Y: 0, Revealed: 255},
		{X: 7, Y: 7, Revealed: 1},
		{X: 3, Y: 5, Revealed: 128},
		{X: 6, Y: 2, Revealed: 127},
	}
	m.LoadSnapshot(cells)
	for _, c := range cells {
		if got := m.Value(c.X, c.Y); got != c.Revealed {
			t.Fatalf("cell (%d,%d): wrote %d read %d", c.X, c.Y, c.Revealed, got)
		}
	}
	if tex.last[5*8+3] != 128 {
		t.Fatalf("texture not updated: texel(3,5)=%d", tex.last[5*8+3])
	}
	if m.DirtyCount() != 0 {
		t.Fatalf("snapshot writes must not be queued for persistence, got %d dirty", m.DirtyCount())
	}
}

func TestMask_LoadSnapshotIgnoresOutOfRange(t *testing.T) {
	m, _ := newTestMask(4, 4)
	m.LoadSnapshot([]Cell{
		{X: -1, Y: 0, Revealed: 255},
		{X: 4, Y: 0, Revealed: 255},
		{X: 0, Y: 4, Revealed: 255},
		{X: 1, Y: 1, Revealed: 200},
	})
	if m.Value(1, 1) != 200 {
		t.Fatalf("in-range cell lost: %d", m.Value(1, 1))
	}
	if n := len(m.Snapshot()); n != 1 {
		t.Fatalf("expected exactly one revealed cell, got %d", n)
	}
}

func TestMask_BulkOperationsEndState(t *testing.T) {
	m, _ := newTestMask(5, 3)

	m.RevealAll()
	m.HideAll()
	for y := 0; y < 3; y++ {
		for x := 0; x < 5; x++ {
			if m.Value(x, y) != 0 {
				t.Fatalf("reveal then hide: cell (%d,%d)=%d", x, y, m.Value(x, y))
			}
		}
	}

	m.HideAll()
	m.RevealAll()
	for y := 0; y < 3; y++ {
		for x := 0; x < 5; x++ {
			if m.Value(x, y) != 255 {
				t.Fatalf("hide then reveal: cell (%d,%d)=%d", x, y, m.Value(x, y))
			}
		}
	}
}

func TestMask_BulkMarksEveryCellDirty(t *testing.T) {
	m, _ := newTestMask(5, 3)
	m.RevealAll()
	dirty := m.ExportDirtyCells()
	if len(dirty) != 15 {
		t.Fatalf("expected 15 dirty cells after RevealAll, got %d", len(dirty))
	}
	for _, c := range dirty {
		if c.Revealed != 255 {
			t.Fatalf("dirty cell (%d,%d) exported value %d", c.X, c.Y, c.Revealed)
		}
	}
	if again := m.ExportDirtyCells(); len(again) != 0 {
		t.Fatalf("export must clear the dirty set, got %d", len(again))
	}
}

func TestMask_BrushCentreAndCutoff(t *testing.T) {
	m, _ := newTestMask(20, 20)
	m.ApplyBrush(10.5, 10.5, Brush{Mode: BrushReveal, Radius: 3, Strength: 1.0})

	if v := m.Value(10, 10); v != 255 {
		t.Fatalf("centre cell = %d, expected 255", v)
	}
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			dx := float64(x - 10)
			dy := float64(y - 10)
			if dx*dx+dy*dy > 9 && m.Value(x, y) != 0 {
				t.Fatalf("cell (%d,%d) beyond radius changed to %d", x, y, m.Value(x, y))
			}
		}
	}
}

func TestMask_BrushAccumulates(t *testing.T) {
	m, _ := newTestMask(10, 10)
	b := Brush{Mode: BrushReveal, Radius: 2, Strength: 0.5}

	m.ApplyBrush(5, 5, b)
	if v := m.Value(5, 5); v != 127 {
		t.Fatalf("first stroke: expected 127, got %d", v)
	}
	m.ApplyBrush(5, 5, b)
	if v := m.Value(5, 5); v != 254 {
		t.Fatalf("second stroke: expected 254, got %d", v)
	}
	m.ApplyBrush(5, 5, b)
	if v := m.Value(5, 5); v != 255 {
		t.Fatalf("third stroke should saturate at 255, got %d", v)
	}
}

func TestMask_HideBrushFloorsAtZero(t *testing.T) {
	m, _ := newTestMask(10, 10)
	m.LoadSnapshot([]Cell{{X: 5, Y: 5, Revealed: 100}})
	m.ApplyBrush(5, 5, Brush{Mode: BrushHide, Radius: 1, Strength: 1})
	if v := m.Value(5, 5); v != 0 {
		t.Fatalf("hide brush should floor at 0, got %d", v)
	}
}

func TestMask_OnlyChangedCellsAreDirty(t *testing.T) {
	m, _ := newTestMask(10, 10)
	m.RevealAll()
	m.ExportDirtyCells()

	// Revealing an already-revealed area changes nothing.
	m.ApplyBrush(5, 5, Brush{Mode: BrushReveal, Radius: 3, Strength: 1})
	if n := m.DirtyCount(); n != 0 {
		t.Fatalf("no-op brush marked %d cells dirty", n)
	}

	m.ApplyBrush(5, 5, Brush{Mode: BrushHide, Radius: 1, Strength: 1})
	dirty := m.ExportDirtyCells()
	// Radius 1 falloff reaches zero at the four neighbours, so only the centre moves.
	if len(dirty) != 1 || dirty[0].X != 5 || dirty[0].Y != 5 || dirty[0].Revealed != 0 {
		t.Fatalf("expected only (5,5)=0 dirty, got %+v", dirty)
	}
}

func TestMask_BrushNearEdgeIsClipped(t *testing.T) {
	m, _ := newTestMask(4, 4)
	m.ApplyBrush(0, 0, Brush{Mode: BrushReveal, Radius: 8, Strength: 1})
	if m.Value(0, 0) != 255 {
		t.Fatalf("corner cell should be revealed, got %d", m.Value(0, 0))
	}
	for _, c := range m.ExportDirtyCells() {
		if c.X < 0 || c.Y < 0 || c.X >= 4 || c.Y >= 4 {
			t.Fatalf("out-of-range cell exported: %+v", c)
		}
	}
}

func TestMask_UpdateDrivesTextureClockOnly(t *testing.T) {
	m, tex := newTestMask(3, 3)
	m.SetAnimationSpeed(2)
	m.Update(0.5)
	m.Update(0.25)
	if tex.time != 1.5 {
		t.Fatalf("expected shader time 1.5, got %f", tex.time)
	}
	if m.DirtyCount() != 0 || len(m.Snapshot()) != 0 {
		t.Fatal("Update must not touch fog state")
	}
}

func TestMask_DisposeThenReinitialize(t *testing.T) {
	m, tex := newTestMask(3, 3)
	m.RevealAll()
	m.Dispose()
	if !tex.disposed {
		t.Fatal("dispose must release the texture")
	}

	// Calls after dispose are no-ops.
	m.ApplyBrush(1, 1, Brush{Radius: 1, Strength: 1})
	m.LoadSnapshot([]Cell{{X: 1, Y: 1, Revealed: 9}})
	if m.ExportDirtyCells() != nil || m.Value(1, 1) != 0 {
		t.Fatal("disposed mask must ignore edits")
	}
	m.Dispose()

	m.Initialize(4, 2, 200, 100)
	if !m.Ready() || m.Width() != 4 || m.Height() != 2 {
		t.Fatalf("reinitialise failed: ready=%v %dx%d", m.Ready(), m.Width(), m.Height())
	}
	if m.Value(0, 0) != 0 {
		t.Fatal("reinitialised mask must start hidden")
	}
}

func TestMask_SetVisibleForwardsToTexture(t *testing.T) {
	m, tex := newTestMask(2, 2)
	m.SetVisible(false)
	if tex.visible || m.Visible() {
		t.Fatal("overlay should be hidden")
	}
	m.SetVisible(true)
	if !tex.visible {
		t.Fatal("overlay should be visible")
	}
}

func TestMask_HeadlessWithoutFactory(t *testing.T) {
	m := NewMask(nil)
	m.Initialize(3, 3, 150, 150)
	m.ApplyBrush(1, 1, Brush{Radius: 1, Strength: 1})
	if m.Value(1, 1) != 255 {
		t.Fatalf("headless mask should still edit, got %d", m.Value(1, 1))
	}
}
