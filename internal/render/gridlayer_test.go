package render

import "testing"

func TestGridLines_CountsAndClosingEdge(t *testing.T) {
	lines := GridLines(200, 120, 50)
	// x: 0,50,100,150,200 ; y: 0,50,100,120
	var vert, horiz []Segment
	for _, l := range lines {
		if l.X0 == l.X1 {
			vert = append(vert, l)
		} else {
			horiz = append(horiz, l)
		}
	}
	if len(vert) != 5 {
		t.Fatalf("expected 5 vertical lines, got %d", len(vert))
	}
	if len(horiz) != 4 {
		t.Fatalf("expected 4 horizontal lines, got %d", len(horiz))
	}
	if last := horiz[len(horiz)-1]; last.Y0 != 120 {
		t.Fatalf("closing horizontal line at y=%.1f, want 120", last.Y0)
	}
	for _, v := range vert {
		if v.Y0 != 0 || v.Y1 != 120 {
			t.Fatalf("vertical line should span the world height: %+v", v)
		}
	}
}

func TestGridLines_MajorEveryFifth(t *testing.T) {
	lines := GridLines(500, 50, 50)
	for i := 0; i <= 10; i++ {
		want := i%MajorEvery == 0
		if lines[i].Major != want {
			t.Fatalf("vertical line %d major=%v, want %v", i, lines[i].Major, want)
		}
	}
}

func TestGridLines_DegenerateInput(t *testing.T) {
	if GridLines(100, 100, 0) != nil {
		t.Fatal("zero cell size should give no lines")
	}
	if GridLines(0, 100, 10) != nil {
		t.Fatal("empty world should give no lines")
	}
}

func TestGridLayer_Lines(t *testing.T) {
	g := NewGridLayer(100, 100, 25)
	if g.Z() != ZGrid {
		t.Fatalf("grid z=%d, want %d", g.Z(), ZGrid)
	}
	if len(g.Lines()) != 10 {
		t.Fatalf("expected 10 lines, got %d", len(g.Lines()))
	}
	g.Dispose()
	if len(g.Lines()) != 0 {
		t.Fatal("dispose should drop lines")
	}
}
