package fog

import "fmt"

const (
	// Hidden is the reveal value of a fully fogged cell.
	Hidden uint8 = 0
	// Revealed is the reveal value of a fully cleared cell.
	Revealed uint8 = 255
)

// Coord is an integer grid cell index.
type Coord struct {
	X int
	Y int
}

// Key returns the "x,y" form used to deduplicate pending writes.
func (c Coord) Key() string {
	return fmt.Sprintf("%d,%d", c.X, c.Y)
}

// Cell is one grid cell and its reveal intensity (0 hidden .. 255 revealed).
// Intermediate values come from partial brush overlap.
type Cell struct {
	X        int
	Y        int
	Revealed uint8
}

// Coord returns the cell's grid index.
func (c Cell) Coord() Coord {
	return Coord{X: c.X, Y: c.Y}
}

// Grid is a width*height byte grid, one reveal value per cell, stored row-major
// at y*width+x. Reads outside the grid return Hidden and writes are dropped.
type Grid struct {
	cells  []byte
	width  int
	height int
}

// NewGrid allocates an all-hidden grid. Negative sizes are treated as zero.
func NewGrid(width, height int) *Grid {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Grid{
		cells:  make([]byte, width*height),
		width:  width,
		height: height,
	}
}

// Width returns the number of columns.
func (g *Grid) Width() int { return g.width }

// Height returns the number of rows.
func (g *Grid) Height() int { return g.height }

// Len returns width*height.
func (g *Grid) Len() int { return len(g.cells) }

// InBounds reports whether (x, y) addresses a cell.
func (g *Grid) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < g.width && y < g.height
}

// At returns the reveal value at (x, y), or Hidden if out of bounds.
func (g *Grid) At(x, y int) uint8 {
	if !g.InBounds(x, y) {
		return Hidden
	}
	return g.cells[y*g.width+x]
}

// Set writes v at (x, y). It returns true only when the stored value changed.
func (g *Grid) Set(x, y int, v uint8) bool {
	if !g.InBounds(x, y) {
		return false
	}
	idx := y*g.width + x
	if g.cells[idx] == v {
		return false
	}
	g.cells[idx] = v
	return true
}

// Fill sets every cell to v.
func (g *Grid) Fill(v uint8) {
	for i := range g.cells {
		g.cells[i] = v
	}
}

// Bytes exposes the backing row-major array. Callers must not retain it across
// writes; it is handed to the texture uploader as-is.
func (g *Grid) Bytes() []byte {
	return g.cells
}

// CountAtLeast returns the number of cells whose value is >= v.
func (g *Grid) CountAtLeast(v uint8) int {
	n := 0
	for _, c := range g.cells {
		if c >= v {
			n++
		}
	}
	return n
}
