package depth

// Grid is a flat W*H buffer of PixelHypothesis records, indexed y*W+x. It
// follows the flat-slice-of-struct layout used for dense per-pixel fields in
// this codebase (see VectorField2D's data slice), rather than a jagged
// slice-of-slices: one allocation, row-major, cache-friendly for the
// horizontal sweeps every component in this package performs.
type Grid struct {
	width, height int
	cells         []PixelHypothesis
}

// NewGrid allocates a width x height grid with every cell invalid.
func NewGrid(width, height int) *Grid {
	return &Grid{width: width, height: height, cells: make([]PixelHypothesis, width*height)}
}

func (g *Grid) Width() int  { return g.width }
func (g *Grid) Height() int { return g.height }

func (g *Grid) index(x, y int) int { return y*g.width + x }

// Contains reports whether (x, y) is inside the grid bounds.
func (g *Grid) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < g.width && y < g.height
}

// At returns the hypothesis at (x, y). Callers must not read the numeric
// fields unless Valid is true.
func (g *Grid) At(x, y int) PixelHypothesis {
	return g.cells[g.index(x, y)]
}

// AtIndex returns the hypothesis at a precomputed y*width+x index.
func (g *Grid) AtIndex(idx int) PixelHypothesis {
	return g.cells[idx]
}

// Set writes a hypothesis at (x, y).
func (g *Grid) Set(x, y int, h PixelHypothesis) {
	g.cells[g.index(x, y)] = h
}

// SetIndex writes a hypothesis at a precomputed y*width+x index.
func (g *Grid) SetIndex(idx int, h PixelHypothesis) {
	g.cells[idx] = h
}

// Invalidate marks (x, y) invalid without touching Blacklisted.
func (g *Grid) Invalidate(x, y int) {
	idx := g.index(x, y)
	h := g.cells[idx]
	h.Valid = false
	g.cells[idx] = h
}

// Reset marks every cell invalid in place.
func (g *Grid) Reset() {
	for i := range g.cells {
		g.cells[i] = PixelHypothesis{}
	}
}

// CopyFrom overwrites g's contents with src's. Both grids must share dimensions.
func (g *Grid) CopyFrom(src *Grid) {
	copy(g.cells, src.cells)
}

// CountValid returns the number of valid hypotheses, used by tests, by
// Update's valid-fraction statistic and by the demo's progress logging.
func (g *Grid) CountValid() int {
	n := 0
	for i := range g.cells {
		if g.cells[i].Valid {
			n++
		}
	}
	return n
}
