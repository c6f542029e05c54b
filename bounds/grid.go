package bounds

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// maxCellsPerAxis caps the lookup grid resolution.
const maxCellsPerAxis = 32

// grid bins block indices into uniform cells over the global box.
// A block is listed in every cell its closed box touches, so a point
// query only has to test the blocks of one cell.
type grid struct {
	origin   r3.Vec
	cellSize r3.Vec
	dims     [3]int
	cells    [][]int // flat grid of record indices, ascending
}

func newGrid(global r3.Box, numBlocks int) *grid {
	n := int(math.Ceil(math.Cbrt(float64(numBlocks)))) * 2
	n = max(1, min(n, maxCellsPerAxis))

	g := &grid{origin: global.Min}
	size := [3]float64{
		global.Max.X - global.Min.X,
		global.Max.Y - global.Min.Y,
		global.Max.Z - global.Min.Z,
	}
	var cs [3]float64
	for axis, extent := range size {
		if extent > 0 {
			g.dims[axis] = n
			cs[axis] = extent / float64(n)
		} else {
			// Flat axis: a single cell.
			g.dims[axis] = 1
			cs[axis] = 0
		}
	}
	g.cellSize = r3.Vec{X: cs[0], Y: cs[1], Z: cs[2]}
	g.cells = make([][]int, g.dims[0]*g.dims[1]*g.dims[2])
	return g
}

// coord maps a coordinate on one axis to a clamped cell index.
func coord(v, origin, size float64, n int) int {
	if size <= 0 {
		return 0
	}
	c := int(math.Floor((v - origin) / size))
	if c < 0 {
		return 0
	}
	if c >= n {
		return n - 1
	}
	return c
}

func (g *grid) cellCoords(p r3.Vec) (int, int, int) {
	return coord(p.X, g.origin.X, g.cellSize.X, g.dims[0]),
		coord(p.Y, g.origin.Y, g.cellSize.Y, g.dims[1]),
		coord(p.Z, g.origin.Z, g.cellSize.Z, g.dims[2])
}

func (g *grid) index(cx, cy, cz int) int {
	return (cz*g.dims[1]+cy)*g.dims[0] + cx
}

// insert adds record i to every cell overlapped by box.
func (g *grid) insert(i int, box r3.Box) {
	x0, y0, z0 := g.cellCoords(box.Min)
	x1, y1, z1 := g.cellCoords(box.Max)
	for cz := z0; cz <= z1; cz++ {
		for cy := y0; cy <= y1; cy++ {
			for cx := x0; cx <= x1; cx++ {
				idx := g.index(cx, cy, cz)
				g.cells[idx] = append(g.cells[idx], i)
			}
		}
	}
}

// cell returns the record indices binned in the cell containing p.
func (g *grid) cell(p r3.Vec) []int {
	return g.cells[g.index(g.cellCoords(p))]
}
