package field

import (
	"fmt"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/gcfg.v1"

	"github.com/pthm-cable/advect/bounds"
)

// Piece is one entry of a domain decomposition.
type Piece struct {
	ID   int
	Rank int
	Box  r3.Box
}

// Assignment strategies for Grid.
const (
	RoundRobin = "round_robin"
	Contiguous = "contiguous"
)

// Grid splits global into nx*ny*nz equal blocks numbered x-fastest and
// assigns them to ranks.
func Grid(global r3.Box, nx, ny, nz, ranks int, assign string) ([]Piece, error) {
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("field: grid dimensions must be positive, got %dx%dx%d", nx, ny, nz)
	}
	if ranks <= 0 {
		return nil, fmt.Errorf("field: need at least one rank, got %d", ranks)
	}
	if assign != RoundRobin && assign != Contiguous {
		return nil, fmt.Errorf("field: unknown assignment %q", assign)
	}

	n := nx * ny * nz
	dx := (global.Max.X - global.Min.X) / float64(nx)
	dy := (global.Max.Y - global.Min.Y) / float64(ny)
	dz := (global.Max.Z - global.Min.Z) / float64(nz)

	// edge returns the i-th boundary on an axis, snapping the last to max so
	// neighbouring faces coincide exactly.
	edge := func(lo, hi, d float64, i, n int) float64 {
		if i == n {
			return hi
		}
		return lo + float64(i)*d
	}

	pieces := make([]Piece, 0, n)
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				id := (k*ny+j)*nx + i
				rank := id % ranks
				if assign == Contiguous {
					rank = id * ranks / n
				}
				pieces = append(pieces, Piece{
					ID:   id,
					Rank: rank,
					Box: r3.Box{
						Min: r3.Vec{
							X: edge(global.Min.X, global.Max.X, dx, i, nx),
							Y: edge(global.Min.Y, global.Max.Y, dy, j, ny),
							Z: edge(global.Min.Z, global.Max.Z, dz, k, nz),
						},
						Max: r3.Vec{
							X: edge(global.Min.X, global.Max.X, dx, i+1, nx),
							Y: edge(global.Min.Y, global.Max.Y, dy, j+1, ny),
							Z: edge(global.Min.Z, global.Max.Z, dz, k+1, nz),
						},
					},
				})
			}
		}
	}
	return pieces, nil
}

// BlockConfig is one [block "name"] section of a decomposition file.
type BlockConfig struct {
	// Required
	Rank                   int
	X, Y, Z                float64
	XWidth, YWidth, ZWidth float64

	// Optional, defaults to the section name
	ID string
}

// CheckInit validates the section and fills defaults.
func (b *BlockConfig) CheckInit(name string, ranks int) error {
	if b.XWidth < 0 || b.YWidth < 0 || b.ZWidth < 0 {
		return fmt.Errorf("block '%s' has a negative width", name)
	}
	if b.Rank < 0 || (ranks > 0 && b.Rank >= ranks) {
		return fmt.Errorf("block '%s' rank must be in range [0, %d), but is %d", name, ranks, b.Rank)
	}
	if b.ID == "" {
		b.ID = name
	}
	if _, err := strconv.Atoi(b.ID); err != nil {
		return fmt.Errorf("block '%s' id %q is not an integer", name, b.ID)
	}
	return nil
}

// DecompositionConfig is the gcfg layout of a decomposition file.
type DecompositionConfig struct {
	Block map[string]*BlockConfig
}

// ReadDecomposition loads a decomposition file:
//
//	[block "0"]
//	rank = 0
//	x = 0
//	xwidth = 1
//	...
func ReadDecomposition(fname string, ranks int) ([]Piece, error) {
	dc := DecompositionConfig{}
	if err := gcfg.ReadFileInto(&dc, fname); err != nil {
		return nil, fmt.Errorf("reading decomposition %s: %w", fname, err)
	}
	return dc.pieces(ranks)
}

// ParseDecomposition is ReadDecomposition for in-memory text.
func ParseDecomposition(text string, ranks int) ([]Piece, error) {
	dc := DecompositionConfig{}
	if err := gcfg.ReadStringInto(&dc, text); err != nil {
		return nil, fmt.Errorf("parsing decomposition: %w", err)
	}
	return dc.pieces(ranks)
}

func (dc *DecompositionConfig) pieces(ranks int) ([]Piece, error) {
	if len(dc.Block) == 0 {
		return nil, fmt.Errorf("decomposition has no blocks")
	}
	pieces := make([]Piece, 0, len(dc.Block))
	for name, b := range dc.Block {
		if err := b.CheckInit(name, ranks); err != nil {
			return nil, err
		}
		id, _ := strconv.Atoi(b.ID)
		pieces = append(pieces, Piece{
			ID:   id,
			Rank: b.Rank,
			Box: r3.Box{
				Min: r3.Vec{X: b.X, Y: b.Y, Z: b.Z},
				Max: r3.Vec{X: b.X + b.XWidth, Y: b.Y + b.YWidth, Z: b.Z + b.ZWidth},
			},
		})
	}
	sort.Slice(pieces, func(i, j int) bool { return pieces[i].ID < pieces[j].ID })
	return pieces, nil
}

// WriteDecomposition renders pieces in the ReadDecomposition format.
func WriteDecomposition(pieces []Piece) string {
	var out []byte
	for _, p := range pieces {
		out = fmt.Appendf(out, "[block \"%d\"]\nrank = %d\n", p.ID, p.Rank)
		out = fmt.Appendf(out, "x = %s\ny = %s\nz = %s\n",
			ftoa(p.Box.Min.X), ftoa(p.Box.Min.Y), ftoa(p.Box.Min.Z))
		out = fmt.Appendf(out, "xwidth = %s\nywidth = %s\nzwidth = %s\n\n",
			ftoa(p.Box.Max.X-p.Box.Min.X), ftoa(p.Box.Max.Y-p.Box.Min.Y), ftoa(p.Box.Max.Z-p.Box.Min.Z))
	}
	return string(out)
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// BuildBounds registers every piece in a new bounds map and builds it.
func BuildBounds(pieces []Piece) (*bounds.BoundsMap, error) {
	m := bounds.New()
	for _, p := range pieces {
		if err := m.AddBlock(p.ID, p.Box); err != nil {
			return nil, err
		}
		if err := m.SetOwner(p.ID, p.Rank); err != nil {
			return nil, err
		}
	}
	if err := m.Build(); err != nil {
		return nil, err
	}
	return m, nil
}

// LocalBlocks returns the blocks of pieces owned by rank, keyed by id,
// each sampling f.
func LocalBlocks(pieces []Piece, rank int, f Field) map[int]*Block {
	out := make(map[int]*Block)
	for _, p := range pieces {
		if p.Rank == rank {
			out[p.ID] = &Block{ID: p.ID, Bounds: p.Box, Field: f}
		}
	}
	return out
}
