// Package bounds provides the spatial ownership index: which blocks contain
// a point, and which rank owns each block.
package bounds

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

var (
	ErrBuilt      = errors.New("bounds: map already built")
	ErrNotBuilt   = errors.New("bounds: map not built")
	ErrDuplicate  = errors.New("bounds: duplicate block id")
	ErrInvalidBox = errors.New("bounds: invalid box")
	ErrNoOwner    = errors.New("bounds: block has no owning rank")
	ErrUnknown    = errors.New("bounds: unknown block id")
	ErrEmpty      = errors.New("bounds: no blocks registered")
)

// Record describes one block: its id, owning rank and extent.
type Record struct {
	ID   int
	Rank int
	Box  r3.Box
}

// BoundsMap maps points to candidate block ids.
// Registration happens during setup; after Build the map is read-only
// and safe for concurrent queries.
type BoundsMap struct {
	records []Record
	index   map[int]int // block id -> position in records
	owners  map[int]int
	global  r3.Box
	grid    *grid
	built   bool
}

// New returns an empty map ready for AddBlock calls.
func New() *BoundsMap {
	return &BoundsMap{
		index:  make(map[int]int),
		owners: make(map[int]int),
	}
}

// AddBlock registers a block's extent.
func (m *BoundsMap) AddBlock(id int, box r3.Box) error {
	if m.built {
		return ErrBuilt
	}
	if _, ok := m.index[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicate, id)
	}
	if !validBox(box) {
		return fmt.Errorf("%w: block %d min %v max %v", ErrInvalidBox, id, box.Min, box.Max)
	}
	m.index[id] = len(m.records)
	m.records = append(m.records, Record{ID: id, Rank: -1, Box: box})
	return nil
}

// SetOwner records the rank that owns block id.
func (m *BoundsMap) SetOwner(id, rank int) error {
	if m.built {
		return ErrBuilt
	}
	if _, ok := m.index[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknown, id)
	}
	if rank < 0 {
		return fmt.Errorf("bounds: negative rank %d for block %d", rank, id)
	}
	m.owners[id] = rank
	return nil
}

// Build finalizes the map: sorts records by id, computes the global box
// and bins every block into the lookup grid.
func (m *BoundsMap) Build() error {
	if m.built {
		return ErrBuilt
	}
	if len(m.records) == 0 {
		return ErrEmpty
	}

	sort.Slice(m.records, func(i, j int) bool { return m.records[i].ID < m.records[j].ID })
	for i := range m.records {
		rec := &m.records[i]
		rank, ok := m.owners[rec.ID]
		if !ok {
			return fmt.Errorf("%w: %d", ErrNoOwner, rec.ID)
		}
		rec.Rank = rank
		m.index[rec.ID] = i
		if i == 0 {
			m.global = rec.Box
		} else {
			m.global = union(m.global, rec.Box)
		}
	}

	m.grid = newGrid(m.global, len(m.records))
	for i, rec := range m.records {
		m.grid.insert(i, rec.Box)
	}
	m.built = true
	return nil
}

// Built reports whether Build has completed.
func (m *BoundsMap) Built() bool { return m.built }

// Global returns the union of all block boxes.
func (m *BoundsMap) Global() r3.Box { return m.global }

// NumBlocks returns the number of registered blocks.
func (m *BoundsMap) NumBlocks() int { return len(m.records) }

// Blocks returns a copy of the block records, ordered by id once built.
func (m *BoundsMap) Blocks() []Record {
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// OwningRank returns the rank owning block id.
func (m *BoundsMap) OwningRank(id int) (int, bool) {
	i, ok := m.index[id]
	if !ok || !m.built {
		return -1, false
	}
	return m.records[i].Rank, true
}

// Box returns the extent of block id.
func (m *BoundsMap) Box(id int) (r3.Box, bool) {
	i, ok := m.index[id]
	if !ok {
		return r3.Box{}, false
	}
	return m.records[i].Box, true
}

// Contains reports whether block id's closed box contains p.
func (m *BoundsMap) Contains(id int, p r3.Vec) bool {
	box, ok := m.Box(id)
	return ok && Contains(box, p)
}

// LocalBlocks returns the ids of the blocks owned by rank, ascending.
func (m *BoundsMap) LocalBlocks(rank int) []int {
	var ids []int
	for _, rec := range m.records {
		if rec.Rank == rank {
			ids = append(ids, rec.ID)
		}
	}
	return ids
}

// Find returns the ids of every block whose closed box contains p,
// ascending. The first id is the owner on overlaps and shared faces.
// A nil result means p lies outside the domain.
func (m *BoundsMap) Find(p r3.Vec) []int {
	if !m.built || !Contains(m.global, p) {
		return nil
	}
	var ids []int
	for _, i := range m.grid.cell(p) {
		if Contains(m.records[i].Box, p) {
			ids = append(ids, m.records[i].ID)
		}
	}
	return ids
}

// FindBlockIDs runs Find for every point.
func (m *BoundsMap) FindBlockIDs(points []r3.Vec) [][]int {
	out := make([][]int, len(points))
	for i, p := range points {
		out[i] = m.Find(p)
	}
	return out
}

// Contains reports whether the closed box b contains p.
func Contains(b r3.Box, p r3.Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

func union(a, b r3.Box) r3.Box {
	return r3.Box{
		Min: r3.Vec{X: min(a.Min.X, b.Min.X), Y: min(a.Min.Y, b.Min.Y), Z: min(a.Min.Z, b.Min.Z)},
		Max: r3.Vec{X: max(a.Max.X, b.Max.X), Y: max(a.Max.Y, b.Max.Y), Z: max(a.Max.Z, b.Max.Z)},
	}
}

func validBox(b r3.Box) bool {
	// Comparisons are false for NaN, so NaN corners are rejected too.
	return b.Min.X <= b.Max.X && b.Min.Y <= b.Max.Y && b.Min.Z <= b.Max.Z
}
