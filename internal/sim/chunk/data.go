package chunk

import (
	"sync/atomic"

	"voxelstream.ai/internal/sim/voxel"
)

// Air is the palette index sentinel for empty cells.
const Air uint16 = 0xFFFF

type storage struct {
	palette []voxel.Block
	cells   []uint16 // nil while every cell is air

	// Set once a second handle exists. Shared storage is never written again.
	shared atomic.Bool
}

// Data is palette-compressed block storage for one chunk. Handles obtained
// through Snapshot share storage until one of them writes, at which point the
// writer gets its own copy.
type Data struct {
	s *storage
}

func New() *Data {
	return &Data{s: &storage{}}
}

// FromPalette builds a chunk from raw storage. cells must have ChunkVolume
// entries or be nil; it is owned by the result afterwards.
func FromPalette(palette []voxel.Block, cells []uint16) *Data {
	if cells != nil && len(cells) != voxel.ChunkVolume {
		panic("chunk: wrong cell count")
	}
	return &Data{s: &storage{palette: palette, cells: cells}}
}

// Snapshot returns a read-only handle sharing the current storage.
func (d *Data) Snapshot() *Data {
	d.s.shared.Store(true)
	return &Data{s: d.s}
}

func (d *Data) Get(p voxel.Pos) (voxel.Block, bool) {
	return d.At(voxel.Index(p))
}

// At reads a cell by flat index.
func (d *Data) At(i int) (voxel.Block, bool) {
	if d.s.cells == nil {
		return voxel.Block{}, false
	}
	idx := d.s.cells[i]
	if idx == Air {
		return voxel.Block{}, false
	}
	return d.s.palette[idx], true
}

func (d *Data) IsAir(p voxel.Pos) bool {
	i := voxel.Index(p)
	return d.s.cells == nil || d.s.cells[i] == Air
}

// IsEmpty reports whether the chunk has never held a block.
func (d *Data) IsEmpty() bool { return d.s.cells == nil }

func (d *Data) Set(p voxel.Pos, b voxel.Block) {
	i := voxel.Index(p)
	d.own()
	d.s.cells[i] = d.paletteIndex(b)
}

func (d *Data) Remove(p voxel.Pos) {
	i := voxel.Index(p)
	if d.s.cells == nil || d.s.cells[i] == Air {
		return
	}
	d.own()
	d.s.cells[i] = Air
}

// Palette exposes the palette, including entries no longer referenced.
// Callers must not modify it.
func (d *Data) Palette() []voxel.Block { return d.s.palette }

// Cells exposes the raw per-cell palette indices, or nil for an all-air chunk.
// Callers must not modify it.
func (d *Data) Cells() []uint16 { return d.s.cells }

// Equal compares cell contents, ignoring palette layout.
func (d *Data) Equal(o *Data) bool {
	for i := 0; i < voxel.ChunkVolume; i++ {
		a, aok := d.At(i)
		b, bok := o.At(i)
		if aok != bok || a != b {
			return false
		}
	}
	return true
}

func (d *Data) paletteIndex(b voxel.Block) uint16 {
	for i, e := range d.s.palette {
		if e == b {
			return uint16(i)
		}
	}
	if len(d.s.palette) >= int(Air) {
		panic("chunk: palette full")
	}
	d.s.palette = append(d.s.palette, b)
	return uint16(len(d.s.palette) - 1)
}

// own makes sure d holds exclusive, writable storage with cells allocated.
func (d *Data) own() {
	if d.s.shared.Load() {
		next := &storage{palette: append([]voxel.Block(nil), d.s.palette...)}
		if d.s.cells != nil {
			next.cells = append([]uint16(nil), d.s.cells...)
		}
		d.s = next
	}
	if d.s.cells == nil {
		d.s.cells = make([]uint16, voxel.ChunkVolume)
		for i := range d.s.cells {
			d.s.cells[i] = Air
		}
	}
}
