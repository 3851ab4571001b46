package encoding

import (
	"errors"
	"fmt"

	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/voxel"
)

var (
	ErrRunLength    = errors.New("run lengths do not cover the chunk")
	ErrPaletteIndex = errors.New("palette index out of range")
)

// CompressedChunk is the on-disk form of a chunk. RLE holds (run_length,
// palette_index) pairs over cells in x-fastest order; palette_index is 1-based
// and 0 means air.
type CompressedChunk struct {
	Palette []voxel.Block
	RLE     []uint16
}

// Compress builds a fresh palette in first-seen order, so unused palette
// entries of d are dropped.
func Compress(d *chunk.Data) CompressedChunk {
	var out CompressedChunk
	cells := d.Cells()
	if cells == nil {
		out.RLE = []uint16{voxel.ChunkVolume, 0}
		return out
	}

	src := d.Palette()
	remap := make(map[uint16]uint16, len(src))
	code := func(idx uint16) uint16 {
		if idx == chunk.Air {
			return 0
		}
		b := src[idx]
		if c, ok := remap[idx]; ok {
			return c
		}
		// Two source entries may hold the same block after edits.
		for i, e := range out.Palette {
			if e == b {
				remap[idx] = uint16(i + 1)
				return uint16(i + 1)
			}
		}
		out.Palette = append(out.Palette, b)
		remap[idx] = uint16(len(out.Palette))
		return remap[idx]
	}

	i := 0
	for i < len(cells) {
		c := code(cells[i])
		run := 1
		for j := i + 1; j < len(cells) && code(cells[j]) == c && run < 0xFFFF; j++ {
			run++
		}
		out.RLE = append(out.RLE, uint16(run), c)
		i += run
	}
	return out
}

// Decompress rejects data whose runs do not sum to exactly one chunk or that
// reference a palette entry that does not exist.
func Decompress(c CompressedChunk) (*chunk.Data, error) {
	if len(c.RLE)%2 != 0 {
		return nil, fmt.Errorf("odd rle length %d: %w", len(c.RLE), ErrRunLength)
	}
	if len(c.Palette) == 0 {
		total := 0
		for i := 0; i < len(c.RLE); i += 2 {
			if c.RLE[i+1] != 0 {
				return nil, fmt.Errorf("index %d with empty palette: %w", c.RLE[i+1], ErrPaletteIndex)
			}
			total += int(c.RLE[i])
		}
		if total != voxel.ChunkVolume {
			return nil, fmt.Errorf("runs sum to %d: %w", total, ErrRunLength)
		}
		return chunk.New(), nil
	}

	cells := make([]uint16, 0, voxel.ChunkVolume)
	for i := 0; i < len(c.RLE); i += 2 {
		run, idx := int(c.RLE[i]), c.RLE[i+1]
		if int(idx) > len(c.Palette) {
			return nil, fmt.Errorf("index %d of %d: %w", idx, len(c.Palette), ErrPaletteIndex)
		}
		if len(cells)+run > voxel.ChunkVolume {
			return nil, fmt.Errorf("runs exceed %d cells: %w", voxel.ChunkVolume, ErrRunLength)
		}
		v := chunk.Air
		if idx != 0 {
			v = idx - 1
		}
		for k := 0; k < run; k++ {
			cells = append(cells, v)
		}
	}
	if len(cells) != voxel.ChunkVolume {
		return nil, fmt.Errorf("runs sum to %d: %w", len(cells), ErrRunLength)
	}
	palette := append([]voxel.Block(nil), c.Palette...)
	return chunk.FromPalette(palette, cells), nil
}
