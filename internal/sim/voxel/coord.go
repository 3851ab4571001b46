package voxel

import "voxelstream.ai/internal/sim/mathx"

const (
	ChunkSize   = 32
	ChunkVolume = ChunkSize * ChunkSize * ChunkSize

	// RegionSize is the edge length of a region, in chunks.
	RegionSize = 16
)

// Pos is an integer block position, either world-space or chunk-local.
type Pos struct {
	X, Y, Z int
}

func (p Pos) Add(o Pos) Pos { return Pos{p.X + o.X, p.Y + o.Y, p.Z + o.Z} }

// InChunk reports whether p is a valid chunk-local position.
func (p Pos) InChunk() bool {
	return p.X >= 0 && p.X < ChunkSize && p.Y >= 0 && p.Y < ChunkSize && p.Z >= 0 && p.Z < ChunkSize
}

// Index flattens a local position, x fastest. Out-of-range positions panic.
func Index(p Pos) int {
	if !p.InChunk() {
		panic("voxel: local position out of range")
	}
	return p.X + p.Y*ChunkSize + p.Z*ChunkSize*ChunkSize
}

// PosAt is the inverse of Index.
func PosAt(i int) Pos {
	return Pos{X: i % ChunkSize, Y: (i / ChunkSize) % ChunkSize, Z: i / (ChunkSize * ChunkSize)}
}

type ChunkCoord struct {
	X, Y, Z int
}

type RegionCoord struct {
	X, Y, Z int
}

func (c ChunkCoord) Add(dx, dy, dz int) ChunkCoord {
	return ChunkCoord{c.X + dx, c.Y + dy, c.Z + dz}
}

// Origin is the world position of local (0,0,0).
func (c ChunkCoord) Origin() Pos {
	return Pos{c.X * ChunkSize, c.Y * ChunkSize, c.Z * ChunkSize}
}

func (c ChunkCoord) Region() RegionCoord {
	return RegionCoord{
		X: mathx.FloorDiv(c.X, RegionSize),
		Y: mathx.FloorDiv(c.Y, RegionSize),
		Z: mathx.FloorDiv(c.Z, RegionSize),
	}
}

// Split converts a world position into its chunk and local position.
func Split(p Pos) (ChunkCoord, Pos) {
	c := ChunkCoord{
		X: mathx.FloorDiv(p.X, ChunkSize),
		Y: mathx.FloorDiv(p.Y, ChunkSize),
		Z: mathx.FloorDiv(p.Z, ChunkSize),
	}
	l := Pos{
		X: mathx.Mod(p.X, ChunkSize),
		Y: mathx.Mod(p.Y, ChunkSize),
		Z: mathx.Mod(p.Z, ChunkSize),
	}
	return c, l
}

// Neighbors26 lists the 26 chunks surrounding c in a fixed order.
func Neighbors26(c ChunkCoord) []ChunkCoord {
	out := make([]ChunkCoord, 0, 26)
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				out = append(out, c.Add(dx, dy, dz))
			}
		}
	}
	return out
}
