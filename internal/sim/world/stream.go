package world

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstream.ai/internal/sim/mathx"
	"voxelstream.ai/internal/sim/voxel"
)

// ChunkAt returns the chunk containing a world-space position.
func ChunkAt(pos mgl32.Vec3) voxel.ChunkCoord {
	p := voxel.Pos{
		X: int(math.Floor(float64(pos.X()))),
		Y: int(math.Floor(float64(pos.Y()))),
		Z: int(math.Floor(float64(pos.Z()))),
	}
	c, _ := voxel.Split(p)
	return c
}

// inRadius reports whether c lies in the streaming window around center:
// a vertical cylinder of the given radius and half-height.
func inRadius(center, c voxel.ChunkCoord, radius int) bool {
	dx, dy, dz := c.X-center.X, c.Y-center.Y, c.Z-center.Z
	return dx*dx+dz*dz <= radius*radius && mathx.AbsInt(dy) <= radius
}

// streamWindow lists every chunk in the window, nearest first: by horizontal
// squared distance, then by vertical offset.
func streamWindow(center voxel.ChunkCoord, radius int) []voxel.ChunkCoord {
	type item struct {
		c     voxel.ChunkCoord
		horiz int
		vert  int
	}
	items := make([]item, 0, (2*radius+1)*(2*radius+1)*(2*radius+1))
	for dz := -radius; dz <= radius; dz++ {
		for dx := -radius; dx <= radius; dx++ {
			h := dx*dx + dz*dz
			if h > radius*radius {
				continue
			}
			for dy := -radius; dy <= radius; dy++ {
				items = append(items, item{c: center.Add(dx, dy, dz), horiz: h, vert: mathx.AbsInt(dy)})
			}
		}
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.horiz != b.horiz {
			return a.horiz < b.horiz
		}
		if a.vert != b.vert {
			return a.vert < b.vert
		}
		if a.c.X != b.c.X {
			return a.c.X < b.c.X
		}
		if a.c.Y != b.c.Y {
			return a.c.Y < b.c.Y
		}
		return a.c.Z < b.c.Z
	})
	out := make([]voxel.ChunkCoord, len(items))
	for i, it := range items {
		out[i] = it.c
	}
	return out
}
