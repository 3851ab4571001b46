package gen

import (
	"math"

	"github.com/ojrac/opensimplex-go"

	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/registry"
	"voxelstream.ai/internal/sim/tuning"
	"voxelstream.ai/internal/sim/voxel"
)

// Generator synthesizes chunks from a summed multi-octave height field. It
// holds no mutable state, so Generate is safe to call from many goroutines.
type Generator struct {
	noise   opensimplex.Noise
	terrain tuning.Terrain

	rock, soil voxel.BlockID
	shale      registry.MaterialID
	loam       registry.MaterialID
	grass      registry.MaterialID
}

func New(seed int64, terrain tuning.Terrain, reg *registry.Registry) *Generator {
	return &Generator{
		noise:   opensimplex.New(seed),
		terrain: terrain,
		rock:    reg.MustBlock("rock"),
		soil:    reg.MustBlock("soil"),
		shale:   reg.MustMaterial("shale"),
		loam:    reg.MustMaterial("loam"),
		grass:   reg.MustMaterial("lush_grass"),
	}
}

// Height is the terrain surface height at world column (x, z).
func (g *Generator) Height(x, z int) float64 {
	h := g.terrain.BaseHeight
	for _, o := range g.terrain.Octaves {
		h += g.noise.Eval2(float64(x)/o.Scale, float64(z)/o.Scale) * o.Amplitude
	}
	return h
}

func (g *Generator) Generate(c voxel.ChunkCoord) *chunk.Data {
	d := chunk.New()
	origin := c.Origin()

	rock := voxel.Block{ID: g.rock, Data: registry.RockData(g.shale)}
	dirt := voxel.Block{ID: g.soil, Data: registry.SoilData(g.loam, 0, false)}
	turf := voxel.Block{ID: g.soil, Data: registry.SoilData(g.loam, g.grass, true)}

	for z := 0; z < voxel.ChunkSize; z++ {
		for x := 0; x < voxel.ChunkSize; x++ {
			h := g.Height(origin.X+x, origin.Z+z)
			top := math.Ceil(h) - 1
			for y := 0; y < voxel.ChunkSize; y++ {
				wy := float64(origin.Y + y)
				switch {
				case wy < h-g.terrain.SoilDepth:
					d.Set(voxel.Pos{X: x, Y: y, Z: z}, rock)
				case wy < h && wy == top:
					d.Set(voxel.Pos{X: x, Y: y, Z: z}, turf)
				case wy < h:
					d.Set(voxel.Pos{X: x, Y: y, Z: z}, dirt)
				}
			}
		}
	}
	return d
}
