package mesh

import "voxelstream.ai/internal/sim/voxel"

// Vertex is the GPU-facing vertex. Data layout (high to low bits):
//
//	x:5 y:5 z:5 ao:2 vertex_index:14 transparent:1
//
// vertex_index addresses the flattened model buffer. Light packs sky light in
// bits 4-7 and block light in bits 0-3.
type Vertex struct {
	Data    uint32
	Texture uint32
	Light   uint32
}

const (
	shiftX     = 27
	shiftY     = 22
	shiftZ     = 17
	shiftAO    = 15
	shiftIndex = 1

	MaxVertexIndex = 1<<14 - 1
)

func PackVertex(local voxel.Pos, vertexIndex uint32, ao uint8, transparent bool) uint32 {
	if vertexIndex > MaxVertexIndex {
		panic("mesh: vertex index overflow")
	}
	d := uint32(local.X)<<shiftX |
		uint32(local.Y)<<shiftY |
		uint32(local.Z)<<shiftZ |
		uint32(ao&3)<<shiftAO |
		vertexIndex<<shiftIndex
	if transparent {
		d |= 1
	}
	return d
}

func UnpackVertex(d uint32) (local voxel.Pos, vertexIndex uint32, ao uint8, transparent bool) {
	local = voxel.Pos{
		X: int(d >> shiftX & 31),
		Y: int(d >> shiftY & 31),
		Z: int(d >> shiftZ & 31),
	}
	return local, d >> shiftIndex & MaxVertexIndex, uint8(d >> shiftAO & 3), d&1 == 1
}

func PackLight(sky, block uint8) uint32 {
	return uint32(sky&15)<<4 | uint32(block&15)
}
