package feed

import (
	"sort"

	"voxelstream.ai/internal/protocol"
	"voxelstream.ai/internal/sim/mesh"
	"voxelstream.ai/internal/sim/voxel"
)

func chunkRef(c voxel.ChunkCoord) [3]int { return [3]int{c.X, c.Y, c.Z} }

func encodeMesh(c voxel.ChunkCoord, m *mesh.Mesh) protocol.MeshMsg {
	words := make([]uint32, 0, 3*len(m.Vertices))
	for _, v := range m.Vertices {
		words = append(words, v.Data, v.Texture, v.Light)
	}
	return protocol.MeshMsg{
		Type:        protocol.TypeMesh,
		Chunk:       chunkRef(c),
		VertexCount: len(m.Vertices),
		IndexCount:  len(m.Indices),
		Vertices:    protocol.EncodeUint32s(words),
		Indices:     protocol.EncodeUint32s(m.Indices),
	}
}

// DecodeMesh is the client-side inverse of the MESH encoding.
func DecodeMesh(msg protocol.MeshMsg) (*mesh.Mesh, error) {
	words, err := protocol.DecodeUint32s(msg.Vertices)
	if err != nil {
		return nil, err
	}
	idx, err := protocol.DecodeUint32s(msg.Indices)
	if err != nil {
		return nil, err
	}
	m := &mesh.Mesh{Indices: idx}
	for i := 0; i+2 < len(words); i += 3 {
		m.Vertices = append(m.Vertices, mesh.Vertex{Data: words[i], Texture: words[i+1], Light: words[i+2]})
	}
	return m, nil
}

func sortCoords(cs []voxel.ChunkCoord) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
}
