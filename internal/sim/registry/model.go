package registry

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"voxelstream.ai/internal/sim/voxel"
)

type ModelID uint8

// VerticesPerFace is fixed: every model face is a quad.
const VerticesPerFace = 4

type ModelVertex struct {
	Position mgl32.Vec3
	UV       mgl32.Vec2
	Normal   mgl32.Vec3
}

// Model holds 24 vertices, four per face in voxel.Faces order.
type Model struct {
	Name     string
	Vertices []ModelVertex
}

// FloatsPerVertex is the stride of Models.Flatten: position, uv, normal.
const FloatsPerVertex = 8

type Models struct {
	ids     map[string]ModelID
	models  []Model
	offsets []uint32
}

func newModels() *Models {
	return &Models{ids: map[string]ModelID{}}
}

func (m *Models) register(model Model) (ModelID, error) {
	if len(model.Vertices) != 6*VerticesPerFace {
		return 0, fmt.Errorf("model %s: want %d vertices, got %d", model.Name, 6*VerticesPerFace, len(model.Vertices))
	}
	if _, dup := m.ids[model.Name]; dup {
		return 0, fmt.Errorf("model %s registered twice", model.Name)
	}
	var off uint32
	if n := len(m.models); n > 0 {
		off = m.offsets[n-1] + uint32(len(m.models[n-1].Vertices))
	}
	id := ModelID(len(m.models))
	m.ids[model.Name] = id
	m.models = append(m.models, model)
	m.offsets = append(m.offsets, off)
	return id, nil
}

func (m *Models) ID(name string) (ModelID, bool) {
	id, ok := m.ids[name]
	return id, ok
}

func (m *Models) Get(id ModelID) Model { return m.models[id] }

// VertexIndex is the position of a face corner inside the flattened buffer.
func (m *Models) VertexIndex(id ModelID, f voxel.Face, corner int) uint32 {
	return m.offsets[id] + uint32(f)*VerticesPerFace + uint32(corner)
}

// Flatten lays out every model vertex for upload by the renderer.
func (m *Models) Flatten() []float32 {
	var out []float32
	for _, model := range m.models {
		for _, v := range model.Vertices {
			out = append(out, v.Position[:]...)
			out = append(out, v.UV[:]...)
			out = append(out, v.Normal[:]...)
		}
	}
	return out
}

func quad(normal mgl32.Vec3, pts [4]mgl32.Vec3, uvs [4]mgl32.Vec2) []ModelVertex {
	out := make([]ModelVertex, 4)
	for i := range out {
		out[i] = ModelVertex{Position: pts[i], UV: uvs[i], Normal: normal}
	}
	return out
}

// box builds a cube-shaped model whose top is at height h.
func box(name string, h float32) Model {
	v := func(x, y, z float32) mgl32.Vec3 { return mgl32.Vec3{x, y, z} }
	side := [4]mgl32.Vec2{{1, 0}, {0, 0}, {0, h}, {1, h}}
	ends := [4]mgl32.Vec2{{1, 1}, {1, 0}, {0, 0}, {0, 1}}

	var verts []ModelVertex
	verts = append(verts, quad(mgl32.Vec3{0, 0, 1}, [4]mgl32.Vec3{v(1, h, 1), v(0, h, 1), v(0, 0, 1), v(1, 0, 1)}, side)...)
	verts = append(verts, quad(mgl32.Vec3{0, 0, -1}, [4]mgl32.Vec3{v(0, h, 0), v(1, h, 0), v(1, 0, 0), v(0, 0, 0)}, side)...)
	verts = append(verts, quad(mgl32.Vec3{-1, 0, 0}, [4]mgl32.Vec3{v(0, h, 1), v(0, h, 0), v(0, 0, 0), v(0, 0, 1)}, side)...)
	verts = append(verts, quad(mgl32.Vec3{1, 0, 0}, [4]mgl32.Vec3{v(1, h, 0), v(1, h, 1), v(1, 0, 1), v(1, 0, 0)}, side)...)
	verts = append(verts, quad(mgl32.Vec3{0, 1, 0}, [4]mgl32.Vec3{v(1, h, 1), v(1, h, 0), v(0, h, 0), v(0, h, 1)}, ends)...)
	verts = append(verts, quad(mgl32.Vec3{0, -1, 0}, [4]mgl32.Vec3{v(1, 0, 0), v(1, 0, 1), v(0, 0, 1), v(0, 0, 0)}, ends)...)
	return Model{Name: name, Vertices: verts}
}

func CubeModel() Model { return box("cube", 1) }
func SlabModel() Model { return box("slab", 0.5) }
