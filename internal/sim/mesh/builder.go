package mesh

import (
	"context"

	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/registry"
	"voxelstream.ai/internal/sim/voxel"
)

type Mesh struct {
	Vertices []Vertex
	Indices  []uint32
}

// Builder turns a lit neighborhood into packed geometry. It is safe for
// concurrent use.
type Builder struct {
	reg *registry.Registry
}

func New(reg *registry.Registry) *Builder {
	return &Builder{reg: reg}
}

// Build meshes n.Data[CenterSlot]. It returns a nil mesh when the chunk has no
// visible faces, and ctx.Err() when cancelled part way.
func (b *Builder) Build(ctx context.Context, n *chunk.Neighborhood) (*Mesh, error) {
	d := n.Data[chunk.CenterSlot]
	if d.IsEmpty() {
		return nil, nil
	}
	m := &Mesh{}
	for z := 0; z < voxel.ChunkSize; z++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for y := 0; y < voxel.ChunkSize; y++ {
			for x := 0; x < voxel.ChunkSize; x++ {
				p := voxel.Pos{X: x, Y: y, Z: z}
				blk, ok := d.Get(p)
				if !ok {
					continue
				}
				for _, f := range voxel.Faces {
					if b.visible(n, p, blk, f) {
						b.emitFace(m, n, p, blk, f)
					}
				}
			}
		}
	}
	if len(m.Indices) == 0 {
		return nil, nil
	}
	return m, nil
}

// visible applies face culling: a face is hidden only when the neighbor's
// opposing face fully covers it and both faces share transparency.
func (b *Builder) visible(n *chunk.Neighborhood, p voxel.Pos, blk voxel.Block, f voxel.Face) bool {
	own, ok := b.reg.FaceRect(blk, f)
	if !ok {
		return true
	}
	nb, ok := n.Block(p.Add(f.Normal()))
	if !ok {
		return true
	}
	theirs, ok := b.reg.FaceRect(nb, f.Opposite())
	if !ok {
		return true
	}
	return !(theirs.Covers(own) && theirs.Transparent == own.Transparent)
}

func (b *Builder) emitFace(m *Mesh, n *chunk.Neighborhood, p voxel.Pos, blk voxel.Block, f voxel.Face) {
	models := b.reg.Models()
	model := b.reg.Model(blk)
	verts := models.Get(model).Vertices

	transparent := false
	if rect, ok := b.reg.FaceRect(blk, f); ok {
		transparent = rect.Transparent
	}
	texture := b.reg.TextureIndex(blk, f)

	out := p.Add(f.Normal())
	sky, bl, ok := n.LightAt(out)
	if !ok {
		sky, bl = chunk.MaxLight, 0
	}
	light := PackLight(sky, bl)

	var ao [4]uint8
	base := uint32(len(m.Vertices))
	for c := 0; c < registry.VerticesPerFace; c++ {
		pos := verts[int(f)*registry.VerticesPerFace+c].Position
		ao[c] = b.occlusion(n, out, f, pos.X() >= 0.5, pos.Y() >= 0.5, pos.Z() >= 0.5)
		m.Vertices = append(m.Vertices, Vertex{
			Data:    PackVertex(p, models.VertexIndex(model, f, c), ao[c], transparent),
			Texture: texture,
			Light:   light,
		})
	}

	// Split the quad along the brighter diagonal so occlusion does not
	// bleed across it.
	tris := [6]uint32{0, 1, 2, 0, 2, 3}
	if int(ao[0])+int(ao[2]) < int(ao[1])+int(ao[3]) {
		tris = [6]uint32{1, 2, 3, 1, 3, 0}
	}
	for _, t := range tris {
		m.Indices = append(m.Indices, base+t)
	}
	if b.reg.DoubleSided(blk) {
		for i := 0; i < 6; i += 3 {
			m.Indices = append(m.Indices, base+tris[i], base+tris[i+2], base+tris[i+1])
		}
	}
}

// occlusion computes the 0-3 vertex shade from the two edge cells and the
// corner cell around a vertex, sampled in the layer in front of the face.
func (b *Builder) occlusion(n *chunk.Neighborhood, front voxel.Pos, f voxel.Face, hx, hy, hz bool) uint8 {
	sign := func(high bool) int {
		if high {
			return 1
		}
		return -1
	}
	var u, v voxel.Pos
	switch f {
	case voxel.FaceFront, voxel.FaceBack:
		u, v = voxel.Pos{X: sign(hx)}, voxel.Pos{Y: sign(hy)}
	case voxel.FaceLeft, voxel.FaceRight:
		u, v = voxel.Pos{Y: sign(hy)}, voxel.Pos{Z: sign(hz)}
	default:
		u, v = voxel.Pos{X: sign(hx)}, voxel.Pos{Z: sign(hz)}
	}
	side1 := b.occludes(n, front.Add(u))
	side2 := b.occludes(n, front.Add(v))
	if side1 && side2 {
		return 0
	}
	count := 0
	if side1 {
		count++
	}
	if side2 {
		count++
	}
	if b.occludes(n, front.Add(u).Add(v)) {
		count++
	}
	return uint8(3 - count)
}

func (b *Builder) occludes(n *chunk.Neighborhood, p voxel.Pos) bool {
	blk, ok := n.Block(p)
	return ok && b.reg.OccludesShading(blk)
}
