package light

import (
	"sync"

	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/registry"
	"voxelstream.ai/internal/sim/voxel"
)

const (
	cs = voxel.ChunkSize
	// The flood fill runs over the chunk plus a one-cell apron so light
	// crossing a border keeps spreading; apron values are discarded.
	span   = cs + 2
	volume = span * span * span
)

func sidx(x, y, z int) int { return (x + 1) + (y+1)*span + (z+1)*span*span }

var steps = [6]int{1, -1, span, -span, span * span, -span * span}

type scratch struct {
	opaque [volume]bool
	sky    [volume]uint8
	block  [volume]uint8
	queue  []int32
}

var scratchPool = sync.Pool{New: func() any { return &scratch{queue: make([]int32, 0, 8192)} }}

// Propagator computes sky and block light for one chunk. It keeps no state
// between calls and is safe for concurrent use.
type Propagator struct {
	reg *registry.Registry
}

func New(reg *registry.Registry) *Propagator {
	return &Propagator{reg: reg}
}

// Compute lights n.Data[CenterSlot]. Neighbor light entries seed the apron,
// so the result converges once neighbors stop changing at their borders.
func (p *Propagator) Compute(n *chunk.Neighborhood) *chunk.Light {
	s := scratchPool.Get().(*scratch)
	defer scratchPool.Put(s)
	s.sky = [volume]uint8{}
	s.block = [volume]uint8{}

	p.fillOpaque(s, n)

	s.queue = s.queue[:0]
	p.seedSky(s, n)
	seedFaces(s, n, true)
	s.queue = flood(s, &s.sky, s.queue)

	s.queue = s.queue[:0]
	p.seedEmitters(s, n)
	seedFaces(s, n, false)
	s.queue = flood(s, &s.block, s.queue)

	out := chunk.NewLight()
	for z := 0; z < cs; z++ {
		for y := 0; y < cs; y++ {
			for x := 0; x < cs; x++ {
				i := voxel.Index(voxel.Pos{X: x, Y: y, Z: z})
				j := sidx(x, y, z)
				out.SetSkyAt(i, s.sky[j])
				out.SetBlockAt(i, s.block[j])
			}
		}
	}
	return out
}

func (p *Propagator) fillOpaque(s *scratch, n *chunk.Neighborhood) {
	for z := -1; z <= cs; z++ {
		for y := -1; y <= cs; y++ {
			for x := -1; x <= cs; x++ {
				b, ok := n.Block(voxel.Pos{X: x, Y: y, Z: z})
				s.opaque[sidx(x, y, z)] = ok && p.reg.Opaque(b)
			}
		}
	}
}

// skyOpen reports whether column (x, z) of the chunk at horizontal offset
// (dx, dz) receives unobstructed sky light from above.
func (p *Propagator) skyOpen(n *chunk.Neighborhood, dx, dz, lx, lz int) bool {
	slot := chunk.Slot(dx, 1, dz)
	if l := n.Light[slot]; l != nil {
		return l.SkyAt(voxel.Index(voxel.Pos{X: lx, Y: 0, Z: lz})) == chunk.MaxLight
	}
	d := n.Data[slot]
	if d == nil || d.IsEmpty() {
		return true
	}
	for y := 0; y < cs; y++ {
		if b, ok := d.Get(voxel.Pos{X: lx, Y: y, Z: lz}); ok && p.reg.Opaque(b) {
			return false
		}
	}
	return true
}

func (p *Propagator) seedSky(s *scratch, n *chunk.Neighborhood) {
	for z := -1; z <= cs; z++ {
		for x := -1; x <= cs; x++ {
			dx, lx := offset(x)
			dz, lz := offset(z)
			level := uint8(0)
			if p.skyOpen(n, dx, dz, lx, lz) {
				level = chunk.MaxLight
			}
			for y := cs - 1; y >= -1; y-- {
				j := sidx(x, y, z)
				if s.opaque[j] {
					level = 0
					continue
				}
				if level > 0 {
					s.sky[j] = level
					s.queue = append(s.queue, int32(j))
				}
			}
		}
	}
}

func (p *Propagator) seedEmitters(s *scratch, n *chunk.Neighborhood) {
	d := n.Data[chunk.CenterSlot]
	if d.IsEmpty() {
		return
	}
	for i := 0; i < voxel.ChunkVolume; i++ {
		b, ok := d.At(i)
		if !ok {
			continue
		}
		if e := p.reg.Emission(b); e > 0 {
			lp := voxel.PosAt(i)
			j := sidx(lp.X, lp.Y, lp.Z)
			s.block[j] = e
			s.queue = append(s.queue, int32(j))
		}
	}
}

// seedFaces copies neighbor light from just outside each chunk face into the
// apron, where the flood fill can carry it inward.
func seedFaces(s *scratch, n *chunk.Neighborhood, sky bool) {
	dst := &s.block
	if sky {
		dst = &s.sky
	}
	for _, f := range voxel.Faces {
		nrm := f.Normal()
		if n.Light[chunk.Slot(nrm.X, nrm.Y, nrm.Z)] == nil {
			continue
		}
		for a := 0; a < cs; a++ {
			for b := 0; b < cs; b++ {
				q := facePos(f, a, b)
				sk, bl, _ := n.LightAt(q)
				v := bl
				if sky {
					v = sk
				}
				j := sidx(q.X, q.Y, q.Z)
				if v <= 1 || s.opaque[j] || dst[j] >= v {
					continue
				}
				dst[j] = v
				s.queue = append(s.queue, int32(j))
			}
		}
	}
}

// flood runs the attenuating 6-way fill from every queued index.
func flood(s *scratch, levels *[volume]uint8, queue []int32) []int32 {
	for head := 0; head < len(queue); head++ {
		j := int(queue[head])
		lv := levels[j]
		if lv <= 1 {
			continue
		}
		x, y, z := j%span, (j/span)%span, j/(span*span)
		for k, st := range steps {
			// Stay inside the scratch volume.
			switch k {
			case 0:
				if x == span-1 {
					continue
				}
			case 1:
				if x == 0 {
					continue
				}
			case 2:
				if y == span-1 {
					continue
				}
			case 3:
				if y == 0 {
					continue
				}
			case 4:
				if z == span-1 {
					continue
				}
			case 5:
				if z == 0 {
					continue
				}
			}
			nj := j + st
			if s.opaque[nj] || levels[nj] >= lv-1 {
				continue
			}
			levels[nj] = lv - 1
			queue = append(queue, int32(nj))
		}
	}
	return queue
}

// offset maps a coordinate in [-1, cs] to a chunk offset and local coordinate.
func offset(v int) (int, int) {
	switch {
	case v < 0:
		return -1, v + cs
	case v >= cs:
		return 1, v - cs
	}
	return 0, v
}

// facePos is the cell just outside face f at face coordinates (a, b),
// relative to the chunk origin.
func facePos(f voxel.Face, a, b int) voxel.Pos {
	switch f {
	case voxel.FaceFront:
		return voxel.Pos{X: a, Y: b, Z: cs}
	case voxel.FaceBack:
		return voxel.Pos{X: a, Y: b, Z: -1}
	case voxel.FaceLeft:
		return voxel.Pos{X: -1, Y: a, Z: b}
	case voxel.FaceRight:
		return voxel.Pos{X: cs, Y: a, Z: b}
	case voxel.FaceTop:
		return voxel.Pos{X: a, Y: cs, Z: b}
	default:
		return voxel.Pos{X: a, Y: -1, Z: b}
	}
}
