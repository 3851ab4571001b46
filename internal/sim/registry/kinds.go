package registry

import (
	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/voxel"
)

// Kind is the closed set of block behaviours. Per-voxel queries dispatch on it
// with a switch.
type Kind uint8

const (
	KindRock Kind = iota
	KindSoil
	KindWood
	KindGlass
	KindGlowstone
	KindRockSlab
)

var kindNames = map[string]Kind{
	"rock":      KindRock,
	"soil":      KindSoil,
	"wood":      KindWood,
	"glass":     KindGlass,
	"glowstone": KindGlowstone,
	"rock_slab": KindRockSlab,
}

func parseKind(s string) (Kind, bool) {
	k, ok := kindNames[s]
	return k, ok
}

func (k Kind) String() string {
	for name, v := range kindNames {
		if v == k {
			return name
		}
	}
	return "unknown"
}

// FaceRect is the part of a face covered by a block, in face-local units.
type FaceRect struct {
	MinU, MinV, MaxU, MaxV float32
	Transparent            bool
}

var (
	fullOpaque      = FaceRect{0, 0, 1, 1, false}
	fullTransparent = FaceRect{0, 0, 1, 1, true}
	lowerHalf       = FaceRect{0, 0, 1, 0.5, false}
)

// Covers reports whether r fully covers o.
func (r FaceRect) Covers(o FaceRect) bool {
	return r.MinU <= o.MinU && r.MinV <= o.MinV && r.MaxU >= o.MaxU && r.MaxV >= o.MaxV
}

func RockData(m MaterialID) voxel.PackedData { return voxel.Pack().U16(uint16(m)).Build() }
func WoodData(m MaterialID) voxel.PackedData { return voxel.Pack().U16(uint16(m)).Build() }
func SlabData(m MaterialID) voxel.PackedData { return voxel.Pack().U16(uint16(m)).Build() }

// SoilData encodes a soil material, optionally covered by a grass material.
func SoilData(m MaterialID, grass MaterialID, hasGrass bool) voxel.PackedData {
	e := voxel.Pack().U16(uint16(m)).Bool(hasGrass)
	if hasGrass {
		e.U16(uint16(grass))
	}
	return e.Build()
}

func (r *Registry) kind(id voxel.BlockID) (Kind, bool) {
	if int(id) >= len(r.blocks) {
		return 0, false
	}
	return r.blocks[id].Kind, true
}

// FaceRect returns the coverage of face f, or false when the block leaves
// that face open.
func (r *Registry) FaceRect(b voxel.Block, f voxel.Face) (FaceRect, bool) {
	k, ok := r.kind(b.ID)
	if !ok {
		return fullOpaque, true
	}
	switch k {
	case KindGlass:
		return fullTransparent, true
	case KindRockSlab:
		switch f {
		case voxel.FaceTop:
			return FaceRect{}, false
		case voxel.FaceBottom:
			return fullOpaque, true
		default:
			return lowerHalf, true
		}
	}
	return fullOpaque, true
}

// Opaque blocks stop light. A block is opaque when its top face is present
// and not transparent.
func (r *Registry) Opaque(b voxel.Block) bool {
	rect, ok := r.FaceRect(b, voxel.FaceTop)
	return ok && !rect.Transparent
}

// OccludesShading reports whether b darkens adjacent vertices.
func (r *Registry) OccludesShading(b voxel.Block) bool {
	k, ok := r.kind(b.ID)
	if !ok {
		return true
	}
	return k != KindRockSlab && k != KindGlass
}

func (r *Registry) Emission(b voxel.Block) uint8 {
	if k, ok := r.kind(b.ID); ok && k == KindGlowstone {
		return chunk.MaxLight
	}
	return 0
}

// DoubleSided blocks are drawn from both sides.
func (r *Registry) DoubleSided(b voxel.Block) bool {
	k, ok := r.kind(b.ID)
	return ok && k == KindGlass
}

func (r *Registry) Model(b voxel.Block) ModelID {
	if k, ok := r.kind(b.ID); ok && k == KindRockSlab {
		return r.slab
	}
	return r.cube
}

// TextureIndex resolves the texture layer for one face of b.
func (r *Registry) TextureIndex(b voxel.Block, f voxel.Face) uint32 {
	key := voxel.Block{ID: b.ID, Data: r.faceData(b, f)}
	return r.textures[key]
}

// faceData maps block data onto the key its textures were registered under.
func (r *Registry) faceData(b voxel.Block, f voxel.Face) voxel.PackedData {
	k, ok := r.kind(b.ID)
	if !ok {
		return b.Data
	}
	switch k {
	case KindSoil:
		// Malformed flags fall back to the plain soil texture.
		m, grass, hasGrass, _ := soilFields(b.Data)
		if !hasGrass {
			return voxel.Pack().Bool(false).U16(m).Bool(false).Build()
		}
		switch f {
		case voxel.FaceTop:
			return voxel.Pack().Bool(true).U16(grass).Build()
		case voxel.FaceBottom:
			return voxel.Pack().Bool(false).U16(m).Bool(false).Build()
		default:
			return voxel.Pack().Bool(false).U16(m).Bool(true).U16(grass).Build()
		}
	case KindWood:
		m := b.Data.Decode().U16()
		ends := f == voxel.FaceTop || f == voxel.FaceBottom
		return voxel.Pack().Bool(ends).U16(m).Build()
	case KindGlass, KindGlowstone:
		return 0
	}
	return b.Data
}

func soilFields(d voxel.PackedData) (m, grass uint16, hasGrass, ok bool) {
	m = uint16(d)
	switch uint8(d >> 16) {
	case 0:
		return m, 0, false, true
	case 1:
		return m, uint16(d >> 24), true, true
	}
	return m, 0, false, false
}

// ValidData reports whether b carries a canonical payload for its kind with
// a texture registered for every face.
func (r *Registry) ValidData(b voxel.Block) bool {
	k, ok := r.kind(b.ID)
	if !ok {
		return false
	}
	switch k {
	case KindSoil:
		m, grass, hasGrass, ok := soilFields(b.Data)
		if !ok || b.Data != SoilData(MaterialID(m), MaterialID(grass), hasGrass) {
			return false
		}
	case KindWood:
		if b.Data != WoodData(MaterialID(uint16(b.Data))) {
			return false
		}
	case KindGlass, KindGlowstone:
		if b.Data != 0 {
			return false
		}
	}
	for _, f := range voxel.Faces {
		if _, ok := r.textures[voxel.Block{ID: b.ID, Data: r.faceData(b, f)}]; !ok {
			return false
		}
	}
	return true
}

func (r *Registry) registerTextures(bt BlockType) {
	key := func(d voxel.PackedData) voxel.Block { return voxel.Block{ID: bt.ID, Data: d} }
	switch bt.Kind {
	case KindRock, KindRockSlab:
		for _, m := range r.MaterialsTagged("rock") {
			name := r.materials[m].Name
			r.addLayer(key(RockData(m)), TextureLayer{Name: bt.Name + ":" + name, Image: "rock", Material: name})
		}
	case KindSoil:
		for _, g := range r.MaterialsTagged("grass") {
			name := r.materials[g].Name
			r.addLayer(key(voxel.Pack().Bool(true).U16(uint16(g)).Build()),
				TextureLayer{Name: bt.Name + ":" + name, Image: "soil", Material: name})
		}
		for _, s := range r.MaterialsTagged("soil") {
			soil := r.materials[s].Name
			r.addLayer(key(voxel.Pack().Bool(false).U16(uint16(s)).Bool(false).Build()),
				TextureLayer{Name: bt.Name + ":" + soil, Image: "soil", Material: soil})
			for _, g := range r.MaterialsTagged("grass") {
				grass := r.materials[g].Name
				r.addLayer(key(voxel.Pack().Bool(false).U16(uint16(s)).Bool(true).U16(uint16(g)).Build()),
					TextureLayer{
						Name:            bt.Name + ":" + soil + "+" + grass,
						Image:           "soil",
						Material:        soil,
						Overlay:         "grass",
						OverlayMaterial: grass,
					})
			}
		}
	case KindWood:
		for _, m := range r.MaterialsTagged("wood") {
			name := r.materials[m].Name
			r.addLayer(key(voxel.Pack().Bool(true).U16(uint16(m)).Build()),
				TextureLayer{Name: bt.Name + ":" + name + ":top", Image: "wood_top", Material: name})
			r.addLayer(key(voxel.Pack().Bool(false).U16(uint16(m)).Build()),
				TextureLayer{Name: bt.Name + ":" + name + ":side", Image: "wood_side", Material: name})
		}
	case KindGlass:
		r.addLayer(key(0), TextureLayer{Name: bt.Name, Image: "glass"})
	case KindGlowstone:
		r.addLayer(key(0), TextureLayer{Name: bt.Name, Image: "glowstone"})
	}
}
