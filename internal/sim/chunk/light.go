package chunk

import "voxelstream.ai/internal/sim/voxel"

const MaxLight = 15

// Light packs sky light in the high nibble and block light in the low nibble
// of one byte per cell.
type Light struct {
	v [voxel.ChunkVolume]uint8
}

func NewLight() *Light { return &Light{} }

func (l *Light) Sky(p voxel.Pos) uint8   { return l.v[voxel.Index(p)] >> 4 }
func (l *Light) Block(p voxel.Pos) uint8 { return l.v[voxel.Index(p)] & 0x0F }

func (l *Light) SkyAt(i int) uint8   { return l.v[i] >> 4 }
func (l *Light) BlockAt(i int) uint8 { return l.v[i] & 0x0F }

func (l *Light) SetSkyAt(i int, v uint8)   { l.v[i] = l.v[i]&0x0F | (v&0x0F)<<4 }
func (l *Light) SetBlockAt(i int, v uint8) { l.v[i] = l.v[i]&0xF0 | v&0x0F }

// Raw is the packed byte at flat index i.
func (l *Light) Raw(i int) uint8 { return l.v[i] }

func (l *Light) Equal(o *Light) bool { return l.v == o.v }
