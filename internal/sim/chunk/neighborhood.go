package chunk

import "voxelstream.ai/internal/sim/voxel"

// CenterSlot is the slot of the target chunk in a Neighborhood.
const CenterSlot = 13

// Slot maps an offset in [-1,1]³ to a Neighborhood slot.
func Slot(dx, dy, dz int) int {
	return (dx + 1) + (dy+1)*3 + (dz+1)*9
}

// Neighborhood is a read-only view of a chunk and its 26 neighbors. A nil
// Data entry is a chunk outside the streaming radius; a nil Light entry is a
// chunk whose light is not computed yet.
type Neighborhood struct {
	Center voxel.ChunkCoord
	Data   [27]*Data
	Light  [27]*Light
}

// split locates p, given relative to the center chunk's origin, in the
// neighborhood. p must lie within one chunk of the center.
func split(p voxel.Pos) (int, int) {
	dx := (p.X+voxel.ChunkSize)/voxel.ChunkSize - 1
	dy := (p.Y+voxel.ChunkSize)/voxel.ChunkSize - 1
	dz := (p.Z+voxel.ChunkSize)/voxel.ChunkSize - 1
	l := voxel.Pos{X: p.X - dx*voxel.ChunkSize, Y: p.Y - dy*voxel.ChunkSize, Z: p.Z - dz*voxel.ChunkSize}
	return Slot(dx, dy, dz), voxel.Index(l)
}

// Block reads a cell relative to the center chunk's origin. Cells in missing
// chunks read as air.
func (n *Neighborhood) Block(p voxel.Pos) (voxel.Block, bool) {
	s, i := split(p)
	d := n.Data[s]
	if d == nil {
		return voxel.Block{}, false
	}
	return d.At(i)
}

// LightAt reads both light channels relative to the center chunk's origin.
// ok is false when the owning chunk has no light.
func (n *Neighborhood) LightAt(p voxel.Pos) (sky, block uint8, ok bool) {
	s, i := split(p)
	l := n.Light[s]
	if l == nil {
		return 0, 0, false
	}
	return l.SkyAt(i), l.BlockAt(i), true
}
