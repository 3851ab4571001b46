package light

import (
	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/voxel"
)

// BorderChanges holds, per face, whether any light value in the chunk's
// outermost layer on that side changed.
type BorderChanges [6]bool

func (b BorderChanges) Any() bool {
	for _, c := range b {
		if c {
			return true
		}
	}
	return false
}

// DiffBorders compares the border layers of two light arrays. A nil prev is
// treated as fully dark.
func DiffBorders(prev, next *chunk.Light) BorderChanges {
	var out BorderChanges
	for _, f := range voxel.Faces {
		out[f] = faceDiffers(prev, next, f)
	}
	return out
}

func faceDiffers(prev, next *chunk.Light, f voxel.Face) bool {
	for a := 0; a < cs; a++ {
		for b := 0; b < cs; b++ {
			i := voxel.Index(borderPos(f, a, b))
			var old uint8
			if prev != nil {
				old = prev.Raw(i)
			}
			if old != next.Raw(i) {
				return true
			}
		}
	}
	return false
}

// borderPos is the cell inside the chunk touching face f.
func borderPos(f voxel.Face, a, b int) voxel.Pos {
	p := facePos(f, a, b)
	switch f {
	case voxel.FaceFront:
		p.Z = cs - 1
	case voxel.FaceBack:
		p.Z = 0
	case voxel.FaceLeft:
		p.X = 0
	case voxel.FaceRight:
		p.X = cs - 1
	case voxel.FaceTop:
		p.Y = cs - 1
	case voxel.FaceBottom:
		p.Y = 0
	}
	return p
}
