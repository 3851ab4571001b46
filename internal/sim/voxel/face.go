package voxel

// Face is one of the six axis-aligned block faces. The order matches the
// per-face vertex layout of models.
type Face uint8

const (
	FaceFront  Face = iota // +Z
	FaceBack               // -Z
	FaceLeft               // -X
	FaceRight              // +X
	FaceTop                // +Y
	FaceBottom             // -Y
)

var Faces = [6]Face{FaceFront, FaceBack, FaceLeft, FaceRight, FaceTop, FaceBottom}

var faceNormals = [6]Pos{
	FaceFront:  {0, 0, 1},
	FaceBack:   {0, 0, -1},
	FaceLeft:   {-1, 0, 0},
	FaceRight:  {1, 0, 0},
	FaceTop:    {0, 1, 0},
	FaceBottom: {0, -1, 0},
}

func (f Face) Normal() Pos { return faceNormals[f] }

func (f Face) Opposite() Face {
	switch f {
	case FaceFront:
		return FaceBack
	case FaceBack:
		return FaceFront
	case FaceLeft:
		return FaceRight
	case FaceRight:
		return FaceLeft
	case FaceTop:
		return FaceBottom
	default:
		return FaceTop
	}
}

func (f Face) String() string {
	switch f {
	case FaceFront:
		return "front"
	case FaceBack:
		return "back"
	case FaceLeft:
		return "left"
	case FaceRight:
		return "right"
	case FaceTop:
		return "top"
	case FaceBottom:
		return "bottom"
	}
	return "unknown"
}
