package world

import (
	"voxelstream.ai/internal/sim/chunk"
)

type LightStatus uint8

const (
	LightPending LightStatus = iota
	LightComplete
)

func (s LightStatus) String() string {
	if s == LightComplete {
		return "complete"
	}
	return "pending"
}

// MeshStatus orders by scheduling priority: Urgent dominates Queued.
type MeshStatus uint8

const (
	MeshComplete MeshStatus = iota
	MeshQueued
	MeshUrgent
)

func (s MeshStatus) String() string {
	switch s {
	case MeshQueued:
		return "queued"
	case MeshUrgent:
		return "urgent"
	default:
		return "complete"
	}
}

// record is the authoritative state of one loaded chunk. Only the control
// goroutine touches it.
type record struct {
	data  *chunk.Data
	light *chunk.Light

	lightStatus LightStatus
	meshStatus  MeshStatus

	// Epochs advance on every invalidation. A task result is installed only
	// when the epoch it was dispatched with is still current.
	lightEpoch uint64
	meshEpoch  uint64

	// shown is true while the renderer holds a mesh for this chunk.
	shown bool
}

func (r *record) invalidateLight() {
	r.lightStatus = LightPending
	r.lightEpoch++
}

func (r *record) invalidateMesh(s MeshStatus) {
	if s > r.meshStatus {
		r.meshStatus = s
	}
	r.meshEpoch++
}
