package world

import "voxelstream.ai/internal/sim/voxel"

// Metrics is a read-only view of scheduler state. It is published by the
// world goroutine after each tick and may be read from any goroutine.
type Metrics struct {
	Tick   uint64 `json:"tick"`
	Center [3]int `json:"center"`

	LoadedChunks int `json:"loaded_chunks"`
	WindowChunks int `json:"window_chunks"`

	GenerationInFlight int `json:"generation_in_flight"`
	LightInFlight      int `json:"light_in_flight"`
	MeshInFlight       int `json:"mesh_in_flight"`
	MeshDraining       int `json:"mesh_draining"`

	LightPending int `json:"light_pending"`
	MeshQueued   int `json:"mesh_queued"`
	MeshUrgent   int `json:"mesh_urgent"`
	UrgentBuffer int `json:"urgent_buffer"`

	DirtyChunks    int    `json:"dirty_chunks"`
	SaveInFlight   bool   `json:"save_in_flight"`
	SavesCompleted uint64 `json:"saves_completed"`
	SaveFailures   uint64 `json:"save_failures"`
	LastSaveError  string `json:"last_save_error,omitempty"`
}

func (w *World) Metrics() Metrics {
	if w == nil {
		return Metrics{}
	}
	m, _ := w.metrics.Load().(Metrics)
	return m
}

func (w *World) publishMetrics() {
	m := Metrics{
		Tick:               w.ticks,
		Center:             [3]int{w.center.X, w.center.Y, w.center.Z},
		LoadedChunks:       len(w.chunks),
		WindowChunks:       len(w.window),
		GenerationInFlight: len(w.genTasks),
		LightInFlight:      len(w.lightTasks),
		UrgentBuffer:       len(w.urgentBuf),
		DirtyChunks:        len(w.dirty),
		SaveInFlight:       w.saveTask != nil,
		SavesCompleted:     w.savesCompleted,
		SaveFailures:       w.saveFailures,
	}
	m.MeshInFlight, m.MeshDraining = w.meshLoad()
	for _, rec := range w.chunks {
		if rec.lightStatus == LightPending {
			m.LightPending++
		}
		switch rec.meshStatus {
		case MeshQueued:
			m.MeshQueued++
		case MeshUrgent:
			m.MeshUrgent++
		}
	}
	if w.lastSaveErr != nil {
		m.LastSaveError = w.lastSaveErr.Error()
	}
	w.metrics.Store(m)
}

// Status reports the lifecycle state of a loaded chunk.
func (w *World) Status(c voxel.ChunkCoord) (LightStatus, MeshStatus, bool) {
	rec, ok := w.chunks[c]
	if !ok {
		return 0, 0, false
	}
	return rec.lightStatus, rec.meshStatus, true
}

// Idle reports whether every chunk in the window is loaded, lit and meshed
// with no task in flight.
func (w *World) Idle() bool {
	if len(w.genTasks)+len(w.lightTasks)+len(w.meshTasks) > 0 || len(w.urgentBuf) > 0 {
		return false
	}
	for _, c := range w.window {
		rec, ok := w.chunks[c]
		if !ok || rec.lightStatus != LightComplete || rec.meshStatus != MeshComplete {
			return false
		}
	}
	return true
}
