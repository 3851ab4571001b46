package world

import (
	"context"
	"errors"
	"time"

	"voxelstream.ai/internal/persistence/region"
	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/light"
	"voxelstream.ai/internal/sim/mesh"
	"voxelstream.ai/internal/sim/voxel"
)

type genResult struct {
	data  *chunk.Data
	fresh bool
}

type meshResult struct {
	mesh *mesh.Mesh
	err  error
}

// Tick collects finished tasks, unloads chunks that left the window and
// dispatches new work. It never waits for a task.
func (w *World) Tick(now time.Time) {
	if w.closed.Load() {
		return
	}
	w.ticks++

	w.collectGeneration()
	w.collectLight()
	w.collectMesh()
	w.collectSave()

	w.unloadOutside()
	w.flushUrgent()

	w.scheduleSave(now)
	w.scheduleGeneration()
	w.scheduleLight()
	w.scheduleMesh()

	w.publishMetrics()
}

func (w *World) collectGeneration() {
	for c, t := range w.genTasks {
		res, ok := t.poll()
		if !ok {
			continue
		}
		delete(w.genTasks, c)
		if _, loaded := w.chunks[c]; loaded || !w.visible(c) {
			continue
		}
		w.install(c, res)
	}
}

// install adds a freshly loaded chunk. Its neighbors relight and remesh
// because their borders now touch real blocks.
func (w *World) install(c voxel.ChunkCoord, res genResult) {
	if d, ok := w.unsaved(c); ok {
		res = genResult{data: d}
	}
	w.chunks[c] = &record{
		data:        res.data,
		lightStatus: LightPending,
		meshStatus:  MeshQueued,
	}
	if _, ok := w.dirty[c]; res.fresh && !ok {
		w.dirty[c] = res.data
	}
	for _, nc := range voxel.Neighbors26(c) {
		if nb, ok := w.chunks[nc]; ok {
			nb.invalidateLight()
			nb.invalidateMesh(MeshQueued)
		}
	}
}

func (w *World) collectLight() {
	for c, t := range w.lightTasks {
		l, ok := t.poll()
		if !ok {
			continue
		}
		delete(w.lightTasks, c)
		rec, ok := w.chunks[c]
		if !ok || t.epoch != rec.lightEpoch {
			continue
		}
		prev := rec.light
		rec.light = l
		rec.lightStatus = LightComplete
		if prev == nil || !prev.Equal(l) {
			rec.invalidateMesh(MeshQueued)
		}

		changes := light.DiffBorders(prev, l)
		for _, f := range voxel.Faces {
			if !changes[f] {
				continue
			}
			n := f.Normal()
			if nb, ok := w.chunks[c.Add(n.X, n.Y, n.Z)]; ok {
				nb.invalidateLight()
				nb.invalidateMesh(MeshQueued)
			}
		}
	}
}

func (w *World) collectMesh() {
	for c, t := range w.meshTasks {
		res, ok := t.poll()
		if !ok {
			continue
		}
		delete(w.meshTasks, c)
		if t.cancelled {
			continue
		}
		rec, ok := w.chunks[c]
		if !ok || t.epoch != rec.meshEpoch {
			continue
		}
		if res.err != nil {
			w.logf("world mesh failed chunk=%v err=%v", c, res.err)
			continue
		}
		rec.meshStatus = MeshComplete
		if t.urgent {
			w.urgentBuf[c] = res.mesh
			continue
		}
		w.present(c, rec, res.mesh)
	}
}

func (w *World) present(c voxel.ChunkCoord, rec *record, m *mesh.Mesh) {
	delete(w.urgentBuf, c)
	if m == nil {
		if rec.shown {
			w.renderer.Hide(c)
			rec.shown = false
		}
		return
	}
	w.renderer.Apply(c, m)
	rec.shown = true
}

// flushUrgent hands buffered urgent meshes to the renderer together, once
// no chunk is still waiting on an urgent remesh.
func (w *World) flushUrgent() {
	if len(w.urgentBuf) == 0 {
		return
	}
	for _, rec := range w.chunks {
		if rec.meshStatus == MeshUrgent {
			return
		}
	}
	for _, t := range w.meshTasks {
		if t.urgent && !t.cancelled {
			return
		}
	}
	for _, c := range sortedCoords(w.urgentBuf) {
		if rec, ok := w.chunks[c]; ok {
			w.present(c, rec, w.urgentBuf[c])
		}
	}
	w.urgentBuf = map[voxel.ChunkCoord]*mesh.Mesh{}
}

func (w *World) unloadOutside() {
	for _, c := range sortedCoords(w.chunks) {
		if w.visible(c) {
			continue
		}
		delete(w.chunks, c)
		delete(w.urgentBuf, c)
		if t, ok := w.meshTasks[c]; ok && !t.cancelled {
			t.abort()
		}
		// A reload restarts the record's epochs, so an older light result
		// must not be collected under the same coordinate.
		delete(w.lightTasks, c)
		w.renderer.Despawn(c)
		// Dirty data stays queued in w.dirty and is saved independently.
		for _, nc := range voxel.Neighbors26(c) {
			if nb, ok := w.chunks[nc]; ok {
				nb.invalidateMesh(MeshQueued)
			}
		}
	}
}

func (w *World) scheduleGeneration() {
	for _, c := range w.window {
		if len(w.genTasks) >= w.cfg.MaxGenerationTasks {
			return
		}
		if _, ok := w.chunks[c]; ok {
			continue
		}
		if _, ok := w.genTasks[c]; ok {
			continue
		}
		// The store may not hold the latest edits yet.
		if _, ok := w.unsaved(c); ok {
			w.install(c, genResult{})
			continue
		}
		t := newTask[genResult](0)
		if !w.pool.submit(func() { t.done <- w.loadOrGenerate(c) }) {
			return
		}
		w.genTasks[c] = t
	}
}

// loadOrGenerate runs on a worker. Unreadable saves are logged and replaced
// by generated terrain.
func (w *World) loadOrGenerate(c voxel.ChunkCoord) genResult {
	d, err := w.store.LoadChunk(c)
	if err != nil {
		var le *region.LoadError
		if errors.As(err, &le) {
			w.logf("world region unreadable, regenerating chunk=%v region=%v path=%s err=%v", c, le.Region, le.Path, le.Err)
		} else {
			w.logf("world chunk load failed, regenerating chunk=%v err=%v", c, err)
		}
		d = nil
	}
	if d != nil {
		return genResult{data: d}
	}
	return genResult{data: w.gen.Generate(c), fresh: true}
}

// lightReady requires every neighbor inside the window to be loaded.
func (w *World) lightReady(c voxel.ChunkCoord) bool {
	for _, nc := range voxel.Neighbors26(c) {
		if !w.visible(nc) {
			continue
		}
		if _, ok := w.chunks[nc]; !ok {
			return false
		}
	}
	return true
}

func (w *World) scheduleLight() {
	for _, c := range w.window {
		if len(w.lightTasks) >= w.cfg.MaxLightTasks {
			return
		}
		rec, ok := w.chunks[c]
		if !ok || rec.lightStatus != LightPending {
			continue
		}
		if _, busy := w.lightTasks[c]; busy {
			continue
		}
		if !w.lightReady(c) {
			continue
		}
		n := w.neighborhood(c)
		t := newTask[*chunk.Light](rec.lightEpoch)
		if !w.pool.submit(func() { t.done <- w.lighter.Compute(n) }) {
			return
		}
		w.lightTasks[c] = t
	}
}

// meshReady requires the chunk and every loaded neighbor in the window to
// have complete light.
func (w *World) meshReady(c voxel.ChunkCoord, rec *record) bool {
	if rec.lightStatus != LightComplete {
		return false
	}
	for _, nc := range voxel.Neighbors26(c) {
		if !w.visible(nc) {
			continue
		}
		nb, ok := w.chunks[nc]
		if !ok || nb.lightStatus != LightComplete {
			return false
		}
	}
	return true
}

func (w *World) scheduleMesh() {
	var urgent, queued []voxel.ChunkCoord
	waiting := false
	for _, c := range w.window {
		rec, ok := w.chunks[c]
		if !ok || rec.meshStatus == MeshComplete {
			continue
		}
		if rec.meshStatus == MeshUrgent {
			waiting = true
		}
		if _, busy := w.meshTasks[c]; busy {
			continue
		}
		if !w.meshReady(c, rec) {
			continue
		}
		if rec.meshStatus == MeshUrgent {
			urgent = append(urgent, c)
		} else {
			queued = append(queued, c)
		}
	}

	if len(urgent) > 0 {
		for _, t := range w.meshTasks {
			if !t.urgent && !t.cancelled {
				t.abort()
			}
		}
		active, _ := w.meshLoad()
		for _, c := range urgent {
			if active >= w.cfg.MaxMeshTasks {
				return
			}
			if !w.dispatchMesh(c, true) {
				return
			}
			active++
		}
		return
	}

	// Urgent chunks still waiting on light hold back queued work so the
	// urgent batch lands before anything newer.
	if waiting {
		return
	}
	active, draining := w.meshLoad()
	for _, c := range queued {
		if active+draining >= w.cfg.MaxMeshTasks {
			return
		}
		if !w.dispatchMesh(c, false) {
			return
		}
		active++
	}
}

// meshLoad counts live mesh tasks and cancelled ones still finishing.
func (w *World) meshLoad() (active, draining int) {
	for _, t := range w.meshTasks {
		if t.cancelled {
			draining++
		} else {
			active++
		}
	}
	return active, draining
}

func (w *World) dispatchMesh(c voxel.ChunkCoord, urgent bool) bool {
	rec := w.chunks[c]
	n := w.neighborhood(c)
	n.Light[chunk.CenterSlot] = rec.light

	ctx, cancel := context.WithCancel(w.ctx)
	t := newTask[meshResult](rec.meshEpoch)
	t.urgent = urgent
	t.cancel = cancel
	ok := w.pool.submit(func() {
		defer cancel()
		m, err := w.mesher.Build(ctx, n)
		t.done <- meshResult{mesh: m, err: err}
	})
	if !ok {
		cancel()
		return false
	}
	w.meshTasks[c] = t
	return true
}

// neighborhood snapshots c and its loaded neighbors for a worker. Neighbor
// light is included only where it is complete.
func (w *World) neighborhood(c voxel.ChunkCoord) *chunk.Neighborhood {
	n := &chunk.Neighborhood{Center: c}
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				rec, ok := w.chunks[c.Add(dx, dy, dz)]
				if !ok {
					continue
				}
				slot := chunk.Slot(dx, dy, dz)
				n.Data[slot] = rec.data.Snapshot()
				if slot != chunk.CenterSlot && rec.lightStatus == LightComplete {
					n.Light[slot] = rec.light
				}
			}
		}
	}
	return n
}
