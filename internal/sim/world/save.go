package world

import (
	"sort"
	"time"

	"golang.org/x/exp/maps"

	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/voxel"
)

type saveResult struct {
	batch map[voxel.ChunkCoord]*chunk.Data
	err   error
}

// scheduleSave starts one save of every dirty chunk, at most once per save
// interval and never while another save is running.
func (w *World) scheduleSave(now time.Time) {
	if w.saveTask != nil || len(w.dirty) == 0 {
		return
	}
	if !w.saveLimiter.AllowN(now, 1) {
		return
	}
	batch := w.takeDirty()
	t := newTask[saveResult](0)
	if !w.pool.submit(func() { t.done <- saveResult{batch: batch, err: w.store.SaveChunks(batch)} }) {
		w.requeue(batch)
		return
	}
	w.saveTask = t
	w.saving = batch
}

func (w *World) collectSave() {
	if w.saveTask == nil {
		return
	}
	res, ok := w.saveTask.poll()
	if !ok {
		return
	}
	w.finishSave(res)
}

func (w *World) finishSave(res saveResult) {
	w.saveTask = nil
	w.saving = nil
	if res.err != nil {
		w.saveFailures++
		w.lastSaveErr = res.err
		w.requeue(res.batch)
		w.logf("world save failed chunks=%d retry_dirty=%d err=%v", len(res.batch), len(w.dirty), res.err)
		return
	}
	w.savesCompleted++
	w.lastSaveErr = nil
	w.logf("world saved chunks=%d", len(res.batch))
}

// takeDirty snapshots every dirty chunk and clears the dirty set.
func (w *World) takeDirty() map[voxel.ChunkCoord]*chunk.Data {
	batch := make(map[voxel.ChunkCoord]*chunk.Data, len(w.dirty))
	for c, d := range w.dirty {
		batch[c] = d.Snapshot()
	}
	w.dirty = map[voxel.ChunkCoord]*chunk.Data{}
	return batch
}

// unsaved returns the newest copy of c that has not reached the store:
// dirty data first, then the batch of the save in flight.
func (w *World) unsaved(c voxel.ChunkCoord) (*chunk.Data, bool) {
	if d, ok := w.dirty[c]; ok {
		return d, true
	}
	if d, ok := w.saving[c]; ok {
		return d.Snapshot(), true
	}
	return nil, false
}

// requeue merges a failed batch back. Chunks edited since the batch was
// taken keep their newer data.
func (w *World) requeue(batch map[voxel.ChunkCoord]*chunk.Data) {
	for c, d := range batch {
		if _, newer := w.dirty[c]; !newer {
			w.dirty[c] = d
		}
	}
}

func sortedCoords[V any](m map[voxel.ChunkCoord]V) []voxel.ChunkCoord {
	keys := maps.Keys(m)
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	return keys
}
