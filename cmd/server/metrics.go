package main

import (
	"fmt"
	"io"
	"net/http"

	"voxelstream.ai/internal/persistence/indexdb"
	"voxelstream.ai/internal/sim/world"
	"voxelstream.ai/internal/transport/feed"
)

// writeMetrics renders the minimal Prometheus exposition format.
func writeMetrics(rw http.ResponseWriter, m world.Metrics, fs feed.Stats, idx *indexdb.SQLiteIndex) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	writeWorldMetrics(rw, m)
	writeFeedMetrics(rw, fs)
	if idx != nil {
		writeIndexMetrics(rw, idx.Stats())
	}
}

func gauge(w io.Writer, name, help string, v any) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s gauge\n", name)
	fmt.Fprintf(w, "%s %v\n", name, v)
}

func counter(w io.Writer, name, help string, v uint64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	fmt.Fprintf(w, "%s %d\n", name, v)
}

func writeWorldMetrics(w io.Writer, m world.Metrics) {
	gauge(w, "voxelstream_world_tick", "Scheduler ticks run.", m.Tick)
	fmt.Fprintf(w, "# HELP voxelstream_world_center Streaming center chunk coordinate.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_world_center gauge\n")
	fmt.Fprintf(w, "voxelstream_world_center{axis=\"x\"} %d\n", m.Center[0])
	fmt.Fprintf(w, "voxelstream_world_center{axis=\"y\"} %d\n", m.Center[1])
	fmt.Fprintf(w, "voxelstream_world_center{axis=\"z\"} %d\n", m.Center[2])

	gauge(w, "voxelstream_world_loaded_chunks", "Loaded chunk count.", m.LoadedChunks)
	gauge(w, "voxelstream_world_window_chunks", "Chunks inside the streaming radius.", m.WindowChunks)

	fmt.Fprintf(w, "# HELP voxelstream_world_tasks_in_flight Background tasks by category.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_world_tasks_in_flight gauge\n")
	fmt.Fprintf(w, "voxelstream_world_tasks_in_flight{task=%q} %d\n", "generation", m.GenerationInFlight)
	fmt.Fprintf(w, "voxelstream_world_tasks_in_flight{task=%q} %d\n", "light", m.LightInFlight)
	fmt.Fprintf(w, "voxelstream_world_tasks_in_flight{task=%q} %d\n", "mesh", m.MeshInFlight)
	fmt.Fprintf(w, "voxelstream_world_tasks_in_flight{task=%q} %d\n", "mesh_draining", m.MeshDraining)

	fmt.Fprintf(w, "# HELP voxelstream_world_chunks_by_status Loaded chunks waiting on work.\n")
	fmt.Fprintf(w, "# TYPE voxelstream_world_chunks_by_status gauge\n")
	fmt.Fprintf(w, "voxelstream_world_chunks_by_status{status=%q} %d\n", "light_pending", m.LightPending)
	fmt.Fprintf(w, "voxelstream_world_chunks_by_status{status=%q} %d\n", "mesh_queued", m.MeshQueued)
	fmt.Fprintf(w, "voxelstream_world_chunks_by_status{status=%q} %d\n", "mesh_urgent", m.MeshUrgent)

	gauge(w, "voxelstream_world_urgent_buffer", "Finished urgent meshes held for batch presentation.", m.UrgentBuffer)
	gauge(w, "voxelstream_world_dirty_chunks", "Chunks modified since their last save.", m.DirtyChunks)
	counter(w, "voxelstream_world_saves_total", "Completed save cycles.", m.SavesCompleted)
	counter(w, "voxelstream_world_save_failures_total", "Failed save cycles.", m.SaveFailures)
}

func writeFeedMetrics(w io.Writer, s feed.Stats) {
	gauge(w, "voxelstream_feed_clients", "Connected renderer sessions.", s.Clients)
	gauge(w, "voxelstream_feed_shown_chunks", "Chunks with geometry on the feed.", s.ShownChunks)
	counter(w, "voxelstream_feed_dropped_total", "Frames dropped on full session queues.", s.DroppedTotal)
	counter(w, "voxelstream_feed_kicked_total", "Sessions disconnected for falling behind.", s.KickedTotal)
}

func writeIndexMetrics(w io.Writer, s indexdb.Stats) {
	gauge(w, "voxelstream_index_queue_depth", "Save index queue depth.", s.QueueDepth)
	gauge(w, "voxelstream_index_queue_capacity", "Save index queue capacity.", s.QueueCapacity)
	counter(w, "voxelstream_index_enqueued_total", "Save records offered to the index.", s.EnqueuedTotal)
	counter(w, "voxelstream_index_dropped_total", "Save records dropped on a full queue.", s.DroppedTotal)
	counter(w, "voxelstream_index_written_total", "Save records committed.", s.WrittenTotal)
	counter(w, "voxelstream_index_failed_total", "Save records that failed to commit.", s.FailedTotal)
}
