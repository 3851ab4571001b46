package world

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/time/rate"

	"voxelstream.ai/internal/persistence/region"
	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/mesh"
	"voxelstream.ai/internal/sim/registry"
	"voxelstream.ai/internal/sim/tuning"
	"voxelstream.ai/internal/sim/voxel"
)

// floorGen puts a rock layer at world y=-1 and leaves everything else air.
type floorGen struct {
	rock voxel.Block

	mu    sync.Mutex
	calls map[voxel.ChunkCoord]int
}

func (g *floorGen) Generate(c voxel.ChunkCoord) *chunk.Data {
	g.mu.Lock()
	g.calls[c]++
	g.mu.Unlock()

	d := chunk.New()
	if c.Y == -1 {
		for z := 0; z < voxel.ChunkSize; z++ {
			for x := 0; x < voxel.ChunkSize; x++ {
				d.Set(voxel.Pos{X: x, Y: voxel.ChunkSize - 1, Z: z}, g.rock)
			}
		}
	}
	return d
}

func (g *floorGen) callsFor(c voxel.ChunkCoord) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[c]
}

type memStore struct {
	mu       sync.Mutex
	saved    map[voxel.ChunkCoord]*chunk.Data
	loadErr  map[voxel.ChunkCoord]error
	failures int
	saves    int
}

func newMemStore() *memStore {
	return &memStore{saved: map[voxel.ChunkCoord]*chunk.Data{}, loadErr: map[voxel.ChunkCoord]error{}}
}

func (s *memStore) LoadChunk(c voxel.ChunkCoord) (*chunk.Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadErr[c]; err != nil {
		return nil, err
	}
	d, ok := s.saved[c]
	if !ok {
		return nil, nil
	}
	return d.Snapshot(), nil
}

func (s *memStore) SaveChunks(chunks map[voxel.ChunkCoord]*chunk.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("disk full")
	}
	for c, d := range chunks {
		s.saved[c] = d
	}
	s.saves++
	return nil
}

func (s *memStore) get(c voxel.ChunkCoord) *chunk.Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[c]
}

type renderEvent struct {
	kind string
	c    voxel.ChunkCoord
	tick uint64
}

type recRenderer struct {
	w      *World
	events []renderEvent
	meshes map[voxel.ChunkCoord]*mesh.Mesh
}

func (r *recRenderer) Apply(c voxel.ChunkCoord, m *mesh.Mesh) {
	r.events = append(r.events, renderEvent{"apply", c, r.w.ticks})
	r.meshes[c] = m
}

func (r *recRenderer) Hide(c voxel.ChunkCoord) {
	r.events = append(r.events, renderEvent{"hide", c, r.w.ticks})
	delete(r.meshes, c)
}

func (r *recRenderer) Despawn(c voxel.ChunkCoord) {
	r.events = append(r.events, renderEvent{"despawn", c, r.w.ticks})
	delete(r.meshes, c)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

type harness struct {
	w     *World
	gen   *floorGen
	store *memStore
	rend  *recRenderer
	clock *fakeClock
	reg   *registry.Registry
	rock  voxel.Block
}

func newHarness(t *testing.T, store *memStore) *harness {
	t.Helper()
	reg, err := registry.Default()
	if err != nil {
		t.Fatal(err)
	}
	rock := voxel.Block{ID: reg.MustBlock("rock"), Data: registry.RockData(reg.MustMaterial("shale"))}
	tun := tuning.Defaults()
	tun.StreamingRadius = 1
	tun.Workers = 4
	tun.SaveIntervalMs = 1000

	h := &harness{
		gen:   &floorGen{rock: rock, calls: map[voxel.ChunkCoord]int{}},
		store: store,
		rend:  &recRenderer{meshes: map[voxel.ChunkCoord]*mesh.Mesh{}},
		clock: &fakeClock{t: time.Unix(1_700_000_000, 0)},
		reg:   reg,
		rock:  rock,
	}
	h.w, err = New(Config{
		Tuning:    tun,
		Registry:  reg,
		Generator: h.gen,
		Store:     store,
		Renderer:  h.rend,
		Now:       h.clock.now,
	})
	if err != nil {
		t.Fatal(err)
	}
	h.rend.w = h.w
	t.Cleanup(func() { h.w.Close() })
	return h
}

func (h *harness) tick() {
	h.clock.t = h.clock.t.Add(100 * time.Millisecond)
	h.w.Tick(h.clock.now())
	time.Sleep(200 * time.Microsecond)
}

func (h *harness) until(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s: %+v", what, h.w.Metrics())
		}
		h.tick()
	}
}

func (h *harness) settle(t *testing.T) {
	t.Helper()
	h.until(t, "idle", h.w.Idle)
}

func TestStreamWindow(t *testing.T) {
	win := streamWindow(voxel.ChunkCoord{}, 1)
	if len(win) != 15 {
		t.Fatalf("window size=%d want 15", len(win))
	}
	if win[0] != (voxel.ChunkCoord{}) {
		t.Fatalf("nearest chunk=%v", win[0])
	}
	key := func(c voxel.ChunkCoord) (int, int) {
		y := c.Y
		if y < 0 {
			y = -y
		}
		return c.X*c.X + c.Z*c.Z, y
	}
	for i := 1; i < len(win); i++ {
		ph, pv := key(win[i-1])
		h, v := key(win[i])
		if h < ph || (h == ph && v < pv) {
			t.Fatalf("window out of order at %d: %v after %v", i, win[i], win[i-1])
		}
	}
	if inRadius(voxel.ChunkCoord{}, voxel.ChunkCoord{X: 1, Z: 1}, 1) {
		t.Fatalf("diagonal column is outside radius 1")
	}
	if got := ChunkAt(mgl32.Vec3{-0.5, 31.9, 64}); got != (voxel.ChunkCoord{X: -1, Y: 0, Z: 2}) {
		t.Fatalf("ChunkAt=%v", got)
	}
}

func TestStreamingLoadsLightsAndMeshes(t *testing.T) {
	h := newHarness(t, newMemStore())
	h.settle(t)

	m := h.w.Metrics()
	if m.LoadedChunks != 15 {
		t.Fatalf("loaded=%d want 15", m.LoadedChunks)
	}
	for _, c := range h.w.window {
		if n := h.gen.callsFor(c); n != 1 {
			t.Fatalf("chunk %v generated %d times", c, n)
		}
		_, hasMesh := h.rend.meshes[c]
		if want := c.Y == -1; hasMesh != want {
			t.Fatalf("chunk %v mesh=%v want %v", c, hasMesh, want)
		}
	}

	// Fresh chunks are saved by the background cycle.
	h.until(t, "save", func() bool { return h.w.Metrics().DirtyChunks == 0 && !h.w.Metrics().SaveInFlight })
	for _, c := range h.w.window {
		if h.store.get(c) == nil {
			t.Fatalf("chunk %v not saved", c)
		}
	}
}

func TestSetBlockInvalidatesNeighborhood(t *testing.T) {
	h := newHarness(t, newMemStore())
	h.settle(t)

	if err := h.w.SetBlock(voxel.Pos{X: 0, Y: 0, Z: 0}, h.rock); err != nil {
		t.Fatal(err)
	}
	origin := voxel.ChunkCoord{}
	for _, c := range append(voxel.Neighbors26(origin), origin) {
		ls, ms, ok := h.w.Status(c)
		if !ok {
			continue
		}
		if ms == MeshComplete || ls != LightPending {
			t.Fatalf("chunk %v not invalidated: light=%v mesh=%v", c, ls, ms)
		}
	}
	if b, ok := h.w.GetBlock(voxel.Pos{}); !ok || b != h.rock {
		t.Fatalf("GetBlock=%v,%v", b, ok)
	}
	if _, ok := h.w.dirty[origin]; !ok {
		t.Fatalf("edited chunk not dirty")
	}

	mark := len(h.rend.events)
	h.settle(t)

	// Urgent results land in a single tick.
	var first uint64
	applied := map[voxel.ChunkCoord]bool{}
	for _, ev := range h.rend.events[mark:] {
		if ev.kind != "apply" {
			continue
		}
		if first == 0 {
			first = ev.tick
		}
		if ev.tick == first {
			applied[ev.c] = true
		}
	}
	if !applied[origin] {
		t.Fatalf("edited chunk missing from urgent batch: %v", applied)
	}
	for _, c := range h.w.window {
		if c.Y == -1 && !applied[c] {
			t.Fatalf("floor chunk %v missing from urgent batch", c)
		}
	}

	if err := h.w.RemoveBlock(voxel.Pos{}); err != nil {
		t.Fatal(err)
	}
	h.settle(t)
	if _, ok := h.w.GetBlock(voxel.Pos{}); ok {
		t.Fatalf("block still present after removal")
	}
	if _, ok := h.rend.meshes[origin]; ok {
		t.Fatalf("emptied chunk still shown")
	}
}

func TestEditErrors(t *testing.T) {
	h := newHarness(t, newMemStore())
	h.settle(t)
	if err := h.w.SetBlock(voxel.Pos{X: 5000}, h.rock); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("err=%v want ErrNotLoaded", err)
	}
	if err := h.w.SetBlock(voxel.Pos{}, voxel.Block{ID: 999}); !errors.Is(err, ErrUnknownBlock) {
		t.Fatalf("err=%v want ErrUnknownBlock", err)
	}
	soil := voxel.Block{ID: h.reg.MustBlock("soil"), Data: 0x20000}
	if err := h.w.SetBlock(voxel.Pos{}, soil); !errors.Is(err, ErrInvalidBlock) {
		t.Fatalf("err=%v want ErrInvalidBlock", err)
	}
	if _, ok := h.w.GetBlock(voxel.Pos{}); ok {
		t.Fatalf("rejected edit reached the chunk")
	}
}

func TestUnloadDespawnsAndRemeshesNeighbors(t *testing.T) {
	h := newHarness(t, newMemStore())
	h.settle(t)
	old := append([]voxel.ChunkCoord(nil), h.w.window...)

	h.w.SetCenter(mgl32.Vec3{32 * 10, 0, 0})
	mark := len(h.rend.events)
	h.settle(t)

	despawned := map[voxel.ChunkCoord]bool{}
	for _, ev := range h.rend.events[mark:] {
		if ev.kind == "despawn" {
			despawned[ev.c] = true
		}
	}
	for _, c := range old {
		if !despawned[c] {
			t.Fatalf("chunk %v not despawned", c)
		}
		if _, _, ok := h.w.Status(c); ok {
			t.Fatalf("chunk %v still loaded", c)
		}
	}
	if got := h.w.Metrics().LoadedChunks; got != 15 {
		t.Fatalf("loaded=%d", got)
	}

	// A partial move unloads one column; its loaded neighbors remesh.
	h.w.SetCenter(mgl32.Vec3{32 * 11, 0, 0})
	h.w.Tick(h.clock.now())
	for _, c := range []voxel.ChunkCoord{{X: 10, Y: 0, Z: 0}, {X: 11, Y: 0, Z: 0}} {
		if _, ms, ok := h.w.Status(c); ok && ms == MeshComplete {
			t.Fatalf("neighbor %v of unloaded chunk not queued", c)
		}
	}
}

func TestCorruptSaveFallsBackToGenerator(t *testing.T) {
	store := newMemStore()
	bad := voxel.ChunkCoord{X: 0, Y: -1, Z: 0}
	store.loadErr[bad] = &region.LoadError{Region: bad.Region(), Path: "region_0_-1_0.bin", Err: region.ErrCorrupt}
	h := newHarness(t, store)
	h.settle(t)

	if h.gen.callsFor(bad) != 1 {
		t.Fatalf("corrupt chunk not regenerated")
	}
	if _, ok := h.w.GetBlock(voxel.Pos{X: 3, Y: -1, Z: 3}); !ok {
		t.Fatalf("regenerated floor missing")
	}
}

func TestLoadsSavedChunksInsteadOfGenerating(t *testing.T) {
	store := newMemStore()
	saved := chunk.New()
	reg, _ := registry.Default()
	glass := voxel.Block{ID: reg.MustBlock("glass")}
	saved.Set(voxel.Pos{X: 1, Y: 2, Z: 3}, glass)
	store.saved[voxel.ChunkCoord{}] = saved

	h := newHarness(t, store)
	h.settle(t)
	if h.gen.callsFor(voxel.ChunkCoord{}) != 0 {
		t.Fatalf("saved chunk was regenerated")
	}
	if b, ok := h.w.GetBlock(voxel.Pos{X: 1, Y: 2, Z: 3}); !ok || b != glass {
		t.Fatalf("GetBlock=%v,%v", b, ok)
	}
}

func TestSaveFailureRetriesWithoutLosingEdits(t *testing.T) {
	store := newMemStore()
	store.failures = 1
	h := newHarness(t, store)
	h.w.saveLimiter = rate.NewLimiter(0, 0)
	h.settle(t)

	// Allow exactly one save, then hold the limiter so the retry waits.
	h.w.saveLimiter = rate.NewLimiter(rate.Every(time.Second), 1)
	h.w.Tick(h.clock.now())
	h.w.saveLimiter = rate.NewLimiter(0, 0)
	h.until(t, "failed save", func() bool { return h.w.Metrics().SaveFailures == 1 })
	m := h.w.Metrics()
	if m.LastSaveError == "" {
		t.Fatalf("save error not reported")
	}
	if m.DirtyChunks != len(h.w.window) {
		t.Fatalf("dirty=%d after failed save, want %d", m.DirtyChunks, len(h.w.window))
	}

	if err := h.w.SetBlock(voxel.Pos{X: 2, Y: 2, Z: 2}, h.rock); err != nil {
		t.Fatal(err)
	}
	h.w.saveLimiter = rate.NewLimiter(rate.Every(time.Second), 1)
	h.until(t, "retried save", func() bool {
		m := h.w.Metrics()
		return m.SavesCompleted > 0 && m.DirtyChunks == 0 && !m.SaveInFlight
	})
	if h.w.Metrics().LastSaveError != "" {
		t.Fatalf("save error kept after a successful retry")
	}
	d := store.get(voxel.ChunkCoord{})
	if d == nil {
		t.Fatalf("origin chunk never saved")
	}
	if b, ok := d.Get(voxel.Pos{X: 2, Y: 2, Z: 2}); !ok || b != h.rock {
		t.Fatalf("saved chunk lost the edit")
	}
	for _, c := range h.w.window {
		if store.get(c) == nil {
			t.Fatalf("chunk %v dropped after failed save", c)
		}
	}
}

func TestEditsSurviveUnloadBeforeSave(t *testing.T) {
	store := newMemStore()
	h := newHarness(t, store)
	h.settle(t)
	h.until(t, "first save", func() bool { return h.w.Metrics().SavesCompleted >= 1 && !h.w.Metrics().SaveInFlight })

	h.w.saveLimiter = rate.NewLimiter(0, 0)
	first, second := voxel.Pos{X: 5, Y: 5, Z: 5}, voxel.Pos{X: 6, Y: 5, Z: 5}
	if err := h.w.SetBlock(first, h.rock); err != nil {
		t.Fatal(err)
	}
	h.w.SetCenter(mgl32.Vec3{32 * 10, 0, 0})
	h.tick()
	if _, _, ok := h.w.Status(voxel.ChunkCoord{}); ok {
		t.Fatalf("origin still loaded")
	}
	h.w.SetCenter(mgl32.Vec3{})
	h.settle(t)

	if b, ok := h.w.GetBlock(first); !ok || b != h.rock {
		t.Fatalf("reloaded chunk lost the unsaved edit")
	}
	if err := h.w.SetBlock(second, h.rock); err != nil {
		t.Fatal(err)
	}
	for _, p := range []voxel.Pos{first, second} {
		if _, ok := h.w.dirty[voxel.ChunkCoord{}].Get(p); !ok {
			t.Fatalf("dirty chunk missing edit at %v", p)
		}
	}

	h.w.saveLimiter = rate.NewLimiter(rate.Every(time.Second), 1)
	h.until(t, "save", func() bool { return h.w.Metrics().DirtyChunks == 0 && !h.w.Metrics().SaveInFlight })
	d := store.get(voxel.ChunkCoord{})
	for _, p := range []voxel.Pos{first, second} {
		if _, ok := d.Get(p); !ok {
			t.Fatalf("saved chunk missing edit at %v", p)
		}
	}
}

func TestReloadUsesBatchOfSaveInFlight(t *testing.T) {
	h := newHarness(t, newMemStore())
	pending := chunk.New()
	pending.Set(voxel.Pos{X: 1, Y: 1, Z: 1}, h.rock)
	h.w.saving = map[voxel.ChunkCoord]*chunk.Data{{}: pending}

	h.w.Tick(h.clock.now())
	if b, ok := h.w.GetBlock(voxel.Pos{X: 1, Y: 1, Z: 1}); !ok || b != h.rock {
		t.Fatalf("chunk not installed from the save in flight: %v,%v", b, ok)
	}
	if h.gen.callsFor(voxel.ChunkCoord{}) != 0 {
		t.Fatalf("chunk with a pending save was regenerated")
	}
	if _, ok := h.w.dirty[voxel.ChunkCoord{}]; ok {
		t.Fatalf("chunk from the save in flight marked dirty again")
	}
}

func TestUnloadDropsLightTask(t *testing.T) {
	h := newHarness(t, newMemStore())
	h.settle(t)
	origin := voxel.ChunkCoord{}
	old := newTask[*chunk.Light](0)
	h.w.lightTasks[origin] = old

	h.w.SetCenter(mgl32.Vec3{32 * 10, 0, 0})
	h.tick()
	if _, ok := h.w.lightTasks[origin]; ok {
		t.Fatalf("light task of unloaded chunk still tracked")
	}

	stale := chunk.NewLight()
	old.done <- stale
	h.w.SetCenter(mgl32.Vec3{})
	h.settle(t)
	if h.w.chunks[origin].light == stale {
		t.Fatalf("reloaded chunk took light computed before the unload")
	}
}

func TestRequeuePrefersNewerData(t *testing.T) {
	h := newHarness(t, newMemStore())
	c := voxel.ChunkCoord{X: 4}
	older, newer := chunk.New(), chunk.New()
	h.w.dirty[c] = newer
	h.w.requeue(map[voxel.ChunkCoord]*chunk.Data{c: older, {X: 5}: older})
	if h.w.dirty[c] != newer {
		t.Fatalf("requeue replaced newer dirty data")
	}
	if h.w.dirty[voxel.ChunkCoord{X: 5}] != older {
		t.Fatalf("failed batch entry not requeued")
	}
}

func TestSavesAreThrottled(t *testing.T) {
	h := newHarness(t, newMemStore())
	h.settle(t)
	h.until(t, "first save", func() bool { return h.w.Metrics().SavesCompleted >= 1 && !h.w.Metrics().SaveInFlight })
	before := h.w.Metrics().SavesCompleted

	now := h.clock.now()
	h.w.saveLimiter.AllowN(now, 1)
	if err := h.w.SetBlock(voxel.Pos{X: 1}, h.rock); err != nil {
		t.Fatal(err)
	}
	h.w.Tick(now)
	h.w.Tick(now.Add(500 * time.Millisecond))
	if h.w.saveTask != nil {
		t.Fatalf("save started before the interval elapsed")
	}
	h.until(t, "throttled save", func() bool { return h.w.Metrics().SavesCompleted > before })
}

func TestCloseFlushesDirtyChunks(t *testing.T) {
	store := newMemStore()
	h := newHarness(t, store)
	h.settle(t)
	if err := h.w.SetBlock(voxel.Pos{X: 7, Y: 7, Z: 7}, h.rock); err != nil {
		t.Fatal(err)
	}
	if err := h.w.Close(); err != nil {
		t.Fatal(err)
	}
	d := store.get(voxel.ChunkCoord{})
	if d == nil {
		t.Fatalf("chunk not flushed")
	}
	if _, ok := d.Get(voxel.Pos{X: 7, Y: 7, Z: 7}); !ok {
		t.Fatalf("flushed chunk lost the edit")
	}
	if err := h.w.RequestEdit(context.Background(), voxel.Pos{}, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v want ErrClosed", err)
	}
}

func TestRunServesRequests(t *testing.T) {
	h := newHarness(t, newMemStore())
	h.w.cfg.TickRateHz = 200
	h.w.now = time.Now

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.w.Run(ctx) }()

	h.w.RequestCenter(mgl32.Vec3{64, 0, 0})
	deadline := time.Now().Add(10 * time.Second)
	for h.w.Metrics().Center != [3]int{2, 0, 0} {
		if time.Now().After(deadline) {
			t.Fatalf("center not applied: %+v", h.w.Metrics())
		}
		time.Sleep(5 * time.Millisecond)
	}
	err := h.w.RequestEdit(ctx, voxel.Pos{X: 100000}, &h.rock)
	if !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("err=%v want ErrNotLoaded", err)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run err=%v", err)
	}
}
