package world

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/time/rate"

	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/light"
	"voxelstream.ai/internal/sim/mesh"
	"voxelstream.ai/internal/sim/registry"
	"voxelstream.ai/internal/sim/tuning"
	"voxelstream.ai/internal/sim/voxel"
)

var (
	ErrNotLoaded    = errors.New("chunk not loaded")
	ErrUnknownBlock = errors.New("unknown block type")
	ErrInvalidBlock = errors.New("invalid block data")
	ErrClosed       = errors.New("world closed")
)

// Generator synthesizes a chunk that has never been saved. Implementations
// must be deterministic and safe for concurrent use.
type Generator interface {
	Generate(c voxel.ChunkCoord) *chunk.Data
}

// Store persists chunks. LoadChunk returns (nil, nil) for a chunk that was
// never saved.
type Store interface {
	LoadChunk(c voxel.ChunkCoord) (*chunk.Data, error)
	SaveChunks(chunks map[voxel.ChunkCoord]*chunk.Data) error
}

// Renderer receives finished geometry. All calls come from the goroutine
// running the world and must not block.
type Renderer interface {
	Apply(c voxel.ChunkCoord, m *mesh.Mesh)
	Hide(c voxel.ChunkCoord)
	Despawn(c voxel.ChunkCoord)
}

// Journal records block edits as they are applied. b is nil for a removal.
type Journal interface {
	RecordEdit(p voxel.Pos, b *voxel.Block)
}

type Config struct {
	Tuning    tuning.Tuning
	Registry  *registry.Registry
	Generator Generator
	Store     Store
	Renderer  Renderer
	Journal   Journal
	Logger    *log.Logger

	// Now defaults to time.Now; tests pin it to drive the save throttle.
	Now func() time.Time
}

type editRequest struct {
	pos   voxel.Pos
	block *voxel.Block
	reply chan error
}

// World owns the chunk table and schedules generation, lighting, meshing and
// saving around a streaming center. Tick, SetCenter, SetBlock, RemoveBlock
// and GetBlock must be called from a single goroutine; Run provides one and
// the Request* methods feed it from anywhere.
type World struct {
	cfg      tuning.Tuning
	reg      *registry.Registry
	gen      Generator
	store    Store
	renderer Renderer
	journal  Journal
	log      *log.Logger
	now      func() time.Time

	lighter *light.Propagator
	mesher  *mesh.Builder

	ctx    context.Context
	cancel context.CancelFunc
	pool   *pool

	chunks map[voxel.ChunkCoord]*record
	center voxel.ChunkCoord
	window []voxel.ChunkCoord

	genTasks   map[voxel.ChunkCoord]*task[genResult]
	lightTasks map[voxel.ChunkCoord]*task[*chunk.Light]
	meshTasks  map[voxel.ChunkCoord]*task[meshResult]

	// Urgent mesh results wait here until every urgent chunk has one.
	urgentBuf map[voxel.ChunkCoord]*mesh.Mesh

	dirty          map[voxel.ChunkCoord]*chunk.Data
	saveLimiter    *rate.Limiter
	saveTask       *task[saveResult]
	saving         map[voxel.ChunkCoord]*chunk.Data
	savesCompleted uint64
	saveFailures   uint64
	lastSaveErr    error

	ticks   uint64
	metrics atomic.Value

	centerReq  chan mgl32.Vec3
	editReq    chan editRequest
	closed     atomic.Bool
	runStopped chan struct{}
}

func New(cfg Config) (*World, error) {
	if cfg.Registry == nil {
		return nil, errors.New("world: registry is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("world: generator is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("world: store is required")
	}
	t := cfg.Tuning
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	if cfg.Renderer == nil {
		cfg.Renderer = nopRenderer{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	// Cancelled mesh tasks may still be draining, so the mesh share is doubled.
	queue := t.MaxGenerationTasks + t.MaxLightTasks + 2*t.MaxMeshTasks + 1
	w := &World{
		cfg:         t,
		reg:         cfg.Registry,
		gen:         cfg.Generator,
		store:       cfg.Store,
		renderer:    cfg.Renderer,
		journal:     cfg.Journal,
		log:         cfg.Logger,
		now:         cfg.Now,
		lighter:     light.New(cfg.Registry),
		mesher:      mesh.New(cfg.Registry),
		ctx:         ctx,
		cancel:      cancel,
		pool:        newPool(t.Workers, queue),
		chunks:      map[voxel.ChunkCoord]*record{},
		genTasks:    map[voxel.ChunkCoord]*task[genResult]{},
		lightTasks:  map[voxel.ChunkCoord]*task[*chunk.Light]{},
		meshTasks:   map[voxel.ChunkCoord]*task[meshResult]{},
		urgentBuf:   map[voxel.ChunkCoord]*mesh.Mesh{},
		dirty:       map[voxel.ChunkCoord]*chunk.Data{},
		saveLimiter: rate.NewLimiter(rate.Every(t.SaveInterval()), 1),
		centerReq:   make(chan mgl32.Vec3, 1),
		editReq:     make(chan editRequest, 64),
		runStopped:  make(chan struct{}),
	}
	w.window = streamWindow(w.center, t.StreamingRadius)
	w.publishMetrics()
	return w, nil
}

// SetCenter moves the streaming window to the chunk containing pos.
func (w *World) SetCenter(pos mgl32.Vec3) {
	c := ChunkAt(pos)
	if c == w.center {
		return
	}
	w.center = c
	w.window = streamWindow(c, w.cfg.StreamingRadius)
}

func (w *World) Center() voxel.ChunkCoord { return w.center }

func (w *World) visible(c voxel.ChunkCoord) bool {
	return inRadius(w.center, c, w.cfg.StreamingRadius)
}

// GetBlock reads a world position. It reports false for air and for chunks
// that are not loaded.
func (w *World) GetBlock(p voxel.Pos) (voxel.Block, bool) {
	c, local := voxel.Split(p)
	rec, ok := w.chunks[c]
	if !ok {
		return voxel.Block{}, false
	}
	return rec.data.Get(local)
}

// SetBlock places b at p. The owning chunk must be loaded.
func (w *World) SetBlock(p voxel.Pos, b voxel.Block) error {
	if _, ok := w.reg.Type(b.ID); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBlock, b.ID)
	}
	if !w.reg.ValidData(b) {
		return fmt.Errorf("%w: id=%d data=%#x", ErrInvalidBlock, b.ID, uint64(b.Data))
	}
	return w.edit(p, &b)
}

// RemoveBlock clears p to air. The owning chunk must be loaded.
func (w *World) RemoveBlock(p voxel.Pos) error {
	return w.edit(p, nil)
}

func (w *World) edit(p voxel.Pos, b *voxel.Block) error {
	c, local := voxel.Split(p)
	rec, ok := w.chunks[c]
	if !ok {
		return fmt.Errorf("%w: %v", ErrNotLoaded, c)
	}
	if b == nil {
		rec.data.Remove(local)
	} else {
		rec.data.Set(local, *b)
	}

	rec.invalidateLight()
	rec.invalidateMesh(MeshUrgent)
	for _, nc := range voxel.Neighbors26(c) {
		if nb, ok := w.chunks[nc]; ok {
			nb.invalidateLight()
			nb.invalidateMesh(MeshUrgent)
		}
	}
	w.dirty[c] = rec.data
	if w.journal != nil {
		w.journal.RecordEdit(p, b)
	}
	return nil
}

// Run ticks the world at the configured rate and serves the Request*
// methods until ctx is done. It does not flush; call Close afterwards.
func (w *World) Run(ctx context.Context) error {
	defer close(w.runStopped)
	ticker := time.NewTicker(w.cfg.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pos := <-w.centerReq:
			w.SetCenter(pos)
		case req := <-w.editReq:
			var err error
			if req.block == nil {
				err = w.RemoveBlock(req.pos)
			} else {
				err = w.SetBlock(req.pos, *req.block)
			}
			req.reply <- err
		case <-ticker.C:
			w.Tick(w.now())
		}
	}
}

// RequestCenter queues a streaming center update for Run. Only the latest
// position is kept.
func (w *World) RequestCenter(pos mgl32.Vec3) {
	for {
		select {
		case w.centerReq <- pos:
			return
		default:
		}
		select {
		case <-w.centerReq:
		default:
		}
	}
}

// RequestEdit applies an edit on the Run goroutine and waits for the
// outcome. b is nil to remove the block.
func (w *World) RequestEdit(ctx context.Context, p voxel.Pos, b *voxel.Block) error {
	if w.closed.Load() {
		return ErrClosed
	}
	req := editRequest{pos: p, block: b, reply: make(chan error, 1)}
	select {
	case w.editReq <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.runStopped:
		return ErrClosed
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-w.runStopped:
		return ErrClosed
	}
}

// Close waits for an in-flight save, writes every remaining dirty chunk and
// stops the workers. It must not run concurrently with Tick.
func (w *World) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	if w.saveTask != nil {
		w.finishSave(<-w.saveTask.done)
	}
	var err error
	if len(w.dirty) > 0 {
		batch := w.takeDirty()
		if err = w.store.SaveChunks(batch); err != nil {
			w.logf("world final save failed chunks=%d err=%v", len(batch), err)
		} else {
			w.logf("world final save chunks=%d", len(batch))
		}
	}
	w.cancel()
	w.pool.close()
	return err
}

func (w *World) logf(format string, args ...any) {
	if w.log != nil {
		w.log.Printf(format, args...)
	}
}

type nopRenderer struct{}

func (nopRenderer) Apply(voxel.ChunkCoord, *mesh.Mesh) {}
func (nopRenderer) Hide(voxel.ChunkCoord)              {}
func (nopRenderer) Despawn(voxel.ChunkCoord)           {}
