package feed

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"voxelstream.ai/internal/protocol"
	"voxelstream.ai/internal/sim/mesh"
	"voxelstream.ai/internal/sim/registry"
	"voxelstream.ai/internal/sim/tuning"
	"voxelstream.ai/internal/sim/voxel"
	"voxelstream.ai/internal/sim/world"
)

// Controller is the part of the world the feed drives.
type Controller interface {
	RequestCenter(pos mgl32.Vec3)
	RequestEdit(ctx context.Context, p voxel.Pos, b *voxel.Block) error
	Metrics() world.Metrics
}

type Options struct {
	// EditsPerSecond and EditBurst bound SET_BLOCK per session.
	EditsPerSecond float64
	EditBurst      int
}

func (o *Options) applyDefaults() {
	if o.EditsPerSecond <= 0 {
		o.EditsPerSecond = 20
	}
	if o.EditBurst <= 0 {
		o.EditBurst = 40
	}
}

// Hub is the world's Renderer: it keeps the current MESH frame of every
// shown chunk and fans geometry changes out to connected sessions.
type Hub struct {
	tune tuning.Tuning
	opts Options
	log  *log.Logger

	welcomeTextures []protocol.TextureRef
	welcomeModels   protocol.ModelBuffer

	ctl atomic.Value // Controller

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	meshes  map[voxel.ChunkCoord][]byte

	dropped atomic.Uint64
	kicked  atomic.Uint64
}

type Stats struct {
	Clients      int    `json:"clients"`
	ShownChunks  int    `json:"shown_chunks"`
	DroppedTotal uint64 `json:"dropped_total"`
	KickedTotal  uint64 `json:"kicked_total"`
}

type client struct {
	id      string
	name    string
	conn    *websocket.Conn
	out     chan []byte
	limiter *rate.Limiter
	cancel  context.CancelFunc
	once    sync.Once
}

func (c *client) kick() {
	c.once.Do(func() {
		c.cancel()
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *client) send(b []byte) bool {
	select {
	case c.out <- b:
		return true
	default:
		return false
	}
}

func NewHub(reg *registry.Registry, tune tuning.Tuning, opts Options, logger *log.Logger) *Hub {
	opts.applyDefaults()
	h := &Hub{
		tune:    tune,
		opts:    opts,
		log:     logger,
		clients: make(map[string]*client),
		meshes:  make(map[voxel.ChunkCoord][]byte),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 256 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	for _, l := range reg.TextureLayers() {
		h.welcomeTextures = append(h.welcomeTextures, protocol.TextureRef{
			Name:            l.Name,
			Image:           l.Image,
			Material:        l.Material,
			Overlay:         l.Overlay,
			OverlayMaterial: l.OverlayMaterial,
		})
	}
	floats := reg.Models().Flatten()
	h.welcomeModels = protocol.ModelBuffer{
		FloatsPerVertex: floatsPerModelVertex,
		Vertices:        len(floats) / floatsPerModelVertex,
		Data:            protocol.EncodeFloat32s(floats),
	}
	return h
}

// position, uv, normal
const floatsPerModelVertex = 3 + 2 + 3

// Bind attaches the world. The hub is built first because the world takes
// it as its renderer.
func (h *Hub) Bind(c Controller) { h.ctl.Store(c) }

func (h *Hub) controller() Controller {
	c, _ := h.ctl.Load().(Controller)
	return c
}

func (h *Hub) Apply(c voxel.ChunkCoord, m *mesh.Mesh) {
	if m == nil {
		h.Hide(c)
		return
	}
	b, err := json.Marshal(encodeMesh(c, m))
	if err != nil {
		h.logf("encode mesh chunk=%v err=%v", c, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.meshes[c] = b
	h.broadcastLocked(b)
}

func (h *Hub) Hide(c voxel.ChunkCoord) {
	h.drop(c, protocol.TypeHide)
}

func (h *Hub) Despawn(c voxel.ChunkCoord) {
	h.drop(c, protocol.TypeDespawn)
}

func (h *Hub) drop(c voxel.ChunkCoord, typ string) {
	var msg any = protocol.DespawnMsg{Type: typ, Chunk: chunkRef(c)}
	if typ == protocol.TypeHide {
		msg = protocol.HideMsg{Type: typ, Chunk: chunkRef(c)}
	}
	b, err := json.Marshal(msg)
	h.mu.Lock()
	defer h.mu.Unlock()
	// The cached mesh goes either way so new sessions never replay it.
	delete(h.meshes, c)
	if err != nil {
		h.logf("encode %s chunk=%v err=%v", typ, c, err)
		return
	}
	h.broadcastLocked(b)
}

// broadcastLocked never blocks the world goroutine. A session whose queue is
// full has missed geometry and is disconnected; it resyncs on reconnect.
func (h *Hub) broadcastLocked(b []byte) {
	for id, c := range h.clients {
		if c.send(b) {
			continue
		}
		h.dropped.Add(1)
		h.kicked.Add(1)
		delete(h.clients, id)
		h.logf("slow client kicked session=%s queue=%d", id, cap(c.out))
		go c.kick()
	}
}

// register adds the session and returns the frames it needs to catch up,
// taken under the same lock as broadcasts so nothing is missed or repeated.
func (h *Hub) register(c *client) [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	coords := make([]voxel.ChunkCoord, 0, len(h.meshes))
	for k := range h.meshes {
		coords = append(coords, k)
	}
	sortCoords(coords)
	frames := make([][]byte, 0, len(coords))
	for _, k := range coords {
		frames = append(frames, h.meshes[k])
	}
	return frames
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		Clients:      len(h.clients),
		ShownChunks:  len(h.meshes),
		DroppedTotal: h.dropped.Load(),
		KickedTotal:  h.kicked.Load(),
	}
}

// Close disconnects every session.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()
	for _, c := range clients {
		c.kick()
	}
}

func (h *Hub) logf(format string, args ...any) {
	if h.log != nil {
		h.log.Printf(format, args...)
	}
}
