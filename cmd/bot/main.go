package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"

	"voxelstream.ai/internal/protocol"
	"voxelstream.ai/internal/transport/feed"
)

// bot walks the streaming center across the world and tallies the geometry
// the feed sends back. It is a load and smoke test for the server.
func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/v1/feed", "feed url")
		name  = flag.String("name", "bot", "client name")
		speed = flag.Float64("speed", 8, "walk speed in blocks per second")
		edits = flag.Int("edit_every", 0, "place a block every N steps (0 disables)")
		block = flag.Int("block", 5, "block id to place")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		MaxQueue:        1024,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	frames := make(chan []byte, 256)
	go func() {
		defer close(frames)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- msg
		}
	}()

	var (
		st      stats
		pos     mgl32.Vec3
		heading = mgl32.Vec3{1, 0, 0}
		step    int
		r       = rand.New(rand.NewSource(time.Now().UnixNano()))
	)
	walk := time.NewTicker(250 * time.Millisecond)
	defer walk.Stop()
	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	for {
		select {
		case <-stop:
			logger.Printf("stopping %s", st)
			return

		case msg, ok := <-frames:
			if !ok {
				logger.Printf("connection closed %s", st)
				return
			}
			if w, ok := st.observe(logger, msg); ok {
				pos = mgl32.Vec3{
					float32(w.World.Center[0]*w.World.ChunkSize + w.World.ChunkSize/2),
					float32(w.World.Center[1]*w.World.ChunkSize + w.World.ChunkSize/2),
					float32(w.World.Center[2]*w.World.ChunkSize + w.World.ChunkSize/2),
				}
			}

		case <-walk.C:
			step++
			if step%40 == 0 {
				// Turn somewhere new every ten seconds.
				a := r.Float64() * 2 * math.Pi
				heading = mgl32.Vec3{float32(math.Cos(a)), 0, float32(math.Sin(a))}
			}
			pos = pos.Add(heading.Mul(float32(*speed) / 4))
			_ = conn.WriteJSON(protocol.CenterMsg{Type: protocol.TypeCenter, ProtocolVersion: protocol.Version, Position: pos})

			if *edits > 0 && step%*edits == 0 {
				p := [3]int{int(pos[0]), int(pos[1]), int(pos[2])}
				_ = conn.WriteJSON(protocol.SetBlockMsg{
					Type:            protocol.TypeSetBlock,
					ProtocolVersion: protocol.Version,
					ID:              fmt.Sprintf("E_%d", step),
					Pos:             p,
					Block:           uint16(*block),
				})
			}

		case <-report.C:
			logger.Printf("pos=%.0f %s", pos, st)
		}
	}
}

type stats struct {
	meshes   int
	vertices int
	hides    int
	despawns int
	acks     int
	rejected int
}

func (s stats) String() string {
	return fmt.Sprintf("meshes=%d vertices=%d hides=%d despawns=%d acks=%d rejected=%d",
		s.meshes, s.vertices, s.hides, s.despawns, s.acks, s.rejected)
}

func (s *stats) observe(logger *log.Logger, msg []byte) (protocol.WelcomeMsg, bool) {
	var w protocol.WelcomeMsg
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return w, false
	}
	switch base.Type {
	case protocol.TypeWelcome:
		if err := json.Unmarshal(msg, &w); err != nil {
			return w, false
		}
		logger.Printf("WELCOME session=%s radius=%d textures=%d model_vertices=%d center=%v",
			w.SessionID, w.World.StreamingRadius, len(w.Textures), w.Models.Vertices, w.World.Center)
		return w, true

	case protocol.TypeMesh:
		var m protocol.MeshMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return w, false
		}
		if _, err := feed.DecodeMesh(m); err != nil {
			logger.Printf("bad MESH chunk=%v err=%v", m.Chunk, err)
			return w, false
		}
		s.meshes++
		s.vertices += m.VertexCount

	case protocol.TypeHide:
		s.hides++
	case protocol.TypeDespawn:
		s.despawns++

	case protocol.TypeAck:
		var a protocol.AckMsg
		if err := json.Unmarshal(msg, &a); err != nil {
			return w, false
		}
		if a.OK {
			s.acks++
		} else {
			s.rejected++
			logger.Printf("ACK ref=%s code=%s msg=%s", a.Ref, a.Code, a.Message)
		}
	}
	return w, false
}

