package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"voxelstream.ai/internal/protocol"
	"voxelstream.ai/internal/sim/voxel"
	"voxelstream.ai/internal/sim/world"
)

const (
	defaultQueue = 256
	maxQueue     = 4096
	editTimeout  = 5 * time.Second
)

func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctl := h.controller()
		if ctl == nil {
			closeWith(conn, websocket.CloseTryAgainLater, "world not ready")
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c, backlog := h.handshake(ctx, cancel, conn, ctl)
		if c == nil {
			return
		}
		defer h.unregister(c.id)
		h.logf("session open id=%s name=%s backlog=%d", c.id, c.name, len(backlog))

		// Writer goroutine. The backlog goes out before anything queued after
		// registration.
		go func() {
			defer c.kick()
			for _, b := range backlog {
				if err := writeFrame(conn, b); err != nil {
					return
				}
			}
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-c.out:
					if err := writeFrame(conn, b); err != nil {
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			h.handle(ctx, c, ctl, msg)
		}
		c.kick()
		h.logf("session closed id=%s", c.id)
	}
}

func (h *Hub) handshake(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, ctl Controller) (*client, [][]byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return nil, nil
	}
	if base.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return nil, nil
	}
	if err := protocol.Validate(msg); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "bad HELLO")
		return nil, nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil, nil
	}
	name := strings.TrimSpace(hello.ClientName)
	if name == "" {
		name = "viewer"
	}
	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = defaultQueue
	}
	if maxQ > maxQueue {
		maxQ = maxQueue
	}

	m := ctl.Metrics()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       uuid.NewString(),
		World: protocol.WorldParams{
			ChunkSize:       voxel.ChunkSize,
			RegionSize:      voxel.RegionSize,
			StreamingRadius: h.tune.StreamingRadius,
			TickRateHz:      h.tune.TickRateHz,
			Seed:            h.tune.Seed,
			Center:          m.Center,
		},
		Textures: h.welcomeTextures,
		Models:   h.welcomeModels,
	}
	b, err := json.Marshal(welcome)
	if err != nil {
		return nil, nil
	}
	if err := writeFrame(conn, b); err != nil {
		return nil, nil
	}

	c := &client{
		id:      welcome.SessionID,
		name:    name,
		conn:    conn,
		out:     make(chan []byte, maxQ),
		limiter: rate.NewLimiter(rate.Limit(h.opts.EditsPerSecond), h.opts.EditBurst),
		cancel:  cancel,
	}
	return c, h.register(c)
}

func (h *Hub) handle(ctx context.Context, c *client, ctl Controller, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		h.ack(c, "", protocol.ErrProtoBadRequest, "malformed json")
		return
	}
	if base.ProtocolVersion != protocol.Version {
		h.ack(c, "", protocol.ErrProtoVersion, "bad protocol_version")
		return
	}
	if err := protocol.Validate(msg); err != nil {
		h.ack(c, "", protocol.ErrProtoBadRequest, err.Error())
		return
	}

	switch base.Type {
	case protocol.TypeCenter:
		var cm protocol.CenterMsg
		if err := json.Unmarshal(msg, &cm); err != nil {
			return
		}
		ctl.RequestCenter(mgl32.Vec3(cm.Position))

	case protocol.TypeSetBlock:
		var sb protocol.SetBlockMsg
		if err := json.Unmarshal(msg, &sb); err != nil {
			h.ack(c, "", protocol.ErrProtoBadRequest, err.Error())
			return
		}
		if !c.limiter.Allow() {
			h.ack(c, sb.ID, protocol.ErrRateLimit, "too many edits")
			return
		}
		p := voxel.Pos{X: sb.Pos[0], Y: sb.Pos[1], Z: sb.Pos[2]}
		var blk *voxel.Block
		if !sb.Remove {
			blk = &voxel.Block{ID: voxel.BlockID(sb.Block), Data: voxel.PackedData(sb.Data)}
		}
		ectx, cancel := context.WithTimeout(ctx, editTimeout)
		err := ctl.RequestEdit(ectx, p, blk)
		cancel()
		if err != nil {
			h.ack(c, sb.ID, editCode(err), err.Error())
			return
		}
		h.ack(c, sb.ID, "", "")

	default:
		h.ack(c, "", protocol.ErrBadRequest, "unexpected "+base.Type)
	}
}

func editCode(err error) string {
	switch {
	case errors.Is(err, world.ErrNotLoaded):
		return protocol.ErrNotLoaded
	case errors.Is(err, world.ErrUnknownBlock):
		return protocol.ErrUnknownBlock
	case errors.Is(err, world.ErrInvalidBlock):
		return protocol.ErrInvalidBlock
	case errors.Is(err, world.ErrClosed):
		return protocol.ErrClosed
	default:
		return protocol.ErrInternal
	}
}

// ack shares the session queue with geometry, so a client that cannot keep
// up loses acks the same way it loses meshes.
func (h *Hub) ack(c *client, ref, code, message string) {
	b, err := json.Marshal(protocol.AckMsg{
		Type:    protocol.TypeAck,
		Ref:     ref,
		OK:      code == "",
		Code:    code,
		Message: message,
	})
	if err != nil {
		h.logf("encode ack session=%s ref=%s err=%v", c.id, ref, err)
		return
	}
	if !c.send(b) {
		h.dropped.Add(1)
	}
}

func writeFrame(conn *websocket.Conn, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}
