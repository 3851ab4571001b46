package protocol

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name,omitempty"`
	// MaxQueue bounds the number of undelivered messages held for this client.
	MaxQueue int `json:"max_queue,omitempty"`
}

type WelcomeMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	SessionID       string       `json:"session_id"`
	World           WorldParams  `json:"world"`
	Textures        []TextureRef `json:"textures"`
	Models          ModelBuffer  `json:"models"`
}

type WorldParams struct {
	ChunkSize       int    `json:"chunk_size"`
	RegionSize      int    `json:"region_size"`
	StreamingRadius int    `json:"streaming_radius"`
	TickRateHz      int    `json:"tick_rate_hz"`
	Seed            int64  `json:"seed"`
	Center          [3]int `json:"center"`
}

// TextureRef is one layer of the texture array, in texture-index order.
type TextureRef struct {
	Name            string `json:"name"`
	Image           string `json:"image"`
	Material        string `json:"material,omitempty"`
	Overlay         string `json:"overlay,omitempty"`
	OverlayMaterial string `json:"overlay_material,omitempty"`
}

// ModelBuffer carries the flattened model vertices (position, uv, normal) as
// little-endian float32s.
type ModelBuffer struct {
	FloatsPerVertex int    `json:"floats_per_vertex"`
	Vertices        int    `json:"vertices"`
	Data            string `json:"data"`
}

// MeshMsg replaces the geometry of one chunk. Vertices holds three
// little-endian uint32 per vertex (data, texture, light).
type MeshMsg struct {
	Type        string `json:"type"`
	Chunk       [3]int `json:"chunk"`
	VertexCount int    `json:"vertex_count"`
	IndexCount  int    `json:"index_count"`
	Vertices    string `json:"vertices"`
	Indices     string `json:"indices"`
}

// HideMsg removes the geometry of a chunk that is still loaded.
type HideMsg struct {
	Type  string `json:"type"`
	Chunk [3]int `json:"chunk"`
}

// DespawnMsg drops a chunk that left the streaming window.
type DespawnMsg struct {
	Type  string `json:"type"`
	Chunk [3]int `json:"chunk"`
}

type CenterMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Position        [3]float32 `json:"position"`
}

// SetBlockMsg places a block, or clears the cell when Remove is set.
type SetBlockMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
	Pos             [3]int `json:"pos"`
	Block           uint16 `json:"block,omitempty"`
	Data            uint64 `json:"data,omitempty"`
	Remove          bool   `json:"remove,omitempty"`
}

// AckMsg answers a SET_BLOCK. Code is empty on success.
type AckMsg struct {
	Type    string `json:"type"`
	Ref     string `json:"ref,omitempty"`
	OK      bool   `json:"ok"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func EncodeUint32s(v []uint32) string {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], x)
	}
	return base64.StdEncoding.EncodeToString(b)
}

func DecodeUint32s(s string) ([]uint32, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("buffer length %d is not a multiple of 4", len(b))
	}
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return out, nil
}

func EncodeFloat32s(v []float32) string {
	u := make([]uint32, len(v))
	for i, f := range v {
		u[i] = math.Float32bits(f)
	}
	return EncodeUint32s(u)
}

func DecodeFloat32s(s string) ([]float32, error) {
	u, err := DecodeUint32s(s)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(u))
	for i, x := range u {
		out[i] = math.Float32frombits(x)
	}
	return out, nil
}
