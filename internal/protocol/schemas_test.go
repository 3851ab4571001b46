package protocol

import (
	"encoding/json"
	"testing"
)

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestSchemasAcceptSamples(t *testing.T) {
	samples := []any{
		HelloMsg{Type: TypeHello, ProtocolVersion: Version, ClientName: "viewer", MaxQueue: 64},
		CenterMsg{Type: TypeCenter, ProtocolVersion: Version, Position: [3]float32{1.5, -40, 1e6}},
		SetBlockMsg{Type: TypeSetBlock, ProtocolVersion: Version, ID: "e1", Pos: [3]int{-1, 2, 3}, Block: 3, Data: 7},
		SetBlockMsg{Type: TypeSetBlock, ProtocolVersion: Version, Pos: [3]int{0, 0, 0}, Remove: true},
		WelcomeMsg{
			Type:            TypeWelcome,
			ProtocolVersion: Version,
			SessionID:       "6f1c2d1e-8a7b-4c1d-9e2f-0a1b2c3d4e5f",
			World:           WorldParams{ChunkSize: 32, RegionSize: 16, StreamingRadius: 8, TickRateHz: 20, Seed: 1},
			Textures:        []TextureRef{{Name: "rock/shale", Image: "rock", Material: "shale"}},
			Models:          ModelBuffer{FloatsPerVertex: 8, Vertices: 1, Data: EncodeFloat32s(make([]float32, 8))},
		},
		MeshMsg{Type: TypeMesh, Chunk: [3]int{1, -1, 0}, VertexCount: 4, IndexCount: 6, Vertices: "AAAA", Indices: "AAAA"},
		HideMsg{Type: TypeHide, Chunk: [3]int{0, 0, 0}},
		DespawnMsg{Type: TypeDespawn, Chunk: [3]int{0, 0, 0}},
		AckMsg{Type: TypeAck, Ref: "e1", OK: false, Code: ErrNotLoaded, Message: "chunk not loaded"},
	}
	for _, s := range samples {
		raw := mustJSON(t, s)
		if err := Validate(raw); err != nil {
			t.Fatalf("sample %s rejected: %v", raw, err)
		}
	}
}

func TestSchemasRejectMalformed(t *testing.T) {
	bad := []string{
		`{"type":"HELLO"}`,
		`{"type":"CENTER","protocol_version":"1.0","position":[1,2]}`,
		`{"type":"CENTER","protocol_version":"1.0","position":["a",2,3]}`,
		`{"type":"SET_BLOCK","protocol_version":"1.0","pos":[1,2,3]}`,
		`{"type":"SET_BLOCK","protocol_version":"1.0","pos":[1,2,3],"block":70000}`,
		`{"type":"SET_BLOCK","protocol_version":"1.0","pos":[1,2.5,3],"block":1}`,
		`{"type":"SET_BLOCK","protocol_version":"1.0","pos":[1,2,3],"block":1,"remove":true}`,
		`{"type":"MESH","chunk":[0,0,0],"vertex_count":0,"index_count":0,"vertices":"","indices":""}`,
		`{"type":"ACK","ok":false,"code":"nope"}`,
		`{"type":"OBS"}`,
		`not json`,
	}
	for _, raw := range bad {
		if err := Validate([]byte(raw)); err == nil {
			t.Fatalf("expected rejection: %s", raw)
		}
	}
}
