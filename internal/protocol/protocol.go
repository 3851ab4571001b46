package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	// client -> server
	TypeHello    = "HELLO"
	TypeCenter   = "CENTER"
	TypeSetBlock = "SET_BLOCK"

	// server -> client
	TypeWelcome = "WELCOME"
	TypeMesh    = "MESH"
	TypeHide    = "HIDE"
	TypeDespawn = "DESPAWN"
	TypeAck     = "ACK"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
