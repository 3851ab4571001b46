package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Edit layer.
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrNotLoaded    = "E_NOT_LOADED"
	ErrUnknownBlock = "E_UNKNOWN_BLOCK"
	ErrInvalidBlock = "E_INVALID_BLOCK"
	ErrRateLimit    = "E_RATE_LIMIT"
	ErrClosed       = "E_CLOSED"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrBadRequest:      {},
	ErrNotLoaded:       {},
	ErrUnknownBlock:    {},
	ErrInvalidBlock:    {},
	ErrRateLimit:       {},
	ErrClosed:          {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
