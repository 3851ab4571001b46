package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrProtoVersion,
		ErrBadRequest,
		ErrNotLoaded,
		ErrUnknownBlock,
		ErrInvalidBlock,
		ErrRateLimit,
		ErrClosed,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_WORLD_BUSY") {
		t.Fatalf("expected unknown code rejected")
	}
}
