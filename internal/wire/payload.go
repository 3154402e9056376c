package wire

import (
	"github.com/cartrita/mcp/internal/mcperr"
	"github.com/vmihailenco/msgpack/v5"
)

// EncodePayload marshals v (typically a TaskRequest or TaskResponse) to
// MessagePack bytes, for callers that need to cache or persist a payload
// independently of a full framed Message.
func EncodePayload(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.Internal, "marshal payload", err)
	}
	return b, nil
}

// DecodePayload decodes payload into out. payload is typically a
// map[string]any (the shape msgpack.Unmarshal produces for Message.Payload
// when the concrete type isn't known ahead of time) or raw MessagePack bytes
// previously produced by EncodePayload; either is re-encoded/decoded through
// msgpack to land in out's concrete type.
func DecodePayload(payload any, out any) error {
	var raw []byte
	switch v := payload.(type) {
	case []byte:
		raw = v
	default:
		b, err := msgpack.Marshal(payload)
		if err != nil {
			return mcperr.Wrap(mcperr.ProtocolViolation, "re-encode payload", err)
		}
		raw = b
	}
	if err := msgpack.Unmarshal(raw, out); err != nil {
		return mcperr.Wrap(mcperr.ProtocolViolation, "decode payload", err)
	}
	return nil
}
