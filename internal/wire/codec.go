package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cartrita/mcp/internal/mcperr"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultMaxFrameBytes is the default frame size cap (spec §4.1): 16 MiB.
const DefaultMaxFrameBytes uint32 = 16 << 20

// lengthPrefixBytes is the size of the big-endian frame length prefix (spec §4.1).
const lengthPrefixBytes = 4

// Encode marshals m to MessagePack and prepends the 4-byte big-endian length
// prefix, producing a complete frame ready to write to a stream transport.
func Encode(m *Message) ([]byte, error) {
	body, err := msgpack.Marshal(m)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.Internal, "marshal message", err)
	}
	frame := make([]byte, lengthPrefixBytes+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[lengthPrefixBytes:], body)
	return frame, nil
}

// WriteFrame encodes m and writes it to w in one call.
func WriteFrame(w io.Writer, m *Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	if err != nil {
		return mcperr.Wrap(mcperr.Internal, "write frame", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed MessagePack frame from r, decodes it,
// and validates the result against spec §3's schema.
//
// Frames whose declared length exceeds maxFrameBytes fail with FRAME_TOO_LARGE
// without reading the body (the caller must close the connection on this
// error, per spec §4.1). Frames that fail schema validation fail with
// PROTOCOL_VIOLATION (connection must also be closed). Unknown fields in the
// MessagePack body are ignored by the decoder to allow rolling upgrades;
// unknown enum values fail validation.
func ReadFrame(r io.Reader, maxFrameBytes uint32) (*Message, error) {
	if maxFrameBytes == 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	var lenBuf [lengthPrefixBytes]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, mcperr.Wrap(mcperr.Internal, "read frame length", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > maxFrameBytes {
		return nil, mcperr.New(mcperr.FrameTooLarge, fmt.Sprintf("frame of %d bytes exceeds max %d", length, maxFrameBytes))
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, mcperr.Wrap(mcperr.Internal, "read frame body", err)
	}
	var m Message
	if err := msgpack.Unmarshal(body, &m); err != nil {
		return nil, mcperr.Wrap(mcperr.ProtocolViolation, "decode message", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Decode decodes a single frame already split from its length prefix (the
// body bytes only). Exposed for transports (e.g. in-process) that move
// already-framed payloads without a byte stream in between.
func Decode(body []byte) (*Message, error) {
	var m Message
	if err := msgpack.Unmarshal(body, &m); err != nil {
		return nil, mcperr.Wrap(mcperr.ProtocolViolation, "decode message", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
