// Package h4 implements the UART framing used for Bluetooth HCI packets:
// one type byte, a type-specific preamble, then a payload whose
// length is derived from the preamble.
package h4

import (
	"bytes"
	"fmt"
	"io"

	"github.com/google/netsim-packet-core/internal/model"
)

// preambleLen is the number of preamble bytes that follow the type byte,
// indexed by model.PacketType.
var preambleLen = map[model.PacketType]int{
	model.PacketTypeCommand: 3,
	model.PacketTypeACLData: 4,
	model.PacketTypeSCOData: 3,
	model.PacketTypeEvent:   2,
	model.PacketTypeISO:     4,
}

// hciReset is the canonical HCI_Reset command, used by Recover to
// resynchronize after an unknown type byte.
var hciReset = []byte{byte(model.PacketTypeCommand), 0x03, 0x0c, 0x00}

// Frame is one parsed H4 packet: the type byte, its preamble and payload.
type Frame struct {
	Type     model.PacketType
	Preamble []byte
	Payload  []byte
}

// Bytes re-serializes the frame to its wire form: type byte + preamble +
// payload. Round-tripping Parse then Bytes reproduces the original bytes.
func (f Frame) Bytes() []byte {
	out := make([]byte, 0, 1+len(f.Preamble)+len(f.Payload))
	out = append(out, byte(f.Type))
	out = append(out, f.Preamble...)
	out = append(out, f.Payload...)
	return out
}

// payloadLen computes the payload length from a type and its preamble,
// per each type's own derivation rule.
func payloadLen(t model.PacketType, preamble []byte) (int, error) {
	switch t {
	case model.PacketTypeCommand:
		return int(preamble[2]), nil
	case model.PacketTypeACLData:
		return int(preamble[2]) | int(preamble[3])<<8, nil
	case model.PacketTypeSCOData:
		return int(preamble[2]), nil
	case model.PacketTypeEvent:
		return int(preamble[1]), nil
	case model.PacketTypeISO:
		return int(preamble[3]&0x0f)<<8 | int(preamble[2]), nil
	default:
		return 0, fmt.Errorf("h4: unknown packet type %d", t)
	}
}

// Parse parses exactly one H4 frame from the front of buf. It returns the
// parsed Frame and the number of bytes consumed. It returns a plain error
// (one that wraps no sentinel) when buf is empty, when the type byte is
// unrecognized, or when buf does not yet hold the whole frame; callers
// should treat a short buffer as "need more data", not as a framing
// violation, unless the type byte itself is unrecognized.
func Parse(buf []byte) (Frame, int, error) {
	if len(buf) < 1 {
		return Frame{}, 0, fmt.Errorf("h4: empty buffer")
	}
	t := model.PacketType(buf[0])
	pLen, ok := preambleLen[t]
	if !ok {
		return Frame{}, 0, fmt.Errorf("h4: unrecognized type byte 0x%02x", buf[0])
	}
	if len(buf) < 1+pLen {
		return Frame{}, 0, fmt.Errorf("h4: need %d preamble bytes, have %d", pLen, len(buf)-1)
	}
	preamble := append([]byte(nil), buf[1:1+pLen]...)

	payloadN, err := payloadLen(t, preamble)
	if err != nil {
		return Frame{}, 0, err
	}
	total := 1 + pLen + payloadN
	if len(buf) < total {
		return Frame{}, 0, fmt.Errorf("h4: need %d total bytes, have %d", total, len(buf))
	}
	payload := append([]byte(nil), buf[1+pLen:total]...)

	return Frame{Type: t, Preamble: preamble, Payload: payload}, total, nil
}

// ReadFrame reads exactly one H4 frame from r: the type byte, then its
// preamble, then its payload, blocking as needed. Used by stream transports
// (hcisocket, fdpipe) that read one frame at a time off a socket or pipe
// rather than parsing out of an already-buffered byte slice.
func ReadFrame(r io.Reader) (Frame, error) {
	var typeByte [1]byte
	if _, err := io.ReadFull(r, typeByte[:]); err != nil {
		return Frame{}, err
	}
	t := model.PacketType(typeByte[0])
	pLen, ok := preambleLen[t]
	if !ok {
		return Frame{}, fmt.Errorf("h4: unrecognized type byte 0x%02x", typeByte[0])
	}

	preamble := make([]byte, pLen)
	if _, err := io.ReadFull(r, preamble); err != nil {
		return Frame{}, fmt.Errorf("h4: read preamble: %w", err)
	}

	payloadN, err := payloadLen(t, preamble)
	if err != nil {
		return Frame{}, err
	}
	payload := make([]byte, payloadN)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, fmt.Errorf("h4: read payload: %w", err)
	}

	return Frame{Type: t, Preamble: preamble, Payload: payload}, nil
}

// Recover skips bytes in buf until the
// HCI_Reset command sequence is found, returning the offset at which
// resynchronized parsing can resume, or -1 if the sequence is not present.
func Recover(buf []byte) int {
	return bytes.Index(buf, hciReset)
}

// ReadFrameRecovering behaves like ReadFrame, except that an unrecognized
// type byte does not terminate the stream: it resynchronizes by
// reading one byte at a time until the HCI_Reset sequence is observed, then
// returns that reset command as the next Frame. Stream transports
// (hcisocket, fdpipe) use this instead of ReadFrame so a single garbled
// byte does not force a connection drop.
func ReadFrameRecovering(r io.Reader) (Frame, error) {
	f, err := ReadFrame(r)
	if err == nil {
		return f, nil
	}
	if !isUnrecognizedType(err) {
		return Frame{}, err
	}
	return recoverStream(r)
}

func isUnrecognizedType(err error) bool {
	return err != nil && len(err.Error()) > 0 && bytes.Contains([]byte(err.Error()), []byte("unrecognized type byte"))
}

// recoverStream reads one byte at a time, maintaining a sliding window the
// length of hciReset, until the window matches it; the matched bytes have
// already been consumed from r, so the caller treats them as the next
// parsed Frame.
func recoverStream(r io.Reader) (Frame, error) {
	window := make([]byte, 0, len(hciReset))
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Frame{}, err
		}
		window = append(window, b[0])
		if len(window) > len(hciReset) {
			window = window[len(window)-len(hciReset):]
		}
		if bytes.Equal(window, hciReset) {
			return Frame{Type: model.PacketTypeCommand, Preamble: []byte{hciReset[1], hciReset[2], hciReset[3]}, Payload: nil}, nil
		}
	}
}
