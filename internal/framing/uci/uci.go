// Package uci implements UWB Command Interface framing: a fixed
// 4-byte header whose fourth byte carries the payload length.
package uci

import (
	"fmt"
	"io"
)

// HeaderLen is the fixed UCI header size.
const HeaderLen = 4

// Parse parses exactly one UCI packet from the front of buf, returning the
// packet bytes (header + payload) and well-formed error on short input.
func Parse(buf []byte) ([]byte, error) {
	if len(buf) < HeaderLen {
		return nil, fmt.Errorf("uci: need %d header bytes, have %d", HeaderLen, len(buf))
	}
	payloadLen := int(buf[3])
	total := HeaderLen + payloadLen
	if len(buf) < total {
		return nil, fmt.Errorf("uci: need %d total bytes, have %d", total, len(buf))
	}
	return append([]byte(nil), buf[:total]...), nil
}

// ReadPacket reads exactly one UCI packet from r: the 4-byte header, then
// its payload, blocking as needed.
func ReadPacket(r io.Reader) ([]byte, error) {
	hdr := make([]byte, HeaderLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	payload := make([]byte, hdr[3])
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("uci: read payload: %w", err)
	}
	return append(hdr, payload...), nil
}

// Len returns the total packet length (header + payload) for a packet whose
// header has already been read, or an error if hdr is too short.
func Len(hdr []byte) (int, error) {
	if len(hdr) < HeaderLen {
		return 0, fmt.Errorf("uci: need %d header bytes, have %d", HeaderLen, len(hdr))
	}
	return HeaderLen + int(hdr[3]), nil
}
