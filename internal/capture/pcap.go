package capture

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/google/netsim-packet-core/internal/model"
)

// globalHeaderLen is the size of a classic pcap global header:
// magic, version major/minor, two reserved zeros, snaplen, linktype.
const globalHeaderLen = 24

// recordHeaderLen is the 16-byte per-record header pcapgo writes ahead of
// each record's payload: ts_sec, ts_usec, captured_len, original_len.
const recordHeaderLen = 16

// Direction word values prepended to Bluetooth H4 payloads in a capture
// record.
const (
	directionHostToController uint32 = 0
	directionControllerToHost uint32 = 1
)

// linkType maps a ChipKind to its pcap DLT value. Kinds with no defined
// capture framing (UWB, BleBeacon, Unspecified) return ok=false.
func linkType(kind model.ChipKind) (layers.LinkType, bool) {
	switch kind {
	case model.ChipKindBluetooth:
		return layers.LinkType(201), true // BLUETOOTH_HCI_H4_WITH_PHDR
	case model.ChipKindWifi:
		return layers.LinkType(127), true // IEEE802_11_RADIOTAP
	default:
		return 0, false
	}
}

// writeGlobalHeader writes the classic pcap global header for kind to w,
// returning the number of bytes written (always globalHeaderLen on
// success).
func writeGlobalHeader(w *pcapgo.Writer, kind model.ChipKind) (int, error) {
	lt, ok := linkType(kind)
	if !ok {
		return 0, fmt.Errorf("capture: chip kind %v has no pcap linktype", kind)
	}
	if err := w.WriteFileHeader(0xFFFFFFFF, lt); err != nil {
		return 0, fmt.Errorf("capture: write pcap header: %w", err)
	}
	return globalHeaderLen, nil
}

// buildRecordPayload assembles the on-disk record payload for one captured
// packet: for Bluetooth a 4-byte big-endian direction word precedes the H4
// bytes; for Wi-Fi a minimal synthesized Radiotap header precedes the
// 802.11 frame. CapturedLength/OriginalLength in the resulting pcap record
// include whatever this function prepends.
func buildRecordPayload(kind model.ChipKind, frame []byte, hostToController bool) ([]byte, error) {
	switch kind {
	case model.ChipKindBluetooth:
		dir := directionControllerToHost
		if hostToController {
			dir = directionHostToController
		}
		out := make([]byte, 4+len(frame))
		binary.BigEndian.PutUint32(out[:4], dir)
		copy(out[4:], frame)
		return out, nil
	case model.ChipKindWifi:
		rt := minimalRadiotap{}
		return append(rt.Bytes(), frame...), nil
	default:
		return nil, fmt.Errorf("capture: chip kind %v has no capture record framing", kind)
	}
}

// minimalRadiotap synthesizes the smallest Radiotap header carrying a
// channel and a dBm antenna-signal field (present bitmap 1<<3 | 1<<5).
// buildRecordPayload prepends one to every Wi-Fi record, with freq and
// signal left at zero.
type minimalRadiotap struct {
	FreqMHz   uint16
	SignalDBm int8
}

const minimalRadiotapLen = 13

func (r minimalRadiotap) Bytes() []byte {
	buf := make([]byte, minimalRadiotapLen)
	buf[0] = 0 // version
	buf[1] = 0 // pad
	binary.LittleEndian.PutUint16(buf[2:4], uint16(minimalRadiotapLen))
	binary.LittleEndian.PutUint32(buf[4:8], 1<<3|1<<5)
	binary.LittleEndian.PutUint16(buf[8:10], r.FreqMHz)
	binary.LittleEndian.PutUint16(buf[10:12], 0) // channel flags
	buf[12] = byte(r.SignalDBm)
	return buf
}

// appendRecord writes one pcap record (payload already framed by
// buildRecordPayload) at time now, returning the number of bytes the
// record occupied on disk (header + payload), for CaptureInfo.Size
// bookkeeping.
func appendRecord(w *pcapgo.Writer, payload []byte, now time.Time) (int, error) {
	ci := gopacket.CaptureInfo{
		Timestamp:     now,
		CaptureLength: len(payload),
		Length:        len(payload),
	}
	if err := w.WritePacket(ci, payload); err != nil {
		return 0, fmt.Errorf("capture: append record: %w", err)
	}
	return recordHeaderLen + len(payload), nil
}
