package model

import (
	"io"
	"sync"
	"time"
)

// CaptureInfo is one per Chip, keyed by ChipId. size/records are only
// advanced while a file is open.
type CaptureInfo struct {
	mu sync.Mutex

	ChipID     ChipId
	Kind       ChipKind
	DeviceName string // snapshot at creation time

	Records uint64
	Size    uint64

	CreatedSec  int64
	CreatedNsec int64

	// Valid is true while the owning chip is live; false after removal.
	// The entry is retained after that so operators can still download it.
	Valid bool

	File io.WriteCloser
	Path string
}

// NewCaptureInfo builds a CaptureInfo for a freshly-added chip. The file is
// not opened here; StartCapture does that.
func NewCaptureInfo(chipID ChipId, kind ChipKind, deviceName string, now time.Time) *CaptureInfo {
	return &CaptureInfo{
		ChipID:     chipID,
		Kind:       kind,
		DeviceName: deviceName,
		CreatedSec: now.Unix(),
		CreatedNsec: int64(now.Nanosecond()),
		Valid:      true,
	}
}

// Lock/Unlock expose the per-entry mutex so capture.Captures can serialize
// header writes and record appends without a second lock layer.
func (ci *CaptureInfo) Lock()   { ci.mu.Lock() }
func (ci *CaptureInfo) Unlock() { ci.mu.Unlock() }

// IsOpen reports whether a file is currently being written to. Callers
// must hold the CaptureInfo lock.
func (ci *CaptureInfo) IsOpen() bool {
	return ci.File != nil
}
