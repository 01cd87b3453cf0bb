package chip

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/google/netsim-packet-core/internal/framing/h4"
	"github.com/google/netsim-packet-core/internal/model"
)

// BeaconParams configures a BleBeacon's periodic advertising.
type BeaconParams struct {
	AdvertiseIntervalMs int
	AdvData             []byte
}

// BleBeacon is an in-process emitter with no external daemon: it
// periodically synthesizes advertising packets and otherwise ignores
// incoming frames, since beacons are non-scannable unless configured.
type BleBeacon struct {
	address string
	params  BeaconParams

	enabled atomic.Bool
	tx, rx  atomic.Uint32

	responder func(frame []byte)
	logger    *logrus.Logger

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// NewBleBeacon creates and starts a beacon that advertises at
// params.AdvertiseIntervalMs.
func NewBleBeacon(address string, params BeaconParams, responder func(frame []byte), logger *logrus.Logger) *BleBeacon {
	if logger == nil {
		logger = logrus.New()
	}
	if params.AdvertiseIntervalMs <= 0 {
		params.AdvertiseIntervalMs = 1000
	}
	b := &BleBeacon{address: address, params: params, responder: responder, logger: logger, done: make(chan struct{})}
	b.enabled.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.advertiseLoop(ctx)
	return b
}

func (b *BleBeacon) advertiseLoop(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(time.Duration(b.params.AdvertiseIntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !b.enabled.Load() {
				continue
			}
			b.emitAdvertisement()
		}
	}
}

func (b *BleBeacon) emitAdvertisement() {
	// LE Meta Event, subevent Advertising Report, one report.
	payload := append([]byte{0x02, 0x01}, b.params.AdvData...)
	frame := h4.Frame{
		Type:     model.PacketTypeEvent,
		Preamble: []byte{0x3e, byte(len(payload))},
		Payload:  payload,
	}
	b.tx.Add(1)
	if b.responder != nil {
		b.responder(frame.Bytes())
	}
}

// HandleRequest is accepted but ignored: beacons are non-scannable.
func (b *BleBeacon) HandleRequest(frame []byte) error {
	b.rx.Add(1)
	return nil
}

func (b *BleBeacon) Reset() error {
	b.tx.Store(0)
	b.rx.Store(0)
	b.enabled.Store(true)
	return nil
}

func (b *BleBeacon) Get() (model.ChipProto, error) {
	enabled := b.enabled.Load()
	return model.ChipProto{Kind: model.ChipKindBluetoothBeacon, Enabled: &enabled, Address: b.address, TxCount: b.tx.Load(), RxCount: b.rx.Load()}, nil
}

func (b *BleBeacon) Patch(patch model.ChipProto) error {
	if patch.Enabled != nil {
		b.enabled.Store(*patch.Enabled)
	}
	return nil
}

func (b *BleBeacon) GetStats(durationSec float64) ([]model.RadioStats, error) {
	return []model.RadioStats{{Kind: model.ChipKindBluetoothBeacon, DurationSec: durationSec, TxCount: b.tx.Load(), RxCount: b.rx.Load()}}, nil
}

func (b *BleBeacon) Kind() model.ChipKind { return model.ChipKindBluetoothBeacon }

func (b *BleBeacon) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
		<-b.done
		b.cancel = nil
	}
	return nil
}
