package chip

import (
	"sync/atomic"

	"github.com/google/netsim-packet-core/internal/model"
)

// Mock is a no-op WirelessChip used by tests: HandleRequest accepts
// any frame and produces no response.
type Mock struct {
	address string
	enabled atomic.Bool
	tx, rx  atomic.Uint32
}

// NewMock creates a Mock chip, enabled by default.
func NewMock(address string) *Mock {
	m := &Mock{address: address}
	m.enabled.Store(true)
	return m
}

func (m *Mock) HandleRequest(frame []byte) error {
	m.tx.Add(1)
	return nil
}

func (m *Mock) Reset() error {
	m.tx.Store(0)
	m.rx.Store(0)
	m.enabled.Store(true)
	return nil
}

func (m *Mock) Get() (model.ChipProto, error) {
	enabled := m.enabled.Load()
	return model.ChipProto{
		Kind:    model.ChipKindUnspecified,
		Enabled: &enabled,
		Address: m.address,
		TxCount: m.tx.Load(),
		RxCount: m.rx.Load(),
	}, nil
}

func (m *Mock) Patch(patch model.ChipProto) error {
	if patch.Enabled != nil {
		m.enabled.Store(*patch.Enabled)
	}
	return nil
}

func (m *Mock) GetStats(durationSec float64) ([]model.RadioStats, error) {
	return []model.RadioStats{{Kind: model.ChipKindUnspecified, DurationSec: durationSec, TxCount: m.tx.Load(), RxCount: m.rx.Load()}}, nil
}

func (m *Mock) Kind() model.ChipKind { return model.ChipKindUnspecified }

func (m *Mock) Close() error { return nil }
