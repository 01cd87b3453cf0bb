package registry

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/google/netsim-packet-core/internal/chip"
	"github.com/google/netsim-packet-core/internal/model"
)

// ChipParams is the backend-construction half of an AddChip call: the bits
// a WirelessChip needs that are independent of which Device it ends up on.
type ChipParams struct {
	Kind         model.ChipKind
	Address      string
	Manufacturer string
	ProductName  string
	Properties   map[string]string
	Beacon       chip.BeaconParams
}

// ResponsePublisher is the dispatcher-shaped sink a freshly built
// WirelessChip's backend callback feeds into. Registry depends only on
// this narrow interface so it need not import package dispatch.
type ResponsePublisher interface {
	HandleResponse(chipID model.ChipId, frame []byte, packetType model.PacketType) error
}

// Backends builds the WirelessChip matching params' Kind. Implementations
// model a sum type over the five backend kinds; there is no shared
// base behavior beyond the model.WirelessChip capability set.
type Backends interface {
	New(chipID model.ChipId, deviceID model.DeviceId, params ChipParams, publisher ResponsePublisher) (model.WirelessChip, error)
}

// DefaultBackends wires the registry to the process-wide Bluetooth,
// Wi-Fi and UWB singletons. Construct once at daemon startup and pass to
// registry.New.
type DefaultBackends struct {
	Bluetooth chip.RootcanalBackend
	Wifi      *chip.WifiManager
	Uwb       *chip.UwbManager
	Logger    *logrus.Logger
}

func (b *DefaultBackends) New(chipID model.ChipId, deviceID model.DeviceId, params ChipParams, publisher ResponsePublisher) (model.WirelessChip, error) {
	responder := wireResponder(params.Kind, publisher, chipID)

	switch params.Kind {
	case model.ChipKindBluetooth:
		if b.Bluetooth == nil {
			return nil, fmt.Errorf("registry: no Bluetooth backend installed")
		}
		bt, err := chip.NewBluetooth(b.Bluetooth, params.Address, params.Manufacturer, params.ProductName, params.Properties, b.Logger)
		if err != nil {
			return nil, err
		}
		bt.SetResponder(responder)
		return bt, nil

	case model.ChipKindWifi:
		if b.Wifi == nil {
			return nil, fmt.Errorf("registry: no WifiManager installed")
		}
		return chip.NewWifi(b.Wifi, chip.WifiChipId(chipID), params.Address, responder)

	case model.ChipKindUwb:
		if b.Uwb == nil {
			return nil, fmt.Errorf("registry: no UwbManager installed")
		}
		return chip.NewUwb(b.Uwb, chipID, deviceID, params.Address, responder)

	case model.ChipKindBluetoothBeacon:
		return chip.NewBleBeacon(params.Address, params.Beacon, responder, b.Logger), nil

	default:
		return chip.NewMock(params.Address), nil
	}
}

// wireResponder adapts a WirelessChip's raw byte callback to the
// dispatcher-shaped ResponsePublisher. Bluetooth and BleBeacon frames carry
// an H4 type byte at index 0 that must be split out into packetType, since
// that is the convention dispatch.HandleRequest/HandleResponse use
// uniformly across backends; Wi-Fi and UWB carry no such byte.
func wireResponder(kind model.ChipKind, publisher ResponsePublisher, chipID model.ChipId) func([]byte) {
	switch kind {
	case model.ChipKindBluetooth, model.ChipKindBluetoothBeacon:
		return func(frame []byte) {
			if len(frame) == 0 {
				return
			}
			_ = publisher.HandleResponse(chipID, frame[1:], model.PacketType(frame[0]))
		}
	default:
		return func(frame []byte) {
			_ = publisher.HandleResponse(chipID, frame, model.PacketTypeUnspecified)
		}
	}
}
