package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/google/netsim-packet-core/internal/dispatch"
	"github.com/google/netsim-packet-core/internal/model"
	"github.com/google/netsim-packet-core/internal/registry"
)

// jsonCodec is a grpc encoding.Codec that marshals StreamPackets messages
// with encoding/json instead of protobuf. There is no .proto source in this
// module to generate real message bindings from, so the wire messages below
// are plain structs and clients must dial with
// grpc.CallContentSubtype("json") to negotiate this codec.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// ChipDescriptor is the initial_info message that must be the first frame
// sent on a StreamPackets call.
type ChipDescriptor struct {
	Kind         string `json:"kind"`
	Address      string `json:"address"`
	Manufacturer string `json:"manufacturer"`
	ProductName  string `json:"product_name"`
	Id           uint32 `json:"id,omitempty"`
}

// HCIPacket carries a Bluetooth H4 type byte alongside its payload, used by
// both PacketRequest and PacketResponse when the stream's chip is
// Bluetooth.
type HCIPacket struct {
	PacketType uint8  `json:"packet_type"`
	Packet     []byte `json:"packet"`
}

// PacketRequest is one inbound StreamPackets message: the initial chip
// descriptor, a Bluetooth HCI packet, or a generic (Wi-Fi/UWB) packet.
// Exactly one field is populated per message.
type PacketRequest struct {
	InitialInfo *ChipDescriptor `json:"initial_info,omitempty"`
	HciPacket   *HCIPacket      `json:"hci_packet,omitempty"`
	Packet      []byte          `json:"packet,omitempty"`
}

// PacketResponse is one outbound StreamPackets message.
type PacketResponse struct {
	HciPacket *HCIPacket `json:"hci_packet,omitempty"`
	Packet    []byte     `json:"packet,omitempty"`
}

// packetStreamerServer is the interface grpc.ServiceDesc.HandlerType checks
// against at RegisterService time; it mirrors what protoc-gen-go-grpc would
// emit for a service with one bidi-streaming RPC.
type packetStreamerServer interface {
	StreamPackets(grpc.ServerStream) error
}

var packetStreamerServiceDesc = grpc.ServiceDesc{
	ServiceName: "netsim.PacketStreamer",
	HandlerType: (*packetStreamerServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamPackets",
			Handler:       streamPacketsHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "internal/transport/grpcstream.go",
}

func streamPacketsHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(packetStreamerServer).StreamPackets(stream)
}

// GrpcStream implements the StreamPackets bidi adapter.
type GrpcStream struct {
	Registry   Registrar
	Dispatcher *dispatch.Dispatcher
	Logger     *logrus.Logger
}

// Register attaches GrpcStream's service to s.
func (g *GrpcStream) Register(s *grpc.Server) {
	s.RegisterService(&packetStreamerServiceDesc, g)
}

func grpcChipKind(kind string) (model.ChipKind, bool) {
	switch kind {
	case "bluetooth":
		return model.ChipKindBluetooth, true
	case "wifi":
		return model.ChipKindWifi, true
	case "uwb":
		return model.ChipKindUwb, true
	case "bluetooth_beacon":
		return model.ChipKindBluetoothBeacon, true
	default:
		return 0, false
	}
}

type grpcResponder struct {
	kind   model.ChipKind
	stream grpc.ServerStream
}

func (r grpcResponder) Response(packet []byte, packetType model.PacketType) error {
	if r.kind == model.ChipKindBluetooth {
		return r.stream.SendMsg(&PacketResponse{HciPacket: &HCIPacket{PacketType: uint8(packetType), Packet: packet}})
	}
	return r.stream.SendMsg(&PacketResponse{Packet: packet})
}

// StreamPackets implements packetStreamerServer. The first received message
// must carry initial_info; every message after that is routed to the
// dispatcher until the client closes the stream.
func (g *GrpcStream) StreamPackets(stream grpc.ServerStream) error {
	var first PacketRequest
	if err := stream.RecvMsg(&first); err != nil {
		return err
	}
	if first.InitialInfo == nil {
		return status.Error(codes.InvalidArgument, "first StreamPackets message must be initial_info")
	}
	info := first.InitialInfo
	kind, ok := grpcChipKind(info.Kind)
	if !ok {
		return status.Errorf(codes.InvalidArgument, "unsupported chip kind %q", info.Kind)
	}

	result, err := g.Registry.AddChip(g.Dispatcher, registry.AddChipParams{
		DeviceGuid:   fmt.Sprintf("grpc-%s-%s", info.Kind, info.Address),
		DeviceName:   info.Address,
		Kind:         kind,
		ChipName:     info.Address,
		Manufacturer: info.Manufacturer,
		ProductName:  info.ProductName,
		Address:      info.Address,
	})
	if err != nil {
		return status.Errorf(codes.Internal, "add_chip: %v", err)
	}
	logger := g.logger().WithField("chip_id", result.ChipID)
	logger.Info("grpcstream: chip connected")

	g.Dispatcher.RegisterTransport(result.ChipID, grpcResponder{kind: kind, stream: stream})
	defer func() {
		g.Dispatcher.UnregisterTransport(result.ChipID)
		if err := g.Registry.RemoveChip(result.DeviceID, result.ChipID); err != nil {
			logger.WithError(err).Warn("grpcstream: remove_chip failed")
		}
	}()

	for {
		var req PacketRequest
		if err := stream.RecvMsg(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if kind == model.ChipKindBluetooth {
			if req.HciPacket == nil {
				logger.Warn("grpcstream: expected hci_packet variant, skipping")
				continue
			}
			if err := g.Dispatcher.HandleRequest(result.ChipID, req.HciPacket.Packet, model.PacketType(req.HciPacket.PacketType)); err != nil {
				logger.WithError(err).Warn("grpcstream: handle_request failed")
			}
			continue
		}
		if req.Packet == nil {
			logger.Warn("grpcstream: expected packet variant, skipping")
			continue
		}
		if err := g.Dispatcher.HandleRequest(result.ChipID, req.Packet, model.PacketTypeUnspecified); err != nil {
			logger.WithError(err).Warn("grpcstream: handle_request failed")
		}
	}
}

func (g *GrpcStream) logger() *logrus.Logger {
	if g.Logger == nil {
		return logrus.New()
	}
	return g.Logger
}
