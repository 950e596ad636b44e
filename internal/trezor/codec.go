package trezor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	trezorpb "github.com/ethereum/go-ethereum/accounts/usbwallet/trezor"
	"github.com/ethereum/go-ethereum/common"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"

	"github.com/yolodolo42/hwsign/internal/device"
)

const (
	reportID   = 0x3f
	chunkSize  = 64
	headerSize = 8 // "##" + kind + length
	maxPayload = 1 << 20
)

var errMalformed = errors.New("trezor: malformed reply")

// kindOf returns the wire type of msg, looked up by message name.
func kindOf(msg proto.Message) (uint16, error) {
	name := string(msg.ProtoReflect().Descriptor().Name())
	kind, ok := trezorpb.MessageType_value["MessageType_"+name]
	if !ok {
		return 0, fmt.Errorf("trezor: no wire type for %s", name)
	}
	return uint16(kind), nil
}

func kindName(kind uint16) string {
	return strings.TrimPrefix(trezorpb.MessageType_name[int32(kind)], "MessageType_")
}

// encode maps a session message onto its protobuf form.
func encode(msg device.Outbound) (proto.Message, error) {
	switch m := msg.(type) {
	case device.Initialize:
		return &trezorpb.Initialize{}, nil
	case device.GetAddress:
		return &trezorpb.EthereumGetAddress{AddressN: []uint32(m.Path)}, nil
	case device.PinAck:
		pin := m.Pin
		return &trezorpb.PinMatrixAck{Pin: &pin}, nil
	case device.PassphraseAck:
		pass := m.Passphrase
		return &trezorpb.PassphraseAck{Passphrase: &pass}, nil
	case device.ButtonAck:
		return &trezorpb.ButtonAck{}, nil
	case device.Cancel:
		return &trezorpb.Cancel{}, nil
	case device.TaskMessage:
		if m.Payload == nil {
			return nil, errors.New("trezor: empty task message")
		}
		return m.Payload, nil
	default:
		return nil, fmt.Errorf("trezor: cannot encode %s", msg)
	}
}

// decode maps a raw reply onto a session message.
func decode(kind uint16, data []byte) (device.Inbound, error) {
	name := kindName(kind)
	switch name {
	case "PinMatrixRequest":
		return device.PinChallenge{}, nil
	case "PassphraseRequest":
		return device.PassphraseChallenge{}, nil
	case "ButtonRequest":
		return device.ButtonChallenge{}, nil
	case "Features":
		f := new(trezorpb.Features)
		if err := proto.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("trezor: decode features: %w", err)
		}
		return device.Features{
			Vendor:   f.GetVendor(),
			Label:    f.GetLabel(),
			DeviceID: f.GetDeviceId(),
			Version:  fmt.Sprintf("%d.%d.%d", f.GetMajorVersion(), f.GetMinorVersion(), f.GetPatchVersion()),
		}, nil
	case "EthereumAddress":
		a := new(trezorpb.EthereumAddress)
		if err := proto.Unmarshal(data, a); err != nil {
			return nil, fmt.Errorf("trezor: decode address: %w", err)
		}
		if raw := a.GetAddressBin(); len(raw) > 0 {
			return device.Address{Bytes: raw}, nil
		}
		if hex := a.GetAddressHex(); len(hex) > 0 {
			return device.Address{Bytes: common.HexToAddress(hex).Bytes()}, nil
		}
		return nil, fmt.Errorf("%w: empty address", errMalformed)
	case "Failure":
		f := new(trezorpb.Failure)
		if err := proto.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("trezor: decode failure: %w", err)
		}
		return device.Failure{Code: device.FailureCode(f.GetCode()), Message: f.GetMessage()}, nil
	case "EthereumTxRequest":
		r := new(trezorpb.EthereumTxRequest)
		if err := proto.Unmarshal(data, r); err != nil {
			return nil, fmt.Errorf("trezor: decode tx request: %w", err)
		}
		return device.Other{Payload: r}, nil
	case "Success":
		s := new(trezorpb.Success)
		if err := proto.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("trezor: decode success: %w", err)
		}
		return device.Other{Payload: s}, nil
	default:
		m, err := resolve(name)
		if err != nil {
			return nil, fmt.Errorf("trezor: unsupported reply type %d: %w", kind, err)
		}
		if err := proto.Unmarshal(data, m); err != nil {
			return nil, fmt.Errorf("trezor: decode %s: %w", name, err)
		}
		return device.Other{Payload: m}, nil
	}
}

// resolve instantiates the registered trezor message called name. Message
// types live in several proto packages, so the lookup is by short name.
func resolve(name string) (proto.Message, error) {
	if name == "" {
		return nil, errors.New("unknown message type")
	}
	var found protoreflect.MessageType
	protoregistry.GlobalTypes.RangeMessages(func(mt protoreflect.MessageType) bool {
		d := mt.Descriptor()
		if string(d.Name()) == name && strings.HasPrefix(string(d.FullName()), "hw.trezor.messages") {
			found = mt
			return false
		}
		return true
	})
	if found == nil {
		return nil, fmt.Errorf("no message type %s", name)
	}
	return found.New().Interface(), nil
}

// writeMessage frames msg into 64 byte HID reports.
func writeMessage(w io.Writer, msg proto.Message) error {
	kind, err := kindOf(msg)
	if err != nil {
		return err
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return err
	}

	payload := make([]byte, headerSize+len(data))
	payload[0], payload[1] = 0x23, 0x23
	binary.BigEndian.PutUint16(payload[2:], kind)
	binary.BigEndian.PutUint32(payload[4:], uint32(len(data)))
	copy(payload[headerSize:], data)

	chunk := make([]byte, chunkSize)
	for len(payload) > 0 {
		clear(chunk)
		chunk[0] = reportID
		n := copy(chunk[1:], payload)
		payload = payload[n:]
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

// readMessage reassembles one reply from HID reports. Reports that do not
// start a message are skipped until a header is seen.
func readMessage(r io.Reader) (uint16, []byte, error) {
	var (
		kind  uint16
		reply []byte
		begun bool
		chunk = make([]byte, chunkSize)
	)
	for {
		if _, err := io.ReadFull(r, chunk); err != nil {
			return 0, nil, err
		}
		if chunk[0] != reportID {
			continue
		}

		var body []byte
		if !begun {
			if chunk[1] != 0x23 || chunk[2] != 0x23 {
				continue
			}
			kind = binary.BigEndian.Uint16(chunk[3:5])
			size := binary.BigEndian.Uint32(chunk[5:9])
			if size > maxPayload {
				return 0, nil, fmt.Errorf("%w: %d byte payload", errMalformed, size)
			}
			reply = make([]byte, 0, int(size))
			begun = true
			body = chunk[9:]
		} else {
			body = chunk[1:]
		}

		left := cap(reply) - len(reply)
		if left <= len(body) {
			reply = append(reply, body[:left]...)
			return kind, reply, nil
		}
		reply = append(reply, body...)
	}
}
