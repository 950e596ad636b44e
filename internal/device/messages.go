package device

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"google.golang.org/protobuf/proto"
)

const redacted = "***REDACTED***"

// Outbound is a message the host sends to the device. The set is closed.
type Outbound interface {
	fmt.Stringer
	outbound()
}

type Initialize struct{}

// GetAddress asks the device for the address at Path.
type GetAddress struct {
	Path accounts.DerivationPath
}

// PinAck answers a PIN challenge. String never reveals the PIN.
type PinAck struct {
	Pin string
}

// PassphraseAck answers a passphrase challenge. String never reveals the
// passphrase.
type PassphraseAck struct {
	Passphrase string
}

type ButtonAck struct{}

type Cancel struct{}

// TaskMessage carries a task-specific payload the session does not inspect.
type TaskMessage struct {
	Payload proto.Message
}

func (Initialize) outbound() {}
func (GetAddress) outbound() {}
func (PinAck) outbound() {}
func (PassphraseAck) outbound() {}
func (ButtonAck) outbound() {}
func (Cancel) outbound() {}
func (TaskMessage) outbound() {}

func (Initialize) String() string { return "Initialize" }
func (m GetAddress) String() string { return "GetAddress(" + m.Path.String() + ")" }
func (PinAck) String() string { return "PinAck(" + redacted + ")" }
func (PassphraseAck) String() string { return "PassphraseAck(" + redacted + ")" }
func (ButtonAck) String() string { return "ButtonAck" }
func (Cancel) String() string { return "Cancel" }
func (m TaskMessage) String() string { return "Task(" + payloadName(m.Payload) + ")" }

// Inbound is a reply from the device. The set is closed.
type Inbound interface {
	inbound()
}

type PinChallenge struct{}

type PassphraseChallenge struct{}

type ButtonChallenge struct{}

// Features identifies the device. Receiving it means the handshake is done.
type Features struct {
	Vendor   string
	Label    string
	DeviceID string
	Version  string
}

// Address carries the raw address bytes read from the device.
type Address struct {
	Bytes []byte
}

// Failure is a device-reported error.
type Failure struct {
	Code    FailureCode
	Message string
}

// Other is any reply the session does not handle itself; it is passed to
// the task.
type Other struct {
	Payload proto.Message
}

func (PinChallenge) inbound() {}
func (PassphraseChallenge) inbound() {}
func (ButtonChallenge) inbound() {}
func (Features) inbound() {}
func (Address) inbound() {}
func (Failure) inbound() {}
func (Other) inbound() {}

func payloadName(m proto.Message) string {
	if m == nil {
		return "<nil>"
	}
	return string(m.ProtoReflect().Descriptor().Name())
}

// FailureCode mirrors the device firmware's failure types.
type FailureCode int32

const (
	FailureUnexpectedMessage FailureCode = 1
	FailureButtonExpected    FailureCode = 2
	FailureDataError         FailureCode = 3
	FailureActionCancelled   FailureCode = 4
	FailurePinExpected       FailureCode = 5
	FailurePinCancelled      FailureCode = 6
	FailurePinInvalid        FailureCode = 7
	FailureInvalidSignature  FailureCode = 8
	FailureProcessError      FailureCode = 9
	FailureNotEnoughFunds    FailureCode = 10
	FailureNotInitialized    FailureCode = 11
	FailurePinMismatch       FailureCode = 12
	FailureFirmwareError     FailureCode = 99
)

var failureNames = map[FailureCode]string{
	FailureUnexpectedMessage: "UnexpectedMessage",
	FailureButtonExpected:    "ButtonExpected",
	FailureDataError:         "DataError",
	FailureActionCancelled:   "ActionCancelled",
	FailurePinExpected:       "PinExpected",
	FailurePinCancelled:      "PinCancelled",
	FailurePinInvalid:        "PinInvalid",
	FailureInvalidSignature:  "InvalidSignature",
	FailureProcessError:      "ProcessError",
	FailureNotEnoughFunds:    "NotEnoughFunds",
	FailureNotInitialized:    "NotInitialized",
	FailurePinMismatch:       "PinMismatch",
	FailureFirmwareError:     "FirmwareError",
}

func (c FailureCode) String() string {
	if name, ok := failureNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Failure(%d)", int32(c))
}
