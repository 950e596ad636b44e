package device

import "fmt"

// State is the negotiation state of a Session.
type State int

const (
	StateRequestPermission State = iota
	StateInit
	StatePinRequest
	StatePassphraseRequest
	StateButtonAck
	StateProcessTask
	StateReadAddress
	StateCancel
)

var stateNames = [...]string{
	StateRequestPermission: "REQUEST_PERMISSION",
	StateInit:              "INIT",
	StatePinRequest:        "PIN_REQUEST",
	StatePassphraseRequest: "PWD_REQUEST",
	StateButtonAck:         "BUTTON_ACK",
	StateProcessTask:       "PROCESS_TASK",
	StateReadAddress:       "READ_ADDRESS",
	StateCancel:            "CANCEL",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// buildMessage returns the outbound message for state. secret is only read
// in the PIN and passphrase states. A PROCESS_TASK state without a task
// payload is a programming error and panics.
func buildMessage(state State, path []uint32, secret string, task Task) Outbound {
	switch state {
	case StateInit, StateRequestPermission:
		return Initialize{}
	case StateReadAddress:
		return GetAddress{Path: append([]uint32(nil), path...)}
	case StatePinRequest:
		return PinAck{Pin: secret}
	case StatePassphraseRequest:
		return PassphraseAck{Passphrase: secret}
	case StateButtonAck:
		return ButtonAck{}
	case StateCancel:
		return Cancel{}
	case StateProcessTask:
		var payload TaskMessage
		if task != nil {
			payload.Payload = task.TaskMessage()
		}
		if payload.Payload == nil {
			panic("device: PROCESS_TASK entered without a task payload")
		}
		return payload
	default:
		panic(fmt.Sprintf("device: no message for state %s", state))
	}
}
