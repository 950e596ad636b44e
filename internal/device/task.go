package device

import (
	"github.com/ethereum/go-ethereum/common"
	"google.golang.org/protobuf/proto"
)

// Step tells the session what to do after a task handled a reply.
type Step int

const (
	// StepDone ends the session successfully.
	StepDone Step = iota
	// StepContinue enters PROCESS_TASK and sends the task's next message.
	StepContinue
)

// Task is the use-case policy plugged into a Session: address retrieval,
// transaction signing, and so on.
type Task interface {
	// TaskMessage returns the payload to send in PROCESS_TASK.
	TaskMessage() proto.Message
	// HandleAddress receives the address read at the session's path.
	HandleAddress(addr common.Address) (Step, error)
	// HandleTaskReply receives any reply the session does not handle itself.
	HandleTaskReply(msg proto.Message) (Step, error)
}

// AddressTask only retrieves the address; it never enters PROCESS_TASK.
type AddressTask struct {
	address common.Address
	found   bool
}

func (t *AddressTask) TaskMessage() proto.Message {
	return nil
}

func (t *AddressTask) HandleAddress(addr common.Address) (Step, error) {
	t.address = addr
	t.found = true
	return StepDone, nil
}

func (t *AddressTask) HandleTaskReply(msg proto.Message) (Step, error) {
	return StepDone, &unexpectedReplyError{payload: msg}
}

// Address returns the retrieved address and whether one was delivered.
func (t *AddressTask) Address() (common.Address, bool) {
	return t.address, t.found
}

type unexpectedReplyError struct {
	payload proto.Message
}

func (e *unexpectedReplyError) Error() string {
	return "unexpected device reply: " + payloadName(e.payload)
}
