package device

import (
	"errors"
	"fmt"
)

var (
	// ErrPinInvalid is returned when the device rejects the entered PIN.
	// The session ends; callers should show it as a blocking error.
	ErrPinInvalid = errors.New("pin invalid")

	// ErrAddressMismatch is returned by tasks when the device derives a
	// different address than the one they expect to sign for.
	ErrAddressMismatch = errors.New("device address does not match sending account")

	// ErrMalformedAddress is returned when an address reply is not 20 bytes.
	ErrMalformedAddress = errors.New("malformed device address")
)

// FailureError is a device failure that ended the session.
type FailureError struct {
	Code    FailureCode
	Message string
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("problem: %s %s", e.Message, e.Code)
}
