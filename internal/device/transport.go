package device

import (
	"context"

	"github.com/yolodolo42/hwsign/internal/secret"
)

// Transport reaches the physical device. Implementations own framing and
// encoding; the session only sees typed messages.
type Transport interface {
	// TryConnect reports whether a device is reachable, connecting if needed.
	TryConnect() bool
	// HasDeviceWithoutPermission reports a present device the process may
	// not open yet. request asks the platform to remember the interest.
	HasDeviceWithoutPermission(request bool) bool
	// RequestPermission asks the platform for access to the device.
	RequestPermission(prompt bool)
	// Exchange sends msg and waits for the device's reply.
	Exchange(ctx context.Context, msg Outbound) (Inbound, error)
}

// Prompter is the UI side of secret capture. Each call must eventually
// resolve the capture with Accept or Cancel. Calls are made off the session
// loop, so implementations may block while the user types.
type Prompter interface {
	RequestPIN(c *secret.Capture)
	RequestPassphrase(c *secret.Capture)
}
