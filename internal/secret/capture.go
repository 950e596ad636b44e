// Package secret captures short-lived device secrets (PIN, passphrase).
// Captured values are handed to the owning session exactly once and are
// never stored or logged here.
package secret

import "sync"

// Kind identifies which secret a capture is collecting.
type Kind int

const (
	KindPIN Kind = iota
	KindPassphrase
)

func (k Kind) String() string {
	switch k {
	case KindPIN:
		return "pin"
	case KindPassphrase:
		return "passphrase"
	default:
		return "unknown"
	}
}

// Outcome is what a capture resolves to.
type Outcome struct {
	Kind      Kind
	Secret    string
	Cancelled bool
}

// Capture is one pending request for a secret. The UI resolves it with
// either Accept or Cancel; only the first call has an effect.
type Capture struct {
	kind   Kind
	once   sync.Once
	resume func(Outcome)
}

// NewCapture creates a capture that reports its outcome to resume.
func NewCapture(kind Kind, resume func(Outcome)) *Capture {
	return &Capture{kind: kind, resume: resume}
}

func (c *Capture) Kind() Kind {
	return c.kind
}

// Accept confirms the entered secret. It reports false if the capture was
// already resolved.
func (c *Capture) Accept(secret string) bool {
	return c.resolve(Outcome{Kind: c.kind, Secret: secret})
}

// Cancel abandons the capture. It reports false if the capture was already
// resolved.
func (c *Capture) Cancel() bool {
	return c.resolve(Outcome{Kind: c.kind, Cancelled: true})
}

func (c *Capture) resolve(o Outcome) bool {
	resolved := false
	c.once.Do(func() {
		resolved = true
		c.resume(o)
	})
	return resolved
}
