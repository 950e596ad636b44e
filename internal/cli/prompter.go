package cli

import (
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/yolodolo42/hwsign/internal/logger"
	"github.com/yolodolo42/hwsign/internal/secret"
	"github.com/yolodolo42/hwsign/internal/ui"
)

// terminalPrompter asks for device secrets with the bubbletea PIN pad and
// passphrase models. Without a terminal every request is cancelled.
type terminalPrompter struct {
	maxPin int
	// one dialog at a time on the terminal
	mu  sync.Mutex
	log *zap.Logger
}

func newTerminalPrompter(maxPin int) *terminalPrompter {
	return &terminalPrompter{maxPin: maxPin, log: logger.Named("prompt")}
}

func (p *terminalPrompter) interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func (p *terminalPrompter) RequestPIN(c *secret.Capture) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.interactive() {
		p.log.Warn("device asked for a PIN but no terminal is attached")
		c.Cancel()
		return
	}

	pad := ui.NewPinPad("Enter the PIN shown scrambled on your device", p.maxPin)
	if _, err := tea.NewProgram(pad).Run(); err != nil {
		p.log.Error("PIN entry failed", zap.Error(err))
		c.Cancel()
		return
	}
	if pad.Cancelled() {
		c.Cancel()
		return
	}
	c.Accept(pad.PIN())
}

func (p *terminalPrompter) RequestPassphrase(c *secret.Capture) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.interactive() {
		p.log.Warn("device asked for a passphrase but no terminal is attached")
		c.Cancel()
		return
	}

	prompt := ui.NewPassphrase("Enter your wallet passphrase (empty for the default wallet)")
	if _, err := tea.NewProgram(prompt).Run(); err != nil {
		p.log.Error("passphrase entry failed", zap.Error(err))
		c.Cancel()
		return
	}
	if prompt.Cancelled() {
		c.Cancel()
		return
	}
	c.Accept(prompt.Value())
}
