package ui

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// Passphrase is a masked single-line input for the device passphrase. An
// empty passphrase is valid and selects the default wallet.
type Passphrase struct {
	title     string
	input     textinput.Model
	value     string
	done      bool
	cancelled bool
}

// NewPassphrase creates a focused passphrase prompt.
func NewPassphrase(title string) *Passphrase {
	ti := textinput.New()
	ti.EchoMode = textinput.EchoPassword
	ti.EchoCharacter = '*'
	ti.CharLimit = 50
	ti.Width = 50
	ti.Focus()

	return &Passphrase{
		title: title,
		input: ti,
	}
}

func (p *Passphrase) Init() tea.Cmd {
	return textinput.Blink
}

func (p *Passphrase) Done() bool {
	return p.done
}

func (p *Passphrase) Cancelled() bool {
	return p.cancelled
}

// Value returns the submitted passphrase once and forgets it.
func (p *Passphrase) Value() string {
	v := p.value
	p.value = ""
	return v
}

func (p *Passphrase) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if p.done {
		return p, nil
	}
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "enter":
			p.value = p.input.Value()
			p.input.Reset()
			p.done = true
			return p, tea.Quit
		case "esc", "ctrl+c":
			p.input.Reset()
			p.done = true
			p.cancelled = true
			return p, tea.Quit
		}
	}

	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	return p, cmd
}

func (p *Passphrase) View() string {
	if p.done {
		return ""
	}
	return TitleStyle.Render(p.title) + "\n\n" +
		PromptStyle.Render(SymbolPrompt) + " " + p.input.View() + "\n" +
		HelpStyle.Render("enter confirm, esc cancel") + "\n"
}
