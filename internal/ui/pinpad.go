package ui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yolodolo42/hwsign/internal/secret"
)

const gridSize = 3

// PinPad is a 3x3 grid of blank buttons matching the scrambled matrix shown
// on the device. Cells are chosen with the arrow keys and space, or with
// the numeric keypad digits that sit in the same place.
type PinPad struct {
	title     string
	pad       *secret.PinPad
	cursor    int
	pin       string
	done      bool
	cancelled bool
}

// NewPinPad creates a PIN pad bounded to maxLen positions.
func NewPinPad(title string, maxLen int) *PinPad {
	return &PinPad{
		title:  title,
		pad:    secret.NewPinPad(maxLen),
		cursor: 4,
	}
}

func (p *PinPad) Init() tea.Cmd {
	return nil
}

// Done reports whether the user submitted or cancelled.
func (p *PinPad) Done() bool {
	return p.done
}

// Cancelled reports whether the user dismissed the pad.
func (p *PinPad) Cancelled() bool {
	return p.cancelled
}

// PIN returns the submitted positions once and forgets them.
func (p *PinPad) PIN() string {
	pin := p.pin
	p.pin = ""
	return pin
}

func (p *PinPad) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if p.done {
		return p, nil
	}
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return p, nil
	}

	switch s := key.String(); s {
	case "up", "k":
		if p.cursor >= gridSize {
			p.cursor -= gridSize
		}
	case "down", "j":
		if p.cursor < gridSize*(gridSize-1) {
			p.cursor += gridSize
		}
	case "left", "h":
		if p.cursor%gridSize > 0 {
			p.cursor--
		}
	case "right", "l":
		if p.cursor%gridSize < gridSize-1 {
			p.cursor++
		}
	case " ":
		p.pad.Press(p.cursor)
	case "backspace":
		p.pad.Backspace()
	case "enter":
		if p.pad.Len() == 0 {
			return p, nil
		}
		p.pin = p.pad.Take()
		p.done = true
		return p, tea.Quit
	case "esc", "ctrl+c":
		p.pad.Clear()
		p.done = true
		p.cancelled = true
		return p, tea.Quit
	default:
		if len(s) == 1 && s[0] >= '1' && s[0] <= '9' {
			p.pad.PressDigit(rune(s[0]))
		}
	}
	return p, nil
}

func (p *PinPad) View() string {
	if p.done {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(p.title))
	b.WriteString("\n\n")

	rows := make([]string, gridSize)
	for r := 0; r < gridSize; r++ {
		cells := make([]string, gridSize)
		for c := 0; c < gridSize; c++ {
			style := CellStyle
			if r*gridSize+c == p.cursor {
				style = CellActive
			}
			cells[c] = style.Render(SymbolDot)
		}
		rows[r] = lipgloss.JoinHorizontal(lipgloss.Top, cells...)
	}
	b.WriteString(lipgloss.JoinVertical(lipgloss.Left, rows...))
	b.WriteString("\n\n")

	b.WriteString(PromptStyle.Render(SymbolPrompt) + " " + p.pad.Masked())
	if p.pad.Len() >= p.pad.MaxLen() {
		b.WriteString("  " + WarningStyle.Render("maximum length"))
	}
	b.WriteString("\n")
	b.WriteString(HelpStyle.Render("arrows/space or keypad digits, backspace delete, enter confirm, esc cancel"))
	b.WriteString("\n")
	return b.String()
}
