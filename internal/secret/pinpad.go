package secret

import (
	"strings"
)

// DefaultMaxPinLength bounds PIN entry when no explicit limit is configured.
const DefaultMaxPinLength = 10

// PinLayout maps grid cells, read left to right and top to bottom, to the
// position digit sent to the device. The device shows its own scrambled
// digits; the host grid only ever shows blank buttons.
var PinLayout = [9]byte{'7', '8', '9', '4', '5', '6', '1', '2', '3'}

// PinPad accumulates a PIN as device matrix positions.
type PinPad struct {
	entry  []byte
	maxLen int
}

// NewPinPad returns an empty pad. maxLen <= 0 selects DefaultMaxPinLength.
func NewPinPad(maxLen int) *PinPad {
	if maxLen <= 0 {
		maxLen = DefaultMaxPinLength
	}
	return &PinPad{maxLen: maxLen}
}

// Press records the grid cell (0-8). Presses past the length bound or
// outside the grid are ignored; the return value reports whether the
// press was recorded.
func (p *PinPad) Press(cell int) bool {
	if cell < 0 || cell >= len(PinLayout) {
		return false
	}
	if len(p.entry) >= p.maxLen {
		return false
	}
	p.entry = append(p.entry, PinLayout[cell])
	return true
}

// PressDigit records the cell whose position digit is d ('1'-'9').
func (p *PinPad) PressDigit(d rune) bool {
	for cell, pos := range PinLayout {
		if rune(pos) == d {
			return p.Press(cell)
		}
	}
	return false
}

// Backspace removes the last entered position.
func (p *PinPad) Backspace() {
	if len(p.entry) > 0 {
		p.entry[len(p.entry)-1] = 0
		p.entry = p.entry[:len(p.entry)-1]
	}
}

func (p *PinPad) Len() int {
	return len(p.entry)
}

func (p *PinPad) MaxLen() int {
	return p.maxLen
}

func (p *PinPad) CanBackspace() bool {
	return len(p.entry) > 0
}

// Masked renders one '*' per entered position.
func (p *PinPad) Masked() string {
	return strings.Repeat("*", len(p.entry))
}

// Take returns the entered positions and clears the pad.
func (p *PinPad) Take() string {
	pin := string(p.entry)
	p.Clear()
	return pin
}

// Clear wipes the entry.
func (p *PinPad) Clear() {
	for i := range p.entry {
		p.entry[i] = 0
	}
	p.entry = p.entry[:0]
}
