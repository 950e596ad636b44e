package secret

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapture(t *testing.T) {
	t.Run("accept delivers secret once", func(t *testing.T) {
		var got []Outcome
		c := NewCapture(KindPIN, func(o Outcome) { got = append(got, o) })

		assert.True(t, c.Accept("1234"))
		assert.False(t, c.Accept("9999"))
		assert.False(t, c.Cancel())

		require.Len(t, got, 1)
		assert.Equal(t, Outcome{Kind: KindPIN, Secret: "1234"}, got[0])
	})

	t.Run("cancel carries no secret", func(t *testing.T) {
		var got []Outcome
		c := NewCapture(KindPassphrase, func(o Outcome) { got = append(got, o) })

		assert.True(t, c.Cancel())
		assert.False(t, c.Accept("late"))

		require.Len(t, got, 1)
		assert.True(t, got[0].Cancelled)
		assert.Empty(t, got[0].Secret)
		assert.Equal(t, KindPassphrase, got[0].Kind)
	})

	t.Run("concurrent resolution resumes once", func(t *testing.T) {
		var mu sync.Mutex
		calls := 0
		c := NewCapture(KindPIN, func(Outcome) {
			mu.Lock()
			calls++
			mu.Unlock()
		})

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if i%2 == 0 {
					c.Accept("1")
				} else {
					c.Cancel()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, calls)
	})
}

func TestPinPad(t *testing.T) {
	t.Run("maps grid cells through layout", func(t *testing.T) {
		p := NewPinPad(0)
		for cell := 0; cell < 9; cell++ {
			require.True(t, p.Press(cell))
		}
		assert.Equal(t, "789456123", p.Take())
		assert.Equal(t, 0, p.Len())
	})

	t.Run("press digit selects matching cell", func(t *testing.T) {
		p := NewPinPad(0)
		for _, d := range "1234" {
			require.True(t, p.PressDigit(d))
		}
		assert.False(t, p.PressDigit('0'))
		assert.Equal(t, "1234", p.Take())
	})

	t.Run("masks entry", func(t *testing.T) {
		p := NewPinPad(0)
		assert.Equal(t, "", p.Masked())
		assert.False(t, p.CanBackspace())

		p.Press(0)
		p.Press(4)
		assert.Equal(t, "**", p.Masked())
		assert.True(t, p.CanBackspace())
	})

	t.Run("backspace removes last position", func(t *testing.T) {
		p := NewPinPad(0)
		p.PressDigit('1')
		p.PressDigit('2')
		p.Backspace()
		p.PressDigit('3')
		assert.Equal(t, "13", p.Take())

		p.Backspace()
		assert.Equal(t, 0, p.Len())
	})

	t.Run("enforces length bound", func(t *testing.T) {
		p := NewPinPad(DefaultMaxPinLength)
		for i := 0; i < 15; i++ {
			p.Press(i % 9)
		}
		assert.Equal(t, 10, p.Len())

		short := NewPinPad(4)
		for i := 0; i < 6; i++ {
			short.Press(0)
		}
		assert.Equal(t, "7777", short.Take())
	})

	t.Run("ignores cells outside grid", func(t *testing.T) {
		p := NewPinPad(0)
		assert.False(t, p.Press(-1))
		assert.False(t, p.Press(9))
		assert.Equal(t, 0, p.Len())
	})
}
