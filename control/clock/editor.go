package clock

import (
	"github.com/jrockway/seg7-rtc-clock/control/keys"
	"github.com/jrockway/seg7-rtc-clock/control/screen"
	"github.com/jrockway/seg7-rtc-clock/control/tod"
)

// Outcome is what the editor asks its caller to do after a key.
type Outcome int

const (
	Stay    Outcome = iota // Nothing changed.
	Moved                  // The edit position changed.
	Changed                // The time changed; recompute the display.
	Commit                 // Past the last field: write the time to the RTC and stop editing.
	Abort                  // Before the first field: reload the time from the RTC and stop editing.
)

func (o Outcome) String() string {
	switch o {
	case Stay:
		return "stay"
	case Moved:
		return "moved"
	case Changed:
		return "changed"
	case Commit:
		return "commit"
	case Abort:
		return "abort"
	default:
		return "unknown"
	}
}

// Editor walks the four display fields.  A moves to the next field, B to the previous one, and T
// increments the current field.
type Editor struct {
	Pos  tod.Field
	Time tod.Time
}

// NewEditor starts editing t at the minute units.
func NewEditor(t tod.Time) *Editor {
	return &Editor{Pos: tod.MinuteUnits, Time: t}
}

// Handle applies one tapped key.
func (e *Editor) Handle(c keys.Code) Outcome {
	switch c {
	case keys.A:
		e.Pos++
		if e.Pos > tod.Hour {
			e.Pos = tod.ExitUp
			return Commit
		}
		return Moved
	case keys.B:
		e.Pos--
		if e.Pos < tod.MinuteUnits {
			e.Pos = tod.ExitDown
			return Abort
		}
		return Moved
	case keys.T:
		e.Time.Increment(e.Pos)
		return Changed
	}
	return Stay
}

// Hidden returns the slot to blank on this frame.  The field being edited is hidden for the second
// half of every blink period of 2*half ticks.
func (e *Editor) Hidden(ticks, half uint32) int {
	if ticks > half {
		return int(e.Pos)
	}
	return screen.NoHide
}
