// Package tod is the clock's idea of the time of day: a 12-hour hour, an AM/PM flag, and the two
// minute digits, with odometer-style increments and conversions to the RTC's register format.
package tod

import "fmt"

// Field is a digit position on the display, and the unit the editor works on.
type Field int

const (
	ExitDown    Field = -1 // Editor sentinel below the first field.
	MinuteUnits Field = 0
	MinuteTens  Field = 1
	Sign        Field = 2 // AM/PM
	Hour        Field = 3
	ExitUp      Field = 4 // Editor sentinel past the last field.
)

func (f Field) String() string {
	switch f {
	case ExitDown:
		return "exit-down"
	case MinuteUnits:
		return "minute-units"
	case MinuteTens:
		return "minute-tens"
	case Sign:
		return "sign"
	case Hour:
		return "hour"
	case ExitUp:
		return "exit-up"
	default:
		return fmt.Sprintf("Field(%d)", int(f))
	}
}

// Time is a time of day to the minute.
type Time struct {
	Hour        uint8 // 1-12
	PM          bool
	MinuteTens  uint8 // 0-5
	MinuteUnits uint8 // 0-9
}

func (t Time) String() string {
	ampm := "AM"
	if t.PM {
		ampm = "PM"
	}
	return fmt.Sprintf("%d:%d%d %s", t.Hour, t.MinuteTens, t.MinuteUnits, ampm)
}

// Valid reports whether every field is in range.
func (t Time) Valid() bool {
	return t.Hour >= 1 && t.Hour <= 12 && t.MinuteTens <= 5 && t.MinuteUnits <= 9
}

// Clamp forces every field into range.  Hour 0 reads as 12.
func (t Time) Clamp() Time {
	switch {
	case t.Hour == 0:
		t.Hour = 12
	case t.Hour > 12:
		t.Hour = 12
	}
	if t.MinuteTens > 5 {
		t.MinuteTens = 5
	}
	if t.MinuteUnits > 9 {
		t.MinuteUnits = 9
	}
	return t
}

// carryRule says what happens when a field is incremented past last: it restarts at first, and if
// carries is set the increment moves on to next.
type carryRule struct {
	last, first uint8
	carries     bool
	next        Field
}

// The hour does not carry into the AM/PM sign; toggling it is only ever done on purpose.
var carryChain = map[Field]carryRule{
	MinuteUnits: {last: 9, first: 0, carries: true, next: MinuteTens},
	MinuteTens:  {last: 5, first: 0, carries: true, next: Hour},
	Hour:        {last: 12, first: 1},
}

func (t *Time) field(f Field) *uint8 {
	switch f {
	case MinuteUnits:
		return &t.MinuteUnits
	case MinuteTens:
		return &t.MinuteTens
	case Hour:
		return &t.Hour
	}
	return nil
}

// Increment advances one field, carrying into higher fields the way an odometer does.
// Incrementing Sign toggles AM/PM.  Sentinel fields are ignored.
func (t *Time) Increment(f Field) {
	if f == Sign {
		t.PM = !t.PM
		return
	}
	for {
		rule, ok := carryChain[f]
		if !ok {
			return
		}
		v := t.field(f)
		if *v < rule.last {
			*v++
			return
		}
		*v = rule.first
		if !rule.carries {
			return
		}
		f = rule.next
	}
}

// AddMinute advances the time by one minute.
func (t *Time) AddMinute() { t.Increment(MinuteUnits) }
