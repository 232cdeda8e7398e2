// Package line wraps single GPIO pins in the small set of operations the bit-banged transports
// need: set, clear, toggle, read, and direction changes.
package line

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Line is one GPIO pin.  It remembers the last level it drove so that Toggle does not depend on
// reading back an output, which not every driver supports.
type Line struct {
	pin   gpio.PinIO
	level gpio.Level
}

// New returns a Line for p.  The pin's direction is left alone until Output or Input is called.
func New(p gpio.PinIO) *Line {
	return &Line{pin: p}
}

func (l *Line) String() string {
	if l == nil || l.pin == nil {
		return "<nil>"
	}
	return l.pin.Name()
}

// Output makes the line an output driving the provided level.
func (l *Line) Output(level gpio.Level) error {
	if err := l.pin.Out(level); err != nil {
		return fmt.Errorf("%s: set output %v: %w", l, level, err)
	}
	l.level = level
	return nil
}

// Input makes the line an input.
func (l *Line) Input(pull gpio.Pull) error {
	if err := l.pin.In(pull, gpio.NoEdge); err != nil {
		return fmt.Errorf("%s: set input: %w", l, err)
	}
	return nil
}

// Set drives the line high.
func (l *Line) Set() error { return l.Output(gpio.High) }

// Clear drives the line low.
func (l *Line) Clear() error { return l.Output(gpio.Low) }

// Toggle inverts the last level driven on the line.
func (l *Line) Toggle() error { return l.Output(!l.level) }

// Drive sets the line high if v is true and low otherwise.
func (l *Line) Drive(v bool) error { return l.Output(gpio.Level(v)) }

// Read samples the pin.
func (l *Line) Read() gpio.Level { return l.pin.Read() }

// Pulse drives the line high, waits width, and drives it low again.  A zero width produces the
// shortest pulse the driver can make.
func (l *Line) Pulse(width time.Duration) error {
	if err := l.Set(); err != nil {
		return fmt.Errorf("pulse: %w", err)
	}
	wait(width)
	if err := l.Clear(); err != nil {
		return fmt.Errorf("pulse: %w", err)
	}
	return nil
}

func wait(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

// Port is the set of lines shared between the display's shift registers and the real-time clock.
//
// The latch line of the shift registers is also the RTC's chip select.  The registers only update
// their outputs on the rising edge of the latch, and the renderer always shifts a full frame before
// latching, so the garbage that RTC traffic leaves in the registers is never displayed.
type Port struct {
	Clock  *Line
	Data   *Line
	Latch  *Line
	DataIn *Line // Pin sampled during RTC reads; the same pad as Data unless wired separately.
}

// NewPort builds a Port from pins.  dataIn may be nil, in which case Data is sampled directly.
func NewPort(clock, data, latch, dataIn gpio.PinIO) *Port {
	p := &Port{
		Clock: New(clock),
		Data:  New(data),
		Latch: New(latch),
	}
	if dataIn == nil {
		p.DataIn = p.Data
	} else {
		p.DataIn = New(dataIn)
	}
	return p
}

// Configure makes the clock, data, and latch lines outputs held low.  Both transports require this
// before their first use.
func (p *Port) Configure() error {
	for _, l := range []*Line{p.Clock, p.Data, p.Latch} {
		if err := l.Clear(); err != nil {
			return fmt.Errorf("configure port: %w", err)
		}
	}
	if p.DataIn != p.Data {
		if err := p.DataIn.Input(gpio.PullNoChange); err != nil {
			return fmt.Errorf("configure port: %w", err)
		}
	}
	return nil
}
