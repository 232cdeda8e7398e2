// Package shiftreg bit-bangs bytes into 74HC595-style serial-in/parallel-out shift registers.
//
// The clock and data lines are also used by the RTC transport, which reuses ShiftOut and Pulse for
// its own framing.
package shiftreg

import (
	"fmt"
	"time"

	"github.com/jrockway/seg7-rtc-clock/control/line"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var bytesShifted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "shiftreg_bytes_total",
	Help: "number of bytes shifted out on the serial data line",
})

// BitOrder selects which end of a byte is sent first.
type BitOrder int

const (
	MSBFirst BitOrder = iota
	LSBFirst
)

func (o BitOrder) String() string {
	if o == LSBFirst {
		return "LSB first"
	}
	return "MSB first"
}

// Dev drives the shift register lines.  The lines must be outputs held low before the first call;
// line.Port.Configure does that.
type Dev struct {
	clock, data, latch *line.Line

	// HalfPeriod is the time each clock or latch pulse is held high.  Zero is as fast as the GPIO
	// driver allows, which is slower than either chip needs on a Linux host.
	HalfPeriod time.Duration
}

// New returns a Dev using the port's clock, data, and latch lines.
func New(p *line.Port) *Dev {
	return &Dev{clock: p.Clock, data: p.Data, latch: p.Latch}
}

// Pulse raises and lowers the clock line once.
func (d *Dev) Pulse() error {
	if err := d.clock.Pulse(d.HalfPeriod); err != nil {
		return fmt.Errorf("clock pulse: %w", err)
	}
	return nil
}

// ShiftOut puts each bit of b on the data line and pulses the clock, eight times.
func (d *Dev) ShiftOut(b byte, order BitOrder) error {
	for i := 0; i < 8; i++ {
		var bit bool
		if order == MSBFirst {
			bit = b&(0x80>>i) != 0
		} else {
			bit = b&(1<<i) != 0
		}
		if err := d.data.Drive(bit); err != nil {
			return fmt.Errorf("shift out %#02x (%v): bit %d: %w", b, order, i, err)
		}
		if err := d.Pulse(); err != nil {
			return fmt.Errorf("shift out %#02x (%v): bit %d: %w", b, order, i, err)
		}
	}
	bytesShifted.Inc()
	return nil
}

// Write shifts each byte out in turn.
func (d *Dev) Write(order BitOrder, bs ...byte) error {
	for _, b := range bs {
		if err := d.ShiftOut(b, order); err != nil {
			return err
		}
	}
	return nil
}

// Latch pulses the latch line, copying the shift register contents to the outputs.
func (d *Dev) Latch() error {
	if err := d.latch.Pulse(d.HalfPeriod); err != nil {
		return fmt.Errorf("latch: %w", err)
	}
	return nil
}
