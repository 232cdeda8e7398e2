// Package rtc talks to a DS1302 real-time clock over its three-wire interface:
// https://datasheets.maximintegrated.com/en/ds/DS1302.pdf
//
// The chip shares its serial clock and data lines with the display's shift registers, and its chip
// select with their latch.  Callers must not render while a transfer is in progress; in this
// program both happen on the clock's main loop, so they never overlap.
package rtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jrockway/seg7-rtc-clock/control/line"
	"github.com/jrockway/seg7-rtc-clock/control/shiftreg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"periph.io/x/conn/v3/gpio"
)

// Command bytes from datasheet table 3.  Bit 0 selects read, bits 1-5 the register, and bit 7
// must be set.
const (
	CommandSecondsWrite = 0x80
	CommandMinuteWrite  = 0x82
	CommandMinuteRead   = 0x83
	CommandHourWrite    = 0x84
	CommandHourRead     = 0x85
	CommandWriteProtect = 0x8e

	WriteProtectSet   = 0x80
	WriteProtectClear = 0x00
)

var (
	transfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtc_transfers_total",
		Help: "number of single-byte transfers with the real-time clock, by direction",
	}, []string{"op"})

	transferErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtc_transfer_errors_total",
		Help: "number of real-time clock transfers that failed to drive the GPIO lines",
	})
)

// Dev is a DS1302 on a line.Port.
type Dev struct {
	mu   sync.Mutex
	bus  *shiftreg.Dev
	ce   *line.Line
	data *line.Line
	in   *line.Line
}

// New returns a Dev that shares bus's clock and data lines.  The port must already be configured.
func New(p *line.Port, bus *shiftreg.Dev) *Dev {
	return &Dev{bus: bus, ce: p.Latch, data: p.Data, in: p.DataIn}
}

// session asserts chip select.  The returned release must run on every path out of the transfer.
func (d *Dev) session() (release func() error, err error) {
	if err := d.ce.Set(); err != nil {
		return nil, fmt.Errorf("assert chip select: %w", err)
	}
	return func() error {
		if err := d.ce.Clear(); err != nil {
			return fmt.Errorf("release chip select: %w", err)
		}
		return nil
	}, nil
}

// transfer runs f with chip select held, releasing it however f returns.
func (d *Dev) transfer(op string, f func() error) (retErr error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	transfers.WithLabelValues(op).Inc()
	defer func() {
		if retErr != nil {
			transferErrors.Inc()
		}
	}()

	release, err := d.session()
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			retErr = errors.Join(retErr, err)
		}
	}()
	return f()
}

// WriteRegister sends command and then data.
func (d *Dev) WriteRegister(command, data byte) error {
	err := d.transfer("write", func() error {
		if err := d.bus.Write(shiftreg.LSBFirst, command, data); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write register (command %#02x): %w", command, err)
	}
	return nil
}

// ReadRegister sends command and reads back one byte.
func (d *Dev) ReadRegister(command byte) (byte, error) {
	var result byte
	err := d.transfer("read", func() error {
		if err := d.bus.ShiftOut(command, shiftreg.LSBFirst); err != nil {
			return err
		}
		if err := d.data.Input(gpio.PullNoChange); err != nil {
			return err
		}
		// The chip presents each bit after a falling clock edge, the first one after the last
		// command bit.  Sample, then clock the next one out.
		var readErr error
		for i := 0; i < 8; i++ {
			result >>= 1
			if d.in.Read() == gpio.High {
				result |= 0x80
			}
			if err := d.bus.Pulse(); err != nil {
				readErr = err
				break
			}
		}
		if err := d.data.Clear(); err != nil {
			return errors.Join(readErr, err)
		}
		return readErr
	})
	if err != nil {
		return 0, fmt.Errorf("read register (command %#02x): %w", command, err)
	}
	return result, nil
}

// ReadHour returns the raw hour register.
func (d *Dev) ReadHour() (byte, error) { return d.ReadRegister(CommandHourRead) }

// WriteHour stores the raw hour register.
func (d *Dev) WriteHour(h byte) error { return d.WriteRegister(CommandHourWrite, h) }

// ReadMinute returns the raw minute register, two BCD digits.
func (d *Dev) ReadMinute() (byte, error) { return d.ReadRegister(CommandMinuteRead) }

// WriteMinute stores the raw minute register.
func (d *Dev) WriteMinute(m byte) error { return d.WriteRegister(CommandMinuteWrite, m) }

// ResetSeconds zeroes the seconds register, which also restarts the chip's countdown chain.  The
// remaining registers should be written within a second of this.
func (d *Dev) ResetSeconds() error { return d.WriteRegister(CommandSecondsWrite, 0x00) }

// SetWriteProtect sets or clears the chip's write-protect bit.
func (d *Dev) SetWriteProtect(on bool) error {
	if on {
		return d.WriteRegister(CommandWriteProtect, WriteProtectSet)
	}
	return d.WriteRegister(CommandWriteProtect, WriteProtectClear)
}
