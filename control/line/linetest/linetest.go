// Package linetest emulates the hardware hanging off a line.Port: two cascaded 74HC595 shift
// registers driving the display, and a DS1302 real-time clock sharing the same clock, data, and
// latch/chip-select lines.
package linetest

import (
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// Role identifies which shared line a Pin is.
type Role int

const (
	RoleOther Role = iota
	RoleClock
	RoleData
	RoleLatch
)

// Event is one level written to a pin.
type Event struct {
	Role  Role
	Level gpio.Level
}

// Pin is a gpiotest.Pin that reports every level it is driven to, so that the devices on the bus
// can react to edges.
type Pin struct {
	*gpiotest.Pin
	bus   *Bus
	role  Role
	input bool
}

// Out drives the pin and notifies the bus of the edge.
func (p *Pin) Out(l gpio.Level) error {
	prev := p.Pin.Read()
	if err := p.Pin.Out(l); err != nil {
		return err
	}
	p.bus.edge(p, prev, l)
	return nil
}

// In releases the pin so another device may drive it.
func (p *Pin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	p.input = true
	return nil
}

// Read returns the level on the wire.  A released data line carries whatever the RTC drives.
func (p *Pin) Read() gpio.Level {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	if p.input && p.role == RoleData {
		return gpio.Level(p.bus.rtc.out)
	}
	return p.Pin.Read()
}

// Frame is the content of the shift register chain at one latch: the first byte shifted (segment
// pattern) and the second (digit strobe), both reassembled LSB first.
type Frame struct {
	Segments byte
	Strobe   byte
}

// Write is one completed RTC register write.
type Write struct {
	Command  byte
	Data     byte
	Rejected bool // true if write protection blocked it
}

// Bus wires the emulated devices to three pins.
type Bus struct {
	Clock *Pin
	Data  *Pin
	Latch *Pin

	mu     sync.Mutex
	events []Event
	bits   []bool
	frames []Frame
	rtc    ds1302
}

// NewBus returns a Bus with all lines low and an RTC whose registers are zero.
func NewBus() *Bus {
	b := &Bus{}
	b.Clock = &Pin{Pin: &gpiotest.Pin{N: "SCLK", Num: 2}, bus: b, role: RoleClock}
	b.Data = &Pin{Pin: &gpiotest.Pin{N: "DS", Num: 0}, bus: b, role: RoleData}
	b.Latch = &Pin{Pin: &gpiotest.Pin{N: "RCLK", Num: 4}, bus: b, role: RoleLatch}
	return b
}

func (b *Bus) edge(p *Pin, prev, l gpio.Level) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p.input = false
	b.events = append(b.events, Event{Role: p.role, Level: l})
	rising := prev == gpio.Low && l == gpio.High
	falling := prev == gpio.High && l == gpio.Low
	switch p.role {
	case RoleClock:
		if rising {
			bit := b.dataLevel()
			b.bits = append(b.bits, bit)
			b.rtc.rise(bit)
		}
		if falling {
			b.rtc.fall()
		}
	case RoleLatch:
		if rising {
			b.latch()
			b.rtc.selectChip(true)
		}
		if falling {
			b.rtc.selectChip(false)
		}
	}
}

// dataLevel must be called with mu held.
func (b *Bus) dataLevel() bool {
	if b.Data.input {
		return b.rtc.out
	}
	return bool(b.Data.Pin.Read())
}

func (b *Bus) latch() {
	var last [16]bool
	n := len(b.bits)
	for i := 0; i < 16 && i < n; i++ {
		last[15-i] = b.bits[n-1-i]
	}
	var f Frame
	for i := 0; i < 8; i++ {
		if last[i] {
			f.Segments |= 1 << i
		}
		if last[8+i] {
			f.Strobe |= 1 << i
		}
	}
	b.frames = append(b.frames, f)
}

// Events returns every level written to the bus's pins, in order.
func (b *Bus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

// Bits returns every bit clocked into the shift registers, in order.
func (b *Bus) Bits() []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bool(nil), b.bits...)
}

// Frames returns the frames latched so far.
func (b *Bus) Frames() []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Frame(nil), b.frames...)
}

// Reset forgets recorded events, bits, frames and RTC writes.  Register contents are kept.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events, b.bits, b.frames, b.rtc.writes = nil, nil, nil, nil
}

// Register returns the content of RTC register addr (0-31).
func (b *Bus) Register(addr int) byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rtc.regs[addr]
}

// SetRegister stores v in RTC register addr as if the clock had counted to it.
func (b *Bus) SetRegister(addr int, v byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rtc.regs[addr] = v
}

// Writes returns the register writes the RTC has received.
func (b *Bus) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Write(nil), b.rtc.writes...)
}

// Selected reports whether the RTC's chip select is asserted.
func (b *Bus) Selected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rtc.selected
}

// DS1302 register addresses used by the clock.
const (
	RegSeconds      = 0
	RegMinutes      = 1
	RegHours        = 2
	RegWriteProtect = 7
)

// ds1302 follows the datasheet's single-byte transfer: eight command bits LSB first on rising
// edges, then either eight data bits in on rising edges, or eight data bits out, the first on the
// falling edge of the last command clock and the rest on each following falling edge.
type ds1302 struct {
	regs     [32]byte
	selected bool
	count    int
	cmd      byte
	data     byte
	reading  bool
	idx      int
	out      bool
	writes   []Write
}

func (r *ds1302) selectChip(on bool) {
	r.selected = on
	r.count, r.cmd, r.data, r.idx = 0, 0, 0, 0
	r.reading = false
	r.out = false
}

func (r *ds1302) addr() int { return int(r.cmd>>1) & 0x1f }

func (r *ds1302) rise(bit bool) {
	if !r.selected || r.reading {
		return
	}
	if r.count < 8 {
		if bit {
			r.cmd |= 1 << r.count
		}
		r.count++
		return
	}
	if r.count < 16 {
		if bit {
			r.data |= 1 << (r.count - 8)
		}
		r.count++
		if r.count == 16 {
			r.store()
		}
	}
}

func (r *ds1302) fall() {
	if !r.selected {
		return
	}
	if !r.reading && r.count == 8 && r.cmd&0x01 == 1 {
		r.reading = true
		r.idx = 0
	}
	if r.reading && r.idx < 8 {
		r.out = r.regs[r.addr()]>>r.idx&1 == 1
		r.idx++
	}
}

func (r *ds1302) store() {
	if r.cmd&0x80 == 0 {
		return
	}
	w := Write{Command: r.cmd, Data: r.data}
	if r.regs[RegWriteProtect]&0x80 != 0 && r.addr() != RegWriteProtect {
		w.Rejected = true
	} else {
		r.regs[r.addr()] = r.data
	}
	r.writes = append(r.writes, w)
}
