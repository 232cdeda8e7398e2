package rtc

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jrockway/seg7-rtc-clock/control/line"
	"github.com/jrockway/seg7-rtc-clock/control/line/linetest"
	"github.com/jrockway/seg7-rtc-clock/control/shiftreg"
	"periph.io/x/conn/v3/gpio"
)

func newDev(t *testing.T, bus *linetest.Bus, clock gpio.PinIO) *Dev {
	t.Helper()
	p := line.NewPort(clock, bus.Data, bus.Latch, nil)
	if err := p.Configure(); err != nil {
		t.Fatalf("configure port: %v", err)
	}
	return New(p, shiftreg.New(p))
}

func TestReadRegister(t *testing.T) {
	bus := linetest.NewBus()
	bus.SetRegister(linetest.RegHours, 0x83)
	bus.SetRegister(linetest.RegMinutes, 0x15)
	d := newDev(t, bus, bus.Clock)

	h, err := d.ReadHour()
	if err != nil {
		t.Fatalf("read hour: %v", err)
	}
	if got, want := h, byte(0x83); got != want {
		t.Errorf("hour register:\n  got: %#02x\n want: %#02x", got, want)
	}
	m, err := d.ReadMinute()
	if err != nil {
		t.Fatalf("read minute: %v", err)
	}
	if got, want := m, byte(0x15); got != want {
		t.Errorf("minute register:\n  got: %#02x\n want: %#02x", got, want)
	}
	if bus.Selected() {
		t.Error("chip select still asserted after read")
	}
	if got, want := bus.Data.Read(), gpio.Low; got != want {
		t.Errorf("data line after read:\n  got: %v\n want: %v", got, want)
	}
}

func TestWriteRegister(t *testing.T) {
	bus := linetest.NewBus()
	d := newDev(t, bus, bus.Clock)

	if err := d.SetWriteProtect(false); err != nil {
		t.Fatalf("clear write protect: %v", err)
	}
	if err := d.ResetSeconds(); err != nil {
		t.Fatalf("reset seconds: %v", err)
	}
	if err := d.WriteHour(0xb1); err != nil {
		t.Fatalf("write hour: %v", err)
	}
	if err := d.WriteMinute(0x59); err != nil {
		t.Fatalf("write minute: %v", err)
	}
	if err := d.SetWriteProtect(true); err != nil {
		t.Fatalf("set write protect: %v", err)
	}
	if err := d.WriteMinute(0x00); err != nil {
		t.Fatalf("write minute while protected: %v", err)
	}

	want := []linetest.Write{
		{Command: CommandWriteProtect, Data: WriteProtectClear},
		{Command: CommandSecondsWrite, Data: 0x00},
		{Command: CommandHourWrite, Data: 0xb1},
		{Command: CommandMinuteWrite, Data: 0x59},
		{Command: CommandWriteProtect, Data: WriteProtectSet},
		{Command: CommandMinuteWrite, Data: 0x00, Rejected: true},
	}
	if diff := cmp.Diff(want, bus.Writes()); diff != "" {
		t.Errorf("writes (-want +got):\n%s", diff)
	}
	if got, want := bus.Register(linetest.RegMinutes), byte(0x59); got != want {
		t.Errorf("minute register:\n  got: %#02x\n want: %#02x", got, want)
	}
}

func TestReadThenWriteBackIsIdempotent(t *testing.T) {
	commands := []struct{ read, write byte }{
		{CommandHourRead, CommandHourWrite},
		{CommandMinuteRead, CommandMinuteWrite},
	}
	for _, v := range []byte{0x00, 0x01, 0x5a, 0x80, 0xa5, 0xff} {
		for _, c := range commands {
			bus := linetest.NewBus()
			addr := int(c.read>>1) & 0x1f
			bus.SetRegister(addr, v)
			d := newDev(t, bus, bus.Clock)
			got, err := d.ReadRegister(c.read)
			if err != nil {
				t.Fatalf("read %#02x: %v", c.read, err)
			}
			if err := d.WriteRegister(c.write, got); err != nil {
				t.Fatalf("write %#02x: %v", c.write, err)
			}
			if got, want := bus.Register(addr), v; got != want {
				t.Errorf("register %d after read/write back:\n  got: %#02x\n want: %#02x", addr, got, want)
			}
		}
	}
}

var errBroken = errors.New("broken pin")

type brokenPin struct {
	gpio.PinIO
	broken bool
}

func (p *brokenPin) Out(l gpio.Level) error {
	if p.broken {
		return errBroken
	}
	return p.PinIO.Out(l)
}

func TestChipSelectReleasedOnError(t *testing.T) {
	bus := linetest.NewBus()
	clock := &brokenPin{PinIO: bus.Clock}
	d := newDev(t, bus, clock)
	clock.broken = true

	if err := d.WriteMinute(0x12); !errors.Is(err, errBroken) {
		t.Errorf("write with broken clock:\n  got: %v\n want: %v", err, errBroken)
	}
	if bus.Selected() {
		t.Error("chip select left asserted after failed write")
	}
	if _, err := d.ReadHour(); !errors.Is(err, errBroken) {
		t.Errorf("read with broken clock:\n  got: %v\n want: %v", err, errBroken)
	}
	if bus.Selected() {
		t.Error("chip select left asserted after failed read")
	}
}
