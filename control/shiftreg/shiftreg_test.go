package shiftreg

import (
	"math/bits"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jrockway/seg7-rtc-clock/control/line"
	"github.com/jrockway/seg7-rtc-clock/control/line/linetest"
	"periph.io/x/conn/v3/gpio"
)

func newDev(t *testing.T) (*Dev, *linetest.Bus) {
	t.Helper()
	bus := linetest.NewBus()
	p := line.NewPort(bus.Clock, bus.Data, bus.Latch, nil)
	if err := p.Configure(); err != nil {
		t.Fatalf("configure port: %v", err)
	}
	bus.Reset()
	return New(p), bus
}

func TestShiftOut(t *testing.T) {
	testData := []struct {
		in    byte
		order BitOrder
		want  []bool
	}{
		{0x80, MSBFirst, []bool{true, false, false, false, false, false, false, false}},
		{0x80, LSBFirst, []bool{false, false, false, false, false, false, false, true}},
		{0x03, MSBFirst, []bool{false, false, false, false, false, false, true, true}},
		{0x03, LSBFirst, []bool{true, true, false, false, false, false, false, false}},
	}
	for _, test := range testData {
		d, bus := newDev(t)
		if err := d.ShiftOut(test.in, test.order); err != nil {
			t.Fatalf("shift out: %v", err)
		}
		if diff := cmp.Diff(test.want, bus.Bits()); diff != "" {
			t.Errorf("%#02x %v: bits (-want +got):\n%s", test.in, test.order, diff)
		}
	}
}

func TestClockPulsesAndIdleLevels(t *testing.T) {
	d, bus := newDev(t)
	if err := d.ShiftOut(0xa5, MSBFirst); err != nil {
		t.Fatalf("shift out: %v", err)
	}
	var rises, falls int
	var level gpio.Level
	for _, e := range bus.Events() {
		if e.Role != linetest.RoleClock {
			continue
		}
		if e.Level && !level {
			rises++
		}
		if !e.Level && level {
			falls++
		}
		level = e.Level
	}
	if got, want := rises, 8; got != want {
		t.Errorf("clock rising edges:\n  got: %v\n want: %v", got, want)
	}
	if got, want := falls, 8; got != want {
		t.Errorf("clock falling edges:\n  got: %v\n want: %v", got, want)
	}
	if got, want := bus.Clock.Read(), gpio.Low; got != want {
		t.Errorf("clock idles:\n  got: %v\n want: %v", got, want)
	}
	if got := len(bus.Frames()); got != 0 {
		t.Errorf("frames latched without Latch: %d", got)
	}
}

func TestMSBFirstIsReversedLSBFirst(t *testing.T) {
	for b := 0; b < 256; b++ {
		d, bus := newDev(t)
		if err := d.ShiftOut(byte(b), MSBFirst); err != nil {
			t.Fatalf("shift out: %v", err)
		}
		msb := bus.Bits()
		d, bus = newDev(t)
		if err := d.ShiftOut(bits.Reverse8(byte(b)), LSBFirst); err != nil {
			t.Fatalf("shift out: %v", err)
		}
		if diff := cmp.Diff(msb, bus.Bits()); diff != "" {
			t.Fatalf("%#02x: MSB first differs from reversed LSB first (-msb +lsb):\n%s", b, diff)
		}
	}
}

func TestLatch(t *testing.T) {
	d, bus := newDev(t)
	if err := d.Write(LSBFirst, 0x31, 0x20); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := d.Latch(); err != nil {
		t.Fatalf("latch: %v", err)
	}
	want := []linetest.Frame{{Segments: 0x31, Strobe: 0x20}}
	if diff := cmp.Diff(want, bus.Frames()); diff != "" {
		t.Errorf("frames (-want +got):\n%s", diff)
	}
	if got, want := bus.Latch.Read(), gpio.Low; got != want {
		t.Errorf("latch idles:\n  got: %v\n want: %v", got, want)
	}
}
