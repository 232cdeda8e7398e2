package keys

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
)

func TestClassify(t *testing.T) {
	testData := []struct {
		sample uint8
		want   Code
	}{
		{0, T},
		{61, T},
		{62, B},
		{123, B},
		{124, A},
		{184, A},
		{185, None},
		{255, None},
	}
	for _, test := range testData {
		if got, want := DefaultThresholds.Classify(test.sample), test.want; got != want {
			t.Errorf("classify %d:\n  got: %v\n want: %v", test.sample, got, want)
		}
	}
}

func TestThresholdsFlag(t *testing.T) {
	var th Thresholds
	if err := th.Set("50, 100,200"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, want := th, (Thresholds{T: 50, B: 100, A: 200}); got != want {
		t.Errorf("parsed thresholds:\n  got: %v\n want: %v", got, want)
	}
	if got, want := th.String(), "50,100,200"; got != want {
		t.Errorf("string:\n  got: %v\n want: %v", got, want)
	}
	if err := th.Set("100,50,200"); !errors.Is(err, ErrThresholds) {
		t.Errorf("set overlapping bands:\n  got: %v\n want: %v", err, ErrThresholds)
	}
	for _, bad := range []string{"", "1,2", "1,2,300", "a,b,c"} {
		if err := th.Set(bad); err == nil {
			t.Errorf("set %q: expected error", bad)
		}
	}
	if got, want := th, (Thresholds{T: 50, B: 100, A: 200}); got != want {
		t.Errorf("thresholds changed by failed Set:\n  got: %v\n want: %v", got, want)
	}
}

func TestTapEdge(t *testing.T) {
	seq := []Code{None, None, A, A, None, A}
	want := []bool{false, false, true, false, false, true}
	var s State
	var got []bool
	for _, c := range seq {
		s.Observe(c)
		_, tapped := s.Consume()
		got = append(got, tapped)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("taps (-want +got):\n%s", diff)
	}
}

func TestHeldKeyChangingBandDoesNotTap(t *testing.T) {
	var s State
	s.Observe(None)
	if !s.Observe(A) {
		t.Fatal("expected tap on None -> A")
	}
	if c, ok := s.Consume(); !ok || c != A {
		t.Errorf("consume:\n  got: %v, %v\n want: %v, true", c, ok, A)
	}
	if s.Observe(B) {
		t.Error("unexpected tap on A -> B")
	}
	if _, ok := s.Consume(); ok {
		t.Error("tap pending after A -> B")
	}
	if got, want := s.Previous(), A; got != want {
		t.Errorf("previous:\n  got: %v\n want: %v", got, want)
	}
	if got, want := s.Current(), B; got != want {
		t.Errorf("current:\n  got: %v\n want: %v", got, want)
	}
}

func TestTapIsOneShot(t *testing.T) {
	var s State
	s.Observe(T)
	s.Observe(None)
	if c, ok := s.Consume(); !ok || c != T {
		t.Errorf("consume after release:\n  got: %v, %v\n want: %v, true", c, ok, T)
	}
	if _, ok := s.Consume(); ok {
		t.Error("second consume returned a tap")
	}
}

func TestQuantize(t *testing.T) {
	supply := 3300 * physic.MilliVolt
	testData := []struct {
		v    physic.ElectricPotential
		want uint8
	}{
		{-physic.Volt, 0},
		{0, 0},
		{supply / 2, 128},
		{supply - physic.MilliVolt, 255},
		{supply, 255},
		{5 * physic.Volt, 255},
	}
	for _, test := range testData {
		if got, want := Quantize(analog.Sample{V: test.v}, supply), test.want; got != want {
			t.Errorf("quantize %v:\n  got: %v\n want: %v", test.v, got, want)
		}
	}
}

type fakeADC struct {
	pin.BasicPin
	mu      sync.Mutex
	samples []physic.ElectricPotential
	err     error
}

func (f *fakeADC) Range() (analog.Sample, analog.Sample) {
	return analog.Sample{}, analog.Sample{V: 3300 * physic.MilliVolt, Raw: 1023}
}

var _ analog.PinADC = (*fakeADC)(nil)

func (f *fakeADC) Read() (analog.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return analog.Sample{}, f.err
	}
	if len(f.samples) == 0 {
		return analog.Sample{V: 3300 * physic.MilliVolt}, nil
	}
	v := f.samples[0]
	f.samples = f.samples[1:]
	return analog.Sample{V: v}, nil
}

func TestSamplerConvert(t *testing.T) {
	adc := &fakeADC{
		BasicPin: pin.BasicPin{N: "ADC0"},
		samples:  []physic.ElectricPotential{3300 * physic.MilliVolt, 300 * physic.MilliVolt, 300 * physic.MilliVolt, 2 * physic.Volt},
	}
	state := new(State)
	s, err := NewSampler(adc, 3300*physic.MilliVolt, DefaultThresholds, state)
	if err != nil {
		t.Fatalf("new sampler: %v", err)
	}
	var got []Code
	for i := 0; i < 4; i++ {
		c, err := s.Convert()
		if err != nil {
			t.Fatalf("convert %d: %v", i, err)
		}
		got = append(got, c)
	}
	if diff := cmp.Diff([]Code{None, T, T, A}, got); diff != "" {
		t.Errorf("codes (-want +got):\n%s", diff)
	}
	if c, ok := state.Consume(); !ok || c != T {
		t.Errorf("consume:\n  got: %v, %v\n want: %v, true", c, ok, T)
	}

	adc.err = errors.New("i2c timeout")
	if _, err := s.Convert(); err == nil {
		t.Error("expected conversion error")
	}
	if got, want := state.Current(), A; got != want {
		t.Errorf("state after failed conversion:\n  got: %v\n want: %v", got, want)
	}
}

func TestNewSamplerValidates(t *testing.T) {
	adc := &fakeADC{BasicPin: pin.BasicPin{N: "ADC0"}}
	if _, err := NewSampler(adc, 3300*physic.MilliVolt, Thresholds{T: 10, B: 10, A: 20}, new(State)); !errors.Is(err, ErrThresholds) {
		t.Errorf("bad thresholds:\n  got: %v\n want: %v", err, ErrThresholds)
	}
	if _, err := NewSampler(adc, 0, DefaultThresholds, new(State)); err == nil {
		t.Error("expected error for zero supply")
	}
}

func TestSamplerRun(t *testing.T) {
	adc := &fakeADC{
		BasicPin: pin.BasicPin{N: "ADC0"},
		samples:  []physic.ElectricPotential{100 * physic.MilliVolt},
	}
	state := new(State)
	s, err := NewSampler(adc, 3300*physic.MilliVolt, DefaultThresholds, state)
	if err != nil {
		t.Fatalf("new sampler: %v", err)
	}
	ctx, c := context.WithCancel(context.Background())
	errch := make(chan error)
	go func() {
		errch <- s.Run(ctx)
		close(errch)
	}()

	if !s.Start() {
		t.Fatal("start refused with nothing pending")
	}
	deadline := time.After(time.Second)
	for !state.Pending() {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for tap")
		case <-time.After(time.Millisecond):
		}
	}
	if c, ok := state.Consume(); !ok || c != T {
		t.Errorf("consume:\n  got: %v, %v\n want: %v, true", c, ok, T)
	}

	c()
	select {
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for cancel")
	case err := <-errch:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error after cancel: %v", err)
		}
	}
}
