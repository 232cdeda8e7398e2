// Package keys decodes the three buttons that share one analog input through a resistor ladder.
//
// With no key pressed the input is pulled to the supply voltage.  Each key pulls it down to a
// different level, so one 8-bit sample identifies the key.
package keys

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Code identifies a key.
type Code uint32

const (
	None Code = iota
	A
	B
	T
)

func (c Code) String() string {
	switch c {
	case None:
		return "none"
	case A:
		return "A"
	case B:
		return "B"
	case T:
		return "T"
	default:
		return fmt.Sprintf("Code(%d)", uint32(c))
	}
}

var (
	tapsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "key_taps_total",
		Help: "number of key taps detected, by key",
	}, []string{"key"})

	// ErrThresholds is returned for a threshold set whose bands are not ascending.
	ErrThresholds = errors.New("key thresholds must satisfy 0 < T < B < A")
)

// Thresholds are the upper bounds (exclusive) of each key's band on the 0-255 scale.  Samples at
// or above A mean no key.
//
// The defaults suit a 3.3V supply: T below 0.8V, B below 1.6V, A below 2.4V.
type Thresholds struct {
	T, B, A uint8
}

// DefaultThresholds matches the resistor ladder on the reference board.
var DefaultThresholds = Thresholds{T: 62, B: 124, A: 185}

// Classify maps one sample to a key.
func (th Thresholds) Classify(sample uint8) Code {
	switch {
	case sample < th.T:
		return T
	case sample < th.B:
		return B
	case sample < th.A:
		return A
	default:
		return None
	}
}

// Validate checks that the bands do not overlap.
func (th Thresholds) Validate() error {
	if th.T == 0 || th.T >= th.B || th.B >= th.A {
		return fmt.Errorf("%v: %w", th, ErrThresholds)
	}
	return nil
}

// String formats the thresholds the way Set parses them, "T,B,A".
func (th Thresholds) String() string {
	return fmt.Sprintf("%d,%d,%d", th.T, th.B, th.A)
}

// Set implements flag.Value.
func (th *Thresholds) Set(s string) error {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return fmt.Errorf("parse thresholds %q: want three comma-separated values T,B,A", s)
	}
	var v [3]uint8
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return fmt.Errorf("parse thresholds %q: %w", s, err)
		}
		v[i] = uint8(n)
	}
	result := Thresholds{T: v[0], B: v[1], A: v[2]}
	if err := result.Validate(); err != nil {
		return err
	}
	*th = result
	return nil
}

// State is shared between the sampler, which is the only writer of the current and previous key,
// and the main loop, which only reads them and clears the tap.  Each field is its own atomic cell;
// nothing ever updates them together.
//
// The tap cell holds the key that was tapped, or None once the main loop has consumed it, so a
// tap that is released before the main loop gets to it is still acted on.
type State struct {
	current  atomic.Uint32
	previous atomic.Uint32
	tapped   atomic.Uint32
}

// Observe records a newly classified key.  A tap is raised only when the previous key was None;
// sliding from one key's band into another's while held does not raise a second tap.  It reports
// whether a tap was raised.
func (s *State) Observe(c Code) bool {
	prev := Code(s.current.Load())
	s.previous.Store(uint32(prev))
	s.current.Store(uint32(c))
	if prev == None && c != None {
		s.tapped.Store(uint32(c))
		tapsCounter.WithLabelValues(c.String()).Inc()
		return true
	}
	return false
}

// Consume clears a pending tap and returns the key that was tapped.
func (s *State) Consume() (Code, bool) {
	c := Code(s.tapped.Swap(uint32(None)))
	return c, c != None
}

// Pending reports whether a tap is waiting to be consumed.
func (s *State) Pending() bool { return Code(s.tapped.Load()) != None }

// Current returns the most recently classified key.
func (s *State) Current() Code { return Code(s.current.Load()) }

// Previous returns the key classified before Current.
func (s *State) Previous() Code { return Code(s.previous.Load()) }
