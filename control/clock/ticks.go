package clock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clock_ticks_total",
		Help: "number of periodic timer ticks",
	})

	missedConversionsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clock_missed_conversions_total",
		Help: "count of ticks whose analog conversion request was refused because one was already pending",
	})
)

// Ticks counts timer ticks.  The timer is the only goroutine that increments it; the main loop
// reads it and resets it.
type Ticks struct {
	n atomic.Uint32
}

// Inc advances the counter by one.
func (t *Ticks) Inc() { t.n.Add(1) }

// Load returns the count.
func (t *Ticks) Load() uint32 { return t.n.Load() }

// Reset sets the counter to zero.
func (t *Ticks) Reset() { t.n.Store(0) }

// ResetWhen sets the counter to zero if it has reached max, and reports whether it did.  A tick
// that lands between the check and the reset is not lost; the reset is retried against the new
// value.
func (t *Ticks) ResetWhen(max uint32) bool {
	for {
		v := t.n.Load()
		if v < max {
			return false
		}
		if t.n.CompareAndSwap(v, 0) {
			return true
		}
	}
}

// Blink is a flag the timer flips on every tick.
type Blink struct {
	on atomic.Bool
}

// Toggle flips the flag.
func (b *Blink) Toggle() {
	for {
		v := b.on.Load()
		if b.on.CompareAndSwap(v, !v) {
			return
		}
	}
}

// On reports the flag.
func (b *Blink) On() bool { return b.on.Load() }

// Timer is the periodic tick.  On each tick it advances Ticks, flips Blink, and, if Convert is
// set, requests an analog conversion.  It does nothing else, so that everything it touches is a
// single atomic operation.
type Timer struct {
	Interval time.Duration
	Ticks    *Ticks
	Blink    *Blink
	Convert  func() bool // Returns false if the request was refused.
}

// Run ticks until the context is cancelled.
func (t *Timer) Run(ctx context.Context) error {
	if t.Interval <= 0 {
		return fmt.Errorf("timer interval must be positive, got %v", t.Interval)
	}
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for next tick: %w", ctx.Err())
		case <-ticker.C:
		}
		ticksCounter.Inc()
		t.Ticks.Inc()
		t.Blink.Toggle()
		if t.Convert != nil && !t.Convert() {
			missedConversionsCounter.Inc()
		}
	}
}
