// Package clock keeps the time shown on the display: it loads it from the RTC, lets the user edit
// it with the keys, writes it back, and then follows the RTC's minute register.
package clock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jrockway/seg7-rtc-clock/control/keys"
	"github.com/jrockway/seg7-rtc-clock/control/screen"
	"github.com/jrockway/seg7-rtc-clock/control/tod"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
)

var (
	resyncsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clock_resyncs_total",
		Help: "number of times the RTC minute register was polled",
	})

	minuteIncrementsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clock_minute_increments_total",
		Help: "number of minute rollovers observed on the RTC",
	})

	editsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clock_edits_total",
		Help: "number of edit sessions, by how they ended",
	}, []string{"outcome"})

	errorsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clock_errors_total",
		Help: "number of errors from the RTC or display, by operation",
	}, []string{"op"})
)

// RTC is the subset of the real-time clock the clock needs.  All registers are raw.
type RTC interface {
	ReadHour() (byte, error)
	WriteHour(byte) error
	ReadMinute() (byte, error)
	WriteMinute(byte) error
	ResetSeconds() error
	SetWriteProtect(bool) error
}

// Display shows a time.  Update and Render are only ever called from the clock's main loop.
type Display interface {
	Update(tod.Time)
	Render(hide int) error
}

// Sampler converts the key input on request.
type Sampler interface {
	Start() bool
	Run(ctx context.Context) error
}

// Config holds the clock's timing parameters.
type Config struct {
	EditTick    time.Duration  // Timer interval while editing; each tick also samples the keys.
	RunTick     time.Duration  // Timer interval after editing.
	BlinkTicks  uint32         // While editing, the field being edited is hidden for BlinkTicks out of every 2*BlinkTicks ticks.
	ResyncTicks uint32         // After editing, poll the RTC every ResyncTicks ticks.
	FrameDelay  time.Duration  // Pause between render passes.
	EditTimeout time.Duration  // Leave the editor without saving after this long without a key; 0 to wait forever.
	// Layout of the RTC's hour register.  The DS1302 keeps PM in bit 5, so under tod.DS1302 an
	// hour register of 0x83 is 3 AM; boards that keep PM in bit 7 need HourLayout{PM: 0x80, Tens: 0x10}.
	Layout tod.HourLayout
}

// DefaultConfig is the timing of the reference board: a 16ms tick while editing, a 250ms tick
// afterwards, and a resync about every 6 seconds.
var DefaultConfig = Config{
	EditTick:    16 * time.Millisecond,
	RunTick:     250 * time.Millisecond,
	BlinkTicks:  10,
	ResyncTicks: 25,
	FrameDelay:  time.Millisecond,
	Layout:      tod.DS1302,
}

// Clock is the main loop.  Everything but the timer and the key sampler runs on the goroutine
// that calls Run (or Load, Edit, and Resync directly).
type Clock struct {
	cfg     Config
	rtc     RTC
	display Display
	keys    *keys.State
	sampler Sampler

	ticks Ticks
	blink Blink
	time  tod.Time

	l trace.EventLog
}

// BootTime is shown, and edited, until a load from the RTC succeeds.
var BootTime = tod.Time{Hour: 3, PM: true, MinuteTens: 1, MinuteUnits: 5}

// New returns a Clock showing BootTime.  sampler may be nil if something else feeds keys.
func New(cfg Config, rtc RTC, display Display, ks *keys.State, sampler Sampler) *Clock {
	c := &Clock{
		cfg:     cfg,
		rtc:     rtc,
		display: display,
		keys:    ks,
		sampler: sampler,
		time:    BootTime,
		l:       trace.NewEventLog("clock", "main loop"),
	}
	display.Update(c.time)
	return c
}

// Time returns the cached time.
func (c *Clock) Time() tod.Time { return c.time }

func (c *Clock) caption(s string) {
	if d, ok := c.display.(interface{ SetCaption(string) }); ok {
		d.SetCaption(s)
	}
}

func (c *Clock) errorf(op string, format string, args ...interface{}) {
	errorsCounter.WithLabelValues(op).Inc()
	c.l.Errorf(format, args...)
}

func (c *Clock) readTime() (tod.Time, error) {
	h, err := c.rtc.ReadHour()
	if err != nil {
		return tod.Time{}, fmt.Errorf("read hour: %w", err)
	}
	m, err := c.rtc.ReadMinute()
	if err != nil {
		return tod.Time{}, fmt.Errorf("read minute: %w", err)
	}
	return c.cfg.Layout.Decode(h, m), nil
}

// Load replaces the cached time with the RTC's.  A time that is out of range is read once more,
// and clamped if it is still wrong.
func (c *Clock) Load() error {
	t, err := c.readTime()
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if !t.Valid() {
		c.errorf("load", "rtc returned out of range time %#v; reading again", t)
		if t, err = c.readTime(); err != nil {
			return fmt.Errorf("load: %w", err)
		}
		if !t.Valid() {
			c.errorf("load", "rtc returned out of range time %#v again; clamping", t)
			t = t.Clamp()
		}
	}
	c.time = t
	c.display.Update(t)
	c.l.Printf("loaded %v", t)
	return nil
}

// Commit writes t to the RTC, zeroing the seconds first.  An out of range t is clamped before it
// is written.  The RTC must not be write protected.
func (c *Clock) Commit(t tod.Time) error {
	if !t.Valid() {
		c.errorf("commit", "refusing to write out of range time %#v; clamping", t)
		t = t.Clamp()
	}
	if err := c.rtc.ResetSeconds(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return c.store(t)
}

// store writes the hour and minute registers, and nothing else.
func (c *Clock) store(t tod.Time) error {
	h, m := c.cfg.Layout.Encode(t)
	if err := c.rtc.WriteHour(h); err != nil {
		return fmt.Errorf("write hour: %w", err)
	}
	if err := c.rtc.WriteMinute(m); err != nil {
		return fmt.Errorf("write minute: %w", err)
	}
	c.l.Printf("stored %v", t)
	return nil
}

// Resync polls the RTC's minute register and advances the cached time by one minute if the units
// digit differs.  It only notices that a minute passed, not how many, so it must run more than
// once a minute.
func (c *Clock) Resync() error {
	m, err := c.rtc.ReadMinute()
	if err != nil {
		return fmt.Errorf("resync: read minute: %w", err)
	}
	resyncsCounter.Inc()
	tens, units := tod.DecodeMinute(m)
	if tens > 5 || units > 9 {
		c.errorf("resync", "rtc returned out of range minute register %#02x; ignoring", m)
		return nil
	}
	if units != c.time.MinuteUnits {
		c.time.AddMinute()
		minuteIncrementsCounter.Inc()
		c.display.Update(c.time)
	}
	return nil
}

// startTimer runs the timer, and the sampler if sample is set, until the returned stop function
// is called.
func (c *Clock) startTimer(ctx context.Context, interval time.Duration, sample bool) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	timer := &Timer{Interval: interval, Ticks: &c.ticks, Blink: &c.blink}
	if sample && c.sampler != nil {
		timer.Convert = c.sampler.Start
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.sampler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.errorf("sampler", "key sampler: %v", err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := timer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.errorf("timer", "timer: %v", err)
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func (c *Clock) pause(ctx context.Context) {
	if c.cfg.FrameDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(c.cfg.FrameDelay):
	}
}

func (c *Clock) render(hide int) {
	if err := c.display.Render(hide); err != nil {
		c.errorf("render", "render: %v", err)
	}
}

// Edit loads the time from the RTC and lets the user edit it until they move past the last field,
// which writes the time to the RTC, or before the first field, which reloads it.  The RTC must not
// be write protected.
func (c *Clock) Edit(ctx context.Context) error {
	if err := c.Load(); err != nil {
		c.errorf("load", "%v", err)
	}
	stop := c.startTimer(ctx, c.cfg.EditTick, true)
	defer stop()
	c.ticks.Reset()
	c.keys.Consume()

	ed := NewEditor(c.time)
	c.caption("edit " + ed.Pos.String())
	lastKey := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("edit: %w", err)
		}
		c.render(ed.Hidden(c.ticks.Load(), c.cfg.BlinkTicks))
		c.ticks.ResetWhen(2 * c.cfg.BlinkTicks)

		code, ok := c.keys.Consume()
		if !ok {
			if c.cfg.EditTimeout > 0 && time.Since(lastKey) > c.cfg.EditTimeout {
				c.l.Printf("no key for %v; leaving editor", c.cfg.EditTimeout)
				editsCounter.WithLabelValues("timeout").Inc()
				return c.Load()
			}
			c.pause(ctx)
			continue
		}
		lastKey = time.Now()
		outcome := ed.Handle(code)
		c.l.Printf("key %v at %v: %v", code, ed.Pos, outcome)
		switch outcome {
		case Moved:
			c.caption("edit " + ed.Pos.String())
		case Changed:
			c.time = ed.Time
			c.display.Update(c.time)
		case Commit:
			editsCounter.WithLabelValues("commit").Inc()
			c.time = ed.Time
			c.display.Update(c.time)
			return c.Commit(c.time)
		case Abort:
			editsCounter.WithLabelValues("abort").Inc()
			return c.Load()
		}
	}
}

// Follow shows the time, blinking the AM/PM sign with the timer, and resyncs with the RTC every
// ResyncTicks ticks until the context is cancelled.
func (c *Clock) Follow(ctx context.Context) error {
	stop := c.startTimer(ctx, c.cfg.RunTick, false)
	defer stop()
	c.ticks.Reset()
	c.caption("run")
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("follow: %w", err)
		}
		if c.blink.On() {
			c.render(screen.NoHide)
		} else {
			c.render(int(tod.Sign))
		}
		if c.ticks.ResetWhen(c.cfg.ResyncTicks) {
			if err := c.Resync(); err != nil {
				c.errorf("resync", "%v", err)
			}
		}
		c.pause(ctx)
	}
}

// Run edits the time once and then follows the RTC until the context is cancelled.  Nothing but
// cancellation stops it; RTC and display errors are logged and counted.
func (c *Clock) Run(ctx context.Context) error {
	defer c.l.Finish()
	if err := c.rtc.SetWriteProtect(false); err != nil {
		c.errorf("write protect", "clear write protect: %v", err)
	}
	if err := c.Edit(ctx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		c.errorf("edit", "%v", err)
	}
	if err := c.rtc.SetWriteProtect(true); err != nil {
		c.errorf("write protect", "set write protect: %v", err)
	}
	return c.Follow(ctx)
}
