// Package screen drives the four-digit common-anode seven-segment display through the shift
// registers, and retains the last frame for debugging the rest of the program without the display
// attached.
package screen

import (
	"fmt"
	"sync"
	"time"

	"github.com/jrockway/seg7-rtc-clock/control/shiftreg"
	"github.com/jrockway/seg7-rtc-clock/control/tod"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Segments maps 0-9, A, b, C, the PM glyph, and the AM glyph to segment patterns.  Bits run from
// the decimal point (bit 0) through g, f, e, d, c, b to a (bit 7), and a segment lights when its bit
// is zero.
var Segments = [15]byte{0x03, 0x9f, 0x25, 0x0d, 0x99, 0x49, 0x41, 0x1f, 0x01, 0x09, 0x11, 0xc1, 0x63, 0x31, 0x11}

const (
	GlyphPM = 13
	GlyphAM = 14

	// Blank turns every segment off.
	Blank byte = 0xff

	// NoHide renders every slot.
	NoHide = -1

	slots = 4
)

var (
	renderPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "render_passes_total",
		Help: "number of complete passes over the four display digits",
	})

	renderTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "render_seconds",
		Help:    "time taken to shift out and latch all four digits",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})
)

// Cache holds one segment pattern per slot, in tod.Field order: minute units, minute tens, AM/PM,
// hour.  The hour is one hex digit, so 10-12 show as A, b, C.
type Cache [slots]byte

// NewCache computes the patterns for t.  Out of range fields show as blank.
func NewCache(t tod.Time) Cache {
	var c Cache
	c[tod.MinuteUnits] = glyph(t.MinuteUnits)
	c[tod.MinuteTens] = glyph(t.MinuteTens)
	if t.PM {
		c[tod.Sign] = Segments[GlyphPM]
	} else {
		c[tod.Sign] = Segments[GlyphAM]
	}
	c[tod.Hour] = glyph(t.Hour)
	return c
}

func glyph(v uint8) byte {
	if int(v) >= GlyphPM {
		return Blank
	}
	return Segments[v]
}

// strobe selects the physical digit for a slot.
func strobe(slot int) byte { return 0x80 >> slot }

// Display is the seven-segment display.
type Display struct {
	dev *shiftreg.Dev

	cache Cache // only touched by the goroutine that calls Update and Render.

	frameMu sync.Mutex
	frame   Cache // last frame rendered, as shown; must hold frameMu.
	caption string
}

// New returns a Display.  A nil dev renders only to the preview.
func New(dev *shiftreg.Dev) *Display {
	return &Display{dev: dev, cache: Cache{Blank, Blank, Blank, Blank}, frame: Cache{Blank, Blank, Blank, Blank}}
}

// Update recomputes the cached patterns from t.  It must not be called while Render is running.
func (d *Display) Update(t tod.Time) { d.cache = NewCache(t) }

// Cache returns the cached patterns.
func (d *Display) Cache() Cache { return d.cache }

// SetCaption sets the text drawn under the preview image.
func (d *Display) SetCaption(s string) {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	d.caption = s
}

// Render makes one pass over the four slots, shifting out each slot's pattern followed by its
// strobe, and latching.  The slot numbered hide, if any, is shown blank.
func (d *Display) Render(hide int) error {
	start := time.Now()
	var frame Cache
	for i := 0; i < slots; i++ {
		frame[i] = d.cache[i]
		if i == hide {
			frame[i] = Blank
		}
	}
	if err := d.show(frame); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	renderPasses.Inc()
	renderTime.Observe(time.Since(start).Seconds())
	return nil
}

// Blank shows nothing.
func (d *Display) Blank() error {
	if err := d.show(Cache{Blank, Blank, Blank, Blank}); err != nil {
		return fmt.Errorf("blank display: %w", err)
	}
	return nil
}

func (d *Display) show(frame Cache) error {
	d.frameMu.Lock()
	d.frame = frame
	d.frameMu.Unlock()
	if d.dev == nil {
		return nil
	}
	for i, b := range frame {
		if err := d.dev.Write(shiftreg.LSBFirst, b, strobe(i)); err != nil {
			return fmt.Errorf("slot %d: %w", i, err)
		}
		if err := d.dev.Latch(); err != nil {
			return fmt.Errorf("slot %d: %w", i, err)
		}
	}
	return nil
}

// Frame returns the patterns most recently sent to the display.
func (d *Display) Frame() Cache {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	return d.frame
}
