package keys

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"
)

var (
	samplesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "key_samples_total",
		Help: "number of analog conversions classified",
	})

	conversionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "key_conversion_errors_total",
		Help: "number of analog conversions that returned an error",
	})

	droppedConversions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "key_conversions_dropped_total",
		Help: "number of conversion requests dropped because one was already pending",
	})
)

// Quantize maps a sample's voltage onto the 0-255 scale, where 255 is the supply voltage.  This is
// the top 8 bits of the conversion, independent of the converter's real resolution.
func Quantize(s analog.Sample, supply physic.ElectricPotential) uint8 {
	if supply <= 0 || s.V <= 0 {
		return 0
	}
	if s.V >= supply {
		return 255
	}
	return uint8(int64(s.V) * 256 / int64(supply))
}

// Sampler runs conversions on request and feeds the classified keys into a State.  Run is the
// equivalent of the conversion-complete interrupt: it never blocks on anything but the converter.
type Sampler struct {
	pin        analog.PinADC
	supply     physic.ElectricPotential
	thresholds Thresholds
	state      *State
	start      chan struct{}
}

// NewSampler returns a Sampler reading pin, whose full scale is supply.
func NewSampler(pin analog.PinADC, supply physic.ElectricPotential, th Thresholds, state *State) (*Sampler, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	if supply <= 0 {
		return nil, fmt.Errorf("supply voltage must be positive, got %v", supply)
	}
	return &Sampler{
		pin:        pin,
		supply:     supply,
		thresholds: th,
		state:      state,
		start:      make(chan struct{}, 1),
	}, nil
}

// Start requests one conversion without blocking.  It returns false if a request is already
// pending.
func (s *Sampler) Start() bool {
	select {
	case s.start <- struct{}{}:
		return true
	default:
		droppedConversions.Inc()
		return false
	}
}

// Convert performs one conversion and classification immediately.
func (s *Sampler) Convert() (Code, error) {
	c, _, err := s.convert()
	return c, err
}

func (s *Sampler) convert() (Code, bool, error) {
	sample, err := s.pin.Read()
	if err != nil {
		conversionErrors.Inc()
		return None, false, fmt.Errorf("read %s: %w", s.pin, err)
	}
	samplesCounter.Inc()
	c := s.thresholds.Classify(Quantize(sample, s.supply))
	return c, s.state.Observe(c), nil
}

// Run performs a conversion for each Start until the context is cancelled.  Conversion errors are
// logged and leave the key state alone.
func (s *Sampler) Run(ctx context.Context) error {
	l := trace.NewEventLog("keys", s.pin.String())
	defer l.Finish()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for conversion request: %w", ctx.Err())
		case <-s.start:
		}
		c, tapped, err := s.convert()
		if err != nil {
			l.Errorf("conversion: %v", err)
			continue
		}
		if tapped {
			l.Printf("tap: %v", c)
		}
	}
}
