package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jrockway/seg7-rtc-clock/control/clock"
	"github.com/jrockway/seg7-rtc-clock/control/keys"
	"github.com/jrockway/seg7-rtc-clock/control/line"
	"github.com/jrockway/seg7-rtc-clock/control/rtc"
	"github.com/jrockway/seg7-rtc-clock/control/screen"
	"github.com/jrockway/seg7-rtc-clock/control/shiftreg"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "golang.org/x/net/trace" // /debug/requests and /debug/events
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"
)

var (
	bind = flag.String("bind", ":8080", "address to bind for debug/metrics server")

	clockPin  = flag.String("clock", "P9_12", "gpio driving the shift register clock and the RTC's SCLK")
	dataPin   = flag.String("data", "P9_15", "gpio driving the shift register data input and the RTC's I/O line")
	dataInPin = flag.String("data-in", "", "gpio sampled when reading the RTC, if wired separately from -data")
	latchPin  = flag.String("latch", "P9_23", "gpio driving the shift register latch and the RTC's CE")

	i2cBus     = flag.String("i2c", "", "i2c bus that the key ladder's ADC is on")
	adcAddr    = flag.Uint("adc-addr", 0x48, "i2c address of the ADS1115")
	adcChannel = flag.Int("adc-channel", 0, "ADS1115 single-ended input (0-3) wired to the key ladder")

	editTick    = flag.Duration("edit-tick", clock.DefaultConfig.EditTick, "timer interval while setting the time; keys are sampled once per tick")
	runTick     = flag.Duration("run-tick", clock.DefaultConfig.RunTick, "timer interval after the time is set")
	blinkTicks  = flag.Uint("blink-ticks", uint(clock.DefaultConfig.BlinkTicks), "ticks per half blink of the field being edited")
	resyncTicks = flag.Uint("resync-ticks", uint(clock.DefaultConfig.ResyncTicks), "ticks between polls of the RTC")
	halfPeriod  = flag.Duration("half-period", 0, "delay between shift register clock edges")
	frameDelay  = flag.Duration("frame-delay", clock.DefaultConfig.FrameDelay, "pause between display refreshes")
	editTimeout = flag.Duration("edit-timeout", 0, "leave the editor without saving after this long without a key; 0 waits forever")

	supply     = 3300 * physic.MilliVolt
	thresholds = keys.DefaultThresholds
)

var channels = []ads1x15.Channel{ads1x15.Channel0, ads1x15.Channel1, ads1x15.Channel2, ads1x15.Channel3}

func pinByName(flagName, name string) gpio.PinIO {
	p := gpioreg.ByName(name)
	if p == nil {
		log.Fatalf("-%s: no gpio named %q", flagName, name)
	}
	return p
}

// maxTicks leaves room for the editor's blink period of twice the flag value.
const maxTicks = math.MaxUint32 / 2

// checkTicks rejects tick counts that would fire on every frame or not fit the counter.
func checkTicks(name string, v uint) error {
	if v == 0 || uint64(v) > maxTicks {
		return fmt.Errorf("-%s: %d is not in 1-%d", name, v, uint64(maxTicks))
	}
	return nil
}

func main() {
	if _, err := host.Init(); err != nil {
		log.Fatalf("init periph.io: %v", err)
	}
	flag.Var(&supply, "supply", "voltage at the top of the key ladder; the ADC's full scale")
	flag.Var(&thresholds, "key-thresholds", "upper bounds of the T, B, and A key bands on a 0-255 scale")
	flag.Parse()

	var dataIn gpio.PinIO
	if *dataInPin != "" {
		dataIn = pinByName("data-in", *dataInPin)
	}
	port := line.NewPort(pinByName("clock", *clockPin), pinByName("data", *dataPin), pinByName("latch", *latchPin), dataIn)
	if err := port.Configure(); err != nil {
		log.Fatalf("configure gpios: %v", err)
	}
	sr := shiftreg.New(port)
	sr.HalfPeriod = *halfPeriod

	if *adcChannel < 0 || *adcChannel >= len(channels) {
		log.Fatalf("-adc-channel: %d is not in 0-3", *adcChannel)
	}
	i2cPort, err := i2creg.Open(*i2cBus)
	if err != nil {
		log.Fatalf("open i2c bus %q: %v", *i2cBus, err)
	}
	opts := ads1x15.DefaultOpts
	opts.I2cAddress = uint16(*adcAddr)
	adc, err := ads1x15.NewADS1115(i2cPort, &opts)
	if err != nil {
		log.Fatalf("init ADS1115: %v", err)
	}
	adcPin, err := adc.PinForChannel(channels[*adcChannel], supply, 250*physic.Hertz, ads1x15.BestQuality)
	if err != nil {
		log.Fatalf("ADS1115 channel %d: %v", *adcChannel, err)
	}

	state := new(keys.State)
	sampler, err := keys.NewSampler(adcPin, supply, thresholds, state)
	if err != nil {
		log.Fatalf("key sampler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	leds := screen.New(sr)
	leds.Blank()

	http.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/display.png", http.StatusFound)
	})
	http.Handle("/display.png", leds)
	http.Handle("/metrics", promhttp.Handler())

	httpDoneCh := make(chan error)
	httpServer := http.Server{Addr: *bind}
	go func() {
		log.Printf("http server listening on %s", httpServer.Addr)
		err := httpServer.ListenAndServe()
		select {
		case httpDoneCh <- err:
		case <-ctx.Done():
		}
		close(httpDoneCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	if err := checkTicks("blink-ticks", *blinkTicks); err != nil {
		log.Fatal(err)
	}
	if err := checkTicks("resync-ticks", *resyncTicks); err != nil {
		log.Fatal(err)
	}
	cfg := clock.DefaultConfig
	cfg.EditTick = *editTick
	cfg.RunTick = *runTick
	cfg.BlinkTicks = uint32(*blinkTicks)
	cfg.ResyncTicks = uint32(*resyncTicks)
	cfg.FrameDelay = *frameDelay
	cfg.EditTimeout = *editTimeout
	cl := clock.New(cfg, rtc.New(port, sr), leds, state, sampler)
	loopDoneCh := make(chan error)
	go func() {
		err := cl.Run(ctx)
		select {
		case loopDoneCh <- err:
		case <-ctx.Done():
		}
		close(loopDoneCh)
	}()

	httpAlive := true
	select {
	case err := <-httpDoneCh:
		log.Printf("http server died: %v", err)
		httpAlive = false
	case err := <-loopDoneCh:
		log.Printf("clock loop died: %v", err)
	case <-sigCh:
		log.Printf("interrupt")
	}
	signal.Stop(sigCh)
	cancel()
	// The clock loop stops within a frame of cancellation; wait for it to let go of the lines.
	<-loopDoneCh
	if err := leds.Blank(); err != nil {
		log.Printf("blank display: %v", err)
	}
	if err := adcPin.Halt(); err != nil {
		log.Printf("halt ADC: %v", err)
	}
	i2cPort.Close()
	if httpAlive {
		tctx, c := context.WithTimeout(context.Background(), time.Second)
		httpServer.Shutdown(tctx)
		c()
	}
	os.Exit(1)
}
