// Package sim provides a simulated converter for development and tests.
//
// Every input is a sine on top of an offset. After a multiplexer switch the
// sample-and-hold input settles exponentially, so the first conversion after
// a switch reads low. That is the transient the engine's discard policy
// exists for.
package sim

import (
	"sync"
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/goanalogin/pkg/analogin"
	"github.com/itohio/goanalogin/pkg/config"
)

// Ensure Converter implements analogin.Converter.
var _ analogin.Converter = (*Converter)(nil)

// Counters reports how often each converter operation was invoked.
type Counters struct {
	Enables     int
	Selects     int
	Conversions int
	Reads       int
}

// Converter simulates a multiplexed ADC.
type Converter struct {
	cfg       *config.SimConfig
	fullScale float32

	mu          sync.Mutex
	enabled     bool
	selected    int
	sinceSwitch int // conversions since the last multiplexer switch
	pending     int // IsBusy polls left for the running conversion
	result      uint16
	counters    Counters
}

// New creates a simulated converter with the given resolution.
func New(cfg *config.SimConfig, resolutionBits int) *Converter {
	if cfg == nil {
		cfg = &config.SimConfig{
			SettleTimeConstant: 0.5,
			ConversionPeriod:   time.Millisecond,
			Default:            config.SignalConfig{Offset: 0.5},
		}
	}
	if resolutionBits <= 0 || resolutionBits > 16 {
		resolutionBits = 10
	}
	return &Converter{
		cfg:       cfg,
		fullScale: float32(uint32(1)<<resolutionBits - 1),
		selected:  -1,
	}
}

// Enable powers up the simulated converter.
func (c *Converter) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
	c.counters.Enables++
}

// Select routes the multiplexer. Switching to a different input restarts
// the settling transient.
func (c *Converter) Select(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters.Selects++
	if id != c.selected {
		c.selected = id
		c.sinceSwitch = 0
	}
}

// StartConversion samples the selected input. Conversions on a disabled
// converter read zero.
func (c *Converter) StartConversion() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counters.Conversions++
	c.pending = c.cfg.ConversionPolls
	if !c.enabled {
		c.result = 0
		return
	}

	c.sinceSwitch++
	v := c.target(c.selected, c.counters.Conversions) * c.settle(c.sinceSwitch)
	c.result = uint16(math32.Floor(clamp(v)*c.fullScale + 0.5))
}

// IsBusy reports true for ConversionPolls polls after every start.
func (c *Converter) IsBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending > 0 {
		c.pending--
		return true
	}
	return false
}

// ReadResult returns the last conversion.
func (c *Converter) ReadResult() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters.Reads++
	return c.result
}

// Counters returns a snapshot of the call counters.
func (c *Converter) Counters() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters
}

// target returns the settled input level as a fraction of full scale.
func (c *Converter) target(id, n int) float32 {
	sig, ok := c.cfg.Signals[id]
	if !ok {
		sig = c.cfg.Default
	}
	t := float32(n) * float32(c.cfg.ConversionPeriod.Seconds())
	v := float32(sig.Offset) + float32(sig.Amplitude)*math32.Sin(2*math32.Pi*float32(sig.Frequency)*t)

	// Deterministic noise, same shape as a beat of two tones.
	noise := (math32.Sin(float32(n)*1.3) + math32.Cos(float32(n)*0.7)) * float32(c.cfg.NoiseLevel) * 0.5
	return v + noise
}

// settle returns the fraction of the target reached after n conversions.
func (c *Converter) settle(n int) float32 {
	tau := float32(c.cfg.SettleTimeConstant)
	if tau <= 0 {
		return 1
	}
	return 1 - math32.Exp(-float32(n)/tau)
}

func clamp(v float32) float32 {
	return math32.Max(0, math32.Min(1, v))
}
