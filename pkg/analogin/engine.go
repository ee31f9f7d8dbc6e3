// Package analogin multiplexes a single shared ADC across a growing set of
// logical input channels. A periodic tick converts the channels round-robin
// and stores the most recent raw reading on each of them.
package analogin

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultOversampleThreshold is the number of conversions per channel
	// visit. All but the last are discarded while the multiplexer settles.
	// Determined empirically.
	DefaultOversampleThreshold = 2
	// DefaultHaltReportInterval is how often FaultHalt repeats its report.
	DefaultHaltReportInterval = time.Second
)

// FaultPolicy selects what happens when a channel cannot be registered.
type FaultPolicy int

const (
	// FaultReturn reports the fault once and returns the error.
	FaultReturn FaultPolicy = iota
	// FaultHalt reports the fault forever and never returns.
	FaultHalt
)

// State is the outcome of a single tick.
type State int

const (
	StateDormant State = iota
	StateSkipping
	StateBusy
	StateDiscarding
	StateDelivering
)

func (s State) String() string {
	switch s {
	case StateDormant:
		return "dormant"
	case StateSkipping:
		return "skipping"
	case StateBusy:
		return "busy"
	case StateDiscarding:
		return "discarding"
	case StateDelivering:
		return "delivering"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stats are diagnostic counters maintained by the tick.
type Stats struct {
	Delivered uint64
	Discarded uint64
	Skipped   uint64
	Overruns  uint64
}

// Engine owns the channel registry and runs the sampling state machine.
type Engine struct {
	conv     Converter
	reg      *Registry
	vcc      *Channel
	logger   *zap.Logger
	reporter FaultReporter

	capacity     int
	threshold    int
	policy       FaultPolicy
	haltInterval time.Duration
	sleep        func(time.Duration)
	initOnce     sync.Once

	// Touched only by the periodic context.
	active int
	repeat int

	delivered atomic.Uint64
	discarded atomic.Uint64
	skipped   atomic.Uint64
	overruns  atomic.Uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithCapacity sets the number of registry slots. Init registers the supply
// channel into one of them.
func WithCapacity(n int) Option {
	return func(e *Engine) { e.capacity = n }
}

// WithOversampleThreshold sets the number of conversions per channel visit.
func WithOversampleThreshold(n int) Option {
	return func(e *Engine) { e.threshold = n }
}

// WithLogger sets the diagnostics logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithFaultReporter sets the receiver of fatal reports.
func WithFaultReporter(r FaultReporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// WithFaultPolicy selects between returning and halting on a full registry.
func WithFaultPolicy(p FaultPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithHaltReportInterval sets the delay between repeated FaultHalt reports.
func WithHaltReportInterval(d time.Duration) Option {
	return func(e *Engine) { e.haltInterval = d }
}

// New creates an engine for the given converter. Call Init to start sampling.
func New(conv Converter, opts ...Option) *Engine {
	e := &Engine{
		conv:         conv,
		capacity:     DefaultCapacity,
		threshold:    DefaultOversampleThreshold,
		haltInterval: DefaultHaltReportInterval,
		sleep:        time.Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.threshold <= 0 {
		e.threshold = DefaultOversampleThreshold
	}
	if e.haltInterval <= 0 {
		e.haltInterval = DefaultHaltReportInterval
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.reporter == nil {
		e.reporter = logReporter{e.logger}
	}
	e.reg = NewRegistry(e.capacity, conv)
	e.vcc = newChannel(BoardVCC, conv)
	return e
}

// Init registers the tick with the timer and registers the supply voltage
// channel. Calls after the first are no-ops.
func (e *Engine) Init(timer Timer) error {
	var err error
	e.initOnce.Do(func() {
		timer.RegisterPeriodic(func(t uint32) { e.Tick(t) })
		if rerr := e.reg.Register(e.vcc); rerr != nil {
			err = e.fault(rerr)
		}
	})
	return err
}

// Channel returns the channel for id, creating and registering it on first
// use. BoardVCC always returns the supply channel.
func (e *Engine) Channel(id int) (*Channel, error) {
	if id == BoardVCC {
		return e.vcc, nil
	}
	ch, err := e.reg.FindOrCreate(id)
	if err != nil {
		return nil, e.fault(err)
	}
	return ch, nil
}

// Registry exposes the channel table.
func (e *Engine) Registry() *Registry {
	return e.reg
}

// OversampleThreshold returns the number of conversions per channel visit.
func (e *Engine) OversampleThreshold() int {
	return e.threshold
}

// Stats returns a snapshot of the diagnostic counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Delivered: e.delivered.Load(),
		Discarded: e.discarded.Load(),
		Skipped:   e.skipped.Load(),
		Overruns:  e.overruns.Load(),
	}
}

// Tick advances the sampling state machine by one step. It must only be
// called from a single periodic context and never blocks.
func (e *Engine) Tick(t uint32) State {
	n := e.reg.Len()
	if n == 0 {
		return StateDormant
	}

	ch := e.reg.At(e.active)
	if ch.id == NoPin {
		e.skipped.Add(1)
		e.advance(n)
		return StateSkipping
	}

	if e.conv.IsBusy() {
		// Should not happen at the designed tick rate.
		e.overruns.Add(1)
		e.logger.Warn("conversion still running", zap.Uint32("tick", t), zap.Int("channel", ch.id))
		return StateBusy
	}

	raw := e.conv.ReadResult()
	e.repeat++
	if e.repeat < e.threshold {
		e.discarded.Add(1)
		e.conv.StartConversion()
		return StateDiscarding
	}
	e.repeat = 0

	ch.acceptSample(raw)
	e.delivered.Add(1)
	e.advance(n)
	return StateDelivering
}

func (e *Engine) advance(n int) {
	e.active = (e.active + 1) % n
	e.reg.At(e.active).PrepareForRead()
	e.conv.StartConversion()
}

// fault applies the fault policy to capacity errors. Other errors are
// returned unchanged.
func (e *Engine) fault(err error) error {
	if !errors.Is(err, ErrCapacityExceeded) {
		return err
	}
	if e.policy == FaultHalt {
		e.halt(err.Error())
	}
	e.reporter.ReportFatal(err.Error())
	return err
}

// halt never returns. A stalled caller is preferred to running with a
// channel that was never registered.
func (e *Engine) halt(msg string) {
	for {
		e.reporter.ReportFatal(msg)
		e.sleep(e.haltInterval)
	}
}

type logReporter struct {
	logger *zap.Logger
}

func (r logReporter) ReportFatal(msg string) {
	r.logger.Error(msg)
}
