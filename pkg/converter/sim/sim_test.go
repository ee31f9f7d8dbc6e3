package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/goanalogin/pkg/analogin"
	"github.com/itohio/goanalogin/pkg/config"
)

func flatConfig(signals map[int]config.SignalConfig) *config.SimConfig {
	return &config.SimConfig{
		SettleTimeConstant: 0.5,
		ConversionPeriod:   time.Millisecond,
		Default:            config.SignalConfig{Offset: 0.5},
		Signals:            signals,
	}
}

func convert(c *Converter) uint16 {
	c.StartConversion()
	for c.IsBusy() {
	}
	return c.ReadResult()
}

func TestNew_NilConfig(t *testing.T) {
	c := New(nil, 0)
	require.NotNil(t, c.cfg)
	assert.Equal(t, 0.5, c.cfg.SettleTimeConstant)
	assert.Equal(t, float32(1023), c.fullScale)
}

func TestConverter_DisabledReadsZero(t *testing.T) {
	c := New(flatConfig(nil), 10)
	c.Select(1)
	assert.Zero(t, convert(c))
}

func TestConverter_SettlingAfterSwitch(t *testing.T) {
	c := New(flatConfig(nil), 10)
	c.Enable()
	c.Select(1)

	first := convert(c)
	second := convert(c)
	var settled uint16
	for i := 0; i < 10; i++ {
		settled = convert(c)
	}

	assert.InDelta(t, 442, float64(first), 1)
	assert.InDelta(t, 502, float64(second), 1)
	assert.InDelta(t, 512, float64(settled), 1)
	assert.Less(t, first, second)

	// Reselecting the same input does not restart the transient.
	c.Select(1)
	assert.InDelta(t, 512, float64(convert(c)), 1)

	// Switching does.
	c.Select(2)
	assert.InDelta(t, 442, float64(convert(c)), 1)
}

func TestConverter_PerChannelSignals(t *testing.T) {
	c := New(&config.SimConfig{
		Signals: map[int]config.SignalConfig{
			1: {Offset: 0.25},
			2: {Offset: 1.5}, // clamps to full scale
		},
	}, 12)
	c.Enable()

	c.Select(1)
	assert.InDelta(t, 1024, float64(convert(c)), 1)
	c.Select(2)
	assert.Equal(t, uint16(4095), convert(c))
	c.Select(3)
	assert.Zero(t, convert(c), "default signal is zero")
}

func TestConverter_BusyPolls(t *testing.T) {
	cfg := flatConfig(nil)
	cfg.ConversionPolls = 2
	c := New(cfg, 10)
	c.Enable()
	c.Select(1)

	assert.False(t, c.IsBusy())
	c.StartConversion()
	assert.True(t, c.IsBusy())
	assert.True(t, c.IsBusy())
	assert.False(t, c.IsBusy())
}

func TestConverter_Counters(t *testing.T) {
	c := New(flatConfig(nil), 10)
	c.Enable()
	c.Select(1)
	c.Select(2)
	convert(c)

	assert.Equal(t, Counters{Enables: 1, Selects: 2, Conversions: 1, Reads: 1}, c.Counters())
}

// The discard policy delivers the second conversion after a switch, which
// is much closer to the settled input than the first.
func TestConverter_DiscardCompensatesSettling(t *testing.T) {
	signals := map[int]config.SignalConfig{
		1: {Offset: 0.2},
		2: {Offset: 0.8},
	}
	settled := 0.8 * 1023

	read := func(threshold int) float64 {
		e := analogin.New(New(flatConfig(signals), 10), analogin.WithOversampleThreshold(threshold))
		_, err := e.Channel(1)
		require.NoError(t, err)
		ch, err := e.Channel(2)
		require.NoError(t, err)
		for tick := uint32(0); tick < uint32(4*threshold); tick++ {
			e.Tick(tick)
		}
		return float64(ch.Raw())
	}

	single := read(1)
	double := read(2)
	assert.InDelta(t, settled*0.865, single, 2)
	assert.InDelta(t, settled*0.982, double, 2)
	assert.Less(t, settled-double, settled-single)
}
