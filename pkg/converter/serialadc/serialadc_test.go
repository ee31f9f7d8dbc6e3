package serialadc

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/itohio/goanalogin/pkg/analogin"
)

// board is the far end of the serial line.
type board struct {
	conn  net.Conn
	lines *bufio.Scanner
}

func newPair(t *testing.T, logger *zap.Logger) (*Converter, *board) {
	t.Helper()
	host, dev := net.Pipe()
	c := New(host, 10, logger)
	t.Cleanup(func() {
		c.Close()
		dev.Close()
	})
	return c, &board{conn: dev, lines: bufio.NewScanner(dev)}
}

func (b *board) expect(t *testing.T, want string) {
	t.Helper()
	require.NoError(t, b.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.True(t, b.lines.Scan(), "board expected %q", want)
	assert.Equal(t, want, b.lines.Text())
}

func (b *board) reply(t *testing.T, line string) {
	t.Helper()
	require.NoError(t, b.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := io.WriteString(b.conn, line+"\n")
	require.NoError(t, err)
}

func TestParseResult(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    uint16
		wantErr bool
	}{
		{name: "zero", line: "0", want: 0},
		{name: "mid scale", line: "512", want: 512},
		{name: "full scale", line: "1023", want: 1023},
		{name: "out of range", line: "1024", wantErr: true},
		{name: "negative", line: "-1", wantErr: true},
		{name: "garbage", line: "abc", wantErr: true},
		{name: "overflow", line: "70000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseResult(tt.line, 1023)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConverter_Conversion(t *testing.T) {
	c, b := newPair(t, nil)

	c.Enable()
	c.Select(3)
	c.StartConversion()
	assert.True(t, c.IsBusy())

	b.expect(t, "E")
	b.expect(t, "M3")
	b.expect(t, "S")
	b.reply(t, "777")

	assert.Eventually(t, func() bool { return !c.IsBusy() }, 2*time.Second, time.Millisecond)
	assert.Equal(t, uint16(777), c.ReadResult())
}

func TestConverter_IgnoresInvalidLines(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	c, b := newPair(t, zap.New(core))

	c.StartConversion()
	b.expect(t, "S")
	b.reply(t, "!mux fault")
	b.reply(t, "99999")
	b.reply(t, "")
	b.reply(t, "12")

	assert.Eventually(t, func() bool { return c.ReadResult() == 12 }, 2*time.Second, time.Millisecond)
	assert.False(t, c.IsBusy())
	assert.Equal(t, 1, logs.FilterMessage("converter board reported an error").Len())
	assert.Equal(t, 1, logs.FilterMessage("failed to parse line").Len())
}

func TestConverter_UnreadableResultEndsConversion(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	c, b := newPair(t, zap.New(core))
	e := analogin.New(c, analogin.WithOversampleThreshold(1))

	ch, err := e.Channel(5)
	require.NoError(t, err)
	b.expect(t, "E")
	b.expect(t, "M5")

	assert.Equal(t, analogin.StateDelivering, e.Tick(1))
	b.expect(t, "M5")
	b.expect(t, "S")
	b.reply(t, "3#1")

	assert.Eventually(t, func() bool { return c.Abandoned() == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, analogin.StateDelivering, e.Tick(2))
	assert.Equal(t, uint16(0), ch.Raw())
	assert.Equal(t, uint64(0), e.Stats().Overruns)
	assert.Equal(t, 1, logs.FilterMessage("conversion abandoned").Len())
}

func TestConverter_UnansweredConversionIsAbandoned(t *testing.T) {
	c, b := newPair(t, nil)
	e := analogin.New(c, analogin.WithOversampleThreshold(1))

	_, err := e.Channel(2)
	require.NoError(t, err)
	b.expect(t, "E")
	b.expect(t, "M2")

	assert.Equal(t, analogin.StateDelivering, e.Tick(1))
	b.expect(t, "M2")
	b.expect(t, "S")

	// The board never answers.
	for i := 0; i < DefaultBusyLimit; i++ {
		require.Equal(t, analogin.StateBusy, e.Tick(uint32(i+2)), "tick %d", i)
	}
	assert.Equal(t, analogin.StateDelivering, e.Tick(DefaultBusyLimit+2))
	assert.Equal(t, 1, c.Abandoned())
	assert.Equal(t, uint64(DefaultBusyLimit), e.Stats().Overruns)
}

func TestConverter_FailedStartIsAbandoned(t *testing.T) {
	host, dev := net.Pipe()
	c := New(host, 10, nil)
	defer c.Close()

	require.NoError(t, dev.Close())
	c.StartConversion()

	assert.Eventually(t, func() bool { return c.Abandoned() == 1 }, 2*time.Second, time.Millisecond)
	assert.False(t, c.IsBusy())
}

func TestConverter_QueueFullDoesNotBlock(t *testing.T) {
	c, _ := newPair(t, nil)

	// Nobody reads the board side, so the writer stalls on the first
	// command and the queue fills up.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < DefaultQueueSize+8; i++ {
			c.Select(i)
		}
		c.StartConversion()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("converter calls blocked")
	}
	assert.Positive(t, c.Dropped())
	assert.False(t, c.IsBusy(), "a dropped start must not leave the converter busy")
}

func TestConverter_CloseIsIdempotent(t *testing.T) {
	host, dev := net.Pipe()
	defer dev.Close()
	c := New(host, 10, nil)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	// Calls after close are ignored.
	c.Select(1)
	c.StartConversion()
	assert.False(t, c.IsBusy())
}

func TestConverter_WithEngine(t *testing.T) {
	c, b := newPair(t, nil)
	e := analogin.New(c, analogin.WithOversampleThreshold(1))

	ch, err := e.Channel(5)
	require.NoError(t, err)
	b.expect(t, "E")
	b.expect(t, "M5")

	// Nothing converted yet, the first tick delivers the idle result and
	// starts the next conversion on the same channel.
	assert.Equal(t, analogin.StateDelivering, e.Tick(1))
	b.expect(t, "M5")
	b.expect(t, "S")

	assert.Equal(t, analogin.StateBusy, e.Tick(2))

	b.reply(t, "321")
	assert.Eventually(t, func() bool { return !c.IsBusy() }, 2*time.Second, time.Millisecond)
	assert.Equal(t, analogin.StateDelivering, e.Tick(3))
	assert.Equal(t, uint16(321), ch.Raw())
	assert.Equal(t, uint64(1), e.Stats().Overruns)
}
