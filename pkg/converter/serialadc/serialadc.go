// Package serialadc drives an external ADC board over a serial line.
//
// Protocol, one command or result per line:
//
//	host -> board   E        enable the converter
//	host -> board   M<id>    route the multiplexer to input id
//	host -> board   S        start a conversion
//	board -> host   <raw>    result of the last started conversion
//	board -> host   !<msg>   error report
//
// None of the analogin.Converter methods block: commands are queued to a
// writer goroutine and results are picked up by a reader goroutine. A
// conversion whose result is lost, garbled or never sent does not keep the
// converter busy: it is abandoned and the previous result stays readable.
package serialadc

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/itohio/goanalogin/pkg/analogin"
)

const (
	// DefaultBaudRate matches the bridge firmware.
	DefaultBaudRate = 115200
	// DefaultQueueSize is the number of commands that may be in flight.
	DefaultQueueSize = 16
	// DefaultBusyLimit is the number of IsBusy polls after which an
	// unanswered conversion is abandoned.
	DefaultBusyLimit = 64
)

// Ensure Converter implements analogin.Converter.
var _ analogin.Converter = (*Converter)(nil)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list serial ports")
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Converter is an analogin.Converter backed by a serial ADC board.
type Converter struct {
	conn     io.ReadWriteCloser
	maxValue uint64
	logger   *zap.Logger

	cmds   chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	pending   bool
	polls     int
	busyLimit int
	result    uint16
	dropped   int
	abandoned int
	closed    bool
}

// Open opens the named serial port and starts the converter.
func Open(name string, baudRate, resolutionBits int, logger *zap.Logger) (*Converter, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	port, err := serial.Open(name, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", name)
	}
	return New(port, resolutionBits, logger), nil
}

// New starts a converter on an already open connection.
func New(conn io.ReadWriteCloser, resolutionBits int, logger *zap.Logger) *Converter {
	if resolutionBits <= 0 || resolutionBits > 16 {
		resolutionBits = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Converter{
		conn:      conn,
		maxValue:  1<<resolutionBits - 1,
		logger:    logger,
		cmds:      make(chan string, DefaultQueueSize),
		ctx:       ctx,
		cancel:    cancel,
		busyLimit: DefaultBusyLimit,
	}

	c.wg.Add(2)
	go c.writeCommands()
	go c.readResults()
	return c
}

// Enable asks the board to power up its converter.
func (c *Converter) Enable() {
	c.send("E")
}

// Select routes the board's multiplexer.
func (c *Converter) Select(id int) {
	c.send("M" + strconv.Itoa(id))
}

// StartConversion starts a conversion. The converter is busy until the
// board answers.
func (c *Converter) StartConversion() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.enqueue("S") {
		c.pending = true
		c.polls = 0
	}
}

// IsBusy reports whether a started conversion has not been answered yet.
// After DefaultBusyLimit polls without an answer the conversion is
// abandoned.
func (c *Converter) IsBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pending {
		return false
	}
	c.polls++
	if c.polls > c.busyLimit {
		c.abandonLocked("no answer from converter board")
		return false
	}
	return true
}

// ReadResult returns the last result received from the board.
func (c *Converter) ReadResult() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Dropped returns the number of commands dropped because the queue was full.
func (c *Converter) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Abandoned returns the number of conversions given up on because the
// board's answer was missing or unreadable.
func (c *Converter) Abandoned() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abandoned
}

// Close stops the converter and closes the connection.
func (c *Converter) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	err := c.conn.Close()
	c.wg.Wait()
	if err != nil {
		return errors.Wrap(err, "failed to close serial port")
	}
	return nil
}

func (c *Converter) send(cmd string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.enqueue(cmd)
}

// abandon gives up on the pending conversion, if any.
func (c *Converter) abandon(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandonLocked(reason)
}

func (c *Converter) abandonLocked(reason string) {
	if !c.pending {
		return
	}
	c.pending = false
	c.abandoned++
	c.logger.Warn("conversion abandoned", zap.String("reason", reason))
}

// enqueue must be called with mu held.
func (c *Converter) enqueue(cmd string) bool {
	select {
	case c.cmds <- cmd:
		return true
	default:
		c.dropped++
		return false
	}
}

func (c *Converter) writeCommands() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case cmd := <-c.cmds:
			if _, err := io.WriteString(c.conn, cmd+"\n"); err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.logger.Warn("failed to send command", zap.String("command", cmd), zap.Error(err))
				if cmd == "S" {
					c.abandon("start command not sent")
				}
			}
		}
	}
}

func (c *Converter) readResults() {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in serial reader", zap.Any("panic", r))
		}
	}()

	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "!") {
			c.logger.Warn("converter board reported an error", zap.String("message", line[1:]))
			continue
		}

		raw, err := parseResult(line, c.maxValue)
		if err != nil {
			c.logger.Debug("failed to parse line", zap.String("line", line), zap.Error(err))
			c.abandon("unreadable result")
			continue
		}

		c.mu.Lock()
		c.result = raw
		c.pending = false
		c.mu.Unlock()
	}
	if err := scanner.Err(); err != nil && c.ctx.Err() == nil {
		c.logger.Warn("error reading from serial port", zap.Error(err))
	}
}

// parseResult parses one result line from the board.
func parseResult(line string, maxValue uint64) (uint16, error) {
	v, err := strconv.ParseUint(line, 10, 16)
	if err != nil {
		return 0, errors.Wrap(err, "invalid result")
	}
	if v > maxValue {
		return 0, errors.Errorf("result out of range: %d (max %d)", v, maxValue)
	}
	return uint16(v), nil
}
