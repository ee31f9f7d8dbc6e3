package analogin

import "sync/atomic"

const (
	// NoPin marks a channel with no physical input. It is advanced past
	// without a conversion.
	NoPin = 255
	// BoardVCC is the dedicated supply voltage channel. It is created by
	// Engine.Init and never goes through dynamic registration.
	BoardVCC = 254
)

// Channel is one logical analog input multiplexed onto the converter.
type Channel struct {
	id   int
	conv Converter
	last atomic.Uint32
}

func newChannel(id int, conv Converter) *Channel {
	return &Channel{id: id, conv: conv}
}

// ID returns the pin or source identifier of the channel.
func (c *Channel) ID() int {
	return c.id
}

// Raw returns the most recent delivered sample. It may be stale by up to one
// full round-robin cycle.
func (c *Channel) Raw() uint16 {
	return uint16(c.last.Load())
}

// PrepareForRead routes the converter multiplexer to this channel.
func (c *Channel) PrepareForRead() {
	if c.id == NoPin {
		return
	}
	c.conv.Select(c.id)
}

// acceptSample stores a delivered conversion. Only the engine calls it.
func (c *Channel) acceptSample(raw uint16) {
	c.last.Store(uint32(raw))
}
