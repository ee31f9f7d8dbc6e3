package analogin

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the number of channel slots when none is configured.
const DefaultCapacity = 12

// Registry is a fixed-capacity, append-only table of channels.
//
// Registration runs in normal program flow while the periodic tick iterates
// the table. The tick only ever reads count (atomically) and the slots below
// it, so a slot is written completely before count is published. mu only
// serializes registrations against each other; the tick never takes it.
type Registry struct {
	mu    sync.Mutex
	conv  Converter
	slots []*Channel
	count atomic.Int32
}

// NewRegistry creates a registry with the given number of slots.
func NewRegistry(capacity int, conv Converter) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		conv:  conv,
		slots: make([]*Channel, capacity),
	}
}

// Capacity returns the maximum number of channels.
func (r *Registry) Capacity() int {
	return len(r.slots)
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// At returns the channel in slot i. i must be below Len.
func (r *Registry) At(i int) *Channel {
	return r.slots[i]
}

// Register appends ch to the table.
func (r *Registry) Register(ch *Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lookup(ch.id) != nil {
		return fmt.Errorf("analogin: identifier %d: %w", ch.id, ErrDuplicateChannel)
	}
	return r.register(ch)
}

// FindOrCreate returns the channel registered for id, registering a new one
// if the identifier has not been seen before.
func (r *Registry) FindOrCreate(id int) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch := r.lookup(id); ch != nil {
		return ch, nil
	}
	ch := newChannel(id, r.conv)
	if err := r.register(ch); err != nil {
		return nil, err
	}
	return ch, nil
}

func (r *Registry) lookup(id int) *Channel {
	n := int(r.count.Load())
	for i := 0; i < n; i++ {
		if r.slots[i].id == id {
			return r.slots[i]
		}
	}
	return nil
}

// register must be called with mu held.
func (r *Registry) register(ch *Channel) error {
	n := r.count.Load()
	if int(n) >= len(r.slots) {
		return &CapacityError{Capacity: len(r.slots), Identifier: ch.id}
	}
	r.slots[n] = ch

	if n == 0 {
		// The tick is dormant until count is published, so the converter
		// is still ours to power up and point at the first channel.
		r.conv.Enable()
		ch.PrepareForRead()
	}

	r.count.Store(n + 1)
	return nil
}
