package analogin

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded is returned when a new channel must be created but
	// every registry slot is taken.
	ErrCapacityExceeded = errors.New("out of channels")
	// ErrDuplicateChannel is returned when registering a channel whose
	// identifier is already registered.
	ErrDuplicateChannel = errors.New("channel already registered")
)

// CapacityError carries the identifier that could not be registered.
type CapacityError struct {
	Capacity   int
	Identifier int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("analogin: %v (capacity %d, identifier %d)", ErrCapacityExceeded, e.Capacity, e.Identifier)
}

func (e *CapacityError) Unwrap() error { return ErrCapacityExceeded }
