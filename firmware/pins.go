//go:build tinygo

package main

import "machine"

const (
	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 10   // Result width reported to the host (10-bit = 0-1023)

	// Reserved input identifiers, shared with the host
	INPUT_BOARD_VCC = 254
	INPUT_NONE      = 255

	// Serial configuration
	// Longest exchange per tick is "M255\nS\n" out and "1023\n" back, ~12 bytes.
	// At 1 kHz that is 12,000 bytes/sec each way, so the bridge needs a
	// USB CDC link; 115200 baud UART only keeps up to ~900 Hz.
	UART_BAUD_RATE = 115200
)

// inputPins maps host identifiers to analog pins. INPUT_BOARD_VCC reads the
// supply through the on-board divider on A10.
var inputPins = map[int]machine.Pin{
	0:               machine.A0,
	1:               machine.A1,
	2:               machine.A2,
	3:               machine.A3,
	4:               machine.A4,
	5:               machine.A5,
	6:               machine.A6,
	7:               machine.A7,
	8:               machine.A8,
	9:               machine.A9,
	INPUT_BOARD_VCC: machine.A10,
}
