//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"machine"
	"strconv"
)

var (
	uart = machine.UART0

	enabled  bool
	adcs     = map[int]*machine.ADC{}
	selected *machine.ADC

	// Serial buffer for reading lines
	serialBuffer [8]byte
	serialPos    int
)

func main() {
	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	for {
		processSerial()
	}
}

func processSerial() {
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}

		if data == '\n' || data == '\r' {
			if serialPos > 0 {
				handleCommand(serialBuffer[:serialPos])
			}
			serialPos = 0
			continue
		}

		if serialPos < len(serialBuffer) {
			serialBuffer[serialPos] = data
			serialPos++
		} else {
			// Too long to be a command, drop it
			serialPos = 0
		}
	}
}

func handleCommand(cmd []byte) {
	switch cmd[0] {
	case 'E':
		enable()
	case 'M':
		id, err := strconv.Atoi(string(cmd[1:]))
		if err != nil {
			reportError("bad input")
			return
		}
		selectInput(id)
	case 'S':
		convert()
	default:
		reportError("unknown command")
	}
}

func enable() {
	if enabled {
		return
	}
	machine.InitADC()
	enabled = true
}

func selectInput(id int) {
	if id == INPUT_NONE {
		selected = nil
		return
	}
	if adc, ok := adcs[id]; ok {
		selected = adc
		return
	}
	pin, ok := inputPins[id]
	if !ok {
		selected = nil
		reportError("no such input")
		return
	}

	pin.Configure(machine.PinConfig{Mode: machine.PinInput})
	adc := &machine.ADC{Pin: pin}
	adc.Configure(machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: 12,
	})
	adcs[id] = adc
	selected = adc
}

// convert answers every start with exactly one result so the host never
// stays busy.
func convert() {
	var value uint16
	if enabled && selected != nil {
		// Get returns a left-aligned 16-bit value
		value = selected.Get() >> (16 - ADC_RESOLUTION)
	}
	print(value)
	print("\n")
}

func reportError(msg string) {
	print("!")
	print(msg)
	print("\n")
}
