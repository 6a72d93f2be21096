package link

import (
	"fmt"

	"go.bug.st/serial"
)

// OpenSerial opens an 8-N-1 serial port for a gateway link, per
// spec.md §6 ("Byte-stream link: 8-N-1, baud and device path per
// configuration").
func OpenSerial(device string, baud int) (Transport, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("link: open serial port %s: %w", device, err)
	}
	return port, nil
}
