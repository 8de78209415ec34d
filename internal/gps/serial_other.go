//go:build !linux

package gps

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

func openSerial(path string, baud int) (io.ReadCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("gps: open %s: %w", path, err)
	}
	return port, nil
}
