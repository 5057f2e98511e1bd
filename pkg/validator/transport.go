// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package validator

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// Serial line settings required by the validator
const (
	BaudRate = 9600
	DataBits = 7
)

// Port is the duplex byte stream the controller drives
type Port interface {
	io.Reader
	io.Writer
	io.Closer
}

// Opener opens the transport for a device path
type Opener func(device string) (Port, error)

// SerialMode returns the fixed line settings: 9600 baud, 7 data bits,
// even parity, one stop bit. go.bug.st/serial does no RTS/CTS handshaking.
func SerialMode() *serial.Mode {
	return &serial.Mode{
		BaudRate: BaudRate,
		DataBits: DataBits,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	}
}

// SerialOpener opens a serial port with SerialMode
func SerialOpener(device string) (Port, error) {
	port, err := serial.Open(device, SerialMode())
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}
	return port, nil
}
