package serialmux

import "io"

// SerialPorter defines the minimal interface needed for a serial port.
// go.bug.st/serial ports satisfy it, as do the test ports in mock.go.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}
