// Package serial implements the echo-cancelling UPDI link layer on top of
// a half-duplex UART: SerialLink owns the port, absorbs its own echo, and
// knows how to force a double-BREAK resync.
package serial

import (
	"io"
	"time"
)

// Transport is the interface for low-level byte transport under a SerialLink.
// Abstracting it this way allows tests to run against a simulator instead
// of a real UART.
type Transport interface {
	io.ReadWriteCloser

	// SetReadTimeout sets the read timeout duration.
	SetReadTimeout(timeout time.Duration) error
}
