package serial

import (
	"fmt"
	"time"
)

// readTimeout is the VTIME=10/VMIN=0 equivalent: reads block for at most
// this long before returning whatever has arrived.
const readTimeout = time.Second

// validBauds is the set of rates the target PHY understands. An
// unrecognised request falls back to defaultBaud.
var validBauds = map[int]bool{
	300:    true,
	9600:   true,
	19200:  true,
	38400:  true,
	115200: true,
}

const defaultBaud = 115200

// breakBaud is the rate at which a BREAK byte holds the line low long
// enough (~30ms per 0x00 byte at 300 baud) to force the target PHY to
// resynchronise.
const breakBaud = 300

// LinkOption configures a SerialLink at construction.
type LinkOption func(*SerialLink)

// WithTransport injects a Transport in place of opening a real OS port,
// the seam used by tests to drive UpdiPhy/UpdiSession against a simulator.
// It also replaces the opener DoubleBreak uses for its close/reopen cycle,
// so a mock link can observe and answer a double-BREAK without hardware.
func WithTransport(t Transport) LinkOption {
	return func(l *SerialLink) {
		l.transport = t
		l.open = func(string, int) (Transport, error) { return t, nil }
	}
}

// SerialLink owns an open half-duplex serial port and performs echo
// cancellation on every write: the UPDI wire loops every transmitted byte
// back to the receiver, so each send() must read and discard its own echo
// before the target's real response can be told apart from it.
type SerialLink struct {
	portName  string
	baud      int
	transport Transport
	open      func(portName string, baud int) (Transport, error)
}

// Open configures the line for 8E2 (8 data bits, even parity, two stop
// bits) at the nearest supported baud rate and opens it. opts may supply a
// Transport (for tests); otherwise the platform's OS serial transport is
// used.
func Open(portName string, baud int, opts ...LinkOption) (*SerialLink, error) {
	if !validBauds[baud] {
		baud = defaultBaud
	}

	l := &SerialLink{
		portName: portName,
		baud:     baud,
		open: func(portName string, baud int) (Transport, error) {
			return openOSTransport(portName, baud)
		},
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.transport == nil {
		t, err := l.open(portName, baud)
		if err != nil {
			return nil, linkErr("open", err)
		}
		l.transport = t
	}

	return l, nil
}

// Close releases the underlying transport. Safe to call multiple times.
func (l *SerialLink) Close() error {
	if l.transport == nil {
		return nil
	}
	return l.transport.Close()
}

// Send writes every byte in data, then reads back and discards the same
// number of bytes (the echo). A short write or short echo-read is fatal.
func (l *SerialLink) Send(data []byte) error {
	n, err := l.transport.Write(data)
	if err != nil {
		return linkErr("write", err)
	}
	if n != len(data) {
		return linkErr("write", fmt.Errorf("short write: %d of %d bytes", n, len(data)))
	}

	echo := make([]byte, len(data))
	if _, err := l.readFull(echo); err != nil {
		return linkErr("echo", err)
	}

	return nil
}

// Receive reads until n bytes have been collected or a read fails. On
// timeout it returns whatever was collected along with an error; the
// caller is expected to treat the short length as a protocol error.
func (l *SerialLink) Receive(n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := l.readFull(buf)
	if err != nil {
		return buf[:got], linkErr("read", err)
	}
	return buf, nil
}

// readFull loops Read calls until buf is full, a read errors, or the
// configured read timeout elapses with no further progress.
func (l *SerialLink) readFull(buf []byte) (int, error) {
	deadline := time.Now().Add(readTimeout)
	total := 0

	for total < len(buf) {
		if time.Now().After(deadline) {
			return total, fmt.Errorf("timed out after %d of %d bytes", total, len(buf))
		}

		n, err := l.transport.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}

	return total, nil
}

// DoubleBreak forces the target UPDI PHY into a known idle state: close the
// port, reopen at 300 baud, send two BREAK bytes (0x00), close, and reopen
// at the configured baud. updiphy.Phy.DoubleBreak wraps it and re-runs the
// PHY's Init afterward.
func (l *SerialLink) DoubleBreak() error {
	if err := l.Close(); err != nil {
		return linkErr("double_break close", err)
	}

	breakTransport, err := l.open(l.portName, breakBaud)
	if err != nil {
		return linkErr("double_break reopen@300", err)
	}
	l.transport = breakTransport

	if n, err := l.transport.Write([]byte{0x00, 0x00}); err != nil || n != 2 {
		l.transport.Close()
		return linkErr("double_break send", fmt.Errorf("n=%d err=%v", n, err))
	}

	if err := l.transport.Close(); err != nil {
		return linkErr("double_break close@300", err)
	}

	reopened, err := l.open(l.portName, l.baud)
	if err != nil {
		return linkErr("double_break reopen", err)
	}
	l.transport = reopened

	return nil
}
