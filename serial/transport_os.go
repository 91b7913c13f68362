//go:build !baremetal

package serial

import (
	"fmt"
	"time"

	gobugstserial "go.bug.st/serial"
)

// osTransport implements Transport over a real UART using go.bug.st/serial,
// configured for UPDI's 8E2 line discipline.
type osTransport struct {
	port     gobugstserial.Port
	portName string
}

func openOSTransport(portName string, baud int) (*osTransport, error) {
	mode := &gobugstserial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   gobugstserial.EvenParity,
		StopBits: gobugstserial.TwoStopBits,
	}

	port, err := gobugstserial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", portName, err)
	}

	return &osTransport{port: port, portName: portName}, nil
}

func (t *osTransport) Read(p []byte) (int, error) {
	return t.port.Read(p)
}

func (t *osTransport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

func (t *osTransport) Close() error {
	return t.port.Close()
}

func (t *osTransport) SetReadTimeout(timeout time.Duration) error {
	return t.port.SetReadTimeout(timeout)
}
