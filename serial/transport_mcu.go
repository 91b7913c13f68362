//go:build baremetal

package serial

import (
	"fmt"
	"machine"
	"time"
)

// mcuTransport implements Transport over an on-chip UART peripheral for
// baremetal targets (TinyGo), selecting between UART0/UART1 by name.
type mcuTransport struct {
	*machine.UART
}

func openOSTransport(portName string, baud int) (*mcuTransport, error) {
	var uart *machine.UART
	switch portName {
	case "0":
		uart = machine.UART0
	case "1":
		uart = machine.UART1
	default:
		return nil, fmt.Errorf("unknown UART %q", portName)
	}

	uart.Configure(machine.UARTConfig{BaudRate: uint32(baud)})
	return &mcuTransport{uart}, nil
}

func (t *mcuTransport) SetReadTimeout(timeout time.Duration) error {
	return nil
}

func (t *mcuTransport) Close() error {
	return nil
}
