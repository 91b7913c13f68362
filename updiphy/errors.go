package updiphy

import (
	"errors"
	"fmt"
)

// ErrProtocol is the sentinel wrapped by every frame-level failure: a
// missing or incorrect ACK, a short response, or a malformed SIB.
var ErrProtocol = errors.New("updi protocol error")

// ProtocolError wraps ErrProtocol with the instruction that failed.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("updi phy: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protoErr(op string, err error) error {
	return &ProtocolError{Op: op, Err: fmt.Errorf("%w: %v", ErrProtocol, err)}
}
