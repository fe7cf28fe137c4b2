package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors for transport lifecycle misuse.
var (
	// ErrNotConnected indicates a send was attempted without a connection.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrAlreadyConnected indicates Connect was called while connected.
	ErrAlreadyConnected = errors.New("transport: already connected")

	// ErrConnected indicates a handler change was attempted while connected.
	ErrConnected = errors.New("transport: handler cannot change while connected")
)

// ConnError wraps a network failure with the operation and address involved.
type ConnError struct {
	Op    string
	Addr  string
	Cause error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Addr, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConnError) Unwrap() error {
	return e.Cause
}
