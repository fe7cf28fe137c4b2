package phd2

import (
	"errors"
	"fmt"
)

// Sentinel errors for the protocol client.
var (
	// ErrDisconnected indicates a pending call was aborted because the
	// connection was lost before its response arrived.
	ErrDisconnected = errors.New("phd2: connection lost")

	// ErrNoResult indicates the daemon answered a call with neither a
	// result nor an error payload.
	ErrNoResult = errors.New("phd2: response carried no result")
)

// RPCError is the error payload of a failed RPC call, as reported by the
// daemon. It is returned from Call and the typed command wrappers.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("phd2: rpc error %d: %s", e.Code, e.Message)
}
