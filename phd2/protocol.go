package phd2

import (
	"encoding/json"
	"time"
)

// Protocol constants for the daemon's event-monitoring endpoint.
const (
	// DefaultHost is the daemon's default listen address.
	DefaultHost = "127.0.0.1"

	// DefaultPort is the daemon's default event-monitoring port.
	DefaultPort = 4400

	// CallTimeout is the default timeout applied by Call when the caller's
	// context carries no deadline of its own.
	CallTimeout = 30 * time.Second
)

// rpcRequest is one outgoing command. The daemon accepts requests without a
// "jsonrpc" version tag, so none is emitted.
type rpcRequest struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
	ID     int64  `json:"id"`
}

// serverMessage is the classification shape for one incoming line. An
// unsolicited event carries "Event"; an RPC result carries "id" plus either
// "result" or "error". Fields absent from the line stay at their zero value.
type serverMessage struct {
	Event  string          `json:"Event"`
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Command is a built but not yet transmitted RPC command. It exists so
// callers can construct commands generically and send them later.
type Command struct {
	Method string
	Params any
}

// NewCommand builds a generic command from a method name and parameters.
func NewCommand(method string, params any) Command {
	return Command{Method: method, Params: params}
}
