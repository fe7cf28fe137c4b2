// Package phd2 implements a client for the PHD2 guiding daemon's
// event-monitoring protocol: a single persistent TCP connection carrying
// newline-delimited JSON, on which the daemon pushes unsolicited state-change
// events and the client issues JSON-RPC-style commands.
//
// # Protocol Overview
//
//	Outgoing command:    {"method": <string>, "params": <json>, "id": <int>}\n
//	Incoming event:      {"Event": <string>, ...event-specific fields}\n
//	Incoming RPC result: {"id": <int>, "result": <json>}\n
//	                     {"id": <int>, "error": {"code": <int>, "message": <string>}}\n
//
// The daemon's own builder omits the "jsonrpc" version tag; this client does
// the same.
//
// # Basic Usage
//
// Create a client and connect to a running daemon:
//
//	client := phd2.New(nil)
//	if err := client.Connect("127.0.0.1", 4400); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect()
//
//	// Start a guiding session; reported as "command sent", not "guiding".
//	err := client.StartGuiding(phd2.SettleParams{Pixels: 1.5, Time: 8, Timeout: 40}, false)
//
//	// Inspect daemon-driven state at any time.
//	st := client.State()
//	fmt.Println(st.Guiding.Active, st.Calibration.Calibrated)
//
// # State Model
//
// All device state lives in GuidingState and is mutated only by event
// handlers running on the receive goroutine; State returns a deep-copied
// snapshot and is safe to call from any goroutine. The daemon is the source
// of truth: every event is applied as asserted, even when it does not match
// the client's last-known state.
//
// # Commands
//
// Operations that need the daemon's answer (Profiles, SetProfile,
// CheckConnected, ...) block on a correlated response matched by request id
// and honor their context's deadline. Operations documented as
// fire-and-forget (StartGuiding, SendCommand) report only that the command
// was written to the socket. Submit exposes the asynchronous form directly.
package phd2
