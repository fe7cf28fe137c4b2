package phd2

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/astrotools/phd2go/dispatch"
	"github.com/astrotools/phd2go/transport"
)

// Client speaks the event-monitoring protocol to one guiding daemon. It
// owns the transport connection, classifies each incoming line as event or
// RPC result, keeps GuidingState current, and correlates command responses
// to their callers by request id.
//
// A Client is safe for concurrent use from multiple goroutines. GuidingState
// and the pending-request table are written only by the receive goroutine
// and the command path respectively, each under its own mutex.
type Client struct {
	tr       *transport.Conn
	registry *dispatch.Registry
	log      *slog.Logger

	// mu guards the request id counter, the pending table, and the
	// last-used address for Reconnect.
	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan rpcOutcome
	host    string
	port    int

	stateMu sync.Mutex
	state   GuidingState

	observerMu sync.Mutex
	observer   func(name string, payload json.RawMessage)

	// connKnown is set once equipment connection status has been learned
	// from the daemon; before that, CheckConnected must query live.
	connKnown bool
}

// rpcOutcome is one completed RPC: either a result payload or an error
// (daemon-reported *RPCError, or a connection failure).
type rpcOutcome struct {
	result json.RawMessage
	err    error
}

// New creates a disconnected Client. A nil logger falls back to
// slog.Default().
func New(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		tr:       transport.New(logger),
		registry: dispatch.New(),
		log:      logger,
		pending:  make(map[int64]chan rpcOutcome),
	}
	c.registerEventHandlers(c.registry)

	// The transport contract requires both handlers installed before the
	// first Connect; the Client is the transport's only consumer.
	c.tr.SetMessageHandler(c.handleMessage)
	c.tr.SetDisconnectHandler(c.handleDisconnect)
	return c
}

// Registry exposes the event-dispatch registry, letting embedders observe
// or override individual event routes.
func (c *Client) Registry() *dispatch.Registry {
	return c.registry
}

// SetEventObserver installs a callback invoked after each event has been
// dispatched, with the event name and the raw line. Intended for logging or
// UI mirroring; it runs on the receive goroutine and must not block.
func (c *Client) SetEventObserver(fn func(name string, payload json.RawMessage)) {
	c.observerMu.Lock()
	c.observer = fn
	c.observerMu.Unlock()
}

// Connect opens the TCP connection to the daemon. Empty host and zero port
// select the defaults ("127.0.0.1", 4400). No commands are issued
// implicitly; the daemon announces itself with a Version event.
func (c *Client) Connect(host string, port int) error {
	if host == "" {
		host = DefaultHost
	}
	if port == 0 {
		port = DefaultPort
	}
	if err := c.tr.Connect(host, port); err != nil {
		return err
	}
	c.mu.Lock()
	c.host = host
	c.port = port
	c.mu.Unlock()
	return nil
}

// Disconnect closes the connection, fails all pending calls, and marks the
// connection state false. Last-known device state is retained. Idempotent.
func (c *Client) Disconnect() {
	c.tr.Disconnect()
	c.failPending(ErrDisconnected)
	c.markDisconnected()
}

// Reconnect disconnects and connects again to the last-used address.
// Last-known GuidingState values are retained, but Connected stays false
// until the daemon sends a fresh Version event.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	host, port := c.host, c.port
	c.mu.Unlock()
	c.Disconnect()
	return c.Connect(host, port)
}

// IsConnected reports transport liveness, not guiding activity.
func (c *Client) IsConnected() bool {
	return c.tr.IsConnected()
}

// State returns a deep-copied snapshot of the device state. Safe to call
// from any goroutine while events keep arriving.
func (c *Client) State() GuidingState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state.clone()
}

// handleMessage classifies one decoded line from the transport. It runs on
// the receive goroutine, so events are applied in exact wire order.
func (c *Client) handleMessage(raw json.RawMessage) {
	var msg serverMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Warn("phd2: unclassifiable message", "err", err)
		return
	}

	if msg.Event != "" {
		if !c.registry.Dispatch(msg.Event, raw) {
			c.log.Warn("phd2: no handler for event", "event", msg.Event)
		}
		c.observerMu.Lock()
		observer := c.observer
		c.observerMu.Unlock()
		if observer != nil {
			observer(msg.Event, raw)
		}
		return
	}

	if msg.ID != nil {
		c.completePending(*msg.ID, msg.Result, msg.Error)
		return
	}

	c.log.Warn("phd2: dropping message with neither Event nor id")
}

// handleDisconnect reacts to the transport losing the connection: every
// waiting caller is failed immediately rather than left to its timeout.
func (c *Client) handleDisconnect(err error) {
	c.failPending(ErrDisconnected)
	c.markDisconnected()
}

func (c *Client) markDisconnected() {
	c.stateMu.Lock()
	c.state.Connection.Connected = false
	// Equipment status is per session; the next CheckConnected must ask the
	// daemon again rather than trust the dead session's cache.
	c.connKnown = false
	c.stateMu.Unlock()
}

// completePending resolves the table entry for id. A result whose id is no
// longer pending (late arrival after timeout, or never ours) is logged and
// discarded.
func (c *Client) completePending(id int64, result json.RawMessage, rpcErr *RPCError) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debug("phd2: discarding result for unknown or stale id", "id", id)
		return
	}
	if rpcErr != nil {
		ch <- rpcOutcome{err: rpcErr}
		return
	}
	if len(result) == 0 {
		ch <- rpcOutcome{err: ErrNoResult}
		return
	}
	ch <- rpcOutcome{result: result}
}

// failPending aborts every in-flight call with err.
func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan rpcOutcome)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- rpcOutcome{err: err}
	}
}

// Pending is a handle for one in-flight RPC request.
type Pending struct {
	id int64
	c  *Client
	ch chan rpcOutcome
}

// ID returns the request's correlation id.
func (p *Pending) ID() int64 {
	return p.id
}

// Wait blocks until the response arrives or ctx expires. On expiry the
// table entry is removed, so a late response is logged and discarded
// instead of leaking or crashing a future waiter.
func (p *Pending) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case out := <-p.ch:
		return out.result, out.err
	case <-ctx.Done():
		p.c.mu.Lock()
		delete(p.c.pending, p.id)
		p.c.mu.Unlock()
		// Completion may have raced the cancellation.
		select {
		case out := <-p.ch:
			return out.result, out.err
		default:
		}
		return nil, ctx.Err()
	}
}

// Submit builds a request, registers a pending-table entry under a fresh
// id, and transmits it. It reports only submission; the returned handle's
// Wait delivers the daemon's answer. Ids are monotonically allocated under
// the table's lock and never reused while pending.
func (c *Client) Submit(method string, params any) (*Pending, error) {
	ch := make(chan rpcOutcome, 1)

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.tr.Send(rpcRequest{Method: method, Params: params, ID: id}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}
	return &Pending{id: id, c: c, ch: ch}, nil
}

// Call submits a request and blocks for its correlated response. A daemon
// error payload is returned as *RPCError. When ctx carries no deadline,
// CallTimeout applies.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, CallTimeout)
		defer cancel()
	}

	p, err := c.Submit(method, params)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

// Send transmits a fire-and-forget command. The success return reports only
// that the command was written to the socket; the daemon's answer, if any,
// arrives with an id no one is waiting on and is discarded. A send on a
// dead transport fails fast with no retry.
func (c *Client) Send(method string, params any) error {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()

	return c.tr.Send(rpcRequest{Method: method, Params: params, ID: id})
}

// SendCommand transmits a generically built command, fire-and-forget.
func (c *Client) SendCommand(cmd Command) error {
	return c.Send(cmd.Method, cmd.Params)
}
