// Package transport provides the TCP line transport used to talk to a
// guiding daemon. It owns the socket and a single reader goroutine, frames
// the stream into newline-terminated lines, and hands each line to one
// registered consumer as raw JSON. It has no knowledge of the protocol
// spoken on top of it.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	// ConnectTimeout bounds how long Connect waits for the dial to complete.
	ConnectTimeout = 5 * time.Second

	// MaxLineLength is the maximum accepted length of one protocol line in
	// bytes. Longer lines are discarded as malformed.
	MaxLineLength = 64 * 1024

	// readPollInterval is the read deadline applied to each blocking read so
	// the reader goroutine can notice cancellation promptly.
	readPollInterval = 100 * time.Millisecond
)

// MessageHandler is invoked once per fully-received line, with the line's
// bytes verified to be a single well-formed JSON value. The handler runs on
// the reader goroutine; it must not block materially or it delays all
// subsequent message delivery.
type MessageHandler func(msg json.RawMessage)

// DisconnectHandler is invoked once when the connection is lost for any
// reason other than a local Disconnect call.
type DisconnectHandler func(err error)

// Conn is a line-oriented JSON transport over one TCP connection.
//
// A Conn may be connected and disconnected repeatedly. The message handler
// must be installed before Connect and cannot be replaced while connected.
// All methods are safe for concurrent use.
type Conn struct {
	mu sync.Mutex

	conn      net.Conn
	reader    *bufio.Reader
	connected bool
	addr      string

	handler      MessageHandler
	onDisconnect DisconnectHandler

	cancelReader context.CancelFunc
	readerDone   chan struct{}

	log *slog.Logger
}

// New creates a disconnected Conn. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{log: logger}
}

// SetMessageHandler installs the single consumer for received messages.
// It must be called before Connect; replacing the handler while connected
// is not allowed and returns ErrConnected.
func (c *Conn) SetMessageHandler(fn MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return ErrConnected
	}
	c.handler = fn
	return nil
}

// SetDisconnectHandler installs the callback invoked when the connection is
// lost remotely. Like SetMessageHandler it must be set before Connect.
func (c *Conn) SetDisconnectHandler(fn DisconnectHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return ErrConnected
	}
	c.onDisconnect = fn
	return nil
}

// IsConnected reports whether the socket is open and the reader is running.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Addr returns the "host:port" address of the current or most recent
// connection, or "" if Connect has never succeeded.
func (c *Conn) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// Connect dials host:port with a bounded timeout and starts the reader
// goroutine. Calling Connect while already connected is a no-op returning
// ErrAlreadyConnected.
func (c *Conn) Connect(host string, port int) error {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	conn, err := net.DialTimeout("tcp", addr, ConnectTimeout)
	if err != nil {
		return &ConnError{Op: "connect", Addr: addr, Cause: err}
	}

	c.mu.Lock()
	if c.connected {
		// A concurrent Connect won the race.
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyConnected
	}
	c.conn = conn
	c.reader = bufio.NewReaderSize(conn, MaxLineLength)
	c.connected = true
	c.addr = addr

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelReader = cancel
	c.readerDone = make(chan struct{})
	go c.readLoop(ctx, conn, c.reader, c.readerDone)
	c.mu.Unlock()

	return nil
}

// Disconnect stops the reader goroutine, waits for it to exit, and closes
// the socket. It is safe to call from any goroutine and safe to call twice.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	cancel := c.cancelReader
	done := c.readerDone
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.reader = nil
	c.cancelReader = nil
	c.readerDone = nil
	c.mu.Unlock()
}

// Send marshals v as JSON and writes it as one newline-terminated line.
// It returns ErrNotConnected when the transport is down and does not wait
// for any response.
func (c *Conn) Send(v any) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	addr := c.addr
	c.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	data = append(data, '\n')

	if _, err := conn.Write(data); err != nil {
		return &ConnError{Op: "send", Addr: addr, Cause: err}
	}
	return nil
}

// readLoop runs on the reader goroutine. It delivers each well-formed JSON
// line to the message handler in wire order. A malformed line is logged and
// skipped; a socket error or orderly close marks the transport disconnected,
// notifies the disconnect handler, and returns. It never reconnects.
func (c *Conn) readLoop(ctx context.Context, conn net.Conn, r *bufio.Reader, done chan struct{}) {
	defer close(done)

	// ReadBytes hands back whatever it consumed when a deadline fires, so a
	// line spanning deadline ticks must be reassembled here.
	var partial []byte
	overflow := false

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(readPollInterval))
		chunk, err := r.ReadBytes('\n')
		partial = append(partial, chunk...)
		if len(partial) > MaxLineLength {
			if !overflow {
				c.log.Warn("transport: line exceeds limit, discarding until terminator", "len", len(partial))
				overflow = true
			}
			partial = nil
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			c.handleReadError(err)
			return
		}

		line := partial
		partial = nil
		if overflow {
			overflow = false
			continue
		}
		c.deliver(line)
	}
}

// deliver validates one received line and hands it to the consumer. The
// line terminator is stripped; the handler sees exactly one JSON value.
func (c *Conn) deliver(line []byte) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return
	}
	if len(line) > MaxLineLength {
		c.log.Warn("transport: discarding oversized line", "len", len(line))
		return
	}
	if !json.Valid(line) {
		c.log.Warn("transport: discarding malformed line", "line", truncateForLog(line))
		return
	}

	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		// Own copy: the bufio buffer may be reused by the next read.
		msg := make(json.RawMessage, len(line))
		copy(msg, line)
		handler(msg)
	}
}

// handleReadError transitions to the disconnected state after a read
// failure. Disconnect-initiated shutdowns land here too, but the connected
// flag is already false then and the notification is suppressed.
func (c *Conn) handleReadError(err error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	notify := c.onDisconnect
	c.mu.Unlock()

	c.log.Info("transport: connection lost", "err", err)
	if notify != nil {
		notify(err)
	}
}

func truncateForLog(line []byte) string {
	const max = 120
	if len(line) > max {
		return string(line[:max]) + "..."
	}
	return string(line)
}
