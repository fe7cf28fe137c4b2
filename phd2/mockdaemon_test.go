package phd2

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockRequest is one command line as received by the mock daemon.
type mockRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     int64           `json:"id"`
}

// mockDaemon is a scripted stand-in for the guiding daemon. It listens on a
// loopback TCP port, accepts one client, answers each request through the
// configured handler, and can push unsolicited events at any time.
//
// With a nil handler, requests are only recorded on the requests channel and
// the test answers manually via respond/respondError, which is how the
// out-of-order correlation cases are driven.
type mockDaemon struct {
	t        *testing.T
	ln       net.Listener
	handler  func(method string, params json.RawMessage, id int64) (any, *RPCError)
	requests chan mockRequest

	mu        sync.Mutex
	conn      net.Conn
	connReady chan struct{}
	readyOnce sync.Once
	wg        sync.WaitGroup
}

// startMockDaemon starts the daemon and registers its shutdown with the
// test. The handler may be nil for manual response control.
func startMockDaemon(t *testing.T, handler func(method string, params json.RawMessage, id int64) (any, *RPCError)) *mockDaemon {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	d := &mockDaemon{
		t:         t,
		ln:        ln,
		handler:   handler,
		requests:  make(chan mockRequest, 16),
		connReady: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.serve()
	t.Cleanup(d.stop)
	return d
}

func (d *mockDaemon) port() int {
	return d.ln.Addr().(*net.TCPAddr).Port
}

func (d *mockDaemon) serve() {
	defer d.wg.Done()

	// Clients may disconnect and come back; serve one connection at a time
	// until the listener is closed.
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		d.mu.Lock()
		d.conn = conn
		d.mu.Unlock()
		d.readyOnce.Do(func() { close(d.connReady) })
		d.serveConn(conn)
	}
}

func (d *mockDaemon) serveConn(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var req mockRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		select {
		case d.requests <- req:
		default:
		}
		if d.handler == nil {
			continue
		}
		result, rpcErr := d.handler(req.Method, req.Params, req.ID)
		if rpcErr != nil {
			d.respondError(req.ID, rpcErr)
		} else {
			d.respond(req.ID, result)
		}
	}
}

// nextRequest waits for the next command line from the client.
func (d *mockDaemon) nextRequest() mockRequest {
	d.t.Helper()
	select {
	case req := <-d.requests:
		return req
	case <-time.After(2 * time.Second):
		d.t.Fatal("no request received before timeout")
		return mockRequest{}
	}
}

func (d *mockDaemon) respond(id int64, result any) {
	d.writeLine(map[string]any{"id": id, "result": result})
}

func (d *mockDaemon) respondError(id int64, rpcErr *RPCError) {
	d.writeLine(map[string]any{"id": id, "error": rpcErr})
}

// pushEvent writes one unsolicited event line to the connected client.
func (d *mockDaemon) pushEvent(v any) {
	d.t.Helper()
	select {
	case <-d.connReady:
	case <-time.After(2 * time.Second):
		d.t.Fatal("no client connected before timeout")
	}
	d.writeLine(v)
}

func (d *mockDaemon) writeLine(v any) {
	d.t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		d.t.Fatalf("marshal mock line: %v", err)
	}
	data = append(data, '\n')

	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		d.t.Fatal("writeLine before client connected")
	}
	if _, err := conn.Write(data); err != nil {
		d.t.Errorf("write mock line: %v", err)
	}
}

// closeConn drops the client connection, simulating a daemon crash.
func (d *mockDaemon) closeConn() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		d.conn.Close()
	}
}

func (d *mockDaemon) stop() {
	d.ln.Close()
	d.closeConn()
	d.wg.Wait()
}

// connectedClient returns a Client connected to the mock daemon, torn down
// with the test.
func connectedClient(t *testing.T, d *mockDaemon) *Client {
	t.Helper()
	c := New(testLogger())
	if err := c.Connect("127.0.0.1", d.port()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c
}

// waitFor polls cond until it holds or the deadline passes. Used where the
// assertion depends on the client's receive goroutine catching up.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
