package transport

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/idevice-protocol/idevice-go/pkg/log"
)

// Connection errors.
var (
	// ErrDisconnected indicates the connection was closed; Disconnect is
	// terminal and every later operation fails with this error.
	ErrDisconnected = errors.New("transport: connection disconnected")

	// ErrSSL indicates the session security handshake failed.
	ErrSSL = errors.New("transport: session SSL failure")

	// ErrNoDescriptor indicates the underlying stream has no OS file
	// descriptor (in-memory pipes, for example).
	ErrNoDescriptor = errors.New("transport: connection has no file descriptor")
)

// Connection wraps one raw muxed byte stream. It layers optional session
// TLS above the raw path and provides receive-with-timeout semantics.
//
// Connection is safe for one concurrent reader and one concurrent
// writer; interleaving multiple writers of framed messages is the
// caller's concern.
type Connection struct {
	mu     sync.Mutex
	raw    net.Conn
	tlsc   *tls.Conn // non-nil while session SSL is enabled
	closed bool

	id     string
	logger log.Logger
}

// NewConnection wraps a raw stream obtained from a Muxer.
func NewConnection(conn net.Conn) *Connection {
	return &Connection{
		raw:    conn,
		id:     uuid.NewString(),
		logger: log.NoopLogger{},
	}
}

// ID returns the connection's correlation identifier used in log events.
func (c *Connection) ID() string { return c.id }

// SetLogger configures protocol logging. Pass nil to disable.
func (c *Connection) SetLogger(logger log.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if logger == nil {
		logger = log.NoopLogger{}
	}
	c.logger = logger
}

// stream returns the active stream (TLS when enabled) or an error when
// disconnected.
func (c *Connection) stream() (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrDisconnected
	}
	if c.tlsc != nil {
		return c.tlsc, nil
	}
	return c.raw, nil
}

// Send writes data to the device, returning the number of bytes sent.
func (c *Connection) Send(data []byte) (int, error) {
	conn, err := c.stream()
	if err != nil {
		return 0, err
	}
	n, err := conn.Write(data)
	if err != nil {
		return n, fmt.Errorf("transport: send: %w", err)
	}
	return n, nil
}

// Receive reads up to max bytes. A zero timeout blocks until at least
// one byte arrives or the channel closes. A positive timeout returns
// whatever was received when it elapses, possibly nothing, without an
// error.
func (c *Connection) Receive(max int, timeout time.Duration) ([]byte, error) {
	conn, err := c.stream()
	if err != nil {
		return nil, err
	}

	if timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		defer conn.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, max)
	n, err := conn.Read(buf)
	if err != nil {
		var nerr net.Error
		if timeout > 0 && errors.As(err, &nerr) && nerr.Timeout() {
			return buf[:n], nil
		}
		if c.isClosed() {
			return nil, ErrDisconnected
		}
		return nil, fmt.Errorf("transport: receive: %w", err)
	}
	return buf[:n], nil
}

// SetReadDeadline bounds future reads on the active stream. A zero time
// clears the deadline. Framing layers surface an elapsed deadline as a
// timeout error from Read.
func (c *Connection) SetReadDeadline(t time.Time) error {
	conn, err := c.stream()
	if err != nil {
		return err
	}
	return conn.SetReadDeadline(t)
}

// Read implements io.Reader over the active stream, blocking until data
// arrives. Framing layers use this view.
func (c *Connection) Read(p []byte) (int, error) {
	conn, err := c.stream()
	if err != nil {
		return 0, err
	}
	n, err := conn.Read(p)
	if err != nil && c.isClosed() {
		return n, ErrDisconnected
	}
	return n, err
}

// Write implements io.Writer over the active stream.
func (c *Connection) Write(p []byte) (int, error) {
	return c.Send(p)
}

// EnableSessionSSL upgrades the stream to TLS using the given
// configuration. Enabling twice is a quiet no-op.
func (c *Connection) EnableSessionSSL(config *tls.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrDisconnected
	}
	if c.tlsc != nil {
		return nil
	}

	tlsConn := tls.Client(c.raw, config)
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("%w: %v", ErrSSL, err)
	}

	c.tlsc = tlsConn
	c.logState("", "ssl-enabled", "")
	return nil
}

// DisableSessionSSL drops back to the raw path for subsequent traffic.
// Disabling when SSL is not active is a quiet no-op.
//
// The TLS layer is abandoned rather than shut down: the device keeps
// the raw stream open and expects plaintext immediately after the
// SSL-stop exchange.
func (c *Connection) DisableSessionSSL() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrDisconnected
	}
	if c.tlsc == nil {
		return nil
	}
	c.tlsc = nil
	c.logState("ssl-enabled", "ssl-disabled", "")
	return nil
}

// Disconnect closes the connection. It is terminal: all subsequent
// operations fail with ErrDisconnected. Disconnecting twice is a no-op.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.logState("", "disconnected", "")
	return c.raw.Close()
}

// Close implements io.Closer as an alias for Disconnect.
func (c *Connection) Close() error { return c.Disconnect() }

// Fd exposes the raw stream's OS file descriptor when it has one.
func (c *Connection) Fd() (uintptr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrDisconnected
	}
	sc, ok := c.raw.(syscall.Conn)
	if !ok {
		return 0, ErrNoDescriptor
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd uintptr
	if err := raw.Control(func(f uintptr) { fd = f }); err != nil {
		return 0, err
	}
	return fd, nil
}

// RemoteAddr returns the peer address of the raw stream.
func (c *Connection) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// logState emits a connection state-change event. Callers hold c.mu.
func (c *Connection) logState(oldState, newState, reason string) {
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}
