package service

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/idevice-protocol/idevice-go/pkg/device"
	"github.com/idevice-protocol/idevice-go/pkg/lockdown"
	"github.com/idevice-protocol/idevice-go/pkg/log"
	"github.com/idevice-protocol/idevice-go/pkg/plist"
	"github.com/idevice-protocol/idevice-go/pkg/transport"
)

// Service errors.
var (
	// ErrClientClosed indicates use of a closed service client.
	ErrClientClosed = errors.New("service: client closed")

	// ErrReceiveTimeout indicates no message arrived within the deadline.
	ErrReceiveTimeout = errors.New("service: receive timeout")
)

// Option configures a service client.
type Option func(*config)

type config struct {
	logger   log.Logger
	lockdown []lockdown.Option
}

// WithLogger attaches a protocol event logger to the service channel.
func WithLogger(logger log.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithLockdownOptions forwards options to the lockdown handshake that
// Start performs.
func WithLockdownOptions(opts ...lockdown.Option) Option {
	return func(c *config) { c.lockdown = append(c.lockdown, opts...) }
}

// Client is the base client every plist service builds on: a connection
// to a started service plus the length-prefixed plist codec. Scoped
// clients embed or wrap it.
//
// A Client is safe for concurrent use; sends and receives are
// serialized independently.
type Client struct {
	mu     sync.Mutex
	conn   *transport.Connection
	codec  *transport.PlistCodec
	name   string
	closed bool
}

// NewClient connects to a started service. The descriptor is single-use:
// the connection attempt consumes it regardless of outcome.
func NewClient(d *device.Device, desc *lockdown.ServiceDescriptor, opts ...Option) (*Client, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	conn, err := d.Connect(desc.Port)
	if err != nil {
		return nil, err
	}
	if cfg.logger != nil {
		conn.SetLogger(cfg.logger)
	}

	if desc.SSLEnabled {
		if desc.Credentials == nil {
			conn.Disconnect()
			return nil, fmt.Errorf("%w: descriptor requires SSL but has no credentials", transport.ErrSSL)
		}
		tlsConfig, err := transport.NewSessionTLSConfig(desc.Credentials)
		if err != nil {
			conn.Disconnect()
			return nil, err
		}
		if err := conn.EnableSessionSSL(tlsConfig); err != nil {
			conn.Disconnect()
			return nil, err
		}
	}

	codec := transport.NewPlistCodec(conn)
	if cfg.logger != nil {
		codec.SetLogger(cfg.logger, conn.ID(), desc.Name)
	}
	return &Client{conn: conn, codec: codec, name: desc.Name}, nil
}

// Start performs the lockdown handshake, starts the named service and
// connects to it. The lockdown session is closed before returning; the
// started service outlives it.
func Start(d *device.Device, label, name string, withEscrowBag bool, opts ...Option) (*Client, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	ldOpts := cfg.lockdown
	if cfg.logger != nil {
		ldOpts = append(ldOpts, lockdown.WithLogger(cfg.logger))
	}
	ld, err := lockdown.NewClient(d, label, ldOpts...)
	if err != nil {
		return nil, err
	}
	defer ld.Close()

	desc, err := ld.StartService(name, withEscrowBag)
	if err != nil {
		return nil, err
	}
	return NewClient(d, desc, opts...)
}

// Name returns the reverse-DNS service identifier.
func (c *Client) Name() string { return c.name }

// Conn exposes the underlying connection for services that leave the
// plist protocol behind after a handshake (house arrest hands the
// stream to AFC, file relay streams raw archives).
func (c *Client) Conn() (*transport.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	return c.conn, nil
}

func (c *Client) guard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// SendPlist writes one XML plist message.
func (c *Client) SendPlist(v *plist.Value) error {
	if err := c.guard(); err != nil {
		return err
	}
	return c.codec.Send(v)
}

// SendBinaryPlist writes one binary plist message.
func (c *Client) SendBinaryPlist(v *plist.Value) error {
	if err := c.guard(); err != nil {
		return err
	}
	return c.codec.SendBinary(v)
}

// ReceivePlist reads one message, blocking until it arrives.
func (c *Client) ReceivePlist() (*plist.Value, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	return c.codec.Receive()
}

// ReceivePlistTimeout reads one message with a deadline. An elapsed
// deadline returns ErrReceiveTimeout; the message stream stays intact
// only if no partial frame was read, so callers should treat a timeout
// mid-conversation as fatal for the connection.
func (c *Client) ReceivePlistTimeout(timeout time.Duration) (*plist.Value, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	defer c.conn.SetReadDeadline(time.Time{})

	v, err := c.codec.Receive()
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, ErrReceiveTimeout
		}
		return nil, err
	}
	return v, nil
}

// Send writes raw bytes on the service connection.
func (c *Client) Send(data []byte) (int, error) {
	if err := c.guard(); err != nil {
		return 0, err
	}
	return c.conn.Send(data)
}

// Receive reads up to max raw bytes, with Connection timeout semantics.
func (c *Client) Receive(max int, timeout time.Duration) ([]byte, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	return c.conn.Receive(max, timeout)
}

// EnableSSL upgrades the service channel to session TLS.
func (c *Client) EnableSSL(creds *transport.SessionCredentials) error {
	if err := c.guard(); err != nil {
		return err
	}
	tlsConfig, err := transport.NewSessionTLSConfig(creds)
	if err != nil {
		return err
	}
	return c.conn.EnableSessionSSL(tlsConfig)
}

// DisableSSL drops the service channel back to plaintext.
func (c *Client) DisableSSL() error {
	if err := c.guard(); err != nil {
		return err
	}
	return c.conn.DisableSessionSSL()
}

// Close shuts the service connection. Closing twice is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Disconnect()
}
