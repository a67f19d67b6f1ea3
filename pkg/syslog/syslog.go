// Package syslog captures the device's live system log. The relay
// service streams raw bytes; messages are newline-delimited, NUL-padded
// and may arrive split across reads, so a LineAssembler rebuilds them.
package syslog

import (
	"bytes"
	"errors"
	"sync"

	"github.com/idevice-protocol/idevice-go/pkg/device"
	"github.com/idevice-protocol/idevice-go/pkg/service"
)

// ServiceName is the syslog relay service.
const ServiceName = "com.apple.syslog_relay"

// readChunk is the per-read buffer size for the capture goroutine.
const readChunk = 4096

// ErrCaptureActive indicates StartCapture was called twice.
var ErrCaptureActive = errors.New("syslog: capture already active")

// LineAssembler reassembles log lines from an arbitrary byte stream.
// Feed returns one entry per completed line; a trailing fragment stays
// buffered until its newline arrives. NUL bytes are stripped.
type LineAssembler struct {
	buf []byte
}

// Feed consumes a chunk and returns the lines it completed, without
// their trailing newline.
func (a *LineAssembler) Feed(data []byte) [][]byte {
	a.buf = append(a.buf, data...)

	var lines [][]byte
	for {
		i := bytes.IndexByte(a.buf, '\n')
		if i < 0 {
			return lines
		}
		line := stripNUL(a.buf[:i])
		a.buf = a.buf[i+1:]
		lines = append(lines, line)
	}
}

// Pending returns the buffered unterminated fragment, NULs stripped.
func (a *LineAssembler) Pending() []byte {
	return stripNUL(a.buf)
}

func stripNUL(line []byte) []byte {
	out := make([]byte, 0, len(line))
	for _, b := range line {
		if b != 0 {
			out = append(out, b)
		}
	}
	return out
}

// Client is a syslog relay client. The relay starts streaming the
// moment the service connects; StartCapture attaches a consumer.
type Client struct {
	mu      sync.Mutex
	svc     *service.Client
	capture bool
	closed  bool
}

// New starts the syslog relay on the device and connects to it.
func New(d *device.Device, label string, opts ...service.Option) (*Client, error) {
	svc, err := service.Start(d, label, ServiceName, false, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{svc: svc}, nil
}

// Close shuts the connection down, ending any capture.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.svc.Close()
}

// Token stops one capture.
type Token struct {
	once sync.Once
	c    *Client
}

// Dispose stops the capture by closing the relay connection; the
// service streams unconditionally, so there is no quiesce short of
// disconnecting. Disposing twice is a no-op.
func (t *Token) Dispose() {
	t.once.Do(func() {
		_ = t.c.Close()
	})
}

// StartCapture starts delivering log lines to cb from a reader
// goroutine, one invocation per line, in stream order. The capture
// runs until Dispose or Close; a client supports one capture.
func (c *Client) StartCapture(cb func(line []byte)) (*Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, service.ErrClientClosed
	}
	if c.capture {
		return nil, ErrCaptureActive
	}
	c.capture = true

	go func() {
		var assembler LineAssembler
		for {
			chunk, err := c.svc.Receive(readChunk, 0)
			if err != nil {
				return
			}
			for _, line := range assembler.Feed(chunk) {
				cb(line)
			}
		}
	}()
	return &Token{c: c}, nil
}
