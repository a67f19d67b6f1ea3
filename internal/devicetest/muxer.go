// Package devicetest provides an in-process fake device for tests: a
// muxer whose connections are net.Pipe pairs, served by protocol fakes
// for lockdownd and the plist services.
package devicetest

import (
	"fmt"
	"net"
	"sync"

	"github.com/idevice-protocol/idevice-go/pkg/transport"
)

// Handler serves one accepted connection. It runs on its own goroutine
// and owns the conn.
type Handler func(conn net.Conn)

// Muxer is an in-memory transport.Muxer. Devices are registered with
// AddDevice and ports are bound with Handle; Connect returns the client
// half of a net.Pipe whose server half is passed to the handler.
type Muxer struct {
	mu       sync.Mutex
	entries  []transport.DeviceEntry
	handlers map[string]map[uint16]Handler
	subs     map[int]func(transport.Event)
	nextSub  int
}

// NewMuxer creates an empty fake muxer.
func NewMuxer() *Muxer {
	return &Muxer{
		handlers: make(map[string]map[uint16]Handler),
		subs:     make(map[int]func(transport.Event)),
	}
}

// AddDevice registers a device entry.
func (m *Muxer) AddDevice(entry transport.DeviceEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

// Handle binds a handler to a device port.
func (m *Muxer) Handle(udid string, port uint16, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ports := m.handlers[udid]
	if ports == nil {
		ports = make(map[uint16]Handler)
		m.handlers[udid] = ports
	}
	ports[port] = h
}

// Devices implements transport.Muxer.
func (m *Muxer) Devices() ([]transport.DeviceEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]transport.DeviceEntry(nil), m.entries...), nil
}

// Subscribe implements transport.Muxer.
func (m *Muxer) Subscribe(fn func(transport.Event)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}, nil
}

// Emit delivers an event to all subscribers.
func (m *Muxer) Emit(event transport.Event) {
	m.mu.Lock()
	fns := make([]func(transport.Event), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(event)
	}
}

// Connect implements transport.Muxer.
func (m *Muxer) Connect(entry transport.DeviceEntry, port uint16) (net.Conn, error) {
	m.mu.Lock()
	h := m.handlers[entry.UDID][port]
	m.mu.Unlock()
	if h == nil {
		return nil, fmt.Errorf("%w: %s port %d", transport.ErrNoSuchDevice, entry.UDID, port)
	}
	local, remote := net.Pipe()
	go h(remote)
	return local, nil
}

// SetDebugLevel implements transport.Muxer.
func (m *Muxer) SetDebugLevel(int) {}

var _ transport.Muxer = (*Muxer)(nil)
