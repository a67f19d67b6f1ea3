package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/idevice-protocol/idevice-go/pkg/transport"
)

// dialTimeout bounds one TCP connection attempt to a device address.
const dialTimeout = 5 * time.Second

// ErrMuxerClosed is returned after Close.
var ErrMuxerClosed = errors.New("discovery: muxer closed")

// NetworkMuxer is a transport.Muxer backed by DNS-SD browsing. Devices
// appear as KindNetwork entries while advertised and vanish when their
// advertisement goes away. Connect dials the device directly.
type NetworkMuxer struct {
	cancel context.CancelFunc

	mu         sync.Mutex
	devices    map[string]*networkDevice
	subs       map[int]func(transport.Event)
	nextSub    int
	nextHandle uint64
	closed     bool
}

// networkDevice pairs a muxer entry with all addresses the device was
// seen on, for Connect fallback.
type networkDevice struct {
	entry transport.DeviceEntry
	addrs []string
	port  uint16
}

// NewNetworkMuxer starts browsing through the given browser. Close stops
// it. The muxer owns the browse lifetime; the browser itself is
// stateless and may be shared.
func NewNetworkMuxer(browser *Browser) (*NetworkMuxer, error) {
	ctx, cancel := context.WithCancel(context.Background())

	added, removed, err := browser.Browse(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	m := &NetworkMuxer{
		cancel:  cancel,
		devices: make(map[string]*networkDevice),
		subs:    make(map[int]func(transport.Event)),
	}
	go m.watch(added, removed)
	return m, nil
}

// watch applies browse results to the device table and fans events out
// to subscribers.
func (m *NetworkMuxer) watch(added, removed <-chan *Service) {
	for added != nil || removed != nil {
		select {
		case svc, ok := <-added:
			if !ok {
				added = nil
				continue
			}
			m.attach(svc)
		case svc, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			m.detach(svc)
		}
	}
}

func (m *NetworkMuxer) attach(svc *Service) {
	m.mu.Lock()
	if _, exists := m.devices[svc.UDID]; exists {
		m.mu.Unlock()
		return
	}
	m.nextHandle++
	dev := &networkDevice{
		entry: transport.DeviceEntry{
			UDID:      svc.UDID,
			Kind:      transport.KindNetwork,
			MuxHandle: m.nextHandle,
		},
		addrs: append([]string(nil), svc.Addresses...),
		port:  svc.Port,
	}
	if len(dev.addrs) > 0 {
		dev.entry.Address = dev.addrs[0]
	}
	m.devices[svc.UDID] = dev
	fns := m.subscribers()
	m.mu.Unlock()

	for _, fn := range fns {
		fn(transport.Event{Type: transport.EventAttached, Entry: dev.entry})
	}
}

func (m *NetworkMuxer) detach(svc *Service) {
	m.mu.Lock()
	dev, exists := m.devices[svc.UDID]
	if !exists {
		m.mu.Unlock()
		return
	}
	delete(m.devices, svc.UDID)
	fns := m.subscribers()
	m.mu.Unlock()

	for _, fn := range fns {
		fn(transport.Event{Type: transport.EventDetached, Entry: dev.entry})
	}
}

// subscribers snapshots the callback list. Callers hold m.mu.
func (m *NetworkMuxer) subscribers() []func(transport.Event) {
	fns := make([]func(transport.Event), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	return fns
}

// Devices implements transport.Muxer.
func (m *NetworkMuxer) Devices() ([]transport.DeviceEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrMuxerClosed
	}
	entries := make([]transport.DeviceEntry, 0, len(m.devices))
	for _, dev := range m.devices {
		entries = append(entries, dev.entry)
	}
	return entries, nil
}

// Subscribe implements transport.Muxer. Devices already in the table are
// replayed as attached events before live delivery begins.
func (m *NetworkMuxer) Subscribe(fn func(transport.Event)) (func(), error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrMuxerClosed
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	replay := make([]transport.DeviceEntry, 0, len(m.devices))
	for _, dev := range m.devices {
		replay = append(replay, dev.entry)
	}
	m.mu.Unlock()

	for _, entry := range replay {
		fn(transport.Event{Type: transport.EventAttached, Entry: entry})
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
	return cancel, nil
}

// Connect implements transport.Muxer. Network services listen on the
// device itself, so the port is dialed directly on each known address
// until one answers.
func (m *NetworkMuxer) Connect(entry transport.DeviceEntry, port uint16) (net.Conn, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrMuxerClosed
	}
	dev, exists := m.devices[entry.UDID]
	if !exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", transport.ErrNoSuchDevice, entry.UDID)
	}
	addrs := append([]string(nil), dev.addrs...)
	m.mu.Unlock()

	dialer := net.Dialer{Timeout: dialTimeout}
	var lastErr error
	for _, addr := range addrs {
		conn, err := dialer.Dial("tcp", net.JoinHostPort(addr, strconv.Itoa(int(port))))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: %s has no addresses", transport.ErrNoSuchDevice, entry.UDID)
	}
	return nil, lastErr
}

// SetDebugLevel implements transport.Muxer. Browsing has no wire-level
// verbosity to adjust.
func (m *NetworkMuxer) SetDebugLevel(int) {}

// Close stops browsing and drops the device table.
func (m *NetworkMuxer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.cancel()
	m.devices = map[string]*networkDevice{}
	m.subs = map[int]func(transport.Event){}
}

var _ transport.Muxer = (*NetworkMuxer)(nil)
