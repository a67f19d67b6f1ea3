package device

import (
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idevice-protocol/idevice-go/pkg/transport"
)

// stubMuxer is a minimal in-memory transport.Muxer.
type stubMuxer struct {
	mu      sync.Mutex
	entries []transport.DeviceEntry
	subs    map[int]func(transport.Event)
	nextSub int
}

func newStubMuxer(entries ...transport.DeviceEntry) *stubMuxer {
	return &stubMuxer{entries: entries, subs: make(map[int]func(transport.Event))}
}

func (m *stubMuxer) Devices() ([]transport.DeviceEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]transport.DeviceEntry(nil), m.entries...), nil
}

func (m *stubMuxer) Subscribe(fn func(transport.Event)) (func(), error) {
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

func (m *stubMuxer) Connect(transport.DeviceEntry, uint16) (net.Conn, error) {
	local, _ := net.Pipe()
	return local, nil
}

func (m *stubMuxer) SetDebugLevel(int) {}

func (m *stubMuxer) emit(event transport.Event) {
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

func (m *stubMuxer) subscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

var _ transport.Muxer = (*stubMuxer)(nil)

func TestLookupScopes(t *testing.T) {
	muxer := newStubMuxer(
		transport.DeviceEntry{UDID: "ABC123", Kind: transport.KindUSB, MuxHandle: 1},
		transport.DeviceEntry{UDID: "ABC123", Kind: transport.KindNetwork, MuxHandle: 2, Address: "10.0.0.5"},
		transport.DeviceEntry{UDID: "OTHER", Kind: transport.KindUSB, MuxHandle: 3},
	)

	tests := []struct {
		name       string
		scope      LookupScope
		wantHandle uint64
	}{
		{"any prefers usb", ScopeAny, 1},
		{"usb only", ScopeUSB, 1},
		{"network only", ScopeNetwork, 2},
		{"prefer network", ScopePreferNetwork, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(muxer, "ABC123", tt.scope)
			require.NoError(t, err)
			handle, err := d.Handle()
			require.NoError(t, err)
			assert.Equal(t, tt.wantHandle, handle)
		})
	}
}

func TestLookupScopeFallbacks(t *testing.T) {
	usbOnly := newStubMuxer(
		transport.DeviceEntry{UDID: "ABC123", Kind: transport.KindUSB, MuxHandle: 1},
	)

	d, err := New(usbOnly, "ABC123", ScopePreferNetwork)
	require.NoError(t, err)
	kind, err := d.Kind()
	require.NoError(t, err)
	assert.Equal(t, transport.KindUSB, kind)

	_, err = New(usbOnly, "ABC123", ScopeNetwork)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = New(usbOnly, "MISSING", ScopeAny)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReleasedHandleFails(t *testing.T) {
	muxer := newStubMuxer(
		transport.DeviceEntry{UDID: "ABC123", Kind: transport.KindUSB, MuxHandle: 7},
	)
	d, err := New(muxer, "ABC123", ScopeAny)
	require.NoError(t, err)

	d.Release()
	d.Release() // idempotent

	_, err = d.UDID()
	assert.True(t, errors.Is(err, ErrDeviceReleased))
	_, err = d.Handle()
	assert.True(t, errors.Is(err, ErrDeviceReleased))
	_, err = d.Connect(62078)
	assert.True(t, errors.Is(err, ErrDeviceReleased))
}

func TestWatcherDispatchAndDispose(t *testing.T) {
	muxer := newStubMuxer()
	w := NewWatcher(muxer)

	var mu sync.Mutex
	var got []transport.EventType
	token, err := w.Subscribe(func(e transport.Event) {
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, 1, muxer.subscriberCount())

	muxer.emit(transport.Event{Type: transport.EventAttached})
	muxer.emit(transport.Event{Type: transport.EventPaired})

	mu.Lock()
	assert.Equal(t, []transport.EventType{transport.EventAttached, transport.EventPaired}, got)
	mu.Unlock()

	token.Dispose()
	token.Dispose() // exactly-once release, second call is a no-op
	assert.Equal(t, 0, muxer.subscriberCount(), "last unsubscribe stops the feed")

	muxer.emit(transport.Event{Type: transport.EventDetached})
	mu.Lock()
	assert.Len(t, got, 2, "no delivery after dispose")
	mu.Unlock()
}
