package discovery_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idevice-protocol/idevice-go/pkg/discovery"
	"github.com/idevice-protocol/idevice-go/pkg/transport"
)

const (
	testUDID     = "ABC123"
	testInstance = "aa:bb:cc:dd:ee:ff@" + testUDID
)

// fakeBrowse scripts DNS-SD results into a Browser without touching the
// network.
type fakeBrowse struct {
	add    chan *zeroconf.ServiceEntry
	remove chan *zeroconf.ServiceEntry
}

func newFakeBrowse() *fakeBrowse {
	return &fakeBrowse{
		add:    make(chan *zeroconf.ServiceEntry),
		remove: make(chan *zeroconf.ServiceEntry),
	}
}

func (f *fakeBrowse) browse(ctx context.Context, service, domain string, entries, removed chan *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error {
	for {
		select {
		case e := <-f.add:
			select {
			case entries <- e:
			case <-ctx.Done():
				return ctx.Err()
			}
		case e := <-f.remove:
			select {
			case removed <- e:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func testEntry(instance, addr string, port int) *zeroconf.ServiceEntry {
	return &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instance,
			Service:  discovery.ServiceType,
			Domain:   discovery.Domain,
		},
		HostName: "Device.local.",
		Port:     port,
		AddrIPv4: []net.IP{net.ParseIP(addr)},
	}
}

func TestParseInstanceName(t *testing.T) {
	tests := []struct {
		name     string
		instance string
		wantMAC  string
		wantUDID string
		wantErr  bool
	}{
		{"typical", testInstance, "aa:bb:cc:dd:ee:ff", testUDID, false},
		{"no separator", "aabbcc", "", "", true},
		{"empty udid", "aa:bb@", "", "", true},
		{"empty mac", "@ABC123", "", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mac, udid, err := discovery.ParseInstanceName(tc.instance)
			if tc.wantErr {
				require.ErrorIs(t, err, discovery.ErrBadInstanceName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantMAC, mac)
			assert.Equal(t, tc.wantUDID, udid)
		})
	}
}

func TestBrowseAggregatesInterfaces(t *testing.T) {
	fake := newFakeBrowse()
	b := discovery.NewBrowser(discovery.BrowserConfig{Browse: fake.browse})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	added, removed, err := b.Browse(ctx)
	require.NoError(t, err)

	// The same instance shows up on two interfaces with different
	// addresses; only one added event fires.
	fake.add <- testEntry(testInstance, "192.168.1.10", 62078)

	var svc *discovery.Service
	select {
	case svc = <-added:
	case <-time.After(time.Second):
		t.Fatal("no added event")
	}
	assert.Equal(t, testUDID, svc.UDID)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", svc.MACAddress)
	assert.Equal(t, uint16(62078), svc.Port)

	fake.add <- testEntry(testInstance, "10.0.0.10", 62078)

	select {
	case extra := <-added:
		t.Fatalf("unexpected second added event: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}

	// Removal fires only once the last address is gone.
	fake.remove <- testEntry(testInstance, "192.168.1.10", 62078)
	select {
	case gone := <-removed:
		t.Fatalf("premature removed event: %+v", gone)
	case <-time.After(50 * time.Millisecond):
	}

	fake.remove <- testEntry(testInstance, "10.0.0.10", 62078)
	select {
	case gone := <-removed:
		assert.Equal(t, testUDID, gone.UDID)
	case <-time.After(time.Second):
		t.Fatal("no removed event")
	}
}

func TestBrowseSkipsMalformedInstances(t *testing.T) {
	fake := newFakeBrowse()
	b := discovery.NewBrowser(discovery.BrowserConfig{Browse: fake.browse})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	added, _, err := b.Browse(ctx)
	require.NoError(t, err)

	fake.add <- testEntry("not-a-device", "192.168.1.9", 62078)
	fake.add <- testEntry(testInstance, "192.168.1.10", 62078)

	select {
	case svc := <-added:
		assert.Equal(t, testUDID, svc.UDID)
	case <-time.After(time.Second):
		t.Fatal("no added event")
	}
}

func TestFindByUDID(t *testing.T) {
	fake := newFakeBrowse()
	b := discovery.NewBrowser(discovery.BrowserConfig{Browse: fake.browse})

	go func() {
		fake.add <- testEntry("11:22:33:44:55:66@OTHER", "192.168.1.8", 62078)
		fake.add <- testEntry(testInstance, "192.168.1.10", 62078)
	}()

	svc, err := b.FindByUDID(context.Background(), testUDID)
	require.NoError(t, err)
	assert.Equal(t, testUDID, svc.UDID)
}

func TestFindByUDIDTimesOut(t *testing.T) {
	fake := newFakeBrowse()
	b := discovery.NewBrowser(discovery.BrowserConfig{Browse: fake.browse})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := b.FindByUDID(ctx, "MISSING")
	assert.ErrorIs(t, err, discovery.ErrNotFound)
}

func TestNetworkMuxerLifecycle(t *testing.T) {
	fake := newFakeBrowse()
	b := discovery.NewBrowser(discovery.BrowserConfig{Browse: fake.browse})

	m, err := discovery.NewNetworkMuxer(b)
	require.NoError(t, err)
	defer m.Close()

	events := make(chan transport.Event, 4)
	cancel, err := m.Subscribe(func(e transport.Event) { events <- e })
	require.NoError(t, err)
	defer cancel()

	fake.add <- testEntry(testInstance, "192.168.1.10", 62078)

	select {
	case e := <-events:
		assert.Equal(t, transport.EventAttached, e.Type)
		assert.Equal(t, testUDID, e.Entry.UDID)
		assert.Equal(t, transport.KindNetwork, e.Entry.Kind)
		assert.Equal(t, "192.168.1.10", e.Entry.Address)
	case <-time.After(time.Second):
		t.Fatal("no attached event")
	}

	devices, err := m.Devices()
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, testUDID, devices[0].UDID)

	// Late subscribers get the current table replayed.
	replayed := make(chan transport.Event, 4)
	cancelReplay, err := m.Subscribe(func(e transport.Event) { replayed <- e })
	require.NoError(t, err)
	defer cancelReplay()
	select {
	case e := <-replayed:
		assert.Equal(t, transport.EventAttached, e.Type)
	case <-time.After(time.Second):
		t.Fatal("no replayed event")
	}

	fake.remove <- testEntry(testInstance, "192.168.1.10", 62078)

	select {
	case e := <-events:
		assert.Equal(t, transport.EventDetached, e.Type)
		assert.Equal(t, testUDID, e.Entry.UDID)
	case <-time.After(time.Second):
		t.Fatal("no detached event")
	}

	devices, err = m.Devices()
	require.NoError(t, err)
	assert.Empty(t, devices)

	m.Close()
	_, err = m.Devices()
	assert.ErrorIs(t, err, discovery.ErrMuxerClosed)
}

func TestNetworkMuxerConnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := uint16(ln.Addr().(*net.TCPAddr).Port)

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	fake := newFakeBrowse()
	b := discovery.NewBrowser(discovery.BrowserConfig{Browse: fake.browse})

	m, err := discovery.NewNetworkMuxer(b)
	require.NoError(t, err)
	defer m.Close()

	attached := make(chan transport.Event, 1)
	cancel, err := m.Subscribe(func(e transport.Event) { attached <- e })
	require.NoError(t, err)
	defer cancel()

	fake.add <- testEntry(testInstance, "127.0.0.1", 62078)
	var entry transport.DeviceEntry
	select {
	case e := <-attached:
		entry = e.Entry
	case <-time.After(time.Second):
		t.Fatal("no attached event")
	}

	conn, err := m.Connect(entry, port)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case server := <-accepted:
		server.Close()
	case <-time.After(time.Second):
		t.Fatal("listener never accepted")
	}

	_, err = m.Connect(transport.DeviceEntry{UDID: "MISSING"}, port)
	assert.ErrorIs(t, err, transport.ErrNoSuchDevice)
}
