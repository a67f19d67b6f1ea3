package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/idevice-protocol/idevice-go/pkg/transport"
)

// Device errors.
var (
	// ErrDeviceReleased indicates a handle was used after Release.
	ErrDeviceReleased = errors.New("device: handle released")

	// ErrNotFound indicates no reachable device matched the lookup.
	ErrNotFound = errors.New("device: not found")
)

// LookupScope restricts which transports a device lookup considers.
type LookupScope uint8

const (
	// ScopeAny matches any transport, preferring USB.
	ScopeAny LookupScope = iota
	// ScopeUSB matches USB-attached devices only.
	ScopeUSB
	// ScopeNetwork matches network-reachable devices only.
	ScopeNetwork
	// ScopePreferNetwork matches any transport, preferring network.
	ScopePreferNetwork
)

// Device identifies one reachable device by UDID and transport kind.
//
// A Device is not safe for concurrent Release; connection opening and
// read-only accessors may be interleaved.
type Device struct {
	mu       sync.Mutex
	muxer    transport.Muxer
	entry    transport.DeviceEntry
	released bool
}

// New resolves udid against the muxer's current device list.
func New(muxer transport.Muxer, udid string, scope LookupScope) (*Device, error) {
	entries, err := muxer.Devices()
	if err != nil {
		return nil, fmt.Errorf("device: list devices: %w", err)
	}

	var usb, network *transport.DeviceEntry
	for i := range entries {
		e := &entries[i]
		if e.UDID != udid {
			continue
		}
		switch e.Kind {
		case transport.KindUSB:
			usb = e
		case transport.KindNetwork:
			network = e
		}
	}

	var picked *transport.DeviceEntry
	switch scope {
	case ScopeUSB:
		picked = usb
	case ScopeNetwork:
		picked = network
	case ScopePreferNetwork:
		picked = network
		if picked == nil {
			picked = usb
		}
	default:
		picked = usb
		if picked == nil {
			picked = network
		}
	}
	if picked == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, udid)
	}

	return &Device{muxer: muxer, entry: *picked}, nil
}

// guard returns the muxer entry or fails when the handle was released.
func (d *Device) guard() (transport.DeviceEntry, transport.Muxer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return transport.DeviceEntry{}, nil, ErrDeviceReleased
	}
	return d.entry, d.muxer, nil
}

// UDID returns the device's unique identifier.
func (d *Device) UDID() (string, error) {
	entry, _, err := d.guard()
	if err != nil {
		return "", err
	}
	return entry.UDID, nil
}

// Kind returns the transport the device was resolved over.
func (d *Device) Kind() (transport.Kind, error) {
	entry, _, err := d.guard()
	if err != nil {
		return 0, err
	}
	return entry.Kind, nil
}

// Handle returns the multiplexer's stable numeric handle.
func (d *Device) Handle() (uint64, error) {
	entry, _, err := d.guard()
	if err != nil {
		return 0, err
	}
	return entry.MuxHandle, nil
}

// Connect opens a connection to a numbered port on the device.
func (d *Device) Connect(port uint16) (*transport.Connection, error) {
	entry, muxer, err := d.guard()
	if err != nil {
		return nil, err
	}
	conn, err := muxer.Connect(entry, port)
	if err != nil {
		return nil, fmt.Errorf("device: connect port %d: %w", port, err)
	}
	return transport.NewConnection(conn), nil
}

// Release invalidates the handle. Releasing twice is a no-op; every
// other operation on a released handle fails with ErrDeviceReleased.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = true
	d.muxer = nil
}
