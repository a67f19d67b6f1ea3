package transport

import (
	"errors"
	"net"
)

// Kind identifies how a device is reachable.
type Kind uint8

const (
	// KindUSB is a device attached over USB.
	KindUSB Kind = 0
	// KindNetwork is a device reachable over the local network.
	KindNetwork Kind = 1
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindUSB:
		return "USB"
	case KindNetwork:
		return "NETWORK"
	default:
		return "UNKNOWN"
	}
}

// DeviceEntry describes one reachable device as reported by a Muxer.
type DeviceEntry struct {
	// UDID is the device's unique identifier.
	UDID string

	// Kind is the transport over which the device is reachable.
	Kind Kind

	// MuxHandle is the multiplexer's stable numeric handle for the
	// device.
	MuxHandle uint64

	// Address is the device's network address for KindNetwork entries.
	Address string
}

// EventType classifies muxer device events.
type EventType uint8

const (
	// EventAttached signals a newly reachable device.
	EventAttached EventType = 0
	// EventDetached signals a device that went away.
	EventDetached EventType = 1
	// EventPaired signals a completed pairing for a device.
	EventPaired EventType = 2
)

// String returns the event type name.
func (e EventType) String() string {
	switch e {
	case EventAttached:
		return "ATTACHED"
	case EventDetached:
		return "DETACHED"
	case EventPaired:
		return "PAIRED"
	default:
		return "UNKNOWN"
	}
}

// Event is a device add/remove/paired notification from a Muxer.
type Event struct {
	Type  EventType
	Entry DeviceEntry
}

// ErrNoSuchDevice is returned when a Muxer cannot find a requested
// device.
var ErrNoSuchDevice = errors.New("transport: no such device")

// Muxer is the external transport multiplexer collaborator. It owns
// device discovery and raw connection establishment; its own wire
// framing is not modeled here.
//
// Implementations must deliver events for one subscription in arrival
// order. Callbacks run on a muxer-internal goroutine.
type Muxer interface {
	// Devices lists the currently reachable devices.
	Devices() ([]DeviceEntry, error)

	// Subscribe registers a callback for device events. The returned
	// cancel function unregisters it; cancel is idempotent.
	Subscribe(fn func(Event)) (cancel func(), err error)

	// Connect opens a raw duplex byte stream to a numbered port on the
	// device.
	Connect(entry DeviceEntry, port uint16) (net.Conn, error)

	// SetDebugLevel adjusts the multiplexer's debug logging verbosity.
	SetDebugLevel(level int)
}
