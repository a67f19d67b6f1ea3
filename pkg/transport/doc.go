// Package transport provides the byte-stream layer under every service
// client.
//
// The transport multiplexer that discovers devices and opens raw
// connections by port number is an external collaborator, consumed
// through the Muxer interface. This package supplies everything layered
// on top of the raw stream:
//
//	┌────────────────────────────────┐
//	│   plist control messages       │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│   optional session TLS         │
//	├────────────────────────────────┤
//	│   muxed byte stream (Muxer)    │
//	└────────────────────────────────┘
//
// Connection wraps one raw stream with send/receive-with-timeout
// semantics, idempotent session-TLS toggling, and a terminal Disconnect.
// PlistCodec adds the 4-byte big-endian length prefix used by the
// lockdown sub-protocol and by most plist services.
package transport
