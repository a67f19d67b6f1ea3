// Package discovery finds devices reachable over the local network.
//
// Paired devices with WiFi sync enabled advertise the DNS-SD service
// _apple-mobdev2._tcp. The instance name carries the device's WiFi MAC
// address and UDID:
//
//	<mac-address>@<udid>._apple-mobdev2._tcp.local.
//
// Browser watches that service type and reports devices as they appear
// and disappear, aggregating addresses seen on multiple interfaces into
// one entry per instance.
//
// NetworkMuxer layers the transport.Muxer contract on top of a Browser:
// each advertised device becomes a DeviceEntry of KindNetwork, and
// Connect dials the device's address directly, since network services
// listen on the device itself rather than behind a USB multiplexer.
package discovery
