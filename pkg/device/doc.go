// Package device models a reachable device as a handle over the
// transport multiplexer.
//
// A Device is created from a UDID plus a lookup scope (USB only,
// network only, or prefer network) and resolves to one muxer entry. It
// opens connections to numbered device ports and exposes the muxer's
// stable numeric handle. Release invalidates the handle: every later
// operation fails with ErrDeviceReleased instead of touching freed
// state.
//
// Watch subscribes to the muxer's attach/detach/paired feed with
// token-based cancellation.
package device
