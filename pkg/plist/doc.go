// Package plist implements the hierarchical value format used as the
// wire format for every device control message.
//
// A Value is a tagged union over booleans, unsigned integers, reals,
// strings, dates, raw data, arrays, dictionaries, and archive UIDs.
// Containers own their children; a node exposes its parent as a weak
// back-reference for lookup only.
//
// # Encodings
//
// Three encodings are supported:
//   - FormatBinary: Apple's compact binary property-list format
//     ("bplist00"), used by services that exchange binary plists.
//   - FormatXML: the PLIST 1.0 DTD XML document format, used by the
//     lockdown control channel.
//   - FormatJSON: a JSON rendering for tooling. JSON is lossy: dates
//     become RFC3339 strings and UIDs plain integers, so date/UID nodes
//     do not survive a JSON round-trip.
//
// DecodeAuto probes for the binary signature and falls back to XML,
// matching how device responses are framed in practice.
//
// # Errors
//
// Malformed input yields a *FormatError and never a partial tree.
// Accessors on a mismatched variant return ok=false rather than
// panicking.
package plist
