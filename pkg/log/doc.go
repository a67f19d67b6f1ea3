// Package log provides structured protocol logging for the device
// services stack.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (transport framing, decoded
// protocol messages, service lifecycle). It is separate from operational
// logging (slog): protocol capture produces a complete machine-readable
// trace of what went over a connection.
//
// # Basic Usage
//
//	// For development: mirror events to the console via slog
//	logger := log.NewSlogAdapter(slog.Default())
//
//	// For analysis: write a binary event file
//	logger, _ := log.NewFileLogger("/tmp/session.dlog")
//
//	// Both at once
//	logger := log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # File Format
//
// Log files are a stream of CBOR-encoded events with integer keys
// (.dlog extension by convention). Reader streams them back, optionally
// filtered by connection, device, service, layer, or time range.
package log
