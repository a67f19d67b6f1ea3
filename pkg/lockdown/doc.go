// Package lockdown implements the client side of the lockdown session
// protocol, the device's front door: every other service is started
// through it.
//
//	┌──────────────────────────────────────────┐
//	│ Client                                   │
//	│   QueryType / GetValue / SetValue        │
//	│   Pair / ValidatePair / PairCU / Unpair  │
//	│   StartSession (+ session SSL)           │
//	│   StartService → ServiceDescriptor       │
//	├──────────────────────────────────────────┤
//	│ transport.PlistCodec (length-prefixed)   │
//	├──────────────────────────────────────────┤
//	│ transport.Connection (port 62078)        │
//	└──────────────────────────────────────────┘
//
// Trust is anchored in pair records: an RSA certificate chain generated
// on first pairing and persisted in a RecordStore. USB pairing walks
// the device's trust dialog; PairCU pairs over the network with a PIN
// using SRP6a.
package lockdown
