// Package afc is a client for the file-access service, the device's
// media filesystem protocol.
//
//	┌─────────────────────────────────────────┐
//	│ Client / File                           │
//	│   ReadDir, FileInfo, Open, Rename, ...  │
//	├─────────────────────────────────────────┤
//	│ 40-byte packet header "CFA6LPAA" (LE)   │
//	├─────────────────────────────────────────┤
//	│ service connection                      │
//	└─────────────────────────────────────────┘
//
// Requests and replies are strictly alternating; the client serializes
// operations. Results carry the device's closed Status taxonomy.
package afc
