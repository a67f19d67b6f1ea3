// Package instproxy is a client for the installation proxy, the
// service managing application install, upgrade, removal and listing.
//
// Listing commands are synchronous and paginate; install-style commands
// are asynchronous: the device streams status messages (progress, then
// Complete or an error) which a delivery goroutine hands to a callback
// registered through a Token.
package instproxy
