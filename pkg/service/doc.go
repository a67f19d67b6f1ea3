// Package service provides the base client shared by every device
// service: connect to the port a lockdown StartService handed out,
// optionally upgrade to session TLS, and speak length-prefixed plists.
// Scoped service packages (afc, instproxy, syslog, ...) build on it.
package service
