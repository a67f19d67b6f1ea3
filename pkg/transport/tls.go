package transport

import (
	"crypto/tls"
	"fmt"
)

// SessionCredentials carries the PEM material from a pair record needed
// to stand up session TLS with a device.
type SessionCredentials struct {
	// HostCertPEM is the host certificate presented to the device.
	HostCertPEM []byte

	// HostKeyPEM is the host private key.
	HostKeyPEM []byte

	// RootCertPEM is the pairing root certificate.
	RootCertPEM []byte
}

// NewSessionTLSConfig builds the TLS client configuration for session
// security from pair-record credentials.
//
// The device authenticates the host purely through the pair-record
// certificate; it presents a certificate that chains to the same
// pairing root but no hostname, so standard verification is disabled.
func NewSessionTLSConfig(creds *SessionCredentials) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(creds.HostCertPEM, creds.HostKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: load host identity: %v", ErrSSL, err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		// Older device OS releases only negotiate TLS 1.0/1.1 on the
		// session channel.
		MinVersion:         tls.VersionTLS10,
		MaxVersion:         tls.VersionTLS13,
		InsecureSkipVerify: true,
	}, nil
}
