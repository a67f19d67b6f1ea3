package lockdown

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/idevice-protocol/idevice-go/pkg/plist"
	"github.com/idevice-protocol/idevice-go/pkg/transport"
)

// pairKeyBits is the RSA modulus size for generated pairing identities.
const pairKeyBits = 2048

// pairCertLifetime is the validity window of generated certificates.
const pairCertLifetime = 10 * 365 * 24 * time.Hour

// PairRecord holds the trust material established when pairing with a
// device. All certificate and key fields are PEM.
type PairRecord struct {
	HostID         string
	SystemBUID     string
	HostCert       []byte
	HostPrivateKey []byte
	RootCert       []byte
	RootPrivateKey []byte
	DeviceCert     []byte
	EscrowBag      []byte
	WiFiMACAddress string
}

// SessionCredentials extracts the TLS material for session security.
func (r *PairRecord) SessionCredentials() *transport.SessionCredentials {
	return &transport.SessionCredentials{
		HostCertPEM: r.HostCert,
		HostKeyPEM:  r.HostPrivateKey,
		RootCertPEM: r.RootCert,
	}
}

// pairingDict is the subset of the record sent in Pair/ValidatePair
// requests.
func (r *PairRecord) pairingDict() *plist.Value {
	d := plist.NewDict()
	d.Set("DeviceCertificate", plist.NewData(r.DeviceCert))
	d.Set("HostCertificate", plist.NewData(r.HostCert))
	d.Set("RootCertificate", plist.NewData(r.RootCert))
	d.Set("HostID", plist.NewString(r.HostID))
	d.Set("SystemBUID", plist.NewString(r.SystemBUID))
	return d
}

// toPlist converts the full record for on-disk storage.
func (r *PairRecord) toPlist() *plist.Value {
	d := r.pairingDict()
	d.Set("HostPrivateKey", plist.NewData(r.HostPrivateKey))
	d.Set("RootPrivateKey", plist.NewData(r.RootPrivateKey))
	if len(r.EscrowBag) > 0 {
		d.Set("EscrowBag", plist.NewData(r.EscrowBag))
	}
	if r.WiFiMACAddress != "" {
		d.Set("WiFiMACAddress", plist.NewString(r.WiFiMACAddress))
	}
	return d
}

// recordFromPlist rebuilds a record from its storage form.
func recordFromPlist(v *plist.Value) (*PairRecord, error) {
	r := &PairRecord{}
	var ok bool
	if r.HostID, ok = v.GetString("HostID"); !ok {
		return nil, fmt.Errorf("%w: record missing HostID", CodeInvalidPairRecord)
	}
	if r.SystemBUID, ok = v.GetString("SystemBUID"); !ok {
		return nil, fmt.Errorf("%w: record missing SystemBUID", CodeInvalidPairRecord)
	}
	r.HostCert, _ = v.Get("HostCertificate").AsData()
	r.HostPrivateKey, _ = v.Get("HostPrivateKey").AsData()
	r.RootCert, _ = v.Get("RootCertificate").AsData()
	r.RootPrivateKey, _ = v.Get("RootPrivateKey").AsData()
	r.DeviceCert, _ = v.Get("DeviceCertificate").AsData()
	r.EscrowBag, _ = v.Get("EscrowBag").AsData()
	r.WiFiMACAddress, _ = v.GetString("WiFiMACAddress")
	return r, nil
}

// GeneratePairRecord creates a fresh pairing identity for a device.
// devicePublicKeyPEM is the device's RSA public key as returned by
// GetValue(nil, "DevicePublicKey").
func GeneratePairRecord(devicePublicKeyPEM []byte, systemBUID string) (*PairRecord, error) {
	devicePub, err := parseDevicePublicKey(devicePublicKeyPEM)
	if err != nil {
		return nil, err
	}

	rootKey, err := rsa.GenerateKey(rand.Reader, pairKeyBits)
	if err != nil {
		return nil, fmt.Errorf("lockdown: generate root key: %w", err)
	}
	hostKey, err := rsa.GenerateKey(rand.Reader, pairKeyBits)
	if err != nil {
		return nil, fmt.Errorf("lockdown: generate host key: %w", err)
	}

	notBefore := time.Now().Add(-time.Hour)
	notAfter := notBefore.Add(pairCertLifetime)

	rootTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(0),
		Subject:               pkix.Name{},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("lockdown: create root certificate: %w", err)
	}
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, fmt.Errorf("lockdown: parse root certificate: %w", err)
	}

	hostTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(0),
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	hostDER, err := x509.CreateCertificate(rand.Reader, hostTemplate, rootCert, &hostKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("lockdown: create host certificate: %w", err)
	}

	deviceTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(0),
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	deviceDER, err := x509.CreateCertificate(rand.Reader, deviceTemplate, rootCert, devicePub, rootKey)
	if err != nil {
		return nil, fmt.Errorf("lockdown: create device certificate: %w", err)
	}

	if systemBUID == "" {
		systemBUID = strings.ToUpper(uuid.NewString())
	}
	return &PairRecord{
		HostID:         strings.ToUpper(uuid.NewString()),
		SystemBUID:     systemBUID,
		HostCert:       pemEncode("CERTIFICATE", hostDER),
		HostPrivateKey: pemEncode("RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(hostKey)),
		RootCert:       pemEncode("CERTIFICATE", rootDER),
		RootPrivateKey: pemEncode("RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(rootKey)),
		DeviceCert:     pemEncode("CERTIFICATE", deviceDER),
	}, nil
}

func parseDevicePublicKey(pemData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("%w: device public key is not PEM", CodeInvalidArg)
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse device public key: %v", CodeInvalidArg, err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: device public key is not RSA", CodeInvalidArg)
	}
	return key, nil
}

func pemEncode(blockType string, der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
}
