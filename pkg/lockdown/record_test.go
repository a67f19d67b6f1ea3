package lockdown

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDevicePublicKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey),
	})
}

func TestGeneratePairRecord(t *testing.T) {
	record, err := GeneratePairRecord(testDevicePublicKeyPEM(t), "")
	require.NoError(t, err)

	assert.NotEmpty(t, record.HostID)
	assert.NotEmpty(t, record.SystemBUID)
	assert.NotEqual(t, record.HostID, record.SystemBUID)

	// The host certificate must chain to the generated root.
	rootBlock, _ := pem.Decode(record.RootCert)
	require.NotNil(t, rootBlock)
	root, err := x509.ParseCertificate(rootBlock.Bytes)
	require.NoError(t, err)

	hostBlock, _ := pem.Decode(record.HostCert)
	require.NotNil(t, hostBlock)
	host, err := x509.ParseCertificate(hostBlock.Bytes)
	require.NoError(t, err)
	assert.NoError(t, host.CheckSignatureFrom(root))

	deviceBlock, _ := pem.Decode(record.DeviceCert)
	require.NotNil(t, deviceBlock)
	deviceCert, err := x509.ParseCertificate(deviceBlock.Bytes)
	require.NoError(t, err)
	assert.NoError(t, deviceCert.CheckSignatureFrom(root))

	// The key pair must be usable as a TLS identity.
	creds := record.SessionCredentials()
	require.NotNil(t, creds)
	assert.Equal(t, record.HostCert, creds.HostCertPEM)
}

func TestGeneratePairRecordRejectsBadKey(t *testing.T) {
	_, err := GeneratePairRecord([]byte("not a pem block"), "")
	assert.ErrorIs(t, err, CodeInvalidArg)
}

func TestRecordPlistRoundTrip(t *testing.T) {
	record, err := GeneratePairRecord(testDevicePublicKeyPEM(t), "BUID-1")
	require.NoError(t, err)
	record.EscrowBag = []byte{0x01, 0x02}
	record.WiFiMACAddress = "aa:bb:cc:dd:ee:ff"

	restored, err := recordFromPlist(record.toPlist())
	require.NoError(t, err)
	assert.Equal(t, record, restored)
}

func TestRecordFromPlistMissingFields(t *testing.T) {
	record, err := GeneratePairRecord(testDevicePublicKeyPEM(t), "")
	require.NoError(t, err)

	v := record.toPlist()
	v.Delete("HostID")
	_, err = recordFromPlist(v)
	assert.ErrorIs(t, err, CodeInvalidPairRecord)
}

func TestRecordStore(t *testing.T) {
	store, err := NewRecordStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load("ABC123")
	assert.ErrorIs(t, err, ErrNoRecord)

	record, err := GeneratePairRecord(testDevicePublicKeyPEM(t), "")
	require.NoError(t, err)
	require.NoError(t, store.Save("ABC123", record))

	loaded, err := store.Load("ABC123")
	require.NoError(t, err)
	assert.Equal(t, record.HostID, loaded.HostID)
	assert.Equal(t, record.HostPrivateKey, loaded.HostPrivateKey)

	udids, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"ABC123"}, udids)

	require.NoError(t, store.Remove("ABC123"))
	require.NoError(t, store.Remove("ABC123"), "removing a missing record is a no-op")
	_, err = store.Load("ABC123")
	assert.ErrorIs(t, err, ErrNoRecord)
}
