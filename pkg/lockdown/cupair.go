package lockdown

import (
	"crypto/cipher"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/idevice-protocol/idevice-go/pkg/plist"
)

// CU pairing ("companion" pairing) establishes trust over the network
// with a PIN shown on the device instead of a trust dialog. The key
// exchange is SRP6a-SHA512; the verified session key is stretched with
// HKDF-SHA512 into a ChaCha20-Poly1305 key protecting the final
// identity exchange.

const (
	cuPairUsername = "Pair-Setup"

	cuEncryptSalt = "Pair-Setup-Encrypt-Salt"
	cuEncryptInfo = "Pair-Setup-Encrypt-Info"

	cuNonceHost   = "PS-Msg05"
	cuNonceDevice = "PS-Msg06"
)

// ErrCUPairingFailed wraps failures of the encrypted identity exchange.
var ErrCUPairingFailed = errors.New("lockdown: cu pairing failed")

// PairCU performs PIN-based pairing over the current connection and
// persists the resulting record. The PIN is the code the device
// displays when asked to pair over the network.
func (c *Client) PairCU(pin string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed || c.conn == nil {
		return ErrDeallocated
	}

	srp, err := newSRPClient(cuPairUsername, pin)
	if err != nil {
		return err
	}

	// Step 1: announce, receive the device's salt and public value.
	resp, err := c.rpcLocked("CUPairingCreate", func(req *plist.Value) {
		req.Set("PairingStep", plist.NewUint(1))
	})
	if err != nil {
		return err
	}
	salt, ok := resp.Get("Salt").AsData()
	if !ok {
		return fmt.Errorf("%w: pairing step 1 missing Salt", CodeInvalidResponse)
	}
	serverKey, ok := resp.Get("DevicePublicKey").AsData()
	if !ok {
		return fmt.Errorf("%w: pairing step 1 missing DevicePublicKey", CodeInvalidResponse)
	}
	if err := srp.SetServerKey(salt, serverKey); err != nil {
		return err
	}

	// Step 2: send our public value and proof, verify the device's.
	resp, err = c.rpcLocked("CUPairingCreate", func(req *plist.Value) {
		req.Set("PairingStep", plist.NewUint(2))
		req.Set("PublicKey", plist.NewData(srp.PublicKey()))
		req.Set("Proof", plist.NewData(srp.Proof()))
	})
	if err != nil {
		return err
	}
	proof, ok := resp.Get("Proof").AsData()
	if !ok {
		return fmt.Errorf("%w: pairing step 2 missing Proof", CodeInvalidResponse)
	}
	if err := srp.VerifyServerProof(proof); err != nil {
		return err
	}

	aead, err := cuSessionCipher(srp.SessionKey())
	if err != nil {
		return err
	}

	// Step 3: exchange identities under the session key. The device
	// returns its public key so a regular pair record can be built.
	record, err := c.cuExchangeIdentity(aead)
	if err != nil {
		return err
	}
	c.record = record
	if c.store != nil {
		if err := c.store.Save(c.udid, record); err != nil {
			return fmt.Errorf("%w: %v", CodeSavePairRecordFailed, err)
		}
	}
	return nil
}

func (c *Client) cuExchangeIdentity(aead cipher.AEAD) (*PairRecord, error) {
	record, err := c.cuBuildRecord()
	if err != nil {
		return nil, err
	}

	identity := plist.NewDict()
	identity.Set("HostID", plist.NewString(record.HostID))
	identity.Set("SystemBUID", plist.NewString(record.SystemBUID))
	identity.Set("HostCertificate", plist.NewData(record.HostCert))
	identity.Set("RootCertificate", plist.NewData(record.RootCert))
	plain, err := plist.Encode(identity, plist.FormatBinary)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCUPairingFailed, err)
	}
	sealed := aead.Seal(nil, cuNonce(cuNonceHost), plain, nil)

	resp, err := c.rpcLocked("CUPairingCreate", func(req *plist.Value) {
		req.Set("PairingStep", plist.NewUint(3))
		req.Set("EncryptedData", plist.NewData(sealed))
	})
	if err != nil {
		return nil, err
	}
	encrypted, ok := resp.Get("EncryptedData").AsData()
	if !ok {
		return nil, fmt.Errorf("%w: pairing step 3 missing EncryptedData", CodeInvalidResponse)
	}
	opened, err := aead.Open(nil, cuNonce(cuNonceDevice), encrypted, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt device identity: %v", ErrCUPairingFailed, err)
	}
	deviceIdentity, err := plist.DecodeAuto(opened)
	if err != nil {
		return nil, fmt.Errorf("%w: parse device identity: %v", ErrCUPairingFailed, err)
	}
	if bag, ok := deviceIdentity.Get("EscrowBag").AsData(); ok {
		record.EscrowBag = bag
	}
	if mac, ok := deviceIdentity.GetString("WiFiMACAddress"); ok {
		record.WiFiMACAddress = mac
	}
	return record, nil
}

// cuBuildRecord generates the host side of a pair record from the
// device's advertised public key.
func (c *Client) cuBuildRecord() (*PairRecord, error) {
	pubValue, err := c.getValueLocked("", "DevicePublicKey")
	if err != nil {
		return nil, err
	}
	pubPEM, ok := pubValue.AsData()
	if !ok {
		return nil, fmt.Errorf("%w: DevicePublicKey is not data", CodeInvalidResponse)
	}
	return GeneratePairRecord(pubPEM, "")
}

// cuSessionCipher derives the pairing AEAD from the SRP session key.
func cuSessionCipher(sessionKey []byte) (cipher.AEAD, error) {
	kdf := hkdf.New(sha512.New, sessionKey, []byte(cuEncryptSalt), []byte(cuEncryptInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("%w: derive session cipher: %v", ErrCUPairingFailed, err)
	}
	return chacha20poly1305.New(key)
}

// cuNonce builds the fixed 12-byte nonce for one pairing message: four
// zero bytes then the eight-byte message label.
func cuNonce(label string) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	copy(nonce[4:], label)
	return nonce
}
