package devicetest

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Device side of the SRP6a-SHA512 PIN pairing exchange, RFC 5054
// 3072-bit group.

const srpServerNHex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E08" +
	"8A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B" +
	"302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C42E9" +
	"A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B1FE6" +
	"49286651ECE45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8" +
	"FD24CF5F83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
	"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3BE39E772C" +
	"180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF695581718" +
	"3995497CEA956AE515D2261898FA051015728E5A8AAAC42DAD33170D" +
	"04507A33A85521ABDF1CBA64ECFB850458DBEF0A8AEA71575D060C7D" +
	"B3970F85A6E1E4C7ABF5AE8CDB0933D71E8C94E04A25619DCEE3D226" +
	"1AD2EE6BF12FFA06D98A0864D87602733EC86A64521F2B18177B200C" +
	"BBE117577A615D6C770988C0BAD946E208E24FA074E5AB3143DB5BFC" +
	"E0FD108E4B82D120A93AD2CAFFFFFFFFFFFFFFFF"

var (
	srpServerN, _ = new(big.Int).SetString(srpServerNHex, 16)
	srpServerG    = big.NewInt(5)
)

type srpServer struct {
	username string
	Salt     []byte

	v *big.Int // password verifier
	b *big.Int // server secret
	B *big.Int // server public

	key []byte
}

func newSRPServer(username, password string) (*srpServer, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	inner := sha512.Sum512([]byte(username + ":" + password))
	x := srpHash(salt, inner[:])
	v := new(big.Int).Exp(srpServerG, x, srpServerN)

	b, err := rand.Int(rand.Reader, srpServerN)
	if err != nil {
		return nil, err
	}

	// B = k*v + g^b
	k := srpHash(srpServerN.Bytes(), srpPad(srpServerG))
	B := new(big.Int).Mul(k, v)
	B.Add(B, new(big.Int).Exp(srpServerG, b, srpServerN))
	B.Mod(B, srpServerN)

	return &srpServer{username: username, Salt: salt, v: v, b: b, B: B}, nil
}

func (s *srpServer) PublicKey() []byte { return srpPad(s.B) }

// VerifyClient checks the client proof M1 and returns the server proof
// M2 on success.
func (s *srpServer) VerifyClient(clientKey, proof []byte) ([]byte, error) {
	A := new(big.Int).SetBytes(clientKey)
	if new(big.Int).Mod(A, srpServerN).Sign() == 0 {
		return nil, errors.New("devicetest: srp: bad client public key")
	}

	u := srpHash(srpPad(A), srpPad(s.B))
	// S = (A * v^u) ^ b
	base := new(big.Int).Exp(s.v, u, srpServerN)
	base.Mul(base, A)
	base.Mod(base, srpServerN)
	S := new(big.Int).Exp(base, s.b, srpServerN)

	kh := sha512.Sum512(srpPad(S))
	key := kh[:]

	hn := sha512.Sum512(srpServerN.Bytes())
	hg := sha512.Sum512(srpPad(srpServerG))
	for i := range hn {
		hn[i] ^= hg[i]
	}
	hi := sha512.Sum512([]byte(s.username))

	h := sha512.New()
	h.Write(hn[:])
	h.Write(hi[:])
	h.Write(s.Salt)
	h.Write(srpPad(A))
	h.Write(srpPad(s.B))
	h.Write(key)
	m1 := h.Sum(nil)
	if !hmac.Equal(m1, proof) {
		return nil, errors.New("devicetest: srp: client proof mismatch")
	}
	s.key = key

	h = sha512.New()
	h.Write(srpPad(A))
	h.Write(m1)
	h.Write(key)
	return h.Sum(nil), nil
}

// Key returns the session key after VerifyClient succeeded.
func (s *srpServer) Key() []byte { return s.key }

func srpPad(v *big.Int) []byte {
	size := (srpServerN.BitLen() + 7) / 8
	b := v.Bytes()
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

func srpHash(parts ...[]byte) *big.Int {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}

// cuAEAD derives the pairing cipher from the SRP session key, matching
// the host side.
func cuAEAD(sessionKey []byte) (cipher.AEAD, error) {
	kdf := hkdf.New(sha512.New, sessionKey, []byte("Pair-Setup-Encrypt-Salt"), []byte("Pair-Setup-Encrypt-Info"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return chacha20poly1305.New(key)
}

func cuNonceFor(label string) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	copy(nonce[4:], label)
	return nonce
}

func cuSeal(sessionKey []byte, label string, plain []byte) ([]byte, error) {
	aead, err := cuAEAD(sessionKey)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, cuNonceFor(label), plain, nil), nil
}

func cuOpen(sessionKey []byte, label string, sealed []byte) ([]byte, error) {
	aead, err := cuAEAD(sessionKey)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, cuNonceFor(label), sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("devicetest: open pairing message: %w", err)
	}
	return plain, nil
}
