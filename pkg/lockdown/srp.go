package lockdown

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"math/big"
)

// SRP errors.
var (
	// ErrSRPBadServerKey indicates the device sent an unusable public
	// value (B mod N == 0).
	ErrSRPBadServerKey = errors.New("lockdown: srp: bad server public key")

	// ErrSRPProofMismatch indicates the device's session proof did not
	// verify, which means the PIN was wrong or the exchange was tampered
	// with.
	ErrSRPProofMismatch = errors.New("lockdown: srp: server proof mismatch")
)

// srpGroupNHex is the RFC 5054 3072-bit prime.
const srpGroupNHex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E08" +
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
	srpN = mustParseHex(srpGroupNHex)
	srpG = big.NewInt(5)
)

func mustParseHex(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("lockdown: bad srp group constant")
	}
	return n
}

// srpClient runs the client side of SRP6a over SHA-512 with the
// RFC 5054 3072-bit group.
type srpClient struct {
	username string
	password string

	a *big.Int // client secret
	A *big.Int // client public

	key []byte // session key K, set by SetServerKey
	m1  []byte // client proof, set by SetServerKey
}

// newSRPClient starts an exchange for the given identity. The client
// secret is drawn from crypto/rand.
func newSRPClient(username, password string) (*srpClient, error) {
	a, err := rand.Int(rand.Reader, srpN)
	if err != nil {
		return nil, fmt.Errorf("lockdown: srp: generate secret: %w", err)
	}
	c := &srpClient{
		username: username,
		password: password,
		a:        a,
	}
	c.A = new(big.Int).Exp(srpG, c.a, srpN)
	return c, nil
}

// PublicKey returns A, padded to the group size.
func (c *srpClient) PublicKey() []byte {
	return padToGroup(c.A)
}

// SetServerKey consumes the device's salt and public value B, computes
// the shared session key and the client proof M1.
func (c *srpClient) SetServerKey(salt, serverKey []byte) error {
	B := new(big.Int).SetBytes(serverKey)
	if new(big.Int).Mod(B, srpN).Sign() == 0 {
		return ErrSRPBadServerKey
	}

	// k = H(N | pad(g))
	k := hashToInt(srpN.Bytes(), padToGroup(srpG))

	// x = H(s | H(I ":" P))
	inner := sha512.Sum512([]byte(c.username + ":" + c.password))
	x := hashToInt(salt, inner[:])

	// u = H(pad(A) | pad(B))
	u := hashToInt(padToGroup(c.A), padToGroup(B))
	if u.Sign() == 0 {
		return ErrSRPBadServerKey
	}

	// S = (B - k*g^x) ^ (a + u*x) mod N
	gx := new(big.Int).Exp(srpG, x, srpN)
	kgx := new(big.Int).Mul(k, gx)
	base := new(big.Int).Sub(B, kgx)
	base.Mod(base, srpN)
	exp := new(big.Int).Add(c.a, new(big.Int).Mul(u, x))
	S := new(big.Int).Exp(base, exp, srpN)

	// K = H(S)
	kh := sha512.Sum512(padToGroup(S))
	c.key = kh[:]

	// M1 = H(H(N) xor H(g) | H(I) | s | A | B | K)
	hn := sha512.Sum512(srpN.Bytes())
	hg := sha512.Sum512(padToGroup(srpG))
	for i := range hn {
		hn[i] ^= hg[i]
	}
	hi := sha512.Sum512([]byte(c.username))

	h := sha512.New()
	h.Write(hn[:])
	h.Write(hi[:])
	h.Write(salt)
	h.Write(padToGroup(c.A))
	h.Write(padToGroup(B))
	h.Write(c.key)
	c.m1 = h.Sum(nil)
	return nil
}

// Proof returns M1. SetServerKey must have succeeded first.
func (c *srpClient) Proof() []byte { return c.m1 }

// VerifyServerProof checks the device's M2 = H(A | M1 | K).
func (c *srpClient) VerifyServerProof(m2 []byte) error {
	h := sha512.New()
	h.Write(padToGroup(c.A))
	h.Write(c.m1)
	h.Write(c.key)
	if !hmac.Equal(h.Sum(nil), m2) {
		return ErrSRPProofMismatch
	}
	return nil
}

// SessionKey returns K after a verified exchange.
func (c *srpClient) SessionKey() []byte { return c.key }

// padToGroup left-pads v to the group's byte length.
func padToGroup(v *big.Int) []byte {
	size := (srpN.BitLen() + 7) / 8
	b := v.Bytes()
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

func hashToInt(parts ...[]byte) *big.Int {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}
