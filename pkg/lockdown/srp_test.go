package lockdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSRPClientRejectsZeroServerKey(t *testing.T) {
	c, err := newSRPClient("Pair-Setup", "123456")
	require.NoError(t, err)

	err = c.SetServerKey([]byte{0x01, 0x02}, srpN.Bytes())
	assert.ErrorIs(t, err, ErrSRPBadServerKey, "B mod N == 0 must be rejected")
}

func TestSRPClientProofDeterministic(t *testing.T) {
	c, err := newSRPClient("Pair-Setup", "123456")
	require.NoError(t, err)

	// An arbitrary non-degenerate server value produces a key and proof.
	serverKey := make([]byte, 384)
	serverKey[383] = 7
	require.NoError(t, c.SetServerKey([]byte("salt-salt-salt16"), serverKey))

	assert.Len(t, c.SessionKey(), 64)
	assert.Len(t, c.Proof(), 64)

	err = c.VerifyServerProof(make([]byte, 64))
	assert.ErrorIs(t, err, ErrSRPProofMismatch)
}

func TestSRPPublicKeyPadded(t *testing.T) {
	c, err := newSRPClient("Pair-Setup", "123456")
	require.NoError(t, err)
	assert.Len(t, c.PublicKey(), 384, "public value is padded to the group size")
}
