package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deedmarket/deedmarketd/internal/domain"
)

func TestSignRecoverRoundTrip(t *testing.T) {
	signer, err := GenerateSigner()
	require.NoError(t, err)

	instruction := []byte("canonical instruction bytes")
	sig, err := signer.Sign(instruction)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	recovered, err := RecoverSigner(instruction, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)
}

func TestRecoverTamperedInstruction(t *testing.T) {
	signer, err := GenerateSigner()
	require.NoError(t, err)

	instruction := []byte("the real payload")
	sig, err := signer.Sign(instruction)
	require.NoError(t, err)

	tampered := append([]byte{}, instruction...)
	tampered[0] ^= 0xff

	recovered, err := RecoverSigner(tampered, sig)
	require.NoError(t, err)
	assert.NotEqual(t, signer.Address(), recovered,
		"a tampered payload must not recover the original signer")
}

func TestRecoverRejectsBadLength(t *testing.T) {
	for _, n := range []int{0, 1, 64, 66} {
		_, err := RecoverSigner([]byte("payload"), make([]byte, n))
		require.ErrorIs(t, err, domain.ErrBadSig, "length %d", n)
	}
}

func TestSignHexRoundTrip(t *testing.T) {
	signer, err := GenerateSigner()
	require.NoError(t, err)

	instruction := []byte("hex round trip")
	sigHex, err := signer.SignHex(instruction)
	require.NoError(t, err)
	assert.Equal(t, "0x", sigHex[:2])

	sig, err := ParseSignatureHex(sigHex)
	require.NoError(t, err)

	recovered, err := RecoverSigner(instruction, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)
}

func TestParseSignatureHexRejectsGarbage(t *testing.T) {
	_, err := ParseSignatureHex("0xnothex")
	require.ErrorIs(t, err, domain.ErrBadSig)
}

func TestSignerIdentityStable(t *testing.T) {
	signer, err := GenerateSigner()
	require.NoError(t, err)

	// Signatures from the same key over the same bytes recover the same
	// identity regardless of how many times we sign.
	instruction := []byte("stable identity")
	sig1, err := signer.Sign(instruction)
	require.NoError(t, err)
	sig2, err := signer.Sign(instruction)
	require.NoError(t, err)

	r1, err := RecoverSigner(instruction, sig1)
	require.NoError(t, err)
	r2, err := RecoverSigner(instruction, sig2)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)

	_, err = NewSigner("0xnot-a-key")
	require.Error(t, err)
}

func TestDigestDomainSeparated(t *testing.T) {
	d1 := Digest([]byte("alpha"))
	d2 := Digest([]byte("beta"))

	require.Len(t, d1, 32)
	assert.NotEqual(t, d1, d2)
	assert.Equal(t, d1, Digest([]byte("alpha")))
}
