// Package crypto binds protocol authorization to verified signer identities.
// Clients sign the canonical instruction bytes with a secp256k1 key; the node
// recovers the public key from the signature and compares the derived identity
// against the stored owner/authority field. A caller-supplied "owner" value is
// never trusted on its own.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/deedmarket/deedmarketd/internal/domain"
)

// signPrefix domain-separates instruction digests from any other message a key
// might sign.
var signPrefix = []byte("\x19deedmarket instruction:\n")

// Digest computes the 32-byte signing digest of canonical instruction bytes:
//
//	keccak256(prefix || keccak256(instruction))
func Digest(instruction []byte) []byte {
	inner := ethcrypto.Keccak256(instruction)
	return ethcrypto.Keccak256(append(append([]byte{}, signPrefix...), inner...))
}

// Signer signs instruction bytes with a secp256k1 private key. It is a client
// side helper; the node itself holds no keys and only verifies.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// GenerateSigner creates a Signer with a fresh random key. Used by tests and
// local development tooling.
func GenerateSigner() (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: generate key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the identity derived from the signer's public key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Sign signs the canonical instruction bytes and returns a 65-byte
// (r || s || v) signature with v in {27, 28}.
func (s *Signer) Sign(instruction []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(Digest(instruction), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// SignHex signs and returns the 0x-prefixed hex encoding of the signature.
func (s *Signer) SignHex(instruction []byte) (string, error) {
	sig, err := s.Sign(instruction)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverSigner recovers the signer identity from a 65-byte signature over the
// given instruction bytes. It returns domain.ErrBadSig for malformed or
// unrecoverable signatures.
func RecoverSigner(instruction, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature must be 65 bytes, got %d: %w", len(sig), domain.ErrBadSig)
	}

	// go-ethereum expects the recovery id in {0,1}.
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(Digest(instruction), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", domain.ErrBadSig)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// ParseSignatureHex decodes a 0x-prefixed or bare hex signature string.
func ParseSignatureHex(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: decode signature hex: %w", domain.ErrBadSig)
	}
	return raw, nil
}
