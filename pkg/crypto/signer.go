// Package crypto provides the signing identities used by verifier nodes.
// Ed25519 stands in for the production signature scheme; only the functional
// contract matters here (independent keypairs, stable addresses, verifiable
// signatures), not cryptographic parity with the deployed scheme.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Signer is a signing identity.
type Signer interface {
	// Sign returns the hex-encoded signature over data.
	Sign(data []byte) (string, error)
	// PublicKey returns the hex-encoded public key.
	PublicKey() string
	// Address returns the stable public address derived from the key.
	Address() string
}

// Ed25519Signer implements Signer with a freshly generated keypair.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	address string
}

// NewEd25519Signer generates a new keypair-backed signer.
func NewEd25519Signer() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  pub,
		address: DeriveAddress(pub),
	}, nil
}

// NewEd25519SignerFromKey wraps an existing private key.
func NewEd25519SignerFromKey(priv ed25519.PrivateKey) *Ed25519Signer {
	pub := priv.Public().(ed25519.PublicKey)
	return &Ed25519Signer{privKey: priv, pubKey: pub, address: DeriveAddress(pub)}
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	return hex.EncodeToString(ed25519.Sign(s.privKey, data)), nil
}

func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

func (s *Ed25519Signer) Address() string {
	return s.address
}

// DeriveAddress returns the 0x-prefixed address for a public key: the last
// 20 bytes of the key's SHA-256 digest, hex encoded.
func DeriveAddress(pub ed25519.PublicKey) string {
	h := sha256.Sum256(pub)
	return "0x" + hex.EncodeToString(h[len(h)-20:])
}

// Verify checks a hex signature produced by Sign against a hex public key.
func Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size %d", len(pubKey))
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}
