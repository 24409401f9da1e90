package madmin

import (
	"crypto/ed25519"
	"fmt"
)

// SignatureVerifier checks payload signatures.
type SignatureVerifier interface {
	// Verify reports whether signature is a valid signature of
	// message under publicKey. An error means the inputs could not
	// be evaluated at all, for example a malformed key.
	Verify(message, signature, publicKey []byte) (bool, error)
}

// Ed25519Verifier verifies Ed25519 payload signatures.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(message, signature, publicKey []byte) (bool, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(publicKey))
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature), nil
}
