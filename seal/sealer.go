// Package seal signs archived records so audits can detect tampering.
// Signatures use a hybrid Ed25519 + Dilithium2 scheme; the hybrid keeps
// classical security even if one of the two components falls. Sealing is
// strictly an archive concern and never appears on the decision path.
package seal

import (
	"crypto/rand"
	"fmt"
	"os"

	"github.com/cloudflare/circl/sign/eddilithium2"
)

// SignatureSize is the byte length of every signature this package emits
const SignatureSize = eddilithium2.SignatureSize

// Sealer signs byte payloads with a hybrid post-quantum key
type Sealer struct {
	sk *eddilithium2.PrivateKey
	pk *eddilithium2.PublicKey
}

// NewSealer generates a fresh keypair
func NewSealer() (*Sealer, error) {
	pk, sk, err := eddilithium2.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating seal keypair: %w", err)
	}
	return &Sealer{sk: sk, pk: pk}, nil
}

// LoadSealer reads a private key from disk, or generates and persists one
// when the file does not exist yet
func LoadSealer(path string) (*Sealer, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		sealer, genErr := NewSealer()
		if genErr != nil {
			return nil, genErr
		}
		keyBytes, genErr := sealer.sk.MarshalBinary()
		if genErr != nil {
			return nil, fmt.Errorf("encoding seal key: %w", genErr)
		}
		if genErr := os.WriteFile(path, keyBytes, 0o600); genErr != nil {
			return nil, fmt.Errorf("persisting seal key: %w", genErr)
		}
		return sealer, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading seal key: %w", err)
	}

	var sk eddilithium2.PrivateKey
	if err := sk.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("decoding seal key: %w", err)
	}
	pk, ok := sk.Public().(*eddilithium2.PublicKey)
	if !ok {
		return nil, fmt.Errorf("seal key has unexpected public key type")
	}
	return &Sealer{sk: &sk, pk: pk}, nil
}

// Sign produces a detached signature over the payload
func (s *Sealer) Sign(payload []byte) []byte {
	sig := make([]byte, eddilithium2.SignatureSize)
	eddilithium2.SignTo(s.sk, payload, sig)
	return sig
}

// Verify reports whether the signature matches the payload under this
// sealer's key
func (s *Sealer) Verify(payload, signature []byte) bool {
	if len(signature) != eddilithium2.SignatureSize {
		return false
	}
	return eddilithium2.Verify(s.pk, payload, signature)
}

// PublicKey returns the encoded public key for external verifiers
func (s *Sealer) PublicKey() ([]byte, error) {
	return s.pk.MarshalBinary()
}

// Verifier checks signatures without holding the private key. Used by
// audit tooling that only has the published public key.
type Verifier struct {
	pk *eddilithium2.PublicKey
}

// NewVerifier builds a verifier from an encoded public key
func NewVerifier(publicKey []byte) (*Verifier, error) {
	var pk eddilithium2.PublicKey
	if err := pk.UnmarshalBinary(publicKey); err != nil {
		return nil, fmt.Errorf("decoding seal public key: %w", err)
	}
	return &Verifier{pk: &pk}, nil
}

// Verify reports whether the signature matches the payload
func (v *Verifier) Verify(payload, signature []byte) bool {
	if len(signature) != eddilithium2.SignatureSize {
		return false
	}
	return eddilithium2.Verify(v.pk, payload, signature)
}
