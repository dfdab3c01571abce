package cache

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var errSealedTooShort = errors.New("sealed value too short")

// Sealer encrypts snapshots at rest with XChaCha20-Poly1305. The record key
// is bound as additional data so a ciphertext cannot be replayed under
// another conversation.
type Sealer struct {
	aead cipher.AEAD
}

func NewSealer(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("invalid cache key: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns nonce || ciphertext.
func (s *Sealer) Seal(recordKey string, plain []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	nonce := make([]byte, ns, ns+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plain, []byte(recordKey)), nil
}

func (s *Sealer) Open(recordKey string, sealed []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < ns+s.aead.Overhead() {
		return nil, errSealedTooShort
	}
	return s.aead.Open(nil, sealed[:ns], sealed[ns:], []byte(recordKey))
}
