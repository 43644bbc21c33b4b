// Package security provides the injected signing/encryption capability used
// by the delivery pipeline. The pipeline treats the output as opaque bytes;
// key handling never leaks into the delivery core.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

// Sealer signs and encrypts outbound payloads.
type Sealer interface {
	Sign(data []byte) ([]byte, error)
	Encrypt(data []byte) ([]byte, error)
}

// AESSealer implements Sealer with AES-256-GCM encryption and HMAC-SHA256
// signatures, both derived from a single 32-byte key.
type AESSealer struct {
	aead    cipher.AEAD
	signKey []byte
}

func NewAESSealer(key []byte) (*AESSealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("seal key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &AESSealer{aead: aead, signKey: key}, nil
}

// Sign returns the HMAC-SHA256 tag over data.
func (s *AESSealer) Sign(data []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, s.signKey)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// Verify reports whether sig is a valid signature over data.
func (s *AESSealer) Verify(data, sig []byte) bool {
	expected, _ := s.Sign(data)
	return hmac.Equal(expected, sig)
}

// Encrypt seals data with a random nonce; the nonce is prepended to the
// ciphertext.
func (s *AESSealer) Encrypt(data []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, data, nil), nil
}

// Decrypt reverses Encrypt. Exposed for the consuming client side and tests;
// the delivery core never decrypts.
func (s *AESSealer) Decrypt(sealed []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < ns {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	plain, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("open ciphertext: %w", err)
	}
	return plain, nil
}

// NopSealer passes data through unchanged. Used in tests so the pipeline can
// be exercised without real keys.
type NopSealer struct{}

func (NopSealer) Sign(data []byte) ([]byte, error)    { return nil, nil }
func (NopSealer) Encrypt(data []byte) ([]byte, error) { return data, nil }

var (
	_ Sealer = (*AESSealer)(nil)
	_ Sealer = NopSealer{}
)
