package codec

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var ErrInvalidContent = errors.New("invalid encoded content")

// MessageCodec transforms message bodies between their wire form and the
// form kept in durable storage. Decode(roomId, Encode(roomId, s)) == s.
type MessageCodec interface {
	Encode(roomId, content string) (string, error)
	Decode(roomId, encoded string) (string, error)
}

// SealCodec seals content with XChaCha20-Poly1305 under a key derived from
// the shared secret and the room id, so a body can only be opened with the
// room id it was sealed for.
type SealCodec struct {
	secret []byte
}

func NewSealCodec(secret []byte) (*SealCodec, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("codec secret must be at least 16 bytes, got %d", len(secret))
	}
	return &SealCodec{secret: secret}, nil
}

func (c *SealCodec) roomKey(roomId string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, c.secret, nil, []byte(roomId)), key); err != nil {
		return nil, fmt.Errorf("derive room key: %w", err)
	}
	return key, nil
}

func (c *SealCodec) Encode(roomId, content string) (string, error) {
	key, err := c.roomKey(roomId)
	if err != nil {
		return "", err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("new aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(content)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(content), []byte(roomId))
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (c *SealCodec) Decode(roomId, encoded string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}

	key, err := c.roomKey(roomId)
	if err != nil {
		return "", err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("new aead: %w", err)
	}

	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrInvalidContent)
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, []byte(roomId))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}

	return string(plain), nil
}

// Identity stores content unchanged.
type Identity struct{}

func (Identity) Encode(_, content string) (string, error) { return content, nil }

func (Identity) Decode(_, encoded string) (string, error) { return encoded, nil }
