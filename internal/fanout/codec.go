package fanout

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	secretBoxKeySize   = 32
	secretBoxNonceSize = 24
)

// ErrSealedPayload is returned when a sealed payload cannot be opened.
var ErrSealedPayload = errors.New("fanout: cannot open sealed payload")

// PayloadCodec transforms client frames before they cross node boundaries.
// Every node in a deployment must use the same codec.
type PayloadCodec interface {
	Seal(frame []byte) ([]byte, error)
	Open(payload []byte) ([]byte, error)
}

// PlainCodec passes frames through unchanged.
type PlainCodec struct{}

func (PlainCodec) Seal(frame []byte) ([]byte, error)   { return frame, nil }
func (PlainCodec) Open(payload []byte) ([]byte, error) { return payload, nil }

// SecretBoxCodec seals frames with NaCl secretbox under a shared key. The
// random nonce is prepended to the box.
type SecretBoxCodec struct {
	key [secretBoxKeySize]byte
}

// NewSecretBoxCodec creates a codec from a hex-encoded 32-byte key.
func NewSecretBoxCodec(hexKey string) (*SecretBoxCodec, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("fanout: decode secretbox key: %w", err)
	}
	if len(raw) != secretBoxKeySize {
		return nil, fmt.Errorf("fanout: secretbox key must be %d bytes, got %d", secretBoxKeySize, len(raw))
	}
	c := &SecretBoxCodec{}
	copy(c.key[:], raw)
	return c, nil
}

func (c *SecretBoxCodec) Seal(frame []byte) ([]byte, error) {
	var nonce [secretBoxNonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("fanout: generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], frame, &nonce, &c.key), nil
}

func (c *SecretBoxCodec) Open(payload []byte) ([]byte, error) {
	if len(payload) < secretBoxNonceSize+secretbox.Overhead {
		return nil, ErrSealedPayload
	}
	var nonce [secretBoxNonceSize]byte
	copy(nonce[:], payload[:secretBoxNonceSize])
	frame, ok := secretbox.Open(nil, payload[secretBoxNonceSize:], &nonce, &c.key)
	if !ok {
		return nil, ErrSealedPayload
	}
	return frame, nil
}
