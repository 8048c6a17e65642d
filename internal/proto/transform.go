// Package proto implements the reversed C2C application-layer transform:
// AES-128-ECB over the payload body, followed by little-endian record parsing.
package proto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/cab2cab/c2cdump/internal/core"
)

// MagicLen is the length of the undecrypted payload prefix.
const MagicLen = 4

// DefaultKey is the protocol-fixed AES-128 key recovered from the game binary.
var DefaultKey = []byte("CHUNICHUNICHUNIC")

// Transform reverses the encryption applied to C2C payloads. It is stateless
// and safe to reuse across datagrams.
type Transform struct {
	block cipher.Block
}

// NewTransform creates a transform for the given AES key. Use DefaultKey for
// the production protocol.
func NewTransform(key []byte) (*Transform, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("proto: invalid key: %w", err)
	}
	return &Transform{block: block}, nil
}

// Decrypt splits off the magic prefix and decrypts the remaining complete
// AES blocks in ECB mode. A trailing partial block is carried through
// untouched; the wire format does not pad.
func (t *Transform) Decrypt(payload []byte) (magic, plaintext []byte, err error) {
	if len(payload) < MagicLen {
		return nil, nil, fmt.Errorf("%w: %d bytes", core.ErrPayloadTooShort, len(payload))
	}
	magic = payload[:MagicLen]
	body := payload[MagicLen:]

	plaintext = make([]byte, len(body))
	n := ecbBlocks(t.block.Decrypt, plaintext, body)
	copy(plaintext[n:], body[n:])
	return magic, plaintext, nil
}

// Encrypt is the inverse of Decrypt. The pipeline never encrypts; this exists
// so fixtures and peers can produce wire-identical payloads.
func (t *Transform) Encrypt(magic, plaintext []byte) ([]byte, error) {
	if len(magic) != MagicLen {
		return nil, fmt.Errorf("proto: magic must be %d bytes, got %d", MagicLen, len(magic))
	}
	out := make([]byte, MagicLen+len(plaintext))
	copy(out, magic)
	body := out[MagicLen:]
	n := ecbBlocks(t.block.Encrypt, body, plaintext)
	copy(body[n:], plaintext[n:])
	return out, nil
}

// ecbBlocks applies a single-block cipher operation across every complete
// block of src and returns the number of bytes processed.
func ecbBlocks(op func(dst, src []byte), dst, src []byte) int {
	bs := aes.BlockSize
	n := len(src) / bs * bs
	for i := 0; i < n; i += bs {
		op(dst[i:i+bs], src[i:i+bs])
	}
	return n
}
