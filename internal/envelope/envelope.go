package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	KeySize   = 32 // AES-256 key size
	NonceSize = 12 // GCM nonce size
	TagSize   = 16 // GCM authentication tag size

	magicSize   = 4
	versionSize = 2

	// HeaderSize is the fixed prefix before the ciphertext:
	// magic || version || nonce || auth_tag.
	HeaderSize = magicSize + versionSize + NonceSize + TagSize

	// Version1 is the only format version this codec implements.
	Version1 uint16 = 1
)

// Magic identifies a sealed vault file. A file that does not start with
// these bytes is not an envelope at all.
var Magic = [magicSize]byte{'C', 'R', 'M', 'V'}

var (
	ErrMalformedHeader      = errors.New("envelope: malformed header")
	ErrUnsupportedVersion   = errors.New("envelope: unsupported version")
	ErrAuthenticationFailed = errors.New("envelope: authentication failed")
	ErrInvalidKey           = errors.New("envelope: invalid key size")
)

// Seal encrypts plaintext under key with a fresh random nonce and
// returns the full envelope bytes.
func Seal(plaintext, key []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return sealWithNonce(plaintext, key, nonce)
}

// sealWithNonce is Seal with a caller-provided nonce. Production code
// always goes through Seal; a fixed nonce is only useful for
// deterministic tests. Never reuse a nonce with the same key.
func sealWithNonce(plaintext, key, nonce []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("invalid nonce size %d", len(nonce))
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, HeaderSize+len(plaintext))
	out = append(out, Magic[:]...)
	out = binary.BigEndian.AppendUint16(out, Version1)

	// Associated data covers magic and version so a header rewrite
	// cannot survive authentication.
	sealed := gcm.Seal(nil, nonce, plaintext, out[:magicSize+versionSize])
	tagStart := len(sealed) - TagSize

	out = append(out, nonce...)
	out = append(out, sealed[tagStart:]...)
	out = append(out, sealed[:tagStart]...)
	return out, nil
}

// Open authenticates and decrypts an envelope produced by Seal. It
// fails closed: any corruption of the nonce, tag, ciphertext or
// authenticated header fields yields ErrAuthenticationFailed, and a
// wrong key is indistinguishable from tampering.
func Open(env, key []byte) ([]byte, error) {
	if len(env) < HeaderSize {
		return nil, ErrMalformedHeader
	}
	if !bytes.Equal(env[:magicSize], Magic[:]) {
		return nil, ErrMalformedHeader
	}
	version := binary.BigEndian.Uint16(env[magicSize : magicSize+versionSize])
	if version != Version1 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := env[magicSize+versionSize : magicSize+versionSize+NonceSize]
	tag := env[HeaderSize-TagSize : HeaderSize]
	body := env[HeaderSize:]

	// GCM expects ciphertext || tag.
	sealed := make([]byte, 0, len(body)+TagSize)
	sealed = append(sealed, body...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, env[:magicSize+versionSize])
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// IsEnvelope reports whether data starts with the envelope magic.
// It does not validate anything beyond the first four bytes.
func IsEnvelope(data []byte) bool {
	return len(data) >= magicSize && bytes.Equal(data[:magicSize], Magic[:])
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// ClearBytes securely clears a byte slice
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
