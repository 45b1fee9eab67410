// Package keymgr owns the data-encryption key for a vault session.
//
// Two mutually exclusive modes are selected at vault creation:
//
//   - Device mode: the DEK is generated once and kept in the OS secret
//     store; the application only holds the keychain identifier.
//   - Passphrase mode: a key-encryption key is derived from the user
//     passphrase with argon2id, and the DEK is stored wrapped (sealed
//     as a mini-envelope) under that KEK.
//
// Either way the caller obtains a DEK or a typed failure, never a
// silently wrong key.
package keymgr

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/live-labs/crmvault/internal/envelope"
	"github.com/live-labs/crmvault/internal/keychain"
)

const (
	KeySize  = 32 // 256-bit DEK and KEK
	SaltSize = 32 // argon2id salt size
)

var ErrKeyUnavailable = errors.New("keymgr: key unavailable")

// Params are the argon2id cost parameters. They are persisted in the
// vault record so unlock always re-derives with the exact values the
// vault was created with.
type Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultParams targets interactive unlock on desktop hardware: well
// under a second, but memory-hard enough to resist offline guessing.
func DefaultParams() Params {
	return Params{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}
}

// DeriveKey derives a KEK from a passphrase. Deterministic for
// identical inputs; the salt must be unique per vault.
func DeriveKey(passphrase, salt []byte, p Params) []byte {
	return argon2.IDKey(passphrase, salt, p.Time, p.MemoryKiB, p.Threads, KeySize)
}

// NewSalt generates a fresh random KDF salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// NewDEK generates a fresh random data-encryption key.
func NewDEK() ([]byte, error) {
	dek := make([]byte, KeySize)
	if _, err := rand.Read(dek); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return dek, nil
}

// WrapDEK seals the DEK under the KEK using the same envelope format
// as the payload itself.
func WrapDEK(dek, kek []byte) ([]byte, error) {
	return envelope.Seal(dek, kek)
}

// UnwrapDEK opens a wrapped DEK. A wrong passphrase surfaces here as
// envelope.ErrAuthenticationFailed, never as garbage key material.
func UnwrapDEK(wrapped, kek []byte) ([]byte, error) {
	dek, err := envelope.Open(wrapped, kek)
	if err != nil {
		return nil, err
	}
	if len(dek) != KeySize {
		envelope.ClearBytes(dek)
		return nil, envelope.ErrAuthenticationFailed
	}
	return dek, nil
}

// Manager handles device-mode key storage through a Keychain.
type Manager struct {
	kc keychain.Keychain
}

func New(kc keychain.Keychain) *Manager {
	return &Manager{kc: kc}
}

// CreateDeviceKey generates a fresh DEK and stores it in the OS secret
// store under the vault identifier, returning it for immediate use.
func (m *Manager) CreateDeviceKey(vaultID string) ([]byte, error) {
	dek, err := NewDEK()
	if err != nil {
		return nil, err
	}
	if err := m.kc.Set(vaultID, base64.StdEncoding.EncodeToString(dek)); err != nil {
		envelope.ClearBytes(dek)
		return nil, fmt.Errorf("failed to store key in keychain: %w", err)
	}
	return dek, nil
}

// FetchDeviceKey retrieves the DEK from the OS secret store. A missing
// or undecodable entry (vault created under a different OS account,
// entry revoked) yields ErrKeyUnavailable.
func (m *Manager) FetchDeviceKey(vaultID string) ([]byte, error) {
	encoded, err := m.kc.Get(vaultID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	dek, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(dek) != KeySize {
		return nil, ErrKeyUnavailable
	}
	return dek, nil
}

// DeleteDeviceKey removes the keychain entry. Missing entries are not
// an error; reset must be idempotent.
func (m *Manager) DeleteDeviceKey(vaultID string) error {
	err := m.kc.Delete(vaultID)
	if errors.Is(err, keychain.ErrNotFound) {
		return nil
	}
	return err
}
