// Package record persists the vault record: the metadata needed to
// reconstitute the data-encryption key on the next unlock. It is
// created once at vault creation or migration, read on every open, and
// replaced only by an explicit re-key or destroyed by a vault reset.
package record

import (
	"time"

	"github.com/live-labs/crmvault/internal/keymgr"
)

// Mode selects how the DEK is protected.
type Mode string

const (
	// ModeDevice keeps the DEK in the OS secret store.
	ModeDevice Mode = "device"
	// ModePassphrase wraps the DEK under an argon2id-derived KEK.
	ModePassphrase Mode = "passphrase"
)

// Record is the persisted vault metadata. Salt, KDF and WrappedDEK are
// only meaningful in passphrase mode. None of the fields are secret;
// the wrapped DEK is useless without the passphrase.
type Record struct {
	VaultID    string
	Mode       Mode
	Salt       []byte
	KDF        keymgr.Params
	WrappedDEK []byte
	Created    time.Time
	Modified   time.Time
}

// Clone returns a deep copy so callers can hand records out without
// sharing the underlying byte slices.
func (r *Record) Clone() *Record {
	c := *r
	c.Salt = append([]byte(nil), r.Salt...)
	c.WrappedDEK = append([]byte(nil), r.WrappedDEK...)
	return &c
}
