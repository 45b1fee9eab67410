package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/live-labs/crmvault/internal/envelope"
	"github.com/live-labs/crmvault/internal/keychain"
	"github.com/live-labs/crmvault/internal/keymgr"
	"github.com/live-labs/crmvault/internal/record"
	"github.com/live-labs/crmvault/internal/storage"
)

const (
	// DataFile holds the relational database image: plaintext SQLite
	// before migration, envelope bytes afterwards. The envelope magic
	// distinguishes the two.
	DataFile = "vault.db"

	FilePermSecure = 0600 // File: owner rw only
)

var (
	ErrNotInitialized     = errors.New("vault: not initialized")
	ErrAlreadyExists      = errors.New("vault: vault already exists")
	ErrVaultLocked        = errors.New("vault: locked")
	ErrVaultUnlocked      = errors.New("vault: already unlocked")
	ErrPassphraseRequired = errors.New("vault: passphrase required")
	ErrPassphraseModeOnly = errors.New("vault: vault is not in passphrase mode")
	ErrMigrationAborted   = errors.New("vault: migration did not complete, original database unchanged")
	ErrIO                 = errors.New("vault: i/o failure")
)

// State of the vault lifecycle.
type State int

const (
	Uninitialized State = iota
	Locked
	Unlocked
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// Options configures a Vault. The zero value selects the OS keychain,
// the default argon2id cost and no logging.
type Options struct {
	Keychain keychain.Keychain
	KDF      *keymgr.Params
	Logger   *zerolog.Logger
}

// Vault coordinates the key manager, envelope codec and storage I/O
// for one local vault directory.
type Vault struct {
	dir        string
	dataPath   string
	recordPath string
	keys       *keymgr.Manager
	kdf        keymgr.Params
	log        zerolog.Logger

	mu        sync.Mutex // serializes all session-mutating operations
	state     State
	rec       *record.Record
	dek       []byte
	plaintext []byte

	// test hook, nil in production
	beforeSwap func() error
}

// New opens the vault directory and probes the record file to decide
// between Uninitialized and Locked. It performs no key operations.
func New(dir string, opts Options) (*Vault, error) {
	if dir == "" {
		return nil, fmt.Errorf("vault: empty directory")
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to resolve directory: %w", err)
	}

	kc := opts.Keychain
	if kc == nil {
		kc = keychain.System{}
	}
	kdf := keymgr.DefaultParams()
	if opts.KDF != nil {
		kdf = *opts.KDF
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	v := &Vault{
		dir:        absDir,
		dataPath:   filepath.Join(absDir, DataFile),
		recordPath: filepath.Join(absDir, record.FileName),
		keys:       keymgr.New(kc),
		kdf:        kdf,
		log:        log,
		state:      Uninitialized,
	}
	if record.Exists(v.recordPath) {
		v.state = Locked
	}
	return v, nil
}

// Create initializes a brand-new vault with an empty payload.
// A nil/empty passphrase selects device mode; otherwise passphrase
// mode. On any failure no partial record or keychain entry survives.
func (v *Vault) Create(ctx context.Context, passphrase []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != Uninitialized {
		return ErrAlreadyExists
	}
	// A data file with no record is either a plaintext database waiting
	// for migration or the remains of an interrupted one. Creating over
	// it would destroy the user's data.
	if _, err := os.Stat(v.dataPath); err == nil {
		return fmt.Errorf("%w: %s is present, run migrate instead", ErrAlreadyExists, DataFile)
	}

	dek, rec, cleanup, err := v.newKeyAndRecord(passphrase)
	if err != nil {
		return err
	}
	fail := func(err error) error {
		os.Remove(v.recordPath)
		cleanup()
		envelope.ClearBytes(dek)
		return err
	}

	sealed, err := envelope.Seal(nil, dek)
	if err != nil {
		return fail(err)
	}
	if err := record.Write(v.recordPath, rec); err != nil {
		return fail(ioWrap(err))
	}
	if err := storage.WriteFileAtomic(v.dataPath, sealed, FilePermSecure); err != nil {
		return fail(ioWrap(err))
	}

	v.become(rec, dek, []byte{})
	v.log.Info().Str("mode", string(rec.Mode)).Str("vault_id", rec.VaultID).Msg("vault created")
	return nil
}

// MigratePlainDB seals an existing plaintext database in place. The
// envelope is written to a temp file and verified by a full round trip
// before it atomically replaces the plaintext; until that final rename
// the original file is untouched and remains the source of truth.
func (v *Vault) MigratePlainDB(ctx context.Context, passphrase []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != Uninitialized {
		return ErrAlreadyExists
	}

	plain, err := os.ReadFile(v.dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: no plaintext database at %s", ErrNotInitialized, v.dataPath)
		}
		return ioWrap(err)
	}
	if envelope.IsEnvelope(plain) {
		return ErrAlreadyExists
	}

	dek, rec, cleanup, err := v.newKeyAndRecord(passphrase)
	if err != nil {
		return err
	}
	tmp := ""
	fail := func(err error) error {
		if tmp != "" {
			os.Remove(tmp)
		}
		os.Remove(v.recordPath)
		cleanup()
		envelope.ClearBytes(dek)
		return err
	}

	sealed, err := envelope.Seal(plain, dek)
	if err != nil {
		return fail(err)
	}
	tmp, err = storage.WriteFileTemp(v.dataPath, sealed, FilePermSecure)
	if err != nil {
		return fail(ioWrap(err))
	}

	// Round-trip verification: the temp file must decrypt back to the
	// exact plaintext before the swap is allowed to happen.
	check, err := os.ReadFile(tmp)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrMigrationAborted, err))
	}
	opened, err := envelope.Open(check, dek)
	if err != nil || !bytes.Equal(opened, plain) {
		return fail(ErrMigrationAborted)
	}

	if v.beforeSwap != nil {
		if err := v.beforeSwap(); err != nil {
			return fail(err)
		}
	}

	// The record (and any keychain entry) must be durable before the
	// rename: a sealed file without a key path to it is unrecoverable,
	// a stale record next to an intact plaintext file is not.
	if err := record.Write(v.recordPath, rec); err != nil {
		return fail(ioWrap(err))
	}
	if err := storage.ReplaceFile(tmp, v.dataPath); err != nil {
		return fail(ioWrap(err))
	}

	v.become(rec, dek, plain)
	v.log.Info().Str("mode", string(rec.Mode)).Int("bytes", len(plain)).Msg("plaintext database migrated")
	return nil
}

// Open unlocks the vault: record -> DEK -> envelope -> session.
// On KeyUnavailable or AuthenticationFailed the vault stays Locked.
func (v *Vault) Open(ctx context.Context, passphrase []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	switch v.state {
	case Uninitialized:
		return ErrNotInitialized
	case Unlocked:
		return ErrVaultUnlocked
	}

	rec, err := record.Read(v.recordPath)
	if err != nil {
		return ioWrap(err)
	}
	dek, err := v.reconstituteDEK(rec, passphrase)
	if err != nil {
		return err
	}

	env, err := os.ReadFile(v.dataPath)
	if err != nil {
		envelope.ClearBytes(dek)
		return ioWrap(err)
	}
	plain, err := envelope.Open(env, dek)
	if err != nil {
		envelope.ClearBytes(dek)
		return err
	}

	v.become(rec, dek, plain)
	v.log.Debug().Str("mode", string(rec.Mode)).Msg("vault opened")
	return nil
}

// Save seals plaintext with the session DEK and atomically replaces
// the sealed file. The loaded session payload is updated on success.
func (v *Vault) Save(ctx context.Context, plaintext []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != Unlocked {
		return ErrVaultLocked
	}

	sealed, err := envelope.Seal(plaintext, v.dek)
	if err != nil {
		return err
	}
	if err := storage.WriteFileAtomic(v.dataPath, sealed, FilePermSecure); err != nil {
		return ioWrap(err)
	}

	envelope.ClearBytes(v.plaintext)
	v.plaintext = append([]byte(nil), plaintext...)
	return nil
}

// Lock discards the in-memory DEK and plaintext. It queues behind any
// in-flight session operation, so a save in progress always completes
// before the key is dropped. Safe to call in any state.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != Unlocked {
		return
	}
	v.clearSession()
	v.state = Locked
	v.log.Debug().Msg("vault locked")
}

// Rekey re-wraps the existing DEK under a KEK derived from the new
// passphrase with a fresh salt. The sealed payload is not touched.
// Works from Locked or Unlocked; passphrase mode only.
func (v *Vault) Rekey(ctx context.Context, oldPassphrase, newPassphrase []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state == Uninitialized {
		return ErrNotInitialized
	}
	if len(oldPassphrase) == 0 || len(newPassphrase) == 0 {
		return ErrPassphraseRequired
	}

	rec := v.rec
	if rec == nil {
		var err error
		rec, err = record.Read(v.recordPath)
		if err != nil {
			return ioWrap(err)
		}
	}
	if rec.Mode != record.ModePassphrase {
		return ErrPassphraseModeOnly
	}

	oldKek := keymgr.DeriveKey(oldPassphrase, rec.Salt, rec.KDF)
	defer envelope.ClearBytes(oldKek)
	dek, err := keymgr.UnwrapDEK(rec.WrappedDEK, oldKek)
	if err != nil {
		return err
	}
	defer envelope.ClearBytes(dek)

	salt, err := keymgr.NewSalt()
	if err != nil {
		return err
	}
	newKek := keymgr.DeriveKey(newPassphrase, salt, v.kdf)
	defer envelope.ClearBytes(newKek)
	wrapped, err := keymgr.WrapDEK(dek, newKek)
	if err != nil {
		return err
	}

	newRec := rec.Clone()
	newRec.Salt = salt
	newRec.KDF = v.kdf
	newRec.WrappedDEK = wrapped
	newRec.Modified = time.Now()

	if err := record.Write(v.recordPath, newRec); err != nil {
		return ioWrap(err)
	}
	if v.state == Unlocked {
		v.rec = newRec
	}
	v.log.Info().Msg("vault re-keyed")
	return nil
}

// Reset destroys the vault: record, keychain entry and sealed data.
// A plaintext (not yet migrated) database file is left alone. The
// caller is responsible for user confirmation; this is irreversible.
func (v *Vault) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if record.Exists(v.recordPath) {
		if rec, err := record.Read(v.recordPath); err == nil && rec.Mode == record.ModeDevice {
			_ = v.keys.DeleteDeviceKey(rec.VaultID)
		}
	}
	if v.state == Unlocked {
		v.clearSession()
	}

	if err := os.Remove(v.recordPath); err != nil && !os.IsNotExist(err) {
		return ioWrap(err)
	}
	if data, err := os.ReadFile(v.dataPath); err == nil && envelope.IsEnvelope(data) {
		if err := os.Remove(v.dataPath); err != nil {
			return ioWrap(err)
		}
	}

	v.state = Uninitialized
	v.log.Info().Msg("vault reset")
	return nil
}

// State returns the current lifecycle state.
func (v *Vault) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// IsLocked reports whether the vault is anything but Unlocked.
func (v *Vault) IsLocked() bool {
	return v.State() != Unlocked
}

// Plaintext returns a copy of the loaded session payload.
func (v *Vault) Plaintext() ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != Unlocked {
		return nil, ErrVaultLocked
	}
	return append([]byte(nil), v.plaintext...), nil
}

// Info returns a copy of the vault record without unlocking. The
// record holds no secrets.
func (v *Vault) Info() (*record.Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.rec != nil {
		return v.rec.Clone(), nil
	}
	if !record.Exists(v.recordPath) {
		return nil, ErrNotInitialized
	}
	rec, err := record.Read(v.recordPath)
	if err != nil {
		return nil, ioWrap(err)
	}
	return rec, nil
}

// Dir returns the vault directory.
func (v *Vault) Dir() string {
	return v.dir
}

// newKeyAndRecord generates a fresh DEK and the record needed to
// reconstitute it. The returned cleanup undoes any durable side effect
// (device-mode keychain entry) and must run if a later step fails.
func (v *Vault) newKeyAndRecord(passphrase []byte) (dek []byte, rec *record.Record, cleanup func(), err error) {
	now := time.Now()
	rec = &record.Record{
		VaultID:  uuid.NewString(),
		Created:  now,
		Modified: now,
	}
	cleanup = func() {}

	if len(passphrase) == 0 {
		rec.Mode = record.ModeDevice
		dek, err = v.keys.CreateDeviceKey(rec.VaultID)
		if err != nil {
			return nil, nil, nil, err
		}
		id := rec.VaultID
		cleanup = func() { _ = v.keys.DeleteDeviceKey(id) }
		return dek, rec, cleanup, nil
	}

	rec.Mode = record.ModePassphrase
	salt, err := keymgr.NewSalt()
	if err != nil {
		return nil, nil, nil, err
	}
	kek := keymgr.DeriveKey(passphrase, salt, v.kdf)
	defer envelope.ClearBytes(kek)

	dek, err = keymgr.NewDEK()
	if err != nil {
		return nil, nil, nil, err
	}
	wrapped, err := keymgr.WrapDEK(dek, kek)
	if err != nil {
		envelope.ClearBytes(dek)
		return nil, nil, nil, err
	}

	rec.Salt = salt
	rec.KDF = v.kdf
	rec.WrappedDEK = wrapped
	return dek, rec, cleanup, nil
}

// reconstituteDEK obtains the DEK per the record's mode. A wrong
// passphrase surfaces as envelope.ErrAuthenticationFailed, a missing
// keychain entry as keymgr.ErrKeyUnavailable.
func (v *Vault) reconstituteDEK(rec *record.Record, passphrase []byte) ([]byte, error) {
	switch rec.Mode {
	case record.ModeDevice:
		return v.keys.FetchDeviceKey(rec.VaultID)
	case record.ModePassphrase:
		if len(passphrase) == 0 {
			return nil, ErrPassphraseRequired
		}
		kek := keymgr.DeriveKey(passphrase, rec.Salt, rec.KDF)
		defer envelope.ClearBytes(kek)
		return keymgr.UnwrapDEK(rec.WrappedDEK, kek)
	default:
		return nil, fmt.Errorf("unknown vault mode %q", rec.Mode)
	}
}

func (v *Vault) become(rec *record.Record, dek, plaintext []byte) {
	v.rec = rec
	v.dek = dek
	v.plaintext = plaintext
	v.state = Unlocked
}

func (v *Vault) clearSession() {
	envelope.ClearBytes(v.dek)
	envelope.ClearBytes(v.plaintext)
	v.dek = nil
	v.plaintext = nil
	v.rec = nil
}

func ioWrap(err error) error {
	return fmt.Errorf("%w: %w", ErrIO, err)
}
