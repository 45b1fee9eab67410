package vault

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/live-labs/crmvault/internal/envelope"
	"github.com/live-labs/crmvault/internal/keychain"
	"github.com/live-labs/crmvault/internal/keymgr"
	"github.com/live-labs/crmvault/internal/record"
)

// fastKDF keeps argon2id cheap in tests; the cost values travel with
// the record, so the unlock path is identical to production.
var fastKDF = keymgr.Params{Time: 1, MemoryKiB: 1024, Threads: 1}

func newTestVault(t *testing.T, dir string, kc keychain.Keychain) *Vault {
	t.Helper()
	if kc == nil {
		kc = keychain.NewMemory()
	}
	kdf := fastKDF
	v, err := New(dir, Options{Keychain: kc, KDF: &kdf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return v
}

func TestCreateLockReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	passphrase := []byte("correct-horse-battery")

	v := newTestVault(t, dir, nil)
	if v.State() != Uninitialized {
		t.Fatalf("state = %v, want Uninitialized", v.State())
	}

	if err := v.Create(ctx, passphrase); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if v.IsLocked() {
		t.Fatal("vault locked after Create")
	}
	if err := v.Save(ctx, []byte("hello")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	v.Lock()
	if v.State() != Locked {
		t.Fatalf("state = %v, want Locked", v.State())
	}
	if _, err := v.Plaintext(); !errors.Is(err, ErrVaultLocked) {
		t.Errorf("Plaintext while locked = %v, want ErrVaultLocked", err)
	}

	if err := v.Open(ctx, passphrase); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	got, err := v.Plaintext()
	if err != nil {
		t.Fatalf("Plaintext failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("plaintext = %q, want %q", got, "hello")
	}
}

func TestOpenWrongPassphrase(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, t.TempDir(), nil)

	if err := v.Create(ctx, []byte("correct-horse-battery")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := v.Save(ctx, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	v.Lock()

	err := v.Open(ctx, []byte("wrong-passphrase"))
	if !errors.Is(err, envelope.ErrAuthenticationFailed) {
		t.Errorf("Open with wrong passphrase = %v, want ErrAuthenticationFailed", err)
	}
	if v.State() != Locked {
		t.Errorf("state = %v, want Locked", v.State())
	}
}

func TestOpenSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	passphrase := []byte("pw")

	v1 := newTestVault(t, dir, nil)
	if err := v1.Create(ctx, passphrase); err != nil {
		t.Fatal(err)
	}
	if err := v1.Save(ctx, []byte("persisted")); err != nil {
		t.Fatal(err)
	}
	v1.Lock()

	// A fresh instance over the same directory must come up Locked.
	v2 := newTestVault(t, dir, nil)
	if v2.State() != Locked {
		t.Fatalf("state after restart = %v, want Locked", v2.State())
	}
	if err := v2.Open(ctx, passphrase); err != nil {
		t.Fatalf("Open after restart failed: %v", err)
	}
	got, _ := v2.Plaintext()
	if string(got) != "persisted" {
		t.Errorf("plaintext = %q, want %q", got, "persisted")
	}
}

func TestDeviceMode(t *testing.T) {
	ctx := context.Background()
	kc := keychain.NewMemory()
	v := newTestVault(t, t.TempDir(), kc)

	if err := v.Create(ctx, nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := v.Save(ctx, []byte("device data")); err != nil {
		t.Fatal(err)
	}
	v.Lock()

	// Device mode unlocks without a passphrase.
	if err := v.Open(ctx, nil); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	got, _ := v.Plaintext()
	if string(got) != "device data" {
		t.Errorf("plaintext = %q, want %q", got, "device data")
	}

	info, err := v.Info()
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode != record.ModeDevice {
		t.Errorf("mode = %q, want %q", info.Mode, record.ModeDevice)
	}
}

func TestOpenKeyUnavailable(t *testing.T) {
	ctx := context.Background()
	kc := keychain.NewMemory()
	v := newTestVault(t, t.TempDir(), kc)

	if err := v.Create(ctx, nil); err != nil {
		t.Fatal(err)
	}
	info, err := v.Info()
	if err != nil {
		t.Fatal(err)
	}
	v.Lock()

	// Simulate the keychain entry being revoked.
	if err := kc.Delete(info.VaultID); err != nil {
		t.Fatal(err)
	}

	if err := v.Open(ctx, nil); !errors.Is(err, keymgr.ErrKeyUnavailable) {
		t.Errorf("Open = %v, want ErrKeyUnavailable", err)
	}
	if v.State() != Locked {
		t.Errorf("state = %v, want Locked", v.State())
	}
}

func TestCreateTwice(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, t.TempDir(), nil)

	if err := v.Create(ctx, []byte("pw")); err != nil {
		t.Fatal(err)
	}
	if err := v.Create(ctx, []byte("pw")); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("second Create = %v, want ErrAlreadyExists", err)
	}
}

func TestCreateRefusesExistingDataFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// Pre-migration layout: a plaintext database and no record. Create
	// must not seal an empty payload over the user's data.
	plain := []byte("SQLite format 3\x00 pretend database contents")
	if err := os.WriteFile(filepath.Join(dir, DataFile), plain, 0600); err != nil {
		t.Fatal(err)
	}

	v := newTestVault(t, dir, nil)
	if v.State() != Uninitialized {
		t.Fatalf("state = %v, want Uninitialized", v.State())
	}
	if err := v.Create(ctx, []byte("pw")); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("Create over plaintext database = %v, want ErrAlreadyExists", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, DataFile))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plain) {
		t.Error("Create modified the existing database")
	}
	if record.Exists(filepath.Join(dir, record.FileName)) {
		t.Error("Create left a record behind after refusing")
	}
}

func TestOpenUninitialized(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, t.TempDir(), nil)
	if err := v.Open(ctx, []byte("pw")); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Open = %v, want ErrNotInitialized", err)
	}
}

func TestSaveWhileLocked(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, t.TempDir(), nil)
	if err := v.Create(ctx, []byte("pw")); err != nil {
		t.Fatal(err)
	}
	v.Lock()
	if err := v.Save(ctx, []byte("x")); !errors.Is(err, ErrVaultLocked) {
		t.Errorf("Save while locked = %v, want ErrVaultLocked", err)
	}
}

func TestMigratePlainDB(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	plain := []byte("SQLite format 3\x00 pretend database contents")
	if err := os.WriteFile(filepath.Join(dir, DataFile), plain, 0600); err != nil {
		t.Fatal(err)
	}

	v := newTestVault(t, dir, nil)
	if err := v.MigratePlainDB(ctx, []byte("pw")); err != nil {
		t.Fatalf("MigratePlainDB failed: %v", err)
	}

	got, err := v.Plaintext()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plain) {
		t.Error("session plaintext does not match migrated database")
	}

	// The data file is now an envelope, not plaintext.
	onDisk, err := os.ReadFile(filepath.Join(dir, DataFile))
	if err != nil {
		t.Fatal(err)
	}
	if !envelope.IsEnvelope(onDisk) {
		t.Error("data file is not sealed after migration")
	}

	// Reopen through the normal path.
	v.Lock()
	if err := v.Open(ctx, []byte("pw")); err != nil {
		t.Fatalf("Open after migration failed: %v", err)
	}
}

func TestMigrateInterruptedBeforeSwap(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	plain := bytes.Repeat([]byte("ten megabytes of contact data "), 1<<15)
	if err := os.WriteFile(filepath.Join(dir, DataFile), plain, 0600); err != nil {
		t.Fatal(err)
	}

	kc := keychain.NewMemory()
	v := newTestVault(t, dir, kc)
	boom := errors.New("killed")
	v.beforeSwap = func() error { return boom }

	if err := v.MigratePlainDB(ctx, nil); !errors.Is(err, boom) {
		t.Fatalf("MigratePlainDB = %v, want injected failure", err)
	}

	// The original plaintext is byte-for-byte unchanged.
	got, err := os.ReadFile(filepath.Join(dir, DataFile))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plain) {
		t.Error("plaintext database modified by failed migration")
	}

	// No partial artifacts: no record, no keychain entry, no temps.
	if record.Exists(filepath.Join(dir, record.FileName)) {
		t.Error("vault record left behind by failed migration")
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() != DataFile {
			t.Errorf("stray file after failed migration: %s", e.Name())
		}
	}
	if v.State() != Uninitialized {
		t.Errorf("state = %v, want Uninitialized", v.State())
	}

	// The pre-migration code path still reads the file fine, and a
	// retry succeeds.
	v.beforeSwap = nil
	if err := v.MigratePlainDB(ctx, nil); err != nil {
		t.Fatalf("retry after interruption failed: %v", err)
	}
}

func TestMigrateMissingPlaintext(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, t.TempDir(), nil)
	if err := v.MigratePlainDB(ctx, []byte("pw")); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("MigratePlainDB = %v, want ErrNotInitialized", err)
	}
}

func TestMigrateAlreadySealed(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	v := newTestVault(t, dir, nil)
	if err := v.Create(ctx, []byte("pw")); err != nil {
		t.Fatal(err)
	}
	v.Lock()

	// New instance without a record would be Locked; force the check
	// by removing the record so only the sealed file remains.
	if err := os.Remove(filepath.Join(dir, record.FileName)); err != nil {
		t.Fatal(err)
	}
	v2 := newTestVault(t, dir, nil)
	if err := v2.MigratePlainDB(ctx, []byte("pw")); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("MigratePlainDB on sealed file = %v, want ErrAlreadyExists", err)
	}
}

func TestExportAdopt(t *testing.T) {
	ctx := context.Background()
	passphrase := []byte("shared-secret")
	payload := []byte("contacts and notes")

	v1 := newTestVault(t, t.TempDir(), nil)
	if err := v1.Create(ctx, passphrase); err != nil {
		t.Fatal(err)
	}
	if err := v1.Save(ctx, payload); err != nil {
		t.Fatal(err)
	}

	folder := t.TempDir()
	if err := v1.ExportToSyncFolder(ctx, folder); err != nil {
		t.Fatalf("ExportToSyncFolder failed: %v", err)
	}

	v2 := newTestVault(t, t.TempDir(), nil)
	if err := v2.AdoptFromSyncFolder(ctx, folder, passphrase); err != nil {
		t.Fatalf("AdoptFromSyncFolder failed: %v", err)
	}
	got, err := v2.Plaintext()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("adopted plaintext does not match exported payload")
	}

	// The local record is in passphrase mode with the export's salt,
	// so the shared passphrase keeps working locally.
	info1, _ := v1.Info()
	info2, err := v2.Info()
	if err != nil {
		t.Fatal(err)
	}
	if info2.Mode != record.ModePassphrase {
		t.Errorf("adopted mode = %q, want %q", info2.Mode, record.ModePassphrase)
	}
	if !bytes.Equal(info1.Salt, info2.Salt) {
		t.Error("adopted salt differs from export salt")
	}

	// Subsequent local opens work without the folder.
	v2.Lock()
	if err := v2.Open(ctx, passphrase); err != nil {
		t.Fatalf("local Open after adoption failed: %v", err)
	}
}

func TestAdoptWrongPassphrase(t *testing.T) {
	ctx := context.Background()

	v1 := newTestVault(t, t.TempDir(), nil)
	if err := v1.Create(ctx, []byte("shared-secret")); err != nil {
		t.Fatal(err)
	}
	folder := t.TempDir()
	if err := v1.ExportToSyncFolder(ctx, folder); err != nil {
		t.Fatal(err)
	}

	v2 := newTestVault(t, t.TempDir(), nil)
	err := v2.AdoptFromSyncFolder(ctx, folder, []byte("wrong"))
	if !errors.Is(err, envelope.ErrAuthenticationFailed) {
		t.Errorf("AdoptFromSyncFolder = %v, want ErrAuthenticationFailed", err)
	}
	if v2.State() != Uninitialized {
		t.Errorf("state = %v, want Uninitialized", v2.State())
	}
}

func TestAdoptEmptyFolder(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, t.TempDir(), nil)
	err := v.AdoptFromSyncFolder(ctx, t.TempDir(), []byte("pw"))
	if !errors.Is(err, ErrIO) {
		t.Errorf("AdoptFromSyncFolder on empty folder = %v, want ErrIO", err)
	}
}

func TestExportRequiresPassphraseMode(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, t.TempDir(), nil)
	if err := v.Create(ctx, nil); err != nil {
		t.Fatal(err)
	}
	err := v.ExportToSyncFolder(ctx, t.TempDir())
	if !errors.Is(err, ErrPassphraseModeOnly) {
		t.Errorf("ExportToSyncFolder in device mode = %v, want ErrPassphraseModeOnly", err)
	}
}

func TestRekey(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	oldPass := []byte("old-passphrase")
	newPass := []byte("new-passphrase")

	v := newTestVault(t, dir, nil)
	if err := v.Create(ctx, oldPass); err != nil {
		t.Fatal(err)
	}
	if err := v.Save(ctx, []byte("payload")); err != nil {
		t.Fatal(err)
	}
	before, _ := v.Info()

	if err := v.Rekey(ctx, oldPass, newPass); err != nil {
		t.Fatalf("Rekey failed: %v", err)
	}
	after, _ := v.Info()
	if bytes.Equal(before.Salt, after.Salt) {
		t.Error("Rekey did not rotate the salt")
	}

	v.Lock()
	if err := v.Open(ctx, oldPass); !errors.Is(err, envelope.ErrAuthenticationFailed) {
		t.Errorf("Open with old passphrase after rekey = %v, want ErrAuthenticationFailed", err)
	}
	if err := v.Open(ctx, newPass); err != nil {
		t.Fatalf("Open with new passphrase failed: %v", err)
	}
	got, _ := v.Plaintext()
	if string(got) != "payload" {
		t.Errorf("plaintext = %q, want %q", got, "payload")
	}
}

func TestRekeyWrongOldPassphrase(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, t.TempDir(), nil)
	if err := v.Create(ctx, []byte("right")); err != nil {
		t.Fatal(err)
	}
	err := v.Rekey(ctx, []byte("wrong"), []byte("new"))
	if !errors.Is(err, envelope.ErrAuthenticationFailed) {
		t.Errorf("Rekey with wrong passphrase = %v, want ErrAuthenticationFailed", err)
	}
}

func TestRekeyDeviceMode(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, t.TempDir(), nil)
	if err := v.Create(ctx, nil); err != nil {
		t.Fatal(err)
	}
	err := v.Rekey(ctx, []byte("a"), []byte("b"))
	if !errors.Is(err, ErrPassphraseModeOnly) {
		t.Errorf("Rekey in device mode = %v, want ErrPassphraseModeOnly", err)
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	kc := keychain.NewMemory()

	v := newTestVault(t, dir, kc)
	if err := v.Create(ctx, nil); err != nil {
		t.Fatal(err)
	}
	info, _ := v.Info()

	if err := v.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if v.State() != Uninitialized {
		t.Errorf("state = %v, want Uninitialized", v.State())
	}
	if record.Exists(filepath.Join(dir, record.FileName)) {
		t.Error("record survives Reset")
	}
	if _, err := os.Stat(filepath.Join(dir, DataFile)); !os.IsNotExist(err) {
		t.Error("sealed data file survives Reset")
	}
	if _, err := kc.Get(info.VaultID); !errors.Is(err, keychain.ErrNotFound) {
		t.Error("keychain entry survives Reset")
	}

	// Reset must be idempotent.
	if err := v.Reset(ctx); err != nil {
		t.Errorf("second Reset = %v, want nil", err)
	}
}

func TestResetPreservesPlaintextDatabase(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	plain := []byte("not yet migrated")
	if err := os.WriteFile(filepath.Join(dir, DataFile), plain, 0600); err != nil {
		t.Fatal(err)
	}

	v := newTestVault(t, dir, nil)
	if err := v.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(dir, DataFile))
	if err != nil || !bytes.Equal(got, plain) {
		t.Error("Reset removed a plaintext database it does not own")
	}
}

func TestLockDuringSaves(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	v := newTestVault(t, dir, nil)
	if err := v.Create(ctx, []byte("pw")); err != nil {
		t.Fatal(err)
	}

	// Saves and a Lock race through the single-writer mutex. The lock
	// must never truncate a write: afterwards the file is either a
	// complete envelope from one of the saves or from Create.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			payload := bytes.Repeat([]byte{byte(n)}, 4096)
			// ErrVaultLocked is expected once Lock wins the race.
			_ = v.Save(ctx, payload)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		v.Lock()
	}()
	wg.Wait()

	if v.State() != Locked {
		t.Fatalf("state = %v, want Locked", v.State())
	}
	onDisk, err := os.ReadFile(filepath.Join(dir, DataFile))
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Open(ctx, []byte("pw")); err != nil {
		t.Fatalf("Open after racing saves failed: %v (file %d bytes)", err, len(onDisk))
	}
}

func TestContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := newTestVault(t, t.TempDir(), nil)
	if err := v.Create(ctx, []byte("pw")); !errors.Is(err, context.Canceled) {
		t.Errorf("Create with cancelled context = %v, want context.Canceled", err)
	}
	if v.State() != Uninitialized {
		t.Errorf("state = %v, want Uninitialized", v.State())
	}
}

func TestInfoUninitialized(t *testing.T) {
	v := newTestVault(t, t.TempDir(), nil)
	if _, err := v.Info(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Info = %v, want ErrNotInitialized", err)
	}
}
