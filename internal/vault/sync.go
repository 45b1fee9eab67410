package vault

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/live-labs/crmvault/internal/envelope"
	"github.com/live-labs/crmvault/internal/keymgr"
	"github.com/live-labs/crmvault/internal/record"
	"github.com/live-labs/crmvault/internal/security"
	"github.com/live-labs/crmvault/internal/storage"
)

// Sync-folder export file names. The export mirrors the local layout:
// a sealed payload plus the record that reconstitutes its key.
const (
	ExportDataFile   = "vault.crm"
	ExportRecordFile = record.FileName
)

// AdoptFromSyncFolder bootstraps a fresh vault from an export another
// instance produced under passphrase mode. This is trust-on-passphrase
// pairing: there is no negotiation and no identity check beyond "the
// passphrase unwraps the key". The adopted record keeps the export's
// salt and cost parameters so the shared passphrase keeps working.
func (v *Vault) AdoptFromSyncFolder(ctx context.Context, folder string, passphrase []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != Uninitialized {
		return ErrAlreadyExists
	}
	if len(passphrase) == 0 {
		return ErrPassphraseRequired
	}

	f, err := security.OpenFolder(folder)
	if err != nil {
		return ioWrap(err)
	}
	defer f.Close()

	metaBytes, err := f.ReadFile(ExportRecordFile)
	if err != nil {
		return ioWrap(fmt.Errorf("no export record in %s: %w", f.Path(), err))
	}
	envBytes, err := f.ReadFile(ExportDataFile)
	if err != nil {
		return ioWrap(fmt.Errorf("no export payload in %s: %w", f.Path(), err))
	}

	rec, err := v.readExportRecord(metaBytes)
	if err != nil {
		return err
	}
	if rec.Mode != record.ModePassphrase {
		return ErrPassphraseModeOnly
	}

	kek := keymgr.DeriveKey(passphrase, rec.Salt, rec.KDF)
	defer envelope.ClearBytes(kek)
	dek, err := keymgr.UnwrapDEK(rec.WrappedDEK, kek)
	if err != nil {
		return err
	}
	plain, err := envelope.Open(envBytes, dek)
	if err != nil {
		envelope.ClearBytes(dek)
		return err
	}

	local := rec.Clone()
	local.Modified = time.Now()

	fail := func(err error) error {
		os.Remove(v.recordPath)
		envelope.ClearBytes(dek)
		envelope.ClearBytes(plain)
		return err
	}
	sealed, err := envelope.Seal(plain, dek)
	if err != nil {
		return fail(err)
	}
	if err := record.Write(v.recordPath, local); err != nil {
		return fail(ioWrap(err))
	}
	if err := storage.WriteFileAtomic(v.dataPath, sealed, FilePermSecure); err != nil {
		return fail(ioWrap(err))
	}

	v.become(local, dek, plain)
	v.log.Info().Str("vault_id", local.VaultID).Msg("vault adopted from sync folder")
	return nil
}

// ExportToSyncFolder writes the sealed payload and record into the
// folder so another instance can adopt the vault with the shared
// passphrase. Requires Unlocked and passphrase mode; a device-mode DEK
// never leaves the OS secret store.
func (v *Vault) ExportToSyncFolder(ctx context.Context, folder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != Unlocked {
		return ErrVaultLocked
	}
	if v.rec.Mode != record.ModePassphrase {
		return ErrPassphraseModeOnly
	}

	f, err := security.OpenFolder(folder)
	if err != nil {
		return ioWrap(err)
	}
	defer f.Close()

	metaBytes, err := os.ReadFile(v.recordPath)
	if err != nil {
		return ioWrap(err)
	}
	sealed, err := envelope.Seal(v.plaintext, v.dek)
	if err != nil {
		return err
	}

	if err := f.WriteFile(ExportRecordFile, metaBytes, FilePermSecure); err != nil {
		return ioWrap(err)
	}
	if err := f.WriteFile(ExportDataFile, sealed, FilePermSecure); err != nil {
		return ioWrap(err)
	}

	v.log.Info().Str("folder", f.Path()).Msg("vault exported to sync folder")
	return nil
}

// readExportRecord materializes export record bytes as a temp file so
// the record store can open them; the temp file is removed before
// returning.
func (v *Vault) readExportRecord(metaBytes []byte) (*record.Record, error) {
	tmp, err := os.CreateTemp(v.dir, ".adopt-*")
	if err != nil {
		return nil, ioWrap(err)
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(metaBytes); err != nil {
		tmp.Close()
		return nil, ioWrap(err)
	}
	if err := tmp.Close(); err != nil {
		return nil, ioWrap(err)
	}
	rec, err := record.Read(name)
	if err != nil {
		return nil, ioWrap(err)
	}
	return rec, nil
}
