package cmd

import (
	"context"
	"fmt"

	"github.com/live-labs/crmvault/internal/envelope"
	"github.com/live-labs/crmvault/internal/record"
	"github.com/live-labs/crmvault/internal/vault"
)

// Export unlocks the vault and writes a sync-folder export.
func Export(ctx context.Context, dir, folder string) {
	v := OpenVault(dir)

	info, err := v.Info()
	if err != nil {
		HandleError(err)
	}
	if info.Mode != record.ModePassphrase {
		HandleError(vault.ErrPassphraseModeOnly)
	}

	passphrase := GetPassphraseOrExit("Enter passphrase: ")
	defer envelope.ClearBytes(passphrase)

	if err := v.Open(ctx, passphrase); err != nil {
		HandleError(err)
	}
	defer v.Lock()

	if err := v.ExportToSyncFolder(ctx, folder); err != nil {
		HandleError(err)
	}

	fmt.Printf("✓ Vault exported to %s\n", folder)
}
