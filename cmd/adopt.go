package cmd

import (
	"context"
	"fmt"

	"github.com/live-labs/crmvault/internal/envelope"
)

// Adopt bootstraps a local vault from a sync-folder export.
func Adopt(ctx context.Context, dir, folder string) {
	v := OpenVault(dir)

	passphrase := GetPassphraseOrExit("Enter shared passphrase: ")
	defer envelope.ClearBytes(passphrase)

	if err := v.AdoptFromSyncFolder(ctx, folder, passphrase); err != nil {
		HandleError(err)
	}
	v.Lock()

	fmt.Printf("✓ Vault adopted from %s\n", folder)
}
