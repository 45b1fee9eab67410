package cmd

import (
	"context"
	"fmt"

	"github.com/live-labs/crmvault/internal/envelope"
	"github.com/live-labs/crmvault/internal/record"
)

// Open unlocks the vault and reports what it found. Mainly a health
// check: it proves the key path and the sealed file are intact.
func Open(ctx context.Context, dir string) {
	v := OpenVault(dir)

	info, err := v.Info()
	if err != nil {
		HandleError(err)
	}

	var passphrase []byte
	if info.Mode == record.ModePassphrase {
		passphrase = GetPassphraseOrExit("Enter passphrase: ")
		defer envelope.ClearBytes(passphrase)
	}

	if err := v.Open(ctx, passphrase); err != nil {
		HandleError(err)
	}
	defer v.Lock()

	plain, err := v.Plaintext()
	if err != nil {
		HandleError(err)
	}
	fmt.Printf("✓ Vault unlocked (%s mode, %d bytes)\n", info.Mode, len(plain))
}
