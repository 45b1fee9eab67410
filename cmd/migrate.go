package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/live-labs/crmvault/internal/envelope"
)

// Migrate seals an existing plaintext database in place.
func Migrate(ctx context.Context, dir string, device bool) {
	v := OpenVault(dir)

	var passphrase []byte
	if !device {
		var err error
		passphrase, err = GetPassphraseForInit()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		defer envelope.ClearBytes(passphrase)
	}

	if err := v.MigratePlainDB(ctx, passphrase); err != nil {
		HandleError(err)
	}

	fmt.Println("✓ Database encrypted")
}
