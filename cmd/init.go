package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/live-labs/crmvault/internal/envelope"
)

// Init creates a new vault in dir. With device set the data key lives
// in the OS secret store and no passphrase is asked for.
func Init(ctx context.Context, dir string, device bool) {
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

	if err := v.Create(ctx, passphrase); err != nil {
		HandleError(err)
	}

	if device {
		fmt.Println("✓ Vault created (device key)")
	} else {
		fmt.Println("✓ Vault created (passphrase)")
	}
}
