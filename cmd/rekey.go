package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/live-labs/crmvault/internal/envelope"
)

// Rekey changes the vault passphrase. Only the key wrapping is
// rewritten; the sealed data stays as it is.
func Rekey(ctx context.Context, dir string) {
	v := OpenVault(dir)

	oldPassphrase := GetPassphraseOrExit("Enter current passphrase: ")
	defer envelope.ClearBytes(oldPassphrase)

	newPassphrase, err := ReadPassphraseConfirm()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	defer envelope.ClearBytes(newPassphrase)

	if err := v.Rekey(ctx, oldPassphrase, newPassphrase); err != nil {
		HandleError(err)
	}

	fmt.Println("✓ Passphrase changed")
}
