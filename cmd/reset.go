package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// Reset destroys the vault record, keychain entry and sealed data.
// Asks for confirmation unless force is set. A plaintext database that
// was never migrated is left alone.
func Reset(ctx context.Context, dir string, force bool) {
	v := OpenVault(dir)

	if !force {
		fmt.Print("This permanently destroys the vault and its key. Type 'yes' to continue: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			fmt.Println("Aborted")
			return
		}
	}

	if err := v.Reset(ctx); err != nil {
		HandleError(err)
	}

	fmt.Println("✓ Vault reset")
}
