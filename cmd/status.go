package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/live-labs/crmvault/internal/envelope"
	"github.com/live-labs/crmvault/internal/record"
	"github.com/live-labs/crmvault/internal/vault"
)

// Status shows the vault state without unlocking. The record holds no
// secrets, so no passphrase is asked for.
func Status(dir string) {
	v := OpenVault(dir)

	info, err := v.Info()
	if err != nil {
		if errors.Is(err, vault.ErrNotInitialized) {
			fmt.Println("No vault found in this directory")
			if dataFileIsPlaintext(v.Dir()) {
				fmt.Println("A plaintext database is present; run 'crmvault migrate' to encrypt it")
			} else {
				fmt.Println("Run 'crmvault init' to create one")
			}
			return
		}
		HandleError(err)
	}

	fmt.Printf("Vault:    %s\n", info.VaultID)
	fmt.Printf("Mode:     %s\n", info.Mode)
	if info.Mode == record.ModePassphrase {
		fmt.Printf("KDF:      argon2id t=%d m=%dKiB p=%d\n", info.KDF.Time, info.KDF.MemoryKiB, info.KDF.Threads)
	}
	fmt.Printf("Created:  %s\n", info.Created.Format(time.RFC3339))
	fmt.Printf("Modified: %s\n", info.Modified.Format(time.RFC3339))

	dataPath := filepath.Join(v.Dir(), vault.DataFile)
	if st, err := os.Stat(dataPath); err == nil {
		fmt.Printf("Data:     %s (%d bytes, sealed)\n", vault.DataFile, st.Size())
	} else {
		fmt.Printf("Data:     missing\n")
	}
}

func dataFileIsPlaintext(dir string) bool {
	data, err := os.ReadFile(filepath.Join(dir, vault.DataFile))
	return err == nil && !envelope.IsEnvelope(data)
}
