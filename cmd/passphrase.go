package cmd

import (
	"crypto/subtle"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/live-labs/crmvault/internal/envelope"
)

// ReadPassphrase reads a passphrase from the terminal without echoing.
func ReadPassphrase(prompt string) ([]byte, error) {
	fmt.Print(prompt)

	passphrase, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()

	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return passphrase, nil
}

// ReadPassphraseConfirm reads a passphrase twice and ensures both
// entries match.
func ReadPassphraseConfirm() ([]byte, error) {
	first, err := ReadPassphrase("Enter passphrase: ")
	if err != nil {
		return nil, err
	}
	defer envelope.ClearBytes(first)

	second, err := ReadPassphrase("Confirm passphrase: ")
	if err != nil {
		return nil, err
	}
	defer envelope.ClearBytes(second)

	if subtle.ConstantTimeCompare(first, second) != 1 {
		return nil, fmt.Errorf("passphrases do not match")
	}

	result := make([]byte, len(first))
	copy(result, first)
	return result, nil
}

// GetPassphraseFromEnv reads the passphrase from CRMVAULT_PASSPHRASE.
// Returns nil when the variable is unset or empty.
func GetPassphraseFromEnv() []byte {
	passphrase := os.Getenv("CRMVAULT_PASSPHRASE")
	if passphrase == "" {
		return nil
	}
	// Copy so callers can safely clear the bytes.
	result := make([]byte, len(passphrase))
	copy(result, []byte(passphrase))
	return result
}
