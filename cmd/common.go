package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/live-labs/crmvault/internal/envelope"
	"github.com/live-labs/crmvault/internal/keymgr"
	"github.com/live-labs/crmvault/internal/vault"
)

// OpenVault builds a Vault over dir with a console logger. The log
// level comes from CRMVAULT_DEBUG.
func OpenVault(dir string) *vault.Vault {
	level := zerolog.WarnLevel
	if os.Getenv("CRMVAULT_DEBUG") != "" {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	v, err := vault.New(dir, vault.Options{Logger: &logger})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	return v
}

// GetPassphrase retrieves the passphrase from the environment or
// prompts the user. The caller must envelope.ClearBytes the result.
func GetPassphrase(prompt string) ([]byte, error) {
	if passphrase := GetPassphraseFromEnv(); passphrase != nil {
		return passphrase, nil
	}
	return ReadPassphrase(prompt)
}

// GetPassphraseOrExit is like GetPassphrase but exits on error.
func GetPassphraseOrExit(prompt string) []byte {
	passphrase, err := GetPassphrase(prompt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	return passphrase
}

// GetPassphraseForInit retrieves a new passphrase: environment
// variable first, otherwise a prompt with confirmation.
func GetPassphraseForInit() ([]byte, error) {
	if passphrase := GetPassphraseFromEnv(); passphrase != nil {
		return passphrase, nil
	}
	return ReadPassphraseConfirm()
}

// HandleError prints a friendly message for known failures and exits.
// A failed decryption is reported as one indistinct message: the codec
// cannot tell a wrong passphrase from tampered ciphertext.
func HandleError(err error) {
	switch {
	case errors.Is(err, vault.ErrNotInitialized):
		fmt.Fprintf(os.Stderr, "Error: no vault in this directory\n")
		fmt.Fprintf(os.Stderr, "Run 'crmvault init' or 'crmvault migrate' first\n")
	case errors.Is(err, vault.ErrAlreadyExists):
		fmt.Fprintf(os.Stderr, "Error: a vault already exists in this directory\n")
		fmt.Fprintf(os.Stderr, "Use 'crmvault status' to see its state\n")
	case errors.Is(err, envelope.ErrAuthenticationFailed):
		fmt.Fprintf(os.Stderr, "Error: wrong passphrase or corrupted vault\n")
	case errors.Is(err, keymgr.ErrKeyUnavailable):
		fmt.Fprintf(os.Stderr, "Error: device key not found in the OS secret store\n")
		fmt.Fprintf(os.Stderr, "The vault cannot be unlocked on this machine\n")
	case errors.Is(err, vault.ErrPassphraseModeOnly):
		fmt.Fprintf(os.Stderr, "Error: this vault uses a device key, not a passphrase\n")
	case errors.Is(err, vault.ErrPassphraseRequired):
		fmt.Fprintf(os.Stderr, "Error: passphrase required\n")
	case errors.Is(err, vault.ErrMigrationAborted):
		fmt.Fprintf(os.Stderr, "Error: migration did not complete; the original database is unchanged\n")
	case errors.Is(err, envelope.ErrUnsupportedVersion):
		fmt.Fprintf(os.Stderr, "Error: vault was written by a newer version of crmvault\n")
	default:
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
	os.Exit(1)
}
