package main

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
	"github.com/TheMichaelB/axcrypt/internal/models"
)

// PassphraseEnv is read when no --passphrase flag is given.
const PassphraseEnv = "AXCRYPT_PASSPHRASE"

// readKey resolves the passphrase from flag, environment or prompt, in
// that order, and derives the key-encrypting key.
func readKey(flagValue string, confirm bool) (crypto.AesKey, error) {
	text := flagValue
	if text == "" {
		text = os.Getenv(PassphraseEnv)
	}
	if text == "" {
		var err error
		text, err = promptPassword("Passphrase: ")
		if err != nil {
			return crypto.AesKey{}, fmt.Errorf("read passphrase: %w", err)
		}
		if confirm {
			again, err := promptPassword("Confirm passphrase: ")
			if err != nil {
				return crypto.AesKey{}, fmt.Errorf("read passphrase: %w", err)
			}
			if again != text {
				return crypto.AesKey{}, fmt.Errorf("%w: passphrases do not match", models.ErrUsage)
			}
		}
	}
	if text == "" {
		return crypto.AesKey{}, fmt.Errorf("%w: empty passphrase", models.ErrUsage)
	}
	return crypto.NewPassphrase(text).Key(), nil
}

func promptPassword(prompt string) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("%w: no terminal to prompt on, use --passphrase or %s", models.ErrUsage, PassphraseEnv)
	}
	fmt.Fprint(os.Stderr, prompt)

	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(password), nil
}
