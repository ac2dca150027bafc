//go:build linux

package identity

import (
	"fmt"
	"os/exec"
	"strings"
)

const kernelKeyringKeyName = "lsdctl-secrets-passphrase"

// StoreKernelKeyring stores the secrets passphrase in the Linux user session
// keyring. The key lives in kernel memory only and is lost on reboot.
// Requires the `keyctl` command (package: keyutils).
func StoreKernelKeyring(passphrase string) error {
	cmd := exec.Command("keyctl", "padd", "user", kernelKeyringKeyName, "@u")
	cmd.Stdin = strings.NewReader(passphrase)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("keyctl padd failed: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// RetrieveKernelKeyring reads the passphrase back from the session keyring
func RetrieveKernelKeyring() (string, error) {
	out, err := exec.Command("keyctl", "search", "@u", "user", kernelKeyringKeyName).Output()
	if err != nil {
		return "", fmt.Errorf("keyctl search failed: %w", err)
	}
	keyID := strings.TrimSpace(string(out))

	out, err = exec.Command("keyctl", "pipe", keyID).Output()
	if err != nil {
		return "", fmt.Errorf("keyctl pipe failed: %w", err)
	}
	return string(out), nil
}

// DeleteKernelKeyring unlinks the passphrase; a missing key is not an error
func DeleteKernelKeyring() error {
	out, err := exec.Command("keyctl", "search", "@u", "user", kernelKeyringKeyName).Output()
	if err != nil {
		return nil
	}
	_, err = exec.Command("keyctl", "unlink", strings.TrimSpace(string(out)), "@u").Output()
	return err
}
