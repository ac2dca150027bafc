package identity

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/99designs/keyring"
)

// ErrKernelKeyringUnsupported is returned by the kernel keyring helpers
// outside Linux
var ErrKernelKeyringUnsupported = errors.New("kernel keyring is only available on Linux")

const (
	keyringServiceName = "lsdctl"
	mnemonicKeyPrefix  = "mnemonic:"
	passphraseKey      = "secrets-passphrase"
)

// StoreMnemonic stores a network's mnemonic in the platform keyring.
// Returns the backend name on success.
func StoreMnemonic(network, mnemonic string) (string, error) {
	if _, err := SeedFromMnemonic(mnemonic, ""); err != nil {
		return "", err
	}
	return storeItem(keyring.Item{
		Key:         mnemonicKeyPrefix + network,
		Data:        []byte(normalizeMnemonic(mnemonic)),
		Label:       "lsdctl mnemonic (" + network + ")",
		Description: "Signer mnemonic used by lsdctl for " + network,
	})
}

// RetrieveMnemonic returns ("", nil) when the keyring is available but holds no entry.
func RetrieveMnemonic(network string) (string, error) {
	return retrieveItem(mnemonicKeyPrefix + network)
}

// DeleteMnemonic removes a network's mnemonic from the keyring
func DeleteMnemonic(network string) error {
	return removeItem(mnemonicKeyPrefix + network)
}

// StorePassphrase stores the secrets-file passphrase in the platform keyring
func StorePassphrase(passphrase string) (string, error) {
	return storeItem(keyring.Item{
		Key:         passphraseKey,
		Data:        []byte(passphrase),
		Label:       "lsdctl secrets passphrase",
		Description: "Passphrase for the encrypted lsdctl secrets file",
	})
}

// RetrievePassphrase returns ("", nil) when no passphrase is stored
func RetrievePassphrase() (string, error) {
	return retrieveItem(passphraseKey)
}

// DeletePassphrase removes the stored passphrase
func DeletePassphrase() error {
	return removeItem(passphraseKey)
}

func storeItem(item keyring.Item) (string, error) {
	ring, backend, err := openKeyring()
	if err != nil {
		return "", err
	}
	if err := ring.Set(item); err != nil {
		return "", fmt.Errorf("failed to store in %s: %w", backend, err)
	}
	return backend, nil
}

func retrieveItem(key string) (string, error) {
	ring, _, err := openKeyring()
	if err != nil {
		return "", err
	}
	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(item.Data), nil
}

func removeItem(key string) error {
	ring, _, err := openKeyring()
	if err != nil {
		return err
	}
	err = ring.Remove(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return err
}

func openKeyring() (keyring.Keyring, string, error) {
	backends := platformKeyringBackends()
	if len(backends) == 0 {
		return nil, "", fmt.Errorf("no keyring backend available on %s", runtime.GOOS)
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:                    keyringServiceName,
		AllowedBackends:                backends,
		KeychainTrustApplication:       true,
		KeychainAccessibleWhenUnlocked: true,
		KeychainSynchronizable:         false,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to open keyring: %w", err)
	}

	return ring, keyringBackendName(), nil
}

func platformKeyringBackends() []keyring.BackendType {
	switch runtime.GOOS {
	case "darwin":
		return []keyring.BackendType{keyring.KeychainBackend}
	case "linux":
		return []keyring.BackendType{
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
		}
	case "windows":
		return []keyring.BackendType{keyring.WinCredBackend}
	default:
		return nil
	}
}

func keyringBackendName() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "linux":
		return "Secret Service (GNOME Keyring / KDE Wallet)"
	case "windows":
		return "Windows Credential Manager"
	default:
		return "system keyring"
	}
}
