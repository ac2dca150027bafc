package identity

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/lsdlabs/lsdctl/internal/config"
	"github.com/lsdlabs/lsdctl/internal/logging"
	"golang.org/x/term"
)

// PassphraseEnv names the environment variable checked for the secrets passphrase
const PassphraseEnv = "LSDCTL_SECRETS_PASSPHRASE"

// DevMnemonic is the well-known development mnemonic used by hardhat nodes.
// Accounts derived from it are public and must never hold real funds.
const DevMnemonic = "test test test test test test test test test test test junk"

// ErrNoSigners is returned when no key source yields accounts
var ErrNoSigners = errors.New("no signer accounts configured")

// SignerSource describes where LoadSigners found the key material
type SignerSource string

const (
	SourceKeyring SignerSource = "keyring"
	SourceFile    SignerSource = "secrets-file"
	SourceDev     SignerSource = "dev-mnemonic"
)

// LoadOptions tweak signer resolution
type LoadOptions struct {
	// SecretsPath overrides the configured secrets file location
	SecretsPath string
	// AllowDevMnemonic falls back to DevMnemonic for non-live networks
	// without a secrets file.
	AllowDevMnemonic bool
	// Passphrase supplies the secrets passphrase; defaults to PassphraseSource
	Passphrase func() ([]byte, error)
}

// LoadSigners resolves the accounts for a network: the OS keyring when
// enabled, then the secrets file (plain or encrypted), then the dev mnemonic
// when allowed.
func LoadSigners(network string, n config.NetworkConfig, opts LoadOptions) ([]Account, SignerSource, error) {
	path := n.Accounts.Path
	if path == "" {
		path = config.DefaultDerivationPath
	}
	count := n.Accounts.Count
	if count <= 0 {
		count = 10
	}

	if n.Accounts.Keyring {
		mnemonic, err := RetrieveMnemonic(network)
		if err != nil {
			logging.Debug("keyring unavailable, falling back to secrets file",
				logging.Network(network), logging.Err(err))
		} else if mnemonic != "" {
			accounts, err := DeriveAccounts(mnemonic, path, count)
			return accounts, SourceKeyring, err
		}
	}

	secretsPath := opts.SecretsPath
	if secretsPath == "" {
		secretsPath = n.Accounts.SecretsFile
	}
	if secretsPath != "" {
		if _, err := os.Stat(secretsPath); err == nil {
			passphrase := opts.Passphrase
			if passphrase == nil {
				passphrase = PassphraseSource(secretsPath)
			}
			secrets, err := LoadSecrets(secretsPath, passphrase)
			if err != nil {
				return nil, "", err
			}
			if n.Live && secrets.TestOnly {
				logging.Warn("signing for a live network with a secrets file marked test_only",
					logging.Network(network), "file", secretsPath)
			}
			accounts, err := secrets.Accounts(path, count)
			return accounts, SourceFile, err
		} else if !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("failed to stat secrets file: %w", err)
		}
	}

	if opts.AllowDevMnemonic && !n.Live {
		accounts, err := DeriveAccounts(DevMnemonic, path, count)
		return accounts, SourceDev, err
	}
	return nil, "", fmt.Errorf("%w for network %s", ErrNoSigners, network)
}

// PassphraseSource returns a passphrase getter that checks the environment,
// the OS keyring and the kernel keyring before prompting on the terminal.
func PassphraseSource(secretsPath string) func() ([]byte, error) {
	return func() ([]byte, error) {
		if v := os.Getenv(PassphraseEnv); v != "" {
			return []byte(v), nil
		}
		if v, err := RetrievePassphrase(); err == nil && v != "" {
			return []byte(v), nil
		}
		if v, err := RetrieveKernelKeyring(); err == nil && v != "" {
			return []byte(v), nil
		}
		return PromptPassphrase(fmt.Sprintf("Passphrase for %s: ", secretsPath))
	}
}

// PromptPassphrase reads a passphrase from the terminal without echo
func PromptPassphrase(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("cannot prompt for passphrase: stdin is not a terminal (set %s)", PassphraseEnv)
	}
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	pass = []byte(strings.TrimRight(string(pass), "\r\n"))
	if len(pass) == 0 {
		return nil, errors.New("empty passphrase")
	}
	return pass, nil
}
