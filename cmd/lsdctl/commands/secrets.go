package commands

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/lsdlabs/lsdctl/internal/config"
	"github.com/lsdlabs/lsdctl/internal/identity"
	"github.com/spf13/cobra"
)

// NewSecretsCmd creates the signer secrets commands.
func NewSecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage signer mnemonics and keys",
		Long: `Manage the key material lsdctl signs with.

Signers are resolved from the OS keyring (when accounts.keyring is set), then
the network's secrets file, then the public dev mnemonic for local networks.`,
	}
	cmd.AddCommand(
		newSecretsInitCmd(),
		newSecretsEncryptCmd(),
		newSecretsKeyringCmd(),
	)
	return cmd
}

// secretsTarget resolves the selected network and its secrets file
func secretsTarget() (string, config.NetworkConfig, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", config.NetworkConfig{}, "", err
	}
	network := NetworkName
	if network == "" {
		network = cfg.DefaultNetwork
	}
	n, err := cfg.Network(network)
	if err != nil {
		return "", config.NetworkConfig{}, "", err
	}
	return network, n, cfg.SecretsPath(n), nil
}

// readNewPassphrase asks twice for a passphrase
func readNewPassphrase() ([]byte, error) {
	if v := os.Getenv(identity.PassphraseEnv); v != "" {
		return []byte(v), nil
	}
	first, err := identity.PromptPassphrase("New passphrase: ")
	if err != nil {
		return nil, err
	}
	second, err := identity.PromptPassphrase("Repeat passphrase: ")
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(first, second) {
		return nil, errors.New("passphrases do not match")
	}
	return first, nil
}

// promptMnemonic reads a mnemonic from the terminal, hidden
func promptMnemonic() (string, error) {
	if !isTTY() {
		return "", errors.New("cannot prompt for a mnemonic when not run from a terminal, use --generate")
	}
	var mnemonic string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Mnemonic").
				Description("12 or 24 words, separated by spaces").
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					_, err := identity.SeedFromMnemonic(s, "")
					return err
				}).
				Value(&mnemonic),
		),
	).Run()
	return strings.TrimSpace(mnemonic), err
}

func newSecretsInitCmd() *cobra.Command {
	var generate, testOnly, encrypt, force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a secrets file for the selected network",
		RunE: func(cmd *cobra.Command, args []string) error {
			network, n, path, err := secretsTarget()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to replace it", path)
			}
			if n.Live && testOnly {
				Warning("marking secrets for a live network as test only")
			}

			var mnemonic string
			if generate {
				if mnemonic, err = identity.NewMnemonic(); err != nil {
					return err
				}
			} else if mnemonic, err = promptMnemonic(); err != nil {
				return err
			}

			var passphrase []byte
			if encrypt {
				if passphrase, err = readNewPassphrase(); err != nil {
					return err
				}
			}
			s := &identity.Secrets{TestOnly: testOnly, Mnemonic: mnemonic}
			if err := identity.SaveSecrets(path, s, passphrase); err != nil {
				return err
			}
			accounts, err := s.Accounts(n.Accounts.Path, 1)
			if err != nil {
				return err
			}
			Success(fmt.Sprintf("secrets for %s written to %s", network, path))
			fmt.Println(KeyValue("First account", accounts[0].Address.Hex()))
			if generate && isTTY() && !encrypt {
				fmt.Println(Hint("the mnemonic is stored in plain text, run: lsdctl secrets encrypt"))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&generate, "generate", false, "Generate a new mnemonic instead of prompting")
	cmd.Flags().BoolVar(&testOnly, "test-only", false, "Mark the mnemonic as a throwaway test key")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "Encrypt the file with a passphrase")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing secrets file")
	return cmd
}

func newSecretsEncryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a plaintext secrets file, or change its passphrase",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, path, err := secretsTarget()
			if err != nil {
				return err
			}
			encrypted, err := identity.IsEncryptedSecrets(path)
			if err != nil {
				return err
			}
			var current func() ([]byte, error)
			if encrypted {
				current = func() ([]byte, error) {
					return identity.PromptPassphrase("Current passphrase: ")
				}
			}
			s, err := identity.LoadSecrets(path, current)
			if err != nil {
				return err
			}
			passphrase, err := readNewPassphrase()
			if err != nil {
				return err
			}
			if err := identity.SaveSecrets(path, s, passphrase); err != nil {
				return err
			}
			Success("encrypted " + path)
			return nil
		},
	}
}

func newSecretsKeyringCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyring",
		Short: "Keep the mnemonic or passphrase in the OS keyring",
	}
	cmd.AddCommand(newKeyringStoreCmd(), newKeyringForgetCmd())
	return cmd
}

func newKeyringStoreCmd() *cobra.Command {
	var fromFile, passphrase, kernel bool

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Store the network mnemonic, or the secrets passphrase, in the keyring",
		Long: `Store the mnemonic of the selected network in the OS keyring. Set
accounts.keyring in the network config so signers are read from it.

With --passphrase the secrets file passphrase is stored instead, in the OS
keyring or, with --kernel, in the Linux kernel session keyring.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			network, _, path, err := secretsTarget()
			if err != nil {
				return err
			}
			if passphrase {
				pass, err := identity.PromptPassphrase("Secrets passphrase: ")
				if err != nil {
					return err
				}
				if _, err := identity.LoadSecrets(path, func() ([]byte, error) { return pass, nil }); err != nil {
					return err
				}
				if kernel {
					if err := identity.StoreKernelKeyring(string(pass)); err != nil {
						return err
					}
					Success("passphrase stored in the kernel keyring")
					return nil
				}
				backend, err := identity.StorePassphrase(string(pass))
				if err != nil {
					return err
				}
				Success("passphrase stored in " + backend)
				return nil
			}

			var mnemonic string
			if fromFile {
				s, err := identity.LoadSecrets(path, identity.PassphraseSource(path))
				if err != nil {
					return err
				}
				if s.Mnemonic == "" {
					return fmt.Errorf("%s holds private keys, not a mnemonic", path)
				}
				mnemonic = s.Mnemonic
			} else if mnemonic, err = promptMnemonic(); err != nil {
				return err
			}
			backend, err := identity.StoreMnemonic(network, mnemonic)
			if err != nil {
				return err
			}
			Success(fmt.Sprintf("mnemonic for %s stored in %s", network, backend))
			fmt.Println(Hint("set accounts.keyring: true for " + network + " in " + configPath()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromFile, "from-file", false, "Copy the mnemonic from the secrets file")
	cmd.Flags().BoolVar(&passphrase, "passphrase", false, "Store the secrets file passphrase instead of a mnemonic")
	cmd.Flags().BoolVar(&kernel, "kernel", false, "Use the kernel session keyring for the passphrase")
	return cmd
}

func newKeyringForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Remove the network mnemonic and any stored passphrase",
		RunE: func(cmd *cobra.Command, args []string) error {
			network, _, _, err := secretsTarget()
			if err != nil {
				return err
			}
			var errs []error
			if err := identity.DeleteMnemonic(network); err != nil {
				errs = append(errs, fmt.Errorf("mnemonic: %w", err))
			}
			if err := identity.DeletePassphrase(); err != nil {
				errs = append(errs, fmt.Errorf("passphrase: %w", err))
			}
			if err := identity.DeleteKernelKeyring(); err != nil {
				errs = append(errs, fmt.Errorf("kernel keyring: %w", err))
			}
			if err := errors.Join(errs...); err != nil {
				return err
			}
			Success("keyring entries for " + network + " removed")
			return nil
		},
	}
}
