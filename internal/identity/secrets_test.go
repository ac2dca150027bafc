package identity

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lsdlabs/lsdctl/internal/config"
)

func TestEncryptDecryptSecrets(t *testing.T) {
	plain := []byte("test_only: true\nmnemonic: " + DevMnemonic + "\n")
	sealed, err := EncryptSecrets(plain, []byte("correct horse"))
	if err != nil {
		t.Fatalf("EncryptSecrets failed: %v", err)
	}
	if !strings.HasPrefix(string(sealed), "LSDS") {
		t.Error("sealed data should start with the magic header")
	}
	if strings.Contains(string(sealed), "junk") {
		t.Error("sealed data leaks plaintext")
	}

	got, err := DecryptSecrets(sealed, []byte("correct horse"))
	if err != nil {
		t.Fatalf("DecryptSecrets failed: %v", err)
	}
	if string(got) != string(plain) {
		t.Errorf("round trip mismatch: got %q", got)
	}

	if _, err := DecryptSecrets(sealed, []byte("wrong")); !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("expected ErrWrongPassphrase, got %v", err)
	}
	if _, err := DecryptSecrets([]byte("LSDS"), []byte("x")); !errors.Is(err, ErrInvalidSecretsFile) {
		t.Errorf("expected ErrInvalidSecretsFile, got %v", err)
	}
}

func TestSaveLoadSecrets_Plain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	if err := SaveSecrets(path, &Secrets{TestOnly: true, Mnemonic: DevMnemonic}, nil); err != nil {
		t.Fatalf("SaveSecrets failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("secrets file mode: got %o, want 600", info.Mode().Perm())
	}

	encrypted, err := IsEncryptedSecrets(path)
	if err != nil || encrypted {
		t.Errorf("plain file reported encrypted=%v err=%v", encrypted, err)
	}

	s, err := LoadSecrets(path, nil)
	if err != nil {
		t.Fatalf("LoadSecrets failed: %v", err)
	}
	if !s.TestOnly || s.Mnemonic != DevMnemonic {
		t.Errorf("unexpected secrets: %+v", s)
	}
}

func TestSaveLoadSecrets_Encrypted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.enc")
	if err := SaveSecrets(path, &Secrets{Mnemonic: DevMnemonic}, []byte("pw")); err != nil {
		t.Fatalf("SaveSecrets failed: %v", err)
	}

	encrypted, err := IsEncryptedSecrets(path)
	if err != nil || !encrypted {
		t.Fatalf("encrypted file reported encrypted=%v err=%v", encrypted, err)
	}

	if _, err := LoadSecrets(path, nil); err == nil {
		t.Error("loading an encrypted file without a passphrase source should fail")
	}

	s, err := LoadSecrets(path, func() ([]byte, error) { return []byte("pw"), nil })
	if err != nil {
		t.Fatalf("LoadSecrets failed: %v", err)
	}
	if s.Mnemonic != DevMnemonic {
		t.Errorf("mnemonic mismatch: %q", s.Mnemonic)
	}
}

func TestParseSecrets_Empty(t *testing.T) {
	if _, err := ParseSecrets([]byte("test_only: true\n")); !errors.Is(err, ErrNoSecrets) {
		t.Errorf("expected ErrNoSecrets, got %v", err)
	}
	if _, err := ParseSecrets([]byte("mnemonic: not a real phrase\n")); !errors.Is(err, ErrInvalidMnemonic) {
		t.Errorf("expected ErrInvalidMnemonic, got %v", err)
	}
}

func TestLoadSigners_SecretsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	if err := SaveSecrets(path, &Secrets{TestOnly: true, Mnemonic: DevMnemonic}, nil); err != nil {
		t.Fatal(err)
	}

	n := config.DefaultNetworks()["localhost"]
	n.Accounts.Count = 3
	accounts, source, err := LoadSigners("localhost", n, LoadOptions{SecretsPath: path})
	if err != nil {
		t.Fatalf("LoadSigners failed: %v", err)
	}
	if source != SourceFile {
		t.Errorf("source: got %s, want %s", source, SourceFile)
	}
	if len(accounts) != 3 {
		t.Fatalf("got %d accounts, want 3", len(accounts))
	}
	if accounts[2].Address != common.HexToAddress(hardhatAddresses[2]) {
		t.Errorf("account 2: got %s", accounts[2].Address.Hex())
	}
}

func TestLoadSigners_PrivateKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	data := "private_keys:\n  - 0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	accounts, _, err := LoadSigners("localhost", config.DefaultNetworks()["localhost"], LoadOptions{SecretsPath: path})
	if err != nil {
		t.Fatalf("LoadSigners failed: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Address != common.HexToAddress(hardhatAddresses[1]) {
		t.Errorf("unexpected accounts: %+v", accounts)
	}
}

func TestLoadSigners_DevFallback(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	n := config.DefaultNetworks()[config.InProcessNetwork]
	accounts, source, err := LoadSigners(config.InProcessNetwork, n, LoadOptions{SecretsPath: missing, AllowDevMnemonic: true})
	if err != nil {
		t.Fatalf("LoadSigners failed: %v", err)
	}
	if source != SourceDev {
		t.Errorf("source: got %s, want %s", source, SourceDev)
	}
	if len(accounts) != 10 {
		t.Errorf("got %d accounts, want 10", len(accounts))
	}

	live := config.DefaultNetworks()["bsctestnet"]
	_, _, err = LoadSigners("bsctestnet", live, LoadOptions{SecretsPath: missing, AllowDevMnemonic: true})
	if !errors.Is(err, ErrNoSigners) {
		t.Errorf("live network must not fall back to the dev mnemonic, got %v", err)
	}
}
