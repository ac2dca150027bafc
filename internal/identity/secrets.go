package identity

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Encrypted secrets file format:
// [4 bytes magic] [16 bytes salt] [12 bytes nonce] [variable ciphertext]
//
// The plaintext is the yaml secrets document. The key is derived from the
// passphrase with argon2id and the document is sealed with AES-256-GCM.

var (
	encryptedSecretsMagic = []byte("LSDS")

	argon2Time    uint32 = 1
	argon2Memory  uint32 = 64 * 1024 // 64 MB
	argon2Threads uint8  = 4
	argon2KeyLen  uint32 = 32

	// ErrWrongPassphrase is returned when decryption fails
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted secrets file")

	// ErrInvalidSecretsFile is returned when the encrypted layout is malformed
	ErrInvalidSecretsFile = errors.New("invalid encrypted secrets file")

	// ErrNoSecrets is returned when neither a mnemonic nor keys are present
	ErrNoSecrets = errors.New("secrets file has no mnemonic or private keys")
)

// Secrets is the content of the local secrets file
type Secrets struct {
	// TestOnly marks a throwaway mnemonic; signing for live networks with
	// such a file logs a warning.
	TestOnly    bool     `yaml:"test_only"`
	Mnemonic    string   `yaml:"mnemonic,omitempty"`
	PrivateKeys []string `yaml:"private_keys,omitempty"`
}

// Validate checks the secrets hold usable key material
func (s *Secrets) Validate() error {
	if s.Mnemonic == "" && len(s.PrivateKeys) == 0 {
		return ErrNoSecrets
	}
	if s.Mnemonic != "" {
		if _, err := SeedFromMnemonic(s.Mnemonic, ""); err != nil {
			return err
		}
	}
	return nil
}

// Accounts derives the signer accounts described by the secrets
func (s *Secrets) Accounts(basePath string, count int) ([]Account, error) {
	if s.Mnemonic != "" {
		return DeriveAccounts(s.Mnemonic, basePath, count)
	}
	if len(s.PrivateKeys) == 0 {
		return nil, ErrNoSecrets
	}
	return AccountsFromKeys(s.PrivateKeys)
}

// ParseSecrets decodes a plaintext yaml secrets document
func ParseSecrets(data []byte) (*Secrets, error) {
	var s Secrets
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse secrets: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadSecrets reads a secrets file. Encrypted files are opened with passphrase;
// passphrase is called only when the file is encrypted.
func LoadSecrets(path string, passphrase func() ([]byte, error)) (*Secrets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}

	if !bytes.HasPrefix(data, encryptedSecretsMagic) {
		return ParseSecrets(data)
	}

	if passphrase == nil {
		return nil, fmt.Errorf("secrets file %s is encrypted and no passphrase source is available", path)
	}
	pass, err := passphrase()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain secrets passphrase: %w", err)
	}
	plain, err := DecryptSecrets(data, pass)
	if err != nil {
		return nil, err
	}
	return ParseSecrets(plain)
}

// SaveSecrets writes secrets as plaintext yaml, or encrypted when passphrase is non-empty
func SaveSecrets(path string, s *Secrets, passphrase []byte) error {
	if err := s.Validate(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if s.TestOnly {
		buf.WriteString("# TEST ONLY: never store a funded mnemonic in this file\n")
	}
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode secrets: %w", err)
	}
	enc.Close()

	data := buf.Bytes()
	if len(passphrase) > 0 {
		sealed, err := EncryptSecrets(data, passphrase)
		if err != nil {
			return err
		}
		data = sealed
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}

// EncryptSecrets seals a plaintext secrets document
func EncryptSecrets(plaintext, passphrase []byte) ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("encrypt secrets: failed to generate salt: %w", err)
	}

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return nil, fmt.Errorf("encrypt secrets: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("encrypt secrets: failed to generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, encryptedSecretsMagic)

	out := make([]byte, 0, len(encryptedSecretsMagic)+len(salt)+len(nonce)+len(ciphertext))
	out = append(out, encryptedSecretsMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// DecryptSecrets opens a document produced by EncryptSecrets
func DecryptSecrets(data, passphrase []byte) ([]byte, error) {
	// magic (4) + salt (16) + nonce (12) + GCM tag (16)
	const minSize = 4 + 16 + 12 + 16
	if len(data) < minSize {
		return nil, fmt.Errorf("%w: file too short", ErrInvalidSecretsFile)
	}
	if !bytes.HasPrefix(data, encryptedSecretsMagic) {
		return nil, fmt.Errorf("%w: invalid magic bytes", ErrInvalidSecretsFile)
	}

	offset := len(encryptedSecretsMagic)
	salt := data[offset : offset+16]
	offset += 16
	nonce := data[offset : offset+12]
	offset += 12

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return nil, fmt.Errorf("decrypt secrets: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, data[offset:], encryptedSecretsMagic)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plaintext, nil
}

// IsEncryptedSecrets reports whether the file starts with the encrypted magic
func IsEncryptedSecrets(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	magic := make([]byte, len(encryptedSecretsMagic))
	n, err := f.Read(magic)
	if err != nil || n < len(magic) {
		return false, nil
	}
	return bytes.Equal(magic, encryptedSecretsMagic), nil
}

func newAEAD(passphrase, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(passphrase, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
