package identity

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// hardenedOffset marks a hardened BIP-32 child index
const hardenedOffset uint32 = 0x80000000

var (
	// ErrInvalidMnemonic is returned for phrases failing the BIP-39 checksum
	ErrInvalidMnemonic = errors.New("invalid mnemonic")

	// ErrInvalidPath is returned for malformed derivation paths
	ErrInvalidPath = errors.New("invalid derivation path")

	errInvalidChild = errors.New("derived key is invalid for this index")
)

// Account is a signer derived from the configured secrets
type Account struct {
	Index      int
	Path       string
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey
}

// DerivationPath is a parsed BIP-32 path; hardened components carry the offset
type DerivationPath []uint32

// ParseDerivationPath parses paths such as m/44'/60'/0'/0
func ParseDerivationPath(path string) (DerivationPath, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, fmt.Errorf("%w: %q must start with m/", ErrInvalidPath, path)
	}

	result := make(DerivationPath, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h")
		if hardened {
			part = part[:len(part)-1]
		}
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil || uint32(n) >= hardenedOffset {
			return nil, fmt.Errorf("%w: bad component %q in %q", ErrInvalidPath, part, path)
		}
		idx := uint32(n)
		if hardened {
			idx += hardenedOffset
		}
		result = append(result, idx)
	}
	return result, nil
}

// String renders the path back in m/44'/60' notation
func (p DerivationPath) String() string {
	var b strings.Builder
	b.WriteString("m")
	for _, c := range p {
		b.WriteString("/")
		if c >= hardenedOffset {
			b.WriteString(strconv.FormatUint(uint64(c-hardenedOffset), 10))
			b.WriteString("'")
		} else {
			b.WriteString(strconv.FormatUint(uint64(c), 10))
		}
	}
	return b.String()
}

// extendedKey is a BIP-32 private node
type extendedKey struct {
	key       *big.Int
	chainCode []byte
}

func masterKey(seed []byte) (*extendedKey, error) {
	mac := hmac.New(sha512.New, []byte("Bitcoin seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)

	k := new(big.Int).SetBytes(sum[:32])
	if k.Sign() == 0 || k.Cmp(crypto.S256().Params().N) >= 0 {
		return nil, errInvalidChild
	}
	return &extendedKey{key: k, chainCode: sum[32:]}, nil
}

func (k *extendedKey) child(index uint32) (*extendedKey, error) {
	data := make([]byte, 0, 37)
	if index >= hardenedOffset {
		data = append(data, 0x00)
		data = append(data, math.PaddedBigBytes(k.key, 32)...)
	} else {
		priv, err := crypto.ToECDSA(math.PaddedBigBytes(k.key, 32))
		if err != nil {
			return nil, err
		}
		data = append(data, crypto.CompressPubkey(&priv.PublicKey)...)
	}
	data = binary.BigEndian.AppendUint32(data, index)

	mac := hmac.New(sha512.New, k.chainCode)
	mac.Write(data)
	sum := mac.Sum(nil)

	n := crypto.S256().Params().N
	il := new(big.Int).SetBytes(sum[:32])
	if il.Cmp(n) >= 0 {
		return nil, errInvalidChild
	}
	childKey := new(big.Int).Add(il, k.key)
	childKey.Mod(childKey, n)
	if childKey.Sign() == 0 {
		return nil, errInvalidChild
	}
	return &extendedKey{key: childKey, chainCode: sum[32:]}, nil
}

func (k *extendedKey) derive(path DerivationPath) (*extendedKey, error) {
	cur := k
	for _, idx := range path {
		next, err := cur.child(idx)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// SeedFromMnemonic validates the phrase and returns its BIP-39 seed
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	mnemonic = normalizeMnemonic(mnemonic)
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	return seed, nil
}

// NewMnemonic generates a fresh 12-word phrase
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// DeriveAccounts derives count accounts under basePath (the index is appended
// as the last, non-hardened component), in the order ethers' getSigners uses.
func DeriveAccounts(mnemonic, basePath string, count int) ([]Account, error) {
	base, err := ParseDerivationPath(basePath)
	if err != nil {
		return nil, err
	}
	seed, err := SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, err
	}
	master, err := masterKey(seed)
	if err != nil {
		return nil, err
	}
	parent, err := master.derive(base)
	if err != nil {
		return nil, err
	}

	accounts := make([]Account, 0, count)
	for i := 0; i < count; i++ {
		node, err := parent.child(uint32(i))
		if err != nil {
			return nil, fmt.Errorf("derive index %d: %w", i, err)
		}
		priv, err := crypto.ToECDSA(math.PaddedBigBytes(node.key, 32))
		if err != nil {
			return nil, fmt.Errorf("derive index %d: %w", i, err)
		}
		path := append(append(DerivationPath{}, base...), uint32(i))
		accounts = append(accounts, Account{
			Index:      i,
			Path:       path.String(),
			Address:    crypto.PubkeyToAddress(priv.PublicKey),
			PrivateKey: priv,
		})
	}
	return accounts, nil
}

// AccountsFromKeys builds accounts from raw hex private keys
func AccountsFromKeys(keys []string) ([]Account, error) {
	accounts := make([]Account, 0, len(keys))
	for i, k := range keys {
		priv, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(k), "0x"))
		if err != nil {
			return nil, fmt.Errorf("private key %d: %w", i, err)
		}
		accounts = append(accounts, Account{
			Index:      i,
			Address:    crypto.PubkeyToAddress(priv.PublicKey),
			PrivateKey: priv,
		})
	}
	return accounts, nil
}

func normalizeMnemonic(m string) string {
	return strings.Join(strings.Fields(strings.ToLower(m)), " ")
}
