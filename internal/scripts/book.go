package scripts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// AddressBook remembers the addresses scripts deploy so later scripts on
// the same network can find them
type AddressBook struct {
	mu      sync.Mutex
	path    string
	entries map[string]string
}

// AddressBookPath is the address book file of a network
func AddressBookPath(dir, network string, chainID int64) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%d.addresses.yaml", network, chainID))
}

// NewAddressBook loads the book at path. An empty path keeps the book in
// memory and a missing file starts empty.
func NewAddressBook(path string) (*AddressBook, error) {
	b := &AddressBook{path: path, entries: make(map[string]string)}
	if path == "" {
		return b, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read address book: %w", err)
	}
	if err := yaml.Unmarshal(data, &b.entries); err != nil {
		return nil, fmt.Errorf("failed to parse address book %s: %w", path, err)
	}
	if b.entries == nil {
		b.entries = make(map[string]string)
	}
	return b, nil
}

// Path returns the backing file, empty for an in-memory book
func (b *AddressBook) Path() string {
	return b.path
}

// Get returns the address recorded under key
func (b *AddressBook) Get(key string) (common.Address, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.entries[key]
	if !ok || !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// Set records addr under key and persists the book
func (b *AddressBook) Set(key string, addr common.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = addr.Hex()
	return b.saveLocked()
}

// Keys returns the recorded keys in order
func (b *AddressBook) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *AddressBook) saveLocked() error {
	if b.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
		return fmt.Errorf("failed to create address book directory: %w", err)
	}
	data, err := yaml.Marshal(b.entries)
	if err != nil {
		return fmt.Errorf("failed to encode address book: %w", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write address book: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to save address book: %w", err)
	}
	return nil
}
