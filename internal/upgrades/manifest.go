package upgrades

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lsdlabs/lsdctl/internal/artifacts"
	"github.com/lsdlabs/lsdctl/pkg/types"
)

// ManifestVersion is written to every manifest file
const ManifestVersion = "3.2"

// Manifest records the proxies and implementations deployed on one network
type Manifest struct {
	ManifestVersion string                 `json:"manifestVersion"`
	Proxies         []ProxyRecord          `json:"proxies"`
	Impls           map[string]*ImplRecord `json:"impls"`
}

// ProxyRecord is a deployed proxy
type ProxyRecord struct {
	Address        common.Address  `json:"address"`
	TxHash         string          `json:"txHash,omitempty"`
	Kind           types.ProxyKind `json:"kind"`
	Contract       string          `json:"contract,omitempty"`
	Implementation common.Address  `json:"implementation"`
}

// ImplRecord is a deployed implementation with the layout it was built with
type ImplRecord struct {
	Address  common.Address           `json:"address"`
	TxHash   string                   `json:"txHash,omitempty"`
	Contract string                   `json:"contract"`
	Layout   *artifacts.StorageLayout `json:"layout,omitempty"`
}

func newManifest() *Manifest {
	return &Manifest{ManifestVersion: ManifestVersion, Impls: make(map[string]*ImplRecord)}
}

// implKey is the manifest key of a runtime code hash
func implKey(codeHash common.Hash) string {
	return strings.TrimPrefix(codeHash.Hex(), "0x")
}

// Implementation looks up an implementation by runtime code hash
func (m *Manifest) Implementation(codeHash common.Hash) (*ImplRecord, bool) {
	rec, ok := m.Impls[implKey(codeHash)]
	return rec, ok
}

// ImplementationAt looks up an implementation by address
func (m *Manifest) ImplementationAt(addr common.Address) (*ImplRecord, bool) {
	for _, rec := range m.Impls {
		if rec.Address == addr {
			return rec, true
		}
	}
	return nil, false
}

// PutImplementation records an implementation under its code hash
func (m *Manifest) PutImplementation(codeHash common.Hash, rec ImplRecord) {
	if m.Impls == nil {
		m.Impls = make(map[string]*ImplRecord)
	}
	m.Impls[implKey(codeHash)] = &rec
}

// Proxy looks up a proxy by address
func (m *Manifest) Proxy(addr common.Address) (*ProxyRecord, bool) {
	for i := range m.Proxies {
		if m.Proxies[i].Address == addr {
			return &m.Proxies[i], true
		}
	}
	return nil, false
}

// PutProxy adds a proxy or replaces the record with the same address
func (m *Manifest) PutProxy(rec ProxyRecord) {
	if existing, ok := m.Proxy(rec.Address); ok {
		*existing = rec
		return
	}
	m.Proxies = append(m.Proxies, rec)
}

// ManifestStore loads and updates a manifest
type ManifestStore interface {
	Load() (*Manifest, error)
	// Update applies fn to the current manifest and persists the result
	Update(fn func(*Manifest) error) error
}

// ManifestPath is the manifest file of a network inside dir
func ManifestPath(dir, network string, chainID int64) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%d.json", network, chainID))
}

// FileManifest is a manifest persisted as JSON. Updates hold an exclusive
// lock on a sibling .lock file so concurrent lsdctl runs serialize.
type FileManifest struct {
	path string
}

// NewFileManifest returns the manifest of network inside dir
func NewFileManifest(dir, network string, chainID int64) *FileManifest {
	return &FileManifest{path: ManifestPath(dir, network, chainID)}
}

// Path returns the manifest file path
func (f *FileManifest) Path() string {
	return f.path
}

// Load reads the manifest. A missing file is an empty manifest.
func (f *FileManifest) Load() (*Manifest, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return newManifest(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m := newManifest()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", f.path, err)
	}
	if m.Impls == nil {
		m.Impls = make(map[string]*ImplRecord)
	}
	return m, nil
}

// Update locks the manifest, applies fn and writes the result atomically
func (f *FileManifest) Update(fn func(*Manifest) error) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	unlock, err := lockFile(f.path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()

	m, err := f.Load()
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".manifest-*")
	if err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}

// MemoryManifest keeps the manifest of an ephemeral chain in memory
type MemoryManifest struct {
	mu sync.Mutex
	m  *Manifest
}

// NewMemoryManifest returns an empty in-memory manifest
func NewMemoryManifest() *MemoryManifest {
	return &MemoryManifest{m: newManifest()}
}

// Load returns a copy of the manifest
func (mm *MemoryManifest) Load() (*Manifest, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return cloneManifest(mm.m)
}

// Update applies fn to a copy and keeps it when fn succeeds
func (mm *MemoryManifest) Update(fn func(*Manifest) error) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	m, err := cloneManifest(mm.m)
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	mm.m = m
	return nil
}

func cloneManifest(m *Manifest) (*Manifest, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	out := newManifest()
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}
