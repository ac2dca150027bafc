package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/lsdlabs/lsdctl/internal/config"
	"github.com/lsdlabs/lsdctl/internal/logging"
)

const buildInfoDir = "build-info"

// Store resolves compiled artifacts from a hardhat artifacts directory
// and from artifacts registered in-process.
type Store struct {
	dir string

	mu         sync.RWMutex
	ix         *index
	debugPaths map[string]string // fqn -> build-info path
	buildInfos map[string]*BuildInfo
}

// NewStore returns an empty store rooted at dir without reading it
func NewStore(dir string) *Store {
	return &Store{
		dir:        dir,
		ix:         newIndex(),
		debugPaths: make(map[string]string),
		buildInfos: make(map[string]*BuildInfo),
	}
}

// Open reads every artifact under dir. A missing directory yields an empty store.
func Open(dir string) (*Store, error) {
	s := NewStore(dir)
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the artifacts directory
func (s *Store) Dir() string {
	return s.dir
}

// Reload rescans the artifacts directory. Registered artifacts are kept
// unless a file artifact with the same fully qualified name replaces them.
func (s *Store) Reload() error {
	if s.dir == "" {
		return nil
	}
	if _, err := os.Stat(s.dir); errors.Is(err, fs.ErrNotExist) {
		logging.Debug("artifacts directory not found", "dir", s.dir)
		return nil
	}

	found := make([]*Artifact, 0)
	debug := make(map[string]string)

	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == buildInfoDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".dbg.json") {
			return nil
		}

		a, err := readArtifact(path)
		if err != nil {
			logging.Warn("skipping unreadable artifact", "path", path, logging.Err(err))
			return nil
		}
		if a == nil {
			return nil
		}
		found = append(found, a)

		dbgPath := strings.TrimSuffix(path, ".json") + ".dbg.json"
		if bi, err := readDebugFile(dbgPath); err == nil && bi != "" {
			debug[a.FQN()] = filepath.Clean(filepath.Join(filepath.Dir(dbgPath), bi))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan artifacts: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range found {
		s.ix.add(a)
	}
	for fqn, p := range debug {
		s.debugPaths[fqn] = p
	}
	s.buildInfos = make(map[string]*BuildInfo)

	logging.Debug("artifacts loaded", "dir", s.dir, "count", len(found))
	return nil
}

// Register adds an artifact that does not live on disk
func (s *Store) Register(a *Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ix.add(a)
}

// Get resolves a bare or fully qualified contract name
func (s *Store) Get(name string) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ix.get(name)
}

// MustGet is Get for names known to be registered
func (s *Store) MustGet(name string) *Artifact {
	a, err := s.Get(name)
	if err != nil {
		panic(err)
	}
	return a
}

// Names returns all fully qualified names, sorted
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ix.names()
}

// All returns every artifact ordered by fully qualified name
func (s *Store) All() []*Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := s.ix.names()
	out := make([]*Artifact, 0, len(names))
	for _, n := range names {
		out = append(out, s.ix.byFQN[n])
	}
	return out
}

// StorageLayout returns the storage layout of a contract
func (s *Store) StorageLayout(name string) (*StorageLayout, error) {
	a, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	if a.Layout != nil {
		return a.Layout, nil
	}

	bi, err := s.buildInfoFor(a.FQN())
	if err != nil {
		return nil, err
	}
	return bi.Layout(a.SourceName, a.ContractName)
}

// BuildInfo returns the build info a contract was compiled in
func (s *Store) BuildInfo(name string) (*BuildInfo, error) {
	a, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	return s.buildInfoFor(a.FQN())
}

func (s *Store) buildInfoFor(fqn string) (*BuildInfo, error) {
	s.mu.RLock()
	path, ok := s.debugPaths[fqn]
	cached := s.buildInfos[path]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: no build info recorded for %s", ErrNoStorageLayout, fqn)
	}
	if cached != nil {
		return cached, nil
	}

	bi, err := readBuildInfo(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.buildInfos[path] = bi
	s.mu.Unlock()
	return bi, nil
}

// CheckCompiler compares the compiler settings recorded in build info with
// the configured ones and returns a warning per mismatch.
func (s *Store) CheckCompiler(want config.CompilerConfig) []string {
	s.mu.RLock()
	paths := make([]string, 0, len(s.debugPaths))
	seen := make(map[string]bool)
	for _, p := range s.debugPaths {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	s.mu.RUnlock()
	sort.Strings(paths)

	var warnings []string
	for _, p := range paths {
		bi, err := readBuildInfo(p)
		if err != nil {
			warnings = append(warnings, err.Error())
			continue
		}
		name := filepath.Base(p)
		settings := bi.Input.Settings
		if want.Version != "" && bi.SolcVersion != want.Version {
			warnings = append(warnings, fmt.Sprintf("%s: compiled with solc %s, configured %s", name, bi.SolcVersion, want.Version))
		}
		if settings.Optimizer.Enabled != want.Optimizer.Enabled {
			warnings = append(warnings, fmt.Sprintf("%s: optimizer enabled=%t, configured %t", name, settings.Optimizer.Enabled, want.Optimizer.Enabled))
		} else if want.Optimizer.Enabled && settings.Optimizer.Runs != want.Optimizer.Runs {
			warnings = append(warnings, fmt.Sprintf("%s: optimizer runs=%d, configured %d", name, settings.Optimizer.Runs, want.Optimizer.Runs))
		}
		if settings.ViaIR != want.ViaIR {
			warnings = append(warnings, fmt.Sprintf("%s: viaIR=%t, configured %t", name, settings.ViaIR, want.ViaIR))
		}
	}
	return warnings
}

// readArtifact returns nil, nil for json files that are not contract artifacts
func readArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	if a.ContractName == "" {
		return nil, nil
	}
	return &a, nil
}

func readDebugFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var d debugFile
	if err := json.Unmarshal(data, &d); err != nil {
		return "", err
	}
	return d.BuildInfo, nil
}
