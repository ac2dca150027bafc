package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrArtifactNotFound is returned when no artifact matches a name
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrAmbiguousArtifact is returned when a bare name matches several sources
	ErrAmbiguousArtifact = errors.New("ambiguous artifact name")

	// ErrNoStorageLayout is returned when build info carries no layout for a contract
	ErrNoStorageLayout = errors.New("storage layout not available")
)

// Artifact is a compiled contract as written by hardhat to artifacts/<source>/<Name>.json
type Artifact struct {
	Format           string          `json:"_format"`
	ContractName     string          `json:"contractName"`
	SourceName       string          `json:"sourceName"`
	ABI              json.RawMessage `json:"abi"`
	Bytecode         string          `json:"bytecode"`
	DeployedBytecode string          `json:"deployedBytecode"`

	// Layout is set for registered artifacts that ship their own layout
	Layout *StorageLayout `json:"-"`

	once   sync.Once
	parsed abi.ABI
	abiErr error
}

// FQN returns the fully qualified name, e.g. contracts/bnb/StakeManager.sol:StakeManager
func (a *Artifact) FQN() string {
	if a.SourceName == "" {
		return a.ContractName
	}
	return a.SourceName + ":" + a.ContractName
}

// ParsedABI parses the artifact ABI once
func (a *Artifact) ParsedABI() (abi.ABI, error) {
	a.once.Do(func() {
		if len(a.ABI) == 0 {
			a.abiErr = fmt.Errorf("artifact %s has no abi", a.FQN())
			return
		}
		a.parsed, a.abiErr = abi.JSON(strings.NewReader(string(a.ABI)))
	})
	return a.parsed, a.abiErr
}

// CreationCode returns the decoded initcode
func (a *Artifact) CreationCode() ([]byte, error) {
	return decodeCode(a.Bytecode)
}

// RuntimeCode returns the decoded deployed bytecode
func (a *Artifact) RuntimeCode() ([]byte, error) {
	return decodeCode(a.DeployedBytecode)
}

// CodeHash identifies an implementation by its runtime bytecode
func (a *Artifact) CodeHash() common.Hash {
	code, err := a.RuntimeCode()
	if err != nil || len(code) == 0 {
		code, _ = a.CreationCode()
	}
	return crypto.Keccak256Hash(code)
}

// IsAbstract reports whether the artifact has no creation code (interfaces, abstract contracts)
func (a *Artifact) IsAbstract() bool {
	code, err := a.CreationCode()
	return err != nil || len(code) == 0
}

// HasLinkReferences reports unlinked library placeholders in the bytecode
func (a *Artifact) HasLinkReferences() bool {
	return strings.Contains(a.Bytecode, "__$")
}

func decodeCode(s string) ([]byte, error) {
	if s == "" || s == "0x" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	code, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid bytecode: %w", err)
	}
	return code, nil
}

// index resolves bare and fully qualified contract names
type index struct {
	byFQN  map[string]*Artifact
	byName map[string][]string
}

func newIndex() *index {
	return &index{
		byFQN:  make(map[string]*Artifact),
		byName: make(map[string][]string),
	}
}

func (ix *index) add(a *Artifact) {
	fqn := a.FQN()
	if _, exists := ix.byFQN[fqn]; !exists {
		ix.byName[a.ContractName] = append(ix.byName[a.ContractName], fqn)
		sort.Strings(ix.byName[a.ContractName])
	}
	ix.byFQN[fqn] = a
}

func (ix *index) get(name string) (*Artifact, error) {
	if strings.Contains(name, ":") {
		if a, ok := ix.byFQN[name]; ok {
			return a, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}

	fqns := ix.byName[name]
	switch len(fqns) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	case 1:
		return ix.byFQN[fqns[0]], nil
	default:
		return nil, fmt.Errorf("%w: %s matches %s; use a fully qualified name",
			ErrAmbiguousArtifact, name, strings.Join(fqns, ", "))
	}
}

func (ix *index) names() []string {
	out := make([]string, 0, len(ix.byFQN))
	for fqn := range ix.byFQN {
		out = append(out, fqn)
	}
	sort.Strings(out)
	return out
}
