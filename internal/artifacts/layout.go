package artifacts

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
)

// StorageLayout is the solc storageLayout output for one contract
type StorageLayout struct {
	Storage []StorageItem       `json:"storage"`
	Types   map[string]TypeInfo `json:"types"`
}

// StorageItem is one state variable
type StorageItem struct {
	AstID    int    `json:"astId"`
	Contract string `json:"contract"`
	Label    string `json:"label"`
	Offset   int    `json:"offset"`
	Slot     string `json:"slot"`
	Type     string `json:"type"`
}

// TypeInfo describes a storage type referenced by StorageItem.Type
type TypeInfo struct {
	Encoding      string        `json:"encoding"`
	Label         string        `json:"label"`
	NumberOfBytes string        `json:"numberOfBytes"`
	Members       []StorageItem `json:"members,omitempty"`
	Key           string        `json:"key,omitempty"`
	Value         string        `json:"value,omitempty"`
	Base          string        `json:"base,omitempty"`
}

// SlotInt parses the decimal slot number
func (s StorageItem) SlotInt() *big.Int {
	n, ok := new(big.Int).SetString(s.Slot, 10)
	if !ok {
		return new(big.Int)
	}
	return n
}

// IsGap reports a reserved __gap array
func (s StorageItem) IsGap() bool {
	return s.Label == "__gap" || strings.HasSuffix(s.Label, "__gap")
}

// Size returns the number of bytes a type occupies, 0 when unknown
func (l *StorageLayout) Size(typeID string) int {
	t, ok := l.Types[typeID]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(t.NumberOfBytes)
	if err != nil {
		return 0
	}
	return n
}

// Slots returns the number of 32-byte slots a type occupies
func (l *StorageLayout) Slots(typeID string) int {
	return (l.Size(typeID) + 31) / 32
}

// ArrayLength returns the static length of an array type id such as
// t_array(t_uint256)50_storage, or -1 for dynamic or non-array types
func ArrayLength(typeID string) int {
	if !strings.HasPrefix(typeID, "t_array(") {
		return -1
	}
	end := strings.LastIndex(typeID, ")")
	if end < 0 {
		return -1
	}
	rest := typeID[end+1:]
	rest = strings.TrimSuffix(rest, "_storage")
	rest = strings.TrimSuffix(rest, "_memory_ptr")
	n, err := strconv.Atoi(rest)
	if err != nil {
		return -1
	}
	return n
}

// BuildInfo is the subset of hardhat's build-info file read by lsdctl
type BuildInfo struct {
	Format          string `json:"_format"`
	ID              string `json:"id"`
	SolcVersion     string `json:"solcVersion"`
	SolcLongVersion string `json:"solcLongVersion"`
	Input           struct {
		Settings struct {
			Optimizer struct {
				Enabled bool `json:"enabled"`
				Runs    int  `json:"runs"`
			} `json:"optimizer"`
			ViaIR bool `json:"viaIR"`
		} `json:"settings"`
	} `json:"input"`
	Output struct {
		Contracts map[string]map[string]struct {
			StorageLayout *StorageLayout `json:"storageLayout"`
		} `json:"contracts"`
	} `json:"output"`
}

// Layout returns the storage layout for source:name
func (b *BuildInfo) Layout(source, name string) (*StorageLayout, error) {
	byName, ok := b.Output.Contracts[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s not in build %s", ErrNoStorageLayout, source, b.ID)
	}
	c, ok := byName[name]
	if !ok || c.StorageLayout == nil {
		return nil, fmt.Errorf("%w: %s:%s (enable storageLayout in outputSelection)", ErrNoStorageLayout, source, name)
	}
	return c.StorageLayout, nil
}

func readBuildInfo(path string) (*BuildInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read build info: %w", err)
	}
	var bi BuildInfo
	if err := json.Unmarshal(data, &bi); err != nil {
		return nil, fmt.Errorf("failed to parse build info %s: %w", path, err)
	}
	return &bi, nil
}

type debugFile struct {
	Format    string `json:"_format"`
	BuildInfo string `json:"buildInfo"`
}
