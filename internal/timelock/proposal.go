package timelock

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"
)

// Proposal is a scheduled operation saved to disk so the execute step
// replays exactly the arguments that were scheduled
type Proposal struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Network     string    `yaml:"network"`
	ChainID     int64     `yaml:"chain_id"`
	Timelock    string    `yaml:"timelock"`
	ID          string    `yaml:"id"`
	Target      string    `yaml:"target"`
	Value       string    `yaml:"value"`
	Data        string    `yaml:"data"`
	Predecessor string    `yaml:"predecessor"`
	Salt        string    `yaml:"salt"`
	Delay       uint64    `yaml:"delay"`
	ScheduledAt time.Time `yaml:"scheduled_at"`
	TxHash      string    `yaml:"tx_hash,omitempty"`
}

// NewProposal records op as scheduled on the timelock at addr
func NewProposal(name string, timelock common.Address, op Operation, delay uint64) *Proposal {
	return &Proposal{
		Name:        name,
		Timelock:    timelock.Hex(),
		ID:          op.ID().Hex(),
		Target:      op.Target.Hex(),
		Value:       op.value().String(),
		Data:        hexutil.Encode(op.Data),
		Predecessor: op.Predecessor.Hex(),
		Salt:        op.Salt.Hex(),
		Delay:       delay,
		ScheduledAt: time.Now().UTC(),
	}
}

// TimelockAddress returns the timelock the proposal was scheduled on
func (p *Proposal) TimelockAddress() (common.Address, error) {
	if !common.IsHexAddress(p.Timelock) {
		return common.Address{}, fmt.Errorf("proposal %s: invalid timelock address %q", p.Name, p.Timelock)
	}
	return common.HexToAddress(p.Timelock), nil
}

// Operation decodes the saved operation and checks it still hashes to the
// recorded id
func (p *Proposal) Operation() (Operation, error) {
	if !common.IsHexAddress(p.Target) {
		return Operation{}, fmt.Errorf("proposal %s: invalid target %q", p.Name, p.Target)
	}
	value, ok := new(big.Int).SetString(p.Value, 10)
	if !ok {
		return Operation{}, fmt.Errorf("proposal %s: invalid value %q", p.Name, p.Value)
	}
	data, err := hexutil.Decode(p.Data)
	if err != nil {
		return Operation{}, fmt.Errorf("proposal %s: invalid data: %w", p.Name, err)
	}
	op := Operation{
		Target:      common.HexToAddress(p.Target),
		Value:       value,
		Data:        data,
		Predecessor: common.HexToHash(p.Predecessor),
		Salt:        common.HexToHash(p.Salt),
	}
	if got := op.ID().Hex(); !strings.EqualFold(got, p.ID) {
		return Operation{}, fmt.Errorf("proposal %s: operation hashes to %s, file records %s", p.Name, got, p.ID)
	}
	return op, nil
}

// ProposalPath is where a named proposal for network is stored
func ProposalPath(dir, network, name string) string {
	return filepath.Join(dir, network, name+".yaml")
}

// SaveProposal writes p under dir and returns the file path
func SaveProposal(dir string, p *Proposal) (string, error) {
	path := ProposalPath(dir, p.Network, p.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create proposals directory: %w", err)
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode proposal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write proposal: %w", err)
	}
	return path, nil
}

// LoadProposal reads a proposal file
func LoadProposal(path string) (*Proposal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read proposal: %w", err)
	}
	var p Proposal
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse proposal %s: %w", path, err)
	}
	return &p, nil
}
