package contracts

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lsdlabs/lsdctl/internal/chain"
)

// Mars is the sample upgradeable contract used to rehearse timelocked upgrades
type Mars struct {
	*Upgradeable
}

// NewMars binds a Mars proxy with the MarsV2 ABI, a superset of Mars
func NewMars(c *chain.Client, addr common.Address) (*Mars, error) {
	u, err := NewUpgradeable(c, "Mars", addr, MarsV2ABI)
	if err != nil {
		return nil, err
	}
	return &Mars{Upgradeable: u}, nil
}

// Initialize sets the name and makes the sender owner
func (m *Mars) Initialize(ctx context.Context, from common.Address, name string) (*types.Receipt, error) {
	return m.Transact(ctx, from, "initialize", name)
}

func (m *Mars) Name(ctx context.Context) (string, error) {
	return callString(ctx, m.Contract, "name")
}

// EncodeMarsInitialize encodes Mars.initialize(name)
func EncodeMarsInitialize(name string) ([]byte, error) {
	return MarsABI.Pack("initialize", name)
}

// EncodeInitializeV2 encodes the MarsV2 reinitializer
func EncodeInitializeV2(version uint8) ([]byte, error) {
	return MarsV2ABI.Pack("initializev2", version)
}
