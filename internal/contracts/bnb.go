package contracts

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lsdlabs/lsdctl/internal/chain"
)

// BnbGovStaking is the BSC system staking contract
var BnbGovStaking = common.HexToAddress("0x0000000000000000000000000000000000002001")

// BnbStakeManager is the BNB liquid staking manager, V1 or the V2 mock
type BnbStakeManager struct {
	*Upgradeable
}

// NewBnbStakeManager binds a StakeManager proxy with the V2 ABI, a superset of V1
func NewBnbStakeManager(c *chain.Client, addr common.Address) (*BnbStakeManager, error) {
	u, err := NewUpgradeable(c, "StakeManager", addr, BnbStakeManagerV2ABI)
	if err != nil {
		return nil, err
	}
	return &BnbStakeManager{Upgradeable: u}, nil
}

// Initialize sets voters, threshold, token, first pool and validator, and the owner
func (m *BnbStakeManager) Initialize(ctx context.Context, from common.Address, voters []common.Address, threshold *big.Int, lsdToken, pool, validator, owner common.Address) (*types.Receipt, error) {
	return m.Transact(ctx, from, "initialize", voters, threshold, lsdToken, pool, validator, owner)
}

func (m *BnbStakeManager) EraSeconds(ctx context.Context) (*big.Int, error) {
	return callBig(ctx, m.Contract, "eraSeconds")
}

func (m *BnbStakeManager) GetBondedPools(ctx context.Context) ([]common.Address, error) {
	return callAddresses(ctx, m.Contract, "getBondedPools")
}

func (m *BnbStakeManager) GetVoters(ctx context.Context) ([]common.Address, error) {
	return callAddresses(ctx, m.Contract, "getVoters")
}

func (m *BnbStakeManager) GetValidatorsOf(ctx context.Context, pool common.Address) ([]common.Address, error) {
	return callAddresses(ctx, m.Contract, "getValidatorsOf", pool)
}

func (m *BnbStakeManager) ProtocolFeeCommission(ctx context.Context) (*big.Int, error) {
	return callBig(ctx, m.Contract, "protocolFeeCommission")
}

func (m *BnbStakeManager) Threshold(ctx context.Context) (*big.Int, error) {
	return callBig(ctx, m.Contract, "threshold")
}

func (m *BnbStakeManager) LsdToken(ctx context.Context) (common.Address, error) {
	return callAddress(ctx, m.Contract, "lsdToken")
}

// V2Var is only answered by MockBnbStakeManagerV2
func (m *BnbStakeManager) V2Var(ctx context.Context) (string, error) {
	return callString(ctx, m.Contract, "v2var")
}

// WithdrawStatic simulates withdraw() with attached value without sending it
func (m *BnbStakeManager) WithdrawStatic(ctx context.Context, from common.Address, value *big.Int) error {
	input, err := m.ABI.Pack("withdraw")
	if err != nil {
		return err
	}
	_, err = m.Client().CallRaw(ctx, from, m.Address, value, input, m.ABI)
	return err
}

// EncodeInitV2 encodes the MockBnbStakeManagerV2 reinitializer
func EncodeInitV2(v2var string, protocolFeeCommission *big.Int) ([]byte, error) {
	return BnbStakeManagerV2ABI.Pack("initV2", v2var, protocolFeeCommission)
}

// BnbStakePool holds delegated BNB for the manager
type BnbStakePool struct {
	*Upgradeable
}

// NewBnbStakePool binds a StakePool proxy
func NewBnbStakePool(c *chain.Client, addr common.Address) (*BnbStakePool, error) {
	u, err := NewUpgradeable(c, "StakePool", addr, BnbStakePoolABI)
	if err != nil {
		return nil, err
	}
	return &BnbStakePool{Upgradeable: u}, nil
}

// Initialize wires the pool to gov staking and its manager
func (p *BnbStakePool) Initialize(ctx context.Context, from, govStaking, stakeManager, owner common.Address) (*types.Receipt, error) {
	return p.Transact(ctx, from, "initialize", govStaking, stakeManager, owner)
}

func (p *BnbStakePool) StakeManagerAddress(ctx context.Context) (common.Address, error) {
	return callAddress(ctx, p.Contract, "stakeManagerAddress")
}

func (p *BnbStakePool) GovStaking(ctx context.Context) (common.Address, error) {
	return callAddress(ctx, p.Contract, "govStaking")
}
