package contracts

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lsdlabs/lsdctl/internal/chain"
)

// Polygon deployment constants of the LSD network factory
var (
	MaticGovStakeManager = common.HexToAddress("0x00200eA4Ee292E253E6Ca07dBA5EdC07c8Aa37A3")
	MaticValidatorShare  = common.HexToAddress("0x15ED57Ca28cbebb58d9c6C62F570046BC089bC66")
)

// FactoryInit are the LsdNetworkFactory initializer arguments
type FactoryInit struct {
	FactoryAdmin      common.Address
	GovStakeManager   common.Address
	ValidatorShare    common.Address
	StakeToken        common.Address
	StakeManagerLogic common.Address
	StakePoolLogic    common.Address
}

// Args returns the initializer arguments in declaration order
func (f FactoryInit) Args() []any {
	return []any{f.FactoryAdmin, f.GovStakeManager, f.ValidatorShare, f.StakeToken, f.StakeManagerLogic, f.StakePoolLogic}
}

// LsdNetworkFactory creates Matic LSD networks from logic templates
type LsdNetworkFactory struct {
	*Upgradeable
}

// NewLsdNetworkFactory binds a factory proxy
func NewLsdNetworkFactory(c *chain.Client, addr common.Address) (*LsdNetworkFactory, error) {
	u, err := NewUpgradeable(c, "LsdNetworkFactory", addr, FactoryABI)
	if err != nil {
		return nil, err
	}
	return &LsdNetworkFactory{Upgradeable: u}, nil
}

func (f *LsdNetworkFactory) FactoryAdmin(ctx context.Context) (common.Address, error) {
	return callAddress(ctx, f.Contract, "factoryAdmin")
}

func (f *LsdNetworkFactory) StakeManagerLogic(ctx context.Context) (common.Address, error) {
	return callAddress(ctx, f.Contract, "stakeManagerLogicAddress")
}

func (f *LsdNetworkFactory) StakePoolLogic(ctx context.Context) (common.Address, error) {
	return callAddress(ctx, f.Contract, "stakePoolLogicAddress")
}

func (f *LsdNetworkFactory) StakeToken(ctx context.Context) (common.Address, error) {
	return callAddress(ctx, f.Contract, "stakeTokenAddress")
}

// TransferFactoryAdmin hands factory administration to newAdmin
func (f *LsdNetworkFactory) TransferFactoryAdmin(ctx context.Context, from, newAdmin common.Address) (*types.Receipt, error) {
	return f.Transact(ctx, from, "transferFactoryAdmin", newAdmin)
}
