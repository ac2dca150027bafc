package contracts

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lsdlabs/lsdctl/internal/artifacts"
	"github.com/lsdlabs/lsdctl/internal/chain"
)

// DeployERC1967Proxy deploys a proxy for impl, delegatecalling data when non-empty
func DeployERC1967Proxy(ctx context.Context, c *chain.Client, store *artifacts.Store, from, impl common.Address, data []byte) (common.Address, *types.Receipt, error) {
	if data == nil {
		data = []byte{}
	}
	return Deploy(ctx, c, store, from, "ERC1967Proxy", impl, data)
}
