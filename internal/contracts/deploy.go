package contracts

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lsdlabs/lsdctl/internal/artifacts"
	"github.com/lsdlabs/lsdctl/internal/chain"
)

// Deploy creates a contract from its artifact with constructor args
func Deploy(ctx context.Context, c *chain.Client, store *artifacts.Store, from common.Address, name string, args ...any) (common.Address, *types.Receipt, error) {
	a, err := store.Get(name)
	if err != nil {
		return common.Address{}, nil, err
	}
	return DeployArtifact(ctx, c, a, from, args...)
}

// DeployArtifact creates a contract from an already resolved artifact
func DeployArtifact(ctx context.Context, c *chain.Client, a *artifacts.Artifact, from common.Address, args ...any) (common.Address, *types.Receipt, error) {
	if IsBuiltin(a) && c.Config().Live {
		return common.Address{}, nil, fmt.Errorf("deploy %s: %w", a.FQN(), ErrBuiltinOnLiveNetwork)
	}
	if a.IsAbstract() {
		return common.Address{}, nil, fmt.Errorf("deploy %s: contract is abstract or an interface", a.FQN())
	}
	if a.HasLinkReferences() {
		return common.Address{}, nil, fmt.Errorf("deploy %s: bytecode has unlinked libraries", a.FQN())
	}
	parsed, err := a.ParsedABI()
	if err != nil {
		return common.Address{}, nil, err
	}
	code, err := a.CreationCode()
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("deploy %s: %w", a.FQN(), err)
	}
	return c.Deploy(ctx, from, a.ContractName, parsed, code, args...)
}
