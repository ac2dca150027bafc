package contracts

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lsdlabs/lsdctl/internal/artifacts"
	"github.com/lsdlabs/lsdctl/internal/chain"
)

// ERC20 covers the dummy stake token and the read side of LsdToken
type ERC20 struct {
	*chain.Contract
}

// NewERC20 binds a token
func NewERC20(c *chain.Client, addr common.Address) (*ERC20, error) {
	return newToken(c, "ERC20", addr, ERC20ABI)
}

func newToken(c *chain.Client, name string, addr common.Address, parsed abi.ABI) (*ERC20, error) {
	bound, err := c.Bind(name, addr, parsed)
	if err != nil {
		return nil, err
	}
	return &ERC20{Contract: bound}, nil
}

// DeployERC20 deploys the plain OpenZeppelin ERC20 with (name, symbol)
func DeployERC20(ctx context.Context, c *chain.Client, store *artifacts.Store, from common.Address, name, symbol string) (*ERC20, error) {
	addr, _, err := Deploy(ctx, c, store, from, "ERC20", name, symbol)
	if err != nil {
		return nil, err
	}
	return NewERC20(c, addr)
}

func (t *ERC20) Name(ctx context.Context) (string, error) {
	return callString(ctx, t.Contract, "name")
}

func (t *ERC20) Symbol(ctx context.Context) (string, error) {
	return callString(ctx, t.Contract, "symbol")
}

func (t *ERC20) TotalSupply(ctx context.Context) (*big.Int, error) {
	return callBig(ctx, t.Contract, "totalSupply")
}

func (t *ERC20) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return callBig(ctx, t.Contract, "balanceOf", account)
}

func (t *ERC20) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) (*types.Receipt, error) {
	return t.Transact(ctx, from, "transfer", to, amount)
}

// LsdToken is the liquid staking receipt token, minted by its manager
type LsdToken struct {
	*ERC20
}

// NewLsdToken binds an LsdToken
func NewLsdToken(c *chain.Client, addr common.Address) (*LsdToken, error) {
	t, err := newToken(c, "LsdToken", addr, LsdTokenABI)
	if err != nil {
		return nil, err
	}
	return &LsdToken{ERC20: t}, nil
}

// DeployLsdToken deploys with (minter, name, symbol)
func DeployLsdToken(ctx context.Context, c *chain.Client, store *artifacts.Store, from, minter common.Address, name, symbol string) (*LsdToken, error) {
	addr, _, err := Deploy(ctx, c, store, from, "LsdToken", minter, name, symbol)
	if err != nil {
		return nil, err
	}
	return NewLsdToken(c, addr)
}

func (t *LsdToken) Minter(ctx context.Context) (common.Address, error) {
	return callAddress(ctx, t.Contract, "minter")
}

// Mint issues tokens; only the minter may call it
func (t *LsdToken) Mint(ctx context.Context, from, to common.Address, amount *big.Int) (*types.Receipt, error) {
	return t.Transact(ctx, from, "mint", to, amount)
}
