package devchain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lsdlabs/lsdctl/internal/chain"
	"github.com/lsdlabs/lsdctl/internal/identity"
)

// Backend exposes a Chain through the context-taking interfaces of
// go-ethereum's bind package, as an ethclient would
type Backend struct {
	chain *Chain
}

var (
	_ chain.Backend      = (*Backend)(nil)
	_ chain.TimeTraveler = (*Backend)(nil)
)

// Backend returns the bind-compatible view of the chain
func (c *Chain) Backend() *Backend {
	return &Backend{chain: c}
}

// NewClient wraps the chain in a client that signs for accounts
func (c *Chain) NewClient(network string, accounts []identity.Account) *chain.Client {
	client := chain.NewWithBackend(&chain.Config{Network: network, ChainID: c.chainID.Int64()}, c.Backend())
	client.SetMetrics(c.metrics)
	for _, a := range accounts {
		client.AddSigner(a.PrivateKey)
	}
	return client
}

// Chain returns the underlying chain
func (b *Backend) Chain() *Chain {
	return b.chain
}

func (b *Backend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return b.chain.Code(contract, blockNumber)
}

func (b *Backend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return b.chain.Call(call, blockNumber)
}

func (b *Backend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return b.chain.Header(number)
}

func (b *Backend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return b.chain.Code(account, nil)
}

func (b *Backend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return b.chain.Nonce(account, nil)
}

func (b *Backend) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	return b.chain.Nonce(account, blockNumber)
}

func (b *Backend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return b.chain.GasPrice(), nil
}

func (b *Backend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return b.chain.GasPrice(), nil
}

func (b *Backend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return b.chain.EstimateGas(call)
}

func (b *Backend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return b.chain.SendTransaction(tx)
}

func (b *Backend) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return b.chain.Logs(query)
}

func (b *Backend) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return b.chain.SubscribeLogs(query, ch), nil
}

func (b *Backend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return b.chain.Receipt(txHash)
}

func (b *Backend) TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error) {
	tx, _, err := b.chain.Transaction(txHash)
	return tx, false, err
}

func (b *Backend) ChainID(ctx context.Context) (*big.Int, error) {
	return b.chain.ChainIDValue(), nil
}

func (b *Backend) BlockNumber(ctx context.Context) (uint64, error) {
	return b.chain.Head(), nil
}

func (b *Backend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return b.chain.Balance(account, blockNumber)
}

func (b *Backend) StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	v, err := b.chain.Storage(account, key, blockNumber)
	if err != nil {
		return nil, err
	}
	return v.Bytes(), nil
}

// IncreaseTime moves the clock of the next blocks forward
func (b *Backend) IncreaseTime(ctx context.Context, seconds uint64) error {
	b.chain.IncreaseTimeBy(seconds)
	return nil
}

// Mine seals an empty block
func (b *Backend) Mine(ctx context.Context) error {
	b.chain.MineBlock()
	return nil
}
