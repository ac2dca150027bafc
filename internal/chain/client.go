package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/lsdlabs/lsdctl/internal/config"
	"github.com/lsdlabs/lsdctl/internal/logging"
	"github.com/lsdlabs/lsdctl/internal/metrics"
	"github.com/lsdlabs/lsdctl/internal/util"
)

var (
	// ErrNotConnected is returned when the client has no backend
	ErrNotConnected = errors.New("not connected")

	// ErrUnknownSigner is returned for addresses without a loaded key
	ErrUnknownSigner = errors.New("no private key loaded for address")

	// ErrTransactionFailed is returned for mined transactions with status 0
	ErrTransactionFailed = errors.New("transaction failed")
)

// Backend is everything lsdctl needs from a node. *ethclient.Client and the
// in-process devchain both satisfy it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
}

// TimeTraveler is implemented by backends that can move the block clock
type TimeTraveler interface {
	IncreaseTime(ctx context.Context, seconds uint64) error
	Mine(ctx context.Context) error
}

// Config holds client settings for one network
type Config struct {
	Network            string
	ChainID            int64
	GasPrice           *big.Int // nil asks the node
	MaxGasPrice        *big.Int
	GasLimitMultiplier float64
	Confirmations      int
	ConfirmationPoll   time.Duration
	Live               bool
	RetryConfig        *util.RetryConfig
}

// ConfigFromNetwork builds a client config from a configured network
func ConfigFromNetwork(name string, n config.NetworkConfig) *Config {
	return &Config{
		Network:            name,
		ChainID:            n.ChainID,
		GasPrice:           n.GasPriceWei(),
		MaxGasPrice:        n.MaxGasPriceWei(),
		GasLimitMultiplier: n.GasLimitMultiplier,
		Confirmations:      n.Confirmations,
		ConfirmationPoll:   2 * time.Second,
		Live:               n.Live,
		RetryConfig:        util.DefaultRetryConfig(),
	}
}

// Client sends calls and signed transactions to a Backend
type Client struct {
	config  *Config
	backend Backend
	rpc     *rpc.Client
	chainID *big.Int
	metrics *metrics.PrometheusCollector

	keysMu sync.RWMutex
	keys   map[common.Address]*ecdsa.PrivateKey
	order  []common.Address

	// Nonce management
	nonceMu sync.Mutex
	nonces  map[common.Address]uint64

	connected bool
	mu        sync.RWMutex
}

// NewWithBackend wraps an already connected backend such as the devchain
func NewWithBackend(cfg *Config, backend Backend) *Client {
	c := newClient(cfg)
	c.backend = backend
	c.connected = true
	return c
}

// Dial connects to an RPC endpoint and verifies the chain id
func Dial(ctx context.Context, cfg *Config, opts DialOptions) (*Client, error) {
	c := newClient(cfg)

	rpcClient, result := util.RetryWithValue(ctx, cfg.RetryConfig, func() (*rpc.Client, error) {
		return dialRPC(ctx, opts)
	})
	if result.LastError != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", logging.RedactURL(opts.URL), result.LastError)
	}
	c.rpc = rpcClient
	c.backend = ethclient.NewClient(rpcClient)
	c.connected = true

	if err := c.verifyChainID(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func newClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{ChainID: config.DevChainID, GasLimitMultiplier: 1}
	}
	if cfg.RetryConfig == nil {
		cfg.RetryConfig = util.DefaultRetryConfig()
	}
	if cfg.GasLimitMultiplier < 1 {
		cfg.GasLimitMultiplier = 1
	}
	if cfg.ConfirmationPoll <= 0 {
		cfg.ConfirmationPoll = 2 * time.Second
	}
	return &Client{
		config:  cfg,
		chainID: big.NewInt(cfg.ChainID),
		keys:    make(map[common.Address]*ecdsa.PrivateKey),
		nonces:  make(map[common.Address]uint64),
	}
}

func (c *Client) verifyChainID(ctx context.Context) error {
	chainID, result := util.RetryWithValue(ctx, c.config.RetryConfig, func() (*big.Int, error) {
		return c.backend.ChainID(ctx)
	})
	if result.LastError != nil {
		return fmt.Errorf("failed to get chain ID: %w", result.LastError)
	}
	if c.config.ChainID != 0 && chainID.Cmp(c.chainID) != 0 {
		return fmt.Errorf("chain ID mismatch: expected %d, got %d", c.chainID, chainID)
	}
	c.chainID = chainID
	return nil
}

// SetMetrics attaches a collector for transaction metrics
func (c *Client) SetMetrics(m *metrics.PrometheusCollector) {
	c.metrics = m
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
	}
	c.connected = false
}

// IsConnected returns true while the backend is usable
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Backend returns the underlying backend
func (c *Client) Backend() Backend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend
}

func (c *Client) live() (Backend, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected || c.backend == nil {
		return nil, ErrNotConnected
	}
	return c.backend, nil
}

// Config returns the client configuration
func (c *Client) Config() *Config {
	return c.config
}

// ChainID returns the chain ID
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// AddSigner loads a private key and returns its address
func (c *Client) AddSigner(key *ecdsa.PrivateKey) common.Address {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	c.keysMu.Lock()
	defer c.keysMu.Unlock()
	if _, exists := c.keys[addr]; !exists {
		c.order = append(c.order, addr)
	}
	c.keys[addr] = key
	return addr
}

// Signers returns the loaded addresses in load order
func (c *Client) Signers() []common.Address {
	c.keysMu.RLock()
	defer c.keysMu.RUnlock()
	return append([]common.Address(nil), c.order...)
}

// Signer returns the i-th loaded address
func (c *Client) Signer(i int) (common.Address, error) {
	c.keysMu.RLock()
	defer c.keysMu.RUnlock()
	if i < 0 || i >= len(c.order) {
		return common.Address{}, fmt.Errorf("%w: index %d (have %d accounts)", ErrUnknownSigner, i, len(c.order))
	}
	return c.order[i], nil
}

// GetBalance returns the native balance of an address
func (c *Client) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	backend, err := c.live()
	if err != nil {
		return nil, err
	}

	balance, result := util.RetryWithValue(ctx, c.config.RetryConfig, func() (*big.Int, error) {
		return backend.BalanceAt(ctx, address, nil)
	})
	if result.LastError != nil {
		return nil, fmt.Errorf("failed to get balance: %w", result.LastError)
	}
	return balance, nil
}

// GetBlockNumber returns the current block number
func (c *Client) GetBlockNumber(ctx context.Context) (uint64, error) {
	backend, err := c.live()
	if err != nil {
		return 0, err
	}
	return backend.BlockNumber(ctx)
}

// StorageAt reads a raw storage slot
func (c *Client) StorageAt(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	backend, err := c.live()
	if err != nil {
		return common.Hash{}, err
	}
	data, err := backend.StorageAt(ctx, addr, slot, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to read storage: %w", err)
	}
	return common.BytesToHash(data), nil
}

// CodeAt returns the deployed code at an address
func (c *Client) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	backend, err := c.live()
	if err != nil {
		return nil, err
	}
	return backend.CodeAt(ctx, addr, nil)
}

// GasPrice returns the configured gas price, or the node's suggestion capped at MaxGasPrice
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	if c.config.GasPrice != nil && c.config.GasPrice.Sign() > 0 {
		return new(big.Int).Set(c.config.GasPrice), nil
	}
	backend, err := c.live()
	if err != nil {
		return nil, err
	}
	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	if c.config.MaxGasPrice != nil && gasPrice.Cmp(c.config.MaxGasPrice) > 0 {
		gasPrice = new(big.Int).Set(c.config.MaxGasPrice)
	}
	return gasPrice, nil
}

// TransactOpts creates signing options for from. Nonce and gas limit are
// filled in by Send.
func (c *Client) TransactOpts(ctx context.Context, from common.Address) (*bind.TransactOpts, error) {
	c.keysMu.RLock()
	key, ok := c.keys[from]
	c.keysMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSigner, from.Hex())
	}

	gasPrice, err := c.GasPrice(ctx)
	if err != nil {
		return nil, err
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	auth.Context = ctx
	// legacy transactions: both BSC and the devchain price gas this way
	auth.GasPrice = gasPrice
	return auth, nil
}

// EstimateGas estimates gas with the configured safety multiplier
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	backend, err := c.live()
	if err != nil {
		return 0, err
	}

	gas, err := backend.EstimateGas(ctx, msg)
	if err != nil {
		return 0, err
	}
	return uint64(float64(gas) * c.config.GasLimitMultiplier), nil
}

func (c *Client) nextNonce(ctx context.Context, from common.Address) (uint64, error) {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	if n, ok := c.nonces[from]; ok {
		c.nonces[from] = n + 1
		return n, nil
	}

	backend, err := c.live()
	if err != nil {
		return 0, err
	}
	n, err := backend.PendingNonceAt(ctx, from)
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce: %w", err)
	}
	c.nonces[from] = n + 1
	return n, nil
}

// SyncNonce drops the cached nonce so the next send asks the node
func (c *Client) SyncNonce(from common.Address) {
	c.nonceMu.Lock()
	delete(c.nonces, from)
	c.nonceMu.Unlock()
}

// WaitMined waits for a transaction to be mined and confirmed
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	backend, err := c.live()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	receipt, err := bind.WaitMined(ctx, backend, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for transaction: %w", err)
	}

	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, fmt.Errorf("%w: %s", ErrTransactionFailed, tx.Hash().Hex())
	}

	if c.config.Confirmations > 0 {
		target := receipt.BlockNumber.Uint64() + uint64(c.config.Confirmations)
		err := util.Poll(ctx, c.config.ConfirmationPoll, func() (bool, error) {
			current, err := backend.BlockNumber(ctx)
			if err != nil {
				return false, nil
			}
			return current >= target, nil
		})
		if err != nil {
			return receipt, err
		}
	}

	c.metrics.RecordConfirmation(time.Since(start))
	return receipt, nil
}

// IncreaseTime moves the block clock forward on dev networks and mines a block
func (c *Client) IncreaseTime(ctx context.Context, seconds uint64) error {
	backend, err := c.live()
	if err != nil {
		return err
	}
	if tt, ok := backend.(TimeTraveler); ok {
		if err := tt.IncreaseTime(ctx, seconds); err != nil {
			return err
		}
		return tt.Mine(ctx)
	}
	if c.config.Live {
		return fmt.Errorf("cannot change block time on live network %s", c.config.Network)
	}

	c.mu.RLock()
	rpcClient := c.rpc
	c.mu.RUnlock()
	if rpcClient == nil {
		return fmt.Errorf("backend does not support time travel")
	}
	if err := rpcClient.CallContext(ctx, nil, "evm_increaseTime", seconds); err != nil {
		return fmt.Errorf("evm_increaseTime: %w", err)
	}
	if err := rpcClient.CallContext(ctx, nil, "evm_mine"); err != nil {
		return fmt.Errorf("evm_mine: %w", err)
	}
	return nil
}

// LatestTimestamp returns the timestamp of the head block
func (c *Client) LatestTimestamp(ctx context.Context) (uint64, error) {
	backend, err := c.live()
	if err != nil {
		return 0, err
	}
	head, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get head: %w", err)
	}
	return head.Time, nil
}
