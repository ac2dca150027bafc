package devchain

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/lsdlabs/lsdctl/internal/artifacts"
	"github.com/lsdlabs/lsdctl/internal/chain"
	"github.com/lsdlabs/lsdctl/internal/contracts"
	"github.com/lsdlabs/lsdctl/internal/logging"
	"github.com/lsdlabs/lsdctl/internal/metrics"
)

// Defaults match the hardhat network
const (
	DefaultChainID  = 31337
	DefaultGasLimit = 30_000_000
)

var (
	// DefaultBalance funds every dev account
	DefaultBalance = new(big.Int).Mul(big.NewInt(10000), big.NewInt(params.Ether))

	// DefaultGasPrice is the price suggested to clients
	DefaultGasPrice = big.NewInt(params.GWei)

	coinbase = common.HexToAddress("0xc014ba5ec014ba5ec014ba5ec014ba5ec014ba5e")
)

// Transaction validation errors, worded as go-ethereum words them
var (
	ErrInvalidChainID    = errors.New("invalid chain id for signer")
	ErrInvalidSender     = errors.New("invalid sender")
	ErrNonceTooLow       = errors.New("nonce too low")
	ErrNonceTooHigh      = errors.New("nonce too high")
	ErrInsufficientFunds = errors.New("insufficient funds for gas * price + value")
	ErrIntrinsicGas      = errors.New("intrinsic gas too low")
	ErrGasLimit          = errors.New("exceeds block gas limit")
	ErrOutOfGas          = errors.New("out of gas")
	ErrUnknownBlock      = errors.New("unknown block")
)

// Config configures a Chain
type Config struct {
	ChainID  int64
	Accounts []common.Address
	Balance  *big.Int
	GasPrice *big.Int
	GasLimit uint64
	// Store resolves creation code to artifacts. Builtin artifacts are
	// registered into it when missing.
	Store   *artifacts.Store
	Metrics *metrics.PrometheusCollector
	// Now is the wall clock, replaced in tests
	Now func() time.Time
}

type block struct {
	header   *types.Header
	txs      types.Transactions
	receipts types.Receipts
	state    *state
}

type txLookup struct {
	tx    *types.Transaction
	block uint64
}

// Chain is an in-process, automining chain executing contract models
type Chain struct {
	mu       sync.RWMutex
	chainID  *big.Int
	signer   types.Signer
	gasPrice *big.Int
	gasLimit uint64
	store    *artifacts.Store
	models   *registry
	metrics  *metrics.PrometheusCollector
	now      func() time.Time

	blocks     []*block
	txs        map[common.Hash]txLookup
	timeOffset int64
	nextTime   uint64

	logFeed event.Feed
}

// New creates a chain with a genesis block funding cfg.Accounts
func New(cfg Config) *Chain {
	if cfg.ChainID == 0 {
		cfg.ChainID = DefaultChainID
	}
	if cfg.Balance == nil {
		cfg.Balance = DefaultBalance
	}
	if cfg.GasPrice == nil {
		cfg.GasPrice = DefaultGasPrice
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = DefaultGasLimit
	}
	if cfg.Store == nil {
		cfg.Store = artifacts.NewStore("")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	contracts.RegisterBuiltins(cfg.Store)

	c := &Chain{
		chainID:  big.NewInt(cfg.ChainID),
		gasPrice: new(big.Int).Set(cfg.GasPrice),
		gasLimit: cfg.GasLimit,
		store:    cfg.Store,
		models:   newRegistry(),
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		txs:      make(map[common.Hash]txLookup),
	}
	c.signer = types.LatestSignerForChainID(c.chainID)

	genesis := newState()
	for _, a := range cfg.Accounts {
		genesis.addBalance(a, cfg.Balance)
	}
	header := &types.Header{
		ParentHash:  common.Hash{},
		UncleHash:   types.EmptyUncleHash,
		Coinbase:    coinbase,
		Root:        genesis.root(),
		TxHash:      types.EmptyTxsHash,
		ReceiptHash: types.EmptyReceiptsHash,
		Difficulty:  new(big.Int),
		Number:      new(big.Int),
		GasLimit:    c.gasLimit,
		Time:        uint64(c.now().Unix()),
		Extra:       []byte{},
	}
	c.blocks = append(c.blocks, &block{header: header, state: genesis})

	logging.Debug("devchain genesis",
		"chain_id", cfg.ChainID,
		"accounts", len(cfg.Accounts),
		logging.Component("devchain"))
	return c
}

// ChainIDValue returns the chain id without a context
func (c *Chain) ChainIDValue() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Chain) head() *block {
	return c.blocks[len(c.blocks)-1]
}

// blockAt resolves nil and negative numbers (latest, pending) to the head
func (c *Chain) blockAt(number *big.Int) (*block, error) {
	if number == nil || number.Sign() < 0 {
		return c.head(), nil
	}
	if !number.IsUint64() || number.Uint64() >= uint64(len(c.blocks)) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBlock, number)
	}
	return c.blocks[number.Uint64()], nil
}

func (c *Chain) blockByHash(hash common.Hash) (*block, error) {
	for i := len(c.blocks) - 1; i >= 0; i-- {
		if c.blocks[i].header.Hash() == hash {
			return c.blocks[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownBlock, hash.Hex())
}

// nextBlockTime is the timestamp the next mined block will carry
func (c *Chain) nextBlockTime() uint64 {
	parent := c.head().header.Time
	if c.nextTime > parent {
		return c.nextTime
	}
	t := c.now().Unix() + c.timeOffset
	if t <= int64(parent) {
		return parent + 1
	}
	return uint64(t)
}

func (c *Chain) pendingContext() blockContext {
	return blockContext{
		number:   c.head().header.Number.Uint64() + 1,
		time:     c.nextBlockTime(),
		coinbase: coinbase,
		gasLimit: c.gasLimit,
	}
}

// matchCreation finds the artifact whose creation code prefixes input. The
// longest match wins; the remainder is the constructor arguments.
func (c *Chain) matchCreation(input []byte) (*artifacts.Artifact, []byte, error) {
	var (
		best    *artifacts.Artifact
		bestLen int
	)
	for _, a := range c.store.All() {
		if a.IsAbstract() || a.HasLinkReferences() {
			continue
		}
		code, err := a.CreationCode()
		if err != nil || len(code) == 0 || len(code) <= bestLen {
			continue
		}
		if bytes.HasPrefix(input, code) {
			best, bestLen = a, len(code)
		}
	}
	if best == nil {
		return nil, nil, chain.NewRevert("lsdctl devchain: creation code matches no known artifact")
	}
	return best, input[bestLen:], nil
}

// message is a transaction or call to execute
type message struct {
	from     common.Address
	to       *common.Address
	nonce    uint64
	value    *big.Int
	data     []byte
	gas      uint64
	gasPrice *big.Int
}

type result struct {
	ret      []byte
	err      error
	gasUsed  uint64
	logs     []*types.Log
	contract common.Address
}

// apply executes msg on st. Gas is bought and refunded when charge is set,
// which is the case for mined transactions only.
func (c *Chain) apply(st *state, ctx blockContext, msg message, charge bool) (*state, *result) {
	ex := &execution{chain: c, state: st, block: ctx, origin: msg.from}
	res := &result{}
	create := msg.to == nil
	intrinsic := intrinsicGas(msg.data, create)

	price := msg.gasPrice
	if price == nil || !charge {
		price = new(big.Int)
	}
	fee := new(big.Int).Mul(new(big.Int).SetUint64(msg.gas), price)
	if charge {
		ex.state.subBalance(msg.from, fee)
		ex.state.getOrNew(msg.from).nonce++
	}

	snap := ex.snapshot()
	if create {
		res.contract, res.err = ex.create(msg.from, msg.nonce, msg.value, msg.data)
	} else {
		res.ret, res.err = ex.call(msg.from, *msg.to, msg.value, msg.data)
	}
	res.gasUsed = intrinsic + ex.gas
	if res.err == nil && res.gasUsed > msg.gas {
		res.err = ErrOutOfGas
	}
	if res.err != nil {
		ex.restore(snap)
		if errors.Is(res.err, ErrOutOfGas) {
			res.gasUsed = msg.gas
		}
	}
	if res.gasUsed > msg.gas {
		res.gasUsed = msg.gas
	}
	if charge {
		refund := new(big.Int).Mul(new(big.Int).SetUint64(msg.gas-res.gasUsed), price)
		ex.state.addBalance(msg.from, refund)
		ex.state.addBalance(ctx.coinbase, new(big.Int).Mul(new(big.Int).SetUint64(res.gasUsed), price))
	}
	res.logs = ex.logs
	return ex.state, res
}

// Call executes msg read-only against the state after block number
func (c *Chain) Call(msg ethereum.CallMsg, number *big.Int) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	b, err := c.blockAt(number)
	if err != nil {
		return nil, err
	}
	ctx := blockContext{number: b.header.Number.Uint64(), time: b.header.Time, coinbase: coinbase, gasLimit: c.gasLimit}
	if number == nil {
		ctx = c.pendingContext()
	}
	_, res := c.apply(b.state.copy(), ctx, c.callMessage(msg, b.state), false)
	if res.err != nil {
		return nil, res.err
	}
	return res.ret, nil
}

// EstimateGas dry-runs msg on a copy of the head state
func (c *Chain) EstimateGas(msg ethereum.CallMsg) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	head := c.head().state
	m := c.callMessage(msg, head)
	_, res := c.apply(head.copy(), c.pendingContext(), m, false)
	if res.err != nil {
		return 0, res.err
	}
	return res.gasUsed, nil
}

func (c *Chain) callMessage(msg ethereum.CallMsg, st *state) message {
	gas := msg.Gas
	if gas == 0 {
		gas = c.gasLimit
	}
	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}
	return message{
		from:     msg.From,
		to:       msg.To,
		nonce:    st.nonce(msg.From),
		value:    value,
		data:     msg.Data,
		gas:      gas,
		gasPrice: msg.GasPrice,
	}
}

// SendTransaction validates a signed transaction and mines it in its own block
func (c *Chain) SendTransaction(tx *types.Transaction) error {
	c.mu.Lock()
	logs, err := c.sendLocked(tx)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if len(logs) > 0 {
		c.logFeed.Send(logs)
	}
	return nil
}

func (c *Chain) sendLocked(tx *types.Transaction) ([]*types.Log, error) {
	if tx.ChainId().Sign() != 0 && tx.ChainId().Cmp(c.chainID) != 0 {
		return nil, fmt.Errorf("%w: have %s want %s", ErrInvalidChainID, tx.ChainId(), c.chainID)
	}
	from, err := types.Sender(c.signer, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSender, err)
	}
	if _, ok := c.txs[tx.Hash()]; ok {
		return nil, fmt.Errorf("known transaction: %s", tx.Hash().Hex())
	}

	head := c.head().state
	nonce := head.nonce(from)
	switch {
	case tx.Nonce() < nonce:
		return nil, fmt.Errorf("%w: address %s, tx: %d state: %d", ErrNonceTooLow, from.Hex(), tx.Nonce(), nonce)
	case tx.Nonce() > nonce:
		return nil, fmt.Errorf("%w: address %s, tx: %d state: %d", ErrNonceTooHigh, from.Hex(), tx.Nonce(), nonce)
	}
	if tx.Gas() > c.gasLimit {
		return nil, ErrGasLimit
	}
	if intrinsic := intrinsicGas(tx.Data(), tx.To() == nil); tx.Gas() < intrinsic {
		return nil, fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGas, tx.Gas(), intrinsic)
	}
	price := tx.GasPrice()
	cost := new(big.Int).Add(new(big.Int).Mul(new(big.Int).SetUint64(tx.Gas()), price), tx.Value())
	if have := head.balance(from); have.Cmp(cost) < 0 {
		return nil, fmt.Errorf("%w: address %s have %s want %s", ErrInsufficientFunds, from.Hex(), have, cost)
	}

	ctx := c.pendingContext()
	post, res := c.apply(head.copy(), ctx, message{
		from:     from,
		to:       tx.To(),
		nonce:    tx.Nonce(),
		value:    tx.Value(),
		data:     tx.Data(),
		gas:      tx.Gas(),
		gasPrice: price,
	}, true)

	receipt := &types.Receipt{
		Type:              tx.Type(),
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: res.gasUsed,
		GasUsed:           res.gasUsed,
		EffectiveGasPrice: price,
		Logs:              res.logs,
		TxHash:            tx.Hash(),
		TransactionIndex:  0,
	}
	if res.err != nil {
		receipt.Status = types.ReceiptStatusFailed
		receipt.Logs = []*types.Log{}
		logging.Debug("devchain transaction reverted",
			logging.TxHash(tx.Hash()),
			logging.Err(res.err),
			logging.Component("devchain"))
	} else if tx.To() == nil {
		receipt.ContractAddress = res.contract
	}
	if receipt.Logs == nil {
		receipt.Logs = []*types.Log{}
	}
	receipt.Bloom = types.CreateBloom(types.Receipts{receipt})

	b := c.mine(ctx, post, types.Transactions{tx}, types.Receipts{receipt})
	c.txs[tx.Hash()] = txLookup{tx: tx, block: b.header.Number.Uint64()}
	return receipt.Logs, nil
}

// mine seals a block on top of the head. Callers hold c.mu.
func (c *Chain) mine(ctx blockContext, post *state, txs types.Transactions, receipts types.Receipts) *block {
	parent := c.head()
	var used uint64
	for _, r := range receipts {
		used += r.GasUsed
	}
	header := &types.Header{
		ParentHash:  parent.header.Hash(),
		UncleHash:   types.EmptyUncleHash,
		Coinbase:    ctx.coinbase,
		Root:        post.root(),
		TxHash:      types.DeriveSha(txs, trie.NewStackTrie(nil)),
		ReceiptHash: types.DeriveSha(receipts, trie.NewStackTrie(nil)),
		Bloom:       types.CreateBloom(receipts),
		Difficulty:  new(big.Int),
		Number:      new(big.Int).SetUint64(ctx.number),
		GasLimit:    c.gasLimit,
		GasUsed:     used,
		Time:        ctx.time,
		Extra:       []byte{},
	}
	hash := header.Hash()

	var logIndex uint
	for i, r := range receipts {
		r.BlockHash = hash
		r.BlockNumber = new(big.Int).Set(header.Number)
		r.TransactionIndex = uint(i)
		for _, l := range r.Logs {
			l.BlockNumber = ctx.number
			l.BlockHash = hash
			l.TxHash = r.TxHash
			l.TxIndex = uint(i)
			l.Index = logIndex
			logIndex++
		}
	}

	b := &block{header: header, txs: txs, receipts: receipts, state: post}
	c.blocks = append(c.blocks, b)
	c.nextTime = 0
	c.metrics.SetBlockNumber(ctx.number)
	return b
}

// IncreaseTimeBy moves the clock used for future blocks forward and returns
// the total adjustment in seconds. The next block is at least seconds past
// the head, even when automined blocks already ran ahead of the wall clock.
func (c *Chain) IncreaseTimeBy(seconds uint64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeOffset += int64(seconds)
	if t := c.head().header.Time + seconds; t > c.nextTime {
		c.nextTime = t
	}
	logging.Debug("devchain time increased", "seconds", seconds, "offset", c.timeOffset, logging.Component("devchain"))
	return c.timeOffset
}

// SetNextBlockTimestamp pins the timestamp of the next block
func (c *Chain) SetNextBlockTimestamp(ts uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if parent := c.head().header.Time; ts <= parent {
		return fmt.Errorf("timestamp %d is lower than or equal to previous block's timestamp %d", ts, parent)
	}
	c.nextTime = ts
	c.timeOffset = int64(ts) - c.now().Unix()
	return nil
}

// MineBlock seals an empty block
func (c *Chain) MineBlock() *types.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.mine(c.pendingContext(), c.head().state.copy(), types.Transactions{}, types.Receipts{})
	return types.CopyHeader(b.header)
}

// Logs returns the logs matching q
func (c *Chain) Logs(q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var blocks []*block
	if q.BlockHash != nil {
		b, err := c.blockByHash(*q.BlockHash)
		if err != nil {
			return nil, err
		}
		blocks = []*block{b}
	} else {
		from := uint64(0)
		if q.FromBlock != nil && q.FromBlock.Sign() >= 0 {
			from = q.FromBlock.Uint64()
		}
		to := c.head().header.Number.Uint64()
		if q.ToBlock != nil && q.ToBlock.Sign() >= 0 && q.ToBlock.Uint64() < to {
			to = q.ToBlock.Uint64()
		}
		for n := from; n <= to && n < uint64(len(c.blocks)); n++ {
			blocks = append(blocks, c.blocks[n])
		}
	}

	out := []types.Log{}
	for _, b := range blocks {
		for _, r := range b.receipts {
			for _, l := range r.Logs {
				if matchLog(q, l) {
					out = append(out, *l)
				}
			}
		}
	}
	return out, nil
}

func matchLog(q ethereum.FilterQuery, l *types.Log) bool {
	if len(q.Addresses) > 0 {
		found := false
		for _, a := range q.Addresses {
			if a == l.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for i, set := range q.Topics {
		if len(set) == 0 {
			continue
		}
		if i >= len(l.Topics) {
			return false
		}
		found := false
		for _, t := range set {
			if t == l.Topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SubscribeLogs delivers logs of future blocks matching q to ch
func (c *Chain) SubscribeLogs(q ethereum.FilterQuery, ch chan<- types.Log) event.Subscription {
	sink := make(chan []*types.Log, 16)
	sub := c.logFeed.Subscribe(sink)
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case logs := <-sink:
				for _, l := range logs {
					if !matchLog(q, l) {
						continue
					}
					select {
					case ch <- *l:
					case <-quit:
						return nil
					}
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	})
}

// Receipt returns the receipt of a mined transaction
func (c *Chain) Receipt(hash common.Hash) (*types.Receipt, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lookup, ok := c.txs[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	for _, r := range c.blocks[lookup.block].receipts {
		if r.TxHash == hash {
			return r, nil
		}
	}
	return nil, ethereum.NotFound
}

// Transaction returns a mined transaction with its block
func (c *Chain) Transaction(hash common.Hash) (*types.Transaction, *types.Header, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lookup, ok := c.txs[hash]
	if !ok {
		return nil, nil, ethereum.NotFound
	}
	return lookup.tx, types.CopyHeader(c.blocks[lookup.block].header), nil
}

// Header returns the header of block number, or the head for nil
func (c *Chain) Header(number *big.Int) (*types.Header, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, err := c.blockAt(number)
	if err != nil {
		return nil, err
	}
	return types.CopyHeader(b.header), nil
}

// HeaderByHash returns the header with the given hash
func (c *Chain) HeaderByHash(hash common.Hash) (*types.Header, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, err := c.blockByHash(hash)
	if err != nil {
		return nil, err
	}
	return types.CopyHeader(b.header), nil
}

// BlockTransactions returns the transactions mined in block number
func (c *Chain) BlockTransactions(number uint64) (types.Transactions, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if number >= uint64(len(c.blocks)) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBlock, number)
	}
	return c.blocks[number].txs, nil
}

// Head returns the latest block number
func (c *Chain) Head() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head().header.Number.Uint64()
}

// GasPrice is the price suggested to clients
func (c *Chain) GasPrice() *big.Int {
	return new(big.Int).Set(c.gasPrice)
}

func (c *Chain) stateAt(number *big.Int) (*state, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, err := c.blockAt(number)
	if err != nil {
		return nil, err
	}
	return b.state, nil
}

// Balance returns the balance of addr after block number
func (c *Chain) Balance(addr common.Address, number *big.Int) (*big.Int, error) {
	st, err := c.stateAt(number)
	if err != nil {
		return nil, err
	}
	return st.balance(addr), nil
}

// Nonce returns the nonce of addr after block number
func (c *Chain) Nonce(addr common.Address, number *big.Int) (uint64, error) {
	st, err := c.stateAt(number)
	if err != nil {
		return 0, err
	}
	return st.nonce(addr), nil
}

// Code returns the runtime code at addr after block number
func (c *Chain) Code(addr common.Address, number *big.Int) ([]byte, error) {
	st, err := c.stateAt(number)
	if err != nil {
		return nil, err
	}
	return common.CopyBytes(st.code(addr)), nil
}

// Storage returns one storage slot of addr after block number
func (c *Chain) Storage(addr common.Address, slot common.Hash, number *big.Int) (common.Hash, error) {
	st, err := c.stateAt(number)
	if err != nil {
		return common.Hash{}, err
	}
	return st.load(addr, slot), nil
}

// ModelAt names the contract model running at addr, "" for accounts
// without code
func (c *Chain) ModelAt(addr common.Address) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if a := c.head().state.get(addr); a != nil {
		return a.model
	}
	return ""
}
