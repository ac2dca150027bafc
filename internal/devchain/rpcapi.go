package devchain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// callArgs is the transaction object of eth_call and eth_estimateGas
type callArgs struct {
	From     *common.Address `json:"from"`
	To       *common.Address `json:"to"`
	Gas      *hexutil.Uint64 `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Value    *hexutil.Big    `json:"value"`
	Data     *hexutil.Bytes  `json:"data"`
	Input    *hexutil.Bytes  `json:"input"`
}

func (a callArgs) message() ethereum.CallMsg {
	var msg ethereum.CallMsg
	if a.From != nil {
		msg.From = *a.From
	}
	msg.To = a.To
	if a.Gas != nil {
		msg.Gas = uint64(*a.Gas)
	}
	if a.GasPrice != nil {
		msg.GasPrice = a.GasPrice.ToInt()
	}
	if a.Value != nil {
		msg.Value = a.Value.ToInt()
	}
	switch {
	case a.Input != nil:
		msg.Data = *a.Input
	case a.Data != nil:
		msg.Data = *a.Data
	}
	return msg
}

// quantity accepts both a JSON number and a hex string
type quantity uint64

func (q *quantity) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var h hexutil.Uint64
		if err := json.Unmarshal(b, &h); err != nil {
			return err
		}
		*q = quantity(h)
		return nil
	}
	var n uint64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid quantity %s", b)
	}
	*q = quantity(n)
	return nil
}

// addressList is a single address or an array of them
type addressList []common.Address

func (l *addressList) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '[' {
		var list []common.Address
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		*l = list
		return nil
	}
	var a common.Address
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*l = addressList{a}
	return nil
}

// topicSet is one position of a topic filter: null, a hash or a list
type topicSet []common.Hash

func (t *topicSet) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '[' {
		var list []*common.Hash
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		for _, h := range list {
			if h != nil {
				*t = append(*t, *h)
			}
		}
		return nil
	}
	var h common.Hash
	if err := json.Unmarshal(b, &h); err != nil {
		return err
	}
	*t = topicSet{h}
	return nil
}

type filterArgs struct {
	BlockHash *common.Hash     `json:"blockHash"`
	FromBlock *rpc.BlockNumber `json:"fromBlock"`
	ToBlock   *rpc.BlockNumber `json:"toBlock"`
	Addresses addressList      `json:"address"`
	Topics    []topicSet       `json:"topics"`
}

// ethAPI serves the eth namespace
type ethAPI struct {
	chain    *Chain
	accounts []common.Address
}

func (api *ethAPI) blockNumber(bnh rpc.BlockNumberOrHash) (*big.Int, error) {
	if hash, ok := bnh.Hash(); ok {
		h, err := api.chain.HeaderByHash(hash)
		if err != nil {
			return nil, err
		}
		return h.Number, nil
	}
	if n, ok := bnh.Number(); ok && n >= 0 {
		return big.NewInt(n.Int64()), nil
	}
	return nil, nil
}

func (api *ethAPI) resolve(n rpc.BlockNumber) uint64 {
	if n < 0 {
		return api.chain.Head()
	}
	return uint64(n)
}

func (api *ethAPI) ChainId() *hexutil.Big {
	return (*hexutil.Big)(api.chain.ChainIDValue())
}

func (api *ethAPI) BlockNumber() hexutil.Uint64 {
	return hexutil.Uint64(api.chain.Head())
}

func (api *ethAPI) Accounts() []common.Address {
	return api.accounts
}

func (api *ethAPI) GasPrice() *hexutil.Big {
	return (*hexutil.Big)(api.chain.GasPrice())
}

func (api *ethAPI) MaxPriorityFeePerGas() *hexutil.Big {
	return (*hexutil.Big)(api.chain.GasPrice())
}

func (api *ethAPI) GetBalance(addr common.Address, bnh rpc.BlockNumberOrHash) (*hexutil.Big, error) {
	n, err := api.blockNumber(bnh)
	if err != nil {
		return nil, err
	}
	b, err := api.chain.Balance(addr, n)
	if err != nil {
		return nil, err
	}
	return (*hexutil.Big)(b), nil
}

func (api *ethAPI) GetCode(addr common.Address, bnh rpc.BlockNumberOrHash) (hexutil.Bytes, error) {
	n, err := api.blockNumber(bnh)
	if err != nil {
		return nil, err
	}
	return api.chain.Code(addr, n)
}

func (api *ethAPI) GetStorageAt(addr common.Address, key common.Hash, bnh rpc.BlockNumberOrHash) (hexutil.Bytes, error) {
	n, err := api.blockNumber(bnh)
	if err != nil {
		return nil, err
	}
	v, err := api.chain.Storage(addr, key, n)
	if err != nil {
		return nil, err
	}
	return v.Bytes(), nil
}

func (api *ethAPI) GetTransactionCount(addr common.Address, bnh rpc.BlockNumberOrHash) (*hexutil.Uint64, error) {
	n, err := api.blockNumber(bnh)
	if err != nil {
		return nil, err
	}
	nonce, err := api.chain.Nonce(addr, n)
	if err != nil {
		return nil, err
	}
	return (*hexutil.Uint64)(&nonce), nil
}

func (api *ethAPI) Call(args callArgs, bnh *rpc.BlockNumberOrHash) (hexutil.Bytes, error) {
	var n *big.Int
	if bnh != nil {
		var err error
		if n, err = api.blockNumber(*bnh); err != nil {
			return nil, err
		}
	}
	return api.chain.Call(args.message(), n)
}

func (api *ethAPI) EstimateGas(args callArgs, bnh *rpc.BlockNumberOrHash) (hexutil.Uint64, error) {
	gas, err := api.chain.EstimateGas(args.message())
	return hexutil.Uint64(gas), err
}

func (api *ethAPI) SendRawTransaction(input hexutil.Bytes) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(input); err != nil {
		return common.Hash{}, err
	}
	if err := api.chain.SendTransaction(tx); err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

func (api *ethAPI) GetTransactionReceipt(hash common.Hash) (*types.Receipt, error) {
	r, err := api.chain.Receipt(hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	return r, err
}

func (api *ethAPI) GetTransactionByHash(hash common.Hash) (map[string]any, error) {
	tx, header, err := api.chain.Transaction(hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return api.txFields(tx, header, 0)
}

func (api *ethAPI) GetBlockByNumber(number rpc.BlockNumber, fullTx bool) (map[string]any, error) {
	header, err := api.chain.Header(big.NewInt(int64(api.resolve(number))))
	if errors.Is(err, ErrUnknownBlock) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return api.blockFields(header, fullTx)
}

func (api *ethAPI) GetBlockByHash(hash common.Hash, fullTx bool) (map[string]any, error) {
	header, err := api.chain.HeaderByHash(hash)
	if errors.Is(err, ErrUnknownBlock) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return api.blockFields(header, fullTx)
}

func (api *ethAPI) GetLogs(args filterArgs) ([]types.Log, error) {
	q := ethereum.FilterQuery{BlockHash: args.BlockHash, Addresses: args.Addresses}
	for _, set := range args.Topics {
		q.Topics = append(q.Topics, []common.Hash(set))
	}
	if args.BlockHash == nil {
		from, to := uint64(0), api.chain.Head()
		if args.FromBlock != nil {
			from = api.resolve(*args.FromBlock)
		}
		if args.ToBlock != nil {
			to = api.resolve(*args.ToBlock)
		}
		q.FromBlock = new(big.Int).SetUint64(from)
		q.ToBlock = new(big.Int).SetUint64(to)
	}
	return api.chain.Logs(q)
}

// Logs serves eth_subscribe("logs")
func (api *ethAPI) Logs(ctx context.Context, args filterArgs) (*rpc.Subscription, error) {
	notifier, ok := rpc.NotifierFromContext(ctx)
	if !ok {
		return nil, rpc.ErrNotificationsUnsupported
	}
	q := ethereum.FilterQuery{Addresses: args.Addresses}
	for _, set := range args.Topics {
		q.Topics = append(q.Topics, []common.Hash(set))
	}
	rpcSub := notifier.CreateSubscription()
	ch := make(chan types.Log, 64)
	sub := api.chain.SubscribeLogs(q, ch)
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case l := <-ch:
				_ = notifier.Notify(rpcSub.ID, l)
			case <-rpcSub.Err():
				return
			case <-sub.Err():
				return
			}
		}
	}()
	return rpcSub, nil
}

func toFields(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func (api *ethAPI) blockFields(header *types.Header, fullTx bool) (map[string]any, error) {
	fields, err := toFields(header)
	if err != nil {
		return nil, err
	}
	txs, err := api.chain.BlockTransactions(header.Number.Uint64())
	if err != nil {
		return nil, err
	}
	list := make([]any, 0, len(txs))
	for i, tx := range txs {
		if !fullTx {
			list = append(list, tx.Hash())
			continue
		}
		txf, err := api.txFields(tx, header, uint64(i))
		if err != nil {
			return nil, err
		}
		list = append(list, txf)
	}
	fields["transactions"] = list
	fields["uncles"] = []common.Hash{}
	fields["totalDifficulty"] = (*hexutil.Big)(new(big.Int))
	return fields, nil
}

func (api *ethAPI) txFields(tx *types.Transaction, header *types.Header, index uint64) (map[string]any, error) {
	fields, err := toFields(tx)
	if err != nil {
		return nil, err
	}
	from, err := types.Sender(api.chain.signer, tx)
	if err != nil {
		return nil, err
	}
	fields["from"] = from
	fields["blockHash"] = header.Hash()
	fields["blockNumber"] = (*hexutil.Big)(header.Number)
	fields["transactionIndex"] = hexutil.Uint64(index)
	return fields, nil
}

// netAPI serves the net namespace
type netAPI struct {
	chain *Chain
}

func (api *netAPI) Version() string {
	return api.chain.ChainIDValue().String()
}

func (api *netAPI) Listening() bool {
	return true
}

func (api *netAPI) PeerCount() hexutil.Uint {
	return 0
}

// web3API serves the web3 namespace
type web3API struct {
	version string
}

func (api *web3API) ClientVersion() string {
	return api.version
}

func (api *web3API) Sha3(input hexutil.Bytes) hexutil.Bytes {
	return crypto.Keccak256(input)
}

// evmAPI serves hardhat's evm namespace for time travel
type evmAPI struct {
	chain *Chain
}

func (api *evmAPI) IncreaseTime(seconds quantity) int64 {
	return api.chain.IncreaseTimeBy(uint64(seconds))
}

func (api *evmAPI) SetNextBlockTimestamp(ts quantity) error {
	return api.chain.SetNextBlockTimestamp(uint64(ts))
}

func (api *evmAPI) Mine(ts *quantity) (string, error) {
	if ts != nil {
		if err := api.chain.SetNextBlockTimestamp(uint64(*ts)); err != nil {
			return "", err
		}
	}
	api.chain.MineBlock()
	return "0x0", nil
}
