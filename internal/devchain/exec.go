package devchain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lsdlabs/lsdctl/internal/chain"
)

// Gas schedule. Models do not meter opcodes, so only the operations that
// dominate real costs are charged.
const (
	gasTx          = 21000
	gasTxCreate    = 32000
	gasDataZero    = 4
	gasDataNonZero = 16
	gasCall        = 700
	gasSload       = 2100
	gasSstoreSet   = 20000
	gasSstoreReset = 2900
	gasLog         = 375
	gasLogTopic    = 375
	gasLogData     = 8
	gasCodeByte    = 200

	maxCallDepth = 1024
)

func intrinsicGas(data []byte, create bool) uint64 {
	gas := uint64(gasTx)
	if create {
		gas += gasTxCreate
	}
	for _, b := range data {
		if b == 0 {
			gas += gasDataZero
		} else {
			gas += gasDataNonZero
		}
	}
	return gas
}

type blockContext struct {
	number   uint64
	time     uint64
	coinbase common.Address
	gasLimit uint64
}

// execution runs one transaction or call against a state
type execution struct {
	chain  *Chain
	state  *state
	block  blockContext
	origin common.Address
	logs   []*types.Log
	gas    uint64
	depth  int
}

type snapshot struct {
	state *state
	logs  int
}

func (ex *execution) snapshot() snapshot {
	return snapshot{state: ex.state.copy(), logs: len(ex.logs)}
}

func (ex *execution) restore(s snapshot) {
	ex.state = s.state
	ex.logs = ex.logs[:s.logs]
}

func (ex *execution) transfer(from, to common.Address, value *big.Int) error {
	if value == nil || value.Sign() == 0 {
		return nil
	}
	if ex.state.balance(from).Cmp(value) < 0 {
		return chain.NewRevert("insufficient balance for transfer")
	}
	ex.state.subBalance(from, value)
	ex.state.addBalance(to, value)
	return nil
}

// call runs input against the code at to, with to's storage
func (ex *execution) call(caller, to common.Address, value *big.Int, input []byte) ([]byte, error) {
	if value == nil {
		value = new(big.Int)
	}
	if ex.depth >= maxCallDepth {
		return nil, chain.NewRevert("max call depth exceeded")
	}
	// the top-level frame is covered by the intrinsic cost
	if ex.depth > 0 {
		ex.gas += gasCall
	}

	snap := ex.snapshot()
	if err := ex.transfer(caller, to, value); err != nil {
		return nil, err
	}
	code := ex.state.get(to)
	if code == nil || len(code.code) == 0 {
		return nil, nil
	}
	m, err := ex.chain.models.lookup(code.model, to)
	if err != nil {
		ex.restore(snap)
		return nil, err
	}

	ex.depth++
	out, err := ex.run(&frame{ex: ex, model: m, self: to, code: to, sender: caller, value: value}, input)
	ex.depth--
	if err != nil {
		ex.restore(snap)
		return nil, err
	}
	return out, nil
}

// delegateCall runs the code at codeAddr in the context of the calling frame
func (ex *execution) delegateCall(f *frame, codeAddr common.Address, input []byte) ([]byte, error) {
	if ex.depth >= maxCallDepth {
		return nil, chain.NewRevert("max call depth exceeded")
	}
	ex.gas += gasCall

	code := ex.state.get(codeAddr)
	if code == nil || len(code.code) == 0 {
		return nil, nil
	}
	m, err := ex.chain.models.lookup(code.model, codeAddr)
	if err != nil {
		return nil, err
	}

	snap := ex.snapshot()
	ex.depth++
	out, err := ex.run(&frame{ex: ex, model: m, self: f.self, code: codeAddr, sender: f.sender, value: f.value}, input)
	ex.depth--
	if err != nil {
		ex.restore(snap)
		return nil, err
	}
	return out, nil
}

// create deploys a contract whose creation code matches a known artifact
func (ex *execution) create(caller common.Address, nonce uint64, value *big.Int, input []byte) (common.Address, error) {
	if value == nil {
		value = new(big.Int)
	}
	addr := crypto.CreateAddress(caller, nonce)

	art, ctorData, err := ex.chain.matchCreation(input)
	if err != nil {
		return addr, err
	}
	m, ok := ex.chain.models.forArtifact(art)
	if !ok {
		return addr, chain.NewRevert(fmt.Sprintf("lsdctl devchain: no model for %s", art.FQN()))
	}
	runtime, err := art.RuntimeCode()
	if err != nil || len(runtime) == 0 {
		return addr, chain.NewRevert(fmt.Sprintf("lsdctl devchain: %s has no deployed bytecode", art.FQN()))
	}
	if existing := ex.state.get(addr); existing != nil && (len(existing.code) > 0 || existing.nonce > 0) {
		return addr, chain.NewRevert("contract address collision")
	}

	snap := ex.snapshot()
	ex.state.getOrNew(addr).nonce = 1
	if err := ex.transfer(caller, addr, value); err != nil {
		ex.restore(snap)
		return addr, err
	}

	ex.depth++
	err = ex.construct(&frame{ex: ex, model: m, self: addr, code: addr, sender: caller, value: value}, ctorData)
	ex.depth--
	if err != nil {
		ex.restore(snap)
		return addr, err
	}

	acct := ex.state.getOrNew(addr)
	acct.code = runtime
	acct.model = m.name
	ex.gas += uint64(gasCodeByte * len(runtime))
	return addr, nil
}

func (ex *execution) construct(f *frame, data []byte) (err error) {
	defer recoverRevert(f, &err)

	m := f.model
	ctor := m.abi.Constructor
	if f.value.Sign() > 0 && !ctor.IsPayable() {
		return chain.DecodeRevert(nil)
	}
	var args []any
	if len(ctor.Inputs) > 0 {
		args, err = ctor.Inputs.Unpack(data)
		if err != nil {
			return chain.NewRevert(fmt.Sprintf("lsdctl devchain: bad constructor arguments for %s: %v", m.name, err))
		}
	}
	if m.ctor == nil {
		return nil
	}
	_, err = m.ctor(f, args)
	return asRevert(err)
}

func (ex *execution) run(f *frame, input []byte) (out []byte, err error) {
	defer recoverRevert(f, &err)

	m := f.model
	if len(input) == 0 && m.receive {
		return nil, nil
	}
	if len(input) < 4 {
		if m.fallback != nil {
			return m.fallback(f, input)
		}
		return nil, chain.DecodeRevert(nil)
	}

	method, err := m.abi.MethodById(input[:4])
	if err != nil {
		if m.fallback != nil {
			return m.fallback(f, input)
		}
		return nil, chain.NewRevert(fmt.Sprintf("lsdctl devchain: %s has no function with selector %s", m.short(), hexutil.Encode(input[:4])))
	}
	h, ok := m.methods[method.Name]
	if !ok {
		if m.fallback != nil {
			return m.fallback(f, input)
		}
		return nil, chain.NewRevert(fmt.Sprintf("lsdctl devchain: %s.%s is not implemented", m.short(), method.Name))
	}
	if f.value.Sign() > 0 && !method.IsPayable() {
		return nil, chain.DecodeRevert(nil)
	}

	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, chain.DecodeRevert(nil)
	}
	results, err := h(f, args)
	if err != nil {
		return nil, asRevert(err)
	}
	return method.Outputs.Pack(results...)
}

func recoverRevert(f *frame, err *error) {
	if r := recover(); r != nil {
		*err = chain.NewRevert(fmt.Sprintf("lsdctl devchain: %s panicked: %v", f.model.short(), r))
	}
}

func asRevert(err error) error {
	if err == nil {
		return nil
	}
	var re *chain.RevertError
	if errors.As(err, &re) {
		return re
	}
	return chain.NewRevert(err.Error())
}

func (ex *execution) emit(addr common.Address, topics []common.Hash, data []byte) {
	ex.gas += gasLog + gasLogTopic*uint64(len(topics)) + gasLogData*uint64(len(data))
	ex.logs = append(ex.logs, &types.Log{
		Address:     addr,
		Topics:      topics,
		Data:        data,
		BlockNumber: ex.block.number,
	})
}
