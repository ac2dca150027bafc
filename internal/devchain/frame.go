package devchain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lsdlabs/lsdctl/internal/artifacts"
	"github.com/lsdlabs/lsdctl/internal/chain"
)

// frame is one call executing a model. self owns the storage and balance,
// code is the account whose code runs; they differ under delegatecall.
type frame struct {
	ex     *execution
	model  *model
	self   common.Address
	code   common.Address
	sender common.Address
	value  *big.Int
}

func (f *frame) sload(slot common.Hash) common.Hash {
	f.ex.gas += gasSload
	return f.ex.state.load(f.self, slot)
}

func (f *frame) sstore(slot, value common.Hash) {
	if f.ex.state.load(f.self, slot) == (common.Hash{}) && value != (common.Hash{}) {
		f.ex.gas += gasSstoreSet
	} else {
		f.ex.gas += gasSstoreReset
	}
	f.ex.state.store(f.self, slot, value)
}

func (f *frame) item(label string) artifacts.StorageItem {
	it, ok := f.model.items[label]
	if !ok {
		panic(fmt.Sprintf("no storage variable %q", label))
	}
	return it
}

func (f *frame) slot(label string) common.Hash {
	return common.BigToHash(f.item(label).SlotInt())
}

func (f *frame) getUint(label string) *big.Int {
	return f.sload(f.slot(label)).Big()
}

func (f *frame) setUint(label string, v *big.Int) {
	f.sstore(f.slot(label), common.BigToHash(v))
}

func (f *frame) getAddress(label string) common.Address {
	it := f.item(label)
	return common.BigToAddress(readPacked(f, f.slot(label), it.Offset, common.AddressLength))
}

func (f *frame) setAddress(label string, a common.Address) {
	it := f.item(label)
	writePacked(f, f.slot(label), it.Offset, common.AddressLength, new(big.Int).SetBytes(a.Bytes()))
}

// getSmall reads a packed value type such as uint8 or bool
func (f *frame) getSmall(label string) uint64 {
	it := f.item(label)
	return readPacked(f, f.slot(label), it.Offset, f.model.layout.Size(it.Type)).Uint64()
}

func (f *frame) setSmall(label string, v uint64) {
	it := f.item(label)
	writePacked(f, f.slot(label), it.Offset, f.model.layout.Size(it.Type), new(big.Int).SetUint64(v))
}

func (f *frame) getString(label string) string {
	return readString(f, f.slot(label))
}

func (f *frame) setString(label, v string) {
	writeString(f, f.slot(label), v)
}

func (f *frame) getAddresses(label string) []common.Address {
	return readAddresses(f, f.slot(label))
}

func (f *frame) setAddresses(label string, addrs []common.Address) {
	writeAddresses(f, f.slot(label), addrs)
}

// mapSlot resolves label[keys[0]][keys[1]]...
func (f *frame) mapSlot(label string, keys ...common.Hash) common.Hash {
	s := f.slot(label)
	for _, k := range keys {
		s = mappingSlot(k, s)
	}
	return s
}

func (f *frame) now() uint64 {
	return f.ex.block.time
}

func (f *frame) isContract(addr common.Address) bool {
	return len(f.ex.state.code(addr)) > 0
}

func (f *frame) call(to common.Address, value *big.Int, input []byte) ([]byte, error) {
	return f.ex.call(f.self, to, value, input)
}

func (f *frame) delegate(codeAddr common.Address, input []byte) ([]byte, error) {
	return f.ex.delegateCall(f, codeAddr, input)
}

// revert returns an Error(string) revert
func (f *frame) revert(reason string) error {
	return chain.NewRevert(reason)
}

// fail returns a custom error declared in the model's ABI
func (f *frame) fail(name string, args ...any) error {
	e, ok := f.model.abi.Errors[name]
	if !ok {
		panic(fmt.Sprintf("undeclared error %s", name))
	}
	return chain.NewCustomError(e, args...)
}

// emit logs an event declared in the model's ABI from f.self
func (f *frame) emit(name string, args ...any) error {
	ev, ok := f.model.abi.Events[name]
	if !ok {
		panic(fmt.Sprintf("undeclared event %s", name))
	}
	if len(args) != len(ev.Inputs) {
		panic(fmt.Sprintf("event %s takes %d arguments, got %d", name, len(ev.Inputs), len(args)))
	}

	topics := []common.Hash{ev.ID}
	var plain []any
	for i, in := range ev.Inputs {
		if in.Indexed {
			topics = append(topics, topicFor(args[i]))
		} else {
			plain = append(plain, args[i])
		}
	}
	data, err := ev.Inputs.NonIndexed().Pack(plain...)
	if err != nil {
		return fmt.Errorf("failed to pack %s: %w", name, err)
	}
	f.ex.emit(f.self, topics, data)
	return nil
}

func topicFor(v any) common.Hash {
	switch a := v.(type) {
	case common.Address:
		return addressWord(a)
	case common.Hash:
		return a
	case [32]byte:
		return common.Hash(a)
	case *big.Int:
		return common.BigToHash(a)
	case uint8:
		return common.BigToHash(big.NewInt(int64(a)))
	case bool:
		return boolWord(a)
	default:
		panic(fmt.Sprintf("unsupported indexed argument %T", v))
	}
}

func ret(vals ...any) []any {
	return vals
}
