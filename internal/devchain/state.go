package devchain

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// account is one entry of the world state. Contract accounts carry the
// fully qualified name of the model that executes their code.
type account struct {
	nonce   uint64
	balance *big.Int
	code    []byte
	model   string
	storage map[common.Hash]common.Hash
}

func newAccount() *account {
	return &account{balance: new(big.Int), storage: make(map[common.Hash]common.Hash)}
}

func (a *account) copy() *account {
	c := &account{
		nonce:   a.nonce,
		balance: new(big.Int).Set(a.balance),
		code:    a.code,
		model:   a.model,
		storage: make(map[common.Hash]common.Hash, len(a.storage)),
	}
	for k, v := range a.storage {
		c.storage[k] = v
	}
	return c
}

// state is the world state after some block
type state struct {
	accounts map[common.Address]*account
}

func newState() *state {
	return &state{accounts: make(map[common.Address]*account)}
}

func (s *state) copy() *state {
	c := &state{accounts: make(map[common.Address]*account, len(s.accounts))}
	for addr, a := range s.accounts {
		c.accounts[addr] = a.copy()
	}
	return c
}

func (s *state) get(addr common.Address) *account {
	return s.accounts[addr]
}

func (s *state) getOrNew(addr common.Address) *account {
	a, ok := s.accounts[addr]
	if !ok {
		a = newAccount()
		s.accounts[addr] = a
	}
	return a
}

func (s *state) balance(addr common.Address) *big.Int {
	if a := s.get(addr); a != nil {
		return new(big.Int).Set(a.balance)
	}
	return new(big.Int)
}

func (s *state) nonce(addr common.Address) uint64 {
	if a := s.get(addr); a != nil {
		return a.nonce
	}
	return 0
}

func (s *state) code(addr common.Address) []byte {
	if a := s.get(addr); a != nil {
		return a.code
	}
	return nil
}

func (s *state) load(addr common.Address, slot common.Hash) common.Hash {
	if a := s.get(addr); a != nil {
		return a.storage[slot]
	}
	return common.Hash{}
}

func (s *state) store(addr common.Address, slot, value common.Hash) {
	a := s.getOrNew(addr)
	if value == (common.Hash{}) {
		delete(a.storage, slot)
		return
	}
	a.storage[slot] = value
}

func (s *state) addBalance(addr common.Address, amount *big.Int) {
	a := s.getOrNew(addr)
	a.balance = new(big.Int).Add(a.balance, amount)
}

func (s *state) subBalance(addr common.Address, amount *big.Int) {
	a := s.getOrNew(addr)
	a.balance = new(big.Int).Sub(a.balance, amount)
}

// root is a deterministic digest of the state, standing in for the trie root
func (s *state) root() common.Hash {
	addrs := make([]common.Address, 0, len(s.accounts))
	for addr := range s.accounts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })

	var buf bytes.Buffer
	for _, addr := range addrs {
		a := s.accounts[addr]
		buf.Write(addr[:])
		buf.Write(new(big.Int).SetUint64(a.nonce).Bytes())
		buf.Write(a.balance.Bytes())
		buf.Write(crypto.Keccak256(a.code))

		slots := make([]common.Hash, 0, len(a.storage))
		for k := range a.storage {
			slots = append(slots, k)
		}
		sort.Slice(slots, func(i, j int) bool { return bytes.Compare(slots[i][:], slots[j][:]) < 0 })
		for _, k := range slots {
			v := a.storage[k]
			buf.Write(k[:])
			buf.Write(v[:])
		}
	}
	return crypto.Keccak256Hash(buf.Bytes())
}
