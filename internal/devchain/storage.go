package devchain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// slots is the storage of one contract as seen by solidity
type slots interface {
	sload(slot common.Hash) common.Hash
	sstore(slot, value common.Hash)
}

func slotAdd(base common.Hash, n uint64) common.Hash {
	v := new(big.Int).Add(base.Big(), new(big.Int).SetUint64(n))
	return common.BigToHash(v)
}

// mappingSlot locates mapping[key] for a mapping declared at slot
func mappingSlot(key, slot common.Hash) common.Hash {
	return crypto.Keccak256Hash(key[:], slot[:])
}

func addressWord(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

func wordAddress(w common.Hash) common.Address {
	return common.BytesToAddress(w[12:])
}

func boolWord(b bool) common.Hash {
	if b {
		return common.BigToHash(big.NewInt(1))
	}
	return common.Hash{}
}

// readPacked reads a value of size bytes stored offset bytes from the
// low end of the slot
func readPacked(s slots, slot common.Hash, offset, size int) *big.Int {
	w := s.sload(slot)
	return new(big.Int).SetBytes(w[32-offset-size : 32-offset])
}

func writePacked(s slots, slot common.Hash, offset, size int, v *big.Int) {
	w := s.sload(slot)
	b := common.LeftPadBytes(v.Bytes(), size)
	copy(w[32-offset-size:32-offset], b[len(b)-size:])
	s.sstore(slot, w)
}

// readString decodes a string or bytes value in both the short (< 32
// bytes, inline) and the long (length word plus data at keccak(slot)) form
func readString(s slots, slot common.Hash) string {
	w := s.sload(slot)
	if w[31]&1 == 0 {
		n := int(w[31] / 2)
		return string(w[:n])
	}
	length := int(new(big.Int).Rsh(w.Big(), 1).Uint64())
	data := crypto.Keccak256Hash(slot[:])
	out := make([]byte, 0, length+32)
	for i := uint64(0); len(out) < length; i++ {
		word := s.sload(slotAdd(data, i))
		out = append(out, word[:]...)
	}
	return string(out[:length])
}

func writeString(s slots, slot common.Hash, v string) {
	clearString(s, slot)
	b := []byte(v)
	if len(b) < 32 {
		var w common.Hash
		copy(w[:], b)
		w[31] = byte(len(b) * 2)
		s.sstore(slot, w)
		return
	}
	s.sstore(slot, common.BigToHash(big.NewInt(int64(len(b)*2+1))))
	data := crypto.Keccak256Hash(slot[:])
	for i := 0; i*32 < len(b); i++ {
		var w common.Hash
		copy(w[:], b[i*32:])
		s.sstore(slotAdd(data, uint64(i)), w)
	}
}

func clearString(s slots, slot common.Hash) {
	w := s.sload(slot)
	if w[31]&1 == 0 {
		return
	}
	length := new(big.Int).Rsh(w.Big(), 1).Uint64()
	data := crypto.Keccak256Hash(slot[:])
	for i := uint64(0); i*32 < length; i++ {
		s.sstore(slotAdd(data, i), common.Hash{})
	}
}

// readAddresses decodes an address[] whose length lives at slot
func readAddresses(s slots, slot common.Hash) []common.Address {
	n := s.sload(slot).Big().Uint64()
	data := crypto.Keccak256Hash(slot[:])
	out := make([]common.Address, 0, n)
	for i := uint64(0); i < n; i++ {
		out = append(out, wordAddress(s.sload(slotAdd(data, i))))
	}
	return out
}

func writeAddresses(s slots, slot common.Hash, addrs []common.Address) {
	old := s.sload(slot).Big().Uint64()
	data := crypto.Keccak256Hash(slot[:])
	for i := uint64(len(addrs)); i < old; i++ {
		s.sstore(slotAdd(data, i), common.Hash{})
	}
	s.sstore(slot, common.BigToHash(new(big.Int).SetUint64(uint64(len(addrs)))))
	for i, a := range addrs {
		s.sstore(slotAdd(data, uint64(i)), addressWord(a))
	}
}
