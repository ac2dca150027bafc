package devchain

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type memSlots map[common.Hash]common.Hash

func (m memSlots) sload(slot common.Hash) common.Hash { return m[slot] }

func (m memSlots) sstore(slot, value common.Hash) {
	if value == (common.Hash{}) {
		delete(m, slot)
		return
	}
	m[slot] = value
}

func TestStringShortForm(t *testing.T) {
	s := memSlots{}
	slot := common.BigToHash(big.NewInt(3))
	writeString(s, slot, "Mars")

	w := s[slot]
	if w[31] != 8 {
		t.Errorf("length byte: got %d, want 8", w[31])
	}
	if string(w[:4]) != "Mars" {
		t.Errorf("inline data: got %q", w[:4])
	}
	if got := readString(s, slot); got != "Mars" {
		t.Errorf("readString: got %q", got)
	}
	if len(s) != 1 {
		t.Errorf("short string used %d slots", len(s))
	}
}

func TestStringLongForm(t *testing.T) {
	s := memSlots{}
	slot := common.BigToHash(big.NewInt(7))
	long := strings.Repeat("this is a v2 variable ", 4)
	writeString(s, slot, long)

	if got := s[slot].Big().Int64(); got != int64(len(long)*2+1) {
		t.Errorf("length word: got %d, want %d", got, len(long)*2+1)
	}
	data := crypto.Keccak256Hash(slot[:])
	if s[data] == (common.Hash{}) {
		t.Error("first data word not written")
	}
	if got := readString(s, slot); got != long {
		t.Errorf("readString: got %q", got)
	}

	// shrinking back to the short form clears the data words
	writeString(s, slot, "v2")
	if got := readString(s, slot); got != "v2" {
		t.Errorf("readString after shrink: got %q", got)
	}
	if len(s) != 1 {
		t.Errorf("stale data words left: %d slots in use", len(s))
	}
}

func TestAddressArray(t *testing.T) {
	s := memSlots{}
	slot := common.BigToHash(big.NewInt(5))
	a := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	b := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	writeAddresses(s, slot, []common.Address{a, b})
	got := readAddresses(s, slot)
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Fatalf("readAddresses: got %v", got)
	}

	writeAddresses(s, slot, []common.Address{b})
	got = readAddresses(s, slot)
	if len(got) != 1 || got[0] != b {
		t.Errorf("after shrink: got %v", got)
	}
	if _, ok := s[slotAdd(crypto.Keccak256Hash(slot[:]), 1)]; ok {
		t.Error("removed element still stored")
	}
}

func TestPackedValues(t *testing.T) {
	s := memSlots{}
	slot := common.Hash{}
	owner := common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")

	// Initializable packs _initialized and _initializing into slot 0
	writePacked(s, slot, 0, 1, big.NewInt(1))
	writePacked(s, slot, 1, 1, big.NewInt(1))
	writePacked(s, slot, 2, 20, owner.Big())

	if got := readPacked(s, slot, 0, 1).Int64(); got != 1 {
		t.Errorf("_initialized: got %d", got)
	}
	if got := readPacked(s, slot, 1, 1).Int64(); got != 1 {
		t.Errorf("_initializing: got %d", got)
	}
	if got := common.BigToAddress(readPacked(s, slot, 2, 20)); got != owner {
		t.Errorf("packed address: got %s", got.Hex())
	}

	writePacked(s, slot, 1, 1, big.NewInt(0))
	if got := readPacked(s, slot, 0, 1).Int64(); got != 1 {
		t.Errorf("neighbour clobbered: got %d", got)
	}
	if got := readPacked(s, slot, 1, 1).Int64(); got != 0 {
		t.Errorf("_initializing not cleared: got %d", got)
	}
}

func TestMappingSlot(t *testing.T) {
	key := addressWord(common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"))
	slot := common.BigToHash(big.NewInt(0))
	want := crypto.Keccak256Hash(append(key.Bytes(), slot.Bytes()...))
	if got := mappingSlot(key, slot); got != want {
		t.Errorf("got %s, want %s", got.Hex(), want.Hex())
	}
}
