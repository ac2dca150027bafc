package timelock

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lsdlabs/lsdctl/internal/upgrades"
)

var (
	addressT, _   = abi.NewType("address", "", nil)
	addressesT, _ = abi.NewType("address[]", "", nil)
	uint256T, _   = abi.NewType("uint256", "", nil)
	uint256sT, _  = abi.NewType("uint256[]", "", nil)
	bytesT, _     = abi.NewType("bytes", "", nil)
	bytesListT, _ = abi.NewType("bytes[]", "", nil)
	bytes32T, _   = abi.NewType("bytes32", "", nil)

	operationArgs = abi.Arguments{{Type: addressT}, {Type: uint256T}, {Type: bytesT}, {Type: bytes32T}, {Type: bytes32T}}
	batchArgs     = abi.Arguments{{Type: addressesT}, {Type: uint256sT}, {Type: bytesListT}, {Type: bytes32T}, {Type: bytes32T}}
)

// Operation is a single call routed through a TimelockController
type Operation struct {
	Target      common.Address
	Value       *big.Int
	Data        []byte
	Predecessor common.Hash
	Salt        common.Hash
}

func (o Operation) value() *big.Int {
	if o.Value == nil {
		return new(big.Int)
	}
	return o.Value
}

// ID is the operation id the timelock derives:
// keccak256(abi.encode(target, value, data, predecessor, salt))
func (o Operation) ID() common.Hash {
	packed, err := operationArgs.Pack(o.Target, o.value(), o.Data, [32]byte(o.Predecessor), [32]byte(o.Salt))
	if err != nil {
		// static types only, Pack cannot fail
		panic(err)
	}
	return crypto.Keccak256Hash(packed)
}

// Batch is a group of calls scheduled and executed atomically
type Batch struct {
	Targets     []common.Address
	Values      []*big.Int
	Payloads    [][]byte
	Predecessor common.Hash
	Salt        common.Hash
}

func (b Batch) validate() error {
	if len(b.Targets) == 0 {
		return fmt.Errorf("empty batch")
	}
	if len(b.Targets) != len(b.Values) || len(b.Targets) != len(b.Payloads) {
		return fmt.Errorf("batch length mismatch: %d targets, %d values, %d payloads",
			len(b.Targets), len(b.Values), len(b.Payloads))
	}
	return nil
}

func (b Batch) values() []*big.Int {
	out := make([]*big.Int, len(b.Values))
	for i, v := range b.Values {
		if v == nil {
			v = new(big.Int)
		}
		out[i] = v
	}
	return out
}

// ID is keccak256(abi.encode(targets, values, payloads, predecessor, salt))
func (b Batch) ID() common.Hash {
	packed, err := batchArgs.Pack(b.Targets, b.values(), b.Payloads, [32]byte(b.Predecessor), [32]byte(b.Salt))
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(packed)
}

// Salt encodes s like ethers' encodeBytes32String: at most 31 bytes of
// UTF-8, zero padded on the right. The empty string is the zero salt.
func Salt(s string) (common.Hash, error) {
	var out common.Hash
	if len(s) > 31 {
		return out, fmt.Errorf("salt %q is longer than 31 bytes", s)
	}
	copy(out[:], s)
	return out, nil
}

// UpgradeOperation routes upgradeTo(impl), or upgradeToAndCall(impl,
// initCall) when initCall is set, to proxy
func UpgradeOperation(proxy, impl common.Address, initCall []byte, salt common.Hash) (Operation, error) {
	data, err := upgrades.EncodeUpgradeCall(impl, initCall)
	if err != nil {
		return Operation{}, err
	}
	return Operation{Target: proxy, Value: new(big.Int), Data: data, Salt: salt}, nil
}
