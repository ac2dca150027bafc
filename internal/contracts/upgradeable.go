package contracts

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lsdlabs/lsdctl/internal/chain"
)

// ERC-1967 storage slots
var (
	// ImplementationSlot is bytes32(uint256(keccak256("eip1967.proxy.implementation")) - 1)
	ImplementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")

	// AdminSlot is bytes32(uint256(keccak256("eip1967.proxy.admin")) - 1)
	AdminSlot = common.HexToHash("0xb53127684a568b3173ae13b9f8a6016e243e63b6e8ee1178d6a717850b5d6103")

	// RollbackSlot is bytes32(uint256(keccak256("eip1967.proxy.rollback")) - 1)
	RollbackSlot = common.HexToHash("0x4910fdfa16fed3260ed0e7147f7cc6da11a60208b5b9406d12a635614ffd9143")
)

// Upgradeable is the UUPS surface shared by every implementation behind an
// ERC1967Proxy
type Upgradeable struct {
	*chain.Contract
}

// NewUpgradeable binds a UUPS contract. parsed should be the full ABI of the
// implementation so custom errors decode.
func NewUpgradeable(c *chain.Client, name string, addr common.Address, parsed abi.ABI, errorABIs ...abi.ABI) (*Upgradeable, error) {
	bound, err := c.Bind(name, addr, parsed, errorABIs...)
	if err != nil {
		return nil, err
	}
	return &Upgradeable{Contract: bound}, nil
}

// Version returns the initializer counter: 0 before initialize, 1 after,
// and n after reinitializer(n)
func (u *Upgradeable) Version(ctx context.Context) (uint8, error) {
	out, err := u.Call(ctx, "version")
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

// Owner returns the account allowed to upgrade
func (u *Upgradeable) Owner(ctx context.Context) (common.Address, error) {
	out, err := u.Call(ctx, "owner")
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// TransferOwnership hands the contract to newOwner
func (u *Upgradeable) TransferOwnership(ctx context.Context, from, newOwner common.Address) (*types.Receipt, error) {
	return u.Transact(ctx, from, "transferOwnership", newOwner)
}

// UpgradeTo points the proxy at a new implementation
func (u *Upgradeable) UpgradeTo(ctx context.Context, from, impl common.Address) (*types.Receipt, error) {
	return u.Transact(ctx, from, "upgradeTo", impl)
}

// UpgradeToAndCall upgrades and delegatecalls data on the new implementation
func (u *Upgradeable) UpgradeToAndCall(ctx context.Context, from, impl common.Address, data []byte) (*types.Receipt, error) {
	return u.Transact(ctx, from, "upgradeToAndCall", impl, data)
}

// ProxiableUUID returns the slot a UUPS implementation upgrades; callable on
// implementations only
func (u *Upgradeable) ProxiableUUID(ctx context.Context) (common.Hash, error) {
	out, err := u.Call(ctx, "proxiableUUID")
	if err != nil {
		return common.Hash{}, err
	}
	return common.Hash(*abi.ConvertType(out[0], new([32]byte)).(*[32]byte)), nil
}

// Implementation reads the ERC-1967 implementation slot of the proxy
func (u *Upgradeable) Implementation(ctx context.Context) (common.Address, error) {
	return ImplementationAt(ctx, u.Client(), u.Address)
}

// ImplementationAt reads the ERC-1967 implementation slot of any proxy
func ImplementationAt(ctx context.Context, c *chain.Client, proxy common.Address) (common.Address, error) {
	word, err := c.StorageAt(ctx, proxy, ImplementationSlot)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to read implementation slot of %s: %w", proxy.Hex(), err)
	}
	return common.BytesToAddress(word[12:]), nil
}

// EncodeUpgradeTo encodes upgradeTo(impl)
func EncodeUpgradeTo(impl common.Address) ([]byte, error) {
	return UpgradeableABI.Pack("upgradeTo", impl)
}

// EncodeUpgradeToAndCall encodes upgradeToAndCall(impl, data)
func EncodeUpgradeToAndCall(impl common.Address, data []byte) ([]byte, error) {
	return UpgradeableABI.Pack("upgradeToAndCall", impl, data)
}
