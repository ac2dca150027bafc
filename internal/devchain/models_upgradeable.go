package devchain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/lsdlabs/lsdctl/internal/contracts"
)

var proxiableUUIDSelector = contracts.UpgradeableABI.Methods["proxiableUUID"].ID

func initializedVersion(f *frame) uint8 {
	return uint8(f.getSmall("_initialized"))
}

func isInitializing(f *frame) bool {
	return f.getSmall("_initializing") != 0
}

// initializer runs body under OpenZeppelin's initializer modifier
func initializer(f *frame, body func() error) error {
	top := !isInitializing(f)
	v := initializedVersion(f)
	if !(top && v < 1) && !(!f.isContract(f.self) && v == 1) {
		return f.revert("Initializable: contract is already initialized")
	}
	f.setSmall("_initialized", 1)
	if top {
		f.setSmall("_initializing", 1)
	}
	if err := body(); err != nil {
		return err
	}
	if top {
		f.setSmall("_initializing", 0)
		return f.emit("Initialized", uint8(1))
	}
	return nil
}

// reinitializer runs body under reinitializer(version)
func reinitializer(f *frame, version uint8, body func() error) error {
	if isInitializing(f) || initializedVersion(f) >= version {
		return f.revert("Initializable: contract is already initialized")
	}
	f.setSmall("_initialized", uint64(version))
	f.setSmall("_initializing", 1)
	if err := body(); err != nil {
		return err
	}
	f.setSmall("_initializing", 0)
	return f.emit("Initialized", version)
}

// disableInitializers locks an implementation contract from its constructor
func disableInitializers(f *frame, _ []any) ([]any, error) {
	if isInitializing(f) {
		return nil, f.revert("Initializable: contract is initializing")
	}
	if initializedVersion(f) != 255 {
		f.setSmall("_initialized", 255)
		if err := f.emit("Initialized", uint8(255)); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func implementationOf(f *frame, proxy common.Address) common.Address {
	return wordAddress(f.ex.state.load(proxy, contracts.ImplementationSlot))
}

func onlyProxy(f *frame) error {
	if f.self == f.code {
		return f.revert("Function must be called through delegatecall")
	}
	if implementationOf(f, f.self) != f.code {
		return f.revert("Function must be called through active proxy")
	}
	return nil
}

// setImplementation stores the ERC1967 implementation and runs data in its
// context
func setImplementation(f *frame, impl common.Address, data []byte, forceCall bool) error {
	if !f.isContract(impl) {
		return f.revert("ERC1967: new implementation is not a contract")
	}
	f.sstore(contracts.ImplementationSlot, addressWord(impl))
	if err := f.emit("Upgraded", impl); err != nil {
		return err
	}
	if len(data) > 0 || forceCall {
		if _, err := f.delegate(impl, data); err != nil {
			return err
		}
	}
	return nil
}

// upgradeToAndCallUUPS checks the new implementation is UUPS before switching
func upgradeToAndCallUUPS(f *frame, impl common.Address, data []byte, forceCall bool) error {
	if !f.isContract(impl) {
		return f.revert("ERC1967: new implementation is not a contract")
	}
	out, err := f.call(impl, nil, proxiableUUIDSelector)
	if err != nil || len(out) != 32 {
		return f.revert("ERC1967Upgrade: new implementation is not UUPS")
	}
	if common.BytesToHash(out) != contracts.ImplementationSlot {
		return f.revert("ERC1967Upgrade: unsupported proxiableUUID")
	}
	return setImplementation(f, impl, data, forceCall)
}

// uupsMethods is the UUPSUpgradeable surface. authorize is the contract's
// _authorizeUpgrade.
func uupsMethods(authorize func(f *frame) error) map[string]handler {
	return map[string]handler{
		"version": func(f *frame, _ []any) ([]any, error) {
			return ret(initializedVersion(f)), nil
		},
		"proxiableUUID": func(f *frame, _ []any) ([]any, error) {
			if f.self != f.code {
				return nil, f.revert("UUPSUpgradeable: must not be called through delegatecall")
			}
			return ret(contracts.ImplementationSlot), nil
		},
		"upgradeTo": func(f *frame, args []any) ([]any, error) {
			if err := onlyProxy(f); err != nil {
				return nil, err
			}
			if err := authorize(f); err != nil {
				return nil, err
			}
			return nil, upgradeToAndCallUUPS(f, args[0].(common.Address), nil, false)
		},
		"upgradeToAndCall": func(f *frame, args []any) ([]any, error) {
			if err := onlyProxy(f); err != nil {
				return nil, err
			}
			if err := authorize(f); err != nil {
				return nil, err
			}
			return nil, upgradeToAndCallUUPS(f, args[0].(common.Address), args[1].([]byte), true)
		},
	}
}

func transferOwner(f *frame, newOwner common.Address) error {
	old := f.getAddress("_owner")
	f.setAddress("_owner", newOwner)
	return f.emit("OwnershipTransferred", old, newOwner)
}

// ozOnlyOwner is OwnableUpgradeable's onlyOwner
func ozOnlyOwner(f *frame) error {
	if f.getAddress("_owner") != f.sender {
		return f.revert("Ownable: caller is not the owner")
	}
	return nil
}

func ozOwnableMethods() map[string]handler {
	return map[string]handler{
		"owner": func(f *frame, _ []any) ([]any, error) {
			return ret(f.getAddress("_owner")), nil
		},
		"renounceOwnership": func(f *frame, _ []any) ([]any, error) {
			if err := ozOnlyOwner(f); err != nil {
				return nil, err
			}
			return nil, transferOwner(f, common.Address{})
		},
		"transferOwnership": func(f *frame, args []any) ([]any, error) {
			if err := ozOnlyOwner(f); err != nil {
				return nil, err
			}
			newOwner := args[0].(common.Address)
			if newOwner == (common.Address{}) {
				return nil, f.revert("Ownable: new owner is the zero address")
			}
			return nil, transferOwner(f, newOwner)
		},
	}
}

// stakeOnlyOwner guards the staking contracts with the NotOwner() error
func stakeOnlyOwner(f *frame) error {
	if f.getAddress("_owner") != f.sender {
		return f.fail("NotOwner")
	}
	return nil
}

func stakeOwnerMethods() map[string]handler {
	return map[string]handler{
		"owner": func(f *frame, _ []any) ([]any, error) {
			return ret(f.getAddress("_owner")), nil
		},
		"transferOwnership": func(f *frame, args []any) ([]any, error) {
			if err := stakeOnlyOwner(f); err != nil {
				return nil, err
			}
			newOwner := args[0].(common.Address)
			if newOwner == (common.Address{}) {
				return nil, f.fail("AddressNotAllowed")
			}
			return nil, transferOwner(f, newOwner)
		},
	}
}

// addressGetters builds view functions returning stored addresses by label
func addressGetters(labels ...string) map[string]handler {
	out := make(map[string]handler, len(labels))
	for _, label := range labels {
		label := label
		out[label] = func(f *frame, _ []any) ([]any, error) {
			return ret(f.getAddress(label)), nil
		}
	}
	return out
}

func uintGetters(labels ...string) map[string]handler {
	out := make(map[string]handler, len(labels))
	for _, label := range labels {
		label := label
		out[label] = func(f *frame, _ []any) ([]any, error) {
			return ret(f.getUint(label)), nil
		}
	}
	return out
}
