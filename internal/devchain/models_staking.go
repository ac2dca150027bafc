package devchain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lsdlabs/lsdctl/internal/contracts"
)

const defaultEraSeconds = 86400

// 10% in 1e18 precision
var defaultProtocolFeeCommission = new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil)

func marsModel(v2 bool) *model {
	name := contracts.MarsName
	if v2 {
		name = contracts.MarsV2Name
	}
	methods := merge(uupsMethods(ozOnlyOwner), ozOwnableMethods(), map[string]handler{
		"initialize": func(f *frame, args []any) ([]any, error) {
			return nil, initializer(f, func() error {
				if err := transferOwner(f, f.sender); err != nil {
					return err
				}
				f.setString("name", args[0].(string))
				return nil
			})
		},
		"name": func(f *frame, _ []any) ([]any, error) {
			return ret(f.getString("name")), nil
		},
	})
	if v2 {
		methods["initializev2"] = func(f *frame, args []any) ([]any, error) {
			return nil, reinitializer(f, args[0].(uint8), func() error { return nil })
		}
	}
	return newModel(name, disableInitializers, methods)
}

func bnbStakeManagerModel(v2 bool) *model {
	name := contracts.BnbStakeManagerName
	if v2 {
		name = contracts.BnbStakeManagerV2Name
	}
	methods := merge(
		uupsMethods(stakeOnlyOwner),
		stakeOwnerMethods(),
		addressGetters("lsdToken"),
		uintGetters("eraSeconds", "protocolFeeCommission", "threshold"),
		map[string]handler{
			"initialize": bnbStakeManagerInitialize,
			"getBondedPools": func(f *frame, _ []any) ([]any, error) {
				return ret(f.getAddresses("bondedPools")), nil
			},
			"getVoters": func(f *frame, _ []any) ([]any, error) {
				return ret(f.getAddresses("voters")), nil
			},
			"getValidatorsOf": func(f *frame, args []any) ([]any, error) {
				pool := args[0].(common.Address)
				return ret(readAddresses(f, f.mapSlot("validatorsOf", addressWord(pool)))), nil
			},
			// no unstake is ever recorded, so there is nothing to withdraw
			"withdraw": func(f *frame, _ []any) ([]any, error) {
				return nil, f.fail("ZeroWithdrawAmount")
			},
		},
	)
	if v2 {
		methods["initV2"] = func(f *frame, args []any) ([]any, error) {
			return nil, reinitializer(f, 2, func() error {
				f.setString("v2var", args[0].(string))
				f.setUint("protocolFeeCommission", args[1].(*big.Int))
				return nil
			})
		}
		methods["v2var"] = func(f *frame, _ []any) ([]any, error) {
			return ret(f.getString("v2var")), nil
		}
	}
	return newModel(name, disableInitializers, methods)
}

func bnbStakeManagerInitialize(f *frame, args []any) ([]any, error) {
	voters := args[0].([]common.Address)
	threshold := args[1].(*big.Int)
	lsdToken := args[2].(common.Address)
	pool := args[3].(common.Address)
	validator := args[4].(common.Address)
	owner := args[5].(common.Address)

	return nil, initializer(f, func() error {
		if threshold.Sign() == 0 || threshold.Cmp(big.NewInt(int64(len(voters)))) > 0 {
			return f.fail("ThresholdNotMatch")
		}
		if err := transferOwner(f, owner); err != nil {
			return err
		}
		f.setAddress("lsdToken", lsdToken)
		f.setAddresses("bondedPools", []common.Address{pool})
		f.setUint("eraSeconds", big.NewInt(defaultEraSeconds))
		f.setUint("protocolFeeCommission", defaultProtocolFeeCommission)
		f.setAddresses("voters", voters)
		f.setUint("threshold", threshold)
		writeAddresses(f, f.mapSlot("validatorsOf", addressWord(pool)), []common.Address{validator})
		return nil
	})
}

func bnbStakePoolModel() *model {
	methods := merge(
		uupsMethods(stakeOnlyOwner),
		stakeOwnerMethods(),
		addressGetters("govStaking", "stakeManagerAddress"),
		map[string]handler{
			"initialize": func(f *frame, args []any) ([]any, error) {
				return nil, initializer(f, func() error {
					f.setAddress("govStaking", args[0].(common.Address))
					f.setAddress("stakeManagerAddress", args[1].(common.Address))
					return transferOwner(f, args[2].(common.Address))
				})
			},
		},
	)
	return newModel(contracts.BnbStakePoolName, disableInitializers, methods)
}

// maticLogicModel covers the Matic StakeManager and StakePool templates the
// factory clones from
func maticLogicModel(name string) *model {
	return newModel(name, disableInitializers, uupsMethods(stakeOnlyOwner), stakeOwnerMethods())
}

func onlyFactoryAdmin(f *frame) error {
	if f.getAddress("factoryAdmin") != f.sender {
		return f.fail("NotFactoryAdmin")
	}
	return nil
}

func factoryModel() *model {
	labels := []string{
		"factoryAdmin",
		"govStakeManagerAddress",
		"validatorShareAddress",
		"stakeTokenAddress",
		"stakeManagerLogicAddress",
		"stakePoolLogicAddress",
	}
	methods := merge(
		uupsMethods(onlyFactoryAdmin),
		addressGetters(labels...),
		map[string]handler{
			"initialize": func(f *frame, args []any) ([]any, error) {
				return nil, initializer(f, func() error {
					for i, label := range labels {
						f.setAddress(label, args[i].(common.Address))
					}
					return nil
				})
			},
			"transferFactoryAdmin": func(f *frame, args []any) ([]any, error) {
				if err := onlyFactoryAdmin(f); err != nil {
					return nil, err
				}
				old := f.getAddress("factoryAdmin")
				next := args[0].(common.Address)
				f.setAddress("factoryAdmin", next)
				return nil, f.emit("FactoryAdminTransferred", old, next)
			},
		},
	)
	return newModel(contracts.FactoryName, disableInitializers, methods)
}
