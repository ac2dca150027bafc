package devchain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lsdlabs/lsdctl/internal/contracts"
)

// erc20Methods follows OpenZeppelin's ERC20 v4.9
func erc20Methods() map[string]handler {
	return map[string]handler{
		"name": func(f *frame, _ []any) ([]any, error) {
			return ret(f.getString("_name")), nil
		},
		"symbol": func(f *frame, _ []any) ([]any, error) {
			return ret(f.getString("_symbol")), nil
		},
		"decimals": func(f *frame, _ []any) ([]any, error) {
			return ret(uint8(18)), nil
		},
		"totalSupply": func(f *frame, _ []any) ([]any, error) {
			return ret(f.getUint("_totalSupply")), nil
		},
		"balanceOf": func(f *frame, args []any) ([]any, error) {
			return ret(balanceOf(f, args[0].(common.Address))), nil
		},
		"allowance": func(f *frame, args []any) ([]any, error) {
			return ret(allowance(f, args[0].(common.Address), args[1].(common.Address))), nil
		},
		"approve": func(f *frame, args []any) ([]any, error) {
			if err := approve(f, f.sender, args[0].(common.Address), args[1].(*big.Int)); err != nil {
				return nil, err
			}
			return ret(true), nil
		},
		"transfer": func(f *frame, args []any) ([]any, error) {
			if err := transferTokens(f, f.sender, args[0].(common.Address), args[1].(*big.Int)); err != nil {
				return nil, err
			}
			return ret(true), nil
		},
		"transferFrom": func(f *frame, args []any) ([]any, error) {
			from, to, amount := args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
			current := allowance(f, from, f.sender)
			if current.Cmp(abiMaxUint256) != 0 {
				if current.Cmp(amount) < 0 {
					return nil, f.revert("ERC20: insufficient allowance")
				}
				if err := approve(f, from, f.sender, new(big.Int).Sub(current, amount)); err != nil {
					return nil, err
				}
			}
			if err := transferTokens(f, from, to, amount); err != nil {
				return nil, err
			}
			return ret(true), nil
		},
	}
}

var abiMaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func balanceSlot(f *frame, who common.Address) common.Hash {
	return f.mapSlot("_balances", addressWord(who))
}

func balanceOf(f *frame, who common.Address) *big.Int {
	return f.sload(balanceSlot(f, who)).Big()
}

func allowance(f *frame, owner, spender common.Address) *big.Int {
	return f.sload(f.mapSlot("_allowances", addressWord(owner), addressWord(spender))).Big()
}

func approve(f *frame, owner, spender common.Address, amount *big.Int) error {
	if owner == (common.Address{}) {
		return f.revert("ERC20: approve from the zero address")
	}
	if spender == (common.Address{}) {
		return f.revert("ERC20: approve to the zero address")
	}
	f.sstore(f.mapSlot("_allowances", addressWord(owner), addressWord(spender)), common.BigToHash(amount))
	return f.emit("Approval", owner, spender, amount)
}

func transferTokens(f *frame, from, to common.Address, amount *big.Int) error {
	if from == (common.Address{}) {
		return f.revert("ERC20: transfer from the zero address")
	}
	if to == (common.Address{}) {
		return f.revert("ERC20: transfer to the zero address")
	}
	fromBalance := balanceOf(f, from)
	if fromBalance.Cmp(amount) < 0 {
		return f.revert("ERC20: transfer amount exceeds balance")
	}
	f.sstore(balanceSlot(f, from), common.BigToHash(new(big.Int).Sub(fromBalance, amount)))
	f.sstore(balanceSlot(f, to), common.BigToHash(new(big.Int).Add(balanceOf(f, to), amount)))
	return f.emit("Transfer", from, to, amount)
}

func mintTokens(f *frame, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return f.revert("ERC20: mint to the zero address")
	}
	f.setUint("_totalSupply", new(big.Int).Add(f.getUint("_totalSupply"), amount))
	f.sstore(balanceSlot(f, to), common.BigToHash(new(big.Int).Add(balanceOf(f, to), amount)))
	return f.emit("Transfer", common.Address{}, to, amount)
}

func erc20Model() *model {
	ctor := func(f *frame, args []any) ([]any, error) {
		f.setString("_name", args[0].(string))
		f.setString("_symbol", args[1].(string))
		return nil, nil
	}
	return newModel(contracts.ERC20Name, ctor, erc20Methods())
}

func lsdTokenModel() *model {
	ctor := func(f *frame, args []any) ([]any, error) {
		f.setAddress("minter", args[0].(common.Address))
		f.setString("_name", args[1].(string))
		f.setString("_symbol", args[2].(string))
		return nil, nil
	}
	methods := merge(erc20Methods(), addressGetters("minter"), map[string]handler{
		"mint": func(f *frame, args []any) ([]any, error) {
			if f.sender != f.getAddress("minter") {
				return nil, f.fail("CallerNotAllowed")
			}
			return nil, mintTokens(f, args[0].(common.Address), args[1].(*big.Int))
		},
	})
	return newModel(contracts.LsdTokenName, ctor, methods)
}

// proxyModel is ERC1967Proxy: every call runs the implementation's code
// against the proxy's storage
func proxyModel() *model {
	m := newModel(contracts.ERC1967ProxyName, func(f *frame, args []any) ([]any, error) {
		return nil, setImplementation(f, args[0].(common.Address), args[1].([]byte), false)
	})
	m.receive = false
	m.fallback = func(f *frame, input []byte) ([]byte, error) {
		return f.delegate(implementationOf(f, f.self), input)
	}
	return m
}
