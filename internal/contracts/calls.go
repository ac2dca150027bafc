package contracts

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lsdlabs/lsdctl/internal/chain"
)

func callAddress(ctx context.Context, k *chain.Contract, method string, args ...any) (common.Address, error) {
	out, err := k.Call(ctx, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

func callAddresses(ctx context.Context, k *chain.Contract, method string, args ...any) ([]common.Address, error) {
	out, err := k.Call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new([]common.Address)).(*[]common.Address), nil
}

func callBig(ctx context.Context, k *chain.Contract, method string, args ...any) (*big.Int, error) {
	out, err := k.Call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func callBool(ctx context.Context, k *chain.Contract, method string, args ...any) (bool, error) {
	out, err := k.Call(ctx, method, args...)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func callHash(ctx context.Context, k *chain.Contract, method string, args ...any) (common.Hash, error) {
	out, err := k.Call(ctx, method, args...)
	if err != nil {
		return common.Hash{}, err
	}
	return common.Hash(*abi.ConvertType(out[0], new([32]byte)).(*[32]byte)), nil
}

func callString(ctx context.Context, k *chain.Contract, method string, args ...any) (string, error) {
	out, err := k.Call(ctx, method, args...)
	if err != nil {
		return "", err
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}
