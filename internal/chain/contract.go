package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lsdlabs/lsdctl/internal/logging"
)

// Contract is an ABI bound to an address on a Client
type Contract struct {
	Name    string
	Address common.Address
	ABI     abi.ABI

	client *Client
	bound  *bind.BoundContract
	// extra ABIs consulted when decoding reverts (e.g. the implementation behind a proxy)
	errorABIs []abi.ABI
}

// Bind attaches an ABI to a deployed address
func (c *Client) Bind(name string, addr common.Address, parsed abi.ABI, errorABIs ...abi.ABI) (*Contract, error) {
	backend, err := c.live()
	if err != nil {
		return nil, err
	}
	return &Contract{
		Name:      name,
		Address:   addr,
		ABI:       parsed,
		client:    c,
		bound:     bind.NewBoundContract(addr, parsed, backend, backend, backend),
		errorABIs: errorABIs,
	}, nil
}

// Client returns the client the contract is bound on
func (k *Contract) Client() *Client {
	return k.client
}

func (k *Contract) abis() []abi.ABI {
	return append([]abi.ABI{k.ABI}, k.errorABIs...)
}

// Call runs a view method and returns its unpacked outputs
func (k *Contract) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	var out []any
	err := k.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...)
	if err != nil {
		err = WrapRevert(err, k.abis()...)
		if re, ok := AsRevert(err); ok {
			k.client.metrics.RecordRevert(re.Name)
		}
		return nil, fmt.Errorf("%s.%s: %w", k.Name, method, err)
	}
	return out, nil
}

// CallFrom runs a method as a static call from a given sender
func (k *Contract) CallFrom(ctx context.Context, from common.Address, method string, args ...any) ([]any, error) {
	var out []any
	err := k.bound.Call(&bind.CallOpts{Context: ctx, From: from}, &out, method, args...)
	if err != nil {
		err = WrapRevert(err, k.abis()...)
		return nil, fmt.Errorf("%s.%s: %w", k.Name, method, err)
	}
	return out, nil
}

// Transact sends a method call from a loaded signer and waits for it
func (k *Contract) Transact(ctx context.Context, from common.Address, method string, args ...any) (*types.Receipt, error) {
	input, err := k.ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: failed to pack arguments: %w", k.Name, method, err)
	}
	return k.send(ctx, from, method, input, nil)
}

// TransactValue is Transact with attached native value
func (k *Contract) TransactValue(ctx context.Context, from common.Address, value *big.Int, method string, args ...any) (*types.Receipt, error) {
	input, err := k.ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: failed to pack arguments: %w", k.Name, method, err)
	}
	return k.send(ctx, from, method, input, value)
}

// TransactRaw sends pre-encoded calldata
func (k *Contract) TransactRaw(ctx context.Context, from common.Address, calldata []byte) (*types.Receipt, error) {
	label := "raw"
	if len(calldata) >= 4 {
		if m, err := k.ABI.MethodById(calldata[:4]); err == nil {
			label = m.Name
		}
	}
	return k.send(ctx, from, label, calldata, nil)
}

func (k *Contract) send(ctx context.Context, from common.Address, label string, input []byte, value *big.Int) (*types.Receipt, error) {
	to := k.Address
	tx, err := k.client.sendTx(ctx, from, &to, input, value, k.abis())
	if err != nil {
		k.client.metrics.RecordTransaction(label, "error")
		return nil, fmt.Errorf("%s.%s: %w", k.Name, label, err)
	}

	logging.Debug("transaction sent",
		logging.Contract(k.Name),
		"method", label,
		logging.TxHash(tx.Hash()),
		"from", from.Hex())

	receipt, err := k.client.WaitMined(ctx, tx)
	if err != nil {
		k.client.metrics.RecordTransaction(label, "failed")
		if receipt != nil {
			err = k.client.explainFailure(ctx, from, &to, input, value, receipt, err, k.abis())
		}
		return receipt, fmt.Errorf("%s.%s: %w", k.Name, label, err)
	}
	k.client.metrics.RecordTransaction(label, "mined")
	return receipt, nil
}

// Deploy sends a creation transaction and waits for the contract to exist
func (c *Client) Deploy(ctx context.Context, from common.Address, name string, parsed abi.ABI, bytecode []byte, args ...any) (common.Address, *types.Receipt, error) {
	ctorArgs, err := parsed.Pack("", args...)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("deploy %s: failed to pack constructor arguments: %w", name, err)
	}
	input := append(append([]byte{}, bytecode...), ctorArgs...)

	tx, err := c.sendTx(ctx, from, nil, input, nil, []abi.ABI{parsed})
	if err != nil {
		c.metrics.RecordTransaction("deploy", "error")
		return common.Address{}, nil, fmt.Errorf("deploy %s: %w", name, err)
	}

	receipt, err := c.WaitMined(ctx, tx)
	if err != nil {
		c.metrics.RecordTransaction("deploy", "failed")
		return common.Address{}, receipt, fmt.Errorf("deploy %s: %w", name, err)
	}

	code, err := c.CodeAt(ctx, receipt.ContractAddress)
	if err != nil {
		return common.Address{}, receipt, fmt.Errorf("deploy %s: %w", name, err)
	}
	if len(code) == 0 {
		return common.Address{}, receipt, fmt.Errorf("deploy %s: %w", name, bind.ErrNoCodeAfterDeploy)
	}

	c.metrics.RecordTransaction("deploy", "mined")
	logging.Info("contract deployed",
		logging.Contract(name),
		logging.Address(receipt.ContractAddress),
		logging.TxHash(tx.Hash()),
		logging.Network(c.config.Network))
	return receipt.ContractAddress, receipt, nil
}

// sendTx estimates, signs and sends a legacy transaction
func (c *Client) sendTx(ctx context.Context, from common.Address, to *common.Address, input []byte, value *big.Int, abis []abi.ABI) (*types.Transaction, error) {
	backend, err := c.live()
	if err != nil {
		return nil, err
	}
	opts, err := c.TransactOpts(ctx, from)
	if err != nil {
		return nil, err
	}
	if value == nil {
		value = new(big.Int)
	}

	gas, err := c.EstimateGas(ctx, ethereum.CallMsg{
		From:     from,
		To:       to,
		GasPrice: opts.GasPrice,
		Value:    value,
		Data:     input,
	})
	if err != nil {
		err = WrapRevert(err, abis...)
		if re, ok := AsRevert(err); ok {
			c.metrics.RecordRevert(re.Name)
		}
		return nil, err
	}

	nonce, err := c.nextNonce(ctx, from)
	if err != nil {
		return nil, err
	}

	var tx *types.Transaction
	if to == nil {
		tx = types.NewContractCreation(nonce, value, gas, opts.GasPrice, input)
	} else {
		tx = types.NewTransaction(nonce, *to, value, gas, opts.GasPrice, input)
	}
	signed, err := opts.Signer(from, tx)
	if err != nil {
		c.SyncNonce(from)
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		c.SyncNonce(from)
		return nil, WrapRevert(err, abis...)
	}
	return signed, nil
}

// explainFailure replays a failed transaction as a call to recover its revert reason
func (c *Client) explainFailure(ctx context.Context, from common.Address, to *common.Address, input []byte, value *big.Int, receipt *types.Receipt, cause error, abis []abi.ABI) error {
	backend, err := c.live()
	if err != nil {
		return cause
	}
	var block *big.Int
	if receipt.BlockNumber != nil && receipt.BlockNumber.Sign() > 0 {
		block = new(big.Int).Sub(receipt.BlockNumber, big.NewInt(1))
	}
	_, callErr := backend.CallContract(ctx, ethereum.CallMsg{From: from, To: to, Value: value, Data: input}, block)
	if re, ok := AsRevert(callErr, abis...); ok {
		c.metrics.RecordRevert(re.Name)
		return fmt.Errorf("%w: %w", cause, re)
	}
	return cause
}

// CallRaw runs an eth_call with attached value and returns the raw output
func (c *Client) CallRaw(ctx context.Context, from, to common.Address, value *big.Int, input []byte, abis ...abi.ABI) ([]byte, error) {
	backend, err := c.live()
	if err != nil {
		return nil, err
	}
	out, err := backend.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: input}, nil)
	if err != nil {
		err = WrapRevert(err, abis...)
		if re, ok := AsRevert(err); ok {
			c.metrics.RecordRevert(re.Name)
		}
		return nil, err
	}
	return out, nil
}
