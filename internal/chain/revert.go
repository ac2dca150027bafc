package chain

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	errorSelector = crypto.Keccak256([]byte("Error(string)"))[:4]
	panicSelector = crypto.Keccak256([]byte("Panic(uint256)"))[:4]

	stringArgs, _  = abi.NewType("string", "", nil)
	uint256Args, _ = abi.NewType("uint256", "", nil)
)

// panicReasons maps solidity panic codes to their descriptions
var panicReasons = map[uint64]string{
	0x00: "generic compiler panic",
	0x01: "assert(false)",
	0x11: "Arithmetic operation overflowed outside of an unchecked block",
	0x12: "Division or modulo division by zero",
	0x21: "Tried to convert a value into an enum, but the value was too big or negative",
	0x22: "Incorrectly encoded storage byte array",
	0x31: ".pop() was called on an empty array",
	0x32: "Array accessed at an out-of-bounds or negative index",
	0x41: "Too much memory was allocated, or an array was created that is too large",
	0x51: "Called a zero-initialized variable of internal function type",
}

// RevertError is a reverted call or transaction with its decoded reason
type RevertError struct {
	// Data is the raw revert payload
	Data []byte
	// Name is "Error", "Panic", a custom error name, or "" when undecoded
	Name string
	// Args holds the decoded error arguments
	Args []any
	// Reason is the human readable description
	Reason string
}

// Message returns the string of an Error(string) revert, or Reason for
// panics and custom errors
func (e *RevertError) Message() string {
	if e.Name == "Error" && len(e.Args) == 1 {
		if msg, ok := e.Args[0].(string); ok {
			return msg
		}
	}
	return e.Reason
}

func (e *RevertError) Error() string {
	return "execution reverted: " + e.Reason
}

// ErrorCode makes the error carry the standard revert code over JSON-RPC
func (e *RevertError) ErrorCode() int { return 3 }

// ErrorData returns the hex revert payload, as go-ethereum RPC errors do
func (e *RevertError) ErrorData() interface{} {
	return hexutil.Encode(e.Data)
}

// Is matches custom errors by name: errors.Is(err, &RevertError{Name: "NotOwner"})
func (e *RevertError) Is(target error) bool {
	t, ok := target.(*RevertError)
	if !ok {
		return false
	}
	if t.Name != "" {
		return t.Name == e.Name
	}
	return bytes.Equal(t.Data, e.Data)
}

// Signature renders the custom error as Name(arg, ...)
func (e *RevertError) Signature() string {
	parts := make([]string, len(e.Args))
	for i, a := range e.Args {
		parts[i] = formatArg(a)
	}
	return e.Name + "(" + strings.Join(parts, ", ") + ")"
}

// NewRevert builds an Error(string) revert
func NewRevert(reason string) *RevertError {
	packed, _ := abi.Arguments{{Type: stringArgs}}.Pack(reason)
	data := append(append([]byte{}, errorSelector...), packed...)
	return DecodeRevert(data)
}

// NewPanic builds a Panic(uint256) revert
func NewPanic(code uint64) *RevertError {
	packed, _ := abi.Arguments{{Type: uint256Args}}.Pack(new(big.Int).SetUint64(code))
	data := append(append([]byte{}, panicSelector...), packed...)
	return DecodeRevert(data)
}

// NewCustomError builds a revert carrying an ABI custom error
func NewCustomError(e abi.Error, args ...any) *RevertError {
	packed, err := e.Inputs.Pack(args...)
	if err != nil {
		return &RevertError{Name: e.Name, Reason: fmt.Sprintf("reverted with custom error '%s' (bad args: %v)", e.Name, err)}
	}
	data := append(append([]byte{}, e.ID[:4]...), packed...)
	return &RevertError{
		Data:   data,
		Name:   e.Name,
		Args:   args,
		Reason: fmt.Sprintf("reverted with custom error '%s'", (&RevertError{Name: e.Name, Args: args}).Signature()),
	}
}

// DecodeRevert decodes Error(string), Panic(uint256) and any custom error
// declared in the given ABIs.
func DecodeRevert(data []byte, abis ...abi.ABI) *RevertError {
	e := &RevertError{Data: data}
	if len(data) == 0 {
		e.Reason = "reverted without a reason"
		return e
	}
	if len(data) < 4 {
		e.Reason = fmt.Sprintf("reverted with malformed data %s", hexutil.Encode(data))
		return e
	}

	selector := data[:4]
	switch {
	case bytes.Equal(selector, errorSelector):
		vals, err := abi.Arguments{{Type: stringArgs}}.Unpack(data[4:])
		if err == nil && len(vals) == 1 {
			reason, _ := vals[0].(string)
			e.Name = "Error"
			e.Args = []any{reason}
			e.Reason = fmt.Sprintf("reverted with reason string '%s'", reason)
			return e
		}
	case bytes.Equal(selector, panicSelector):
		vals, err := abi.Arguments{{Type: uint256Args}}.Unpack(data[4:])
		if err == nil && len(vals) == 1 {
			code, _ := vals[0].(*big.Int)
			e.Name = "Panic"
			e.Args = []any{code}
			desc := panicReasons[code.Uint64()]
			if desc == "" {
				desc = "unknown panic code"
			}
			e.Reason = fmt.Sprintf("reverted with panic code 0x%x (%s)", code, desc)
			return e
		}
	}

	for _, parsed := range abis {
		for _, custom := range parsed.Errors {
			if !bytes.Equal(custom.ID[:4], selector) {
				continue
			}
			vals, err := custom.Inputs.Unpack(data[4:])
			if err != nil {
				continue
			}
			e.Name = custom.Name
			e.Args = vals
			e.Reason = fmt.Sprintf("reverted with custom error '%s'", e.Signature())
			return e
		}
	}

	e.Reason = fmt.Sprintf("reverted with an unrecognized custom error (selector %s)", hexutil.Encode(selector))
	return e
}

// RevertData extracts revert data from an error returned by a node or the devchain
func RevertData(err error) ([]byte, bool) {
	if err == nil {
		return nil, false
	}
	var re *RevertError
	if errors.As(err, &re) {
		return re.Data, true
	}
	var de rpc.DataError
	if !errors.As(err, &de) {
		return nil, false
	}
	switch v := de.ErrorData().(type) {
	case string:
		data, err := hexutil.Decode(v)
		if err != nil {
			return nil, false
		}
		return data, true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

// WrapRevert turns an error carrying revert data into a decoded RevertError
// and returns other errors unchanged.
func WrapRevert(err error, abis ...abi.ABI) error {
	var re *RevertError
	if errors.As(err, &re) && re.Name != "" {
		return err
	}
	data, ok := RevertData(err)
	if !ok {
		return err
	}
	return DecodeRevert(data, abis...)
}

// AsRevert returns the decoded revert carried by err
func AsRevert(err error, abis ...abi.ABI) (*RevertError, bool) {
	var re *RevertError
	if errors.As(WrapRevert(err, abis...), &re) {
		return re, true
	}
	return nil, false
}

func formatArg(v any) string {
	switch a := v.(type) {
	case common.Address:
		return a.Hex()
	case [32]byte:
		return hexutil.Encode(a[:])
	case []byte:
		return hexutil.Encode(a)
	case string:
		return fmt.Sprintf("%q", a)
	default:
		return fmt.Sprint(a)
	}
}
