package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const errorsABI = `[
	{"inputs":[],"name":"NotOwner","type":"error"},
	{"inputs":[{"internalType":"uint256","name":"have","type":"uint256"},{"internalType":"uint256","name":"want","type":"uint256"}],"name":"InsufficientDelay","type":"error"}
]`

func mustABI(t *testing.T, raw string) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("failed to parse abi: %v", err)
	}
	return parsed
}

// dataError mimics the error type returned by go-ethereum's RPC client
type dataError struct {
	msg  string
	data interface{}
}

func (e *dataError) Error() string          { return e.msg }
func (e *dataError) ErrorData() interface{} { return e.data }

func TestDecodeRevert_ReasonString(t *testing.T) {
	re := NewRevert("TimelockController: operation is not ready")
	if re.Name != "Error" {
		t.Errorf("Name: got %q", re.Name)
	}
	want := "reverted with reason string 'TimelockController: operation is not ready'"
	if re.Reason != want {
		t.Errorf("Reason: got %q, want %q", re.Reason, want)
	}
	if hexutil.Encode(re.Data[:4]) != "0x08c379a0" {
		t.Errorf("selector: got %s", hexutil.Encode(re.Data[:4]))
	}

	again := DecodeRevert(re.Data)
	if again.Reason != want {
		t.Errorf("decoding packed data: got %q", again.Reason)
	}
}

func TestDecodeRevert_Panic(t *testing.T) {
	re := NewPanic(0x11)
	if re.Name != "Panic" {
		t.Errorf("Name: got %q", re.Name)
	}
	if !strings.Contains(re.Reason, "0x11") || !strings.Contains(re.Reason, "overflowed") {
		t.Errorf("Reason: got %q", re.Reason)
	}
}

func TestRevertError_Message(t *testing.T) {
	re := NewRevert("Ownable: caller is not the owner")
	if got := re.Message(); got != "Ownable: caller is not the owner" {
		t.Errorf("reason string message: got %q", got)
	}
	if got := DecodeRevert(re.Data).Message(); got != "Ownable: caller is not the owner" {
		t.Errorf("decoded message: got %q", got)
	}

	p := NewPanic(0x11)
	if p.Message() != p.Reason {
		t.Errorf("panic message should fall back to Reason, got %q", p.Message())
	}
	if got := DecodeRevert(nil).Message(); got != "reverted without a reason" {
		t.Errorf("empty revert message: got %q", got)
	}
}

func TestDecodeRevert_CustomError(t *testing.T) {
	parsed := mustABI(t, errorsABI)

	re := NewCustomError(parsed.Errors["NotOwner"])
	if re.Reason != "reverted with custom error 'NotOwner()'" {
		t.Errorf("Reason: got %q", re.Reason)
	}
	if len(re.Data) != 4 {
		t.Errorf("NotOwner() data should be the bare selector, got %d bytes", len(re.Data))
	}

	decoded := DecodeRevert(re.Data, parsed)
	if decoded.Name != "NotOwner" {
		t.Errorf("decoded name: got %q", decoded.Name)
	}

	withArgs := NewCustomError(parsed.Errors["InsufficientDelay"], big.NewInt(1), big.NewInt(100))
	decoded = DecodeRevert(withArgs.Data, parsed)
	if decoded.Signature() != "InsufficientDelay(1, 100)" {
		t.Errorf("Signature: got %q", decoded.Signature())
	}

	unknown := DecodeRevert(re.Data)
	if unknown.Name != "" || !strings.Contains(unknown.Reason, "unrecognized") {
		t.Errorf("without the abi the error should be unrecognized, got %+v", unknown)
	}
}

func TestDecodeRevert_Empty(t *testing.T) {
	re := DecodeRevert(nil)
	if re.Reason != "reverted without a reason" {
		t.Errorf("Reason: got %q", re.Reason)
	}
}

func TestRevertData_FromRPCError(t *testing.T) {
	parsed := mustABI(t, errorsABI)
	notOwner := parsed.Errors["NotOwner"]
	selector := hexutil.Encode(notOwner.ID[:4])

	err := fmt.Errorf("estimate: %w", &dataError{msg: "execution reverted", data: selector})
	data, ok := RevertData(err)
	if !ok || hexutil.Encode(data) != selector {
		t.Fatalf("RevertData: got %x, %v", data, ok)
	}

	re, ok := AsRevert(err, parsed)
	if !ok {
		t.Fatal("AsRevert should find the revert")
	}
	if !errors.Is(re, &RevertError{Name: "NotOwner"}) {
		t.Errorf("errors.Is by name failed for %v", re)
	}
	if errors.Is(re, &RevertError{Name: "Error"}) {
		t.Error("errors.Is should not match a different name")
	}
}

func TestWrapRevert_PassesThroughPlainErrors(t *testing.T) {
	plain := errors.New("connection refused")
	if got := WrapRevert(plain); got != plain {
		t.Errorf("plain errors should pass through, got %v", got)
	}
	if _, ok := AsRevert(plain); ok {
		t.Error("plain error should not be a revert")
	}
}

func TestRevertError_ErrorData(t *testing.T) {
	re := NewRevert("x")
	if re.ErrorCode() != 3 {
		t.Errorf("ErrorCode: got %d", re.ErrorCode())
	}
	if re.ErrorData().(string) != hexutil.Encode(re.Data) {
		t.Error("ErrorData should be the hex payload")
	}
	if !strings.HasPrefix(re.Error(), "execution reverted: ") {
		t.Errorf("Error: got %q", re.Error())
	}
}
