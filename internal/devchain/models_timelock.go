package devchain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lsdlabs/lsdctl/internal/contracts"
	lsdtypes "github.com/lsdlabs/lsdctl/pkg/types"
)

var (
	abiAddress, _   = abi.NewType("address", "", nil)
	abiAddresses, _ = abi.NewType("address[]", "", nil)
	abiUint256, _   = abi.NewType("uint256", "", nil)
	abiUint256s, _  = abi.NewType("uint256[]", "", nil)
	abiBytes, _     = abi.NewType("bytes", "", nil)
	abiBytesList, _ = abi.NewType("bytes[]", "", nil)
	abiBytes32, _   = abi.NewType("bytes32", "", nil)

	operationArgs      = abi.Arguments{{Type: abiAddress}, {Type: abiUint256}, {Type: abiBytes}, {Type: abiBytes32}, {Type: abiBytes32}}
	operationBatchArgs = abi.Arguments{{Type: abiAddresses}, {Type: abiUint256s}, {Type: abiBytesList}, {Type: abiBytes32}, {Type: abiBytes32}}
)

// interface ids answered by supportsInterface
var (
	ierc165         = [4]byte{0x01, 0xff, 0xc9, 0xa7}
	iaccessControl  = [4]byte{0x79, 0x65, 0xdb, 0x0b}
	ierc1155Receive = [4]byte{0x4e, 0x23, 0x12, 0xe0}
)

func roleBase(f *frame, role common.Hash) common.Hash {
	return f.mapSlot("_roles", role)
}

func hasRole(f *frame, role common.Hash, account common.Address) bool {
	return f.sload(mappingSlot(addressWord(account), roleBase(f, role))) != (common.Hash{})
}

func roleAdmin(f *frame, role common.Hash) common.Hash {
	return f.sload(slotAdd(roleBase(f, role), 1))
}

func checkRole(f *frame, role common.Hash, account common.Address) error {
	if hasRole(f, role, account) {
		return nil
	}
	return f.revert(fmt.Sprintf("AccessControl: account %s is missing role %s",
		strings.ToLower(account.Hex()), hexutil.Encode(role[:])))
}

// onlyRoleOrOpen lets anyone through once address(0) holds the role
func onlyRoleOrOpen(f *frame, role common.Hash) error {
	if hasRole(f, role, common.Address{}) {
		return nil
	}
	return checkRole(f, role, f.sender)
}

func grantRole(f *frame, role common.Hash, account common.Address) error {
	if hasRole(f, role, account) {
		return nil
	}
	f.sstore(mappingSlot(addressWord(account), roleBase(f, role)), boolWord(true))
	return f.emit("RoleGranted", role, account, f.sender)
}

func revokeRole(f *frame, role common.Hash, account common.Address) error {
	if !hasRole(f, role, account) {
		return nil
	}
	f.sstore(mappingSlot(addressWord(account), roleBase(f, role)), common.Hash{})
	return f.emit("RoleRevoked", role, account, f.sender)
}

func setRoleAdmin(f *frame, role, admin common.Hash) error {
	prev := roleAdmin(f, role)
	f.sstore(slotAdd(roleBase(f, role), 1), admin)
	return f.emit("RoleAdminChanged", role, prev, admin)
}

func operationTimestamp(f *frame, id common.Hash) *big.Int {
	return f.sload(f.mapSlot("_timestamps", id)).Big()
}

func operationState(f *frame, id common.Hash) lsdtypes.OperationState {
	return lsdtypes.StateFor(operationTimestamp(f, id).Uint64(), f.now())
}

func hashOperation(target common.Address, value *big.Int, data []byte, predecessor, salt [32]byte) common.Hash {
	packed, _ := operationArgs.Pack(target, value, data, predecessor, salt)
	return crypto.Keccak256Hash(packed)
}

func hashOperationBatch(targets []common.Address, values []*big.Int, payloads [][]byte, predecessor, salt [32]byte) common.Hash {
	packed, _ := operationBatchArgs.Pack(targets, values, payloads, predecessor, salt)
	return crypto.Keccak256Hash(packed)
}

func scheduleOp(f *frame, id common.Hash, delay *big.Int) error {
	if operationTimestamp(f, id).Sign() > 0 {
		return f.revert("TimelockController: operation already scheduled")
	}
	if delay.Cmp(f.getUint("_minDelay")) < 0 {
		return f.revert("TimelockController: insufficient delay")
	}
	ready := new(big.Int).Add(new(big.Int).SetUint64(f.now()), delay)
	f.sstore(f.mapSlot("_timestamps", id), common.BigToHash(ready))
	return nil
}

func beforeCall(f *frame, id common.Hash, predecessor [32]byte) error {
	if operationState(f, id) != lsdtypes.OperationReady {
		return f.revert("TimelockController: operation is not ready")
	}
	if predecessor != ([32]byte{}) && operationState(f, common.Hash(predecessor)) != lsdtypes.OperationDone {
		return f.revert("TimelockController: missing dependency")
	}
	return nil
}

func afterCall(f *frame, id common.Hash) error {
	if operationState(f, id) != lsdtypes.OperationReady {
		return f.revert("TimelockController: operation is not ready")
	}
	f.sstore(f.mapSlot("_timestamps", id), common.BigToHash(big.NewInt(lsdtypes.DoneTimestamp)))
	return nil
}

func executeCall(f *frame, target common.Address, value *big.Int, data []byte) error {
	if _, err := f.call(target, value, data); err != nil {
		return f.revert("TimelockController: underlying transaction reverted")
	}
	return nil
}

func timelockCtor(f *frame, args []any) ([]any, error) {
	minDelay := args[0].(*big.Int)
	proposers := args[1].([]common.Address)
	executors := args[2].([]common.Address)
	admin := args[3].(common.Address)

	for _, role := range []common.Hash{contracts.TimelockAdminRole, contracts.ProposerRole, contracts.ExecutorRole, contracts.CancellerRole} {
		if err := setRoleAdmin(f, role, contracts.TimelockAdminRole); err != nil {
			return nil, err
		}
	}
	if err := grantRole(f, contracts.TimelockAdminRole, f.self); err != nil {
		return nil, err
	}
	if admin != (common.Address{}) {
		if err := grantRole(f, contracts.TimelockAdminRole, admin); err != nil {
			return nil, err
		}
	}
	for _, p := range proposers {
		if err := grantRole(f, contracts.ProposerRole, p); err != nil {
			return nil, err
		}
		if err := grantRole(f, contracts.CancellerRole, p); err != nil {
			return nil, err
		}
	}
	for _, e := range executors {
		if err := grantRole(f, contracts.ExecutorRole, e); err != nil {
			return nil, err
		}
	}
	f.setUint("_minDelay", minDelay)
	return nil, f.emit("MinDelayChange", new(big.Int), minDelay)
}

func roleConstant(role common.Hash) handler {
	return func(f *frame, _ []any) ([]any, error) {
		return ret(role), nil
	}
}

func idArg(args []any) common.Hash {
	return common.Hash(args[0].([32]byte))
}

func stateCheck(want func(lsdtypes.OperationState) bool) handler {
	return func(f *frame, args []any) ([]any, error) {
		return ret(want(operationState(f, idArg(args)))), nil
	}
}

// timelockModel is OpenZeppelin's TimelockController v4.9
func timelockModel() *model {
	methods := map[string]handler{
		"TIMELOCK_ADMIN_ROLE": roleConstant(contracts.TimelockAdminRole),
		"PROPOSER_ROLE":       roleConstant(contracts.ProposerRole),
		"EXECUTOR_ROLE":       roleConstant(contracts.ExecutorRole),
		"CANCELLER_ROLE":      roleConstant(contracts.CancellerRole),
		"DEFAULT_ADMIN_ROLE":  roleConstant(contracts.DefaultAdminRole),

		"supportsInterface": func(f *frame, args []any) ([]any, error) {
			id := args[0].([4]byte)
			return ret(id == ierc165 || id == iaccessControl || id == ierc1155Receive), nil
		},
		"hasRole": func(f *frame, args []any) ([]any, error) {
			return ret(hasRole(f, idArg(args), args[1].(common.Address))), nil
		},
		"getRoleAdmin": func(f *frame, args []any) ([]any, error) {
			return ret(roleAdmin(f, idArg(args))), nil
		},
		"grantRole": func(f *frame, args []any) ([]any, error) {
			role := idArg(args)
			if err := checkRole(f, roleAdmin(f, role), f.sender); err != nil {
				return nil, err
			}
			return nil, grantRole(f, role, args[1].(common.Address))
		},
		"revokeRole": func(f *frame, args []any) ([]any, error) {
			role := idArg(args)
			if err := checkRole(f, roleAdmin(f, role), f.sender); err != nil {
				return nil, err
			}
			return nil, revokeRole(f, role, args[1].(common.Address))
		},
		"renounceRole": func(f *frame, args []any) ([]any, error) {
			account := args[1].(common.Address)
			if account != f.sender {
				return nil, f.revert("AccessControl: can only renounce roles for self")
			}
			return nil, revokeRole(f, idArg(args), account)
		},

		"getMinDelay": func(f *frame, _ []any) ([]any, error) {
			return ret(f.getUint("_minDelay")), nil
		},
		"getTimestamp": func(f *frame, args []any) ([]any, error) {
			return ret(operationTimestamp(f, idArg(args))), nil
		},
		"isOperation": stateCheck(func(s lsdtypes.OperationState) bool {
			return s != lsdtypes.OperationUnset
		}),
		"isOperationPending": stateCheck(func(s lsdtypes.OperationState) bool {
			return s == lsdtypes.OperationWaiting || s == lsdtypes.OperationReady
		}),
		"isOperationReady": stateCheck(func(s lsdtypes.OperationState) bool {
			return s == lsdtypes.OperationReady
		}),
		"isOperationDone": stateCheck(func(s lsdtypes.OperationState) bool {
			return s == lsdtypes.OperationDone
		}),

		"hashOperation": func(f *frame, args []any) ([]any, error) {
			return ret(hashOperation(args[0].(common.Address), args[1].(*big.Int), args[2].([]byte), args[3].([32]byte), args[4].([32]byte))), nil
		},
		"hashOperationBatch": func(f *frame, args []any) ([]any, error) {
			return ret(hashOperationBatch(args[0].([]common.Address), args[1].([]*big.Int), args[2].([][]byte), args[3].([32]byte), args[4].([32]byte))), nil
		},

		"schedule": func(f *frame, args []any) ([]any, error) {
			if err := checkRole(f, contracts.ProposerRole, f.sender); err != nil {
				return nil, err
			}
			target, value, data := args[0].(common.Address), args[1].(*big.Int), args[2].([]byte)
			predecessor, salt, delay := args[3].([32]byte), args[4].([32]byte), args[5].(*big.Int)

			id := hashOperation(target, value, data, predecessor, salt)
			if err := scheduleOp(f, id, delay); err != nil {
				return nil, err
			}
			if err := f.emit("CallScheduled", id, new(big.Int), target, value, data, predecessor, delay); err != nil {
				return nil, err
			}
			if salt != ([32]byte{}) {
				return nil, f.emit("CallSalt", id, salt)
			}
			return nil, nil
		},
		"scheduleBatch": func(f *frame, args []any) ([]any, error) {
			if err := checkRole(f, contracts.ProposerRole, f.sender); err != nil {
				return nil, err
			}
			targets, values, payloads := args[0].([]common.Address), args[1].([]*big.Int), args[2].([][]byte)
			predecessor, salt, delay := args[3].([32]byte), args[4].([32]byte), args[5].(*big.Int)
			if len(targets) != len(values) || len(targets) != len(payloads) {
				return nil, f.revert("TimelockController: length mismatch")
			}

			id := hashOperationBatch(targets, values, payloads, predecessor, salt)
			if err := scheduleOp(f, id, delay); err != nil {
				return nil, err
			}
			for i := range targets {
				if err := f.emit("CallScheduled", id, big.NewInt(int64(i)), targets[i], values[i], payloads[i], predecessor, delay); err != nil {
					return nil, err
				}
			}
			if salt != ([32]byte{}) {
				return nil, f.emit("CallSalt", id, salt)
			}
			return nil, nil
		},
		"cancel": func(f *frame, args []any) ([]any, error) {
			if err := checkRole(f, contracts.CancellerRole, f.sender); err != nil {
				return nil, err
			}
			id := idArg(args)
			s := operationState(f, id)
			if s != lsdtypes.OperationWaiting && s != lsdtypes.OperationReady {
				return nil, f.revert("TimelockController: operation cannot be cancelled")
			}
			f.sstore(f.mapSlot("_timestamps", id), common.Hash{})
			return nil, f.emit("Cancelled", id)
		},
		"execute": func(f *frame, args []any) ([]any, error) {
			if err := onlyRoleOrOpen(f, contracts.ExecutorRole); err != nil {
				return nil, err
			}
			target, value, payload := args[0].(common.Address), args[1].(*big.Int), args[2].([]byte)
			predecessor, salt := args[3].([32]byte), args[4].([32]byte)

			id := hashOperation(target, value, payload, predecessor, salt)
			if err := beforeCall(f, id, predecessor); err != nil {
				return nil, err
			}
			if err := executeCall(f, target, value, payload); err != nil {
				return nil, err
			}
			if err := f.emit("CallExecuted", id, new(big.Int), target, value, payload); err != nil {
				return nil, err
			}
			return nil, afterCall(f, id)
		},
		"executeBatch": func(f *frame, args []any) ([]any, error) {
			if err := onlyRoleOrOpen(f, contracts.ExecutorRole); err != nil {
				return nil, err
			}
			targets, values, payloads := args[0].([]common.Address), args[1].([]*big.Int), args[2].([][]byte)
			predecessor, salt := args[3].([32]byte), args[4].([32]byte)
			if len(targets) != len(values) || len(targets) != len(payloads) {
				return nil, f.revert("TimelockController: length mismatch")
			}

			id := hashOperationBatch(targets, values, payloads, predecessor, salt)
			if err := beforeCall(f, id, predecessor); err != nil {
				return nil, err
			}
			for i := range targets {
				if err := executeCall(f, targets[i], values[i], payloads[i]); err != nil {
					return nil, err
				}
				if err := f.emit("CallExecuted", id, big.NewInt(int64(i)), targets[i], values[i], payloads[i]); err != nil {
					return nil, err
				}
			}
			return nil, afterCall(f, id)
		},
		"updateDelay": func(f *frame, args []any) ([]any, error) {
			if f.sender != f.self {
				return nil, f.revert("TimelockController: caller must be timelock")
			}
			newDelay := args[0].(*big.Int)
			old := f.getUint("_minDelay")
			f.setUint("_minDelay", newDelay)
			return nil, f.emit("MinDelayChange", old, newDelay)
		},
	}
	return newModel(contracts.TimelockName, timelockCtor, methods)
}
