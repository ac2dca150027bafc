package contracts

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lsdlabs/lsdctl/internal/artifacts"
	"github.com/lsdlabs/lsdctl/internal/chain"
)

// TimelockController roles
var (
	DefaultAdminRole  = common.Hash{}
	TimelockAdminRole = crypto.Keccak256Hash([]byte("TIMELOCK_ADMIN_ROLE"))
	ProposerRole      = crypto.Keccak256Hash([]byte("PROPOSER_ROLE"))
	ExecutorRole      = crypto.Keccak256Hash([]byte("EXECUTOR_ROLE"))
	CancellerRole     = crypto.Keccak256Hash([]byte("CANCELLER_ROLE"))
)

// RoleName returns the constant name of a known role id
func RoleName(role common.Hash) string {
	switch role {
	case DefaultAdminRole:
		return "DEFAULT_ADMIN_ROLE"
	case TimelockAdminRole:
		return "TIMELOCK_ADMIN_ROLE"
	case ProposerRole:
		return "PROPOSER_ROLE"
	case ExecutorRole:
		return "EXECUTOR_ROLE"
	case CancellerRole:
		return "CANCELLER_ROLE"
	default:
		return role.Hex()
	}
}

// TimelockController is an OpenZeppelin TimelockController
type TimelockController struct {
	*chain.Contract
}

// NewTimelockController binds a timelock. targetABIs are consulted when a
// forwarded call reverts with a custom error.
func NewTimelockController(c *chain.Client, addr common.Address, targetABIs ...abi.ABI) (*TimelockController, error) {
	bound, err := c.Bind("TimelockController", addr, TimelockABI, targetABIs...)
	if err != nil {
		return nil, err
	}
	return &TimelockController{Contract: bound}, nil
}

// DeployTimelockController deploys with (minDelay, proposers, executors, admin)
func DeployTimelockController(ctx context.Context, c *chain.Client, store *artifacts.Store, from common.Address, minDelay *big.Int, proposers, executors []common.Address, admin common.Address) (*TimelockController, error) {
	addr, _, err := Deploy(ctx, c, store, from, "TimelockController", minDelay, proposers, executors, admin)
	if err != nil {
		return nil, err
	}
	return NewTimelockController(c, addr)
}

// Schedule queues a single call
func (t *TimelockController) Schedule(ctx context.Context, from, target common.Address, value *big.Int, data []byte, predecessor, salt common.Hash, delay *big.Int) (*types.Receipt, error) {
	return t.Transact(ctx, from, "schedule", target, value, data, predecessor, salt, delay)
}

// ScheduleBatch queues calls executed atomically
func (t *TimelockController) ScheduleBatch(ctx context.Context, from common.Address, targets []common.Address, values []*big.Int, payloads [][]byte, predecessor, salt common.Hash, delay *big.Int) (*types.Receipt, error) {
	return t.Transact(ctx, from, "scheduleBatch", targets, values, payloads, predecessor, salt, delay)
}

// Execute runs a ready call. value is paid by the sender and forwarded.
func (t *TimelockController) Execute(ctx context.Context, from, target common.Address, value *big.Int, data []byte, predecessor, salt common.Hash) (*types.Receipt, error) {
	return t.TransactValue(ctx, from, value, "execute", target, value, data, predecessor, salt)
}

// ExecuteBatch runs a ready batch
func (t *TimelockController) ExecuteBatch(ctx context.Context, from common.Address, targets []common.Address, values []*big.Int, payloads [][]byte, predecessor, salt common.Hash) (*types.Receipt, error) {
	total := new(big.Int)
	for _, v := range values {
		total.Add(total, v)
	}
	return t.TransactValue(ctx, from, total, "executeBatch", targets, values, payloads, predecessor, salt)
}

// Cancel drops a pending operation
func (t *TimelockController) Cancel(ctx context.Context, from common.Address, id common.Hash) (*types.Receipt, error) {
	return t.Transact(ctx, from, "cancel", id)
}

// HashOperation asks the contract for the id of a single call
func (t *TimelockController) HashOperation(ctx context.Context, target common.Address, value *big.Int, data []byte, predecessor, salt common.Hash) (common.Hash, error) {
	return callHash(ctx, t.Contract, "hashOperation", target, value, data, predecessor, salt)
}

// HashOperationBatch asks the contract for the id of a batch
func (t *TimelockController) HashOperationBatch(ctx context.Context, targets []common.Address, values []*big.Int, payloads [][]byte, predecessor, salt common.Hash) (common.Hash, error) {
	return callHash(ctx, t.Contract, "hashOperationBatch", targets, values, payloads, predecessor, salt)
}

// GetMinDelay returns the minimum delay in seconds
func (t *TimelockController) GetMinDelay(ctx context.Context) (*big.Int, error) {
	return callBig(ctx, t.Contract, "getMinDelay")
}

// GetTimestamp returns when an operation becomes ready; 0 unset, 1 done
func (t *TimelockController) GetTimestamp(ctx context.Context, id common.Hash) (*big.Int, error) {
	return callBig(ctx, t.Contract, "getTimestamp", id)
}

func (t *TimelockController) IsOperation(ctx context.Context, id common.Hash) (bool, error) {
	return callBool(ctx, t.Contract, "isOperation", id)
}

func (t *TimelockController) IsOperationPending(ctx context.Context, id common.Hash) (bool, error) {
	return callBool(ctx, t.Contract, "isOperationPending", id)
}

func (t *TimelockController) IsOperationReady(ctx context.Context, id common.Hash) (bool, error) {
	return callBool(ctx, t.Contract, "isOperationReady", id)
}

func (t *TimelockController) IsOperationDone(ctx context.Context, id common.Hash) (bool, error) {
	return callBool(ctx, t.Contract, "isOperationDone", id)
}

// HasRole reports whether account holds role
func (t *TimelockController) HasRole(ctx context.Context, role common.Hash, account common.Address) (bool, error) {
	return callBool(ctx, t.Contract, "hasRole", role, account)
}

// GetRoleAdmin returns the role that administers role
func (t *TimelockController) GetRoleAdmin(ctx context.Context, role common.Hash) (common.Hash, error) {
	return callHash(ctx, t.Contract, "getRoleAdmin", role)
}

// GrantRole grants role to account; from must hold the role's admin role
func (t *TimelockController) GrantRole(ctx context.Context, from common.Address, role common.Hash, account common.Address) (*types.Receipt, error) {
	return t.Transact(ctx, from, "grantRole", role, account)
}

// RevokeRole revokes role from account
func (t *TimelockController) RevokeRole(ctx context.Context, from common.Address, role common.Hash, account common.Address) (*types.Receipt, error) {
	return t.Transact(ctx, from, "revokeRole", role, account)
}

// EncodeUpdateDelay encodes updateDelay, which only the timelock itself may call
func EncodeUpdateDelay(newDelay *big.Int) ([]byte, error) {
	return TimelockABI.Pack("updateDelay", newDelay)
}
