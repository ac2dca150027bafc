package timelock

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/lsdlabs/lsdctl/internal/chain"
	"github.com/lsdlabs/lsdctl/internal/contracts"
	"github.com/lsdlabs/lsdctl/internal/logging"
	"github.com/lsdlabs/lsdctl/internal/util"
	"github.com/lsdlabs/lsdctl/pkg/types"
)

var (
	ErrDelayTooShort      = errors.New("delay is below the timelock minimum")
	ErrAlreadyScheduled   = errors.New("operation already scheduled")
	ErrNotScheduled       = errors.New("operation is not scheduled")
	ErrNotReady           = errors.New("operation is not ready")
	ErrAlreadyDone        = errors.New("operation already executed")
	ErrPredecessorNotDone = errors.New("predecessor operation not executed")
	ErrMissingRole        = errors.New("account is missing a timelock role")
)

// Roles names the accounts a Governor sends from
type Roles struct {
	Proposer  common.Address
	Executor  common.Address
	Canceller common.Address
}

// Governor drives the schedule / execute lifecycle of a timelock and runs
// the same checks the contract would before sending anything
type Governor struct {
	client     *chain.Client
	timelock   *contracts.TimelockController
	roles      Roles
	targetABIs []abi.ABI
}

// NewGovernor binds the timelock at addr. A zero canceller defaults to the
// proposer, which the timelock constructor grants both roles.
func NewGovernor(c *chain.Client, addr common.Address, roles Roles, targetABIs ...abi.ABI) (*Governor, error) {
	tl, err := contracts.NewTimelockController(c, addr, targetABIs...)
	if err != nil {
		return nil, err
	}
	if roles.Canceller == (common.Address{}) {
		roles.Canceller = roles.Proposer
	}
	return &Governor{client: c, timelock: tl, roles: roles, targetABIs: targetABIs}, nil
}

// Address returns the timelock address
func (g *Governor) Address() common.Address {
	return g.timelock.Address
}

// Timelock returns the bound contract
func (g *Governor) Timelock() *contracts.TimelockController {
	return g.timelock
}

// MinDelay returns the minimum delay in seconds
func (g *Governor) MinDelay(ctx context.Context) (*big.Int, error) {
	return g.timelock.GetMinDelay(ctx)
}

func (g *Governor) requireRole(ctx context.Context, role common.Hash, account common.Address) error {
	ok, err := g.timelock.HasRole(ctx, role, account)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if role == contracts.ExecutorRole {
		// a role granted to the zero address is open to everyone
		open, err := g.timelock.HasRole(ctx, role, common.Address{})
		if err != nil {
			return err
		}
		if open {
			return nil
		}
	}
	return fmt.Errorf("%w: %s lacks %s", ErrMissingRole, account.Hex(), contracts.RoleName(role))
}

// Status reports the state of an operation at the head block
func (g *Governor) Status(ctx context.Context, id common.Hash) (*types.OperationStatus, error) {
	ts, err := g.timelock.GetTimestamp(ctx, id)
	if err != nil {
		return nil, err
	}
	now, err := g.client.LatestTimestamp(ctx)
	if err != nil {
		return nil, err
	}
	st := &types.OperationStatus{ID: id, Timestamp: ts.Uint64()}
	st.State = types.StateFor(st.Timestamp, now)
	if st.Timestamp > types.DoneTimestamp {
		st.ReadyAt = time.Unix(int64(st.Timestamp), 0).UTC()
	}
	return st, nil
}

func (g *Governor) checkSchedule(ctx context.Context, id common.Hash, delay *big.Int) error {
	minDelay, err := g.timelock.GetMinDelay(ctx)
	if err != nil {
		return err
	}
	if delay == nil || delay.Cmp(minDelay) < 0 {
		return fmt.Errorf("%w: %v < %s seconds", ErrDelayTooShort, delay, minDelay)
	}
	st, err := g.Status(ctx, id)
	if err != nil {
		return err
	}
	if st.State != types.OperationUnset {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyScheduled, id.Hex(), st.State)
	}
	return g.requireRole(ctx, contracts.ProposerRole, g.roles.Proposer)
}

func (g *Governor) checkExecute(ctx context.Context, id, predecessor common.Hash) error {
	st, err := g.Status(ctx, id)
	if err != nil {
		return err
	}
	switch st.State {
	case types.OperationUnset:
		return fmt.Errorf("%w: %s", ErrNotScheduled, id.Hex())
	case types.OperationDone:
		return fmt.Errorf("%w: %s", ErrAlreadyDone, id.Hex())
	case types.OperationWaiting:
		return fmt.Errorf("%w: ready at %s", ErrNotReady, st.ReadyAt.Format(time.RFC3339))
	}
	if predecessor != (common.Hash{}) {
		pst, err := g.Status(ctx, predecessor)
		if err != nil {
			return err
		}
		if pst.State != types.OperationDone {
			return fmt.Errorf("%w: %s is %s", ErrPredecessorNotDone, predecessor.Hex(), pst.State)
		}
	}
	return g.requireRole(ctx, contracts.ExecutorRole, g.roles.Executor)
}

func (g *Governor) audit(op string, from common.Address, id common.Hash, receipt *gtypes.Receipt, err error) {
	event := logging.AuditEvent{
		Operation: op,
		Network:   g.client.Config().Network,
		Actor:     from.Hex(),
		Target:    g.timelock.Address.Hex(),
		Result:    "success",
		Details:   "operation " + id.Hex(),
	}
	if receipt != nil {
		event.TxHash = receipt.TxHash.Hex()
	}
	if err != nil {
		event.Result = "failure"
	}
	logging.Audit(event)
}

// Schedule queues op with delay seconds from the proposer account
func (g *Governor) Schedule(ctx context.Context, op Operation, delay *big.Int) (*gtypes.Receipt, error) {
	id := op.ID()
	if err := g.checkSchedule(ctx, id, delay); err != nil {
		return nil, err
	}
	receipt, err := g.timelock.Schedule(ctx, g.roles.Proposer, op.Target, op.value(), op.Data, op.Predecessor, op.Salt, delay)
	g.audit("timelock_schedule", g.roles.Proposer, id, receipt, err)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", id.Hex(), err)
	}
	logging.Info("operation scheduled",
		logging.OperationID(id),
		"delay", delay.String(),
		logging.TxHash(receipt.TxHash),
		logging.Component("timelock"))
	return receipt, nil
}

// ScheduleBatch queues b with delay seconds from the proposer account
func (g *Governor) ScheduleBatch(ctx context.Context, b Batch, delay *big.Int) (*gtypes.Receipt, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	id := b.ID()
	if err := g.checkSchedule(ctx, id, delay); err != nil {
		return nil, err
	}
	receipt, err := g.timelock.ScheduleBatch(ctx, g.roles.Proposer, b.Targets, b.values(), b.Payloads, b.Predecessor, b.Salt, delay)
	g.audit("timelock_schedule_batch", g.roles.Proposer, id, receipt, err)
	if err != nil {
		return nil, fmt.Errorf("schedule batch %s: %w", id.Hex(), err)
	}
	return receipt, nil
}

// Preflight runs the call of op as the timelock would. The timelock itself
// only reports "underlying transaction reverted", so this recovers the
// target's own revert reason.
func (g *Governor) Preflight(ctx context.Context, op Operation) error {
	_, err := g.client.CallRaw(ctx, g.timelock.Address, op.Target, op.value(), op.Data, g.targetABIs...)
	if err != nil {
		return fmt.Errorf("call to %s would revert: %w", op.Target.Hex(), err)
	}
	return nil
}

// Execute runs a ready operation from the executor account
func (g *Governor) Execute(ctx context.Context, op Operation) (*gtypes.Receipt, error) {
	id := op.ID()
	if err := g.checkExecute(ctx, id, op.Predecessor); err != nil {
		return nil, err
	}
	if err := g.Preflight(ctx, op); err != nil {
		return nil, err
	}
	receipt, err := g.timelock.Execute(ctx, g.roles.Executor, op.Target, op.value(), op.Data, op.Predecessor, op.Salt)
	g.audit("timelock_execute", g.roles.Executor, id, receipt, err)
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", id.Hex(), err)
	}
	logging.Info("operation executed",
		logging.OperationID(id),
		logging.TxHash(receipt.TxHash),
		logging.Component("timelock"))
	return receipt, nil
}

// ExecuteBatch runs a ready batch from the executor account
func (g *Governor) ExecuteBatch(ctx context.Context, b Batch) (*gtypes.Receipt, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	id := b.ID()
	if err := g.checkExecute(ctx, id, b.Predecessor); err != nil {
		return nil, err
	}
	receipt, err := g.timelock.ExecuteBatch(ctx, g.roles.Executor, b.Targets, b.values(), b.Payloads, b.Predecessor, b.Salt)
	g.audit("timelock_execute_batch", g.roles.Executor, id, receipt, err)
	if err != nil {
		return nil, fmt.Errorf("execute batch %s: %w", id.Hex(), err)
	}
	return receipt, nil
}

// Cancel removes a pending operation from the canceller account
func (g *Governor) Cancel(ctx context.Context, id common.Hash) (*gtypes.Receipt, error) {
	st, err := g.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.State != types.OperationWaiting && st.State != types.OperationReady {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotScheduled, id.Hex(), st.State)
	}
	if err := g.requireRole(ctx, contracts.CancellerRole, g.roles.Canceller); err != nil {
		return nil, err
	}
	receipt, err := g.timelock.Cancel(ctx, g.roles.Canceller, id)
	g.audit("timelock_cancel", g.roles.Canceller, id, receipt, err)
	if err != nil {
		return nil, fmt.Errorf("cancel %s: %w", id.Hex(), err)
	}
	return receipt, nil
}

// WaitReady polls until the operation can be executed
func (g *Governor) WaitReady(ctx context.Context, id common.Hash, poll time.Duration) (*types.OperationStatus, error) {
	var last *types.OperationStatus
	err := util.Poll(ctx, poll, func() (bool, error) {
		st, err := g.Status(ctx, id)
		if err != nil {
			return false, err
		}
		last = st
		switch st.State {
		case types.OperationUnset:
			return false, fmt.Errorf("%w: %s", ErrNotScheduled, id.Hex())
		case types.OperationDone:
			return false, fmt.Errorf("%w: %s", ErrAlreadyDone, id.Hex())
		case types.OperationReady:
			return true, nil
		}
		logging.Debug("waiting for operation",
			logging.OperationID(id),
			"ready_at", st.ReadyAt.Format(time.RFC3339),
			logging.Component("timelock"))
		return false, nil
	})
	return last, err
}

// FastForward advances the block clock of a dev network until a waiting
// operation is ready. Live networks refuse to move their clock.
func (g *Governor) FastForward(ctx context.Context, id common.Hash) (*types.OperationStatus, error) {
	st, err := g.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.State != types.OperationWaiting {
		return st, nil
	}
	now, err := g.client.LatestTimestamp(ctx)
	if err != nil {
		return nil, err
	}
	if err := g.client.IncreaseTime(ctx, st.Timestamp-now); err != nil {
		return nil, err
	}
	return g.Status(ctx, id)
}
