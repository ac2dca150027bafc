package commands

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lsdlabs/lsdctl/internal/scripts"
	"github.com/lsdlabs/lsdctl/internal/timelock"
	"github.com/lsdlabs/lsdctl/pkg/types"
	"github.com/spf13/cobra"
)

// operationFlags describe a timelock operation on the command line
type operationFlags struct {
	proposal    string
	target      string
	value       string
	data        string
	predecessor string
	salt        string
}

func (f *operationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.proposal, "proposal", "", "Proposal file written by schedule")
	cmd.Flags().StringVar(&f.target, "target", "", "Call target address")
	cmd.Flags().StringVar(&f.value, "value", "0", "Value in wei")
	cmd.Flags().StringVar(&f.data, "data", "0x", "Calldata (hex)")
	cmd.Flags().StringVar(&f.predecessor, "predecessor", "", "Operation id that must execute first")
	cmd.Flags().StringVar(&f.salt, "salt", "", "Salt text, at most 31 bytes")
}

// operation returns the operation and the timelock recorded in a proposal,
// if one was given
func (f *operationFlags) operation() (timelock.Operation, *timelock.Proposal, error) {
	if f.proposal != "" {
		p, err := timelock.LoadProposal(f.proposal)
		if err != nil {
			return timelock.Operation{}, nil, err
		}
		op, err := p.Operation()
		return op, p, err
	}
	if !common.IsHexAddress(f.target) {
		return timelock.Operation{}, nil, fmt.Errorf("--target must be an address, got %q", f.target)
	}
	value, ok := new(big.Int).SetString(f.value, 0)
	if !ok || value.Sign() < 0 {
		return timelock.Operation{}, nil, fmt.Errorf("--value: invalid amount %q", f.value)
	}
	data, err := hexutil.Decode(f.data)
	if err != nil {
		return timelock.Operation{}, nil, fmt.Errorf("--data: %w", err)
	}
	salt, err := timelock.Salt(f.salt)
	if err != nil {
		return timelock.Operation{}, nil, err
	}
	op := timelock.Operation{
		Target: common.HexToAddress(f.target),
		Value:  value,
		Data:   data,
		Salt:   salt,
	}
	if f.predecessor != "" {
		op.Predecessor = common.HexToHash(f.predecessor)
	}
	return op, nil, nil
}

// governorFlags select the timelock and the accounts that act on it
type governorFlags struct {
	timelock  string
	proposer  int
	executor  int
	canceller int
	contract  string
}

func (f *governorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.timelock, "timelock", "", "TimelockController address (default: from the proposal)")
	cmd.Flags().IntVar(&f.proposer, "proposer", 0, "Signer index holding PROPOSER_ROLE")
	cmd.Flags().IntVar(&f.executor, "executor", 0, "Signer index holding EXECUTOR_ROLE")
	cmd.Flags().IntVar(&f.canceller, "canceller", -1, "Signer index holding CANCELLER_ROLE (default: the proposer)")
	cmd.Flags().StringVar(&f.contract, "contract", "", "Artifact of the target, used to decode its reverts")
}

func (f *governorFlags) governor(s *scripts.Session, p *timelock.Proposal) (*timelock.Governor, error) {
	var addr common.Address
	switch {
	case f.timelock != "":
		if !common.IsHexAddress(f.timelock) {
			return nil, fmt.Errorf("--timelock must be an address, got %q", f.timelock)
		}
		addr = common.HexToAddress(f.timelock)
	case p != nil:
		var err error
		if addr, err = p.TimelockAddress(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("--timelock is required without --proposal")
	}

	var roles timelock.Roles
	var err error
	if roles.Proposer, err = s.Account(f.proposer); err != nil {
		return nil, err
	}
	if roles.Executor, err = s.Account(f.executor); err != nil {
		return nil, err
	}
	if f.canceller >= 0 {
		if roles.Canceller, err = s.Account(f.canceller); err != nil {
			return nil, err
		}
	}

	var targetABIs []abi.ABI
	if f.contract != "" {
		a, err := s.Store.Get(f.contract)
		if err != nil {
			return nil, err
		}
		parsed, err := a.ParsedABI()
		if err != nil {
			return nil, err
		}
		targetABIs = append(targetABIs, parsed)
	}
	return timelock.NewGovernor(s.Client, addr, roles, targetABIs...)
}

// NewTimelockCmd creates the timelock commands.
func NewTimelockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timelock",
		Short: "Schedule and execute TimelockController operations",
	}
	cmd.AddCommand(
		newTimelockHashCmd(),
		newTimelockScheduleCmd(),
		newTimelockExecuteCmd(),
		newTimelockCancelCmd(),
		newTimelockStatusCmd(),
		newTimelockWaitCmd(),
	)
	return cmd
}

func newTimelockHashCmd() *cobra.Command {
	var opFlags operationFlags
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print the id of an operation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			op, _, err := opFlags.operation()
			if err != nil {
				return err
			}
			fmt.Println(op.ID().Hex())
			return nil
		},
	}
	opFlags.register(cmd)
	return cmd
}

// withGovernor opens a session and binds the timelock for an operation
func withGovernor(opFlags *operationFlags, gFlags *governorFlags, fn func(ctx context.Context, s *scripts.Session, g *timelock.Governor, op timelock.Operation, p *timelock.Proposal) error) error {
	op, p, err := opFlags.operation()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	g, err := gFlags.governor(s, p)
	if err != nil {
		return err
	}
	return fn(ctx, s, g, op, p)
}

func newTimelockScheduleCmd() *cobra.Command {
	var opFlags operationFlags
	var gFlags governorFlags
	var delay uint64
	var name string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule an operation and save it as a proposal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGovernor(&opFlags, &gFlags, func(ctx context.Context, s *scripts.Session, g *timelock.Governor, op timelock.Operation, _ *timelock.Proposal) error {
				d := new(big.Int).SetUint64(delay)
				if delay == 0 {
					var err error
					if d, err = g.MinDelay(ctx); err != nil {
						return err
					}
				}
				if err := confirmLive(s, "Schedule "+op.ID().Hex()); err != nil {
					return err
				}
				receipt, err := g.Schedule(ctx, op, d)
				if err != nil {
					return err
				}
				if name == "" {
					name = op.ID().Hex()[:10]
				}
				p := timelock.NewProposal(name, g.Address(), op, d.Uint64())
				p.TxHash = receipt.TxHash.Hex()
				path, err := s.SaveProposal(p)
				if err != nil {
					return err
				}
				Success("scheduled " + op.ID().Hex())
				if path != "" {
					fmt.Println(KeyValue("Proposal", path))
				}
				fmt.Println(KeyValue("Tx", receipt.TxHash.Hex()))
				return nil
			})
		},
	}
	opFlags.register(cmd)
	gFlags.register(cmd)
	cmd.Flags().Uint64Var(&delay, "delay", 0, "Delay in seconds (default: the timelock minimum)")
	cmd.Flags().StringVar(&name, "name", "", "Proposal name (default: the operation id prefix)")
	return cmd
}

func newTimelockExecuteCmd() *cobra.Command {
	var opFlags operationFlags
	var gFlags governorFlags
	var wait bool
	var poll time.Duration

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Execute a ready operation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGovernor(&opFlags, &gFlags, func(ctx context.Context, s *scripts.Session, g *timelock.Governor, op timelock.Operation, _ *timelock.Proposal) error {
				if wait {
					err := WithSpinner("Waiting for "+op.ID().Hex()[:10], func() error {
						_, err := g.WaitReady(ctx, op.ID(), poll)
						return err
					})
					if err != nil {
						return err
					}
				}
				if err := confirmLive(s, "Execute "+op.ID().Hex()); err != nil {
					return err
				}
				receipt, err := g.Execute(ctx, op)
				if err != nil {
					return err
				}
				Success("executed " + op.ID().Hex())
				fmt.Println(KeyValue("Tx", receipt.TxHash.Hex()))
				return nil
			})
		},
	}
	opFlags.register(cmd)
	gFlags.register(cmd)
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the operation is ready")
	cmd.Flags().DurationVar(&poll, "poll", 15*time.Second, "Poll interval while waiting")
	return cmd
}

func newTimelockCancelCmd() *cobra.Command {
	var opFlags operationFlags
	var gFlags governorFlags
	var id string

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a pending operation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if id != "" {
				opFlags.target = common.Address{}.Hex()
			}
			return withGovernor(&opFlags, &gFlags, func(ctx context.Context, s *scripts.Session, g *timelock.Governor, op timelock.Operation, _ *timelock.Proposal) error {
				target := op.ID()
				if id != "" {
					target = common.HexToHash(id)
				}
				if err := confirmLive(s, "Cancel "+target.Hex()); err != nil {
					return err
				}
				receipt, err := g.Cancel(ctx, target)
				if err != nil {
					return err
				}
				Success("cancelled " + target.Hex())
				fmt.Println(KeyValue("Tx", receipt.TxHash.Hex()))
				return nil
			})
		},
	}
	opFlags.register(cmd)
	gFlags.register(cmd)
	cmd.Flags().StringVar(&id, "id", "", "Operation id, instead of describing the operation")
	return cmd
}

func printStatus(st *types.OperationStatus) error {
	if ok, err := printJSON(st); ok {
		return err
	}
	fields := [][2]string{
		{"Operation", st.ID.Hex()},
		{"State", StateBadge(string(st.State))},
	}
	if !st.ReadyAt.IsZero() {
		fields = append(fields, [2]string{"Ready at", st.ReadyAt.Format(time.RFC3339)})
		if st.State == types.OperationWaiting {
			fields = append(fields, [2]string{"Remaining", time.Until(st.ReadyAt).Round(time.Second).String()})
		}
	}
	fmt.Println(StatusBox("Timelock operation", fields))
	return nil
}

func newTimelockStatusCmd() *cobra.Command {
	var opFlags operationFlags
	var gFlags governorFlags
	var id string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of an operation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if id != "" {
				opFlags.target = common.Address{}.Hex()
			}
			return withGovernor(&opFlags, &gFlags, func(ctx context.Context, s *scripts.Session, g *timelock.Governor, op timelock.Operation, _ *timelock.Proposal) error {
				target := op.ID()
				if id != "" {
					target = common.HexToHash(id)
				}
				st, err := g.Status(ctx, target)
				if err != nil {
					return err
				}
				return printStatus(st)
			})
		},
	}
	opFlags.register(cmd)
	gFlags.register(cmd)
	cmd.Flags().StringVar(&id, "id", "", "Operation id, instead of describing the operation")
	return cmd
}

func newTimelockWaitCmd() *cobra.Command {
	var opFlags operationFlags
	var gFlags governorFlags
	var poll time.Duration

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait until an operation is ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGovernor(&opFlags, &gFlags, func(ctx context.Context, s *scripts.Session, g *timelock.Governor, op timelock.Operation, _ *timelock.Proposal) error {
				var st *types.OperationStatus
				err := WithSpinner("Waiting for "+op.ID().Hex()[:10], func() error {
					var err error
					st, err = g.WaitReady(ctx, op.ID(), poll)
					return err
				})
				if err != nil {
					return err
				}
				return printStatus(st)
			})
		},
	}
	opFlags.register(cmd)
	gFlags.register(cmd)
	cmd.Flags().DurationVar(&poll, "poll", 15*time.Second, "Poll interval")
	return cmd
}
