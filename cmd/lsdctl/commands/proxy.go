package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lsdlabs/lsdctl/internal/contracts"
	"github.com/lsdlabs/lsdctl/internal/scripts"
	"github.com/lsdlabs/lsdctl/internal/upgrades"
	"github.com/lsdlabs/lsdctl/pkg/types"
	"github.com/spf13/cobra"
)

// NewProxyCmd creates the UUPS proxy commands.
func NewProxyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Inspect, validate and upgrade UUPS proxies",
	}
	cmd.AddCommand(
		newProxyValidateCmd(),
		newProxyVersionCmd(),
		newProxyOwnerCmd(),
		newProxyUpgradeCmd(),
	)
	return cmd
}

type unsafeFlags struct {
	kind             string
	allowRenames     bool
	allowConstructor bool
	skipStorageCheck bool
}

func (f *unsafeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "kind", string(types.ProxyKindUUPS), "Proxy kind")
	cmd.Flags().BoolVar(&f.allowRenames, "unsafe-allow-renames", false, "Accept renamed storage variables")
	cmd.Flags().BoolVar(&f.allowConstructor, "unsafe-allow-constructor", false, "Accept constructors with arguments")
	cmd.Flags().BoolVar(&f.skipStorageCheck, "unsafe-skip-storage-check", false, "Skip the storage layout comparison")
}

func (f *unsafeFlags) options() (upgrades.Options, error) {
	kind, err := types.ParseProxyKind(f.kind)
	if err != nil {
		return upgrades.Options{}, err
	}
	return upgrades.Options{
		Kind:                   kind,
		UnsafeAllowRenames:     f.allowRenames,
		UnsafeAllowConstructor: f.allowConstructor,
		UnsafeSkipStorageCheck: f.skipStorageCheck,
	}, nil
}

func parseAddress(what, raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s must be an address, got %q", what, raw)
	}
	return common.HexToAddress(raw), nil
}

func printReport(r *upgrades.LayoutReport) error {
	if ok, err := printJSON(r); ok {
		if err != nil {
			return err
		}
		return r.Err()
	}
	if r.OK() {
		Success(fmt.Sprintf("%s -> %s is upgrade safe", r.Old, r.New))
		return nil
	}
	rows := make([][]string, len(r.Problems))
	for i, p := range r.Problems {
		rows[i] = []string{string(p.Kind), p.Label, p.Slot, p.Detail}
	}
	fmt.Println(RenderTable([]string{"PROBLEM", "VARIABLE", "SLOT", "DETAIL"}, rows))
	return r.Err()
}

func newProxyValidateCmd() *cobra.Command {
	var uf unsafeFlags
	var proxy string

	cmd := &cobra.Command{
		Use:   "validate <new-contract> [old-contract]",
		Short: "Check that an upgrade keeps the storage layout",
		Long: `Compare the storage layout of new-contract with old-contract, or with the
implementation currently behind --proxy, and check that new-contract is a
valid UUPS implementation.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := uf.options()
			if err != nil {
				return err
			}
			if len(args) == 2 {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				store, err := openStore(cfg.ArtifactsDir())
				if err != nil {
					return err
				}
				d := upgrades.NewDeployer(nil, store, nil, common.Address{}, opts)
				report, err := d.ValidateUpgradeByName(args[1], args[0])
				if err != nil {
					return err
				}
				return printReport(report)
			}
			if proxy == "" {
				return fmt.Errorf("give an old contract or --proxy")
			}
			addr, err := parseAddress("--proxy", proxy)
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
			d, err := s.Deployer(0, opts)
			if err != nil {
				return err
			}
			oldName, _, err := d.CurrentLayout(ctx, addr)
			if err != nil {
				return err
			}
			report, err := d.ValidateUpgradeByName(oldName, args[0])
			if err != nil {
				return err
			}
			return printReport(report)
		},
	}
	uf.register(cmd)
	cmd.Flags().StringVar(&proxy, "proxy", "", "Proxy whose current implementation is the old contract")
	return cmd
}

// withProxy opens a session and binds the proxy given as the first argument
func withProxy(args []string, fn func(ctx context.Context, s *scripts.Session, u *contracts.Upgradeable) error) error {
	addr, err := parseAddress("proxy", args[0])
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
	u, err := contracts.NewUpgradeable(s.Client, "proxy", addr, contracts.UpgradeableABI, contracts.StakeOwnerErrorsABI)
	if err != nil {
		return err
	}
	return fn(ctx, s, u)
}

func newProxyVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version <proxy>",
		Short: "Show the initializer version and implementation of a proxy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProxy(args, func(ctx context.Context, s *scripts.Session, u *contracts.Upgradeable) error {
				version, err := u.Version(ctx)
				if err != nil {
					return err
				}
				impl, err := u.Implementation(ctx)
				if err != nil {
					return err
				}
				if ok, err := printJSON(map[string]any{
					"proxy":          u.Address.Hex(),
					"version":        version,
					"implementation": impl.Hex(),
				}); ok {
					return err
				}
				fmt.Println(StatusBox("Proxy", [][2]string{
					{"Address", u.Address.Hex()},
					{"Version", strconv.Itoa(int(version))},
					{"Implementation", impl.Hex()},
				}))
				return nil
			})
		},
	}
}

func newProxyOwnerCmd() *cobra.Command {
	var transferTo string
	var from int

	cmd := &cobra.Command{
		Use:   "owner <proxy>",
		Short: "Show or transfer the owner of a proxy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProxy(args, func(ctx context.Context, s *scripts.Session, u *contracts.Upgradeable) error {
				if transferTo != "" {
					newOwner, err := parseAddress("--transfer-to", transferTo)
					if err != nil {
						return err
					}
					sender, err := s.Account(from)
					if err != nil {
						return err
					}
					if err := confirmLive(s, "Transfer ownership of "+u.Address.Hex()+" to "+newOwner.Hex()); err != nil {
						return err
					}
					receipt, err := u.TransferOwnership(ctx, sender, newOwner)
					if err != nil {
						return err
					}
					Success("ownership transferred in " + receipt.TxHash.Hex())
				}
				owner, err := u.Owner(ctx)
				if err != nil {
					return err
				}
				if ok, err := printJSON(map[string]string{"proxy": u.Address.Hex(), "owner": owner.Hex()}); ok {
					return err
				}
				fmt.Println(KeyValue("Owner", owner.Hex()))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&transferTo, "transfer-to", "", "Transfer ownership to this address")
	cmd.Flags().IntVar(&from, "from", 0, "Signer index of the current owner")
	return cmd
}

func newProxyUpgradeCmd() *cobra.Command {
	var uf unsafeFlags
	var from int
	var call string
	var prepareOnly bool

	cmd := &cobra.Command{
		Use:   "upgrade <proxy> <new-contract>",
		Short: "Validate, deploy and switch a proxy to a new implementation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress("proxy", args[0])
			if err != nil {
				return err
			}
			opts, err := uf.options()
			if err != nil {
				return err
			}
			initCall, err := hexutil.Decode(call)
			if err != nil {
				return fmt.Errorf("--call: %w", err)
			}

			ctx, cancel := commandContext()
			defer cancel()
			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			d, err := s.Deployer(0, opts)
			if err != nil {
				return err
			}
			sender, err := s.Account(from)
			if err != nil {
				return err
			}
			if err := confirmLive(s, "Upgrade "+addr.Hex()+" to "+args[1]); err != nil {
				return err
			}

			if prepareOnly {
				impl, err := d.PrepareUpgrade(ctx, addr, args[1])
				if err != nil {
					return err
				}
				data, err := upgrades.EncodeUpgradeCall(impl, initCall)
				if err != nil {
					return err
				}
				Success("implementation ready at " + impl.Hex())
				fmt.Println(KeyValue("Upgrade call", hexutil.Encode(data)))
				fmt.Println(Hint("schedule it with: lsdctl timelock schedule --target " + addr.Hex() + " --data <upgrade call>"))
				return nil
			}

			var res *upgrades.UpgradeResult
			err = WithSpinner("Upgrading "+FormatAddress(addr.Hex()), func() error {
				var err error
				res, err = d.UpgradeProxy(ctx, addr, args[1], upgrades.UpgradeOptions{From: sender, Call: initCall})
				return err
			})
			if err != nil {
				return err
			}
			Success("upgraded " + addr.Hex())
			fmt.Println(KeyValue("Implementation", res.Implementation.Hex()))
			fmt.Println(KeyValue("Tx", res.Receipt.TxHash.Hex()))
			return nil
		},
	}
	uf.register(cmd)
	cmd.Flags().IntVar(&from, "from", 0, "Signer index of the proxy owner")
	cmd.Flags().StringVar(&call, "call", "0x", "Calldata run on the new implementation after the upgrade (hex)")
	cmd.Flags().BoolVar(&prepareOnly, "prepare-only", false, "Deploy the implementation and print the upgrade call without sending it")
	return cmd
}
