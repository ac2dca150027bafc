package commands

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lsdlabs/lsdctl/internal/chain"
	"github.com/lsdlabs/lsdctl/internal/contracts"
	"github.com/spf13/cobra"
)

// NewRevertCmd creates the revert decoding command.
func NewRevertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revert",
		Short: "Decode revert data",
	}
	cmd.AddCommand(newRevertDecodeCmd())
	return cmd
}

// builtinErrorABIs carry every custom error of the bundled contracts
func builtinErrorABIs() []abi.ABI {
	return []abi.ABI{
		contracts.StakeOwnerErrorsABI,
		contracts.BnbStakeManagerV2ABI,
		contracts.BnbStakePoolABI,
		contracts.MaticStakeManagerABI,
		contracts.MaticStakePoolABI,
		contracts.FactoryABI,
		contracts.TimelockABI,
		contracts.MarsV2ABI,
		contracts.LsdTokenABI,
	}
}

func newRevertDecodeCmd() *cobra.Command {
	var names []string

	cmd := &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode revert data as Error(string), Panic(uint256) or a custom error",
		Example: `  lsdctl revert decode 0x08c379a0...
  lsdctl revert decode --contract StakeManager 0x3ec48b8a`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := hexutil.Decode(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("revert data: %w", err)
			}
			abis := builtinErrorABIs()
			if len(names) > 0 {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				store, err := openStore(cfg.ArtifactsDir())
				if err != nil {
					return err
				}
				// artifact ABIs go first so they win over the bundled ones
				own := make([]abi.ABI, 0, len(names))
				for _, name := range names {
					a, err := store.Get(name)
					if err != nil {
						return err
					}
					parsed, err := a.ParsedABI()
					if err != nil {
						return err
					}
					own = append(own, parsed)
				}
				abis = append(own, abis...)
			}
			return printRevert(chain.DecodeRevert(data, abis...))
		},
	}
	cmd.Flags().StringSliceVar(&names, "contract", nil, "Artifacts whose custom errors should be tried first")
	return cmd
}

func printRevert(re *chain.RevertError) error {
	args := make([]string, len(re.Args))
	for i, a := range re.Args {
		args[i] = fmt.Sprint(a)
	}
	if ok, err := printJSON(map[string]any{
		"selector":  selectorHex(re.Data),
		"name":      re.Name,
		"signature": re.Signature(),
		"args":      args,
		"reason":    re.Reason,
	}); ok {
		return err
	}
	fields := [][2]string{{"Selector", selectorHex(re.Data)}}
	if re.Name != "" {
		fields = append(fields, [2]string{"Error", re.Signature()})
	}
	fields = append(fields, [2]string{"Reason", re.Reason})
	fmt.Println(StatusBox("Revert", fields))
	return nil
}

func selectorHex(data []byte) string {
	if len(data) < 4 {
		return hexutil.Encode(data)
	}
	return hexutil.Encode(data[:4])
}
