package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/lsdlabs/lsdctl/internal/artifacts"
	"github.com/lsdlabs/lsdctl/internal/logging"
	"github.com/spf13/cobra"
)

// NewSizeCmd reports deployed code sizes of the compiled contracts.
func NewSizeCmd() *cobra.Command {
	var watch bool
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "size",
		Short: "Report contract code sizes",
		Long: `Report the runtime and init code size of every compiled contract
against the EIP-170 and EIP-3860 limits. With --watch the report is
refreshed whenever the artifacts directory changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store := artifacts.NewStore(cfg.ArtifactsDir())
			report := func() error {
				if err := store.Reload(); err != nil {
					return err
				}
				for _, w := range store.CheckCompiler(cfg.Compiler) {
					Warning(w)
				}
				rows, err := artifacts.MeasureSizes(store, cfg.ContractSizer)
				if ok, jerr := printJSON(rows); ok {
					if jerr != nil {
						return jerr
					}
					return err
				}
				artifacts.RenderSizes(os.Stdout, rows)
				return err
			}
			if err := report(); err != nil && !watch {
				return err
			}
			if !watch {
				return nil
			}

			ctx, cancel := commandContext()
			defer cancel()
			fmt.Println(Hint("watching " + cfg.ArtifactsDir() + ", ctrl-c to stop"))
			return artifacts.Watch(ctx, cfg.ArtifactsDir(), debounce, func() {
				if err := report(); err != nil {
					logging.Warn("size report failed", logging.Err(err), logging.Component("cli"))
				}
			})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Re-run when artifacts change")
	cmd.Flags().DurationVar(&debounce, "debounce", artifacts.DefaultDebounce, "Quiet period before re-running")
	return cmd
}
