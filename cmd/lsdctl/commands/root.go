package commands

import (
	"os"

	"github.com/lsdlabs/lsdctl/internal/logging"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the lsdctl command tree
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lsdctl",
		Short: "Deploy and upgrade liquid staking contracts",
		Long: `lsdctl deploys the BNB and Matic liquid staking contracts, validates
UUPS upgrades and routes them through a TimelockController.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := LogLevel
			if !cmd.Flags().Changed("log-level") {
				if cfg, err := loadConfig(); err == nil && cfg.Log.Level != "" {
					level = cfg.Log.Level
				}
			}
			return logging.Configure(os.Stderr, level, logFormat())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&ConfigPath, "config", "c", "", "Path to config file (default: ./lsdctl.yaml)")
	flags.StringVarP(&NetworkName, "network", "n", "", "Network to use (default: the config default network)")
	flags.StringVar(&LogLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	flags.StringVarP(&OutputFormat, "output", "o", "", "Output format: \"\" (auto), json, plain")
	flags.BoolVarP(&AssumeYes, "yes", "y", false, "Do not ask for confirmation on live networks")

	root.AddCommand(
		NewRunCmd(),
		NewScriptsCmd(),
		NewAccountsCmd(),
		NewNetworksCmd(),
		NewSizeCmd(),
		NewTimelockCmd(),
		NewProxyCmd(),
		NewRevertCmd(),
		NewSecretsCmd(),
		NewNodeCmd(),
		NewConfigCmd(),
		NewManCmd(),
		NewCompletionCmd(),
		NewVersionCmd(),
	)
	return root
}
