package commands

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/lsdlabs/lsdctl/internal/config"
	"github.com/lsdlabs/lsdctl/internal/logging"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCmd creates the config management commands.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigInitCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			shown := *cfg
			shown.Networks = make(map[string]config.NetworkConfig, len(cfg.Networks))
			for name, n := range cfg.Networks {
				n.RPCURL = logging.RedactURL(n.RPCURL)
				n.WSURL = logging.RedactURL(n.WSURL)
				n.ProxyURL = logging.RedactURL(n.ProxyURL)
				shown.Networks[name] = n
			}
			if ok, err := printJSON(shown); ok {
				return err
			}
			data, err := yaml.Marshal(&shown)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil && !force {
				if !isTTY() {
					return fmt.Errorf("%s already exists, pass --force to overwrite", path)
				}
				overwrite := false
				err := huh.NewForm(
					huh.NewGroup(
						huh.NewConfirm().
							Title("Config file already exists. Overwrite?").
							Description(path).
							Affirmative("Overwrite").
							Negative("Keep existing").
							Value(&overwrite),
					),
				).Run()
				if err != nil {
					return err
				}
				if !overwrite {
					Info("kept " + path)
					return nil
				}
			}
			if err := config.DefaultConfig().Save(path); err != nil {
				return err
			}
			Success("wrote " + path)
			fmt.Println(Hint("store a mnemonic with: lsdctl secrets store --network <name>"))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}
