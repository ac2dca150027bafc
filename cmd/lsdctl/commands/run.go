package commands

import (
	"fmt"

	"github.com/lsdlabs/lsdctl/internal/scripts"
	"github.com/spf13/cobra"
)

// NewRunCmd creates the script runner command.
func NewRunCmd() *cobra.Command {
	var sets []string

	cmd := &cobra.Command{
		Use:   "run <script> [script...]",
		Short: "Run deployment scripts",
		Long: `Run one or more registered scripts in order on the selected network.

Scripts share one connection, so on the in-process network later scripts
see what earlier ones deployed:

  lsdctl run mars/deploy-v1 mars/propose-upgrade mars/execute-upgrade

Addresses and parameters can be overridden with --set key=value, e.g.
--set mars.delay=20 or --set bnb.stakeManagerProxy=0x...`,
		Args: cobra.MinimumNArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			var names []string
			for _, s := range scripts.Default.List() {
				names = append(names, s.Name+"\t"+s.Description)
			}
			return names, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range args {
				if _, err := scripts.Default.Get(name); err != nil {
					return err
				}
			}
			overrides, err := scripts.ParseOverrides(sets)
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
			if err := confirmLive(s, fmt.Sprintf("Run %v", args)); err != nil {
				return err
			}

			env := scripts.NewEnv(s, cmd.OutOrStdout(), overrides)
			if err := scripts.Default.Run(ctx, env, args...); err != nil {
				return err
			}
			if s.Book.Path() != "" {
				fmt.Println(Hint("addresses recorded in " + s.Book.Path()))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&sets, "set", nil, "Override a script parameter (key=value, repeatable)")
	return cmd
}

// NewScriptsCmd lists the registered scripts.
func NewScriptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scripts",
		Short: "List available scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list := scripts.Default.List()
			type entry struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			entries := make([]entry, len(list))
			rows := make([][]string, len(list))
			for i, s := range list {
				entries[i] = entry{s.Name, s.Description}
				rows[i] = []string{s.Name, s.Description}
			}
			if ok, err := printJSON(entries); ok {
				return err
			}
			fmt.Println(RenderTable([]string{"SCRIPT", "DESCRIPTION"}, rows))
			return nil
		},
	}
}
