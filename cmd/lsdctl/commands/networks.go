package commands

import (
	"fmt"
	"strconv"

	"github.com/lsdlabs/lsdctl/internal/logging"
	"github.com/spf13/cobra"
)

// NewNetworksCmd lists the configured networks.
func NewNetworksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "networks",
		Short: "List configured networks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			type entry struct {
				Name    string `json:"name"`
				ChainID int64  `json:"chain_id"`
				RPC     string `json:"rpc_url,omitempty"`
				Live    bool   `json:"live"`
				Default bool   `json:"default"`
			}
			var entries []entry
			var rows [][]string
			for _, name := range cfg.NetworkNames() {
				n, _ := cfg.Network(name)
				rpc := logging.RedactURL(n.RPCURL)
				if rpc == "" {
					rpc = "in-process"
				}
				e := entry{name, n.ChainID, rpc, n.Live, name == cfg.DefaultNetwork}
				entries = append(entries, e)
				marker := ""
				if e.Default {
					marker = "*"
				}
				live := ""
				if e.Live {
					live = "live"
				}
				rows = append(rows, []string{marker + name, strconv.FormatInt(n.ChainID, 10), rpc, live})
			}
			if ok, err := printJSON(entries); ok {
				return err
			}
			fmt.Println(RenderTable([]string{"NETWORK", "CHAIN ID", "RPC", ""}, rows))
			return nil
		},
	}
}
