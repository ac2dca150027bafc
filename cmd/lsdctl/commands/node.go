package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lsdlabs/lsdctl/internal/config"
	"github.com/lsdlabs/lsdctl/internal/devchain"
	"github.com/lsdlabs/lsdctl/internal/identity"
	"github.com/lsdlabs/lsdctl/internal/metrics"
	"github.com/spf13/cobra"
)

// NewNodeCmd creates the local dev node command.
func NewNodeCmd() *cobra.Command {
	var addr, metricsAddr string
	var hideKeys bool

	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run a local JSON-RPC dev chain",
		Long: `Serve the in-process dev chain over HTTP and websocket JSON-RPC, funded
from the dev accounts. Point a network at it with url: http://127.0.0.1:8545
and chain_id: 31337 to run scripts against a chain that outlives one command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			n, err := cfg.Network(config.InProcessNetwork)
			if err != nil {
				return err
			}
			accounts, _, err := identity.LoadSigners(config.InProcessNetwork, n, identity.LoadOptions{
				SecretsPath:      cfg.SecretsPath(n),
				AllowDevMnemonic: true,
				Passphrase:       identity.PassphraseSource(cfg.SecretsPath(n)),
			})
			if err != nil {
				return err
			}
			store, err := openStore(cfg.ArtifactsDir())
			if err != nil {
				return err
			}
			addrs := make([]common.Address, len(accounts))
			for i, a := range accounts {
				addrs[i] = a.Address
			}

			chain := devchain.New(devchain.Config{
				ChainID:  n.ChainID,
				Accounts: addrs,
				GasPrice: n.GasPriceWei(),
				Store:    store,
				Metrics:  metrics.Default(),
			})
			nodeCfg := devchain.DefaultNodeConfig()
			nodeCfg.Addr = addr
			nodeCfg.Accounts = addrs
			if metricsAddr == "" && cfg.Metrics.Enabled {
				metricsAddr = cfg.Metrics.Addr
			}
			nodeCfg.MetricsAddr = metricsAddr

			ctx, cancel := commandContext()
			defer cancel()
			node := devchain.NewNode(chain, nodeCfg)
			if err := node.Start(ctx); err != nil {
				return err
			}

			fmt.Println(StatusBox("Dev chain", [][2]string{
				{"HTTP", node.URL()},
				{"WebSocket", node.WSURL()},
				{"Chain ID", fmt.Sprint(n.ChainID)},
				{"Metrics", metricsLocation(node, metricsAddr)},
			}))
			balance, err := chain.Balance(addrs[0], nil)
			if err != nil {
				return err
			}
			rows := make([][]string, len(accounts))
			for i, a := range accounts {
				row := []string{fmt.Sprint(i), a.Address.Hex(), FormatEther(balance) + " ETH"}
				if !hideKeys {
					row = append(row, hexutil.Encode(crypto.FromECDSA(a.PrivateKey)))
				}
				rows[i] = row
			}
			headers := []string{"#", "ADDRESS", "BALANCE"}
			if !hideKeys {
				headers = append(headers, "PRIVATE KEY")
			}
			fmt.Println(RenderTable(headers, rows))
			if !hideKeys {
				Warning("these accounts and keys are publicly known, never send real funds to them")
			}

			<-ctx.Done()
			stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			if err := node.Stop(stopCtx); err != nil {
				return err
			}
			Info("dev chain stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", devchain.DefaultNodeConfig().Addr, "Listen address of the JSON-RPC endpoint")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics on a separate listener")
	cmd.Flags().BoolVar(&hideKeys, "hide-keys", false, "Do not print the account private keys")
	return cmd
}

func metricsLocation(node *devchain.Node, metricsAddr string) string {
	if metricsAddr != "" {
		return "http://" + metricsAddr + "/metrics"
	}
	return node.URL() + "/metrics"
}
