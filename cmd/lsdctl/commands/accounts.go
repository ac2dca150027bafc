package commands

import (
	"fmt"
	"math/big"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// NewAccountsCmd lists the signer accounts of the selected network.
func NewAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List signer accounts and balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext()
			defer cancel()
			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			type entry struct {
				Index   int    `json:"index"`
				Address string `json:"address"`
				Balance string `json:"balance_wei"`
			}
			entries := make([]entry, 0, len(s.Accounts))
			balances := make([]*big.Int, 0, len(s.Accounts))
			for i, addr := range s.Accounts {
				bal, err := s.Client.GetBalance(ctx, addr)
				if err != nil {
					return fmt.Errorf("balance of %s: %w", addr.Hex(), err)
				}
				entries = append(entries, entry{Index: i, Address: addr.Hex(), Balance: bal.String()})
				balances = append(balances, bal)
			}
			if ok, err := printJSON(entries); ok {
				return err
			}

			fmt.Println(KeyValue("Network", s.Network))
			fmt.Println(KeyValue("Signers", string(s.SignerKind)))
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"#", "Address", "Balance"})
			table.SetAutoWrapText(false)
			table.SetColumnAlignment([]int{
				tablewriter.ALIGN_RIGHT,
				tablewriter.ALIGN_LEFT,
				tablewriter.ALIGN_RIGHT,
			})
			for i, e := range entries {
				table.Append([]string{strconv.Itoa(e.Index), e.Address, FormatEther(balances[i])})
			}
			table.Render()
			return nil
		},
	}
}
