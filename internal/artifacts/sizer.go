package artifacts

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/lsdlabs/lsdctl/internal/config"
	"github.com/olekukonko/tablewriter"
)

const (
	// MaxRuntimeSize is the EIP-170 deployed code limit
	MaxRuntimeSize = 24576
	// MaxInitCodeSize is the EIP-3860 initcode limit
	MaxInitCodeSize = 2 * MaxRuntimeSize
)

// ErrContractTooLarge is returned in strict mode when a contract exceeds a limit
var ErrContractTooLarge = errors.New("contract code size exceeds limit")

// ContractSize is one row of the size report
type ContractSize struct {
	Name        string
	RuntimeSize int
	InitSize    int
}

// Oversized reports whether either limit is exceeded
func (c ContractSize) Oversized() bool {
	return c.RuntimeSize > MaxRuntimeSize || c.InitSize > MaxInitCodeSize
}

// MeasureSizes computes the code sizes of every deployable artifact
func MeasureSizes(store *Store, opts config.ContractSizerConfig) ([]ContractSize, error) {
	all := store.All()
	names := make(map[string]int)
	for _, a := range all {
		names[a.ContractName]++
	}

	rows := make([]ContractSize, 0, len(all))
	var oversized []string
	for _, a := range all {
		if a.IsAbstract() {
			continue
		}
		runtime, err := a.RuntimeCode()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.FQN(), err)
		}
		initcode, err := a.CreationCode()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.FQN(), err)
		}

		name := a.ContractName
		if opts.DisambiguatePaths || names[name] > 1 {
			name = a.FQN()
		}
		row := ContractSize{Name: name, RuntimeSize: len(runtime), InitSize: len(initcode)}
		if row.Oversized() {
			oversized = append(oversized, name)
		}
		rows = append(rows, row)
	}

	if opts.AlphaSort {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	} else {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].RuntimeSize > rows[j].RuntimeSize })
	}

	if opts.Strict && len(oversized) > 0 {
		return rows, fmt.Errorf("%w: %s", ErrContractTooLarge, strings.Join(oversized, ", "))
	}
	return rows, nil
}

// RenderSizes writes the size report as a table
func RenderSizes(w io.Writer, rows []ContractSize) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Contract", "Size (KiB)", "Initcode (KiB)", ""})
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_LEFT,
	})

	for _, r := range rows {
		flag := ""
		if r.Oversized() {
			flag = "exceeds limit"
		}
		table.Append([]string{r.Name, kib(r.RuntimeSize), kib(r.InitSize), flag})
	}
	table.Render()
}

func kib(n int) string {
	return fmt.Sprintf("%.3f", float64(n)/1024)
}
