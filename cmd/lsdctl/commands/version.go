package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			if ok, _ := printJSON(map[string]string{
				"version":    GetVersion(),
				"commit":     GetCommit(),
				"build_date": BuildDate,
				"go":         GetGoVersion(),
				"platform":   runtime.GOOS + "/" + runtime.GOARCH,
			}); ok {
				return
			}
			fmt.Println(Logo())
			fmt.Printf("Version:    %s\n", GetVersion())
			fmt.Printf("Commit:     %s\n", GetCommit())
			fmt.Printf("Build Date: %s\n", BuildDate)
			fmt.Printf("Go Version: %s\n", GetGoVersion())
			fmt.Printf("OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
