package commands

import (
	"bytes"
	"math/big"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lsdlabs/lsdctl/internal/chain"
	"github.com/lsdlabs/lsdctl/internal/config"
	"github.com/lsdlabs/lsdctl/pkg/types"
	"github.com/spf13/cobra"
)

// runRoot executes the command tree against a fresh config in a temp dir
func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lsdctl.yaml")
	if err := config.DefaultConfig().Save(path); err != nil {
		t.Fatalf("Save config: %v", err)
	}
	loadedConfig = nil
	t.Cleanup(func() {
		loadedConfig = nil
		OutputFormat = ""
	})

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"-c", path, "-o", "plain"}, args...))
	err := root.Execute()
	return out.String(), err
}

func subcommandNames(cmd *cobra.Command) map[string]bool {
	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	return names
}

func TestNewRootCmd(t *testing.T) {
	root := NewRootCmd()
	if root.Use != "lsdctl" {
		t.Errorf("Use mismatch: got %s, want lsdctl", root.Use)
	}

	names := subcommandNames(root)
	for _, want := range []string{
		"run", "scripts", "accounts", "networks", "size", "timelock", "proxy",
		"revert", "secrets", "node", "config", "man", "completion", "version",
	} {
		if !names[want] {
			t.Errorf("missing subcommand %s", want)
		}
	}

	for _, flag := range []string{"config", "network", "log-level", "output", "yes"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("--%s flag should exist", flag)
		}
	}
}

func TestNewRunCmd(t *testing.T) {
	cmd := NewRunCmd()
	if cmd.Use != "run <script> [script...]" {
		t.Errorf("Use mismatch: got %s", cmd.Use)
	}
	if cmd.Flags().Lookup("set") == nil {
		t.Error("--set flag should exist")
	}

	completions, _ := cmd.ValidArgsFunction(cmd, nil, "")
	found := false
	for _, c := range completions {
		if strings.HasPrefix(c, "mars/deploy-v1\t") {
			found = true
		}
	}
	if !found {
		t.Errorf("completions should include mars/deploy-v1, got %v", completions)
	}
}

func TestNewTimelockCmd(t *testing.T) {
	cmd := NewTimelockCmd()
	names := subcommandNames(cmd)
	for _, want := range []string{"hash", "schedule", "execute", "cancel", "status", "wait"} {
		if !names[want] {
			t.Errorf("timelock is missing %s", want)
		}
	}
}

func TestNewProxyCmd(t *testing.T) {
	cmd := NewProxyCmd()
	names := subcommandNames(cmd)
	for _, want := range []string{"validate", "version", "owner", "upgrade"} {
		if !names[want] {
			t.Errorf("proxy is missing %s", want)
		}
	}

	upgrade, _, err := cmd.Find([]string{"upgrade"})
	if err != nil {
		t.Fatalf("Find upgrade: %v", err)
	}
	for _, flag := range []string{"kind", "unsafe-allow-renames", "unsafe-skip-storage-check", "call", "prepare-only", "from"} {
		if upgrade.Flags().Lookup(flag) == nil {
			t.Errorf("--%s flag should exist on proxy upgrade", flag)
		}
	}
}

func TestNewSecretsCmd(t *testing.T) {
	cmd := NewSecretsCmd()
	names := subcommandNames(cmd)
	for _, want := range []string{"init", "encrypt", "keyring"} {
		if !names[want] {
			t.Errorf("secrets is missing %s", want)
		}
	}
}

func TestNewNodeCmd(t *testing.T) {
	cmd := NewNodeCmd()
	if cmd.Use != "node" {
		t.Errorf("Use mismatch: got %s, want node", cmd.Use)
	}
	addr := cmd.Flags().Lookup("addr")
	if addr == nil {
		t.Fatal("--addr flag should exist")
	}
	if addr.DefValue != "127.0.0.1:8545" {
		t.Errorf("--addr default = %s", addr.DefValue)
	}
}

func TestUnsafeFlagsOptions(t *testing.T) {
	f := unsafeFlags{kind: "uups", allowRenames: true}
	opts, err := f.options()
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.Kind != types.ProxyKindUUPS || !opts.UnsafeAllowRenames {
		t.Errorf("unexpected options %+v", opts)
	}

	f.kind = "beacon"
	if _, err := f.options(); err == nil {
		t.Error("expected error for an unknown proxy kind")
	}
}

func TestParseAddress(t *testing.T) {
	addr, err := parseAddress("proxy", "0x5FbDB2315678afecb367f032d93F642f64180aa3")
	if err != nil {
		t.Fatalf("parseAddress: %v", err)
	}
	if addr.Hex() != "0x5FbDB2315678afecb367f032d93F642f64180aa3" {
		t.Errorf("got %s", addr.Hex())
	}
	if _, err := parseAddress("proxy", "mars"); err == nil {
		t.Error("expected error for a non address")
	}
}

func TestFormatEther(t *testing.T) {
	ether := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	tests := []struct {
		wei  *big.Int
		want string
	}{
		{nil, "0"},
		{big.NewInt(0), "0"},
		{ether, "1"},
		{new(big.Int).Mul(ether, big.NewInt(10000)), "10,000"},
		{new(big.Int).Div(new(big.Int).Mul(ether, big.NewInt(3)), big.NewInt(2)), "1.5"},
		{big.NewInt(16000000000000000), "0.016"},
	}
	for _, tt := range tests {
		if got := FormatEther(tt.wei); got != tt.want {
			t.Errorf("FormatEther(%v) = %s, want %s", tt.wei, got, tt.want)
		}
	}
}

func TestFormatAddress(t *testing.T) {
	got := FormatAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	if got != "0x5FbD...0aa3" {
		t.Errorf("got %s", got)
	}
	if got := FormatAddress("0x1234"); got != "0x1234" {
		t.Errorf("short address changed: %s", got)
	}
}

func TestRenderTablePlain(t *testing.T) {
	out := renderTablePlain([]string{"SCRIPT", "DESCRIPTION"}, [][]string{
		{"mars/deploy-v1", "Deploy"},
		{"bnb/upgrade-manager", "Upgrade"},
	})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), out)
	}
	if !strings.HasPrefix(lines[1], "mars/deploy-v1       Deploy") {
		t.Errorf("columns not aligned: %q", lines[1])
	}
	if renderTablePlain(nil, nil) != "" {
		t.Error("no headers should render nothing")
	}
}

func TestSelectorHex(t *testing.T) {
	data := chain.NewRevert("nope").Data
	if got := selectorHex(data); got != "0x08c379a0" {
		t.Errorf("selector = %s", got)
	}
	if got := selectorHex([]byte{0x01}); got != "0x01" {
		t.Errorf("short data = %s", got)
	}
}

func TestRevertDecodeCmd(t *testing.T) {
	data := hexutil.Encode(chain.NewRevert("nope").Data)
	if _, err := runRoot(t, "revert", "decode", data); err != nil {
		t.Fatalf("revert decode: %v", err)
	}
	if _, err := runRoot(t, "revert", "decode", "0xzz"); err == nil {
		t.Error("expected error for bad hex")
	}
}

func TestRunUnknownScript(t *testing.T) {
	_, err := runRoot(t, "run", "mars/deploy-v3")
	if err == nil || !strings.Contains(err.Error(), "mars/deploy-v3") {
		t.Errorf("expected unknown script error, got %v", err)
	}
}

func TestRunBadOverride(t *testing.T) {
	if _, err := runRoot(t, "run", "mars/deploy-v1", "--set", "mars.delay"); err == nil {
		t.Error("expected error for --set without =")
	}
}

func TestRunMarsUpgradeInProcess(t *testing.T) {
	out, err := runRoot(t, "run", "mars/deploy-v1", "mars/propose-upgrade", "mars/execute-upgrade")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	for _, want := range []string{
		"timelock ctl addr: 0x5FbDB2315678afecb367f032d93F642f64180aa3",
		"operation id:",
		"MarsV2 version: 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output should contain %q:\n%s", want, out)
		}
	}
}
