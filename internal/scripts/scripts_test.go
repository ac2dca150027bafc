package scripts

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lsdlabs/lsdctl/internal/config"
	"github.com/lsdlabs/lsdctl/internal/contracts"
	"github.com/lsdlabs/lsdctl/internal/identity"
	"github.com/lsdlabs/lsdctl/internal/metrics"
	"github.com/lsdlabs/lsdctl/internal/timelock"
)

var (
	firstDeploy  = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	secondDeploy = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestEnv(t *testing.T, overrides map[string]string) (*Env, *bytes.Buffer) {
	t.Helper()
	accounts, err := identity.DeriveAccounts(identity.DevMnemonic, config.DefaultDerivationPath, 5)
	if err != nil {
		t.Fatalf("DeriveAccounts failed: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.Paths.Root = t.TempDir()
	s, err := Open(testContext(t), cfg, config.InProcessNetwork, SessionOptions{
		Accounts: accounts,
		Metrics:  metrics.NewPrometheusCollector(metrics.NewCollector()),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(s.Close)
	out := &bytes.Buffer{}
	return NewEnv(s, out, overrides), out
}

func run(t *testing.T, env *Env, names ...string) {
	t.Helper()
	if err := Default.Run(testContext(t), env, names...); err != nil {
		t.Fatalf("Run(%v) failed: %v", names, err)
	}
}

func TestDefaultRegistry(t *testing.T) {
	want := []string{
		"bnb/deploy-proxies",
		"bnb/deploy-testnet",
		"bnb/upgrade-manager",
		"mars/deploy-v1",
		"mars/execute-upgrade",
		"mars/propose-upgrade",
		"matic/deploy-factory",
		"matic/deploy-v1",
		"matic/execute-upgrade",
		"matic/propose-upgrade",
	}
	list := Default.List()
	if len(list) != len(want) {
		t.Fatalf("expected %d scripts, got %d", len(want), len(list))
	}
	for i, s := range list {
		if s.Name != want[i] {
			t.Errorf("script %d: expected %s, got %s", i, want[i], s.Name)
		}
		if s.Description == "" {
			t.Errorf("script %s has no description", s.Name)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, *Env) error { return nil }
	if err := r.Register(Script{Name: "a", Run: noop}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(Script{Name: "a", Run: noop}); err == nil {
		t.Error("expected duplicate registration to fail")
	}
	if err := r.Register(Script{Name: "b"}); err == nil {
		t.Error("expected script without run function to fail")
	}
	if _, err := r.Get("missing"); !errors.Is(err, ErrUnknownScript) {
		t.Errorf("expected ErrUnknownScript, got %v", err)
	}
}

func TestRegistry_RunStopsAtFirstFailure(t *testing.T) {
	env, _ := newTestEnv(t, nil)
	r := NewRegistry()
	var ran []string
	boom := errors.New("boom")
	r.MustRegister(
		Script{Name: "one", Run: func(context.Context, *Env) error { ran = append(ran, "one"); return nil }},
		Script{Name: "two", Run: func(context.Context, *Env) error { ran = append(ran, "two"); return boom }},
		Script{Name: "three", Run: func(context.Context, *Env) error { ran = append(ran, "three"); return nil }},
	)

	if err := r.Run(testContext(t), env, "one", "missing"); !errors.Is(err, ErrUnknownScript) {
		t.Errorf("expected unknown script error before running anything, got %v", err)
	}
	if len(ran) != 0 {
		t.Errorf("expected nothing to run, got %v", ran)
	}

	err := r.Run(testContext(t), env, "one", "two", "three")
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped failure, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "script two") {
		t.Errorf("expected error to name the script, got %v", err)
	}
	if strings.Join(ran, ",") != "one,two" {
		t.Errorf("expected one,two to run, got %v", ran)
	}
}

func TestParseOverrides(t *testing.T) {
	got, err := ParseOverrides([]string{"mars.delay=20", " bnb.v2var = v2 ", "empty="})
	if err != nil {
		t.Fatalf("ParseOverrides failed: %v", err)
	}
	if got["mars.delay"] != "20" || got["bnb.v2var"] != "v2" || got["empty"] != "" {
		t.Errorf("unexpected overrides: %v", got)
	}
	for _, bad := range []string{"novalue", "=x"} {
		if _, err := ParseOverrides([]string{bad}); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestEnv_AddressResolution(t *testing.T) {
	set := common.HexToAddress("0x1111111111111111111111111111111111111111")
	booked := common.HexToAddress("0x2222222222222222222222222222222222222222")
	configured := common.HexToAddress("0x3333333333333333333333333333333333333333")
	def := common.HexToAddress("0x4444444444444444444444444444444444444444")

	env, _ := newTestEnv(t, map[string]string{"k": set.Hex(), "bad": "0x12"})
	env.NetConfig.Addresses = map[string]string{"k": configured.Hex(), "c": configured.Hex(), "b": configured.Hex()}
	if err := env.Record("k", booked); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := env.Record("b", booked); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	tests := []struct {
		key  string
		want common.Address
	}{
		{"k", set},
		{"b", booked},
		{"c", configured},
		{"d", def},
	}
	for _, tt := range tests {
		got, err := env.Address(tt.key, def)
		if err != nil {
			t.Errorf("Address(%s) failed: %v", tt.key, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Address(%s): expected %s, got %s", tt.key, tt.want.Hex(), got.Hex())
		}
	}

	if _, err := env.Address("bad", def); err == nil {
		t.Error("expected invalid override to fail")
	}
	if _, err := env.Address("unset", common.Address{}); err == nil || !strings.Contains(err.Error(), "--set unset=") {
		t.Errorf("expected a hint to set the key, got %v", err)
	}

	acc, err := env.AccountAddress("unset", 1)
	if err != nil {
		t.Fatalf("AccountAddress failed: %v", err)
	}
	if acc != env.Accounts[1] {
		t.Errorf("expected fallback to account 1, got %s", acc.Hex())
	}
	if _, err := env.AccountAddress("bad", 1); err == nil {
		t.Error("expected an invalid override not to fall back to the signer")
	}
}

func TestEnv_Uint(t *testing.T) {
	env, _ := newTestEnv(t, map[string]string{"n": "0x10", "neg": "-1", "text": "ten"})
	if v, err := env.Uint("n", 1); err != nil || v.Int64() != 16 {
		t.Errorf("expected 16, got %v (%v)", v, err)
	}
	if v, err := env.Uint("missing", 7); err != nil || v.Int64() != 7 {
		t.Errorf("expected default 7, got %v (%v)", v, err)
	}
	for _, key := range []string{"neg", "text"} {
		if _, err := env.Uint(key, 0); err == nil {
			t.Errorf("expected %s to be rejected", key)
		}
	}
}

func TestAddressBook_File(t *testing.T) {
	path := AddressBookPath(t.TempDir(), "localhost", 31337)
	if filepath.Base(path) != "localhost-31337.addresses.yaml" {
		t.Errorf("unexpected book path %s", path)
	}
	b, err := NewAddressBook(path)
	if err != nil {
		t.Fatalf("NewAddressBook failed: %v", err)
	}
	if err := b.Set("mars.proxy", secondDeploy); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := b.Set("mars.timelock", firstDeploy); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	reloaded, err := NewAddressBook(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if got, ok := reloaded.Get("mars.proxy"); !ok || got != secondDeploy {
		t.Errorf("expected %s, got %s (%v)", secondDeploy.Hex(), got.Hex(), ok)
	}
	if keys := strings.Join(reloaded.Keys(), ","); keys != "mars.proxy,mars.timelock" {
		t.Errorf("unexpected keys %s", keys)
	}
	if _, ok := reloaded.Get("missing"); ok {
		t.Error("expected missing key to be absent")
	}
}

func TestMarsUpgradeFlow(t *testing.T) {
	env, out := newTestEnv(t, nil)
	run(t, env, "mars/deploy-v1", "mars/propose-upgrade", "mars/execute-upgrade")

	tl, ok := env.Book.Get("mars.timelock")
	if !ok || tl != firstDeploy {
		t.Errorf("expected timelock at %s, got %s", firstDeploy.Hex(), tl.Hex())
	}
	v2, ok := env.Book.Get("mars.v2Impl")
	if !ok || v2 != secondDeploy {
		t.Errorf("expected MarsV2 at %s, got %s", secondDeploy.Hex(), v2.Hex())
	}
	proxy, _ := env.Book.Get("mars.proxy")
	mars, err := contracts.NewMars(env.Client, proxy)
	if err != nil {
		t.Fatalf("NewMars failed: %v", err)
	}
	version, err := mars.Version(testContext(t))
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if version != 2 {
		t.Errorf("expected version 2, got %d", version)
	}
	if owner, _ := mars.Owner(testContext(t)); owner != tl {
		t.Errorf("expected timelock to own the proxy, got %s", owner.Hex())
	}
	for _, line := range []string{"Mars version: 1", "operation id: 0x", "MarsV2 version: 2"} {
		if !strings.Contains(out.String(), line) {
			t.Errorf("expected output to contain %q, got:\n%s", line, out.String())
		}
	}

	err = Default.Run(testContext(t), env, "mars/execute-upgrade")
	if !errors.Is(err, timelock.ErrAlreadyDone) {
		t.Errorf("expected ErrAlreadyDone on second execute, got %v", err)
	}
}

func TestMarsExecuteWithoutProposal(t *testing.T) {
	env, _ := newTestEnv(t, nil)
	run(t, env, "mars/deploy-v1")
	err := Default.Run(testContext(t), env, "mars/execute-upgrade")
	if !errors.Is(err, timelock.ErrNotScheduled) {
		t.Errorf("expected ErrNotScheduled, got %v", err)
	}
}

func TestMarsProposeRequiresDeployment(t *testing.T) {
	env, _ := newTestEnv(t, nil)
	err := Default.Run(testContext(t), env, "mars/propose-upgrade")
	if err == nil || !strings.Contains(err.Error(), "no contract deployed") {
		t.Errorf("expected missing timelock error, got %v", err)
	}
}

func TestMaticUpgradeFlow(t *testing.T) {
	env, out := newTestEnv(t, nil)
	run(t, env, "matic/deploy-v1", "matic/propose-upgrade", "matic/execute-upgrade")

	tl, _ := env.Book.Get("matic.timelock")
	gov, err := timelock.NewGovernor(env.Client, tl, timelock.Roles{})
	if err != nil {
		t.Fatalf("NewGovernor failed: %v", err)
	}
	minDelay, err := gov.MinDelay(testContext(t))
	if err != nil {
		t.Fatalf("MinDelay failed: %v", err)
	}
	if minDelay.Int64() != 100 {
		t.Errorf("expected min delay 100, got %s", minDelay)
	}

	proxy, _ := env.Book.Get("matic.proxy")
	v2, _ := env.Book.Get("matic.v2Impl")
	mars, err := contracts.NewMars(env.Client, proxy)
	if err != nil {
		t.Fatalf("NewMars failed: %v", err)
	}
	impl, err := mars.Implementation(testContext(t))
	if err != nil {
		t.Fatalf("Implementation failed: %v", err)
	}
	if impl != v2 {
		t.Errorf("expected implementation %s, got %s", v2.Hex(), impl.Hex())
	}
	version, err := mars.Version(testContext(t))
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if version != 2 {
		t.Errorf("expected version 2, got %d", version)
	}
	if !strings.Contains(out.String(), "MarsV2 version: 2") {
		t.Errorf("expected execute to report version 2, got:\n%s", out.String())
	}
}

func TestMaticProposeDelayTooShort(t *testing.T) {
	env, _ := newTestEnv(t, map[string]string{"matic.delay": "10"})
	run(t, env, "matic/deploy-v1")
	err := Default.Run(testContext(t), env, "matic/propose-upgrade")
	if !errors.Is(err, timelock.ErrDelayTooShort) {
		t.Errorf("expected ErrDelayTooShort, got %v", err)
	}
}

func TestMaticDeployFactory(t *testing.T) {
	env, out := newTestEnv(t, nil)
	run(t, env, "matic/deploy-factory")

	addr, ok := env.Book.Get("matic.factory")
	if !ok {
		t.Fatal("expected factory proxy to be recorded")
	}
	factory, err := contracts.NewLsdNetworkFactory(env.Client, addr)
	if err != nil {
		t.Fatalf("NewLsdNetworkFactory failed: %v", err)
	}
	ctx := testContext(t)
	if admin, _ := factory.FactoryAdmin(ctx); admin != env.Accounts[1] {
		t.Errorf("expected factory admin %s, got %s", env.Accounts[1].Hex(), admin.Hex())
	}
	stakeToken, _ := env.Book.Get("matic.stakeToken")
	if got, _ := factory.StakeToken(ctx); got != stakeToken {
		t.Errorf("expected stake token %s, got %s", stakeToken.Hex(), got.Hex())
	}
	token, err := contracts.NewERC20(env.Client, stakeToken)
	if err != nil {
		t.Fatalf("NewERC20 failed: %v", err)
	}
	if symbol, _ := token.Symbol(ctx); symbol != "DMTK" {
		t.Errorf("expected dummy token symbol DMTK, got %q", symbol)
	}
	managerLogic, _ := env.Book.Get("matic.stakeManagerLogic")
	if got, _ := factory.StakeManagerLogic(ctx); got != managerLogic {
		t.Errorf("expected manager logic %s, got %s", managerLogic.Hex(), got.Hex())
	}
	if !strings.Contains(out.String(), "factoryAdmin: "+env.Accounts[1].Hex()) {
		t.Errorf("expected factoryAdmin in output, got:\n%s", out.String())
	}
}

func TestMaticDeployFactory_ExplicitAdmin(t *testing.T) {
	env, _ := newTestEnv(t, nil)
	admin := env.Accounts[4]
	env.overrides["matic.factoryAdmin"] = admin.Hex()
	run(t, env, "matic/deploy-factory")

	addr, _ := env.Book.Get("matic.factory")
	factory, err := contracts.NewLsdNetworkFactory(env.Client, addr)
	if err != nil {
		t.Fatalf("NewLsdNetworkFactory failed: %v", err)
	}
	if got, _ := factory.FactoryAdmin(testContext(t)); got != admin {
		t.Errorf("expected factory admin %s, got %s", admin.Hex(), got.Hex())
	}
}

func TestBnbDeployAndInitialize(t *testing.T) {
	env, out := newTestEnv(t, nil)
	run(t, env, "bnb/deploy-proxies", "bnb/deploy-testnet")

	ctx := testContext(t)
	managerAddr, _ := env.Book.Get("bnb.stakeManagerProxy")
	poolAddr, _ := env.Book.Get("bnb.stakePoolProxy")
	tokenAddr, _ := env.Book.Get("bnb.lsdToken")

	manager, err := contracts.NewBnbStakeManager(env.Client, managerAddr)
	if err != nil {
		t.Fatalf("NewBnbStakeManager failed: %v", err)
	}
	if v, _ := manager.Version(ctx); v != 1 {
		t.Errorf("expected manager version 1, got %d", v)
	}
	if owner, _ := manager.Owner(ctx); owner != env.Accounts[1] {
		t.Errorf("expected admin to own the manager, got %s", owner.Hex())
	}
	voters, err := manager.GetVoters(ctx)
	if err != nil {
		t.Fatalf("GetVoters failed: %v", err)
	}
	if len(voters) != 3 || voters[0] != env.Accounts[2] {
		t.Errorf("unexpected voters %v", voters)
	}
	if got, _ := manager.LsdToken(ctx); got != tokenAddr {
		t.Errorf("expected lsd token %s, got %s", tokenAddr.Hex(), got.Hex())
	}

	pool, err := contracts.NewBnbStakePool(env.Client, poolAddr)
	if err != nil {
		t.Fatalf("NewBnbStakePool failed: %v", err)
	}
	if got, _ := pool.GovStaking(ctx); got != contracts.BnbGovStaking {
		t.Errorf("expected gov staking %s, got %s", contracts.BnbGovStaking.Hex(), got.Hex())
	}
	if got, _ := pool.StakeManagerAddress(ctx); got != managerAddr {
		t.Errorf("expected pool manager %s, got %s", managerAddr.Hex(), got.Hex())
	}

	token, err := contracts.NewLsdToken(env.Client, tokenAddr)
	if err != nil {
		t.Fatalf("NewLsdToken failed: %v", err)
	}
	if minter, _ := token.Minter(ctx); minter != managerAddr {
		t.Errorf("expected manager to mint, got %s", minter.Hex())
	}
	if !strings.Contains(out.String(), "ZeroWithdrawAmount()") {
		t.Errorf("expected decoded withdraw revert, got:\n%s", out.String())
	}

	// a second run finds both proxies initialized
	head, _ := env.Client.GetBlockNumber(ctx)
	out.Reset()
	run(t, env, "bnb/deploy-testnet")
	if after, _ := env.Client.GetBlockNumber(ctx); after != head {
		t.Errorf("expected no transactions on rerun, head moved %d -> %d", head, after)
	}
	if strings.Contains(out.String(), "Initializing") {
		t.Errorf("expected no initialization on rerun, got:\n%s", out.String())
	}
}

func TestBnbDeployTestnet_MissingContracts(t *testing.T) {
	env, _ := newTestEnv(t, nil)
	err := Default.Run(testContext(t), env, "bnb/deploy-testnet")
	if err == nil || !strings.Contains(err.Error(), "no contract deployed") {
		t.Errorf("expected missing contract error, got %v", err)
	}
}

func TestBnbUpgradeManager(t *testing.T) {
	env, out := newTestEnv(t, map[string]string{
		"bnb.managerArtifact":       contracts.BnbStakeManagerV2Name,
		"bnb.v2var":                 "v2",
		"bnb.protocolFeeCommission": "1",
	})
	run(t, env, "bnb/deploy-proxies", "bnb/deploy-testnet", "bnb/upgrade-manager")

	ctx := testContext(t)
	managerAddr, _ := env.Book.Get("bnb.stakeManagerProxy")
	manager, err := contracts.NewBnbStakeManager(env.Client, managerAddr)
	if err != nil {
		t.Fatalf("NewBnbStakeManager failed: %v", err)
	}
	if got, err := manager.V2Var(ctx); err != nil || got != "v2" {
		t.Errorf("expected v2var v2, got %q (%v)", got, err)
	}
	if fee, _ := manager.ProtocolFeeCommission(ctx); fee.Int64() != 1 {
		t.Errorf("expected commission 1, got %s", fee)
	}
	if !strings.Contains(out.String(), "new implementation: 0x") {
		t.Errorf("expected new implementation in output, got:\n%s", out.String())
	}
}

func TestBnbUpgradeManager_NotOwner(t *testing.T) {
	env, _ := newTestEnv(t, nil)
	env.overrides["bnb.upgrader"] = env.Accounts[3].Hex()
	run(t, env, "bnb/deploy-proxies", "bnb/deploy-testnet")

	err := Default.Run(testContext(t), env, "bnb/upgrade-manager")
	if err == nil || !strings.Contains(err.Error(), "NotOwner") {
		t.Errorf("expected NotOwner revert, got %v", err)
	}
}
