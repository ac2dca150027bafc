package upgrades

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lsdlabs/lsdctl/internal/artifacts"
	"github.com/lsdlabs/lsdctl/internal/chain"
	"github.com/lsdlabs/lsdctl/internal/config"
	"github.com/lsdlabs/lsdctl/internal/contracts"
	"github.com/lsdlabs/lsdctl/internal/devchain"
	"github.com/lsdlabs/lsdctl/internal/identity"
	"github.com/lsdlabs/lsdctl/internal/metrics"
	"github.com/lsdlabs/lsdctl/pkg/types"
)

type testEnv struct {
	deployer *Deployer
	client   *chain.Client
	store    *artifacts.Store
	accounts []common.Address
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	accounts, err := identity.DeriveAccounts(identity.DevMnemonic, config.DefaultDerivationPath, 4)
	if err != nil {
		t.Fatalf("DeriveAccounts failed: %v", err)
	}
	addrs := make([]common.Address, len(accounts))
	for i, a := range accounts {
		addrs[i] = a.Address
	}
	store := artifacts.NewStore("")
	dc := devchain.New(devchain.Config{
		Accounts: addrs,
		Store:    store,
		Metrics:  metrics.NewPrometheusCollector(metrics.NewCollector()),
	})
	client := dc.NewClient(config.InProcessNetwork, accounts)
	return &testEnv{
		deployer: NewDeployer(client, store, NewMemoryManifest(), addrs[0], Options{}),
		client:   client,
		store:    store,
		accounts: addrs,
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (e *testEnv) mars(t *testing.T, addr common.Address) *contracts.Mars {
	t.Helper()
	m, err := contracts.NewMars(e.client, addr)
	if err != nil {
		t.Fatalf("NewMars failed: %v", err)
	}
	return m
}

func TestDeployProxy_Mars(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	dep, err := env.deployer.DeployProxy(ctx, contracts.MarsName, []any{"Mars"}, ProxyOptions{})
	if err != nil {
		t.Fatalf("DeployProxy failed: %v", err)
	}
	if want := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"); dep.Implementation != want {
		t.Errorf("implementation: got %s, want %s", dep.Implementation.Hex(), want.Hex())
	}
	if want := common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"); dep.Proxy != want {
		t.Errorf("proxy: got %s, want %s", dep.Proxy.Hex(), want.Hex())
	}

	mars := env.mars(t, dep.Proxy)
	if v, err := mars.Version(ctx); err != nil || v != 1 {
		t.Errorf("version: got %d, %v", v, err)
	}
	if o, err := mars.Owner(ctx); err != nil || o != env.accounts[0] {
		t.Errorf("owner: got %s, %v", o.Hex(), err)
	}
	if n, err := mars.Name(ctx); err != nil || n != "Mars" {
		t.Errorf("name: got %q, %v", n, err)
	}

	m, err := env.deployer.Manifest().Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	rec, ok := m.Proxy(dep.Proxy)
	if !ok || rec.Implementation != dep.Implementation || rec.Kind != types.ProxyKindUUPS {
		t.Errorf("manifest proxy: got %+v", rec)
	}
	if impl, ok := m.ImplementationAt(dep.Implementation); !ok || impl.Layout == nil {
		t.Errorf("manifest implementation: got %+v", impl)
	}
}

func TestDeployProxy_NoInitializer(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	dep, err := env.deployer.DeployProxy(ctx, contracts.MarsName, nil, ProxyOptions{NoInitializer: true})
	if err != nil {
		t.Fatalf("DeployProxy failed: %v", err)
	}
	mars := env.mars(t, dep.Proxy)
	if v, err := mars.Version(ctx); err != nil || v != 0 {
		t.Errorf("version: got %d, %v", v, err)
	}
	if o, err := mars.Owner(ctx); err != nil || o != (common.Address{}) {
		t.Errorf("owner: got %s, %v", o.Hex(), err)
	}
}

func TestDeployProxy_Rejects(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	_, err := env.deployer.DeployProxy(ctx, contracts.MarsName, []any{"Mars"}, ProxyOptions{Kind: types.ProxyKindTransparent})
	if !errors.Is(err, ErrUnsupportedKind) {
		t.Errorf("transparent kind: got %v", err)
	}
	_, err = env.deployer.DeployProxy(ctx, contracts.LsdTokenName, nil, ProxyOptions{NoInitializer: true})
	if !errors.Is(err, ErrUnsafeUpgrade) {
		t.Errorf("non-UUPS contract: got %v", err)
	}
	_, err = env.deployer.DeployProxy(ctx, contracts.MarsName, []any{"Mars"}, ProxyOptions{Initializer: "setUp"})
	if err == nil {
		t.Error("unknown initializer should fail")
	}
	if n, _ := env.client.GetBlockNumber(ctx); n != 0 {
		t.Errorf("rejected deployments sent %d transactions", n)
	}
}

func TestDeployImplementation_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	first, err := env.deployer.DeployImplementation(ctx, contracts.MarsV2Name)
	if err != nil {
		t.Fatalf("DeployImplementation failed: %v", err)
	}
	second, err := env.deployer.DeployImplementation(ctx, contracts.MarsV2Name)
	if err != nil {
		t.Fatalf("second DeployImplementation failed: %v", err)
	}
	if first != second {
		t.Errorf("expected reuse of %s, got %s", first.Hex(), second.Hex())
	}
	if n, _ := env.client.GetBlockNumber(ctx); n != 1 {
		t.Errorf("expected a single deployment, head is %d", n)
	}
}

func TestUpgradeProxy_MarsWithReinitializer(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	dep, err := env.deployer.DeployProxy(ctx, contracts.MarsName, []any{"Mars"}, ProxyOptions{})
	if err != nil {
		t.Fatalf("DeployProxy failed: %v", err)
	}
	call, err := contracts.EncodeInitializeV2(2)
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.deployer.UpgradeProxy(ctx, dep.Proxy, contracts.MarsV2Name, UpgradeOptions{Call: call})
	if err != nil {
		t.Fatalf("UpgradeProxy failed: %v", err)
	}

	mars := env.mars(t, dep.Proxy)
	if v, err := mars.Version(ctx); err != nil || v != 2 {
		t.Errorf("version after upgrade: got %d, %v", v, err)
	}
	if n, _ := mars.Name(ctx); n != "Mars" {
		t.Errorf("name not preserved: got %q", n)
	}
	impl, err := contracts.ImplementationAt(ctx, env.client, dep.Proxy)
	if err != nil || impl != res.Implementation {
		t.Errorf("implementation slot: got %s, want %s", impl.Hex(), res.Implementation.Hex())
	}

	m, _ := env.deployer.Manifest().Load()
	if rec, ok := m.Proxy(dep.Proxy); !ok || rec.Implementation != res.Implementation || rec.Contract != contracts.MarsV2Name {
		t.Errorf("manifest not updated: %+v", rec)
	}
}

func TestUpgradeProxy_OnlyOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	dep, err := env.deployer.DeployProxy(ctx, contracts.MarsName, []any{"Mars"}, ProxyOptions{})
	if err != nil {
		t.Fatalf("DeployProxy failed: %v", err)
	}
	_, err = env.deployer.UpgradeProxy(ctx, dep.Proxy, contracts.MarsV2Name, UpgradeOptions{From: env.accounts[1]})
	revert, ok := chain.AsRevert(err)
	if !ok || revert.Message() != "Ownable: caller is not the owner" {
		t.Errorf("expected owner revert, got %v", err)
	}
	if v, _ := env.mars(t, dep.Proxy).Version(ctx); v != 1 {
		t.Errorf("version changed by a failed upgrade: %d", v)
	}
}

func TestUpgradeProxy_BnbStakeManager(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)
	voters := env.accounts[1:4]
	placeholder := common.HexToAddress("0x0cDcE3d8D17c0553270064cEe95C73F17534d5A0")

	dep, err := env.deployer.DeployProxy(ctx, contracts.BnbStakeManagerName,
		[]any{voters, big.NewInt(2), placeholder, placeholder, placeholder, env.accounts[0]},
		ProxyOptions{})
	if err != nil {
		t.Fatalf("DeployProxy failed: %v", err)
	}

	// other accounts hit the NotOwner custom error
	_, err = env.deployer.UpgradeProxy(ctx, dep.Proxy, contracts.BnbStakeManagerV2Name, UpgradeOptions{From: env.accounts[2]})
	if !errors.Is(err, &chain.RevertError{Name: "NotOwner"}) {
		t.Errorf("expected NotOwner, got %v", err)
	}

	call, err := contracts.EncodeInitV2("v2", big.NewInt(1))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.deployer.UpgradeProxy(ctx, dep.Proxy, contracts.BnbStakeManagerV2Name, UpgradeOptions{Call: call}); err != nil {
		t.Fatalf("UpgradeProxy failed: %v", err)
	}
	manager, err := contracts.NewBnbStakeManager(env.client, dep.Proxy)
	if err != nil {
		t.Fatal(err)
	}
	if got, err := manager.V2Var(ctx); err != nil || got != "v2" {
		t.Errorf("v2var: got %q, %v", got, err)
	}
	if got, err := manager.GetVoters(ctx); err != nil || len(got) != 3 {
		t.Errorf("voters not preserved: got %v, %v", got, err)
	}
}

func TestUpgradeProxy_IncompatibleLayout(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	dep, err := env.deployer.DeployProxy(ctx, contracts.BnbStakeManagerName, nil, ProxyOptions{NoInitializer: true})
	if err != nil {
		t.Fatalf("DeployProxy failed: %v", err)
	}
	head, _ := env.client.GetBlockNumber(ctx)

	_, err = env.deployer.UpgradeProxy(ctx, dep.Proxy, contracts.BnbStakePoolName, UpgradeOptions{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if verr.Report.Old != contracts.BnbStakeManagerName || !verr.Report.Has(ProblemDeleted) {
		t.Errorf("unexpected report: %+v", verr.Report)
	}
	if n, _ := env.client.GetBlockNumber(ctx); n != head {
		t.Errorf("a rejected upgrade sent transactions: head %d -> %d", head, n)
	}
}

func TestCurrentLayout_FallsBackToArtifacts(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	dep, err := env.deployer.DeployProxy(ctx, contracts.MarsName, []any{"Mars"}, ProxyOptions{})
	if err != nil {
		t.Fatalf("DeployProxy failed: %v", err)
	}

	// a second deployer has never seen the proxy
	fresh := NewDeployer(env.client, env.store, NewMemoryManifest(), env.accounts[0], Options{})
	name, layout, err := fresh.CurrentLayout(ctx, dep.Proxy)
	if err != nil {
		t.Fatalf("CurrentLayout failed: %v", err)
	}
	if name != contracts.MarsName || layout == nil {
		t.Errorf("got %s, %v", name, layout)
	}

	if _, _, err := fresh.CurrentLayout(ctx, env.accounts[1]); !errors.Is(err, ErrNotProxy) {
		t.Errorf("EOA: got %v", err)
	}
}

func TestPrepareUpgrade(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	dep, err := env.deployer.DeployProxy(ctx, contracts.MarsName, []any{"Mars"}, ProxyOptions{})
	if err != nil {
		t.Fatalf("DeployProxy failed: %v", err)
	}
	impl, err := env.deployer.PrepareUpgrade(ctx, dep.Proxy, contracts.MarsV2Name)
	if err != nil {
		t.Fatalf("PrepareUpgrade failed: %v", err)
	}
	current, _ := contracts.ImplementationAt(ctx, env.client, dep.Proxy)
	if current != dep.Implementation || impl == current {
		t.Errorf("PrepareUpgrade must not switch the proxy: slot %s, prepared %s", current.Hex(), impl.Hex())
	}
}

func TestEncodeUpgradeCall(t *testing.T) {
	impl := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	plain, err := EncodeUpgradeCall(impl, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := contracts.UpgradeableABI.Methods["upgradeTo"].ID; string(plain[:4]) != string(got) {
		t.Errorf("expected upgradeTo selector, got %x", plain[:4])
	}
	withCall, err := EncodeUpgradeCall(impl, []byte{0x01})
	if err != nil {
		t.Fatal(err)
	}
	if got := contracts.UpgradeableABI.Methods["upgradeToAndCall"].ID; string(withCall[:4]) != string(got) {
		t.Errorf("expected upgradeToAndCall selector, got %x", withCall[:4])
	}
}

func TestDecodeUpgradeCall(t *testing.T) {
	impl := common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	initCall, err := contracts.EncodeInitializeV2(2)
	if err != nil {
		t.Fatal(err)
	}
	data, err := EncodeUpgradeCall(impl, initCall)
	if err != nil {
		t.Fatal(err)
	}
	gotImpl, gotCall, err := DecodeUpgradeCall(data)
	if err != nil {
		t.Fatalf("DecodeUpgradeCall: %v", err)
	}
	if gotImpl != impl {
		t.Errorf("implementation = %s, want %s", gotImpl.Hex(), impl.Hex())
	}
	if string(gotCall) != string(initCall) {
		t.Errorf("init call = %x, want %x", gotCall, initCall)
	}

	plain, _ := EncodeUpgradeCall(impl, nil)
	if gotImpl, gotCall, err = DecodeUpgradeCall(plain); err != nil || gotImpl != impl || gotCall != nil {
		t.Errorf("upgradeTo decode = %s %x %v", gotImpl.Hex(), gotCall, err)
	}

	owner, _ := contracts.UpgradeableABI.Pack("transferOwnership", impl)
	if _, _, err := DecodeUpgradeCall(owner); err == nil {
		t.Error("expected error for a non upgrade call")
	}
	if _, _, err := DecodeUpgradeCall([]byte{0x01}); err == nil {
		t.Error("expected error for short data")
	}
}
