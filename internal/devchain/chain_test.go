package devchain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lsdlabs/lsdctl/internal/artifacts"
	"github.com/lsdlabs/lsdctl/internal/chain"
	"github.com/lsdlabs/lsdctl/internal/config"
	"github.com/lsdlabs/lsdctl/internal/contracts"
	"github.com/lsdlabs/lsdctl/internal/identity"
	"github.com/lsdlabs/lsdctl/internal/metrics"
)

type testEnv struct {
	chain    *Chain
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
	c := New(Config{
		Accounts: addrs,
		Store:    store,
		Metrics:  metrics.NewPrometheusCollector(metrics.NewCollector()),
	})
	client := chain.NewWithBackend(&chain.Config{Network: config.InProcessNetwork, ChainID: DefaultChainID}, c.Backend())
	for _, a := range accounts {
		client.AddSigner(a.PrivateKey)
	}
	return &testEnv{chain: c, client: client, store: store, accounts: addrs}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// deployMars deploys Mars behind an ERC1967Proxy initialized by acc0
func (e *testEnv) deployMars(ctx context.Context, t *testing.T) (impl, proxy common.Address) {
	t.Helper()
	impl, _, err := contracts.Deploy(ctx, e.client, e.store, e.accounts[0], contracts.MarsName)
	if err != nil {
		t.Fatalf("deploy Mars: %v", err)
	}
	data, err := contracts.EncodeMarsInitialize("Mars")
	if err != nil {
		t.Fatalf("encode initialize: %v", err)
	}
	proxy, _, err = contracts.DeployERC1967Proxy(ctx, e.client, e.store, e.accounts[0], impl, data)
	if err != nil {
		t.Fatalf("deploy proxy: %v", err)
	}
	return impl, proxy
}

func revertReason(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatal("expected a revert, got nil")
	}
	re, ok := chain.AsRevert(err)
	if !ok {
		t.Fatalf("expected a revert, got %v", err)
	}
	return re.Message()
}

func TestGenesisFundsAccounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	for _, a := range env.accounts {
		bal, err := env.client.GetBalance(ctx, a)
		if err != nil {
			t.Fatalf("GetBalance failed: %v", err)
		}
		if bal.Cmp(DefaultBalance) != 0 {
			t.Errorf("%s: got %s, want %s", a.Hex(), bal, DefaultBalance)
		}
	}
	if env.chain.Head() != 0 {
		t.Errorf("head: got %d, want 0", env.chain.Head())
	}
}

func TestDeployAddressesMatchHardhat(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	first, _, err := contracts.Deploy(ctx, env.client, env.store, env.accounts[0], contracts.MarsName)
	if err != nil {
		t.Fatalf("deploy Mars: %v", err)
	}
	if want := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"); first != want {
		t.Errorf("first deployment: got %s, want %s", first.Hex(), want.Hex())
	}
	second, _, err := contracts.Deploy(ctx, env.client, env.store, env.accounts[0], contracts.MarsV2Name)
	if err != nil {
		t.Fatalf("deploy MarsV2: %v", err)
	}
	if want := common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"); second != want {
		t.Errorf("second deployment: got %s, want %s", second.Hex(), want.Hex())
	}
	if got := env.chain.ModelAt(second); got != contracts.MarsV2Name {
		t.Errorf("model: got %q", got)
	}
}

func TestMarsProxyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)
	_, proxy := env.deployMars(ctx, t)

	mars, err := contracts.NewMars(env.client, proxy)
	if err != nil {
		t.Fatalf("NewMars failed: %v", err)
	}
	name, err := mars.Name(ctx)
	if err != nil || name != "Mars" {
		t.Errorf("name: got %q, %v", name, err)
	}
	owner, err := mars.Owner(ctx)
	if err != nil || owner != env.accounts[0] {
		t.Errorf("owner: got %s, %v", owner.Hex(), err)
	}
	version, err := mars.Version(ctx)
	if err != nil || version != 1 {
		t.Errorf("version: got %d, %v", version, err)
	}

	_, err = mars.Initialize(ctx, env.accounts[0], "again")
	if got := revertReason(t, err); got != "Initializable: contract is already initialized" {
		t.Errorf("second initialize: got %q", got)
	}

	v2, _, err := contracts.Deploy(ctx, env.client, env.store, env.accounts[0], contracts.MarsV2Name)
	if err != nil {
		t.Fatalf("deploy MarsV2: %v", err)
	}
	_, err = mars.UpgradeTo(ctx, env.accounts[1], v2)
	if got := revertReason(t, err); got != "Ownable: caller is not the owner" {
		t.Errorf("upgrade by stranger: got %q", got)
	}

	data, err := contracts.EncodeInitializeV2(2)
	if err != nil {
		t.Fatalf("encode initializev2: %v", err)
	}
	if _, err := mars.UpgradeToAndCall(ctx, env.accounts[0], v2, data); err != nil {
		t.Fatalf("upgrade failed: %v", err)
	}
	impl, err := contracts.ImplementationAt(ctx, env.client, proxy)
	if err != nil || impl != v2 {
		t.Errorf("implementation: got %s, %v", impl.Hex(), err)
	}
	version, err = mars.Version(ctx)
	if err != nil || version != 2 {
		t.Errorf("version after upgrade: got %d, %v", version, err)
	}
	name, err = mars.Name(ctx)
	if err != nil || name != "Mars" {
		t.Errorf("name survives upgrade: got %q, %v", name, err)
	}
}

func TestLogicContractCannotBeInitialized(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)
	impl, _ := env.deployMars(ctx, t)

	logic, err := contracts.NewMars(env.client, impl)
	if err != nil {
		t.Fatalf("NewMars failed: %v", err)
	}
	_, err = logic.Initialize(ctx, env.accounts[0], "Mars")
	if got := revertReason(t, err); got != "Initializable: contract is already initialized" {
		t.Errorf("got %q", got)
	}
	_, err = logic.UpgradeTo(ctx, env.accounts[0], impl)
	if got := revertReason(t, err); got != "Function must be called through delegatecall" {
		t.Errorf("upgrade on logic: got %q", got)
	}
}

func TestUpgradeToNonContract(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)
	_, proxy := env.deployMars(ctx, t)

	mars, err := contracts.NewMars(env.client, proxy)
	if err != nil {
		t.Fatalf("NewMars failed: %v", err)
	}
	_, err = mars.UpgradeTo(ctx, env.accounts[0], env.accounts[3])
	if got := revertReason(t, err); got != "ERC1967: new implementation is not a contract" {
		t.Errorf("got %q", got)
	}
}

func TestBnbStakeManagerUpgrade(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)
	deployer, admin := env.accounts[0], env.accounts[1]
	validator := common.HexToAddress("0x0cDcE3d8D17c0553270064cEe95C73F17534d5A0")

	managerLogic, _, err := contracts.Deploy(ctx, env.client, env.store, deployer, contracts.BnbStakeManagerName)
	if err != nil {
		t.Fatalf("deploy manager logic: %v", err)
	}
	poolLogic, _, err := contracts.Deploy(ctx, env.client, env.store, deployer, contracts.BnbStakePoolName)
	if err != nil {
		t.Fatalf("deploy pool logic: %v", err)
	}
	managerProxy, _, err := contracts.DeployERC1967Proxy(ctx, env.client, env.store, deployer, managerLogic, nil)
	if err != nil {
		t.Fatalf("deploy manager proxy: %v", err)
	}
	poolProxy, _, err := contracts.DeployERC1967Proxy(ctx, env.client, env.store, deployer, poolLogic, nil)
	if err != nil {
		t.Fatalf("deploy pool proxy: %v", err)
	}
	token, err := contracts.DeployLsdToken(ctx, env.client, env.store, deployer, managerProxy, "rBNB", "rBNB")
	if err != nil {
		t.Fatalf("deploy token: %v", err)
	}

	manager, err := contracts.NewBnbStakeManager(env.client, managerProxy)
	if err != nil {
		t.Fatalf("bind manager: %v", err)
	}
	if v, err := manager.Version(ctx); err != nil || v != 0 {
		t.Errorf("version before initialize: got %d, %v", v, err)
	}
	if o, err := manager.Owner(ctx); err != nil || o != (common.Address{}) {
		t.Errorf("owner before initialize: got %s, %v", o.Hex(), err)
	}

	voters := []common.Address{deployer, admin}
	_, err = manager.Initialize(ctx, deployer, voters, big.NewInt(3), token.Address, poolProxy, validator, admin)
	if !errors.Is(err, &chain.RevertError{Name: "ThresholdNotMatch"}) {
		t.Errorf("threshold above voters: got %v", err)
	}
	if _, err := manager.Initialize(ctx, deployer, voters, big.NewInt(2), token.Address, poolProxy, validator, admin); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	pool, err := contracts.NewBnbStakePool(env.client, poolProxy)
	if err != nil {
		t.Fatalf("bind pool: %v", err)
	}
	if _, err := pool.Initialize(ctx, deployer, contracts.BnbGovStaking, managerProxy, admin); err != nil {
		t.Fatalf("pool initialize failed: %v", err)
	}
	if got, err := pool.StakeManagerAddress(ctx); err != nil || got != managerProxy {
		t.Errorf("pool stake manager: got %s, %v", got.Hex(), err)
	}

	if o, _ := manager.Owner(ctx); o != admin {
		t.Errorf("owner: got %s, want %s", o.Hex(), admin.Hex())
	}
	if era, _ := manager.EraSeconds(ctx); era == nil || era.Int64() != 86400 {
		t.Errorf("eraSeconds: got %v", era)
	}
	if pools, _ := manager.GetBondedPools(ctx); len(pools) != 1 || pools[0] != poolProxy {
		t.Errorf("bonded pools: got %v", pools)
	}
	if vals, _ := manager.GetValidatorsOf(ctx, poolProxy); len(vals) != 1 || vals[0] != validator {
		t.Errorf("validators: got %v", vals)
	}
	if fee, _ := manager.ProtocolFeeCommission(ctx); fee == nil || fee.Cmp(defaultProtocolFeeCommission) != 0 {
		t.Errorf("protocolFeeCommission: got %v", fee)
	}
	if err := manager.WithdrawStatic(ctx, deployer, nil); !errors.Is(err, &chain.RevertError{Name: "ZeroWithdrawAmount"}) {
		t.Errorf("withdraw: got %v", err)
	}

	v2Logic, _, err := contracts.Deploy(ctx, env.client, env.store, deployer, contracts.BnbStakeManagerV2Name)
	if err != nil {
		t.Fatalf("deploy v2 logic: %v", err)
	}
	call, err := contracts.EncodeInitV2("this is a v2 variable", big.NewInt(1))
	if err != nil {
		t.Fatalf("encode initV2: %v", err)
	}
	_, err = manager.UpgradeToAndCall(ctx, deployer, v2Logic, call)
	if !errors.Is(err, &chain.RevertError{Name: "NotOwner"}) {
		t.Errorf("upgrade by deployer: got %v", err)
	}
	if _, err := manager.UpgradeToAndCall(ctx, admin, v2Logic, call); err != nil {
		t.Fatalf("upgrade by admin failed: %v", err)
	}
	if v, _ := manager.Version(ctx); v != 2 {
		t.Errorf("version after upgrade: got %d", v)
	}
	if s, _ := manager.V2Var(ctx); s != "this is a v2 variable" {
		t.Errorf("v2var: got %q", s)
	}
	if fee, _ := manager.ProtocolFeeCommission(ctx); fee == nil || fee.Int64() != 1 {
		t.Errorf("protocolFeeCommission after upgrade: got %v", fee)
	}
	if pools, _ := manager.GetBondedPools(ctx); len(pools) != 1 || pools[0] != poolProxy {
		t.Errorf("bonded pools after upgrade: got %v", pools)
	}
}

func TestTimelockUpgradeFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)
	admin, proposer, executor := env.accounts[0], env.accounts[2], env.accounts[3]
	_, proxy := env.deployMars(ctx, t)

	tl, err := contracts.DeployTimelockController(ctx, env.client, env.store, admin, big.NewInt(10),
		[]common.Address{proposer}, []common.Address{executor}, admin)
	if err != nil {
		t.Fatalf("deploy timelock: %v", err)
	}
	mars, err := contracts.NewMars(env.client, proxy)
	if err != nil {
		t.Fatalf("NewMars failed: %v", err)
	}
	if _, err := mars.TransferOwnership(ctx, admin, tl.Address); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}
	v2, _, err := contracts.Deploy(ctx, env.client, env.store, admin, contracts.MarsV2Name)
	if err != nil {
		t.Fatalf("deploy MarsV2: %v", err)
	}
	data, err := contracts.EncodeUpgradeTo(v2)
	if err != nil {
		t.Fatalf("encode upgradeTo: %v", err)
	}
	var salt, predecessor common.Hash

	_, err = tl.Schedule(ctx, executor, proxy, big.NewInt(0), data, predecessor, salt, big.NewInt(10))
	if got := revertReason(t, err); !strings.Contains(got, "is missing role "+contracts.ProposerRole.Hex()) {
		t.Errorf("schedule by executor: got %q", got)
	}
	_, err = tl.Schedule(ctx, proposer, proxy, big.NewInt(0), data, predecessor, salt, big.NewInt(5))
	if got := revertReason(t, err); got != "TimelockController: insufficient delay" {
		t.Errorf("short delay: got %q", got)
	}
	if _, err := tl.Schedule(ctx, proposer, proxy, big.NewInt(0), data, predecessor, salt, big.NewInt(10)); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	id, err := tl.HashOperation(ctx, proxy, big.NewInt(0), data, predecessor, salt)
	if err != nil {
		t.Fatalf("hashOperation: %v", err)
	}
	if pending, _ := tl.IsOperationPending(ctx, id); !pending {
		t.Error("operation should be pending")
	}
	if ready, _ := tl.IsOperationReady(ctx, id); ready {
		t.Error("operation should not be ready yet")
	}

	_, err = tl.Execute(ctx, executor, proxy, big.NewInt(0), data, predecessor, salt)
	if got := revertReason(t, err); got != "TimelockController: operation is not ready" {
		t.Errorf("early execute: got %q", got)
	}

	if err := env.client.IncreaseTime(ctx, 10); err != nil {
		t.Fatalf("IncreaseTime failed: %v", err)
	}
	if ready, _ := tl.IsOperationReady(ctx, id); !ready {
		t.Error("operation should be ready after the delay")
	}
	if _, err := tl.Execute(ctx, executor, proxy, big.NewInt(0), data, predecessor, salt); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if done, _ := tl.IsOperationDone(ctx, id); !done {
		t.Error("operation should be done")
	}
	if impl, _ := contracts.ImplementationAt(ctx, env.client, proxy); impl != v2 {
		t.Errorf("implementation: got %s, want %s", impl.Hex(), v2.Hex())
	}

	_, err = tl.Execute(ctx, executor, proxy, big.NewInt(0), data, predecessor, salt)
	if got := revertReason(t, err); got != "TimelockController: operation is not ready" {
		t.Errorf("second execute: got %q", got)
	}
}

func TestTimelockUnderlyingRevert(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)
	admin := env.accounts[0]
	_, proxy := env.deployMars(ctx, t)

	// the timelock never receives ownership, so the upgrade it forwards reverts
	tl, err := contracts.DeployTimelockController(ctx, env.client, env.store, admin, big.NewInt(0),
		[]common.Address{admin}, []common.Address{admin}, common.Address{})
	if err != nil {
		t.Fatalf("deploy timelock: %v", err)
	}
	data, err := contracts.EncodeUpgradeTo(proxy)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var zero common.Hash
	if _, err := tl.Schedule(ctx, admin, proxy, big.NewInt(0), data, zero, zero, big.NewInt(0)); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	_, err = tl.Execute(ctx, admin, proxy, big.NewInt(0), data, zero, zero)
	if got := revertReason(t, err); got != "TimelockController: underlying transaction reverted" {
		t.Errorf("got %q", got)
	}
}

func TestFilterLogs(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)
	impl, proxy := env.deployMars(ctx, t)

	backend := env.chain.Backend()
	logs, err := backend.FilterLogs(ctx, ethereum.FilterQuery{Addresses: []common.Address{proxy}})
	if err != nil {
		t.Fatalf("FilterLogs failed: %v", err)
	}
	want := []string{"Upgraded", "OwnershipTransferred", "Initialized"}
	if len(logs) != len(want) {
		t.Fatalf("got %d logs, want %d", len(logs), len(want))
	}
	for i, l := range logs {
		ev, err := contracts.MarsABI.EventByID(l.Topics[0])
		if err != nil {
			t.Fatalf("log %d: %v", i, err)
		}
		if ev.Name != want[i] {
			t.Errorf("log %d: got %s, want %s", i, ev.Name, want[i])
		}
		if l.Index != uint(i) {
			t.Errorf("log %d: index %d", i, l.Index)
		}
	}
	if logs[0].Topics[1] != common.BytesToHash(impl.Bytes()) {
		t.Errorf("Upgraded topic: got %s", logs[0].Topics[1].Hex())
	}

	upgraded := contracts.MarsABI.Events["Upgraded"].ID
	logs, err = backend.FilterLogs(ctx, ethereum.FilterQuery{Topics: [][]common.Hash{{upgraded}}})
	if err != nil {
		t.Fatalf("FilterLogs by topic failed: %v", err)
	}
	if len(logs) != 1 || logs[0].Address != proxy {
		t.Errorf("topic filter: got %v", logs)
	}
}

func TestSubscribeLogs(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	ch := make(chan types.Log, 8)
	sub, err := env.chain.Backend().SubscribeFilterLogs(ctx, ethereum.FilterQuery{}, ch)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	// the logic constructor disables initializers before the proxy exists
	impl, _ := env.deployMars(ctx, t)
	select {
	case l := <-ch:
		if l.Address != impl {
			t.Errorf("got log from %s, want %s", l.Address.Hex(), impl.Hex())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no log delivered")
	}
}

func TestTransactionValidation(t *testing.T) {
	env := newTestEnv(t)
	accounts, err := identity.DeriveAccounts(identity.DevMnemonic, config.DefaultDerivationPath, 1)
	if err != nil {
		t.Fatalf("DeriveAccounts failed: %v", err)
	}
	key := accounts[0].PrivateKey
	to := env.accounts[1]

	send := func(nonce, gas uint64, chainID int64, value int64) error {
		tx := types.NewTransaction(nonce, to, big.NewInt(value), gas, DefaultGasPrice, nil)
		s := types.LatestSignerForChainID(big.NewInt(chainID))
		signed, err := types.SignTx(tx, s, key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return env.chain.SendTransaction(signed)
	}

	if err := send(1, 21000, DefaultChainID, 1); !errors.Is(err, ErrNonceTooHigh) {
		t.Errorf("future nonce: got %v", err)
	}
	if err := send(0, 20000, DefaultChainID, 1); !errors.Is(err, ErrIntrinsicGas) {
		t.Errorf("low gas: got %v", err)
	}
	if err := send(0, 21000, 1, 1); !errors.Is(err, ErrInvalidChainID) {
		t.Errorf("wrong chain: got %v", err)
	}
	if err := send(0, 21000, DefaultChainID, 1); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	// a different transaction reusing the spent nonce
	if err := send(0, 21000, DefaultChainID, 2); !errors.Is(err, ErrNonceTooLow) {
		t.Errorf("stale nonce: got %v", err)
	}

	bal, err := env.chain.Balance(to, nil)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if want := new(big.Int).Add(DefaultBalance, big.NewInt(1)); bal.Cmp(want) != 0 {
		t.Errorf("recipient balance: got %s, want %s", bal, want)
	}
}

func TestPlainTransferCostsIntrinsicGas(t *testing.T) {
	env := newTestEnv(t)
	accounts, err := identity.DeriveAccounts(identity.DevMnemonic, config.DefaultDerivationPath, 1)
	if err != nil {
		t.Fatalf("DeriveAccounts failed: %v", err)
	}
	to := env.accounts[2]
	oneEther := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	tx := types.NewTransaction(0, to, oneEther, 21000, DefaultGasPrice, nil)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(DefaultChainID)), accounts[0].PrivateKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := env.chain.SendTransaction(signed); err != nil {
		t.Fatalf("SendTransaction failed: %v", err)
	}

	receipt, err := env.chain.Receipt(signed.Hash())
	if err != nil {
		t.Fatalf("Receipt failed: %v", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		t.Errorf("status: got %d", receipt.Status)
	}
	if receipt.GasUsed != 21000 {
		t.Errorf("gas used: got %d, want 21000", receipt.GasUsed)
	}
	bal, err := env.chain.Balance(to, nil)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if want := new(big.Int).Add(DefaultBalance, oneEther); bal.Cmp(want) != 0 {
		t.Errorf("recipient balance: got %s, want %s", bal, want)
	}
}

func TestIncreaseTimeAdvancesPastHead(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	c := New(Config{Now: func() time.Time { return base }, Metrics: metrics.NewPrometheusCollector(metrics.NewCollector())})

	for i := 0; i < 5; i++ {
		c.MineBlock()
	}
	head, _ := c.Header(nil)
	if head.Time != uint64(base.Unix())+5 {
		t.Fatalf("automined blocks: got time %d", head.Time)
	}

	c.IncreaseTimeBy(100)
	next := c.MineBlock()
	if next.Time != head.Time+100 {
		t.Errorf("after increase: got %d, want %d", next.Time, head.Time+100)
	}

	if err := c.SetNextBlockTimestamp(next.Time); err == nil {
		t.Error("expected error for a timestamp equal to the head")
	}
	if err := c.SetNextBlockTimestamp(next.Time + 50); err != nil {
		t.Fatalf("SetNextBlockTimestamp failed: %v", err)
	}
	if h := c.MineBlock(); h.Time != next.Time+50 {
		t.Errorf("pinned timestamp: got %d", h.Time)
	}
}

func TestHistoricalState(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)
	_, proxy := env.deployMars(ctx, t)

	deployedAt := env.chain.Head()
	code, err := env.chain.Code(proxy, new(big.Int).SetUint64(deployedAt-1))
	if err != nil {
		t.Fatalf("Code failed: %v", err)
	}
	if len(code) != 0 {
		t.Error("proxy should have no code before its deployment block")
	}
	code, err = env.chain.Code(proxy, nil)
	if err != nil || len(code) == 0 {
		t.Errorf("proxy code at head: %d bytes, %v", len(code), err)
	}
	if _, err := env.chain.Code(proxy, big.NewInt(1000)); !errors.Is(err, ErrUnknownBlock) {
		t.Errorf("future block: got %v", err)
	}
}
