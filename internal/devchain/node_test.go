package devchain

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/lsdlabs/lsdctl/internal/chain"
	"github.com/lsdlabs/lsdctl/internal/config"
	"github.com/lsdlabs/lsdctl/internal/contracts"
	"github.com/lsdlabs/lsdctl/internal/identity"
)

func startTestNode(t *testing.T, env *testEnv) *Node {
	t.Helper()
	cfg := DefaultNodeConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.Accounts = env.accounts
	node := NewNode(env.chain, cfg)
	if err := node.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := node.Stop(ctx); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	})
	return node
}

func dialTestNode(t *testing.T, node *Node) *chain.Client {
	t.Helper()
	ctx := testContext(t)
	client, err := chain.Dial(ctx, &chain.Config{Network: "localhost", ChainID: DefaultChainID}, chain.DialOptions{URL: node.URL()})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(client.Close)
	accounts, err := identity.DeriveAccounts(identity.DevMnemonic, config.DefaultDerivationPath, 4)
	if err != nil {
		t.Fatalf("DeriveAccounts failed: %v", err)
	}
	for _, a := range accounts {
		client.AddSigner(a.PrivateKey)
	}
	return client
}

func TestNodeServesContracts(t *testing.T) {
	env := newTestEnv(t)
	node := startTestNode(t, env)
	client := dialTestNode(t, node)
	ctx := testContext(t)

	if client.ChainID().Int64() != DefaultChainID {
		t.Errorf("chain id: got %s", client.ChainID())
	}

	remote := &testEnv{chain: env.chain, client: client, store: env.store, accounts: env.accounts}
	_, proxy := remote.deployMars(ctx, t)

	mars, err := contracts.NewMars(client, proxy)
	if err != nil {
		t.Fatalf("NewMars failed: %v", err)
	}
	if name, err := mars.Name(ctx); err != nil || name != "Mars" {
		t.Errorf("name: got %q, %v", name, err)
	}

	// custom reasons survive the JSON-RPC error data
	_, err = mars.UpgradeTo(ctx, env.accounts[1], proxy)
	if got := revertReason(t, err); got != "Ownable: caller is not the owner" {
		t.Errorf("revert over rpc: got %q", got)
	}

	n, err := client.GetBlockNumber(ctx)
	if err != nil || n != 2 {
		t.Errorf("block number: got %d, %v", n, err)
	}

	logs, err := client.Backend().FilterLogs(ctx, ethereum.FilterQuery{Addresses: []common.Address{proxy}})
	if err != nil {
		t.Fatalf("FilterLogs failed: %v", err)
	}
	if len(logs) != 3 {
		t.Errorf("got %d logs, want 3", len(logs))
	}
}

func TestNodeTimeTravel(t *testing.T) {
	env := newTestEnv(t)
	node := startTestNode(t, env)
	client := dialTestNode(t, node)
	ctx := testContext(t)

	before, err := client.LatestTimestamp(ctx)
	if err != nil {
		t.Fatalf("LatestTimestamp failed: %v", err)
	}
	if err := client.IncreaseTime(ctx, 3600); err != nil {
		t.Fatalf("IncreaseTime failed: %v", err)
	}
	after, err := client.LatestTimestamp(ctx)
	if err != nil {
		t.Fatalf("LatestTimestamp failed: %v", err)
	}
	if after < before+3600 {
		t.Errorf("timestamp: got %d, want at least %d", after, before+3600)
	}
	if n, _ := client.GetBlockNumber(ctx); n != 1 {
		t.Errorf("evm_mine should seal one block, head is %d", n)
	}
}

func TestNodeWebsocketSubscription(t *testing.T) {
	env := newTestEnv(t)
	node := startTestNode(t, env)
	ctx := testContext(t)

	rpcClient, err := rpc.DialContext(ctx, node.WSURL())
	if err != nil {
		t.Fatalf("ws dial failed: %v", err)
	}
	defer rpcClient.Close()
	ec := ethclient.NewClient(rpcClient)

	ch := make(chan types.Log, 8)
	sub, err := ec.SubscribeFilterLogs(ctx, ethereum.FilterQuery{}, ch)
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
	case err := <-sub.Err():
		t.Fatalf("subscription failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no log delivered")
	}

	var version string
	if err := rpcClient.CallContext(ctx, &version, "web3_clientVersion"); err != nil {
		t.Fatalf("web3_clientVersion failed: %v", err)
	}
	if version != ClientVersion {
		t.Errorf("client version: got %q", version)
	}
}

func TestNodeMetrics(t *testing.T) {
	env := newTestEnv(t)
	node := startTestNode(t, env)
	client := dialTestNode(t, node)
	ctx := testContext(t)

	if _, err := client.GetBlockNumber(ctx); err != nil {
		t.Fatalf("GetBlockNumber failed: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node.URL()+"/metrics", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `lsdctl_rpc_requests_total{method="eth_blockNumber"}`) {
		t.Errorf("request counter missing from:\n%s", body)
	}
}

func TestRequestMethods(t *testing.T) {
	tests := []struct {
		body string
		want []string
	}{
		{`{"jsonrpc":"2.0","id":1,"method":"eth_chainId"}`, []string{"eth_chainId"}},
		{` [{"method":"eth_call"},{"method":"eth_getCode"}]`, []string{"eth_call", "eth_getCode"}},
		{`not json`, nil},
		{`{"id":1}`, nil},
	}
	for _, tt := range tests {
		got := requestMethods([]byte(tt.body))
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("%s: got %v, want %v", tt.body, got, tt.want)
		}
	}
}

func TestQuantityDecoding(t *testing.T) {
	for _, in := range []string{`3600`, `"0xe10"`} {
		var q quantity
		if err := q.UnmarshalJSON([]byte(in)); err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if q != 3600 {
			t.Errorf("%s: got %d", in, q)
		}
	}
	var q quantity
	if err := q.UnmarshalJSON([]byte(`"nope"`)); err == nil {
		t.Error("expected error for a non-hex string")
	}
}
