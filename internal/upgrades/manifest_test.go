package upgrades

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lsdlabs/lsdctl/pkg/types"
)

var (
	testProxy = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testImpl  = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	testHash  = common.HexToHash("0x01")
)

func TestFileManifest_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	f := NewFileManifest(dir, "bsctest", 97)
	if want := filepath.Join(dir, "bsctest-97.json"); f.Path() != want {
		t.Errorf("Path: got %s, want %s", f.Path(), want)
	}

	m, err := f.Load()
	if err != nil {
		t.Fatalf("Load of a missing manifest failed: %v", err)
	}
	if len(m.Proxies) != 0 || len(m.Impls) != 0 {
		t.Errorf("expected an empty manifest, got %+v", m)
	}

	err = f.Update(func(m *Manifest) error {
		m.PutImplementation(testHash, ImplRecord{Address: testImpl, Contract: "contracts/Mars.sol:Mars", Layout: layout(item("0", "total", tUint256))})
		m.PutProxy(ProxyRecord{Address: testProxy, Kind: types.ProxyKindUUPS, Implementation: testImpl})
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	data, err := os.ReadFile(f.Path())
	if err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("manifest is not JSON: %v", err)
	}
	if raw["manifestVersion"] != ManifestVersion {
		t.Errorf("manifestVersion: got %v", raw["manifestVersion"])
	}

	m, err = f.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	rec, ok := m.Implementation(testHash)
	if !ok || rec.Address != testImpl {
		t.Fatalf("implementation not found by code hash: %+v", rec)
	}
	if rec.Layout == nil || len(rec.Layout.Storage) != 1 {
		t.Errorf("layout not persisted: %+v", rec.Layout)
	}
	if _, ok := m.ImplementationAt(testImpl); !ok {
		t.Error("implementation not found by address")
	}
	proxy, ok := m.Proxy(testProxy)
	if !ok || proxy.Implementation != testImpl || proxy.Kind != types.ProxyKindUUPS {
		t.Errorf("proxy record: got %+v", proxy)
	}
}

func TestFileManifest_UpdateErrorKeepsFile(t *testing.T) {
	f := NewFileManifest(t.TempDir(), "localhost", 31337)
	boom := errors.New("boom")
	if err := f.Update(func(m *Manifest) error {
		m.PutProxy(ProxyRecord{Address: testProxy})
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if _, err := os.Stat(f.Path()); !os.IsNotExist(err) {
		t.Errorf("manifest should not be written when fn fails, stat: %v", err)
	}
}

func TestFileManifest_ConcurrentUpdates(t *testing.T) {
	f := NewFileManifest(t.TempDir(), "localhost", 31337)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr := common.BigToAddress(common.Big1)
			addr[0] = byte(i + 1)
			if err := f.Update(func(m *Manifest) error {
				m.PutProxy(ProxyRecord{Address: addr, Kind: types.ProxyKindUUPS})
				return nil
			}); err != nil {
				t.Errorf("Update %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	m, err := f.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(m.Proxies) != 10 {
		t.Errorf("got %d proxies, want 10", len(m.Proxies))
	}
}

func TestManifest_PutProxyReplaces(t *testing.T) {
	m := newManifest()
	m.PutProxy(ProxyRecord{Address: testProxy, Implementation: testProxy})
	m.PutProxy(ProxyRecord{Address: testProxy, Implementation: testImpl})
	if len(m.Proxies) != 1 || m.Proxies[0].Implementation != testImpl {
		t.Errorf("expected one replaced record, got %+v", m.Proxies)
	}
}

func TestMemoryManifest_LoadReturnsCopy(t *testing.T) {
	mm := NewMemoryManifest()
	if err := mm.Update(func(m *Manifest) error {
		m.PutProxy(ProxyRecord{Address: testProxy})
		return nil
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	m, err := mm.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	m.Proxies = nil

	again, _ := mm.Load()
	if len(again.Proxies) != 1 {
		t.Errorf("mutating a loaded copy changed the store: %+v", again.Proxies)
	}
}
