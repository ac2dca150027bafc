package upgrades

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lsdlabs/lsdctl/internal/artifacts"
	"github.com/lsdlabs/lsdctl/internal/chain"
	"github.com/lsdlabs/lsdctl/internal/config"
	"github.com/lsdlabs/lsdctl/internal/contracts"
	"github.com/lsdlabs/lsdctl/internal/logging"
	ptypes "github.com/lsdlabs/lsdctl/pkg/types"
)

var (
	// ErrUnsupportedKind is returned for proxy kinds other than uups
	ErrUnsupportedKind = errors.New("unsupported proxy kind")

	// ErrNotProxy is returned when the implementation slot is empty
	ErrNotProxy = errors.New("address is not an ERC1967 proxy")

	// ErrUnknownImplementation is returned when the layout of the current
	// implementation cannot be found in the manifest or the artifacts
	ErrUnknownImplementation = errors.New("current implementation is not in the manifest or artifacts")
)

// NewManifestFor returns the manifest store of the client's network. The
// in-process chain is recreated every run, so its manifest lives in memory.
func NewManifestFor(cfg *chain.Config, dir string) ManifestStore {
	if cfg.Network == config.InProcessNetwork || dir == "" {
		return NewMemoryManifest()
	}
	return NewFileManifest(dir, cfg.Network, cfg.ChainID)
}

// Deployer deploys and upgrades UUPS proxies, recording them in a manifest
type Deployer struct {
	client   *chain.Client
	store    *artifacts.Store
	manifest ManifestStore
	from     common.Address
	opts     Options
}

// NewDeployer sends every transaction from from
func NewDeployer(c *chain.Client, store *artifacts.Store, manifest ManifestStore, from common.Address, opts Options) *Deployer {
	if manifest == nil {
		manifest = NewMemoryManifest()
	}
	return &Deployer{client: c, store: store, manifest: manifest, from: from, opts: opts}
}

// Manifest returns the backing manifest store
func (d *Deployer) Manifest() ManifestStore {
	return d.manifest
}

// From returns the deploying account
func (d *Deployer) From() common.Address {
	return d.from
}

// ValidateUpgradeByName validates upgrading the contract oldName to newName
// using the artifact layouts
func (d *Deployer) ValidateUpgradeByName(oldName, newName string) (*LayoutReport, error) {
	oldArt, err := d.store.Get(oldName)
	if err != nil {
		return nil, err
	}
	newArt, err := d.store.Get(newName)
	if err != nil {
		return nil, err
	}
	return d.validate(oldArt.FQN(), d.layoutOf(oldArt), newArt), nil
}

func (d *Deployer) layoutOf(a *artifacts.Artifact) *artifacts.StorageLayout {
	layout, err := d.store.StorageLayout(a.FQN())
	if err != nil {
		return nil
	}
	return layout
}

func (d *Deployer) validate(oldName string, oldLayout *artifacts.StorageLayout, newArt *artifacts.Artifact) *LayoutReport {
	report := ValidateImplementation(newArt, d.opts)
	report.Old = oldName
	report.merge(ValidateUpgrade(oldLayout, d.layoutOf(newArt), d.opts))
	return report
}

// DeployImplementation deploys the implementation contract name, reusing a
// previous deployment with identical runtime bytecode
func (d *Deployer) DeployImplementation(ctx context.Context, name string) (common.Address, error) {
	a, err := d.store.Get(name)
	if err != nil {
		return common.Address{}, err
	}
	if err := ValidateImplementation(a, d.opts).Err(); err != nil {
		return common.Address{}, err
	}
	return d.deployImplementation(ctx, a)
}

func (d *Deployer) deployImplementation(ctx context.Context, a *artifacts.Artifact) (common.Address, error) {
	hash := a.CodeHash()
	m, err := d.manifest.Load()
	if err != nil {
		return common.Address{}, err
	}
	if rec, ok := m.Implementation(hash); ok {
		code, err := d.client.CodeAt(ctx, rec.Address)
		if err == nil && crypto.Keccak256Hash(code) == hash {
			logging.Info("reusing implementation",
				logging.Contract(a.FQN()),
				logging.Address(rec.Address),
				logging.Component("upgrades"))
			return rec.Address, nil
		}
	}

	addr, receipt, err := contracts.DeployArtifact(ctx, d.client, a, d.from)
	if err != nil {
		return common.Address{}, fmt.Errorf("deploy implementation %s: %w", a.FQN(), err)
	}
	rec := ImplRecord{
		Address:  addr,
		TxHash:   receipt.TxHash.Hex(),
		Contract: a.FQN(),
		Layout:   d.layoutOf(a),
	}
	if err := d.manifest.Update(func(m *Manifest) error {
		m.PutImplementation(hash, rec)
		return nil
	}); err != nil {
		return common.Address{}, err
	}
	logging.Info("implementation deployed",
		logging.Contract(a.FQN()),
		logging.Address(addr),
		logging.TxHash(receipt.TxHash),
		logging.Component("upgrades"))
	return addr, nil
}

// ProxyOptions control DeployProxy
type ProxyOptions struct {
	// Initializer is the function called through the proxy, "initialize"
	// when empty
	Initializer string
	// NoInitializer deploys the proxy with empty init data
	NoInitializer bool
	Kind          ptypes.ProxyKind
}

// ProxyDeployment is the result of DeployProxy
type ProxyDeployment struct {
	Proxy          common.Address
	Implementation common.Address
	Receipt        *types.Receipt
}

// DeployProxy deploys the implementation of name and an ERC1967Proxy
// pointing at it, initialized with args
func (d *Deployer) DeployProxy(ctx context.Context, name string, args []any, opts ProxyOptions) (*ProxyDeployment, error) {
	kind := opts.Kind
	if kind == "" {
		kind = ptypes.ProxyKindUUPS
	}
	if kind != ptypes.ProxyKindUUPS {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}

	a, err := d.store.Get(name)
	if err != nil {
		return nil, err
	}
	vopts := d.opts
	vopts.Kind = kind
	if err := ValidateImplementation(a, vopts).Err(); err != nil {
		return nil, err
	}

	var data []byte
	if !opts.NoInitializer {
		initializer := opts.Initializer
		if initializer == "" {
			initializer = "initialize"
		}
		parsed, err := a.ParsedABI()
		if err != nil {
			return nil, err
		}
		if _, ok := parsed.Methods[initializer]; !ok {
			return nil, fmt.Errorf("%s has no initializer %q", a.FQN(), initializer)
		}
		data, err = parsed.Pack(initializer, args...)
		if err != nil {
			return nil, fmt.Errorf("encode %s.%s: %w", a.ContractName, initializer, err)
		}
	}

	impl, err := d.deployImplementation(ctx, a)
	if err != nil {
		return nil, err
	}
	proxy, receipt, err := contracts.DeployERC1967Proxy(ctx, d.client, d.store, d.from, impl, data)
	if err != nil {
		return nil, fmt.Errorf("deploy proxy for %s: %w", a.FQN(), err)
	}
	if err := d.manifest.Update(func(m *Manifest) error {
		m.PutProxy(ProxyRecord{
			Address:        proxy,
			TxHash:         receipt.TxHash.Hex(),
			Kind:           kind,
			Contract:       a.FQN(),
			Implementation: impl,
		})
		return nil
	}); err != nil {
		return nil, err
	}

	logging.Audit(logging.AuditEvent{
		Operation: "proxy_deploy",
		Network:   d.client.Config().Network,
		Actor:     d.from.Hex(),
		Target:    proxy.Hex(),
		TxHash:    receipt.TxHash.Hex(),
		Result:    "success",
		Details:   fmt.Sprintf("%s implementation %s", a.FQN(), impl.Hex()),
	})
	return &ProxyDeployment{Proxy: proxy, Implementation: impl, Receipt: receipt}, nil
}

// CurrentLayout resolves the layout of the implementation a proxy points at
func (d *Deployer) CurrentLayout(ctx context.Context, proxy common.Address) (string, *artifacts.StorageLayout, error) {
	impl, err := contracts.ImplementationAt(ctx, d.client, proxy)
	if err != nil {
		return "", nil, err
	}
	if impl == (common.Address{}) {
		return "", nil, fmt.Errorf("%w: %s", ErrNotProxy, proxy.Hex())
	}

	m, err := d.manifest.Load()
	if err != nil {
		return "", nil, err
	}
	if rec, ok := m.ImplementationAt(impl); ok && rec.Layout != nil {
		return rec.Contract, rec.Layout, nil
	}

	code, err := d.client.CodeAt(ctx, impl)
	if err != nil {
		return "", nil, err
	}
	hash := crypto.Keccak256Hash(code)
	if rec, ok := m.Implementation(hash); ok && rec.Layout != nil {
		return rec.Contract, rec.Layout, nil
	}
	for _, a := range d.store.All() {
		if a.DeployedBytecode != "" && a.CodeHash() == hash {
			if layout := d.layoutOf(a); layout != nil {
				return a.FQN(), layout, nil
			}
		}
	}
	return "", nil, fmt.Errorf("%w: %s", ErrUnknownImplementation, impl.Hex())
}

// PrepareUpgrade validates upgrading proxy to newName and deploys the new
// implementation without switching the proxy. The returned address is what
// a timelock proposal passes to upgradeTo.
func (d *Deployer) PrepareUpgrade(ctx context.Context, proxy common.Address, newName string) (common.Address, error) {
	a, err := d.store.Get(newName)
	if err != nil {
		return common.Address{}, err
	}
	if err := d.validateProxyUpgrade(ctx, proxy, a); err != nil {
		return common.Address{}, err
	}
	return d.deployImplementation(ctx, a)
}

func (d *Deployer) validateProxyUpgrade(ctx context.Context, proxy common.Address, a *artifacts.Artifact) error {
	if d.opts.UnsafeSkipStorageCheck {
		return ValidateImplementation(a, d.opts).Err()
	}
	oldName, oldLayout, err := d.CurrentLayout(ctx, proxy)
	if err != nil {
		return err
	}
	return d.validate(oldName, oldLayout, a).Err()
}

// UpgradeOptions control UpgradeProxy
type UpgradeOptions struct {
	// From sends the upgrade, the deployer account when zero
	From common.Address
	// Call is delegatecalled on the new implementation after the upgrade
	Call []byte
}

// UpgradeResult is the result of UpgradeProxy
type UpgradeResult struct {
	Implementation common.Address
	Receipt        *types.Receipt
}

// UpgradeProxy validates the new layout against the current
// implementation, deploys newName and switches the proxy to it
func (d *Deployer) UpgradeProxy(ctx context.Context, proxy common.Address, newName string, opts UpgradeOptions) (*UpgradeResult, error) {
	a, err := d.store.Get(newName)
	if err != nil {
		return nil, err
	}
	if err := d.validateProxyUpgrade(ctx, proxy, a); err != nil {
		return nil, err
	}
	impl, err := d.deployImplementation(ctx, a)
	if err != nil {
		return nil, err
	}

	from := opts.From
	if from == (common.Address{}) {
		from = d.from
	}
	parsed, err := a.ParsedABI()
	if err != nil {
		return nil, err
	}
	target, err := contracts.NewUpgradeable(d.client, a.ContractName, proxy, parsed, contracts.StakeOwnerErrorsABI)
	if err != nil {
		return nil, err
	}

	var receipt *types.Receipt
	if len(opts.Call) == 0 {
		receipt, err = target.UpgradeTo(ctx, from, impl)
	} else {
		receipt, err = target.UpgradeToAndCall(ctx, from, impl, opts.Call)
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	event := logging.AuditEvent{
		Operation: "proxy_upgrade",
		Network:   d.client.Config().Network,
		Actor:     from.Hex(),
		Target:    proxy.Hex(),
		Result:    result,
		Details:   fmt.Sprintf("%s implementation %s", a.FQN(), impl.Hex()),
	}
	if receipt != nil {
		event.TxHash = receipt.TxHash.Hex()
	}
	logging.Audit(event)
	if err != nil {
		return nil, fmt.Errorf("upgrade %s: %w", proxy.Hex(), err)
	}

	if err := d.manifest.Update(func(m *Manifest) error {
		rec, ok := m.Proxy(proxy)
		if !ok {
			m.PutProxy(ProxyRecord{Address: proxy, Kind: ptypes.ProxyKindUUPS, Contract: a.FQN(), Implementation: impl})
			return nil
		}
		rec.Contract = a.FQN()
		rec.Implementation = impl
		return nil
	}); err != nil {
		return nil, err
	}
	return &UpgradeResult{Implementation: impl, Receipt: receipt}, nil
}

// EncodeUpgradeCall encodes upgradeTo(newImpl), or
// upgradeToAndCall(newImpl, initCall) when initCall is not empty
func EncodeUpgradeCall(newImpl common.Address, initCall []byte) ([]byte, error) {
	if len(initCall) == 0 {
		return contracts.EncodeUpgradeTo(newImpl)
	}
	return contracts.EncodeUpgradeToAndCall(newImpl, initCall)
}

// DecodeUpgradeCall is the inverse of EncodeUpgradeCall
func DecodeUpgradeCall(data []byte) (common.Address, []byte, error) {
	if len(data) < 4 {
		return common.Address{}, nil, fmt.Errorf("upgrade call too short: %d bytes", len(data))
	}
	method, err := contracts.UpgradeableABI.MethodById(data[:4])
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("not an upgrade call: %w", err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("decode %s: %w", method.Name, err)
	}
	switch method.Name {
	case "upgradeTo":
		return args[0].(common.Address), nil, nil
	case "upgradeToAndCall":
		return args[0].(common.Address), args[1].([]byte), nil
	}
	return common.Address{}, nil, fmt.Errorf("not an upgrade call: %s", method.Name)
}
