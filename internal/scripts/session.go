package scripts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lsdlabs/lsdctl/internal/artifacts"
	"github.com/lsdlabs/lsdctl/internal/chain"
	"github.com/lsdlabs/lsdctl/internal/config"
	"github.com/lsdlabs/lsdctl/internal/contracts"
	"github.com/lsdlabs/lsdctl/internal/devchain"
	"github.com/lsdlabs/lsdctl/internal/identity"
	"github.com/lsdlabs/lsdctl/internal/logging"
	"github.com/lsdlabs/lsdctl/internal/metrics"
	"github.com/lsdlabs/lsdctl/internal/timelock"
	"github.com/lsdlabs/lsdctl/internal/upgrades"
)

// ErrNoAccounts is returned when a session has no signer loaded
var ErrNoAccounts = errors.New("no signer accounts loaded")

// SessionOptions tweak how a session connects
type SessionOptions struct {
	// Accounts replaces the configured signers, mainly for tests
	Accounts []identity.Account
	// Passphrase unlocks an encrypted secrets file
	Passphrase func() ([]byte, error)
	// Metrics receives transaction metrics, the default registry when nil
	Metrics *metrics.PrometheusCollector
	// DialTimeout bounds the initial RPC connection
	DialTimeout time.Duration
}

// Session is a connection to one network with its signers, artifacts and
// deployment manifest
type Session struct {
	Config      *config.Config
	Network     string
	NetConfig   config.NetworkConfig
	Client      *chain.Client
	Store       *artifacts.Store
	Manifest    upgrades.ManifestStore
	Book        *AddressBook
	Accounts    []common.Address
	SignerKind  identity.SignerSource
	Chain       *devchain.Chain // set for the in-process network only
	ProposalDir string

	// proposals of the in-process chain, which dies with the session
	proposals map[string]*timelock.Proposal
}

// Open connects to network. The in-process network starts a fresh devchain
// funded from the session accounts.
func Open(ctx context.Context, cfg *config.Config, network string, opts SessionOptions) (*Session, error) {
	if network == "" {
		network = cfg.DefaultNetwork
	}
	n, err := cfg.Network(network)
	if err != nil {
		return nil, err
	}

	store, err := artifacts.Open(cfg.ArtifactsDir())
	if err != nil {
		return nil, err
	}
	added := contracts.RegisterBuiltins(store)
	logging.Debug("artifacts loaded",
		"dir", store.Dir(),
		"builtins", added,
		logging.Component("scripts"))

	accounts := opts.Accounts
	source := identity.SignerSource("")
	if accounts == nil {
		accounts, source, err = identity.LoadSigners(network, n, identity.LoadOptions{
			SecretsPath:      cfg.SecretsPath(n),
			AllowDevMnemonic: true,
			Passphrase:       opts.Passphrase,
		})
		if err != nil {
			return nil, err
		}
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}
	addrs := make([]common.Address, len(accounts))
	for i, a := range accounts {
		addrs[i] = a.Address
	}

	m := opts.Metrics
	if m == nil {
		m = metrics.Default()
	}

	s := &Session{
		Config:      cfg,
		Network:     network,
		NetConfig:   n,
		Store:       store,
		Accounts:    addrs,
		SignerKind:  source,
		ProposalDir: cfg.ProposalsDir(),
		proposals:   make(map[string]*timelock.Proposal),
	}

	if network == config.InProcessNetwork {
		s.Chain = devchain.New(devchain.Config{
			ChainID:  n.ChainID,
			Accounts: addrs,
			GasPrice: n.GasPriceWei(),
			Store:    store,
			Metrics:  m,
		})
		s.Client = s.Chain.NewClient(network, accounts)
	} else {
		timeout := opts.DialTimeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		client, err := chain.Dial(ctx, chain.ConfigFromNetwork(network, n), chain.DialOptions{
			URL:       n.RPCURL,
			ProxyURL:  n.ProxyURL,
			RateLimit: n.RateLimit,
			Timeout:   timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to %s: %w", network, err)
		}
		client.SetMetrics(m)
		for _, a := range accounts {
			client.AddSigner(a.PrivateKey)
		}
		s.Client = client
	}
	s.Manifest = upgrades.NewManifestFor(s.Client.Config(), cfg.ManifestsDir())

	bookPath := ""
	if s.Chain == nil {
		bookPath = AddressBookPath(cfg.ManifestsDir(), network, s.Client.Config().ChainID)
	}
	if s.Book, err = NewAddressBook(bookPath); err != nil {
		s.Close()
		return nil, err
	}

	logging.Info("session opened",
		logging.Network(network),
		"chain_id", s.Client.ChainID().String(),
		"accounts", len(addrs),
		"signers", string(source),
		logging.Component("scripts"))
	return s, nil
}

// Close releases the RPC connection
func (s *Session) Close() {
	if s.Client != nil {
		s.Client.Close()
	}
}

// Live reports whether the network holds real value
func (s *Session) Live() bool {
	return s.NetConfig.Live
}

// Account returns the i-th signer
func (s *Session) Account(i int) (common.Address, error) {
	if i < 0 || i >= len(s.Accounts) {
		return common.Address{}, fmt.Errorf("account %d requested, %d loaded", i, len(s.Accounts))
	}
	return s.Accounts[i], nil
}

// Deployer returns an upgrades deployer sending from the i-th signer
func (s *Session) Deployer(i int, opts upgrades.Options) (*upgrades.Deployer, error) {
	from, err := s.Account(i)
	if err != nil {
		return nil, err
	}
	return upgrades.NewDeployer(s.Client, s.Store, s.Manifest, from, opts), nil
}

// SaveProposal keeps p for a later execute step. Proposals of the
// in-process chain stay in memory.
func (s *Session) SaveProposal(p *timelock.Proposal) (string, error) {
	p.Network = s.Network
	p.ChainID = s.Client.Config().ChainID
	if s.Chain != nil {
		s.proposals[p.Name] = p
		return "", nil
	}
	return timelock.SaveProposal(s.ProposalDir, p)
}

// LoadProposal returns the proposal saved under name, nil when there is none
func (s *Session) LoadProposal(name string) (*timelock.Proposal, error) {
	if s.Chain != nil {
		return s.proposals[name], nil
	}
	path := timelock.ProposalPath(s.ProposalDir, s.Network, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	p, err := timelock.LoadProposal(path)
	if err != nil {
		return nil, err
	}
	if p.ChainID != s.Client.Config().ChainID {
		return nil, fmt.Errorf("proposal %s was made for chain %d, connected to %d", name, p.ChainID, s.Client.Config().ChainID)
	}
	return p, nil
}
