package config

import (
	"fmt"
	"math/big"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lsdlabs/lsdctl/pkg/types"
	"gopkg.in/yaml.v3"
)

// InProcessNetwork is the network name served by the in-process devchain
const InProcessNetwork = "hardhat"

// DevChainID is the chain id used by the in-process chain and local dev nodes
const DevChainID = 31337

// DefaultDerivationPath is the account path used by hardhat and ethers
const DefaultDerivationPath = "m/44'/60'/0'/0"

// Config represents the complete project configuration
type Config struct {
	Project        ProjectConfig            `yaml:"project"`
	Compiler       CompilerConfig           `yaml:"solidity"`
	ContractSizer  ContractSizerConfig      `yaml:"contract_sizer"`
	DefaultNetwork string                   `yaml:"default_network"`
	Networks       map[string]NetworkConfig `yaml:"networks"`
	Paths          PathsConfig              `yaml:"paths"`
	Log            LogConfig                `yaml:"log"`
	Metrics        MetricsConfig            `yaml:"metrics"`
}

// ProjectConfig names the project
type ProjectConfig struct {
	Name string `yaml:"name"`
}

// CompilerConfig mirrors the solc settings the artifacts were built with
type CompilerConfig struct {
	Version   string          `yaml:"version"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	ViaIR     bool            `yaml:"via_ir"`
}

// OptimizerConfig contains solc optimizer settings
type OptimizerConfig struct {
	Enabled bool `yaml:"enabled"`
	Runs    int  `yaml:"runs"`
}

// ContractSizerConfig controls the contract size report
type ContractSizerConfig struct {
	AlphaSort         bool `yaml:"alpha_sort"`
	RunOnCompile      bool `yaml:"run_on_compile"`
	DisambiguatePaths bool `yaml:"disambiguate_paths"`
	Strict            bool `yaml:"strict"` // fail when a contract exceeds the size limit
}

// NetworkConfig describes a target chain
type NetworkConfig struct {
	RPCURL             string            `yaml:"url"`
	WSURL              string            `yaml:"ws_url,omitempty"`
	ChainID            int64             `yaml:"chain_id"`
	GasPrice           string            `yaml:"gas_price,omitempty"` // wei; empty or "auto" asks the node
	MaxGasPrice        string            `yaml:"max_gas_price,omitempty"`
	GasLimitMultiplier float64           `yaml:"gas_multiplier"`
	Confirmations      int               `yaml:"confirmations"`
	RateLimit          float64           `yaml:"rate_limit"` // requests per second, 0 = unlimited
	ProxyURL           string            `yaml:"proxy_url,omitempty"`
	Live               bool              `yaml:"live"`
	Accounts           AccountsConfig    `yaml:"accounts"`
	Addresses          map[string]string `yaml:"addresses,omitempty"`
}

// AccountsConfig selects where signer keys come from
type AccountsConfig struct {
	SecretsFile string `yaml:"secrets_file"`
	Path        string `yaml:"path"`
	Count       int    `yaml:"count"`
	Keyring     bool   `yaml:"keyring"` // read the mnemonic from the OS keyring first
}

// PathsConfig contains project-relative paths
type PathsConfig struct {
	Root      string `yaml:"root"`
	Artifacts string `yaml:"artifacts"`
	Manifests string `yaml:"manifests"`
	Proposals string `yaml:"proposals"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// MetricsConfig contains prometheus settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultAccountsConfig returns hardhat's default account derivation
func DefaultAccountsConfig() AccountsConfig {
	return AccountsConfig{
		SecretsFile: "secrets.yaml",
		Path:        DefaultDerivationPath,
		Count:       10,
	}
}

// DefaultNetworks returns the built-in network table
func DefaultNetworks() map[string]NetworkConfig {
	return map[string]NetworkConfig{
		InProcessNetwork: {
			ChainID:            DevChainID,
			GasPrice:           "1000000000",
			GasLimitMultiplier: 1.0,
			Accounts:           DefaultAccountsConfig(),
		},
		"localhost": {
			RPCURL:             "http://127.0.0.1:8545",
			ChainID:            DevChainID,
			GasLimitMultiplier: 1.2,
			Accounts:           DefaultAccountsConfig(),
		},
		"bsctestnet": {
			RPCURL:             "https://data-seed-prebsc-1-s1.binance.org:8545",
			ChainID:            97,
			GasPrice:           "10000000000",
			GasLimitMultiplier: 1.2,
			Confirmations:      2,
			RateLimit:          10,
			Live:               true,
			Accounts:           DefaultAccountsConfig(),
		},
		"goerli": {
			RPCURL:             "https://rpc.ankr.com/eth_goerli",
			ChainID:            5,
			GasLimitMultiplier: 1.2,
			Confirmations:      2,
			RateLimit:          10,
			Live:               true,
			Accounts:           DefaultAccountsConfig(),
		},
		"polygon": {
			RPCURL:             "https://polygon-rpc.com",
			ChainID:            137,
			MaxGasPrice:        "500000000000",
			GasLimitMultiplier: 1.2,
			Confirmations:      5,
			RateLimit:          10,
			Live:               true,
			Accounts:           DefaultAccountsConfig(),
		},
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Project: ProjectConfig{Name: "lsd"},
		Compiler: CompilerConfig{
			Version:   "0.8.19",
			Optimizer: OptimizerConfig{Enabled: true, Runs: 200},
			ViaIR:     true,
		},
		ContractSizer: ContractSizerConfig{
			AlphaSort:         true,
			RunOnCompile:      false,
			DisambiguatePaths: false,
		},
		DefaultNetwork: InProcessNetwork,
		Networks:       DefaultNetworks(),
		Paths: PathsConfig{
			Root:      ".",
			Artifacts: "artifacts",
			Manifests: ".openzeppelin",
			Proposals: "proposals",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}

// Load loads configuration from file. A missing file yields the defaults.
// Relative paths are resolved against the directory holding the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if !filepath.IsAbs(cfg.Paths.Root) {
		cfg.Paths.Root = filepath.Join(filepath.Dir(path), cfg.Paths.Root)
	}
	cfg.applyNetworkDefaults()
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyNetworkDefaults fills unset per-network fields. Networks declared in
// the file replace the built-in entry wholesale, so defaults are reapplied.
func (c *Config) applyNetworkDefaults() {
	for name, n := range c.Networks {
		if n.GasLimitMultiplier == 0 {
			n.GasLimitMultiplier = 1.2
		}
		if n.Accounts.Path == "" {
			n.Accounts.Path = DefaultDerivationPath
		}
		if n.Accounts.Count == 0 {
			n.Accounts.Count = 10
		}
		if n.Accounts.SecretsFile == "" {
			n.Accounts.SecretsFile = "secrets.yaml"
		}
		c.Networks[name] = n
	}
}

var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Validate validates the configuration
func (c *Config) Validate() error {
	if !semverPattern.MatchString(c.Compiler.Version) {
		return fmt.Errorf("invalid solidity version: %q", c.Compiler.Version)
	}
	if c.Compiler.Optimizer.Enabled && c.Compiler.Optimizer.Runs < 1 {
		return fmt.Errorf("optimizer runs must be at least 1, got %d", c.Compiler.Optimizer.Runs)
	}

	if len(c.Networks) == 0 {
		return fmt.Errorf("no networks configured")
	}
	if _, ok := c.Networks[c.DefaultNetwork]; !ok {
		return fmt.Errorf("default_network %q is not configured", c.DefaultNetwork)
	}
	for name, n := range c.Networks {
		if err := n.validate(name); err != nil {
			return err
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

func (n NetworkConfig) validate(name string) error {
	if n.ChainID <= 0 {
		return fmt.Errorf("network %s: chain_id must be positive", name)
	}
	if name != InProcessNetwork {
		if err := validateEndpoint(n.RPCURL, "http", "https", "ws", "wss"); err != nil {
			return fmt.Errorf("network %s: url: %w", name, err)
		}
	}
	if n.WSURL != "" {
		if err := validateEndpoint(n.WSURL, "ws", "wss"); err != nil {
			return fmt.Errorf("network %s: ws_url: %w", name, err)
		}
	}
	if n.ProxyURL != "" {
		if err := validateEndpoint(n.ProxyURL, "socks5", "socks5h"); err != nil {
			return fmt.Errorf("network %s: proxy_url: %w", name, err)
		}
	}
	if _, err := parseWei(n.GasPrice); err != nil {
		return fmt.Errorf("network %s: gas_price: %w", name, err)
	}
	if _, err := parseWei(n.MaxGasPrice); err != nil {
		return fmt.Errorf("network %s: max_gas_price: %w", name, err)
	}
	if n.GasLimitMultiplier < 1 {
		return fmt.Errorf("network %s: gas_multiplier must be >= 1, got %v", name, n.GasLimitMultiplier)
	}
	if n.Confirmations < 0 {
		return fmt.Errorf("network %s: confirmations must not be negative", name)
	}
	if n.Accounts.Count < 1 {
		return fmt.Errorf("network %s: accounts.count must be at least 1", name)
	}
	for key, addr := range n.Addresses {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("network %s: addresses.%s is not a valid address: %q", name, key, addr)
		}
	}
	return nil
}

func validateEndpoint(raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("missing host in %q", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme %q (want one of %s)", u.Scheme, strings.Join(schemes, ", "))
}

// parseWei parses a decimal wei amount; "" and "auto" mean unset (nil).
func parseWei(s string) (*big.Int, error) {
	if s == "" || s == "auto" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid wei amount %q", s)
	}
	return v, nil
}

// GasPriceWei returns the fixed gas price, or nil when the node should suggest one
func (n NetworkConfig) GasPriceWei() *big.Int {
	v, _ := parseWei(n.GasPrice)
	return v
}

// MaxGasPriceWei returns the gas price cap, or nil for no cap
func (n NetworkConfig) MaxGasPriceWei() *big.Int {
	v, _ := parseWei(n.MaxGasPrice)
	return v
}

// Address returns a named address override for the network
func (n NetworkConfig) Address(key string) (common.Address, bool) {
	raw, ok := n.Addresses[key]
	if !ok {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// Kind reports whether the network is served in-process
func (n NetworkConfig) Kind(name string) types.NetworkKind {
	if name == InProcessNetwork {
		return types.NetworkInProcess
	}
	return types.NetworkRPC
}

// Network looks up a network by name
func (c *Config) Network(name string) (NetworkConfig, error) {
	if name == "" {
		name = c.DefaultNetwork
	}
	n, ok := c.Networks[name]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("unknown network %q (configured: %s)", name, strings.Join(c.NetworkNames(), ", "))
	}
	return n, nil
}

// NetworkNames returns the configured network names, sorted
func (c *Config) NetworkNames() []string {
	names := make([]string, 0, len(c.Networks))
	for name := range c.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns path relative to the project root, unless absolute
func (c *Config) Resolve(path string) string {
	path = expandPath(path)
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Paths.Root, path)
}

// ArtifactsDir returns the hardhat artifacts directory
func (c *Config) ArtifactsDir() string { return c.Resolve(c.Paths.Artifacts) }

// ManifestsDir returns the deployment manifest directory
func (c *Config) ManifestsDir() string { return c.Resolve(c.Paths.Manifests) }

// ProposalsDir returns the directory holding scheduled timelock proposals
func (c *Config) ProposalsDir() string { return c.Resolve(c.Paths.Proposals) }

// SecretsPath returns the secrets file for a network
func (c *Config) SecretsPath(n NetworkConfig) string { return c.Resolve(n.Accounts.SecretsFile) }

func (c *Config) expandPaths() {
	c.Paths.Root = expandPath(c.Paths.Root)
	for name, n := range c.Networks {
		n.Accounts.SecretsFile = expandPath(n.Accounts.SecretsFile)
		c.Networks[name] = n
	}
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file path
func DefaultConfigPath() string {
	return "lsdctl.yaml"
}
