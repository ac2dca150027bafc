package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/lsdlabs/lsdctl/internal/artifacts"
	"github.com/lsdlabs/lsdctl/internal/config"
	"github.com/lsdlabs/lsdctl/internal/contracts"
	"github.com/lsdlabs/lsdctl/internal/identity"
	"github.com/lsdlabs/lsdctl/internal/scripts"
)

// Global CLI flags
var (
	// ConfigPath is the config file, DefaultConfigPath when empty
	ConfigPath string

	// NetworkName selects the target network
	NetworkName string

	// LogLevel is the slog level for diagnostics on stderr
	LogLevel string

	// OutputFormat controls output format: "" (auto), "json", "plain"
	OutputFormat string

	// AssumeYes skips the live network confirmation
	AssumeYes bool
)

var loadedConfig *config.Config

// loadConfig reads the config once per process
func loadConfig() (*config.Config, error) {
	if loadedConfig != nil {
		return loadedConfig, nil
	}
	path := ConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	loadedConfig = cfg
	return cfg, nil
}

func configPath() string {
	if ConfigPath != "" {
		return ConfigPath
	}
	return config.DefaultConfigPath()
}

func logFormat() string {
	if OutputFormat == "json" {
		return "json"
	}
	if cfg, err := loadConfig(); err == nil && cfg.Log.Format != "" {
		return cfg.Log.Format
	}
	return "text"
}

// commandContext is cancelled on SIGINT and SIGTERM
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openStore reads the artifacts and adds the bundled contracts
func openStore(dir string) (*artifacts.Store, error) {
	store, err := artifacts.Open(dir)
	if err != nil {
		return nil, err
	}
	contracts.RegisterBuiltins(store)
	return store, nil
}

// openSession connects to the selected network
func openSession(ctx context.Context) (*scripts.Session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	network := NetworkName
	if network == "" {
		network = cfg.DefaultNetwork
	}
	n, err := cfg.Network(network)
	if err != nil {
		return nil, err
	}
	var s *scripts.Session
	err = WithSpinner("Connecting to "+network, func() error {
		var err error
		s, err = scripts.Open(ctx, cfg, network, scripts.SessionOptions{
			Passphrase: identity.PassphraseSource(cfg.SecretsPath(n)),
		})
		return err
	})
	return s, err
}

// confirmLive asks before broadcasting to a network that holds real value
func confirmLive(s *scripts.Session, action string) error {
	if !s.Live() || AssumeYes {
		return nil
	}
	if !isTTY() {
		return fmt.Errorf("%s on live network %s needs --yes when not run from a terminal", action, s.Network)
	}
	confirmed := false
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("%s on %s?", action, s.Network)).
				Description(fmt.Sprintf("chain id %d, sending from %s", s.Client.Config().ChainID, s.Accounts[0].Hex())).
				Affirmative("Send").
				Negative("Abort").
				Value(&confirmed),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirmed {
		return fmt.Errorf("aborted")
	}
	return nil
}

// Version information (set at build time)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// GetVersion returns the version string
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

// GetCommit returns the git commit
func GetCommit() string {
	if Commit != "unknown" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				if len(setting.Value) > 8 {
					return setting.Value[:8]
				}
				return setting.Value
			}
		}
	}
	return "unknown"
}

// GetGoVersion returns the Go version
func GetGoVersion() string {
	return runtime.Version()
}
