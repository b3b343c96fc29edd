package regtest

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultRPCPort is deliberately not bitcoind's regtest default (18443),
	// so fixtures don't collide with a developer's own regtest node.
	DefaultRPCPort = 18543

	// DefaultP2PPort is the peer port the fixture daemon listens on.
	DefaultP2PPort = 18544

	// DefaultImage is the container image used by ContainerController.
	DefaultImage = "registry.gitlab.com/k9ert/specter-desktop/python-bitcoind:latest"

	// DefaultBinary is the daemon executable name. Containers are matched
	// by this name as the first token of their command.
	DefaultBinary = "bitcoind"

	// BootstrapBlocks is the number of blocks mined after launch: coinbase
	// outputs need 100 confirmations, so 101 makes the first one spendable.
	BootstrapBlocks = 101

	// DefaultWaitInterval and DefaultWaitAttempts bound every readiness wait
	// to roughly ten seconds.
	DefaultWaitInterval = 500 * time.Millisecond
	DefaultWaitAttempts = 20
)

// Environment variables overriding configuration values in LoadConfig.
const (
	EnvRPCUser     = "REGTEST_RPCUSER"
	EnvRPCPassword = "REGTEST_RPCPASSWORD"
	EnvRPCPort     = "REGTEST_RPCPORT"
	EnvImage       = "REGTEST_IMAGE"
	EnvBinary      = "REGTEST_BITCOIND"
)

// Config holds the settings of a regtest controller.
type Config struct {
	User     string `toml:"rpcuser"`
	Password string `toml:"rpcpassword"`
	RPCPort  int    `toml:"rpcport"`
	P2PPort  int    `toml:"port"`
	Wallet   string `toml:"wallet"`

	// Binary is the daemon executable, resolved through PATH by the
	// process backend.
	Binary string `toml:"bitcoind"`
	// Image is the container image run by the container backend.
	Image string `toml:"image"`
	// PullImage pulls Image when it is not present locally.
	PullImage bool `toml:"pull_image"`

	// ExtraArgs are appended to the daemon command line.
	ExtraArgs []string `toml:"extra_args"`

	WaitInterval    time.Duration `toml:"-"`
	WaitAttempts    int           `toml:"wait_attempts"`
	BootstrapBlocks int           `toml:"bootstrap_blocks"`
}

var (
	configMu     sync.Mutex
	customConfig *Config
)

// DefaultConfig returns the default fixture settings.
func DefaultConfig() *Config {
	return &Config{
		User:            "bitcoin",
		Password:        "secret",
		RPCPort:         DefaultRPCPort,
		P2PPort:         DefaultP2PPort,
		Binary:          DefaultBinary,
		Image:           DefaultImage,
		PullImage:       true,
		WaitInterval:    DefaultWaitInterval,
		WaitAttempts:    DefaultWaitAttempts,
		BootstrapBlocks: BootstrapBlocks,
	}
}

// GetConfig returns a copy of the package-wide configuration set with
// SetConfig, or the defaults.
func GetConfig() *Config {
	configMu.Lock()
	defer configMu.Unlock()

	if customConfig == nil {
		return DefaultConfig()
	}
	return customConfig.clone()
}

// SetConfig replaces the package-wide configuration used by constructors
// that are handed a nil *Config.
func SetConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()

	customConfig = cfg.clone()
}

// ResetConfig restores the default package-wide configuration.
func ResetConfig() {
	configMu.Lock()
	defer configMu.Unlock()

	customConfig = nil
}

func (c *Config) clone() *Config {
	cp := *c
	cp.ExtraArgs = append([]string(nil), c.ExtraArgs...)
	return &cp
}

// LoadConfig reads a TOML file on top of the defaults and then applies the
// REGTEST_* environment overrides. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var raw struct {
			Config
			WaitInterval string `toml:"wait_interval"`
		}
		raw.Config = *cfg
		if _, err := toml.DecodeFile(path, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		*cfg = raw.Config
		if raw.WaitInterval != "" {
			d, err := time.ParseDuration(raw.WaitInterval)
			if err != nil {
				return nil, fmt.Errorf("invalid wait_interval %q: %w", raw.WaitInterval, err)
			}
			cfg.WaitInterval = d
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv(EnvRPCUser); ok {
		c.User = v
	}
	if v, ok := os.LookupEnv(EnvRPCPassword); ok {
		c.Password = v
	}
	if v, ok := os.LookupEnv(EnvRPCPort); ok {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvRPCPort, v, err)
		}
		c.RPCPort = port
	}
	if v, ok := os.LookupEnv(EnvImage); ok {
		c.Image = v
	}
	if v, ok := os.LookupEnv(EnvBinary); ok {
		c.Binary = v
	}
	return nil
}

// Validate checks the settings for values the daemon command line cannot
// carry.
func (c *Config) Validate() error {
	switch {
	case c.User == "" || c.Password == "":
		return fmt.Errorf("rpc user and password must be set")
	case c.RPCPort <= 0 || c.RPCPort > 65535:
		return fmt.Errorf("invalid rpc port %d", c.RPCPort)
	case c.P2PPort <= 0 || c.P2PPort > 65535:
		return fmt.Errorf("invalid p2p port %d", c.P2PPort)
	case c.RPCPort == c.P2PPort:
		return fmt.Errorf("rpc and p2p port must differ, both are %d", c.RPCPort)
	case c.Binary == "":
		return fmt.Errorf("bitcoind binary must be set")
	case c.WaitAttempts <= 0:
		return fmt.Errorf("wait attempts must be positive, got %d", c.WaitAttempts)
	case c.BootstrapBlocks < 0:
		return fmt.Errorf("bootstrap blocks must not be negative, got %d", c.BootstrapBlocks)
	}
	return nil
}
