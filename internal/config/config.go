package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/wastelandfi/wasteland/internal/connector"
	"github.com/wastelandfi/wasteland/internal/hunter"
	"github.com/wastelandfi/wasteland/internal/hunter/store"
	"github.com/wastelandfi/wasteland/internal/logging"
	"github.com/wastelandfi/wasteland/internal/presale"
	"github.com/wastelandfi/wasteland/internal/pricing"
)

// Config is the complete wasteland configuration
type Config struct {
	Logging   LoggingConfig    `yaml:"logging"`
	Network   NetworkConfig    `yaml:"network"`
	Connector connector.Config `yaml:"connector"`
	Pricing   pricing.Config   `yaml:"pricing"`
	Referral  ReferralConfig   `yaml:"referral"`
	Presale   presale.Config   `yaml:"presale"`
	API       APIConfig        `yaml:"api"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

// LoggingConfig maps onto logging.Options
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
	Redact bool   `yaml:"redact"`
}

// NetworkConfig describes the chain and how to reach it
type NetworkConfig struct {
	ChainID int64    `yaml:"chain_id"`
	RPCURLs []string `yaml:"rpc_urls"`
	WSURL   string   `yaml:"ws_url,omitempty"`
	// DialsPerSecond throttles RPC dials; 0 = unlimited
	DialsPerSecond float64 `yaml:"dials_per_second"`
	DialBurst      int     `yaml:"dial_burst"`
	KeystoreDir    string  `yaml:"keystore_dir"`
	// WalletAddress is the identity connected at startup, if any
	WalletAddress string `yaml:"wallet_address,omitempty"`
}

// ReferralConfig is the tier table plus where hunter records live
type ReferralConfig struct {
	hunter.Config `yaml:",inline"`
	Store         string `yaml:"store"` // memory or leveldb
	DataDir       string `yaml:"data_dir"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	Listen             string `yaml:"listen"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	RateLimitBurst     int    `yaml:"rate_limit_burst"`
	WebSocketEnabled   bool   `yaml:"websocket_enabled"`
	// TrustProxy honours X-Forwarded-For style headers for rate limiting
	TrustProxy bool `yaml:"trust_proxy"`
	// CORSOrigins lists allowed browser origins; empty disables CORS headers
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// MetricsConfig toggles the Prometheus endpoint
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	dataDir := DefaultDataDir()

	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: string(logging.FormatText),
			Redact: true,
		},
		Network: NetworkConfig{
			ChainID:     connector.PolygonMainnetChainID,
			RPCURLs:     []string{"https://polygon-rpc.com"},
			DialBurst:   1,
			KeystoreDir: filepath.Join(dataDir, "keystore"),
		},
		Connector: connector.DefaultConfig(),
		Pricing:   pricing.DefaultConfig(),
		Referral: ReferralConfig{
			Config:  hunter.DefaultConfig(),
			Store:   store.BackendLevelDB,
			DataDir: filepath.Join(dataDir, "hunters"),
		},
		Presale: presale.DefaultConfig(),
		API: APIConfig{
			Listen:             "127.0.0.1:8080",
			RateLimitPerMinute: 120,
			RateLimitBurst:     20,
			WebSocketEnabled:   true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "wasteland",
		},
	}
}

// Load reads path over DefaultConfig. A missing file yields the defaults.
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

	if err := Parse(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, expands paths and validates the result.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Save writes the configuration with owner-only permissions
func (c *Config) Save(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks every section and joins all problems found
func (c *Config) Validate() error {
	var errs []error
	add := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("logging", err)
	}
	switch logging.Format(c.Logging.Format) {
	case logging.FormatJSON, logging.FormatText, "":
	default:
		add("logging", fmt.Errorf("invalid format %q", c.Logging.Format))
	}

	add("network", c.Network.validate())
	if c.Connector.RequiredChainID != c.Network.ChainID {
		add("connector", fmt.Errorf("required_chain_id %d does not match network chain_id %d",
			c.Connector.RequiredChainID, c.Network.ChainID))
	}
	add("connector", c.Connector.Validate())
	add("pricing", c.Pricing.Validate())
	add("referral", c.Referral.Config.Validate())
	switch c.Referral.Store {
	case store.BackendMemory, "":
	case store.BackendLevelDB:
		if c.Referral.DataDir == "" {
			add("referral", errors.New("data_dir is required for the leveldb store"))
		}
	default:
		add("referral", fmt.Errorf("unknown store %q", c.Referral.Store))
	}
	add("presale", c.Presale.Validate())
	add("api", c.API.validate())

	return errors.Join(errs...)
}

func (n NetworkConfig) validate() error {
	if n.ChainID <= 0 {
		return fmt.Errorf("invalid chain_id: %d", n.ChainID)
	}
	if len(n.RPCURLs) == 0 {
		return errors.New("at least one rpc_url is required")
	}
	for _, u := range n.RPCURLs {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") &&
			!strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			return fmt.Errorf("rpc_url %s must be http(s) or ws(s)", logging.RedactURL(u))
		}
	}
	if n.DialsPerSecond < 0 {
		return errors.New("dials_per_second cannot be negative")
	}
	if n.WalletAddress != "" && !common.IsHexAddress(n.WalletAddress) {
		return fmt.Errorf("wallet_address %q is not an address", n.WalletAddress)
	}
	return nil
}

func (a APIConfig) validate() error {
	if _, _, err := net.SplitHostPort(a.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", a.Listen, err)
	}
	if a.RateLimitPerMinute < 0 || a.RateLimitBurst < 0 {
		return errors.New("rate limits cannot be negative")
	}
	if a.RateLimitPerMinute > 0 && a.RateLimitBurst == 0 {
		return errors.New("rate_limit_burst must be positive when rate limiting is on")
	}
	return nil
}

// expandPaths expands ~ in all path fields
func (c *Config) expandPaths() {
	c.Network.KeystoreDir = expandPath(c.Network.KeystoreDir)
	c.Referral.DataDir = expandPath(c.Referral.DataDir)
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

// DefaultDataDir returns ~/.wasteland
func DefaultDataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".wasteland")
}

// DefaultConfigPath returns the default config file path
func DefaultConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// LoggingOptions converts the logging section for logging.Setup
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:  c.Logging.Level,
		Format: logging.Format(c.Logging.Format),
		Redact: c.Logging.Redact,
	}
}

// EnsureDirectories creates the keystore and data directories
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Network.KeystoreDir}
	if c.Referral.Store == store.BackendLevelDB {
		dirs = append(dirs, c.Referral.DataDir)
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
