// Package config loads the connector's process configuration: connection
// endpoint, batch size, pushdown level and the optional SSH tunnel
// descriptor. Values come from environment variables prefixed with
// QUASAR_MONGO and, optionally, a config file.
package config

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/cryogenian/quasar-mongo/core/instr"
)

// DefaultBatchSize is the historical default cursor batch size.
const DefaultBatchSize = 64

// Tunnel describes an SSH hop the database connection is dialed through.
// Authentication uses either a password or a private-key identity with an
// optional passphrase.
type Tunnel struct {
	Addr           string
	User           string
	Password       string
	PrivateKeyPath string
	Passphrase     string
}

// Config is the connector's configuration. The core treats these values as
// opaque inputs; validation here is limited to the documented constraints.
type Config struct {
	// URI is the MongoDB connection string.
	URI string
	// Database is the default database evaluations run against.
	Database string
	// BatchSize bounds each cursor fetch. Must be positive.
	BatchSize int
	// Pushdown is the configured pushdown level. Unknown strings parse to
	// disabled.
	Pushdown instr.PushdownLevel
	// ServerVersion optionally pins the server version used for operator
	// gating, e.g. "3.4.4". Empty means unknown (discovered at runtime).
	ServerVersion string
	// Tunnel is nil when the connection is direct.
	Tunnel *Tunnel
}

// Load reads configuration from the environment and, when path is
// non-empty, the given config file (file values take precedence over
// defaults, environment over the file).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("QUASAR_MONGO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("batch_size", DefaultBatchSize)
	v.SetDefault("pushdown", string(instr.PushdownFull))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		URI:           v.GetString("uri"),
		Database:      v.GetString("database"),
		BatchSize:     cast.ToInt(v.Get("batch_size")),
		Pushdown:      instr.ParsePushdownLevel(v.GetString("pushdown")),
		ServerVersion: v.GetString("server_version"),
	}
	if addr := v.GetString("tunnel.addr"); addr != "" {
		cfg.Tunnel = &Tunnel{
			Addr:           addr,
			User:           v.GetString("tunnel.user"),
			Password:       v.GetString("tunnel.password"),
			PrivateKeyPath: v.GetString("tunnel.private_key"),
			Passphrase:     cast.ToString(v.Get("tunnel.passphrase")),
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the documented constraints.
func (c *Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("connection string (uri) is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.Tunnel != nil {
		if c.Tunnel.Addr == "" {
			return fmt.Errorf("tunnel address is required when a tunnel is configured")
		}
		if c.Tunnel.Password == "" && c.Tunnel.PrivateKeyPath == "" {
			return fmt.Errorf("tunnel needs a password or a private key")
		}
	}
	return nil
}

// Capability builds the capability descriptor the compiler is gated by.
// An empty server version yields a nil version (unknown).
func (c *Config) Capability() (instr.Capability, error) {
	capability := instr.Capability{Level: c.Pushdown}
	if c.ServerVersion != "" {
		version, err := semver.NewVersion(c.ServerVersion)
		if err != nil {
			return capability, fmt.Errorf("invalid server version %q: %w", c.ServerVersion, err)
		}
		capability.ServerVersion = version
	}
	return capability, nil
}
