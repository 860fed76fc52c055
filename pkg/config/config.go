package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config is the bridge server's full configuration tree.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Token         TokenConfig         `yaml:"token"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	KeyManagement KeyManagementConfig `yaml:"key_management"`
	Bridge        BridgeConfig        `yaml:"bridge"`
	Auth          AuthConfig          `yaml:"auth"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains HTTP server settings for the RPC/admin surface.
type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"30s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"30s"`
}

// TokenConfig describes the bridged token's metadata and fee.
type TokenConfig struct {
	Name      string `yaml:"name" validate:"required"`
	Symbol    string `yaml:"symbol" validate:"required"`
	Decimals  int    `yaml:"decimals" default:"8" validate:"min=0,max=38"`
	Logo      string `yaml:"logo"`
	BridgeFee uint64 `yaml:"bridge_fee"`
}

// DatabaseConfig contains the durable store's postgres connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host" default:"localhost" validate:"required"`
	Port     int    `yaml:"port" default:"5432" validate:"min=1,max=65535"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	Database string `yaml:"database" default:"bridge" validate:"required"`
	SSLMode  string `yaml:"ssl_mode" default:"disable"`
}

// DSN returns the pgdriver connection string for this database, in the
// form consumed by pgdriver.WithDSN.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// LedgerConfig describes how to reach the native ledger's transfer/
// transfer_from RPC (out of scope, addressed only through
// its gRPC interface).
type LedgerConfig struct {
	Target         string        `yaml:"target" validate:"required"`
	TLSEnabled     bool          `yaml:"tls_enabled"`
	RequestTimeout time.Duration `yaml:"request_timeout" default:"10s"`
}

// KeyManagementConfig configures the deterministic per-user subkey
// derivation and the out-of-scope threshold-ECDSA signing seam.
type KeyManagementConfig struct {
	// MasterKeyEnv names the environment variable holding the base64
	// master seed used to derive per-user subkeys.
	MasterKeyEnv string `yaml:"master_key_env" default:"BRIDGE_MASTER_KEY" validate:"required"`
	// ThresholdSignerEndpoint is the out-of-scope threshold-ECDSA
	// signing service; empty uses the local derived-key signer.
	ThresholdSignerEndpoint string `yaml:"threshold_signer_endpoint"`
	// KeyName selects the signing key provisioned with the threshold
	// service and drives the evm_sign cycle-cost lookup.
	KeyName string `yaml:"key_name" default:"test_key_1"`
}

// BridgeConfig holds the finalization engine's tunables.
type BridgeConfig struct {
	MinThresholdToBridge uint64        `yaml:"min_threshold_to_bridge" default:"1" validate:"min=1"`
	GasCacheTTL          time.Duration `yaml:"gas_cache_ttl" default:"120s"`
	RoundBackoffUnit     time.Duration `yaml:"round_backoff_unit" default:"5s"`
	PaginationMin        int           `yaml:"pagination_min" default:"2" validate:"min=1"`
	PaginationMax        int           `yaml:"pagination_max" default:"100" validate:"gtefield=PaginationMin"`
	// CanisterPrincipal is the bridge's own custodial identity on the
	// native ledger.
	CanisterPrincipal string `yaml:"canister_principal" validate:"required"`
	// GovernancePrincipal, when set, gates the mutating admin calls.
	GovernancePrincipal string `yaml:"governance_principal"`
}

// AuthConfig contains settings for the admin/governance bearer surface.
type AuthConfig struct {
	JWKSURL  string `yaml:"jwks_url" validate:"omitempty,url"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"json"`
	OutputPath string `yaml:"output_path" default:"stdout"`
}

// Load reads, defaults, overrides and validates the bridge server
// configuration from configPath.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Config{}
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to set config defaults: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideEnv(&cfg)

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func overrideEnv(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DATABASE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("DATABASE_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DATABASE_DATABASE"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("DATABASE_SSL_MODE"); v != "" {
		cfg.Database.SSLMode = v
	}
	if v := os.Getenv("LEDGER_TARGET"); v != "" {
		cfg.Ledger.Target = v
	}
	if v := os.Getenv("LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate exposes the struct validator for request structs elsewhere
// (e.g. pkg/rpc mutating method params) so callers share one validator
// instance and one set of tag conventions.
func Validate(v interface{}) error {
	return validate.Struct(v)
}
