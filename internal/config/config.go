package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "CAPSULA"

// Config holds the settings the wallet core is constructed with
type Config struct {
	// Storage
	DataDir            string `envconfig:"DATA_DIR" default:"./capsula-data"`
	SecureStoreBackend string `envconfig:"SECURE_STORE_BACKEND" default:"leveldb"` // leveldb or memory
	MetadataBackend    string `envconfig:"METADATA_BACKEND" default:"leveldb"`     // leveldb or postgres
	PostgresDSN        string `envconfig:"POSTGRES_DSN"`

	// Secure store envelope encryption
	KMSProvider        string `envconfig:"KMS_PROVIDER" default:"local"` // local, aws-kms or vault
	KMSLocalMasterKey  string `envconfig:"KMS_LOCAL_MASTER_KEY"`
	KMSAWSKeyID        string `envconfig:"KMS_AWS_KEY_ID"`
	KMSAWSRegion       string `envconfig:"KMS_AWS_REGION"`
	KMSVaultAddress    string `envconfig:"KMS_VAULT_ADDRESS"`
	KMSVaultToken      string `envconfig:"KMS_VAULT_TOKEN"`
	KMSVaultTransitKey string `envconfig:"KMS_VAULT_TRANSIT_KEY"`
	KMSVaultMount      string `envconfig:"KMS_VAULT_MOUNT" default:"transit"`

	// Authentication
	SessionTTL             time.Duration `envconfig:"SESSION_TTL" default:"30m"`
	ReauthWindow           time.Duration `envconfig:"REAUTH_WINDOW" default:"5m"`
	BiometricPromptTimeout time.Duration `envconfig:"BIOMETRIC_PROMPT_TIMEOUT" default:"2m"`
	PINMinLength           int           `envconfig:"PIN_MIN_LENGTH" default:"4"`
	PINAttemptsPerMinute   int           `envconfig:"PIN_ATTEMPTS_PER_MINUTE" default:"5"`
	PINAttemptBurst        int           `envconfig:"PIN_ATTEMPT_BURST" default:"5"`

	// Networks
	DefaultChainID int64             `envconfig:"DEFAULT_CHAIN_ID" default:"1"`
	RPCURLs        map[string]string `envconfig:"RPC_URLS"` // chainID:url,chainID:url

	// Logging
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"INFO"`
}

// Load loads configuration from CAPSULA_* environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no environment is set.
func Default() *Config {
	return &Config{
		DataDir:                "./capsula-data",
		SecureStoreBackend:     "leveldb",
		MetadataBackend:        "leveldb",
		KMSProvider:            "local",
		KMSVaultMount:          "transit",
		SessionTTL:             30 * time.Minute,
		ReauthWindow:           5 * time.Minute,
		BiometricPromptTimeout: 2 * time.Minute,
		PINMinLength:           4,
		PINAttemptsPerMinute:   5,
		PINAttemptBurst:        5,
		DefaultChainID:         1,
		LogFormat:              "json",
		LogLevel:               "INFO",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.SecureStoreBackend {
	case "leveldb", "memory":
	default:
		return fmt.Errorf("SECURE_STORE_BACKEND must be 'leveldb' or 'memory', got: %s", c.SecureStoreBackend)
	}

	switch c.MetadataBackend {
	case "leveldb":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when METADATA_BACKEND is 'postgres'")
		}
	default:
		return fmt.Errorf("METADATA_BACKEND must be 'leveldb' or 'postgres', got: %s", c.MetadataBackend)
	}

	switch c.KMSProvider {
	case "local":
		if c.KMSLocalMasterKey == "" {
			return fmt.Errorf("KMS_LOCAL_MASTER_KEY is required when KMS_PROVIDER is 'local'")
		}
	case "aws-kms":
		if c.KMSAWSKeyID == "" || c.KMSAWSRegion == "" {
			return fmt.Errorf("KMS_AWS_KEY_ID and KMS_AWS_REGION are required when KMS_PROVIDER is 'aws-kms'")
		}
	case "vault":
		if c.KMSVaultAddress == "" || c.KMSVaultToken == "" || c.KMSVaultTransitKey == "" {
			return fmt.Errorf("KMS_VAULT_ADDRESS, KMS_VAULT_TOKEN and KMS_VAULT_TRANSIT_KEY are required when KMS_PROVIDER is 'vault'")
		}
	default:
		return fmt.Errorf("KMS_PROVIDER must be 'local', 'aws-kms' or 'vault', got: %s", c.KMSProvider)
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.ReauthWindow <= 0 {
		return fmt.Errorf("REAUTH_WINDOW must be positive")
	}
	if c.ReauthWindow > c.SessionTTL {
		return fmt.Errorf("REAUTH_WINDOW (%s) cannot exceed SESSION_TTL (%s)", c.ReauthWindow, c.SessionTTL)
	}
	if c.BiometricPromptTimeout <= 0 {
		return fmt.Errorf("BIOMETRIC_PROMPT_TIMEOUT must be positive")
	}
	if c.PINMinLength < 4 {
		return fmt.Errorf("PIN_MIN_LENGTH must be at least 4, got: %d", c.PINMinLength)
	}
	if c.PINAttemptsPerMinute <= 0 || c.PINAttemptBurst <= 0 {
		return fmt.Errorf("PIN_ATTEMPTS_PER_MINUTE and PIN_ATTEMPT_BURST must be positive")
	}
	if c.DefaultChainID <= 0 {
		return fmt.Errorf("DEFAULT_CHAIN_ID must be positive")
	}

	if _, err := c.ChainRPCURLs(); err != nil {
		return err
	}

	return nil
}

// ChainRPCURLs parses RPCURLs keyed by chain ID.
func (c *Config) ChainRPCURLs() (map[int64]string, error) {
	out := make(map[int64]string, len(c.RPCURLs))
	for k, v := range c.RPCURLs {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("RPC_URLS has invalid chain ID %q", k)
		}
		if v == "" {
			return nil, fmt.Errorf("RPC_URLS has empty URL for chain %d", id)
		}
		out[id] = v
	}
	return out, nil
}
