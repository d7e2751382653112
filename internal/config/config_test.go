package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.KMSLocalMasterKey = "test-master-key-32-bytes-long!!"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid local KMS config",
			mutate: func(c *Config) {},
		},
		{
			name: "valid AWS KMS config",
			mutate: func(c *Config) {
				c.KMSProvider = "aws-kms"
				c.KMSAWSKeyID = "alias/capsula"
				c.KMSAWSRegion = "us-east-1"
			},
		},
		{
			name: "valid Vault config",
			mutate: func(c *Config) {
				c.KMSProvider = "vault"
				c.KMSVaultAddress = "http://localhost:8200"
				c.KMSVaultToken = "s.token123"
				c.KMSVaultTransitKey = "capsula"
			},
		},
		{
			name: "valid postgres metadata config",
			mutate: func(c *Config) {
				c.MetadataBackend = "postgres"
				c.PostgresDSN = "postgres://localhost:5432/capsula"
			},
		},
		{
			name:    "local KMS without master key",
			mutate:  func(c *Config) { c.KMSLocalMasterKey = "" },
			wantErr: true,
			errMsg:  "KMS_LOCAL_MASTER_KEY is required",
		},
		{
			name:    "AWS KMS without region",
			mutate:  func(c *Config) { c.KMSProvider = "aws-kms"; c.KMSAWSKeyID = "alias/x" },
			wantErr: true,
			errMsg:  "KMS_AWS_REGION",
		},
		{
			name:    "unknown KMS provider",
			mutate:  func(c *Config) { c.KMSProvider = "gcp-kms" },
			wantErr: true,
			errMsg:  "KMS_PROVIDER must be",
		},
		{
			name:    "postgres without DSN",
			mutate:  func(c *Config) { c.MetadataBackend = "postgres" },
			wantErr: true,
			errMsg:  "POSTGRES_DSN is required",
		},
		{
			name:    "unknown secure store backend",
			mutate:  func(c *Config) { c.SecureStoreBackend = "keychain" },
			wantErr: true,
			errMsg:  "SECURE_STORE_BACKEND must be",
		},
		{
			name:    "reauth window longer than session",
			mutate:  func(c *Config) { c.ReauthWindow = time.Hour },
			wantErr: true,
			errMsg:  "cannot exceed SESSION_TTL",
		},
		{
			name:    "PIN length below four",
			mutate:  func(c *Config) { c.PINMinLength = 3 },
			wantErr: true,
			errMsg:  "PIN_MIN_LENGTH must be at least 4",
		},
		{
			name:    "bad RPC chain ID",
			mutate:  func(c *Config) { c.RPCURLs = map[string]string{"mainnet": "https://rpc"} },
			wantErr: true,
			errMsg:  "invalid chain ID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("CAPSULA_KMS_LOCAL_MASTER_KEY", "test-master-key-32-bytes-long!!")
	t.Setenv("CAPSULA_SESSION_TTL", "45m")
	t.Setenv("CAPSULA_RPC_URLS", "1:https://eth.example.org,8453:https://base.example.org")
	t.Setenv("CAPSULA_LOG_FORMAT", "text")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 45*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 5*time.Minute, cfg.ReauthWindow)
	assert.Equal(t, 4, cfg.PINMinLength)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "transit", cfg.KMSVaultMount)

	urls, err := cfg.ChainRPCURLs()
	require.NoError(t, err)
	assert.Equal(t, "https://eth.example.org", urls[1])
	assert.Equal(t, "https://base.example.org", urls[8453])
}

func TestLoad_InvalidEnvironment(t *testing.T) {
	t.Setenv("CAPSULA_KMS_LOCAL_MASTER_KEY", "")
	t.Setenv("CAPSULA_KMS_PROVIDER", "local")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
