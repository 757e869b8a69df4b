package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	JWTSecret    string `mapstructure:"JWT_SECRET"`
	JWTExpiresIn string `mapstructure:"JWT_EXPIRES_IN"`

	BlockchainMode string `mapstructure:"BLOCKCHAIN_MODE"`
	LedgerRPCURL   string `mapstructure:"LEDGER_RPC_URL"`
	LedgerTimeout  int    `mapstructure:"LEDGER_TIMEOUT_SECONDS"`

	IdentityRegistryAddress string `mapstructure:"IDENTITY_REGISTRY_ADDRESS"`
	ConsentManagerAddress   string `mapstructure:"CONSENT_MANAGER_ADDRESS"`
	IncentiveVaultAddress   string `mapstructure:"INCENTIVE_VAULT_ADDRESS"`

	// HospitalPrivateKey is the server-side signer used for hospital/admin
	// flows such as incentive payouts. Development convention only.
	HospitalPrivateKey string `mapstructure:"HOSPITAL_PRIVATE_KEY"`

	ConsentStorePath string `mapstructure:"CONSENT_STORE_PATH"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("JWT_EXPIRES_IN", "24h")
	v.SetDefault("BLOCKCHAIN_MODE", "disabled")
	v.SetDefault("LEDGER_TIMEOUT_SECONDS", 30)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("JWT_EXPIRES_IN")
	v.BindEnv("BLOCKCHAIN_MODE")
	v.BindEnv("LEDGER_RPC_URL")
	v.BindEnv("LEDGER_TIMEOUT_SECONDS")
	v.BindEnv("IDENTITY_REGISTRY_ADDRESS")
	v.BindEnv("CONSENT_MANAGER_ADDRESS")
	v.BindEnv("INCENTIVE_VAULT_ADDRESS")
	v.BindEnv("HOSPITAL_PRIVATE_KEY")
	v.BindEnv("CONSENT_STORE_PATH")
	v.BindEnv("CORS_ORIGINS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("JWT_SECRET is required in production")
		}
		log.Println("WARNING: JWT_SECRET not set, using insecure development secret")
		cfg.JWTSecret = "dev-secret-change-me"
	}

	if mode := cfg.Mode(); mode.LedgerActive() && cfg.LedgerRPCURL == "" {
		log.Printf("WARNING: BLOCKCHAIN_MODE=%s but LEDGER_RPC_URL is missing - ledger operations will fail", mode)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Mode returns the resolved blockchain mode for this configuration.
func (c *Config) Mode() Mode {
	return ParseMode(c.BlockchainMode)
}
