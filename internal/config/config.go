package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "IAM"

// Config is built once in main and handed to every constructor.
type Config struct {
	HTTP struct {
		Addr            string        `mapstructure:"addr"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		TrustedProxies  []string      `mapstructure:"trusted_proxies"` // CIDR или адрес; пусто: X-Forwarded-For игнорируется
	} `mapstructure:"http"`

	GRPC struct {
		Addr string `mapstructure:"addr"` // пусто: gRPC выключен
	} `mapstructure:"grpc"`

	Database struct {
		DSN             string        `mapstructure:"dsn"`
		MaintenanceDSN  string        `mapstructure:"maintenance_dsn"` // роль с BYPASSRLS для sweep
		MaxOpenConns    int           `mapstructure:"max_open_conns"`
		MaxIdleConns    int           `mapstructure:"max_idle_conns"`
		ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	} `mapstructure:"database"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Auth struct {
		Mode              string        `mapstructure:"mode"` // local | external
		Secret            string        `mapstructure:"secret"`
		Algorithm         string        `mapstructure:"algorithm"`
		Issuer            string        `mapstructure:"issuer"`
		AccessTTL         time.Duration `mapstructure:"access_ttl"`
		RefreshTTL        time.Duration `mapstructure:"refresh_ttl"`
		PreAuthTTL        time.Duration `mapstructure:"pre_auth_ttl"`
		LogoutFallbackTTL time.Duration `mapstructure:"logout_fallback_ttl"`
		EmbedPermissions  bool          `mapstructure:"embed_permissions"`
		Pepper            string        `mapstructure:"pepper"`
		PasswordAlgorithm string        `mapstructure:"password_algorithm"` // argon2id | bcrypt
		BcryptCost        int           `mapstructure:"bcrypt_cost"`
	} `mapstructure:"auth"`

	External struct {
		Issuer      string        `mapstructure:"issuer"`
		Audience    string        `mapstructure:"audience"`
		JWKSURL     string        `mapstructure:"jwks_url"`
		TenantClaim string        `mapstructure:"tenant_claim"`
		CacheTTL    time.Duration `mapstructure:"cache_ttl"`
		Timeout     time.Duration `mapstructure:"timeout"`
	} `mapstructure:"external"`

	MFA struct {
		Issuer        string        `mapstructure:"issuer"`
		EncryptionKey string        `mapstructure:"encryption_key"` // base64, 32 bytes
		Skew          uint          `mapstructure:"skew"`
		MaxAttempts   int           `mapstructure:"max_attempts"`
		Cooldown      time.Duration `mapstructure:"cooldown"`
	} `mapstructure:"mfa"`

	Revocation struct {
		Backend string `mapstructure:"backend"` // postgres | redis | memory
	} `mapstructure:"revocation"`

	Audit struct {
		BufferSize int `mapstructure:"buffer_size"`
	} `mapstructure:"audit"`

	RateLimit struct {
		LoginBurst     int `mapstructure:"login_burst"`
		LoginPerSecond int `mapstructure:"login_per_second"`
	} `mapstructure:"ratelimit"`

	Maintenance struct {
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
		Retention     time.Duration `mapstructure:"retention"`
	} `mapstructure:"maintenance"`

	Log struct {
		Level       string `mapstructure:"level"`
		Environment string `mapstructure:"environment"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.trusted_proxies", []string{})

	v.SetDefault("grpc.addr", "")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.maintenance_dsn", "")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", 15*time.Minute)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.mode", "local")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.algorithm", "HS256")
	v.SetDefault("auth.issuer", "qlaws-iam")
	v.SetDefault("auth.access_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_ttl", 7*24*time.Hour)
	v.SetDefault("auth.pre_auth_ttl", 5*time.Minute)
	v.SetDefault("auth.logout_fallback_ttl", 30*time.Minute)
	v.SetDefault("auth.embed_permissions", true)
	v.SetDefault("auth.pepper", "")
	v.SetDefault("auth.password_algorithm", "argon2id")
	v.SetDefault("auth.bcrypt_cost", 12)

	v.SetDefault("external.issuer", "")
	v.SetDefault("external.audience", "")
	v.SetDefault("external.jwks_url", "")
	v.SetDefault("external.tenant_claim", "https://qlaws.com/tid")
	v.SetDefault("external.cache_ttl", 10*time.Minute)
	v.SetDefault("external.timeout", 5*time.Second)

	v.SetDefault("mfa.issuer", "Qlaws")
	v.SetDefault("mfa.encryption_key", "")
	v.SetDefault("mfa.skew", 1)
	v.SetDefault("mfa.max_attempts", 5)
	v.SetDefault("mfa.cooldown", 15*time.Minute)

	v.SetDefault("revocation.backend", "postgres")
	v.SetDefault("audit.buffer_size", 1024)

	v.SetDefault("ratelimit.login_burst", 10)
	v.SetDefault("ratelimit.login_per_second", 5)

	v.SetDefault("maintenance.sweep_interval", time.Duration(0))
	v.SetDefault("maintenance.retention", 24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "development")
}

// Load reads configuration from defaults, an optional config file, an optional
// .env file and IAM_* environment variables, in increasing priority.
// path may be empty; IAM_CONFIG_FILE is consulted in that case.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path == "" {
		path = os.Getenv(envPrefix + "_CONFIG_FILE")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/qlaws-iam")
	}
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) && !(path != "" && errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that defaults cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.Auth.Mode {
	case "local":
		if len(c.Auth.Secret) < 32 {
			errs = append(errs, errors.New("auth.secret must be at least 32 bytes in local mode"))
		}
		switch c.Auth.Algorithm {
		case "HS256", "HS384", "HS512":
		default:
			errs = append(errs, fmt.Errorf("auth.algorithm %q is not supported", c.Auth.Algorithm))
		}
	case "external":
		if c.External.Issuer == "" || c.External.Audience == "" || c.External.JWKSURL == "" {
			errs = append(errs, errors.New("external.issuer, external.audience and external.jwks_url are required in external mode"))
		}
		if c.External.Timeout <= 0 {
			errs = append(errs, errors.New("external.timeout must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.mode %q is not supported", c.Auth.Mode))
	}

	if c.Auth.AccessTTL < time.Minute || c.Auth.AccessTTL > 24*time.Hour {
		errs = append(errs, errors.New("auth.access_ttl must be between 1m and 24h"))
	}
	if c.Auth.RefreshTTL < 7*24*time.Hour || c.Auth.RefreshTTL > 30*24*time.Hour {
		errs = append(errs, errors.New("auth.refresh_ttl must be between 7 and 30 days"))
	}
	if c.Auth.PreAuthTTL <= 0 {
		errs = append(errs, errors.New("auth.pre_auth_ttl must be positive"))
	}
	switch c.Auth.PasswordAlgorithm {
	case "argon2id", "bcrypt":
	default:
		errs = append(errs, fmt.Errorf("auth.password_algorithm %q is not supported", c.Auth.PasswordAlgorithm))
	}

	if c.MFA.MaxAttempts <= 0 || c.MFA.Cooldown <= 0 {
		errs = append(errs, errors.New("mfa.max_attempts and mfa.cooldown must be positive"))
	}
	if c.MFA.EncryptionKey != "" {
		if _, err := c.MFAKey(); err != nil {
			errs = append(errs, err)
		}
	}

	switch c.Revocation.Backend {
	case "postgres", "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis revocation backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("revocation.backend %q is not supported", c.Revocation.Backend))
	}

	return errors.Join(errs...)
}

// MFAKey decodes the MFA secret-sealing key.
func (c *Config) MFAKey() (*[32]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(c.MFA.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("mfa.encryption_key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("mfa.encryption_key must decode to 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}
