package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Redis        RedisConfig
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	Zitadel      ZitadelConfig
	Gateway      GatewayConfig
	Suno         SunoConfig
	Ledger       LedgerConfig
	R2           R2Config
	Orchestrator OrchestratorConfig
	Callback     CallbackConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	ApiDomain string
}

// IsDevelopment reports whether the service runs with development defaults.
func (s ServerConfig) IsDevelopment() bool {
	return strings.EqualFold(s.Env, "development")
}

type LogConfig struct {
	Level  string
	Format string // "json" | "console"
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

type JWTConfig struct {
	Secret string
}

type RateLimitConfig struct {
	SubmitPerHour int
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool // auth handled by Traefik ForwardAuth
}

type SunoConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	CallbackURL string
	Timeout     time.Duration
}

type LedgerConfig struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	ReceiptTimeout time.Duration
	ReceiptPoll    time.Duration
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type OrchestratorConfig struct {
	PollInterval          time.Duration
	PollTimeout           time.Duration
	MaxBackoff            time.Duration
	LedgerRefreshInterval time.Duration
	UploadTimeout         time.Duration
	CacheTTL              time.Duration
	CacheNamespace        string
}

type CallbackConfig struct {
	Token string
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("SUNO_API_KEY")
	readSecret("LEDGER_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")
	readSecret("CALLBACK_TOKEN")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("log.level", "LOG_LEVEL")
	_ = viper.BindEnv("log.format", "LOG_FORMAT")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("redis.enabled", "REDIS_ENABLED")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("ratelimit.submit_per_hour", "RATELIMIT_SUBMIT_PER_HOUR")
	_ = viper.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = viper.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = viper.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = viper.BindEnv("suno.api_key", "SUNO_API_KEY")
	_ = viper.BindEnv("suno.base_url", "SUNO_BASE_URL")
	_ = viper.BindEnv("suno.model", "SUNO_MODEL")
	_ = viper.BindEnv("suno.callback_url", "SUNO_CALLBACK_URL")
	_ = viper.BindEnv("suno.timeout", "SUNO_TIMEOUT")
	_ = viper.BindEnv("ledger.base_url", "LEDGER_BASE_URL")
	_ = viper.BindEnv("ledger.api_key", "LEDGER_API_KEY")
	_ = viper.BindEnv("ledger.timeout", "LEDGER_TIMEOUT")
	_ = viper.BindEnv("ledger.receipt_timeout", "LEDGER_RECEIPT_TIMEOUT")
	_ = viper.BindEnv("ledger.receipt_poll", "LEDGER_RECEIPT_POLL")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("orchestrator.poll_interval", "ORCHESTRATOR_POLL_INTERVAL")
	_ = viper.BindEnv("orchestrator.poll_timeout", "ORCHESTRATOR_POLL_TIMEOUT")
	_ = viper.BindEnv("orchestrator.max_backoff", "ORCHESTRATOR_MAX_BACKOFF")
	_ = viper.BindEnv("orchestrator.ledger_refresh_interval", "ORCHESTRATOR_LEDGER_REFRESH_INTERVAL")
	_ = viper.BindEnv("orchestrator.upload_timeout", "ORCHESTRATOR_UPLOAD_TIMEOUT")
	_ = viper.BindEnv("orchestrator.cache_ttl", "ORCHESTRATOR_CACHE_TTL")
	_ = viper.BindEnv("orchestrator.cache_namespace", "ORCHESTRATOR_CACHE_NAMESPACE")
	_ = viper.BindEnv("callback.token", "CALLBACK_TOKEN")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("ratelimit.submit_per_hour", 20)
	viper.SetDefault("gateway.enabled", false)

	// Suno defaults
	viper.SetDefault("suno.base_url", "https://api.sunoapi.org")
	viper.SetDefault("suno.model", "V4_5")
	viper.SetDefault("suno.timeout", 30*time.Second)

	// Ledger gateway defaults
	viper.SetDefault("ledger.base_url", "http://localhost:8545")
	viper.SetDefault("ledger.timeout", 15*time.Second)
	viper.SetDefault("ledger.receipt_timeout", 3*time.Minute)
	viper.SetDefault("ledger.receipt_poll", 3*time.Second)

	// Orchestrator defaults
	viper.SetDefault("orchestrator.poll_interval", 5*time.Second)
	viper.SetDefault("orchestrator.poll_timeout", 20*time.Second)
	viper.SetDefault("orchestrator.max_backoff", 2*time.Minute)
	viper.SetDefault("orchestrator.ledger_refresh_interval", 30*time.Second)
	viper.SetDefault("orchestrator.upload_timeout", 30*time.Second)
	viper.SetDefault("orchestrator.cache_ttl", 24*time.Hour)
	viper.SetDefault("orchestrator.cache_namespace", "generated-items")

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Log: LogConfig{
			Level:  viper.GetString("log.level"),
			Format: viper.GetString("log.format"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			Enabled:  viper.GetBool("redis.enabled"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		RateLimit: RateLimitConfig{
			SubmitPerHour: viper.GetInt("ratelimit.submit_per_hour"),
		},
		Zitadel: ZitadelConfig{
			Domain:   viper.GetString("zitadel.domain"),
			ClientID: viper.GetString("zitadel.client_id"),
			Issuer:   viper.GetString("zitadel.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
		Suno: SunoConfig{
			APIKey:      viper.GetString("suno.api_key"),
			BaseURL:     viper.GetString("suno.base_url"),
			Model:       viper.GetString("suno.model"),
			CallbackURL: viper.GetString("suno.callback_url"),
			Timeout:     viper.GetDuration("suno.timeout"),
		},
		Ledger: LedgerConfig{
			BaseURL:        viper.GetString("ledger.base_url"),
			APIKey:         viper.GetString("ledger.api_key"),
			Timeout:        viper.GetDuration("ledger.timeout"),
			ReceiptTimeout: viper.GetDuration("ledger.receipt_timeout"),
			ReceiptPoll:    viper.GetDuration("ledger.receipt_poll"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Orchestrator: OrchestratorConfig{
			PollInterval:          viper.GetDuration("orchestrator.poll_interval"),
			PollTimeout:           viper.GetDuration("orchestrator.poll_timeout"),
			MaxBackoff:            viper.GetDuration("orchestrator.max_backoff"),
			LedgerRefreshInterval: viper.GetDuration("orchestrator.ledger_refresh_interval"),
			UploadTimeout:         viper.GetDuration("orchestrator.upload_timeout"),
			CacheTTL:              viper.GetDuration("orchestrator.cache_ttl"),
			CacheNamespace:        viper.GetString("orchestrator.cache_namespace"),
		},
		Callback: CallbackConfig{
			Token: viper.GetString("callback.token"),
		},
	}

	return cfg, nil
}
