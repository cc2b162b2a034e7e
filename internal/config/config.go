package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Auth     AuthConfig     `mapstructure:"auth"`
	XAI      XAIConfig      `mapstructure:"xai"`
	Leonardo LeonardoConfig `mapstructure:"leonardo"`
	Clamd    ClamdConfig    `mapstructure:"clamd"`
	Limits   LimitsConfig   `mapstructure:"limits"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port      int      `mapstructure:"port"`
	WSOrigins []string `mapstructure:"ws_origins"`
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// AuthConfig contains JWT signing material and token lifetimes.
// The key fields hold PEM content rather than file paths so the whole
// configuration can live in environment variables.
type AuthConfig struct {
	PrivateKeyPEM   string        `mapstructure:"private_key_pem"`
	PublicKeyPEM    string        `mapstructure:"public_key_pem"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// XAIConfig contains credentials and model names for the xAI (Grok) API.
type XAIConfig struct {
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	ChatModel   string `mapstructure:"chat_model"`
	NamingModel string `mapstructure:"naming_model"`
	ImageModel  string `mapstructure:"image_model"`
}

// LeonardoConfig contains credentials and polling policy for the Leonardo API.
type LeonardoConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	PollMaxAttempts int           `mapstructure:"poll_max_attempts"`
}

// ClamdConfig 包含可选的病毒扫描服务地址，留空则跳过扫描。
type ClamdConfig struct {
	Addr string `mapstructure:"addr"`
}

// LimitsConfig contains per-user quotas.
type LimitsConfig struct {
	GenerationsPerDay int `mapstructure:"generations_per_day"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Addr returns the host:port pair for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "poster")
	v.SetDefault("database.user", "poster")
	v.SetDefault("database.password", "poster")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "poster")
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("auth.access_token_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 7*24*time.Hour)
	v.SetDefault("xai.base_url", "https://api.x.ai/v1")
	v.SetDefault("xai.chat_model", "grok-4-fast-reasoning")
	v.SetDefault("xai.naming_model", "grok-4-fast-non-reasoning")
	v.SetDefault("xai.image_model", "grok-2-image")
	v.SetDefault("leonardo.base_url", "https://cloud.leonardo.ai/api/rest/v1")
	v.SetDefault("leonardo.poll_interval", 3*time.Second)
	v.SetDefault("leonardo.poll_max_attempts", 40)
	v.SetDefault("limits.generations_per_day", 100)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                   "API_PORT",
		"api.ws_origins":             "API_WS_ORIGINS",
		"database.host":              "DATABASE_HOST",
		"database.port":              "DATABASE_PORT",
		"database.name":              "POSTGRES_DB",
		"database.user":              "POSTGRES_USER",
		"database.password":          "POSTGRES_PASSWORD",
		"database.sslmode":           "DATABASE_SSLMODE",
		"redis.host":                 "REDIS_HOST",
		"redis.port":                 "REDIS_PORT",
		"minio.endpoint":             "MINIO_ENDPOINT",
		"minio.public_endpoint":      "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":        "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":    "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":              "MINIO_USE_SSL",
		"minio.bucket":               "MINIO_BUCKET",
		"minio.region":               "MINIO_REGION",
		"minio.bucket_lookup":        "MINIO_BUCKET_LOOKUP",
		"minio.auto_create_bucket":   "MINIO_AUTO_CREATE_BUCKET",
		"auth.private_key_pem":       "AUTH_PRIVATE_KEY_PEM",
		"auth.public_key_pem":        "AUTH_PUBLIC_KEY_PEM",
		"auth.access_token_ttl":      "AUTH_ACCESS_TOKEN_TTL",
		"auth.refresh_token_ttl":     "AUTH_REFRESH_TOKEN_TTL",
		"xai.api_key":                "XAI_API_KEY",
		"xai.base_url":               "XAI_BASE_URL",
		"xai.chat_model":             "XAI_CHAT_MODEL",
		"xai.naming_model":           "XAI_NAMING_MODEL",
		"xai.image_model":            "XAI_IMAGE_MODEL",
		"leonardo.api_key":           "LEONARDO_API_KEY",
		"leonardo.base_url":          "LEONARDO_BASE_URL",
		"leonardo.poll_interval":     "LEONARDO_POLL_INTERVAL",
		"leonardo.poll_max_attempts": "LEONARDO_POLL_MAX_ATTEMPTS",
		"clamd.addr":                 "CLAMD_ADDR",
		"limits.generations_per_day": "LIMIT_GENERATIONS_PER_DAY",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.Password == "" {
		return errors.New("database password is required")
	}
	if cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.PublicEndpoint == "" {
		return errors.New("minio public endpoint is required")
	}
	if cfg.MinIO.AccessKeyID == "" {
		return errors.New("minio access key id is required")
	}
	if cfg.MinIO.SecretAccessKey == "" {
		return errors.New("minio secret access key is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if cfg.Auth.PrivateKeyPEM == "" {
		return errors.New("auth private key pem is required")
	}
	if cfg.Auth.PublicKeyPEM == "" {
		return errors.New("auth public key pem is required")
	}
	if cfg.Auth.AccessTokenTTL <= 0 {
		return errors.New("auth access token ttl must be positive")
	}
	if cfg.Auth.RefreshTokenTTL <= 0 {
		return errors.New("auth refresh token ttl must be positive")
	}
	if cfg.XAI.APIKey == "" {
		return errors.New("xai api key is required")
	}
	if cfg.XAI.BaseURL == "" {
		return errors.New("xai base url is required")
	}
	if cfg.Leonardo.APIKey == "" {
		return errors.New("leonardo api key is required")
	}
	if cfg.Leonardo.BaseURL == "" {
		return errors.New("leonardo base url is required")
	}
	if cfg.Leonardo.PollInterval <= 0 {
		return errors.New("leonardo poll interval must be positive")
	}
	if cfg.Leonardo.PollMaxAttempts <= 0 {
		return errors.New("leonardo poll max attempts must be positive")
	}
	return nil
}
