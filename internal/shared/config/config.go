package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	Env             string
	BridgeToken     string

	BackendURL     string
	BackendToken   string
	BackendTimeout time.Duration

	PollInterval    time.Duration
	PollMaxAttempts int
	PLECloseDelay   time.Duration
	// PLEMaxEntryBytes caps each file inside a downloaded PLE archive.
	PLEMaxEntryBytes int64

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string

	DatabaseURL string
	DefaultRUC  string
}

type configFile struct {
	Server struct {
		Port        string   `yaml:"port"`
		CORSOrigins []string `yaml:"cors_allow_origins"`
		Env         string   `yaml:"env"`
		Token       string   `yaml:"token"`
	} `yaml:"server"`
	Backend struct {
		URL            string `yaml:"url"`
		Token          string `yaml:"token"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"backend"`
	Polling struct {
		IntervalMS      int `yaml:"interval_ms"`
		MaxAttempts     int `yaml:"max_attempts"`
		PLECloseDelayMS int `yaml:"ple_close_delay_ms"`
	} `yaml:"polling"`
	PLE struct {
		MaxEntryMB int `yaml:"max_entry_mb"`
	} `yaml:"ple"`
	Storage struct {
		Type        string `yaml:"type"`
		LocalDir    string `yaml:"local_dir"`
		AWSRegion   string `yaml:"aws_region"`
		S3Bucket    string `yaml:"s3_bucket"`
		S3Prefix    string `yaml:"s3_prefix"`
		SSEKMSKeyID string `yaml:"sse_kms_key_id"`
	} `yaml:"storage"`
	DatabaseURL string `yaml:"database_url"`
	DefaultRUC  string `yaml:"default_ruc"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Port:            "8080",
		CORSAllowOrigin: []string{"http://localhost:5173"},
		Env:             "dev",
		BackendURL:      "http://localhost:8000/api/v1",
		BackendTimeout:  30 * time.Second,
		PollInterval:    2500 * time.Millisecond,
		PollMaxAttempts: 120,
		PLECloseDelay:   2 * time.Second,
		PLEMaxEntryBytes: 64 << 20,
		ObjectStoreType: "local",
		LocalStoreDir:   "./data",
	}
}

// Load reads configuration from an optional YAML file (CONFIG_FILE) and
// environment variables. Environment wins over the file.
func Load() (Config, error) {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := applyFile(&cfg, raw); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.Env == "production" && cfg.DatabaseURL == "" {
		log.Printf("DATABASE_URL is not set; watchlist is kept in memory")
	}
	return cfg, nil
}

// Validate checks values that would make the client unusable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BackendURL) == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MS must be positive")
	}
	if c.PollMaxAttempts <= 0 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be positive")
	}
	if c.ObjectStoreType == "s3" && (c.S3Bucket == "" || c.AWSRegion == "") {
		return fmt.Errorf("S3_BUCKET and AWS_REGION are required when OBJECT_STORE=s3")
	}
	return nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Server.Port != "" {
		cfg.Port = f.Server.Port
	}
	if len(f.Server.CORSOrigins) > 0 {
		cfg.CORSAllowOrigin = splitAndTrim(strings.Join(f.Server.CORSOrigins, ","))
	}
	if f.Server.Env != "" {
		cfg.Env = normalizeEnv(f.Server.Env)
	}
	if f.Server.Token != "" {
		cfg.BridgeToken = f.Server.Token
	}
	if f.Backend.URL != "" {
		cfg.BackendURL = f.Backend.URL
	}
	if f.Backend.Token != "" {
		cfg.BackendToken = f.Backend.Token
	}
	if f.Backend.TimeoutSeconds > 0 {
		cfg.BackendTimeout = time.Duration(f.Backend.TimeoutSeconds) * time.Second
	}
	if f.Polling.IntervalMS > 0 {
		cfg.PollInterval = time.Duration(f.Polling.IntervalMS) * time.Millisecond
	}
	if f.Polling.MaxAttempts > 0 {
		cfg.PollMaxAttempts = f.Polling.MaxAttempts
	}
	if f.Polling.PLECloseDelayMS > 0 {
		cfg.PLECloseDelay = time.Duration(f.Polling.PLECloseDelayMS) * time.Millisecond
	}
	if f.PLE.MaxEntryMB > 0 {
		cfg.PLEMaxEntryBytes = int64(f.PLE.MaxEntryMB) << 20
	}
	if f.Storage.Type != "" {
		cfg.ObjectStoreType = normalizeStoreType(f.Storage.Type)
	}
	if f.Storage.LocalDir != "" {
		cfg.LocalStoreDir = f.Storage.LocalDir
	}
	if f.Storage.AWSRegion != "" {
		cfg.AWSRegion = f.Storage.AWSRegion
	}
	if f.Storage.S3Bucket != "" {
		cfg.S3Bucket = f.Storage.S3Bucket
	}
	if f.Storage.S3Prefix != "" {
		cfg.S3Prefix = f.Storage.S3Prefix
	}
	if f.Storage.SSEKMSKeyID != "" {
		cfg.SSEKMSKeyID = f.Storage.SSEKMSKeyID
	}
	if f.DatabaseURL != "" {
		cfg.DatabaseURL = f.DatabaseURL
	}
	if f.DefaultRUC != "" {
		cfg.DefaultRUC = strings.TrimSpace(f.DefaultRUC)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	if raw := os.Getenv("CORS_ALLOW_ORIGINS"); raw != "" {
		cfg.CORSAllowOrigin = splitAndTrim(raw)
	}
	cfg.Env = normalizeEnv(getEnv("ENV", cfg.Env))
	cfg.BridgeToken = getEnv("BRIDGE_TOKEN", cfg.BridgeToken)
	cfg.BackendURL = getEnv("BACKEND_URL", cfg.BackendURL)
	cfg.BackendToken = getEnv("BACKEND_TOKEN", cfg.BackendToken)
	cfg.BackendTimeout = time.Duration(getEnvInt("BACKEND_TIMEOUT_SECONDS", int(cfg.BackendTimeout/time.Second))) * time.Second
	cfg.PollInterval = time.Duration(getEnvInt("POLL_INTERVAL_MS", int(cfg.PollInterval/time.Millisecond))) * time.Millisecond
	cfg.PollMaxAttempts = getEnvInt("POLL_MAX_ATTEMPTS", cfg.PollMaxAttempts)
	cfg.PLECloseDelay = time.Duration(getEnvInt("PLE_CLOSE_DELAY_MS", int(cfg.PLECloseDelay/time.Millisecond))) * time.Millisecond
	cfg.PLEMaxEntryBytes = int64(getEnvInt("PLE_MAX_ENTRY_MB", int(cfg.PLEMaxEntryBytes>>20))) << 20
	cfg.ObjectStoreType = normalizeStoreType(getEnv("OBJECT_STORE", cfg.ObjectStoreType))
	cfg.LocalStoreDir = getEnv("LOCAL_STORE_DIR", cfg.LocalStoreDir)
	cfg.AWSRegion = getEnv("AWS_REGION", cfg.AWSRegion)
	cfg.S3Bucket = getEnv("S3_BUCKET", cfg.S3Bucket)
	cfg.S3Prefix = getEnv("S3_PREFIX", cfg.S3Prefix)
	cfg.SSEKMSKeyID = getEnv("SSE_KMS_KEY_ID", cfg.SSEKMSKeyID)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.DefaultRUC = strings.TrimSpace(getEnv("DEFAULT_RUC", cfg.DefaultRUC))
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("ignoring invalid %s=%q", key, raw)
		return def
	}
	return n
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	case "none", "off":
		return "none"
	default:
		return "local"
	}
}
