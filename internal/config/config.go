/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Storage backend selection for the local library.
type StorageBackend string

const (
	StorageFS StorageBackend = "fs"
	StorageS3 StorageBackend = "s3"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment     string
	HTTPBind        string
	HTTPPort        int
	BaseURL         string          // Public base URL (e.g., http://192.168.195.6:8080)
	DBBackend       DatabaseBackend
	DBDSN           string
	MediaRoot       string
	SettingsFile    string          // Optional YAML file seeding player setting defaults
	JWTSigningKey   string
	MetricsBind     string
	MaxUploadSizeMB int             // Optional global multipart upload limit override (MB)

	// Remote streaming service configuration
	RemoteAPIURL       string        // Base URL of the connect-style service API
	RemoteAPIToken     string        // Static bearer token (token refresh is external)
	RemoteTokenFile    string        // File reread per request when an external refresher rotates the token
	RemotePollInterval time.Duration // Snapshot poll cadence while the remote source is active

	// Proxy-stream resolver configuration
	ResolverURL     string
	ResolverTimeout time.Duration

	// Embedded-video host (rod-driven, for headless deployments)
	EmbedEnabled  bool
	EmbedPageURL  string // Template with one %s for the video id
	EmbedHeadless bool

	// Library storage configuration
	Storage StorageBackend

	// S3 Object Storage configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3PublicBaseURL   string // Optional CDN/CloudFront URL
	S3UsePathStyle    bool   // Required for MinIO

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Cache configuration
	CacheEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Cross-session sync configuration
	SyncEnabled    bool
	NATSURL        string
	NATSToken      string
	SyncListenerID string // Listener whose sessions this process syncs with
	InstanceID     string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:     getEnvAny([]string{"BIFROST_ENV", "BFP_ENV"}, "development"),
		HTTPBind:        getEnvAny([]string{"BIFROST_HTTP_BIND", "BFP_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:        getEnvIntAny([]string{"BIFROST_HTTP_PORT", "BFP_HTTP_PORT"}, 8080),
		BaseURL:         getEnvAny([]string{"BIFROST_BASE_URL", "BFP_BASE_URL"}, ""),
		DBBackend:       DatabaseBackend(getEnvAny([]string{"BIFROST_DB_BACKEND", "BFP_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:           getEnvAny([]string{"BIFROST_DB_DSN", "BFP_DB_DSN"}, ""),
		MediaRoot:       getEnvAny([]string{"BIFROST_MEDIA_ROOT", "BFP_MEDIA_ROOT"}, "./media"),
		SettingsFile:    getEnvAny([]string{"BIFROST_SETTINGS_FILE", "BFP_SETTINGS_FILE"}, ""),
		JWTSigningKey:   getEnvAny([]string{"BIFROST_JWT_SIGNING_KEY", "BFP_JWT_SIGNING_KEY"}, ""),
		MetricsBind:     getEnvAny([]string{"BIFROST_METRICS_BIND", "BFP_METRICS_BIND"}, "127.0.0.1:9000"),
		MaxUploadSizeMB: getEnvIntAny([]string{"BIFROST_MAX_UPLOAD_SIZE_MB", "BFP_MAX_UPLOAD_SIZE_MB"}, 0),

		// Remote streaming service configuration
		RemoteAPIURL:       getEnvAny([]string{"BIFROST_REMOTE_API_URL", "BFP_REMOTE_API_URL"}, ""),
		RemoteAPIToken:     getEnvAny([]string{"BIFROST_REMOTE_API_TOKEN", "BFP_REMOTE_API_TOKEN"}, ""),
		RemoteTokenFile:    getEnvAny([]string{"BIFROST_REMOTE_TOKEN_FILE", "BFP_REMOTE_TOKEN_FILE"}, ""),
		RemotePollInterval: time.Duration(getEnvIntAny([]string{"BIFROST_REMOTE_POLL_MS", "BFP_REMOTE_POLL_MS"}, 1000)) * time.Millisecond,

		// Proxy-stream resolver configuration
		ResolverURL:     getEnvAny([]string{"BIFROST_RESOLVER_URL", "BFP_RESOLVER_URL"}, ""),
		ResolverTimeout: time.Duration(getEnvIntAny([]string{"BIFROST_RESOLVER_TIMEOUT_MS", "BFP_RESOLVER_TIMEOUT_MS"}, 10000)) * time.Millisecond,

		// Embedded-video host
		EmbedEnabled:  getEnvBoolAny([]string{"BIFROST_EMBED_ENABLED", "BFP_EMBED_ENABLED"}, false),
		EmbedPageURL:  getEnvAny([]string{"BIFROST_EMBED_PAGE_URL", "BFP_EMBED_PAGE_URL"}, "https://www.youtube.com/embed/%s?enablejsapi=1&autoplay=1"),
		EmbedHeadless: getEnvBoolAny([]string{"BIFROST_EMBED_HEADLESS", "BFP_EMBED_HEADLESS"}, true),

		// Library storage configuration
		Storage: StorageBackend(getEnvAny([]string{"BIFROST_STORAGE_BACKEND", "BFP_STORAGE_BACKEND"}, string(StorageFS))),

		// S3 Object Storage configuration
		S3AccessKeyID:     getEnvAny([]string{"BIFROST_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"BIFROST_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"BIFROST_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"BIFROST_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"BIFROST_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3PublicBaseURL:   getEnvAny([]string{"BIFROST_S3_PUBLIC_BASE_URL", "S3_PUBLIC_BASE_URL"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"BIFROST_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"BIFROST_TRACING_ENABLED", "BFP_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"BIFROST_OTLP_ENDPOINT", "BFP_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"BIFROST_TRACING_SAMPLE_RATE", "BFP_TRACING_SAMPLE_RATE"}, 1.0),

		// Cache configuration
		CacheEnabled:  getEnvBoolAny([]string{"BIFROST_CACHE_ENABLED", "BFP_CACHE_ENABLED"}, false),
		RedisAddr:     getEnvAny([]string{"BIFROST_REDIS_ADDR", "BFP_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"BIFROST_REDIS_PASSWORD", "BFP_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"BIFROST_REDIS_DB", "BFP_REDIS_DB"}, 0),

		// Cross-session sync configuration
		SyncEnabled:    getEnvBoolAny([]string{"BIFROST_SYNC_ENABLED", "BFP_SYNC_ENABLED"}, false),
		NATSURL:        getEnvAny([]string{"BIFROST_NATS_URL", "BFP_NATS_URL"}, "nats://localhost:4222"),
		NATSToken:      getEnvAny([]string{"BIFROST_NATS_TOKEN", "BFP_NATS_TOKEN"}, ""),
		SyncListenerID: getEnvAny([]string{"BIFROST_SYNC_LISTENER", "BFP_SYNC_LISTENER"}, "default"),
		InstanceID:     getEnvAny([]string{"BIFROST_INSTANCE_ID", "BFP_INSTANCE_ID"}, ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	// SQLite gets a file default so a bare process can come up; server
	// backends must be pointed at a real DSN.
	if cfg.DBDSN == "" {
		if cfg.DBBackend != DatabaseSQLite {
			return nil, fmt.Errorf("BIFROST_DB_DSN or BFP_DB_DSN must be provided for backend %q", cfg.DBBackend)
		}
		cfg.DBDSN = "bifrost.db"
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("BIFROST_JWT_SIGNING_KEY or BFP_JWT_SIGNING_KEY must be provided")
	}

	if cfg.Storage != StorageFS && cfg.Storage != StorageS3 {
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage)
	}

	if cfg.Storage == StorageS3 && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("BIFROST_S3_BUCKET or S3_BUCKET must be provided when storage backend is s3")
	}

	if cfg.EmbedEnabled && !strings.Contains(cfg.EmbedPageURL, "%s") {
		return nil, fmt.Errorf("BIFROST_EMBED_PAGE_URL must contain a %%s placeholder for the video id")
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if cfg.RemoteAPIURL != "" && cfg.RemoteAPIToken == "" && cfg.RemoteTokenFile == "" {
			return nil, fmt.Errorf("BIFROST_REMOTE_API_TOKEN or BIFROST_REMOTE_TOKEN_FILE must be set when the remote service is configured in production")
		}
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":     "use BIFROST_ENV (or BFP_ENV)",
		"JWT_SIGNING_KEY": "use BIFROST_JWT_SIGNING_KEY (or BFP_JWT_SIGNING_KEY)",
		"TRACING_ENABLED": "use BIFROST_TRACING_ENABLED (or BFP_TRACING_ENABLED)",
		"OTLP_ENDPOINT":   "use BIFROST_OTLP_ENDPOINT (or BFP_OTLP_ENDPOINT)",
		"REDIS_ADDR":      "use BIFROST_REDIS_ADDR (or BFP_REDIS_ADDR)",
		"NATS_URL":        "use BIFROST_NATS_URL (or BFP_NATS_URL)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// MaxUploadSizeBytes returns the configured upload limit in bytes.
// A value of 0 means "not configured" and callers should use endpoint defaults.
func (c *Config) MaxUploadSizeBytes() int64 {
	if c == nil || c.MaxUploadSizeMB <= 0 {
		return 0
	}
	return int64(c.MaxUploadSizeMB) * 1024 * 1024
}

// RemoteToken returns the bearer token for the remote service, preferring the
// token file (rotated externally) over the static env value.
func (c *Config) RemoteToken() string {
	if c.RemoteTokenFile != "" {
		if raw, err := os.ReadFile(c.RemoteTokenFile); err == nil {
			if tok := strings.TrimSpace(string(raw)); tok != "" {
				return tok
			}
		}
	}
	return c.RemoteAPIToken
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
