// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the JSON API listens on (e.g. :3002).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC health server listens on (e.g. :8081).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTSecret is the HS256 shared secret, used when no key pair is configured.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the session token lifetime (e.g. "24h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// PBKDF2Iterations is the password hash iteration count. Changing it invalidates stored hashes.
	PBKDF2Iterations int `mapstructure:"PBKDF2_ITERATIONS"`

	// SocialTimeout bounds one provider profile lookup (e.g. "10s").
	SocialTimeout string `mapstructure:"SOCIAL_TIMEOUT"`
	// GoogleIssuerURL is the OIDC issuer userinfo is discovered from. Empty disables Google login.
	GoogleIssuerURL string `mapstructure:"GOOGLE_ISSUER_URL"`
	// FacebookGraphURL is the Graph API base URL. Empty disables Facebook login.
	FacebookGraphURL string `mapstructure:"FACEBOOK_GRAPH_URL"`

	// UploadDir is where avatars are written when no S3 bucket is configured.
	UploadDir string `mapstructure:"UPLOAD_DIR"`
	// UploadMaxBytes caps a single avatar upload.
	UploadMaxBytes int64 `mapstructure:"UPLOAD_MAX_BYTES"`
	// S3Bucket, when set, stores avatars in S3 instead of UploadDir.
	S3Bucket    string `mapstructure:"S3_BUCKET"`
	S3Region    string `mapstructure:"S3_REGION"`
	S3Endpoint  string `mapstructure:"S3_ENDPOINT"`
	S3AccessKey string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey string `mapstructure:"S3_SECRET_KEY"`

	// EditPolicyFile is an optional Rego file replacing the built-in edit rule.
	EditPolicyFile string `mapstructure:"EDIT_POLICY_FILE"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// Telemetry (optional). When Kafka brokers are set, auth events are also written to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for auth events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// OTelEndpoint is the OTLP gRPC collector endpoint. Empty disables export.
	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTelInsecure forces a plaintext collector connection.
	OTelInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// OTelServiceName is the service.name resource attribute.
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Seed-only: the ADMIN password account cmd/seed creates.
	SeedAdminEmail    string `mapstructure:"SEED_ADMIN_EMAIL"`
	SeedAdminPassword string `mapstructure:"SEED_ADMIN_PASSWORD"`
}

var defaults = map[string]any{
	"HTTP_ADDR":                   ":3002",
	"GRPC_ADDR":                   ":8081",
	"DATABASE_URL":                "",
	"JWT_PRIVATE_KEY":             "",
	"JWT_PUBLIC_KEY":              "",
	"JWT_SECRET":                  "",
	"JWT_ISSUER":                  "identity-service",
	"JWT_AUDIENCE":                "identity-api",
	"JWT_ACCESS_TTL":              "24h",
	"PBKDF2_ITERATIONS":           1000,
	"SOCIAL_TIMEOUT":              "10s",
	"GOOGLE_ISSUER_URL":           "https://accounts.google.com",
	"FACEBOOK_GRAPH_URL":          "https://graph.facebook.com",
	"UPLOAD_DIR":                  "uploads",
	"UPLOAD_MAX_BYTES":            5 << 20,
	"S3_BUCKET":                   "",
	"S3_REGION":                   "us-east-1",
	"S3_ENDPOINT":                 "",
	"S3_ACCESS_KEY":               "",
	"S3_SECRET_KEY":               "",
	"EDIT_POLICY_FILE":            "",
	"APP_ENV":                     "",
	"KAFKA_BROKERS":               "",
	"TELEMETRY_KAFKA_TOPIC":       "identity-auth-events",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_EXPORTER_OTLP_INSECURE": false,
	"OTEL_SERVICE_NAME":           "identity-service",
	"SEED_ADMIN_EMAIL":            "",
	"SEED_ADMIN_PASSWORD":         "",
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, so every key gets a default.
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}
	if cfg.PBKDF2Iterations == 0 {
		cfg.PBKDF2Iterations = 1000
	}
	if cfg.PBKDF2Iterations < 1 {
		return nil, errors.New("config: PBKDF2_ITERATIONS must be positive")
	}
	if cfg.UploadMaxBytes <= 0 {
		return nil, errors.New("config: UPLOAD_MAX_BYTES must be positive")
	}
	if (cfg.S3AccessKey == "") != (cfg.S3SecretKey == "") {
		return nil, errors.New("config: S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
	}
	if cfg.Env == "production" && cfg.JWTSecret == "" && cfg.JWTPrivateKey == "" {
		return nil, errors.New("config: JWT_PRIVATE_KEY or JWT_SECRET must be set when APP_ENV=production")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 24*time.Hour)
}

// SocialLookupTimeout parses SocialTimeout. Returns 10s if unset or invalid.
func (c *Config) SocialLookupTimeout() time.Duration {
	return parseDuration(c.SocialTimeout, 10*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if Kafka emission is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
