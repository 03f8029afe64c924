// Package config loads gatewayd's configuration from an optional YAML file,
// then environment variables, the way the rest of the example corpus does
// it (kelseyhightower/envconfig + gopkg.in/yaml.v3).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Engine    EngineConfig    `yaml:"engine"`
	Hardware  HardwareConfig  `yaml:"hardware"`
	KMS       KMSConfig       `yaml:"kms"`
	Lock      LockConfig      `yaml:"lock"`
	Audit     AuditConfig     `yaml:"audit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP gateway configuration.
type ServerConfig struct {
	Host         string        `yaml:"host" envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" envconfig:"SERVER_PORT" default:"8443"`
	APIKey       string        `yaml:"api_key" envconfig:"API_KEY"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT" default:"5m"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// StorageConfig selects and configures the container backend.
type StorageConfig struct {
	Backend  string        `yaml:"backend" envconfig:"STORAGE_BACKEND" default:"local"` // "local" or "s3"
	BasePath string        `yaml:"base_path" envconfig:"STORAGE_PATH" default:"/data/containers"`
	S3       BackendConfig `yaml:"s3"`
}

// BackendConfig configures the S3-compatible object store backend.
type BackendConfig struct {
	Bucket    string `yaml:"bucket" envconfig:"STORAGE_S3_BUCKET"`
	Region    string `yaml:"region" envconfig:"STORAGE_S3_REGION" default:"us-east-1"`
	Endpoint  string `yaml:"endpoint" envconfig:"STORAGE_S3_ENDPOINT"`
	Provider  string `yaml:"provider" envconfig:"STORAGE_S3_PROVIDER" default:"aws"` // "aws", "garage", "minio"
	AccessKey string `yaml:"access_key" envconfig:"STORAGE_S3_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" envconfig:"STORAGE_S3_SECRET_KEY"`
}

// EngineConfig holds decode-time defaults for the transformer engine.
type EngineConfig struct {
	ModelPath    string `yaml:"model_path" envconfig:"ENGINE_MODEL_PATH"`
	CtxLen       int    `yaml:"ctx_len" envconfig:"ENGINE_CTX_LEN" default:"4096"`
	NThreads     int    `yaml:"n_threads" envconfig:"ENGINE_N_THREADS" default:"0"`
	TemplateName string `yaml:"template_name" envconfig:"ENGINE_TEMPLATE_NAME"`
}

// HardwareConfig controls whether detected CPU crypto acceleration is
// actually used (detection and use are separate knobs: an operator may
// want to force software paths for reproducibility).
type HardwareConfig struct {
	EnableAESNI    bool `yaml:"enable_aesni" envconfig:"HW_ENABLE_AESNI" default:"true"`
	EnableARMv8AES bool `yaml:"enable_armv8_aes" envconfig:"HW_ENABLE_ARMV8_AES" default:"true"`
}

// KMSConfig configures the optional KMIP envelope-key wrapping layer.
type KMSConfig struct {
	Enabled  bool   `yaml:"enabled" envconfig:"KMS_ENABLED" default:"false"`
	Endpoint string `yaml:"endpoint" envconfig:"KMS_ENDPOINT"`
	KeyID    string `yaml:"key_id" envconfig:"KMS_KEY_ID"`
}

// LockConfig configures the distributed writer-lock backend.
type LockConfig struct {
	Enabled  bool          `yaml:"enabled" envconfig:"LOCK_ENABLED" default:"false"`
	RedisURL string        `yaml:"redis_url" envconfig:"LOCK_REDIS_URL" default:"redis://localhost:6379/0"`
	TTL      time.Duration `yaml:"ttl" envconfig:"LOCK_TTL" default:"30s"`
}

// AuditConfig configures audit event logging.
type AuditConfig struct {
	Enabled             bool       `yaml:"enabled" envconfig:"AUDIT_ENABLED" default:"true"`
	MaxEvents           int        `yaml:"max_events" envconfig:"AUDIT_MAX_EVENTS" default:"10000"`
	RedactMetadataKeys  []string   `yaml:"redact_metadata_keys" envconfig:"AUDIT_REDACT_KEYS"`
	Sink                SinkConfig `yaml:"sink"`
}

// SinkConfig configures where audit events are written.
type SinkConfig struct {
	Type          string            `yaml:"type" envconfig:"AUDIT_SINK_TYPE" default:"stdout"` // "stdout", "file", "http"
	FilePath      string            `yaml:"file_path" envconfig:"AUDIT_SINK_FILE_PATH"`
	Endpoint      string            `yaml:"endpoint" envconfig:"AUDIT_SINK_ENDPOINT"`
	Headers       map[string]string `yaml:"headers"`
	BatchSize     int               `yaml:"batch_size" envconfig:"AUDIT_SINK_BATCH_SIZE" default:"100"`
	FlushInterval time.Duration     `yaml:"flush_interval" envconfig:"AUDIT_SINK_FLUSH_INTERVAL" default:"5s"`
	RetryCount    int               `yaml:"retry_count" envconfig:"AUDIT_SINK_RETRY_COUNT" default:"3"`
	RetryBackoff  time.Duration     `yaml:"retry_backoff" envconfig:"AUDIT_SINK_RETRY_BACKOFF" default:"1s"`
}

// TelemetryConfig configures the distributed tracing exporter.
type TelemetryConfig struct {
	OTLPEndpoint   string `yaml:"otlp_endpoint" envconfig:"TELEMETRY_OTLP_ENDPOINT"`
	JaegerEndpoint string `yaml:"jaeger_endpoint" envconfig:"TELEMETRY_JAEGER_ENDPOINT"`
}

// Load reads configuration from an optional YAML file, then applies
// environment variable overrides.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("config: process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field invariants Load cannot express with struct
// tags alone.
func (c *Config) Validate() error {
	if c.Server.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}
	if c.Storage.Backend != "local" && c.Storage.Backend != "s3" {
		return fmt.Errorf("STORAGE_BACKEND must be \"local\" or \"s3\", got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("STORAGE_S3_BUCKET is required when STORAGE_BACKEND=s3")
	}
	if c.KMS.Enabled && (c.KMS.Endpoint == "" || c.KMS.KeyID == "") {
		return fmt.Errorf("KMS_ENDPOINT and KMS_KEY_ID are required when KMS_ENABLED=true")
	}
	return nil
}
