// Copyright 2025, 2026 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/novatechflow/topicview/pkg/storage"
)

// Backend names.
const (
	BackendS3     = "s3"
	BackendKafka  = "kafka"
	BackendViewer = "viewer"
)

// Config defines the topicview configuration schema.
type Config struct {
	Backend string       `yaml:"backend"`
	Server  ServerConfig `yaml:"server"`
	MCP     MCPConfig    `yaml:"mcp"`
	S3      S3Config     `yaml:"s3"`
	Kafka   KafkaConfig  `yaml:"kafka"`
	Viewer  ViewerConfig `yaml:"viewer"`
	Etcd    EtcdConfig   `yaml:"etcd"`
	Window  WindowConfig `yaml:"window"`
	Log     LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Listen           string `yaml:"listen"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	BrokerMetricsURL string `yaml:"broker_metrics_url"`
}

type MCPConfig struct {
	Listen         string        `yaml:"listen"`
	AuthToken      string        `yaml:"auth_token"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

type S3Config struct {
	storage.S3Config `yaml:",inline"`
	Namespace        string        `yaml:"namespace"`
	UseMemory        bool          `yaml:"use_memory"`
	CacheBytes       ByteSize      `yaml:"cache_bytes"`
	ListTTL          time.Duration `yaml:"list_ttl"`
	MaxDownloads     int64         `yaml:"max_concurrent_downloads"`
	MaxResponseBytes ByteSize      `yaml:"max_response_bytes"`
	VerifyChecksums  bool          `yaml:"verify_checksums"`
}

// ByteSize is a byte count that also accepts humanized values such as
// "256MiB" or "8 MB" in YAML and environment variables.
type ByteSize int

// ParseByteSize parses a plain integer or a humanized size.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return ByteSize(n), nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("parse byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseByteSize(node.Value)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

func (b ByteSize) String() string {
	if b < 0 {
		return strconv.Itoa(int(b))
	}
	return humanize.IBytes(uint64(b))
}

type KafkaConfig struct {
	Brokers     []string      `yaml:"brokers"`
	ClientID    string        `yaml:"client_id"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
	LogLevel    string        `yaml:"log_level"`
}

type ViewerConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
}

type WindowConfig struct {
	Limit            int64         `yaml:"limit"`
	DefaultPageLimit int           `yaml:"default_page_limit"`
	MaxPageLimit     int           `yaml:"max_page_limit"`
	BatchDelay       time.Duration `yaml:"batch_delay"`
	SessionTTL       time.Duration `yaml:"session_ttl"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path, applies defaults and TOPICVIEW_* overrides, and validates
// the result. An empty path configures from defaults and environment only.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Backend == "" {
		cfg.Backend = BackendS3
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.MCP.Listen == "" {
		cfg.MCP.Listen = ":8090"
	}
	if cfg.S3.Namespace == "" {
		cfg.S3.Namespace = "default"
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
	if cfg.S3.CacheBytes == 0 {
		cfg.S3.CacheBytes = 256 << 20
	}
	if cfg.S3.ListTTL == 0 {
		cfg.S3.ListTTL = 2 * time.Second
	}
	if cfg.S3.MaxDownloads == 0 {
		cfg.S3.MaxDownloads = 8
	}
	if cfg.S3.MaxResponseBytes == 0 {
		cfg.S3.MaxResponseBytes = 8 << 20
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = "topicview"
	}
	if cfg.Kafka.PollTimeout == 0 {
		cfg.Kafka.PollTimeout = 2 * time.Second
	}
	if cfg.Window.Limit == 0 {
		cfg.Window.Limit = 50000
	}
	if cfg.Window.DefaultPageLimit == 0 {
		cfg.Window.DefaultPageLimit = 50
	}
	if cfg.Window.MaxPageLimit == 0 {
		cfg.Window.MaxPageLimit = 1000
	}
	if cfg.Window.BatchDelay == 0 {
		cfg.Window.BatchDelay = 50 * time.Millisecond
	}
	if cfg.Window.SessionTTL == 0 {
		cfg.Window.SessionTTL = 30 * time.Minute
	}
	if cfg.Window.ReadTimeout == 0 {
		cfg.Window.ReadTimeout = 15 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Backend, "TOPICVIEW_BACKEND")

	setString(&cfg.Server.Listen, "TOPICVIEW_SERVER_LISTEN")
	setString(&cfg.Server.Username, "TOPICVIEW_UI_USERNAME")
	setString(&cfg.Server.Password, "TOPICVIEW_UI_PASSWORD")
	setString(&cfg.Server.BrokerMetricsURL, "TOPICVIEW_BROKER_METRICS_URL")

	setString(&cfg.MCP.Listen, "TOPICVIEW_MCP_LISTEN")
	setString(&cfg.MCP.AuthToken, "TOPICVIEW_MCP_AUTH_TOKEN")
	setDuration(&cfg.MCP.SessionTimeout, "TOPICVIEW_MCP_SESSION_TIMEOUT")

	setString(&cfg.S3.Bucket, "TOPICVIEW_S3_BUCKET")
	setString(&cfg.S3.Region, "TOPICVIEW_S3_REGION")
	setString(&cfg.S3.Endpoint, "TOPICVIEW_S3_ENDPOINT")
	setBool(&cfg.S3.ForcePathStyle, "TOPICVIEW_S3_PATH_STYLE")
	setString(&cfg.S3.AccessKeyID, "TOPICVIEW_S3_ACCESS_KEY")
	setString(&cfg.S3.SecretAccessKey, "TOPICVIEW_S3_SECRET_KEY")
	setString(&cfg.S3.SessionToken, "TOPICVIEW_S3_SESSION_TOKEN")
	setString(&cfg.S3.Namespace, "TOPICVIEW_S3_NAMESPACE")
	setBool(&cfg.S3.UseMemory, "TOPICVIEW_USE_MEMORY_S3")
	setBytes(&cfg.S3.CacheBytes, "TOPICVIEW_CACHE_BYTES")
	setDuration(&cfg.S3.ListTTL, "TOPICVIEW_S3_LIST_TTL")
	setBytes(&cfg.S3.MaxResponseBytes, "TOPICVIEW_MAX_RESPONSE_BYTES")
	setBool(&cfg.S3.VerifyChecksums, "TOPICVIEW_VERIFY_CHECKSUMS")

	setCSV(&cfg.Kafka.Brokers, "TOPICVIEW_KAFKA_BROKERS")
	setString(&cfg.Kafka.ClientID, "TOPICVIEW_KAFKA_CLIENT_ID")
	setDuration(&cfg.Kafka.PollTimeout, "TOPICVIEW_KAFKA_POLL_TIMEOUT")
	setString(&cfg.Kafka.LogLevel, "TOPICVIEW_KAFKA_LOG_LEVEL")

	setString(&cfg.Viewer.URL, "TOPICVIEW_VIEWER_URL")
	setString(&cfg.Viewer.Username, "TOPICVIEW_VIEWER_USERNAME")
	setString(&cfg.Viewer.Password, "TOPICVIEW_VIEWER_PASSWORD")

	setCSV(&cfg.Etcd.Endpoints, "TOPICVIEW_ETCD_ENDPOINTS")
	setString(&cfg.Etcd.Username, "TOPICVIEW_ETCD_USERNAME")
	setString(&cfg.Etcd.Password, "TOPICVIEW_ETCD_PASSWORD")

	setInt64(&cfg.Window.Limit, "TOPICVIEW_WINDOW_LIMIT")
	setInt(&cfg.Window.DefaultPageLimit, "TOPICVIEW_PAGE_LIMIT")
	setInt(&cfg.Window.MaxPageLimit, "TOPICVIEW_MAX_PAGE_LIMIT")
	setDuration(&cfg.Window.BatchDelay, "TOPICVIEW_BATCH_DELAY")
	setDuration(&cfg.Window.SessionTTL, "TOPICVIEW_SESSION_TTL")
	setDuration(&cfg.Window.ReadTimeout, "TOPICVIEW_READ_TIMEOUT")

	setString(&cfg.Log.Level, "TOPICVIEW_LOG_LEVEL")
	setString(&cfg.Log.Format, "TOPICVIEW_LOG_FORMAT")
}

// Validate checks the backend specific requirements.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendS3:
		if c.S3.Bucket == "" && !c.S3.UseMemory {
			return fmt.Errorf("s3.bucket is required for the s3 backend")
		}
	case BackendKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required for the kafka backend")
		}
	case BackendViewer:
		if c.Viewer.URL == "" {
			return fmt.Errorf("viewer.url is required for the viewer backend")
		}
	default:
		return fmt.Errorf("unsupported backend %q", c.Backend)
	}
	if c.Window.Limit <= 0 {
		return fmt.Errorf("window.limit must be > 0")
	}
	if c.Window.DefaultPageLimit <= 0 || c.Window.DefaultPageLimit > c.Window.MaxPageLimit {
		return fmt.Errorf("window.default_page_limit must be between 1 and %d", c.Window.MaxPageLimit)
	}
	if c.Window.BatchDelay < 0 {
		return fmt.Errorf("window.batch_delay must not be negative")
	}
	if (c.Server.Username == "") != (c.Server.Password == "") {
		return fmt.Errorf("server.username and server.password must be set together")
	}
	return nil
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setString(target *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*target = val
	}
}

func setInt(target *int, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := strconv.Atoi(val)
		if err == nil {
			*target = parsed
		}
	}
}

func setBytes(target *ByteSize, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := ParseByteSize(val)
		if err == nil {
			*target = parsed
		}
	}
}

func setInt64(target *int64, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := strconv.ParseInt(val, 10, 64)
		if err == nil {
			*target = parsed
		}
	}
}

func setBool(target *bool, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := strconv.ParseBool(val)
		if err == nil {
			*target = parsed
		}
	}
}

func setDuration(target *time.Duration, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := time.ParseDuration(strings.TrimSpace(val))
		if err == nil {
			*target = parsed
		}
	}
}

func setCSV(target *[]string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			*target = out
		}
	}
}
