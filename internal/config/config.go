// Package config loads broker configuration from a TOML/JSON file overlaid
// with IGGY_-prefixed environment variables, per spec §6.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/adred-codev/streambroker/internal/logging"
)

// FsyncPolicy selects when segment writes are flushed to disk.
type FsyncPolicy string

const (
	FsyncNone     FsyncPolicy = "none"
	FsyncPerBatch FsyncPolicy = "per_batch"
	FsyncPeriodic FsyncPolicy = "periodic"
)

type TransportConfig struct {
	Enabled bool
	Address string
}

type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
}

type DedupConfig struct {
	Enabled    bool
	MaxEntries int
	TTL        time.Duration
}

type HeartbeatConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Config is the fully resolved broker configuration.
type Config struct {
	DataDir string

	TCP  TransportConfig
	QUIC TransportConfig
	HTTP TransportConfig
	TLS  TLSConfig

	SegmentSizeBytes    int64
	Fsync               FsyncPolicy
	FsyncPeriod         time.Duration
	MessageExpiry       time.Duration
	MaxTopicSizeBytes   int64
	RetentionTick       time.Duration
	SegmentIndexCacheSz int

	Dedup DedupConfig

	Heartbeat HeartbeatConfig

	MaxMessageSize int

	RootUsername string
	RootPassword string

	LogLevel  logging.Level
	LogFormat logging.Format
}

// Load reads config.toml/json from dir (if present), then overlays
// IGGY_-prefixed environment variables, with "_" as the section separator,
// e.g. IGGY_TCP_ENABLED, IGGY_DEDUP_MAX_ENTRIES.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(dir)
	v.AddConfigPath(".")

	v.SetEnvPrefix("IGGY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		DataDir: v.GetString("data_dir"),
		TCP: TransportConfig{
			Enabled: v.GetBool("tcp.enabled"),
			Address: v.GetString("tcp.address"),
		},
		QUIC: TransportConfig{
			Enabled: v.GetBool("quic.enabled"),
			Address: v.GetString("quic.address"),
		},
		HTTP: TransportConfig{
			Enabled: v.GetBool("http.enabled"),
			Address: v.GetString("http.address"),
		},
		TLS: TLSConfig{
			Enabled:  v.GetBool("tls.enabled"),
			CertFile: v.GetString("tls.cert_file"),
			KeyFile:  v.GetString("tls.key_file"),
		},
		SegmentSizeBytes:    v.GetInt64("segment.size_bytes"),
		Fsync:               FsyncPolicy(v.GetString("segment.fsync")),
		FsyncPeriod:         v.GetDuration("segment.fsync_period"),
		MessageExpiry:       v.GetDuration("retention.message_expiry"),
		MaxTopicSizeBytes:   v.GetInt64("retention.max_topic_size_bytes"),
		RetentionTick:       v.GetDuration("retention.tick"),
		SegmentIndexCacheSz: v.GetInt("segment.index_cache_entries"),
		Dedup: DedupConfig{
			Enabled:    v.GetBool("dedup.enabled"),
			MaxEntries: v.GetInt("dedup.max_entries"),
			TTL:        v.GetDuration("dedup.ttl"),
		},
		Heartbeat: HeartbeatConfig{
			Interval: v.GetDuration("heartbeat.interval"),
			Timeout:  v.GetDuration("heartbeat.timeout"),
		},
		MaxMessageSize: v.GetInt("message.max_size_bytes"),
		RootUsername:   v.GetString("root_username"),
		RootPassword:   v.GetString("root_password"),
		LogLevel:       logging.Level(v.GetString("log.level")),
		LogFormat:      logging.Format(v.GetString("log.format")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./streambroker_data")
	v.SetDefault("tcp.enabled", true)
	v.SetDefault("tcp.address", ":8090")
	v.SetDefault("quic.enabled", false)
	v.SetDefault("quic.address", ":8091")
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.address", ":8080")
	v.SetDefault("tls.enabled", false)
	v.SetDefault("segment.size_bytes", int64(64*1024*1024))
	v.SetDefault("segment.fsync", string(FsyncPerBatch))
	v.SetDefault("segment.fsync_period", "1s")
	v.SetDefault("segment.index_cache_entries", 10000)
	v.SetDefault("retention.message_expiry", "0s")
	v.SetDefault("retention.max_topic_size_bytes", int64(0))
	v.SetDefault("retention.tick", "30s")
	v.SetDefault("dedup.enabled", false)
	v.SetDefault("dedup.max_entries", 10000)
	v.SetDefault("dedup.ttl", "60s")
	v.SetDefault("heartbeat.interval", "5s")
	v.SetDefault("heartbeat.timeout", "30s")
	v.SetDefault("message.max_size_bytes", 10*1024*1024)
	v.SetDefault("root_username", "iggy")
	v.SetDefault("root_password", "iggy")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func (c *Config) validate() error {
	if c.SegmentSizeBytes <= 0 {
		return fmt.Errorf("segment.size_bytes must be > 0")
	}
	switch c.Fsync {
	case FsyncNone, FsyncPerBatch, FsyncPeriodic:
	default:
		return fmt.Errorf("segment.fsync must be one of none|per_batch|periodic, got %q", c.Fsync)
	}
	if !c.TCP.Enabled && !c.QUIC.Enabled && !c.HTTP.Enabled {
		return fmt.Errorf("at least one transport must be enabled")
	}
	return nil
}
