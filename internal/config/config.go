// Package config loads process configuration the way the rest of this
// codebase's dependency stack does it: viper for env-var-driven values
// with sane defaults, fsnotify for live reload of the subset of settings
// that are safe to change without a restart (spec §6).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/hyperspacedb/hyperspacedb/internal/hnsw"
	"github.com/hyperspacedb/hyperspacedb/internal/metric"
	"github.com/hyperspacedb/hyperspacedb/internal/walog"
)

// Config is the fully resolved process configuration.
type Config struct {
	DataDir             string
	DefaultDimension    int
	DefaultMetric       metric.Metric
	DefaultQuantization metric.Quantization

	HNSW hnsw.Config

	WALSyncMode walog.SyncMode

	SnapshotInterval time.Duration
	IdleEvictAfter   time.Duration

	APIKey string

	ListenRPC  string
	ListenHTTP string
}

// Load reads configuration from environment variables (and, if present,
// a config file at configPath) applying the defaults from spec §6.
// Every key is exposed as an upper-snake-case env var with no prefix,
// e.g. HNSW_EF_SEARCH, matching the teacher's VVFS_* convention minus
// the project prefix.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: read %s: %w", configPath, err)
			}
		}
	}

	return fromViper(v)
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("default_dimension", 768)
	v.SetDefault("default_metric", "l2")
	v.SetDefault("default_quantization", "none")
	v.SetDefault("hnsw_ef_construction", 100)
	v.SetDefault("hnsw_ef_search", 50)
	v.SetDefault("hnsw_m", 16)
	v.SetDefault("wal_sync_mode", "batch")
	v.SetDefault("snapshot_interval_secs", 300)
	v.SetDefault("idle_evict_secs", 3600)
	v.SetDefault("api_key", "")
	v.SetDefault("listen_rpc", ":7443")
	v.SetDefault("listen_http", ":7444")
}

func fromViper(v *viper.Viper) (*Config, error) {
	m, err := parseMetric(v.GetString("default_metric"))
	if err != nil {
		return nil, err
	}
	q, err := parseQuantization(v.GetString("default_quantization"))
	if err != nil {
		return nil, err
	}
	sync, err := parseSyncMode(v.GetString("wal_sync_mode"))
	if err != nil {
		return nil, err
	}

	return &Config{
		DataDir:             v.GetString("data_dir"),
		DefaultDimension:    v.GetInt("default_dimension"),
		DefaultMetric:       m,
		DefaultQuantization: q,
		HNSW: hnsw.Config{
			M:              v.GetInt("hnsw_m"),
			EfConstruction: v.GetInt("hnsw_ef_construction"),
			EfSearch:       v.GetInt("hnsw_ef_search"),
		},
		WALSyncMode:      sync,
		SnapshotInterval: time.Duration(v.GetInt("snapshot_interval_secs")) * time.Second,
		IdleEvictAfter:   time.Duration(v.GetInt("idle_evict_secs")) * time.Second,
		APIKey:           v.GetString("api_key"),
		ListenRPC:        v.GetString("listen_rpc"),
		ListenHTTP:       v.GetString("listen_http"),
	}, nil
}

func parseMetric(s string) (metric.Metric, error) {
	switch strings.ToLower(s) {
	case "poincare", "poincaré":
		return metric.Poincare, nil
	case "cosine":
		return metric.Cosine, nil
	case "l2", "euclidean", "":
		return metric.L2, nil
	default:
		return "", fmt.Errorf("config: unknown default_metric %q", s)
	}
}

func parseQuantization(s string) (metric.Quantization, error) {
	switch strings.ToLower(s) {
	case "scalar", "scalar_i8", "i8":
		return metric.ScalarI8, nil
	case "binary":
		return metric.Binary, nil
	case "none", "":
		return metric.None, nil
	default:
		return "", fmt.Errorf("config: unknown default_quantization %q", s)
	}
}

func parseSyncMode(s string) (walog.SyncMode, error) {
	switch strings.ToLower(s) {
	case "async":
		return walog.Async, nil
	case "strict":
		return walog.Strict, nil
	case "batch", "":
		return walog.Batch, nil
	default:
		return 0, fmt.Errorf("config: unknown wal_sync_mode %q", s)
	}
}

// WatchAPIKey invokes onChange with the current api_key value whenever
// the backing config file (if any) changes, whether or not api_key itself
// changed, letting an operator rotate the key without
// restarting the process. It is a no-op when configPath is empty, since
// there is then no file for fsnotify to watch.
func WatchAPIKey(v *viper.Viper, configPath string, onChange func(newKey string)) error {
	if configPath == "" {
		return nil
	}
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		onChange(v.GetString("api_key"))
	})
	return nil
}
