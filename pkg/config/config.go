package config

// Package config provides a reusable loader for node configuration files
// and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"linkmesh/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a node. It mirrors the
// structure of the YAML files under cmd/config.
type Config struct {
	Network struct {
		ID             string   `mapstructure:"id" json:"id"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
		RPCEnabled     bool     `mapstructure:"rpc_enabled" json:"rpc_enabled"`
		P2PPort        int      `mapstructure:"p2p_port" json:"p2p_port"`
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	} `mapstructure:"network" json:"network"`

	Identity struct {
		VerifierCacheSize int `mapstructure:"verifier_cache_size" json:"verifier_cache_size"`
	} `mapstructure:"identity" json:"identity"`

	Replication struct {
		PerPhaseTimeoutMS int   `mapstructure:"per_phase_timeout_ms" json:"per_phase_timeout_ms"`
		MaxTransferBytes  int64 `mapstructure:"max_transfer_bytes" json:"max_transfer_bytes"`
		MaxRetries        int   `mapstructure:"max_retries" json:"max_retries"`
		Workers           int   `mapstructure:"workers" json:"workers"`
		QueueCapacity     int   `mapstructure:"queue_capacity" json:"queue_capacity"`
	} `mapstructure:"replication" json:"replication"`

	Tracking struct {
		TransitiveDepth int `mapstructure:"transitive_depth" json:"transitive_depth"`
	} `mapstructure:"tracking" json:"tracking"`

	Storage struct {
		DataDir      string `mapstructure:"data_dir" json:"data_dir"`
		CacheEntries int    `mapstructure:"cache_entries" json:"cache_entries"`
	} `mapstructure:"storage" json:"storage"`

	Keystore struct {
		Dir        string `mapstructure:"dir" json:"dir"`
		Label      string `mapstructure:"label" json:"label"`
		Passphrase string `mapstructure:"passphrase" json:"-"`
	} `mapstructure:"keystore" json:"keystore"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`

	Control struct {
		SocketPath string `mapstructure:"socket_path" json:"socket_path"`
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"control" json:"control"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
//
// The function uses the provided environment name to merge additional
// config files. If env is empty, only the default configuration is
// loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up overrides from process environment variables

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the LINKMESH_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("LINKMESH_ENV", ""))
}
