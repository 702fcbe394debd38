// Package config provides a reusable loader for Interlink configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"interlink-network/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// ChainConfig describes one chain the engine reads events from.
type ChainConfig struct {
	ChainID         uint64 `mapstructure:"chain_id" json:"chain_id"`
	DeploymentBlock uint64 `mapstructure:"deployment_block" json:"deployment_block"`
	Lite            bool   `mapstructure:"lite" json:"lite"`
	RPCEndpoint     string `mapstructure:"rpc_endpoint" json:"rpc_endpoint"`
}

// Config represents the unified configuration for an Interlink proposer
// node. It mirrors the structure of the YAML files under cmd/config.
type Config struct {
	Hub struct {
		ChainID         uint64 `mapstructure:"chain_id" json:"chain_id"`
		DeploymentBlock uint64 `mapstructure:"deployment_block" json:"deployment_block"`
		AvgBlockTimeSec int    `mapstructure:"avg_block_time_sec" json:"avg_block_time_sec"`
		RPCEndpoint     string `mapstructure:"rpc_endpoint" json:"rpc_endpoint"`
	} `mapstructure:"hub" json:"hub"`

	Spokes []ChainConfig `mapstructure:"spokes" json:"spokes"`

	Engine struct {
		AttemptBlobCache      bool   `mapstructure:"attempt_blob_cache" json:"attempt_blob_cache"`
		PreFillMinVersion     uint32 `mapstructure:"pre_fill_min_version" json:"pre_fill_min_version"`
		ForceRefundPrefills   bool   `mapstructure:"force_refund_prefills" json:"force_refund_prefills"`
		MaxBinarySearchProbes int    `mapstructure:"max_binary_search_probes" json:"max_binary_search_probes"`
		BlobDir               string `mapstructure:"blob_dir" json:"blob_dir"`
	} `mapstructure:"engine" json:"engine"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
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

	viper.AutomaticEnv() // picks up from .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the INTERLINK_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("INTERLINK_ENV", ""))
}
