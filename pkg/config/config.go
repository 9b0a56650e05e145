// Package config provides a reusable loader for the ledger node's
// configuration files and environment variables. It is versioned so that
// applications can depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"vpledger/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a node. It mirrors the
// structure of the YAML files under config/.
type Config struct {
	Network struct {
		ID             string   `mapstructure:"id" json:"id"`
		ChainID        string   `mapstructure:"chain_id" json:"chain_id"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
		GenesisFile    string   `mapstructure:"genesis_file" json:"genesis_file"`
		RPCEnabled     bool     `mapstructure:"rpc_enabled" json:"rpc_enabled"`
		P2PPort        int      `mapstructure:"p2p_port" json:"p2p_port"`
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	} `mapstructure:"network" json:"network"`

	Storage struct {
		DBPath string `mapstructure:"db_path" json:"db_path"`

		// Gas holds the per-block and per-tx gas ceilings a new block's
		// gas.Meter is constructed with.
		Gas struct {
			BlockLimit uint64 `mapstructure:"block_limit" json:"block_limit"`
			TxLimit    uint64 `mapstructure:"tx_limit" json:"tx_limit"`
		} `mapstructure:"gas" json:"gas"`
	} `mapstructure:"storage" json:"storage"`

	// VM holds WASM runtime settings (module size, linear-memory pages,
	// nested-eval depth). No package reads these fields: the WASM feature
	// profile is fixed in internal/wasmvm and the nested-eval depth is fixed
	// at one level in internal/shell.
	VM struct {
		Wasm struct {
			MaxModuleBytes  int `mapstructure:"max_module_bytes" json:"max_module_bytes"`
			MaxLinearMemory int `mapstructure:"max_linear_memory_pages" json:"max_linear_memory_pages"`
		} `mapstructure:"wasm" json:"wasm"`
		MaxNestedEvalDepth int `mapstructure:"max_nested_eval_depth" json:"max_nested_eval_depth"`
	} `mapstructure:"vm" json:"vm"`

	// Gossip configures the intent mempool and matchmaker subsystem.
	Gossip struct {
		Mempool struct {
			FilterWasmPath string `mapstructure:"filter_wasm_path" json:"filter_wasm_path"`
		} `mapstructure:"mempool" json:"mempool"`
		Matchmaker struct {
			WasmPath           string `mapstructure:"wasm_path" json:"wasm_path"`
			TxCodeWasmPath     string `mapstructure:"tx_code_wasm_path" json:"tx_code_wasm_path"`
			OutboundCapacity   int    `mapstructure:"outbound_capacity" json:"outbound_capacity"`
			PanicOnRunnerError bool   `mapstructure:"panic_on_runner_error" json:"panic_on_runner_error"`
		} `mapstructure:"matchmaker" json:"matchmaker"`
	} `mapstructure:"gossip" json:"gossip"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
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

	viper.AutomaticEnv() // also consult process environment variables

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the LEDGER_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("LEDGER_ENV", ""))
}
