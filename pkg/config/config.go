// Package config loads fnchanneld's runtime configuration from a
// layered stack of sources: an optional YAML file, environment
// variables, and command-line flags, in ascending order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "FNCHANNEL"

// Config is the resolved set of options fnchanneld needs to run.
type Config struct {
	// Endpoint is the address the host-side gRPC listener binds to.
	Endpoint string `mapstructure:"endpoint"`

	// FunctionsDir holds one subdirectory per registered function,
	// each with a function.yaml descriptor (see pkg/funcmeta).
	FunctionsDir string `mapstructure:"functions_dir"`

	// WorkerBinary is the executable pkg/procmanager launches as the
	// out-of-process language worker.
	WorkerBinary string `mapstructure:"worker_binary"`

	// WorkerArgs are passed to WorkerBinary on launch.
	WorkerArgs []string `mapstructure:"worker_args"`

	// Language tags the worker's runtime; it becomes
	// WorkerConfig.Language and is carried on WorkerErrorEvents.
	Language string `mapstructure:"language"`

	// Extensions is the ordered set of file extensions under
	// FunctionsDir whose changes trigger a host restart.
	Extensions []string `mapstructure:"extensions"`
}

func defaults() *Config {
	return &Config{
		Endpoint:   "127.0.0.1:49150",
		Language:   "node",
		Extensions: []string{".js", ".json"},
	}
}

// Load resolves a Config from, in ascending precedence: built-in
// defaults, a .env file at envFile (if present; missing is not an
// error), a YAML file at configFile (if non-empty), FNCHANNEL_*
// environment variables, and flags already bound onto v by the caller.
func Load(configFile, envFile string, v *viper.Viper) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: loading %s: %w", envFile, err)
		}
	}

	if v == nil {
		v = viper.New()
	}

	cfg := defaults()
	v.SetDefault("endpoint", cfg.Endpoint)
	v.SetDefault("language", cfg.Language)
	v.SetDefault("extensions", cfg.Extensions)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("config: endpoint must not be empty")
	}

	return cfg, nil
}
