package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/convoy-dl/convoy/utils"
)

// Config holds file- and environment-driven settings. Flags override these
// at the CLI layer.
type Config struct {
	DataDir          string        `mapstructure:"data_dir"`
	QueueFile        string        `mapstructure:"queue_file"`
	Workers          int           `mapstructure:"workers"`
	Timeout          time.Duration `mapstructure:"timeout"`
	KeepAliveTimeout time.Duration `mapstructure:"keep_alive_timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
	Proxy            string        `mapstructure:"proxy"`
	HighThreadMode   bool          `mapstructure:"high_thread_mode"`
	StrictBatch      bool          `mapstructure:"strict_batch"`
}

// Load reads convoy.yaml from dir (or the default search path when dir is
// empty), layered under CONVOY_* environment variables. A missing file
// just means defaults.
func Load(dir string) (*Config, error) {
	log := utils.GetLogger("config")
	v := viper.New()
	v.SetConfigName("convoy")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "convoy"))
		}
	}
	v.SetEnvPrefix("convoy")
	v.AutomaticEnv()

	defaultDataDir := ".convoy"
	if home, err := os.UserHomeDir(); err == nil {
		defaultDataDir = filepath.Join(home, ".convoy")
	}
	v.SetDefault("data_dir", defaultDataDir)
	v.SetDefault("queue_file", "")
	v.SetDefault("workers", 4)
	v.SetDefault("timeout", 30*time.Minute)
	v.SetDefault("keep_alive_timeout", 90*time.Second)
	v.SetDefault("user_agent", "")
	v.SetDefault("proxy", "")
	v.SetDefault("high_thread_mode", false)
	v.SetDefault("strict_batch", false)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("No config file found, using defaults")
	} else {
		log.Debug().Str("file", v.ConfigFileUsed()).Msg("Loaded config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if cfg.QueueFile == "" {
		cfg.QueueFile = filepath.Join(cfg.DataDir, "pending-transfers.json")
	}
	return &cfg, nil
}
