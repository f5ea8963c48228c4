package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

type Config struct {
	EQData           string `mapstructure:"eqdata"`
	Output           string `mapstructure:"output"`
	ReportDB         string `mapstructure:"report_db"`
	TextureResample  bool   `mapstructure:"texture_resample"`
	IncludeCollision bool   `mapstructure:"include_collision"`
	OptimizeMeshes   bool   `mapstructure:"optimize_meshes"`
	LogLevel         string `mapstructure:"log_level"`
	LogFormat        string `mapstructure:"log_format"`
}

// Load initializes and loads configuration from file
func Load(cfgFile string) (*Config, error) {
	// Set defaults
	viper.SetDefault("eqdata", ".")
	viper.SetDefault("output", ".")
	viper.SetDefault("report_db", "")
	viper.SetDefault("texture_resample", false)
	viper.SetDefault("include_collision", true)
	viper.SetDefault("optimize_meshes", true)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")

	// Config file handling
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName("eqconvert")
		viper.SetConfigType("yaml")
	}

	// Read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.EQData == "" {
		return nil, fmt.Errorf("eqdata path cannot be empty")
	}

	return &cfg, nil
}
