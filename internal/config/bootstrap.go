package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Bootstrap points viper at a config file and the OTHALA_ environment
// prefix, shared by othalad and othalactl so both binaries resolve
// .othala.yaml the same way. cfgFile overrides the default discovery
// (current directory, file named .othala.yaml) when non-empty.
func Bootstrap(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		viper.AddConfigPath(cwd)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".othala")
	}

	viper.SetEnvPrefix("OTHALA")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}
