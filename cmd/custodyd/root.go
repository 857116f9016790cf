package main

import (
	"fmt"
	"strings"

	"github.com/assetvault/custodyd/internal/config"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

// EnvReplacer replaces `-` to `_`.
// This is used to map flag like `--my-param` to environment variables like `MY_PARAM`.
var envReplacer = strings.NewReplacer("-", "_")

func init() {
	viper.SetEnvPrefix("CUSTODYD")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(envReplacer)
}

// loadConfigFile fills the flags not given on the command line nor in the
// environment with the values of the config file, if any.
func loadConfigFile(c *cli.Context) error {
	path := c.String(configFileFlagName)
	if path == "" {
		return nil
	}

	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	for _, f := range config.Flags {
		name := f.Names()[0]
		if c.IsSet(name) || !viper.IsSet(name) {
			continue
		}
		if err := c.Set(name, viper.GetString(name)); err != nil {
			return fmt.Errorf("invalid value for %s in config file: %w", name, err)
		}
	}
	return nil
}
