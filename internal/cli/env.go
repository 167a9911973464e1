package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/roach88/dropcart/internal/config"
)

// defaultEnvFile is read when present; naming another file makes it
// required.
const defaultEnvFile = ".env"

// ConfigOptions are the flags of commands that resolve configuration.
type ConfigOptions struct {
	ConfigFile string
	EnvFile    string
}

func addConfigFlags(cmd *cobra.Command, c *ConfigOptions) {
	cmd.Flags().StringVarP(&c.ConfigFile, "config", "c", "", "YAML config file")
	cmd.Flags().StringVar(&c.EnvFile, "env-file", defaultEnvFile, "dotenv file with configuration variables")
}

// Load resolves the configuration: defaults, then the YAML file, then the
// process environment merged over the dotenv file.
func (c *ConfigOptions) Load() (config.App, error) {
	lookup, err := envLookup(c.EnvFile, os.LookupEnv)
	if err != nil {
		return config.App{}, err
	}
	return config.Load(c.ConfigFile, lookup)
}

// envLookup reads path with godotenv and returns a lookup in which
// variables already set in env win over the file.
func envLookup(path string, env config.LookupFunc) (config.LookupFunc, error) {
	if path == "" {
		return env, nil
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && path == defaultEnvFile {
			return env, nil
		}
		return nil, fmt.Errorf("read env file: %w", err)
	}
	return func(key string) (string, bool) {
		if v, ok := env(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}, nil
}
