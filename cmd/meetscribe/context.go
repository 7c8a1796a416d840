package main

import (
	"strings"

	"github.com/spf13/cobra"

	"meetscribe/internal/config"
	"meetscribe/internal/meetings"
)

const (
	defaultEnvFile = ".env"
	// annotationNoConfig marks commands that load configuration themselves.
	annotationNoConfig = "meetscribe/no-config"
)

// commandContext holds the global flags and the lazily loaded configuration.
type commandContext struct {
	configPath      string
	envFile         string
	envFileExplicit bool

	loaded bool
	cfg    *config.Config
	err    error
}

func (c *commandContext) loadConfig() (*config.Config, error) {
	if c.loaded {
		return c.cfg, c.err
	}
	c.loaded = true
	if c.err = c.loadEnvFile(); c.err != nil {
		return nil, c.err
	}
	c.cfg, _, _, c.err = config.Load(strings.TrimSpace(c.configPath))
	return c.cfg, c.err
}

func (c *commandContext) loadEnvFile() error {
	return config.LoadEnvFile(c.envFile, c.envFileExplicit)
}

func (c *commandContext) withStore(fn func(*meetings.Store) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	store, err := meetings.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func noConfig() map[string]string {
	return map[string]string{annotationNoConfig: "true"}
}

func wantsConfig(cmd *cobra.Command) bool {
	for ; cmd != nil; cmd = cmd.Parent() {
		if cmd.Annotations[annotationNoConfig] == "true" {
			return false
		}
	}
	return true
}
