package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"avsync/internal/config"
	"avsync/internal/procexec"
)

// commandContext is shared by every subcommand of one root command. The
// configuration is loaded at most once, on first use.
type commandContext struct {
	configFlag *string
	loadConfig func() (*config.Config, error)

	// executor replaces subprocess execution for in-process syncs (tests).
	executor procexec.Executor
}

func newCommandContext(configFlag *string) *commandContext {
	c := &commandContext{configFlag: configFlag}
	c.loadConfig = sync.OnceValues(func() (*config.Config, error) {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			return nil, err
		}
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, err
		}
		return cfg, nil
	})
	return c
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	return c.loadConfig()
}

const skipConfigAnnotation = "skipConfigLoad"

// shouldSkipConfig reports whether cmd or one of its parents opted out of
// loading configuration in the root pre-run hook.
func shouldSkipConfig(cmd *cobra.Command) bool {
	for ; cmd != nil; cmd = cmd.Parent() {
		if cmd.Annotations[skipConfigAnnotation] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
