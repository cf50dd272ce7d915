package commands

import (
	"fmt"

	"github.com/vpnshift/vpnshift/internal/config"
)

// Runner is one CLI subcommand.
type Runner interface {
	// Init parses command-specific arguments and prepares the command.
	Init(args []string, globalArgs *AppContext) error
	// Run executes the command.
	Run() error
	// Name returns the subcommand name used for dispatch.
	Name() string
}

// AppContext carries global flags and build information into every command.
type AppContext struct {
	// ConfigPath is the configuration file location (global -config flag).
	ConfigPath string
	// Verbose enables debug logging (global -verbose flag).
	Verbose bool

	// Build information, injected by main from linker variables.
	Version   string
	Commit    string
	BuildDate string
}

// loadAndValidateConfigOrFail loads the configuration file and validates it.
func loadAndValidateConfigOrFail(configPath string) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %v", err)
	}

	if err := cfg.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %v", err)
	}

	return cfg, nil
}
