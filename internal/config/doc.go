// Package config handles configuration file parsing and validation for vpnshift.
//
// This package reads TOML configuration files and provides strongly-typed
// structures for accessing configuration data. Omitted fields receive the
// tunnel session defaults (interface vpnse0, local address 10.0.0.2, MTU
// 1500, Google resolvers, 30-second health interval), so a minimal
// configuration only needs the [server] section.
//
// # Configuration Structure
//
// The configuration file defines:
//   - Server settings (VPN server host and port)
//   - Tunnel settings (interface name, local address, optional gateway, MTU)
//   - DNS takeover settings (resolvers, scope, backend paths)
//   - Health monitoring settings (interval, failure threshold, probe targets)
//   - Snapshot persistence path
//   - Optional read-only HTTP status API
//
// # Example Usage
//
// Loading and validating a configuration file:
//
//	cfg, err := config.LoadConfig("/etc/vpnshift.conf")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.ValidateConfig(); err != nil {
//	    log.Fatal(err)
//	}
package config
