package config

import (
	"path/filepath"

	"github.com/vpnshift/vpnshift/internal/utils"
)

// DNSScope selects which traffic the applied resolvers cover.
type DNSScope string

const (
	// ScopeAll routes every DNS query through the tunnel resolvers.
	ScopeAll DNSScope = "all"
	// ScopeTunnel routes only tunnel-interface queries through them.
	ScopeTunnel DNSScope = "tunnel"
)

type Config struct {
	// ConfigVersion is the configuration file version.
	ConfigVersion uint8 `toml:"config_version" json:"config_version"`
	// Server describes the VPN server the tunnel session talks to.
	Server *ServerConfig `toml:"server" json:"server"`
	// Tunnel describes the tunnel interface handed to us by the tunnel session.
	Tunnel *TunnelConfig `toml:"tunnel" json:"tunnel"`
	// DNS holds resolver takeover settings.
	DNS *DNSConfig `toml:"dns" json:"dns"`
	// Health holds health monitoring settings.
	Health *HealthConfig `toml:"health" json:"health"`
	// Snapshot holds snapshot persistence settings.
	Snapshot *SnapshotConfig `toml:"snapshot" json:"snapshot"`
	// API holds the optional HTTP status API settings.
	API *APIConfig `toml:"api,omitempty" json:"api,omitempty"`

	_absConfigFilePath string
}

type ServerConfig struct {
	// Host is the VPN server hostname or IP address.
	Host string `toml:"host" json:"host" validate:"required"`
	// Port is the VPN server port.
	Port uint16 `toml:"port" json:"port" validate:"required,min=1"`
}

type TunnelConfig struct {
	// Interface is the tunnel interface name (default: vpnse0).
	Interface string `toml:"interface" json:"interface" validate:"required,iface_name"`
	// LocalIP is the local tunnel address (default: 10.0.0.2).
	LocalIP string `toml:"local_ip" json:"local_ip" validate:"required,ip_or_empty"`
	// Gateway is the tunnel-side gateway. Empty means the gateway is unknown
	// and split default routes are installed instead of one full default.
	Gateway string `toml:"gateway" json:"gateway,omitempty" validate:"ip_or_empty"`
	// MTU is the tunnel interface MTU (default: 1500).
	MTU int `toml:"mtu" json:"mtu" validate:"required,min=576,max=9216"`
}

type DNSConfig struct {
	// Resolvers are the DNS servers to apply while the takeover is active (default: 8.8.8.8, 8.8.4.4).
	Resolvers []string `toml:"resolvers" json:"resolvers" validate:"required,min=1,dive,ip_or_empty"`
	// Scope selects which queries the applied resolvers cover: "all" or "tunnel" (default: all).
	Scope DNSScope `toml:"scope" json:"scope" validate:"required,oneof=all tunnel"`
	// ResolvConf is the resolver file path used by the direct backend (default: /etc/resolv.conf).
	ResolvConf string `toml:"resolv_conf" json:"resolv_conf" validate:"required"`
	// BackupPath is where the direct backend stores the byte-exact resolver file backup (default: /etc/resolv.conf.vpnshift.backup).
	BackupPath string `toml:"backup_path" json:"backup_path" validate:"required"`
	// ResolvedRunDir is probed to detect a managed resolver service (default: /run/systemd/resolve).
	ResolvedRunDir string `toml:"resolved_run_dir" json:"resolved_run_dir" validate:"required"`
	// ResolvedDropInDir is where the managed backend writes its override file (default: /etc/systemd/resolved.conf.d).
	ResolvedDropInDir string `toml:"resolved_drop_in_dir" json:"resolved_drop_in_dir" validate:"required"`
}

type HealthConfig struct {
	// Enabled enables background health monitoring (default: true).
	Enabled bool `toml:"enabled" json:"enabled"`
	// IntervalSeconds is the interval between health checks (default: 30).
	IntervalSeconds int `toml:"interval_seconds" json:"interval_seconds" validate:"required,min=1"`
	// FailureThreshold is the number of consecutive failures before the state degrades (default: 3).
	FailureThreshold int `toml:"failure_threshold" json:"failure_threshold" validate:"required,min=1"`
	// CheckDomain is resolved through the applied resolvers on every check.
	CheckDomain string `toml:"check_domain" json:"check_domain" validate:"required"`
	// CheckAddress is TCP-dialed on every check (host:port).
	CheckAddress string `toml:"check_address" json:"check_address" validate:"required,hostport_or_empty"`
}

type SnapshotConfig struct {
	// Path is where the network snapshot is persisted (default: /var/lib/vpnshift/snapshot.json).
	Path string `toml:"path" json:"path" validate:"required"`
}

type APIConfig struct {
	// Enabled enables the read-only HTTP status API (default: false).
	Enabled bool `toml:"enabled" json:"enabled"`
	// BindAddress is the API listen address (default: 127.0.0.1:8643).
	BindAddress string `toml:"bind_address" json:"bind_address" validate:"required_if=Enabled true,hostport_or_empty"`
}

func (c *Config) GetConfigDir() string {
	return filepath.Dir(c._absConfigFilePath)
}

// GetAbsSnapshotPath returns the snapshot path resolved against the config directory.
func (c *Config) GetAbsSnapshotPath() string {
	return utils.GetAbsolutePath(c.Snapshot.Path, c.GetConfigDir())
}

// GetAbsDNSBackupPath returns the resolver backup path resolved against the config directory.
func (c *Config) GetAbsDNSBackupPath() string {
	return utils.GetAbsolutePath(c.DNS.BackupPath, c.GetConfigDir())
}

// applyDefaults fills in every omitted section and field. Defaults mirror
// the tunnel session conventions: vpnse0, 10.0.0.2, MTU 1500, Google
// resolvers, 30-second health interval.
func (c *Config) applyDefaults() {
	if c.Tunnel == nil {
		c.Tunnel = &TunnelConfig{}
	}
	if c.Tunnel.Interface == "" {
		c.Tunnel.Interface = "vpnse0"
	}
	if c.Tunnel.LocalIP == "" {
		c.Tunnel.LocalIP = "10.0.0.2"
	}
	if c.Tunnel.MTU == 0 {
		c.Tunnel.MTU = 1500
	}

	if c.DNS == nil {
		c.DNS = &DNSConfig{}
	}
	if len(c.DNS.Resolvers) == 0 {
		c.DNS.Resolvers = []string{"8.8.8.8", "8.8.4.4"}
	}
	if c.DNS.Scope == "" {
		c.DNS.Scope = ScopeAll
	}
	if c.DNS.ResolvConf == "" {
		c.DNS.ResolvConf = "/etc/resolv.conf"
	}
	if c.DNS.BackupPath == "" {
		c.DNS.BackupPath = "/etc/resolv.conf.vpnshift.backup"
	}
	if c.DNS.ResolvedRunDir == "" {
		c.DNS.ResolvedRunDir = "/run/systemd/resolve"
	}
	if c.DNS.ResolvedDropInDir == "" {
		c.DNS.ResolvedDropInDir = "/etc/systemd/resolved.conf.d"
	}

	if c.Health == nil {
		c.Health = &HealthConfig{Enabled: true}
	}
	if c.Health.IntervalSeconds == 0 {
		c.Health.IntervalSeconds = 30
	}
	if c.Health.FailureThreshold == 0 {
		c.Health.FailureThreshold = 3
	}
	if c.Health.CheckDomain == "" {
		c.Health.CheckDomain = "connectivity-check.vpnshift.io"
	}
	if c.Health.CheckAddress == "" {
		c.Health.CheckAddress = "1.1.1.1:443"
	}

	if c.Snapshot == nil {
		c.Snapshot = &SnapshotConfig{}
	}
	if c.Snapshot.Path == "" {
		c.Snapshot.Path = "/var/lib/vpnshift/snapshot.json"
	}

	if c.API == nil {
		c.API = &APIConfig{}
	}
	if c.API.BindAddress == "" {
		c.API.BindAddress = "127.0.0.1:8643"
	}
}
