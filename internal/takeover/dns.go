package takeover

import (
	"github.com/vpnshift/vpnshift/internal/config"
)

// BackendKind identifies the DNS mechanism in effect on the host.
type BackendKind string

const (
	// BackendManaged means a resolver service (systemd-resolved) owns the
	// resolver file and must be configured through drop-in overrides.
	BackendManaged BackendKind = "managed"

	// BackendDirect means the resolver file is a plain file we can edit.
	BackendDirect BackendKind = "direct"

	// BackendUnknown is only ever seen in snapshots written by builds that
	// predate backend detection. Revert treats it as direct.
	BackendUnknown BackendKind = "unknown"
)

// DNSPolicy is the resolver configuration applied for the lifetime of a
// takeover.
type DNSPolicy struct {
	// Resolvers are the tunnel DNS servers, in preference order.
	Resolvers []string

	// Scope controls whether the resolvers answer all queries or only
	// tunnel-routed ones.
	Scope config.DNSScope

	// Interface is the tunnel interface the policy belongs to.
	Interface string
}

// DNSConfigurator switches host DNS resolution to the policy resolvers and
// back. Implementations must be safe to Revert twice and must restore from
// snapshot data, not live state.
type DNSConfigurator interface {
	// Kind returns the backend this configurator drives.
	Kind() BackendKind

	// Apply points host DNS resolution at the policy resolvers.
	Apply(policy *DNSPolicy) error

	// Revert undoes Apply using what the snapshot recorded.
	Revert(snapshot *NetworkSnapshot) error

	// IsApplied reports whether this backend's takeover artifact is
	// currently in effect.
	IsApplied() (bool, error)
}

// NewDNSConfigurator returns the configurator for the given backend. The
// kind must come from the snapshot so revert drives the same mechanism that
// apply used, even across a restart. Unknown backends fall back to direct
// file edits, the mechanism that works on every host.
func NewDNSConfigurator(kind BackendKind, cfg *config.Config) DNSConfigurator {
	if kind == BackendManaged {
		return NewManagedDNS(cfg)
	}
	return NewDirectDNS(cfg)
}
