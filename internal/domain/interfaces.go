// Package domain defines core interfaces for dependency injection and abstraction.
//
// This package contains the fundamental interfaces that enable loose coupling between
// components and facilitate testing through dependency injection.
package domain

import (
	"context"
	"net"

	"github.com/vpnshift/vpnshift/internal/networking"
)

// RouteManager defines the interface for routing table mutation and inspection.
//
// The idempotent Add/Del variants return whether a change happened, so callers
// can log exactly what they did and restore passes can skip absent routes.
type RouteManager interface {
	// AddIfNotExists installs the route unless an equivalent one is present.
	AddIfNotExists(route *networking.IPRoute) (bool, error)

	// DelIfExists removes the route if present.
	DelIfExists(route *networking.IPRoute) (bool, error)

	// Exists reports whether an equivalent route is present.
	Exists(route *networking.IPRoute) (bool, error)

	// ListDefaultRoutes returns every IPv4 default route in the main table.
	ListDefaultRoutes() ([]*networking.IPRoute, error)

	// ListInterfaceRoutes returns every IPv4 main-table route on iface.
	ListInterfaceRoutes(iface *networking.Interface) ([]*networking.IPRoute, error)
}

// InterfaceProvider defines the interface for resolving local network interfaces.
type InterfaceProvider interface {
	// GetInterface resolves one interface by name.
	GetInterface(name string) (*networking.Interface, error)

	// GetInterfaceList returns all interfaces on the host.
	GetInterfaceList() ([]networking.Interface, error)
}

// NATManager defines the interface for the tunnel-scoped packet-filter rules
// (masquerade and forward-accept).
type NATManager interface {
	// ApplyForwarding installs the forwarding rules for iface (idempotent).
	ApplyForwarding(iface string) error

	// RevertForwarding removes the forwarding rules for iface (idempotent).
	RevertForwarding(iface string) error

	// CheckForwarding reports per-rule presence for iface.
	CheckForwarding(iface string) (map[*networking.ForwardingRule]bool, error)
}

// SysctlManager defines the interface for reading and writing kernel
// parameters.
type SysctlManager interface {
	Get(key string) (string, error)
	Set(key, value string) error

	// SetIfDifferent writes value only when the current value differs and
	// returns whether a write happened.
	SetIfDifferent(key, value string) (bool, error)
}

// HostResolver resolves hostnames. The VPN server address is resolved through
// this before DNS is repointed; *net.Resolver satisfies it.
type HostResolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}
