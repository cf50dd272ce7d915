package domain

import (
	"net"

	"github.com/vpnshift/vpnshift/internal/networking"
)

// AppDependencies is a dependency injection container that holds all application dependencies.
//
// This container provides a centralized place to manage dependencies and enables:
//   - Easy testing with mock implementations
//   - Explicit dependency management instead of global state
//
// Usage:
//
//	deps := domain.NewDefaultDependencies()
//	routeMgr := deps.RouteManager()
type AppDependencies struct {
	routeManager      RouteManager
	interfaceProvider InterfaceProvider
	natManager        NATManager
	sysctlManager     SysctlManager
	resolver          HostResolver
}

// NewDefaultDependencies creates a dependency container with production
// implementations: netlink-backed routes and interfaces, iptables-backed
// forwarding rules, /proc/sys sysctls, and the system resolver.
func NewDefaultDependencies() *AppDependencies {
	return &AppDependencies{
		routeManager:      networking.NewRouteManager(),
		interfaceProvider: networking.NewInterfaceProvider(),
		natManager:        networking.NewNATManager(),
		sysctlManager:     networking.NewSysctl(),
		resolver:          net.DefaultResolver,
	}
}

// NewTestDependencies creates a dependency container with the given
// implementations. Provide mocks for any dependencies you want to control
// in tests.
func NewTestDependencies(
	routeManager RouteManager,
	interfaceProvider InterfaceProvider,
	natManager NATManager,
	sysctlManager SysctlManager,
	resolver HostResolver,
) *AppDependencies {
	return &AppDependencies{
		routeManager:      routeManager,
		interfaceProvider: interfaceProvider,
		natManager:        natManager,
		sysctlManager:     sysctlManager,
		resolver:          resolver,
	}
}

// RouteManager returns the routing table manager.
func (d *AppDependencies) RouteManager() RouteManager {
	return d.routeManager
}

// InterfaceProvider returns the interface provider.
func (d *AppDependencies) InterfaceProvider() InterfaceProvider {
	return d.interfaceProvider
}

// NATManager returns the forwarding rule manager.
func (d *AppDependencies) NATManager() NATManager {
	return d.natManager
}

// SysctlManager returns the kernel parameter manager.
func (d *AppDependencies) SysctlManager() SysctlManager {
	return d.sysctlManager
}

// Resolver returns the hostname resolver.
func (d *AppDependencies) Resolver() HostResolver {
	return d.resolver
}
