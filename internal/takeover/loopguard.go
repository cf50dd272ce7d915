package takeover

import (
	"context"
	"fmt"
	"net"

	"github.com/vpnshift/vpnshift/internal/domain"
	apperrors "github.com/vpnshift/vpnshift/internal/errors"
	"github.com/vpnshift/vpnshift/internal/log"
	"github.com/vpnshift/vpnshift/internal/networking"
)

// LoopGuard keeps traffic to the VPN server itself off the tunnel. Without
// the bypass route the encrypted packets to the server would be routed back
// into the tunnel and the session would feed on itself.
type LoopGuard struct {
	routes   domain.RouteManager
	ifaces   domain.InterfaceProvider
	resolver domain.HostResolver

	// installed is the exact route Install added, tracked by value so
	// Remove never touches anything else.
	installed *networking.IPRoute
}

// NewLoopGuard creates a loop guard bound to the given dependencies.
func NewLoopGuard(deps *domain.AppDependencies) *LoopGuard {
	return &LoopGuard{
		routes:   deps.RouteManager(),
		ifaces:   deps.InterfaceProvider(),
		resolver: deps.Resolver(),
	}
}

// Install resolves the server address and pins a /32 route to it via the
// original gateway, or via the original interface alone when the gateway is
// unknown. Resolution happens here, before DNS is repointed, so the lookup
// still goes through the original resolvers. The route and the resolved
// address are recorded in the snapshot.
func (g *LoopGuard) Install(ctx context.Context, endpoint *TunnelEndpoint, snapshot *NetworkSnapshot) error {
	serverIP, err := endpoint.ResolveServerIP(ctx, g.resolver)
	if err != nil {
		return err
	}
	snapshot.ServerIP = serverIP.String()

	gw := snapshot.OriginalGatewayIP()
	var iface *networking.Interface
	if snapshot.OriginalInterface != "" {
		if iface, err = g.ifaces.GetInterface(snapshot.OriginalInterface); err != nil {
			log.Warnf("Original interface %s not found: %v", snapshot.OriginalInterface, err)
			iface = nil
		}
	}
	if gw == nil && iface == nil {
		return apperrors.NewDetectionError(
			fmt.Sprintf("no original gateway or interface to carry the bypass route to %s", serverIP), nil)
	}

	route := networking.BuildHostRoute(serverIP, gw, iface)
	g.installed = route
	snapshot.BypassRoute = recordRoute(route, snapshot.OriginalInterface)

	if _, err := g.routes.AddIfNotExists(route); err != nil {
		return apperrors.FromOSError(apperrors.ErrCodeNetwork,
			fmt.Sprintf("failed to install bypass route to %s", serverIP), err)
	}

	log.Infof("Bypass route to VPN server %s installed [%v]", serverIP, route)
	return nil
}

// Remove deletes exactly the route Install added. An already-absent route
// is logged and skipped so restoration can run twice.
func (g *LoopGuard) Remove() error {
	if g.installed == nil {
		log.Debugf("No bypass route tracked, nothing to remove")
		return nil
	}

	removed, err := g.routes.DelIfExists(g.installed)
	if err != nil {
		return apperrors.FromOSError(apperrors.ErrCodeNetwork, "failed to remove bypass route", err)
	}
	if !removed {
		log.Warnf("Bypass route already absent [%v]", g.installed)
	}

	g.installed = nil
	return nil
}

// RestoreFromSnapshot rebuilds the tracked route from a loaded snapshot so
// Remove works after a process restart. A record whose interface vanished
// is dropped: the kernel removed such routes with the link.
func (g *LoopGuard) RestoreFromSnapshot(snapshot *NetworkSnapshot) {
	if snapshot.BypassRoute == nil {
		return
	}
	route, err := routeFromRecord(snapshot.BypassRoute, g.ifaces)
	if err != nil {
		log.Warnf("Bypass route not restorable, skipping removal: %v", err)
		return
	}
	g.installed = route
}

// ServerIP returns the resolved server address from the live route, nil
// before Install.
func (g *LoopGuard) ServerIP() net.IP {
	if g.installed == nil || g.installed.Dst == nil {
		return nil
	}
	return g.installed.Dst.IP
}

// IsInstalled reports whether the tracked bypass route is present.
func (g *LoopGuard) IsInstalled() (bool, error) {
	if g.installed == nil {
		return false, nil
	}
	return g.routes.Exists(g.installed)
}
