package takeover

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/jackpal/gateway"

	"github.com/vpnshift/vpnshift/internal/config"
	"github.com/vpnshift/vpnshift/internal/domain"
	apperrors "github.com/vpnshift/vpnshift/internal/errors"
	"github.com/vpnshift/vpnshift/internal/log"
	"github.com/vpnshift/vpnshift/internal/networking"
	"github.com/vpnshift/vpnshift/internal/utils"
)

// Inspection is what StateInspector reads from the host. Inspect never
// mutates anything; absent values degrade later steps instead of failing
// the inspection.
type Inspection struct {
	// OriginalGateway is the gateway of the lowest-metric non-tunnel
	// default route, nil when the host has none.
	OriginalGateway net.IP

	// OriginalInterface is the interface carrying that default route.
	OriginalInterface string

	// MinDefaultMetric is the lowest metric among non-tunnel default
	// routes, -1 when none exist.
	MinDefaultMetric int

	// TunnelGateway is the next hop inside the tunnel, nil when no
	// detection strategy produced one.
	TunnelGateway net.IP

	// GatewaySource names the strategy that produced TunnelGateway.
	GatewaySource string

	// DNSBackend is the detected host DNS mechanism.
	DNSBackend BackendKind
}

// gatewayProbe carries the facts the detection strategies may look at.
type gatewayProbe struct {
	endpoint    *TunnelEndpoint
	tunnelIface *networking.Interface
	tunnelNet   *net.IPNet
	defaults    []*networking.IPRoute
	routes      domain.RouteManager
}

// gatewayStrategy is one entry in the ordered tunnel-gateway detection
// list. A strategy returns nil for "no result"; the first hit wins.
type gatewayStrategy struct {
	name   string
	detect func(p *gatewayProbe) net.IP
}

// tunnelGatewayStrategies is evaluated in order. The order is part of the
// contract: explicit knowledge beats route inspection beats inference.
// Extend by appending a strategy, not by branching inside one.
var tunnelGatewayStrategies = []gatewayStrategy{
	{name: "endpoint", detect: fromEndpoint},
	{name: "tunnel-default-route", detect: fromTunnelDefaultRoute},
	{name: "shared-subnet-route-scan", detect: fromSharedSubnetRouteScan},
	{name: "subnet-inference", detect: fromSubnetInference},
}

// fromEndpoint uses the gateway the tunnel protocol announced, if any.
func fromEndpoint(p *gatewayProbe) net.IP {
	return p.endpoint.Gateway
}

// fromTunnelDefaultRoute picks the gateway of an existing default route
// that already points at the tunnel interface.
func fromTunnelDefaultRoute(p *gatewayProbe) net.IP {
	index := p.tunnelIface.Attrs().Index
	for _, route := range p.defaults {
		if route.LinkIndex == index && route.Gw != nil {
			return route.Gw
		}
	}
	return nil
}

// fromSharedSubnetRouteScan handles RFC 6598 shared address space. Carrier
// grade NAT subnets do not follow the base+1 gateway convention, so any
// explicit via on a tunnel-interface route beats inference there.
func fromSharedSubnetRouteScan(p *gatewayProbe) net.IP {
	if p.tunnelNet == nil || !utils.IsCarrierGradeNAT(p.tunnelNet.IP) {
		return nil
	}

	routes, err := p.routes.ListInterfaceRoutes(p.tunnelIface)
	if err != nil {
		log.Debugf("Route scan on %s failed: %v", p.tunnelIface.Attrs().Name, err)
		return nil
	}
	for _, route := range routes {
		if route.Gw != nil {
			return route.Gw
		}
	}
	return nil
}

// fromSubnetInference assumes the first host of the tunnel subnet is the
// gateway. An inferred address equal to our own is no gateway at all.
func fromSubnetInference(p *gatewayProbe) net.IP {
	if p.tunnelNet == nil {
		return nil
	}
	inferred := utils.FirstHost(p.tunnelNet)
	if inferred == nil || inferred.Equal(p.endpoint.LocalIP) {
		return nil
	}
	return inferred
}

// StateInspector reads the routing table, interface addressing and DNS
// mechanism of the host.
type StateInspector struct {
	cfg    *config.Config
	routes domain.RouteManager
	ifaces domain.InterfaceProvider

	// discoverGateway is the platform fallback used when the routing table
	// shows no default route. Injectable for tests.
	discoverGateway func() (net.IP, error)

	// ifaceIPv4Net reads the first IPv4 network of an interface.
	// Injectable for tests, where no live link exists.
	ifaceIPv4Net func(*networking.Interface) (*net.IPNet, error)
}

// NewStateInspector creates an inspector bound to the given dependencies.
func NewStateInspector(cfg *config.Config, deps *domain.AppDependencies) *StateInspector {
	return &StateInspector{
		cfg:             cfg,
		routes:          deps.RouteManager(),
		ifaces:          deps.InterfaceProvider(),
		discoverGateway: gateway.DiscoverGateway,
		ifaceIPv4Net:    (*networking.Interface).FirstIPv4Net,
	}
}

// Inspect captures the current network state relative to the endpoint's
// tunnel interface. It fails only when the tunnel interface itself is
// missing; every other gap is reported as an absent field.
func (ins *StateInspector) Inspect(endpoint *TunnelEndpoint) (*Inspection, error) {
	tunnelIface, err := ins.ifaces.GetInterface(endpoint.Interface)
	if err != nil {
		return nil, apperrors.NewNetworkError(fmt.Sprintf("tunnel interface %s not found", endpoint.Interface), err)
	}

	result := &Inspection{MinDefaultMetric: -1}

	defaults, err := ins.routes.ListDefaultRoutes()
	if err != nil {
		log.Warnf("Failed to list default routes: %v", err)
	}

	tunnelIndex := tunnelIface.Attrs().Index
	for _, route := range defaults {
		if route.LinkIndex == tunnelIndex {
			continue
		}
		if result.MinDefaultMetric == -1 || route.Priority < result.MinDefaultMetric {
			result.MinDefaultMetric = route.Priority
			result.OriginalGateway = route.Gw
			result.OriginalInterface = ins.linkName(route.LinkIndex)
		}
	}

	if result.OriginalGateway == nil && ins.discoverGateway != nil {
		if gw, err := ins.discoverGateway(); err != nil {
			log.Debugf("Platform gateway discovery found nothing: %v", err)
		} else if gw != nil {
			result.OriginalGateway = gw.To4()
			log.Debugf("Default gateway %s discovered via platform fallback", gw)
		}
	}
	if result.OriginalGateway == nil {
		log.Warnf("No default gateway found, the host seems to have no upstream route")
	}

	tunnelNet, err := ins.ifaceIPv4Net(tunnelIface)
	if err != nil {
		log.Debugf("Tunnel interface %s has no usable IPv4 network: %v", endpoint.Interface, err)
	}

	probe := &gatewayProbe{
		endpoint:    endpoint,
		tunnelIface: tunnelIface,
		tunnelNet:   tunnelNet,
		defaults:    defaults,
		routes:      ins.routes,
	}
	for _, strategy := range tunnelGatewayStrategies {
		if gw := strategy.detect(probe); gw != nil {
			result.TunnelGateway = gw
			result.GatewaySource = strategy.name
			log.Debugf("Tunnel gateway %s detected by %s strategy", gw, strategy.name)
			break
		}
	}
	if result.TunnelGateway == nil {
		log.Infof("Tunnel gateway unknown, split default routes will be used")
	}

	result.DNSBackend = ins.detectDNSBackend()
	log.Debugf("Inspection done: gw=%v iface=%s metric=%d tunnel_gw=%v (%s) dns=%s",
		result.OriginalGateway, result.OriginalInterface, result.MinDefaultMetric,
		result.TunnelGateway, result.GatewaySource, result.DNSBackend)

	return result, nil
}

// linkName resolves an interface index to its name, empty when unknown.
func (ins *StateInspector) linkName(index int) string {
	if index <= 0 {
		return ""
	}
	interfaces, err := ins.ifaces.GetInterfaceList()
	if err != nil {
		log.Warnf("Failed to list interfaces: %v", err)
		return ""
	}
	for _, iface := range interfaces {
		if iface.Attrs().Index == index {
			return iface.Attrs().Name
		}
	}
	return ""
}

// detectDNSBackend probes for a running managed resolver service. The
// service keeps its generated resolver files under the run directory, so
// their presence is the signal; no process inspection needed.
func (ins *StateInspector) detectDNSBackend() BackendKind {
	for _, name := range []string{"stub-resolv.conf", "resolv.conf"} {
		path := filepath.Join(ins.cfg.DNS.ResolvedRunDir, name)
		if _, err := os.Stat(path); err == nil {
			log.Debugf("Managed resolver service detected (%s present)", path)
			return BackendManaged
		}
	}
	return BackendDirect
}
