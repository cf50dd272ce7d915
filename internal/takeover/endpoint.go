package takeover

import (
	"context"
	"fmt"
	"net"

	"github.com/vpnshift/vpnshift/internal/config"
	"github.com/vpnshift/vpnshift/internal/domain"
	apperrors "github.com/vpnshift/vpnshift/internal/errors"
	"github.com/vpnshift/vpnshift/internal/utils"
)

// TunnelEndpoint describes an established tunnel handed over by the session
// layer. Fields are immutable for the lifetime of one takeover.
type TunnelEndpoint struct {
	// Interface is the tunnel interface name (e.g. "vpnse0").
	Interface string

	// LocalIP is the address assigned to the tunnel interface.
	LocalIP net.IP

	// Gateway is the peer-provided tunnel gateway, nil when the tunnel
	// protocol did not announce one.
	Gateway net.IP

	// ServerHost is the VPN server hostname or literal IP address.
	ServerHost string

	// ServerPort is the VPN server port.
	ServerPort uint16
}

// EndpointFromConfig builds a TunnelEndpoint from the tunnel and server
// sections of a validated config.
func EndpointFromConfig(cfg *config.Config) *TunnelEndpoint {
	endpoint := &TunnelEndpoint{
		Interface:  cfg.Tunnel.Interface,
		LocalIP:    net.ParseIP(cfg.Tunnel.LocalIP),
		ServerHost: cfg.Server.Host,
		ServerPort: cfg.Server.Port,
	}
	if cfg.Tunnel.Gateway != "" {
		endpoint.Gateway = net.ParseIP(cfg.Tunnel.Gateway)
	}
	return endpoint
}

// ResolveServerIP resolves the endpoint's server host to a single IPv4
// address. A literal IP short-circuits the resolver. Callers must resolve
// before DNS is repointed at the tunnel resolvers.
func (e *TunnelEndpoint) ResolveServerIP(ctx context.Context, resolver domain.HostResolver) (net.IP, error) {
	if ip := net.ParseIP(e.ServerHost); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, apperrors.NewNetworkError(fmt.Sprintf("VPN server address %s is not IPv4", e.ServerHost), nil)
	}

	ips, err := resolver.LookupIP(ctx, "ip4", e.ServerHost)
	if err != nil {
		return nil, apperrors.NewDNSError(fmt.Sprintf("failed to resolve VPN server %s", e.ServerHost), err)
	}

	ip := utils.FirstIPv4(ips)
	if ip == nil {
		return nil, apperrors.NewDNSError(fmt.Sprintf("VPN server %s has no IPv4 address", e.ServerHost), nil)
	}
	return ip, nil
}

func (e *TunnelEndpoint) String() string {
	return fmt.Sprintf("%s:%d via %s", e.ServerHost, e.ServerPort, e.Interface)
}
