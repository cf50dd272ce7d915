package takeover

import (
	"fmt"

	"github.com/vpnshift/vpnshift/internal/config"
	"github.com/vpnshift/vpnshift/internal/domain"
	"github.com/vpnshift/vpnshift/internal/networking"
)

// CheckState is one verified takeover element: what was found versus what
// the snapshot says should be there.
type CheckState struct {
	Component   string
	Description string
	Exists      bool
	ShouldExist bool
	Err         error
}

// OK reports whether the observed state matches the expected one.
func (c *CheckState) OK() bool {
	return c.Err == nil && c.Exists == c.ShouldExist
}

// Message renders the state for logs and the API.
func (c *CheckState) Message() string {
	if c.Err != nil {
		return fmt.Sprintf("error checking: %v", c.Err)
	}
	switch {
	case c.Exists && c.ShouldExist:
		return "present"
	case !c.Exists && c.ShouldExist:
		return "MISSING"
	case c.Exists && !c.ShouldExist:
		return "present but should NOT be (leftover)"
	default:
		return "absent"
	}
}

// Checker verifies the applied network state against the snapshot records.
// It reads through the same manager interfaces the takeover writes through.
type Checker struct {
	cfg  *config.Config
	deps *domain.AppDependencies
}

// NewChecker creates a checker bound to the given dependencies.
func NewChecker(cfg *config.Config, deps *domain.AppDependencies) *Checker {
	return &Checker{cfg: cfg, deps: deps}
}

// Check walks every takeover element the snapshot records and reports its
// state. With a nil snapshot it verifies absence instead: no snapshot means
// no takeover artifact may be left on the host.
func (c *Checker) Check(snapshot *NetworkSnapshot) []CheckState {
	var states []CheckState

	for _, dns := range []DNSConfigurator{NewManagedDNS(c.cfg), NewDirectDNS(c.cfg)} {
		applied, err := dns.IsApplied()
		expected := snapshot != nil && snapshot.DNSBackend == dns.Kind() && dnsApplied(snapshot)
		states = append(states, CheckState{
			Component:   "dns-" + string(dns.Kind()),
			Description: fmt.Sprintf("%s resolver takeover", dns.Kind()),
			Exists:      applied,
			ShouldExist: expected,
			Err:         err,
		})
	}

	if snapshot == nil {
		return states
	}

	if snapshot.BypassRoute != nil {
		states = append(states, c.checkRoute("bypass-route",
			fmt.Sprintf("bypass route to VPN server %s", snapshot.ServerIP), snapshot.BypassRoute))
	}

	if snapshot.RoutePolicy != nil {
		for i := range snapshot.RoutePolicy.Routes {
			record := &snapshot.RoutePolicy.Routes[i]
			dst := record.Dst
			if dst == "" {
				dst = "default"
			}
			states = append(states, c.checkRoute("tunnel-route",
				fmt.Sprintf("%s route %s via %s", snapshot.RoutePolicy.Kind, dst, record.Iface), record))
		}
	}

	if snapshot.ForwardingApplied {
		states = append(states, c.checkForwarding(snapshot.TunnelInterface)...)
		states = append(states, c.checkSysctls(snapshot.TunnelInterface)...)
	}

	return states
}

func (c *Checker) checkRoute(component, description string, record *RouteRecord) CheckState {
	state := CheckState{Component: component, Description: description, ShouldExist: true}

	route, err := routeFromRecord(record, c.deps.InterfaceProvider())
	if err != nil {
		state.Err = err
		return state
	}
	state.Exists, state.Err = c.deps.RouteManager().Exists(route)
	return state
}

func (c *Checker) checkForwarding(iface string) []CheckState {
	rules, err := c.deps.NATManager().CheckForwarding(iface)
	if err != nil {
		return []CheckState{{
			Component:   "forwarding",
			Description: fmt.Sprintf("forwarding rules for %s", iface),
			ShouldExist: true,
			Err:         err,
		}}
	}

	var states []CheckState
	for rule, exists := range rules {
		states = append(states, CheckState{
			Component:   "forwarding",
			Description: rule.String(),
			Exists:      exists,
			ShouldExist: true,
		})
	}
	return states
}

func (c *Checker) checkSysctls(iface string) []CheckState {
	checks := []struct {
		key  string
		want string
	}{
		{networking.SysctlRPFilterAll, "0"},
		{networking.SysctlRPFilterIface(iface), "0"},
		{networking.SysctlIPForward, "1"},
	}

	var states []CheckState
	for _, check := range checks {
		value, err := c.deps.SysctlManager().Get(check.key)
		states = append(states, CheckState{
			Component:   "sysctl",
			Description: fmt.Sprintf("%s = %s", check.key, check.want),
			Exists:      err == nil && value == check.want,
			ShouldExist: true,
			Err:         err,
		})
	}
	return states
}

// dnsApplied reports whether the snapshot records a completed DNS step.
func dnsApplied(snapshot *NetworkSnapshot) bool {
	return snapshot.OverrideInstalled || len(snapshot.AppliedResolvers) > 0
}
