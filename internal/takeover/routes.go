package takeover

import (
	"fmt"

	"github.com/vpnshift/vpnshift/internal/domain"
	apperrors "github.com/vpnshift/vpnshift/internal/errors"
	"github.com/vpnshift/vpnshift/internal/log"
	"github.com/vpnshift/vpnshift/internal/networking"
)

// DefaultRouteMetric is the metric for the tunnel default route when no
// pre-existing default route constrains the choice. Lower wins; 50 leaves
// room both below (for manual overrides) and above (typical DHCP metrics
// are 100+).
const DefaultRouteMetric = 50

// RoutePolicy is the set of routes that sends default traffic through the
// tunnel, plus the shape they take.
type RoutePolicy struct {
	Kind   RouteKind
	Routes []*networking.IPRoute
}

// record converts the policy to its durable snapshot form.
func (p *RoutePolicy) record(ifaceName string) *RoutePolicyRecord {
	record := &RoutePolicyRecord{Kind: p.Kind}
	for _, route := range p.Routes {
		record.Routes = append(record.Routes, *recordRoute(route, ifaceName))
	}
	return record
}

// policyFromRecord rebuilds a live policy from its durable form. Routes
// whose interface vanished are dropped, the kernel already removed them.
func policyFromRecord(record *RoutePolicyRecord, ifaces domain.InterfaceProvider) *RoutePolicy {
	policy := &RoutePolicy{Kind: record.Kind}
	for i := range record.Routes {
		route, err := routeFromRecord(&record.Routes[i], ifaces)
		if err != nil {
			log.Warnf("Recorded tunnel route not restorable, skipping removal: %v", err)
			continue
		}
		policy.Routes = append(policy.Routes, route)
	}
	return policy
}

// RouteInstaller applies and reverts the takeover route policy.
type RouteInstaller struct {
	routes domain.RouteManager
	ifaces domain.InterfaceProvider
	policy *RoutePolicy
}

// NewRouteInstaller creates an installer bound to the given dependencies.
func NewRouteInstaller(deps *domain.AppDependencies) *RouteInstaller {
	return &RouteInstaller{
		routes: deps.RouteManager(),
		ifaces: deps.InterfaceProvider(),
	}
}

// BuildPolicy selects the route shape. With a known tunnel gateway it is a
// single default route whose metric outranks every pre-existing default.
// Without a gateway, or when a pre-existing default has metric 0 and cannot
// be outranked, it degrades to the split /1 halves, which win on prefix
// length instead of metric.
func (r *RouteInstaller) BuildPolicy(endpoint *TunnelEndpoint, inspection *Inspection) (*RoutePolicy, error) {
	iface, err := r.ifaces.GetInterface(endpoint.Interface)
	if err != nil {
		return nil, apperrors.NewNetworkError(fmt.Sprintf("tunnel interface %s not found", endpoint.Interface), err)
	}

	if inspection.TunnelGateway != nil {
		metric := DefaultRouteMetric
		if inspection.MinDefaultMetric >= 0 && inspection.MinDefaultMetric <= metric {
			metric = inspection.MinDefaultMetric - 1
		}
		if metric >= 0 {
			return &RoutePolicy{
				Kind:   RouteKindFullDefault,
				Routes: []*networking.IPRoute{networking.BuildDefaultRoute(iface, inspection.TunnelGateway, metric)},
			}, nil
		}
		log.Warnf("Pre-existing default route has metric 0, falling back to split routes")
	}

	return &RoutePolicy{
		Kind:   RouteKindSplitDefault,
		Routes: networking.BuildSplitDefaultRoutes(iface),
	}, nil
}

// Apply installs the policy routes and records them in the snapshot. The
// policy is tracked before the first route goes in, so a failure halfway
// still lets Revert clean up the routes that made it.
func (r *RouteInstaller) Apply(policy *RoutePolicy, snapshot *NetworkSnapshot) error {
	r.policy = policy
	snapshot.RoutePolicy = policy.record(snapshot.TunnelInterface)

	for _, route := range policy.Routes {
		added, err := r.routes.AddIfNotExists(route)
		if err != nil {
			return apperrors.FromOSError(apperrors.ErrCodeNetwork,
				fmt.Sprintf("failed to install tunnel route [%v]", route), err)
		}
		if added {
			log.Infof("Installed tunnel route [%v]", route)
		} else {
			log.Debugf("Tunnel route already present [%v]", route)
		}
	}

	return nil
}

// Reapply re-installs any tracked policy route that went missing. Part of
// the self-heal pass.
func (r *RouteInstaller) Reapply() error {
	if r.policy == nil {
		return nil
	}
	for _, route := range r.policy.Routes {
		added, err := r.routes.AddIfNotExists(route)
		if err != nil {
			return apperrors.FromOSError(apperrors.ErrCodeNetwork,
				fmt.Sprintf("failed to re-install tunnel route [%v]", route), err)
		}
		if added {
			log.Warnf("Tunnel route was missing, re-installed [%v]", route)
		}
	}
	return nil
}

// Revert removes exactly the routes Apply installed, newest first. Absent
// routes are logged and skipped so restoration can run twice.
func (r *RouteInstaller) Revert() error {
	if r.policy == nil {
		log.Debugf("No route policy tracked, nothing to revert")
		return nil
	}

	for i := len(r.policy.Routes) - 1; i >= 0; i-- {
		route := r.policy.Routes[i]
		removed, err := r.routes.DelIfExists(route)
		if err != nil {
			return apperrors.FromOSError(apperrors.ErrCodeNetwork,
				fmt.Sprintf("failed to remove tunnel route [%v]", route), err)
		}
		if !removed {
			log.Warnf("Tunnel route already absent [%v]", route)
		}
	}

	r.policy = nil
	return nil
}

// RestoreFromSnapshot rebuilds the tracked policy from a loaded snapshot so
// Revert works after a process restart.
func (r *RouteInstaller) RestoreFromSnapshot(snapshot *NetworkSnapshot) {
	if snapshot.RoutePolicy == nil {
		return
	}
	r.policy = policyFromRecord(snapshot.RoutePolicy, r.ifaces)
}

// Policy returns the tracked policy, nil before Apply.
func (r *RouteInstaller) Policy() *RoutePolicy {
	return r.policy
}

// CheckApplied reports per-route presence for the tracked policy.
func (r *RouteInstaller) CheckApplied() (map[*networking.IPRoute]bool, error) {
	if r.policy == nil {
		return nil, nil
	}
	states := make(map[*networking.IPRoute]bool, len(r.policy.Routes))
	for _, route := range r.policy.Routes {
		exists, err := r.routes.Exists(route)
		if err != nil {
			return nil, err
		}
		states[route] = exists
	}
	return states, nil
}
