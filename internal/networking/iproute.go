package networking

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/vpnshift/vpnshift/internal/log"
)

type IPRoute struct {
	*netlink.Route
}

func (r *IPRoute) String() string {
	via := "direct"
	if r.Gw != nil {
		via = "via " + r.Gw.String()
	}

	to := "default"
	if r.Dst != nil && r.Dst.String() != "<nil>" {
		to = r.Dst.String()
	}

	linkName := "<nil>"
	if r.LinkIndex > 0 {
		if link, err := netlink.LinkByIndex(r.LinkIndex); err != nil {
			linkName = "<err: " + err.Error() + ">"
		} else {
			linkName = link.Attrs().Name
		}
	}

	return fmt.Sprintf("table %d: dst=%s %s -> dev %s (idx=%d) [metric:%d]",
		r.Table, to, via, linkName, r.LinkIndex, r.Priority)
}

// BuildDefaultRoute returns a default route via gw on iface with the given
// metric in the main table. The destination is left nil, which netlink
// treats as 0.0.0.0/0.
func BuildDefaultRoute(iface *Interface, gw net.IP, metric int) *IPRoute {
	ipr := netlink.Route{}

	ipr.Table = unix.RT_TABLE_MAIN
	ipr.Family = netlink.FAMILY_V4
	ipr.LinkIndex = iface.Attrs().Index
	ipr.Gw = gw
	ipr.Priority = metric

	return &IPRoute{&ipr}
}

// BuildSplitDefaultRoutes returns the two half-space routes (0.0.0.0/1 and
// 128.0.0.0/1) on iface. Together they cover every destination while any
// pre-existing default route keeps its place, since a /1 always wins the
// longest-prefix match against a /0.
func BuildSplitDefaultRoutes(iface *Interface) []*IPRoute {
	halves := []*net.IPNet{
		{IP: net.IPv4(0, 0, 0, 0).To4(), Mask: net.CIDRMask(1, 32)},
		{IP: net.IPv4(128, 0, 0, 0).To4(), Mask: net.CIDRMask(1, 32)},
	}

	routes := make([]*IPRoute, 0, len(halves))
	for _, half := range halves {
		ipr := netlink.Route{}

		ipr.Table = unix.RT_TABLE_MAIN
		ipr.Family = netlink.FAMILY_V4
		ipr.LinkIndex = iface.Attrs().Index
		ipr.Scope = netlink.SCOPE_LINK
		ipr.Dst = half

		routes = append(routes, &IPRoute{&ipr})
	}

	return routes
}

// BuildRoute rebuilds a route from its parts. A nil dst means default; a
// nil gw with a concrete dst makes the route link-scoped.
func BuildRoute(dst *net.IPNet, gw net.IP, iface *Interface, metric int) *IPRoute {
	ipr := netlink.Route{}

	ipr.Table = unix.RT_TABLE_MAIN
	ipr.Family = netlink.FAMILY_V4
	ipr.Dst = dst
	ipr.Gw = gw
	ipr.Priority = metric
	if iface != nil {
		ipr.LinkIndex = iface.Attrs().Index
	}
	if gw == nil && dst != nil {
		ipr.Scope = netlink.SCOPE_LINK
	}

	return &IPRoute{&ipr}
}

// BuildHostRoute returns a /32 route to dst in the main table. With a nil
// gw the route is link-scoped on iface alone.
func BuildHostRoute(dst net.IP, gw net.IP, iface *Interface) *IPRoute {
	ipr := netlink.Route{}

	ipr.Table = unix.RT_TABLE_MAIN
	ipr.Family = netlink.FAMILY_V4
	ipr.Dst = &net.IPNet{IP: dst.To4(), Mask: net.CIDRMask(32, 32)}
	if iface != nil {
		ipr.LinkIndex = iface.Attrs().Index
	}
	if gw != nil {
		ipr.Gw = gw
	} else {
		ipr.Scope = netlink.SCOPE_LINK
	}

	return &IPRoute{&ipr}
}

func (ipr *IPRoute) Add() error {
	log.Debugf("Adding IP route [%v]", ipr)
	if err := netlink.RouteAdd(ipr.Route); err != nil {
		log.Warnf("Failed to add IP route [%v]: %v", ipr, err)
		return err
	}

	return nil
}

func (ipr *IPRoute) AddIfNotExists() (bool, error) {
	if exists, err := ipr.IsExists(); err != nil {
		return false, err
	} else {
		if !exists {
			if err := ipr.Add(); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

func (ipr *IPRoute) IsExists() (bool, error) {
	filters := uint64(netlink.RT_FILTER_TABLE | netlink.RT_FILTER_DST)
	if ipr.LinkIndex > 0 {
		filters |= netlink.RT_FILTER_OIF
	}

	filtered, err := netlink.RouteListFiltered(ipr.Family, ipr.Route, filters)
	if err != nil {
		log.Warnf("Checking if IP route exists [%v] is failed: %v", ipr, err)
		return false, err
	}

	for _, route := range filtered {
		// Metric distinguishes our default route from pre-existing ones.
		if ipr.Priority != 0 && route.Priority != ipr.Priority {
			continue
		}
		log.Debugf("Checking if IP route exists [%v]: YES", ipr)
		return true, nil
	}

	log.Debugf("Checking if IP route exists [%v]: NO", ipr)
	return false, nil
}

func (ipr *IPRoute) Del() error {
	log.Debugf("Deleting IP route [%v]", ipr)
	if err := netlink.RouteDel(ipr.Route); err != nil {
		log.Warnf("Failed to delete IP route [%v]: %v", ipr, err)
		return err
	}

	return nil
}

func (ipr *IPRoute) DelIfExists() (bool, error) {
	if exists, err := ipr.IsExists(); err != nil {
		return false, err
	} else {
		if exists {
			if err := ipr.Del(); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// ListDefaultRoutes returns every IPv4 default route in the main table,
// ordered as the kernel returns them.
func ListDefaultRoutes() ([]*IPRoute, error) {
	log.Debugf("Listing IPv4 default routes in the main table")
	filter := &netlink.Route{Table: unix.RT_TABLE_MAIN}
	routes, err := netlink.RouteListFiltered(netlink.FAMILY_V4, filter, netlink.RT_FILTER_TABLE|netlink.RT_FILTER_DST)
	if err != nil {
		log.Warnf("Failed to list default routes: %v", err)
		return nil, err
	}

	var ipRoutes []*IPRoute
	for _, route := range routes {
		copiedRoute := route
		ipRoutes = append(ipRoutes, &IPRoute{&copiedRoute})
	}

	return ipRoutes, nil
}

// ListInterfaceRoutes returns every IPv4 route in the main table whose
// output interface is iface.
func ListInterfaceRoutes(iface *Interface) ([]*IPRoute, error) {
	filter := &netlink.Route{Table: unix.RT_TABLE_MAIN, LinkIndex: iface.Attrs().Index}
	routes, err := netlink.RouteListFiltered(netlink.FAMILY_V4, filter, netlink.RT_FILTER_TABLE|netlink.RT_FILTER_OIF)
	if err != nil {
		log.Warnf("Failed to list routes on %s: %v", iface.Attrs().Name, err)
		return nil, err
	}

	var ipRoutes []*IPRoute
	for _, route := range routes {
		copiedRoute := route
		ipRoutes = append(ipRoutes, &IPRoute{&copiedRoute})
	}

	return ipRoutes, nil
}
