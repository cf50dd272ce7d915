package networking

// Production implementations of the domain-level managers. Tests use the
// mocks package instead; everything here hits the live kernel.

// NetlinkRouteManager mutates the live routing table through netlink.
type NetlinkRouteManager struct{}

func NewRouteManager() *NetlinkRouteManager {
	return &NetlinkRouteManager{}
}

func (m *NetlinkRouteManager) AddIfNotExists(route *IPRoute) (bool, error) {
	return route.AddIfNotExists()
}

func (m *NetlinkRouteManager) DelIfExists(route *IPRoute) (bool, error) {
	return route.DelIfExists()
}

func (m *NetlinkRouteManager) Exists(route *IPRoute) (bool, error) {
	return route.IsExists()
}

func (m *NetlinkRouteManager) ListDefaultRoutes() ([]*IPRoute, error) {
	return ListDefaultRoutes()
}

func (m *NetlinkRouteManager) ListInterfaceRoutes(iface *Interface) ([]*IPRoute, error) {
	return ListInterfaceRoutes(iface)
}

// NetlinkInterfaceProvider resolves interfaces through netlink.
type NetlinkInterfaceProvider struct{}

func NewInterfaceProvider() *NetlinkInterfaceProvider {
	return &NetlinkInterfaceProvider{}
}

func (p *NetlinkInterfaceProvider) GetInterface(name string) (*Interface, error) {
	return GetInterface(name)
}

func (p *NetlinkInterfaceProvider) GetInterfaceList() ([]Interface, error) {
	return GetInterfaceList()
}

// IPTablesNATManager manages the forwarding rules for a tunnel interface
// through iptables. The handle is created per call because the iptables
// binary path lookup may fail at construction time on hosts without it.
type IPTablesNATManager struct{}

func NewNATManager() *IPTablesNATManager {
	return &IPTablesNATManager{}
}

func (m *IPTablesNATManager) ApplyForwarding(iface string) error {
	rules, err := NewIPTableRules(iface)
	if err != nil {
		return err
	}
	return rules.AddIfNotExists()
}

func (m *IPTablesNATManager) RevertForwarding(iface string) error {
	rules, err := NewIPTableRules(iface)
	if err != nil {
		return err
	}
	return rules.DelIfExists()
}

func (m *IPTablesNATManager) CheckForwarding(iface string) (map[*ForwardingRule]bool, error) {
	rules, err := NewIPTableRules(iface)
	if err != nil {
		return nil, err
	}
	return rules.CheckRulesExists()
}
