package mocks

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"

	"github.com/vpnshift/vpnshift/internal/networking"
)

// NewInterface builds an up dummy interface for tests without touching netlink.
func NewInterface(index int, name string) *networking.Interface {
	return &networking.Interface{Link: &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{
		Index: index,
		Name:  name,
		MTU:   1500,
		Flags: net.FlagUp,
	}}}
}

// routeKey identifies a route by the fields takeover components set.
func routeKey(route *networking.IPRoute) string {
	dst := "default"
	if route.Dst != nil {
		dst = route.Dst.String()
	}
	gw := ""
	if route.Gw != nil {
		gw = route.Gw.String()
	}
	return fmt.Sprintf("%s|%s|%d|%d", dst, gw, route.LinkIndex, route.Priority)
}

// MockRouteManager is a mock implementation of the RouteManager interface.
//
// By default it maintains a simulated route table in Routes, so tests can
// assert on what ended up installed.
type MockRouteManager struct {
	// AddIfNotExistsFunc is called by AddIfNotExists if not nil
	AddIfNotExistsFunc func(route *networking.IPRoute) (bool, error)

	// DelIfExistsFunc is called by DelIfExists if not nil
	DelIfExistsFunc func(route *networking.IPRoute) (bool, error)

	// ExistsFunc is called by Exists if not nil
	ExistsFunc func(route *networking.IPRoute) (bool, error)

	// ListDefaultRoutesFunc is called by ListDefaultRoutes if not nil
	ListDefaultRoutesFunc func() ([]*networking.IPRoute, error)

	// ListInterfaceRoutesFunc is called by ListInterfaceRoutes if not nil
	ListInterfaceRoutesFunc func(iface *networking.Interface) ([]*networking.IPRoute, error)

	// Track calls and routes for verification
	AddCalls         int
	DelCalls         int
	ExistsCalls      int
	ListDefaultCalls int
	Routes           []*networking.IPRoute // Simulated route table
}

// NewMockRouteManager creates a new mock route manager with an empty table.
func NewMockRouteManager() *MockRouteManager {
	return &MockRouteManager{}
}

func (m *MockRouteManager) contains(route *networking.IPRoute) bool {
	key := routeKey(route)
	for _, r := range m.Routes {
		if routeKey(r) == key {
			return true
		}
	}
	return false
}

// AddIfNotExists installs the route into the simulated table.
func (m *MockRouteManager) AddIfNotExists(route *networking.IPRoute) (bool, error) {
	m.AddCalls++
	if m.AddIfNotExistsFunc != nil {
		return m.AddIfNotExistsFunc(route)
	}
	if m.contains(route) {
		return false, nil
	}
	m.Routes = append(m.Routes, route)
	return true, nil
}

// DelIfExists removes the route from the simulated table.
func (m *MockRouteManager) DelIfExists(route *networking.IPRoute) (bool, error) {
	m.DelCalls++
	if m.DelIfExistsFunc != nil {
		return m.DelIfExistsFunc(route)
	}
	key := routeKey(route)
	for i, r := range m.Routes {
		if routeKey(r) == key {
			m.Routes = append(m.Routes[:i], m.Routes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// Exists reports whether the route is in the simulated table.
func (m *MockRouteManager) Exists(route *networking.IPRoute) (bool, error) {
	m.ExistsCalls++
	if m.ExistsFunc != nil {
		return m.ExistsFunc(route)
	}
	return m.contains(route), nil
}

// ListDefaultRoutes returns the simulated routes with a nil destination.
func (m *MockRouteManager) ListDefaultRoutes() ([]*networking.IPRoute, error) {
	m.ListDefaultCalls++
	if m.ListDefaultRoutesFunc != nil {
		return m.ListDefaultRoutesFunc()
	}
	var defaults []*networking.IPRoute
	for _, r := range m.Routes {
		if r.Dst == nil {
			defaults = append(defaults, r)
		}
	}
	return defaults, nil
}

// ListInterfaceRoutes returns the simulated routes on the given interface.
func (m *MockRouteManager) ListInterfaceRoutes(iface *networking.Interface) ([]*networking.IPRoute, error) {
	if m.ListInterfaceRoutesFunc != nil {
		return m.ListInterfaceRoutesFunc(iface)
	}
	var routes []*networking.IPRoute
	for _, r := range m.Routes {
		if r.LinkIndex == iface.Attrs().Index {
			routes = append(routes, r)
		}
	}
	return routes, nil
}

// MockInterfaceProvider is a mock implementation of the InterfaceProvider interface.
type MockInterfaceProvider struct {
	// GetInterfaceFunc is called by GetInterface if not nil
	GetInterfaceFunc func(name string) (*networking.Interface, error)

	// GetInterfaceListFunc is called by GetInterfaceList if not nil
	GetInterfaceListFunc func() ([]networking.Interface, error)

	// Interfaces maps names to interfaces for the default behavior
	Interfaces map[string]*networking.Interface

	// Track calls for verification
	GetInterfaceCalls     int
	GetInterfaceListCalls int
}

// NewMockInterfaceProvider creates a provider pre-populated with the given interfaces.
func NewMockInterfaceProvider(interfaces ...*networking.Interface) *MockInterfaceProvider {
	p := &MockInterfaceProvider{Interfaces: make(map[string]*networking.Interface)}
	for _, iface := range interfaces {
		p.Interfaces[iface.Attrs().Name] = iface
	}
	return p
}

// GetInterface resolves one interface by name.
func (m *MockInterfaceProvider) GetInterface(name string) (*networking.Interface, error) {
	m.GetInterfaceCalls++
	if m.GetInterfaceFunc != nil {
		return m.GetInterfaceFunc(name)
	}
	if iface, ok := m.Interfaces[name]; ok {
		return iface, nil
	}
	return nil, fmt.Errorf("Link not found")
}

// GetInterfaceList returns all registered interfaces.
func (m *MockInterfaceProvider) GetInterfaceList() ([]networking.Interface, error) {
	m.GetInterfaceListCalls++
	if m.GetInterfaceListFunc != nil {
		return m.GetInterfaceListFunc()
	}
	var interfaces []networking.Interface
	for _, iface := range m.Interfaces {
		interfaces = append(interfaces, *iface)
	}
	return interfaces, nil
}

// MockNATManager is a mock implementation of the NATManager interface.
type MockNATManager struct {
	// ApplyForwardingFunc is called by ApplyForwarding if not nil
	ApplyForwardingFunc func(iface string) error

	// RevertForwardingFunc is called by RevertForwarding if not nil
	RevertForwardingFunc func(iface string) error

	// CheckForwardingFunc is called by CheckForwarding if not nil
	CheckForwardingFunc func(iface string) (map[*networking.ForwardingRule]bool, error)

	// Applied tracks which interfaces have forwarding rules installed
	Applied map[string]bool

	// Track calls for verification
	ApplyCalls  int
	RevertCalls int
	CheckCalls  int
}

// NewMockNATManager creates a new mock NAT manager with no rules applied.
func NewMockNATManager() *MockNATManager {
	return &MockNATManager{Applied: make(map[string]bool)}
}

// ApplyForwarding marks the interface's rules installed.
func (m *MockNATManager) ApplyForwarding(iface string) error {
	m.ApplyCalls++
	if m.ApplyForwardingFunc != nil {
		return m.ApplyForwardingFunc(iface)
	}
	m.Applied[iface] = true
	return nil
}

// RevertForwarding marks the interface's rules removed.
func (m *MockNATManager) RevertForwarding(iface string) error {
	m.RevertCalls++
	if m.RevertForwardingFunc != nil {
		return m.RevertForwardingFunc(iface)
	}
	delete(m.Applied, iface)
	return nil
}

// CheckForwarding reports one synthetic rule per interface, present when
// ApplyForwarding ran.
func (m *MockNATManager) CheckForwarding(iface string) (map[*networking.ForwardingRule]bool, error) {
	m.CheckCalls++
	if m.CheckForwardingFunc != nil {
		return m.CheckForwardingFunc(iface)
	}
	rule := &networking.ForwardingRule{
		Table: "nat",
		Chain: "POSTROUTING",
		Rule:  []string{"-o", iface, "-j", "MASQUERADE"},
	}
	return map[*networking.ForwardingRule]bool{rule: m.Applied[iface]}, nil
}

// MockSysctlManager is a mock implementation of the SysctlManager interface.
type MockSysctlManager struct {
	// GetFunc is called by Get if not nil
	GetFunc func(key string) (string, error)

	// SetFunc is called by Set if not nil
	SetFunc func(key, value string) error

	// Values backs the default behavior
	Values map[string]string

	// Track calls for verification
	GetCalls int
	SetCalls int
}

// NewMockSysctlManager creates a sysctl manager seeded with the given values.
func NewMockSysctlManager(values map[string]string) *MockSysctlManager {
	if values == nil {
		values = make(map[string]string)
	}
	return &MockSysctlManager{Values: values}
}

// Get returns the stored value for key.
func (m *MockSysctlManager) Get(key string) (string, error) {
	m.GetCalls++
	if m.GetFunc != nil {
		return m.GetFunc(key)
	}
	if value, ok := m.Values[key]; ok {
		return value, nil
	}
	return "", fmt.Errorf("no such sysctl key: %s", key)
}

// Set stores the value for key.
func (m *MockSysctlManager) Set(key, value string) error {
	m.SetCalls++
	if m.SetFunc != nil {
		return m.SetFunc(key, value)
	}
	m.Values[key] = value
	return nil
}

// SetIfDifferent writes value only when the current value differs.
func (m *MockSysctlManager) SetIfDifferent(key, value string) (bool, error) {
	current, err := m.Get(key)
	if err != nil {
		return false, err
	}
	if current == value {
		return false, nil
	}
	if err := m.Set(key, value); err != nil {
		return false, err
	}
	return true, nil
}
