package mocks

import (
	"context"
	"fmt"
	"net"
)

// MockResolver is a mock implementation of the HostResolver interface.
type MockResolver struct {
	// LookupIPFunc is called by LookupIP if not nil
	LookupIPFunc func(ctx context.Context, network, host string) ([]net.IP, error)

	// Addrs maps hostnames to answers for the default behavior
	Addrs map[string][]net.IP

	// Track calls for verification
	LookupIPCalls int
}

// NewMockResolver creates a resolver answering from the given host map.
func NewMockResolver(addrs map[string][]net.IP) *MockResolver {
	if addrs == nil {
		addrs = make(map[string][]net.IP)
	}
	return &MockResolver{Addrs: addrs}
}

// LookupIP returns the registered answers for host.
func (m *MockResolver) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	m.LookupIPCalls++
	if m.LookupIPFunc != nil {
		return m.LookupIPFunc(ctx, network, host)
	}
	if ips, ok := m.Addrs[host]; ok {
		return ips, nil
	}
	return nil, fmt.Errorf("lookup %s: no such host", host)
}
