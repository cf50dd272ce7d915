package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vpnshift/vpnshift/internal/config"
	apperrors "github.com/vpnshift/vpnshift/internal/errors"
)

// mockHealer records self-heal calls for verification.
type mockHealer struct {
	mu             sync.Mutex
	healDNSFunc    func() error
	healRoutesFunc func() error
	dnsCalls       int
	routeCalls     int
}

func (h *mockHealer) HealDNS() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dnsCalls++
	if h.healDNSFunc != nil {
		return h.healDNSFunc()
	}
	return nil
}

func (h *mockHealer) HealRoutes() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.routeCalls++
	if h.healRoutesFunc != nil {
		return h.healRoutesFunc()
	}
	return nil
}

func (h *mockHealer) calls() (dns, routes int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dnsCalls, h.routeCalls
}

func newTestMonitor(threshold int, healer Healer) *Monitor {
	return &Monitor{
		healer:     healer,
		interval:   10 * time.Millisecond,
		threshold:  threshold,
		state:      StateHealthy,
		checkDNS:   func(context.Context) error { return nil },
		checkReach: func(context.Context) error { return nil },
	}
}

func TestNewMonitor_ConfigWiring(t *testing.T) {
	cfg := &config.Config{
		DNS: &config.DNSConfig{Resolvers: []string{"10.0.0.53"}},
		Health: &config.HealthConfig{
			IntervalSeconds:  30,
			FailureThreshold: 3,
			CheckDomain:      "connectivity-check.vpnshift.io",
			CheckAddress:     "1.1.1.1:443",
		},
	}

	m := NewMonitor(cfg, &mockHealer{})
	if m.interval != 30*time.Second {
		t.Errorf("interval = %s, want 30s", m.interval)
	}
	if m.threshold != 3 {
		t.Errorf("threshold = %d, want 3", m.threshold)
	}
	if m.IsRunning() {
		t.Error("new monitor reports running")
	}
	if got := m.Status().State; got != StateHealthy {
		t.Errorf("initial state = %s, want %s", got, StateHealthy)
	}
}

func TestMonitor_DegradesAfterThreshold(t *testing.T) {
	healer := &mockHealer{}
	m := newTestMonitor(3, healer)

	dnsDown := true
	m.checkDNS = func(context.Context) error {
		if dnsDown {
			return apperrors.NewDNSError("DNS check for connectivity-check.vpnshift.io failed", nil)
		}
		return nil
	}

	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		m.tick(ctx)
		status := m.Status()
		if status.State != StateHealthy {
			t.Fatalf("state after %d failures = %s, want still healthy below the threshold", i, status.State)
		}
		if status.ConsecutiveFailures != i {
			t.Errorf("failures = %d, want %d", status.ConsecutiveFailures, i)
		}
		if d, _ := healer.calls(); d != 0 {
			t.Fatalf("self-heal ran below the threshold (%d calls)", d)
		}
	}

	m.tick(ctx)
	status := m.Status()
	if status.State != StateDegraded {
		t.Fatalf("state after 3 failures = %s, want %s", status.State, StateDegraded)
	}
	if status.LastDNSError == "" {
		t.Error("LastDNSError empty after a failing check")
	}
	if status.LastCheckedAt.IsZero() {
		t.Error("LastCheckedAt not recorded")
	}
	if d, _ := healer.calls(); d != 1 {
		t.Errorf("self-heal passes = %d, want exactly 1 at the threshold", d)
	}

	// The first passing check flips back regardless of history.
	dnsDown = false
	m.tick(ctx)
	status = m.Status()
	if status.State != StateHealthy {
		t.Errorf("state after recovery = %s, want %s", status.State, StateHealthy)
	}
	if status.ConsecutiveFailures != 0 {
		t.Errorf("failures after recovery = %d, want 0", status.ConsecutiveFailures)
	}
	if status.LastDNSError != "" {
		t.Errorf("LastDNSError after recovery = %q, want empty", status.LastDNSError)
	}
}

func TestMonitor_HealTargetsFailedCheck(t *testing.T) {
	dnsErr := apperrors.NewDNSError("resolver unreachable", nil)
	reachErr := apperrors.NewHealthTimeoutError("reachability check timed out", nil)

	tests := []struct {
		name       string
		dnsErr     error
		reachErr   error
		wantDNS    int
		wantRoutes int
	}{
		{"dns failure heals dns only", dnsErr, nil, 1, 0},
		{"reachability failure heals routes only", nil, reachErr, 0, 1},
		{"both failures heal both", dnsErr, reachErr, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			healer := &mockHealer{}
			m := newTestMonitor(1, healer)
			m.checkDNS = func(context.Context) error { return tt.dnsErr }
			m.checkReach = func(context.Context) error { return tt.reachErr }

			m.tick(context.Background())

			d, r := healer.calls()
			if d != tt.wantDNS || r != tt.wantRoutes {
				t.Errorf("heal calls = (dns %d, routes %d), want (dns %d, routes %d)",
					d, r, tt.wantDNS, tt.wantRoutes)
			}
		})
	}
}

func TestMonitor_HealRetriedWhileDegraded(t *testing.T) {
	healer := &mockHealer{
		healDNSFunc: func() error { return errors.New("resolver file is immutable") },
	}
	m := newTestMonitor(1, healer)
	m.checkDNS = func(context.Context) error {
		return apperrors.NewHealthTimeoutError("DNS check timed out", nil)
	}

	for i := 0; i < 3; i++ {
		m.tick(context.Background())
	}

	status := m.Status()
	if status.State != StateDegraded {
		t.Errorf("state = %s, want %s", status.State, StateDegraded)
	}
	if status.ConsecutiveFailures != 3 {
		t.Errorf("failures = %d, want 3", status.ConsecutiveFailures)
	}
	if d, _ := healer.calls(); d != 3 {
		t.Errorf("heal passes = %d, want one per failing tick", d)
	}
}

func TestMonitor_SelfHealConvergence(t *testing.T) {
	var flagMu sync.Mutex
	dnsBroken := true

	healer := &mockHealer{}
	m := newTestMonitor(1, healer)

	var stateWhenHealed State
	m.checkDNS = func(context.Context) error {
		flagMu.Lock()
		defer flagMu.Unlock()
		if dnsBroken {
			return apperrors.NewHealthTimeoutError("DNS check for connectivity-check.vpnshift.io timed out", nil)
		}
		return nil
	}
	healer.healDNSFunc = func() error {
		stateWhenHealed = m.Status().State
		flagMu.Lock()
		dnsBroken = false
		flagMu.Unlock()
		return nil
	}

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		status := m.Status()
		dnsHeals, _ := healer.calls()
		if status.State == StateHealthy && dnsHeals > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("monitor did not converge: state=%s heals=%d", status.State, dnsHeals)
		}
		time.Sleep(2 * time.Millisecond)
	}

	healer.mu.Lock()
	healedDuring := stateWhenHealed
	healer.mu.Unlock()
	if healedDuring != StateDegraded {
		t.Errorf("self-heal ran in state %s, want %s", healedDuring, StateDegraded)
	}

	// One pass fixed the drift; healthy ticks must not heal again.
	time.Sleep(5 * m.interval)
	if dnsHeals, _ := healer.calls(); dnsHeals != 1 {
		t.Errorf("heal passes = %d, want exactly 1", dnsHeals)
	}
}

func TestMonitor_StopWaitsForInFlightCheck(t *testing.T) {
	m := newTestMonitor(1, &mockHealer{})
	m.interval = 5 * time.Millisecond

	entered := make(chan struct{})
	var once sync.Once
	var finished atomic.Bool
	m.checkDNS = func(context.Context) error {
		once.Do(func() { close(entered) })
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		return nil
	}

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	<-entered
	m.Stop()

	if !finished.Load() {
		t.Error("Stop returned while a check was still in flight")
	}
	if m.IsRunning() {
		t.Error("monitor reports running after Stop")
	}
}

func TestMonitor_StartTwice(t *testing.T) {
	m := newTestMonitor(1, &mockHealer{})
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	if err := m.Start(); err == nil {
		t.Error("second Start succeeded")
	}
}

func TestMonitor_StopIsIdempotent(t *testing.T) {
	m := newTestMonitor(1, &mockHealer{})
	m.Stop()

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	m.Stop()
	m.Stop()

	if m.IsRunning() {
		t.Error("monitor reports running after Stop")
	}
}

func TestMonitor_RunBlocksUntilCancelled(t *testing.T) {
	m := newTestMonitor(1, &mockHealer{})

	ctx, cancel := context.WithCancel(context.Background())
	returned := make(chan error, 1)
	go func() { returned <- m.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !m.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("monitor never reported running")
		}
		time.Sleep(time.Millisecond)
	}

	if err := m.Run(ctx); err == nil {
		t.Error("concurrent Run succeeded")
	}

	cancel()
	select {
	case err := <-returned:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if m.IsRunning() {
		t.Error("monitor reports running after Run returned")
	}
}
