package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vpnshift/vpnshift/internal/config"
	"github.com/vpnshift/vpnshift/internal/log"
)

// Healer reapplies drifted takeover state. The takeover engine implements
// it; the monitor itself never learns about routes or resolver files.
type Healer interface {
	HealDNS() error
	HealRoutes() error
}

// State is the monitor's drift verdict.
type State string

const (
	// StateHealthy means the last checks passed (or none ran yet).
	StateHealthy State = "healthy"
	// StateDegraded means the failure threshold was crossed and self-heal
	// passes are running.
	StateDegraded State = "degraded"
)

// Status is a point-in-time view of the monitor for the status command and
// the HTTP API.
type Status struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastCheckedAt       time.Time `json:"last_checked_at"`
	LastDNSError        string    `json:"last_dns_error,omitempty"`
	LastReachError      string    `json:"last_reachability_error,omitempty"`
}

// Monitor runs periodic drift checks in a single goroutine. Ticks never
// overlap: each check runs inline in the loop, so Stop only has to cancel
// and wait for the current tick to finish.
type Monitor struct {
	mu       sync.Mutex
	healer   Healer
	interval time.Duration

	threshold int

	// Injectable for tests. Default to CheckDNS against the first applied
	// resolver and CheckTCP against the configured address.
	checkDNS   func(ctx context.Context) error
	checkReach func(ctx context.Context) error

	state        State
	failures     int
	lastDNSErr   error
	lastReachErr error
	lastChecked  time.Time

	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewMonitor creates a monitor for the applied takeover described by cfg.
// The DNS probe targets the first applied resolver since that is the one
// every lookup on the host now depends on.
func NewMonitor(cfg *config.Config, healer Healer) *Monitor {
	resolver := cfg.DNS.Resolvers[0]
	hc := cfg.Health

	m := &Monitor{
		healer:    healer,
		interval:  time.Duration(hc.IntervalSeconds) * time.Second,
		threshold: hc.FailureThreshold,
		state:     StateHealthy,
	}
	m.checkDNS = func(ctx context.Context) error {
		return CheckDNS(ctx, resolver, hc.CheckDomain)
	}
	m.checkReach = func(ctx context.Context) error {
		return CheckTCP(ctx, hc.CheckAddress)
	}
	return m
}

// Run executes the check loop until ctx is cancelled, blocking the caller.
// It is the supervisable form of Start/Stop: the caller owns the goroutine
// and the context.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("health monitor is already running")
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	log.Infof("Health monitor started (interval: %s, failure threshold: %d)", m.interval, m.threshold)
	m.loop(ctx)
	return nil
}

// Start launches the check loop in a goroutine. Use Run instead when an
// outer supervisor manages the goroutine.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("health monitor is already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go func() {
		defer close(m.done)
		m.loop(ctx)
	}()

	log.Infof("Health monitor started (interval: %s, failure threshold: %d)", m.interval, m.threshold)
	return nil
}

// Stop cancels a loop launched by Start and waits for it to finish. Safe to
// call when the monitor never started. Every check carries its own short
// deadline, so the wait is bounded without a timeout here. Loops driven
// through Run are stopped by cancelling their context, not by Stop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running || m.cancel == nil {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	<-done
	log.Infof("Health monitor stopped")
}

// IsRunning reports whether the check loop is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Status returns the current drift verdict and last check results.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{
		State:               m.state,
		ConsecutiveFailures: m.failures,
		LastCheckedAt:       m.lastChecked,
	}
	if m.lastDNSErr != nil {
		status.LastDNSError = m.lastDNSErr.Error()
	}
	if m.lastReachErr != nil {
		status.LastReachError = m.lastReachErr.Error()
	}
	return status
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debugf("Health monitor loop cancelled")
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick runs both checks and advances the state machine. Healthy flips to
// degraded after threshold consecutive failing ticks; every failing tick at
// or past the threshold runs one self-heal pass targeting whichever check
// failed; the first passing tick flips back to healthy.
func (m *Monitor) tick(ctx context.Context) {
	dnsErr := m.checkDNS(ctx)
	reachErr := m.checkReach(ctx)

	m.mu.Lock()
	m.lastDNSErr = dnsErr
	m.lastReachErr = reachErr
	m.lastChecked = time.Now()

	if dnsErr == nil && reachErr == nil {
		if m.state == StateDegraded {
			log.Infof("Health checks passing again after %d failures, back to healthy", m.failures)
		}
		m.state = StateHealthy
		m.failures = 0
		m.mu.Unlock()
		return
	}

	m.failures++
	failures := m.failures
	if dnsErr != nil {
		log.Warnf("DNS health check failed (%d/%d): %v", failures, m.threshold, dnsErr)
	}
	if reachErr != nil {
		log.Warnf("Reachability health check failed (%d/%d): %v", failures, m.threshold, reachErr)
	}

	if failures < m.threshold {
		m.mu.Unlock()
		return
	}
	if m.state != StateDegraded {
		m.state = StateDegraded
		log.Errorf("Health degraded after %d consecutive failures, starting self-heal", failures)
	}
	m.mu.Unlock()

	// Heal outside the lock: the healer takes the engine's own lock and
	// Status must stay readable during a heal pass.
	m.heal(dnsErr != nil, reachErr != nil)
}

// heal reapplies exactly the configuration whose check failed.
func (m *Monitor) heal(dnsBroken, reachBroken bool) {
	if dnsBroken {
		if err := m.healer.HealDNS(); err != nil {
			log.Errorf("DNS self-heal failed: %v", err)
		} else {
			log.Infof("DNS configuration reapplied")
		}
	}
	if reachBroken {
		if err := m.healer.HealRoutes(); err != nil {
			log.Errorf("Route self-heal failed: %v", err)
		} else {
			log.Infof("Routes and packet filters reapplied")
		}
	}
}
