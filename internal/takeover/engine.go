package takeover

import (
	"context"
	"sync"
	"time"

	"github.com/vpnshift/vpnshift/internal/config"
	"github.com/vpnshift/vpnshift/internal/domain"
	apperrors "github.com/vpnshift/vpnshift/internal/errors"
	"github.com/vpnshift/vpnshift/internal/log"
)

// Engine sequences the takeover lifecycle. All entry points share one mutex,
// so activation, restoration and self-heal passes never interleave; the
// exclusive snapshot file extends the same guarantee across processes.
type Engine struct {
	mu sync.Mutex

	cfg       *config.Config
	store     *SnapshotStore
	inspector *StateInspector
	guard     *LoopGuard
	routes    *RouteInstaller
	tuner     *SystemTuner

	// dns is bound to the snapshot's backend kind during Activate or when
	// a persisted snapshot is loaded, never re-detected at revert time.
	dns DNSConfigurator

	active bool
}

// NewEngine creates an engine over the given config and dependencies.
func NewEngine(cfg *config.Config, deps *domain.AppDependencies) *Engine {
	return &Engine{
		cfg:       cfg,
		store:     NewSnapshotStore(cfg.GetAbsSnapshotPath()),
		inspector: NewStateInspector(cfg, deps),
		guard:     NewLoopGuard(deps),
		routes:    NewRouteInstaller(deps),
		tuner:     NewSystemTuner(deps),
	}
}

// Activate inspects the host, captures the snapshot and applies the
// takeover steps in order: bypass route, tunnel routes, DNS, system tuning.
// The snapshot file is rewritten after every mutating step, so at any crash
// point the disk describes exactly what has been applied. A failed step
// triggers a best-effort unwind of the previous ones.
func (e *Engine) Activate(ctx context.Context, endpoint *TunnelEndpoint) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active {
		return apperrors.NewAlreadyActiveError("takeover already active")
	}

	inspection, err := e.inspector.Inspect(endpoint)
	if err != nil {
		return err
	}

	snapshot, err := e.store.Capture(inspection, endpoint, e.cfg.DNS.ResolvConf)
	if err != nil {
		return err
	}
	if err := e.store.Persist(snapshot); err != nil {
		// Not ours to unwind: a pre-existing file belongs to another
		// lifecycle, possibly a crashed one awaiting repair.
		e.store.Reset()
		return err
	}

	e.dns = NewDNSConfigurator(snapshot.DNSBackend, e.cfg)

	if err := e.guard.Install(ctx, endpoint, snapshot); err != nil {
		return e.abort(snapshot, err)
	}
	if err := e.store.Update(snapshot); err != nil {
		return e.abort(snapshot, err)
	}

	policy, err := e.routes.BuildPolicy(endpoint, inspection)
	if err != nil {
		return e.abort(snapshot, err)
	}
	if err := e.routes.Apply(policy, snapshot); err != nil {
		return e.abort(snapshot, err)
	}
	if err := e.store.Update(snapshot); err != nil {
		return e.abort(snapshot, err)
	}

	dnsPolicy := e.dnsPolicy(endpoint)
	if err := e.dns.Apply(dnsPolicy); err != nil {
		return e.abort(snapshot, err)
	}
	snapshot.AppliedResolvers = dnsPolicy.Resolvers
	snapshot.DNSScope = dnsPolicy.Scope
	if e.dns.Kind() == BackendManaged {
		snapshot.OverrideInstalled = true
	}
	if err := e.store.Update(snapshot); err != nil {
		return e.abort(snapshot, err)
	}

	if err := e.tuner.Apply(endpoint, snapshot); err != nil {
		return e.abort(snapshot, err)
	}
	if err := e.store.Update(snapshot); err != nil {
		return e.abort(snapshot, err)
	}

	e.active = true
	log.Infof("Network takeover active: default traffic now flows through %s", endpoint.Interface)
	return nil
}

// abort unwinds a partially applied takeover after a failed step. The
// step's error is returned either way; the snapshot is only discarded when
// the unwind came back clean, otherwise it stays on disk for a later
// deactivate to repair.
func (e *Engine) abort(snapshot *NetworkSnapshot, cause error) error {
	log.Errorf("Takeover failed, unwinding applied steps: %v", cause)

	restorer := NewRestorer(e.tuner, e.dns, e.routes, e.guard)
	if err := restorer.RevertAll(snapshot); err != nil {
		log.Errorf("Unwind after failed takeover incomplete, snapshot kept: %v", err)
		return cause
	}
	if err := e.store.Discard(); err != nil {
		log.Errorf("Failed to discard snapshot after unwind: %v", err)
	}
	e.dns = nil
	return cause
}

// Deactivate restores the original network state and discards the snapshot.
// It works both in the process that activated (live tracked state) and in a
// fresh process (state rebuilt from the persisted snapshot). With no
// snapshot anywhere there is nothing to do and Deactivate returns nil.
func (e *Engine) Deactivate() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := e.store.Current()
	if snapshot == nil {
		loaded, err := e.store.Load()
		if err != nil {
			return err
		}
		if loaded == nil {
			log.Infof("No active takeover found, nothing to restore")
			return nil
		}
		snapshot = loaded
		e.restoreTracking(snapshot)
	}
	if e.dns == nil {
		e.dns = NewDNSConfigurator(snapshot.DNSBackend, e.cfg)
	}

	restorer := NewRestorer(e.tuner, e.dns, e.routes, e.guard)
	if err := restorer.RevertAll(snapshot); err != nil {
		return err
	}
	if err := e.store.Discard(); err != nil {
		return err
	}

	e.active = false
	e.dns = nil
	log.Infof("Original network state restored")
	return nil
}

// Recover reverts the leftovers of a crashed takeover found on disk.
// Returns whether a stale snapshot was found and cleaned up.
func (e *Engine) Recover() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active {
		return false, apperrors.NewAlreadyActiveError("takeover is active, refusing to recover")
	}

	snapshot, err := e.store.Load()
	if err != nil {
		return false, err
	}
	if snapshot == nil {
		return false, nil
	}

	log.Warnf("Found stale snapshot %s captured at %s, restoring original state",
		snapshot.ID, snapshot.CapturedAt.Format(time.RFC3339))
	e.restoreTracking(snapshot)
	e.dns = NewDNSConfigurator(snapshot.DNSBackend, e.cfg)

	restorer := NewRestorer(e.tuner, e.dns, e.routes, e.guard)
	if err := restorer.RevertAll(snapshot); err != nil {
		return false, err
	}
	if err := e.store.Discard(); err != nil {
		return false, err
	}

	e.dns = nil
	return true, nil
}

// restoreTracking rebuilds component-tracked state from a loaded snapshot
// so restoration can run in a process that did not apply the takeover.
func (e *Engine) restoreTracking(snapshot *NetworkSnapshot) {
	e.guard.RestoreFromSnapshot(snapshot)
	e.routes.RestoreFromSnapshot(snapshot)
}

// TakeoverStatus is a point-in-time view of the takeover lifecycle. Active
// follows the snapshot: a snapshot on disk means applied state, whether or
// not this process applied it.
type TakeoverStatus struct {
	Active   bool             `json:"active"`
	Snapshot *NetworkSnapshot `json:"snapshot,omitempty"`
}

// Status reports the current lifecycle state.
func (e *Engine) Status() (*TakeoverStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := e.store.Current()
	if snapshot == nil {
		loaded, err := e.store.Load()
		if err != nil {
			return nil, err
		}
		snapshot = loaded
	}

	return &TakeoverStatus{
		Active:   snapshot != nil,
		Snapshot: snapshot,
	}, nil
}

// HealDNS re-applies the DNS policy recorded in the live snapshot. The
// health monitor calls this when resolution breaks while the takeover is
// up; a no-op when nothing is active.
func (e *Engine) HealDNS() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active || e.dns == nil {
		return nil
	}
	snapshot := e.store.Current()
	if snapshot == nil {
		return nil
	}

	log.Infof("Re-applying DNS takeover")
	return e.dns.Apply(&DNSPolicy{
		Resolvers: snapshot.AppliedResolvers,
		Scope:     snapshot.DNSScope,
		Interface: snapshot.TunnelInterface,
	})
}

// HealRoutes re-installs the tunnel routes and the reverse-path filter
// relaxation if any of them went missing. Uses the same idempotent
// primitives as Activate. The bypass route is not touched: it does not
// drift from the causes the monitor watches for.
func (e *Engine) HealRoutes() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active {
		return nil
	}

	log.Infof("Re-applying takeover routes")
	if err := e.routes.Reapply(); err != nil {
		return err
	}
	return e.tuner.Reapply()
}

func (e *Engine) dnsPolicy(endpoint *TunnelEndpoint) *DNSPolicy {
	return &DNSPolicy{
		Resolvers: e.cfg.DNS.Resolvers,
		Scope:     e.cfg.DNS.Scope,
		Interface: endpoint.Interface,
	}
}
