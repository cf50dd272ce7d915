// Package takeover captures the host network state, redirects default
// routing and DNS through an established VPN tunnel, and restores the
// original state afterwards.
//
// The package is organized around small single-purpose components
// (StateInspector, SnapshotStore, LoopGuard, RouteInstaller, the DNS
// configurators and SystemTuner) that the Engine sequences. Every mutating
// step records what it applied in the NetworkSnapshot before the next step
// runs, so a crash mid-takeover can always be repaired from disk.
package takeover
