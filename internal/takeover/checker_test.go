package takeover

import (
	"errors"
	"os"
	"testing"
)

func findState(states []CheckState, component string) *CheckState {
	for i := range states {
		if states[i].Component == component {
			return &states[i]
		}
	}
	return nil
}

func TestChecker_AllPresentAfterActivate(t *testing.T) {
	f := newEngineFixture(t)
	f.activate(t)

	snapshot := f.engine.store.Current()
	checker := NewChecker(f.cfg, f.deps)

	states := checker.Check(snapshot)
	for _, state := range states {
		if !state.OK() {
			t.Errorf("%s (%s): %s", state.Component, state.Description, state.Message())
		}
	}

	direct := findState(states, "dns-direct")
	if direct == nil || !direct.ShouldExist || !direct.Exists {
		t.Errorf("dns-direct state = %+v, want present and expected", direct)
	}
	managed := findState(states, "dns-managed")
	if managed == nil || managed.ShouldExist || managed.Exists {
		t.Errorf("dns-managed state = %+v, want absent on a direct-backend host", managed)
	}
	for _, component := range []string{"bypass-route", "tunnel-route", "forwarding", "sysctl"} {
		if findState(states, component) == nil {
			t.Errorf("no %s state reported", component)
		}
	}
}

func TestChecker_ReportsMissingRoute(t *testing.T) {
	f := newEngineFixture(t)
	f.activate(t)

	snapshot := f.engine.store.Current()

	// Something outside our control removed the bypass route.
	guard := f.engine.guard
	if err := guard.Remove(); err != nil {
		t.Fatal(err)
	}

	states := NewChecker(f.cfg, f.deps).Check(snapshot)
	bypass := findState(states, "bypass-route")
	if bypass == nil {
		t.Fatal("no bypass-route state reported")
	}
	if bypass.OK() {
		t.Error("bypass-route reported OK after removal")
	}
	if got := bypass.Message(); got != "MISSING" {
		t.Errorf("bypass-route message = %q, want MISSING", got)
	}
}

func TestChecker_ReportsDegradedSysctl(t *testing.T) {
	f := newEngineFixture(t)
	f.activate(t)

	snapshot := f.engine.store.Current()
	f.sysctl.Values["net.ipv4.ip_forward"] = "0"

	states := NewChecker(f.cfg, f.deps).Check(snapshot)
	var flagged bool
	for _, state := range states {
		if state.Component == "sysctl" && !state.OK() {
			flagged = true
		}
	}
	if !flagged {
		t.Error("no sysctl state flagged the reset ip_forward")
	}
}

func TestChecker_ReportsLeftoverOverride(t *testing.T) {
	f := newEngineFixture(t)
	f.activate(t)
	if err := f.engine.Deactivate(); err != nil {
		t.Fatal(err)
	}

	// A takeover-header resolver file with no snapshot is a leftover.
	if err := os.WriteFile(f.resolvConf, []byte(directHeader+"nameserver 8.8.8.8\n"), 0644); err != nil {
		t.Fatal(err)
	}

	states := NewChecker(f.cfg, f.deps).Check(nil)
	direct := findState(states, "dns-direct")
	if direct == nil {
		t.Fatal("no dns-direct state reported")
	}
	if direct.OK() {
		t.Error("leftover resolver takeover reported OK")
	}
	if got := direct.Message(); got != "present but should NOT be (leftover)" {
		t.Errorf("dns-direct message = %q", got)
	}
}

func TestChecker_CleanHostWithoutSnapshot(t *testing.T) {
	f := newEngineFixture(t)

	states := NewChecker(f.cfg, f.deps).Check(nil)
	if len(states) != 2 {
		t.Fatalf("got %d states for a clean host, want the two DNS absence checks", len(states))
	}
	for _, state := range states {
		if !state.OK() {
			t.Errorf("%s: %s", state.Component, state.Message())
		}
		if got := state.Message(); got != "absent" {
			t.Errorf("%s message = %q, want absent", state.Component, got)
		}
	}
}

func TestCheckState_Message(t *testing.T) {
	tests := []struct {
		name  string
		state CheckState
		want  string
		ok    bool
	}{
		{"present and expected", CheckState{Exists: true, ShouldExist: true}, "present", true},
		{"missing", CheckState{Exists: false, ShouldExist: true}, "MISSING", false},
		{"leftover", CheckState{Exists: true, ShouldExist: false}, "present but should NOT be (leftover)", false},
		{"absent", CheckState{Exists: false, ShouldExist: false}, "absent", true},
		{"check error", CheckState{Err: errors.New("netlink: no permission")}, "error checking: netlink: no permission", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Message(); got != tt.want {
				t.Errorf("Message() = %q, want %q", got, tt.want)
			}
			if got := tt.state.OK(); got != tt.ok {
				t.Errorf("OK() = %v, want %v", got, tt.ok)
			}
		})
	}
}
