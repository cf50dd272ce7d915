package takeover

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vpnshift/vpnshift/internal/config"
	"github.com/vpnshift/vpnshift/internal/domain"
	apperrors "github.com/vpnshift/vpnshift/internal/errors"
	"github.com/vpnshift/vpnshift/internal/mocks"
	"github.com/vpnshift/vpnshift/internal/networking"
)

const originalResolvConf = "# local config\nnameserver 192.168.1.1\n"

// engineFixture is a complete engine over mocks with the host in its
// pre-takeover shape: one default route via eth0, a plain resolver file.
type engineFixture struct {
	cfg          *config.Config
	deps         *domain.AppDependencies
	routes       *mocks.MockRouteManager
	nat          *mocks.MockNATManager
	sysctl       *mocks.MockSysctlManager
	engine       *Engine
	resolvConf   string
	snapshotPath string
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	dir := t.TempDir()

	eth0 := mocks.NewInterface(1, "eth0")
	vpnse0 := mocks.NewInterface(2, "vpnse0")
	ifaces := mocks.NewMockInterfaceProvider(eth0, vpnse0)

	routes := mocks.NewMockRouteManager()
	routes.Routes = []*networking.IPRoute{
		networking.BuildDefaultRoute(eth0, net.ParseIP("192.168.1.1"), 100),
	}

	nat := mocks.NewMockNATManager()
	sysctl := mocks.NewMockSysctlManager(strictSysctls())
	deps := domain.NewTestDependencies(routes, ifaces, nat, sysctl, mocks.NewMockResolver(nil))

	resolvConf := filepath.Join(dir, "resolv.conf")
	if err := os.WriteFile(resolvConf, []byte(originalResolvConf), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Server: &config.ServerConfig{Host: "1.2.3.4", Port: 443},
		Tunnel: &config.TunnelConfig{Interface: "vpnse0", LocalIP: "10.0.0.2", Gateway: "10.0.0.1", MTU: 1500},
		DNS: &config.DNSConfig{
			Resolvers:         []string{"8.8.8.8", "8.8.4.4"},
			Scope:             config.ScopeAll,
			ResolvConf:        resolvConf,
			BackupPath:        filepath.Join(dir, "resolv.conf.backup"),
			ResolvedRunDir:    filepath.Join(dir, "run"),
			ResolvedDropInDir: filepath.Join(dir, "resolved.conf.d"),
		},
		Snapshot: &config.SnapshotConfig{Path: filepath.Join(dir, "snapshot.json")},
	}

	f := &engineFixture{
		cfg:          cfg,
		deps:         deps,
		routes:       routes,
		nat:          nat,
		sysctl:       sysctl,
		resolvConf:   resolvConf,
		snapshotPath: cfg.Snapshot.Path,
	}
	f.engine = f.newEngine()
	return f
}

// newEngine builds an engine over the fixture's mocks with the platform
// probes neutralized.
func (f *engineFixture) newEngine() *Engine {
	engine := NewEngine(f.cfg, f.deps)
	engine.inspector.discoverGateway = func() (net.IP, error) { return nil, fmt.Errorf("no gateway") }
	engine.inspector.ifaceIPv4Net = func(*networking.Interface) (*net.IPNet, error) { return nil, fmt.Errorf("no address") }
	return engine
}

func (f *engineFixture) activate(t *testing.T) {
	t.Helper()
	if err := f.engine.Activate(context.Background(), EndpointFromConfig(f.cfg)); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
}

func (f *engineFixture) readResolvConf(t *testing.T) string {
	t.Helper()
	content, err := os.ReadFile(f.resolvConf)
	if err != nil {
		t.Fatal(err)
	}
	return string(content)
}

func TestEngine_ActivateAppliesEverything(t *testing.T) {
	f := newEngineFixture(t)
	f.activate(t)

	// Pre-existing default + bypass + tunnel default.
	if len(f.routes.Routes) != 3 {
		t.Fatalf("route table has %d routes, want 3", len(f.routes.Routes))
	}

	var bypass, tunnelDefault *networking.IPRoute
	for _, route := range f.routes.Routes {
		switch {
		case route.Dst != nil && route.Dst.String() == "1.2.3.4/32":
			bypass = route
		case route.Dst == nil && route.LinkIndex == 2:
			tunnelDefault = route
		}
	}
	if bypass == nil {
		t.Fatal("bypass route not installed")
	}
	if !bypass.Gw.Equal(net.ParseIP("192.168.1.1")) || bypass.LinkIndex != 1 {
		t.Errorf("bypass route = %+v, want via the original gateway on eth0", bypass.Route)
	}
	if tunnelDefault == nil {
		t.Fatal("tunnel default route not installed")
	}
	if !tunnelDefault.Gw.Equal(net.ParseIP("10.0.0.1")) {
		t.Errorf("tunnel default Gw = %v, want 10.0.0.1", tunnelDefault.Gw)
	}
	if tunnelDefault.Priority != 50 {
		t.Errorf("tunnel default metric = %d, want 50 to outrank the pre-existing 100", tunnelDefault.Priority)
	}

	if !strings.HasPrefix(f.readResolvConf(t), directHeader) {
		t.Error("resolver file not taken over")
	}
	if !f.nat.Applied["vpnse0"] {
		t.Error("forwarding rules not applied")
	}
	if f.sysctl.Values[networking.SysctlIPForward] != "1" {
		t.Error("ip_forward not enabled")
	}

	if _, err := os.Stat(f.snapshotPath); err != nil {
		t.Errorf("snapshot file not persisted: %v", err)
	}

	status, err := f.engine.Status()
	if err != nil {
		t.Fatal(err)
	}
	if !status.Active || status.Snapshot == nil {
		t.Errorf("status = %+v, want active with a snapshot", status)
	}
	if status.Snapshot.RoutePolicy.Kind != RouteKindFullDefault {
		t.Errorf("recorded policy kind = %s", status.Snapshot.RoutePolicy.Kind)
	}
}

func TestEngine_SecondActivateRejected(t *testing.T) {
	f := newEngineFixture(t)
	f.activate(t)

	routesBefore := len(f.routes.Routes)
	resolvBefore := f.readResolvConf(t)

	err := f.engine.Activate(context.Background(), EndpointFromConfig(f.cfg))
	if err == nil {
		t.Fatal("second Activate succeeded")
	}
	if code := apperrors.CodeOf(err); code != apperrors.ErrCodeAlreadyActive {
		t.Errorf("error code = %s, want %s", code, apperrors.ErrCodeAlreadyActive)
	}

	if len(f.routes.Routes) != routesBefore {
		t.Errorf("route table changed: %d -> %d routes", routesBefore, len(f.routes.Routes))
	}
	if f.readResolvConf(t) != resolvBefore {
		t.Error("resolver file changed by the rejected Activate")
	}
}

func TestEngine_SecondActivateRejectedAcrossProcesses(t *testing.T) {
	f := newEngineFixture(t)
	f.activate(t)

	routesBefore := len(f.routes.Routes)
	resolvBefore := f.readResolvConf(t)

	// A second process sees the snapshot file and backs off before
	// touching anything.
	second := f.newEngine()
	err := second.Activate(context.Background(), EndpointFromConfig(f.cfg))
	if !errors.Is(err, ErrAlreadyCaptured) {
		t.Fatalf("second process Activate = %v, want ErrAlreadyCaptured", err)
	}

	if len(f.routes.Routes) != routesBefore {
		t.Errorf("route table changed: %d -> %d routes", routesBefore, len(f.routes.Routes))
	}
	if f.readResolvConf(t) != resolvBefore {
		t.Error("resolver file changed by the rejected Activate")
	}
}

func TestEngine_DeactivateRestoresEverything(t *testing.T) {
	f := newEngineFixture(t)
	f.activate(t)

	if err := f.engine.Deactivate(); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}

	if len(f.routes.Routes) != 1 {
		t.Errorf("route table has %d routes after restore, want the pre-existing default only", len(f.routes.Routes))
	}
	if got := f.readResolvConf(t); got != originalResolvConf {
		t.Errorf("resolver file = %q, want the exact original bytes", got)
	}
	if f.nat.Applied["vpnse0"] {
		t.Error("forwarding rules still applied")
	}
	if _, err := os.Stat(f.snapshotPath); !os.IsNotExist(err) {
		t.Error("snapshot file still present after restore")
	}

	status, err := f.engine.Status()
	if err != nil {
		t.Fatal(err)
	}
	if status.Active {
		t.Error("status still active after restore")
	}
}

func TestEngine_DeactivateWithoutActivate(t *testing.T) {
	f := newEngineFixture(t)

	if err := f.engine.Deactivate(); err != nil {
		t.Errorf("Deactivate with nothing active failed: %v", err)
	}
}

func TestEngine_DeactivateFromFreshProcess(t *testing.T) {
	f := newEngineFixture(t)
	f.activate(t)

	// A fresh process rebuilds its view from the snapshot file.
	second := f.newEngine()
	if err := second.Deactivate(); err != nil {
		t.Fatalf("Deactivate from a fresh process failed: %v", err)
	}

	if len(f.routes.Routes) != 1 {
		t.Errorf("route table has %d routes after restore, want 1", len(f.routes.Routes))
	}
	if got := f.readResolvConf(t); got != originalResolvConf {
		t.Errorf("resolver file = %q, want the exact original bytes", got)
	}
	if _, err := os.Stat(f.snapshotPath); !os.IsNotExist(err) {
		t.Error("snapshot file still present after restore")
	}
}

func TestEngine_RecoverCleansStaleSnapshot(t *testing.T) {
	f := newEngineFixture(t)
	f.activate(t)

	// The activating process crashed; a new one recovers on startup.
	second := f.newEngine()
	recovered, err := second.Recover()
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if !recovered {
		t.Fatal("Recover found nothing to clean up")
	}

	if len(f.routes.Routes) != 1 {
		t.Errorf("route table has %d routes after recovery, want 1", len(f.routes.Routes))
	}
	if got := f.readResolvConf(t); got != originalResolvConf {
		t.Errorf("resolver file = %q, want the exact original bytes", got)
	}
	if _, err := os.Stat(f.snapshotPath); !os.IsNotExist(err) {
		t.Error("snapshot file still present after recovery")
	}

	// With a clean host the next Recover is a no-op.
	if recovered, err := second.Recover(); err != nil || recovered {
		t.Errorf("second Recover = %v, %v, want false, nil", recovered, err)
	}
}

func TestEngine_FailedStepUnwindsAndAllowsRetry(t *testing.T) {
	f := newEngineFixture(t)

	// The last step fails, everything applied before it must come back out.
	f.nat.ApplyForwardingFunc = func(string) error { return fmt.Errorf("iptables not found") }

	err := f.engine.Activate(context.Background(), EndpointFromConfig(f.cfg))
	if err == nil {
		t.Fatal("Activate succeeded with a failing step")
	}

	if len(f.routes.Routes) != 1 {
		t.Errorf("route table has %d routes after unwind, want 1", len(f.routes.Routes))
	}
	if got := f.readResolvConf(t); got != originalResolvConf {
		t.Errorf("resolver file = %q after unwind, want the original bytes", got)
	}
	if _, statErr := os.Stat(f.snapshotPath); !os.IsNotExist(statErr) {
		t.Error("snapshot file still present after unwind")
	}

	// Once the obstacle is gone the takeover goes through.
	f.nat.ApplyForwardingFunc = nil
	f.activate(t)
	if len(f.routes.Routes) != 3 {
		t.Errorf("route table has %d routes after retry, want 3", len(f.routes.Routes))
	}
}

func TestEngine_HealDNS(t *testing.T) {
	f := newEngineFixture(t)
	f.activate(t)

	// Another process clobbered the resolver file.
	if err := os.WriteFile(f.resolvConf, []byte("nameserver 127.0.0.1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := f.engine.HealDNS(); err != nil {
		t.Fatalf("HealDNS failed: %v", err)
	}
	content := f.readResolvConf(t)
	if !strings.HasPrefix(content, directHeader) || !strings.Contains(content, "nameserver 8.8.8.8\n") {
		t.Errorf("resolver file not healed: %q", content)
	}

	// The original backup still wins at deactivation.
	if err := f.engine.Deactivate(); err != nil {
		t.Fatal(err)
	}
	if got := f.readResolvConf(t); got != originalResolvConf {
		t.Errorf("resolver file = %q after restore, want the original bytes", got)
	}
}

func TestEngine_HealRoutes(t *testing.T) {
	f := newEngineFixture(t)
	f.activate(t)

	// The tunnel default and the rp_filter relaxation got lost.
	tunnelDefault := f.engine.routes.Policy().Routes[0]
	if _, err := f.routes.DelIfExists(tunnelDefault); err != nil {
		t.Fatal(err)
	}
	f.sysctl.Values[networking.SysctlRPFilterAll] = "1"

	if err := f.engine.HealRoutes(); err != nil {
		t.Fatalf("HealRoutes failed: %v", err)
	}

	if exists, _ := f.routes.Exists(tunnelDefault); !exists {
		t.Error("tunnel default route not healed")
	}
	if f.sysctl.Values[networking.SysctlRPFilterAll] != "0" {
		t.Error("rp_filter not healed")
	}
}

func TestEngine_HealIsNoOpWhenInactive(t *testing.T) {
	f := newEngineFixture(t)

	if err := f.engine.HealDNS(); err != nil {
		t.Errorf("HealDNS while inactive failed: %v", err)
	}
	if err := f.engine.HealRoutes(); err != nil {
		t.Errorf("HealRoutes while inactive failed: %v", err)
	}
	if got := f.readResolvConf(t); got != originalResolvConf {
		t.Errorf("resolver file touched by an inactive heal: %q", got)
	}
}
