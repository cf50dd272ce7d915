package commands

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vpnshift/vpnshift/internal/api"
	"github.com/vpnshift/vpnshift/internal/config"
	"github.com/vpnshift/vpnshift/internal/domain"
	"github.com/vpnshift/vpnshift/internal/log"
	"github.com/vpnshift/vpnshift/internal/takeover"
)

// StatusCommand reports the takeover state: the persisted snapshot, a live
// inspection of the host and, when a running up command exposes the status
// API, the health monitor summary.
type StatusCommand struct {
	fs  *flag.FlagSet
	ctx *AppContext
	cfg *config.Config

	jsonOut bool

	engine    *takeover.Engine
	inspector *takeover.StateInspector
}

func CreateStatusCommand() *StatusCommand {
	sc := &StatusCommand{
		fs: flag.NewFlagSet("status", flag.ExitOnError),
	}
	sc.fs.BoolVar(&sc.jsonOut, "json", false, "Print machine-readable JSON instead of log lines")
	return sc
}

func (s *StatusCommand) Name() string {
	return s.fs.Name()
}

func (s *StatusCommand) Init(args []string, globalArgs *AppContext) error {
	s.ctx = globalArgs
	if err := s.fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadAndValidateConfigOrFail(globalArgs.ConfigPath)
	if err != nil {
		return err
	}
	s.cfg = cfg

	deps := domain.NewDefaultDependencies()
	s.engine = takeover.NewEngine(cfg, deps)
	s.inspector = takeover.NewStateInspector(cfg, deps)
	return nil
}

func (s *StatusCommand) Run() error {
	status, err := s.engine.Status()
	if err != nil {
		return err
	}

	var healthInfo *api.HealthResponse
	if s.cfg.API.Enabled {
		healthInfo, err = s.fetchHealth()
		if err != nil {
			log.Debugf("Status API not reachable: %v", err)
		}
	}

	if s.jsonOut {
		return printStatusJSON(status, healthInfo)
	}

	log.Infof("vpnshift %s (commit: %s, built: %s)", s.ctx.Version, s.ctx.Commit, s.ctx.BuildDate)
	s.printSnapshot(status)
	s.printInspection()
	s.printHealth(healthInfo)
	return nil
}

func (s *StatusCommand) printSnapshot(status *takeover.TakeoverStatus) {
	if !status.Active {
		log.Infof("Takeover: NOT active (no snapshot at %s)", s.cfg.GetAbsSnapshotPath())
		return
	}

	snap := status.Snapshot
	log.Infof("Takeover: ACTIVE since %s (snapshot %s)", snap.CapturedAt.Format(time.RFC3339), snap.ID)
	log.Infof("  Tunnel interface:  %s", snap.TunnelInterface)
	if snap.BypassRoute != nil {
		log.Infof("  VPN server:        %s (bypass via %s)", snap.ServerIP, snap.BypassRoute.Gateway)
	}
	if snap.RoutePolicy != nil {
		log.Infof("  Route policy:      %s (%d routes)", snap.RoutePolicy.Kind, len(snap.RoutePolicy.Routes))
	}
	log.Infof("  DNS backend:       %s (scope: %s)", snap.DNSBackend, snap.DNSScope)
	if len(snap.AppliedResolvers) > 0 {
		log.Infof("  Applied resolvers: %s", strings.Join(snap.AppliedResolvers, ", "))
	}
}

func (s *StatusCommand) printInspection() {
	inspection, err := s.inspector.Inspect(takeover.EndpointFromConfig(s.cfg))
	if err != nil {
		log.Warnf("Host inspection failed: %v", err)
		return
	}

	log.Infof("Host inspection:")
	if inspection.OriginalGateway != nil {
		log.Infof("  Default route:  via %s on %s (metric %d)", inspection.OriginalGateway, inspection.OriginalInterface, inspection.MinDefaultMetric)
	} else {
		log.Infof("  Default route:  none")
	}
	if inspection.TunnelGateway != nil {
		log.Infof("  Tunnel gateway: %s (detected by %s)", inspection.TunnelGateway, inspection.GatewaySource)
	} else {
		log.Infof("  Tunnel gateway: unknown (split default routes apply)")
	}
	log.Infof("  DNS backend:    %s", inspection.DNSBackend)
}

func (s *StatusCommand) printHealth(healthInfo *api.HealthResponse) {
	switch {
	case healthInfo != nil && healthInfo.Monitoring && healthInfo.Status != nil:
		st := healthInfo.Status
		log.Infof("Health: %s (consecutive failures: %d, last check: %s)",
			st.State, st.ConsecutiveFailures, st.LastCheckedAt.Format(time.RFC3339))
		if st.LastDNSError != "" {
			log.Warnf("  Last DNS error: %s", st.LastDNSError)
		}
		if st.LastReachError != "" {
			log.Warnf("  Last reachability error: %s", st.LastReachError)
		}
	case healthInfo != nil:
		log.Infof("Health: monitor not running")
	case s.cfg.API.Enabled:
		log.Infof("Health: status API not reachable (is 'vpnshift up' running?)")
	default:
		log.Infof("Health: not available (status API disabled)")
	}
}

// fetchHealth asks the status API of a running up command for the monitor
// state. Only loopback-ish bind addresses make sense here, which is also
// all the API middleware admits.
func (s *StatusCommand) fetchHealth() (*api.HealthResponse, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/api/v1/health", s.cfg.API.BindAddress))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status API returned %s", resp.Status)
	}

	var envelope struct {
		Data api.HealthResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %v", err)
	}
	return &envelope.Data, nil
}

func printStatusJSON(status *takeover.TakeoverStatus, healthInfo *api.HealthResponse) error {
	out := struct {
		Takeover *takeover.TakeoverStatus `json:"takeover"`
		Health   *api.HealthResponse      `json:"health,omitempty"`
	}{Takeover: status, Health: healthInfo}

	buf, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(buf))
	return nil
}
