package commands

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vpnshift/vpnshift/internal/api"
	"github.com/vpnshift/vpnshift/internal/config"
	"github.com/vpnshift/vpnshift/internal/domain"
	"github.com/vpnshift/vpnshift/internal/health"
	"github.com/vpnshift/vpnshift/internal/log"
	"github.com/vpnshift/vpnshift/internal/takeover"
)

// UpCommand activates the takeover and holds it until SIGINT/SIGTERM, then
// restores the original configuration. While active it runs the health
// monitor and, when enabled, the status API.
type UpCommand struct {
	fs  *flag.FlagSet
	ctx *AppContext
	cfg *config.Config

	// Overrides for [server] and [tunnel] settings.
	serverHost    string
	serverPort    uint
	tunnelIface   string
	tunnelLocalIP string
	tunnelGateway string
	tunnelMTU     int

	deps   *domain.AppDependencies
	engine *takeover.Engine

	monitor       *health.Monitor
	monitorRunner *RestartableRunner
	apiServer     *api.Server
	apiRunner     *RestartableRunner
}

func CreateUpCommand() *UpCommand {
	uc := &UpCommand{
		fs: flag.NewFlagSet("up", flag.ExitOnError),
	}

	uc.fs.StringVar(&uc.serverHost, "server-host", "", "Override the VPN server host from [server]")
	uc.fs.UintVar(&uc.serverPort, "server-port", 0, "Override the VPN server port from [server]")
	uc.fs.StringVar(&uc.tunnelIface, "tunnel-interface", "", "Override the tunnel interface from [tunnel]")
	uc.fs.StringVar(&uc.tunnelLocalIP, "tunnel-local-ip", "", "Override the local tunnel address from [tunnel]")
	uc.fs.StringVar(&uc.tunnelGateway, "tunnel-gateway", "", "Override the tunnel gateway from [tunnel]")
	uc.fs.IntVar(&uc.tunnelMTU, "tunnel-mtu", 0, "Override the tunnel MTU from [tunnel]")

	return uc
}

func (u *UpCommand) Name() string {
	return u.fs.Name()
}

func (u *UpCommand) Init(args []string, globalArgs *AppContext) error {
	u.ctx = globalArgs
	if err := u.fs.Parse(args); err != nil {
		return err
	}
	if u.serverPort > 65535 {
		return fmt.Errorf("invalid -server-port %d: must be 1-65535", u.serverPort)
	}

	cfg, err := config.LoadConfig(globalArgs.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %v", err)
	}
	u.applyOverrides(cfg)
	if err := cfg.ValidateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %v", err)
	}
	u.cfg = cfg

	u.deps = domain.NewDefaultDependencies()
	u.engine = takeover.NewEngine(u.cfg, u.deps)
	return nil
}

// applyOverrides copies flag values over the loaded configuration. Flags
// win over the file; validation runs on the merged result.
func (u *UpCommand) applyOverrides(cfg *config.Config) {
	if u.serverHost != "" || u.serverPort != 0 {
		if cfg.Server == nil {
			cfg.Server = &config.ServerConfig{}
		}
		if u.serverHost != "" {
			cfg.Server.Host = u.serverHost
		}
		if u.serverPort != 0 {
			cfg.Server.Port = uint16(u.serverPort)
		}
	}
	if u.tunnelIface != "" {
		cfg.Tunnel.Interface = u.tunnelIface
	}
	if u.tunnelLocalIP != "" {
		cfg.Tunnel.LocalIP = u.tunnelLocalIP
	}
	if u.tunnelGateway != "" {
		cfg.Tunnel.Gateway = u.tunnelGateway
	}
	if u.tunnelMTU != 0 {
		cfg.Tunnel.MTU = u.tunnelMTU
	}
}

func (u *UpCommand) Run() error {
	// Repair leftovers from a previous unclean shutdown before capturing
	// a fresh snapshot.
	repaired, err := u.engine.Recover()
	if err != nil {
		return err
	}
	if repaired {
		log.Infof("Recovered original configuration from a previous unclean shutdown")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	endpoint := takeover.EndpointFromConfig(u.cfg)
	log.Infof("Activating network takeover for %s", endpoint)

	if err := u.engine.Activate(ctx, endpoint); err != nil {
		return err
	}
	log.Infof("Takeover active, traffic now flows through %s", endpoint.Interface)

	if u.cfg.Health.Enabled {
		u.startMonitor(ctx)
	} else {
		log.Infof("Health monitoring is disabled")
	}

	if u.cfg.API.Enabled {
		u.startAPIServer(ctx)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Infof("Received signal %v, restoring original configuration...", sig)

	return u.shutdown()
}

// startMonitor wires the health monitor under a RestartableRunner so a
// panicking check loop restarts instead of killing the process mid-takeover.
func (u *UpCommand) startMonitor(ctx context.Context) {
	u.monitor = health.NewMonitor(u.cfg, u.engine)
	u.monitorRunner = NewRestartableRunner(RunnerConfig{
		Name: "health monitor",
	}, func(runCtx context.Context) error {
		return u.monitor.Run(runCtx)
	})

	if err := u.monitorRunner.Start(ctx); err != nil {
		log.Errorf("Failed to start health monitor: %v", err)
	}
}

func (u *UpCommand) startAPIServer(ctx context.Context) {
	version := api.VersionInfo{
		Version: u.ctx.Version,
		Commit:  u.ctx.Commit,
		Date:    u.ctx.BuildDate,
	}
	handler := api.NewHandler(u.engine, takeover.NewChecker(u.cfg, u.deps), u.monitor, version)
	u.apiServer = api.NewServer(u.cfg.API.BindAddress, handler)

	u.apiRunner = NewRestartableRunner(RunnerConfig{
		Name:           "API server",
		RestartBackoff: 2 * time.Second,
	}, func(context.Context) error {
		return u.apiServer.Start()
	})

	if err := u.apiRunner.Start(ctx); err != nil {
		log.Errorf("Failed to start API server: %v", err)
		log.Warnf("Status API will not be available")
	}
}

// shutdown stops the monitor before reverting so no heal pass races the
// restoration, then stops the API and restores the original configuration.
func (u *UpCommand) shutdown() error {
	if u.monitorRunner != nil {
		if err := u.monitorRunner.Stop(); err != nil {
			log.Errorf("Failed to stop health monitor: %v", err)
		}
	}

	if u.apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := u.apiServer.Stop(shutdownCtx); err != nil {
			log.Errorf("Error during API server shutdown: %v", err)
		}
		cancel()
		if u.apiRunner != nil {
			if err := u.apiRunner.Stop(); err != nil {
				log.Errorf("Failed to stop API runner: %v", err)
			}
		}
	}

	if err := u.engine.Deactivate(); err != nil {
		return err
	}
	log.Infof("Original network configuration restored")
	return nil
}
