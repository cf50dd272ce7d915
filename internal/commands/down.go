package commands

import (
	"flag"

	"github.com/vpnshift/vpnshift/internal/config"
	"github.com/vpnshift/vpnshift/internal/domain"
	"github.com/vpnshift/vpnshift/internal/log"
	"github.com/vpnshift/vpnshift/internal/takeover"
)

// DownCommand restores the original network configuration from the
// persisted snapshot. It works from any process, so it doubles as the
// repair path after a crashed or killed up command.
type DownCommand struct {
	fs  *flag.FlagSet
	cfg *config.Config

	engine *takeover.Engine
}

func CreateDownCommand() *DownCommand {
	return &DownCommand{
		fs: flag.NewFlagSet("down", flag.ExitOnError),
	}
}

func (d *DownCommand) Name() string {
	return d.fs.Name()
}

func (d *DownCommand) Init(args []string, globalArgs *AppContext) error {
	if err := d.fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadAndValidateConfigOrFail(globalArgs.ConfigPath)
	if err != nil {
		return err
	}
	d.cfg = cfg

	d.engine = takeover.NewEngine(cfg, domain.NewDefaultDependencies())
	return nil
}

func (d *DownCommand) Run() error {
	log.Infof("Restoring original network configuration...")

	if err := d.engine.Deactivate(); err != nil {
		return err
	}

	log.Infof("Restoration complete")
	return nil
}
