package commands

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vpnshift/vpnshift/internal/config"
	"github.com/vpnshift/vpnshift/internal/domain"
	"github.com/vpnshift/vpnshift/internal/log"
	"github.com/vpnshift/vpnshift/internal/takeover"
)

// SelfCheckCommand verifies that the host matches what the persisted
// snapshot says should be applied. Without a snapshot it verifies the
// opposite: that no takeover artifact is left behind.
type SelfCheckCommand struct {
	fs  *flag.FlagSet
	cfg *config.Config

	deps *domain.AppDependencies
}

func CreateSelfCheckCommand() *SelfCheckCommand {
	return &SelfCheckCommand{
		fs: flag.NewFlagSet("self-check", flag.ExitOnError),
	}
}

func (s *SelfCheckCommand) Name() string {
	return s.fs.Name()
}

func (s *SelfCheckCommand) Init(args []string, globalArgs *AppContext) error {
	if err := s.fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadAndValidateConfigOrFail(globalArgs.ConfigPath)
	if err != nil {
		return err
	}
	s.cfg = cfg
	s.deps = domain.NewDefaultDependencies()
	return nil
}

func (s *SelfCheckCommand) Run() error {
	log.Infof("---------------- Configuration START -----------------")
	if buf, err := s.cfg.SerializeConfig(); err != nil {
		log.Errorf("Failed to serialize configuration: %v", err)
	} else {
		os.Stdout.Write(buf.Bytes())
	}
	log.Infof("----------------- Configuration END ------------------")

	store := takeover.NewSnapshotStore(s.cfg.GetAbsSnapshotPath())
	snapshot, err := store.Load()
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %v", err)
	}

	if snapshot == nil {
		log.Infof("No snapshot found, verifying that no takeover artifact is left on the host...")
	} else {
		log.Infof("Verifying applied state against snapshot %s (captured %s)...",
			snapshot.ID, snapshot.CapturedAt.Format(time.RFC3339))
	}

	states := takeover.NewChecker(s.cfg, s.deps).Check(snapshot)

	failed := 0
	for _, state := range states {
		line := fmt.Sprintf("[%s] %s: %s", state.Component, state.Description, state.Message())
		if state.OK() {
			log.Infof("PASS %s", line)
		} else {
			log.Errorf("FAIL %s", line)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("self-check failed: %d of %d checks failed", failed, len(states))
	}
	log.Infof("Self-check passed (%d checks)", len(states))
	return nil
}
