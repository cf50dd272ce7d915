package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/vpnshift/vpnshift/internal/commands"
	"github.com/vpnshift/vpnshift/internal/log"
)

// Populated via -ldflags at release build time.
var (
	version = "dev"
	commit  = "n/a"
	date    = "n/a"
)

func main() {
	ctx := &commands.AppContext{
		Version:   version,
		Commit:    commit,
		BuildDate: date,
	}

	flag.StringVar(&ctx.ConfigPath, "config", "/etc/vpnshift/vpnshift.conf", "Path to configuration file")
	flag.BoolVar(&ctx.Verbose, "verbose", false, "Enable verbose logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "vpnshift - VPN tunnel network takeover and restoration\n")
		fmt.Fprintf(os.Stderr, "Version: %s (Commit: %s, Date: %s)\n\n", version, commit, date)
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [command options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  up           Activate the takeover and keep it healthy until terminated\n")
		fmt.Fprintf(os.Stderr, "  down         Restore the original network configuration\n")
		fmt.Fprintf(os.Stderr, "  status       Show takeover state, snapshot and health summary\n")
		fmt.Fprintf(os.Stderr, "  self-check   Verify every applied component is present on the host\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if ctx.Verbose {
		log.SetVerbose(true)
	}

	if _, err := os.Stat(ctx.ConfigPath); errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Configuration file not found: %s", ctx.ConfigPath)
	}

	cmds := []commands.Runner{
		commands.CreateUpCommand(),
		commands.CreateDownCommand(),
		commands.CreateStatusCommand(),
		commands.CreateSelfCheckCommand(),
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	subcommand := args[0]
	for _, cmd := range cmds {
		if cmd.Name() != subcommand {
			continue
		}
		if err := cmd.Init(args[1:], ctx); err != nil {
			log.Fatalf("Failed to initialize command %s: %v", subcommand, err)
		}
		if err := cmd.Run(); err != nil {
			log.Fatalf("Failed to run command %s: %v", subcommand, err)
		}
		os.Exit(0)
	}

	log.Fatalf("Unknown command: %s (see -help)", subcommand)
}
