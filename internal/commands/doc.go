// Package commands implements the vpnshift CLI subcommands.
//
// Each subcommand is a Runner: main parses global flags into an AppContext,
// then hands the remaining arguments to the matching Runner. Commands own
// their flag sets and wire the takeover engine themselves, so main stays a
// thin dispatcher.
//
//   - up: activate the takeover and keep it healthy until terminated
//   - down: restore the original configuration from the persisted snapshot
//   - status: show takeover state, snapshot and health summary
//   - self-check: verify every applied component is present on the host
package commands
