package takeover

import (
	stderrors "errors"
	"fmt"
	"strings"

	apperrors "github.com/vpnshift/vpnshift/internal/errors"
	"github.com/vpnshift/vpnshift/internal/log"
)

// restoreStep is one named entry in the restoration sequence.
type restoreStep struct {
	name   string
	revert func(snapshot *NetworkSnapshot) error
}

// Restorer unwinds a takeover in strict reverse order of application:
// forwarding rules first, then DNS, then the tunnel routes, and the bypass
// route last so the server stays reachable until the end.
type Restorer struct {
	tuner  *SystemTuner
	dns    DNSConfigurator
	routes *RouteInstaller
	guard  *LoopGuard
}

// NewRestorer creates a restorer over the takeover components.
func NewRestorer(tuner *SystemTuner, dns DNSConfigurator, routes *RouteInstaller, guard *LoopGuard) *Restorer {
	return &Restorer{
		tuner:  tuner,
		dns:    dns,
		routes: routes,
		guard:  guard,
	}
}

// RevertAll attempts every step even after a failure, so one stuck
// component never blocks the rest of the restoration. Failures are
// aggregated with per-step detail; nil means a fully clean unwind. Every
// step tolerates finding its work already undone, so RevertAll can run
// again after a partial failure.
func (r *Restorer) RevertAll(snapshot *NetworkSnapshot) error {
	steps := []restoreStep{
		{name: "system-tuner", revert: r.tuner.Revert},
		{name: "dns", revert: r.dns.Revert},
		{name: "routes", revert: func(*NetworkSnapshot) error { return r.routes.Revert() }},
		{name: "loop-guard", revert: func(*NetworkSnapshot) error { return r.guard.Remove() }},
	}

	var failed []string
	var causes []error
	for _, step := range steps {
		if err := step.revert(snapshot); err != nil {
			log.Errorf("Restore step %s failed: %v", step.name, err)
			failed = append(failed, step.name)
			causes = append(causes, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		log.Debugf("Restore step %s done", step.name)
	}

	if len(failed) > 0 {
		return apperrors.Wrap(apperrors.ErrCodePartialRevert,
			fmt.Sprintf("restoration incomplete, failed steps: %s", strings.Join(failed, ", ")),
			stderrors.Join(causes...))
	}
	return nil
}
