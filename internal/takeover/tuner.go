package takeover

import (
	"fmt"

	"github.com/vpnshift/vpnshift/internal/domain"
	apperrors "github.com/vpnshift/vpnshift/internal/errors"
	"github.com/vpnshift/vpnshift/internal/log"
	"github.com/vpnshift/vpnshift/internal/networking"
)

// SystemTuner prepares the kernel for tunneled traffic: reverse-path
// filtering is relaxed so replies arriving over the tunnel are not dropped,
// IP forwarding is enabled and masquerade rules let LAN clients share the
// tunnel.
type SystemTuner struct {
	sysctl domain.SysctlManager
	nat    domain.NATManager

	// tunedIface remembers which interface Apply touched so Revert and the
	// self-check inspect the same keys.
	tunedIface string
}

// NewSystemTuner creates a tuner bound to the given dependencies.
func NewSystemTuner(deps *domain.AppDependencies) *SystemTuner {
	return &SystemTuner{
		sysctl: deps.SysctlManager(),
		nat:    deps.NATManager(),
	}
}

// rpFilterKeys returns the reverse-path filter keys for iface, global first.
func rpFilterKeys(iface string) []string {
	return []string{
		networking.SysctlRPFilterAll,
		networking.SysctlRPFilterIface(iface),
	}
}

// Apply sets the sysctls and installs the forwarding rules. A missing
// sysctl key is logged and skipped (containers often hide them); a
// permission error is fatal like every other mutating call.
func (t *SystemTuner) Apply(endpoint *TunnelEndpoint, snapshot *NetworkSnapshot) error {
	for _, key := range rpFilterKeys(endpoint.Interface) {
		if err := t.setSysctl(key, "0"); err != nil {
			return err
		}
	}
	if err := t.setSysctl(networking.SysctlIPForward, "1"); err != nil {
		return err
	}

	if err := t.nat.ApplyForwarding(endpoint.Interface); err != nil {
		return apperrors.FromOSError(apperrors.ErrCodeNetwork,
			fmt.Sprintf("failed to install forwarding rules for %s", endpoint.Interface), err)
	}

	t.tunedIface = endpoint.Interface
	snapshot.ForwardingApplied = true
	return nil
}

func (t *SystemTuner) setSysctl(key, value string) error {
	changed, err := t.sysctl.SetIfDifferent(key, value)
	if err != nil {
		if apperrors.IsPermission(err) {
			return apperrors.NewPrivilegeError(fmt.Sprintf("failed to set %s", key), err)
		}
		log.Warnf("Sysctl %s not adjustable, skipping: %v", key, err)
		return nil
	}
	if changed {
		log.Debugf("Sysctl %s set to %s", key, value)
	}
	return nil
}

// Reapply re-relaxes the reverse-path filter keys. Part of the self-heal
// pass; other software occasionally tightens them back.
func (t *SystemTuner) Reapply() error {
	if t.tunedIface == "" {
		return nil
	}
	for _, key := range rpFilterKeys(t.tunedIface) {
		if err := t.setSysctl(key, "0"); err != nil {
			return err
		}
	}
	return nil
}

// Revert removes the forwarding rules. The sysctls stay as Apply left them:
// ip_forward and rp_filter are host-wide switches other software may have
// come to depend on while the tunnel was up, and flipping them back blindly
// breaks more than it fixes. The approximation is deliberate.
func (t *SystemTuner) Revert(snapshot *NetworkSnapshot) error {
	iface := t.tunedIface
	if iface == "" {
		iface = snapshot.TunnelInterface
	}
	if !snapshot.ForwardingApplied {
		log.Debugf("No forwarding rules recorded, nothing to revert")
		return nil
	}

	if err := t.nat.RevertForwarding(iface); err != nil {
		return apperrors.FromOSError(apperrors.ErrCodeNetwork,
			fmt.Sprintf("failed to remove forwarding rules for %s", iface), err)
	}

	t.tunedIface = ""
	return nil
}

// CheckApplied reports the sysctl values and per-rule presence for the
// self-check. The iface argument allows checking before Apply ran in this
// process.
func (t *SystemTuner) CheckApplied(iface string) (map[string]string, map[*networking.ForwardingRule]bool, error) {
	sysctls := make(map[string]string)
	for _, key := range append(rpFilterKeys(iface), networking.SysctlIPForward) {
		value, err := t.sysctl.Get(key)
		if err != nil {
			value = "?"
		}
		sysctls[key] = value
	}

	rules, err := t.nat.CheckForwarding(iface)
	if err != nil {
		return sysctls, nil, err
	}
	return sysctls, rules, nil
}
