package takeover

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/vpnshift/vpnshift/internal/config"
	apperrors "github.com/vpnshift/vpnshift/internal/errors"
	"github.com/vpnshift/vpnshift/internal/log"
)

// dropInName sorts late so our override wins over distro-shipped drop-ins.
const dropInName = "90-vpnshift.conf"

// ManagedDNS drives hosts where systemd-resolved owns the resolver file.
// Rewriting that file would be undone on the next service restart, so the
// takeover is expressed as a drop-in override plus a service reload, and
// revert is deleting the override plus another reload.
type ManagedDNS struct {
	dropInDir string

	// reload restarts the resolver service so it picks up drop-in changes.
	// Injectable for tests.
	reload func() error
}

// NewManagedDNS creates a managed configurator from the DNS config section.
func NewManagedDNS(cfg *config.Config) *ManagedDNS {
	return &ManagedDNS{
		dropInDir: cfg.DNS.ResolvedDropInDir,
		reload:    reloadResolved,
	}
}

func reloadResolved() error {
	cmd := exec.Command("systemctl", "reload-or-restart", "systemd-resolved")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("systemctl reload-or-restart systemd-resolved: %v (output: %s)",
			err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (m *ManagedDNS) Kind() BackendKind {
	return BackendManaged
}

func (m *ManagedDNS) overridePath() string {
	return filepath.Join(m.dropInDir, dropInName)
}

// Apply writes the drop-in override and reloads the resolver service. The
// original service configuration is never touched, which is what makes the
// revert trivial and crash-safe.
func (m *ManagedDNS) Apply(policy *DNSPolicy) error {
	if err := os.MkdirAll(m.dropInDir, 0755); err != nil {
		return apperrors.FromOSError(apperrors.ErrCodeDNS, "failed to create resolver drop-in directory", err)
	}

	content := renderDropIn(policy)
	if err := os.WriteFile(m.overridePath(), []byte(content), 0644); err != nil {
		return apperrors.FromOSError(apperrors.ErrCodeDNS, "failed to write resolver override", err)
	}
	log.Infof("Installed resolver override %s (%s)", m.overridePath(), strings.Join(policy.Resolvers, ", "))

	if err := m.reload(); err != nil {
		return apperrors.NewDNSError("failed to reload managed resolver service", err)
	}
	return nil
}

// Revert deletes the override and reloads the service. An already-absent
// override means there is nothing to undo.
func (m *ManagedDNS) Revert(snapshot *NetworkSnapshot) error {
	if err := os.Remove(m.overridePath()); err != nil {
		if os.IsNotExist(err) {
			log.Debugf("Resolver override %s already absent", m.overridePath())
			return nil
		}
		return apperrors.FromOSError(apperrors.ErrCodeDNS, "failed to remove resolver override", err)
	}

	log.Infof("Removed resolver override %s", m.overridePath())
	if err := m.reload(); err != nil {
		return apperrors.NewDNSError("failed to reload managed resolver service", err)
	}
	return nil
}

// IsApplied reports whether the drop-in override is installed.
func (m *ManagedDNS) IsApplied() (bool, error) {
	if _, err := os.Stat(m.overridePath()); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, apperrors.FromOSError(apperrors.ErrCodeDNS, "failed to stat resolver override", err)
	}
	return true, nil
}

// renderDropIn builds the override content. With the all scope the ~.
// routing domain makes our resolvers preferred for every query; with the
// tunnel scope the resolvers are registered without a routing domain and
// resolved keeps per-link preferences.
func renderDropIn(policy *DNSPolicy) string {
	var sb strings.Builder
	sb.WriteString("# Generated by vpnshift for " + policy.Interface + " - do not edit\n")
	sb.WriteString("[Resolve]\n")
	sb.WriteString("DNS=" + strings.Join(policy.Resolvers, " ") + "\n")
	if policy.Scope == config.ScopeAll {
		sb.WriteString("Domains=~.\n")
	}
	return sb.String()
}
