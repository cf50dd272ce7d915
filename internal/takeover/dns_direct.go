package takeover

import (
	"os"
	"strings"

	"github.com/vpnshift/vpnshift/internal/config"
	apperrors "github.com/vpnshift/vpnshift/internal/errors"
	"github.com/vpnshift/vpnshift/internal/log"
	"github.com/vpnshift/vpnshift/internal/utils"
)

// directHeader marks a resolver file written by us. IsApplied keys on it.
const directHeader = "# Generated by vpnshift - do not edit\n"

// DirectDNS drives hosts where the resolver file is a plain file: replace
// it with the tunnel resolvers, restore the original bytes on revert. The
// snapshot holds the authoritative original; a backup file is kept as a
// second line of defense for manual recovery.
type DirectDNS struct {
	resolvConf string
	backupPath string
}

// NewDirectDNS creates a direct configurator from the DNS config section.
func NewDirectDNS(cfg *config.Config) *DirectDNS {
	return &DirectDNS{
		resolvConf: cfg.DNS.ResolvConf,
		backupPath: cfg.GetAbsDNSBackupPath(),
	}
}

func (d *DirectDNS) Kind() BackendKind {
	return BackendDirect
}

// Apply replaces the resolver file with the policy resolvers. The file
// format has no per-domain scoping, so a tunnel-scoped policy behaves like
// an all-scoped one on this backend.
func (d *DirectDNS) Apply(policy *DNSPolicy) error {
	if err := d.backupOnce(); err != nil {
		return err
	}

	content := renderResolvConf(policy.Resolvers)
	if err := os.WriteFile(d.resolvConf, []byte(content), 0644); err != nil {
		return apperrors.FromOSError(apperrors.ErrCodeDNS, "failed to write resolver file", err)
	}

	log.Infof("Resolver file %s now lists %s", d.resolvConf, strings.Join(policy.Resolvers, ", "))
	return nil
}

// backupOnce copies the resolver file to the backup path unless a backup
// already exists. Only the first apply sees the true original, so an
// existing backup is never overwritten.
func (d *DirectDNS) backupOnce() error {
	content, err := os.ReadFile(d.resolvConf)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warnf("Resolver file %s does not exist, nothing to back up", d.resolvConf)
			return nil
		}
		return apperrors.FromOSError(apperrors.ErrCodeDNS, "failed to read resolver file", err)
	}

	file, err := os.OpenFile(d.backupPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			log.Debugf("Resolver backup %s already exists, keeping it", d.backupPath)
			return nil
		}
		return apperrors.FromOSError(apperrors.ErrCodeDNS, "failed to create resolver backup", err)
	}
	defer utils.CloseOrWarn(file)

	if _, err := file.Write(content); err != nil {
		return apperrors.FromOSError(apperrors.ErrCodeDNS, "failed to write resolver backup", err)
	}
	return nil
}

// Revert restores the original resolver file byte-exact. The snapshot bytes
// win; the backup file is the fallback when the snapshot predates the file
// capture. With neither available the file is left alone with a warning,
// a best guess would be worse than the takeover state.
func (d *DirectDNS) Revert(snapshot *NetworkSnapshot) error {
	original := snapshot.ResolvConf
	if len(original) == 0 {
		if content, err := os.ReadFile(d.backupPath); err == nil {
			log.Debugf("Restoring resolver file from backup %s", d.backupPath)
			original = content
		} else if !os.IsNotExist(err) {
			return apperrors.FromOSError(apperrors.ErrCodeDNS, "failed to read resolver backup", err)
		}
	}

	if len(original) == 0 {
		log.Warnf("No original resolver data found, leaving %s as-is", d.resolvConf)
		return nil
	}

	if err := os.WriteFile(d.resolvConf, original, 0644); err != nil {
		return apperrors.FromOSError(apperrors.ErrCodeDNS, "failed to restore resolver file", err)
	}
	if err := os.Remove(d.backupPath); err != nil && !os.IsNotExist(err) {
		log.Warnf("Failed to remove resolver backup %s: %v", d.backupPath, err)
	}

	log.Infof("Restored original resolver file %s", d.resolvConf)
	return nil
}

// IsApplied reports whether the resolver file carries our header.
func (d *DirectDNS) IsApplied() (bool, error) {
	content, err := os.ReadFile(d.resolvConf)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, apperrors.FromOSError(apperrors.ErrCodeDNS, "failed to read resolver file", err)
	}
	return strings.HasPrefix(string(content), directHeader), nil
}

// renderResolvConf builds the takeover resolver file content.
func renderResolvConf(resolvers []string) string {
	var sb strings.Builder
	sb.WriteString(directHeader)
	sb.WriteString("options timeout:2 attempts:2\n")
	for _, resolver := range resolvers {
		sb.WriteString("nameserver " + resolver + "\n")
	}
	return sb.String()
}
