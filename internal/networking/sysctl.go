package networking

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/vpnshift/vpnshift/internal/log"
)

const (
	SysctlIPForward   = "net.ipv4.ip_forward"
	SysctlRPFilterAll = "net.ipv4.conf.all.rp_filter"
)

// SysctlRPFilterIface returns the rp_filter key for one interface. The slash
// form keeps interface names containing dots (e.g. "eth0.100") intact.
func SysctlRPFilterIface(iface string) string {
	return "net/ipv4/conf/" + iface + "/rp_filter"
}

// Sysctl reads and writes kernel parameters through the proc filesystem.
type Sysctl struct {
	root string
}

func NewSysctl() *Sysctl {
	return &Sysctl{root: "/proc/sys"}
}

// NewSysctlWithRoot returns a Sysctl rooted at dir instead of /proc/sys.
func NewSysctlWithRoot(dir string) *Sysctl {
	return &Sysctl{root: dir}
}

// keyPath resolves a sysctl key to its file path. Keys may use dotted
// ("net.ipv4.ip_forward") or slash ("net/ipv4/ip_forward") notation; keys
// that already contain a slash are taken as-is so interface names with dots
// survive.
func (s *Sysctl) keyPath(key string) string {
	if !strings.Contains(key, "/") {
		key = strings.ReplaceAll(key, ".", "/")
	}
	return filepath.Join(s.root, key)
}

func (s *Sysctl) Get(key string) (string, error) {
	content, err := os.ReadFile(s.keyPath(key))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(content)), nil
}

func (s *Sysctl) Set(key, value string) error {
	log.Debugf("Setting sysctl %s = %s", key, value)
	if err := os.WriteFile(s.keyPath(key), []byte(value+"\n"), 0644); err != nil {
		log.Warnf("Failed to set sysctl %s: %v", key, err)
		return err
	}
	return nil
}

// SetIfDifferent writes value only when the current value differs. It
// returns true when a write happened.
func (s *Sysctl) SetIfDifferent(key, value string) (bool, error) {
	current, err := s.Get(key)
	if err != nil {
		return false, err
	}
	if current == value {
		log.Debugf("Sysctl %s already %s", key, value)
		return false, nil
	}
	if err := s.Set(key, value); err != nil {
		return false, err
	}
	return true, nil
}
