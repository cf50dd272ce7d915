package takeover

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/vpnshift/vpnshift/internal/config"
	"github.com/vpnshift/vpnshift/internal/domain"
	apperrors "github.com/vpnshift/vpnshift/internal/errors"
	"github.com/vpnshift/vpnshift/internal/log"
	"github.com/vpnshift/vpnshift/internal/networking"
	"github.com/vpnshift/vpnshift/internal/utils"
)

// RouteKind names the default-route shape a takeover applied.
type RouteKind string

const (
	// RouteKindFullDefault is a single default route with a winning metric.
	RouteKindFullDefault RouteKind = "full_default"

	// RouteKindSplitDefault is the 0.0.0.0/1 + 128.0.0.0/1 pair that covers
	// every destination without touching the pre-existing default route.
	RouteKindSplitDefault RouteKind = "split_default"
)

// RouteRecord is the durable form of one installed route. Interfaces are
// recorded by name because link indexes do not survive a restart.
type RouteRecord struct {
	Dst     string `json:"dst,omitempty"` // CIDR, empty for a default route
	Gateway string `json:"gateway,omitempty"`
	Iface   string `json:"iface,omitempty"`
	Metric  int    `json:"metric,omitempty"`
}

// RoutePolicyRecord is the durable form of the applied route policy.
type RoutePolicyRecord struct {
	Kind   RouteKind     `json:"kind"`
	Routes []RouteRecord `json:"routes"`
}

// NetworkSnapshot captures everything needed to reverse one takeover. The
// pre-takeover fields are written once; the applied-state fields are updated
// after each mutating step so a crash can be repaired from disk.
type NetworkSnapshot struct {
	ID              string    `json:"id"`
	CapturedAt      time.Time `json:"captured_at"`
	TunnelInterface string    `json:"tunnel_interface"`

	// Pre-takeover state.
	OriginalGateway   string      `json:"original_gateway,omitempty"`
	OriginalInterface string      `json:"original_interface,omitempty"`
	DNSBackend        BackendKind `json:"dns_backend"`
	ResolvConf        []byte      `json:"resolv_conf,omitempty"`
	OriginalResolvers []string    `json:"original_resolvers,omitempty"`

	// Applied state, recorded step by step.
	ServerIP          string             `json:"server_ip,omitempty"`
	BypassRoute       *RouteRecord       `json:"bypass_route,omitempty"`
	RoutePolicy       *RoutePolicyRecord `json:"route_policy,omitempty"`
	AppliedResolvers  []string           `json:"applied_resolvers,omitempty"`
	DNSScope          config.DNSScope    `json:"dns_scope,omitempty"`
	OverrideInstalled bool               `json:"override_installed,omitempty"`
	ForwardingApplied bool               `json:"forwarding_applied,omitempty"`
}

// OriginalGatewayIP parses the recorded original gateway, nil when absent.
func (s *NetworkSnapshot) OriginalGatewayIP() net.IP {
	if s.OriginalGateway == "" {
		return nil
	}
	return net.ParseIP(s.OriginalGateway)
}

// recordRoute converts an installed route to its durable form.
func recordRoute(route *networking.IPRoute, ifaceName string) *RouteRecord {
	record := &RouteRecord{Iface: ifaceName, Metric: route.Priority}
	if route.Dst != nil {
		record.Dst = route.Dst.String()
	}
	if route.Gw != nil {
		record.Gateway = route.Gw.String()
	}
	return record
}

// routeFromRecord rebuilds a live route from its durable form, resolving the
// recorded interface name against the current host.
func routeFromRecord(record *RouteRecord, ifaces domain.InterfaceProvider) (*networking.IPRoute, error) {
	var iface *networking.Interface
	if record.Iface != "" {
		var err error
		if iface, err = ifaces.GetInterface(record.Iface); err != nil {
			return nil, fmt.Errorf("interface %s not found: %w", record.Iface, err)
		}
	}

	var gw net.IP
	if record.Gateway != "" {
		if gw = net.ParseIP(record.Gateway); gw == nil {
			return nil, fmt.Errorf("invalid gateway %q in route record", record.Gateway)
		}
	}

	var dst *net.IPNet
	if record.Dst != "" {
		var err error
		if _, dst, err = net.ParseCIDR(record.Dst); err != nil {
			return nil, fmt.Errorf("invalid destination %q in route record: %w", record.Dst, err)
		}
	}

	return networking.BuildRoute(dst, gw, iface, record.Metric), nil
}

// ParseNameservers extracts nameserver addresses from resolver file bytes.
func ParseNameservers(content []byte) []string {
	var servers []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "nameserver") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			servers = append(servers, fields[1])
		}
	}
	return servers
}

// ErrAlreadyCaptured is returned by Persist when a snapshot file already
// exists, meaning a takeover is active (or crashed without cleanup).
var ErrAlreadyCaptured = apperrors.NewAlreadyActiveError("a network snapshot is already captured, deactivate first")

// SnapshotStore owns the single durable NetworkSnapshot of a takeover
// lifecycle. Persist claims the lifecycle with an exclusive create; Update
// rewrites it atomically as steps apply; Discard ends it.
type SnapshotStore struct {
	path    string
	current *NetworkSnapshot
}

// NewSnapshotStore creates a store persisting to the given file path.
func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

// Path returns the snapshot file location.
func (s *SnapshotStore) Path() string {
	return s.path
}

// Current returns the in-memory snapshot, nil when none is live.
func (s *SnapshotStore) Current() *NetworkSnapshot {
	return s.current
}

// Reset forgets the in-memory snapshot without touching the file. Used when
// a captured snapshot turns out not to own the lifecycle.
func (s *SnapshotStore) Reset() {
	s.current = nil
}

// Capture builds a snapshot of the pre-takeover state. For the direct DNS
// backend the resolver file bytes are captured verbatim so restoration is
// byte-exact. Calling Capture with a live snapshot returns it unchanged.
func (s *SnapshotStore) Capture(inspection *Inspection, endpoint *TunnelEndpoint, resolvConfPath string) (*NetworkSnapshot, error) {
	if s.current != nil {
		log.Debugf("Snapshot %s already captured, reusing it", s.current.ID)
		return s.current, nil
	}

	snapshot := &NetworkSnapshot{
		ID:                xid.New().String(),
		CapturedAt:        time.Now().UTC(),
		TunnelInterface:   endpoint.Interface,
		OriginalInterface: inspection.OriginalInterface,
		DNSBackend:        inspection.DNSBackend,
	}
	if inspection.OriginalGateway != nil {
		snapshot.OriginalGateway = inspection.OriginalGateway.String()
	}

	if inspection.DNSBackend == BackendDirect {
		content, err := os.ReadFile(resolvConfPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, apperrors.NewSnapshotError("failed to read resolver file for snapshot", err)
			}
			log.Warnf("Resolver file %s does not exist, snapshot holds no restore bytes", resolvConfPath)
		} else {
			snapshot.ResolvConf = content
			snapshot.OriginalResolvers = ParseNameservers(content)
		}
	}

	s.current = snapshot
	return snapshot, nil
}

// Persist writes the snapshot with an exclusive create. A pre-existing file
// means another takeover already claimed the host.
func (s *SnapshotStore) Persist(snapshot *NetworkSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return apperrors.FromOSError(apperrors.ErrCodeSnapshot, "failed to create snapshot directory", err)
	}

	file, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if os.IsExist(err) {
			return ErrAlreadyCaptured
		}
		return apperrors.FromOSError(apperrors.ErrCodeSnapshot, "failed to create snapshot file", err)
	}
	defer utils.CloseOrWarn(file)

	if err := encodeSnapshot(file, snapshot); err != nil {
		return err
	}

	s.current = snapshot
	log.Infof("Snapshot %s persisted to %s", snapshot.ID, s.path)
	return nil
}

// Update atomically rewrites the live snapshot. Called after every mutating
// takeover step so the on-disk record always describes what is applied.
func (s *SnapshotStore) Update(snapshot *NetworkSnapshot) error {
	tmpPath := s.path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return apperrors.FromOSError(apperrors.ErrCodeSnapshot, "failed to create snapshot temp file", err)
	}

	if err := encodeSnapshot(file, snapshot); err != nil {
		utils.CloseOrWarn(file)
		if removeErr := os.Remove(tmpPath); removeErr != nil {
			log.Warnf("Failed to remove snapshot temp file %s: %v", tmpPath, removeErr)
		}
		return err
	}
	if err := file.Close(); err != nil {
		return apperrors.FromOSError(apperrors.ErrCodeSnapshot, "failed to close snapshot temp file", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return apperrors.FromOSError(apperrors.ErrCodeSnapshot, "failed to replace snapshot file", err)
	}

	s.current = snapshot
	return nil
}

// Load reads the persisted snapshot, for status queries and crash recovery.
// A missing file returns nil without error.
func (s *SnapshotStore) Load() (*NetworkSnapshot, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.FromOSError(apperrors.ErrCodeSnapshot, "failed to read snapshot file", err)
	}

	var snapshot NetworkSnapshot
	if err := json.Unmarshal(content, &snapshot); err != nil {
		return nil, apperrors.NewSnapshotError("failed to parse snapshot file", err)
	}
	if snapshot.DNSBackend == "" {
		snapshot.DNSBackend = BackendUnknown
	}

	s.current = &snapshot
	return &snapshot, nil
}

// Exists reports whether a snapshot file is present without loading it.
func (s *SnapshotStore) Exists() (bool, error) {
	if _, err := os.Stat(s.path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, apperrors.FromOSError(apperrors.ErrCodeSnapshot, "failed to stat snapshot file", err)
	}
	return true, nil
}

// Discard removes the persisted record and forgets the live snapshot. Only
// called after restoration succeeded.
func (s *SnapshotStore) Discard() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return apperrors.FromOSError(apperrors.ErrCodeSnapshot, "failed to remove snapshot file", err)
	}
	s.current = nil
	log.Debugf("Snapshot discarded")
	return nil
}

func encodeSnapshot(file *os.File, snapshot *NetworkSnapshot) error {
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snapshot); err != nil {
		return apperrors.NewSnapshotError("failed to encode snapshot", err)
	}
	return nil
}
