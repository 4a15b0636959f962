// Package persistence implements the optional DHCP lease-table
// snapshot/restore used by the supervisor (C8).
package persistence

import (
	"fmt"
	"os"
	"time"

	"github.com/ghodss/yaml"
	"github.com/go-logr/logr"
	"inet.af/netaddr"

	"github.com/tinkerbell/netbootd/handler"
)

// record is the on-disk shape of one lease. Unknown fields in a loaded
// file are ignored by yaml.Unmarshal's default behavior.
type record struct {
	IP          string `json:"ip"`
	Expiry      int64  `json:"expiry"`
	IPXEPending bool   `json:"ipxePending"`
}

// Save writes the current contents of leases to path as a YAML mapping
// keyed by MAC address.
func Save(leases *handler.LeaseTable, path string) error {
	snapshot := leases.Snapshot()
	out := make(map[string]record, len(snapshot))
	for mac, l := range snapshot {
		out[mac] = record{
			IP:          l.IP.String(),
			Expiry:      l.Expiry.Unix(),
			IPXEPending: l.IPXEPending,
		}
	}

	b, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal lease snapshot: %w", err)
	}

	return os.WriteFile(path, b, 0o644)
}

// Load reads path and restores it into leases. A missing file is not an
// error: a fresh appliance has no prior snapshot.
func Load(l logr.Logger, leases *handler.LeaseTable, path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		l.Info("no lease snapshot found, starting with an empty table", "path", path)

		return nil
	}
	if err != nil {
		return fmt.Errorf("read lease snapshot: %w", err)
	}

	in := map[string]record{}
	if err := yaml.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("parse lease snapshot: %w", err)
	}

	out := make(map[string]handler.Lease, len(in))
	for mac, r := range in {
		ip, err := netaddr.ParseIP(r.IP)
		if err != nil && r.IP != "" {
			l.Info("skipping snapshot entry with unparsable IP", "mac", mac, "ip", r.IP)

			continue
		}
		out[mac] = handler.Lease{
			IP:          ip,
			Expiry:      time.Unix(r.Expiry, 0),
			IPXEPending: r.IPXEPending,
		}
	}
	leases.Restore(out)
	l.Info("restored lease snapshot", "path", path, "count", len(out))

	return nil
}
