package handler

import (
	"net"
	"strings"
	"time"

	"inet.af/netaddr"
)

// Lease is a single DHCP lease, keyed by client hardware address in the
// lease table.
type Lease struct {
	IP          netaddr.IP
	Expiry      time.Time
	IPXEPending bool
}

// StaticBinding is an externally supplied override for a single MAC
// address: a pinned address plus optional per-option overrides.
type StaticBinding struct {
	IPAddr netaddr.IP
	Subnet netaddr.IP
	Router netaddr.IP
	DNS    []netaddr.IP
}

// macKey normalizes a hardware address into the map key used by both the
// lease table and the static-binding table: upper-case, colon-separated,
// matching the format static-binding files are keyed with.
func macKey(mac net.HardwareAddr) string {
	return strings.ToUpper(mac.String())
}
