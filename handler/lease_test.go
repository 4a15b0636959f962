package handler

import (
	"net"
	"testing"
	"time"

	"inet.af/netaddr"
)

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	if err != nil {
		t.Fatalf("parse mac %q: %v", s, err)
	}

	return mac
}

func TestLeaseTableNextIP(t *testing.T) {
	now := time.Unix(1700000000, 0)
	from := netaddr.MustParseIP("192.168.1.1")
	to := netaddr.MustParseIP("192.168.1.10")

	lt := NewLeaseTable()
	ip, err := lt.NextIP(from, to, now)
	if err != nil {
		t.Fatalf("NextIP: %v", err)
	}
	if ip != from {
		t.Errorf("NextIP = %s, want %s", ip, from)
	}
}

func TestLeaseTableNextIPSkipsLeased(t *testing.T) {
	now := time.Unix(1700000000, 0)
	from := netaddr.MustParseIP("192.168.1.1")
	to := netaddr.MustParseIP("192.168.1.3")

	lt := NewLeaseTable()
	lt.Renew(mustMAC(t, "00:11:22:33:44:55"), from, time.Hour, now)

	ip, err := lt.NextIP(from, to, now)
	if err != nil {
		t.Fatalf("NextIP: %v", err)
	}
	if want := netaddr.MustParseIP("192.168.1.2"); ip != want {
		t.Errorf("NextIP = %s, want %s", ip, want)
	}
}

func TestLeaseTableNextIPSkipsZeroLowOctet(t *testing.T) {
	now := time.Unix(1700000000, 0)
	from := netaddr.MustParseIP("192.168.1.255")
	to := netaddr.MustParseIP("192.168.2.1")

	lt := NewLeaseTable()
	lt.Renew(mustMAC(t, "00:11:22:33:44:55"), from, time.Hour, now)
	ip, err := lt.NextIP(from, to, now)
	if err != nil {
		t.Fatalf("NextIP: %v", err)
	}
	if want := netaddr.MustParseIP("192.168.2.1"); ip != want {
		t.Errorf("NextIP = %s, want %s (should skip .2.0)", ip, want)
	}
}

func TestLeaseTableNextIPReclaimsExpired(t *testing.T) {
	from := netaddr.MustParseIP("192.168.1.1")
	to := netaddr.MustParseIP("192.168.1.1")
	past := time.Unix(1700000000, 0)
	lt := NewLeaseTable()
	lt.Renew(mustMAC(t, "00:11:22:33:44:55"), from, time.Second, past)

	later := past.Add(time.Hour)
	ip, err := lt.NextIP(from, to, later)
	if err != nil {
		t.Fatalf("NextIP after expiry: %v", err)
	}
	if ip != from {
		t.Errorf("NextIP = %s, want reclaimed %s", ip, from)
	}
}

func TestLeaseTableNextIPExhausted(t *testing.T) {
	now := time.Unix(1700000000, 0)
	from := netaddr.MustParseIP("192.168.1.1")
	to := netaddr.MustParseIP("192.168.1.1")

	lt := NewLeaseTable()
	lt.Renew(mustMAC(t, "00:11:22:33:44:55"), from, time.Hour, now)

	if _, err := lt.NextIP(from, to, now); err != ErrOutOfLeases {
		t.Errorf("NextIP = %v, want ErrOutOfLeases", err)
	}
}

func TestLeaseTableIPXEPendingRoundTrip(t *testing.T) {
	mac := mustMAC(t, "00:11:22:33:44:55")
	lt := NewLeaseTable()
	lt.SetIPXEPending(mac, true)

	l, ok := lt.Get(mac)
	if !ok || !l.IPXEPending {
		t.Fatalf("Get after SetIPXEPending(true) = %+v, %v", l, ok)
	}

	lt.ClearIPXEPending(mac)
	l, ok = lt.Get(mac)
	if !ok || l.IPXEPending {
		t.Fatalf("Get after ClearIPXEPending = %+v, %v", l, ok)
	}
}

func TestLeaseTableSnapshotRestore(t *testing.T) {
	now := time.Unix(1700000000, 0)
	mac := mustMAC(t, "00:11:22:33:44:55")
	lt := NewLeaseTable()
	lt.Renew(mac, netaddr.MustParseIP("192.168.1.5"), time.Hour, now)

	snap := lt.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot len = %d, want 1", len(snap))
	}

	lt2 := NewLeaseTable()
	lt2.Restore(snap)
	l, ok := lt2.Get(mac)
	if !ok || l.IP != netaddr.MustParseIP("192.168.1.5") {
		t.Fatalf("Get after Restore = %+v, %v", l, ok)
	}
}
