package persistence

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"inet.af/netaddr"

	"github.com/tinkerbell/netbootd/handler"
)

func TestSaveLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leases.yaml")

	leases := handler.NewLeaseTable()
	mac, err := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	if err != nil {
		t.Fatalf("ParseMAC: %v", err)
	}
	now := time.Now().Truncate(time.Second)
	leases.Renew(mac, netaddr.MustParseIP("192.168.1.50"), time.Hour, now)

	if err := Save(leases, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	restored := handler.NewLeaseTable()
	if err := Load(logr.Discard(), restored, path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got, ok := restored.Get(mac)
	if !ok {
		t.Fatal("restored table is missing the saved lease")
	}
	want := netaddr.MustParseIP("192.168.1.50")
	if got.IP != want {
		t.Errorf("IP = %v, want %v", got.IP, want)
	}
	if !got.Expiry.Equal(now.Add(time.Hour)) {
		t.Errorf("Expiry = %v, want %v", got.Expiry, now.Add(time.Hour))
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	leases := handler.NewLeaseTable()
	path := filepath.Join(t.TempDir(), "does-not-exist.yaml")

	if err := Load(logr.Discard(), leases, path); err != nil {
		t.Fatalf("Load on missing file = %v, want nil", err)
	}
	if len(leases.Snapshot()) != 0 {
		t.Error("expected an empty table when no snapshot exists")
	}
}

func TestLoadSkipsUnparsableIP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leases.yaml")
	contents := "aa:bb:cc:dd:ee:ff:\n  ip: not-an-ip\n  expiry: 0\n  ipxePending: false\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	leases := handler.NewLeaseTable()
	if err := Load(logr.Discard(), leases, path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(leases.Snapshot()) != 0 {
		t.Error("expected the unparsable entry to be skipped, not stored")
	}
}
